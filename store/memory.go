package store

import (
	"context"
	"sync"

	"cloud.google.com/go/longrunning/autogen/longrunningpb"
	"google.golang.org/protobuf/proto"

	"go.alis.build/waiter/internal/validate"
)

// MemoryStore keeps operations in a map.
type MemoryStore struct {
	mu  sync.RWMutex
	ops map[string]*longrunningpb.Operation
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ops: map[string]*longrunningpb.Operation{}}
}

func (s *MemoryStore) Get(_ context.Context, name string) (*longrunningpb.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.ops[name]
	if !ok {
		return nil, ErrNotFound{Operation: name}
	}
	return proto.Clone(op).(*longrunningpb.Operation), nil
}

func (s *MemoryStore) Put(_ context.Context, op *longrunningpb.Operation) error {
	if err := validate.Required("operation", op); err != nil {
		return err
	}
	if !op.GetDone() {
		return ErrNotTerminal
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops[op.GetName()] = proto.Clone(op).(*longrunningpb.Operation)
	return nil
}
