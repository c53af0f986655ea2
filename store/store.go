package store

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/longrunning/autogen/longrunningpb"
)

// Store records terminal operations. Implementations are safe for concurrent use.
type Store interface {
	// Get returns the operation recorded under name, or ErrNotFound.
	Get(ctx context.Context, name string) (*longrunningpb.Operation, error)
	// Put records a done operation under its name. It returns ErrNotTerminal for operations that are not done.
	Put(ctx context.Context, op *longrunningpb.Operation) error
}

// ErrNotFound is returned when the requested operation has not been recorded.
type ErrNotFound struct {
	Operation string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found", e.Operation)
}

// ErrNotTerminal is returned when recording an operation that is not done.
var ErrNotTerminal = errors.New("operation is not done")

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	var e ErrNotFound
	return errors.As(err, &e)
}
