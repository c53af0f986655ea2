package store

import (
	"context"
	"fmt"

	"cloud.google.com/go/longrunning/autogen/longrunningpb"
	"cloud.google.com/go/spanner"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/proto"

	"go.alis.build/waiter/internal/validate"
)

// Spanner column names.
const (
	NameColumnName      = "Name"
	OperationColumnName = "Operation"
)

// SpannerSchema returns the DDL creating the table used by SpannerStore.
func SpannerSchema(table string) string {
	return fmt.Sprintf("CREATE TABLE %s (\n"+
		"  %s STRING(MAX) NOT NULL,\n"+
		"  %s BYTES(MAX) NOT NULL\n"+
		") PRIMARY KEY (%s)", table, NameColumnName, OperationColumnName, NameColumnName)
}

// SpannerStore keeps operations in a Spanner table, one row per operation keyed by its name.
type SpannerStore struct {
	client *spanner.Client
	table  string
}

// NewSpannerStore creates a new SpannerStore. database is the full database name in the format
// projects/{project}/instances/{instance}/databases/{database}. The table must exist, see SpannerSchema.
func NewSpannerStore(ctx context.Context, database, table string, opts ...option.ClientOption) (*SpannerStore, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}
	client, err := spanner.NewClient(ctx, database, opts...)
	if err != nil {
		return nil, fmt.Errorf("create spanner client: %w", err)
	}
	return &SpannerStore{client: client, table: table}, nil
}

// Close closes the underlying spanner.Client.
func (s *SpannerStore) Close() error {
	s.client.Close()
	return nil
}

func (s *SpannerStore) Get(ctx context.Context, name string) (*longrunningpb.Operation, error) {
	row, err := s.client.Single().ReadRow(ctx, s.table, spanner.Key{name}, []string{OperationColumnName})
	if err != nil {
		if spanner.ErrCode(err) == codes.NotFound {
			return nil, ErrNotFound{Operation: name}
		}
		return nil, fmt.Errorf("read operation (%s): %w", name, err)
	}
	var data []byte
	if err := row.Column(0, &data); err != nil {
		return nil, fmt.Errorf("read operation (%s): %w", name, err)
	}

	op := &longrunningpb.Operation{}
	if err := proto.Unmarshal(data, op); err != nil {
		return nil, fmt.Errorf("unmarshal operation (%s): %w", name, err)
	}
	return op, nil
}

func (s *SpannerStore) Put(ctx context.Context, op *longrunningpb.Operation) error {
	if err := validate.Required("operation", op); err != nil {
		return err
	}
	if !op.GetDone() {
		return ErrNotTerminal
	}
	data, err := proto.Marshal(op)
	if err != nil {
		return err
	}

	mut := spanner.InsertOrUpdate(s.table, []string{NameColumnName, OperationColumnName}, []any{op.GetName(), data})
	if _, err := s.client.Apply(ctx, []*spanner.Mutation{mut}); err != nil {
		return fmt.Errorf("write operation (%s): %w", op.GetName(), err)
	}
	return nil
}
