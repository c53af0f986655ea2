package store

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigtable"
	"cloud.google.com/go/longrunning/autogen/longrunningpb"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/proto"

	"go.alis.build/waiter/internal/validate"
)

// ColumnFamily is the column family holding the serialised operations.
const ColumnFamily = "0"

// OperationColumn is the column qualifier of the serialised operation.
const OperationColumn = "op"

// BigtableStore manages the instance of the Bigtable table.
type BigtableStore struct {
	client       *bigtable.Client
	table        *bigtable.Table
	rowKeyPrefix string
}

// NewBigtableStore creates a new BigtableStore. The function takes these arguments:
//   - googleProject: The ID of the Google Cloud project of the Bigtable instance.
//   - bigTableInstance: The name of the Bigtable instance.
//   - table: The name of the Bigtable table. It must have the column family "0".
//   - rowKeyPrefix: This should be an empty string if you have a dedicated table for operations, but if you are
//     sharing a table, the rowKeyPrefix can be used to separate the operations from other data in the table.
func NewBigtableStore(ctx context.Context, googleProject, bigTableInstance, table, rowKeyPrefix string, opts ...option.ClientOption) (*BigtableStore, error) {
	client, err := bigtable.NewClient(ctx, googleProject, bigTableInstance, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bigtable client: %w", err)
	}
	return &BigtableStore{client: client, table: client.Open(table), rowKeyPrefix: rowKeyPrefix}, nil
}

// Close closes the underlying bigtable.Client.
func (s *BigtableStore) Close() error {
	return s.client.Close()
}

func (s *BigtableStore) Get(ctx context.Context, name string) (*longrunningpb.Operation, error) {
	filter := bigtable.ChainFilters(bigtable.LatestNFilter(1), bigtable.FamilyFilter(ColumnFamily))
	row, err := s.table.ReadRow(ctx, s.rowKeyPrefix+name, bigtable.RowFilter(filter))
	if err != nil {
		return nil, fmt.Errorf("read operation (%s): %w", name, err)
	}
	// only the first column is used
	columns := row[ColumnFamily]
	if len(columns) == 0 {
		return nil, ErrNotFound{Operation: name}
	}

	op := &longrunningpb.Operation{}
	if err := proto.Unmarshal(columns[0].Value, op); err != nil {
		return nil, fmt.Errorf("unmarshal operation (%s): %w", name, err)
	}
	return op, nil
}

func (s *BigtableStore) Put(ctx context.Context, op *longrunningpb.Operation) error {
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

	mut := bigtable.NewMutation()
	mut.Set(ColumnFamily, OperationColumn, bigtable.Now(), data)
	if err := s.table.Apply(ctx, s.rowKeyPrefix+op.GetName(), mut); err != nil {
		return fmt.Errorf("write operation (%s): %w", op.GetName(), err)
	}
	return nil
}
