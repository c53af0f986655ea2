package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"cloud.google.com/go/longrunning/autogen/longrunningpb"
	"github.com/go-sql-driver/mysql"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"go.alis.build/waiter/internal/validate"
)

var tableRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}(\.[A-Za-z_][A-Za-z0-9_]{0,63})?$`)

// Schema returns the statement creating the table used by SQLStore.
func Schema(table string) string {
	return `CREATE TABLE IF NOT EXISTS ` + table + ` (
  name VARCHAR(512) NOT NULL PRIMARY KEY,
  operation LONGBLOB NOT NULL,
  updated_at DATETIME(6) NOT NULL
)`
}

// SQLStore keeps operations in a MySQL table, one row per operation, created with Schema.
type SQLStore struct {
	db    *sql.DB
	table string
}

// NewSQLStore uses an existing connection pool. table may be qualified with the database name ("ops.operations").
func NewSQLStore(db *sql.DB, table string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if err := validateTable(table); err != nil {
		return nil, err
	}
	return &SQLStore{db: db, table: table}, nil
}

func validateTable(table string) error {
	if !tableRegex.MatchString(table) {
		return status.Errorf(codes.InvalidArgument, "table (%s) is not of the right format: %s", table, tableRegex)
	}
	return nil
}

// NewMySQLStore opens a connection pool for dsn, for example "user:password@tcp(host:3306)/ops".
func NewMySQLStore(dsn, table string) (*SQLStore, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid mysql dsn: %v", err)
	}
	cfg.ParseTime = true
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("create mysql connector: %w", err)
	}
	return NewSQLStore(sql.OpenDB(connector), table)
}

// Close closes the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Get(ctx context.Context, name string) (*longrunningpb.Operation, error) {
	var data []byte
	row := s.db.QueryRowContext(ctx, `SELECT operation FROM `+s.table+` WHERE name = ?`, name)
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound{Operation: name}
		}
		return nil, fmt.Errorf("read operation (%s): %w", name, err)
	}

	op := &longrunningpb.Operation{}
	if err := proto.Unmarshal(data, op); err != nil {
		return nil, fmt.Errorf("unmarshal operation (%s): %w", name, err)
	}
	return op, nil
}

func (s *SQLStore) Put(ctx context.Context, op *longrunningpb.Operation) error {
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

	query := `INSERT INTO ` + s.table + ` (name, operation, updated_at) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE operation = VALUES(operation), updated_at = VALUES(updated_at)`
	now := time.Now().UTC().Round(time.Microsecond)
	if _, err := s.db.ExecContext(ctx, query, op.GetName(), data, now); err != nil {
		return fmt.Errorf("write operation (%s): %w", op.GetName(), err)
	}
	return nil
}
