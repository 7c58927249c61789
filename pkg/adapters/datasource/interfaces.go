// Package datasource defines the warehouse-facing contracts: reading column
// metadata for the catalog and compile-only checks of generated SQL.
package datasource

import (
	"context"
	"errors"
)

// ErrDryRunUnsupported is returned by warehouses that cannot compile the
// generated dialect.
var ErrDryRunUnsupported = errors.New("dry run not supported by this warehouse")

// ColumnMetadata is one column as reported by the warehouse catalog.
type ColumnMetadata struct {
	TableName       string `json:"table_name"`
	ColumnName      string `json:"column_name"`
	DataType        string `json:"data_type"`
	Description     string `json:"description,omitempty"`
	OrdinalPosition int    `json:"ordinal_position"`
}

// CatalogReader reads column metadata for tables.
// Each implementation owns its connection and must be closed when done.
type CatalogReader interface {
	// ReadColumns returns the columns of the given tables, or of every user
	// table when tables is empty. Tables may be schema-qualified.
	ReadColumns(ctx context.Context, tables []string) ([]ColumnMetadata, error)

	// Close releases the database connection.
	Close() error
}

// DryRunner compiles SQL without executing it.
type DryRunner interface {
	// DryRun returns nil if the statement plans successfully.
	DryRun(ctx context.Context, sqlQuery string) error
}
