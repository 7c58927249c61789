// Package postgres reads column metadata from PostgreSQL and compiles
// generated SQL with EXPLAIN.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/ekaya-inc/ekaya-grounding/pkg/adapters/datasource"
)

const driverName = "pgx"

// columnsQuery lists user columns with their comments. Table filtering is
// done in Go so schema-qualified and bare names both match.
const columnsQuery = `
	SELECT c.table_schema,
	       c.table_name,
	       c.column_name,
	       c.data_type,
	       COALESCE(col_description(format('%I.%I', c.table_schema, c.table_name)::regclass::oid, c.ordinal_position), '') AS description,
	       c.ordinal_position
	FROM information_schema.columns c
	WHERE c.table_schema NOT IN ('pg_catalog', 'information_schema')
	ORDER BY c.table_schema, c.table_name, c.ordinal_position`

// Adapter provides PostgreSQL catalog reads and dry runs.
type Adapter struct {
	db *sql.DB
}

// Open connects to dsn and verifies the connection with a ping.
func Open(ctx context.Context, dsn string) (*Adapter, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewAdapter(db), nil
}

// NewAdapter wraps an existing handle. The adapter takes ownership of db.
func NewAdapter(db *sql.DB) *Adapter {
	return &Adapter{db: db}
}

// ReadColumns implements datasource.CatalogReader.
func (a *Adapter) ReadColumns(ctx context.Context, tables []string) ([]datasource.ColumnMetadata, error) {
	rows, err := a.db.QueryContext(ctx, columnsQuery)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	want := newTableSet(tables)
	var out []datasource.ColumnMetadata
	for rows.Next() {
		var schema, table string
		var col datasource.ColumnMetadata
		if err := rows.Scan(&schema, &table, &col.ColumnName, &col.DataType, &col.Description, &col.OrdinalPosition); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		if !want.matches(schema, table) {
			continue
		}
		col.TableName = schema + "." + table
		out = append(out, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return out, nil
}

// DryRun implements datasource.DryRunner. EXPLAIN plans the statement
// without executing it.
func (a *Adapter) DryRun(ctx context.Context, sqlQuery string) error {
	if _, err := a.db.ExecContext(ctx, "EXPLAIN "+sqlQuery); err != nil {
		return fmt.Errorf("invalid SQL: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (a *Adapter) Close() error {
	return a.db.Close()
}

// tableSet matches "schema.table" or bare "table" references. Any leading
// project or database segments are ignored.
type tableSet map[string]bool

func newTableSet(tables []string) tableSet {
	if len(tables) == 0 {
		return nil
	}
	set := tableSet{}
	for _, t := range tables {
		t = strings.ToLower(strings.NewReplacer("`", "", `"`, "").Replace(strings.TrimSpace(t)))
		parts := strings.Split(t, ".")
		if len(parts) >= 2 {
			set[parts[len(parts)-2]+"."+parts[len(parts)-1]] = true
		} else {
			set[t] = true
		}
	}
	return set
}

func (s tableSet) matches(schema, table string) bool {
	if s == nil {
		return true
	}
	schema, table = strings.ToLower(schema), strings.ToLower(table)
	return s[schema+"."+table] || s[table]
}
