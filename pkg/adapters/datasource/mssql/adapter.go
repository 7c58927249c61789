//go:build mssql || all_adapters

// Package mssql reads column metadata from SQL Server. Generated SQL uses
// LIMIT, which T-SQL cannot compile, so dry runs report as unsupported.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb" // registers the "sqlserver" driver

	"github.com/ekaya-inc/ekaya-grounding/pkg/adapters/datasource"
)

const driverName = "sqlserver"

// columnsQuery lists user columns with their MS_Description extended
// property. SET NOCOUNT ON keeps row counts out of the result stream.
const columnsQuery = `
	SET NOCOUNT ON;
	SELECT s.name AS table_schema,
	       t.name AS table_name,
	       c.name AS column_name,
	       tp.name AS data_type,
	       COALESCE(CAST(ep.value AS NVARCHAR(4000)), N'') AS description,
	       c.column_id AS ordinal_position
	FROM sys.columns c
	INNER JOIN sys.tables t ON c.object_id = t.object_id
	INNER JOIN sys.schemas s ON t.schema_id = s.schema_id
	INNER JOIN sys.types tp ON c.user_type_id = tp.user_type_id
	LEFT JOIN sys.extended_properties ep
	       ON ep.major_id = c.object_id AND ep.minor_id = c.column_id AND ep.name = N'MS_Description'
	WHERE t.is_ms_shipped = 0
	ORDER BY s.name, t.name, c.column_id`

// Adapter provides SQL Server catalog reads.
type Adapter struct {
	db *sql.DB
}

// Open connects to a sqlserver:// dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Adapter, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to sql server: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sql server: %w", err)
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
		col.DataType = mapSQLServerType(col.DataType)
		out = append(out, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return out, nil
}

// DryRun implements datasource.DryRunner.
func (a *Adapter) DryRun(ctx context.Context, sqlQuery string) error {
	return fmt.Errorf("sql server: %w", datasource.ErrDryRunUnsupported)
}

// Close releases the connection pool.
func (a *Adapter) Close() error {
	return a.db.Close()
}

// mapSQLServerType folds SQL Server type names into the families the
// catalog compares against.
func mapSQLServerType(t string) string {
	switch strings.ToLower(t) {
	case "nvarchar", "varchar", "nchar", "char", "ntext", "text", "uniqueidentifier":
		return "string"
	case "int", "bigint", "smallint", "tinyint":
		return "integer"
	case "decimal", "numeric", "money", "smallmoney", "float", "real":
		return "numeric"
	case "bit":
		return "boolean"
	case "date":
		return "date"
	case "datetime", "datetime2", "smalldatetime", "datetimeoffset":
		return "timestamp"
	}
	return strings.ToLower(t)
}

type tableSet map[string]bool

func newTableSet(tables []string) tableSet {
	if len(tables) == 0 {
		return nil
	}
	set := tableSet{}
	for _, t := range tables {
		t = strings.ToLower(strings.NewReplacer("[", "", "]", "", "`", "", `"`, "").Replace(strings.TrimSpace(t)))
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
