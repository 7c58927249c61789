//go:build mssql || all_adapters

package mssql

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-grounding/pkg/adapters/datasource"
)

var columnHeader = []string{"table_schema", "table_name", "column_name", "data_type", "description", "ordinal_position"}

func TestAdapter_ReadColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectQuery("FROM sys.columns").WillReturnRows(
		sqlmock.NewRows(columnHeader).
			AddRow("ecommerce", "users", "id", "int", "", 1).
			AddRow("ecommerce", "users", "created_at", "datetime2", "Signup time", 2).
			AddRow("dbo", "audit", "id", "bigint", "", 1))

	a := NewAdapter(db)
	cols, err := a.ReadColumns(context.Background(), []string{"[ecommerce].[users]"})
	require.NoError(t, err)
	require.Len(t, cols, 2)
	assert.Equal(t, datasource.ColumnMetadata{
		TableName:       "ecommerce.users",
		ColumnName:      "created_at",
		DataType:        "timestamp",
		Description:     "Signup time",
		OrdinalPosition: 2,
	}, cols[1])
	assert.Equal(t, "integer", cols[0].DataType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_ReadColumns_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectQuery("FROM sys.columns").WillReturnError(assert.AnError)

	_, err = NewAdapter(db).ReadColumns(context.Background(), nil)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestAdapter_DryRunUnsupported(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)

	err = NewAdapter(db).DryRun(context.Background(), "SELECT 1 LIMIT 1")
	assert.ErrorIs(t, err, datasource.ErrDryRunUnsupported)
}

func TestMapSQLServerType(t *testing.T) {
	tests := map[string]string{
		"NVARCHAR":  "string",
		"bigint":    "integer",
		"money":     "numeric",
		"bit":       "boolean",
		"date":      "date",
		"datetime":  "timestamp",
		"geography": "geography",
	}
	for in, want := range tests {
		assert.Equal(t, want, mapSQLServerType(in), in)
	}
}

func TestRegistered(t *testing.T) {
	var types []string
	for _, info := range datasource.RegisteredAdapters() {
		types = append(types, info.Type)
	}
	assert.Contains(t, types, "mssql")
}
