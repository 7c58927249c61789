//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-grounding/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-grounding/pkg/testhelpers"
)

func openTestAdapter(t *testing.T) datasource.Adapter {
	t.Helper()

	testDB := testhelpers.GetTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a, err := datasource.Open(ctx, "postgres", testDB.ConnStr)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestAdapter_Integration_ReadColumns(t *testing.T) {
	a := openTestAdapter(t)

	cols, err := a.ReadColumns(context.Background(), []string{"thelook.ecommerce.users"})
	require.NoError(t, err)
	require.NotEmpty(t, cols)

	byName := map[string]datasource.ColumnMetadata{}
	for _, c := range cols {
		assert.Equal(t, "ecommerce.users", c.TableName)
		byName[c.ColumnName] = c
	}
	assert.Equal(t, "Country of residence", byName["country"].Description)
	assert.Equal(t, "bigint", byName["id"].DataType)
	assert.Equal(t, 1, byName["id"].OrdinalPosition)
}

func TestAdapter_Integration_DryRun(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()

	err := a.DryRun(ctx, `SELECT users.country AS country, COUNT(*) AS count FROM "ecommerce"."users" AS users GROUP BY 1 LIMIT 100`)
	assert.NoError(t, err)

	err = a.DryRun(ctx, `SELECT users.missing FROM "ecommerce"."users" AS users LIMIT 100`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid SQL")
}
