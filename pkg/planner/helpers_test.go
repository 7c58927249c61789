package planner

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-grounding/pkg/catalog"
	"github.com/ekaya-inc/ekaya-grounding/pkg/grounding"
	"github.com/ekaya-inc/ekaya-grounding/pkg/semantic"
	"github.com/ekaya-inc/ekaya-grounding/pkg/testhelpers"
)

func fixtureSnapshot(t *testing.T) *grounding.Snapshot {
	t.Helper()
	snap, err := grounding.NewStore(grounding.Options{}, zap.NewNop()).
		Rebuild(context.Background(), testhelpers.Model(t), testhelpers.Catalog(t))
	require.NoError(t, err)
	return snap
}

func snapshotFromYAML(t *testing.T, doc string) *grounding.Snapshot {
	t.Helper()
	decl, err := semantic.Parse(strings.NewReader(doc))
	require.NoError(t, err)
	model, err := semantic.Assemble(decl)
	require.NoError(t, err)
	snap, err := grounding.NewStore(grounding.Options{}, zap.NewNop()).
		Rebuild(context.Background(), model, catalog.Empty())
	require.NoError(t, err)
	return snap
}

// revenueInTwoExplores declares "revenue" in two explores. store_sales is
// declared first but needs a join to reach it.
const revenueInTwoExplores = `
name: shop
views:
  - name: sales
    sql_table_name: shop.sales
    dimensions:
      - name: id
        type: number
        primary_key: true
      - name: store_id
        type: number
    measures:
      - name: revenue
        type: sum
        sql: ${TABLE}.amount
  - name: stores
    sql_table_name: shop.stores
    dimensions:
      - name: id
        type: number
        primary_key: true
      - name: region
        type: string
explores:
  - name: store_sales
    view_name: stores
    joins:
      - name: sales
        sql_on: ${stores.id} = ${sales.store_id}
        relationship: one_to_many
  - name: sales
    joins:
      - name: stores
        sql_on: ${sales.store_id} = ${stores.id}
        relationship: many_to_one
`

// twoChannels has two unrelated explores that both answer "revenue".
const twoChannels = `
name: channels
views:
  - name: web_orders
    sql_table_name: shop.web_orders
    measures:
      - name: revenue
        type: sum
        sql: ${TABLE}.amount
  - name: store_orders
    sql_table_name: shop.store_orders
    measures:
      - name: revenue
        type: sum
        sql: ${TABLE}.amount
explores:
  - name: web_orders
  - name: store_orders
`
