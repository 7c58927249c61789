package semantic

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-grounding/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-grounding/pkg/models"
)

const fixturePath = "../testhelpers/testdata/ecommerce.yaml"

func mustParse(t *testing.T, doc string) *Declarations {
	t.Helper()
	decl, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	return decl
}

func TestAssemble_Fixture(t *testing.T) {
	decl, err := LoadFile(fixturePath)
	require.NoError(t, err)

	m, err := Assemble(decl)
	require.NoError(t, err)

	assert.Equal(t, "thelook", m.Name)
	assert.Equal(t, []string{"order_items", "users", "products", "distribution_centers"}, m.ViewOrder)
	assert.Len(t, m.Version, 16)

	items, ok := m.View("order_items")
	require.True(t, ok)
	assert.Equal(t, "thelook.ecommerce.order_items", items.PhysicalTable)
	assert.Equal(t, "id", items.PrimaryKey)

	created, ok := items.Field("created")
	require.True(t, ok)
	assert.Equal(t, models.ValueKindDate, created.ValueKind)
	assert.Equal(t, []string{"date", "month", "year"}, created.Timeframes)

	// count without sql on a keyed view counts distinct keys
	count, ok := items.Field("count")
	require.True(t, ok)
	assert.Equal(t, models.AggregateCountDistinct, count.Aggregate)
	assert.Equal(t, "${id}", count.Expression)

	revenue, ok := items.Field("total_revenue")
	require.True(t, ok)
	assert.True(t, revenue.IsMeasure())
	assert.Equal(t, models.AggregateSum, revenue.Aggregate)
	assert.Equal(t, []string{"sales"}, revenue.Synonyms)

	e, ok := m.Explore("order_items")
	require.True(t, ok)
	assert.Equal(t, "order_items", e.BaseView)
	assert.Equal(t, []string{"order_items", "users", "products", "distribution_centers"}, e.Views())

	dc, ok := e.Join("distribution_centers")
	require.True(t, ok)
	assert.Equal(t, []string{"products"}, dc.DependsOn)
	assert.Equal(t, models.JoinKindLeftOuter, dc.Kind)
	assert.Equal(t, models.RelationshipManyToOne, dc.Relationship)

	users, ok := e.Join("users")
	require.True(t, ok)
	assert.Equal(t, []string{"order_items"}, users.DependsOn)
}

func TestAssemble_VersionIsStable(t *testing.T) {
	decl, err := LoadFile(fixturePath)
	require.NoError(t, err)

	a, err := Assemble(decl)
	require.NoError(t, err)
	b, err := Assemble(decl)
	require.NoError(t, err)
	assert.Equal(t, a.Version, b.Version)

	decl.Views[0].Description = "changed"
	c, err := Assemble(decl)
	require.NoError(t, err)
	assert.NotEqual(t, a.Version, c.Version)
}

func TestAssemble_Errors(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		reason string
	}{
		{
			name: "duplicate view",
			doc: `
views:
  - name: a
  - name: a
`,
			reason: "view declared more than once",
		},
		{
			name: "duplicate field across dimensions and measures",
			doc: `
views:
  - name: a
    dimensions: [{name: total, type: number}]
    measures: [{name: total, type: sum, sql: "${TABLE}.x"}]
`,
			reason: "duplicate field name",
		},
		{
			name: "unknown dimension type",
			doc: `
views:
  - name: a
    dimensions: [{name: x, type: geometry}]
`,
			reason: `unknown dimension type "geometry"`,
		},
		{
			name: "unknown measure type",
			doc: `
views:
  - name: a
    measures: [{name: m, type: median, sql: "${TABLE}.x"}]
`,
			reason: `unknown measure type "median"`,
		},
		{
			name: "two primary keys",
			doc: `
views:
  - name: a
    dimensions:
      - {name: x, type: number, primary_key: true}
      - {name: y, type: number, primary_key: true}
`,
			reason: "more than one primary key declared",
		},
		{
			name: "primary key names a missing field",
			doc: `
views:
  - name: a
    primary_key: nope
    dimensions: [{name: x, type: number}]
`,
			reason: "primary key is not a declared dimension",
		},
		{
			name: "explore on undeclared view",
			doc: `
views:
  - name: a
explores:
  - name: b
`,
			reason: "base view is not declared",
		},
		{
			name: "join to undeclared view",
			doc: `
views:
  - name: a
explores:
  - name: a
    joins: [{name: b, sql_on: "${a.id} = ${b.id}"}]
`,
			reason: "joined view is not declared",
		},
		{
			name: "view joined twice",
			doc: `
views:
  - name: a
  - name: b
explores:
  - name: a
    joins:
      - {name: b, sql_on: "${a.id} = ${b.id}"}
      - {name: b, sql_on: "${a.id} = ${b.other}"}
`,
			reason: "join cycle: view is already part of the explore",
		},
		{
			name: "join without sql_on",
			doc: `
views:
  - name: a
  - name: b
explores:
  - name: a
    joins: [{name: b}]
`,
			reason: "join has no sql_on",
		},
		{
			name: "unknown join type",
			doc: `
views:
  - name: a
  - name: b
explores:
  - name: a
    joins: [{name: b, type: sideways, sql_on: "${a.id} = ${b.id}"}]
`,
			reason: `unknown join type "sideways"`,
		},
		{
			name: "sql_on references a view outside the explore",
			doc: `
views:
  - name: a
  - name: b
  - name: c
explores:
  - name: a
    joins: [{name: b, sql_on: "${c.id} = ${b.id}"}]
`,
			reason: `sql_on references view "c" which is not part of the explore`,
		},
		{
			name: "joins depending on each other",
			doc: `
views:
  - name: a
  - name: b
  - name: c
explores:
  - name: a
    joins:
      - {name: b, sql_on: "${c.id} = ${b.id}"}
      - {name: c, sql_on: "${b.id} = ${c.id}"}
`,
			reason: "join cycle: b -> c -> b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Assemble(mustParse(t, tt.doc))
			require.Error(t, err)

			var modelErr *apperrors.ModelError
			require.True(t, errors.As(err, &modelErr), "expected *ModelError, got %T", err)
			assert.Equal(t, tt.reason, modelErr.Reason)
			assert.ErrorIs(t, err, apperrors.ErrModel)
		})
	}
}

func TestAssemble_CrossJoinNeedsNoCondition(t *testing.T) {
	m, err := Assemble(mustParse(t, `
views:
  - name: a
  - name: calendar
explores:
  - name: a
    joins: [{name: calendar, type: cross}]
`))
	require.NoError(t, err)

	j, ok := m.Explores[0].Join("calendar")
	require.True(t, ok)
	assert.Equal(t, models.JoinKindCross, j.Kind)
	assert.Equal(t, []string{"a"}, j.DependsOn)
}

func TestAssemble_ExploreFromAndViewName(t *testing.T) {
	m, err := Assemble(mustParse(t, `
views:
  - name: orders
explores:
  - name: sales
    from: orders
  - name: orders_alias
    view_name: orders
`))
	require.NoError(t, err)
	require.Len(t, m.Explores, 2)
	assert.Equal(t, "orders", m.Explores[0].BaseView)
	assert.Equal(t, "orders", m.Explores[1].BaseView)
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	_, err := Parse(strings.NewReader(`
views:
  - name: a
    sql_table: typo
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode declarations")
}

func TestParse_Empty(t *testing.T) {
	decl, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, decl.Views)
}

func TestFlatten_PrefixesDuplicateExplores(t *testing.T) {
	decl := mustParse(t, `
views:
  - name: orders
models:
  - name: finance
    explores: [{name: orders}]
  - name: ops
    explores: [{name: orders}, {name: shipments, view_name: orders}]
`)

	flat := decl.Flatten()
	var names []string
	for _, e := range flat.Explores {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"finance.orders", "ops.orders", "shipments"}, names)
	assert.Equal(t, "finance", flat.Name)

	m, err := Assemble(decl)
	require.NoError(t, err)
	e, ok := m.Explore("ops.orders")
	require.True(t, ok)
	assert.Equal(t, "orders", e.BaseView)
}
