package planner

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-grounding/pkg/models"
	"github.com/ekaya-inc/ekaya-grounding/pkg/sqlgen"
)

var (
	quotedSpan   = regexp.MustCompile("`[^`]*`|'[^']*'")
	aliasPrefix  = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\.[A-Za-z_]`)
	bigQueryRend = &sqlgen.Generator{DefaultLimit: 100, Dialect: sqlgen.BigQuery{}}
)

// assertAliasesJoined checks that every alias the SQL reads from is the base
// alias or an alias on the plan's join path.
func assertAliasesJoined(t *testing.T, plan *models.QueryPlan, sql string) {
	t.Helper()

	allowed := map[string]bool{plan.BaseAlias: true}
	for _, s := range plan.JoinPath {
		allowed[s.Alias] = true
	}
	for _, m := range aliasPrefix.FindAllStringSubmatch(quotedSpan.ReplaceAllString(sql, "''"), -1) {
		assert.True(t, allowed[m[1]], "alias %q is not joined in: %s", m[1], sql)
	}
}

func TestRenderedPlans_ReferenceOnlyJoinedAliases(t *testing.T) {
	snap := fixtureSnapshot(t)

	for _, idx := range snap.Indexes {
		for _, f := range idx.Fields() {
			t.Run(idx.Explore().Name+"/"+f.QualifiedName, func(t *testing.T) {
				plan, err := buildPlan(idx, []*models.GroundedField{f}, nil, "", Request{}, DefaultOptions(), NameRule)
				require.NoError(t, err)

				sql, err := bigQueryRend.Render(plan)
				require.NoError(t, err)
				assertAliasesJoined(t, plan, sql)
			})
		}
	}
}

func TestRulePlanner_CrossViewFieldJoinsItsViews(t *testing.T) {
	snap := fixtureSnapshot(t)
	p := NewRulePlanner(DefaultOptions(), zap.NewNop())

	tests := []struct {
		question string
		joins    []string
	}{
		{"total gross margin", []string{"products"}},
		{"gross margin by status", []string{"products"}},
		{"total gross margin by device", []string{"users", "products"}},
		{"revenue by status", nil},
	}

	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			plan, err := p.Plan(context.Background(), Request{Question: tt.question}, snap)
			require.NoError(t, err)

			var joins []string
			for _, s := range plan.JoinPath {
				joins = append(joins, s.View)
			}
			assert.Equal(t, tt.joins, joins)

			sql, err := bigQueryRend.Render(plan)
			require.NoError(t, err)
			assertAliasesJoined(t, plan, sql)
		})
	}
}

func TestJoinPath_FollowsFieldReferences(t *testing.T) {
	snap := fixtureSnapshot(t)
	idx, ok := snap.Index("order_items")
	require.True(t, ok)

	margin, ok := idx.Lookup("order_items.total_gross_margin")
	require.True(t, ok)

	path, err := JoinPath(idx, fieldViews([]*models.GroundedField{margin}))
	require.NoError(t, err)
	require.Len(t, path, 1)
	assert.Equal(t, "products", path[0].View)
	assert.Equal(t, 1, fieldDepth(idx, margin))
}
