package planner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-grounding/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-grounding/pkg/grounding"
	"github.com/ekaya-inc/ekaya-grounding/pkg/models"
)

func joinViews(plan *models.QueryPlan) []string {
	var out []string
	for _, s := range plan.JoinPath {
		out = append(out, s.View)
	}
	return out
}

func planError(t *testing.T, err error) *apperrors.PlanError {
	t.Helper()
	var pe *apperrors.PlanError
	require.True(t, errors.As(err, &pe), "expected *apperrors.PlanError, got %v", err)
	return pe
}

func TestRulePlanner_Plan(t *testing.T) {
	snap := fixtureSnapshot(t)
	p := NewRulePlanner(DefaultOptions(), zap.NewNop())

	tests := []struct {
		name     string
		question string
		explore  string
		fields   []string
		joins    []string
	}{
		{
			name:     "measure and dimension across a join",
			question: "average order value by device",
			explore:  "order_items",
			fields:   []string{"users.traffic_source", "order_items.average_sale_price"},
			joins:    []string{"users"},
		},
		{
			name:     "single measure needs no join",
			question: "show revenue",
			explore:  "order_items",
			fields:   []string{"order_items.total_revenue"},
		},
		{
			name:     "count by country prefers the explore without joins",
			question: "How many users by country?",
			explore:  "users",
			fields:   []string{"users.country", "users.count"},
		},
		{
			name:     "transitive join pulls in its dependency",
			question: "revenue by warehouse",
			explore:  "order_items",
			fields:   []string{"distribution_centers.name", "order_items.total_revenue"},
			joins:    []string{"products", "distribution_centers"},
		},
		{
			name:     "join path stays minimal",
			question: "revenue by brand",
			explore:  "order_items",
			fields:   []string{"products.brand", "order_items.total_revenue"},
			joins:    []string{"products"},
		},
		{
			name:     "synonym phrase",
			question: "aov per channel",
			explore:  "order_items",
			fields:   []string{"users.traffic_source", "order_items.average_sale_price"},
			joins:    []string{"users"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := p.Plan(context.Background(), Request{Question: tt.question}, snap)
			require.NoError(t, err)

			assert.Equal(t, tt.explore, plan.Explore)
			assert.Equal(t, tt.fields, plan.FieldNames())
			assert.Equal(t, tt.joins, joinViews(plan))
			assert.Equal(t, NameRule, plan.Planner)
			assert.Nil(t, plan.Limit)
			assert.NotEmpty(t, plan.Candidates)
		})
	}
}

func TestRulePlanner_Deterministic(t *testing.T) {
	snap := fixtureSnapshot(t)
	p := NewRulePlanner(DefaultOptions(), zap.NewNop())
	req := Request{Question: "average order value by device"}

	first, err := p.Plan(context.Background(), req, snap)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := p.Plan(context.Background(), req, snap)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRulePlanner_LimitComesFromRequest(t *testing.T) {
	snap := fixtureSnapshot(t)
	p := NewRulePlanner(DefaultOptions(), zap.NewNop())

	plan, err := p.Plan(context.Background(), Request{Question: "show revenue LIMIT 5000"}, snap)
	require.NoError(t, err)
	assert.Nil(t, plan.Limit, "a limit in the question text is ignored")
	assert.Equal(t, []string{"order_items.total_revenue"}, plan.FieldNames())

	limit := 25
	plan, err = p.Plan(context.Background(), Request{Question: "show revenue", Limit: &limit}, snap)
	require.NoError(t, err)
	require.NotNil(t, plan.Limit)
	assert.Equal(t, 25, *plan.Limit)
}

func TestRulePlanner_TimeFilter(t *testing.T) {
	snap := fixtureSnapshot(t)
	p := NewRulePlanner(DefaultOptions(), zap.NewNop())

	plan, err := p.Plan(context.Background(), Request{Question: "total revenue in the last 30 days"}, snap)
	require.NoError(t, err)

	assert.Equal(t, []string{"order_items.total_revenue"}, plan.FieldNames())
	require.Len(t, plan.Filters, 1)
	assert.Equal(t, models.TimeFilter{
		Field:      "order_items.created",
		Expression: "order_items.created_at",
		Unit:       "day",
		Count:      30,
	}, plan.Filters[0])
	assert.Empty(t, plan.JoinPath, "the time window never adds joins")
}

func TestRulePlanner_TimeWindowWithoutDateField(t *testing.T) {
	snap := fixtureSnapshot(t)
	p := NewRulePlanner(DefaultOptions(), zap.NewNop())

	plan, err := p.Plan(context.Background(), Request{Question: "users by country this year"}, snap)
	require.NoError(t, err)
	assert.Equal(t, "users", plan.Explore)
	assert.Empty(t, plan.Filters)
}

func TestRulePlanner_NoExploreMatch(t *testing.T) {
	snap := fixtureSnapshot(t)
	p := NewRulePlanner(DefaultOptions(), zap.NewNop())

	_, err := p.Plan(context.Background(), Request{Question: "weather forecast tomorrow"}, snap)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNoExploreMatch)

	pe := planError(t, err)
	assert.Len(t, pe.Candidates, 2)
	for _, c := range pe.Candidates {
		assert.Zero(t, c.Score)
	}
}

func TestRulePlanner_NoMeasureFound(t *testing.T) {
	snap := fixtureSnapshot(t)
	p := NewRulePlanner(DefaultOptions(), zap.NewNop())

	_, err := p.Plan(context.Background(), Request{Question: "calculate the average of customer names"}, snap)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNoMeasureFound)

	pe := planError(t, err)
	assert.Equal(t, "users.name", pe.Field)
	assert.NotEmpty(t, pe.Candidates)
}

func TestRulePlanner_FewerJoinsBeatDeclarationOrder(t *testing.T) {
	snap := snapshotFromYAML(t, revenueInTwoExplores)
	p := NewRulePlanner(DefaultOptions(), zap.NewNop())

	plan, err := p.Plan(context.Background(), Request{Question: "show revenue"}, snap)
	require.NoError(t, err)
	assert.Equal(t, "sales", plan.Explore)
	assert.Empty(t, plan.JoinPath)

	require.Len(t, plan.Candidates, 2)
	assert.Equal(t, "sales", plan.Candidates[0].Explore)
	assert.Equal(t, "store_sales", plan.Candidates[1].Explore)
	assert.Equal(t, 1, plan.Candidates[1].Joins)
}

func TestRulePlanner_HiddenExploreSkipped(t *testing.T) {
	doc := strings.Replace(revenueInTwoExplores,
		"  - name: sales\n    joins:", "  - name: sales\n    hidden: true\n    joins:", 1)
	snap := snapshotFromYAML(t, doc)
	p := NewRulePlanner(DefaultOptions(), zap.NewNop())

	plan, err := p.Plan(context.Background(), Request{Question: "show revenue"}, snap)
	require.NoError(t, err)
	assert.Equal(t, "store_sales", plan.Explore)
	assert.Equal(t, []string{"sales"}, joinViews(plan))
	require.Len(t, plan.Candidates, 1)
}

func TestRulePlanner_AmbiguousIntent(t *testing.T) {
	snap := snapshotFromYAML(t, twoChannels)
	p := NewRulePlanner(DefaultOptions(), zap.NewNop())

	_, err := p.Plan(context.Background(), Request{Question: "total revenue"}, snap)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrAmbiguousIntent)

	pe := planError(t, err)
	require.Len(t, pe.Candidates, 2)
	assert.Equal(t, "web_orders", pe.Candidates[0].Explore)
	assert.Equal(t, "store_orders", pe.Candidates[1].Explore)
}

func TestRulePlanner_ZeroEpsilonStillTiesOnEqualScores(t *testing.T) {
	snap := snapshotFromYAML(t, twoChannels)
	p := NewRulePlanner(Options{Epsilon: 0}, zap.NewNop())

	_, err := p.Plan(context.Background(), Request{Question: "revenue"}, snap)
	assert.ErrorIs(t, err, apperrors.ErrAmbiguousIntent)
}

func TestRulePlanner_NoSnapshot(t *testing.T) {
	p := NewRulePlanner(DefaultOptions(), zap.NewNop())

	_, err := p.Plan(context.Background(), Request{Question: "show revenue"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no grounding snapshot")

	_, err = p.Plan(context.Background(), Request{Question: "show revenue"}, &grounding.Snapshot{})
	require.Error(t, err)
}

func TestJoinPath(t *testing.T) {
	snap := fixtureSnapshot(t)
	orderItems, ok := snap.Index("order_items")
	require.True(t, ok)
	users, ok := snap.Index("users")
	require.True(t, ok)

	t.Run("base view needs no join", func(t *testing.T) {
		path, err := JoinPath(orderItems, []string{"order_items"})
		require.NoError(t, err)
		assert.Empty(t, path)
	})

	t.Run("dependencies come first", func(t *testing.T) {
		path, err := JoinPath(orderItems, []string{"distribution_centers", "users"})
		require.NoError(t, err)

		var views []string
		for _, s := range path {
			views = append(views, s.View)
		}
		assert.Equal(t, []string{"users", "products", "distribution_centers"}, views)
		assert.Equal(t, "order_items.product_id = products.id", path[1].On)
		assert.Equal(t, models.JoinKindLeftOuter, path[2].Kind)
	})

	t.Run("view outside the explore", func(t *testing.T) {
		_, err := JoinPath(users, []string{"distribution_centers"})
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrUnreachableField)

		pe := planError(t, err)
		assert.Equal(t, "distribution_centers", pe.View)
	})
}

func TestRulePlanner_SynonymSelectsMeasure(t *testing.T) {
	snap := fixtureSnapshot(t)
	p := NewRulePlanner(DefaultOptions(), zap.NewNop())

	plan, err := p.Plan(context.Background(), Request{Question: "number of customers"}, snap)
	require.NoError(t, err)
	assert.Equal(t, "users", plan.Explore)
	assert.Equal(t, []string{"users.count"}, plan.FieldNames())
}
