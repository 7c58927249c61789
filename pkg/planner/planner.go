// Package planner turns a question into a QueryPlan against a grounding
// snapshot. Two planners share one contract: the deterministic rule planner
// and the LLM planner, selected by configuration.
package planner

import (
	"context"
	"fmt"
	"slices"

	"github.com/ekaya-inc/ekaya-grounding/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-grounding/pkg/grounding"
	"github.com/ekaya-inc/ekaya-grounding/pkg/models"
)

// Planner names.
const (
	NameRule = "rule"
	NameLLM  = "llm"
)

// Request is one question to plan.
type Request struct {
	Question string
	// Limit overrides the generator's default row limit. It is never read
	// from the question text.
	Limit *int
}

// Planner picks an explore, a minimal field set and the minimal join path
// for a question. Failures are *apperrors.PlanError values.
type Planner interface {
	Plan(ctx context.Context, req Request, snap *grounding.Snapshot) (*models.QueryPlan, error)
	Name() string
}

// Options tune both planners.
type Options struct {
	// Epsilon is the score difference below which two explores tie.
	Epsilon float64
	// MaxJoins bounds the join path; 0 means unbounded.
	MaxJoins int
}

// DefaultOptions match the configuration defaults.
func DefaultOptions() Options {
	return Options{Epsilon: 0.25, MaxJoins: 10}
}

// JoinPath returns the minimal join path connecting views to the explore's
// base view: the closure of each view's join dependencies, in dependency
// order. Views that cannot be joined fail with UnreachableField.
func JoinPath(idx *grounding.Index, views []string) ([]models.JoinStep, error) {
	base := idx.Explore().BaseView
	need := map[string]bool{}

	var visit func(view string, via string) error
	visit = func(view string, via string) error {
		if view == base || need[view] {
			return nil
		}
		step, ok := idx.JoinStep(view)
		if !ok || !idx.Reachable(view) {
			pe := apperrors.NewPlanError(apperrors.ErrUnreachableField,
				"view %s cannot be joined in explore %s", view, idx.Explore().Name)
			pe.View = view
			pe.Field = via
			return pe
		}
		need[view] = true
		for _, dep := range step.DependsOn {
			if err := visit(dep, via); err != nil {
				return err
			}
		}
		return nil
	}

	for _, v := range views {
		if err := visit(v, v); err != nil {
			return nil, err
		}
	}

	path := make([]models.JoinStep, 0, len(need))
	for _, v := range idx.JoinOrder() {
		if need[v] {
			step, _ := idx.JoinStep(v)
			path = append(path, step)
		}
	}
	return path, nil
}

// fieldViews returns the distinct views fields read from, in order. A field
// whose expression references another view needs that view joined too.
func fieldViews(fields []*models.GroundedField) []string {
	var out []string
	for _, f := range fields {
		for _, v := range f.SourceViews() {
			if !slices.Contains(out, v) {
				out = append(out, v)
			}
		}
	}
	return out
}

// fieldDepth is the deepest join depth among the views f reads from.
func fieldDepth(idx *grounding.Index, f *models.GroundedField) int {
	depth := 0
	for _, v := range f.SourceViews() {
		depth = max(depth, idx.Depth(v))
	}
	return depth
}

// checkAggregation refuses a plan whose question asks for an aggregate but
// selected no measure.
func checkAggregation(a *Analysis, fields []*models.GroundedField, explore string) error {
	if !a.Intent {
		return nil
	}
	for _, f := range fields {
		if f.IsMeasure {
			return nil
		}
	}
	pe := apperrors.NewPlanError(apperrors.ErrNoMeasureFound,
		"the question asks for an aggregate but no measure in explore %s matches it", explore)
	if len(fields) > 0 {
		pe.Field = fields[0].QualifiedName
	}
	return pe
}

// buildPlan assembles the plan shared by both planners. fields must already
// be in question order; dimensions are moved ahead of measures.
func buildPlan(idx *grounding.Index, fields []*models.GroundedField, tf *TimeRange, preferredTimeField string, req Request, opts Options, name string) (*models.QueryPlan, error) {
	path, err := JoinPath(idx, fieldViews(fields))
	if err != nil {
		return nil, err
	}
	if opts.MaxJoins > 0 && len(path) > opts.MaxJoins {
		pe := apperrors.NewPlanError(apperrors.ErrUnreachableField,
			"explore %s needs %d joins, more than the allowed %d", idx.Explore().Name, len(path), opts.MaxJoins)
		pe.View = path[len(path)-1].View
		return nil, pe
	}

	ordered := make([]*models.GroundedField, 0, len(fields))
	for _, f := range fields {
		if !f.IsMeasure {
			ordered = append(ordered, f)
		}
	}
	for _, f := range fields {
		if f.IsMeasure {
			ordered = append(ordered, f)
		}
	}

	base := idx.Explore().BaseView
	alias, _ := idx.Alias(base)
	plan := &models.QueryPlan{
		Explore:        idx.Explore().Name,
		BaseView:       base,
		BaseTable:      idx.BaseTable(),
		BaseAlias:      alias,
		SelectedFields: ordered,
		JoinPath:       path,
		Limit:          req.Limit,
		Planner:        name,
	}

	if tf != nil {
		if f := timeField(idx, plan, preferredTimeField); f != nil {
			plan.Filters = []models.TimeFilter{{
				Field:      f.QualifiedName,
				Expression: f.ResolvedExpression,
				Unit:       tf.Unit,
				Count:      tf.Count,
			}}
		}
	}
	return plan, nil
}

// timeField picks the date dimension a time window applies to, without
// adding joins: the preferred field if it qualifies, then a selected date
// dimension, then the first date dimension of a view already in the plan,
// base view first.
func timeField(idx *grounding.Index, plan *models.QueryPlan, preferred string) *models.GroundedField {
	inPlan := map[string]bool{}
	for _, v := range plan.Views() {
		inPlan[v] = true
	}
	isDate := func(f *models.GroundedField) bool {
		if f == nil || f.IsMeasure || f.ValueKind != models.ValueKindDate {
			return false
		}
		for _, v := range f.SourceViews() {
			if !inPlan[v] {
				return false
			}
		}
		return true
	}

	if preferred != "" {
		if f, ok := idx.Lookup(preferred); ok && isDate(f) {
			return f
		}
	}
	for _, f := range plan.SelectedFields {
		if isDate(f) {
			return f
		}
	}
	for _, view := range plan.Views() {
		for _, f := range idx.Fields() {
			if f.View == view && isDate(f) {
				return f
			}
		}
	}
	return nil
}

// validUnit reports whether unit is a supported time-window unit.
func validUnit(unit string) bool {
	switch unit {
	case "day", "week", "month", "quarter", "year":
		return true
	}
	return false
}

func snapshotError(snap *grounding.Snapshot) error {
	if snap == nil || len(snap.Indexes) == 0 {
		return fmt.Errorf("no grounding snapshot loaded")
	}
	return nil
}
