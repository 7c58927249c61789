package planner

import (
	"cmp"
	"context"
	"errors"
	"math"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-grounding/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-grounding/pkg/grounding"
	"github.com/ekaya-inc/ekaya-grounding/pkg/logging"
	"github.com/ekaya-inc/ekaya-grounding/pkg/models"
)

// maxSpan is the longest run of question terms matched as one phrase.
const maxSpan = 4

// fieldMatch is a field matched by the terms [start, end).
type fieldMatch struct {
	field *models.GroundedField
	kind  grounding.MatchKind
	score float64
	start int
	end   int
	depth int
}

// candidate is one explore's reading of the question.
type candidate struct {
	idx     *grounding.Index
	matches []*fieldMatch
	fields  []*models.GroundedField
	score   float64
	joins   int
	err     error // set when the explore matched but cannot be planned
}

// RulePlanner is the deterministic planner. Identical inputs always yield
// identical plans.
type RulePlanner struct {
	opts   Options
	logger *zap.Logger
}

// NewRulePlanner creates a rule planner.
func NewRulePlanner(opts Options, logger *zap.Logger) *RulePlanner {
	return &RulePlanner{opts: opts, logger: logger.Named("planner")}
}

// Name implements Planner.
func (p *RulePlanner) Name() string { return NameRule }

// Plan implements Planner.
func (p *RulePlanner) Plan(ctx context.Context, req Request, snap *grounding.Snapshot) (*models.QueryPlan, error) {
	if err := snapshotError(snap); err != nil {
		return nil, err
	}
	a := Analyze(req.Question)

	var cands []*candidate
	for _, idx := range snap.Indexes {
		if idx.Explore().Hidden {
			continue
		}
		cands = append(cands, p.evaluate(a, idx))
	}

	slices.SortStableFunc(cands, lexicographic(p.exploreOrder()))
	scores := candidateScores(cands)

	var viable []*candidate
	for _, c := range cands {
		if c.score > 0 && c.err == nil {
			viable = append(viable, c)
		}
	}

	if len(viable) == 0 {
		for _, c := range cands {
			if c.err != nil {
				return nil, withCandidates(c.err, scores)
			}
		}
		pe := apperrors.NewPlanError(apperrors.ErrNoExploreMatch, "no field in any explore matches %q",
			logging.SanitizeQuestion(req.Question))
		pe.Candidates = scores
		return nil, pe
	}

	best := viable[0]
	if len(viable) > 1 {
		second := viable[1]
		if math.Abs(best.score-second.score) <= p.opts.Epsilon &&
			best.joins == second.joins &&
			!slices.Equal(sortedNames(best.fields), sortedNames(second.fields)) {
			pe := apperrors.NewPlanError(apperrors.ErrAmbiguousIntent,
				"explores %s and %s both match with different fields", best.idx.Explore().Name, second.idx.Explore().Name)
			pe.Candidates = scores
			return nil, pe
		}
	}

	if err := checkAggregation(a, best.fields, best.idx.Explore().Name); err != nil {
		return nil, withCandidates(err, scores)
	}

	plan, err := buildPlan(best.idx, best.fields, a.Time, "", req, p.opts, NameRule)
	if err != nil {
		return nil, withCandidates(err, scores)
	}
	if a.Time != nil && len(plan.Filters) == 0 {
		p.logger.Debug("Time window ignored, no date dimension in plan",
			zap.String("explore", plan.Explore),
			zap.String("unit", a.Time.Unit))
	}
	plan.Candidates = scores

	p.logger.Debug("Plan selected",
		zap.String("explore", plan.Explore),
		zap.Strings("fields", plan.FieldNames()),
		zap.Float64("score", best.score),
		zap.Int("joins", len(plan.JoinPath)))
	return plan, nil
}

// evaluate matches the question against one explore.
func (p *RulePlanner) evaluate(a *Analysis, idx *grounding.Index) *candidate {
	c := &candidate{idx: idx}

	var all []*fieldMatch
	for start := range a.Terms {
		for end := start + 1; end <= len(a.Terms) && end-start <= maxSpan; end++ {
			if a.Terms[end-1].Segment != a.Terms[start].Segment {
				break
			}
			group := a.Terms[start].Group
			terms := a.TermTexts(start, end)
			for _, f := range idx.Fields() {
				if group && f.IsMeasure {
					continue
				}
				kind, score := idx.Vocabulary(f.QualifiedName).Score(terms)
				if score <= 0 || !acceptable(kind, f, group, a.Intent) {
					continue
				}
				all = append(all, &fieldMatch{
					field: f, kind: kind, score: score,
					start: start, end: end, depth: fieldDepth(idx, f),
				})
			}
		}
	}

	slices.SortStableFunc(all, lexicographic(matchOrder(a)))

	covered := make([]bool, len(a.Terms))
	chosen := map[string]bool{}
	for _, m := range all {
		if chosen[m.field.QualifiedName] || slices.Contains(covered[m.start:m.end], true) {
			continue
		}
		for i := m.start; i < m.end; i++ {
			covered[i] = true
		}
		chosen[m.field.QualifiedName] = true
		c.matches = append(c.matches, m)
		c.score += m.score
	}
	if len(c.matches) == 0 {
		return c
	}

	// view names add weight only to explores that matched a field
	viewTerms := idx.ViewTerms()
	for _, t := range a.Terms {
		for _, tokens := range viewTerms {
			if slices.Contains(tokens, t.Text) {
				c.score += grounding.WeightViewName
				break
			}
		}
	}

	slices.SortStableFunc(c.matches, func(x, y *fieldMatch) int { return cmp.Compare(x.start, y.start) })
	for _, m := range c.matches {
		c.fields = append(c.fields, m.field)
	}

	path, err := JoinPath(idx, fieldViews(c.fields))
	if err != nil {
		c.err = err
		return c
	}
	c.joins = len(path)
	if p.opts.MaxJoins > 0 && c.joins > p.opts.MaxJoins {
		pe := apperrors.NewPlanError(apperrors.ErrUnreachableField,
			"explore %s needs %d joins, more than the allowed %d", idx.Explore().Name, c.joins, p.opts.MaxJoins)
		c.err = pe
	}
	return c
}

// acceptable filters weak matches. A description match alone selects a
// measure only under aggregation intent, and a dimension only when the
// question groups by it.
func acceptable(kind grounding.MatchKind, f *models.GroundedField, group, intent bool) bool {
	if kind != grounding.MatchDescription {
		return true
	}
	if f.IsMeasure {
		return intent
	}
	return group
}

type comparator[T any] func(a, b T) int

// lexicographic applies comparators in order; the first non-zero result wins.
func lexicographic[T any](cmps []comparator[T]) func(a, b T) int {
	return func(a, b T) int {
		for _, c := range cmps {
			if r := c(a, b); r != 0 {
				return r
			}
		}
		return 0
	}
}

// matchOrder ranks field matches for the greedy cover.
func matchOrder(a *Analysis) []comparator[*fieldMatch] {
	return []comparator[*fieldMatch]{
		// higher score
		func(x, y *fieldMatch) int { return cmp.Compare(y.score, x.score) },
		// longer span
		func(x, y *fieldMatch) int { return cmp.Compare(y.end-y.start, x.end-x.start) },
		// measures first when the question aggregates
		func(x, y *fieldMatch) int {
			if !a.Intent {
				return 0
			}
			return compareBool(x.field.IsMeasure, y.field.IsMeasure)
		},
		// aggregate named by a cue
		func(x, y *fieldMatch) int {
			return compareBool(a.prefersAggregate(x.field.Aggregate), a.prefersAggregate(y.field.Aggregate))
		},
		// shallower view
		func(x, y *fieldMatch) int { return cmp.Compare(x.depth, y.depth) },
		// declaration order
		func(x, y *fieldMatch) int { return cmp.Compare(x.field.Position, y.field.Position) },
		func(x, y *fieldMatch) int { return strings.Compare(x.field.QualifiedName, y.field.QualifiedName) },
	}
}

// exploreOrder ranks explores: score, fewer joins, declaration order, name.
func (p *RulePlanner) exploreOrder() []comparator[*candidate] {
	eps := p.opts.Epsilon
	return []comparator[*candidate]{
		func(x, y *candidate) int {
			if math.Abs(x.score-y.score) <= eps {
				return 0
			}
			return cmp.Compare(y.score, x.score)
		},
		func(x, y *candidate) int { return cmp.Compare(x.joins, y.joins) },
		func(x, y *candidate) int { return cmp.Compare(x.idx.Explore().Position, y.idx.Explore().Position) },
		func(x, y *candidate) int { return strings.Compare(x.idx.Explore().Name, y.idx.Explore().Name) },
	}
}

// compareBool orders true before false.
func compareBool(x, y bool) int {
	switch {
	case x == y:
		return 0
	case x:
		return -1
	default:
		return 1
	}
}

func candidateScores(cands []*candidate) []models.ExploreScore {
	out := make([]models.ExploreScore, 0, len(cands))
	for _, c := range cands {
		out = append(out, models.ExploreScore{
			Explore: c.idx.Explore().Name,
			Score:   c.score,
			Joins:   c.joins,
			Fields:  sortedNames(c.fields),
		})
	}
	return out
}

func sortedNames(fields []*models.GroundedField) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.QualifiedName
	}
	slices.Sort(names)
	return names
}

func withCandidates(err error, scores []models.ExploreScore) error {
	var pe *apperrors.PlanError
	if errors.As(err, &pe) && pe.Candidates == nil {
		pe.Candidates = scores
	}
	return err
}
