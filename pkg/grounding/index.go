// Package grounding builds the per-explore allow-list of selectable fields,
// with expressions resolved against table aliases and catalog metadata
// attached, and publishes complete snapshots of it atomically.
package grounding

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-grounding/pkg/catalog"
	"github.com/ekaya-inc/ekaya-grounding/pkg/expression"
	"github.com/ekaya-inc/ekaya-grounding/pkg/models"
)

// Options tune index construction.
type Options struct {
	// MaxDepth bounds nested field references during resolution.
	MaxDepth int
}

// Exclusion records a field left out of the index and why.
type Exclusion struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Index is the grounded view of one explore. It is immutable once built.
type Index struct {
	model   *models.SemanticModel
	explore *models.Explore

	aliases    map[string]string // reachable view -> alias
	depth      map[string]int
	joinOrder  []string // reachable joined views, dependencies first
	joins      map[string]models.JoinStep
	fields     []*models.GroundedField
	byName     map[string]*models.GroundedField
	vocab      map[string]*Vocabulary
	exclusions []Exclusion
}

var simpleColumn = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\.([A-Za-z_][A-Za-z0-9_]*)$`)

// Build grounds one explore of the model. Fields whose expressions cannot be
// resolved, and views whose join condition cannot be resolved, are left out
// with a warning rather than failing the whole explore.
func Build(model *models.SemanticModel, exploreName string, cat *catalog.Snapshot, opts Options, logger *zap.Logger) (*Index, error) {
	explore, ok := model.Explore(exploreName)
	if !ok {
		return nil, fmt.Errorf("explore %q is not declared", exploreName)
	}
	logger = logger.With(zap.String("explore", explore.Name))

	idx := &Index{
		model:   model,
		explore: explore,
		aliases: map[string]string{},
		depth:   map[string]int{explore.BaseView: 0},
		joins:   map[string]models.JoinStep{},
		byName:  map[string]*models.GroundedField{},
		vocab:   map[string]*Vocabulary{},
	}

	taken := map[string]bool{}
	aliasFor := func(view string) string {
		base := aliasName(view)
		alias := base
		for n := 2; taken[alias]; n++ {
			alias = fmt.Sprintf("%s_%d", base, n)
		}
		taken[alias] = true
		return alias
	}
	idx.aliases[explore.BaseView] = aliasFor(explore.BaseView)

	resolver := expression.NewResolver(idx, opts.MaxDepth)
	for _, j := range topoOrder(explore) {
		reason := ""
		for _, dep := range j.DependsOn {
			if _, ok := idx.aliases[dep]; !ok {
				reason = fmt.Sprintf("depends on unreachable view %q", dep)
				break
			}
		}

		var on string
		if reason == "" {
			idx.aliases[j.TargetView] = aliasFor(j.TargetView)
			if j.Kind != models.JoinKindCross {
				var err error
				on, err = resolver.Resolve(j.OnExpression, j.TargetView)
				if err != nil {
					delete(idx.aliases, j.TargetView)
					reason = err.Error()
				}
			}
		}
		if reason != "" {
			logger.Warn("Join excluded from explore",
				zap.String("view", j.TargetView),
				zap.String("reason", reason))
			idx.exclusions = append(idx.exclusions, Exclusion{Field: j.TargetView + ".*", Reason: reason})
			continue
		}

		d := 0
		for _, dep := range j.DependsOn {
			if idx.depth[dep] > d {
				d = idx.depth[dep]
			}
		}
		idx.depth[j.TargetView] = d + 1
		idx.joinOrder = append(idx.joinOrder, j.TargetView)

		view, _ := model.View(j.TargetView)
		idx.joins[j.TargetView] = models.JoinStep{
			View:         j.TargetView,
			Alias:        idx.aliases[j.TargetView],
			Table:        view.PhysicalTable,
			Kind:         j.Kind,
			On:           on,
			Relationship: j.Relationship,
			Required:     j.Required,
			DependsOn:    j.DependsOn,
		}
	}

	position := 0
	for _, viewName := range explore.Views() {
		if _, ok := idx.aliases[viewName]; !ok {
			continue
		}
		view, _ := model.View(viewName)
		for _, f := range view.Fields() {
			if f.Hidden {
				continue
			}
			qualified := viewName + "." + f.Name
			resolved, views, err := resolver.ResolveFieldViews(viewName, f)
			if err != nil {
				logger.Warn("Field excluded from explore",
					zap.String("field", qualified),
					zap.Error(err))
				idx.exclusions = append(idx.exclusions, Exclusion{Field: qualified, Reason: err.Error()})
				continue
			}

			g := &models.GroundedField{
				QualifiedName:      qualified,
				Name:               f.Name,
				View:               viewName,
				Alias:              idx.aliases[viewName],
				ResolvedExpression: resolved,
				ValueKind:          f.ValueKind,
				Description:        f.Description,
				IsMeasure:          f.IsMeasure(),
				Aggregate:          f.Aggregate,
				Label:              f.Label,
				Synonyms:           f.Synonyms,
				PrimaryKey:         f.PrimaryKey,
				Views:              views,
				Position:           position,
			}
			position++
			idx.attachCatalog(g, view, cat)

			idx.fields = append(idx.fields, g)
			idx.byName[qualified] = g
			idx.vocab[qualified] = NewVocabulary(g)
		}
	}

	logger.Debug("Explore grounded",
		zap.Int("fields", len(idx.fields)),
		zap.Int("joins", len(idx.joinOrder)),
		zap.Int("excluded", len(idx.exclusions)))

	return idx, nil
}

// attachCatalog fills physical type and description for fields over a plain
// alias.column expression. The semantic description always wins.
func (idx *Index) attachCatalog(g *models.GroundedField, view *models.View, cat *catalog.Snapshot) {
	switch g.Aggregate {
	case models.AggregateCount, models.AggregateCountDistinct:
		g.PhysicalType = "INTEGER"
	}

	m := simpleColumn.FindStringSubmatch(g.ResolvedExpression)
	if m == nil || m[1] != g.Alias {
		return
	}
	col, ok := cat.Lookup(view.PhysicalTable, m[2])
	if !ok {
		return
	}
	if g.PhysicalType == "" {
		if g.Aggregate == models.AggregateAverage {
			g.PhysicalType = "FLOAT64"
		} else {
			g.PhysicalType = col.DataType
		}
	}
	if g.Description == "" && !g.IsMeasure {
		g.Description = col.Description
	}
}

// Alias implements expression.Scope.
func (idx *Index) Alias(view string) (string, bool) {
	a, ok := idx.aliases[view]
	return a, ok
}

// Field implements expression.Scope.
func (idx *Index) Field(view, name string) (*models.Field, bool) {
	v, ok := idx.model.View(view)
	if !ok {
		return nil, false
	}
	return v.Field(name)
}

// Explore returns the grounded explore.
func (idx *Index) Explore() *models.Explore { return idx.explore }

// BaseTable returns the physical table of the base view.
func (idx *Index) BaseTable() string {
	v, _ := idx.model.View(idx.explore.BaseView)
	return v.PhysicalTable
}

// Lookup returns a selectable field by qualified name. Hidden, excluded and
// unknown fields all miss.
func (idx *Index) Lookup(qualifiedName string) (*models.GroundedField, bool) {
	g, ok := idx.byName[qualifiedName]
	return g, ok
}

// Fields returns every selectable field in explore view order, then
// declaration order.
func (idx *Index) Fields() []*models.GroundedField {
	return idx.fields
}

// Vocabulary returns the matchable terms of a field.
func (idx *Index) Vocabulary(qualifiedName string) *Vocabulary {
	return idx.vocab[qualifiedName]
}

// Reachable reports whether a view can be joined into a query.
func (idx *Index) Reachable(view string) bool {
	_, ok := idx.aliases[view]
	return ok
}

// Depth returns the number of joins between the base view and view.
func (idx *Index) Depth(view string) int {
	return idx.depth[view]
}

// JoinStep returns the resolved join that brings view in.
func (idx *Index) JoinStep(view string) (models.JoinStep, bool) {
	s, ok := idx.joins[view]
	return s, ok
}

// JoinOrder returns the reachable joined views with every view after the
// views its join condition depends on.
func (idx *Index) JoinOrder() []string {
	return idx.joinOrder
}

// Exclusions lists fields and views left out while building.
func (idx *Index) Exclusions() []Exclusion {
	return idx.exclusions
}

// ViewTerms returns the singularised name tokens of every reachable view.
func (idx *Index) ViewTerms() map[string][]string {
	out := make(map[string][]string, len(idx.aliases))
	for view := range idx.aliases {
		var terms []string
		for _, w := range Words(view) {
			terms = append(terms, Singular(w))
		}
		out[view] = terms
	}
	return out
}

// aliasName turns a view name into a SQL-safe alias.
func aliasName(view string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(view) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	alias := b.String()
	if alias == "" || (alias[0] >= '0' && alias[0] <= '9') {
		alias = "v_" + alias
	}
	return alias
}

// topoOrder returns the explore's joins with dependencies first. Among joins
// whose dependencies are satisfied the earliest declared goes next. Joins
// left over (only possible for cyclic input) keep declaration order.
func topoOrder(e *models.Explore) []*models.Join {
	placed := map[string]bool{e.BaseView: true}
	remaining := append([]*models.Join(nil), e.Joins...)
	sort.SliceStable(remaining, func(a, b int) bool { return remaining[a].Position < remaining[b].Position })

	var out []*models.Join
	for len(remaining) > 0 {
		next := -1
		for i, j := range remaining {
			ready := true
			for _, dep := range j.DependsOn {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				next = i
				break
			}
		}
		if next < 0 {
			return append(out, remaining...)
		}
		j := remaining[next]
		placed[j.TargetView] = true
		out = append(out, j)
		remaining = append(remaining[:next], remaining[next+1:]...)
	}
	return out
}
