package models

// GroundedField is a selectable field of an explore with its expression
// resolved against the explore's table aliases.
type GroundedField struct {
	QualifiedName      string    `json:"qualified_name"` // view.field
	Name               string    `json:"name"`
	View               string    `json:"view"`
	Alias              string    `json:"alias"`
	ResolvedExpression string    `json:"resolved_expression"`
	PhysicalType       string    `json:"physical_type,omitempty"`
	ValueKind          ValueKind `json:"value_kind"`
	Description        string    `json:"description,omitempty"`
	IsMeasure          bool      `json:"is_measure"`
	Aggregate          Aggregate `json:"aggregate,omitempty"`
	Label              string    `json:"label,omitempty"`
	Synonyms           []string  `json:"synonyms,omitempty"`
	PrimaryKey         bool      `json:"primary_key,omitempty"`
	// Views lists every view the resolved expression reads from, the owning
	// view first. A plan must join all of them.
	Views []string `json:"views,omitempty"`
	// Position orders fields by view order in the explore, then declaration order.
	Position int `json:"-"`
}

// SelectExpression is the expression rendered in a SELECT list.
func (g *GroundedField) SelectExpression() string {
	if g.IsMeasure {
		return g.Aggregate.Wrap(g.ResolvedExpression)
	}
	return g.ResolvedExpression
}

// SourceViews returns the views the field reads from. Fields grounded
// without reference tracking fall back to the owning view.
func (g *GroundedField) SourceViews() []string {
	if len(g.Views) == 0 {
		return []string{g.View}
	}
	return g.Views
}

// JoinStep is one join of a plan with its alias and resolved ON clause.
type JoinStep struct {
	View         string       `json:"view"`
	Alias        string       `json:"alias"`
	Table        string       `json:"table"`
	Kind         JoinKind     `json:"kind"`
	On           string       `json:"on,omitempty"`
	Relationship Relationship `json:"relationship"`
	Required     bool         `json:"required,omitempty"`
	DependsOn    []string     `json:"depends_on,omitempty"`
}

// TimeFilter restricts a date field to a window ending today. Count 0 means
// the current unit ("this month"); otherwise the last Count units.
type TimeFilter struct {
	Field      string `json:"field"`
	Expression string `json:"expression"`
	Unit       string `json:"unit"` // day, week, month, quarter or year
	Count      int    `json:"count,omitempty"`
}

// ExploreScore explains how an explore ranked for a question.
type ExploreScore struct {
	Explore string   `json:"explore"`
	Score   float64  `json:"score"`
	Joins   int      `json:"joins"`
	Fields  []string `json:"fields,omitempty"`
}

// QueryPlan is the planner's output for one question. It is not modified after
// it is returned.
type QueryPlan struct {
	Explore        string           `json:"explore"`
	BaseView       string           `json:"base_view"`
	BaseTable      string           `json:"base_table"`
	BaseAlias      string           `json:"base_alias"`
	SelectedFields []*GroundedField `json:"selected_fields"`
	JoinPath       []JoinStep       `json:"join_path"`
	Limit          *int             `json:"limit,omitempty"`
	Filters        []TimeFilter     `json:"filters,omitempty"`
	Planner        string           `json:"planner"`
	Candidates     []ExploreScore   `json:"candidates,omitempty"`
}

// HasAggregate reports whether any selected field is a measure.
func (p *QueryPlan) HasAggregate() bool {
	for _, f := range p.SelectedFields {
		if f.IsMeasure {
			return true
		}
	}
	return false
}

// Views returns the base view followed by the join path's views.
func (p *QueryPlan) Views() []string {
	out := make([]string, 0, len(p.JoinPath)+1)
	out = append(out, p.BaseView)
	for _, s := range p.JoinPath {
		out = append(out, s.View)
	}
	return out
}

// FieldNames returns the qualified names of the selected fields.
func (p *QueryPlan) FieldNames() []string {
	out := make([]string, len(p.SelectedFields))
	for i, f := range p.SelectedFields {
		out[i] = f.QualifiedName
	}
	return out
}

// ValidationReport is the guardrail verdict on rendered SQL. SQL is always the
// input unchanged.
type ValidationReport struct {
	SQL    string `json:"sql"`
	Passed bool   `json:"passed"`
	Tag    string `json:"tag,omitempty"`
	Detail string `json:"detail,omitempty"`
	DryRun bool   `json:"dry_run"`
}

// Result is what a caller receives for one question: either SQL with its plan,
// or an error kind with a message. SQL is never set alongside ErrorKind.
type Result struct {
	RequestID  string            `json:"request_id"`
	Question   string            `json:"question"`
	SQL        string            `json:"sql,omitempty"`
	Plan       *QueryPlan        `json:"plan,omitempty"`
	Validation *ValidationReport `json:"validation,omitempty"`
	ErrorKind  string            `json:"error_kind,omitempty"`
	Message    string            `json:"message,omitempty"`
	Details    any               `json:"details,omitempty"`
}

// OK reports whether the result carries SQL.
func (r *Result) OK() bool {
	return r.ErrorKind == ""
}

// RefusalDetails is the Details payload of a planning refusal.
type RefusalDetails struct {
	Candidates []ExploreScore `json:"candidates,omitempty"`
	Field      string         `json:"field,omitempty"`
	View       string         `json:"view,omitempty"`
}
