package models

import "strings"

// ValueKind is the logical type of a field's values.
type ValueKind string

const (
	ValueKindString  ValueKind = "string"
	ValueKindNumber  ValueKind = "number"
	ValueKindDate    ValueKind = "date"
	ValueKindBoolean ValueKind = "boolean"
	ValueKindYesNo   ValueKind = "yesno"
)

// valueKindAliases maps LookML field types onto the value kinds we reason about.
var valueKindAliases = map[string]ValueKind{
	"":          ValueKindString,
	"string":    ValueKindString,
	"zipcode":   ValueKindString,
	"tier":      ValueKindString,
	"location":  ValueKindString,
	"number":    ValueKindNumber,
	"date":      ValueKindDate,
	"time":      ValueKindDate,
	"datetime":  ValueKindDate,
	"timestamp": ValueKindDate,
	"boolean":   ValueKindBoolean,
	"yesno":     ValueKindYesNo,
}

// ParseValueKind normalizes a declared field type. Returns false for unknown types.
func ParseValueKind(s string) (ValueKind, bool) {
	k, ok := valueKindAliases[strings.ToLower(strings.TrimSpace(s))]
	return k, ok
}

// FieldKind distinguishes dimensions from measures.
type FieldKind string

const (
	FieldKindDimension FieldKind = "dimension"
	FieldKindMeasure   FieldKind = "measure"
)

// Aggregate is the aggregation a measure applies to its inner expression.
type Aggregate string

const (
	AggregateNone          Aggregate = ""
	AggregateCount         Aggregate = "count"
	AggregateCountDistinct Aggregate = "count_distinct"
	AggregateSum           Aggregate = "sum"
	AggregateAverage       Aggregate = "average"
	AggregateMin           Aggregate = "min"
	AggregateMax           Aggregate = "max"
	// AggregateNumber marks a measure whose expression is already aggregated,
	// typically arithmetic over other measures.
	AggregateNumber Aggregate = "number"
)

var aggregateAliases = map[string]Aggregate{
	"count":          AggregateCount,
	"count_distinct": AggregateCountDistinct,
	"sum":            AggregateSum,
	"average":        AggregateAverage,
	"avg":            AggregateAverage,
	"min":            AggregateMin,
	"max":            AggregateMax,
	"number":         AggregateNumber,
}

// ParseAggregate normalizes a declared measure type. Returns false for unknown types.
func ParseAggregate(s string) (Aggregate, bool) {
	a, ok := aggregateAliases[strings.ToLower(strings.TrimSpace(s))]
	return a, ok
}

// Wrap applies the aggregate to a resolved inner expression.
func (a Aggregate) Wrap(expr string) string {
	switch a {
	case AggregateCount:
		if expr == "" {
			return "COUNT(*)"
		}
		return "COUNT(" + expr + ")"
	case AggregateCountDistinct:
		return "COUNT(DISTINCT " + expr + ")"
	case AggregateSum:
		return "SUM(" + expr + ")"
	case AggregateAverage:
		return "AVG(" + expr + ")"
	case AggregateMin:
		return "MIN(" + expr + ")"
	case AggregateMax:
		return "MAX(" + expr + ")"
	default:
		return expr
	}
}

// JoinKind is the SQL join type declared for a join.
type JoinKind string

const (
	JoinKindInner     JoinKind = "inner"
	JoinKindLeftOuter JoinKind = "left_outer"
	JoinKindFullOuter JoinKind = "full_outer"
	JoinKindCross     JoinKind = "cross"
)

// ParseJoinKind normalizes a declared join type. Empty defaults to left_outer.
func ParseJoinKind(s string) (JoinKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "left_outer", "left":
		return JoinKindLeftOuter, true
	case "inner":
		return JoinKindInner, true
	case "full_outer", "full":
		return JoinKindFullOuter, true
	case "cross":
		return JoinKindCross, true
	}
	return "", false
}

// Keyword returns the SQL keyword sequence preceding JOIN.
func (k JoinKind) Keyword() string {
	switch k {
	case JoinKindInner:
		return "INNER"
	case JoinKindFullOuter:
		return "FULL OUTER"
	case JoinKindCross:
		return "CROSS"
	default:
		return "LEFT"
	}
}

// Relationship is the declared cardinality of a join.
type Relationship string

const (
	RelationshipManyToOne  Relationship = "many_to_one"
	RelationshipOneToMany  Relationship = "one_to_many"
	RelationshipManyToMany Relationship = "many_to_many"
	RelationshipOneToOne   Relationship = "one_to_one"
)

// ParseRelationship normalizes a declared relationship. Empty defaults to many_to_one.
func ParseRelationship(s string) (Relationship, bool) {
	switch r := Relationship(strings.ToLower(strings.TrimSpace(s))); r {
	case "":
		return RelationshipManyToOne, true
	case RelationshipManyToOne, RelationshipOneToMany, RelationshipManyToMany, RelationshipOneToOne:
		return r, true
	}
	return "", false
}

// Field is a dimension or measure declared on a view.
type Field struct {
	Name        string
	Kind        FieldKind
	ValueKind   ValueKind
	Aggregate   Aggregate // measures only
	Expression  string    // raw, may contain ${...} placeholders
	Description string
	Label       string
	Synonyms    []string
	Hidden      bool
	PrimaryKey  bool
	Timeframes  []string
	Position    int
}

// IsMeasure reports whether the field is a measure.
func (f *Field) IsMeasure() bool {
	return f.Kind == FieldKindMeasure
}

// View is a logical table with its ordered fields.
type View struct {
	Name          string
	PhysicalTable string
	Description   string
	PrimaryKey    string
	Dimensions    []*Field
	Measures      []*Field
	Position      int
}

// Field looks up a dimension or measure by name.
func (v *View) Field(name string) (*Field, bool) {
	for _, f := range v.Dimensions {
		if f.Name == name {
			return f, true
		}
	}
	for _, f := range v.Measures {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// Fields returns dimensions followed by measures, each in declaration order.
func (v *View) Fields() []*Field {
	out := make([]*Field, 0, len(v.Dimensions)+len(v.Measures))
	out = append(out, v.Dimensions...)
	return append(out, v.Measures...)
}

// Join connects a target view into an explore.
type Join struct {
	TargetView   string
	Kind         JoinKind
	OnExpression string
	Relationship Relationship
	Required     bool
	// DependsOn lists the views the ON expression references besides the target.
	// A join with no such reference hangs off the base view.
	DependsOn []string
	Position  int
}

// Explore is a rooted join graph over views.
type Explore struct {
	Name        string
	BaseView    string
	Label       string
	Description string
	Hidden      bool
	Joins       []*Join
	Position    int
}

// Join returns the join that brings view into the explore.
func (e *Explore) Join(view string) (*Join, bool) {
	for _, j := range e.Joins {
		if j.TargetView == view {
			return j, true
		}
	}
	return nil, false
}

// Views returns the base view followed by every joined view in declaration order.
func (e *Explore) Views() []string {
	out := make([]string, 0, len(e.Joins)+1)
	out = append(out, e.BaseView)
	for _, j := range e.Joins {
		out = append(out, j.TargetView)
	}
	return out
}

// SemanticModel is the assembled, immutable semantic layer.
type SemanticModel struct {
	Name      string
	Version   string
	Views     map[string]*View
	ViewOrder []string
	Explores  []*Explore
}

// View looks up a view by name.
func (m *SemanticModel) View(name string) (*View, bool) {
	v, ok := m.Views[name]
	return v, ok
}

// Explore looks up an explore by name.
func (m *SemanticModel) Explore(name string) (*Explore, bool) {
	for _, e := range m.Explores {
		if e.Name == name {
			return e, true
		}
	}
	return nil, false
}

// Tables returns the distinct physical tables of all views in declaration order.
func (m *SemanticModel) Tables() []string {
	seen := make(map[string]bool, len(m.ViewOrder))
	var out []string
	for _, name := range m.ViewOrder {
		t := m.Views[name].PhysicalTable
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
