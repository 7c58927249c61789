package semantic

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/ekaya-inc/ekaya-grounding/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-grounding/pkg/expression"
	"github.com/ekaya-inc/ekaya-grounding/pkg/models"
)

// Assemble validates declarations and builds the semantic model.
// It fails with *apperrors.ModelError on the first structural problem found.
func Assemble(decl *Declarations) (*models.SemanticModel, error) {
	flat := decl.Flatten()

	m := &models.SemanticModel{
		Name:  flat.Name,
		Views: make(map[string]*models.View, len(flat.Views)),
	}

	for i, vd := range flat.Views {
		v, err := assembleView(vd, i)
		if err != nil {
			return nil, err
		}
		if _, dup := m.Views[v.Name]; dup {
			return nil, &apperrors.ModelError{View: v.Name, Reason: "view declared more than once"}
		}
		m.Views[v.Name] = v
		m.ViewOrder = append(m.ViewOrder, v.Name)
	}

	seen := map[string]bool{}
	for i, ed := range flat.Explores {
		e, err := assembleExplore(ed, i, m)
		if err != nil {
			return nil, err
		}
		if seen[e.Name] {
			return nil, &apperrors.ModelError{Explore: e.Name, Reason: "explore declared more than once"}
		}
		seen[e.Name] = true
		m.Explores = append(m.Explores, e)
	}

	version, err := fingerprint(flat)
	if err != nil {
		return nil, fmt.Errorf("fingerprint declarations: %w", err)
	}
	m.Version = version

	return m, nil
}

func assembleView(vd ViewDecl, position int) (*models.View, error) {
	name := strings.TrimSpace(vd.Name)
	if name == "" {
		return nil, &apperrors.ModelError{Reason: fmt.Sprintf("view #%d has no name", position+1)}
	}

	v := &models.View{
		Name:          name,
		PhysicalTable: strings.TrimSpace(vd.SQLTableName),
		Description:   vd.Description,
		PrimaryKey:    vd.PrimaryKey,
		Position:      position,
	}
	if v.PhysicalTable == "" {
		v.PhysicalTable = name
	}

	names := map[string]bool{}
	pos := 0
	addDimension := func(fd FieldDecl, group bool) error {
		f, err := assembleDimension(v.Name, fd, group)
		if err != nil {
			return err
		}
		if names[f.Name] {
			return &apperrors.ModelError{View: v.Name, Field: f.Name, Reason: "duplicate field name"}
		}
		names[f.Name] = true
		f.Position = pos
		pos++
		if f.PrimaryKey {
			if v.PrimaryKey != "" && v.PrimaryKey != f.Name {
				return &apperrors.ModelError{View: v.Name, Field: f.Name, Reason: "more than one primary key declared"}
			}
			v.PrimaryKey = f.Name
		}
		v.Dimensions = append(v.Dimensions, f)
		return nil
	}

	for _, fd := range vd.Dimensions {
		if err := addDimension(fd, false); err != nil {
			return nil, err
		}
	}
	for _, fd := range vd.DimensionGroups {
		if err := addDimension(fd, true); err != nil {
			return nil, err
		}
	}

	for _, fd := range vd.Measures {
		f, err := assembleMeasure(v.Name, fd)
		if err != nil {
			return nil, err
		}
		if names[f.Name] {
			return nil, &apperrors.ModelError{View: v.Name, Field: f.Name, Reason: "duplicate field name"}
		}
		names[f.Name] = true
		f.Position = pos
		pos++
		v.Measures = append(v.Measures, f)
	}

	if v.PrimaryKey != "" {
		pk, ok := v.Field(v.PrimaryKey)
		if !ok || pk.IsMeasure() {
			return nil, &apperrors.ModelError{View: v.Name, Field: v.PrimaryKey, Reason: "primary key is not a declared dimension"}
		}
		pk.PrimaryKey = true

		// LookML counts distinct primary keys so fan-out joins do not inflate counts.
		for _, f := range v.Measures {
			if f.Aggregate == models.AggregateCount && strings.TrimSpace(f.Expression) == "" {
				f.Aggregate = models.AggregateCountDistinct
				f.Expression = "${" + v.PrimaryKey + "}"
			}
		}
	}

	return v, nil
}

func assembleDimension(view string, fd FieldDecl, group bool) (*models.Field, error) {
	name := strings.TrimSpace(fd.Name)
	if name == "" {
		return nil, &apperrors.ModelError{View: view, Reason: "dimension without a name"}
	}

	kind, ok := models.ParseValueKind(fd.Type)
	if !ok {
		return nil, &apperrors.ModelError{View: view, Field: name, Reason: fmt.Sprintf("unknown dimension type %q", fd.Type)}
	}
	if group || len(fd.Timeframes) > 0 {
		kind = models.ValueKindDate
	}

	return &models.Field{
		Name:        name,
		Kind:        models.FieldKindDimension,
		ValueKind:   kind,
		Expression:  fd.SQL,
		Description: fd.Description,
		Label:       fd.Label,
		Synonyms:    fd.Synonyms,
		Hidden:      fd.Hidden,
		PrimaryKey:  fd.PrimaryKey,
		Timeframes:  fd.Timeframes,
	}, nil
}

func assembleMeasure(view string, fd FieldDecl) (*models.Field, error) {
	name := strings.TrimSpace(fd.Name)
	if name == "" {
		return nil, &apperrors.ModelError{View: view, Reason: "measure without a name"}
	}

	agg, ok := models.ParseAggregate(fd.Type)
	if !ok {
		return nil, &apperrors.ModelError{View: view, Field: name, Reason: fmt.Sprintf("unknown measure type %q", fd.Type)}
	}
	if fd.PrimaryKey {
		return nil, &apperrors.ModelError{View: view, Field: name, Reason: "a measure cannot be a primary key"}
	}

	return &models.Field{
		Name:        name,
		Kind:        models.FieldKindMeasure,
		ValueKind:   models.ValueKindNumber,
		Aggregate:   agg,
		Expression:  fd.SQL,
		Description: fd.Description,
		Label:       fd.Label,
		Synonyms:    fd.Synonyms,
		Hidden:      fd.Hidden,
	}, nil
}

func assembleExplore(ed ExploreDecl, position int, m *models.SemanticModel) (*models.Explore, error) {
	name := strings.TrimSpace(ed.Name)
	if name == "" {
		return nil, &apperrors.ModelError{Reason: fmt.Sprintf("explore #%d has no name", position+1)}
	}

	e := &models.Explore{
		Name:        name,
		BaseView:    ed.BaseView(),
		Label:       ed.Label,
		Description: ed.Description,
		Hidden:      ed.Hidden,
		Position:    position,
	}
	if _, ok := m.View(e.BaseView); !ok {
		return nil, &apperrors.ModelError{Explore: name, View: e.BaseView, Reason: "base view is not declared"}
	}

	members := map[string]bool{e.BaseView: true}
	for i, jd := range ed.Joins {
		target := strings.TrimSpace(jd.Target())
		if target == "" {
			return nil, &apperrors.ModelError{Explore: name, Reason: fmt.Sprintf("join #%d has no view", i+1)}
		}
		if _, ok := m.View(target); !ok {
			return nil, &apperrors.ModelError{Explore: name, View: target, Reason: "joined view is not declared"}
		}
		if members[target] {
			return nil, &apperrors.ModelError{Explore: name, View: target, Reason: "join cycle: view is already part of the explore"}
		}
		members[target] = true

		kind, ok := models.ParseJoinKind(jd.Type)
		if !ok {
			return nil, &apperrors.ModelError{Explore: name, View: target, Reason: fmt.Sprintf("unknown join type %q", jd.Type)}
		}
		rel, ok := models.ParseRelationship(jd.Relationship)
		if !ok {
			return nil, &apperrors.ModelError{Explore: name, View: target, Reason: fmt.Sprintf("unknown relationship %q", jd.Relationship)}
		}
		if kind != models.JoinKindCross && strings.TrimSpace(jd.SQLOn) == "" {
			return nil, &apperrors.ModelError{Explore: name, View: target, Reason: "join has no sql_on"}
		}

		e.Joins = append(e.Joins, &models.Join{
			TargetView:   target,
			Kind:         kind,
			OnExpression: jd.SQLOn,
			Relationship: rel,
			Required:     jd.Required,
			Position:     i,
		})
	}

	for _, j := range e.Joins {
		for _, ref := range expression.References(j.OnExpression) {
			if ref == j.TargetView {
				continue
			}
			if !members[ref] {
				return nil, &apperrors.ModelError{Explore: name, View: j.TargetView, Reason: fmt.Sprintf("sql_on references view %q which is not part of the explore", ref)}
			}
			j.DependsOn = append(j.DependsOn, ref)
		}
		if len(j.DependsOn) == 0 {
			j.DependsOn = []string{e.BaseView}
		}
	}

	if cycle := findJoinCycle(e); cycle != nil {
		return nil, &apperrors.ModelError{Explore: name, Reason: "join cycle: " + strings.Join(cycle, " -> ")}
	}

	return e, nil
}

// findJoinCycle walks join dependencies depth-first and returns the first
// cycle found as a path of view names.
func findJoinCycle(e *models.Explore) []string {
	const (
		inProgress = iota + 1
		done
	)
	state := map[string]int{}
	var path []string

	var visit func(view string) []string
	visit = func(view string) []string {
		switch state[view] {
		case inProgress:
			start := slices.Index(path, view)
			return append(slices.Clone(path[start:]), view)
		case done:
			return nil
		}
		state[view] = inProgress
		path = append(path, view)
		if j, ok := e.Join(view); ok {
			for _, dep := range j.DependsOn {
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}
		path = path[:len(path)-1]
		state[view] = done
		return nil
	}

	for _, j := range e.Joins {
		if cycle := visit(j.TargetView); cycle != nil {
			return cycle
		}
	}
	return nil
}

func fingerprint(decl *Declarations) (string, error) {
	data, err := json.Marshal(decl)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8]), nil
}
