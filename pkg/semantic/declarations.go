// Package semantic assembles parsed LookML-style declarations into a typed,
// validated semantic model.
package semantic

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// FieldDecl is a parsed dimension, dimension group or measure.
type FieldDecl struct {
	Name        string   `yaml:"name" json:"name"`
	Type        string   `yaml:"type" json:"type,omitempty"`
	SQL         string   `yaml:"sql" json:"sql,omitempty"`
	Description string   `yaml:"description" json:"description,omitempty"`
	Label       string   `yaml:"label" json:"label,omitempty"`
	Synonyms    []string `yaml:"synonyms" json:"synonyms,omitempty"`
	Hidden      bool     `yaml:"hidden" json:"hidden,omitempty"`
	PrimaryKey  bool     `yaml:"primary_key" json:"primary_key,omitempty"`
	Timeframes  []string `yaml:"timeframes" json:"timeframes,omitempty"`
}

// ViewDecl is a parsed view.
type ViewDecl struct {
	Name            string      `yaml:"name" json:"name"`
	SQLTableName    string      `yaml:"sql_table_name" json:"sql_table_name,omitempty"`
	Description     string      `yaml:"description" json:"description,omitempty"`
	PrimaryKey      string      `yaml:"primary_key" json:"primary_key,omitempty"`
	Dimensions      []FieldDecl `yaml:"dimensions" json:"dimensions,omitempty"`
	DimensionGroups []FieldDecl `yaml:"dimension_groups" json:"dimension_groups,omitempty"`
	Measures        []FieldDecl `yaml:"measures" json:"measures,omitempty"`
}

// JoinDecl is a parsed explore join. Name is the joined view unless ViewName is set.
type JoinDecl struct {
	Name         string `yaml:"name" json:"name"`
	ViewName     string `yaml:"view_name" json:"view_name,omitempty"`
	Type         string `yaml:"type" json:"type,omitempty"`
	SQLOn        string `yaml:"sql_on" json:"sql_on,omitempty"`
	Relationship string `yaml:"relationship" json:"relationship,omitempty"`
	Required     bool   `yaml:"required" json:"required,omitempty"`
}

// Target returns the view the join brings in.
func (j JoinDecl) Target() string {
	if j.ViewName != "" {
		return j.ViewName
	}
	return j.Name
}

// ExploreDecl is a parsed explore. The base view is ViewName, then From, then Name.
type ExploreDecl struct {
	Name        string     `yaml:"name" json:"name"`
	ViewName    string     `yaml:"view_name" json:"view_name,omitempty"`
	From        string     `yaml:"from" json:"from,omitempty"`
	Label       string     `yaml:"label" json:"label,omitempty"`
	Description string     `yaml:"description" json:"description,omitempty"`
	Hidden      bool       `yaml:"hidden" json:"hidden,omitempty"`
	Joins       []JoinDecl `yaml:"joins" json:"joins,omitempty"`
}

// BaseView returns the explore's base view name.
func (e ExploreDecl) BaseView() string {
	switch {
	case e.ViewName != "":
		return e.ViewName
	case e.From != "":
		return e.From
	default:
		return e.Name
	}
}

// ModelDecl groups views and explores the way a LookML model file does.
type ModelDecl struct {
	Name     string        `yaml:"name" json:"name"`
	Views    []ViewDecl    `yaml:"views" json:"views,omitempty"`
	Explores []ExploreDecl `yaml:"explores" json:"explores,omitempty"`
}

// Declarations is the parser output consumed by the assembler: standalone
// views plus zero or more models, or a single flat model.
type Declarations struct {
	Name     string        `yaml:"name" json:"name"`
	Views    []ViewDecl    `yaml:"views" json:"views,omitempty"`
	Explores []ExploreDecl `yaml:"explores" json:"explores,omitempty"`
	Models   []ModelDecl   `yaml:"models" json:"models,omitempty"`
}

// Flatten merges nested models into one view list and one explore list.
// Explore names are prefixed with their model name only when two models
// declare the same explore.
func (d *Declarations) Flatten() *Declarations {
	out := &Declarations{
		Name:     d.Name,
		Views:    append([]ViewDecl(nil), d.Views...),
		Explores: append([]ExploreDecl(nil), d.Explores...),
	}
	if len(d.Models) == 0 {
		return out
	}

	counts := map[string]int{}
	for _, e := range d.Explores {
		counts[e.Name]++
	}
	for _, m := range d.Models {
		for _, e := range m.Explores {
			counts[e.Name]++
		}
	}

	for _, m := range d.Models {
		if out.Name == "" {
			out.Name = m.Name
		}
		out.Views = append(out.Views, m.Views...)
		for _, e := range m.Explores {
			if counts[e.Name] > 1 && m.Name != "" {
				if e.ViewName == "" && e.From == "" {
					e.ViewName = e.Name
				}
				e.Name = m.Name + "." + e.Name
			}
			out.Explores = append(out.Explores, e)
		}
	}
	return out
}

// Parse decodes a YAML declarations document.
func Parse(r io.Reader) (*Declarations, error) {
	var decl Declarations
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&decl); err != nil {
		if err == io.EOF {
			return &decl, nil
		}
		return nil, fmt.Errorf("decode declarations: %w", err)
	}
	return &decl, nil
}

// LoadFile reads a YAML declarations file.
func LoadFile(path string) (*Declarations, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read semantic model %s: %w", path, err)
	}
	return Parse(bytes.NewReader(data))
}
