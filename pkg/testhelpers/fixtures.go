// Package testhelpers provides fixtures and containers for testing
// ekaya-grounding components.
package testhelpers

import (
	"bytes"
	"context"
	_ "embed"
	"testing"

	"github.com/ekaya-inc/ekaya-grounding/pkg/catalog"
	"github.com/ekaya-inc/ekaya-grounding/pkg/models"
	"github.com/ekaya-inc/ekaya-grounding/pkg/semantic"
)

// ModelYAML is the "thelook" ecommerce semantic model.
//
//go:embed testdata/ecommerce.yaml
var ModelYAML []byte

// CatalogYAML is the catalog export matching ModelYAML.
//
//go:embed testdata/catalog.yaml
var CatalogYAML []byte

// Model parses and assembles the ecommerce fixture.
func Model(t *testing.T) *models.SemanticModel {
	t.Helper()

	decl, err := semantic.Parse(bytes.NewReader(ModelYAML))
	if err != nil {
		t.Fatalf("failed to parse fixture model: %v", err)
	}
	model, err := semantic.Assemble(decl)
	if err != nil {
		t.Fatalf("failed to assemble fixture model: %v", err)
	}
	return model
}

// Catalog decodes the fixture catalog export.
func Catalog(t *testing.T) *catalog.Snapshot {
	t.Helper()

	snap, err := catalog.ParseSnapshot(CatalogYAML, nil)
	if err != nil {
		t.Fatalf("failed to parse fixture catalog: %v", err)
	}
	return snap
}

// StaticCatalog serves a fixed snapshot as a catalog.Source.
type StaticCatalog struct {
	Snapshot *catalog.Snapshot
	Err      error
	Calls    int
}

// Load implements catalog.Source.
func (s *StaticCatalog) Load(ctx context.Context, tables []string) (*catalog.Snapshot, error) {
	s.Calls++
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Snapshot, nil
}
