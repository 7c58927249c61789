package catalog

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixturePath = "../testhelpers/testdata/catalog.yaml"

func TestSnapshot_Lookup(t *testing.T) {
	snap := NewSnapshot([]Column{
		{Table: "thelook.ecommerce.users", Column: "country", DataType: "STRING", Description: "Country of residence"},
		{Table: "`thelook.ecommerce.orders`", Column: "ID", DataType: "INT64"},
	})

	tests := []struct {
		name     string
		table    string
		column   string
		wantType string
		found    bool
	}{
		{"full reference", "thelook.ecommerce.users", "country", "STRING", true},
		{"bare table name", "users", "country", "STRING", true},
		{"backticks and case are ignored", "`THELOOK.ECOMMERCE.ORDERS`", "id", "INT64", true},
		{"schema-qualified only", "ecommerce.orders", "id", "INT64", true},
		{"unknown column", "users", "email", "", false},
		{"unknown table", "products", "id", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			col, ok := snap.Lookup(tt.table, tt.column)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.wantType, col.DataType)
		})
	}
}

func TestSnapshot_MergesRowSets(t *testing.T) {
	types := []Column{{Table: "t", Column: "c", DataType: "INT64"}}
	descriptions := []Column{
		{Table: "t", Column: "c", Description: "A counter"},
		{Table: "t", Column: "d", Description: "Only described"},
	}

	snap := NewSnapshot(types, descriptions)
	col, ok := snap.Lookup("t", "c")
	require.True(t, ok)
	assert.Equal(t, "INT64", col.DataType)
	assert.Equal(t, "A counter", col.Description)
	assert.Equal(t, 2, snap.Len())

	// earlier non-empty attributes win
	snap = NewSnapshot(types, []Column{{Table: "t", Column: "c", DataType: "STRING"}})
	col, _ = snap.Lookup("t", "c")
	assert.Equal(t, "INT64", col.DataType)
}

func TestSnapshot_FieldPathIsAlternateKey(t *testing.T) {
	snap := NewSnapshot([]Column{
		{Table: "events", Column: "payload", FieldPath: "payload.device.os", DataType: "STRING"},
	})
	col, ok := snap.Lookup("events", "payload.device.os")
	require.True(t, ok)
	assert.Equal(t, "payload", col.Column)
}

func TestSnapshot_AmbiguousBareNameIsDropped(t *testing.T) {
	snap := NewSnapshot([]Column{
		{Table: "prod.sales.users", Column: "id", DataType: "INT64"},
		{Table: "prod.crm.users", Column: "id", DataType: "STRING"},
	})

	_, ok := snap.Lookup("users", "id")
	assert.False(t, ok)
	assert.False(t, snap.HasTable("users"))

	col, ok := snap.Lookup("prod.crm.users", "id")
	require.True(t, ok)
	assert.Equal(t, "STRING", col.DataType)
}

func TestSnapshot_Fingerprint(t *testing.T) {
	a := NewSnapshot([]Column{
		{Table: "t", Column: "a", DataType: "INT64"},
		{Table: "t", Column: "b", DataType: "STRING"},
	})
	b := NewSnapshot([]Column{
		{Table: "T", Column: "B", DataType: "STRING"},
		{Table: "t", Column: "a", DataType: "INT64"},
	})
	c := NewSnapshot([]Column{
		{Table: "t", Column: "a", DataType: "INT64", Description: "changed"},
		{Table: "t", Column: "b", DataType: "STRING"},
	})

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())

	var nilSnap *Snapshot
	assert.Equal(t, "empty", nilSnap.Fingerprint())
	assert.NotEqual(t, "empty", Empty().Fingerprint())
	assert.Equal(t, 0, Empty().Len())
}

func TestParseSnapshot_Fixture(t *testing.T) {
	data, err := os.ReadFile(fixturePath)
	require.NoError(t, err)

	snap, err := ParseSnapshot(data, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"thelook.ecommerce.distribution_centers",
		"thelook.ecommerce.order_items",
		"thelook.ecommerce.products",
		"thelook.ecommerce.users",
	}, snap.Tables())

	col, ok := snap.Lookup("thelook.ecommerce.users", "country")
	require.True(t, ok)
	assert.Equal(t, "Country of residence", col.Description)

	filtered, err := ParseSnapshot(data, []string{"users", "thelook.ecommerce.products"})
	require.NoError(t, err)
	assert.Equal(t, []string{"thelook.ecommerce.products", "thelook.ecommerce.users"}, filtered.Tables())
}

func TestParseSnapshot_Invalid(t *testing.T) {
	_, err := ParseSnapshot([]byte("tables: [not, a, map]"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode catalog snapshot")
}
