// Package catalog holds physical-catalog metadata (column types and
// descriptions) as an immutable lookup keyed by table and column.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Column is one physical column. FieldPath is set for nested columns
// (for example BigQuery STRUCT members) and may be used as a lookup key.
type Column struct {
	Table       string `json:"table" yaml:"table"`
	Column      string `json:"column" yaml:"name"`
	FieldPath   string `json:"field_path,omitempty" yaml:"field_path"`
	DataType    string `json:"data_type" yaml:"type"`
	Description string `json:"description,omitempty" yaml:"description"`
}

// Snapshot is a read-only view of catalog rows.
type Snapshot struct {
	tables      map[string]map[string]Column // normalized table -> normalized column/field path
	bare        map[string]string            // last table segment -> normalized table, when unique
	fingerprint string
	rows        int
}

// NewSnapshot builds a snapshot from one or more row sets. Later sets fill
// attributes left empty by earlier ones, which is how type rows and
// description rows for the same column are merged.
func NewSnapshot(rowSets ...[]Column) *Snapshot {
	s := &Snapshot{
		tables: map[string]map[string]Column{},
		bare:   map[string]string{},
	}

	for _, rows := range rowSets {
		for _, r := range rows {
			t := normalizeTable(r.Table)
			c := normalizeColumn(r.Column)
			if t == "" || c == "" {
				continue
			}
			cols := s.tables[t]
			if cols == nil {
				cols = map[string]Column{}
				s.tables[t] = cols
			}
			existing, ok := cols[c]
			if !ok {
				cols[c] = r
				s.rows++
				continue
			}
			if existing.DataType == "" {
				existing.DataType = r.DataType
			}
			if existing.Description == "" {
				existing.Description = r.Description
			}
			if existing.FieldPath == "" {
				existing.FieldPath = r.FieldPath
			}
			cols[c] = existing
		}
	}

	// field paths are alternate keys for nested columns
	for _, cols := range s.tables {
		for _, col := range cols {
			if fp := normalizeColumn(col.FieldPath); fp != "" {
				if _, taken := cols[fp]; !taken {
					cols[fp] = col
				}
			}
		}
	}

	ambiguous := map[string]bool{}
	for t := range s.tables {
		b := bareName(t)
		if prev, ok := s.bare[b]; ok && prev != t {
			ambiguous[b] = true
		}
		s.bare[b] = t
	}
	for b := range ambiguous {
		delete(s.bare, b)
	}

	s.fingerprint = s.computeFingerprint()
	return s
}

// Empty returns a snapshot with no rows.
func Empty() *Snapshot {
	return NewSnapshot()
}

// Lookup finds a column by table and column name. The table is matched by
// its full reference first, then by its last dotted segment.
func (s *Snapshot) Lookup(table, column string) (Column, bool) {
	if s == nil {
		return Column{}, false
	}
	cols, ok := s.tables[normalizeTable(table)]
	if !ok {
		full, found := s.bare[bareName(normalizeTable(table))]
		if !found {
			return Column{}, false
		}
		cols = s.tables[full]
	}
	col, ok := cols[normalizeColumn(column)]
	return col, ok
}

// HasTable reports whether any column of table is known.
func (s *Snapshot) HasTable(table string) bool {
	if s == nil {
		return false
	}
	t := normalizeTable(table)
	if _, ok := s.tables[t]; ok {
		return true
	}
	_, ok := s.bare[bareName(t)]
	return ok
}

// Tables returns the known tables in sorted order.
func (s *Snapshot) Tables() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.tables))
	for t := range s.tables {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of distinct columns.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return s.rows
}

// Fingerprint identifies the snapshot content. Equal content yields equal
// fingerprints regardless of row order.
func (s *Snapshot) Fingerprint() string {
	if s == nil {
		return "empty"
	}
	return s.fingerprint
}

func (s *Snapshot) computeFingerprint() string {
	var lines []string
	for t, cols := range s.tables {
		for key, c := range cols {
			lines = append(lines, fmt.Sprintf("%s\x00%s\x00%s\x00%s\x00%s", t, key, c.FieldPath, c.DataType, c.Description))
		}
	}
	sort.Strings(lines)

	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil)[:8])
}

func normalizeTable(t string) string {
	t = strings.TrimSpace(t)
	t = strings.NewReplacer("`", "", `"`, "").Replace(t)
	return strings.ToLower(t)
}

func normalizeColumn(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}

func bareName(t string) string {
	if i := strings.LastIndexByte(t, '.'); i >= 0 {
		return t[i+1:]
	}
	return t
}
