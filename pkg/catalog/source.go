package catalog

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-grounding/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-grounding/pkg/retry"
)

// Source loads catalog metadata for a set of tables. An empty table list
// means every table the source knows.
type Source interface {
	Load(ctx context.Context, tables []string) (*Snapshot, error)
}

// snapshotFile is the on-disk layout of a catalog export.
type snapshotFile struct {
	Tables map[string]struct {
		Columns []Column `yaml:"columns"`
	} `yaml:"tables"`
}

// FileSource reads a YAML (or JSON) catalog export.
type FileSource struct {
	Path string
}

// NewFileSource creates a FileSource for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

// Load implements Source.
func (f *FileSource) Load(ctx context.Context, tables []string) (*Snapshot, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read catalog snapshot %s: %w", f.Path, err)
	}
	return ParseSnapshot(data, tables)
}

// ParseSnapshot decodes a catalog export, keeping only the requested tables.
func ParseSnapshot(data []byte, tables []string) (*Snapshot, error) {
	var file snapshotFile
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&file); err != nil {
		return nil, fmt.Errorf("decode catalog snapshot: %w", err)
	}

	want := tableFilter(tables)
	names := make([]string, 0, len(file.Tables))
	for name := range file.Tables {
		names = append(names, name)
	}
	sort.Strings(names)

	var rows []Column
	for _, name := range names {
		if !want(name) {
			continue
		}
		for _, c := range file.Tables[name].Columns {
			c.Table = name
			rows = append(rows, c)
		}
	}
	return NewSnapshot(rows), nil
}

// tableFilter matches table names by full reference or last segment.
func tableFilter(tables []string) func(string) bool {
	if len(tables) == 0 {
		return func(string) bool { return true }
	}
	set := map[string]bool{}
	for _, t := range tables {
		n := normalizeTable(t)
		set[n] = true
		set[bareName(n)] = true
	}
	return func(name string) bool {
		n := normalizeTable(name)
		return set[n] || set[bareName(n)]
	}
}

// DatasourceSource loads metadata from a live database through a catalog reader.
type DatasourceSource struct {
	reader datasource.CatalogReader
	retry  *retry.Config
	logger *zap.Logger
}

// NewDatasourceSource wraps reader. A nil retry config uses retry defaults.
func NewDatasourceSource(reader datasource.CatalogReader, retryCfg *retry.Config, logger *zap.Logger) *DatasourceSource {
	return &DatasourceSource{
		reader: reader,
		retry:  retryCfg,
		logger: logger.Named("catalog"),
	}
}

// Load implements Source.
func (d *DatasourceSource) Load(ctx context.Context, tables []string) (*Snapshot, error) {
	start := time.Now()

	var meta []datasource.ColumnMetadata
	err := retry.DoIfRetryable(ctx, d.retry, func() error {
		var err error
		meta, err = d.reader.ReadColumns(ctx, tables)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read catalog columns: %w", err)
	}

	rows := make([]Column, 0, len(meta))
	for _, m := range meta {
		rows = append(rows, Column{
			Table:       m.TableName,
			Column:      m.ColumnName,
			DataType:    m.DataType,
			Description: m.Description,
		})
	}
	snap := NewSnapshot(rows)

	d.logger.Info("Catalog loaded",
		zap.Int("tables", len(snap.Tables())),
		zap.Int("columns", snap.Len()),
		zap.String("fingerprint", snap.Fingerprint()),
		zap.Duration("elapsed", time.Since(start)))

	return snap, nil
}

type cacheEntry struct {
	snapshot *Snapshot
	expires  time.Time
}

// CachedSource memoizes another source in memory for a fixed TTL.
type CachedSource struct {
	source  Source
	ttl     time.Duration
	now     func() time.Time
	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewCachedSource wraps source. A ttl <= 0 disables caching.
func NewCachedSource(source Source, ttl time.Duration) *CachedSource {
	return &CachedSource{
		source:  source,
		ttl:     ttl,
		now:     time.Now,
		entries: map[string]cacheEntry{},
	}
}

// Load implements Source.
func (c *CachedSource) Load(ctx context.Context, tables []string) (*Snapshot, error) {
	if c.ttl <= 0 {
		return c.source.Load(ctx, tables)
	}

	key := cacheKey(tables)
	c.mu.Lock()
	entry, ok := c.entries[key]
	c.mu.Unlock()
	if ok && c.now().Before(entry.expires) {
		return entry.snapshot, nil
	}

	snap, err := c.source.Load(ctx, tables)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{snapshot: snap, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return snap, nil
}

// Invalidate drops every cached snapshot.
func (c *CachedSource) Invalidate() {
	c.mu.Lock()
	c.entries = map[string]cacheEntry{}
	c.mu.Unlock()
}

func cacheKey(tables []string) string {
	norm := make([]string, len(tables))
	for i, t := range tables {
		norm[i] = normalizeTable(t)
	}
	sort.Strings(norm)
	return strings.Join(norm, ",")
}
