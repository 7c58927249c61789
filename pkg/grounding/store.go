package grounding

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ekaya-inc/ekaya-grounding/pkg/catalog"
	"github.com/ekaya-inc/ekaya-grounding/pkg/models"
)

// maxParallelBuilds bounds concurrent explore index builds.
const maxParallelBuilds = 8

// Snapshot is a complete, immutable set of explore indexes built from one
// model version and one catalog snapshot.
type Snapshot struct {
	Model   *models.SemanticModel
	Catalog *catalog.Snapshot
	// Indexes holds one index per explore in declaration order.
	Indexes []*Index
	// Version is the model version and catalog fingerprint.
	Version string
	BuiltAt time.Time
}

// Index returns the index of the named explore.
func (s *Snapshot) Index(explore string) (*Index, bool) {
	for _, idx := range s.Indexes {
		if idx.explore.Name == explore {
			return idx, true
		}
	}
	return nil, false
}

// Store publishes snapshots. Readers always see either the previous or the
// next complete snapshot, and a rebuild never replaces the result of a
// rebuild that started after it.
type Store struct {
	current atomic.Pointer[Snapshot]
	group   singleflight.Group
	opts    Options
	logger  *zap.Logger

	requested atomic.Uint64
	mu        sync.Mutex // guards published
	published uint64
}

// NewStore creates an empty store.
func NewStore(opts Options, logger *zap.Logger) *Store {
	return &Store{
		opts:   opts,
		logger: logger.Named("grounding"),
	}
}

// Current returns the published snapshot, or nil before the first Rebuild.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// SnapshotVersion identifies the snapshot a model and catalog produce.
func SnapshotVersion(model *models.SemanticModel, cat *catalog.Snapshot) string {
	return model.Version + "/" + cat.Fingerprint()
}

// Rebuild grounds every explore of model against cat and publishes the
// result. An identical model and catalog reuse the published snapshot, and
// concurrent rebuilds of the same version share one build. The shared build
// is not cancelled with any one caller; a caller whose ctx ends stops
// waiting and publishes nothing. When a later Rebuild has already
// published, the newer snapshot is returned instead.
func (s *Store) Rebuild(ctx context.Context, model *models.SemanticModel, cat *catalog.Snapshot) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	gen := s.requested.Add(1)
	version := SnapshotVersion(model, cat)
	if cur := s.Current(); cur != nil && cur.Version == version {
		return s.publish(gen, cur), nil
	}

	ch := s.group.DoChan(version, func() (any, error) {
		return s.build(context.WithoutCancel(ctx), model, cat, version)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			s.logger.Debug("Rebuild shared with concurrent caller", zap.String("version", version))
		}
		return s.publish(gen, res.Val.(*Snapshot)), nil
	}
}

// publish swaps snap in unless a rebuild requested after gen already
// published. It returns the snapshot that is current afterwards.
func (s *Store) publish(gen uint64, snap *Snapshot) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen < s.published {
		s.logger.Debug("Superseded rebuild not published", zap.String("version", snap.Version))
		return s.current.Load()
	}
	s.published = gen
	s.current.Store(snap)
	return snap
}

func (s *Store) build(ctx context.Context, model *models.SemanticModel, cat *catalog.Snapshot, version string) (*Snapshot, error) {
	start := time.Now()
	indexes := make([]*Index, len(model.Explores))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelBuilds)
	for i, e := range model.Explores {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			idx, err := Build(model, e.Name, cat, s.opts, s.logger)
			if err != nil {
				return fmt.Errorf("ground explore %s: %w", e.Name, err)
			}
			indexes[i] = idx
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	excluded := 0
	for _, idx := range indexes {
		excluded += len(idx.exclusions)
	}
	s.logger.Info("Grounding snapshot built",
		zap.String("model", model.Name),
		zap.String("version", version),
		zap.Int("explores", len(indexes)),
		zap.Int("excluded", excluded),
		zap.Duration("elapsed", time.Since(start)))

	return &Snapshot{
		Model:   model,
		Catalog: cat,
		Indexes: indexes,
		Version: version,
		BuiltAt: time.Now(),
	}, nil
}
