package raster

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/okian/elevation/internal/domain/projection"
	"github.com/okian/elevation/pkg/logger"
	"github.com/okian/elevation/pkg/metrics"
)

// Key identifies one opened dataset. Two sources reading the same file with
// different overrides get separate handles.
type Key struct {
	Path  string
	CRS   projection.Code
	Units string
}

func (k Key) String() string {
	return fmt.Sprintf("%s|%d|%s", k.Path, k.CRS, strings.ToLower(k.Units))
}

// Stats is a snapshot of registry activity.
type Stats struct {
	Open   int
	Opens  uint64
	Hits   uint64
	Failed uint64
}

type entry struct {
	ds    *Dataset
	refs  int
	stale bool
}

// Registry keeps datasets open across requests. Handles are shared and
// reference counted; a handle dropped from the registry is closed once its
// last holder releases it. Failed opens are not cached.
type Registry struct {
	mu      sync.Mutex
	entries map[Key]*entry
	closed  bool
	stats   Stats

	group  singleflight.Group
	open   func(path string, opts ...Option) (*Dataset, error)
	logger logger.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l logger.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithOpener replaces Open, for tests.
func WithOpener(open func(path string, opts ...Option) (*Dataset, error)) RegistryOption {
	return func(r *Registry) {
		if open != nil {
			r.open = open
		}
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entries: make(map[Key]*entry),
		open:    Open,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.Get().Named("raster")
	}
	return r
}

// Acquire returns an open dataset for key and a release func the caller
// must call when done reading. Concurrent first acquisitions of one key
// open the file once.
func (r *Registry) Acquire(ctx context.Context, key Key) (*Dataset, func(), error) {
	for {
		if ds, release, ok, err := r.lookup(key, true); err != nil || ok {
			return ds, release, err
		}

		_, err, _ := r.group.Do(key.String(), func() (any, error) {
			return nil, r.load(ctx, key)
		})
		if err != nil {
			return nil, nil, err
		}

		if ds, release, ok, err := r.lookup(key, false); err != nil || ok {
			return ds, release, err
		}
		// The new handle was dropped before we could take it; try again.
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
	}
}

func (r *Registry) lookup(key Key, hit bool) (*Dataset, func(), bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, nil, false, ErrRegistryClosed
	}
	e, ok := r.entries[key]
	if !ok {
		return nil, nil, false, nil
	}
	e.refs++
	if hit {
		r.stats.Hits++
		metrics.RecordRasterCacheHit()
	}
	return e.ds, r.releaser(e), true, nil
}

// load opens key and installs it, unless a fresh handle is already present.
func (r *Registry) load(ctx context.Context, key Key) error {
	r.mu.Lock()
	_, present := r.entries[key]
	r.mu.Unlock()
	if present {
		return nil
	}

	ds, err := r.open(key.Path, WithCRS(key.CRS), WithUnits(key.Units))
	if err != nil {
		r.mu.Lock()
		r.stats.Failed++
		r.mu.Unlock()
		metrics.RecordRasterOpen(metrics.OutcomeError)
		metrics.RecordErrorByComponent("raster", "open")
		r.logger.Warn(ctx, "raster open failed", logger.String("path", key.Path), logger.Error(err))
		return err
	}
	metrics.RecordRasterOpen(metrics.OutcomeOK)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		_ = ds.Close()
		return ErrRegistryClosed
	}
	r.entries[key] = &entry{ds: ds}
	r.stats.Opens++
	metrics.UpdateRasterOpenHandles(len(r.entries))
	r.logger.Info(ctx, "raster opened",
		logger.String("path", key.Path),
		logger.String("driver", ds.Driver()),
		logger.String("crs", ds.CRS().String()),
	)
	return nil
}

func (r *Registry) releaser(e *entry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			e.refs--
			if e.stale && e.refs == 0 {
				_ = e.ds.Close()
			}
		})
	}
}

// drop removes key and closes its handle once unused. Caller holds r.mu.
func (r *Registry) drop(key Key) {
	e, ok := r.entries[key]
	if !ok {
		return
	}
	delete(r.entries, key)
	e.stale = true
	if e.refs == 0 {
		_ = e.ds.Close()
	}
}

// Retain drops every handle whose key is not in keep.
func (r *Registry) Retain(keep []Key) {
	wanted := make(map[Key]struct{}, len(keep))
	for _, k := range keep {
		wanted[k] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.entries {
		if _, ok := wanted[k]; !ok {
			r.drop(k)
		}
	}
	metrics.UpdateRasterOpenHandles(len(r.entries))
}

// Invalidate drops the handle for key so the next Acquire reopens it.
func (r *Registry) Invalidate(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drop(key)
	metrics.UpdateRasterOpenHandles(len(r.entries))
}

// Stats returns a snapshot of registry counters.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.Open = len(r.entries)
	return s
}

// Close drops every handle and rejects further acquisitions.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.entries {
		r.drop(k)
	}
	r.closed = true
	metrics.UpdateRasterOpenHandles(0)
	return nil
}
