// Package service provides the core service that implements the
// dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/okian/elevation/internal/adapters/raster"
	"github.com/okian/elevation/internal/adapters/remote"
	"github.com/okian/elevation/internal/config"
	"github.com/okian/elevation/internal/domain/elevation"
	"github.com/okian/elevation/internal/domain/projection"
	"github.com/okian/elevation/pkg/logger"
	"github.com/okian/elevation/pkg/metrics"
)

// ErrNotStarted is returned by queries before Start.
var ErrNotStarted = errors.New("service not started")

// tenant is the resolved source set of one tenant plus the raster handles
// it references.
type tenant struct {
	set  elevation.SourceSet
	keys []raster.Key
}

// Service resolves tenants to source sets and answers queries over them.
type Service struct {
	mu sync.RWMutex

	// Core components
	registry   *raster.Registry
	aggregator *elevation.Aggregator
	httpClient *http.Client

	// State
	cfg     *config.Config
	tenants map[string]tenant
	started bool
	stopped bool

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRegistry shares a raster registry with the service.
func WithRegistry(r *raster.Registry) Option {
	return func(s *Service) {
		if r != nil {
			s.registry = r
		}
	}
}

// WithHTTPClient sets the client used by remote sources.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) {
		if c != nil {
			s.httpClient = c
		}
	}
}

// New constructs a Service for cfg.
func New(cfg *config.Config, opts ...Option) *Service {
	s := &Service{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.registry == nil {
		s.registry = raster.NewRegistry(raster.WithLogger(s.logger.Named("raster")))
	}
	if s.httpClient == nil {
		s.httpClient = &http.Client{}
	}
	s.aggregator = elevation.NewAggregator(s.logger.Named("elevation"))
	return s
}

// Start resolves every tenant of the configuration. Starting again after
// Stop opens a fresh raster registry, since Stop closed the previous one.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	cfg := s.cfg
	if !started && s.stopped {
		s.registry = raster.NewRegistry(raster.WithLogger(s.logger.Named("raster")))
		s.stopped = false
	}
	s.mu.Unlock()
	if started {
		return nil
	}

	s.logger.Info(ctx, "starting elevation service...")
	if err := s.Apply(ctx, cfg); err != nil {
		return err
	}

	s.mu.Lock()
	s.started = true
	n := len(s.tenants)
	s.mu.Unlock()

	s.logger.Info(ctx, "elevation service started", logger.Int("tenants", n))
	return nil
}

// Stop closes every raster handle.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.logger.Info(context.Background(), "stopping elevation service...")
	stats := s.registry.Stats()
	_ = s.registry.Close()

	s.started = false
	s.stopped = true
	s.logger.Info(context.Background(), "elevation service stopped",
		logger.Any("raster_opens", stats.Opens),
		logger.Any("raster_hits", stats.Hits),
		logger.Any("raster_failures", stats.Failed),
	)
}

// Apply swaps in the tenants of cfg. On error the previous tenants stay in
// effect. Raster handles no longer referenced are closed once released.
func (s *Service) Apply(ctx context.Context, cfg *config.Config) error {
	tenants, err := s.build(cfg)
	if err != nil {
		metrics.RecordConfigReload(metrics.OutcomeError)
		return fmt.Errorf("apply config: %w", err)
	}

	var keys []raster.Key
	for _, t := range tenants {
		keys = append(keys, t.keys...)
	}

	s.mu.Lock()
	s.cfg = cfg
	s.tenants = tenants
	s.mu.Unlock()

	s.rasters().Retain(keys)
	metrics.RecordConfigReload(metrics.OutcomeOK)
	metrics.UpdateTenantsConfigured(len(tenants))
	s.logger.Info(ctx, "configuration applied",
		logger.Int("tenants", len(tenants)),
		logger.Int("rasters", len(keys)),
	)
	return nil
}

// Refresh drops every open raster handle so files changed on disk are
// reopened on next use.
func (s *Service) Refresh(ctx context.Context) {
	s.mu.RLock()
	var keys []raster.Key
	for _, t := range s.tenants {
		keys = append(keys, t.keys...)
	}
	s.mu.RUnlock()

	reg := s.rasters()
	for _, k := range keys {
		reg.Invalidate(k)
	}
	s.logger.Info(ctx, "raster handles refreshed", logger.Int("rasters", len(keys)))
}

func (s *Service) build(cfg *config.Config) (map[string]tenant, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", config.ErrInvalidConfig)
	}
	all := cfg.AllTenants()
	out := make(map[string]tenant, len(all))
	for name, tc := range all {
		t, err := s.buildTenant(cfg, name, tc)
		if err != nil {
			return nil, fmt.Errorf("tenant %q: %w", name, err)
		}
		out[name] = t
	}
	return out, nil
}

func (s *Service) buildTenant(cfg *config.Config, name string, tc config.Tenant) (tenant, error) {
	mode, err := elevation.ParseMode(tc.Mode())
	if err != nil {
		return tenant{}, err
	}
	t := tenant{set: elevation.SourceSet{Tenant: name, Mode: mode}}

	for _, d := range tc.Sources() {
		crs, err := parseOptionalCRS(d.CRS)
		if err != nil {
			return tenant{}, fmt.Errorf("dataset %q: %w", d.Name, err)
		}

		switch d.Kind() {
		case config.KindRaster:
			key := raster.Key{Path: d.Location(), CRS: crs, Units: d.Units}
			t.keys = append(t.keys, key)
			t.set.Sources = append(t.set.Sources, elevation.NewRasterSource(d.Name, s.opener(key)))
		case config.KindRemote:
			client, err := remote.NewClient(d.Location(),
				remote.WithProfileURL(d.ProfileURL),
				remote.WithProfileField(d.ProfileField),
				remote.WithTimeout(d.Timeout(cfg.RemoteTimeout())),
				remote.WithHTTPClient(s.httpClient),
				remote.WithLogger(s.logger.Named("remote")),
			)
			if err != nil {
				return tenant{}, fmt.Errorf("dataset %q: %w", d.Name, err)
			}
			t.set.Sources = append(t.set.Sources, elevation.NewRemoteSource(d.Name, client,
				elevation.WithRemoteCRS(crs),
				elevation.WithPointConcurrency(cfg.ProfileConcurrency),
			))
		default:
			return tenant{}, fmt.Errorf("%w: dataset %q has unknown type %q", config.ErrInvalidConfig, d.Name, d.Type)
		}
	}
	return t, nil
}

func parseOptionalCRS(s string) (projection.Code, error) {
	if s == "" {
		return 0, nil
	}
	code, err := projection.ParseCRS(s)
	if err != nil {
		return 0, err
	}
	if _, err := projection.Lookup(code); err != nil {
		return 0, err
	}
	return code, nil
}

// rasters returns the current registry.
func (s *Service) rasters() *raster.Registry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry
}

// opener hands out registry handles as elevation grids.
func (s *Service) opener(key raster.Key) elevation.GridOpener {
	return func(ctx context.Context) (elevation.Grid, func(), error) {
		ds, release, err := s.rasters().Acquire(ctx, key)
		if err != nil {
			return nil, nil, err
		}
		return ds, release, nil
	}
}

func (s *Service) tenant(name string) (tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return tenant{}, ErrNotStarted
	}
	t, ok := s.tenants[name]
	if !ok {
		return tenant{}, fmt.Errorf("%w: %q", config.ErrUnknownTenant, name)
	}
	return t, nil
}

// Point answers a point query for the named tenant.
func (s *Service) Point(ctx context.Context, name string, q elevation.PointQuery) (elevation.PointResponse, error) {
	t, err := s.tenant(name)
	if err != nil {
		return elevation.PointResponse{}, err
	}
	return s.aggregator.Point(ctx, t.set, q)
}

// Profile answers a profile query for the named tenant.
func (s *Service) Profile(ctx context.Context, name string, q elevation.ProfileQuery) (elevation.ProfileResponse, error) {
	t, err := s.tenant(name)
	if err != nil {
		return elevation.ProfileResponse{}, err
	}
	return s.aggregator.Profile(ctx, t.set, q)
}

// Health checks that the tenant has sources and that every raster opens.
// Remote sources are not probed.
func (s *Service) Health(ctx context.Context, name string) error {
	t, err := s.tenant(name)
	if err != nil {
		return err
	}
	if len(t.set.Sources) == 0 {
		return elevation.ErrNoSources
	}

	reg := s.rasters()
	var errs []error
	for _, k := range t.keys {
		_, release, err := reg.Acquire(ctx, k)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		release()
	}
	return errors.Join(errs...)
}

// Tenants returns the configured tenant names, sorted.
func (s *Service) Tenants() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.tenants))
	for name := range s.tenants {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
