// Package elevation answers point and profile queries across the sources
// configured for a tenant and shapes the response.
package elevation

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/okian/elevation/internal/domain/geom"
	"github.com/okian/elevation/internal/domain/projection"
	"github.com/okian/elevation/internal/domain/sampling"
)

// Kind names a backend family.
type Kind string

// Backend kinds.
const (
	KindRaster Kind = "raster"
	KindRemote Kind = "remote"
)

// PointQuery asks for the height at one position.
type PointQuery struct {
	Position geom.Point
	CRS      projection.Code
}

// ProfileQuery asks for Samples heights evenly spaced along a polyline.
// Distances[k] is the length of segment k in the units of CRS.
type ProfileQuery struct {
	Vertices  []geom.Point
	Distances []float64
	CRS       projection.Code
	Samples   int
}

// Source is one elevation backend.
type Source interface {
	Name() string
	Kind() Kind
	SamplePoint(ctx context.Context, q PointQuery) (sampling.Value, error)
	SampleProfile(ctx context.Context, q ProfileQuery) ([]sampling.Value, error)
}

// Grid is an opened raster with a native projection.
type Grid interface {
	sampling.Grid
	CRS() projection.Code
}

// GridOpener hands out a grid and the func that gives it back.
type GridOpener func(ctx context.Context) (Grid, func(), error)

// RasterSource samples a raster locally.
type RasterSource struct {
	name string
	open GridOpener
}

// NewRasterSource returns a raster backed source.
func NewRasterSource(name string, open GridOpener) *RasterSource {
	return &RasterSource{name: name, open: open}
}

func (s *RasterSource) Name() string { return s.name }
func (s *RasterSource) Kind() Kind   { return KindRaster }

// SamplePoint transforms the position into the raster CRS and samples it.
func (s *RasterSource) SamplePoint(ctx context.Context, q PointQuery) (sampling.Value, error) {
	g, release, err := s.open(ctx)
	if err != nil {
		return sampling.NoElevation, err
	}
	defer release()

	tr, err := projection.Build(q.CRS, g.CRS())
	if err != nil {
		return sampling.NoElevation, err
	}
	return sampling.Sample(g, tr.Transform(q.Position)), nil
}

// SampleProfile resamples the path in the query CRS, where the distances
// are measured, then transforms and samples each position.
func (s *RasterSource) SampleProfile(ctx context.Context, q ProfileQuery) ([]sampling.Value, error) {
	positions, err := sampling.Resample(q.Vertices, q.Distances, q.Samples)
	if err != nil {
		return nil, err
	}

	g, release, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	tr, err := projection.Build(q.CRS, g.CRS())
	if err != nil {
		return nil, err
	}

	out := make([]sampling.Value, len(positions))
	for i, p := range positions {
		out[i] = sampling.Sample(g, tr.Transform(p))
	}
	return out, nil
}

// RemoteAPI is the client side of a remote elevation service.
type RemoteAPI interface {
	QueryHeight(ctx context.Context, p geom.Point, crs projection.Code) (float64, error)
	QueryProfile(ctx context.Context, vertices []geom.Point, crs projection.Code, samples int) ([]sampling.Value, error)
	SupportsProfile() bool
}

// MaxRemotePointSamples caps the profile samples a remote source without a
// profile endpoint fetches one call at a time.
const MaxRemotePointSamples = 1000

// RemoteSource delegates to a remote API.
type RemoteSource struct {
	name        string
	api         RemoteAPI
	crs         projection.Code
	concurrency int
}

// RemoteOption configures a RemoteSource.
type RemoteOption func(*RemoteSource)

// WithRemoteCRS makes the source transform positions into crs before
// calling the API. Without it the query CRS is passed through.
func WithRemoteCRS(crs projection.Code) RemoteOption {
	return func(s *RemoteSource) { s.crs = crs }
}

// WithPointConcurrency bounds the parallel point calls used to build a
// profile when the API has no profile endpoint.
func WithPointConcurrency(n int) RemoteOption {
	return func(s *RemoteSource) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewRemoteSource returns an API backed source.
func NewRemoteSource(name string, api RemoteAPI, opts ...RemoteOption) *RemoteSource {
	s := &RemoteSource{name: name, api: api, concurrency: 8}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RemoteSource) Name() string { return s.name }
func (s *RemoteSource) Kind() Kind   { return KindRemote }

func (s *RemoteSource) transformer(from projection.Code) (*projection.Transformer, error) {
	to := s.crs
	if to == 0 {
		to = from
	}
	return projection.Build(from, to)
}

// SamplePoint queries the API for one height.
func (s *RemoteSource) SamplePoint(ctx context.Context, q PointQuery) (sampling.Value, error) {
	tr, err := s.transformer(q.CRS)
	if err != nil {
		return sampling.NoElevation, err
	}
	h, err := s.api.QueryHeight(ctx, tr.Transform(q.Position), tr.To())
	if err != nil {
		return sampling.NoElevation, err
	}
	return sampling.Of(h), nil
}

// SampleProfile uses the API's profile endpoint when it has one; otherwise
// it resamples locally and asks for each position.
func (s *RemoteSource) SampleProfile(ctx context.Context, q ProfileQuery) ([]sampling.Value, error) {
	tr, err := s.transformer(q.CRS)
	if err != nil {
		return nil, err
	}

	if s.api.SupportsProfile() {
		if err := sampling.ValidateProfile(q.Vertices, q.Distances, q.Samples); err != nil {
			return nil, err
		}
		return s.api.QueryProfile(ctx, tr.TransformAll(q.Vertices), tr.To(), q.Samples)
	}

	if q.Samples > MaxRemotePointSamples {
		return nil, fmt.Errorf("%w: %d, at most %d", ErrTooManySamples, q.Samples, MaxRemotePointSamples)
	}
	positions, err := sampling.Resample(q.Vertices, q.Distances, q.Samples)
	if err != nil {
		return nil, err
	}
	positions = tr.TransformAll(positions)

	out := make([]sampling.Value, len(positions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, p := range positions {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			h, err := s.api.QueryHeight(gctx, p, tr.To())
			if err != nil {
				return fmt.Errorf("sample %d: %w", i, err)
			}
			out[i] = sampling.Of(h)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
