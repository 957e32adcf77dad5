package elevation

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/elevation/internal/domain/projection"
	"github.com/okian/elevation/internal/domain/sampling"
	"github.com/okian/elevation/pkg/logger"
	"github.com/okian/elevation/pkg/metrics"
)

// Mode selects the response shape.
type Mode string

// Response modes.
const (
	// ModeSingle answers with one height (or one profile) chosen by the
	// first-match policy over the configured source order.
	ModeSingle Mode = "single"
	// ModeMulti answers with every source's result, keyed by name.
	ModeMulti Mode = "multi"
)

// ParseMode accepts "single", "multi" or empty (single).
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeSingle:
		return ModeSingle, nil
	case ModeMulti:
		return ModeMulti, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// SourceSet is the ordered list of sources of one tenant.
type SourceSet struct {
	Tenant  string
	Mode    Mode
	Sources []Source
}

// PointResult is one source's answer to a point query.
type PointResult struct {
	Dataset string
	Value   sampling.Value
	Err     error
}

// ProfileResult is one source's answer to a profile query.
type ProfileResult struct {
	Dataset string
	Values  []sampling.Value
	Err     error
}

// Aggregator fans queries out across a SourceSet. Each source runs in its
// own goroutine; a failing source is recorded against its name and never
// fails the others.
type Aggregator struct {
	logger logger.Logger
}

// NewAggregator returns an Aggregator logging through l.
func NewAggregator(l logger.Logger) *Aggregator {
	if l == nil {
		l = logger.Get().Named("elevation")
	}
	return &Aggregator{logger: l}
}

// ValidatePoint rejects queries that no source could answer.
func ValidatePoint(q PointQuery) error {
	if math.IsNaN(q.Position.X) || math.IsNaN(q.Position.Y) || math.IsInf(q.Position.X, 0) || math.IsInf(q.Position.Y, 0) {
		return fmt.Errorf("%w: position is not finite", ErrInvalidPosition)
	}
	return validateCRS(q.CRS)
}

// ValidateProfile rejects malformed profile queries before any sampling.
func ValidateProfile(q ProfileQuery) error {
	if err := sampling.ValidateProfile(q.Vertices, q.Distances, q.Samples); err != nil {
		return err
	}
	return validateCRS(q.CRS)
}

func validateCRS(code projection.Code) error {
	if _, err := projection.Lookup(code); err != nil {
		return err
	}
	return nil
}

// Point runs q against every source of set.
func (a *Aggregator) Point(ctx context.Context, set SourceSet, q PointQuery) (PointResponse, error) {
	if len(set.Sources) == 0 {
		return PointResponse{}, ErrNoSources
	}
	if err := ValidatePoint(q); err != nil {
		return PointResponse{}, err
	}

	results := make([]PointResult, len(set.Sources))
	var g errgroup.Group
	for i, src := range set.Sources {
		g.Go(func() error {
			start := time.Now()
			v, err := src.SamplePoint(ctx, q)
			a.observe(ctx, set, src, "point", start, err, v.Valid)
			results[i] = PointResult{Dataset: src.Name(), Value: v, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return shapePoint(set.Mode, results)
}

// Profile runs q against every source of set.
func (a *Aggregator) Profile(ctx context.Context, set SourceSet, q ProfileQuery) (ProfileResponse, error) {
	if len(set.Sources) == 0 {
		return ProfileResponse{}, ErrNoSources
	}
	if err := ValidateProfile(q); err != nil {
		return ProfileResponse{}, err
	}

	results := make([]ProfileResult, len(set.Sources))
	var g errgroup.Group
	for i, src := range set.Sources {
		g.Go(func() error {
			start := time.Now()
			vs, err := src.SampleProfile(ctx, q)
			a.observe(ctx, set, src, "profile", start, err, anyValid(vs))
			results[i] = ProfileResult{Dataset: src.Name(), Values: vs, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return shapeProfile(set.Mode, results)
}

func (a *Aggregator) observe(ctx context.Context, set SourceSet, src Source, request string, start time.Time, err error, valid bool) {
	metrics.RecordSourceLatency(request, string(src.Kind()), float64(time.Since(start).Microseconds())/1000)

	switch {
	case err != nil:
		metrics.RecordSample(request, string(src.Kind()), metrics.OutcomeError)
		metrics.RecordErrorByComponent("elevation", string(src.Kind()))
		a.logger.Warn(ctx, "elevation source failed",
			logger.String("tenant", set.Tenant),
			logger.String("dataset", src.Name()),
			logger.String("request", request),
			logger.Error(err),
		)
	case !valid:
		metrics.RecordSample(request, string(src.Kind()), metrics.OutcomeNoData)
	default:
		metrics.RecordSample(request, string(src.Kind()), metrics.OutcomeOK)
	}
}

func anyValid(vs []sampling.Value) bool {
	for _, v := range vs {
		if v.Valid {
			return true
		}
	}
	return false
}
