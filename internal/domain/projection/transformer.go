package projection

import (
	"fmt"

	"github.com/wroge/wgs84"

	"github.com/okian/elevation/internal/domain/geom"
)

// Transformer projects positions from one CRS into another. It holds no
// cache: every call projects its position independently.
type Transformer struct {
	from, to Code
	fn       wgs84.Func
}

// Build resolves both codes and returns a transformer from input into
// target. A failure to resolve either side is reported as ErrInvalidProjection.
func Build(input, target Code) (*Transformer, error) {
	if _, err := Lookup(input); err != nil {
		return nil, fmt.Errorf("%w: input %s: %w", ErrInvalidProjection, input, err)
	}
	if _, err := Lookup(target); err != nil {
		return nil, fmt.Errorf("%w: target %s: %w", ErrInvalidProjection, target, err)
	}
	fn, err := transform(input, target)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProjection, err)
	}
	return &Transformer{from: input, to: target, fn: fn}, nil
}

// From returns the input CRS.
func (t *Transformer) From() Code { return t.from }

// To returns the target CRS.
func (t *Transformer) To() Code { return t.to }

// Transform projects p into the target CRS.
func (t *Transformer) Transform(p geom.Point) geom.Point {
	if canonical(t.from) == canonical(t.to) {
		return p
	}
	return apply(t.fn, p)
}

// TransformAll projects every point of ps into a new slice.
func (t *Transformer) TransformAll(ps []geom.Point) []geom.Point {
	out := make([]geom.Point, len(ps))
	for i, p := range ps {
		out[i] = t.Transform(p)
	}
	return out
}
