package sampling

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/okian/elevation/internal/domain/geom"
)

// MinSamples is the smallest sample count a profile accepts.
const MinSamples = 2

// ValidateProfile checks the shape of a profile request before any sampling.
func ValidateProfile(vertices []geom.Point, distances []float64, samples int) error {
	if len(vertices) < 2 {
		return fmt.Errorf("%w: got %d", ErrInsufficientCoordinates, len(vertices))
	}
	if len(distances) != len(vertices)-1 {
		return fmt.Errorf("%w: %d distances for %d coordinates", ErrInvalidDistances, len(distances), len(vertices))
	}
	for i, d := range distances {
		if d < 0 || math.IsNaN(d) || math.IsInf(d, 0) {
			return fmt.Errorf("%w: distance %d is %v", ErrInvalidDistances, i, d)
		}
	}
	total := floats.Sum(distances)
	if total == 0 {
		return fmt.Errorf("%w: path has zero length", ErrInvalidDistances)
	}
	if math.IsInf(total, 0) {
		return fmt.Errorf("%w: path length overflows", ErrInvalidDistances)
	}
	if samples < MinSamples {
		return fmt.Errorf("%w: %d, need at least %d", ErrInvalidSampleCount, samples, MinSamples)
	}
	return nil
}

// Resample returns samples positions spaced evenly by arc length along the
// polyline. distances[k] is the length of the segment vertices[k] ->
// vertices[k+1]; it is taken as given, not recomputed from the vertices.
// The first position is at arc length 0 and the last at the total length.
func Resample(vertices []geom.Point, distances []float64, samples int) ([]geom.Point, error) {
	if err := ValidateProfile(vertices, distances, samples); err != nil {
		return nil, err
	}

	cum := make([]float64, len(vertices))
	floats.CumSum(cum[1:], distances)
	total := cum[len(cum)-1]
	step := total / float64(samples-1)

	out := make([]geom.Point, samples)
	i := 0
	for s := range samples {
		x := float64(s) * step
		if s == samples-1 {
			x = total
		}
		for i+2 < len(cum) && x > cum[i+1] {
			i++
		}

		mu := 0.0
		if seg := cum[i+1] - cum[i]; seg > 0 {
			mu = (x - cum[i]) / seg
		}
		out[s] = vertices[i].Lerp(vertices[i+1], mu)
	}
	return out, nil
}
