// Package sampling implements the numeric core of the elevation engine:
// bilinear point sampling over a georeferenced grid and arc-length
// resampling of polylines.
package sampling

import (
	"math"

	"github.com/okian/elevation/internal/domain/geom"
)

// Grid is the read-only view of an opened raster the sampler needs.
type Grid interface {
	Size() (width, height int)
	GeoTransform() geom.Affine
	// UnitsToMeters scales stored values to meters (1, or 0.3048 for feet).
	UnitsToMeters() float64
	// NoData returns the no-data sentinel, if the raster declares one.
	NoData() (float64, bool)
	// ReadBlock returns up to w*h samples, row-major, with the top-left at
	// (col, row). Fewer samples are returned when the block leaves the grid.
	ReadBlock(col, row, w, h int) []float64
}

// Value is the outcome of sampling one position. Valid is false when the
// position is outside the interior of the raster or hits no-data.
type Value struct {
	Meters float64
	Valid  bool
}

// NoElevation is the "no elevation here" outcome.
var NoElevation = Value{}

// Of wraps a known height.
func Of(meters float64) Value {
	return Value{Meters: meters, Valid: true}
}

// OrZero returns the height, or 0 for NoElevation.
func (v Value) OrZero() float64 {
	if !v.Valid {
		return 0
	}
	return v.Meters
}

// Ptr returns nil for NoElevation, for callers that report explicit absence.
func (v Value) Ptr() *float64 {
	if !v.Valid {
		return nil
	}
	m := v.Meters
	return &m
}

// Sample maps a native-CRS position into g and bilinearly interpolates the
// four surrounding pixels. The outermost pixel ring is never sampled.
func Sample(g Grid, p geom.Point) Value {
	col, row := g.GeoTransform().Pixel(p)
	if math.IsNaN(col) || math.IsNaN(row) {
		return NoElevation
	}

	width, height := g.Size()
	c0, r0 := math.Floor(col), math.Floor(row)
	if !(c0 > 0 && c0 < float64(width-1) && r0 > 0 && r0 < float64(height-1)) {
		return NoElevation
	}

	values := g.ReadBlock(int(c0), int(r0), 2, 2)
	if len(values) != 4 {
		return NoElevation
	}

	kCol := col - c0
	kRow := row - r0
	value := (values[0]*(1-kCol)+values[1]*kCol)*(1-kRow) + (values[2]*(1-kCol)+values[3]*kCol)*kRow

	// NaN never equals itself, so a NaN sentinel is caught here too.
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return NoElevation
	}
	if nodata, ok := g.NoData(); ok && value == nodata {
		return NoElevation
	}
	return Of(value * g.UnitsToMeters())
}
