package projection

import (
	"fmt"

	"github.com/wroge/wgs84"

	"github.com/okian/elevation/internal/domain/geom"
)

// Projection converts between a CRS and WGS84 geographic degrees
// (X = longitude, Y = latitude).
type Projection interface {
	Forward(lonlat geom.Point) geom.Point
	Inverse(p geom.Point) geom.Point
}

// epsg holds the definitions of every system the service can project.
// Datum shifts (Bessel for CH1903 and CH1903+) are applied by the library.
var epsg = wgs84.EPSG()

// aliases are deprecated identifiers of the web mercator system that
// clients and older .prj files still send.
var aliases = map[Code]Code{
	900913: WebMercator,
	3785:   WebMercator,
	102100: WebMercator,
	102113: WebMercator,
}

// canonical resolves aliases to the registered code.
func canonical(code Code) Code {
	if c, ok := aliases[code]; ok {
		return c
	}
	return code
}

// funcs adapts a pair of coordinate functions to Projection.
type funcs struct {
	fwd, inv wgs84.Func
}

func (f funcs) Forward(p geom.Point) geom.Point { return apply(f.fwd, p) }
func (f funcs) Inverse(p geom.Point) geom.Point { return apply(f.inv, p) }

func apply(fn wgs84.Func, p geom.Point) geom.Point {
	x, y, _ := fn(p.X, p.Y, 0)
	return geom.Point{X: x, Y: y}
}

// Lookup returns the projection for code.
func Lookup(code Code) (Projection, error) {
	fwd, err := transform(WGS84, code)
	if err != nil {
		return nil, err
	}
	inv, err := transform(code, WGS84)
	if err != nil {
		return nil, err
	}
	return funcs{fwd: fwd, inv: inv}, nil
}

// Supported reports whether code resolves to a projection.
func Supported(code Code) bool {
	_, err := Lookup(code)
	return err == nil
}

func transform(from, to Code) (wgs84.Func, error) {
	fn, err := epsg.SafeTransform(int(canonical(from)), int(canonical(to)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s to %s: %w", ErrUnsupportedProjection, from, to, err)
	}
	return fn, nil
}
