// Package geom holds the planar primitives shared by the sampling engine.
package geom

import "math"

// Point is a position in some coordinate reference system. X is easting or
// longitude, Y is northing or latitude.
type Point struct {
	X float64
	Y float64
}

// Lerp returns the point at parameter mu on the segment p -> q.
func (p Point) Lerp(q Point, mu float64) Point {
	return Point{
		X: p.X + mu*(q.X-p.X),
		Y: p.Y + mu*(q.Y-p.Y),
	}
}

// Affine is a six coefficient geotransform mapping pixel indices to native
// coordinates:
//
//	x = g0 + col*g1 + row*g2
//	y = g3 + col*g4 + row*g5
type Affine [6]float64

// Valid reports whether the transform can be inverted.
func (g Affine) Valid() bool {
	det := g[1]*g[5] - g[2]*g[4]
	return det != 0 && !math.IsNaN(det) && !math.IsInf(det, 0)
}

// Pixel maps a native position to fractional pixel column and row.
func (g Affine) Pixel(p Point) (col, row float64) {
	col = (-g[0]*g[5] + g[2]*g[3] - g[2]*p.Y + g[5]*p.X) / (g[1]*g[5] - g[2]*g[4])
	row = (-g[0]*g[4] + g[1]*g[3] - g[1]*p.Y + g[4]*p.X) / (g[2]*g[4] - g[1]*g[5])
	return col, row
}

// Native maps a fractional pixel position to native coordinates.
func (g Affine) Native(col, row float64) Point {
	return Point{
		X: g[0] + col*g[1] + row*g[2],
		Y: g[3] + col*g[4] + row*g[5],
	}
}
