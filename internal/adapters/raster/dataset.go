// Package raster opens single-band elevation grids from disk and keeps
// them open across requests.
//
// Supported formats are ESRI ASCII grids (.asc), SRTM tiles (.hgt and
// .hgt.zip) and GeoTIFF (.tif, .tiff) with integer or floating-point
// samples, georeferenced by its GeoTIFF tags or a world file. Projections
// come from the format itself, a .prj sidecar or an explicit override.
package raster

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/okian/elevation/internal/domain/geom"
	"github.com/okian/elevation/internal/domain/projection"
)

const feetToMeters = 0.3048

// Dataset is an opened raster held in memory. It satisfies sampling.Grid.
type Dataset struct {
	path      string
	driver    string
	crs       projection.Code
	width     int
	height    int
	gt        geom.Affine
	units     string
	nodata    float64
	hasNoData bool
	data      []float64
}

// Option configures Open.
type Option func(*openOptions)

type openOptions struct {
	crs   projection.Code
	units string
}

// WithCRS overrides whatever projection the file declares.
func WithCRS(code projection.Code) Option {
	return func(o *openOptions) {
		if code > 0 {
			o.crs = code
		}
	}
}

// WithUnits overrides the vertical unit; "ft" and "feet" scale by 0.3048.
func WithUnits(units string) Option {
	return func(o *openOptions) {
		if units != "" {
			o.units = units
		}
	}
}

// decoded is what a format driver hands back before common validation.
type decoded struct {
	width, height int
	gt            geom.Affine
	gtOK          bool
	crs           projection.Code
	units         string
	nodata        float64
	hasNoData     bool
	data          []float64
	bandErr       error
}

// Open reads the raster at path.
func Open(path string, opts ...Option) (*Dataset, error) {
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	driver, read := driverFor(path)
	if read == nil {
		return nil, fmt.Errorf("%w: unsupported format %q", ErrSourceUnavailable, filepath.Ext(path))
	}

	d, err := read(path)
	if err != nil {
		return nil, err
	}

	if !d.gtOK || !d.gt.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrGeoTransformMissing, path)
	}

	crs := d.crs
	if crs == 0 {
		crs, err = readSidecarCRS(path)
		if err != nil && o.crs == 0 {
			return nil, err
		}
	}
	if o.crs != 0 {
		crs = o.crs
	}
	if !projection.Supported(crs) {
		return nil, fmt.Errorf("%w: %s is not supported", ErrProjectionUnreadable, crs)
	}

	if d.bandErr != nil {
		return nil, d.bandErr
	}
	if len(d.data) != d.width*d.height || d.width == 0 || d.height == 0 {
		return nil, fmt.Errorf("%w: expected %dx%d samples, decoded %d", ErrBandUnavailable, d.width, d.height, len(d.data))
	}

	units := d.units
	if o.units != "" {
		units = o.units
	}

	ds := &Dataset{
		path:      path,
		driver:    driver,
		crs:       crs,
		width:     d.width,
		height:    d.height,
		gt:        d.gt,
		units:     units,
		nodata:    d.nodata,
		hasNoData: d.hasNoData,
		data:      d.data,
	}
	// A declared no-data of exactly 0 is treated as no sentinel at all.
	if ds.hasNoData && ds.nodata == 0 {
		ds.hasNoData = false
	}
	return ds, nil
}

type readFunc func(path string) (decoded, error)

func driverFor(path string) (string, readFunc) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".asc"):
		return "asc", readASCII
	case strings.HasSuffix(lower, ".hgt"), strings.HasSuffix(lower, ".hgt.zip"):
		return "hgt", readHGT
	case strings.HasSuffix(lower, ".tif"), strings.HasSuffix(lower, ".tiff"):
		return "tiff", readTIFF
	}
	return "", nil
}

// sidecar returns path with its raster extension replaced by ext.
func sidecar(path, ext string) string {
	base := path
	if strings.HasSuffix(strings.ToLower(base), ".zip") {
		base = base[:len(base)-len(".zip")]
	}
	return strings.TrimSuffix(base, filepath.Ext(base)) + ext
}

func readSidecarCRS(path string) (projection.Code, error) {
	b, err := os.ReadFile(sidecar(path, ".prj"))
	if err != nil {
		return 0, fmt.Errorf("%w: no projection declared for %s", ErrProjectionUnreadable, path)
	}
	code, err := projection.ParseWKT(string(b))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrProjectionUnreadable, err)
	}
	return code, nil
}

// Size returns the raster dimensions in pixels.
func (d *Dataset) Size() (int, int) { return d.width, d.height }

// GeoTransform returns the pixel to native-CRS mapping.
func (d *Dataset) GeoTransform() geom.Affine { return d.gt }

// CRS returns the native projection.
func (d *Dataset) CRS() projection.Code { return d.crs }

// Path returns the file the dataset was opened from.
func (d *Dataset) Path() string { return d.path }

// Driver names the format reader used.
func (d *Dataset) Driver() string { return d.driver }

// UnitsToMeters returns 0.3048 for rasters stored in feet, else 1.
func (d *Dataset) UnitsToMeters() float64 {
	switch strings.ToLower(strings.TrimSpace(d.units)) {
	case "ft", "feet", "foot":
		return feetToMeters
	}
	return 1
}

// NoData returns the no-data sentinel, if any.
func (d *Dataset) NoData() (float64, bool) { return d.nodata, d.hasNoData }

// ReadBlock returns the samples of a w*h window, clipped to the raster.
func (d *Dataset) ReadBlock(col, row, w, h int) []float64 {
	if col < 0 || row < 0 || w <= 0 || h <= 0 {
		return nil
	}
	out := make([]float64, 0, w*h)
	for r := row; r < row+h && r < d.height; r++ {
		start := r*d.width + col
		end := r*d.width + min(col+w, d.width)
		if start >= end || end > len(d.data) {
			continue
		}
		out = append(out, d.data[start:end]...)
	}
	return out
}

// Close releases the sample buffer.
func (d *Dataset) Close() error {
	d.data = nil
	return nil
}
