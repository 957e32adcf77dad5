package raster

import (
	"errors"
)

// Sentinel kinds for raster errors. Open failures are reported in this
// order: the file could not be read, it has no georeferencing, its CRS is
// unknown, or its first band cannot be decoded.
var (
	ErrSourceUnavailable    = errors.New("raster source unavailable")
	ErrGeoTransformMissing  = errors.New("raster has no geotransform")
	ErrProjectionUnreadable = errors.New("raster projection unreadable")
	ErrBandUnavailable      = errors.New("raster band unavailable")
	ErrRegistryClosed       = errors.New("raster registry closed")
)
