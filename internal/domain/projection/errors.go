package projection

import "errors"

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	// ErrInvalidProjection is returned when a CRS identifier does not look like epsg:<digits>.
	ErrInvalidProjection = errors.New("invalid projection")
	// ErrUnsupportedProjection is returned when a well-formed EPSG code has no projection.
	ErrUnsupportedProjection = errors.New("unsupported projection")
)
