package sampling

import "errors"

// Sentinel error kinds for profile validation.
var (
	ErrInsufficientCoordinates = errors.New("insufficient number of coordinates")
	ErrInvalidDistances        = errors.New("invalid distances")
	ErrInvalidSampleCount      = errors.New("invalid sample count")
)
