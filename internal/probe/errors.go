package probe

import "errors"

// Error constants.
var (
	ErrScenario  = errors.New("invalid scenario")
	ErrUnhealthy = errors.New("service unhealthy")
	ErrMismatch  = errors.New("unexpected answer")
	ErrFailed    = errors.New("probe run failed")
)
