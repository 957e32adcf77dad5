package elevation

import (
	"errors"
)

// Sentinel kinds for aggregation errors.
var (
	// ErrNoSources means the tenant has no elevation source configured.
	ErrNoSources = errors.New("no elevation source configured")
	// ErrAllSourcesFailed means no configured source produced a result.
	ErrAllSourcesFailed = errors.New("all elevation sources failed")
	// ErrInvalidPosition means a query position is not a finite pair.
	ErrInvalidPosition = errors.New("invalid position")
	// ErrTooManySamples means a remote profile built from point calls asks
	// for more samples than one request may send.
	ErrTooManySamples = errors.New("too many samples for remote point queries")
	// ErrUnknownMode means elevation_mode is neither single nor multi.
	ErrUnknownMode = errors.New("unknown elevation mode")
)
