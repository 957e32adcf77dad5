package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/okian/elevation/internal/config"
	"github.com/okian/elevation/internal/domain/elevation"
	"github.com/okian/elevation/internal/domain/projection"
	"github.com/okian/elevation/internal/domain/sampling"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest       = errors.New("bad request")
	ErrBadQuery         = errors.New("bad query")
	ErrInvalidPosition  = errors.New("invalid position")
	ErrInvalidCRS       = errors.New("invalid projection identifier")
	ErrInvalidSamples   = errors.New("invalid sample count")
	ErrMethodNotAllowed = errors.New("method not allowed")
)

// Fixed texts for failures whose cause stays in the server log.
const (
	internalErrorMessage   = "Internal server error"
	sourcesFailedMessage   = "Failed to query elevation datasets"
	requestTimedOutMessage = "Request timed out"
)

// Error is an operation failure of a given kind: "op: kind: cause".
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	parts := make([]string, 0, 3)
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	if e.Kind != nil {
		parts = append(parts, e.Kind.Error())
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// NewKind returns an error of kind raised by op.
func NewKind(op string, kind error) error {
	return &Error{Op: op, Kind: kind}
}

// WrapKind attaches op and kind to err.
func WrapKind(op string, kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// Wrap attaches op to err. It returns nil for a nil err.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// publicMessage is the text clients see in {"error": ...}. Validation
// failures keep their historical wording.
func publicMessage(err error) string {
	switch {
	case errors.Is(err, ErrBadQuery):
		return "Bad query"
	case errors.Is(err, ErrInvalidPosition), errors.Is(err, elevation.ErrInvalidPosition):
		return "Invalid position specified"
	case errors.Is(err, ErrInvalidCRS):
		return "Invalid projection specified"
	case errors.Is(err, projection.ErrInvalidProjection), errors.Is(err, projection.ErrUnsupportedProjection):
		return "Failed to parse projection"
	case errors.Is(err, sampling.ErrInsufficientCoordinates):
		return "Insufficient number of coordinates specified"
	case errors.Is(err, sampling.ErrInvalidDistances):
		return "Invalid distances specified"
	case errors.Is(err, ErrInvalidSamples), errors.Is(err, sampling.ErrInvalidSampleCount), errors.Is(err, elevation.ErrTooManySamples):
		return "Invalid sample count specified"
	case errors.Is(err, elevation.ErrNoSources):
		return "elevation_datasets and elevation_dataset config parameters are undefined"
	case errors.Is(err, config.ErrUnknownTenant):
		return "unknown tenant"
	case errors.Is(err, ErrMethodNotAllowed):
		return "Method not allowed"
	case errors.Is(err, context.DeadlineExceeded):
		return requestTimedOutMessage
	case errors.Is(err, elevation.ErrAllSourcesFailed):
		return sourcesFailedMessage
	}
	return internalErrorMessage
}

// statusOf maps an error kind to its HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, elevation.ErrInvalidPosition),
		errors.Is(err, projection.ErrInvalidProjection),
		errors.Is(err, projection.ErrUnsupportedProjection),
		errors.Is(err, sampling.ErrInsufficientCoordinates),
		errors.Is(err, sampling.ErrInvalidDistances),
		errors.Is(err, sampling.ErrInvalidSampleCount),
		errors.Is(err, elevation.ErrTooManySamples):
		return http.StatusBadRequest
	case errors.Is(err, ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
