package remote

import (
	"errors"
)

// Sentinel kinds for remote API errors.
var (
	ErrRemoteUnavailable       = errors.New("remote elevation API unavailable")
	ErrRemoteRejected          = errors.New("remote elevation API rejected request")
	ErrRemoteResponseMalformed = errors.New("remote elevation API response malformed")
	ErrProfileUnsupported      = errors.New("remote source has no profile endpoint")
	ErrInvalidURL              = errors.New("invalid remote URL")
)
