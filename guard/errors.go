package guard

import (
	"errors"
	"time"
)

var (
	// ErrRateLimited matches every *RateLimitExceeded through errors.Is.
	ErrRateLimited = errors.New("guard: rate limit exceeded")

	// ErrDuplicateOperation is returned when an operation id is registered twice.
	ErrDuplicateOperation = errors.New("guard: operation already registered")

	// ErrEmptyOperationID is returned for operations without an id.
	ErrEmptyOperationID = errors.New("guard: operation id is required")

	// ErrPrefixInvalidationUnsupported is returned when the configured cache
	// cannot drop keys by prefix.
	ErrPrefixInvalidationUnsupported = errors.New("guard: cache does not support prefix invalidation")
)

// RateLimitExceeded is the outcome of a throttled call. It is recoverable by
// the caller and never retried internally.
type RateLimitExceeded struct {
	Operation  string
	Key        string
	Message    string
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitExceeded) Error() string {
	return e.Message
}

func (e *RateLimitExceeded) Is(target error) bool {
	return target == ErrRateLimited
}

// AsRateLimitExceeded extracts a rejection from err.
func AsRateLimitExceeded(err error) (*RateLimitExceeded, bool) {
	var rle *RateLimitExceeded
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}
