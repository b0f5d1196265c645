package state

import "errors"

// Sentinel errors for state writes.
//
//	if errors.Is(err, state.ErrWriteFailed) {
//	    // retries exhausted; the cached value is provisional
//	}
var (
	// ErrValidation wraps an error returned by a registered validator.
	// Validation failures are never retried.
	ErrValidation = errors.New("state: validation failed")

	// ErrWriteFailed is returned once a write has failed more times than
	// the manager's MaxErrors bound.
	ErrWriteFailed = errors.New("state: write failed")
)
