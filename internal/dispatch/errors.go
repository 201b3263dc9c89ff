package dispatch

import (
	"errors"
	"fmt"
)

// ErrAllProvidersUnavailable is returned when the primary and every
// fallback attempt failed.
var ErrAllProvidersUnavailable = errors.New("all providers failed or unavailable")

// AttemptError describes one failed provider attempt. StatusCode is
// zero for transport-level failures that never produced a response.
type AttemptError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *AttemptError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s returned status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}
