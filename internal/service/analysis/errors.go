package analysis

import (
	"errors"
	"fmt"
)

// ErrNotReady means the store answered but the analysis is incomplete.
// Retryable; never surfaced past the poller unless the budget runs out.
var ErrNotReady = errors.New("analysis not ready")

// ExhaustedError is returned when every attempt came back not ready.
type ExhaustedError struct {
	CallID   string
	Attempts int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("analysis for call %s not ready after %d attempts", e.CallID, e.Attempts)
}

// Is lets errors.Is(err, ErrNotReady) match an exhausted poll.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrNotReady
}

// FetchFailedError is returned when the final attempt failed at the
// transport or protocol level.
type FetchFailedError struct {
	CallID   string
	Attempts int
	Err      error
}

func (e *FetchFailedError) Error() string {
	return fmt.Sprintf("analysis fetch for call %s failed after %d attempts: %v", e.CallID, e.Attempts, e.Err)
}

func (e *FetchFailedError) Unwrap() error {
	return e.Err
}
