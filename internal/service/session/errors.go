package session

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session: closed")
	// ErrNoAnalysis is returned by AwaitAnalysis when no poll was started
	// for the current call.
	ErrNoAnalysis = errors.New("session: no analysis poll for the current call")
	// ErrPollSuperseded is returned by AwaitAnalysis when a new call
	// cancelled the poll being waited on.
	ErrPollSuperseded = errors.New("session: analysis poll superseded by a new call")
)

// TransportStartError wraps a transport failure to start a call.
// The session is back in IDLE when it is returned.
type TransportStartError struct {
	Err error
}

func (e *TransportStartError) Error() string {
	return fmt.Sprintf("transport start failed: %v", e.Err)
}

func (e *TransportStartError) Unwrap() error {
	return e.Err
}

// FatalTransportError is a transport error that ended the call.
type FatalTransportError struct {
	CallID  string
	Message string
	Payload map[string]any
}

func (e *FatalTransportError) Error() string {
	if e.CallID == "" {
		return fmt.Sprintf("fatal transport error: %s", e.Message)
	}
	return fmt.Sprintf("fatal transport error on call %s: %s", e.CallID, e.Message)
}
