package client

import (
	"errors"
	"fmt"
)

// Sentinel error kinds, matching spec.md §7: callers distinguish failure
// modes with errors.Is/errors.As rather than string matching.
var (
	ErrConnectionNotOpen = errors.New("client: connection not open")
	ErrConnectionClosed  = errors.New("client: connection closed")
	ErrProtocolError     = errors.New("client: protocol error")
)

// ErrPublishRejected is the sentinel a PublishRejectedError wraps; match it
// with errors.Is, and errors.As into *PublishRejectedError for the relay's
// verbatim message.
var ErrPublishRejected = errors.New("client: publish rejected")

// PublishRejectedError carries the relay's free-form rejection message
// from an OK response with accepted=false, e.g. "blocked: spam" or
// "rate-limited: slow down".
type PublishRejectedError struct {
	Message string
}

func (e *PublishRejectedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrPublishRejected, e.Message)
}

func (e *PublishRejectedError) Unwrap() error { return ErrPublishRejected }

// fails reports whether err is non-nil, matching the teacher's chk.D/fails
// truthy-on-error idiom used throughout for early-return guards.
func fails(err error) bool { return err != nil }
