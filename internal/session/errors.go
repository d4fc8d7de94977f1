// Copyright (c) 2025-2026 Counselkit
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import "errors"

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

// Three failure classes reach the caller, and the UI renders them
// differently:
//
//   - ValidationError: the message was never sent (empty input, or a
//     response is already in progress). Rejected synchronously with no
//     state change beyond the rejection.
//   - transport errors (returned by Send as-is from the Transport, e.g.
//     inference.ClientError): the service refused or was unreachable; no
//     session survives the attempt.
//   - StreamError: the assistant failed while responding. In-progress
//     buffers are discarded, the optimistic user turn stays in history.

// ValidationError rejects a Send before any session is created.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Sentinel validation errors.
var (
	ErrEmptyMessage = &ValidationError{Reason: "message is empty"}
	ErrBusy         = &ValidationError{Reason: "a response is already in progress"}
)

// ErrClosed is returned by Send after the controller has been closed.
var ErrClosed = errors.New("session controller is closed")

// StreamError reports a mid-session failure from the error channel.
type StreamError struct {
	Message string
	Cause   error
}

func (e *StreamError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *StreamError) Unwrap() error {
	return e.Cause
}

// IsValidation checks whether an error is a synchronous input rejection.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsStream checks whether an error is a mid-session stream failure.
func IsStream(err error) bool {
	var s *StreamError
	return errors.As(err, &s)
}
