// Copyright (c) 2025-2026 Counselkit
// SPDX-License-Identifier: AGPL-3.0-or-later

package inference

// =============================================================================
// WIRE TYPES
// =============================================================================

// Turn is one message of the outbound conversation payload.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// QueryRequest is the body of a streaming query submission.
type QueryRequest struct {
	// SessionID is echoed back by the service on every event of the
	// resulting stream so late deliveries can be attributed.
	SessionID uint64 `json:"session_id"`

	// MatterRef optionally scopes the query to a case/matter.
	MatterRef string `json:"matter_ref,omitempty"`

	Messages []Turn `json:"messages"`
	Stream   bool   `json:"stream"`
}

// Chunk event type discriminators used on the wire.
const (
	chunkToken     = "token"
	chunkReasoning = "reasoning"
	chunkSources   = "sources"
	chunkStatus    = "status"
	chunkDone      = "done"
	chunkError     = "error"
)

// StreamChunk is one parsed line of the response stream.
type StreamChunk struct {
	Type    string   `json:"type"`
	Content string   `json:"content,omitempty"`
	Sources []string `json:"sources,omitempty"`
	Label   string   `json:"label,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// ServiceError is the error body returned on a rejected submission.
type ServiceError struct {
	Error string `json:"error"`
}

// =============================================================================
// EVENT TYPES
// =============================================================================

// TokenEvent delivers one answer or reasoning fragment.
type TokenEvent struct {
	Session uint64
	Text    string
}

// SourcesEvent delivers a citation batch. A later batch fully replaces an
// earlier one within the same session.
type SourcesEvent struct {
	Session uint64
	Sources []string
}

// StatusEvent announces a new pipeline stage (e.g. "Researching").
type StatusEvent struct {
	Session uint64
	Label   string
}

// CompleteEvent marks a session's stream as finished successfully.
type CompleteEvent struct {
	Session uint64
}

// ErrorEvent reports a mid-stream failure. Distinct from a rejected
// submission, which surfaces as an error from Submit itself.
type ErrorEvent struct {
	Session uint64
	Message string
	Err     error
}
