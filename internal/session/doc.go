// Copyright (c) 2025-2026 Counselkit
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session owns the lifecycle of one streaming conversational
// exchange with the inference service.
//
// A Controller runs a small state machine: Send moves it from Idle through
// Connecting into Active, stream events accumulate into typed buffers
// (answer tokens, reasoning tokens, a replaceable citation set, and an
// append-only pipeline-stage timeline), and a completion or error event
// collapses it back to Idle - on success appending a fully-formed assistant
// message to the ordered history.
//
// # Key Types
//
//   - Controller: the session state machine and its buffers
//   - Snapshot: the read-only view the rendering layer consumes
//   - Stage: one entry of the pipeline-stage timeline
//
// # Correctness rules
//
// At most one session is active at a time; a second Send is rejected with
// ErrBusy rather than queued. Every event handler checks the controller's
// liveness flag and the event's session id before mutating anything, so
// events that straggle in after Close, ClearMessages, LoadMessages, or a
// newer Send are discarded without observable effect.
package session
