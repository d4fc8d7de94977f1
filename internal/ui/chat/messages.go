// Copyright (c) 2025-2026 Counselkit
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the interactive chat view for the counsel TUI.
//
// This file defines the Bubble Tea message types used by the chat interface:
// the render tick that drives streaming updates, submission results, and the
// outcomes of conversation and authority operations.
package chat

import (
	"time"

	"github.com/counselkit/counsel-tui/internal/authority"
	"github.com/counselkit/counsel-tui/internal/storage"
)

// =============================================================================
// STREAMING MESSAGES
// =============================================================================

// StreamTickMsg drives the render loop while a session streams. The model
// polls the controller's snapshot on every tick and re-renders when the
// content revision changed.
type StreamTickMsg struct {
	Time time.Time
}

// SendResultMsg reports the outcome of submitting a user turn.
type SendResultMsg struct {
	Err error
}

// =============================================================================
// CONVERSATION MESSAGES
// =============================================================================

// ConversationSavedMsg confirms a save operation.
type ConversationSavedMsg struct {
	ID  string
	Err error
}

// ConversationLoadedMsg delivers a loaded conversation.
type ConversationLoadedMsg struct {
	Conversation *storage.StoredConversation
	Err          error
}

// SessionListMsg delivers the saved-conversation listing.
type SessionListMsg struct {
	Metas []storage.ConversationMeta
	Err   error
}

// ExportDoneMsg confirms a markdown export.
type ExportDoneMsg struct {
	Path string
	Err  error
}

// =============================================================================
// AUTHORITY MESSAGES
// =============================================================================

// AuthoritiesMsg delivers citation index results.
type AuthoritiesMsg struct {
	Records []authority.Record
	Err     error
}

// CitationsRecordedMsg confirms that a finalized answer's citations were
// indexed. Failures are shown but never block the conversation.
type CitationsRecordedMsg struct {
	Err error
}
