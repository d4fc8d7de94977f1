// Copyright (c) 2025-2026 Counselkit
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides conversation persistence for counsel.
package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/counselkit/counsel-tui/internal/model"
	"github.com/counselkit/counsel-tui/internal/util"
)

// =============================================================================
// STORED CONVERSATION TYPE
// =============================================================================

// StoredConversation represents a persisted conversation.
type StoredConversation struct {
	// Identity
	ID        string    `json:"id"`
	Summary   string    `json:"summary"`
	MatterRef string    `json:"matter_ref,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Messages
	Messages []StoredMessage `json:"messages"`

	// Context tracking
	TokensUsed int `json:"tokens_used,omitempty"`
}

// StoredMessage represents a persisted message.
type StoredMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"` // "user", "assistant", "system"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// Assistant-turn extras
	Reasoning string   `json:"reasoning,omitempty"`
	Sources   []string `json:"sources,omitempty"`

	// Statistics (for assistant messages)
	TokenCount int   `json:"token_count,omitempty"`
	DurationMs int64 `json:"duration_ms,omitempty"`
}

// ConversationMeta contains metadata for listing conversations.
type ConversationMeta struct {
	ID           string    `json:"id"`
	Summary      string    `json:"summary"`
	MatterRef    string    `json:"matter_ref,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview"` // First user message truncated
}

// =============================================================================
// CONVERSATION STORE
// =============================================================================

// ConversationStore handles conversation persistence.
type ConversationStore struct {
	// BaseDir is the directory for storing conversations
	// Default: ~/.counsel/conversations/
	BaseDir string

	// MaxConversations limits stored conversations (0 = unlimited)
	MaxConversations int
}

// NewConversationStoreWithDir creates a store rooted at the given
// directory, typically cfg.ConversationsDir().
func NewConversationStoreWithDir(baseDir string) (*ConversationStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}

	return &ConversationStore{
		BaseDir:          baseDir,
		MaxConversations: 500,
	}, nil
}

// =============================================================================
// SAVE OPERATIONS
// =============================================================================

// Save persists a conversation and returns its ID.
func (s *ConversationStore) Save(conv *StoredConversation) (string, error) {
	if conv.ID == "" {
		conv.ID = generateConversationID()
	}

	if conv.Summary == "" {
		conv.Summary = s.generateSummary(conv)
	}

	conv.UpdatedAt = time.Now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = conv.UpdatedAt
	}

	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return "", err
	}

	// Atomic write with fsync so a crash never leaves a half-written
	// conversation behind.
	filePath := s.filePath(conv.ID)
	if err := util.AtomicWriteFile(filePath, data, 0644); err != nil {
		return "", err
	}

	if s.MaxConversations > 0 {
		s.enforceLimit()
	}

	return conv.ID, nil
}

// generateSummary creates a summary from the first user message.
func (s *ConversationStore) generateSummary(conv *StoredConversation) string {
	for _, msg := range conv.Messages {
		if msg.Role == "user" && msg.Content != "" {
			content := util.TruncateRunes(msg.Content, 50)
			content = strings.ReplaceAll(content, "\n", " ")
			content = strings.ReplaceAll(content, "\r", "")
			return content
		}
	}
	return "New conversation"
}

// enforceLimit removes oldest conversations if over limit.
func (s *ConversationStore) enforceLimit() {
	metas, err := s.List()
	if err != nil || len(metas) <= s.MaxConversations {
		return
	}

	// Sort by updated time (oldest first)
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.Before(metas[j].UpdatedAt)
	})

	excess := len(metas) - s.MaxConversations
	for i := 0; i < excess; i++ {
		s.Delete(metas[i].ID)
	}
}

// =============================================================================
// LOAD OPERATIONS
// =============================================================================

// Load retrieves a conversation by ID.
func (s *ConversationStore) Load(id string) (*StoredConversation, error) {
	filePath := s.filePath(id)

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}

	var conv StoredConversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, err
	}

	return &conv, nil
}

// LoadByIndex loads a conversation by its index in the list (0 = most recent).
func (s *ConversationStore) LoadByIndex(index int) (*StoredConversation, error) {
	metas, err := s.List()
	if err != nil {
		return nil, err
	}

	if index < 0 || index >= len(metas) {
		return nil, ErrConversationNotFound
	}

	return s.Load(metas[index].ID)
}

// LoadByNumber loads a conversation by its 1-based position in the session
// list, the number shown by FormatSessionList and the rendered session
// views. It is the entry point for user-typed numeric references.
func (s *ConversationStore) LoadByNumber(n int) (*StoredConversation, error) {
	if n < 1 {
		return nil, ErrConversationNotFound
	}
	return s.LoadByIndex(n - 1)
}

// =============================================================================
// LIST OPERATIONS
// =============================================================================

// List returns all saved conversations (most recent first).
func (s *ConversationStore) List() ([]ConversationMeta, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []ConversationMeta{}, nil
		}
		return nil, err
	}

	var metas []ConversationMeta

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		id := strings.TrimSuffix(entry.Name(), ".json")

		conv, err := s.Load(id)
		if err != nil {
			continue // Skip corrupted files
		}

		preview := ""
		for _, msg := range conv.Messages {
			if msg.Role == "user" {
				preview = util.TruncateRunes(msg.Content, 80)
				break
			}
		}

		metas = append(metas, ConversationMeta{
			ID:           conv.ID,
			Summary:      conv.Summary,
			MatterRef:    conv.MatterRef,
			CreatedAt:    conv.CreatedAt,
			UpdatedAt:    conv.UpdatedAt,
			MessageCount: len(conv.Messages),
			Preview:      preview,
		})
	}

	// Sort by updated time (most recent first)
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})

	return metas, nil
}

// Search finds conversations whose summary, preview, or matter reference
// matches a query string.
func (s *ConversationStore) Search(query string) ([]ConversationMeta, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(query)
	var results []ConversationMeta

	for _, meta := range all {
		if strings.Contains(strings.ToLower(meta.Summary), query) ||
			strings.Contains(strings.ToLower(meta.Preview), query) ||
			strings.Contains(strings.ToLower(meta.MatterRef), query) {
			results = append(results, meta)
		}
	}

	return results, nil
}

// SearchMessages searches conversations by message content.
// Returns conversations where any message contains the query string
// (case-insensitive).
func (s *ConversationStore) SearchMessages(query string) ([]ConversationMeta, error) {
	if query == "" {
		return s.List()
	}

	query = strings.ToLower(query)
	all, err := s.List()
	if err != nil {
		return nil, err
	}

	var results []ConversationMeta

	for _, meta := range all {
		conv, err := s.Load(meta.ID)
		if err != nil {
			continue
		}

		for _, msg := range conv.Messages {
			if strings.Contains(strings.ToLower(msg.Content), query) {
				results = append(results, meta)
				break
			}
		}
	}

	return results, nil
}

// =============================================================================
// DELETE OPERATIONS
// =============================================================================

// Delete removes a conversation by ID.
func (s *ConversationStore) Delete(id string) error {
	if err := os.Remove(s.filePath(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrConversationNotFound
		}
		return err
	}

	return nil
}

// Clear removes all saved conversations.
func (s *ConversationStore) Clear() error {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			os.Remove(filepath.Join(s.BaseDir, entry.Name()))
		}
	}

	return nil
}

// =============================================================================
// MODEL CONVERSION
// =============================================================================

// FromMessages builds a StoredConversation from finalized session history.
func FromMessages(msgs []model.Message, matterRef string) *StoredConversation {
	conv := &StoredConversation{
		MatterRef: matterRef,
		Messages:  make([]StoredMessage, 0, len(msgs)),
	}

	tokens := 0
	for _, m := range msgs {
		conv.Messages = append(conv.Messages, StoredMessage{
			ID:         m.ID,
			Role:       string(m.Role),
			Content:    m.Content,
			Timestamp:  m.Timestamp,
			Reasoning:  m.Reasoning,
			Sources:    append([]string(nil), m.Sources...),
			TokenCount: m.TokenCount,
			DurationMs: m.Duration.Milliseconds(),
		})
		tokens += m.TokenCount
	}
	conv.TokensUsed = tokens

	return conv
}

// ToMessages converts a stored conversation back into session history,
// suitable for resuming via the controller's LoadMessages.
func (c *StoredConversation) ToMessages() []model.Message {
	msgs := make([]model.Message, 0, len(c.Messages))
	for _, sm := range c.Messages {
		msgs = append(msgs, model.Message{
			ID:         sm.ID,
			Role:       model.Role(sm.Role),
			Content:    sm.Content,
			Timestamp:  sm.Timestamp,
			Reasoning:  sm.Reasoning,
			Sources:    append([]string(nil), sm.Sources...),
			TokenCount: sm.TokenCount,
			Duration:   time.Duration(sm.DurationMs) * time.Millisecond,
		})
	}
	return msgs
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// filePath returns the file path for a conversation ID.
func (s *ConversationStore) filePath(id string) string {
	return filepath.Join(s.BaseDir, id+".json")
}

// generateConversationID creates a unique conversation ID.
func generateConversationID() string {
	return "conv_" + uuid.NewString()
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrConversationNotFound is returned when a conversation doesn't exist.
// Use errors.Is(err, ErrConversationNotFound) to check for this error.
var ErrConversationNotFound = &ConversationError{Message: "conversation not found"}

// ConversationError represents a conversation-related error.
type ConversationError struct {
	Message string
}

// Error implements the error interface.
func (e *ConversationError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing conversation errors.
func (e *ConversationError) Is(target error) bool {
	t, ok := target.(*ConversationError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// =============================================================================
// SESSION LIST FORMATTING
// =============================================================================

// FormatSessionList formats a list of conversations for display in a table.
func FormatSessionList(sessions []ConversationMeta) string {
	if len(sessions) == 0 {
		return "No saved conversations."
	}

	var sb strings.Builder
	sb.WriteString("Conversations:\n")
	sb.WriteString("--------------------------------------------------------\n")
	sb.WriteString(util.PadRight("#", 3) + " " + util.PadRight("ID", 12) + " " + util.PadRight("Created", 20) + " " + util.PadRight("Messages", 8) + " Preview\n")
	sb.WriteString("--------------------------------------------------------\n")

	// Numbering is 1-based, matching what load-by-number commands accept.
	for i, s := range sessions {
		idStr := s.ID
		if len(idStr) > 12 {
			idStr = idStr[:12]
		}
		createdStr := s.CreatedAt.Format("2006-01-02 15:04")

		sb.WriteString(util.PadRight(util.IntToString(i+1), 3) + " " +
			util.PadRight(idStr, 12) + " " +
			util.PadRight(createdStr, 20) + " " +
			util.PadRight(util.IntToString(s.MessageCount), 8) + " " +
			util.TruncateRunes(s.Preview, 30) + "\n")
	}
	return sb.String()
}

// =============================================================================
// SESSION EXPORT
// =============================================================================

// ExportMarkdown exports the conversation as a Markdown formatted string.
// Includes conversation metadata, timestamps, and all messages with role
// labels; assistant turns carry their cited authorities.
func (c *StoredConversation) ExportMarkdown() string {
	var sb strings.Builder
	sb.WriteString("# Conversation " + c.ID + "\n\n")
	if c.MatterRef != "" {
		sb.WriteString("Matter: " + c.MatterRef + "\n\n")
	}
	sb.WriteString("Created: " + c.CreatedAt.Format(time.RFC3339) + "\n\n")
	sb.WriteString("---\n\n")

	for _, msg := range c.Messages {
		role := "**User**"
		switch msg.Role {
		case "assistant":
			role = "**Counsel**"
		case "system":
			role = "**System**"
		}
		sb.WriteString(role + " (" + msg.Timestamp.Format("15:04") + "):\n\n")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
		if len(msg.Sources) > 0 {
			sb.WriteString("\nAuthorities:\n")
			for _, src := range msg.Sources {
				sb.WriteString("- " + src + "\n")
			}
		}
		sb.WriteString("\n---\n\n")
	}

	return sb.String()
}

// ExportJSON exports the conversation as a pretty-printed JSON byte array.
func (c *StoredConversation) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// GetPreview returns a preview string from the first user message.
// Returns empty string if no user messages exist.
func (c *StoredConversation) GetPreview() string {
	for _, msg := range c.Messages {
		if msg.Role == "user" && msg.Content != "" {
			return util.TruncateRunes(msg.Content, 80)
		}
	}
	return ""
}

// MessageCount returns the number of messages in the conversation.
func (c *StoredConversation) MessageCount() int {
	return len(c.Messages)
}
