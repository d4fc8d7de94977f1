// Copyright (c) 2025-2026 Counselkit
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/counselkit/counsel-tui/internal/storage"
	"github.com/counselkit/counsel-tui/internal/ui/styles"
)

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleCommand dispatches a /command entered at the prompt.
func (m Model) handleCommand(raw string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(raw)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case "/help":
		m.showHelp = !m.showHelp
		return m, nil

	case "/quit", "/exit":
		m.quitting = true
		return m, tea.Quit

	case "/new", "/clear":
		m.controller.ClearMessages()
		m.seenTurns = 0
		m.notice = m.theme.SystemText.Render("started a new conversation")
		m.refreshViewport()
		return m, nil

	case "/save":
		return m, m.saveCmd()

	case "/load", "/resume":
		if len(args) == 0 {
			m.notice = styles.RenderWarning("usage: /load <id|index>")
			m.refreshViewport()
			return m, nil
		}
		return m, m.loadCmd(args[0])

	case "/sessions", "/list":
		return m, m.listCmd()

	case "/search":
		if len(args) == 0 {
			m.notice = styles.RenderWarning("usage: /search <query>")
			m.refreshViewport()
			return m, nil
		}
		return m, m.searchCmd(strings.Join(args, " "))

	case "/authorities", "/auth":
		query := strings.Join(args, " ")
		return m, m.authoritiesCmd(query)

	case "/reasoning":
		m.showReasoning = !m.showReasoning
		if m.showReasoning {
			m.notice = m.theme.SystemText.Render("reasoning shown")
		} else {
			m.notice = m.theme.SystemText.Render("reasoning hidden")
		}
		m.refreshViewport()
		return m, nil

	case "/export":
		var path string
		if len(args) > 0 {
			path = args[0]
		}
		return m, m.exportCmd(path)

	default:
		m.notice = styles.RenderWarning("unknown command " + cmd + " (try /help)")
		m.refreshViewport()
		return m, nil
	}
}

// =============================================================================
// ASYNC COMMANDS
// =============================================================================

// sendCmd submits a user message to the controller. Send blocks only for the
// transport handshake, so it runs off the UI goroutine.
func (m Model) sendCmd(content string) tea.Cmd {
	controller := m.controller
	timeout := time.Duration(m.cfg.Backend.RequestTimeoutSecs) * time.Second
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return SendResultMsg{Err: controller.Send(ctx, content)}
	}
}

func (m Model) saveCmd() tea.Cmd {
	snap := m.controller.Snapshot()
	store := m.store
	matterRef := m.cfg.Session.MatterRef
	return func() tea.Msg {
		if len(snap.History) == 0 {
			return ConversationSavedMsg{Err: fmt.Errorf("nothing to save")}
		}
		conv := storage.FromMessages(snap.History, matterRef)
		id, err := store.Save(conv)
		return ConversationSavedMsg{ID: id, Err: err}
	}
}

// loadCmd resolves ref as a 1-based session-list number first, then as an
// id, matching the numbering the session list renders.
func (m Model) loadCmd(ref string) tea.Cmd {
	store := m.store
	return func() tea.Msg {
		if n, err := strconv.Atoi(ref); err == nil {
			conv, err := store.LoadByNumber(n)
			return ConversationLoadedMsg{Conversation: conv, Err: err}
		}
		conv, err := store.Load(ref)
		return ConversationLoadedMsg{Conversation: conv, Err: err}
	}
}

func (m Model) listCmd() tea.Cmd {
	store := m.store
	return func() tea.Msg {
		metas, err := store.List()
		return SessionListMsg{Metas: metas, Err: err}
	}
}

func (m Model) searchCmd(query string) tea.Cmd {
	store := m.store
	return func() tea.Msg {
		metas, err := store.SearchMessages(query)
		return SessionListMsg{Metas: metas, Err: err}
	}
}

func (m Model) authoritiesCmd(query string) tea.Cmd {
	index := m.citations
	topN := m.cfg.Authority.TopN
	return func() tea.Msg {
		if index == nil {
			return AuthoritiesMsg{Err: fmt.Errorf("authority index is disabled")}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if query != "" {
			records, err := index.Search(ctx, query)
			return AuthoritiesMsg{Records: records, Err: err}
		}
		records, err := index.Top(ctx, topN)
		return AuthoritiesMsg{Records: records, Err: err}
	}
}

func (m Model) exportCmd(path string) tea.Cmd {
	snap := m.controller.Snapshot()
	matterRef := m.cfg.Session.MatterRef
	return func() tea.Msg {
		if len(snap.History) == 0 {
			return ExportDoneMsg{Err: fmt.Errorf("nothing to export")}
		}
		conv := storage.FromMessages(snap.History, matterRef)
		if path == "" {
			path = fmt.Sprintf("counsel-%s.md", time.Now().Format("20060102-150405"))
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return ExportDoneMsg{Path: path, Err: err}
			}
		}
		if err := os.WriteFile(path, []byte(conv.ExportMarkdown()), 0o644); err != nil {
			return ExportDoneMsg{Path: path, Err: err}
		}
		return ExportDoneMsg{Path: path}
	}
}

func (m Model) recordCitationsCmd(citations []string) tea.Cmd {
	index := m.citations
	matterRef := m.cfg.Session.MatterRef
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return CitationsRecordedMsg{Err: index.Record(ctx, citations, matterRef)}
	}
}
