// Copyright (c) 2025-2026 Counselkit
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/counselkit/counsel-tui/internal/model"
	"github.com/counselkit/counsel-tui/internal/session"
	"github.com/counselkit/counsel-tui/internal/ui/styles"
)

// =============================================================================
// UPDATE
// =============================================================================

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg), nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case StreamTickMsg:
		return m.handleTick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case SendResultMsg:
		if msg.Err != nil {
			m.notice = m.theme.SystemText.Render(sendErrorNotice(msg.Err))
			m.refreshViewport()
		}
		return m, nil

	case ConversationSavedMsg:
		if msg.Err != nil {
			m.notice = styles.RenderError("save failed: " + msg.Err.Error())
		} else {
			m.notice = styles.RenderSuccess("saved as " + msg.ID)
		}
		m.refreshViewport()
		return m, nil

	case ConversationLoadedMsg:
		return m.handleLoaded(msg)

	case SessionListMsg:
		if msg.Err != nil {
			m.notice = styles.RenderError("list failed: " + msg.Err.Error())
		} else {
			m.notice = m.renderSessionList(msg.Metas)
		}
		m.refreshViewport()
		return m, nil

	case ExportDoneMsg:
		if msg.Err != nil {
			m.notice = styles.RenderError("export failed: " + msg.Err.Error())
		} else {
			m.notice = styles.RenderSuccess("exported to " + msg.Path)
		}
		m.refreshViewport()
		return m, nil

	case AuthoritiesMsg:
		if msg.Err != nil {
			m.notice = styles.RenderError("authorities: " + msg.Err.Error())
		} else {
			m.notice = m.renderAuthorities(msg.Records)
		}
		m.refreshViewport()
		return m, nil

	case CitationsRecordedMsg:
		// Recording failures are non-fatal; the conversation carries on.
		return m, nil
	}

	return m, nil
}

func (m Model) handleResize(msg tea.WindowSizeMsg) Model {
	m.width = msg.Width
	m.height = msg.Height

	headerHeight := 2
	footerHeight := 3 // input line + status bar
	vpHeight := msg.Height - headerHeight - footerHeight
	if vpHeight < 1 {
		vpHeight = 1
	}

	if !m.ready {
		m.viewport = viewport.New(msg.Width, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = msg.Width
		m.viewport.Height = vpHeight
	}
	m.input.Width = msg.Width - 4

	m.refreshViewport()
	return m
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		return m, nil

	case key.Matches(msg, m.keys.Clear):
		m.controller.ClearMessages()
		m.seenTurns = 0
		m.notice = m.theme.SystemText.Render("conversation cleared")
		m.refreshViewport()
		return m, nil

	case key.Matches(msg, m.keys.Up):
		m.viewport.LineUp(1)
		return m, nil

	case key.Matches(msg, m.keys.Down):
		m.viewport.LineDown(1)
		return m, nil

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return m, nil

	case key.Matches(msg, m.keys.Home):
		m.viewport.GotoTop()
		return m, nil

	case key.Matches(msg, m.keys.End):
		m.viewport.GotoBottom()
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		return m.handleSubmit()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleSubmit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	m.input.SetValue("")

	if strings.HasPrefix(text, "/") {
		return m.handleCommand(text)
	}

	m.notice = ""
	return m, m.sendCmd(text)
}

// handleTick polls the controller snapshot and re-renders when content moved.
// It always reschedules itself.
func (m Model) handleTick() (tea.Model, tea.Cmd) {
	snap := m.controller.Snapshot()

	var cmds []tea.Cmd
	cmds = append(cmds, streamTickCmd())

	changed := snap.ContentRev != m.lastRev ||
		snap.Phase != m.lastPhase ||
		!sameError(snap.Err, m.lastErr)

	if changed {
		m.lastRev = snap.ContentRev
		m.lastPhase = snap.Phase
		m.lastErr = snap.Err
		m.setViewportContent(m.renderConversation(snap))
		m.viewport.GotoBottom()
	}

	// Newly finalized assistant turns may carry citations for the index.
	if cmd := m.recordNewCitations(snap); cmd != nil {
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// recordNewCitations scans history turns added since the last tick and
// records their sources in the authority index.
func (m *Model) recordNewCitations(snap session.Snapshot) tea.Cmd {
	if len(snap.History) < m.seenTurns {
		// History shrank (clear or load); restart the scan window.
		m.seenTurns = len(snap.History)
		return nil
	}
	var pending []string
	for _, msg := range snap.History[m.seenTurns:] {
		if msg.Role == model.RoleAssistant && len(msg.Sources) > 0 {
			pending = append(pending, msg.Sources...)
		}
	}
	m.seenTurns = len(snap.History)
	if m.citations == nil || len(pending) == 0 {
		return nil
	}
	return m.recordCitationsCmd(pending)
}

func (m Model) handleLoaded(msg ConversationLoadedMsg) (tea.Model, tea.Cmd) {
	if msg.Err != nil {
		m.notice = styles.RenderError("load failed: " + msg.Err.Error())
		m.refreshViewport()
		return m, nil
	}
	m.controller.LoadMessages(msg.Conversation.ToMessages())
	m.seenTurns = len(msg.Conversation.Messages)
	m.notice = styles.RenderSuccess(fmt.Sprintf("resumed %s (%d messages)",
		msg.Conversation.ID, len(msg.Conversation.Messages)))
	m.refreshViewport()
	return m, nil
}

// refreshViewport re-renders the current snapshot without waiting for the
// next tick, so command output shows up immediately.
func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	snap := m.controller.Snapshot()
	m.lastRev = snap.ContentRev
	m.lastPhase = snap.Phase
	m.lastErr = snap.Err
	m.setViewportContent(m.renderConversation(snap))
	m.viewport.GotoBottom()
}

func (m *Model) setViewportContent(content string) {
	m.viewport.SetContent(content)
}

func sendErrorNotice(err error) string {
	switch {
	case session.IsValidation(err):
		return err.Error()
	default:
		return "send failed: " + err.Error()
	}
}

func sameError(a, b error) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Error() == b.Error()
}
