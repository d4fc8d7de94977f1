// Copyright (c) 2025-2026 Counselkit
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/counselkit/counsel-tui/internal/authority"
	"github.com/counselkit/counsel-tui/internal/model"
	"github.com/counselkit/counsel-tui/internal/session"
	"github.com/counselkit/counsel-tui/internal/storage"
	"github.com/counselkit/counsel-tui/internal/util"
)

// =============================================================================
// VIEW
// =============================================================================

// View renders the full chat screen.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "starting..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	if m.showHelp {
		b.WriteString(m.renderHelp())
		b.WriteString("\n")
	}

	b.WriteString(m.renderInput())
	b.WriteString("\n")
	b.WriteString(m.renderStatusBar())
	return b.String()
}

func (m Model) renderHeader() string {
	title := m.theme.HeaderTitle.Render("Counsel")
	subtitle := m.theme.HeaderSubtitle.Render("legal research assistant")
	return m.theme.Header.Width(m.width).Render(title + " " + subtitle)
}

func (m Model) renderInput() string {
	return m.theme.InputContainer.Width(m.width).Render(m.input.View())
}

func (m Model) renderStatusBar() string {
	var parts []string

	snap := m.controller.Snapshot()
	phase := snap.Phase.String()
	if snap.Phase.Busy() {
		phase = m.spinner.View() + " " + phase
	}
	parts = append(parts, m.theme.StatusPhase.Render(phase))

	if m.cfg.Session.MatterRef != "" {
		parts = append(parts, m.theme.StatusMatter.Render("matter "+m.cfg.Session.MatterRef))
	}
	parts = append(parts, m.theme.ShortcutDesc.Render("ctrl+h help"))

	return m.theme.StatusBar.Width(m.width).Render(strings.Join(parts, "  "))
}

// =============================================================================
// CONVERSATION RENDERING
// =============================================================================

// renderConversation produces the viewport content for a snapshot: the
// finalized history, then whatever is currently streaming, then any error
// and notice lines.
func (m Model) renderConversation(snap session.Snapshot) string {
	width := m.contentWidth()

	var sections []string
	for _, msg := range snap.History {
		sections = append(sections, m.renderMessage(msg, width))
	}

	if snap.Phase.Busy() {
		if streaming := m.renderStreaming(snap, width); streaming != "" {
			sections = append(sections, streaming)
		}
	}

	if snap.Err != nil {
		sections = append(sections, m.renderError(snap.Err, width))
	}
	if m.notice != "" {
		sections = append(sections, m.notice)
	}

	if len(sections) == 0 {
		return m.theme.SystemText.Render("No messages yet. Type a question and press enter.")
	}
	return strings.Join(sections, "\n\n")
}

func (m Model) renderMessage(msg model.Message, width int) string {
	label := msg.Role.DisplayName()
	ts := m.theme.Timestamp.Render(msg.Timestamp.Format("15:04"))

	switch msg.Role {
	case model.RoleUser:
		header := m.theme.UserLabel.Render(label) + " " + ts
		body := m.theme.UserText.Width(width).Render(msg.Content)
		return header + "\n" + body

	case model.RoleAssistant:
		header := m.theme.AssistantLabel.Render(label) + " " + ts
		if msg.TokenCount > 0 {
			header += " " + m.theme.Timestamp.Render(
				fmt.Sprintf("(%d tokens, %s)", msg.TokenCount, util.FormatDuration(msg.Duration)))
		}
		var parts []string
		parts = append(parts, header)
		if m.showReasoning && msg.Reasoning != "" {
			parts = append(parts, m.theme.ReasoningText.Width(width).Render(msg.Reasoning))
		}
		parts = append(parts, m.theme.AssistantText.Width(width).Render(msg.Content))
		if m.cfg.UI.ShowSources && len(msg.Sources) > 0 {
			parts = append(parts, m.renderSources(msg.Sources))
		}
		return strings.Join(parts, "\n")

	default:
		return m.theme.SystemText.Width(width).Render(msg.Content)
	}
}

// renderStreaming shows the in-flight exchange: the stage timeline, then the
// partial reasoning and answer as they grow.
func (m Model) renderStreaming(snap session.Snapshot, width int) string {
	var parts []string

	if timeline := m.renderTimeline(snap.Timeline); timeline != "" {
		parts = append(parts, timeline)
	}
	if m.showReasoning && snap.Reasoning != "" {
		parts = append(parts, m.theme.ReasoningText.Width(width).Render(snap.Reasoning))
	}
	if snap.Answer != "" {
		header := m.theme.AssistantLabel.Render("Counsel")
		body := m.theme.AssistantText.Width(width).Render(snap.Answer)
		parts = append(parts, header+"\n"+body)
	}
	if m.cfg.UI.ShowSources && len(snap.Sources) > 0 {
		parts = append(parts, m.renderSources(snap.Sources))
	}

	if len(parts) == 0 {
		return m.spinner.View() + " " + m.theme.SystemText.Render("connecting...")
	}
	return strings.Join(parts, "\n")
}

func (m Model) renderTimeline(stages []session.Stage) string {
	if len(stages) == 0 {
		return ""
	}
	var lines []string
	for _, st := range stages {
		if st.Completed {
			lines = append(lines, m.theme.StageDone.Render("  ✓ "+st.Label))
		} else {
			lines = append(lines, m.theme.StageActive.Render("  "+m.spinner.View()+" "+st.Label))
		}
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderSources(sources []string) string {
	var lines []string
	lines = append(lines, m.theme.SourceHeading.Render("Authorities"))
	for _, src := range sources {
		lines = append(lines, m.theme.SourceItem.Render("  • "+src))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderError(err error, width int) string {
	title := m.theme.ErrorTitle.Render("Error")
	body := err.Error()
	if session.IsStream(err) {
		body += "\nYour message was kept; send again to retry."
	}
	return m.theme.ErrorBox.Width(width).Render(title + "\n" + body)
}

// =============================================================================
// LISTS
// =============================================================================

func (m Model) renderSessionList(metas []storage.ConversationMeta) string {
	if len(metas) == 0 {
		return m.theme.SystemText.Render("No saved conversations.")
	}
	var lines []string
	lines = append(lines, m.theme.SourceHeading.Render("Conversations"))
	for i, meta := range metas {
		line := fmt.Sprintf("  %2d. %s  %s  %s",
			i+1,
			meta.ID,
			meta.UpdatedAt.Format("2006-01-02 15:04"),
			util.TruncateRunes(meta.Summary, 48))
		lines = append(lines, m.theme.SourceItem.Render(line))
	}
	lines = append(lines, m.theme.SystemText.Render("Use /load <id|index> to resume."))
	return strings.Join(lines, "\n")
}

func (m Model) renderAuthorities(records []authority.Record) string {
	if len(records) == 0 {
		return m.theme.SystemText.Render("No authorities recorded yet.")
	}
	var lines []string
	lines = append(lines, m.theme.SourceHeading.Render("Cited authorities"))
	for _, rec := range records {
		line := fmt.Sprintf("  %3d×  %s", rec.Count, rec.Citation)
		if rec.LastMatter != "" {
			line += m.theme.Timestamp.Render("  (last: " + rec.LastMatter + ")")
		}
		lines = append(lines, m.theme.SourceItem.Render(line))
	}
	return strings.Join(lines, "\n")
}

// =============================================================================
// HELP
// =============================================================================

func (m Model) renderHelp() string {
	rows := [][2]string{
		{"enter", "send message"},
		{"ctrl+l", "clear conversation"},
		{"pgup/pgdn", "scroll"},
		{"ctrl+h", "toggle this help"},
		{"ctrl+c", "quit"},
		{"/new", "start a new conversation"},
		{"/save", "save the conversation"},
		{"/load <id|index>", "resume a saved conversation"},
		{"/sessions", "list saved conversations"},
		{"/search <query>", "search saved conversations"},
		{"/authorities [query]", "show cited authorities"},
		{"/reasoning", "toggle reasoning display"},
		{"/export [path]", "export to markdown"},
		{"/quit", "exit"},
	}
	var lines []string
	for _, row := range rows {
		lines = append(lines,
			m.theme.HelpKey.Render(util.PadRight(row[0], 22))+m.theme.HelpDesc.Render(row[1]))
	}
	return m.theme.HelpBox.Render(strings.Join(lines, "\n"))
}

func (m Model) contentWidth() int {
	w := m.viewport.Width - 2
	if w < 20 {
		w = 20
	}
	return w
}
