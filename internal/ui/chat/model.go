// Copyright (c) 2025-2026 Counselkit
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/counselkit/counsel-tui/internal/authority"
	"github.com/counselkit/counsel-tui/internal/config"
	"github.com/counselkit/counsel-tui/internal/session"
	"github.com/counselkit/counsel-tui/internal/storage"
	"github.com/counselkit/counsel-tui/internal/ui/styles"
)

// =============================================================================
// MODEL
// =============================================================================

// Model is the Bubble Tea model for the chat interface. It is a pure
// consumer of the session controller: every render tick it takes a snapshot
// and re-renders when the content revision moved. It never receives stream
// events directly, so stale-event handling stays inside the controller.
type Model struct {
	controller *session.Controller
	store      *storage.ConversationStore
	citations  *authority.Index // nil when the citation index is disabled
	cfg        *config.Config

	theme *styles.Theme
	keys  KeyMap

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	width  int
	height int
	ready  bool

	// Render-loop state
	lastRev   uint64
	lastPhase session.Phase
	lastErr   error

	// History turns already scanned for citation recording.
	seenTurns int

	// Transient UI state
	notice        string
	showHelp      bool
	showReasoning bool
	quitting      bool
}

// New creates the chat model. The citation index may be nil.
func New(controller *session.Controller, store *storage.ConversationStore, citations *authority.Index, cfg *config.Config) Model {
	theme := styles.NewTheme()

	input := textinput.New()
	input.Placeholder = "Ask a question, or /help for commands"
	input.Prompt = "> "
	input.CharLimit = 4000
	input.Focus()

	sp := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(theme.Spinner),
	)

	return Model{
		controller:    controller,
		store:         store,
		citations:     citations,
		cfg:           cfg,
		theme:         theme,
		keys:          DefaultKeyMap(),
		input:         input,
		spinner:       sp,
		showReasoning: cfg.UI.ShowReasoning,
	}
}

// Init starts the input cursor, the spinner, and the render tick.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, streamTickCmd())
}

// =============================================================================
// RENDER TICK
// =============================================================================

// tickInterval caps the render loop at roughly 30fps. Token events land in
// the controller far faster than that; polling the snapshot at a fixed rate
// batches them into flicker-free frames.
const tickInterval = 33 * time.Millisecond

// streamTickCmd schedules the next render tick.
func streamTickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return StreamTickMsg{Time: t}
	})
}
