// Copyright (c) 2025-2026 Counselkit
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/counselkit/counsel-tui/internal/authority"
	"github.com/counselkit/counsel-tui/internal/config"
	"github.com/counselkit/counsel-tui/internal/model"
	"github.com/counselkit/counsel-tui/internal/session"
	"github.com/counselkit/counsel-tui/internal/storage"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides input history and line editing for the chat REPL.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI with history persisted under the config dir.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.Dir()
	if err != nil {
		configDir = os.TempDir()
	}

	c := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(configDir, "chat_history"),
	}
	c.loadHistory()
	return c
}

func (c *ChatCLI) loadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line with history navigation on the arrow keys.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

func (c *ChatCLI) saveHistory() {
	if err := config.EnsureDir(); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

// Close saves history and releases the terminal.
func (c *ChatCLI) Close() {
	c.saveHistory()
	c.line.Close()
}

// =============================================================================
// CHAT HANDLER
// =============================================================================

// HandleChatCommand handles `counsel chat`: a line-oriented REPL for
// terminals where the full-screen TUI is unwanted (ssh sessions, tmux panes,
// screen readers).
func HandleChatCommand(args *ArgParser) error {
	if !IsTTY() {
		return fmt.Errorf("chat requires an interactive terminal; use `counsel ask` for piped input")
	}

	cfg := config.Global()
	matterRef := args.FlagOrDefault("matter", cfg.Session.MatterRef)

	client := newInferenceClient(cfg, args)
	controller := session.NewController(context.Background(), client, client.Events(), client,
		session.Config{MatterRef: matterRef, MaxMessages: cfg.Session.MaxMessages})
	defer controller.Close()

	if snap := controller.Snapshot(); snap.Err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", warningStyle.Render("[!]"), snap.Err)
		fmt.Fprintln(os.Stderr, infoStyle.Render("the service may come up later; messages will fail until it does"))
	}

	store, err := OpenConversationStore(cfg)
	if err != nil {
		return fmt.Errorf("conversation store: %w", err)
	}

	cli := NewChatCLI()
	defer cli.Close()

	printWelcome(matterRef)

	for {
		input, err := cli.ReadInput(promptStyle.Render("counsel> "))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				fmt.Println(infoStyle.Render("(ctrl+d or /quit to exit)"))
				continue
			}
			if errors.Is(err, io.EOF) {
				fmt.Println()
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if quit := handleReplCommand(input, controller, store, cfg, matterRef); quit {
				return nil
			}
			continue
		}

		sendAndStream(controller, cfg, matterRef, input)
	}
}

func printWelcome(matterRef string) {
	fmt.Println(promptStyle.Render("counsel chat"))
	if matterRef != "" {
		fmt.Println(infoStyle.Render("matter: " + matterRef))
	}
	fmt.Println(infoStyle.Render("/help for commands, ctrl+d to exit"))
	fmt.Println()
}

// =============================================================================
// STREAMING OUTPUT
// =============================================================================

// sendAndStream submits one turn and prints the answer as it streams,
// polling the controller snapshot. Stage changes go to stderr so the answer
// on stdout stays clean.
func sendAndStream(controller *session.Controller, cfg *config.Config, matterRef, input string) {
	before := len(controller.Snapshot().History)

	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Backend.RequestTimeoutSecs)*time.Second)
	err := controller.Send(ctx, input)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[X]"), err)
		return
	}

	printed := 0
	lastStage := ""
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		snap := controller.Snapshot()

		if n := len(snap.Timeline); n > 0 {
			if st := snap.Timeline[n-1]; !st.Completed && st.Label != lastStage {
				lastStage = st.Label
				fmt.Fprintf(os.Stderr, "%s %s\n", stageStyle.Render("[>]"), st.Label)
			}
		}

		if len(snap.Answer) > printed {
			fmt.Print(snap.Answer[printed:])
			printed = len(snap.Answer)
		}

		if snap.Phase != session.PhaseIdle {
			continue
		}

		// Session finished: either an error or a finalized assistant turn.
		if snap.Err != nil {
			if printed > 0 {
				fmt.Println()
			}
			fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[X]"), snap.Err)
			return
		}

		if len(snap.History) > before+1 {
			final := snap.History[len(snap.History)-1]
			if final.Role == model.RoleAssistant {
				// Tokens that landed between the last poll and finalization.
				if len(final.Content) > printed {
					fmt.Print(final.Content[printed:])
				}
				fmt.Println()
				if len(final.Sources) > 0 {
					printSources(final.Sources)
					recordCitations(cfg, final.Sources, matterRef, false)
				}
			}
		}
		return
	}
}

// =============================================================================
// REPL COMMANDS
// =============================================================================

// handleReplCommand executes a /command. Returns true when the REPL should
// exit.
func handleReplCommand(input string, controller *session.Controller, store *storage.ConversationStore, cfg *config.Config, matterRef string) bool {
	fields := strings.Fields(input)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case "/quit", "/q", "/exit":
		return true

	case "/help", "/h":
		printReplHelp()

	case "/clear", "/new", "/c":
		controller.ClearMessages()
		fmt.Println(infoStyle.Render("conversation cleared"))

	case "/save":
		saveConversation(controller, store, matterRef)

	case "/sessions", "/list":
		listConversations(store)

	case "/load", "/resume":
		if len(args) == 0 {
			fmt.Println(warningStyle.Render("usage: /load <id|index>"))
			break
		}
		loadConversation(controller, store, args[0])

	case "/authorities", "/auth":
		showAuthorities(cfg, strings.Join(args, " "))

	default:
		fmt.Println(warningStyle.Render("unknown command " + cmd + " (try /help)"))
	}
	return false
}

func printReplHelp() {
	rows := [][2]string{
		{"/clear", "start a new conversation"},
		{"/save", "save the conversation"},
		{"/sessions", "list saved conversations"},
		{"/load <id|index>", "resume a saved conversation"},
		{"/authorities [query]", "show cited authorities"},
		{"/quit", "exit"},
	}
	for _, row := range rows {
		fmt.Printf("  %-22s %s\n", promptStyle.Render(row[0]), infoStyle.Render(row[1]))
	}
}

func saveConversation(controller *session.Controller, store *storage.ConversationStore, matterRef string) {
	snap := controller.Snapshot()
	if len(snap.History) == 0 {
		fmt.Println(warningStyle.Render("nothing to save"))
		return
	}
	id, err := store.Save(storage.FromMessages(snap.History, matterRef))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s save failed: %v\n", errorStyle.Render("[X]"), err)
		return
	}
	fmt.Println(successStyle.Render("saved as " + id))
}

func listConversations(store *storage.ConversationStore) {
	metas, err := store.List()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[X]"), err)
		return
	}
	fmt.Print(storage.FormatSessionList(metas))
}

func loadConversation(controller *session.Controller, store *storage.ConversationStore, ref string) {
	var (
		conv *storage.StoredConversation
		err  error
	)
	// Numeric refs are the 1-based numbers /sessions prints.
	if n, convErr := strconv.Atoi(ref); convErr == nil {
		conv, err = store.LoadByNumber(n)
	} else {
		conv, err = store.Load(ref)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[X]"), err)
		return
	}
	controller.LoadMessages(conv.ToMessages())
	fmt.Println(successStyle.Render(fmt.Sprintf("resumed %s (%d messages)", conv.ID, len(conv.Messages))))
}

func showAuthorities(cfg *config.Config, query string) {
	if !cfg.Authority.Enabled {
		fmt.Println(warningStyle.Render("authority index is disabled"))
		return
	}
	records, err := queryAuthorities(cfg, query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[X]"), err)
		return
	}
	if len(records) == 0 {
		fmt.Println(infoStyle.Render("no authorities recorded yet"))
		return
	}
	for _, rec := range records {
		fmt.Printf("  %3d×  %s\n", rec.Count, rec.Citation)
	}
}

// queryAuthorities opens the citation index and runs either a search or the
// top-N listing.
func queryAuthorities(cfg *config.Config, query string) ([]authority.Record, error) {
	dbPath, err := cfg.AuthorityDBPath()
	if err != nil {
		return nil, err
	}
	index, err := authority.Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer index.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if query != "" {
		return index.Search(ctx, query)
	}
	return index.Top(ctx, cfg.Authority.TopN)
}
