// Copyright (c) 2025-2026 Counselkit
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/counselkit/counsel-tui/internal/authority"
	"github.com/counselkit/counsel-tui/internal/config"
	"github.com/counselkit/counsel-tui/internal/inference"
	"github.com/counselkit/counsel-tui/internal/model"
)

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

// renderMarkdown renders markdown for terminal display. Returns the content
// unchanged if the renderer cannot be built or fails.
func renderMarkdown(content string) string {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(GetTerminalWidth()-2),
	)
	if err != nil {
		return content
	}
	rendered, err := renderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// =============================================================================
// ASK HANDLER
// =============================================================================

// askResult is the JSON output shape for `counsel ask --json`.
type askResult struct {
	Question   string   `json:"question"`
	Answer     string   `json:"answer"`
	Reasoning  string   `json:"reasoning,omitempty"`
	Sources    []string `json:"sources,omitempty"`
	MatterRef  string   `json:"matter_ref,omitempty"`
	DurationMs int64    `json:"duration_ms"`
}

// HandleAskCommand handles `counsel ask "question"`: one query, one streamed
// answer, then exit.
//
// Output modes:
//   - TTY with markdown enabled: the answer is buffered and rendered with
//     glamour once complete; stage updates go to stderr as they happen.
//   - piped or --plain: tokens stream raw to stdout as they arrive.
//   - --json: a single JSON object on stdout when the answer completes.
func HandleAskCommand(args *ArgParser) error {
	cfg := config.Global()

	jsonOut := args.BoolFlag("json")
	quiet := args.BoolFlag("quiet") || args.BoolFlag("q")
	verbose := args.BoolFlag("verbose") || args.BoolFlag("v")
	matterRef := args.FlagOrDefault("matter", cfg.Session.MatterRef)

	question := JoinPositionalArgs(args, 1)

	// Piped stdin can carry the question instead.
	if question == "" && IsStdinPiped() {
		data, err := io.ReadAll(bufio.NewReader(os.Stdin))
		if err == nil && len(data) > 0 {
			question = strings.TrimSpace(string(data))
			if !quiet && !jsonOut {
				fmt.Fprintf(os.Stderr, "%s read question from stdin (%d bytes)\n",
					infoStyle.Render("[+]"), len(data))
			}
		}
	}

	if question == "" {
		return fmt.Errorf("no question provided. Usage: counsel ask \"your question\"")
	}

	client := newInferenceClient(cfg, args)

	probeCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Backend.ProbeTimeoutSecs)*time.Second)
	err := client.CheckReady(probeCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("inference service not reachable at %s: %w\nstart the counsel service, or set COUNSEL_SERVICE_URL to a running instance",
			client.GetConfig().BaseURL, err)
	}

	// Stream raw tokens only when nothing post-processes the answer.
	streamRaw := !jsonOut && (args.BoolFlag("plain") || !IsStdoutTTY() || !cfg.UI.Markdown)

	// All stream events for one session are published sequentially from the
	// client's consumer goroutine, so these accumulate without locking; the
	// done channel orders them before the final read.
	var (
		answer    strings.Builder
		reasoning strings.Builder
		sources   []string
		done      = make(chan error, 1)
	)

	hub := client.Events()
	defer hub.OnToken(func(ev inference.TokenEvent) {
		answer.WriteString(ev.Text)
		if streamRaw {
			fmt.Print(ev.Text)
		}
	})()
	defer hub.OnReasoning(func(ev inference.TokenEvent) {
		reasoning.WriteString(ev.Text)
	})()
	defer hub.OnSources(func(ev inference.SourcesEvent) {
		sources = ev.Sources
	})()
	defer hub.OnStatus(func(ev inference.StatusEvent) {
		if !quiet && !jsonOut {
			fmt.Fprintf(os.Stderr, "%s %s\n", stageStyle.Render("[>]"), ev.Label)
		}
	})()
	defer hub.OnComplete(func(ev inference.CompleteEvent) {
		done <- nil
	})()
	defer hub.OnError(func(ev inference.ErrorEvent) {
		done <- fmt.Errorf("stream failed: %s", ev.Message)
	})()

	start := time.Now()
	turns := []model.Message{model.NewUserMessage(question)}
	if err := client.Submit(context.Background(), 1, turns, matterRef); err != nil {
		return fmt.Errorf("query rejected: %w", err)
	}

	if err := <-done; err != nil {
		if streamRaw && answer.Len() > 0 {
			fmt.Println()
		}
		return err
	}
	elapsed := time.Since(start)

	if jsonOut {
		result := askResult{
			Question:   question,
			Answer:     answer.String(),
			Reasoning:  reasoning.String(),
			Sources:    sources,
			MatterRef:  matterRef,
			DurationMs: elapsed.Milliseconds(),
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	if streamRaw {
		fmt.Println()
	} else {
		if verbose && reasoning.Len() > 0 {
			fmt.Fprintln(os.Stderr, infoStyle.Render(reasoning.String()))
		}
		fmt.Print(renderMarkdown(answer.String()))
	}

	if !quiet && len(sources) > 0 {
		printSources(sources)
	}

	recordCitations(cfg, sources, matterRef, quiet)
	return nil
}

// newInferenceClient builds a client from config with CLI flag overrides.
func newInferenceClient(cfg *config.Config, args *ArgParser) *inference.Client {
	return inference.NewClientWithConfig(&inference.ClientConfig{
		BaseURL:          args.FlagOrDefault("service", cfg.Backend.ServiceURL),
		Timeout:          time.Duration(cfg.Backend.RequestTimeoutSecs) * time.Second,
		SubmitsPerSecond: cfg.Session.SubmitsPerSecond,
		SubmitBurst:      cfg.Session.SubmitBurst,
	})
}

func printSources(sources []string) {
	fmt.Println()
	fmt.Println(sourceStyle.Render("Authorities:"))
	for _, src := range sources {
		fmt.Println("  • " + src)
	}
}

// recordCitations persists the answer's citations in the authority index.
// Failures are reported but never fail the command.
func recordCitations(cfg *config.Config, sources []string, matterRef string, quiet bool) {
	if !cfg.Authority.Enabled || len(sources) == 0 {
		return
	}
	dbPath, err := cfg.AuthorityDBPath()
	if err != nil {
		return
	}
	index, err := authority.Open(dbPath)
	if err != nil {
		if !quiet {
			fmt.Fprintf(os.Stderr, "%s authority index: %v\n", warningStyle.Render("[!]"), err)
		}
		return
	}
	defer index.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := index.Record(ctx, sources, matterRef); err != nil && !quiet {
		fmt.Fprintf(os.Stderr, "%s authority index: %v\n", warningStyle.Render("[!]"), err)
	}
}
