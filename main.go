// counsel - a streaming terminal interface for legal research chat.
//
// Copyright (c) 2025-2026 Counselkit
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/counselkit/counsel-tui/internal/authority"
	"github.com/counselkit/counsel-tui/internal/cli"
	"github.com/counselkit/counsel-tui/internal/config"
	"github.com/counselkit/counsel-tui/internal/inference"
	"github.com/counselkit/counsel-tui/internal/session"
	"github.com/counselkit/counsel-tui/internal/ui/chat"
)

// Version information (set at build time).
var (
	Version   = "0.4.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	args := cli.NewArgParser(os.Args[1:])

	if args.BoolFlag("version") {
		printVersion()
		return
	}
	if args.BoolFlag("help") || args.BoolFlag("h") {
		fmt.Print(cli.Usage())
		return
	}

	var err error
	switch args.Subcommand() {
	case "":
		err = runTUI(args)
	case "ask":
		err = cli.HandleAskCommand(args)
	case "chat":
		err = cli.HandleChatCommand(args)
	case "sessions":
		err = cli.HandleSessionsCommand(args)
	case "authorities":
		err = cli.HandleAuthoritiesCommand(args)
	case "config":
		err = cli.HandleConfigCommand(args)
	case "version":
		printVersion()
	case "help":
		fmt.Print(cli.Usage())
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args.Subcommand())
		fmt.Fprint(os.Stderr, cli.Usage())
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("counsel %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
}

// =============================================================================
// TUI
// =============================================================================

// runTUI wires the full stack: inference client, session controller,
// conversation store, citation index, config hot reload, and the Bubble Tea
// program on top.
func runTUI(args *cli.ArgParser) error {
	cfg := config.Global()
	matterRef := args.FlagOrDefault("matter", cfg.Session.MatterRef)

	client := inference.NewClientWithConfig(&inference.ClientConfig{
		BaseURL:          args.FlagOrDefault("service", cfg.Backend.ServiceURL),
		Timeout:          time.Duration(cfg.Backend.RequestTimeoutSecs) * time.Second,
		SubmitsPerSecond: cfg.Session.SubmitsPerSecond,
		SubmitBurst:      cfg.Session.SubmitBurst,
	})

	probeCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Backend.ProbeTimeoutSecs)*time.Second)
	controller := session.NewController(probeCtx, client, client.Events(), client,
		session.Config{MatterRef: matterRef, MaxMessages: cfg.Session.MaxMessages})
	cancel()
	defer controller.Close()

	store, err := cli.OpenConversationStore(cfg)
	if err != nil {
		return fmt.Errorf("conversation store: %w", err)
	}

	// The citation index is optional; the TUI runs without it.
	var index *authority.Index
	if cfg.Authority.Enabled {
		if dbPath, err := cfg.AuthorityDBPath(); err == nil {
			if idx, err := authority.Open(dbPath); err == nil {
				index = idx
				defer idx.Close()
			} else {
				fmt.Fprintf(os.Stderr, "warning: authority index unavailable: %v\n", err)
			}
		}
	}

	// Edits to ~/.counsel/config.toml take effect without a restart.
	watcher, err := config.NewWatcher(func(next *config.Config) {
		config.SetGlobal(next)
	})
	if err == nil {
		defer watcher.Close()
	}

	m := chat.New(controller, store, index, cfg)
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
