// Copyright (c) 2025-2026 Counselkit
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"strings"
	"testing"

	"github.com/counselkit/counsel-tui/internal/config"
)

func TestArgParserSubcommandAndFlags(t *testing.T) {
	args := NewArgParser([]string{"ask", "--matter", "MTR-2025-0042", "--json", "What", "is", "TUPE?"})

	if got := args.Subcommand(); got != "ask" {
		t.Errorf("Subcommand() = %q, want %q", got, "ask")
	}
	if got := args.Flag("matter"); got != "MTR-2025-0042" {
		t.Errorf("Flag(matter) = %q, want MTR-2025-0042", got)
	}
	if !args.BoolFlag("json") {
		t.Error("BoolFlag(json) = false, want true")
	}
	if got := JoinPositionalArgs(args, 1); got != "What is TUPE?" {
		t.Errorf("JoinPositionalArgs = %q", got)
	}
}

func TestArgParserEqualsForm(t *testing.T) {
	args := NewArgParser([]string{"ask", "--service=http://localhost:9999", "--quiet=true", "q"})

	if got := args.Flag("service"); got != "http://localhost:9999" {
		t.Errorf("Flag(service) = %q", got)
	}
	if !args.BoolFlag("quiet") {
		t.Error("BoolFlag(quiet) = false, want true")
	}
}

// A question directly after a boolean flag must stay positional, not be
// consumed as the flag's value.
func TestArgParserBoolFlagDoesNotSwallowQuestion(t *testing.T) {
	args := NewArgParser([]string{"ask", "--json", "List", "the", "deadlines"})

	if !args.BoolFlag("json") {
		t.Error("BoolFlag(json) = false, want true")
	}
	if got := JoinPositionalArgs(args, 1); got != "List the deadlines" {
		t.Errorf("question = %q, want %q", got, "List the deadlines")
	}
}

func TestArgParserPositional(t *testing.T) {
	args := NewArgParser([]string{"sessions", "export", "conv_a1b2c3d4", "out.md"})

	if got := args.Positional(1); got != "export" {
		t.Errorf("Positional(1) = %q", got)
	}
	if got := args.Positional(3); got != "out.md" {
		t.Errorf("Positional(3) = %q", got)
	}
	if got := args.Positional(9); got != "" {
		t.Errorf("Positional(9) = %q, want empty", got)
	}
	if got := args.PositionalCount(); got != 4 {
		t.Errorf("PositionalCount() = %d, want 4", got)
	}
}

func TestArgParserFlagOrDefault(t *testing.T) {
	args := NewArgParser([]string{"ask", "q"})
	if got := args.FlagOrDefault("matter", "MTR-FALLBACK"); got != "MTR-FALLBACK" {
		t.Errorf("FlagOrDefault = %q", got)
	}
}

func TestArgParserHasFlag(t *testing.T) {
	args := NewArgParser([]string{"config", "init", "--force"})
	if !args.HasFlag("force") {
		t.Error("HasFlag(force) = false, want true")
	}
	if args.HasFlag("json") {
		t.Error("HasFlag(json) = true, want false")
	}
}

func TestOpenConversationStoreHonorsConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.Dir = dir
	cfg.Storage.MaxConversations = 7

	store, err := OpenConversationStore(cfg)
	if err != nil {
		t.Fatalf("OpenConversationStore: %v", err)
	}
	if store.BaseDir != dir {
		t.Errorf("BaseDir = %q, want %q", store.BaseDir, dir)
	}
	if store.MaxConversations != 7 {
		t.Errorf("MaxConversations = %d, want 7", store.MaxConversations)
	}
}

func TestUsageNamesEveryCommand(t *testing.T) {
	usage := Usage()
	for _, cmd := range []string{"ask", "chat", "sessions", "authorities", "config", "version"} {
		if !strings.Contains(usage, cmd) {
			t.Errorf("usage text missing command %q", cmd)
		}
	}
}
