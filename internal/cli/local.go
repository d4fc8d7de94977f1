// Copyright (c) 2025-2026 Counselkit
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/counselkit/counsel-tui/internal/config"
	"github.com/counselkit/counsel-tui/internal/storage"
)

// =============================================================================
// STORE CONSTRUCTION
// =============================================================================

// OpenConversationStore builds the conversation store from configuration:
// the storage directory (including the COUNSEL_STORAGE_DIR override) and the
// retention limit both come from cfg.
func OpenConversationStore(cfg *config.Config) (*storage.ConversationStore, error) {
	dir, err := cfg.ConversationsDir()
	if err != nil {
		return nil, err
	}
	store, err := storage.NewConversationStoreWithDir(dir)
	if err != nil {
		return nil, err
	}
	store.MaxConversations = cfg.Storage.MaxConversations
	return store, nil
}

// =============================================================================
// SESSIONS COMMAND
// =============================================================================

// HandleSessionsCommand handles `counsel sessions [subcommand]`:
//
//	sessions              list saved conversations
//	sessions search <q>   search conversations (summaries and message bodies)
//	sessions show <ref>   print one conversation
//	sessions export <ref> [path]  export as markdown (stdout when no path)
//	sessions delete <ref> delete one conversation
func HandleSessionsCommand(args *ArgParser) error {
	store, err := OpenConversationStore(config.Global())
	if err != nil {
		return fmt.Errorf("conversation store: %w", err)
	}

	switch args.Positional(1) {
	case "", "list":
		metas, err := store.List()
		if err != nil {
			return err
		}
		if args.BoolFlag("json") {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(metas)
		}
		fmt.Print(storage.FormatSessionList(metas))
		return nil

	case "search":
		query := JoinPositionalArgs(args, 2)
		if query == "" {
			return fmt.Errorf("usage: counsel sessions search <query>")
		}
		metas, err := store.SearchMessages(query)
		if err != nil {
			return err
		}
		fmt.Print(storage.FormatSessionList(metas))
		return nil

	case "show":
		conv, err := resolveConversation(store, args.Positional(2))
		if err != nil {
			return err
		}
		fmt.Print(conv.ExportMarkdown())
		return nil

	case "export":
		conv, err := resolveConversation(store, args.Positional(2))
		if err != nil {
			return err
		}
		path := args.Positional(3)
		if path == "" {
			fmt.Print(conv.ExportMarkdown())
			return nil
		}
		if err := os.WriteFile(path, []byte(conv.ExportMarkdown()), 0o644); err != nil {
			return err
		}
		fmt.Println(successStyle.Render("exported to " + path))
		return nil

	case "delete":
		conv, err := resolveConversation(store, args.Positional(2))
		if err != nil {
			return err
		}
		if err := store.Delete(conv.ID); err != nil {
			return err
		}
		fmt.Println(successStyle.Render("deleted " + conv.ID))
		return nil

	default:
		return fmt.Errorf("unknown sessions subcommand %q", args.Positional(1))
	}
}

// resolveConversation accepts either a conversation id or the 1-based
// number printed by the sessions list.
func resolveConversation(store *storage.ConversationStore, ref string) (*storage.StoredConversation, error) {
	if ref == "" {
		return nil, fmt.Errorf("conversation id or number required")
	}
	if n, err := strconv.Atoi(ref); err == nil {
		return store.LoadByNumber(n)
	}
	return store.Load(ref)
}

// =============================================================================
// AUTHORITIES COMMAND
// =============================================================================

// HandleAuthoritiesCommand handles `counsel authorities [query]`: the
// accumulated citation index, most-cited first, optionally filtered.
func HandleAuthoritiesCommand(args *ArgParser) error {
	cfg := config.Global()
	if !cfg.Authority.Enabled {
		return fmt.Errorf("authority index is disabled (set [authority] enabled = true)")
	}

	records, err := queryAuthorities(cfg, JoinPositionalArgs(args, 1))
	if err != nil {
		return err
	}

	if args.BoolFlag("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	if len(records) == 0 {
		fmt.Println("No authorities recorded yet.")
		return nil
	}
	for _, rec := range records {
		line := fmt.Sprintf("%4d×  %s", rec.Count, rec.Citation)
		if rec.LastMatter != "" {
			line += infoStyle.Render("  (last: " + rec.LastMatter + ")")
		}
		fmt.Println(line)
	}
	return nil
}

// =============================================================================
// CONFIG COMMAND
// =============================================================================

// HandleConfigCommand handles `counsel config [show|path|init]`.
func HandleConfigCommand(args *ArgParser) error {
	switch args.Positional(1) {
	case "", "show":
		fmt.Println(config.Global().String())
		return nil

	case "path":
		path, err := config.PathTOML()
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil

	case "init":
		path, err := config.PathTOML()
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err == nil && !args.BoolFlag("force") {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.Save(config.Default()); err != nil {
			return err
		}
		fmt.Println(successStyle.Render("wrote " + path))
		return nil

	default:
		return fmt.Errorf("unknown config subcommand %q (want show, path, or init)", args.Positional(1))
	}
}

// =============================================================================
// USAGE
// =============================================================================

// Usage returns the top-level help text.
func Usage() string {
	var b strings.Builder
	b.WriteString("counsel - streaming legal research assistant\n\n")
	b.WriteString("Usage:\n")
	b.WriteString("  counsel                      launch the interactive TUI\n")
	b.WriteString("  counsel ask \"question\"       one question, streamed answer\n")
	b.WriteString("  counsel chat                 line-oriented REPL\n")
	b.WriteString("  counsel sessions [cmd]       list/search/show/export/delete saved conversations\n")
	b.WriteString("  counsel authorities [query]  cited authorities, most-cited first\n")
	b.WriteString("  counsel config [cmd]         show, path, or init\n")
	b.WriteString("  counsel version              print version\n\n")
	b.WriteString("Flags:\n")
	b.WriteString("  --matter REF    scope queries to a matter reference\n")
	b.WriteString("  --service URL   inference service URL (default http://127.0.0.1:8711)\n")
	b.WriteString("  --json          machine-readable output where supported\n")
	b.WriteString("  --plain         disable markdown rendering\n")
	b.WriteString("  --quiet         suppress status output\n")
	return b.String()
}
