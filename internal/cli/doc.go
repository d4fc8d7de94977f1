// Copyright (c) 2025-2026 Counselkit
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the non-TUI command handlers for counsel.
//
// Two commands talk to the inference service directly:
//
//   - ask: one question, one streamed answer, then exit. Safe to pipe.
//   - chat: a line-oriented REPL with input history, for terminals where
//     the full-screen TUI is unwanted.
//
// The remaining commands (sessions, authorities, config) operate on local
// state only and never touch the network.
package cli
