// Copyright (c) 2025-2026 Counselkit
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small shared helpers for counsel-tui: atomic file
// writes, numeric-to-string conversion, and rune-safe string truncation.
package util
