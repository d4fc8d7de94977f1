// Copyright (c) 2025-2026 Counselkit
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for
// counsel.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (COUNSEL_*)
//   - ~/.counsel/config.toml
//   - ~/.counsel/config.json
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Access settings:
//
//	url := cfg.Backend.ServiceURL
//	matter := cfg.Session.MatterRef
//
// A Watcher built on fsnotify reloads the file when it changes on disk, so a
// running session picks up edits without a restart.
package config
