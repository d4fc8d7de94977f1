// Copyright (c) 2025-2026 Counselkit
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

// TestWatcher_ReloadOnWrite tests that writing the config file triggers a
// reload with the new values.
func TestWatcher_ReloadOnWrite(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fsnotify timing is unreliable on windows CI")
	}

	home := t.TempDir()
	t.Setenv("HOME", home)
	if err := EnsureDir(); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(func(cfg *Config) { reloaded <- cfg })
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()

	path := filepath.Join(home, ".counsel", "config.toml")
	body := `
[session]
matter_ref = "MTR-WATCH"
`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Session.MatterRef != "MTR-WATCH" {
			t.Errorf("reloaded matter ref = %q", cfg.Session.MatterRef)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

// TestWatcher_IgnoresUnrelatedFiles tests that other files in the config dir
// do not trigger a reload.
func TestWatcher_IgnoresUnrelatedFiles(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if err := EnsureDir(); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(func(cfg *Config) { reloaded <- cfg })
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()

	other := filepath.Join(home, ".counsel", "notes.txt")
	if err := os.WriteFile(other, []byte("scratch"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case <-reloaded:
		t.Error("unrelated file triggered a reload")
	case <-time.After(600 * time.Millisecond):
	}
}
