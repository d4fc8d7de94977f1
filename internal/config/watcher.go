// Copyright (c) 2025-2026 Counselkit
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// CONFIG WATCHER
// =============================================================================

// DefaultDebounce is how long the watcher waits after the last write before
// reloading. Editors often save via truncate-then-write or rename, producing
// several events per save.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads the configuration when the config file changes on disk and
// hands the validated result to a callback. A file that fails to load or
// validate is ignored; the previous config stays in effect.
type Watcher struct {
	watcher  *fsnotify.Watcher
	paths    map[string]bool // config file paths we react to
	onReload func(*Config)
	debounce time.Duration

	mu      sync.Mutex
	pending time.Time // zero when no reload is queued

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWatcher creates a watcher for the default config file locations. The
// callback runs on the watcher goroutine; it must not block for long.
func NewWatcher(onReload func(*Config)) (*Watcher, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	tomlPath, err := PathTOML()
	if err != nil {
		return nil, err
	}
	jsonPath, err := PathJSON()
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory, not the files: editors replace the file by
	// rename, which drops a per-file watch.
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		watcher: fsw,
		paths: map[string]bool{
			filepath.Clean(tomlPath): true,
			filepath.Clean(jsonPath): true,
		},
		onReload: onReload,
		debounce: DefaultDebounce,
		ctx:      ctx,
		cancel:   cancel,
	}

	go w.run()
	return w, nil
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	w.cancel()
	return w.watcher.Close()
}

func (w *Watcher) run() {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.paths[filepath.Clean(event.Name)] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.pending = time.Now()
			w.mu.Unlock()

		case <-ticker.C:
			w.mu.Lock()
			due := !w.pending.IsZero() && time.Since(w.pending) >= w.debounce
			if due {
				w.pending = time.Time{}
			}
			w.mu.Unlock()
			if due {
				w.reload()
			}

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Non-fatal; keep watching.
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load()
	if err != nil {
		return
	}
	w.onReload(cfg)
}
