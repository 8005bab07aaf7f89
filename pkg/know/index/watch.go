// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchSkipDirs mirrors the teacher's watch.go: directories never worth
// watching, to save file descriptors and avoid noise from the runtime's
// own state.
var watchSkipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true,
	"dist": true, "build": true, ".knowctl": true,
}

// Watcher debounces filesystem events under the content root and triggers
// a Scan, so the index reflects on-disk edits without polling on every
// request (spec §4.9 "re-scanned ... on file-modification signals").
// Adapted from cmd/cie/watch.go's fsnotify + debounce-timer loop.
type Watcher struct {
	ix       *Index
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
}

// NewWatcher constructs a Watcher for ix. debounce of 0 uses a 2s default,
// matching the teacher's watchDebounce.
func NewWatcher(ix *Index, logger *slog.Logger, debounce time.Duration) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Watcher{ix: ix, logger: logger, debounce: debounce}
}

// Start begins watching in the background. Calling Start twice is a no-op.
// Scan failures from fsnotify setup are logged and treated as "watching
// disabled" rather than fatal — the index still works via explicit Scan
// calls, just without the push trigger.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("index.watch_unavailable", "err", err)
		return
	}

	addDirs(watcher, w.ix.root, w.logger)
	go w.loop(ctx, watcher)
}

// Stop halts the watch goroutine; safe to call even if Start was never
// called.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
	}
}

func addDirs(watcher *fsnotify.Watcher, root string, logger *slog.Logger) {
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsPermission(err) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		base := filepath.Base(path)
		if watchSkipDirs[base] || (strings.HasPrefix(base, ".") && base != filepath.Base(root)) {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil && !os.IsPermission(err) {
			logger.Warn("index.watch_add_failed", "path", path, "err", err)
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".md") {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			timerCh = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("index.watch_error", "err", err)
		case <-timerCh:
			timerCh = nil
			if _, err := w.ix.Scan(ctx); err != nil {
				w.logger.Warn("index.rescan_failed", "err", err)
			}
		}
	}
}
