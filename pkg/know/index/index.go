// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package index implements the Knowledge Index (spec §4.9): a single scan
// of contentRoot producing an immutable, atomically-swapped snapshot
// mapping LayerId -> []FileRef. Concurrent re-scans collapse via
// single-flight, same discipline as the cache package.
package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/knowctl/knowctl/pkg/know/fingerprint"
)

// LayerID names a top-level directory under contentRoot whose files,
// including those in its subdirectories, are admitted together (spec
// GLOSSARY). Files directly under contentRoot belong to the "root" layer.
type LayerID string

// FileRef describes one indexed file (spec §3).
type FileRef struct {
	Layer       LayerID
	RelPath     string // forward-slash, relative to the content root (e.g. "core/a.md")
	AbsPath     string
	Size        int64
	ModTime     int64 // unix nanos, for change detection between scans
	Fingerprint fingerprint.Fingerprint
}

// Snapshot is an immutable view produced by one scan. Readers hold a
// reference for the duration of a request; a rescan replaces the pointer
// atomically and never mutates a live Snapshot (spec §5).
type Snapshot struct {
	Root      string
	Layers    map[LayerID][]FileRef
	ScannedAt int64 // unix nanos
}

// Files returns the files for layer in deterministic lexicographic order
// by relative path (spec §4.10 step 2), or nil if the layer is unknown.
func (s *Snapshot) Files(layer LayerID) []FileRef {
	return s.Layers[layer]
}

// LayerIDs returns every layer present in the snapshot, sorted.
func (s *Snapshot) LayerIDs() []LayerID {
	ids := make([]LayerID, 0, len(s.Layers))
	for id := range s.Layers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ProgressFunc is invoked as scanOnce discovers files, done/total counting
// .md files only. Set via SetProgress before calling Scan; a nil func (the
// default) disables progress reporting entirely, so plain callers pay
// nothing for the extra WalkDir pass.
type ProgressFunc func(done, total int)

// Index owns the content root scan and the current snapshot. Safe for
// concurrent use; Scan results are published via atomic.Pointer so readers
// never observe a partially-built snapshot.
type Index struct {
	root string

	snapshot atomic.Pointer[Snapshot]

	scanMu   sync.Mutex
	inFlight *scanCall

	progress atomic.Pointer[ProgressFunc]
}

// SetProgress installs a callback driven during the next Scan. Mirrors the
// teacher's pipeline.SetProgressCallback shape, adapted to a file-count
// instead of a multi-phase pipeline.
func (ix *Index) SetProgress(fn ProgressFunc) {
	if fn == nil {
		ix.progress.Store(nil)
		return
	}
	ix.progress.Store(&fn)
}

type scanCall struct {
	wg   sync.WaitGroup
	snap *Snapshot
	err  error
}

// New constructs an Index rooted at root. Call Scan at least once (at
// startup, off the request path) before Current returns anything useful.
func New(root string) *Index {
	return &Index{root: root}
}

// Current returns the most recently published snapshot, or nil if Scan
// has never completed.
func (ix *Index) Current() *Snapshot {
	return ix.snapshot.Load()
}

// Scan walks the content root once and publishes a new snapshot.
// Concurrent callers collapse into a single walk (spec §4.9
// "concurrent re-scans collapse via single-flight"); all of them observe
// the same result.
func (ix *Index) Scan(ctx context.Context) (*Snapshot, error) {
	ix.scanMu.Lock()
	if ix.inFlight != nil {
		call := ix.inFlight
		ix.scanMu.Unlock()
		call.wg.Wait()
		return call.snap, call.err
	}
	call := &scanCall{}
	call.wg.Add(1)
	ix.inFlight = call
	ix.scanMu.Unlock()

	snap, err := ix.scanOnce(ctx)
	call.snap, call.err = snap, err
	call.wg.Done()

	ix.scanMu.Lock()
	ix.inFlight = nil
	ix.scanMu.Unlock()

	if err == nil {
		ix.snapshot.Store(snap)
	}
	return snap, err
}

func (ix *Index) scanOnce(ctx context.Context) (*Snapshot, error) {
	layers := make(map[LayerID][]FileRef)

	var onProgress ProgressFunc
	if p := ix.progress.Load(); p != nil {
		onProgress = *p
	}
	total := 0
	if onProgress != nil {
		total = ix.countMarkdownFiles()
		onProgress(0, total)
	}
	done := 0

	err := filepath.WalkDir(ix.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsPermission(err) {
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}

		rel, err := filepath.Rel(ix.root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		layer := topLevelLayer(rel)

		info, err := d.Info()
		if err != nil {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil
		}

		layers[layer] = append(layers[layer], FileRef{
			Layer:       layer,
			RelPath:     rel,
			AbsPath:     path,
			Size:        info.Size(),
			ModTime:     info.ModTime().UnixNano(),
			Fingerprint: fingerprint.Of(content),
		})
		if onProgress != nil {
			done++
			onProgress(done, total)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan content root: %w", err)
	}

	for layer := range layers {
		sort.Slice(layers[layer], func(i, j int) bool {
			return layers[layer][i].RelPath < layers[layer][j].RelPath
		})
	}

	return &Snapshot{Root: ix.root, Layers: layers, ScannedAt: time.Now().UnixNano()}, nil
}

// countMarkdownFiles does a cheap pre-pass over the content root so a
// progress callback can report a meaningful total. Only runs when a
// ProgressFunc is installed.
func (ix *Index) countMarkdownFiles() int {
	n := 0
	_ = filepath.WalkDir(ix.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsPermission(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".md") {
			n++
		}
		return nil
	})
	return n
}

// topLevelLayer returns the first path segment of a content-root-relative
// path as its LayerID (spec GLOSSARY: "a named directory under
// contentRoot"). Files directly under the root belong to a synthetic
// "root" layer.
func topLevelLayer(relPath string) LayerID {
	if i := strings.IndexByte(relPath, '/'); i >= 0 {
		return LayerID(relPath[:i])
	}
	return LayerID("root")
}

