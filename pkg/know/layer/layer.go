// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package layer implements the Layer Loader (spec §4.10): reads every file
// of one layer in deterministic lexicographic order, consulting the cache
// and a per-file circuit breaker under the T2 (file) deadline, substituting
// fallback content file-by-file on failure, and joining the result with a
// blank line between files.
package layer

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/knowctl/knowctl/pkg/know/breaker"
	"github.com/knowctl/knowctl/pkg/know/cache"
	"github.com/knowctl/knowctl/pkg/know/eventbus"
	"github.com/knowctl/knowctl/pkg/know/fallback"
	"github.com/knowctl/knowctl/pkg/know/fingerprint"
	"github.com/knowctl/knowctl/pkg/know/index"
	"github.com/knowctl/knowctl/pkg/know/timeout"
)

// separator joins individual file contents within a layer (spec §4.10:
// files are concatenated with a blank line between them, no leading or
// trailing separator).
const separator = "\n\n"

// FileOutcome reports how one file's content was obtained, for callers
// that want to surface partial/fallback status per spec §4.12.
type FileOutcome struct {
	RelPath    string
	FromCache  bool
	Fallback   bool
	FallbackOf fallback.Tier
	Err        error
}

// Result is the assembled content of one layer plus the per-file
// bookkeeping needed to classify the overall load as success/partial.
type Result struct {
	Layer    index.LayerID
	Content  string
	Files    []FileOutcome
	Warnings []string
}

// Loader reads layers off an index.Snapshot.
type Loader struct {
	cache      *cache.Cache
	breakers   *breaker.Registry
	fallback   *fallback.Provider
	timeouts   *timeout.Manager
	bus        *eventbus.Bus
	logger     *slog.Logger
	maxWorkers int
}

// New constructs a Loader. maxWorkers bounds intra-layer read concurrency;
// <= 0 defaults to 4, matching the teacher's parse-worker default.
func New(c *cache.Cache, breakers *breaker.Registry, fb *fallback.Provider, tm *timeout.Manager, bus *eventbus.Bus, logger *slog.Logger, maxWorkers int) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	return &Loader{cache: c, breakers: breakers, fallback: fb, timeouts: tm, bus: bus, logger: logger, maxWorkers: maxWorkers}
}

// Load reads every file of layer from snap, in deterministic lexicographic
// order by relative path, and returns their joined content. Individual file
// failures substitute fallback content and are reported in Warnings rather
// than failing the whole layer (spec §4.10, scenario S2).
func (l *Loader) Load(ctx context.Context, snap *index.Snapshot, layer index.LayerID) Result {
	files := snap.Files(layer)
	res := Result{Layer: layer, Files: make([]FileOutcome, len(files))}
	if len(files) == 0 {
		return res
	}

	l.publish(eventbus.LoadLayerStart, layer)

	contents := make([]string, len(files))

	jobs := make(chan int, len(files))
	var wg sync.WaitGroup
	workers := l.maxWorkers
	if workers > len(files) {
		workers = len(files)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				content, outcome := l.loadFile(ctx, layer, files[i])
				contents[i] = content
				res.Files[i] = outcome
			}
		}()
	}
	for i := range files {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	var buf bytes.Buffer
	for i, c := range contents {
		if i > 0 {
			buf.WriteString(separator)
		}
		buf.WriteString(c)
	}
	res.Content = buf.String()

	for _, fo := range res.Files {
		if fo.Fallback {
			res.Warnings = append(res.Warnings, "fallback:"+fo.RelPath+":"+fo.FallbackOf.String())
		}
	}

	l.publish(eventbus.LoadLayerComplete, layer)
	return res
}

func (l *Loader) loadFile(ctx context.Context, layer index.LayerID, ref index.FileRef) (string, FileOutcome) {
	key := cache.Key{Path: ref.RelPath, Fingerprint: ref.Fingerprint}
	outcome := FileOutcome{RelPath: ref.RelPath}

	if l.cache != nil {
		if blob, hit := l.cache.Lookup(key); hit != cache.Miss {
			outcome.FromCache = true
			return string(blob.Bytes), outcome
		}
	}

	b := l.breakers.Get("io.content")
	result := timeout.Run(ctx, l.timeouts, timeout.File, 0, func(fctx context.Context) ([]byte, error) {
		return breaker.Do(b, func() ([]byte, error) {
			return readFile(fctx, ref.AbsPath)
		})
	})

	if result.Err == nil {
		blob := cache.ContentBlob{Bytes: result.Value, TokenEstimate: fingerprint.TokenEstimate(result.Value)}
		if l.cache != nil {
			l.cache.Put(key, blob)
		}
		return string(result.Value), outcome
	}

	if result.TimedOut {
		l.publish(eventbus.LoadLayerTimeout, layer)
	}
	l.publish(eventbus.LoadLayerFallback, layer)

	content, tier := l.fallback.ProvideFile(layer, key, l.cache)
	outcome.Fallback = true
	outcome.FallbackOf = tier
	outcome.Err = result.Err
	return string(content), outcome
}

func readFile(ctx context.Context, path string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return os.ReadFile(path)
}

func (l *Loader) publish(kind eventbus.Kind, layer index.LayerID) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(eventbus.Event{Kind: kind, Fields: map[string]any{"layer": string(layer)}})
}
