// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package layer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowctl/knowctl/pkg/know/breaker"
	"github.com/knowctl/knowctl/pkg/know/cache"
	"github.com/knowctl/knowctl/pkg/know/clock"
	"github.com/knowctl/knowctl/pkg/know/eventbus"
	"github.com/knowctl/knowctl/pkg/know/fallback"
	"github.com/knowctl/knowctl/pkg/know/fingerprint"
	"github.com/knowctl/knowctl/pkg/know/index"
	"github.com/knowctl/knowctl/pkg/know/timeout"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
	return path
}

func newTestLoader(t *testing.T) (*Loader, *clock.Fake) {
	clk := clock.NewFake(time.Now())
	bus := eventbus.New(true)
	c := cache.New(cache.DefaultConfig(), clk, bus, nil)
	breakers := breaker.NewRegistry(breaker.DefaultConfig(), clk, bus)
	fb := fallback.New()
	tm := timeout.New(timeout.DefaultLevels(), 0, clk)
	return New(c, breakers, fb, tm, bus, nil, 4), clk
}

func fileRef(t *testing.T, root, rel, content string) index.FileRef {
	abs := writeFile(t, root, rel, content)
	return index.FileRef{
		Layer:       "core",
		RelPath:     rel,
		AbsPath:     abs,
		Fingerprint: fingerprint.Of([]byte(content)),
	}
}

func TestLoadJoinsFilesInOrderWithBlankLineSeparator(t *testing.T) {
	root := t.TempDir()
	loader, _ := newTestLoader(t)

	snap := &index.Snapshot{Layers: map[index.LayerID][]index.FileRef{
		"core": {
			fileRef(t, root, "core/a.md", "AAA"),
			fileRef(t, root, "core/b.md", "BBB"),
		},
	}}

	res := loader.Load(context.Background(), snap, "core")
	assert.Equal(t, "AAA\n\nBBB", res.Content)
	assert.Empty(t, res.Warnings)
	for _, fo := range res.Files {
		assert.False(t, fo.Fallback)
	}
}

func TestLoadSubstitutesFallbackForMissingFile(t *testing.T) {
	root := t.TempDir()
	loader, _ := newTestLoader(t)

	goodRef := fileRef(t, root, "core/a.md", "AAA")
	missingRef := index.FileRef{
		Layer:       "core",
		RelPath:     "core/gone.md",
		AbsPath:     filepath.Join(root, "core/gone.md"), // never written
		Fingerprint: fingerprint.Of([]byte("whatever")),
	}

	snap := &index.Snapshot{Layers: map[index.LayerID][]index.FileRef{
		"core": {goodRef, missingRef},
	}}

	res := loader.Load(context.Background(), snap, "core")
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "core/gone.md")
	assert.True(t, res.Files[1].Fallback)
	assert.Contains(t, res.Content, "AAA")
	assert.Contains(t, res.Content, "packaged default")
}

func TestLoadEmptyLayerReturnsEmptyResult(t *testing.T) {
	loader, _ := newTestLoader(t)
	snap := &index.Snapshot{Layers: map[index.LayerID][]index.FileRef{}}
	res := loader.Load(context.Background(), snap, "nonexistent")
	assert.Empty(t, res.Content)
	assert.Empty(t, res.Files)
}

func TestLoadServesFromCacheOnSecondRead(t *testing.T) {
	root := t.TempDir()
	loader, _ := newTestLoader(t)

	ref := fileRef(t, root, "core/a.md", "AAA")
	snap := &index.Snapshot{Layers: map[index.LayerID][]index.FileRef{"core": {ref}}}

	first := loader.Load(context.Background(), snap, "core")
	require.False(t, first.Files[0].FromCache)

	second := loader.Load(context.Background(), snap, "core")
	assert.True(t, second.Files[0].FromCache)
	assert.Equal(t, first.Content, second.Content)
}
