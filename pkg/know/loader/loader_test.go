// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/knowctl/knowctl/internal/errors"
	"github.com/knowctl/knowctl/pkg/know/breaker"
	"github.com/knowctl/knowctl/pkg/know/cache"
	"github.com/knowctl/knowctl/pkg/know/clock"
	"github.com/knowctl/knowctl/pkg/know/eventbus"
	"github.com/knowctl/knowctl/pkg/know/fallback"
	"github.com/knowctl/knowctl/pkg/know/index"
	"github.com/knowctl/knowctl/pkg/know/layer"
	"github.com/knowctl/knowctl/pkg/know/selector"
	"github.com/knowctl/knowctl/pkg/know/timeout"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
}

func newTestLoader(t *testing.T, root string) (*Loader, *clock.Fake, *eventbus.Bus) {
	clk := clock.NewFake(time.Now())
	bus := eventbus.New(true)
	c := cache.New(cache.DefaultConfig(), clk, bus, nil)
	breakers := breaker.NewRegistry(breaker.DefaultConfig(), clk, bus)
	fb := fallback.New()
	tm := timeout.New(timeout.DefaultLevels(), 0, clk)
	ll := layer.New(c, breakers, fb, tm, bus, nil, 4)

	ix := index.New(root)
	_, err := ix.Scan(context.Background())
	require.NoError(t, err)

	l := New(Config{
		Index:         ix,
		DefaultLayers: []index.LayerID{"core"},
		Cache:         c,
		Breakers:      breakers,
		Fallback:      fb,
		Timeouts:      tm,
		LayerLoader:   ll,
		Bus:           bus,
		Clock:         clk,
	})
	return l, clk, bus
}

func TestLoadRejectsRequestWithNoTaskOrLayers(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "core/a.md", "AAA")
	l, _, _ := newTestLoader(t, root)

	_, err := l.Load(context.Background(), Request{})
	require.Error(t, err)
	var ue *ierrors.UserError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, ierrors.KindBadRequest, ue.Kind)
}

func TestLoadSucceedsForExplicitLayer(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "core/a.md", "AAA")
	l, _, _ := newTestLoader(t, root)

	res, err := l.Load(context.Background(), Request{ExplicitLayers: []index.LayerID{"core"}})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "AAA", string(res.Content))
	assert.Equal(t, []index.LayerID{"core"}, res.LayersLoaded)
	assert.Empty(t, res.Warnings)
}

func TestLoadUsesDefaultLayersWhenTaskGiven(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "core/a.md", "AAA")
	l, _, _ := newTestLoader(t, root)

	res, err := l.Load(context.Background(), Request{Task: "anything"})
	require.NoError(t, err)
	assert.Equal(t, []index.LayerID{"core"}, res.LayersLoaded)
}

func TestLoadReportsSuccessForLayerWithNoFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "core/a.md", "AAA")
	l, _, _ := newTestLoader(t, root)

	// Requesting an unindexed layer: the selector still admits it (explicit
	// layers bypass default seeding), but the layer has zero files, so it
	// loads as empty content with status success, not fallback. The
	// per-file fallback path is covered by pkg/know/layer's own tests.
	res, err := l.Load(context.Background(), Request{ExplicitLayers: []index.LayerID{"guidelines"}})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Empty(t, res.Content)
}

func TestLoadMarksCircuitOpenStatusWhenBreakerOpenThroughout(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "core/a.md", "AAA")
	l, _, _ := newTestLoader(t, root)

	b := l.breakers.Get("io.content")
	cfg := breaker.DefaultConfig()
	for i := 0; i < cfg.FailureThreshold; i++ {
		require.NoError(t, b.Allow())
		b.Failure()
	}
	require.Equal(t, breaker.Open, b.State())

	res, err := l.Load(context.Background(), Request{ExplicitLayers: []index.LayerID{"core"}})
	require.NoError(t, err)
	assert.Equal(t, StatusCircuitOpen, res.Status)
	assert.Contains(t, string(res.Content), "packaged default")
}

func TestLoadReportsCancelledWarningAndPartialStatus(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "core/a.md", "AAA")
	writeFile(t, root, "practices/b.md", "BBB")
	l, _, _ := newTestLoader(t, root)
	l.selectLayers = []index.LayerID{"core", "practices"}
	l.triggers = []selector.Trigger{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	res, err := l.Load(ctx, Request{Task: "x"})
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, res.Status)
	assert.Contains(t, res.Warnings, "cancelled")
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestApproximateTokensRoundsUpPerS1(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "core/a.md", "aaa")
	writeFile(t, root, "core/b.md", "bb")
	l, _, _ := newTestLoader(t, root)

	res, err := l.Load(context.Background(), Request{ExplicitLayers: []index.LayerID{"core"}})
	require.NoError(t, err)
	assert.Equal(t, "aaa\n\nbb", string(res.Content))
	assert.Equal(t, 2, res.ApproximateTokens)
}

func TestLoadAppliesBudgetAndMarksPartial(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "core/a.md", "small")
	writeFile(t, root, "practices/b.md", "this is a much longer chunk of content to blow the budget")
	l, _, _ := newTestLoader(t, root)
	l.selectLayers = []index.LayerID{"core", "practices"}
	l.triggers = []selector.Trigger{}

	res, err := l.Load(context.Background(), Request{Task: "x", TokenBudget: 1})
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, res.Status)
	assert.NotEmpty(t, res.Warnings)
}
