// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package monitor

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
	"github.com/knowctl/knowctl/pkg/know/index"
)

func TestRunHealthReportsIndexCacheAndBreakerState(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "core"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(root, "core", "a.md"), []byte("x"), 0o640))

	ix := index.New(root)
	_, err := ix.Scan(context.Background())
	require.NoError(t, err)

	clk := clock.NewFake(time.Now())
	bus := eventbus.New(false)
	c := cache.New(cache.DefaultConfig(), clk, bus, nil)
	breakers := breaker.NewRegistry(breaker.DefaultConfig(), clk, bus)

	out, err := runHealth(context.Background(), Input{Index: ix, Cache: c, Breakers: breakers, Scopes: []string{"io.content"}})
	require.NoError(t, err)

	result := out.(Output)
	assert.True(t, result.IndexLoaded)
	assert.Equal(t, 1, result.LayerCount)
	assert.Equal(t, 1, result.FileCount)
	assert.Equal(t, breaker.Closed, result.BreakerStates["io.content"])
}

func TestRunHealthRejectsWrongInputType(t *testing.T) {
	_, err := runHealth(context.Background(), "nope")
	require.Error(t, err)
}
