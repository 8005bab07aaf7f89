// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package timeout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowctl/knowctl/pkg/know/clock"
)

func TestEffectiveHonorsOverrideAndCeiling(t *testing.T) {
	m := New(DefaultLevels(), 0, clock.System{})

	assert.Equal(t, 500*time.Millisecond, m.Effective(File, 0))
	assert.Equal(t, 50*time.Millisecond, m.Effective(File, 50))

	// Absolute ceiling (default 10s) clamps an oversized override.
	assert.Equal(t, 10*time.Second, m.Effective(Complex, 60_000))
}

func TestRunReturnsValueOnSuccess(t *testing.T) {
	m := New(DefaultLevels(), 0, clock.System{})
	res := Run(context.Background(), m, Cache, 0, func(ctx context.Context) (string, error) {
		return "hi", nil
	})
	require.NoError(t, res.Err)
	assert.False(t, res.TimedOut)
	assert.Equal(t, "hi", res.Value)
}

func TestRunClassifiesTimeout(t *testing.T) {
	m := New(DefaultLevels(), 0, clock.System{})
	res := Run(context.Background(), m, Cache, 10, func(ctx context.Context) (string, error) {
		select {
		case <-time.After(200 * time.Millisecond):
			return "too late", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	assert.True(t, res.TimedOut)
	assert.ErrorIs(t, res.Err, ErrTimeout)
}

func TestDeadlineComposesWithTighterParent(t *testing.T) {
	m := New(DefaultLevels(), 0, clock.System{})
	parent, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	res := Run(parent, m, Full, 0, func(ctx context.Context) (string, error) {
		select {
		case <-time.After(2 * time.Second):
			return "too late", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	assert.True(t, res.TimedOut)
	assert.Less(t, res.Elapsed, 500*time.Millisecond)
}
