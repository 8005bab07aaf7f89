// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowctl/knowctl/pkg/know/eventbus"
)

func TestExporterCountsCacheAndCapabilityEvents(t *testing.T) {
	bus := eventbus.New(true)
	exp := New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exp.Run(ctx, bus)
	defer exp.Stop()

	bus.Publish(eventbus.Event{Kind: eventbus.CacheHit})
	bus.Publish(eventbus.Event{Kind: eventbus.CacheHit})
	bus.Publish(eventbus.Event{Kind: eventbus.CacheMiss})
	bus.Publish(eventbus.Event{Kind: eventbus.CapabilityTimeout})
	bus.Publish(eventbus.Event{Kind: eventbus.BreakerOpen, Fields: map[string]any{"scope": "io.content"}})

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(exp.cacheHitsTotal.WithLabelValues("hit")) == 2
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(exp.cacheHitsTotal.WithLabelValues("miss")))
	assert.Equal(t, float64(1), testutil.ToFloat64(exp.capabilityTotal.WithLabelValues("timeout")))
	assert.Equal(t, float64(2), testutil.ToFloat64(exp.breakerState.WithLabelValues("io.content")))
}

func TestExporterStopUnsubscribesCleanly(t *testing.T) {
	bus := eventbus.New(true)
	exp := New()
	exp.Run(context.Background(), bus)
	exp.Stop()

	bus.Publish(eventbus.Event{Kind: eventbus.CacheHit})
	assert.Equal(t, float64(0), testutil.ToFloat64(exp.cacheHitsTotal.WithLabelValues("hit")))
}
