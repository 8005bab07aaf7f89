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

// Package metrics exports runtime event-bus activity as Prometheus
// metrics, the same promhttp.Handler "/metrics" pattern the teacher's
// index command wires up, generalized here into a standing subscriber
// instead of a one-off HTTP flag.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/knowctl/knowctl/pkg/know/eventbus"
)

// Exporter drains a Bus subscription and folds events into counters. It
// owns its own Prometheus registry so that tests, and multiple Loader
// instances in one process, don't collide on the global default
// registry's metric names.
type Exporter struct {
	registry *prometheus.Registry

	eventsTotal      *prometheus.CounterVec
	cacheHitsTotal   *prometheus.CounterVec
	breakerState     *prometheus.GaugeVec
	capabilityTotal  *prometheus.CounterVec
	loadDurationSecs prometheus.Histogram
	busDropsTotal    prometheus.Counter

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs an Exporter with its own registry; call Run to start
// draining bus events, Registry to expose it to an HTTP handler, and
// Stop to unsubscribe and release goroutines.
func New() *Exporter {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Exporter{
		registry: reg,
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "knowctl",
			Name:      "events_total",
			Help:      "Total events observed on the runtime event bus, by kind.",
		}, []string{"kind"}),
		cacheHitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "knowctl",
			Name:      "cache_results_total",
			Help:      "Cache lookup outcomes, by result.",
		}, []string{"result"}),
		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "knowctl",
			Name:      "breaker_state",
			Help:      "Last observed circuit breaker state (0=closed,1=half_open,2=open) by scope.",
		}, []string{"scope"}),
		capabilityTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "knowctl",
			Name:      "capability_invocations_total",
			Help:      "Capability dispatches, by outcome.",
		}, []string{"outcome"}),
		loadDurationSecs: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "knowctl",
			Name:      "load_duration_seconds",
			Help:      "Wall time of completed knowledge loads.",
			Buckets:   prometheus.DefBuckets,
		}),
		busDropsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "knowctl",
			Name:      "bus_drops_total",
			Help:      "Events dropped because a subscriber's queue was full.",
		}),
	}
}

// Registry exposes the exporter's private registry, e.g. to
// promhttp.HandlerFor(exp.Registry(), promhttp.HandlerOpts{}).
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Run subscribes to bus and drains events into metrics until ctx is
// canceled or Stop is called. The draining happens in a goroutine that
// Run starts itself; Run returns immediately.
func (e *Exporter) Run(ctx context.Context, bus *eventbus.Bus) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	events, unsubscribe := bus.Subscribe()
	go func() {
		defer close(e.done)
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				e.observe(ev)
			}
		}
	}()
}

// Stop cancels the drain goroutine and waits for it to exit.
func (e *Exporter) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.done != nil {
		<-e.done
	}
}

func (e *Exporter) observe(ev eventbus.Event) {
	e.eventsTotal.WithLabelValues(string(ev.Kind)).Inc()

	switch ev.Kind {
	case eventbus.CacheHit:
		e.cacheHitsTotal.WithLabelValues("hit").Inc()
	case eventbus.CacheMiss:
		e.cacheHitsTotal.WithLabelValues("miss").Inc()
	case eventbus.CacheStaleHit:
		e.cacheHitsTotal.WithLabelValues("stale_hit").Inc()
	case eventbus.BreakerClose:
		e.setBreakerState(ev, 0)
	case eventbus.BreakerHalfOpen:
		e.setBreakerState(ev, 1)
	case eventbus.BreakerOpen:
		e.setBreakerState(ev, 2)
	case eventbus.CapabilityComplete:
		e.capabilityTotal.WithLabelValues("complete").Inc()
	case eventbus.CapabilityTimeout:
		e.capabilityTotal.WithLabelValues("timeout").Inc()
	case eventbus.LoadComplete:
		if durMs, ok := ev.Fields["duration_ms"].(int64); ok {
			e.loadDurationSecs.Observe(float64(durMs) / 1000.0)
		}
	case eventbus.BusDrop:
		e.busDropsTotal.Inc()
	}
}

func (e *Exporter) setBreakerState(ev eventbus.Event, value float64) {
	scope, _ := ev.Fields["scope"].(string)
	if scope == "" {
		scope = "unknown"
	}
	e.breakerState.WithLabelValues(scope).Set(value)
}
