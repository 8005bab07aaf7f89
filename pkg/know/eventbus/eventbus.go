// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package eventbus implements the in-process publish/subscribe bus every
// load and capability invocation reports through (spec §4.3). Publication
// is always non-blocking: each subscriber has a bounded queue, and a full
// queue drops the oldest event rather than stall the publisher.
package eventbus

import (
	"sync"
	"time"
)

// Kind enumerates the closed set of event kinds the runtime ever emits.
type Kind string

const (
	LoadStart          Kind = "load.start"
	LoadLayerStart     Kind = "load.layer.start"
	LoadLayerComplete  Kind = "load.layer.complete"
	LoadLayerTimeout   Kind = "load.layer.timeout"
	LoadLayerFallback  Kind = "load.layer.fallback"
	LoadComplete       Kind = "load.complete"
	CacheHit           Kind = "cache.hit"
	CacheMiss          Kind = "cache.miss"
	CacheStaleHit      Kind = "cache.stale_hit"
	CacheEvict         Kind = "cache.evict"
	BreakerOpen        Kind = "breaker.open"
	BreakerHalfOpen    Kind = "breaker.halfopen"
	BreakerClose       Kind = "breaker.close"
	CapabilityStart    Kind = "capability.start"
	CapabilityComplete Kind = "capability.complete"
	CapabilityTimeout  Kind = "capability.timeout"
	BusDrop            Kind = "bus.drop"
)

// Event is a single occurrence published on the bus.
type Event struct {
	Kind          Kind
	CorrelationID string
	TimestampNs   int64
	Fields        map[string]any
}

// defaultQueueDepth bounds each subscriber's channel. Chosen generously
// relative to the handful of events one Load emits, so drops should only
// ever happen if a subscriber is badly stuck.
const defaultQueueDepth = 256

// Bus is a typed, non-blocking publish/subscribe hub. The zero value is
// not usable; construct with New.
type Bus struct {
	enabled bool

	mu   sync.RWMutex
	subs map[int]*subscriber
	next int

	// dropTotal counts drops across all subscribers and is read through
	// DropTotal; drops are also re-published as a BusDrop event, best
	// effort, so observers don't need to poll a counter.
	dropMu    sync.Mutex
	dropTotal uint64
}

type subscriber struct {
	ch     chan Event
	closed bool
}

// New constructs a Bus. When enabled is false (config key events.enabled),
// Publish becomes a no-op and Subscribe returns a channel that is never
// written to — callers don't need to branch on the setting themselves.
func New(enabled bool) *Bus {
	return &Bus{enabled: enabled, subs: make(map[int]*subscriber)}
}

// Subscribe registers a new subscriber and returns a receive-only channel
// of events along with an Unsubscribe function. The channel is bounded;
// a slow consumer loses its oldest buffered events, never blocks
// publishers.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	s := &subscriber{ch: make(chan Event, defaultQueueDepth)}
	b.subs[id] = s
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		if sub, ok := b.subs[id]; ok && !sub.closed {
			sub.closed = true
			close(sub.ch)
			delete(b.subs, id)
		}
		b.mu.Unlock()
	}
	return s.ch, unsub
}

// Publish fans e out to every current subscriber. It never blocks and
// never panics due to a subscriber failure: a full queue drops the
// oldest buffered event (not the new one) to keep the most recent state
// visible, and increments the drop counter.
func (b *Bus) Publish(e Event) {
	if !b.enabled {
		return
	}
	if e.TimestampNs == 0 {
		e.TimestampNs = time.Now().UnixNano()
	}

	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	dropped := false
	for _, s := range targets {
		if b.deliver(s, e) {
			dropped = true
		}
	}

	// Surface drops as their own event, one per Publish call, so a storm
	// of drops doesn't itself storm the bus. Never recurse off a BusDrop
	// event's own drop.
	if dropped && e.Kind != BusDrop {
		b.recordDrop()
		b.Publish(Event{Kind: BusDrop, CorrelationID: e.CorrelationID, Fields: map[string]any{"kind": string(e.Kind)}})
	}
}

// deliver attempts to hand e to s without blocking, reports whether the
// oldest buffered event had to be dropped to make room.
func (b *Bus) deliver(s *subscriber, e Event) (dropped bool) {
	defer func() {
		// A subscriber channel closed concurrently (unsubscribe racing a
		// publish) must never propagate back to the publisher.
		_ = recover()
	}()

	select {
	case s.ch <- e:
		return false
	default:
	}

	// Queue full: drop the oldest event to make room, then deliver the
	// new one. Never block.
	select {
	case <-s.ch:
		dropped = true
	default:
	}
	select {
	case s.ch <- e:
	default:
	}
	return dropped
}

func (b *Bus) recordDrop() {
	b.dropMu.Lock()
	b.dropTotal++
	b.dropMu.Unlock()
}

// DropTotal reports the cumulative number of dropped events across all
// subscribers, for tests and metrics.
func (b *Bus) DropTotal() uint64 {
	b.dropMu.Lock()
	defer b.dropMu.Unlock()
	return b.dropTotal
}

// Enabled reports whether the bus is actively delivering events.
func (b *Bus) Enabled() bool { return b.enabled }
