// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package breaker implements the three-state circuit breaker (spec §4.6)
// that guards any fallible operation. Breakers are named and scoped —
// failures in "io.content" never trip "capability.checker" — and every
// state transition happens under a single mutex per breaker.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/knowctl/knowctl/pkg/know/clock"
	"github.com/knowctl/knowctl/pkg/know/eventbus"
)

// State is one of the three circuit-breaker states.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "halfopen"
)

// Config tunes one breaker's thresholds (spec §4.2).
type Config struct {
	FailureThreshold int           // consecutive failures before Closed -> Open
	ResetTimeout     time.Duration // Open -> HalfOpen waiting period
	HalfOpenRequests int           // successes required to re-close
}

// DefaultConfig matches the spec's illustrative defaults.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, ResetTimeout: 30 * time.Second, HalfOpenRequests: 1}
}

// Breaker is a single named circuit breaker instance. Every method,
// State() included, takes the breaker's mutex.
type Breaker struct {
	name string
	cfg  Config
	clk  clock.Clock
	bus  *eventbus.Bus

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	halfOpenInFlight    int
	halfOpenSuccesses   int
}

// New constructs a breaker named scope. scope is only used for event
// fields/metrics labels — state is never shared across Breaker instances.
func New(scope string, cfg Config, clk clock.Clock, bus *eventbus.Bus) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.HalfOpenRequests <= 0 {
		cfg.HalfOpenRequests = 1
	}
	return &Breaker{name: scope, cfg: cfg, clk: clk, bus: bus, state: Closed}
}

// Name returns the breaker's scope name.
func (b *Breaker) Name() string { return b.name }

// ErrOpen is returned by Allow when the breaker is rejecting calls.
type ErrOpen struct{ Scope string }

func (e *ErrOpen) Error() string { return "circuit breaker open: " + e.Scope }

// IsOpen reports whether err (or something it wraps) is an ErrOpen.
func IsOpen(err error) bool {
	var eo *ErrOpen
	return errors.As(err, &eo)
}

// State returns the current state, transitioning Open -> HalfOpen first
// if the reset timeout has elapsed. Safe for concurrent use.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransitionToHalfOpenLocked()
	return b.state
}

func (b *Breaker) maybeTransitionToHalfOpenLocked() {
	if b.state == Open && b.clk.Now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		b.state = HalfOpen
		b.halfOpenInFlight = 0
		b.halfOpenSuccesses = 0
		b.publish(eventbus.BreakerHalfOpen)
	}
}

// Allow decides whether a call may proceed. It returns ErrOpen when the
// breaker is Open (or HalfOpen with no probe slots free). On success the
// caller MUST call either Success or Failure exactly once.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeTransitionToHalfOpenLocked()

	switch b.state {
	case Open:
		return &ErrOpen{Scope: b.name}
	case HalfOpen:
		if b.halfOpenInFlight >= b.cfg.HalfOpenRequests {
			return &ErrOpen{Scope: b.name}
		}
		b.halfOpenInFlight++
		return nil
	default: // Closed
		return nil
	}
}

// Success records a successful call.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.halfOpenInFlight--
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.HalfOpenRequests {
			b.state = Closed
			b.consecutiveFailures = 0
			b.halfOpenSuccesses = 0
			b.publish(eventbus.BreakerClose)
		}
	case Closed:
		b.consecutiveFailures = 0
	}
}

// Failure records a failed call.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.halfOpenInFlight--
		b.openLocked()
	case Closed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.openLocked()
		}
	}
}

func (b *Breaker) openLocked() {
	b.state = Open
	b.openedAt = b.clk.Now()
	b.consecutiveFailures = 0
	b.halfOpenSuccesses = 0
	b.halfOpenInFlight = 0
	b.publish(eventbus.BreakerOpen)
}

// reset forces the breaker back to Closed with clean counters, e.g. for an
// operator-triggered reset. Does not publish a transition event; resets
// are an administrative override, not an observed state change.
func (b *Breaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.consecutiveFailures = 0
	b.halfOpenInFlight = 0
	b.halfOpenSuccesses = 0
	b.openedAt = time.Time{}
}

func (b *Breaker) publish(kind eventbus.Kind) {
	if b.bus == nil {
		return
	}
	b.bus.Publish(eventbus.Event{Kind: kind, Fields: map[string]any{"scope": b.name}})
}

// Registry hands out named breakers, creating one lazily on first use and
// reusing it afterward (spec §4.6: "per named scope isolation" — e.g.
// "io.content", "capability.analyzer"). Safe for concurrent use.
type Registry struct {
	cfg Config
	clk clock.Clock
	bus *eventbus.Bus

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry constructs a Registry; every breaker it creates shares cfg,
// clk and bus.
func NewRegistry(cfg Config, clk clock.Clock, bus *eventbus.Bus) *Registry {
	return &Registry{cfg: cfg, clk: clk, bus: bus, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for scope, creating it on first use.
func (r *Registry) Get(scope string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[scope]; ok {
		return b
	}
	b := New(scope, r.cfg, r.clk, r.bus)
	r.breakers[scope] = b
	return b
}

// Reset forces every known breaker back to Closed, e.g. for an
// operator-triggered reset command.
func (r *Registry) Reset() {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()
	for _, b := range breakers {
		b.reset()
	}
}

// Do runs fn if the breaker allows it, recording the outcome. Any non-nil
// err from fn is recorded as a failure and a nil error as a success.
// Returns ErrOpen
// without invoking fn when the breaker rejects the call.
func Do[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	if err := b.Allow(); err != nil {
		return zero, err
	}
	result, err := fn()
	if err != nil {
		b.Failure()
		return zero, err
	}
	b.Success()
	return result, nil
}
