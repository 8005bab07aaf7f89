// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package timeout implements the five named deadlines T1..T5 and the
// deadline-composition rules of spec §4.7.
package timeout

import (
	"context"
	"errors"
	"time"

	"github.com/knowctl/knowctl/pkg/know/clock"
)

// Level is one of the five canonical timeout levels.
type Level int

const (
	Cache   Level = iota // T1
	File                 // T2
	Layer                // T3
	Full                 // T4
	Complex              // T5
)

func (l Level) String() string {
	switch l {
	case Cache:
		return "cache"
	case File:
		return "file"
	case Layer:
		return "layer"
	case Full:
		return "full"
	case Complex:
		return "complex"
	default:
		return "unknown"
	}
}

// Levels holds the configured duration for each of T1..T5 (spec §3).
type Levels struct {
	CacheMs   int
	FileMs    int
	LayerMs   int
	FullMs    int
	ComplexMs int
}

// DefaultLevels matches the spec's documented defaults: 100/500/2000/5000/10000ms.
func DefaultLevels() Levels {
	return Levels{CacheMs: 100, FileMs: 500, LayerMs: 2000, FullMs: 5000, ComplexMs: 10000}
}

func (l Levels) duration(level Level) time.Duration {
	switch level {
	case Cache:
		return time.Duration(l.CacheMs) * time.Millisecond
	case File:
		return time.Duration(l.FileMs) * time.Millisecond
	case Layer:
		return time.Duration(l.LayerMs) * time.Millisecond
	case Full:
		return time.Duration(l.FullMs) * time.Millisecond
	case Complex:
		return time.Duration(l.ComplexMs) * time.Millisecond
	default:
		return time.Duration(l.FullMs) * time.Millisecond
	}
}

// ErrTimeout classifies a deadline-elapsed outcome, as spec §4.7 requires.
var ErrTimeout = errors.New("timeout")

// Manager composes deadlines and applies them around fallible calls. It
// enforces an absolute ceiling (config timeout.absoluteMaxMs) on any
// single call regardless of level or override.
type Manager struct {
	levels      Levels
	absoluteMax time.Duration
	clk         clock.Clock
}

// New constructs a Manager. absoluteMax of 0 means "no extra ceiling
// beyond 10s", matching the spec's documented default.
func New(levels Levels, absoluteMax time.Duration, clk clock.Clock) *Manager {
	if absoluteMax <= 0 {
		absoluteMax = 10 * time.Second
	}
	return &Manager{levels: levels, absoluteMax: absoluteMax, clk: clk}
}

// Effective returns the duration that will actually be applied for level,
// honoring an optional per-call override (0 means "no override") and the
// absolute ceiling.
func (m *Manager) Effective(level Level, overrideMs int) time.Duration {
	d := m.levels.duration(level)
	if overrideMs > 0 {
		d = time.Duration(overrideMs) * time.Millisecond
	}
	if d > m.absoluteMax {
		d = m.absoluteMax
	}
	return d
}

// WithDeadline derives a child context bounded by min(parent deadline,
// level duration, override), per spec §4.7.
func (m *Manager) WithDeadline(ctx context.Context, level Level, overrideMs int) (context.Context, context.CancelFunc) {
	return clock.WithDeadline(ctx, m.clk, m.Effective(level, overrideMs))
}

// Result is what Run returns: either a value, or a classification of why
// there is none.
type Result[T any] struct {
	Value    T
	Elapsed  time.Duration
	TimedOut bool
	Err      error
}

// Run executes fn under a deadline derived from level/overrideMs, composed
// with ctx's existing deadline. It reports elapsed wall time and whether
// the failure (if any) was specifically a deadline timeout, so callers
// can distinguish "timeout" from "fn's own error" per spec §4.14.
func Run[T any](ctx context.Context, m *Manager, level Level, overrideMs int, fn func(context.Context) (T, error)) Result[T] {
	start := m.clk.Now()
	dctx, cancel := m.WithDeadline(ctx, level, overrideMs)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(dctx)
		done <- outcome{val: v, err: err}
	}()

	select {
	case o := <-done:
		elapsed := m.clk.Now().Sub(start)
		if o.err != nil && dctx.Err() != nil {
			return Result[T]{Elapsed: elapsed, TimedOut: true, Err: ErrTimeout}
		}
		return Result[T]{Value: o.val, Elapsed: elapsed, Err: o.err}
	case <-dctx.Done():
		elapsed := m.clk.Now().Sub(start)
		return Result[T]{Elapsed: elapsed, TimedOut: true, Err: ErrTimeout}
	}
}
