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

// Package loader implements the Knowledge Loader facade (spec §4.12): the
// single top-level Load operation that orchestrates the selector, cache,
// layer loader, circuit breaker and event bus under one overall deadline
// and never raises an error to the caller except for a malformed request.
package loader

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"time"

	ierrors "github.com/knowctl/knowctl/internal/errors"
	"github.com/knowctl/knowctl/pkg/know/breaker"
	"github.com/knowctl/knowctl/pkg/know/cache"
	"github.com/knowctl/knowctl/pkg/know/clock"
	"github.com/knowctl/knowctl/pkg/know/eventbus"
	"github.com/knowctl/knowctl/pkg/know/fallback"
	"github.com/knowctl/knowctl/pkg/know/fingerprint"
	"github.com/knowctl/knowctl/pkg/know/index"
	"github.com/knowctl/knowctl/pkg/know/layer"
	"github.com/knowctl/knowctl/pkg/know/selector"
	"github.com/knowctl/knowctl/pkg/know/timeout"
)

// Status classifies the outcome of a Load call (spec §3 LoadResult).
type Status string

const (
	StatusSuccess     Status = "success"
	StatusPartial     Status = "partial"
	StatusFallback    Status = "fallback"
	StatusTimeout     Status = "timeout"
	StatusCircuitOpen Status = "circuit_open"
)

// Request mirrors spec §3 LoadRequest. At least one of Task or
// ExplicitLayers must be set; violating this is the loader's one rejected
// (typed-error) case.
type Request struct {
	Task              string
	ExplicitLayers    []index.LayerID
	TokenBudget       int
	OverrideTimeoutMs int
	CorrelationID     string
}

// Result mirrors spec §3 LoadResult.
type Result struct {
	Content           []byte
	Status            Status
	LayersLoaded      []index.LayerID
	LayersRequested   []index.LayerID
	DurationMs        int64
	ApproximateTokens int
	Warnings          []string
	CorrelationID     string
}

// Loader owns the Cache, breaker Registry, KnowledgeIndex and EventBus
// handle (spec §3 "Ownership"). Adapters hold only a reference to it.
type Loader struct {
	index        *index.Index
	selectLayers []index.LayerID
	triggers     []selector.Trigger
	cache        *cache.Cache
	breakers     *breaker.Registry
	fallback     *fallback.Provider
	timeouts     *timeout.Manager
	layerLoader  *layer.Loader
	bus          *eventbus.Bus
	clk          clock.Clock
	logger       *slog.Logger
}

// Config bundles the loader's collaborators, built by the adapter layer
// from the merged runtime configuration.
type Config struct {
	Index         *index.Index
	DefaultLayers []index.LayerID
	Triggers      []selector.Trigger
	Cache         *cache.Cache
	Breakers      *breaker.Registry
	Fallback      *fallback.Provider
	Timeouts      *timeout.Manager
	LayerLoader   *layer.Loader
	Bus           *eventbus.Bus
	Clock         clock.Clock
	Logger        *slog.Logger
}

// New constructs a Loader from its collaborators.
func New(cfg Config) *Loader {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System{}
	}
	return &Loader{
		index:        cfg.Index,
		selectLayers: cfg.DefaultLayers,
		triggers:     cfg.Triggers,
		cache:        cfg.Cache,
		breakers:     cfg.Breakers,
		fallback:     cfg.Fallback,
		timeouts:     cfg.Timeouts,
		layerLoader:  cfg.LayerLoader,
		bus:          cfg.Bus,
		clk:          clk,
		logger:       logger,
	}
}

// Load runs the full read path (spec §4.12). It never returns a non-nil
// error for read-path failures — those are reflected in Result.Status and
// Result.Warnings — except when req is malformed, which is reported as a
// *ierrors.UserError with Kind BadRequest.
func (l *Loader) Load(ctx context.Context, req Request) (Result, error) {
	if req.Task == "" && len(req.ExplicitLayers) == 0 {
		return Result{}, ierrors.NewBadRequestError(
			"invalid load request",
			"neither task nor explicitLayers was provided",
			"supply a task description or an explicit list of layers",
			nil,
		)
	}

	start := l.clk.Now()
	l.publish(eventbus.LoadStart, req.CorrelationID, nil)

	dctx, cancel := l.timeouts.WithDeadline(ctx, timeout.Full, req.OverrideTimeoutMs)
	defer cancel()

	snap := l.index.Current()
	sel := selector.Select(selector.Request{
		Task:           req.Task,
		ExplicitLayers: req.ExplicitLayers,
		TokenBudget:    req.TokenBudget,
	}, l.selectLayers, l.triggers, snap)

	res := Result{
		LayersRequested: sel.Admitted,
		Warnings:        append([]string{}, sel.Warnings...),
		CorrelationID:   req.CorrelationID,
	}

	contentBreaker := l.breakers.Get("io.content")

	var buf bytes.Buffer
	freshCount := 0
	fallbackCount := 0
	circuitOpenCount := 0
	deadlineHit := false
	cancelled := false

	for i, layerID := range sel.Admitted {
		select {
		case <-dctx.Done():
			deadlineHit = true
			// A cancelled caller context is distinct from the deadline
			// simply elapsing (spec §5: a cancelled request still returns
			// a LoadResult, status partial, with a literal "cancelled"
			// warning rather than a "skipped:deadline:*" one).
			cancelled = errors.Is(dctx.Err(), context.Canceled)
		default:
		}
		if deadlineHit {
			if cancelled {
				res.Warnings = append(res.Warnings, "cancelled")
				for _, remaining := range sel.Admitted[i:] {
					res.Warnings = append(res.Warnings, "skipped:cancelled:"+string(remaining))
				}
			} else {
				for _, remaining := range sel.Admitted[i:] {
					res.Warnings = append(res.Warnings, "skipped:deadline:"+string(remaining))
				}
			}
			break
		}

		l.publish(eventbus.LoadLayerStart, req.CorrelationID, map[string]any{"layer": string(layerID)})

		// Peeking State() (read-only, claims no half-open probe slot) lets
		// us skip straight to layer-level fallback when the breaker is
		// already Open, without double-gating: the actual Allow/Success/
		// Failure bookkeeping for "io.content" happens once, per file,
		// inside layer.Loader's breaker.Do calls below.
		if contentBreaker.State() == breaker.Open {
			circuitOpenCount++
			fallbackCount++
			content, _ := l.fallback.ProvideLayer(layerID)
			writeLayer(&buf, res.LayersLoaded, content)
			res.LayersLoaded = append(res.LayersLoaded, layerID)
			res.Warnings = append(res.Warnings, "fallback:circuit_open:"+string(layerID))
			l.publish(eventbus.LoadLayerFallback, req.CorrelationID, map[string]any{"layer": string(layerID)})
			continue
		}

		lres := l.layerLoader.Load(dctx, snap, layerID)
		switch {
		case len(lres.Warnings) == 0:
			freshCount++
		case allFallbackDueToOpenCircuit(lres.Files):
			circuitOpenCount++
			fallbackCount++
		default:
			fallbackCount++
		}
		if len(lres.Warnings) > 0 {
			res.Warnings = append(res.Warnings, lres.Warnings...)
			l.publish(eventbus.LoadLayerFallback, req.CorrelationID, map[string]any{"layer": string(layerID)})
		}

		writeLayer(&buf, res.LayersLoaded, []byte(lres.Content))
		res.LayersLoaded = append(res.LayersLoaded, layerID)
		l.publish(eventbus.LoadLayerComplete, req.CorrelationID, map[string]any{"layer": string(layerID)})
	}

	res.Content = buf.Bytes()
	res.ApproximateTokens = fingerprint.TokenEstimate(res.Content)
	res.DurationMs = l.clk.Now().Sub(start).Milliseconds()
	res.Status = classifyStatus(cancelled, deadlineHit, freshCount, fallbackCount, circuitOpenCount, len(sel.Admitted), res.Warnings)

	l.publish(eventbus.LoadComplete, req.CorrelationID, map[string]any{
		"status": string(res.Status), "duration_ms": res.DurationMs, "layers_loaded": len(res.LayersLoaded),
	})
	return res, nil
}

func writeLayer(buf *bytes.Buffer, loaded []index.LayerID, content []byte) {
	if len(loaded) > 0 {
		buf.WriteString("\n\n")
	}
	buf.Write(content)
}

// classifyStatus implements spec §4.12 step 6. Order matters: a cancelled
// caller always yields partial regardless of what else happened; otherwise
// circuit_open and timeout are the strongest signals (nothing fresh came
// through at all), partial and fallback are comparatively graceful
// degradations.
func classifyStatus(cancelled, deadlineHit bool, freshCount, fallbackCount, circuitOpenCount, admittedCount int, warnings []string) Status {
	if cancelled {
		return StatusPartial
	}
	if admittedCount > 0 && circuitOpenCount == admittedCount {
		return StatusCircuitOpen
	}
	if deadlineHit && freshCount == 0 {
		return StatusTimeout
	}
	if hasSkipReason(warnings) {
		return StatusPartial
	}
	if fallbackCount > 0 {
		return StatusFallback
	}
	return StatusSuccess
}

// allFallbackDueToOpenCircuit reports whether every file in a layer fell
// back specifically because the shared content breaker rejected it, as
// opposed to an ordinary read failure or timeout. Used to classify the
// whole layer as circuit_open rather than a generic fallback.
func allFallbackDueToOpenCircuit(files []layer.FileOutcome) bool {
	if len(files) == 0 {
		return false
	}
	for _, fo := range files {
		if !fo.Fallback || !breaker.IsOpen(fo.Err) {
			return false
		}
	}
	return true
}

func hasSkipReason(warnings []string) bool {
	for _, w := range warnings {
		if len(w) >= len("skipped:") && w[:len("skipped:")] == "skipped:" {
			return true
		}
	}
	return false
}

func (l *Loader) publish(kind eventbus.Kind, correlationID string, fields map[string]any) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(eventbus.Event{Kind: kind, CorrelationID: correlationID, TimestampNs: time.Now().UnixNano(), Fields: fields})
}
