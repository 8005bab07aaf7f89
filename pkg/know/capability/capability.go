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

// Package capability implements the Capability Registry / Dispatcher (spec
// §4.13): a (family, name)-keyed registry of pluggable operations, each run
// under its own deadline and a breaker scoped to its family.
package capability

import (
	"context"
	"fmt"
	"sync"

	ierrors "github.com/knowctl/knowctl/internal/errors"
	"github.com/knowctl/knowctl/pkg/know/breaker"
	"github.com/knowctl/knowctl/pkg/know/eventbus"
	"github.com/knowctl/knowctl/pkg/know/timeout"
)

// Family is one of the five capability variants named by the spec.
type Family string

const (
	FamilyAnalyzer  Family = "analyzer"
	FamilyChecker   Family = "checker"
	FamilyMonitor   Family = "monitor"
	FamilyConverter Family = "converter"
	FamilyGenerator Family = "generator"
)

// Key identifies one capability in the registry.
type Key struct {
	Family Family
	Name   string
}

func (k Key) String() string { return string(k.Family) + "." + k.Name }

// Descriptor documents one registered capability (spec §3).
type Descriptor struct {
	Name                string
	Family              Family
	Version             string
	InputKind           string
	OutputKind          string
	DefaultTimeoutLevel timeout.Level
}

// Func is the actual invocable behavior behind a Descriptor.
type Func func(ctx context.Context, input any) (any, error)

type registration struct {
	descriptor Descriptor
	fn         Func
}

// Registry holds registered capabilities keyed by (family, name).
type Registry struct {
	mu    sync.RWMutex
	byKey map[Key]registration
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[Key]registration)}
}

// Register adds a capability. Re-registering the same (family, name)
// replaces the previous entry — useful for tests swapping in fakes.
func (r *Registry) Register(d Descriptor, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[Key{Family: d.Family, Name: d.Name}] = registration{descriptor: d, fn: fn}
}

// Lookup returns the descriptor for (family, name), if registered.
func (r *Registry) Lookup(family Family, name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byKey[Key{Family: family, Name: name}]
	return reg.descriptor, ok
}

// Descriptors returns every registered descriptor, for adapters that list
// available capabilities (e.g. MCP tool discovery).
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.byKey))
	for _, reg := range r.byKey {
		out = append(out, reg.descriptor)
	}
	return out
}

// Outcome classifies how a dispatch attempt concluded, beyond a plain
// success value (spec §4.13 step 5).
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeTimeout       Outcome = "timeout"
	OutcomeCircuitOpen   Outcome = "circuit_open"
	OutcomeInvocationErr Outcome = "invocation_error"
)

// Result is the typed return of a dispatch.
type Result struct {
	Outcome Outcome
	Value   any
	Err     error
}

// Dispatcher runs capabilities through their family breaker and deadline.
type Dispatcher struct {
	registry *Registry
	breakers *breaker.Registry
	timeouts *timeout.Manager
	bus      *eventbus.Bus
}

// NewDispatcher constructs a Dispatcher over registry.
func NewDispatcher(registry *Registry, breakers *breaker.Registry, timeouts *timeout.Manager, bus *eventbus.Bus) *Dispatcher {
	return &Dispatcher{registry: registry, breakers: breakers, timeouts: timeouts, bus: bus}
}

// Run executes the (family, name) capability against input (spec §4.13).
// It returns a *ierrors.UserError only for an unknown descriptor
// (BadRequest); every other failure mode is reported via Result.Outcome.
func (d *Dispatcher) Run(ctx context.Context, family Family, name string, input any, overrideMs int) (Result, error) {
	desc, ok := d.registry.Lookup(family, name)
	if !ok {
		return Result{}, ierrors.NewBadRequestError(
			"unknown capability",
			fmt.Sprintf("no capability registered for %s.%s", family, name),
			"check the capability name and family against the registry listing",
			nil,
		)
	}

	scope := "capability." + string(family)
	b := d.breakers.Get(scope)
	d.publish(eventbus.CapabilityStart, family, name)

	if err := b.Allow(); err != nil {
		return Result{Outcome: OutcomeCircuitOpen, Err: err}, nil
	}

	reg, _ := d.registry.lookupFunc(family, name)
	tres := timeout.Run(ctx, d.timeouts, desc.DefaultTimeoutLevel, overrideMs, func(cctx context.Context) (any, error) {
		return reg(cctx, input)
	})

	if tres.TimedOut {
		b.Failure()
		d.publish(eventbus.CapabilityTimeout, family, name)
		return Result{Outcome: OutcomeTimeout, Err: tres.Err}, nil
	}
	if tres.Err != nil {
		b.Failure()
		d.publish(eventbus.CapabilityComplete, family, name)
		return Result{Outcome: OutcomeInvocationErr, Err: tres.Err}, nil
	}

	b.Success()
	d.publish(eventbus.CapabilityComplete, family, name)
	return Result{Outcome: OutcomeSuccess, Value: tres.Value}, nil
}

func (r *Registry) lookupFunc(family Family, name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byKey[Key{Family: family, Name: name}]
	return reg.fn, ok
}

func (d *Dispatcher) publish(kind eventbus.Kind, family Family, name string) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Kind: kind, Fields: map[string]any{"family": string(family), "name": name}})
}
