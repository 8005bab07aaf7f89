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

// Package monitor implements the "monitor" capability family (spec
// §4.13): capabilities that report on the runtime's own state. Health
// aggregates breaker, cache and index status into one snapshot, in the
// same "run several small queries, tolerate individual failures, compose a
// report" style as the teacher's index-status tool.
package monitor

import (
	"context"
	"fmt"

	"github.com/knowctl/knowctl/pkg/know/breaker"
	"github.com/knowctl/knowctl/pkg/know/cache"
	"github.com/knowctl/knowctl/pkg/know/capability"
	"github.com/knowctl/knowctl/pkg/know/index"
	"github.com/knowctl/knowctl/pkg/know/timeout"
)

// Input is the health capability's request payload.
type Input struct {
	Index    *index.Index
	Cache    *cache.Cache
	Breakers *breaker.Registry
	Scopes   []string // breaker scopes to report; empty reports none
}

// Output is the health capability's response payload.
type Output struct {
	IndexLoaded   bool
	LayerCount    int
	FileCount     int
	CacheEntries  int
	BreakerStates map[string]breaker.State
}

// RegisterHealth registers the "health" monitor capability.
func RegisterHealth(registry *capability.Registry) {
	registry.Register(capability.Descriptor{
		Name:                "health",
		Family:              capability.FamilyMonitor,
		Version:             "1.0.0",
		InputKind:           "monitor.Input",
		OutputKind:          "monitor.Output",
		DefaultTimeoutLevel: timeout.Cache,
	}, runHealth)
}

func runHealth(ctx context.Context, raw any) (any, error) {
	input, ok := raw.(Input)
	if !ok {
		return nil, fmt.Errorf("health: expected monitor.Input, got %T", raw)
	}

	out := Output{BreakerStates: make(map[string]breaker.State, len(input.Scopes))}

	if input.Index != nil {
		if snap := input.Index.Current(); snap != nil {
			out.IndexLoaded = true
			layers := snap.LayerIDs()
			out.LayerCount = len(layers)
			for _, l := range layers {
				out.FileCount += len(snap.Files(l))
			}
		}
	}

	if input.Cache != nil {
		out.CacheEntries = input.Cache.Len()
	}

	if input.Breakers != nil {
		for _, scope := range input.Scopes {
			out.BreakerStates[scope] = input.Breakers.Get(scope).State()
		}
	}

	return out, nil
}
