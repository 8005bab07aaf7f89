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

// Package selector implements the Smart Selector (spec §4.11): a pure
// function mapping a task string plus a token budget to an ordered,
// deduplicated, budget-admitted list of layers. It performs no I/O beyond
// reading sizes already present in an index.Snapshot.
package selector

import (
	"regexp"
	"sort"
	"strings"

	"github.com/knowctl/knowctl/pkg/know/index"
)

// Priority orders trigger-matched layers relative to one another.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

// Trigger maps a task match (regex or keyword list) to target layers at a
// priority. Compiled once at config load; immutable afterward.
type Trigger struct {
	Name     string
	Keywords []string // case-insensitive substring match, any-of
	Pattern  *regexp.Regexp
	Layers   []index.LayerID
	Priority Priority
}

// Matches reports whether task trips this trigger.
func (t Trigger) Matches(task string) bool {
	if task == "" {
		return false
	}
	lower := strings.ToLower(task)
	for _, kw := range t.Keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	if t.Pattern != nil && t.Pattern.MatchString(task) {
		return true
	}
	return false
}

// Request is the selector's input (a subset of loader.LoadRequest).
type Request struct {
	Task           string
	ExplicitLayers []index.LayerID // when non-empty, bypasses default/trigger seeding entirely
	TokenBudget    int             // 0 means "no budget enforced"
}

// Selection is the selector's pure output.
type Selection struct {
	Admitted []index.LayerID
	Warnings []string // "skipped:budget:<layer>"
}

// Select computes the ordered, budget-admitted layer list (spec §4.11).
// defaultLayers seed the result; triggers contribute additional layers by
// priority (high > medium > low) then stable insertion order; duplicates
// collapse to first occurrence; snap supplies per-layer token costs for
// budget admission.
func Select(req Request, defaultLayers []index.LayerID, triggers []Trigger, snap *index.Snapshot) Selection {
	var ordered []index.LayerID
	seen := make(map[index.LayerID]bool)

	add := func(l index.LayerID) {
		if !seen[l] {
			seen[l] = true
			ordered = append(ordered, l)
		}
	}

	if len(req.ExplicitLayers) > 0 {
		for _, l := range req.ExplicitLayers {
			add(l)
		}
	} else {
		for _, l := range defaultLayers {
			add(l)
		}

		type matched struct {
			layer    index.LayerID
			priority Priority
			order    int
		}
		var matches []matched
		order := 0
		for _, trig := range triggers {
			if !trig.Matches(req.Task) {
				continue
			}
			for _, l := range trig.Layers {
				matches = append(matches, matched{layer: l, priority: trig.Priority, order: order})
				order++
			}
		}
		sort.SliceStable(matches, func(i, j int) bool {
			if matches[i].priority != matches[j].priority {
				return matches[i].priority > matches[j].priority
			}
			return matches[i].order < matches[j].order
		})
		for _, m := range matches {
			add(m.layer)
		}
	}

	return applyBudget(ordered, req.TokenBudget, snap)
}

func applyBudget(ordered []index.LayerID, budget int, snap *index.Snapshot) Selection {
	if budget <= 0 || snap == nil {
		return Selection{Admitted: ordered}
	}

	sel := Selection{}
	cumulative := 0
	excluding := false
	for _, layer := range ordered {
		if excluding {
			sel.Warnings = append(sel.Warnings, "skipped:budget:"+string(layer))
			continue
		}
		cost := layerTokenCost(snap, layer)
		if cumulative+cost > budget {
			excluding = true
			sel.Warnings = append(sel.Warnings, "skipped:budget:"+string(layer))
			continue
		}
		cumulative += cost
		sel.Admitted = append(sel.Admitted, layer)
	}
	return sel
}

func layerTokenCost(snap *index.Snapshot, layer index.LayerID) int {
	total := 0
	for _, f := range snap.Files(layer) {
		total += int(f.Size) / 4
	}
	return total
}
