// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package selector

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowctl/knowctl/pkg/know/index"
)

func snapWithLayerSizes(sizes map[index.LayerID]int64) *index.Snapshot {
	layers := make(map[index.LayerID][]index.FileRef)
	for layer, size := range sizes {
		layers[layer] = []index.FileRef{{Layer: layer, RelPath: string(layer) + "/a.md", Size: size}}
	}
	return &index.Snapshot{Layers: layers}
}

func TestSelectSeedsWithDefaultLayers(t *testing.T) {
	sel := Select(Request{Task: ""}, []index.LayerID{"core", "guidelines"}, nil, nil)
	assert.Equal(t, []index.LayerID{"core", "guidelines"}, sel.Admitted)
	assert.Empty(t, sel.Warnings)
}

func TestSelectOrdersTriggeredLayersByPriorityThenInsertion(t *testing.T) {
	triggers := []Trigger{
		{Name: "low-trigger", Keywords: []string{"widget"}, Layers: []index.LayerID{"practices"}, Priority: PriorityLow},
		{Name: "high-trigger", Keywords: []string{"security"}, Layers: []index.LayerID{"frameworks"}, Priority: PriorityHigh},
		{Name: "medium-trigger", Keywords: []string{"security"}, Layers: []index.LayerID{"scenarios"}, Priority: PriorityMedium},
	}
	sel := Select(Request{Task: "review this widget for security issues"}, []index.LayerID{"core"}, triggers, nil)
	require.Equal(t, []index.LayerID{"core", "frameworks", "scenarios", "practices"}, sel.Admitted)
}

func TestSelectDedupsToFirstOccurrence(t *testing.T) {
	triggers := []Trigger{
		{Name: "t1", Keywords: []string{"auth"}, Layers: []index.LayerID{"core", "frameworks"}, Priority: PriorityHigh},
	}
	sel := Select(Request{Task: "auth flow"}, []index.LayerID{"core"}, triggers, nil)
	assert.Equal(t, []index.LayerID{"core", "frameworks"}, sel.Admitted)
}

func TestSelectExplicitLayersBypassDefaultsAndTriggers(t *testing.T) {
	triggers := []Trigger{
		{Name: "t1", Keywords: []string{"auth"}, Layers: []index.LayerID{"frameworks"}, Priority: PriorityHigh},
	}
	sel := Select(Request{Task: "auth flow", ExplicitLayers: []index.LayerID{"templates"}}, []index.LayerID{"core"}, triggers, nil)
	assert.Equal(t, []index.LayerID{"templates"}, sel.Admitted)
}

func TestSelectAppliesTokenBudgetAndMarksRemainingSkipped(t *testing.T) {
	snap := snapWithLayerSizes(map[index.LayerID]int64{
		"core":      400, // ~100 tokens
		"practices": 400,
		"scenarios": 400,
	})
	sel := Select(Request{Task: "", TokenBudget: 150}, []index.LayerID{"core", "practices", "scenarios"}, nil, snap)

	assert.Equal(t, []index.LayerID{"core"}, sel.Admitted)
	require.Len(t, sel.Warnings, 2)
	assert.Contains(t, sel.Warnings[0], "practices")
	assert.Contains(t, sel.Warnings[1], "scenarios")
}

func TestSelectRegexTriggerMatches(t *testing.T) {
	triggers := []Trigger{
		{Name: "re", Pattern: regexp.MustCompile(`(?i)sql\s+injection`), Layers: []index.LayerID{"frameworks"}, Priority: PriorityHigh},
	}
	sel := Select(Request{Task: "check for SQL Injection risks"}, nil, triggers, nil)
	assert.Equal(t, []index.LayerID{"frameworks"}, sel.Admitted)
}

func TestSelectNoBudgetAdmitsEverything(t *testing.T) {
	snap := snapWithLayerSizes(map[index.LayerID]int64{"core": 1_000_000})
	sel := Select(Request{}, []index.LayerID{"core"}, nil, snap)
	assert.Equal(t, []index.LayerID{"core"}, sel.Admitted)
	assert.Empty(t, sel.Warnings)
}
