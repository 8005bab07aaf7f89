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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/knowctl/knowctl/pkg/know/index"
	"github.com/knowctl/knowctl/pkg/know/loader"
)

func runGet(args []string, globals globalFlags) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	task := fs.String("task", "", "Task description driving layer selection")
	layersFlag := fs.String("layers", "", "Comma-separated explicit layers, bypassing trigger selection")
	budget := fs.Int("budget", 0, "Token budget override (0 uses the configured default)")
	timeoutMs := fs.Int("timeout-ms", 0, "Override the overall deadline in milliseconds")
	_ = fs.Parse(args)

	if *task == "" && *layersFlag == "" {
		fmt.Fprintln(os.Stderr, "Error: --task or --layers is required")
		os.Exit(2)
	}

	rt := loadRuntime(globals)
	if _, err := rt.Index.Scan(context.Background()); err != nil {
		fatal(err, globals.JSON)
	}

	req := loader.Request{
		Task:              *task,
		TokenBudget:       *budget,
		OverrideTimeoutMs: *timeoutMs,
	}
	if *budget == 0 {
		req.TokenBudget = rt.Settings.Loading.MaxTokens
	}
	if *layersFlag != "" {
		for _, l := range strings.Split(*layersFlag, ",") {
			l = strings.TrimSpace(l)
			if l != "" {
				req.ExplicitLayers = append(req.ExplicitLayers, index.LayerID(l))
			}
		}
	}

	ld := rt.NewLoader()
	res, err := ld.Load(context.Background(), req)
	if err != nil {
		fatal(err, globals.JSON)
	}

	if globals.JSON {
		printGetResultJSON(res)
		return
	}

	if !globals.Quiet {
		fmt.Fprintf(os.Stderr, "status=%s layers=%v duration_ms=%d tokens~%d\n",
			res.Status, res.LayersLoaded, res.DurationMs, res.ApproximateTokens)
		for _, w := range res.Warnings {
			fmt.Fprintf(os.Stderr, "warning: %s\n", w)
		}
	}
	os.Stdout.Write(res.Content)
}

func printGetResultJSON(res loader.Result) {
	out := map[string]any{
		"status":             res.Status,
		"layers_loaded":      res.LayersLoaded,
		"layers_requested":   res.LayersRequested,
		"duration_ms":        res.DurationMs,
		"approximate_tokens": res.ApproximateTokens,
		"warnings":           res.Warnings,
		"correlation_id":     res.CorrelationID,
		"content":            string(res.Content),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}
