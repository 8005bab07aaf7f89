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

	flag "github.com/spf13/pflag"

	"github.com/knowctl/knowctl/pkg/know/capability"
	"github.com/knowctl/knowctl/pkg/know/capability/analyzer"
	"github.com/knowctl/knowctl/pkg/know/capability/checker"
	"github.com/knowctl/knowctl/pkg/know/capability/converter"
	"github.com/knowctl/knowctl/pkg/know/capability/generator"
	"github.com/knowctl/knowctl/pkg/know/capability/monitor"
	"github.com/knowctl/knowctl/pkg/know/config"
)

// buildRegistry registers every known capability. cmd/knowctl is the only
// place that needs to know the full set; pkg/know/capability itself stays
// agnostic of concrete implementations.
func buildRegistry() *capability.Registry {
	reg := capability.NewRegistry()
	analyzer.RegisterCodesig(reg)
	checker.RegisterBrokenLinks(reg)
	monitor.RegisterHealth(reg)
	converter.RegisterPlaintext(reg)
	generator.RegisterSnippet(reg)
	return reg
}

func runRun(args []string, globals globalFlags) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	contentFile := fs.String("content-file", "", "Path to a file whose content is passed as the capability input")
	name := fs.String("name", "", "Template name (snippet) or source path (checker)")
	params := fs.String("params", "{}", "JSON object of extra capability-specific parameters")
	_ = fs.Parse(args)

	positional := fs.Args()
	if len(positional) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: knowctl run <family> <capability> [flags]")
		os.Exit(2)
	}
	family, capName := capability.Family(positional[0]), positional[1]

	var content string
	if *contentFile != "" {
		data, err := os.ReadFile(*contentFile) //nolint:gosec // operator-supplied CLI path
		if err != nil {
			fatal(err, globals.JSON)
		}
		content = string(data)
	}

	var extra map[string]any
	if err := json.Unmarshal([]byte(*params), &extra); err != nil {
		fmt.Fprintf(os.Stderr, "Error: --params must be a JSON object: %v\n", err)
		os.Exit(2)
	}

	rt := loadRuntime(globals)

	input, err := buildCapabilityInput(rt, family, content, *name, extra)
	if err != nil {
		fatal(err, globals.JSON)
	}

	reg := buildRegistry()
	dispatcher := capability.NewDispatcher(reg, rt.Breakers, rt.Timeouts, rt.Bus)

	result, err := dispatcher.Run(context.Background(), family, capName, input, 0)
	if err != nil {
		fatal(err, globals.JSON)
	}

	if globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]any{
			"outcome": result.Outcome,
			"value":   result.Value,
			"error":   errString(result.Err),
		})
		return
	}

	fmt.Printf("outcome: %s\n", result.Outcome)
	if result.Err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", result.Err)
	}
	if result.Value != nil {
		pretty, _ := json.MarshalIndent(result.Value, "", "  ")
		fmt.Println(string(pretty))
	}
}

func buildCapabilityInput(rt *config.Runtime, family capability.Family, content, nameFlag string, extra map[string]any) (any, error) {
	switch family {
	case capability.FamilyAnalyzer:
		return analyzer.Input{Content: content}, nil
	case capability.FamilyChecker:
		root, _ := extra["content_root"].(string)
		if root == "" {
			root = rt.Settings.ContentRoot
		}
		return checker.Input{Content: content, ContentRoot: root, SourcePath: nameFlag}, nil
	case capability.FamilyMonitor:
		return monitor.Input{Index: rt.Index, Cache: rt.Cache, Breakers: rt.Breakers, Scopes: []string{"io.content"}}, nil
	case capability.FamilyConverter:
		keep, _ := extra["keep_link_targets"].(bool)
		return converter.Input{Content: content, KeepLinkTargets: keep}, nil
	case capability.FamilyGenerator:
		return generator.Input{Name: nameFlag, Body: content, Params: extra}, nil
	default:
		return nil, fmt.Errorf("unknown capability family %q", family)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
