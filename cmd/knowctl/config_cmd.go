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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"

	"github.com/knowctl/knowctl/pkg/know/config"
)

// configOutput is the JSON-friendly projection of config.Settings. It
// exists separately from Settings so the on-disk YAML shape and the
// externally consumed JSON shape can evolve independently.
type configOutput struct {
	ConfigPath  string                 `json:"config_path"`
	Version     string                 `json:"version"`
	ContentRoot string                 `json:"content_root"`
	Timeouts    config.TimeoutSettings `json:"timeouts"`
	Cache       config.CacheSettings   `json:"cache"`
	Breaker     config.BreakerSettings `json:"circuit_breaker"`
	Loading     config.LoadingSettings `json:"loading"`
	Events      config.EventsSettings  `json:"events"`
}

// runConfigCmd displays the effective configuration: the file on disk
// plus any environment overrides already folded in by config.Load.
func runConfigCmd(args []string, globals globalFlags) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	_ = fs.Parse(args)

	cfgPath := globals.ConfigPath
	var err error
	if cfgPath == "" {
		cfgPath, err = resolveConfigPath()
		if err != nil {
			fatal(err, globals.JSON)
		}
	}
	if abs, absErr := filepath.Abs(cfgPath); absErr == nil {
		cfgPath = abs
	}

	settings, err := config.Load(globals.ConfigPath)
	if err != nil {
		fatal(err, globals.JSON)
	}

	out := configOutput{
		ConfigPath:  cfgPath,
		Version:     settings.Version,
		ContentRoot: settings.ContentRoot,
		Timeouts:    settings.Timeouts,
		Cache:       settings.Cache,
		Breaker:     settings.Breaker,
		Loading:     settings.Loading,
		Events:      settings.Events,
	}

	if globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
		return
	}

	printConfigHuman(out)
}

// resolveConfigPath locates the config file without requiring the
// caller to load (and thus validate) it first, so the path can still be
// reported alongside a load error.
func resolveConfigPath() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		candidate := config.Path(dir)
		if _, statErr := os.Stat(candidate); statErr == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return config.Path(dir), nil
		}
		dir = parent
	}
}

func printConfigHuman(cfg configOutput) {
	bold := color.New(color.Bold)
	bold.Println("knowctl Configuration")
	fmt.Printf("  Config File:    %s\n", color.HiBlackString(cfg.ConfigPath))
	fmt.Printf("  Version:        %s\n", cfg.Version)
	fmt.Printf("  Content Root:   %s\n", cfg.ContentRoot)
	fmt.Println()

	bold.Println("Timeouts (spec §4.2):")
	fmt.Printf("  T1 Cache:       %dms\n", cfg.Timeouts.CacheMs)
	fmt.Printf("  T2 File:        %dms\n", cfg.Timeouts.FileMs)
	fmt.Printf("  T3 Layer:       %dms\n", cfg.Timeouts.LayerMs)
	fmt.Printf("  T4 Full:        %dms\n", cfg.Timeouts.FullMs)
	fmt.Printf("  T5 Complex:     %dms\n", cfg.Timeouts.ComplexMs)
	fmt.Printf("  Absolute Max:   %dms\n", cfg.Timeouts.AbsoluteMaxMs)
	fmt.Println()

	bold.Println("Cache:")
	fmt.Printf("  Max Entries:    %d\n", cfg.Cache.MaxEntries)
	fmt.Printf("  Max Bytes:      %d\n", cfg.Cache.MaxBytes)
	fmt.Printf("  TTL:            %ds\n", cfg.Cache.TTLSeconds)
	fmt.Printf("  Stale For:      %ds\n", cfg.Cache.StaleForSec)
	if cfg.Cache.WarmDir != "" {
		fmt.Printf("  Warm Dir:       %s\n", cfg.Cache.WarmDir)
	}
	fmt.Println()

	bold.Println("Circuit Breaker:")
	fmt.Printf("  Failure Threshold: %d\n", cfg.Breaker.FailureThreshold)
	fmt.Printf("  Reset Timeout:     %ds\n", cfg.Breaker.ResetTimeoutSec)
	fmt.Printf("  Half-Open Probes:  %d\n", cfg.Breaker.HalfOpenRequests)
	fmt.Println()

	bold.Println("Loading:")
	fmt.Printf("  Default Layers: %v\n", cfg.Loading.DefaultLayers)
	fmt.Printf("  Max Tokens:     %d\n", cfg.Loading.MaxTokens)
	fmt.Printf("  Max Workers:    %d\n", cfg.Loading.MaxWorkers)
	if len(cfg.Loading.Triggers) > 0 {
		fmt.Printf("  Triggers:       %d configured\n", len(cfg.Loading.Triggers))
		for _, t := range cfg.Loading.Triggers {
			fmt.Printf("                  - %s -> %v (%s)\n", t.Name, t.Layers, t.Priority)
		}
	}
	fmt.Println()

	bold.Println("Events:")
	fmt.Printf("  Enabled:        %v\n", cfg.Events.Enabled)
}
