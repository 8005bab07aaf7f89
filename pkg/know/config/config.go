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

// Package config loads and wires the runtime's YAML settings file (spec
// §3's "Ownership" table), following the same find-file, parse, apply
// env-overrides shape as the teacher's cmd/cie project.yaml loader, but
// redomained to knowctl's settings and extended with a Build step that
// constructs every collaborator the loader facade needs.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	ierrors "github.com/knowctl/knowctl/internal/errors"
	"github.com/knowctl/knowctl/pkg/know/breaker"
	"github.com/knowctl/knowctl/pkg/know/cache"
	"github.com/knowctl/knowctl/pkg/know/clock"
	"github.com/knowctl/knowctl/pkg/know/eventbus"
	"github.com/knowctl/knowctl/pkg/know/fallback"
	"github.com/knowctl/knowctl/pkg/know/index"
	"github.com/knowctl/knowctl/pkg/know/layer"
	"github.com/knowctl/knowctl/pkg/know/loader"
	"github.com/knowctl/knowctl/pkg/know/selector"
	"github.com/knowctl/knowctl/pkg/know/timeout"
)

const (
	defaultConfigDir  = ".knowctl"
	defaultConfigFile = "config.yaml"
	configVersion     = "1"
)

// Settings is the on-disk shape of .knowctl/config.yaml.
type Settings struct {
	Version     string          `yaml:"version"`
	ContentRoot string          `yaml:"content_root"`
	Timeouts    TimeoutSettings `yaml:"timeouts"`
	Cache       CacheSettings   `yaml:"cache"`
	Breaker     BreakerSettings `yaml:"circuit_breaker"`
	Loading     LoadingSettings `yaml:"loading"`
	Events      EventsSettings  `yaml:"events"`
}

// TimeoutSettings mirrors timeout.Levels plus the absolute ceiling.
type TimeoutSettings struct {
	CacheMs       int `yaml:"cache_ms"`
	FileMs        int `yaml:"file_ms"`
	LayerMs       int `yaml:"layer_ms"`
	FullMs        int `yaml:"full_ms"`
	ComplexMs     int `yaml:"complex_ms"`
	AbsoluteMaxMs int `yaml:"absolute_max_ms"`
}

// CacheSettings mirrors cache.Config in YAML-friendly units.
type CacheSettings struct {
	MaxEntries  int    `yaml:"max_entries"`
	MaxBytes    int64  `yaml:"max_bytes"`
	TTLSeconds  int    `yaml:"ttl_seconds"`
	StaleForSec int    `yaml:"stale_for_seconds"`
	WarmDir     string `yaml:"warm_dir,omitempty"` // empty disables the on-disk tier
}

// BreakerSettings mirrors breaker.Config.
type BreakerSettings struct {
	FailureThreshold int `yaml:"failure_threshold"`
	ResetTimeoutSec  int `yaml:"reset_timeout_seconds"`
	HalfOpenRequests int `yaml:"half_open_requests"`
}

// LoadingSettings configures the selector and layer loader.
type LoadingSettings struct {
	DefaultLayers []string          `yaml:"default_layers"`
	MaxTokens     int               `yaml:"max_tokens"`
	MaxWorkers    int               `yaml:"max_workers"`
	Triggers      []TriggerSettings `yaml:"triggers"`
}

// TriggerSettings is the YAML form of a selector.Trigger.
type TriggerSettings struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords,omitempty"`
	Pattern  string   `yaml:"pattern,omitempty"`
	Layers   []string `yaml:"layers"`
	Priority string   `yaml:"priority"` // low | medium | high
}

// EventsSettings toggles the event bus.
type EventsSettings struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns sane standalone-deployment defaults, the knowctl
// analogue of the teacher's DefaultConfig.
func Default(contentRoot string) *Settings {
	return &Settings{
		Version:     configVersion,
		ContentRoot: contentRoot,
		Timeouts: TimeoutSettings{
			CacheMs: 100, FileMs: 500, LayerMs: 2000, FullMs: 5000, ComplexMs: 10000,
			AbsoluteMaxMs: 10000,
		},
		Cache: CacheSettings{
			MaxEntries: 10_000, MaxBytes: 256 << 20, TTLSeconds: 30, StaleForSec: 300,
		},
		Breaker: BreakerSettings{
			FailureThreshold: 5, ResetTimeoutSec: 30, HalfOpenRequests: 1,
		},
		Loading: LoadingSettings{
			DefaultLayers: []string{"core"},
			MaxTokens:     8000,
			MaxWorkers:    4,
		},
		Events: EventsSettings{Enabled: true},
	}
}

// Load reads and validates a Settings file, applying environment
// overrides. An empty path triggers upward directory search, same
// shape as the teacher's findConfigFile.
func Load(path string) (*Settings, error) {
	if path == "" {
		path = os.Getenv("KNOWCTL_CONFIG_PATH")
	}
	if path == "" {
		var err error
		path, err = findConfigFile()
		if err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from user config or discovery
	if err != nil {
		return nil, ierrors.NewConfigError(
			"Cannot read configuration file",
			fmt.Sprintf("Failed to read %s", path),
			"Check file permissions and ensure the file exists",
			err,
		)
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, ierrors.NewConfigError(
			"Invalid configuration format",
			"YAML parsing failed - the config file contains syntax errors",
			fmt.Sprintf("Edit %s to fix syntax errors, or run 'knowctl init --force' to recreate", path),
			err,
		)
	}

	if s.Version != configVersion {
		return nil, ierrors.NewConfigError(
			"Unsupported configuration version",
			fmt.Sprintf("Config version '%s' is not supported (expected '%s')", s.Version, configVersion),
			"Run 'knowctl init --force' to regenerate the configuration file",
			nil,
		)
	}

	s.applyEnvOverrides()
	return &s, nil
}

// Save writes Settings to path as YAML, creating parent directories.
func Save(s *Settings, path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return ierrors.NewInternalError(
			"Cannot encode configuration",
			"YAML marshaling failed unexpectedly",
			"This is a bug. Please report it with your configuration details",
			err,
		)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return ierrors.NewPermissionError(
			"Cannot create configuration directory",
			fmt.Sprintf("Permission denied creating %s", filepath.Dir(path)),
			"Check directory permissions or run with appropriate privileges",
			err,
		)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return ierrors.NewPermissionError(
			"Cannot write configuration file",
			fmt.Sprintf("Permission denied writing to %s", path),
			"Check file permissions and ensure sufficient disk space",
			err,
		)
	}
	return nil
}

// Path returns <dir>/.knowctl/config.yaml.
func Path(dir string) string {
	return filepath.Join(dir, defaultConfigDir, defaultConfigFile)
}

// Dir returns <dir>/.knowctl.
func Dir(dir string) string {
	return filepath.Join(dir, defaultConfigDir)
}

func findConfigFile() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", ierrors.NewInternalError(
			"Cannot access working directory",
			"Failed to determine current directory path",
			"Check system permissions and try again",
			err,
		)
	}

	for {
		candidate := Path(dir)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", ierrors.NewConfigError(
		"Configuration not found",
		"No .knowctl/config.yaml file found in current directory or any parent directory",
		"Run 'knowctl init' to create a new configuration",
		nil,
	)
}

func (s *Settings) applyEnvOverrides() {
	if root := os.Getenv("KNOWCTL_CONTENT_ROOT"); root != "" {
		s.ContentRoot = root
	}
	if v := os.Getenv("KNOWCTL_MAX_TOKENS"); v != "" {
		if tokens, err := strconv.Atoi(v); err == nil {
			s.Loading.MaxTokens = tokens
		}
	}
	if v := os.Getenv("KNOWCTL_EVENTS_ENABLED"); v != "" {
		s.Events.Enabled = v != "0" && v != "false"
	}
}

// Runtime bundles every collaborator the loader facade and capability
// dispatcher need, built from Settings by Build.
type Runtime struct {
	Settings  *Settings
	Index     *index.Index
	Cache     *cache.Cache
	Breakers  *breaker.Registry
	Fallback  *fallback.Provider
	Timeouts  *timeout.Manager
	Layer     *layer.Loader
	Bus       *eventbus.Bus
	Clock     clock.Clock
	Logger    *slog.Logger
	Triggers  []selector.Trigger
	Default   []index.LayerID
}

// Build wires a Runtime from Settings, using clock.System and a default
// slog logger when the caller has no reason to override either.
func Build(s *Settings, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	clk := clock.System{}
	bus := eventbus.New(s.Events.Enabled)

	cacheCfg := cache.Config{
		MaxEntries: s.Cache.MaxEntries,
		MaxBytes:   s.Cache.MaxBytes,
		TTL:        time.Duration(s.Cache.TTLSeconds) * time.Second,
		StaleFor:   time.Duration(s.Cache.StaleForSec) * time.Second,
	}
	var warm cache.WarmTier
	if s.Cache.WarmDir != "" {
		dw, err := cache.NewDiskWarmTier(s.Cache.WarmDir)
		if err != nil {
			return nil, ierrors.NewConfigError(
				"Cannot open warm cache directory",
				fmt.Sprintf("Failed to create %s", s.Cache.WarmDir),
				"Check the cache warm_dir setting and directory permissions",
				err,
			)
		}
		warm = dw
	}
	c := cache.New(cacheCfg, clk, bus, warm)

	breakerCfg := breaker.Config{
		FailureThreshold: s.Breaker.FailureThreshold,
		ResetTimeout:     time.Duration(s.Breaker.ResetTimeoutSec) * time.Second,
		HalfOpenRequests: s.Breaker.HalfOpenRequests,
	}
	breakers := breaker.NewRegistry(breakerCfg, clk, bus)

	fb := fallback.New()

	tm := timeout.New(timeout.Levels{
		CacheMs:   s.Timeouts.CacheMs,
		FileMs:    s.Timeouts.FileMs,
		LayerMs:   s.Timeouts.LayerMs,
		FullMs:    s.Timeouts.FullMs,
		ComplexMs: s.Timeouts.ComplexMs,
	}, time.Duration(s.Timeouts.AbsoluteMaxMs)*time.Millisecond, clk)

	maxWorkers := s.Loading.MaxWorkers
	ll := layer.New(c, breakers, fb, tm, bus, logger, maxWorkers)

	ix := index.New(s.ContentRoot)

	triggers, err := buildTriggers(s.Loading.Triggers)
	if err != nil {
		return nil, err
	}

	defaults := make([]index.LayerID, 0, len(s.Loading.DefaultLayers))
	for _, l := range s.Loading.DefaultLayers {
		defaults = append(defaults, index.LayerID(l))
	}

	return &Runtime{
		Settings: s,
		Index:    ix,
		Cache:    c,
		Breakers: breakers,
		Fallback: fb,
		Timeouts: tm,
		Layer:    ll,
		Bus:      bus,
		Clock:    clk,
		Logger:   logger,
		Triggers: triggers,
		Default:  defaults,
	}, nil
}

// NewLoader builds a loader.Loader from a Runtime's collaborators.
func (r *Runtime) NewLoader() *loader.Loader {
	return loader.New(loader.Config{
		Index:         r.Index,
		DefaultLayers: r.Default,
		Triggers:      r.Triggers,
		Cache:         r.Cache,
		Breakers:      r.Breakers,
		Fallback:      r.Fallback,
		Timeouts:      r.Timeouts,
		LayerLoader:   r.Layer,
		Bus:           r.Bus,
		Clock:         r.Clock,
		Logger:        r.Logger,
	})
}

func buildTriggers(specs []TriggerSettings) ([]selector.Trigger, error) {
	triggers := make([]selector.Trigger, 0, len(specs))
	for _, t := range specs {
		trigger := selector.Trigger{
			Name:     t.Name,
			Keywords: t.Keywords,
			Priority: parsePriority(t.Priority),
		}
		if t.Pattern != "" {
			re, err := regexp.Compile(t.Pattern)
			if err != nil {
				return nil, ierrors.NewConfigError(
					"Invalid trigger pattern",
					fmt.Sprintf("Trigger %q has an invalid regular expression: %v", t.Name, err),
					"Fix the pattern or remove it from the trigger definition",
					err,
				)
			}
			trigger.Pattern = re
		}
		for _, l := range t.Layers {
			trigger.Layers = append(trigger.Layers, index.LayerID(l))
		}
		triggers = append(triggers, trigger)
	}
	return triggers, nil
}

func parsePriority(s string) selector.Priority {
	switch s {
	case "high":
		return selector.PriorityHigh
	case "low":
		return selector.PriorityLow
	default:
		return selector.PriorityMedium
	}
}
