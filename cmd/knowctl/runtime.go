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
	"log/slog"
	"os"
	"path/filepath"

	ierrors "github.com/knowctl/knowctl/internal/errors"
	"github.com/knowctl/knowctl/pkg/know/config"
)

// loadRuntime loads settings (from globals.ConfigPath or auto-discovery)
// and wires every collaborator the loader facade and capability
// dispatcher need.
func loadRuntime(globals globalFlags) *config.Runtime {
	settings, err := config.Load(globals.ConfigPath)
	if err != nil {
		fatal(err, globals.JSON)
	}

	level := slog.LevelWarn
	switch {
	case globals.Verbose >= 2:
		level = slog.LevelDebug
	case globals.Verbose == 1:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	rt, err := config.Build(settings, logger)
	if err != nil {
		fatal(err, globals.JSON)
	}
	return rt
}

func absPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", ierrors.NewInternalError(
			"Cannot resolve path",
			"Failed to determine the absolute path for "+p,
			"Check that the path is valid",
			err,
		)
	}
	return abs, nil
}
