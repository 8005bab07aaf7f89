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

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// showProgress reports a live progress bar only when stderr is an actual
// terminal and the caller hasn't asked for quiet/machine-readable output —
// the same isatty gate the teacher applies before drawing anything that
// assumes a redrawable line.
func showProgress(globals globalFlags) bool {
	if globals.JSON || globals.Quiet {
		return false
	}
	return isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
}

func runReindex(args []string, globals globalFlags) {
	rt := loadRuntime(globals)

	if showProgress(globals) {
		var bar *progressbar.ProgressBar
		rt.Index.SetProgress(func(done, total int) {
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetDescription("Scanning content root"),
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionClearOnFinish(),
				)
			}
			_ = bar.Set(done)
		})
		defer rt.Index.SetProgress(nil)
	}

	snap, err := rt.Index.Scan(context.Background())
	if err != nil {
		fatal(err, globals.JSON)
	}

	layers := snap.LayerIDs()
	fileCount := 0
	for _, l := range layers {
		fileCount += len(snap.Files(l))
	}

	if globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]any{"layers": layers, "files": fileCount})
		return
	}

	if !globals.Quiet {
		fmt.Printf("%s Scanned %s: %d layers, %d files\n", color.GreenString("✓"), rt.Settings.ContentRoot, len(layers), fileCount)
		for _, l := range layers {
			fmt.Printf("  %-20s %d files\n", l, len(snap.Files(l)))
		}
	}
}
