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
	"bufio"
	"fmt"
	"os"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"
)

// runReset clears the hot cache and forces every circuit breaker closed.
// It is destructive to in-memory state only — no content files are
// touched — but still asks for confirmation unless --yes is passed, the
// same guard the teacher's reset command uses for its destructive path.
func runReset(args []string, globals globalFlags) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	yes := fs.BoolP("yes", "y", false, "Skip the confirmation prompt")
	_ = fs.Parse(args)

	if !*yes && !globals.Quiet {
		fmt.Print("This clears the in-memory cache and resets all circuit breakers. Continue? [y/N] ")
		reader := bufio.NewReader(os.Stdin)
		line, _ := reader.ReadString('\n')
		if line != "y\n" && line != "Y\n" && line != "yes\n" {
			fmt.Println("Aborted.")
			return
		}
	}

	rt := loadRuntime(globals)
	rt.Cache.Clear()
	rt.Breakers.Reset()

	if !globals.Quiet {
		fmt.Printf("%s Cache cleared, all breakers closed\n", color.GreenString("✓"))
	}
}
