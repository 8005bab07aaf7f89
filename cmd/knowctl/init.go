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
	"fmt"
	"os"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"

	"github.com/knowctl/knowctl/pkg/know/config"
)

func runInit(args []string, globals globalFlags) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	contentRoot := fs.String("content-root", ".", "Root directory of the markdown content tree")
	force := fs.BoolP("force", "f", false, "Overwrite an existing configuration")
	_ = fs.Parse(args)

	dir, err := os.Getwd()
	if err != nil {
		fatal(err, globals.JSON)
	}
	path := config.Path(dir)

	if _, err := os.Stat(path); err == nil && !*force {
		fmt.Fprintf(os.Stderr, "Configuration already exists at %s (use --force to overwrite)\n", path)
		os.Exit(1)
	}

	root, err := absPath(*contentRoot)
	if err != nil {
		fatal(err, globals.JSON)
	}

	settings := config.Default(root)
	if err := config.Save(settings, path); err != nil {
		fatal(err, globals.JSON)
	}

	if !globals.Quiet {
		fmt.Printf("%s Created %s\n", color.GreenString("✓"), path)
		fmt.Printf("  content root: %s\n", root)
		fmt.Println("Next: knowctl get --task \"...\" or knowctl reindex")
	}
}
