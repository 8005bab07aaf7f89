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

// Package main implements the knowctl CLI, the adapter layer over
// pkg/know that exposes the knowledge loader and capability dispatcher
// to humans (get, run), to HTTP clients (serve), and to MCP-speaking
// agents (--mcp).
//
// Usage:
//
//	knowctl init                     Create .knowctl/config.yaml
//	knowctl get --task "..."         Load knowledge for a task
//	knowctl run <family> <name>      Invoke a capability directly
//	knowctl reindex                  Rescan the content tree
//	knowctl reset                    Clear cache and breaker state
//	knowctl config                   Show effective configuration
//	knowctl serve                    Start the HTTP adapter
//	knowctl --mcp                    Start as MCP server (JSON-RPC over stdio)
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"

	ierrors "github.com/knowctl/knowctl/internal/errors"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// globalFlags holds flags that apply across every subcommand.
type globalFlags struct {
	JSON       bool
	NoColor    bool
	Verbose    int
	Quiet      bool
	ConfigPath string
}

func main() {
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		mcpMode     = flag.Bool("mcp", false, "Start as MCP server (JSON-RPC over stdio)")
		configPath  = flag.StringP("config", "c", "", "Path to .knowctl/config.yaml (default: auto-discover)")
		jsonOutput  = flag.Bool("json", false, "Output in JSON format")
		noColor     = flag.Bool("no-color", false, "Disable color output")
		verbose     = flag.CountP("verbose", "v", "Increase verbosity (-v info, -vv debug)")
		quiet       = flag.BoolP("quiet", "q", false, "Suppress non-essential output")
	)

	flag.SetInterspersed(false)
	flag.Usage = printUsage

	flag.Parse()

	if *showVersion {
		fmt.Printf("knowctl version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		os.Exit(0)
	}

	if os.Getenv("NO_COLOR") != "" {
		*noColor = true
	}
	if *noColor {
		color.NoColor = true
	}

	if *quiet && *verbose > 0 {
		fmt.Fprintln(os.Stderr, "Error: cannot use --quiet and --verbose together")
		os.Exit(1)
	}
	if *jsonOutput {
		*quiet = true
	}

	globals := globalFlags{
		JSON:       *jsonOutput,
		NoColor:    *noColor,
		Verbose:    *verbose,
		Quiet:      *quiet,
		ConfigPath: *configPath,
	}

	if *mcpMode {
		runMCPServer(globals)
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "init":
		runInit(cmdArgs, globals)
	case "get":
		runGet(cmdArgs, globals)
	case "run":
		runRun(cmdArgs, globals)
	case "reindex":
		runReindex(cmdArgs, globals)
	case "reset":
		runReset(cmdArgs, globals)
	case "config":
		runConfigCmd(cmdArgs, globals)
	case "serve":
		os.Exit(runServe(cmdArgs, globals))
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `knowctl - knowledge runtime for task-scoped context loading

Usage:
  knowctl <command> [options]

Commands:
  init       Create .knowctl/config.yaml
  get        Load knowledge layers for a task
  run        Invoke a capability directly (analyzer/checker/monitor/converter/generator)
  reindex    Rescan the content tree
  reset      Clear cache and breaker state
  config     Show effective configuration
  serve      Start the HTTP adapter (POST /load, GET /metrics)

Global Options:
  --json            Output in JSON format
  --no-color        Disable color output (respects NO_COLOR env var)
  -v, --verbose     Increase verbosity (-v info, -vv debug)
  -q, --quiet       Suppress non-essential output
  --mcp             Start as MCP server (JSON-RPC over stdio)
  -c, --config      Path to .knowctl/config.yaml
  -V, --version     Show version and exit

Examples:
  knowctl init
  knowctl get --task "fix a flaky test in the payments layer"
  knowctl --json get --layers core,testing
  knowctl run checker brokenlinks --content-file README.md
  knowctl --mcp

For detailed command help: knowctl <command> --help
`)
}

func fatal(err error, asJSON bool) {
	ierrors.FatalError(err, asJSON)
}
