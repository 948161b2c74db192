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

	"github.com/mattn/go-isatty"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GlobalFlags holds the global CLI flags that apply to all commands.
type GlobalFlags struct {
	JSON    bool
	NoColor bool
	Verbose int
	Quiet   bool
}

func buildLogger(g GlobalFlags) *zap.SugaredLogger {
	var zcfg zap.Config
	if g.Verbose >= 2 {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	if g.Quiet {
		zcfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	} else if g.Verbose >= 1 {
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := zcfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return logger.Sugar()
}

// main is the entry point for the spfgate CLI: a policy-enforcement
// gateway that mediates every tool call an autonomous coding agent
// makes, running either as the `serve` stdio JSON-RPC server or one of
// the inspection/maintenance subcommands of spec.md §6.
func main() {
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		configPath  = flag.StringP("config", "c", "", "Path to .spfgate/gateway.yaml")
		jsonOutput  = flag.Bool("json", false, "Output in JSON format")
		noColor     = flag.Bool("no-color", false, "Disable color output")
		verbose     = flag.CountP("verbose", "v", "Increase verbosity (-v debug, -vv debug with development logger)")
		quiet       = flag.BoolP("quiet", "q", false, "Suppress non-essential output")
	)

	// Stop parsing at the first non-flag argument so subcommand flags
	// (e.g. "refresh-paths --dry-run") pass through untouched.
	flag.SetInterspersed(false)

	flag.Usage = func() {
		fmt.Fprint(os.Stderr, `spfgate - policy-enforcement gateway for autonomous coding agents

spfgate mediates every tool invocation an agent makes over a
line-oriented JSON-RPC dialect on stdio: it scores complexity, runs a
validator cascade (path allow/deny, write allow-list, Build-Anchor,
bash dissection, SSRF classification), and either executes the
underlying action or returns a structured denial.

Usage:
  spfgate <command> [options]

Commands:
  serve [--metrics-addr host:port]
                                Start the stdio JSON-RPC gateway
  projects-register <id> <root>
                                Register a project root (operator-only)
  gate <tool> <json>           Evaluate one call through the gate pipeline
  calculate <tool> <json>      Score a call's complexity, no side effects
  status                       Show session and config summary
  session                      Print the current session record
  reset                        Discard the persisted session
  init-config                  Write a default .spfgate/gateway.yaml
  refresh-paths [--dry-run]    Recompute the installation root and mounts
  fs-import <vpath> <device>   Import a device path into the VFS
  fs-export <vpath> <device>   Export a VFS path to the device filesystem
  config-import <json>         Merge a JSON document into the store-backed policy
  config-export <json>         Write the store-backed policy to a file

Global Options:
  --json            Output in JSON format
  --no-color        Disable color output (respects NO_COLOR)
  -v, --verbose     Increase verbosity (-v debug, -vv debug with development logger)
  -q, --quiet       Suppress non-essential output
  -c, --config      Path to .spfgate/gateway.yaml
  -V, --version     Show version and exit

Environment Variables:
  SPF_ROOT          Overrides installation discovery
  HOME              Last-resort fallback for installation root
  BRAVE_API_KEY     Enables an alternate spf_web_search backend
  PREFIX            Detects an Android/Termux sandbox

For detailed command help: spfgate <command> --help

`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("spfgate version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		os.Exit(0)
	}

	if os.Getenv("NO_COLOR") != "" {
		*noColor = true
	}
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		*noColor = true
	}
	if *quiet && *verbose > 0 {
		fmt.Fprintln(os.Stderr, "Error: cannot use --quiet and --verbose together")
		os.Exit(1)
	}
	if *jsonOutput {
		*quiet = true
	}

	globals := GlobalFlags{JSON: *jsonOutput, NoColor: *noColor, Verbose: *verbose, Quiet: *quiet}
	logger := buildLogger(globals)
	defer logger.Sync() //nolint:errcheck

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "serve":
		runServe(cmdArgs, *configPath, globals, logger)
	case "projects-register":
		runProjectsRegister(cmdArgs, *configPath, globals, logger)
	case "gate":
		os.Exit(runGate(cmdArgs, *configPath, globals, logger))
	case "calculate":
		os.Exit(runCalculate(cmdArgs, *configPath, globals, logger))
	case "status":
		runStatus(cmdArgs, *configPath, globals, logger)
	case "session":
		runSession(cmdArgs, *configPath, globals, logger)
	case "reset":
		runReset(cmdArgs, *configPath, globals, logger)
	case "init-config":
		runInitConfig(cmdArgs, *configPath, globals, logger)
	case "refresh-paths":
		runRefreshPaths(cmdArgs, *configPath, globals, logger)
	case "fs-import":
		runFSImport(cmdArgs, *configPath, globals, logger)
	case "fs-export":
		runFSExport(cmdArgs, *configPath, globals, logger)
	case "config-import":
		runConfigImport(cmdArgs, *configPath, globals, logger)
	case "config-export":
		runConfigExport(cmdArgs, *configPath, globals, logger)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}
