// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/kraklabs/spfgate/internal/uerr"
)

// runInitConfig executes the 'init-config' CLI command: writes a
// default `.spfgate/gateway.yaml` bootstrap file (SPEC_FULL.md §A.3).
// It is not itself the store, and the embedded CONFIG store (§C2) does
// not read it: the store starts from config.Defaults.
func runInitConfig(args []string, configPath string, globals GlobalFlags, logger *zap.SugaredLogger) {
	fs := flag.NewFlagSet("init-config", flag.ContinueOnError)
	force := fs.Bool("force", false, "Overwrite an existing gateway.yaml")
	mode := fs.String("mode", "soft", "Enforcement mode: soft or max")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: spfgate init-config [--force] [--mode soft|max]\n\nWrite a default .spfgate/gateway.yaml in the current directory.\n")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *mode != string(modeSoft) && *mode != string(modeMax) {
		uerr.FatalError(uerr.NewInputError(
			"Invalid mode",
			fmt.Sprintf("mode must be %q or %q, got %q", modeSoft, modeMax, *mode),
			"Pass --mode soft or --mode max",
		), globals.JSON)
	}

	dir, err := os.Getwd()
	if err != nil {
		uerr.FatalError(uerr.NewInternalError(
			"Cannot access working directory",
			"Failed to determine current directory",
			"Check system permissions and try again",
			err,
		), globals.JSON)
	}
	target := BootConfigPath(dir)
	if configPath != "" {
		target = configPath
	}

	if !*force {
		if _, err := os.Stat(target); err == nil {
			uerr.FatalError(uerr.NewConfigError(
				"Configuration already exists",
				fmt.Sprintf("%s already exists", target),
				"Pass --force to overwrite it",
				nil,
			), globals.JSON)
		}
	}

	cfg := DefaultBootConfig()
	cfg.Mode = *mode
	if err := SaveBootConfig(cfg, target); err != nil {
		uerr.FatalError(err, globals.JSON)
	}
	if !globals.Quiet {
		fmt.Printf("wrote %s\n", target)
	}
}

const (
	modeSoft = "soft"
	modeMax  = "max"
)
