// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/kraklabs/spfgate/internal/paths"
	"github.com/kraklabs/spfgate/internal/uerr"
)

// runRefreshPaths executes the 'refresh-paths' CLI command: recomputes
// the installation root and the two compiled-in writable-region
// prefixes (C1), optionally creating the on-device directories
// (spec.md §6).
func runRefreshPaths(args []string, configPath string, globals GlobalFlags, logger *zap.SugaredLogger) {
	fs := flag.NewFlagSet("refresh-paths", flag.ContinueOnError)
	dryRun := fs.Bool("dry-run", false, "Print the resolved paths without creating directories")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: spfgate refresh-paths [--dry-run]\n\nRecompute the installation root and writable mounts. Without\n--dry-run, creates the on-device TMP and PROJECTS directories.\n")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	root, err := paths.Resolve()
	if err != nil {
		uerr.FatalError(uerr.NewInternalError(
			"Cannot resolve installation root",
			"Failed to determine the spfgate installation directory",
			"Set SPF_ROOT or HOME and try again",
			err,
		), globals.JSON)
	}

	if !*dryRun {
		if err := root.EnsureDirs(); err != nil {
			uerr.FatalError(uerr.NewPermissionError(
				"Cannot create installation directories",
				fmt.Sprintf("Failed to create directories under %s", root.Install),
				"Check filesystem permissions for the installation root",
				err,
			), globals.JSON)
		}
	}

	fmt.Printf("install:       %s\n", root.Install)
	fmt.Printf("projects root: %s\n", root.ProjectsRoot)
	fmt.Printf("tmp root:      %s\n", root.TmpRoot)
	fmt.Printf("session db:    %s\n", root.SessionDB)
	fmt.Printf("config db:     %s\n", root.ConfigDB)
	fmt.Printf("projects db:   %s\n", root.ProjectsDB)
	fmt.Printf("tmp db:        %s\n", root.TmpDB)
	fmt.Printf("agent state db: %s\n", root.AgentStateDB)
	fmt.Printf("fs db:         %s\n", root.FSDB)
	if *dryRun {
		fmt.Println("(dry run: directories not created)")
	}
}
