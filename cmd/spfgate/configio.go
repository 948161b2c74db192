// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/kraklabs/spfgate/internal/config"
	"github.com/kraklabs/spfgate/internal/uerr"
)

// runConfigImport executes the 'config-import' CLI command: merges the
// store-backed fields of a JSON document into the CONFIG store
// (spec.md §6). Compiled-in fields (write allow-list, known-tool set,
// VFS-write blocklist) and the approval-policy sync are untouched by
// the import's contents — see config.Import.
func runConfigImport(args []string, configPath string, globals GlobalFlags, logger *zap.SugaredLogger) {
	fs := flag.NewFlagSet("config-import", flag.ContinueOnError)
	dryRun := fs.Bool("dry-run", false, "Validate and print the merged policy without saving")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: spfgate config-import <json-file> [--dry-run]\n\nMerge store-backed policy fields from a JSON file into the CONFIG\nstore.\n")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	rest := fs.Args()
	if len(rest) < 1 {
		uerr.FatalError(uerr.NewInputError("Missing argument", "expected <json-file>", "Usage: spfgate config-import <json-file>"), globals.JSON)
	}

	data, err := os.ReadFile(rest[0])
	if err != nil {
		uerr.FatalError(uerr.NewInputError("Cannot read JSON file", err.Error(), "Check that the file exists and is readable"), globals.JSON)
	}

	env, err := bootstrap(logger)
	if err != nil {
		uerr.FatalError(err, globals.JSON)
	}
	defer env.Close()

	if err := config.Import(env.Config, data); err != nil {
		uerr.FatalError(uerr.NewConfigError(
			"Cannot parse policy document",
			err.Error(),
			"Check that the file is valid JSON matching the config-export schema",
			err,
		), globals.JSON)
	}

	if *dryRun {
		out, _ := config.Export(env.Config)
		fmt.Println(string(out))
		return
	}
	if err := env.ConfigStore.Save(env.Config); err != nil {
		uerr.FatalError(uerr.NewDatabaseError(
			"Cannot persist policy",
			"Failed to write the CONFIG store",
			"Check that no other spfgate process holds the CONFIG store locked",
			err,
		), globals.JSON)
	}
	if !globals.Quiet {
		fmt.Println("policy imported")
	}
}

// runConfigExport executes the 'config-export' CLI command: writes the
// current store-backed policy subset to a JSON file (spec.md §6).
func runConfigExport(args []string, configPath string, globals GlobalFlags, logger *zap.SugaredLogger) {
	fs := flag.NewFlagSet("config-export", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: spfgate config-export <json-file>\n\nWrite the current store-backed policy to a JSON file.\n")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	rest := fs.Args()
	if len(rest) < 1 {
		uerr.FatalError(uerr.NewInputError("Missing argument", "expected <json-file>", "Usage: spfgate config-export <json-file>"), globals.JSON)
	}

	env, err := bootstrap(logger)
	if err != nil {
		uerr.FatalError(err, globals.JSON)
	}
	defer env.Close()

	out, err := config.Export(env.Config)
	if err != nil {
		uerr.FatalError(uerr.NewInternalError("Cannot serialize policy", err.Error(), "This is a bug in spfgate", err), globals.JSON)
	}
	if err := os.WriteFile(rest[0], out, 0o644); err != nil {
		uerr.FatalError(uerr.NewPermissionError("Cannot write JSON file", err.Error(), "Check filesystem permissions for the destination", err), globals.JSON)
	}
	if !globals.Quiet {
		fmt.Printf("wrote %s\n", rest[0])
	}
}
