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

// runReset executes the 'reset' CLI command: discards the persisted
// session, returning a fresh one (spec.md §6). Policy in the CONFIG
// store is untouched; use config-import to reset policy.
func runReset(args []string, configPath string, globals GlobalFlags, logger *zap.SugaredLogger) {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	confirm := fs.BoolP("yes", "y", false, "Confirm the reset")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: spfgate reset --yes\n\nDiscard the persisted session (action count, read/write sets,\ncomplexity history, manifest, failures, rate window). Policy is\nuntouched.\n")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if !*confirm {
		uerr.FatalError(uerr.NewInputError(
			"Confirmation required",
			"The --yes flag is required to confirm this destructive operation",
			"Run 'spfgate reset --yes' to confirm",
		), globals.JSON)
	}

	env, err := bootstrap(logger)
	if err != nil {
		uerr.FatalError(err, globals.JSON)
	}
	defer env.Close()

	fresh, err := env.SessionStore.Reset()
	if err != nil {
		uerr.FatalError(uerr.NewDatabaseError(
			"Cannot reset session",
			"Failed to delete the persisted session record",
			"Check that no other spfgate process holds the SESSION store locked",
			err,
		), globals.JSON)
	}
	if !globals.Quiet {
		fmt.Printf("session reset: new session id %s\n", fresh.ID)
	}
}
