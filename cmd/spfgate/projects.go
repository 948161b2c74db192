// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/kraklabs/spfgate/internal/uerr"
)

// runProjectsRegister executes the 'projects-register' CLI command: the
// operator-only side channel that registers a project root in the
// PROJECTS store (SPEC_FULL.md §C.5). Re-registering an id preserves
// its original RegisteredAt and refreshes LastAccessed.
func runProjectsRegister(args []string, configPath string, globals GlobalFlags, logger *zap.SugaredLogger) {
	fs := flag.NewFlagSet("projects-register", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: spfgate projects-register <id> <root>\n\nRegister (or re-register) a project id against a root path.\n")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	rest := fs.Args()
	if len(rest) < 2 {
		uerr.FatalError(uerr.NewInputError("Missing arguments", "expected <id> <root>", "Usage: spfgate projects-register <id> <root>"), globals.JSON)
	}
	id, root := rest[0], rest[1]

	env, err := bootstrap(logger)
	if err != nil {
		uerr.FatalError(err, globals.JSON)
	}
	defer env.Close()

	p, err := env.Tools.Projects.Register(id, root, time.Now())
	if err != nil {
		uerr.FatalError(uerr.NewDatabaseError("Registration failed", err.Error(), "Check that the PROJECTS store is writable", err), globals.JSON)
	}
	fmt.Printf("registered %s -> %s (registered_at=%s)\n", p.ID, p.Root, p.RegisteredAt.Format(time.RFC3339))
}
