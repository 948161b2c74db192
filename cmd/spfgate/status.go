// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"encoding/json"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/kraklabs/spfgate/internal/uerr"
)

// StatusResult is the JSON shape of `spfgate status`.
type StatusResult struct {
	Install       string `json:"install"`
	Mode          string `json:"mode"`
	SessionID     string `json:"session_id"`
	ActionCount   uint64 `json:"action_count"`
	ReadCount     int    `json:"read_count"`
	WriteCount    int    `json:"write_count"`
	ManifestCount int    `json:"manifest_count"`
	FailureCount  int    `json:"failure_count"`
	LastTool      string `json:"last_tool"`
}

// runStatus executes the 'status' CLI command: a summary of the
// installation root, the loaded policy mode, and the current session
// (spec.md §6).
func runStatus(args []string, configPath string, globals GlobalFlags, logger *zap.SugaredLogger) {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: spfgate status\n\nShow the installation root, policy mode, and session summary.\n")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	env, err := bootstrap(logger)
	if err != nil {
		uerr.FatalError(err, globals.JSON)
	}
	defer env.Close()

	result := StatusResult{
		Install:       env.Root.Install,
		Mode:          string(env.Config.Mode),
		SessionID:     env.Session.ID,
		ActionCount:   env.Session.ActionCount,
		ReadCount:     len(env.Session.ReadSet),
		WriteCount:    len(env.Session.WriteSet),
		ManifestCount: len(env.Session.Manifest),
		FailureCount:  len(env.Session.Failures),
		LastTool:      env.Session.LastTool,
	}

	if globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
		return
	}
	fmt.Printf("install:    %s\n", result.Install)
	fmt.Printf("mode:       %s\n", result.Mode)
	fmt.Printf("session:    %s\n", result.SessionID)
	fmt.Printf("actions:    %d\n", result.ActionCount)
	fmt.Printf("reads:      %d\n", result.ReadCount)
	fmt.Printf("writes:     %d\n", result.WriteCount)
	fmt.Printf("manifest:   %d entries\n", result.ManifestCount)
	fmt.Printf("failures:   %d entries\n", result.FailureCount)
	if result.LastTool != "" {
		fmt.Printf("last tool:  %s\n", result.LastTool)
	}
}

// runSession executes the 'session' CLI command: prints the full
// persisted session record (spec.md §6).
func runSession(args []string, configPath string, globals GlobalFlags, logger *zap.SugaredLogger) {
	fs := flag.NewFlagSet("session", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: spfgate session\n\nPrint the current session record (action count, read/write sets,\ncomplexity history, manifest, failures, rate window).\n")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	env, err := bootstrap(logger)
	if err != nil {
		uerr.FatalError(err, globals.JSON)
	}
	defer env.Close()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(env.Session)
}
