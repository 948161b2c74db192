// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/kraklabs/spfgate/internal/uerr"
)

// runFSImport executes the 'fs-import' CLI command: the operator-only
// side channel that imports a device path into the virtual filesystem,
// including the otherwise read-only agent-state mount (spec.md §4.6,
// §9 open question (c)). A directory device path is imported
// recursively, one file per relative path under vpath, with a progress
// bar mirroring the teacher's indexing-progress reporting.
func runFSImport(args []string, configPath string, globals GlobalFlags, logger *zap.SugaredLogger) {
	fs := flag.NewFlagSet("fs-import", flag.ContinueOnError)
	dryRun := fs.Bool("dry-run", false, "Report what would be imported without writing")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: spfgate fs-import <vpath> <device> [--dry-run]\n\nImport bytes from a device path into the virtual filesystem at vpath.\nIf device is a directory, every file under it is imported recursively.\n")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	rest := fs.Args()
	if len(rest) < 2 {
		uerr.FatalError(uerr.NewInputError("Missing arguments", "expected <vpath> <device>", "Usage: spfgate fs-import <vpath> <device>"), globals.JSON)
	}
	vpath, device := rest[0], rest[1]

	info, err := os.Stat(device)
	if err != nil {
		uerr.FatalError(uerr.NewInputError("Cannot read device path", err.Error(), "Check that the device path exists and is readable"), globals.JSON)
	}
	if info.IsDir() {
		runFSImportDir(vpath, device, *dryRun, globals, logger)
		return
	}

	data, err := os.ReadFile(device)
	if err != nil {
		uerr.FatalError(uerr.NewInputError("Cannot read device path", err.Error(), "Check that the device path exists and is readable"), globals.JSON)
	}
	if *dryRun {
		fmt.Printf("would import %d bytes from %s into %s\n", len(data), device, vpath)
		return
	}

	env, err := bootstrap(logger)
	if err != nil {
		uerr.FatalError(err, globals.JSON)
	}
	defer env.Close()

	checksum, err := importOne(env, vpath, data)
	if err != nil {
		uerr.FatalError(uerr.NewInternalError("Import failed", err.Error(), "Check that vpath is routable and writable", err), globals.JSON)
	}
	fmt.Printf("imported %d bytes into %s (sha256:%s)\n", len(data), vpath, checksum)
}

func importOne(env *Environment, vpath string, data []byte) (string, error) {
	if strings.HasPrefix(vpath, "/home/agent") {
		return env.Router.OperatorWriteAgentState(vpath, data)
	}
	return env.Router.Write(vpath, data)
}

// runFSImportDir walks device recursively, importing every regular
// file into the VFS under vpath/<relative path>, reporting progress on
// stderr.
func runFSImportDir(vpath, device string, dryRun bool, globals GlobalFlags, logger *zap.SugaredLogger) {
	var files []string
	if err := filepath.WalkDir(device, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, p)
		}
		return nil
	}); err != nil {
		uerr.FatalError(uerr.NewInputError("Cannot walk device path", err.Error(), "Check that the directory is readable"), globals.JSON)
	}
	if dryRun {
		fmt.Printf("would import %d files from %s into %s\n", len(files), device, vpath)
		return
	}

	env, err := bootstrap(logger)
	if err != nil {
		uerr.FatalError(err, globals.JSON)
	}
	defer env.Close()

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription("importing "+device),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)
	if globals.Quiet || globals.JSON {
		bar = progressbar.NewOptions(len(files), progressbar.OptionSetWriter(io.Discard))
	}

	var total, failed int
	for _, f := range files {
		rel, err := filepath.Rel(device, f)
		if err != nil {
			failed++
			_ = bar.Add(1)
			continue
		}
		data, err := os.ReadFile(f)
		if err != nil {
			failed++
			_ = bar.Add(1)
			continue
		}
		dest := strings.TrimSuffix(vpath, "/") + "/" + filepath.ToSlash(rel)
		if _, err := importOne(env, dest, data); err != nil {
			logger.Warnw("fs-import: file failed", "device", f, "vpath", dest, "error", err)
			failed++
			_ = bar.Add(1)
			continue
		}
		total++
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	fmt.Printf("imported %d files into %s (%d failed)\n", total, vpath, failed)
}

// runFSExport executes the 'fs-export' CLI command: writes a virtual
// filesystem path's bytes out to a device path.
func runFSExport(args []string, configPath string, globals GlobalFlags, logger *zap.SugaredLogger) {
	fs := flag.NewFlagSet("fs-export", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: spfgate fs-export <vpath> <device>\n\nExport a virtual filesystem path's bytes to a device path.\n")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	rest := fs.Args()
	if len(rest) < 2 {
		uerr.FatalError(uerr.NewInputError("Missing arguments", "expected <vpath> <device>", "Usage: spfgate fs-export <vpath> <device>"), globals.JSON)
	}
	vpath, device := rest[0], rest[1]

	env, err := bootstrap(logger)
	if err != nil {
		uerr.FatalError(err, globals.JSON)
	}
	defer env.Close()

	data, err := env.Router.Read(vpath)
	if err != nil {
		uerr.FatalError(uerr.NewInternalError("Export failed", err.Error(), "Check that vpath exists and is routable", err), globals.JSON)
	}
	if err := os.WriteFile(device, data, 0o644); err != nil {
		uerr.FatalError(uerr.NewPermissionError("Cannot write device path", err.Error(), "Check filesystem permissions for the destination", err), globals.JSON)
	}
	fmt.Printf("exported %d bytes from %s to %s\n", len(data), vpath, device)
}
