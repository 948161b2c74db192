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
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package paths computes the installation root once per process and
// derives the writable-region prefixes the write validator hard-codes
// against (C1).
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// Root holds the resolved installation root and its two compiled-in
// writable prefixes. Writable prefixes are never configurable from the
// store (spec.md §4.2).
type Root struct {
	Install      string
	ProjectsRoot string // <install>/LIVE/PROJECTS/PROJECTS
	TmpRoot      string // <install>/LIVE/TMP/TMP
	SessionDB    string // <install>/LIVE/SESSION
	ConfigDB     string // <install>/LIVE/CONFIG
	ProjectsDB   string // <install>/LIVE/PROJECTS
	TmpDB        string // <install>/LIVE/TMP
	AgentStateDB string // <install>/LIVE/LMDB5
	FSDB         string // <install>/LIVE/SPF_FS
}

const (
	envRoot   = "SPF_ROOT"
	envPrefix = "PREFIX" // Android/Termux detection, spec.md §6
)

// Resolve determines the installation root with the precedence named in
// spec.md §6: SPF_ROOT env override, then the HOME-relative default.
// PREFIX (set in an Android/Termux sandbox) is checked, but resolves to
// the same HOME-relative default.
func Resolve() (*Root, error) {
	install, err := installRoot()
	if err != nil {
		return nil, err
	}
	install, err = filepath.Abs(install)
	if err != nil {
		return nil, err
	}
	live := filepath.Join(install, "LIVE")
	return &Root{
		Install:      install,
		ProjectsRoot: filepath.Join(live, "PROJECTS", "PROJECTS"),
		TmpRoot:      filepath.Join(live, "TMP", "TMP"),
		SessionDB:    filepath.Join(live, "SESSION"),
		ConfigDB:     filepath.Join(live, "CONFIG"),
		ProjectsDB:   filepath.Join(live, "PROJECTS"),
		TmpDB:        filepath.Join(live, "TMP"),
		AgentStateDB: filepath.Join(live, "LMDB5"),
		FSDB:         filepath.Join(live, "SPF_FS"),
	}, nil
}

func installRoot() (string, error) {
	if v := os.Getenv(envRoot); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = os.Getenv("HOME")
	}
	if home == "" {
		return "", os.ErrNotExist
	}
	if os.Getenv(envPrefix) != "" && runtime.GOOS == "linux" {
		// Termux: PREFIX is typically /data/data/com.termux/files/usr
		return filepath.Join(home, ".spfgate"), nil
	}
	return filepath.Join(home, ".spfgate"), nil
}

// EnsureDirs creates the on-device writable directories (TMP and
// PROJECTS device roots) and the LIVE directory itself. Store files are
// created lazily by pkg/storage when opened.
func (r *Root) EnsureDirs() error {
	for _, d := range []string{r.Install, filepath.Dir(r.SessionDB), r.ProjectsRoot, r.TmpRoot} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// Canonicalize resolves symlinks and `.`/`..` components, returning the
// canonical absolute form. When the path does not yet exist, only the
// parent directory must resolve; the leaf name is re-appended verbatim
// after rejecting a leaf that is "." or "..".
func Canonicalize(p string) (string, bool) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", false
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return filepath.Clean(resolved), true
	}
	// Path (or some component) does not exist yet: canonicalize the
	// parent and re-append the leaf, refusing traversal in the leaf.
	dir := filepath.Dir(abs)
	base := filepath.Base(abs)
	if base == ".." || base == "." {
		return "", false
	}
	resolvedDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		// Parent doesn't exist either: fall back to lexical cleaning,
		// but fail closed if the lexical form still contains "..".
		clean := filepath.Clean(abs)
		if containsDotDot(clean) {
			return "", false
		}
		return clean, true
	}
	return filepath.Join(filepath.Clean(resolvedDir), base), true
}

func containsDotDot(p string) bool {
	for _, part := range filepath.SplitList(p) {
		_ = part
	}
	// filepath.Clean already collapses ".." against real components when
	// possible; any surviving ".." element means it walked above a root
	// it couldn't resolve.
	rest := p
	for {
		dir, base := filepath.Split(rest)
		if base == ".." {
			return true
		}
		if dir == "" || dir == rest {
			return false
		}
		rest = filepath.Clean(dir)
		if rest == string(filepath.Separator) || rest == "." {
			return false
		}
	}
}
