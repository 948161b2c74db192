// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package vfs implements the virtual filesystem router (C9): a single
// absolute-path namespace mapped by leading prefix onto four backing
// stores with distinct mount semantics (spec.md §4.6): the config
// store, the tmp and projects device directories, and the agent-state
// store.
package vfs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kraklabs/spfgate/internal/paths"
	"github.com/kraklabs/spfgate/internal/projects"
	"github.com/kraklabs/spfgate/internal/tmpmeta"
	"github.com/kraklabs/spfgate/pkg/storage"
)

// Mount identifies which backing store a path resolves to.
type Mount int

const (
	MountNone Mount = iota
	MountConfig
	MountTmp
	MountProjects
	MountAgentState
)

// Router dispatches VFS operations to the appropriate backing store.
type Router struct {
	backend  *storage.EmbeddedBackend
	root     *paths.Root
	tmp      *tmpmeta.Store
	projects *projects.Store
}

// New builds a Router bound to backend and root.
func New(backend *storage.EmbeddedBackend, root *paths.Root) *Router {
	return &Router{
		backend:  backend,
		root:     root,
		tmp:      tmpmeta.NewStore(backend),
		projects: projects.NewStore(backend),
	}
}

// projectID extracts the leading path segment of a clean /projects/...
// path: the project id a write under that tree is attributed to.
func projectID(clean string) string {
	rel := strings.TrimPrefix(clean, "/projects/")
	rel = strings.TrimPrefix(rel, "/projects")
	rel = strings.TrimPrefix(rel, "/")
	if idx := strings.IndexByte(rel, '/'); idx >= 0 {
		return rel[:idx]
	}
	return rel
}

// Resolve classifies a virtual path per the prefix table of spec.md
// §4.6, rejecting traversal before dispatch and redirecting
// /home/agent/tmp/* to /tmp/*.
func (r *Router) Resolve(vpath string) (Mount, string, error) {
	if strings.Contains(vpath, "..") {
		return MountNone, "", fmt.Errorf("BLOCKED: path traversal in %q", vpath)
	}
	clean := "/" + strings.TrimPrefix(filepath.Clean("/"+vpath), "/")

	switch {
	case clean == "/config" || strings.HasPrefix(clean, "/config/"):
		return MountConfig, clean, nil
	case strings.HasPrefix(clean, "/home/agent/tmp/"):
		redirected := "/tmp/" + strings.TrimPrefix(clean, "/home/agent/tmp/")
		return MountTmp, redirected, nil
	case clean == "/tmp" || strings.HasPrefix(clean, "/tmp/"):
		return MountTmp, clean, nil
	case clean == "/projects" || strings.HasPrefix(clean, "/projects/"):
		return MountProjects, clean, nil
	case clean == "/home/agent" || strings.HasPrefix(clean, "/home/agent/"):
		return MountAgentState, clean, nil
	default:
		return MountNone, "", fmt.Errorf("BLOCKED: %q is not routable", vpath)
	}
}

func (r *Router) devicePath(mount Mount, vpath string) (string, bool) {
	switch mount {
	case MountTmp:
		return filepath.Join(r.root.TmpRoot, strings.TrimPrefix(vpath, "/tmp")), true
	case MountProjects:
		return filepath.Join(r.root.ProjectsRoot, strings.TrimPrefix(vpath, "/projects")), true
	default:
		return "", false
	}
}

// Exists reports whether vpath exists under its mount.
func (r *Router) Exists(vpath string) (bool, error) {
	mount, clean, err := r.Resolve(vpath)
	if err != nil {
		return false, err
	}
	switch mount {
	case MountConfig:
		return clean == "/config", nil
	case MountTmp, MountProjects:
		dp, _ := r.devicePath(mount, clean)
		_, err := os.Stat(dp)
		return err == nil, nil
	case MountAgentState:
		_, found, err := r.backend.Get(storage.DBAgent, agentStateKey(clean))
		return found, err
	}
	return false, nil
}

// Read reads bytes from a mounted path. /config is read-only (handled
// by the config package, not here); agent-state read consults
// dedicated handlers before falling through to the file: key lookup
// (spec.md §4.6).
func (r *Router) Read(vpath string) ([]byte, error) {
	mount, clean, err := r.Resolve(vpath)
	if err != nil {
		return nil, err
	}
	switch mount {
	case MountTmp, MountProjects:
		dp, _ := r.devicePath(mount, clean)
		return os.ReadFile(dp)
	case MountAgentState:
		return r.readAgentState(clean)
	case MountConfig:
		return nil, fmt.Errorf("BLOCKED: /config is read-only via spf_config_* tools")
	}
	return nil, fmt.Errorf("BLOCKED: unroutable read %q", vpath)
}

// Write writes bytes to a mounted path, rejecting /config and
// agent-state (spec.md §4.6's write-policy column; agent-state writes
// require the CLI fs-import side channel).
func (r *Router) Write(vpath string, data []byte) (checksum string, err error) {
	mount, clean, err := r.Resolve(vpath)
	if err != nil {
		return "", err
	}
	switch mount {
	case MountTmp, MountProjects:
		dp, _ := r.devicePath(mount, clean)
		if err := os.MkdirAll(filepath.Dir(dp), 0o755); err != nil {
			return "", err
		}
		if err := os.WriteFile(dp, data, 0o644); err != nil {
			return "", err
		}
		sum := sha256.Sum256(data)
		checksum = hex.EncodeToString(sum[:])
		_ = r.backend.Put(storage.DBFS, "meta:"+clean, []byte(checksum))
		now := time.Now()
		if mount == MountTmp {
			_ = r.tmp.Touch(strings.TrimPrefix(clean, "/tmp"), now)
		} else {
			_ = r.projects.Touch(projectID(clean), now)
		}
		return checksum, nil
	case MountConfig:
		return "", fmt.Errorf("BLOCKED: /config is read-only")
	case MountAgentState:
		return "", fmt.Errorf("BLOCKED: agent-state is read-only via the router; use fs-import")
	}
	return "", fmt.Errorf("BLOCKED: unroutable write %q", vpath)
}

// OperatorWriteAgentState writes bytes under the agent-state mount via
// the CLI `fs-import` side channel (spec.md §4.6: "writes need a side
// channel"; §9 open question (c)). Never reachable from the gate — the
// router's ordinary Write continues to refuse agent-state.
func (r *Router) OperatorWriteAgentState(vpath string, data []byte) (checksum string, err error) {
	mount, clean, err := r.Resolve(vpath)
	if err != nil {
		return "", err
	}
	if mount != MountAgentState {
		return "", fmt.Errorf("BLOCKED: %q is not under the agent-state mount", vpath)
	}
	sum := sha256.Sum256(data)
	checksum = hex.EncodeToString(sum[:])
	if err := r.backend.Put(storage.DBAgent, agentStateKey(clean), data); err != nil {
		return "", err
	}
	return checksum, nil
}

// agentSkeleton is the compiled-in always-present directory layout for
// a fresh install's agent-state mount (SPEC_FULL.md §C.1,
// original_source/agent_state.rs).
var agentSkeleton = []string{
	"preferences", "context", "memories/", "sessions/", "state/",
}

func agentFileKey(clean string) string {
	return "file:" + strings.TrimPrefix(clean, "/home/agent/")
}

// agentStateKey maps a clean /home/agent/... path to its backing store
// key, dispatching to the dedicated preferences/context/memory/
// sessions/state handlers before falling through to the file:<relative>
// convention (spec.md §4.6). Shared by reads and the fs-import side
// channel so both name the same key for the same path.
func agentStateKey(clean string) string {
	rel := strings.TrimPrefix(clean, "/home/agent/")
	rel = strings.TrimPrefix(rel, "/home/agent")
	rel = strings.TrimPrefix(rel, "/")

	switch {
	case rel == "preferences":
		return "preferences"
	case rel == "context":
		return "context"
	case strings.HasPrefix(rel, "memory/"):
		return "memory:" + strings.TrimPrefix(rel, "memory/")
	case strings.HasPrefix(rel, "sessions/"):
		return "sessions:" + strings.TrimPrefix(rel, "sessions/")
	case strings.HasPrefix(rel, "state/"):
		return "state:" + strings.TrimPrefix(rel, "state/")
	default:
		return agentFileKey(clean)
	}
}

func (r *Router) readAgentState(clean string) ([]byte, error) {
	return r.agentGet(agentStateKey(clean))
}

func (r *Router) agentGet(key string) ([]byte, error) {
	v, ok, err := r.backend.Get(storage.DBAgent, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, os.ErrNotExist
	}
	return v, nil
}

// List merges (a) the compiled-in skeleton, (b) dynamic file: keys
// from the agent-state store, and (c) dedicated memories/sessions/
// state listings, deduplicated by leaf name (spec.md §4.6).
func (r *Router) List(vpath string) ([]string, error) {
	mount, clean, err := r.Resolve(vpath)
	if err != nil {
		return nil, err
	}
	switch mount {
	case MountTmp, MountProjects:
		dp, _ := r.devicePath(mount, clean)
		entries, err := os.ReadDir(dp)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		sort.Strings(names)
		return names, nil
	case MountConfig:
		return []string{"thresholds", "formula", "weights", "paths", "dangerous_patterns"}, nil
	case MountAgentState:
		return r.listAgentState(clean)
	}
	return nil, fmt.Errorf("BLOCKED: unroutable list %q", vpath)
}

func (r *Router) listAgentState(clean string) ([]string, error) {
	seen := map[string]bool{}
	var names []string
	add := func(n string) {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	for _, n := range agentSkeleton {
		add(strings.TrimSuffix(n, "/"))
	}
	prefix := "file:"
	_ = r.backend.ForEach(storage.DBAgent, prefix, func(key string, _ []byte) bool {
		add(filepath.Base(strings.TrimPrefix(key, prefix)))
		return true
	})
	for _, p := range []string{"memory:", "sessions:", "state:"} {
		_ = r.backend.ForEach(storage.DBAgent, p, func(key string, _ []byte) bool {
			add(filepath.Base(strings.TrimPrefix(key, p)))
			return true
		})
	}
	sort.Strings(names)
	_ = clean
	return names, nil
}
