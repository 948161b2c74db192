// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/kraklabs/spfgate/internal/config"
	"github.com/kraklabs/spfgate/internal/gate"
	"github.com/kraklabs/spfgate/internal/paths"
	"github.com/kraklabs/spfgate/internal/session"
	"github.com/kraklabs/spfgate/internal/toolexec"
	"github.com/kraklabs/spfgate/internal/uerr"
	"github.com/kraklabs/spfgate/internal/vfs"
	"github.com/kraklabs/spfgate/pkg/storage"
)

// Environment wires together every component a CLI subcommand or the
// RPC loop needs: the installation root (C1), the config store (C2),
// the session store (C3), the gate (C7), the VFS router (C9), and the
// tool handlers (C8). Built once per process invocation.
type Environment struct {
	Root        *paths.Root
	Backend     *storage.EmbeddedBackend
	ConfigStore *config.Store
	Config      *config.Config
	SessionStore *session.Store
	Session     *session.Session
	Gate        *gate.Gate
	Router      *vfs.Router
	Tools       *toolexec.Handlers
	Logger      *zap.SugaredLogger
}

// bootstrap resolves the installation root, opens the six embedded
// stores, loads policy and session, and assembles the gate pipeline.
// A store open failure is fatal at process start (spec.md §7 kind 5).
func bootstrap(logger *zap.SugaredLogger) (*Environment, error) {
	root, err := paths.Resolve()
	if err != nil {
		return nil, uerr.NewInternalError(
			"Cannot resolve installation root",
			"Failed to determine the spfgate installation directory",
			"Set SPF_ROOT or HOME and try again",
			err,
		)
	}
	if err := root.EnsureDirs(); err != nil {
		return nil, uerr.NewPermissionError(
			"Cannot create installation directories",
			fmt.Sprintf("Failed to create directories under %s", root.Install),
			"Check filesystem permissions for the installation root",
			err,
		)
	}

	backend, err := storage.NewEmbeddedBackend(storage.EmbeddedConfig{DataDir: pathsLiveDir(root)})
	if err != nil {
		return nil, uerr.NewDatabaseError(
			"Cannot open embedded stores",
			"One or more of the six embedded key-value databases failed to open",
			"Check that no other spfgate process holds the database files locked",
			err,
		)
	}

	cfgStore := config.NewStore(backend, root)
	cfg, err := cfgStore.Load()
	if err != nil {
		_ = backend.Close()
		return nil, uerr.NewConfigError(
			"Cannot load policy configuration",
			"Failed to read the persisted policy from the CONFIG store",
			"Run 'spfgate reset' if the store is corrupted",
			err,
		)
	}

	sessStore := session.NewStore(backend)
	sess, err := sessStore.Load()
	if err != nil {
		_ = backend.Close()
		return nil, uerr.NewDatabaseError(
			"Cannot load session state",
			"Failed to read the persisted session from the SESSION store",
			"Run 'spfgate reset' to discard the corrupted session",
			err,
		)
	}

	g := gate.New(cfg, root)
	router := vfs.New(backend, root)
	tools := toolexec.New(g, sess, sessStore, root, backend)

	return &Environment{
		Root:         root,
		Backend:      backend,
		ConfigStore:  cfgStore,
		Config:       cfg,
		SessionStore: sessStore,
		Session:      sess,
		Gate:         g,
		Router:       router,
		Tools:        tools,
		Logger:       logger,
	}, nil
}

func pathsLiveDir(root *paths.Root) string {
	// Every named DB path is <live>/<NAME>.db; pass the parent.
	return dirOf(root.SessionDB)
}

func dirOf(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[:i]
		}
	}
	return p
}

// Close releases the embedded backend.
func (e *Environment) Close() {
	if e.Backend != nil {
		_ = e.Backend.Close()
	}
}
