// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"github.com/kraklabs/spfgate/internal/paths"
	"github.com/kraklabs/spfgate/pkg/storage"
)

const storeKey = "policy"

// Store wraps the CONFIG bbolt database holding the persisted,
// store-backed subset of Config (spec.md §3: "Config is loaded once
// per process from the embedded store, code-defined defaults if
// empty").
type Store struct {
	backend *storage.EmbeddedBackend
	root    *paths.Root
}

// NewStore returns a Store bound to backend and root.
func NewStore(backend *storage.EmbeddedBackend, root *paths.Root) *Store {
	return &Store{backend: backend, root: root}
}

// Load reads the persisted policy and applies it atop the compiled-in
// defaults, falling back to pure defaults when the store is empty.
// The approval-policy sync always runs last and unconditionally,
// every process start — not only on a cold-start empty store — per
// SPEC_FULL.md §C.3 (original_source/config_db.rs).
func (s *Store) Load() (*Config, error) {
	cfg := Defaults(s.root)
	data, ok, err := s.backend.Get(storage.DBConfig, storeKey)
	if err != nil {
		return nil, err
	}
	if ok {
		if err := Import(cfg, data); err != nil {
			return nil, err
		}
	}
	syncApprovalPolicy(cfg)
	return cfg, nil
}

// Save persists the store-backed subset of cfg.
func (s *Store) Save(cfg *Config) error {
	data, err := Export(cfg)
	if err != nil {
		return err
	}
	return s.backend.Put(storage.DBConfig, storeKey, data)
}
