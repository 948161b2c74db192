// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package projects implements the project registry (SPEC_FULL.md §C.5,
// original_source/projects_db.rs): the id -> root mapping backing the
// spf_projects_list/get/register/touch/stats tools, kept in the
// PROJECTS bbolt store alongside the mount's own on-disk files
// (internal/vfs).
package projects

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/kraklabs/spfgate/pkg/storage"
)

const recordPrefix = "project:"

// Project is one registered project's metadata.
type Project struct {
	ID           string    `json:"id"`
	Root         string    `json:"root"`
	RegisteredAt time.Time `json:"registered_at"`
	LastAccessed time.Time `json:"last_accessed"`
}

// Store wraps the PROJECTS bbolt database.
type Store struct {
	backend *storage.EmbeddedBackend
}

// NewStore returns a Store backed by backend.
func NewStore(backend *storage.EmbeddedBackend) *Store {
	return &Store{backend: backend}
}

func key(id string) string { return recordPrefix + id }

// Register upserts a project record: the registered-at timestamp is
// preserved across re-registration, last-accessed is always refreshed.
// CLI/operator-only (SPEC_FULL.md §C.5) — never reachable from the
// gate, which blocks spf_projects_register unconditionally.
func (s *Store) Register(id, root string, now time.Time) (*Project, error) {
	p := &Project{ID: id, Root: root, RegisteredAt: now, LastAccessed: now}
	if existing, ok, err := s.Get(id); err != nil {
		return nil, err
	} else if ok {
		p.RegisteredAt = existing.RegisteredAt
	}
	if err := s.put(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) put(p *Project) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.backend.Put(storage.DBProject, key(p.ID), data)
}

// Get returns a single project record by id.
func (s *Store) Get(id string) (*Project, bool, error) {
	data, ok, err := s.backend.Get(storage.DBProject, key(id))
	if err != nil || !ok {
		return nil, ok, err
	}
	var p Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, false, err
	}
	return &p, true, nil
}

// List returns every registered project, sorted by id.
func (s *Store) List() ([]*Project, error) {
	var out []*Project
	err := s.backend.ForEach(storage.DBProject, recordPrefix, func(_ string, value []byte) bool {
		var p Project
		if json.Unmarshal(value, &p) == nil {
			out = append(out, &p)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Touch refreshes a registered project's last-accessed time. A no-op
// for an id that was never registered: the router fires this on every
// write under /projects/<id>/..., and unregistered ids are legal paths
// (SPEC_FULL.md §C.5), not an error.
func (s *Store) Touch(id string, now time.Time) error {
	p, ok, err := s.Get(id)
	if err != nil || !ok {
		return err
	}
	p.LastAccessed = now
	return s.put(p)
}

// Stats summarizes the registry.
type Stats struct {
	Count           int       `json:"count"`
	MostRecentTouch time.Time `json:"most_recent_touch,omitempty"`
}

// Stats aggregates over the full project list.
func (s *Store) Stats() (Stats, error) {
	all, err := s.List()
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Count: len(all)}
	for _, p := range all {
		if p.LastAccessed.After(st.MostRecentTouch) {
			st.MostRecentTouch = p.LastAccessed
		}
	}
	return st, nil
}
