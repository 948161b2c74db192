// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tmpmeta tracks last-touched timestamps for files under the
// /tmp mount (SPEC_FULL.md §C.4, original_source/tmp_db.rs), backing
// the spf_tmp_list/stat/age/gc_preview tools. The mount's actual bytes
// live on disk under the TmpRoot device path (internal/vfs); this
// package only keeps the TTL bookkeeping in the TMP bbolt store.
package tmpmeta

import (
	"sort"
	"strings"
	"time"

	"github.com/kraklabs/spfgate/pkg/storage"
)

const touchPrefix = "touch:"

// Store wraps the TMP bbolt database.
type Store struct {
	backend *storage.EmbeddedBackend
}

// NewStore returns a Store backed by backend.
func NewStore(backend *storage.EmbeddedBackend) *Store {
	return &Store{backend: backend}
}

// Entry is one tracked path's touch record.
type Entry struct {
	Path    string        `json:"path"`
	Touched time.Time     `json:"touched"`
	Age     time.Duration `json:"age"`
}

// Touch records now as the last-touched time for relPath (the
// mount-relative path, no leading /tmp). Called by the router on every
// successful write under /tmp (SPEC_FULL.md §C.4).
func (s *Store) Touch(relPath string, now time.Time) error {
	relPath = normalize(relPath)
	return s.backend.Put(storage.DBTmp, touchPrefix+relPath, []byte(now.UTC().Format(time.RFC3339Nano)))
}

func normalize(relPath string) string {
	return strings.TrimPrefix(relPath, "/")
}

func (s *Store) get(relPath string) (time.Time, bool, error) {
	v, ok, err := s.backend.Get(storage.DBTmp, touchPrefix+normalize(relPath))
	if err != nil || !ok {
		return time.Time{}, ok, err
	}
	t, err := time.Parse(time.RFC3339Nano, string(v))
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// Stat returns the touch record for a single path.
func (s *Store) Stat(relPath string, now time.Time) (Entry, bool, error) {
	touched, ok, err := s.get(relPath)
	if err != nil || !ok {
		return Entry{}, ok, err
	}
	return Entry{Path: normalize(relPath), Touched: touched, Age: now.Sub(touched)}, true, nil
}

// Age is a thin convenience wrapper over Stat returning just the age.
func (s *Store) Age(relPath string, now time.Time) (time.Duration, bool, error) {
	e, ok, err := s.Stat(relPath, now)
	return e.Age, ok, err
}

// List returns every tracked entry, sorted by path.
func (s *Store) List(now time.Time) ([]Entry, error) {
	var entries []Entry
	err := s.backend.ForEach(storage.DBTmp, touchPrefix, func(key string, value []byte) bool {
		t, perr := time.Parse(time.RFC3339Nano, string(value))
		if perr != nil {
			return true
		}
		p := strings.TrimPrefix(key, touchPrefix)
		entries = append(entries, Entry{Path: p, Touched: t, Age: now.Sub(t)})
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// GCPreview reports every tracked entry at or past threshold age,
// without deleting anything: spfgate only ever previews tmp garbage
// collection (SPEC_FULL.md §C.4), it never performs it.
func (s *Store) GCPreview(threshold time.Duration, now time.Time) ([]Entry, error) {
	all, err := s.List(now)
	if err != nil {
		return nil, err
	}
	var stale []Entry
	for _, e := range all {
		if e.Age >= threshold {
			stale = append(stale, e)
		}
	}
	return stale, nil
}
