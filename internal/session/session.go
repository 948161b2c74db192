// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session implements the gateway's session state (C3): the
// monotone action counter, canonicalised read/write sets, bounded
// complexity/manifest/failure history, and the rolling rate-limit
// window, backed by the SESSION bbolt store.
package session

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/kraklabs/spfgate/internal/config"
	"github.com/kraklabs/spfgate/pkg/storage"
)

const (
	maxComplexityHistory = 100
	maxManifestEntries   = 200
	maxFailureEntries    = 50

	// unresolvable is the sentinel canonical form used for paths that
	// fail canonicalisation and contain ".." — it can never match a
	// future equality check (spec.md §3).
	unresolvable = "\x00UNRESOLVABLE\x00"
)

// ComplexityEntry is one row of the bounded complexity history.
type ComplexityEntry struct {
	Tool      string      `json:"tool"`
	C         uint64      `json:"c"`
	Tier      config.Tier `json:"tier"`
	Timestamp time.Time   `json:"timestamp"`
}

// ManifestEntry records exactly one gate decision per tools/call
// (spec.md §4.7).
type ManifestEntry struct {
	Tool      string      `json:"tool"`
	C         uint64      `json:"c"`
	Allowed   bool        `json:"allowed"`
	Reason    string      `json:"reason"` // gate.Reason string form
	Timestamp time.Time   `json:"timestamp"`
}

// FailureEntry records a tool execution failure (spec.md §7 kind 4):
// an outcome, not a policy breach.
type FailureEntry struct {
	Tool      string    `json:"tool"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the mutable per-process record (spec.md §3).
type Session struct {
	ID            string    `json:"id"`
	ActionCount   uint64    `json:"action_count"`
	StartedAt     time.Time `json:"started_at"`
	LastTool      string    `json:"last_tool"`
	LastResult    string    `json:"last_result"`
	LastFile      string    `json:"last_file"`

	ReadSet  []string `json:"read_set"`  // order-preserving, dedup by canonical form
	WriteSet []string `json:"write_set"` // same

	ComplexityHistory []ComplexityEntry `json:"complexity_history"`
	Manifest          []ManifestEntry   `json:"manifest"`
	Failures          []FailureEntry    `json:"failures"`

	RateWindow []time.Time `json:"rate_window"`

	readIndex  map[string]bool
	writeIndex map[string]bool
}

// New creates a fresh session with a random ID.
func New() *Session {
	s := &Session{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
	}
	s.rebuildIndexes()
	return s
}

func (s *Session) rebuildIndexes() {
	s.readIndex = make(map[string]bool, len(s.ReadSet))
	for _, p := range s.ReadSet {
		s.readIndex[p] = true
	}
	s.writeIndex = make(map[string]bool, len(s.WriteSet))
	for _, p := range s.WriteSet {
		s.writeIndex[p] = true
	}
}

// CanonicalOrSentinel returns the canonical form, or the unresolvable
// sentinel whenever canonicalization failed (ok is false).
func CanonicalOrSentinel(canonical string, ok bool) string {
	if ok {
		return canonical
	}
	return unresolvable
}

// RecordRead adds a canonical path to the read set, deduplicating by
// canonical form. The sentinel value is never deduplicated against a
// future real path (it can never match).
func (s *Session) RecordRead(canonical string) {
	if s.readIndex == nil {
		s.rebuildIndexes()
	}
	if canonical == unresolvable || !s.readIndex[canonical] {
		s.ReadSet = append(s.ReadSet, canonical)
		if canonical != unresolvable {
			s.readIndex[canonical] = true
		}
	}
}

// RecordWrite adds a canonical path to the write set, same semantics
// as RecordRead.
func (s *Session) RecordWrite(canonical string) {
	if s.writeIndex == nil {
		s.rebuildIndexes()
	}
	if canonical == unresolvable || !s.writeIndex[canonical] {
		s.WriteSet = append(s.WriteSet, canonical)
		if canonical != unresolvable {
			s.writeIndex[canonical] = true
		}
	}
}

// HasRead reports whether canonical is in the read set (used by the
// Build-Anchor check).
func (s *Session) HasRead(canonical string) bool {
	if s.readIndex == nil {
		s.rebuildIndexes()
	}
	return canonical != unresolvable && s.readIndex[canonical]
}

// RecordAction increments the action counter and updates last-tool
// bookkeeping. Called once per handled tools/call (not for calculate,
// per SPEC_FULL.md §C.2).
func (s *Session) RecordAction(tool, result, file string) {
	s.ActionCount++
	s.LastTool = tool
	s.LastResult = result
	s.LastFile = file
}

// AppendComplexity pushes onto the bounded (≤100) complexity history,
// evicting the oldest entry on overflow.
func (s *Session) AppendComplexity(e ComplexityEntry) {
	s.ComplexityHistory = append(s.ComplexityHistory, e)
	if len(s.ComplexityHistory) > maxComplexityHistory {
		s.ComplexityHistory = s.ComplexityHistory[len(s.ComplexityHistory)-maxComplexityHistory:]
	}
}

// AppendManifest pushes onto the bounded (≤200) manifest, evicting
// oldest-first.
func (s *Session) AppendManifest(e ManifestEntry) {
	s.Manifest = append(s.Manifest, e)
	if len(s.Manifest) > maxManifestEntries {
		s.Manifest = s.Manifest[len(s.Manifest)-maxManifestEntries:]
	}
}

// AppendFailure pushes onto the bounded (≤50) failure log.
func (s *Session) AppendFailure(e FailureEntry) {
	s.Failures = append(s.Failures, e)
	if len(s.Failures) > maxFailureEntries {
		s.Failures = s.Failures[len(s.Failures)-maxFailureEntries:]
	}
}

// RecordRateEvent appends now to the rate window and prunes entries
// older than 60 seconds.
func (s *Session) RecordRateEvent(now time.Time) {
	s.RateWindow = append(s.RateWindow, now)
	s.PruneRateWindow(now)
}

// PruneRateWindow drops rate-window entries older than 60s relative to
// now, without recording a new event.
func (s *Session) PruneRateWindow(now time.Time) {
	cutoff := now.Add(-60 * time.Second)
	i := 0
	for i < len(s.RateWindow) && s.RateWindow[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		s.RateWindow = s.RateWindow[i:]
	}
}

// CountInWindow counts rate-window entries within the last 60s of now.
func (s *Session) CountInWindow(now time.Time) int {
	s.PruneRateWindow(now)
	return len(s.RateWindow)
}

// Store wraps the SESSION bbolt database. A single session is kept
// per process (spec.md §3: "Session is created on first RPC,
// persisted after every handled call, and reloaded on restart").
type Store struct {
	backend *storage.EmbeddedBackend
	key     string
}

// NewStore returns a Store backed by backend, keyed "current".
func NewStore(backend *storage.EmbeddedBackend) *Store {
	return &Store{backend: backend, key: "current"}
}

// Load reloads the persisted session, or creates a fresh one if none
// exists yet.
func (st *Store) Load() (*Session, error) {
	data, ok, err := st.backend.Get(storage.DBSession, st.key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return New(), nil
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	s.rebuildIndexes()
	return &s, nil
}

// Persist writes the entire session back; this is the sole durable
// crash boundary (spec.md §4.7) and is deliberately over-frequent.
func (st *Store) Persist(s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return st.backend.Put(storage.DBSession, st.key, data)
}

// Reset discards the persisted session, returning a fresh one.
func (st *Store) Reset() (*Session, error) {
	if err := st.backend.Delete(storage.DBSession, st.key); err != nil {
		return nil, err
	}
	return New(), nil
}
