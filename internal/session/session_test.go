// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"testing"
	"time"

	"github.com/kraklabs/spfgate/pkg/storage"
	"github.com/stretchr/testify/require"
)

func newBackend(t *testing.T) *storage.EmbeddedBackend {
	t.Helper()
	b, err := storage.NewEmbeddedBackend(storage.EmbeddedConfig{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestReadSetDedupByCanonicalForm(t *testing.T) {
	s := New()
	s.RecordRead("/a/b")
	s.RecordRead("/a/b")
	s.RecordRead("/a/c")
	require.Len(t, s.ReadSet, 2)
}

func TestSentinelNeverMatchesFutureEquality(t *testing.T) {
	s := New()
	s.RecordRead(unresolvable)
	s.RecordRead(unresolvable)
	require.Len(t, s.ReadSet, 2)
	require.False(t, s.HasRead(unresolvable))
}

func TestBoundedComplexityHistoryEvictsOldest(t *testing.T) {
	s := New()
	for i := 0; i < maxComplexityHistory+10; i++ {
		s.AppendComplexity(ComplexityEntry{Tool: "x", C: uint64(i)})
	}
	require.Len(t, s.ComplexityHistory, maxComplexityHistory)
	require.Equal(t, uint64(10), s.ComplexityHistory[0].C)
}

func TestBoundedManifestEvictsOldest(t *testing.T) {
	s := New()
	for i := 0; i < maxManifestEntries+5; i++ {
		s.AppendManifest(ManifestEntry{Tool: "x"})
	}
	require.Len(t, s.Manifest, maxManifestEntries)
}

func TestBoundedFailuresEvictsOldest(t *testing.T) {
	s := New()
	for i := 0; i < maxFailureEntries+3; i++ {
		s.AppendFailure(FailureEntry{Tool: "x"})
	}
	require.Len(t, s.Failures, maxFailureEntries)
}

func TestRateWindowPrunesOldEntries(t *testing.T) {
	s := New()
	now := time.Now()
	s.RecordRateEvent(now.Add(-120 * time.Second))
	s.RecordRateEvent(now.Add(-10 * time.Second))
	require.Equal(t, 1, s.CountInWindow(now))
}

func TestPersistReloadPreservesState(t *testing.T) {
	b := newBackend(t)
	store := NewStore(b)

	s, err := store.Load()
	require.NoError(t, err)
	s.RecordRead("/a/b")
	s.RecordAction("spf_read", "ok", "/a/b")
	s.AppendManifest(ManifestEntry{Tool: "spf_read", Allowed: true})
	s.AppendFailure(FailureEntry{Tool: "spf_bash", Message: "boom"})
	require.NoError(t, store.Persist(s))

	reloaded, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, s.ActionCount, reloaded.ActionCount)
	require.Equal(t, s.ReadSet, reloaded.ReadSet)
	require.Len(t, reloaded.Manifest, 1)
	require.Len(t, reloaded.Failures, 1)
	require.True(t, reloaded.HasRead("/a/b"))
}

func TestResetClearsSession(t *testing.T) {
	b := newBackend(t)
	store := NewStore(b)
	s, err := store.Load()
	require.NoError(t, err)
	s.RecordRead("/a/b")
	require.NoError(t, store.Persist(s))

	fresh, err := store.Reset()
	require.NoError(t, err)
	require.Empty(t, fresh.ReadSet)

	reloaded, err := store.Load()
	require.NoError(t, err)
	require.Empty(t, reloaded.ReadSet)
}
