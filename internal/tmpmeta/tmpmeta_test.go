// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package tmpmeta

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/spfgate/pkg/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	b, err := storage.NewEmbeddedBackend(storage.EmbeddedConfig{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return NewStore(b)
}

func TestTouchAndStat(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	require.NoError(t, s.Touch("/scratch/a.txt", now))

	e, found, err := s.Stat("/scratch/a.txt", now.Add(5*time.Second))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "scratch/a.txt", e.Path)
	require.InDelta(t, 5*time.Second, e.Age, float64(time.Second))
}

func TestStatUntrackedPath(t *testing.T) {
	s := newTestStore(t)
	_, found, err := s.Stat("nope", time.Now())
	require.NoError(t, err)
	require.False(t, found)
}

func TestAgeWrapsStat(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	require.NoError(t, s.Touch("x", now))
	age, found, err := s.Age("x", now.Add(10*time.Second))
	require.NoError(t, err)
	require.True(t, found)
	require.InDelta(t, 10*time.Second, age, float64(time.Second))
}

func TestListSortedByPath(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	require.NoError(t, s.Touch("b", now))
	require.NoError(t, s.Touch("a", now))

	entries, err := s.List(now)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "a", entries[0].Path)
	require.Equal(t, "b", entries[1].Path)
}

func TestGCPreviewNeverDeletes(t *testing.T) {
	s := newTestStore(t)
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.Touch("stale", old))
	require.NoError(t, s.Touch("fresh", time.Now()))

	stale, err := s.GCPreview(24*time.Hour, time.Now())
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.Equal(t, "stale", stale[0].Path)

	// Preview must not mutate the store.
	entries, err := s.List(time.Now())
	require.NoError(t, err)
	require.Len(t, entries, 2)
}
