// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package projects

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

func TestRegisterAndGet(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	p, err := s.Register("proj1", "/projects/proj1", now)
	require.NoError(t, err)
	require.Equal(t, "proj1", p.ID)

	got, found, err := s.Get("proj1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "/projects/proj1", got.Root)
	require.True(t, now.Equal(got.RegisteredAt))
}

func TestRegisterPreservesRegisteredAt(t *testing.T) {
	s := newTestStore(t)
	first := time.Now()
	_, err := s.Register("proj1", "/a", first)
	require.NoError(t, err)

	second := first.Add(time.Hour)
	p, err := s.Register("proj1", "/b", second)
	require.NoError(t, err)
	require.True(t, first.Equal(p.RegisteredAt))
	require.True(t, second.Equal(p.LastAccessed))
	require.Equal(t, "/b", p.Root)
}

func TestGetUnregistered(t *testing.T) {
	s := newTestStore(t)
	_, found, err := s.Get("nope")
	require.NoError(t, err)
	require.False(t, found)
}

func TestTouchUnregisteredIsNoop(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Touch("nope", time.Now()))
	_, found, err := s.Get("nope")
	require.NoError(t, err)
	require.False(t, found)
}

func TestTouchRefreshesLastAccessed(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	_, err := s.Register("proj1", "/a", now)
	require.NoError(t, err)

	later := now.Add(time.Minute)
	require.NoError(t, s.Touch("proj1", later))

	got, found, err := s.Get("proj1")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, later.Equal(got.LastAccessed))
	require.True(t, now.Equal(got.RegisteredAt))
}

func TestListSortedByID(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	_, err := s.Register("b", "/b", now)
	require.NoError(t, err)
	_, err = s.Register("a", "/a", now)
	require.NoError(t, err)

	all, err := s.List()
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "a", all[0].ID)
	require.Equal(t, "b", all[1].ID)
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	_, err := s.Register("a", "/a", now)
	require.NoError(t, err)
	later := now.Add(time.Hour)
	_, err = s.Register("b", "/b", later)
	require.NoError(t, err)

	st, err := s.Stats()
	require.NoError(t, err)
	require.Equal(t, 2, st.Count)
	require.True(t, later.Equal(st.MostRecentTouch))
}
