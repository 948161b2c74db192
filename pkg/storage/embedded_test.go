// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) *EmbeddedBackend {
	t.Helper()
	dir := t.TempDir()
	b, err := NewEmbeddedBackend(EmbeddedConfig{DataDir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestPutGetRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	require.NoError(t, b.Put(DBSession, "k1", []byte("hello")))
	v, ok, err := b.Get(DBSession, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hello", string(v))
}

func TestGetMissingKey(t *testing.T) {
	b := newTestBackend(t)
	v, ok, err := b.Get(DBConfig, "nope")
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, v)
}

func TestDelete(t *testing.T) {
	b := newTestBackend(t)
	require.NoError(t, b.Put(DBTmp, "a", []byte("x")))
	require.NoError(t, b.Delete(DBTmp, "a"))
	_, ok, err := b.Get(DBTmp, "a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestForEachPrefix(t *testing.T) {
	b := newTestBackend(t)
	require.NoError(t, b.Put(DBProject, "file:a", []byte("1")))
	require.NoError(t, b.Put(DBProject, "file:b", []byte("2")))
	require.NoError(t, b.Put(DBProject, "meta:x", []byte("3")))

	var got []string
	require.NoError(t, b.ForEach(DBProject, "file:", func(key string, value []byte) bool {
		got = append(got, key)
		return true
	}))
	require.ElementsMatch(t, []string{"file:a", "file:b"}, got)
}

func TestBlobInlineRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	data := []byte("small payload")
	sum, err := b.PutBlob("file:small.txt", data)
	require.NoError(t, err)
	require.Len(t, sum, 64)

	got, ok, err := b.GetBlob("file:small.txt")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, data, got)
}

func TestBlobLargeGoesToDisk(t *testing.T) {
	b := newTestBackend(t)
	data := make([]byte, blobThreshold+1)
	for i := range data {
		data[i] = byte(i)
	}
	sum, err := b.PutBlob("file:big.bin", data)
	require.NoError(t, err)

	blobPath := filepath.Join(b.blobDir, sum)
	require.FileExists(t, blobPath)

	got, ok, err := b.GetBlob("file:big.bin")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, data, got)
}

func TestCloseIsIdempotent(t *testing.T) {
	b := newTestBackend(t)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
}
