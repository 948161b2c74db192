// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package vfs

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/kraklabs/spfgate/internal/paths"
	"github.com/kraklabs/spfgate/pkg/storage"
	"github.com/stretchr/testify/require"
)

func testRouter(t *testing.T) *Router {
	t.Helper()
	t.Setenv("SPF_ROOT", t.TempDir())
	root, err := paths.Resolve()
	require.NoError(t, err)
	require.NoError(t, root.EnsureDirs())
	backend, err := storage.NewEmbeddedBackend(storage.EmbeddedConfig{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return New(backend, root)
}

func TestResolveRejectsTraversal(t *testing.T) {
	r := testRouter(t)
	_, _, err := r.Resolve("/tmp/../etc/passwd")
	require.Error(t, err)
}

func TestResolveRedirectsHomeAgentTmp(t *testing.T) {
	r := testRouter(t)
	mount, clean, err := r.Resolve("/home/agent/tmp/foo.txt")
	require.NoError(t, err)
	require.Equal(t, MountTmp, mount)
	require.Equal(t, "/tmp/foo.txt", clean)
}

func TestResolveUnroutableBlocked(t *testing.T) {
	r := testRouter(t)
	_, _, err := r.Resolve("/etc/hosts")
	require.Error(t, err)
}

func TestWriteThenReadRoundTripChecksum(t *testing.T) {
	r := testRouter(t)
	data := []byte("hello world")
	checksum, err := r.Write("/tmp/x.txt", data)
	require.NoError(t, err)

	sum := sha256.Sum256(data)
	require.Equal(t, hex.EncodeToString(sum[:]), checksum)

	got, err := r.Read("/tmp/x.txt")
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestConfigMountIsReadOnly(t *testing.T) {
	r := testRouter(t)
	_, err := r.Write("/config/thresholds", []byte("x"))
	require.Error(t, err)
}

func TestAgentStateMountIsReadOnlyViaRouter(t *testing.T) {
	r := testRouter(t)
	_, err := r.Write("/home/agent/state/foo", []byte("x"))
	require.Error(t, err)
}

func TestListAgentStateIncludesSkeleton(t *testing.T) {
	r := testRouter(t)
	names, err := r.List("/home/agent")
	require.NoError(t, err)
	require.Contains(t, names, "preferences")
	require.Contains(t, names, "context")
	require.Contains(t, names, "memories")
}

func TestWriteUnderTmpTouchesTmpMeta(t *testing.T) {
	r := testRouter(t)
	_, err := r.Write("/tmp/scratch.txt", []byte("x"))
	require.NoError(t, err)

	entries, err := r.tmp.List(time.Now())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "scratch.txt", entries[0].Path)
}

func TestWriteUnderProjectsTouchesProjectID(t *testing.T) {
	r := testRouter(t)
	registered := time.Now().Add(-time.Hour)
	_, err := r.projects.Register("proj1", "/projects/proj1", registered)
	require.NoError(t, err)

	_, err = r.Write("/projects/proj1/src/main.go", []byte("x"))
	require.NoError(t, err)

	p, found, err := r.projects.Get("proj1")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, p.LastAccessed.After(registered))
}

func TestProjectIDExtractsLeadingSegment(t *testing.T) {
	require.Equal(t, "proj1", projectID("/projects/proj1/src/main.go"))
	require.Equal(t, "proj1", projectID("/projects/proj1"))
}
