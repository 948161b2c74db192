// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package toolexec

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kraklabs/spfgate/internal/config"
	"github.com/kraklabs/spfgate/internal/gate"
	"github.com/kraklabs/spfgate/internal/paths"
	"github.com/kraklabs/spfgate/internal/session"
	"github.com/kraklabs/spfgate/pkg/storage"
	"github.com/stretchr/testify/require"
)

func testHandlers(t *testing.T) *Handlers {
	t.Helper()
	t.Setenv("SPF_ROOT", t.TempDir())
	root, err := paths.Resolve()
	require.NoError(t, err)
	require.NoError(t, root.EnsureDirs())
	cfg := config.Defaults(root)
	g := gate.New(cfg, root)

	backend, err := storage.NewEmbeddedBackend(storage.EmbeddedConfig{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	store := session.NewStore(backend)
	sess, err := store.Load()
	require.NoError(t, err)

	return New(g, sess, store, root, backend)
}

func TestReadGrowsReadSetByOne(t *testing.T) {
	h := testHandlers(t)
	f := filepath.Join(h.Root.ProjectsRoot, "readable.txt")
	require.NoError(t, os.WriteFile(f, []byte("hi"), 0o644))

	before := len(h.Session.ReadSet)
	res, err := h.Read(context.Background(), f)
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Len(t, h.Session.ReadSet, before+1)
}

func TestWriteOutsideAllowlistBlocked(t *testing.T) {
	h := testHandlers(t)
	res, err := h.Write(context.Background(), "/etc/hosts", "data")
	require.NoError(t, err)
	require.False(t, res.Allowed)
}

func TestWriteInsideAllowlistSucceeds(t *testing.T) {
	h := testHandlers(t)
	target := filepath.Join(h.Root.ProjectsRoot, "out.txt")
	res, err := h.Write(context.Background(), target, "hello")
	require.NoError(t, err)
	require.True(t, res.Allowed)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestBashDangerousCommandNeverExecutes(t *testing.T) {
	h := testHandlers(t)
	marker := filepath.Join(t.TempDir(), "should-not-exist")
	res, err := h.Bash(context.Background(), "rm -rf / --no-preserve-root; touch "+marker, 0)
	require.NoError(t, err)
	require.False(t, res.Allowed)
	_, statErr := os.Stat(marker)
	require.True(t, os.IsNotExist(statErr))
}

func TestWebFetchSSRFBlockedAtExecution(t *testing.T) {
	h := testHandlers(t)
	res, err := h.WebFetch(context.Background(), "http://169.254.169.254/latest/meta-data/")
	require.NoError(t, err)
	require.True(t, res.Allowed, "spec.md scenario 7: allowed=true at the gate")
	require.Contains(t, res.Text, "SSRF BLOCKED")
}

func TestAcceptableContentType(t *testing.T) {
	require.True(t, acceptableContentType("text/plain; charset=utf-8"))
	require.True(t, acceptableContentType("application/json"))
	require.True(t, acceptableContentType("application/xml"))
	require.False(t, acceptableContentType("application/octet-stream"))
}
