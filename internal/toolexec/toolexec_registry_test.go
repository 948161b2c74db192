// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package toolexec

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTmpListEmpty(t *testing.T) {
	h := testHandlers(t)
	res, err := h.TmpList(context.Background())
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Contains(t, res.Text, "no tracked tmp entries")
}

func TestTmpListReflectsTouchedEntries(t *testing.T) {
	h := testHandlers(t)
	require.NoError(t, h.Tmp.Touch("scratch.txt", time.Now()))

	res, err := h.TmpList(context.Background())
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Contains(t, res.Text, "scratch.txt")
}

func TestTmpStatUntracked(t *testing.T) {
	h := testHandlers(t)
	res, err := h.TmpStat(context.Background(), "nope.txt")
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Contains(t, res.Text, "no tracked entry")
}

func TestTmpGCPreviewNeverDeletes(t *testing.T) {
	h := testHandlers(t)
	require.NoError(t, h.Tmp.Touch("scratch.txt", time.Now()))

	res, err := h.TmpGCPreview(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Contains(t, res.Text, "no entries older than")

	// The entry must still be listed: preview never removes tracking.
	listRes, err := h.TmpList(context.Background())
	require.NoError(t, err)
	require.Contains(t, listRes.Text, "scratch.txt")
}

func TestProjectsListEmpty(t *testing.T) {
	h := testHandlers(t)
	res, err := h.ProjectsList(context.Background())
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Contains(t, res.Text, "no registered projects")
}

func TestProjectsTouchUnregisteredIsNoop(t *testing.T) {
	h := testHandlers(t)
	res, err := h.ProjectsTouch(context.Background(), "nope")
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Contains(t, res.Text, "touched nope")

	getRes, err := h.ProjectsGet(context.Background(), "nope")
	require.NoError(t, err)
	require.Contains(t, getRes.Text, "no registered project")
}

func TestProjectsStatsEmpty(t *testing.T) {
	h := testHandlers(t)
	res, err := h.ProjectsStats(context.Background())
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Contains(t, res.Text, "count=0")
}
