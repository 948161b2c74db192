// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package inspect

import (
	"testing"

	"github.com/kraklabs/spfgate/internal/config"
	"github.com/kraklabs/spfgate/internal/paths"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Setenv("SPF_ROOT", t.TempDir())
	root, err := paths.Resolve()
	require.NoError(t, err)
	return config.Defaults(root)
}

func TestInspectCredentialShape(t *testing.T) {
	cfg := testConfig(t)
	res := Inspect("notes.txt", "api_key=sk-abc123", cfg)
	require.True(t, res.Valid)
	require.NotEmpty(t, res.Warnings)
}

func TestInspectCredentialShapeEscalatesInMaxMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mode = config.ModeMax
	res := Inspect("notes.txt", "password=hunter2", cfg)
	require.Contains(t, res.Warnings[0], "MAX TIER:")
}

func TestInspectPathTraversal(t *testing.T) {
	cfg := testConfig(t)
	res := Inspect("notes.txt", "../../etc/passwd", cfg)
	require.True(t, res.Valid)
	require.NotEmpty(t, res.Warnings)
}

func TestInspectCommandSubstitutionOnlyInNonSource(t *testing.T) {
	cfg := testConfig(t)
	resSource := Inspect("main.go", "x := `echo hi`", cfg)
	require.Empty(t, resSource.Warnings)

	resText := Inspect("notes.txt", "run $(whoami)", cfg)
	require.NotEmpty(t, resText.Warnings)
}

func TestInspectCleanContentNoWarnings(t *testing.T) {
	cfg := testConfig(t)
	res := Inspect("notes.txt", "just some plain text", cfg)
	require.True(t, res.Valid)
	require.Empty(t, res.Warnings)
}
