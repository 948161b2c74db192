// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"testing"

	"github.com/kraklabs/spfgate/internal/paths"
	"github.com/kraklabs/spfgate/pkg/storage"
	"github.com/stretchr/testify/require"
)

func testRoot(t *testing.T) *paths.Root {
	t.Setenv("SPF_ROOT", t.TempDir())
	root, err := paths.Resolve()
	require.NoError(t, err)
	require.NoError(t, root.EnsureDirs())
	return root
}

func TestTierForScoreMonotone(t *testing.T) {
	cfg := Defaults(testRoot(t))
	require.Equal(t, TierSimple, cfg.TierForScore(0))
	require.Equal(t, TierCritical, cfg.TierForScore(^uint64(0)))
}

func TestApprovalPolicySyncAlwaysOverwrites(t *testing.T) {
	cfg := Defaults(testRoot(t))
	cfg.TierPolicy[TierCritical] = TierPolicy{ApprovalRequired: false}
	syncApprovalPolicy(cfg)
	require.True(t, cfg.TierPolicy[TierCritical].ApprovalRequired)
}

func TestExportImportRoundTrip(t *testing.T) {
	root := testRoot(t)
	cfg := Defaults(root)
	cfg.Mode = ModeMax
	cfg.Thresholds.T1 = 99

	data, err := Export(cfg)
	require.NoError(t, err)

	restored := Defaults(root)
	require.NoError(t, Import(restored, data))
	require.Equal(t, cfg.Mode, restored.Mode)
	require.Equal(t, cfg.Thresholds, restored.Thresholds)
	require.Equal(t, cfg.Formula, restored.Formula)
	require.Equal(t, cfg.Weights, restored.Weights)
	require.Equal(t, cfg.DangerousPatterns, restored.DangerousPatterns)
}

func TestImportCannotRelaxApprovalFlags(t *testing.T) {
	root := testRoot(t)
	cfg := Defaults(root)
	data, err := Export(cfg)
	require.NoError(t, err)

	tampered := Defaults(root)
	require.NoError(t, Import(tampered, data))
	require.True(t, tampered.TierPolicy[TierCritical].ApprovalRequired)
}

func TestStoreLoadFallsBackToDefaultsWhenEmpty(t *testing.T) {
	root := testRoot(t)
	backend, err := storage.NewEmbeddedBackend(storage.EmbeddedConfig{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	store := NewStore(backend, root)
	cfg, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, ModeSoft, cfg.Mode)
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	root := testRoot(t)
	backend, err := storage.NewEmbeddedBackend(storage.EmbeddedConfig{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	store := NewStore(backend, root)
	cfg, err := store.Load()
	require.NoError(t, err)
	cfg.Mode = ModeMax
	require.NoError(t, store.Save(cfg))

	reloaded, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, ModeMax, reloaded.Mode)
}

func TestWriteAllowPrefixesNotStorable(t *testing.T) {
	root := testRoot(t)
	cfg := Defaults(root)
	data, err := Export(cfg)
	require.NoError(t, err)
	require.NotContains(t, string(data), "write_allow_prefixes")
}
