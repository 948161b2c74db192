// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package complexity

import (
	"math"
	"testing"

	"github.com/kraklabs/spfgate/internal/config"
	"github.com/kraklabs/spfgate/internal/paths"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root, err := paths.Resolve()
	require.NoError(t, err)
	return config.Defaults(root)
}

func TestSaturatingAddNeverWraps(t *testing.T) {
	require.Equal(t, uint64(math.MaxUint64), satAdd(math.MaxUint64, 1))
	require.Equal(t, uint64(math.MaxUint64), satAdd(math.MaxUint64-1, 5))
	require.Equal(t, uint64(10), satAdd(4, 6))
}

func TestSaturatingMulNeverWraps(t *testing.T) {
	require.Equal(t, uint64(math.MaxUint64), satMul(math.MaxUint64, 2))
	require.Equal(t, uint64(0), satMul(0, math.MaxUint64))
	require.Equal(t, uint64(12), satMul(3, 4))
}

func TestSaturatingPowNeverWraps(t *testing.T) {
	require.Equal(t, uint64(math.MaxUint64), satPow(2, 64))
	require.Equal(t, uint64(1), satPow(5, 0))
	require.Equal(t, uint64(8), satPow(2, 3))
}

func TestScoreSaturatesOnHugeInputs(t *testing.T) {
	cfg := testConfig(t)
	c := Score(math.MaxUint64, math.MaxUint64, math.MaxUint64, math.MaxUint64, cfg.Formula)
	require.Equal(t, uint64(math.MaxUint64), c)
}

func TestTierIsUniqueMonotoneMapping(t *testing.T) {
	cfg := testConfig(t)
	cases := []struct {
		c    uint64
		tier config.Tier
	}{
		{0, config.TierSimple},
		{cfg.Thresholds.T1 - 1, config.TierSimple},
		{cfg.Thresholds.T1, config.TierLight},
		{cfg.Thresholds.T2 - 1, config.TierLight},
		{cfg.Thresholds.T2, config.TierMedium},
		{cfg.Thresholds.T3 - 1, config.TierMedium},
		{cfg.Thresholds.T3, config.TierCritical},
		{math.MaxUint64, config.TierCritical},
	}
	for _, tc := range cases {
		require.Equal(t, tc.tier, cfg.TierForScore(tc.c), "C=%d", tc.c)
	}
}

func TestABudgetBounds(t *testing.T) {
	cfg := testConfig(t)
	require.Greater(t, ABudget(0, cfg.Formula), uint64(0))
	for _, c := range []uint64{0, 1, 50, 5000, math.MaxUint64} {
		b := ABudget(c, cfg.Formula)
		require.Less(t, float64(b), cfg.Formula.WEff)
	}
}

func TestReadIsAlwaysSimple(t *testing.T) {
	cfg := testConfig(t)
	r := Calculate("spf_read", Params{FilePath: "/tmp/x"}, cfg)
	require.Equal(t, config.TierSimple, r.Tier)
}

func TestUnknownToolGetsConservativeScore(t *testing.T) {
	cfg := testConfig(t)
	r := Calculate("frobnicate", Params{}, cfg)
	require.Equal(t, uint64(2218), Score(20, 3, 1, 1, cfg.Formula))
	require.Equal(t, Score(20, 3, 1, 1, cfg.Formula), r.C)
}

func TestEditReplaceAllIncreasesDepsAndFiles(t *testing.T) {
	cfg := testConfig(t)
	single := Calculate("spf_edit", Params{OldString: "a", NewString: "b", FilePath: "x.go"}, cfg)
	all := Calculate("spf_edit", Params{OldString: "a", NewString: "b", FilePath: "x.go", ReplaceAll: true}, cfg)
	require.Greater(t, all.C, single.C)
}

func TestWriteDangerousContentBumpsComplexity(t *testing.T) {
	basic, deps, cplx, files := writeScore(Params{Content: "rm -rf dangerous drop table"}, testConfig(t))
	require.GreaterOrEqual(t, cplx, uint64(1))
	_ = basic
	_ = deps
	_ = files
}

func TestBashDangerousForcesHighComplexity(t *testing.T) {
	cfg := testConfig(t)
	r := Calculate("spf_bash", Params{Command: "rm -rf / --no-preserve-root"}, cfg)
	require.Equal(t, config.TierCritical, r.Tier)
}

func TestBashTolerance(t *testing.T) {
	cfg := testConfig(t)
	r := Calculate("spf_bash", Params{Command: "echo hello"}, cfg)
	require.Equal(t, config.TierSimple, r.Tier)
}
