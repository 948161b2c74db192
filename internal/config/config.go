// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config holds the gateway's policy store (C2): tier
// thresholds, formula constants, per-tool weights, path rules, and
// dangerous-command patterns. It is immutable for the lifetime of a
// single call and reloaded from the embedded store once per process,
// falling back to compiled-in defaults when the store is empty.
package config

import (
	"encoding/json"

	"github.com/kraklabs/spfgate/internal/paths"
)

// Mode is the gateway's enforcement mode.
type Mode string

const (
	ModeSoft Mode = "soft"
	ModeMax  Mode = "max"
)

// Weights are the four per-tool scoring inputs consumed by the
// complexity calculator (spec.md §4.1).
type Weights struct {
	Basic        uint64 `json:"basic" yaml:"basic"`
	Dependencies uint64 `json:"dependencies" yaml:"dependencies"`
	Complex      uint64 `json:"complex" yaml:"complex"`
	Files        uint64 `json:"files" yaml:"files"`
}

// Tier is one of the five legal complexity tiers (spec.md §3).
type Tier string

const (
	TierSimple      Tier = "SIMPLE"
	TierLight       Tier = "LIGHT"
	TierMedium      Tier = "MEDIUM"
	TierCritical    Tier = "CRITICAL"
	TierRateLimited Tier = "RATE_LIMITED"
)

// TierPolicy is the analyze/build split and approval flag attached to a
// tier by the boot-time approval-policy sync.
type TierPolicy struct {
	AnalyzePct        int  `json:"analyze_pct" yaml:"analyze_pct"`
	BuildPct          int  `json:"build_pct" yaml:"build_pct"`
	ApprovalRequired  bool `json:"approval_required" yaml:"approval_required"`
}

// Thresholds are the four ordered cut-points T1<T2<T3<T4 partitioning C
// into SIMPLE/LIGHT/MEDIUM/CRITICAL (spec.md §4.1).
type Thresholds struct {
	T1 uint64 `json:"t1" yaml:"t1"`
	T2 uint64 `json:"t2" yaml:"t2"`
	T3 uint64 `json:"t3" yaml:"t3"`
	T4 uint64 `json:"t4" yaml:"t4"`
}

// Formula holds the saturating-score exponents/multiplier and the
// budget-formula constant.
type Formula struct {
	P1   uint64  `json:"p1" yaml:"p1"`
	P2   uint64  `json:"p2" yaml:"p2"`
	P3   uint64  `json:"p3" yaml:"p3"`
	M    uint64  `json:"m" yaml:"m"`
	WEff float64 `json:"w_eff" yaml:"w_eff"`
}

// Config is the immutable-per-call policy snapshot (spec.md §3).
type Config struct {
	Mode Mode `json:"mode" yaml:"mode"`

	Thresholds Thresholds            `json:"thresholds" yaml:"thresholds"`
	Formula    Formula                `json:"formula" yaml:"formula"`
	Weights    map[string]Weights     `json:"weights" yaml:"weights"`
	TierPolicy map[Tier]TierPolicy    `json:"tier_policy" yaml:"tier_policy"`

	AllowPathPrefixes []string `json:"allow_path_prefixes" yaml:"allow_path_prefixes"`
	BlockPathPrefixes []string `json:"block_path_prefixes" yaml:"block_path_prefixes"`
	DangerousPatterns []string `json:"dangerous_patterns" yaml:"dangerous_patterns"`
	GitForceMarkers   []string `json:"git_force_markers" yaml:"git_force_markers"`

	MaxWriteSize          int64 `json:"max_write_size" yaml:"max_write_size"`
	RequireReadBeforeEdit bool  `json:"require_read_before_edit" yaml:"require_read_before_edit"`

	// Compiled-in, never loaded from the store (spec.md §4.2, §9).
	WriteAllowPrefixes []string `json:"-" yaml:"-"`
	KnownTools         map[string]bool `json:"-" yaml:"-"`
	// OperatorOnlyTools is the closed set of tools the gate
	// unconditionally refuses regardless of arguments: the four VFS
	// mutation tools (spec.md §4.2) plus spf_projects_register
	// (SPEC_FULL.md §C.5) — all of them reach the backing stores only
	// through a CLI side channel, never through the gate.
	OperatorOnlyTools map[string]bool `json:"-" yaml:"-"`
}

// Defaults returns the code-defined default policy. Every field the
// store can legally override starts here; syncApprovalPolicy then
// reasserts the TierPolicy.ApprovalRequired flags unconditionally.
func Defaults(root *paths.Root) *Config {
	c := &Config{
		Mode: ModeSoft,
		Thresholds: Thresholds{
			T1: 50,
			T2: 500,
			T3: 5000,
			T4: 50000, // informational; T4 is the open upper edge of CRITICAL
		},
		Formula: Formula{P1: 1, P2: 7, P3: 10, M: 10, WEff: 100.0},
		Weights: map[string]Weights{
			"edit":   {Basic: 2, Dependencies: 1, Complex: 0, Files: 1},
			"write":  {Basic: 2, Dependencies: 0, Complex: 0, Files: 1},
			"bash":   {Basic: 3, Dependencies: 0, Complex: 0, Files: 1},
			"read":   {Basic: 1, Dependencies: 0, Complex: 0, Files: 1},
			"glob":   {Basic: 2, Dependencies: 0, Complex: 0, Files: 1},
			"grep":   {Basic: 2, Dependencies: 0, Complex: 0, Files: 1},
			"memory": {Basic: 3, Dependencies: 0, Complex: 0, Files: 1},
			"rag":    {Basic: 3, Dependencies: 1, Complex: 0, Files: 1},
			"web":    {Basic: 4, Dependencies: 1, Complex: 0, Files: 1},
		},
		AllowPathPrefixes:     []string{root.Install},
		BlockPathPrefixes:     []string{"/etc", "/sys", "/proc", "/boot", "/root/.ssh"},
		DangerousPatterns:     defaultDangerousPatterns,
		GitForceMarkers:       []string{"--force", "--hard", "-f"},
		MaxWriteSize:          10 * 1024 * 1024,
		RequireReadBeforeEdit: true,
		WriteAllowPrefixes:    []string{root.ProjectsRoot, root.TmpRoot},
		KnownTools:            defaultKnownTools(),
		OperatorOnlyTools:     defaultOperatorOnlyTools(),
	}
	syncApprovalPolicy(c)
	return c
}

var defaultDangerousPatterns = []string{
	"rm -rf /", "rm -rf --no-preserve-root", "mkfs", "dd if=/dev/zero",
	"chmod 0777", "chmod a+rwx", "> /dev/sd", ":(){:|:&};:",
}

func defaultKnownTools() map[string]bool {
	names := []string{
		"spf_calculate", "spf_status", "spf_session",
		"spf_read", "spf_write", "spf_edit",
		"spf_bash",
		"spf_glob", "spf_grep",
		"spf_web_search", "spf_web_fetch", "spf_web_download", "spf_web_api",
		"spf_notebook_edit",
		"spf_config_paths", "spf_config_stats",
		"spf_projects_list", "spf_projects_get", "spf_projects_register",
		"spf_projects_touch", "spf_projects_stats",
		"spf_tmp_list", "spf_tmp_stat", "spf_tmp_gc_preview", "spf_tmp_age",
		"spf_agent_preferences", "spf_agent_context", "spf_agent_memory",
		"spf_agent_sessions", "spf_agent_state",
		"spf_fs_exists", "spf_fs_stat", "spf_fs_ls", "spf_fs_read",
		"spf_fs_write", "spf_fs_mkdir", "spf_fs_rm", "spf_fs_rename",
	}
	for i := 1; i <= 9; i++ {
		names = append(names, brainTool(i))
	}
	for i := 1; i <= 17; i++ {
		names = append(names, ragTool(i))
	}
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

var brainNames = []string{
	"store", "recall", "search", "forget", "list", "summarize",
	"link", "tag", "stats",
}

func brainTool(i int) string {
	if i-1 < len(brainNames) {
		return "spf_brain_" + brainNames[i-1]
	}
	return "spf_brain_unknown"
}

var ragNames = []string{
	"query", "ingest", "list_collections", "create_collection",
	"delete_collection", "delete_document", "stats", "reindex",
	"search", "get_document", "list_documents", "update_document",
	"export", "import", "status", "prune", "describe",
}

func ragTool(i int) string {
	if i-1 < len(ragNames) {
		return "spf_rag_" + ragNames[i-1]
	}
	return "spf_rag_unknown"
}

// defaultOperatorOnlyTools is the closed set of tools the gate
// unconditionally refuses regardless of arguments: the four VFS
// mutation tools (spec.md §4.2, CLI-only via fs-import) and
// spf_projects_register (SPEC_FULL.md §C.5, CLI-only via
// projects-register).
func defaultOperatorOnlyTools() map[string]bool {
	return map[string]bool{
		"spf_fs_write":          true,
		"spf_fs_mkdir":          true,
		"spf_fs_rm":             true,
		"spf_fs_rename":         true,
		"spf_projects_register": true,
	}
}

// syncApprovalPolicy overwrites the TierPolicy approval flags of every
// tier from compiled code, never from the store, so policy cannot drift
// (spec.md §3, §9; original_source/config_db.rs runs this every boot,
// not just cold-start — see DESIGN.md).
func syncApprovalPolicy(c *Config) {
	c.TierPolicy = map[Tier]TierPolicy{
		TierSimple:      {AnalyzePct: 20, BuildPct: 80, ApprovalRequired: false},
		TierLight:       {AnalyzePct: 30, BuildPct: 70, ApprovalRequired: false},
		TierMedium:      {AnalyzePct: 50, BuildPct: 50, ApprovalRequired: false},
		TierCritical:    {AnalyzePct: 70, BuildPct: 30, ApprovalRequired: true},
		TierRateLimited: {AnalyzePct: 100, BuildPct: 0, ApprovalRequired: true},
	}
}

// Storable is the subset of Config persisted to and loaded from the
// CONFIG store; compiled-in fields are never marshaled.
type storable struct {
	Mode              Mode                `json:"mode"`
	Thresholds        Thresholds          `json:"thresholds"`
	Formula           Formula             `json:"formula"`
	Weights           map[string]Weights  `json:"weights"`
	AllowPathPrefixes []string            `json:"allow_path_prefixes"`
	BlockPathPrefixes []string            `json:"block_path_prefixes"`
	DangerousPatterns []string            `json:"dangerous_patterns"`
	GitForceMarkers   []string            `json:"git_force_markers"`
	MaxWriteSize      int64               `json:"max_write_size"`
	RequireRead       bool                `json:"require_read_before_edit"`
}

// Export serializes the store-backed fields for `config-export`.
func Export(c *Config) ([]byte, error) {
	s := storable{
		Mode:              c.Mode,
		Thresholds:        c.Thresholds,
		Formula:           c.Formula,
		Weights:           c.Weights,
		AllowPathPrefixes: c.AllowPathPrefixes,
		BlockPathPrefixes: c.BlockPathPrefixes,
		DangerousPatterns: c.DangerousPatterns,
		GitForceMarkers:   c.GitForceMarkers,
		MaxWriteSize:      c.MaxWriteSize,
		RequireRead:       c.RequireReadBeforeEdit,
	}
	return json.MarshalIndent(s, "", "  ")
}

// Import merges the store-backed fields of data into c, leaving
// compiled-in fields (write allow-list, known-tool set, operator-only
// blocklist) untouched, then re-runs the approval-policy sync so import
// can never relax approval requirements.
func Import(c *Config, data []byte) error {
	// Start from c's current values so fields absent from data keep them.
	s := storable{
		Mode:              c.Mode,
		Thresholds:        c.Thresholds,
		Formula:           c.Formula,
		Weights:           c.Weights,
		AllowPathPrefixes: c.AllowPathPrefixes,
		BlockPathPrefixes: c.BlockPathPrefixes,
		DangerousPatterns: c.DangerousPatterns,
		GitForceMarkers:   c.GitForceMarkers,
		MaxWriteSize:      c.MaxWriteSize,
		RequireRead:       c.RequireReadBeforeEdit,
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	c.Mode = s.Mode
	c.Thresholds = s.Thresholds
	c.Formula = s.Formula
	c.Weights = s.Weights
	c.AllowPathPrefixes = s.AllowPathPrefixes
	c.BlockPathPrefixes = s.BlockPathPrefixes
	c.DangerousPatterns = s.DangerousPatterns
	c.GitForceMarkers = s.GitForceMarkers
	c.MaxWriteSize = s.MaxWriteSize
	c.RequireReadBeforeEdit = s.RequireRead
	syncApprovalPolicy(c)
	return nil
}

// TierForScore applies the half-open four-threshold partition of
// spec.md §4.1/§8.
func (c *Config) TierForScore(score uint64) Tier {
	switch {
	case score < c.Thresholds.T1:
		return TierSimple
	case score < c.Thresholds.T2:
		return TierLight
	case score < c.Thresholds.T3:
		return TierMedium
	default:
		return TierCritical
	}
}

// WeightsFor returns the per-tool weight tuple for a weight class,
// falling back to the minimal {1,0,0,1} tuple if unknown (never zero).
func (c *Config) WeightsFor(class string) Weights {
	if w, ok := c.Weights[class]; ok {
		return w
	}
	return Weights{Basic: 1, Dependencies: 0, Complex: 0, Files: 1}
}
