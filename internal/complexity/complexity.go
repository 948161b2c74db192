// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package complexity implements the gateway's complexity calculator
// (C4): a pure function from (tool, params, config) to a
// ComplexityResult, using saturating 64-bit arithmetic throughout so
// no input can panic or wrap (spec.md §4.1, §8).
package complexity

import (
	"math"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/kraklabs/spfgate/internal/config"
)

// Params is the union of every recognised invocation field (spec.md
// §3). Missing fields are zero-valued, never defaulted.
type Params struct {
	FilePath    string
	OldString   string
	NewString   string
	ReplaceAll  bool
	Content     string
	Command     string
	Query       string
	Pattern     string
	Path        string
	Collection  string
	Limit       int
	Text        string
	Title       string
	URL         string
	Topic       string
	Category    string
}

// Result is the (tool, C, tier, analyze%, build%, approval, budget)
// tuple of spec.md §3.
type Result struct {
	Tool             string
	C                uint64
	Tier             config.Tier
	AnalyzePct       int
	BuildPct         int
	ApprovalRequired bool
	BudgetTokens      uint64
}

// canonicalTool strips a "spf_" prefix so the calculator can dispatch
// on the bare tool family (spec.md §4.1: "accepting both the bare and
// spf_-prefixed form").
func canonicalTool(tool string) string {
	return strings.TrimPrefix(tool, "spf_")
}

// Saturating arithmetic helpers. Go's uint64 arithmetic wraps silently;
// these never do, clamping to math.MaxUint64 instead (spec.md §4.1,
// §8: "no input produces a panic or a wrapped value").

func satAdd(a, b uint64) uint64 {
	s := a + b
	if s < a {
		return math.MaxUint64
	}
	return s
}

func satMul(a, b uint64) uint64 {
	if a == 0 || b == 0 {
		return 0
	}
	p := a * b
	if p/a != b {
		return math.MaxUint64
	}
	return p
}

// satPow computes base^exp with saturation, short-circuiting once the
// accumulator has already saturated.
func satPow(base, exp uint64) uint64 {
	if exp == 0 {
		return 1
	}
	if base == 0 {
		return 0
	}
	result := uint64(1)
	for i := uint64(0); i < exp; i++ {
		result = satMul(result, base)
		if result == math.MaxUint64 {
			return math.MaxUint64
		}
	}
	return result
}

// Score computes C = saturating(basic^p1 + deps^p2 + complex^p3 + files*m).
func Score(basic, deps, complex, files uint64, f config.Formula) uint64 {
	t1 := satPow(basic, f.P1)
	t2 := satPow(deps, f.P2)
	t3 := satPow(complex, f.P3)
	t4 := satMul(files, f.M)
	return satAdd(satAdd(t1, t2), satAdd(t3, t4))
}

// ABudget implements a_optimal(C) = W_eff * (1 - 1/ln(C+e)), clamping C
// to at least 1 to avoid the ln(e)-region singularity, and flooring the
// (always non-negative) result to an unsigned integer (spec.md §4.1,
// §8: "a_optimal(0) > 0").
func ABudget(c uint64, f config.Formula) uint64 {
	cc := c
	if cc < 1 {
		cc = 1
	}
	val := f.WEff * (1 - 1/math.Log(float64(cc)+math.E))
	if val < 0 {
		val = 0
	}
	return uint64(math.Floor(val))
}

// sizeFactor implements spec.md §4.1's size_factor helper, capped at 4.
func sizeFactor(n int) uint64 {
	var f uint64
	if n > 200 {
		f++
	}
	if n > 1000 {
		f++
	}
	if n > 5000 {
		f++
	}
	if f > 4 {
		f = 4
	}
	return f
}

var destructiveTokens = []string{
	"delete", "drop", "remove", "truncate", "override", "force", "unsafe", "rm ", "sudo",
}

// risk implements spec.md §4.1's risk helper.
func risk(content string) uint64 {
	lc := strings.ToLower(content)
	for _, tok := range destructiveTokens {
		if strings.Contains(lc, tok) {
			return 1
		}
	}
	return 0
}

var architecturalNames = []string{
	"config", "main.", "lib.", "mod.", ".env", "settings", "schema",
}
var lockfileNames = []string{
	"package-lock.json", "yarn.lock", "cargo.lock", "go.sum", "poetry.lock", "pnpm-lock.yaml",
}
var configExtensions = []string{
	".yaml", ".yml", ".toml", ".ini", ".json", ".conf",
}

// architectural implements spec.md §4.1's architectural helper.
func architectural(filePath string) uint64 {
	base := strings.ToLower(filePath)
	for _, n := range architecturalNames {
		if strings.Contains(base, n) {
			return 1
		}
	}
	for _, n := range lockfileNames {
		if strings.Contains(base, n) {
			return 1
		}
	}
	for _, ext := range configExtensions {
		if strings.HasSuffix(base, ext) {
			return 1
		}
	}
	return 0
}

// Calculate dispatches on the canonical tool name and returns a
// Result. Unknown tools still receive a conservative fixed tuple so
// the manifest always has a score (spec.md §4.1); denial is the gate's
// job, not the calculator's.
func Calculate(tool string, p Params, cfg *config.Config) Result {
	name := canonicalTool(tool)
	var basic, deps, cplx, files uint64

	switch name {
	case "edit":
		basic, deps, cplx, files = editScore(p, cfg)
	case "write":
		basic, deps, cplx, files = writeScore(p, cfg)
	case "bash":
		basic, deps, cplx, files = bashScore(p, cfg)
	case "read":
		w := cfg.WeightsFor("read")
		basic, deps, cplx, files = w.Basic, w.Dependencies, w.Complex, w.Files
	case "glob", "grep":
		basic, deps, cplx, files = globGrepScore(name, p, cfg)
	case "status", "calculate", "session":
		basic, deps, cplx, files = 5, 0, 0, 1
	default:
		if isMemoryRAGWeb(name) {
			basic, deps, cplx, files = namedToolScore(name, cfg)
		} else {
			// Unknown tool: conservative fixed tuple (spec.md §4.1).
			basic, deps, cplx, files = 20, 3, 1, 1
		}
	}

	c := Score(basic, deps, cplx, files, cfg.Formula)
	tier := cfg.TierForScore(c)
	tp := cfg.TierPolicy[tier]
	return Result{
		Tool:             tool,
		C:                c,
		Tier:             tier,
		AnalyzePct:       tp.AnalyzePct,
		BuildPct:         tp.BuildPct,
		ApprovalRequired: tp.ApprovalRequired,
		BudgetTokens:      ABudget(c, cfg.Formula),
	}
}

func editScore(p Params, cfg *config.Config) (basic, deps, cplx, files uint64) {
	w := cfg.WeightsFor("edit")
	total := len(p.OldString) + len(p.NewString)
	basic = w.Basic + uint64(total)/20
	if p.ReplaceAll {
		deps = 3
	} else {
		deps = 1
	}
	if total > 500 {
		deps++
	}
	cplx = sizeFactor(total) + risk(p.NewString) + architectural(p.FilePath)
	if p.FilePath != "" && architectural(p.FilePath) == 1 && cplx < 3 {
		cplx = 3
	}
	if p.ReplaceAll {
		files = 5
	} else {
		files = 1
	}
	return
}

func writeScore(p Params, cfg *config.Config) (basic, deps, cplx, files uint64) {
	w := cfg.WeightsFor("write")
	basic = w.Basic + uint64(len(p.Content))/50
	deps = w.Dependencies
	lc := p.Content
	if strings.Contains(lc, "import ") || strings.Contains(lc, "require(") ||
		strings.Contains(lc, "use ") || strings.Contains(lc, "mod ") {
		deps += 2
	}
	cplx = sizeFactor(len(p.Content)) + risk(p.Content) + architectural(p.FilePath)
	if architectural(p.FilePath) == 1 && cplx < 3 {
		cplx = 3
	}
	files = 1
	return
}

// bashClass classifies a command in the priority order spec.md §4.1
// demands: dangerous > git-force > piped > simple.
type bashClass int

const (
	bashSimple bashClass = iota
	bashPiped
	bashGitForce
	bashDangerous
)

func classifyBash(cmd string, cfg *config.Config) (bashClass, int, int) {
	pipeCount := strings.Count(cmd, "|") - strings.Count(cmd, "||")
	if pipeCount < 0 {
		pipeCount = 0
	}
	chainCount := strings.Count(cmd, "&&") + strings.Count(cmd, "||") + strings.Count(cmd, ";")

	for _, pat := range cfg.DangerousPatterns {
		if strings.Contains(cmd, pat) {
			return bashDangerous, pipeCount, chainCount
		}
	}
	for _, marker := range cfg.GitForceMarkers {
		if strings.Contains(cmd, marker) && strings.Contains(cmd, "git") {
			return bashGitForce, pipeCount, chainCount
		}
	}
	if pipeCount > 0 {
		return bashPiped, pipeCount, chainCount
	}
	return bashSimple, pipeCount, chainCount
}

// bashFileScope estimates how many files a command's glob-like
// arguments could touch. Any "**" in the command puts it in the
// globstar tier (50), whether or not doublestar accepts the field that
// holds it as a valid pattern.
func bashFileScope(cmd string) uint64 {
	switch {
	case strings.Contains(cmd, "find ") || strings.Contains(cmd, "xargs") || strings.Contains(cmd, "-r") || strings.Contains(cmd, "--recursive"):
		return 100
	case hasGlobstarSegment(cmd):
		return 50
	case strings.Contains(cmd, "*") || strings.Contains(cmd, " / ") || strings.HasSuffix(strings.TrimSpace(cmd), "/"):
		return 20
	default:
		return 1
	}
}

func hasGlobstarSegment(cmd string) bool {
	for _, field := range strings.Fields(cmd) {
		field = strings.Trim(field, "'\"")
		if !strings.Contains(field, "**") {
			continue
		}
		if doublestar.ValidatePattern(field) {
			return true
		}
	}
	return strings.Contains(cmd, "**")
}

func bashScore(p Params, cfg *config.Config) (basic, deps, cplx, files uint64) {
	w := cfg.WeightsFor("bash")
	class, pipeCount, chainCount := classifyBash(p.Command, cfg)
	basic = w.Basic + uint64(len(p.Command))/40
	deps = w.Dependencies + uint64(pipeCount) + uint64(chainCount)
	files = bashFileScope(p.Command)

	switch class {
	case bashDangerous:
		cplx = 3
	case bashGitForce:
		cplx = 2
	case bashPiped:
		cplx = uint64(1 + pipeCount)
		if cplx > 3 {
			cplx = 3
		}
	default:
		cplx = 0
	}
	return
}

func globGrepScore(name string, p Params, cfg *config.Config) (basic, deps, cplx, files uint64) {
	w := cfg.WeightsFor(name)
	basic = w.Basic
	deps = w.Dependencies
	files = bashFileScope(p.Pattern)
	if files == 1 {
		files = w.Files
	}
	if len(p.Pattern) > 50 {
		cplx = 1
	}
	return
}

func isMemoryRAGWeb(name string) bool {
	return strings.HasPrefix(name, "brain_") || strings.HasPrefix(name, "rag_") || strings.HasPrefix(name, "web_") ||
		strings.HasPrefix(name, "notebook_") || strings.HasPrefix(name, "config_") ||
		strings.HasPrefix(name, "projects_") || strings.HasPrefix(name, "tmp_") ||
		strings.HasPrefix(name, "agent_") || strings.HasPrefix(name, "fs_")
}

// namedToolScore gives small fixed tuples to the named memory/RAG/web
// and auxiliary tool families (spec.md §4.1: "small fixed tuples
// documented in §6").
func namedToolScore(name string, cfg *config.Config) (basic, deps, cplx, files uint64) {
	class := "memory"
	switch {
	case strings.HasPrefix(name, "rag_"):
		class = "rag"
	case strings.HasPrefix(name, "web_"):
		class = "web"
	}
	w := cfg.WeightsFor(class)
	return w.Basic, w.Dependencies, w.Complex, w.Files
}
