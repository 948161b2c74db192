// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gate implements the gate pipeline (C7): the fixed-order
// composition of rate limiting, complexity scoring, validator
// dispatch, content inspection, and mode-dependent escalation that
// produces one Decision per tool call (spec.md §4.4).
package gate

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kraklabs/spfgate/internal/complexity"
	"github.com/kraklabs/spfgate/internal/config"
	"github.com/kraklabs/spfgate/internal/inspect"
	"github.com/kraklabs/spfgate/internal/metrics"
	"github.com/kraklabs/spfgate/internal/paths"
	"github.com/kraklabs/spfgate/internal/session"
	"github.com/kraklabs/spfgate/internal/validate"
)

// Reason is the closed taxonomy of manifest reason codes (spec.md
// §4.7; detail added in SPEC_FULL.md §C.7 from original_source's
// gate.rs, which types this as an enum rather than free text).
type Reason string

const (
	ReasonOK                Reason = "OK"
	ReasonRateLimited        Reason = "RATE_LIMITED"
	ReasonValidationFailed   Reason = "VALIDATION_FAILED"
	ReasonInspectionFailed   Reason = "INSPECTION_FAILED"
	ReasonUnknownTool        Reason = "UNKNOWN_TOOL"
	ReasonExecutionFailed    Reason = "EXECUTION_FAILED"
)

// Decision is the gate pipeline's output (spec.md §3).
type Decision struct {
	Allowed    bool
	Tool       string
	Complexity complexity.Result
	Warnings   []string
	Errors     []string
	Message    string
	Reason     Reason
}

// Gate composes C1-C6 to evaluate one tool call against one session.
type Gate struct {
	Config *config.Config
	Root   *paths.Root
}

// New builds a Gate bound to a config snapshot and installation root.
func New(cfg *config.Config, root *paths.Root) *Gate {
	return &Gate{Config: cfg, Root: root}
}

// PathExister reports whether a filesystem path currently exists, used
// by the Build-Anchor check to exempt not-yet-existing targets.
type PathExister func(path string) bool

// OSExists is the default PathExister backed by os.Stat.
func OSExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Evaluate runs the full pipeline for one call and mutates sess's rate
// window, complexity history, and manifest as a side effect (spec.md
// §4.4, §4.7). It does NOT mutate the read/write sets or action
// counter — those are recorded by the tool handler only on successful
// execution (spec.md §4.5).
func (g *Gate) Evaluate(tool string, p complexity.Params, sess *session.Session, exists PathExister) Decision {
	now := time.Now()

	// Step 0: known-tool allowlist fails closed before anything else.
	if !validate.IsKnownTool(tool, g.Config) {
		d := g.deny(tool, complexity.Calculate(tool, p, g.Config), []string{}, []string{"BLOCKED: " + tool + " not in gate allowlist"}, ReasonUnknownTool)
		g.recordManifest(sess, d)
		return d
	}
	if validate.IsOperatorOnlyTool(tool, g.Config) {
		d := g.deny(tool, complexity.Calculate(tool, p, g.Config), []string{}, []string{"BLOCKED: " + tool + " is operator-only, not callable from the gate"}, ReasonUnknownTool)
		g.recordManifest(sess, d)
		return d
	}

	// Step 1: rate limit.
	class := rateClass(tool)
	limit := rateCap(class)
	if sess.CountInWindow(now) >= limit {
		d := Decision{
			Allowed: false,
			Tool:    tool,
			Complexity: complexity.Result{
				Tool: tool, Tier: config.TierRateLimited,
				AnalyzePct: g.Config.TierPolicy[config.TierRateLimited].AnalyzePct,
				BuildPct:   g.Config.TierPolicy[config.TierRateLimited].BuildPct,
				ApprovalRequired: true,
			},
			Errors: []string{"BLOCKED: rate limit exceeded for class " + class},
			Reason: ReasonRateLimited,
		}
		d.Message = buildMessage(d, p)
		sess.RecordRateEvent(now)
		g.recordManifest(sess, d)
		return d
	}
	sess.RecordRateEvent(now)

	// Step 2: complexity.
	result := complexity.Calculate(tool, p, g.Config)
	sess.AppendComplexity(session.ComplexityEntry{Tool: tool, C: result.C, Tier: result.Tier, Timestamp: now})

	// Step 3: validator dispatch.
	vr := g.dispatchValidator(tool, p, sess, exists)

	// Step 4: content inspection on writes/edits.
	bare := strings.TrimPrefix(tool, "spf_")
	if bare == "write" || bare == "edit" {
		ir := inspect.Inspect(p.FilePath, contentOf(bare, p), g.Config)
		vr.Warnings = append(vr.Warnings, ir.Warnings...)
		vr.Errors = append(vr.Errors, ir.Errors...)
		if !ir.Valid {
			vr.Valid = false
		}
	}

	// Step 5: max-mode escalation.
	escalated := false
	if g.Config.Mode == config.ModeMax {
		for _, w := range vr.Warnings {
			if strings.HasPrefix(w, validate.MaxTierMarker) {
				escalated = true
				break
			}
		}
	}
	if escalated {
		tp := g.Config.TierPolicy[config.TierCritical]
		result.Tier = config.TierCritical
		result.AnalyzePct = tp.AnalyzePct
		result.BuildPct = tp.BuildPct
		result.ApprovalRequired = tp.ApprovalRequired
		vr.Warnings = append(vr.Warnings, "escalated to CRITICAL by max-mode policy")
	}

	allowed := vr.Valid
	reason := ReasonOK
	if !allowed {
		reason = ReasonValidationFailed
	}

	d := Decision{
		Allowed:    allowed,
		Tool:       tool,
		Complexity: result,
		Warnings:   vr.Warnings,
		Errors:     vr.Errors,
		Reason:     reason,
	}
	d.Message = buildMessage(d, p)
	g.recordManifest(sess, d)
	return d
}

func (g *Gate) deny(tool string, result complexity.Result, warnings, errors []string, reason Reason) Decision {
	d := Decision{Allowed: false, Tool: tool, Complexity: result, Warnings: warnings, Errors: errors, Reason: reason}
	d.Message = buildMessage(d, complexity.Params{})
	return d
}

func (g *Gate) recordManifest(sess *session.Session, d Decision) {
	reasonText := string(d.Reason)
	if len(d.Errors) > 0 {
		reasonText = d.Errors[0]
	}
	sess.AppendManifest(session.ManifestEntry{
		Tool:      d.Tool,
		C:         d.Complexity.C,
		Allowed:   d.Allowed,
		Reason:    reasonText,
		Timestamp: time.Now(),
	})
	metrics.Record(d.Tool, string(d.Reason), string(d.Complexity.Tier))
}

func (g *Gate) dispatchValidator(tool string, p complexity.Params, sess *session.Session, exists PathExister) validate.Result {
	bare := strings.TrimPrefix(tool, "spf_")
	switch bare {
	case "read", "glob", "grep":
		path := p.FilePath
		if path == "" {
			path = p.Path
		}
		if path == "" {
			path = p.Pattern
		}
		if path == "" {
			return validate.Result{Valid: true}
		}
		return validate.ValidatePathAccess(path, g.Config)
	case "write", "edit", "notebook_edit":
		res := validate.ValidateWriteTarget(p.FilePath, g.Root)
		if !res.Valid {
			return res
		}
		ex := false
		if exists != nil {
			ex = exists(p.FilePath)
		}
		ba := validate.ValidateBuildAnchor(p.FilePath, ex, sess, g.Config)
		res.Warnings = append(res.Warnings, ba.Warnings...)
		res.Errors = append(res.Errors, ba.Errors...)
		if !ba.Valid {
			res.Valid = false
		}
		return res
	case "bash":
		return validate.ValidateBash(p.Command, g.Config, g.Root)
	case "web_fetch", "web_download", "web_api", "web_search":
		// The SSRF classifier runs unconditionally at execution time
		// (internal/toolexec), not in the gate's validator cascade:
		// spec.md §8 scenario 7 calls for allowed=true at the gate and
		// a classifier failure surfaced as an execution failure.
		// spf_web_download's destination gets the same hard write
		// allow-list as spf_write.
		if bare == "web_download" {
			return validate.ValidateWriteTarget(p.FilePath, g.Root)
		}
		return validate.Result{Valid: true}
	default:
		return validate.Result{Valid: true}
	}
}

func contentOf(bare string, p complexity.Params) string {
	if bare == "write" {
		return p.Content
	}
	return p.NewString
}

func rateClass(tool string) string {
	return classOf(tool)
}

func rateCap(class string) int {
	switch class {
	case "write":
		return 60
	case "web":
		return 30
	default:
		return 120
	}
}

func classOf(tool string) string {
	bare := strings.TrimPrefix(tool, "spf_")
	switch {
	case bare == "write" || bare == "edit" || bare == "web_download":
		return "write"
	case bare == "web_fetch" || bare == "web_search" || bare == "web_api":
		return "web"
	default:
		return "default"
	}
}

func buildMessage(d Decision, p complexity.Params) string {
	status := "ALLOWED"
	if !d.Allowed {
		status = "BLOCKED"
	}
	summary := paramSummary(p)
	msg := fmt.Sprintf("%s: tool=%s C=%d tier=%s analyze=%d%% build=%d%% %s",
		status, d.Tool, d.Complexity.C, d.Complexity.Tier, d.Complexity.AnalyzePct, d.Complexity.BuildPct, summary)
	if !d.Allowed && len(d.Errors) > 0 {
		msg = d.Errors[0] + " | " + msg
	}
	return msg
}

func paramSummary(p complexity.Params) string {
	parts := []string{}
	add := func(k, v string) {
		if v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	add("path", p.FilePath)
	add("command", p.Command)
	add("url", p.URL)
	add("pattern", p.Pattern)
	s := strings.Join(parts, " ")
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
