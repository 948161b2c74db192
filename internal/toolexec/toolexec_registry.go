// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package toolexec

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kraklabs/spfgate/internal/complexity"
)

const defaultGCThreshold = 24 * time.Hour

// TmpList implements spf_tmp_list: every tracked /tmp path's
// last-touched timestamp and age (SPEC_FULL.md §C.4).
func (h *Handlers) TmpList(ctx context.Context) (*ToolResult, error) {
	d := h.Gate.Evaluate("spf_tmp_list", complexity.Params{}, h.Session, nil)
	if !d.Allowed {
		_ = h.persist()
		return NewError(d.Message, d), nil
	}
	entries, err := h.Tmp.List(time.Now())
	h.Session.RecordAction("spf_tmp_list", "ok", "")
	_ = h.persist()
	if err != nil {
		return NewResult(fmt.Sprintf("spf_tmp_list failed: %v", err), d), nil
	}
	if len(entries) == 0 {
		return NewResult("no tracked tmp entries", d), nil
	}
	var lines []string
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%s\ttouched=%s\tage=%s", e.Path, e.Touched.Format(time.RFC3339), e.Age.Round(time.Second)))
	}
	return NewResult(strings.Join(lines, "\n"), d), nil
}

// TmpStat implements spf_tmp_stat: the touch record for a single path.
func (h *Handlers) TmpStat(ctx context.Context, relPath string) (*ToolResult, error) {
	d := h.Gate.Evaluate("spf_tmp_stat", complexity.Params{Path: relPath}, h.Session, nil)
	if !d.Allowed {
		_ = h.persist()
		return NewError(d.Message, d), nil
	}
	e, found, err := h.Tmp.Stat(relPath, time.Now())
	h.Session.RecordAction("spf_tmp_stat", "ok", relPath)
	_ = h.persist()
	if err != nil {
		return NewResult(fmt.Sprintf("spf_tmp_stat failed: %v", err), d), nil
	}
	if !found {
		return NewResult(fmt.Sprintf("no tracked entry for %q", relPath), d), nil
	}
	return NewResult(fmt.Sprintf("%s\ttouched=%s\tage=%s", e.Path, e.Touched.Format(time.RFC3339), e.Age.Round(time.Second)), d), nil
}

// TmpAge implements spf_tmp_age: just the age of a single tracked path.
func (h *Handlers) TmpAge(ctx context.Context, relPath string) (*ToolResult, error) {
	d := h.Gate.Evaluate("spf_tmp_age", complexity.Params{Path: relPath}, h.Session, nil)
	if !d.Allowed {
		_ = h.persist()
		return NewError(d.Message, d), nil
	}
	age, found, err := h.Tmp.Age(relPath, time.Now())
	h.Session.RecordAction("spf_tmp_age", "ok", relPath)
	_ = h.persist()
	if err != nil {
		return NewResult(fmt.Sprintf("spf_tmp_age failed: %v", err), d), nil
	}
	if !found {
		return NewResult(fmt.Sprintf("no tracked entry for %q", relPath), d), nil
	}
	return NewResult(age.Round(time.Second).String(), d), nil
}

// TmpGCPreview implements spf_tmp_gc_preview: a dry-run list of entries
// at or past a threshold age. Limit carries the threshold in seconds;
// zero or negative falls back to defaultGCThreshold. Never deletes
// anything (SPEC_FULL.md §C.4).
func (h *Handlers) TmpGCPreview(ctx context.Context, thresholdSeconds int) (*ToolResult, error) {
	d := h.Gate.Evaluate("spf_tmp_gc_preview", complexity.Params{Limit: thresholdSeconds}, h.Session, nil)
	if !d.Allowed {
		_ = h.persist()
		return NewError(d.Message, d), nil
	}
	threshold := defaultGCThreshold
	if thresholdSeconds > 0 {
		threshold = time.Duration(thresholdSeconds) * time.Second
	}
	stale, err := h.Tmp.GCPreview(threshold, time.Now())
	h.Session.RecordAction("spf_tmp_gc_preview", "ok", "")
	_ = h.persist()
	if err != nil {
		return NewResult(fmt.Sprintf("spf_tmp_gc_preview failed: %v", err), d), nil
	}
	if len(stale) == 0 {
		return NewResult(fmt.Sprintf("no entries older than %s", threshold), d), nil
	}
	var lines []string
	for _, e := range stale {
		lines = append(lines, fmt.Sprintf("%s\tage=%s", e.Path, e.Age.Round(time.Second)))
	}
	return NewResult(strings.Join(lines, "\n"), d), nil
}

// ProjectsList implements spf_projects_list.
func (h *Handlers) ProjectsList(ctx context.Context) (*ToolResult, error) {
	d := h.Gate.Evaluate("spf_projects_list", complexity.Params{}, h.Session, nil)
	if !d.Allowed {
		_ = h.persist()
		return NewError(d.Message, d), nil
	}
	all, err := h.Projects.List()
	h.Session.RecordAction("spf_projects_list", "ok", "")
	_ = h.persist()
	if err != nil {
		return NewResult(fmt.Sprintf("spf_projects_list failed: %v", err), d), nil
	}
	if len(all) == 0 {
		return NewResult("no registered projects", d), nil
	}
	var lines []string
	for _, p := range all {
		lines = append(lines, fmt.Sprintf("%s\troot=%s\tlast_accessed=%s", p.ID, p.Root, p.LastAccessed.Format(time.RFC3339)))
	}
	return NewResult(strings.Join(lines, "\n"), d), nil
}

// ProjectsGet implements spf_projects_get.
func (h *Handlers) ProjectsGet(ctx context.Context, id string) (*ToolResult, error) {
	d := h.Gate.Evaluate("spf_projects_get", complexity.Params{Path: id}, h.Session, nil)
	if !d.Allowed {
		_ = h.persist()
		return NewError(d.Message, d), nil
	}
	p, found, err := h.Projects.Get(id)
	h.Session.RecordAction("spf_projects_get", "ok", id)
	_ = h.persist()
	if err != nil {
		return NewResult(fmt.Sprintf("spf_projects_get failed: %v", err), d), nil
	}
	if !found {
		return NewResult(fmt.Sprintf("no registered project %q", id), d), nil
	}
	return NewResult(fmt.Sprintf("%s\troot=%s\tregistered=%s\tlast_accessed=%s",
		p.ID, p.Root, p.RegisteredAt.Format(time.RFC3339), p.LastAccessed.Format(time.RFC3339)), d), nil
}

// ProjectsTouch implements spf_projects_touch: the same last-accessed
// refresh the router fires automatically on a PROJECTS-mount write, but
// directly callable (SPEC_FULL.md §C.5). A no-op for an unregistered id.
func (h *Handlers) ProjectsTouch(ctx context.Context, id string) (*ToolResult, error) {
	d := h.Gate.Evaluate("spf_projects_touch", complexity.Params{Path: id}, h.Session, nil)
	if !d.Allowed {
		_ = h.persist()
		return NewError(d.Message, d), nil
	}
	err := h.Projects.Touch(id, time.Now())
	h.Session.RecordAction("spf_projects_touch", "ok", id)
	_ = h.persist()
	if err != nil {
		return NewResult(fmt.Sprintf("spf_projects_touch failed: %v", err), d), nil
	}
	return NewResult("touched "+id, d), nil
}

// ProjectsStats implements spf_projects_stats.
func (h *Handlers) ProjectsStats(ctx context.Context) (*ToolResult, error) {
	d := h.Gate.Evaluate("spf_projects_stats", complexity.Params{}, h.Session, nil)
	if !d.Allowed {
		_ = h.persist()
		return NewError(d.Message, d), nil
	}
	stats, err := h.Projects.Stats()
	h.Session.RecordAction("spf_projects_stats", "ok", "")
	_ = h.persist()
	if err != nil {
		return NewResult(fmt.Sprintf("spf_projects_stats failed: %v", err), d), nil
	}
	return NewResult(fmt.Sprintf("count=%d most_recent_touch=%s", stats.Count, stats.MostRecentTouch.Format(time.RFC3339)), d), nil
}
