// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package toolexec implements the gateway's tool handlers (C8): file
// read/write/edit, bounded subprocess execution, and bounded outbound
// HTTP, each gated through internal/gate before touching the world
// (spec.md §4.5).
package toolexec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/kraklabs/spfgate/internal/complexity"
	"github.com/kraklabs/spfgate/internal/gate"
	"github.com/kraklabs/spfgate/internal/paths"
	"github.com/kraklabs/spfgate/internal/projects"
	"github.com/kraklabs/spfgate/internal/session"
	"github.com/kraklabs/spfgate/internal/tmpmeta"
	"github.com/kraklabs/spfgate/internal/validate"
	"github.com/kraklabs/spfgate/pkg/storage"
)

const (
	defaultBashTimeout = 30 * time.Second
	maxBashTimeout      = 300 * time.Second
	httpTimeout         = 30 * time.Second
	maxHTTPBody         = 50_000
	globLineLimit       = 100
	grepLineLimit       = 500
)

// ToolResult is the handler contract's return shape: text shown to the
// agent plus the gate decision that produced it, mirroring the
// teacher's (*ToolResult, error) handler convention.
type ToolResult struct {
	Text    string
	Allowed bool
	Decision gate.Decision
}

func NewResult(text string, d gate.Decision) *ToolResult {
	return &ToolResult{Text: text, Allowed: d.Allowed, Decision: d}
}

func NewError(message string, d gate.Decision) *ToolResult {
	return &ToolResult{Text: message, Allowed: false, Decision: d}
}

// Handlers owns the dependencies every tool handler needs: the gate,
// the session store, the installation root, and the tmp/project
// registries that back the spf_tmp_*/spf_projects_* tool families.
type Handlers struct {
	Gate         *gate.Gate
	Session      *session.Session
	SessionStore *session.Store
	Root         *paths.Root
	Tmp          *tmpmeta.Store
	Projects     *projects.Store
}

func New(g *gate.Gate, sess *session.Session, store *session.Store, root *paths.Root, backend *storage.EmbeddedBackend) *Handlers {
	return &Handlers{
		Gate:         g,
		Session:      sess,
		SessionStore: store,
		Root:         root,
		Tmp:          tmpmeta.NewStore(backend),
		Projects:     projects.NewStore(backend),
	}
}

// persist writes the session back after a handled call (spec.md
// §4.7's "sole durable crash boundary").
func (h *Handlers) persist() error {
	return h.SessionStore.Persist(h.Session)
}

// Read implements spf_read.
func (h *Handlers) Read(ctx context.Context, path string) (*ToolResult, error) {
	d := h.Gate.Evaluate("spf_read", complexity.Params{FilePath: path}, h.Session, gate.OSExists)
	if !d.Allowed {
		_ = h.persist()
		return NewError(d.Message, d), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		h.Session.AppendFailure(session.FailureEntry{Tool: "spf_read", Message: err.Error(), Timestamp: time.Now()})
		h.Session.RecordAction("spf_read", "error", path)
		_ = h.persist()
		return NewResult(fmt.Sprintf("read failed: %v", err), d), nil
	}
	canonical, ok := paths.Canonicalize(path)
	h.Session.RecordRead(session.CanonicalOrSentinel(canonical, ok))
	h.Session.RecordAction("spf_read", "ok", path)
	_ = h.persist()
	return NewResult(string(data), d), nil
}

// Write implements spf_write.
func (h *Handlers) Write(ctx context.Context, path, content string) (*ToolResult, error) {
	d := h.Gate.Evaluate("spf_write", complexity.Params{FilePath: path, Content: content}, h.Session, gate.OSExists)
	if !d.Allowed {
		_ = h.persist()
		return NewError(d.Message, d), nil
	}
	if err := os.MkdirAll(parentDir(path), 0o755); err == nil {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			h.Session.AppendFailure(session.FailureEntry{Tool: "spf_write", Message: err.Error(), Timestamp: time.Now()})
			h.Session.RecordAction("spf_write", "error", path)
			_ = h.persist()
			return NewResult(fmt.Sprintf("write failed: %v", err), d), nil
		}
	}
	canonical, ok := paths.Canonicalize(path)
	h.Session.RecordWrite(session.CanonicalOrSentinel(canonical, ok))
	h.Session.RecordAction("spf_write", "ok", path)
	_ = h.persist()
	return NewResult("wrote "+fmt.Sprint(len(content))+" bytes to "+path, d), nil
}

// Edit implements spf_edit: a gated read-modify-write on an existing
// file's contents.
func (h *Handlers) Edit(ctx context.Context, path, oldStr, newStr string, replaceAll bool) (*ToolResult, error) {
	d := h.Gate.Evaluate("spf_edit", complexity.Params{FilePath: path, OldString: oldStr, NewString: newStr, ReplaceAll: replaceAll}, h.Session, gate.OSExists)
	if !d.Allowed {
		_ = h.persist()
		return NewError(d.Message, d), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		h.Session.AppendFailure(session.FailureEntry{Tool: "spf_edit", Message: err.Error(), Timestamp: time.Now()})
		h.Session.RecordAction("spf_edit", "error", path)
		_ = h.persist()
		return NewResult(fmt.Sprintf("edit failed: %v", err), d), nil
	}
	var updated string
	if replaceAll {
		updated = strings.ReplaceAll(string(data), oldStr, newStr)
	} else {
		updated = strings.Replace(string(data), oldStr, newStr, 1)
	}
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		h.Session.AppendFailure(session.FailureEntry{Tool: "spf_edit", Message: err.Error(), Timestamp: time.Now()})
		h.Session.RecordAction("spf_edit", "error", path)
		_ = h.persist()
		return NewResult(fmt.Sprintf("edit failed: %v", err), d), nil
	}
	canonical, ok := paths.Canonicalize(path)
	h.Session.RecordWrite(session.CanonicalOrSentinel(canonical, ok))
	h.Session.RecordAction("spf_edit", "ok", path)
	_ = h.persist()
	return NewResult("edited "+path, d), nil
}

func parentDir(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

// Bash implements spf_bash: arguments are interpreted by one explicit
// shell invocation (the sole tool permitted to use a shell — spec.md
// §4.5), under a bounded timeout supervisor.
func (h *Handlers) Bash(ctx context.Context, command string, timeout time.Duration) (*ToolResult, error) {
	d := h.Gate.Evaluate("spf_bash", complexity.Params{Command: command}, h.Session, nil)
	if !d.Allowed {
		_ = h.persist()
		return NewError(d.Message, d), nil
	}
	if timeout <= 0 {
		timeout = defaultBashTimeout
	}
	if timeout > maxBashTimeout {
		timeout = maxBashTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "bash", "-c", command)
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	runErr := cmd.Run()

	h.Session.RecordAction("spf_bash", "ok", "")
	if runErr != nil {
		h.Session.AppendFailure(session.FailureEntry{Tool: "spf_bash", Message: runErr.Error(), Timestamp: time.Now()})
	}
	_ = h.persist()
	text := out.String()
	if errOut.Len() > 0 {
		text += "\n[stderr]\n" + errOut.String()
	}
	if runErr != nil {
		text += fmt.Sprintf("\n[exit error] %v", runErr)
	}
	return NewResult(text, d), nil
}

// WebFetch implements spf_web_fetch: the gate does not classify URLs,
// so the SSRF classifier runs here, unconditionally, after the gate
// allows the call and before any request is made; execution failures
// (including an SSRF rejection) are recorded in the failure log, not
// treated as policy breaches (spec.md §7 kind 4).
func (h *Handlers) WebFetch(ctx context.Context, url string) (*ToolResult, error) {
	d := h.Gate.Evaluate("spf_web_fetch", complexity.Params{URL: url}, h.Session, nil)
	if !d.Allowed {
		_ = h.persist()
		return NewError(d.Message, d), nil
	}
	// SSRF classification happens here, immediately before dispatch.
	if r := validate.ClassifySSRF(url); !r.Valid {
		h.Session.AppendFailure(session.FailureEntry{Tool: "spf_web_fetch", Message: r.Errors[0], Timestamp: time.Now()})
		h.Session.RecordAction("spf_web_fetch", "error", "")
		_ = h.persist()
		return NewResult(r.Errors[0], d), nil
	}

	cctx, cancel := context.WithTimeout(ctx, httpTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(cctx, http.MethodGet, url, nil)
	if err != nil {
		return h.webFailure(d, "spf_web_fetch", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return h.webFailure(d, "spf_web_fetch", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return h.webFailure(d, "spf_web_fetch", fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	ct := resp.Header.Get("Content-Type")
	if !acceptableContentType(ct) {
		h.Session.RecordAction("spf_web_fetch", "ok", "")
		_ = h.persist()
		return NewResult(fmt.Sprintf("refused to decode body: content-type %q is not text/json/xml", ct), d), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBody+1))
	if err != nil {
		return h.webFailure(d, "spf_web_fetch", err)
	}
	text := string(body)
	if len(body) > maxHTTPBody {
		text = string(body[:maxHTTPBody]) + fmt.Sprintf("\n[...truncated, %d bytes total]", len(body))
	}
	h.Session.RecordAction("spf_web_fetch", "ok", "")
	_ = h.persist()
	return NewResult(text, d), nil
}

func (h *Handlers) webFailure(d gate.Decision, tool string, err error) (*ToolResult, error) {
	h.Session.AppendFailure(session.FailureEntry{Tool: tool, Message: err.Error(), Timestamp: time.Now()})
	h.Session.RecordAction(tool, "error", "")
	_ = h.persist()
	return NewResult(fmt.Sprintf("%s failed: %v", tool, err), d), nil
}

func acceptableContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.HasPrefix(ct, "text/") ||
		strings.Contains(ct, "application/json") ||
		strings.Contains(ct, "application/xml")
}
