// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package toolexec

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/kraklabs/spfgate/internal/complexity"
	"github.com/kraklabs/spfgate/internal/gate"
	"github.com/kraklabs/spfgate/internal/paths"
	"github.com/kraklabs/spfgate/internal/session"
	"github.com/kraklabs/spfgate/internal/validate"
	"github.com/kraklabs/spfgate/internal/vfs"
)

const (
	globMatchLimit = globLineLimit
	grepMatchLimit = grepLineLimit
)

// Glob implements spf_glob: a doublestar pattern evaluated against the
// installation root, bounded to globMatchLimit results (spec.md §6).
func (h *Handlers) Glob(ctx context.Context, pattern string) (*ToolResult, error) {
	d := h.Gate.Evaluate("spf_glob", complexity.Params{Pattern: pattern}, h.Session, nil)
	if !d.Allowed {
		_ = h.persist()
		return NewError(d.Message, d), nil
	}
	matches, err := doublestar.Glob(os.DirFS(h.Root.Install), pattern)
	if err != nil {
		h.Session.AppendFailure(session.FailureEntry{Tool: "spf_glob", Message: err.Error(), Timestamp: time.Now()})
		h.Session.RecordAction("spf_glob", "error", "")
		_ = h.persist()
		return NewResult(fmt.Sprintf("glob failed: %v", err), d), nil
	}
	sort.Strings(matches)
	if len(matches) > globMatchLimit {
		matches = matches[:globMatchLimit]
	}
	h.Session.RecordAction("spf_glob", "ok", pattern)
	_ = h.persist()
	return NewResult(strings.Join(matches, "\n"), d), nil
}

// Grep implements spf_grep: a regular expression evaluated line-by-line
// over files selected by an optional doublestar file_pattern, bounded
// to grepMatchLimit matching lines.
func (h *Handlers) Grep(ctx context.Context, pattern, filePattern string) (*ToolResult, error) {
	d := h.Gate.Evaluate("spf_grep", complexity.Params{Pattern: pattern}, h.Session, nil)
	if !d.Allowed {
		_ = h.persist()
		return NewError(d.Message, d), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		h.Session.AppendFailure(session.FailureEntry{Tool: "spf_grep", Message: err.Error(), Timestamp: time.Now()})
		h.Session.RecordAction("spf_grep", "error", "")
		_ = h.persist()
		return NewResult(fmt.Sprintf("grep failed: invalid pattern: %v", err), d), nil
	}
	if filePattern == "" {
		filePattern = "**/*"
	}

	var lines []string
	_ = doublestar.GlobWalk(os.DirFS(h.Root.Install), filePattern, func(path string, de fs.DirEntry) error {
		if len(lines) >= grepMatchLimit || de.IsDir() {
			return nil
		}
		data, err := os.ReadFile(filepath.Join(h.Root.Install, path))
		if err != nil {
			return nil
		}
		for i, line := range strings.Split(string(data), "\n") {
			if len(lines) >= grepMatchLimit {
				break
			}
			if re.MatchString(line) {
				lines = append(lines, fmt.Sprintf("%s:%d:%s", path, i+1, line))
			}
		}
		return nil
	})
	h.Session.RecordAction("spf_grep", "ok", filePattern)
	_ = h.persist()
	return NewResult(strings.Join(lines, "\n"), d), nil
}

// NotebookEdit implements spf_notebook_edit: the same gated
// read-modify-write as Edit, replacing the first occurrence only. The
// notebook is not parsed: oldSource is matched against the file's raw
// text, so a match is not limited to cell source.
func (h *Handlers) NotebookEdit(ctx context.Context, path, oldSource, newSource string) (*ToolResult, error) {
	d := h.Gate.Evaluate("spf_notebook_edit", complexity.Params{FilePath: path, OldString: oldSource, NewString: newSource}, h.Session, gate.OSExists)
	if !d.Allowed {
		_ = h.persist()
		return NewError(d.Message, d), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		h.Session.AppendFailure(session.FailureEntry{Tool: "spf_notebook_edit", Message: err.Error(), Timestamp: time.Now()})
		h.Session.RecordAction("spf_notebook_edit", "error", path)
		_ = h.persist()
		return NewResult(fmt.Sprintf("notebook_edit failed: %v", err), d), nil
	}
	updated := strings.Replace(string(data), oldSource, newSource, 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		h.Session.AppendFailure(session.FailureEntry{Tool: "spf_notebook_edit", Message: err.Error(), Timestamp: time.Now()})
		h.Session.RecordAction("spf_notebook_edit", "error", path)
		_ = h.persist()
		return NewResult(fmt.Sprintf("notebook_edit failed: %v", err), d), nil
	}
	canonical, ok := paths.Canonicalize(path)
	h.Session.RecordWrite(session.CanonicalOrSentinel(canonical, ok))
	h.Session.RecordAction("spf_notebook_edit", "ok", path)
	_ = h.persist()
	return NewResult("edited notebook "+path, d), nil
}

// WebDownload implements spf_web_download: like WebFetch but streams
// the response body to a gated write target instead of returning text.
func (h *Handlers) WebDownload(ctx context.Context, url, destPath string) (*ToolResult, error) {
	d := h.Gate.Evaluate("spf_web_download", complexity.Params{URL: url, FilePath: destPath}, h.Session, nil)
	if !d.Allowed {
		_ = h.persist()
		return NewError(d.Message, d), nil
	}
	if r := validate.ClassifySSRF(url); !r.Valid {
		h.Session.AppendFailure(session.FailureEntry{Tool: "spf_web_download", Message: r.Errors[0], Timestamp: time.Now()})
		h.Session.RecordAction("spf_web_download", "error", "")
		_ = h.persist()
		return NewResult(r.Errors[0], d), nil
	}
	cctx, cancel := context.WithTimeout(ctx, httpTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(cctx, http.MethodGet, url, nil)
	if err != nil {
		return h.webFailure(d, "spf_web_download", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return h.webFailure(d, "spf_web_download", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return h.webFailure(d, "spf_web_download", fmt.Errorf("HTTP %d", resp.StatusCode))
	}
	if err := os.MkdirAll(parentDir(destPath), 0o755); err != nil {
		return h.webFailure(d, "spf_web_download", err)
	}
	out, err := os.Create(destPath) //nolint:gosec // G304: destPath is already validated by the gate's write allow-list
	if err != nil {
		return h.webFailure(d, "spf_web_download", err)
	}
	defer out.Close()
	n, err := copyLimited(out, resp.Body, h.Gate.Config.MaxWriteSize)
	if err != nil {
		return h.webFailure(d, "spf_web_download", err)
	}
	canonical, ok := paths.Canonicalize(destPath)
	h.Session.RecordWrite(session.CanonicalOrSentinel(canonical, ok))
	h.Session.RecordAction("spf_web_download", "ok", destPath)
	_ = h.persist()
	return NewResult(fmt.Sprintf("downloaded %d bytes to %s", n, destPath), d), nil
}

// WebAPI implements spf_web_api: a bounded JSON-oriented HTTP call with
// an explicit method. It shares WebFetch's SSRF check; unlike WebFetch
// it returns the response body whatever its content type.
func (h *Handlers) WebAPI(ctx context.Context, url, method, body string) (*ToolResult, error) {
	if method == "" {
		method = http.MethodGet
	}
	d := h.Gate.Evaluate("spf_web_api", complexity.Params{URL: url, Content: body}, h.Session, nil)
	if !d.Allowed {
		_ = h.persist()
		return NewError(d.Message, d), nil
	}
	if r := validate.ClassifySSRF(url); !r.Valid {
		h.Session.AppendFailure(session.FailureEntry{Tool: "spf_web_api", Message: r.Errors[0], Timestamp: time.Now()})
		h.Session.RecordAction("spf_web_api", "error", "")
		_ = h.persist()
		return NewResult(r.Errors[0], d), nil
	}
	cctx, cancel := context.WithTimeout(ctx, httpTimeout)
	defer cancel()
	var reqBody *strings.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	} else {
		reqBody = strings.NewReader("")
	}
	req, err := http.NewRequestWithContext(cctx, method, url, reqBody)
	if err != nil {
		return h.webFailure(d, "spf_web_api", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return h.webFailure(d, "spf_web_api", err)
	}
	defer resp.Body.Close()
	text, err := readLimited(resp.Body, maxHTTPBody)
	if err != nil {
		return h.webFailure(d, "spf_web_api", err)
	}
	h.Session.RecordAction("spf_web_api", "ok", "")
	_ = h.persist()
	return NewResult(fmt.Sprintf("HTTP %d\n%s", resp.StatusCode, text), d), nil
}

// WebSearch implements spf_web_search: when BRAVE_API_KEY is set it
// proxies to the Brave Search API, otherwise it reports the feature as
// unconfigured (spec.md §6 env var table).
func (h *Handlers) WebSearch(ctx context.Context, query string) (*ToolResult, error) {
	d := h.Gate.Evaluate("spf_web_search", complexity.Params{Query: query}, h.Session, nil)
	if !d.Allowed {
		_ = h.persist()
		return NewError(d.Message, d), nil
	}
	key := os.Getenv("BRAVE_API_KEY")
	if key == "" {
		h.Session.RecordAction("spf_web_search", "ok", "")
		_ = h.persist()
		return NewResult("spf_web_search is unavailable: BRAVE_API_KEY is not set", d), nil
	}
	cctx, cancel := context.WithTimeout(ctx, httpTimeout)
	defer cancel()
	endpoint := "https://api.search.brave.com/res/v1/web/search?q=" + url.QueryEscape(query)
	if r := validate.ClassifySSRF(endpoint); !r.Valid {
		return h.webFailure(d, "spf_web_search", fmt.Errorf("%s", r.Errors[0]))
	}
	req, err := http.NewRequestWithContext(cctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return h.webFailure(d, "spf_web_search", err)
	}
	req.Header.Set("X-Subscription-Token", key)
	req.Header.Set("Accept", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return h.webFailure(d, "spf_web_search", err)
	}
	defer resp.Body.Close()
	text, err := readLimited(resp.Body, maxHTTPBody)
	if err != nil {
		return h.webFailure(d, "spf_web_search", err)
	}
	h.Session.RecordAction("spf_web_search", "ok", "")
	_ = h.persist()
	return NewResult(text, d), nil
}

// Passthrough gates and records the semantic-memory (spf_brain_*) and
// retrieval-collector (spf_rag_*) tool families: the gate mediates them
// the same as any other call, but their actual execution belongs to
// the subsystem they front, not to this gateway (spec.md §6:
// "passthrough"). spf_projects_* and spf_tmp_* have real handlers in
// toolexec_registry.go and no longer go through here.
func (h *Handlers) Passthrough(ctx context.Context, tool string, p complexity.Params) (*ToolResult, error) {
	d := h.Gate.Evaluate(tool, p, h.Session, nil)
	if !d.Allowed {
		_ = h.persist()
		return NewError(d.Message, d), nil
	}
	h.Session.RecordAction(tool, "ok", "")
	_ = h.persist()
	return NewResult(tool+": ok", d), nil
}

// FSExists, FSStat, FSLs, FSRead implement the read side of the
// spf_fs_* family by delegating to the VFS router (C9). The write side
// (spf_fs_write/mkdir/rm/rename) is blocked unconditionally at the gate
// as operator-only (spec.md §4.2) and never reaches here.
func (h *Handlers) FSExists(ctx context.Context, router *vfs.Router, vpath string) (*ToolResult, error) {
	d := h.Gate.Evaluate("spf_fs_exists", complexity.Params{Path: vpath}, h.Session, nil)
	if !d.Allowed {
		_ = h.persist()
		return NewError(d.Message, d), nil
	}
	ok, err := router.Exists(vpath)
	h.Session.RecordAction("spf_fs_exists", "ok", vpath)
	_ = h.persist()
	if err != nil {
		return NewResult(fmt.Sprintf("false (%v)", err), d), nil
	}
	return NewResult(fmt.Sprintf("%v", ok), d), nil
}

func (h *Handlers) FSStat(ctx context.Context, router *vfs.Router, vpath string) (*ToolResult, error) {
	d := h.Gate.Evaluate("spf_fs_stat", complexity.Params{Path: vpath}, h.Session, nil)
	if !d.Allowed {
		_ = h.persist()
		return NewError(d.Message, d), nil
	}
	data, err := router.Read(vpath)
	h.Session.RecordAction("spf_fs_stat", "ok", vpath)
	_ = h.persist()
	if err != nil {
		return NewResult(fmt.Sprintf("stat failed: %v", err), d), nil
	}
	return NewResult(fmt.Sprintf("size=%d", len(data)), d), nil
}

func (h *Handlers) FSLs(ctx context.Context, router *vfs.Router, vpath string) (*ToolResult, error) {
	d := h.Gate.Evaluate("spf_fs_ls", complexity.Params{Path: vpath}, h.Session, nil)
	if !d.Allowed {
		_ = h.persist()
		return NewError(d.Message, d), nil
	}
	names, err := router.List(vpath)
	h.Session.RecordAction("spf_fs_ls", "ok", vpath)
	_ = h.persist()
	if err != nil {
		return NewResult(fmt.Sprintf("ls failed: %v", err), d), nil
	}
	return NewResult(strings.Join(names, "\n"), d), nil
}

// copyLimited copies from src to dst, refusing once limit bytes have
// been written (spec.md §4.5's bounded-write discipline applied to
// streamed downloads).
func copyLimited(dst *os.File, src io.Reader, limit int64) (int64, error) {
	if limit <= 0 {
		limit = maxHTTPBody
	}
	n, err := io.Copy(dst, io.LimitReader(src, limit+1))
	if n > limit {
		return n, fmt.Errorf("response exceeds max write size of %d bytes", limit)
	}
	return n, err
}

// readLimited reads up to limit bytes from r and appends a truncation
// marker if the body was larger.
func readLimited(r io.Reader, limit int) (string, error) {
	body, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return "", err
	}
	if len(body) > limit {
		return string(body[:limit]) + fmt.Sprintf("\n[...truncated, %d bytes total]", len(body)), nil
	}
	return string(body), nil
}

func (h *Handlers) FSRead(ctx context.Context, router *vfs.Router, vpath string) (*ToolResult, error) {
	d := h.Gate.Evaluate("spf_fs_read", complexity.Params{Path: vpath}, h.Session, nil)
	if !d.Allowed {
		_ = h.persist()
		return NewError(d.Message, d), nil
	}
	data, err := router.Read(vpath)
	h.Session.RecordAction("spf_fs_read", "ok", vpath)
	_ = h.persist()
	if err != nil {
		return NewResult(fmt.Sprintf("read failed: %v", err), d), nil
	}
	return NewResult(string(data), d), nil
}
