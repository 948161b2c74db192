// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/kraklabs/spfgate/internal/complexity"
	"github.com/kraklabs/spfgate/internal/metrics"
	"github.com/kraklabs/spfgate/internal/ratelimit"
	"github.com/kraklabs/spfgate/internal/uerr"
)

const (
	mcpProtocolVersion = "2024-11-05"
	mcpServerName      = "spfgate"
)

const spfgateInstructions = `spfgate mediates every tool call you make. Each call is scored for
complexity, run through a validator cascade (path allow/deny, the
Build-Anchor read-before-edit rule, bash dissection, SSRF
classification for web fetches), and either executed or denied with a
structured reason. A denial is not a crash: read the message, adjust
the call, and retry. Calls in the CRITICAL tier are flagged as
requiring operator approval; the flag is reported with the decision
and does not by itself block the call.`

// jsonRPCRequest is the line-oriented JSON-RPC 2.0 envelope read from
// stdin (spec.md §6).
type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// jsonRPCResponse is the envelope written to stdout.
type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type mcpServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type mcpCapabilities struct {
	Tools struct {
		ListChanged bool `json:"listChanged"`
	} `json:"tools"`
}

type mcpInitializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    mcpCapabilities `json:"capabilities"`
	ServerInfo      mcpServerInfo   `json:"serverInfo"`
	Instructions    string          `json:"instructions,omitempty"`
}

type mcpTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type mcpToolsListResult struct {
	Tools []mcpTool `json:"tools"`
}

type mcpToolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type mcpContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type mcpToolResult struct {
	Content []mcpContent `json:"content"`
	IsError bool         `json:"isError,omitempty"`
}

// mcpServer owns the wired Environment and dispatches JSON-RPC requests
// to the spf_* tool catalogue (spec.md §6).
type mcpServer struct {
	env      *Environment
	logger   *zap.SugaredLogger
	limiters *ratelimit.Limiters
}

// runServe executes the 'serve' CLI command: the long-running stdio
// JSON-RPC gateway every agent tool call is mediated through. An
// optional --metrics-addr starts a background Prometheus /metrics
// endpoint, mirroring the teacher's own optional metrics flag
// (cmd/cie/index.go).
func runServe(args []string, configPath string, globals GlobalFlags, logger *zap.SugaredLogger) {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	metricsAddr := fs.String("metrics-addr", "", "Address to serve Prometheus /metrics on (disabled if empty)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: spfgate serve [--metrics-addr host:port]\n")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	env, err := bootstrap(logger)
	if err != nil {
		uerr.FatalError(err, globals.JSON)
	}
	defer env.Close()

	if *metricsAddr != "" {
		srv := metrics.Serve(*metricsAddr)
		defer srv.Close()
		logger.Infow("metrics.http.start", "addr", *metricsAddr, "path", "/metrics")
	}

	s := &mcpServer{env: env, logger: logger, limiters: ratelimit.NewLimiters()}
	logger.Infow("spfgate serving", "install", env.Root.Install, "mode", env.Config.Mode)
	if err := s.serveLoop(os.Stdin, os.Stdout); err != nil {
		logger.Errorw("serve loop ended", "error", err)
		os.Exit(1)
	}
}

// serveLoop implements the line-oriented JSON-RPC 2.0 dialect: one
// request per line on in, one response per line on out. Notifications
// (no id) never produce a response.
func (s *mcpServer) serveLoop(in *os.File, out *os.File) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	writer := bufio.NewWriter(out)
	defer writer.Flush()

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var req jsonRPCRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			s.writeResponse(writer, jsonRPCResponse{
				Error: &rpcError{Code: -32700, Message: "Parse error: " + err.Error()},
			})
			continue
		}
		resp := s.handleRequest(req)
		if resp == nil {
			continue // notification: no response
		}
		s.writeResponse(writer, *resp)
	}
	return scanner.Err()
}

func (s *mcpServer) writeResponse(w *bufio.Writer, resp jsonRPCResponse) {
	resp.JSONRPC = "2.0"
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	w.Write(data)
	w.WriteByte('\n')
	w.Flush()
}

// handleRequest dispatches one decoded request to its method handler.
// Returns nil for notifications, which never get a response.
func (s *mcpServer) handleRequest(req jsonRPCRequest) *jsonRPCResponse {
	isNotification := len(req.ID) == 0 || string(req.ID) == "null"

	switch req.Method {
	case "initialize":
		if isNotification {
			return nil
		}
		result := mcpInitializeResult{
			ProtocolVersion: mcpProtocolVersion,
			ServerInfo:      mcpServerInfo{Name: mcpServerName, Version: version},
			Instructions:    spfgateInstructions,
		}
		return &jsonRPCResponse{ID: req.ID, Result: result}
	case "notifications/initialized":
		return nil
	case "ping":
		if isNotification {
			return nil
		}
		return &jsonRPCResponse{ID: req.ID, Result: map[string]interface{}{}}
	case "tools/list":
		if isNotification {
			return nil
		}
		return &jsonRPCResponse{ID: req.ID, Result: mcpToolsListResult{Tools: s.toolCatalogue()}}
	case "tools/call":
		resp := s.handleToolCall(req)
		if isNotification {
			return nil
		}
		return resp
	default:
		if isNotification {
			return nil
		}
		return &jsonRPCResponse{ID: req.ID, Error: &rpcError{
			Code:    -32601,
			Message: "Unknown method: " + req.Method,
		}}
	}
}

// handleToolCall decodes the tools/call envelope and runs the named
// tool through the gate and, if allowed, its handler.
func (s *mcpServer) handleToolCall(req jsonRPCRequest) *jsonRPCResponse {
	var call mcpToolCallParams
	if err := json.Unmarshal(req.Params, &call); err != nil {
		return &jsonRPCResponse{ID: req.ID, Error: &rpcError{Code: -32602, Message: "Invalid params: " + err.Error()}}
	}
	var raw rawParams
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &raw); err != nil {
			return &jsonRPCResponse{ID: req.ID, Error: &rpcError{Code: -32602, Message: "Invalid tool arguments: " + err.Error()}}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	text, isError := s.dispatchTool(ctx, call.Name, raw)
	return &jsonRPCResponse{ID: req.ID, Result: mcpToolResult{
		Content: []mcpContent{{Type: "text", Text: text}},
		IsError: isError,
	}}
}

// dispatchTool routes a decoded tool call into the gate and the
// matching handler (spec.md §6's tool table). Every branch that
// touches files, processes, or the network passes through
// internal/gate first; spf_calculate, spf_status, spf_session and
// spf_config_* only read in-process state and answer directly. Unknown
// names are handed to the gate too, which denies them and records the
// decision in the manifest. Families the gateway does not itself
// implement (semantic-memory, retrieval-
// collector) still get gated here and then hand off to their own
// subsystem (toolexec.Passthrough). spf_projects_register is CLI-only
// and is gated here only to produce a uniform denial.
func (s *mcpServer) dispatchTool(ctx context.Context, tool string, raw rawParams) (text string, isError bool) {
	h := s.env.Tools
	p := raw.toComplexityParams()

	// Ambient process-wide backstop, on top of the per-session rolling
	// window the gate itself checks on every call. spf_calculate never
	// touches session or rate state, so it is exempt.
	if tool != "spf_calculate" {
		class := ratelimit.ClassOf(tool)
		if !s.limiters.Allow(class) {
			return fmt.Sprintf("RATE LIMITED: %s-class calls exceeded %d/min", class, ratelimit.LimitPerMinute(class)), true
		}
	}

	switch {
	case tool == "spf_calculate":
		r := complexity.Calculate(tool, p, s.env.Config)
		out, _ := json.Marshal(r)
		return string(out), false
	case tool == "spf_status", tool == "spf_session":
		out, _ := json.Marshal(s.env.Session)
		return string(out), false
	case tool == "spf_read":
		res, _ := h.Read(ctx, raw.FilePath)
		return res.Text, !res.Allowed
	case tool == "spf_write":
		res, _ := h.Write(ctx, raw.FilePath, raw.Content)
		return res.Text, !res.Allowed
	case tool == "spf_edit":
		res, _ := h.Edit(ctx, raw.FilePath, raw.OldString, raw.NewString, raw.ReplaceAll)
		return res.Text, !res.Allowed
	case tool == "spf_bash":
		res, _ := h.Bash(ctx, raw.Command, 0)
		return res.Text, !res.Allowed
	case tool == "spf_glob":
		res, _ := h.Glob(ctx, raw.Pattern)
		return res.Text, !res.Allowed
	case tool == "spf_grep":
		res, _ := h.Grep(ctx, raw.Pattern, raw.Path)
		return res.Text, !res.Allowed
	case tool == "spf_notebook_edit":
		res, _ := h.NotebookEdit(ctx, raw.FilePath, raw.OldString, raw.NewString)
		return res.Text, !res.Allowed
	case tool == "spf_web_fetch":
		res, _ := h.WebFetch(ctx, raw.URL)
		return res.Text, !res.Allowed
	case tool == "spf_web_download":
		res, _ := h.WebDownload(ctx, raw.URL, raw.FilePath)
		return res.Text, !res.Allowed
	case tool == "spf_web_api":
		res, _ := h.WebAPI(ctx, raw.URL, raw.Command, raw.Content)
		return res.Text, !res.Allowed
	case tool == "spf_web_search":
		res, _ := h.WebSearch(ctx, raw.Query)
		return res.Text, !res.Allowed
	case tool == "spf_config_paths":
		return s.configPaths(), false
	case tool == "spf_config_stats":
		return s.configStats(), false
	case strings.HasPrefix(tool, "spf_agent_"):
		return s.agentState(ctx, tool, raw)
	case tool == "spf_fs_exists":
		res, _ := h.FSExists(ctx, s.env.Router, raw.Path)
		return res.Text, !res.Allowed
	case tool == "spf_fs_stat":
		res, _ := h.FSStat(ctx, s.env.Router, raw.Path)
		return res.Text, !res.Allowed
	case tool == "spf_fs_ls":
		res, _ := h.FSLs(ctx, s.env.Router, raw.Path)
		return res.Text, !res.Allowed
	case tool == "spf_fs_read":
		res, _ := h.FSRead(ctx, s.env.Router, raw.Path)
		return res.Text, !res.Allowed
	case tool == "spf_fs_write", tool == "spf_fs_mkdir", tool == "spf_fs_rm", tool == "spf_fs_rename",
		tool == "spf_projects_register":
		// VFS mutation tools and project registration exist only for
		// the CLI side channel; the gate refuses them unconditionally
		// here.
		res, _ := h.Passthrough(ctx, tool, p)
		return res.Text, !res.Allowed
	case tool == "spf_tmp_list":
		res, _ := h.TmpList(ctx)
		return res.Text, !res.Allowed
	case tool == "spf_tmp_stat":
		res, _ := h.TmpStat(ctx, raw.Path)
		return res.Text, !res.Allowed
	case tool == "spf_tmp_age":
		res, _ := h.TmpAge(ctx, raw.Path)
		return res.Text, !res.Allowed
	case tool == "spf_tmp_gc_preview":
		res, _ := h.TmpGCPreview(ctx, raw.Limit)
		return res.Text, !res.Allowed
	case tool == "spf_projects_list":
		res, _ := h.ProjectsList(ctx)
		return res.Text, !res.Allowed
	case tool == "spf_projects_get":
		res, _ := h.ProjectsGet(ctx, raw.Path)
		return res.Text, !res.Allowed
	case tool == "spf_projects_touch":
		res, _ := h.ProjectsTouch(ctx, raw.Path)
		return res.Text, !res.Allowed
	case tool == "spf_projects_stats":
		res, _ := h.ProjectsStats(ctx)
		return res.Text, !res.Allowed
	case strings.HasPrefix(tool, "spf_brain_"), strings.HasPrefix(tool, "spf_rag_"):
		res, _ := h.Passthrough(ctx, tool, p)
		return res.Text, !res.Allowed
	default:
		res, _ := h.Passthrough(ctx, tool, p)
		return res.Text, !res.Allowed
	}
}

// agentState dispatches the spf_agent_* inspection family to the VFS
// agent-state mount (spec.md §4.6). These are read-only here; writes
// go through the CLI `fs-import` side channel.
func (s *mcpServer) agentState(ctx context.Context, tool string, raw rawParams) (string, bool) {
	h := s.env.Tools
	key := strings.TrimSpace(raw.Path)
	var vpath string
	switch tool {
	case "spf_agent_preferences":
		vpath = "/home/agent/preferences"
	case "spf_agent_context":
		vpath = "/home/agent/context"
	case "spf_agent_memory":
		vpath = "/home/agent/memory/" + key
	case "spf_agent_sessions":
		vpath = "/home/agent/sessions/" + key
	case "spf_agent_state":
		vpath = "/home/agent/state/" + key
	default:
		res, _ := h.Passthrough(ctx, tool, raw.toComplexityParams())
		return res.Text, !res.Allowed
	}
	res, _ := h.FSRead(ctx, s.env.Router, vpath)
	return res.Text, !res.Allowed
}

func (s *mcpServer) configPaths() string {
	r := s.env.Root
	out, _ := json.MarshalIndent(map[string]string{
		"install":        r.Install,
		"projects_root":  r.ProjectsRoot,
		"tmp_root":       r.TmpRoot,
		"session_db":     r.SessionDB,
		"config_db":      r.ConfigDB,
		"projects_db":    r.ProjectsDB,
		"tmp_db":         r.TmpDB,
		"agent_state_db": r.AgentStateDB,
		"fs_db":          r.FSDB,
	}, "", "  ")
	return string(out)
}

func (s *mcpServer) configStats() string {
	cfg := s.env.Config
	out, _ := json.MarshalIndent(map[string]interface{}{
		"mode":                     cfg.Mode,
		"thresholds":               cfg.Thresholds,
		"formula":                  cfg.Formula,
		"known_tool_count":         len(cfg.KnownTools),
		"max_write_size":           cfg.MaxWriteSize,
		"require_read_before_edit": cfg.RequireReadBeforeEdit,
	}, "", "  ")
	return string(out)
}

// toolCatalogue builds the tools/list response from the gate's
// compiled-in known-tool set (internal/config), so the catalogue can
// never drift from what the gate will actually allow through.
func (s *mcpServer) toolCatalogue() []mcpTool {
	names := make([]string, 0, len(s.env.Config.KnownTools))
	for n := range s.env.Config.KnownTools {
		names = append(names, n)
	}
	sort.Strings(names)

	toolList := make([]mcpTool, 0, len(names))
	for _, n := range names {
		toolList = append(toolList, mcpTool{
			Name:        n,
			Description: toolDescription(n),
			InputSchema: toolSchema(n),
		})
	}
	return toolList
}

func toolDescription(name string) string {
	switch {
	case name == "spf_calculate":
		return "Score a prospective call's complexity without executing it."
	case name == "spf_status":
		return "Return the full persisted session record (same output as spf_session)."
	case name == "spf_session":
		return "Return the full persisted session record."
	case name == "spf_read":
		return "Read a file, gated by the path allow/block rules."
	case name == "spf_write":
		return "Write a file, gated by the write allow-list."
	case name == "spf_edit":
		return "Replace a substring in an existing file (requires a prior read, the Build-Anchor rule)."
	case name == "spf_bash":
		return "Run a shell command, gated by bash dissection and dangerous-pattern detection."
	case name == "spf_glob":
		return "Match files under the installation root by a doublestar pattern."
	case name == "spf_grep":
		return "Search file contents by regular expression, optionally scoped by a glob."
	case name == "spf_notebook_edit":
		return "Replace a cell source string in a notebook file."
	case name == "spf_web_fetch":
		return "Fetch a URL's body as text, gated by the SSRF classifier."
	case name == "spf_web_download":
		return "Stream a URL's body to a gated write target."
	case name == "spf_web_api":
		return "Call a JSON HTTP endpoint with an explicit method and body."
	case name == "spf_web_search":
		return "Search the web via the configured search backend."
	case name == "spf_config_paths":
		return "Report the resolved installation paths and embedded store locations."
	case name == "spf_config_stats":
		return "Report the loaded policy's thresholds, formula, and tool count."
	case strings.HasPrefix(name, "spf_projects_"):
		return "Project registry: " + strings.TrimPrefix(name, "spf_projects_")
	case strings.HasPrefix(name, "spf_tmp_"):
		return "Scratch-space metadata: " + strings.TrimPrefix(name, "spf_tmp_")
	case strings.HasPrefix(name, "spf_agent_"):
		return "Read-only agent-state inspection: " + strings.TrimPrefix(name, "spf_agent_")
	case strings.HasPrefix(name, "spf_fs_"):
		return "Virtual filesystem: " + strings.TrimPrefix(name, "spf_fs_")
	case strings.HasPrefix(name, "spf_brain_"):
		return "Semantic memory passthrough: " + strings.TrimPrefix(name, "spf_brain_")
	case strings.HasPrefix(name, "spf_rag_"):
		return "Retrieval collector passthrough: " + strings.TrimPrefix(name, "spf_rag_")
	default:
		return name
	}
}

// toolSchema returns a permissive JSON Schema listing string-typed
// rawParams fields per tool family. The lists are shared within a
// family, so some name fields a given tool ignores and some omit
// fields it reads (spf_edit's replace_all); unlisted fields are still
// accepted because additionalProperties is true.
func toolSchema(name string) json.RawMessage {
	props := func(fields ...string) json.RawMessage {
		m := map[string]interface{}{}
		for _, f := range fields {
			m[f] = map[string]string{"type": "string"}
		}
		schema := map[string]interface{}{
			"type":                 "object",
			"properties":           m,
			"additionalProperties": true,
		}
		out, _ := json.Marshal(schema)
		return out
	}

	switch {
	case name == "spf_tmp_stat", name == "spf_tmp_age":
		return props("path")
	case name == "spf_tmp_gc_preview":
		schema := map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"limit": map[string]string{"type": "integer"},
			},
			"additionalProperties": true,
		}
		out, _ := json.Marshal(schema)
		return out
	case name == "spf_projects_get", name == "spf_projects_touch":
		return props("path")
	case name == "spf_read", name == "spf_fs_stat", name == "spf_fs_exists", name == "spf_fs_ls", name == "spf_fs_read":
		return props("file_path", "path")
	case name == "spf_write":
		return props("file_path", "content")
	case name == "spf_edit", name == "spf_notebook_edit":
		return props("file_path", "old_string", "new_string")
	case name == "spf_bash":
		return props("command")
	case name == "spf_glob":
		return props("pattern")
	case name == "spf_grep":
		return props("pattern", "path")
	case name == "spf_web_fetch", name == "spf_web_download", name == "spf_web_api":
		return props("url", "command", "content", "file_path")
	case name == "spf_web_search":
		return props("query")
	case strings.HasPrefix(name, "spf_agent_"):
		return props("path")
	default:
		return props()
	}
}
