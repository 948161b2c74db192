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

// Package main implements the spfgate CLI.
//
// spfgate is a policy-enforcement gateway that mediates every tool
// invocation made by an autonomous coding agent. Each call is scored
// for complexity, evaluated against a configurable policy, and either
// allowed, denied, or flagged for operator approval before the
// underlying action ever runs.
//
// # Quick Start
//
// Initialize a fresh installation:
//
//	spfgate init-config
//
// Run as the stdio gateway an agent's tool calls are piped through:
//
//	spfgate serve
//
// Score a single call without executing it:
//
//	spfgate calculate spf_bash '{"command":"rm -rf /tmp/build"}'
//
// Evaluate a single call through the gate pipeline without executing it:
//
//	spfgate gate spf_read '{"file_path":"/projects/app/main.go"}'
//
// Inspect the current installation and session:
//
//	spfgate status
//	spfgate session
//
// # Commands
//
//	serve           Run the stdio JSON-RPC gateway
//	gate            Evaluate one tool call through the gate (no execution)
//	calculate       Score one tool call without executing or persisting
//	status          Show the installation root and policy mode
//	session         Show the persisted session record
//	reset           Clear session state
//	init-config     Write a default .spfgate/gateway.yaml boot file
//	refresh-paths   Recompute the installation root and writable mounts
//	fs-import       Operator side channel: import a device path into the VFS
//	fs-export       Export a virtual filesystem path to a device path
//	config-import   Merge a JSON policy document into the CONFIG store
//	config-export   Write the current policy to a JSON file
//	projects-register  Register a project id against a root path
//
// Global flags:
//
//	--version, -V   Show version information and exit
//	--config, -c    Path to an alternate boot configuration file
//	--json          Emit machine-readable JSON instead of text
//	--no-color      Disable ANSI color in text output
//	--verbose, -v   Increase log verbosity (repeatable)
//	--quiet, -q     Suppress non-essential output
//
// # Gateway Mode
//
// In serve mode, spfgate reads line-delimited JSON-RPC 2.0 requests
// from stdin and writes responses to stdout, following the Model
// Context Protocol's initialize/tools-list/tools-call lifecycle. The
// tools/list response is built directly from the loaded policy's
// known-tool set, so the catalogue a client sees can never drift from
// what the gate will actually allow.
//
// The tool catalogue covers gated file I/O (spf_read/spf_write/
// spf_edit/spf_notebook_edit), a bounded subprocess runner (spf_bash),
// bounded outbound HTTP (spf_web_fetch/spf_web_download/spf_web_api/
// spf_web_search), search (spf_glob/spf_grep), read-only virtual
// filesystem inspection (spf_fs_exists/spf_fs_stat/spf_fs_ls/
// spf_fs_read), read-only agent-state inspection (spf_agent_*),
// project registry and tmp-store inspection (spf_projects_*,
// spf_tmp_*) backed by their own bbolt stores, and passthrough
// families the gateway itself does not implement (spf_brain_*,
// spf_rag_*) which are still gated before being handed off.
//
// # Configuration
//
// The mutable policy lives in a CONFIG bbolt store: thresholds, scoring
// weights, path allow/block lists, dangerous shell patterns, and git
// force-push markers. The store starts from compiled-in defaults and is
// changed with config-import. init-config writes a .spfgate/gateway.yaml
// boot file, but the gateway does not read that file at startup.
// Compiled-in fields — the write allow-list, the known-tool set, and the
// VFS-mutation blocklist — are never overridable from the store.
//
// Environment variables:
//
//	SPF_ROOT        Installation root directory
//	HOME            Base of the default installation root (~/.spfgate)
//	PREFIX          Android/Termux detection (same default root)
//	BRAVE_API_KEY   Enables spf_web_search
//
// # Data Storage
//
// All gateway state lives under the resolved installation root in a
// set of embedded bbolt databases: SESSION, CONFIG, PROJECTS, TMP,
// LMDB5 (agent state), and SPF_FS (virtual filesystem metadata). Use the
// reset command to clear session state, and fs-export/config-export to
// inspect the virtual filesystem and policy without a running gateway.
package main
