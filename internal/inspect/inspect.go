// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package inspect implements the gateway's content inspector (C5):
// scanning write/edit payloads for credential shapes, path traversal
// sequences, command substitution, and references to blocked paths
// (spec.md §4.3). Hits are warnings, escalated to `MAX TIER:` in max
// mode so the gate pipeline can promote the call to CRITICAL.
package inspect

import (
	"strings"

	"github.com/kraklabs/spfgate/internal/config"
	"github.com/kraklabs/spfgate/internal/validate"
)

var credentialPrefixes = []string{
	"sk-", "sk_live_", "sk_test_", "AKIA", "AIza", "ghp_", "gho_", "github_pat_",
	"xoxb-", "xoxp-", "-----BEGIN", "password=", "secret=", "api_key=",
	"Bearer ", "Authorization: Bearer",
}

var sourceExtensions = []string{
	".go", ".py", ".js", ".ts", ".tsx", ".jsx", ".rs", ".java", ".c", ".cpp", ".h",
	".rb", ".sh", ".php",
}

func isSourceFile(filePath string) bool {
	lc := strings.ToLower(filePath)
	for _, ext := range sourceExtensions {
		if strings.HasSuffix(lc, ext) {
			return true
		}
	}
	return false
}

// Inspect scans content written to filePath and returns the
// (valid, warnings, errors) triple. valid is always true: inspection
// only ever produces warnings (spec.md §4.3), never hard errors.
func Inspect(filePath, content string, cfg *config.Config) validate.Result {
	res := validate.Result{Valid: true}

	for _, prefix := range credentialPrefixes {
		if strings.Contains(content, prefix) {
			res.Warnings = append(res.Warnings, tagMax(cfg, "possible credential: matched prefix "+prefix))
			break
		}
	}

	if strings.Contains(content, "../") || strings.Contains(content, `..\`) {
		res.Warnings = append(res.Warnings, tagMax(cfg, "path traversal sequence in content"))
	}

	if !isSourceFile(filePath) {
		if strings.Contains(content, "$(") || strings.Contains(content, "`") ||
			strings.Contains(content, "eval ") || strings.Contains(content, "exec ") {
			res.Warnings = append(res.Warnings, tagMax(cfg, "command substitution in non-source file"))
		}
	}

	for _, prefix := range cfg.BlockPathPrefixes {
		if prefix != "" && strings.Contains(content, prefix) {
			res.Warnings = append(res.Warnings, tagMax(cfg, "reference to blocked path: "+prefix))
		}
	}

	return res
}

func tagMax(cfg *config.Config, msg string) string {
	if cfg.Mode == config.ModeMax {
		return validate.MaxTierMarker + " " + msg
	}
	return msg
}
