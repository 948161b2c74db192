// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package validate implements the gateway's validator cascade (C6):
// path allow/block, the hard-coded write allow-list, Build-Anchor
// discipline, shell-command dissection, the SSRF URL classifier, and
// the known-tool allowlist (spec.md §4.2).
package validate

import (
	"net"
	"strings"

	"github.com/kraklabs/spfgate/internal/config"
	"github.com/kraklabs/spfgate/internal/paths"
	"github.com/kraklabs/spfgate/internal/shelltok"
)

// MaxTierMarker is the literal prefix the gate's escalation rule
// pattern-matches on (spec.md §4.4 step 5, §9).
const MaxTierMarker = "MAX TIER:"

// Result is the (valid, warnings, errors) triple every validator
// returns (spec.md §4.2). Valid is the AND over the whole cascade.
type Result struct {
	Valid    bool
	Warnings []string
	Errors   []string
}

func (r *Result) merge(o Result) {
	r.Warnings = append(r.Warnings, o.Warnings...)
	r.Errors = append(r.Errors, o.Errors...)
	if !o.Valid {
		r.Valid = false
	}
}

func ok() Result { return Result{Valid: true} }

func fail(errs ...string) Result { return Result{Valid: false, Errors: errs} }

func warn(mode config.Mode, msgs ...string) Result {
	r := Result{Valid: true}
	for _, m := range msgs {
		if mode == config.ModeMax {
			m = MaxTierMarker + " " + m
		}
		r.Warnings = append(r.Warnings, m)
	}
	return r
}

// PathBlocked reports whether canonical has any configured blocked
// prefix as a leading substring. Non-canonicalisable paths containing
// ".." are treated as blocked (fail-closed).
func PathBlocked(canonical string, canonicalOK bool, rawPath string, cfg *config.Config) bool {
	if !canonicalOK {
		return strings.Contains(rawPath, "..")
	}
	for _, prefix := range cfg.BlockPathPrefixes {
		if strings.HasPrefix(canonical, prefix) {
			return true
		}
	}
	return false
}

// PathAllowed reports whether canonical starts with one of the
// configured allow prefixes. Non-canonicalisable paths containing
// ".." are treated as not-allowed (fail-closed).
func PathAllowed(canonical string, canonicalOK bool, rawPath string, cfg *config.Config) bool {
	if !canonicalOK {
		return !strings.Contains(rawPath, "..")
	}
	for _, prefix := range cfg.AllowPathPrefixes {
		if strings.HasPrefix(canonical, prefix) {
			return true
		}
	}
	return false
}

// ValidatePathAccess runs the allow/block checks for a read-only path
// access (spec.md §4.2).
func ValidatePathAccess(rawPath string, cfg *config.Config) Result {
	canonical, canonicalOK := paths.Canonicalize(rawPath)
	if PathBlocked(canonical, canonicalOK, rawPath, cfg) {
		return fail("BLOCKED PATH: " + rawPath)
	}
	if !PathAllowed(canonical, canonicalOK, rawPath, cfg) {
		return fail("PATH NOT ALLOWED: " + rawPath)
	}
	return ok()
}

// ValidateWriteTarget implements the hard write allow-list (spec.md
// §4.2): the canonical target must lie under one of the two
// compiled-in prefixes. Not configurable from the store.
func ValidateWriteTarget(rawPath string, root *paths.Root) Result {
	if strings.Contains(pathLeaf(rawPath), "..") {
		return fail("WRITE BLOCKED: path traversal in filename: " + rawPath)
	}
	canonical, ok2 := paths.Canonicalize(rawPath)
	if !ok2 {
		return fail("WRITE BLOCKED: cannot resolve path: " + rawPath)
	}
	for _, prefix := range []string{root.ProjectsRoot, root.TmpRoot} {
		if strings.HasPrefix(canonical, prefix) {
			return ok()
		}
	}
	return fail("WRITE BLOCKED: " + rawPath + " is outside the write allow-list")
}

func pathLeaf(p string) string {
	idx := strings.LastIndexByte(p, '/')
	if idx < 0 {
		return p
	}
	return p[idx+1:]
}

// ReadSet is the subset of session state Build-Anchor needs.
type ReadSet interface {
	HasRead(canonical string) bool
}

// ValidateBuildAnchor implements the read-before-edit discipline
// (spec.md §4.2). Non-existent targets are exempt from the check
// (exists reports whether the target currently exists).
func ValidateBuildAnchor(rawPath string, exists bool, reads ReadSet, cfg *config.Config) Result {
	if !cfg.RequireReadBeforeEdit || !exists {
		return ok()
	}
	canonical, canonicalOK := paths.Canonicalize(rawPath)
	if !canonicalOK || !reads.HasRead(canonical) {
		return warn(cfg.Mode, "file not read before edit: "+rawPath)
	}
	return ok()
}

var hardcodedDangerousExtras = []string{
	"chmod 0777", "chmod a+rwx", "mkfs", "> /dev/sd",
}

var shellInterpreters = map[string]bool{"sh": true, "bash": true, "zsh": true, "dash": true}

var interpreterCLangs = map[string]bool{"python": true, "python3": true, "perl": true, "ruby": true, "node": true}

// ValidateBash implements the bash-command dissection of spec.md §4.2.
// The literal "/tmp" rule fires before the structural write-destination
// analyser, preserving the ordering spec.md §9 calls out explicitly.
func ValidateBash(cmd string, cfg *config.Config, root *paths.Root) Result {
	res := ok()

	// Literal /tmp rule predates structural analysis (spec.md §9).
	if strings.Contains(cmd, "/tmp") {
		res.merge(fail("NO /tmp ACCESS: use the sandboxed tmp mount instead"))
	}

	for _, pat := range cfg.DangerousPatterns {
		if strings.Contains(cmd, pat) {
			res.merge(fail("DANGEROUS COMMAND: matched pattern " + pat))
		}
	}
	for _, pat := range hardcodedDangerousExtras {
		if strings.Contains(cmd, pat) {
			res.merge(fail("DANGEROUS COMMAND: matched pattern " + pat))
		}
	}
	for _, marker := range cfg.GitForceMarkers {
		if strings.Contains(cmd, marker) && strings.Contains(cmd, "git") {
			res.merge(warn(cfg.Mode, "git force marker: "+marker))
		}
	}

	segs := shelltok.SplitSegments(cmd)
	for _, seg := range segs {
		res.merge(validateSegment(seg, cfg, root))
	}
	return res
}

func validateSegment(seg shelltok.Segment, cfg *config.Config, root *paths.Root) Result {
	res := ok()
	words := shelltok.Words(seg.Text)
	if len(words) == 0 {
		return res
	}
	verb := shelltok.Verb(words)

	if seg.IsPipeTarget && shellInterpreters[verb] {
		res.merge(fail("pipe to shell interpreter: " + verb))
	}

	// Redirection target extraction.
	if idx := strings.Index(seg.Text, ">>"); idx >= 0 {
		res.merge(checkTarget(extractRedirTarget(seg.Text, idx+2), cfg, root))
	} else if idx := strings.Index(seg.Text, ">"); idx >= 0 {
		res.merge(checkTarget(extractRedirTarget(seg.Text, idx+1), cfg, root))
	}

	switch verb {
	case "cp", "mv", "install":
		args := shelltok.PositionalArgs(words)
		if len(args) > 0 {
			res.merge(checkTarget(args[len(args)-1], cfg, root))
		}
	case "tee":
		for _, a := range shelltok.PositionalArgs(words) {
			res.merge(checkTarget(a, cfg, root))
		}
	case "mkdir", "touch", "rm", "rmdir":
		for _, a := range shelltok.PositionalArgs(words) {
			res.merge(checkTarget(a, cfg, root))
		}
	case "sed":
		if shelltok.HasFlag(words, "-i") {
			for _, a := range shelltok.PositionalArgs(words) {
				if shelltok.LooksLikePath(a) {
					res.merge(checkTarget(a, cfg, root))
				}
			}
		}
	case "chmod", "chown":
		args := shelltok.PositionalArgs(words)
		if len(args) > 1 {
			for _, a := range args[1:] {
				res.merge(checkTarget(a, cfg, root))
			}
		}
	case "dd":
		for _, w := range words[1:] {
			if strings.HasPrefix(w, "of=") {
				res.merge(checkTarget(strings.TrimPrefix(w, "of="), cfg, root))
			}
		}
	case "python", "python3", "perl", "ruby", "node":
		if shelltok.HasFlag(words, "-c") {
			res.merge(warn(cfg.Mode, "interpreter -c invocation: "+verb))
		}
	}
	return res
}

func extractRedirTarget(segText string, after int) string {
	rest := strings.TrimSpace(segText[after:])
	words := shelltok.Words(rest)
	if len(words) == 0 {
		return ""
	}
	return words[0]
}

func checkTarget(target string, cfg *config.Config, root *paths.Root) Result {
	if target == "" || !shelltok.LooksLikePath(target) {
		return ok()
	}
	if wr := ValidateWriteTarget(target, root); !wr.Valid {
		return fail("WRITE BLOCKED: " + target + " is outside the write allow-list")
	}
	return ok()
}

// --- SSRF classifier (spec.md §4.2) ---

var ssrfMetadataHosts = map[string]bool{
	"169.254.169.254":  true,
	"100.100.100.200":  true,
	"metadata.google.internal": true,
}

// ClassifySSRF validates an outbound URL, rejecting loopback, private,
// link-local, unique-local, and metadata-endpoint hosts. Invoked
// unconditionally before any outbound HTTP.
func ClassifySSRF(rawURL string) Result {
	scheme, host, ok2 := splitSchemeHost(rawURL)
	if !ok2 {
		return fail("SSRF BLOCKED: malformed URL")
	}
	if scheme != "http" && scheme != "https" {
		return fail("SSRF BLOCKED: unsupported scheme " + scheme)
	}
	host = strings.Trim(host, "[]")
	if host == "" {
		return fail("SSRF BLOCKED: missing host")
	}
	lh := strings.ToLower(host)
	if lh == "localhost" || lh == "::1" || lh == "0.0.0.0" {
		return fail("SSRF BLOCKED: loopback host")
	}
	if ssrfMetadataHosts[lh] {
		return fail("SSRF BLOCKED: metadata endpoint")
	}

	ip := net.ParseIP(host)
	if ip == nil {
		// Not a literal IP: DNS host, allowed at this layer. A real
		// deployment may wish to resolve-then-reclassify; spec.md
		// scopes the classifier to the literal-host case.
		return ok()
	}
	if v4 := ip.To4(); v4 != nil {
		if v4.IsLoopback() || v4.IsPrivate() || v4.IsLinkLocalUnicast() {
			return fail("SSRF BLOCKED: private/loopback/link-local IPv4")
		}
		if v4[0] == 169 && v4[1] == 254 {
			return fail("SSRF BLOCKED: metadata endpoint")
		}
		return ok()
	}
	// IPv6.
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || isUniqueLocal(ip) {
		return fail("SSRF BLOCKED: loopback/link-local/unique-local IPv6")
	}
	if v4 := extractIPv4Mapped(ip); v4 != nil {
		if v4.IsLoopback() || v4.IsPrivate() || v4.IsLinkLocalUnicast() || (v4[0] == 169 && v4[1] == 254) {
			return fail("SSRF BLOCKED: IPv4-mapped IPv6 private/loopback/link-local/metadata")
		}
	}
	return ok()
}

func isUniqueLocal(ip net.IP) bool {
	return len(ip) == net.IPv6len && ip[0]&0xfe == 0xfc
}

func extractIPv4Mapped(ip net.IP) net.IP {
	if v4 := ip.To4(); v4 != nil && len(ip) == net.IPv6len {
		return v4
	}
	return nil
}

func splitSchemeHost(rawURL string) (scheme, host string, ok bool) {
	idx := strings.Index(rawURL, "://")
	if idx < 0 {
		return "", "", false
	}
	scheme = rawURL[:idx]
	rest := rawURL[idx+3:]
	// Strip userinfo, path, query.
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = rest[at+1:]
	}
	end := len(rest)
	for i, c := range rest {
		if c == '/' || c == '?' || c == '#' {
			end = i
			break
		}
	}
	hostport := rest[:end]
	if strings.HasPrefix(hostport, "[") {
		// bracketed IPv6, optionally with :port after the closing bracket
		if cidx := strings.Index(hostport, "]"); cidx >= 0 {
			return scheme, hostport[:cidx+1], true
		}
		return scheme, hostport, true
	}
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return scheme, h, true
	}
	return scheme, hostport, true
}

// IsKnownTool reports whether tool is in the closed known-tool
// allowlist.
func IsKnownTool(tool string, cfg *config.Config) bool {
	return cfg.KnownTools[tool]
}

// IsOperatorOnlyTool reports whether tool is in the unconditionally
// blocked operator-only set: the VFS-write tools (spec.md §4.2) and
// spf_projects_register (SPEC_FULL.md §C.5).
func IsOperatorOnlyTool(tool string, cfg *config.Config) bool {
	return cfg.OperatorOnlyTools[tool]
}
