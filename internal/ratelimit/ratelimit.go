// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ratelimit implements the gate pipeline's first step
// (spec.md §4.4 step 1): counting recent actions in the session's
// rolling 60-second rate window against per-tool-class caps. The
// window itself lives in internal/session; this package only carries
// the per-tool-class limit table and the golang.org/x/time/rate
// token-bucket wrapper used by the RPC loop's own ambient throttling
// (distinct from the per-session window check, which follows spec.md
// exactly via session.Session.CountInWindow).
package ratelimit

import (
	"strings"

	"golang.org/x/time/rate"
)

// ClassOf maps a canonical tool name to a rate-limit class per
// spec.md §4.4: write-class and web-download = 60/min, web-fetch/
// search/api = 30/min, everything else = 120/min.
func ClassOf(tool string) string {
	name := strings.TrimPrefix(tool, "spf_")
	switch {
	case name == "write" || name == "edit" || name == "web_download":
		return "write"
	case name == "web_fetch" || name == "web_search" || name == "web_api":
		return "web"
	default:
		return "default"
	}
}

// LimitPerMinute returns the per-minute cap for a rate class.
func LimitPerMinute(class string) int {
	switch class {
	case "write":
		return 60
	case "web":
		return 30
	default:
		return 120
	}
}

// Limiters holds one token bucket per rate class, used by the RPC loop
// as an ambient backstop in addition to the per-session window check
// the gate performs on every call.
type Limiters struct {
	buckets map[string]*rate.Limiter
}

// NewLimiters builds the three per-class token buckets, burst equal to
// the per-minute cap so a fresh session can use its full window
// immediately.
func NewLimiters() *Limiters {
	mk := func(perMin int) *rate.Limiter {
		return rate.NewLimiter(rate.Limit(float64(perMin)/60.0), perMin)
	}
	return &Limiters{buckets: map[string]*rate.Limiter{
		"write":   mk(LimitPerMinute("write")),
		"web":     mk(LimitPerMinute("web")),
		"default": mk(LimitPerMinute("default")),
	}}
}

// Allow reports whether a call in the given class may proceed right
// now without blocking.
func (l *Limiters) Allow(class string) bool {
	b, ok := l.buckets[class]
	if !ok {
		b = l.buckets["default"]
	}
	return b.Allow()
}
