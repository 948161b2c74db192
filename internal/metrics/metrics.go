// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics exposes the gate pipeline's decision/tier counters
// over Prometheus, mirroring the teacher's own optional `/metrics`
// endpoint (cmd/cie/index.go) — generalized from per-indexing-run
// counters to per-gate-decision counters.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Decisions counts every gate.Evaluate call by tool and reason.
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spfgate_gate_decisions_total",
		Help: "Total gate decisions, labeled by tool and reason.",
	}, []string{"tool", "reason"})

	// Tiers counts every gate.Evaluate call by the resulting complexity tier.
	Tiers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spfgate_gate_tier_total",
		Help: "Total gate decisions, labeled by complexity tier.",
	}, []string{"tier"})
)

// Record increments the decision/tier counters for one gate decision.
// Called from internal/gate so the counters stay in lockstep with the
// manifest the session itself records.
func Record(tool, reason, tier string) {
	Decisions.WithLabelValues(tool, reason).Inc()
	Tiers.WithLabelValues(tier).Inc()
}

// Serve starts the /metrics HTTP endpoint in the background, matching
// the teacher's optional metrics-addr flag pattern. A bind failure is
// not fatal to the gateway: the ListenAndServe error is discarded and
// not reported to the caller.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return srv
}
