// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/kraklabs/spfgate/internal/complexity"
	"github.com/kraklabs/spfgate/internal/gate"
	"github.com/kraklabs/spfgate/internal/uerr"
)

// rawParams is the JSON shape accepted by `gate`/`calculate` and by
// tools/call: the union of every recognised invocation field (spec.md
// §3).
type rawParams struct {
	FilePath   string `json:"file_path"`
	OldString  string `json:"old_string"`
	NewString  string `json:"new_string"`
	ReplaceAll bool   `json:"replace_all"`
	Content    string `json:"content"`
	Command    string `json:"command"`
	Query      string `json:"query"`
	Pattern    string `json:"pattern"`
	Path       string `json:"path"`
	Collection string `json:"collection"`
	Limit      int    `json:"limit"`
	Text       string `json:"text"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	Topic      string `json:"topic"`
	Category   string `json:"category"`
}

func (r rawParams) toComplexityParams() complexity.Params {
	return complexity.Params{
		FilePath:   r.FilePath,
		OldString:  r.OldString,
		NewString:  r.NewString,
		ReplaceAll: r.ReplaceAll,
		Content:    r.Content,
		Command:    r.Command,
		Query:      r.Query,
		Pattern:    r.Pattern,
		Path:       r.Path,
		Collection: r.Collection,
		Limit:      r.Limit,
		Text:       r.Text,
		Title:      r.Title,
		URL:        r.URL,
		Topic:      r.Topic,
		Category:   r.Category,
	}
}

func parseToolAndJSON(args []string) (tool string, p complexity.Params, err error) {
	if len(args) < 2 {
		return "", complexity.Params{}, fmt.Errorf("expected <tool> <json>, got %d argument(s)", len(args))
	}
	var raw rawParams
	if err := json.Unmarshal([]byte(args[1]), &raw); err != nil {
		return "", complexity.Params{}, fmt.Errorf("invalid JSON params: %w", err)
	}
	return args[0], raw.toComplexityParams(), nil
}

// runGate executes the 'gate' CLI subcommand: runs one call through the
// full gate pipeline (which updates the session's rate window,
// complexity history, and manifest), persists the session, and prints
// the decision. The call itself is never executed. Exits 0 on allow, 1
// on block (spec.md §6).
func runGate(args []string, configPath string, globals GlobalFlags, logger *zap.SugaredLogger) int {
	fs := flag.NewFlagSet("gate", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: spfgate gate <tool> <json>\n\nEvaluate one tool call through the gate pipeline (validators, content\ninspection, mode-dependent escalation) and print the Decision.\nExits 0 on allow, 1 on block.\n")
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}
	tool, p, err := parseToolAndJSON(fs.Args())
	if err != nil {
		uerr.FatalError(uerr.NewInputError("Invalid arguments", err.Error(), "Usage: spfgate gate <tool> <json>"), globals.JSON)
		return 1
	}

	env, err := bootstrap(logger)
	if err != nil {
		uerr.FatalError(err, globals.JSON)
		return 1
	}
	defer env.Close()

	d := env.Gate.Evaluate(tool, p, env.Session, gate.OSExists)
	_ = env.SessionStore.Persist(env.Session)
	printDecision(d, globals)
	if d.Allowed {
		return 0
	}
	return 1
}

// runCalculate executes the 'calculate' CLI subcommand: a read-only
// sibling of `gate` that runs only the complexity calculator, never
// the validator cascade, and never touches session state or the rate
// window (SPEC_FULL.md §C.2, original_source/calculate.rs). Always
// exits 0.
func runCalculate(args []string, configPath string, globals GlobalFlags, logger *zap.SugaredLogger) int {
	fs := flag.NewFlagSet("calculate", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: spfgate calculate <tool> <json>\n\nScore one call's complexity without running the validator cascade.\nNo side effects: session state and the rate window are untouched.\nAlways exits 0.\n")
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}
	tool, p, err := parseToolAndJSON(fs.Args())
	if err != nil {
		uerr.FatalError(uerr.NewInputError("Invalid arguments", err.Error(), "Usage: spfgate calculate <tool> <json>"), globals.JSON)
		return 1
	}

	env, err := bootstrap(logger)
	if err != nil {
		uerr.FatalError(err, globals.JSON)
		return 1
	}
	defer env.Close()

	// Unlike `gate`, calculate never records a rate event, appends to
	// the complexity history, or persists the session.
	result := complexity.Calculate(tool, p, env.Config)
	printComplexity(result, globals)
	return 0
}

func printDecision(d gate.Decision, globals GlobalFlags) {
	if globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(d)
		return
	}
	color.NoColor = globals.NoColor
	status := color.GreenString("ALLOWED")
	if !d.Allowed {
		status = color.RedString("BLOCKED")
	}
	fmt.Printf("%s  tool=%s  C=%d  tier=%s  analyze=%d%%  build=%d%%  approval=%v\n",
		status, d.Tool, d.Complexity.C, d.Complexity.Tier, d.Complexity.AnalyzePct, d.Complexity.BuildPct, d.Complexity.ApprovalRequired)
	for _, w := range d.Warnings {
		fmt.Println(color.YellowString("  warning: %s", w))
	}
	for _, e := range d.Errors {
		fmt.Println(color.RedString("  error: %s", e))
	}
}

func printComplexity(r complexity.Result, globals GlobalFlags) {
	if globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(r)
		return
	}
	fmt.Printf("tool=%s  C=%d  tier=%s  analyze=%d%%  build=%d%%  approval=%v  budget=%d\n",
		r.Tool, r.C, r.Tier, r.AnalyzePct, r.BuildPct, r.ApprovalRequired, r.BudgetTokens)
}
