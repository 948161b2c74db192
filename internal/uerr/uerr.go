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

// Package uerr provides the single structured error type used across
// spfgate, from a missing config file to a blocked tool call. Every
// error kind is enumerable so callers can switch on it instead of
// string-matching messages.
package uerr

import (
	"fmt"
	"os"
)

// Kind enumerates the stable error kinds the gateway can produce.
type Kind int

const (
	KindInternal Kind = iota
	KindConfig
	KindDatabase
	KindInput
	KindPermission
	KindPolicy    // validator produced an error: a blocked tool call
	KindRateLimit // rate limit exceeded
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindDatabase:
		return "database"
	case KindInput:
		return "input"
	case KindPermission:
		return "permission"
	case KindPolicy:
		return "policy"
	case KindRateLimit:
		return "rate_limit"
	default:
		return "internal"
	}
}

// UserError is a structured error with a short title, a longer detail
// line, an actionable suggestion, and an optional wrapped cause.
type UserError struct {
	Kind       Kind
	Title      string
	Detail     string
	Suggestion string
	Cause      error
}

func (e *UserError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Title, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Title, e.Detail)
}

func (e *UserError) Unwrap() error { return e.Cause }

func newErr(kind Kind, title, detail, suggestion string, cause error) *UserError {
	return &UserError{Kind: kind, Title: title, Detail: detail, Suggestion: suggestion, Cause: cause}
}

func NewInternalError(title, detail, suggestion string, cause error) *UserError {
	return newErr(KindInternal, title, detail, suggestion, cause)
}

func NewConfigError(title, detail, suggestion string, cause error) *UserError {
	return newErr(KindConfig, title, detail, suggestion, cause)
}

func NewDatabaseError(title, detail, suggestion string, cause error) *UserError {
	return newErr(KindDatabase, title, detail, suggestion, cause)
}

func NewInputError(title, detail, suggestion string) *UserError {
	return newErr(KindInput, title, detail, suggestion, nil)
}

func NewPermissionError(title, detail, suggestion string, cause error) *UserError {
	return newErr(KindPermission, title, detail, suggestion, cause)
}

func NewPolicyError(title, detail, suggestion string) *UserError {
	return newErr(KindPolicy, title, detail, suggestion, nil)
}

func NewRateLimitError(title, detail, suggestion string) *UserError {
	return newErr(KindRateLimit, title, detail, suggestion, nil)
}

// Format renders the error for a human reader. When color is true ANSI
// codes are added; FatalError sets it for every error printed outside
// JSON mode. The signature matches the teacher's internal/errors.Format.
func (e *UserError) Format(color bool) string {
	bold := func(s string) string { return s }
	if color {
		bold = func(s string) string { return "\033[1m" + s + "\033[0m" }
	}
	out := fmt.Sprintf("%s: %s\n  %s", bold(e.Kind.String()), e.Title, e.Detail)
	if e.Suggestion != "" {
		out += fmt.Sprintf("\n  suggestion: %s", e.Suggestion)
	}
	if e.Cause != nil {
		out += fmt.Sprintf("\n  cause: %v", e.Cause)
	}
	return out
}

// FatalError logs a fatal startup error and exits the process. Reserved
// for store-open failures and other conditions spec.md §7 kind 5 calls
// fatal at process start.
func FatalError(err error, jsonMode bool) {
	if ue, ok := err.(*UserError); ok {
		fmt.Fprintln(os.Stderr, ue.Format(!jsonMode))
	} else {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(1)
}
