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
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package errors provides the user-facing error taxonomy for knowctl's
// adapters. Core packages (pkg/know/...) never raise on transient or I/O
// failure — they return typed result variants instead, per the loader's
// "always return something" contract. This package exists for the one
// case that is surfaced as a real error: BadRequest, plus adapter-side
// startup/config failures that have no LoadResult to carry them.
package errors

import (
	"encoding/json"
	"fmt"
	"os"
)

// Kind classifies a UserError for programmatic handling by adapters.
type Kind string

const (
	KindBadRequest Kind = "bad_request"
	KindConfig     Kind = "config"
	KindIO         Kind = "io"
	KindPermission Kind = "permission"
	KindNetwork    Kind = "network"
	KindInternal   Kind = "internal"
)

// UserError is a structured, user-facing error: a title for the headline,
// a detail explaining what happened, a suggestion for what to do about it,
// and an optional wrapped cause for debugging.
type UserError struct {
	Kind       Kind
	Title      string
	Detail     string
	Suggestion string
	Cause      error
}

func (e *UserError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Title, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Title, e.Detail)
}

func (e *UserError) Unwrap() error { return e.Cause }

func newUserError(kind Kind, title, detail, suggestion string, cause error) *UserError {
	return &UserError{Kind: kind, Title: title, Detail: detail, Suggestion: suggestion, Cause: cause}
}

func NewBadRequestError(title, detail, suggestion string, cause error) *UserError {
	return newUserError(KindBadRequest, title, detail, suggestion, cause)
}

func NewConfigError(title, detail, suggestion string, cause error) *UserError {
	return newUserError(KindConfig, title, detail, suggestion, cause)
}

func NewIOError(title, detail, suggestion string, cause error) *UserError {
	return newUserError(KindIO, title, detail, suggestion, cause)
}

func NewPermissionError(title, detail, suggestion string, cause error) *UserError {
	return newUserError(KindPermission, title, detail, suggestion, cause)
}

func NewNetworkError(title, detail, suggestion string, cause error) *UserError {
	return newUserError(KindNetwork, title, detail, suggestion, cause)
}

func NewInternalError(title, detail, suggestion string, cause error) *UserError {
	return newUserError(KindInternal, title, detail, suggestion, cause)
}

// Format renders the error for human display, or as a one-line JSON object
// when asJSON is set (so it survives inside a --json pipeline without
// corrupting the output stream).
func (e *UserError) Format(asJSON bool) string {
	if asJSON {
		payload := map[string]string{
			"kind":       string(e.Kind),
			"title":      e.Title,
			"detail":     e.Detail,
			"suggestion": e.Suggestion,
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return e.Error()
		}
		return string(data)
	}
	out := fmt.Sprintf("Error: %s\n", e.Title)
	if e.Detail != "" {
		out += fmt.Sprintf("  %s\n", e.Detail)
	}
	if e.Suggestion != "" {
		out += fmt.Sprintf("  Suggestion: %s\n", e.Suggestion)
	}
	return out
}

// FatalError prints a UserError (or wraps a plain error as internal) and
// exits the process with the conventional exit code for its kind. Only
// the CLI adapter calls this — library code must never call os.Exit.
func FatalError(err error, asJSON bool) {
	ue, ok := err.(*UserError)
	if !ok {
		ue = NewInternalError("Unexpected error", err.Error(), "This may be a bug; please report it", err)
	}
	fmt.Fprint(os.Stderr, ue.Format(asJSON))
	os.Exit(exitCode(ue.Kind))
}

func exitCode(k Kind) int {
	switch k {
	case KindBadRequest:
		return 2
	case KindConfig, KindIO, KindPermission, KindNetwork:
		return 1
	default:
		return 1
	}
}
