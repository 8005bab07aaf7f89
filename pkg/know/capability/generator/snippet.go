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

// Package generator implements the "generator" capability family (spec
// §4.13): capabilities that produce new content from loaded templates.
// Snippet renders a named text/template against caller-supplied
// parameters, the same template-driven prompt assembly approach used
// elsewhere in the pack for phased instruction generation.
package generator

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/knowctl/knowctl/pkg/know/capability"
	"github.com/knowctl/knowctl/pkg/know/timeout"
)

// Input is the snippet capability's request payload.
type Input struct {
	// Name identifies the template in error messages; it has no effect
	// on rendering beyond that.
	Name   string
	Body   string // text/template source, e.g. drawn from a "templates" layer
	Params map[string]any
}

// Output is the snippet capability's response payload.
type Output struct {
	Rendered string
}

// RegisterSnippet registers the "snippet" generator capability.
func RegisterSnippet(registry *capability.Registry) {
	registry.Register(capability.Descriptor{
		Name:                "snippet",
		Family:              capability.FamilyGenerator,
		Version:             "1.0.0",
		InputKind:           "generator.Input",
		OutputKind:          "generator.Output",
		DefaultTimeoutLevel: timeout.File,
	}, runSnippet)
}

func runSnippet(ctx context.Context, raw any) (any, error) {
	input, ok := raw.(Input)
	if !ok {
		return nil, fmt.Errorf("snippet: expected generator.Input, got %T", raw)
	}

	name := input.Name
	if name == "" {
		name = "snippet"
	}

	tmpl, err := template.New(name).Option("missingkey=error").Parse(input.Body)
	if err != nil {
		return nil, fmt.Errorf("snippet: parsing template %q: %w", name, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, input.Params); err != nil {
		return nil, fmt.Errorf("snippet: rendering template %q: %w", name, err)
	}

	return Output{Rendered: buf.String()}, nil
}
