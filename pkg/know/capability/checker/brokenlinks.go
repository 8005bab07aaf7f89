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

// Package checker implements the "checker" capability family (spec
// §4.13): capabilities that validate loaded content. Brokenlinks flags
// relative markdown links that do not resolve to a file under the content
// root, the same regex-driven scanning style the teacher's search tool
// uses over stored entities.
package checker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/knowctl/knowctl/pkg/know/capability"
	"github.com/knowctl/knowctl/pkg/know/timeout"
)

var markdownLinkPattern = regexp.MustCompile(`\[[^\]]*\]\(([^)]+)\)`)

// Input is the brokenlinks capability's request payload.
type Input struct {
	Content     string
	ContentRoot string
	SourcePath  string // document-relative path, for resolving relative links
}

// BrokenLink describes one link that failed to resolve.
type BrokenLink struct {
	Target string
	Reason string
}

// Output is the brokenlinks capability's response payload.
type Output struct {
	Broken []BrokenLink
	Links  int
}

// RegisterBrokenLinks registers the "brokenlinks" checker capability.
func RegisterBrokenLinks(registry *capability.Registry) {
	registry.Register(capability.Descriptor{
		Name:                "brokenlinks",
		Family:              capability.FamilyChecker,
		Version:             "1.0.0",
		InputKind:           "checker.Input",
		OutputKind:          "checker.Output",
		DefaultTimeoutLevel: timeout.File,
	}, runBrokenLinks)
}

func runBrokenLinks(ctx context.Context, raw any) (any, error) {
	input, ok := raw.(Input)
	if !ok {
		return nil, fmt.Errorf("brokenlinks: expected checker.Input, got %T", raw)
	}

	matches := markdownLinkPattern.FindAllStringSubmatch(input.Content, -1)
	out := Output{Links: len(matches)}

	baseDir := input.ContentRoot
	if input.SourcePath != "" {
		baseDir = filepath.Join(input.ContentRoot, filepath.Dir(input.SourcePath))
	}

	for _, m := range matches {
		target := m[1]
		if isExternalOrAnchor(target) {
			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		resolved := target
		if !filepath.IsAbs(target) {
			resolved = filepath.Join(baseDir, target)
		}
		if _, err := os.Stat(resolved); err != nil {
			out.Broken = append(out.Broken, BrokenLink{Target: target, Reason: "not found"})
		}
	}
	return out, nil
}

func isExternalOrAnchor(target string) bool {
	if target == "" {
		return true
	}
	switch target[0] {
	case '#':
		return true
	}
	for _, prefix := range []string{"http://", "https://", "mailto:"} {
		if len(target) >= len(prefix) && target[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
