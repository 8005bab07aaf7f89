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

// Package converter implements the "converter" capability family (spec
// §4.13): capabilities that transform already-loaded content into another
// representation. Plaintext strips markdown syntax down to prose, built
// with the same line-scanning, strings.Builder-assembly style the teacher
// uses to render its trace and search reports.
package converter

import (
	"bufio"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/knowctl/knowctl/pkg/know/capability"
	"github.com/knowctl/knowctl/pkg/know/timeout"
)

var (
	headingPattern   = regexp.MustCompile(`^#{1,6}\s+`)
	emphasisPattern  = regexp.MustCompile(`(\*\*\*|\*\*|\*|___|__|_)`)
	linkPattern      = regexp.MustCompile(`\[([^\]]*)\]\(([^)]*)\)`)
	inlineCodePatt   = regexp.MustCompile("`([^`]*)`")
	blockquotePrefix = regexp.MustCompile(`^>\s?`)
	listItemPrefix   = regexp.MustCompile(`^(\s*)[-*+]\s+`)
)

// Input is the plaintext capability's request payload.
type Input struct {
	Content string
	// KeepLinkTargets, when true, appends "(target)" after link text
	// instead of discarding the URL entirely.
	KeepLinkTargets bool
}

// Output is the plaintext capability's response payload.
type Output struct {
	Text string
}

// RegisterPlaintext registers the "plaintext" converter capability.
func RegisterPlaintext(registry *capability.Registry) {
	registry.Register(capability.Descriptor{
		Name:                "plaintext",
		Family:              capability.FamilyConverter,
		Version:             "1.0.0",
		InputKind:           "converter.Input",
		OutputKind:          "converter.Output",
		DefaultTimeoutLevel: timeout.File,
	}, runPlaintext)
}

func runPlaintext(ctx context.Context, raw any) (any, error) {
	input, ok := raw.(Input)
	if !ok {
		return nil, fmt.Errorf("plaintext: expected converter.Input, got %T", raw)
	}

	var sb strings.Builder
	inFence := false

	scanner := bufio.NewScanner(strings.NewReader(input.Content))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence {
			sb.WriteString(line)
			sb.WriteByte('\n')
			continue
		}

		line = headingPattern.ReplaceAllString(line, "")
		line = blockquotePrefix.ReplaceAllString(line, "")
		line = listItemPrefix.ReplaceAllString(line, "$1- ")
		line = linkPattern.ReplaceAllStringFunc(line, func(m string) string {
			parts := linkPattern.FindStringSubmatch(m)
			text, target := parts[1], parts[2]
			if input.KeepLinkTargets && target != "" {
				return fmt.Sprintf("%s (%s)", text, target)
			}
			return text
		})
		line = inlineCodePatt.ReplaceAllString(line, "$1")
		line = emphasisPattern.ReplaceAllString(line, "")

		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("plaintext: scanning content: %w", err)
	}

	return Output{Text: strings.TrimRight(sb.String(), "\n") + "\n"}, nil
}
