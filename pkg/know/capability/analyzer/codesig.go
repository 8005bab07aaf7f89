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

// Package analyzer implements the "analyzer" capability family (spec
// §4.13): capabilities that inspect already-loaded knowledge content.
// Codesig extracts Go function signatures from fenced ```go code blocks so
// an adapter can summarize the APIs a document describes, using the same
// Tree-sitter walking approach the ingestion pipeline uses for source
// repositories.
package analyzer

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"

	"github.com/knowctl/knowctl/pkg/know/capability"
	"github.com/knowctl/knowctl/pkg/know/timeout"
)

// Signature describes one Go function/method signature found in content.
type Signature struct {
	Name      string
	Receiver  string
	Signature string
	Block     int // 0-based index of the fenced code block it came from
}

// Input is the codesig capability's request payload.
type Input struct {
	Content string
}

// Output is the codesig capability's response payload.
type Output struct {
	Signatures []Signature
}

var parserPool = sync.Pool{
	New: func() any {
		p := sitter.NewParser()
		p.SetLanguage(golang.GetLanguage())
		return p
	},
}

// RegisterCodesig registers the "codesig" analyzer capability.
func RegisterCodesig(registry *capability.Registry) {
	registry.Register(capability.Descriptor{
		Name:                "codesig",
		Family:              capability.FamilyAnalyzer,
		Version:             "1.0.0",
		InputKind:           "analyzer.codesig.Input",
		OutputKind:          "analyzer.codesig.Output",
		DefaultTimeoutLevel: timeout.File,
	}, runCodesig)
}

func runCodesig(ctx context.Context, raw any) (any, error) {
	input, ok := raw.(Input)
	if !ok {
		return nil, fmt.Errorf("codesig: expected analyzer.Input, got %T", raw)
	}

	var sigs []Signature
	for i, block := range extractFencedGoBlocks(input.Content) {
		blockSigs, err := extractSignatures(ctx, block)
		if err != nil {
			return nil, fmt.Errorf("codesig: parse block %d: %w", i, err)
		}
		for _, s := range blockSigs {
			s.Block = i
			sigs = append(sigs, s)
		}
	}
	return Output{Signatures: sigs}, nil
}

// extractFencedGoBlocks scans markdown content for ```go ... ``` fences and
// returns the inner source of each, in document order.
func extractFencedGoBlocks(content string) []string {
	var blocks []string
	var current strings.Builder
	inBlock := false

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		switch {
		case !inBlock && (trimmed == "```go" || trimmed == "```golang"):
			inBlock = true
			current.Reset()
		case inBlock && trimmed == "```":
			inBlock = false
			blocks = append(blocks, current.String())
		case inBlock:
			current.WriteString(line)
			current.WriteString("\n")
		}
	}
	return blocks
}

// extractSignatures walks a Go source fragment's AST, adapted from the
// ingestion pipeline's function-declaration walker, collecting just the
// signature text rather than full entity graphs.
func extractSignatures(ctx context.Context, source string) ([]Signature, error) {
	parser, ok := parserPool.Get().(*sitter.Parser)
	if !ok {
		return nil, fmt.Errorf("codesig: unexpected parser pool type")
	}
	defer parserPool.Put(parser)

	content := []byte(source)
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse: %w", err)
	}
	defer tree.Close()

	var sigs []Signature
	walk(tree.RootNode(), content, &sigs)
	return sigs, nil
}

func walk(node *sitter.Node, content []byte, sigs *[]Signature) {
	if node == nil {
		return
	}
	switch node.Type() {
	case "function_declaration":
		if sig, ok := buildSignature(node, content, ""); ok {
			*sigs = append(*sigs, sig)
		}
	case "method_declaration":
		receiver := ""
		if rn := node.ChildByFieldName("receiver"); rn != nil {
			receiver = strings.TrimSpace(string(content[rn.StartByte():rn.EndByte()]))
		}
		if sig, ok := buildSignature(node, content, receiver); ok {
			*sigs = append(*sigs, sig)
		}
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		walk(node.Child(i), content, sigs)
	}
}

func buildSignature(node *sitter.Node, content []byte, receiver string) (Signature, bool) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return Signature{}, false
	}
	name := string(content[nameNode.StartByte():nameNode.EndByte()])

	var params, result string
	if p := node.ChildByFieldName("parameters"); p != nil {
		params = string(content[p.StartByte():p.EndByte()])
	}
	if r := node.ChildByFieldName("result"); r != nil {
		result = " " + string(content[r.StartByte():r.EndByte()])
	}

	var b strings.Builder
	b.WriteString("func ")
	if receiver != "" {
		b.WriteString(receiver)
		b.WriteString(" ")
	}
	b.WriteString(name)
	b.WriteString(params)
	b.WriteString(result)

	return Signature{Name: name, Receiver: receiver, Signature: b.String()}, true
}
