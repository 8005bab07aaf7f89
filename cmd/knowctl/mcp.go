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

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/knowctl/knowctl/pkg/know/config"
	"github.com/knowctl/knowctl/pkg/know/index"
	"github.com/knowctl/knowctl/pkg/know/loader"
)

const (
	mcpVersion    = "0.1.0"
	mcpServerName = "knowctl"
)

// knowctlInstructions guides agents on how to use the three knowctl tools.
const knowctlInstructions = `knowctl assembles bounded, task-relevant slices of a layered Markdown knowledge base.

- get_knowledge: describe a task in natural language; triggers select the relevant layers automatically and content is returned within the configured token budget.
- get_layer: fetch one or more named layers explicitly, bypassing trigger selection.
- search: find files under the content root whose text matches a substring.

Every response carries a status (success, partial, fallback, timeout, circuit_open) and a list of warnings describing any degraded layers. Treat a non-"success" status as informational, not fatal — partial knowledge is still useful.`

// jsonRPCRequest is a JSON-RPC 2.0 request from the MCP client.
type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// jsonRPCResponse is a JSON-RPC 2.0 response to the MCP client.
type jsonRPCResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id,omitempty"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type mcpServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type mcpCapabilities struct {
	Tools map[string]any `json:"tools,omitempty"`
}

type mcpInitializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    mcpCapabilities `json:"capabilities"`
	ServerInfo      mcpServerInfo   `json:"serverInfo"`
	Instructions    string          `json:"instructions"`
}

type mcpTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

type mcpToolsListResult struct {
	Tools []mcpTool `json:"tools"`
}

type mcpToolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type mcpContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type mcpToolResult struct {
	Content []mcpContent `json:"content"`
	IsError bool         `json:"isError,omitempty"`
}

// mcpServer holds the state of the running MCP adapter: a Loader built
// from the already-wired Runtime, and the Runtime itself for tools that
// need the Index directly (get_layer, search).
type mcpServer struct {
	ld *loader.Loader
	rt *config.Runtime
}

func runMCPServer(globals globalFlags) {
	rt := loadRuntime(globals)
	if _, err := rt.Index.Scan(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error scanning content root: %v\n", err)
		os.Exit(1)
	}

	server := &mcpServer{ld: rt.NewLoader(), rt: rt}

	fmt.Fprintf(os.Stderr, "knowctl MCP server v%s starting\n", mcpVersion)
	fmt.Fprintf(os.Stderr, "  Content root: %s\n", rt.Settings.ContentRoot)

	serveMCPLoop(server)
}

func serveMCPLoop(server *mcpServer) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 1024*1024), 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		var req jsonRPCRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			fmt.Fprintf(os.Stderr, "invalid JSON-RPC request: %v\n", err)
			continue
		}

		resp := server.handleRequest(context.Background(), req)
		if resp.ID == nil && resp.Result == nil && resp.Error == nil {
			continue
		}

		respBytes, err := json.Marshal(resp)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot encode MCP response: %v\n", err)
			continue
		}
		fmt.Fprintf(os.Stdout, "%s\n", respBytes)
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "MCP stdin error: %v\n", err)
		os.Exit(1)
	}
}

func (s *mcpServer) handleRequest(ctx context.Context, req jsonRPCRequest) jsonRPCResponse {
	switch req.Method {
	case "initialize":
		return jsonRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: mcpInitializeResult{
				ProtocolVersion: "2024-11-05",
				Capabilities:    mcpCapabilities{Tools: map[string]any{"listChanged": false}},
				ServerInfo:      mcpServerInfo{Name: mcpServerName, Version: mcpVersion},
				Instructions:    knowctlInstructions,
			},
		}

	case "notifications/initialized":
		return jsonRPCResponse{}

	case "tools/list":
		return jsonRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: mcpToolsListResult{Tools: mcpTools()}}

	case "tools/call":
		var params mcpToolCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return jsonRPCResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32602, Message: "Invalid params", Data: err.Error()}}
		}
		result := s.handleToolCall(ctx, params)
		return jsonRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result}

	default:
		return jsonRPCResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32601, Message: "Method not found", Data: req.Method}}
	}
}

func mcpTools() []mcpTool {
	return []mcpTool{
		{
			Name:        "get_knowledge",
			Description: "Load knowledge layers relevant to a task description. Triggers pick layers automatically from the task text; returns bounded content within the token budget.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"task":         map[string]any{"type": "string", "description": "Natural-language description of the task driving layer selection"},
					"token_budget": map[string]any{"type": "integer", "description": "Token budget override (0 uses the configured default)"},
				},
				"required": []string{"task"},
			},
		},
		{
			Name:        "get_layer",
			Description: "Fetch one or more named layers explicitly, bypassing trigger selection.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"layers":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Layer names to load"},
					"token_budget": map[string]any{"type": "integer", "description": "Token budget override (0 uses the configured default)"},
				},
				"required": []string{"layers"},
			},
		},
		{
			Name:        "search",
			Description: "Search indexed files under the content root for a literal substring. Returns matching file paths with line numbers.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string", "description": "Literal text to search for"},
					"layer": map[string]any{"type": "string", "description": "Optional: restrict the search to one layer"},
					"limit": map[string]any{"type": "integer", "description": "Maximum matches to return (default 50)", "default": 50},
				},
				"required": []string{"query"},
			},
		},
	}
}

func (s *mcpServer) handleToolCall(ctx context.Context, params mcpToolCallParams) *mcpToolResult {
	switch params.Name {
	case "get_knowledge":
		return s.toolGetKnowledge(ctx, params.Arguments)
	case "get_layer":
		return s.toolGetLayer(ctx, params.Arguments)
	case "search":
		return s.toolSearch(params.Arguments)
	default:
		return &mcpToolResult{Content: []mcpContent{{Type: "text", Text: fmt.Sprintf("Unknown tool: %s", params.Name)}}, IsError: true}
	}
}

func (s *mcpServer) toolGetKnowledge(ctx context.Context, args map[string]any) *mcpToolResult {
	task, _ := args["task"].(string)
	budget, _ := getIntArg(args, "token_budget", 0)

	req := loader.Request{Task: task, TokenBudget: budget}
	if req.TokenBudget == 0 {
		req.TokenBudget = s.rt.Settings.Loading.MaxTokens
	}
	return s.runLoad(ctx, req)
}

func (s *mcpServer) toolGetLayer(ctx context.Context, args map[string]any) *mcpToolResult {
	budget, _ := getIntArg(args, "token_budget", 0)
	req := loader.Request{TokenBudget: budget}
	if req.TokenBudget == 0 {
		req.TokenBudget = s.rt.Settings.Loading.MaxTokens
	}

	if layers, ok := args["layers"].([]any); ok {
		for _, l := range layers {
			if name, ok := l.(string); ok && name != "" {
				req.ExplicitLayers = append(req.ExplicitLayers, index.LayerID(name))
			}
		}
	}
	return s.runLoad(ctx, req)
}

func (s *mcpServer) runLoad(ctx context.Context, req loader.Request) *mcpToolResult {
	res, err := s.ld.Load(ctx, req)
	if err != nil {
		return &mcpToolResult{Content: []mcpContent{{Type: "text", Text: err.Error()}}, IsError: true}
	}

	payload := map[string]any{
		"content":       string(res.Content),
		"status":        res.Status,
		"warnings":      res.Warnings,
		"correlationId": res.CorrelationID,
		"layersLoaded":  res.LayersLoaded,
	}
	text, _ := json.MarshalIndent(payload, "", "  ")
	return &mcpToolResult{Content: []mcpContent{{Type: "text", Text: string(text)}}}
}

func (s *mcpServer) toolSearch(args map[string]any) *mcpToolResult {
	query, _ := args["query"].(string)
	layerFilter, _ := args["layer"].(string)
	limit, _ := getIntArg(args, "limit", 50)
	if query == "" {
		return &mcpToolResult{Content: []mcpContent{{Type: "text", Text: "query is required"}}, IsError: true}
	}

	snapshot := s.rt.Index.Current()
	if snapshot == nil {
		return &mcpToolResult{Content: []mcpContent{{Type: "text", Text: "content root not yet scanned"}}, IsError: true}
	}

	var layerIDs []index.LayerID
	if layerFilter != "" {
		layerIDs = []index.LayerID{index.LayerID(layerFilter)}
	} else {
		layerIDs = snapshot.LayerIDs()
	}

	var matches []string
	for _, layerID := range layerIDs {
		for _, f := range snapshot.Files(layerID) {
			if len(matches) >= limit {
				break
			}
			matches = append(matches, grepFile(f.AbsPath, f.RelPath, query, limit-len(matches))...)
		}
	}

	if len(matches) == 0 {
		return &mcpToolResult{Content: []mcpContent{{Type: "text", Text: "no matches"}}}
	}
	return &mcpToolResult{Content: []mcpContent{{Type: "text", Text: strings.Join(matches, "\n")}}}
}

func grepFile(absPath, relPath, query string, limit int) []string {
	file, err := os.Open(absPath) //nolint:gosec // path comes from the content index, not user input
	if err != nil {
		return nil
	}
	defer file.Close()

	var out []string
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() && len(out) < limit {
		lineNo++
		if strings.Contains(scanner.Text(), query) {
			out = append(out, fmt.Sprintf("%s:%d: %s", relPath, lineNo, strings.TrimSpace(scanner.Text())))
		}
	}
	return out
}

func getIntArg(args map[string]any, key string, fallback int) (int, bool) {
	if v, ok := args[key]; ok {
		if f, ok := v.(float64); ok {
			return int(f), true
		}
		if i, ok := v.(int); ok {
			return i, true
		}
	}
	return fallback, false
}
