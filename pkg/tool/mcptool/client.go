// Copyright 2026 The Aether Frame Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mcptool connects remote MCP tool servers to the tool service.
//
// Each Client holds a persistent session to one server, discovers its
// tools, and exposes them as namespaced streaming tools. Transports:
//   - stdio: subprocess via the mcp-go library
//   - streamable-http / sse: JSON-RPC over the retrying httpclient
//
// Headers are merged per call (server defaults, then tool, task, and
// call-site metadata) and forwarded verbatim on HTTP transports.
package mcptool

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/aetherframe/aether/pkg/httpclient"
	"github.com/aetherframe/aether/pkg/tool"
)

const (
	protocolVersion = "2024-11-05"
	clientName      = "aether"
	clientVersion   = "0.1.0"

	// DefaultStreamTimeout bounds reading a server-streaming response.
	DefaultStreamTimeout = 5 * time.Minute
)

// Config configures a remote tool server connection.
type Config struct {
	// Name identifies the server; it becomes the tools' namespace.
	Name string

	// URL is the server URL for HTTP transports.
	URL string

	// Transport: "stdio", "sse", or "streamable-http" (default for URL).
	Transport string

	// Command and Args spawn a subprocess for stdio transport.
	Command string
	Args    []string
	Env     map[string]string

	// Headers are the server-level default headers.
	Headers map[string]string

	// ToolHeaders are per-tool header overlays, keyed by local tool
	// name. They take precedence over the server-level Headers.
	ToolHeaders map[string]map[string]string

	// RequireApproval lists local tool names that need human approval
	// before running in a live session.
	RequireApproval []string

	// MaxRetries for HTTP requests (default 3).
	MaxRetries int

	// StreamTimeout bounds server-streaming reads (default 5m).
	StreamTimeout time.Duration
}

// Client is a persistent session to one remote tool server. Connection
// is lazy: the first Tools or call establishes it.
type Client struct {
	cfg Config

	mu         sync.Mutex
	stdio      *client.Client
	httpClient *httpclient.Client
	sessionID  string
	connected  bool
	tools      []tool.Tool

	rpcID atomic.Int64
}

// New creates a client for one remote tool server.
func New(cfg Config) (*Client, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("server name is required")
	}
	if cfg.URL == "" && cfg.Command == "" {
		return nil, fmt.Errorf("either url or command is required")
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.StreamTimeout == 0 {
		cfg.StreamTimeout = DefaultStreamTimeout
	}
	return &Client{cfg: cfg}, nil
}

// Name returns the server name (and tool namespace).
func (c *Client) Name() string { return c.cfg.Name }

// Tools discovers the server's tools, connecting first if needed.
func (c *Client) Tools(ctx context.Context) ([]tool.Tool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnectedLocked(ctx); err != nil {
		return nil, err
	}
	return c.tools, nil
}

// Close tears down the server session. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.stdio != nil {
		err = c.stdio.Close()
		c.stdio = nil
	}
	c.httpClient = nil
	c.connected = false
	c.tools = nil
	return err
}

func (c *Client) useStdio() bool {
	return c.cfg.Command != "" || c.cfg.Transport == "stdio"
}

func (c *Client) ensureConnectedLocked(ctx context.Context) error {
	if c.connected {
		return nil
	}
	if c.useStdio() {
		return c.connectStdioLocked(ctx)
	}
	return c.connectHTTPLocked(ctx)
}

func (c *Client) connectStdioLocked(ctx context.Context) error {
	mcpClient, err := client.NewStdioMCPClient(c.cfg.Command, envSlice(c.cfg.Env), c.cfg.Args...)
	if err != nil {
		return fmt.Errorf("failed to create MCP client: %w", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}
	initReq.Params.ProtocolVersion = protocolVersion
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to initialize MCP: %w", err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to list tools: %w", err)
	}

	var tools []tool.Tool
	for _, mcpTool := range listResp.Tools {
		tools = append(tools, newRemoteTool(c, remoteToolInfo{
			localName:   mcpTool.Name,
			description: mcpTool.Description,
			schema:      marshalSchema(mcpTool.InputSchema),
		}))
	}

	c.stdio = mcpClient
	c.tools = tools
	c.connected = true

	slog.Info("Connected to remote tool server (stdio)",
		"server", c.cfg.Name,
		"command", c.cfg.Command,
		"tools", len(tools))
	return nil
}

func (c *Client) connectHTTPLocked(ctx context.Context) error {
	c.httpClient = httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
		httpclient.WithMaxRetries(c.cfg.MaxRetries),
	)

	initResp, err := c.rpc(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo":      map[string]any{"name": clientName, "version": clientVersion},
		"capabilities":    map[string]any{},
	}, c.cfg.Headers)
	if err != nil {
		return fmt.Errorf("failed to initialize MCP: %w", err)
	}
	if initResp.Error != nil {
		return fmt.Errorf("MCP init error: %s", initResp.Error.Message)
	}

	listResp, err := c.rpc(ctx, "tools/list", nil, c.cfg.Headers)
	if err != nil {
		return fmt.Errorf("failed to list tools: %w", err)
	}
	if listResp.Error != nil {
		return fmt.Errorf("MCP list error: %s", listResp.Error.Message)
	}

	resultMap, ok := listResp.Result.(map[string]any)
	if !ok {
		return fmt.Errorf("unexpected result type from tools/list")
	}
	toolsList, ok := resultMap["tools"].([]any)
	if !ok {
		return fmt.Errorf("missing tools in tools/list response")
	}

	var tools []tool.Tool
	for _, raw := range toolsList {
		toolMap, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := toolMap["name"].(string)
		if name == "" {
			continue
		}
		desc, _ := toolMap["description"].(string)
		schema, _ := toolMap["inputSchema"].(map[string]any)
		streaming, _ := toolMap["supportsStreaming"].(bool)

		tools = append(tools, newRemoteTool(c, remoteToolInfo{
			localName:   name,
			description: desc,
			schema:      schema,
			streaming:   streaming,
		}))
	}

	c.tools = tools
	c.connected = true

	slog.Info("Connected to remote tool server (HTTP)",
		"server", c.cfg.Name,
		"url", c.cfg.URL,
		"tools", len(tools))
	return nil
}

// Call executes a unary tool call. headers is the fully merged header
// set for this call.
func (c *Client) Call(ctx context.Context, name string, args map[string]any, headers map[string]string) (any, error) {
	c.mu.Lock()
	if err := c.ensureConnectedLocked(ctx); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	stdio := c.stdio
	c.mu.Unlock()

	if stdio != nil {
		req := mcp.CallToolRequest{}
		req.Params.Name = name
		req.Params.Arguments = args
		resp, err := stdio.CallTool(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("MCP call failed: %w", err)
		}
		return parseStdioResult(resp)
	}

	resp, err := c.rpc(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	}, headers)
	if err != nil {
		return nil, fmt.Errorf("MCP call failed: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("MCP error: %s", resp.Error.Message)
	}
	return parseHTTPResult(resp.Result)
}

// CallStream executes a server-streaming tool call, yielding one chunk
// per streamed event. Stdio transport has no streaming call; it falls
// back to a unary call with a single final chunk.
func (c *Client) CallStream(ctx context.Context, name string, args map[string]any, headers map[string]string) iter.Seq2[*tool.Chunk, error] {
	return func(yield func(*tool.Chunk, error) bool) {
		c.mu.Lock()
		if err := c.ensureConnectedLocked(ctx); err != nil {
			c.mu.Unlock()
			yield(nil, err)
			return
		}
		stdio := c.stdio
		c.mu.Unlock()

		if stdio != nil {
			result, err := c.Call(ctx, name, args, headers)
			if err != nil {
				yield(nil, err)
				return
			}
			yield(&tool.Chunk{Content: result, Final: true}, nil)
			return
		}

		c.streamHTTP(ctx, name, args, headers, yield)
	}
}

// JSON-RPC plumbing for HTTP transports.

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method,omitempty"`
	Result  any           `json:"result,omitempty"`
	Params  any           `json:"params,omitempty"`
	Error   *jsonRPCError `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) newHTTPRequest(ctx context.Context, method string, params any, headers map[string]string) (*http.Request, error) {
	body, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      c.rpcID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")

	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	c.mu.Lock()
	if c.sessionID != "" {
		httpReq.Header.Set("mcp-session-id", c.sessionID)
	}
	c.mu.Unlock()

	return httpReq, nil
}

func (c *Client) rpc(ctx context.Context, method string, params any, headers map[string]string) (*jsonRPCResponse, error) {
	httpReq, err := c.newHTTPRequest(ctx, method, params, headers)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	c.captureSessionID(httpResp)

	if httpResp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("HTTP error %d: %s", httpResp.StatusCode, string(raw))
	}

	if strings.Contains(httpResp.Header.Get("Content-Type"), "text/event-stream") {
		return c.readFirstSSEResponse(httpResp)
	}

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	var resp jsonRPCResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &resp, nil
}

func (c *Client) captureSessionID(httpResp *http.Response) {
	if sid := httpResp.Header.Get("mcp-session-id"); sid != "" {
		c.mu.Lock()
		c.sessionID = sid
		c.mu.Unlock()
	}
}

// readFirstSSEResponse reads the first complete JSON-RPC response from
// an SSE body, for servers that answer unary calls over event-stream.
func (c *Client) readFirstSSEResponse(httpResp *http.Response) (*jsonRPCResponse, error) {
	deadline := time.After(c.cfg.StreamTimeout)
	results := make(chan *jsonRPCResponse, 1)
	errs := make(chan error, 1)

	go func() {
		defer httpResp.Body.Close()
		for resp, err := range sseResponses(httpResp.Body) {
			if err != nil {
				errs <- err
				return
			}
			if resp.Result != nil || resp.Error != nil {
				results <- resp
				return
			}
		}
		errs <- fmt.Errorf("SSE stream ended without complete message")
	}()

	select {
	case resp := <-results:
		return resp, nil
	case err := <-errs:
		return nil, err
	case <-deadline:
		return nil, fmt.Errorf("timeout reading SSE response after %v", c.cfg.StreamTimeout)
	}
}

// streamHTTP performs a streaming tools/call and yields every event.
// Notification events become non-final chunks; the response carrying a
// result or error terminates the stream.
func (c *Client) streamHTTP(ctx context.Context, name string, args map[string]any, headers map[string]string, yield func(*tool.Chunk, error) bool) {
	httpReq, err := c.newHTTPRequest(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	}, headers)
	if err != nil {
		yield(nil, err)
		return
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		yield(nil, fmt.Errorf("request failed: %w", err))
		return
	}
	defer httpResp.Body.Close()

	c.captureSessionID(httpResp)

	if httpResp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(httpResp.Body)
		yield(nil, fmt.Errorf("HTTP error %d: %s", httpResp.StatusCode, string(raw)))
		return
	}

	if !strings.Contains(httpResp.Header.Get("Content-Type"), "text/event-stream") {
		// Server answered unary; emit a single final chunk.
		raw, err := io.ReadAll(httpResp.Body)
		if err != nil {
			yield(nil, fmt.Errorf("failed to read response: %w", err))
			return
		}
		var resp jsonRPCResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			yield(nil, fmt.Errorf("failed to parse response: %w", err))
			return
		}
		if resp.Error != nil {
			yield(nil, fmt.Errorf("MCP error: %s", resp.Error.Message))
			return
		}
		result, err := parseHTTPResult(resp.Result)
		if err != nil {
			yield(nil, err)
			return
		}
		yield(&tool.Chunk{Content: result, Final: true}, nil)
		return
	}

	for resp, err := range sseResponses(httpResp.Body) {
		if err != nil {
			yield(nil, err)
			return
		}
		if resp.Error != nil {
			yield(nil, fmt.Errorf("MCP error: %s", resp.Error.Message))
			return
		}
		if resp.Result != nil {
			result, err := parseHTTPResult(resp.Result)
			if err != nil {
				yield(nil, err)
				return
			}
			yield(&tool.Chunk{Content: result, Final: true}, nil)
			return
		}
		// Notification: progress or partial output.
		if !yield(&tool.Chunk{Content: resp.Params}, nil) {
			return
		}
	}

	yield(nil, fmt.Errorf("SSE stream ended without final result"))
}

// sseResponses parses an SSE body into JSON-RPC responses, one per
// "data:" event.
func sseResponses(body io.Reader) iter.Seq2[*jsonRPCResponse, error] {
	return func(yield func(*jsonRPCResponse, error) bool) {
		reader := bufio.NewReader(body)
		var data strings.Builder

		flush := func() bool {
			if data.Len() == 0 {
				return true
			}
			var resp jsonRPCResponse
			err := json.Unmarshal([]byte(data.String()), &resp)
			data.Reset()
			if err != nil {
				// Skip malformed events; the stream may still complete.
				slog.Debug("Skipping malformed SSE event", "error", err)
				return true
			}
			return yield(&resp, nil)
		}

		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					flush()
					return
				}
				yield(nil, err)
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				if !flush() {
					return
				}
				continue
			}
			if strings.HasPrefix(line, "data:") {
				data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			}
		}
	}
}

// parseStdioResult normalizes an mcp-go tool result.
func parseStdioResult(resp *mcp.CallToolResult) (any, error) {
	var texts []string
	for _, content := range resp.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			texts = append(texts, textContent.Text)
		}
	}
	if resp.IsError {
		msg := "unknown error"
		if len(texts) > 0 {
			msg = texts[0]
		}
		return nil, fmt.Errorf("%s", msg)
	}
	return joinTexts(texts), nil
}

// parseHTTPResult normalizes a JSON-RPC tools/call result.
func parseHTTPResult(result any) (any, error) {
	resultMap, ok := result.(map[string]any)
	if !ok {
		return result, nil
	}

	var texts []string
	if content, ok := resultMap["content"].([]any); ok {
		for _, item := range content {
			if m, ok := item.(map[string]any); ok && m["type"] == "text" {
				if text, ok := m["text"].(string); ok {
					texts = append(texts, text)
				}
			}
		}
	}

	if isError, _ := resultMap["isError"].(bool); isError {
		msg := "unknown error"
		if len(texts) > 0 {
			msg = texts[0]
		}
		return nil, fmt.Errorf("%s", msg)
	}

	if len(texts) > 0 {
		return joinTexts(texts), nil
	}
	if structured, ok := resultMap["structuredContent"]; ok {
		return structured, nil
	}
	return resultMap, nil
}

func joinTexts(texts []string) any {
	switch len(texts) {
	case 0:
		return nil
	case 1:
		return texts[0]
	default:
		return strings.Join(texts, "\n")
	}
}

func envSlice(env map[string]string) []string {
	if env == nil {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func marshalSchema(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

var _ tool.Toolset = (*Client)(nil)
