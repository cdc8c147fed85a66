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

package mcptool

import (
	"context"
	"iter"
	"slices"

	"github.com/aetherframe/aether/pkg/contracts"
	"github.com/aetherframe/aether/pkg/tool"
)

type remoteToolInfo struct {
	localName   string
	description string
	schema      map[string]any
	streaming   bool
}

// RemoteTool proxies one tool on a remote server. The fully-qualified
// name is "<server>.<local>". Per-call headers are merged from the
// server config, the tool overlay, and the request's task-level and
// call-site metadata, with the effective user id injected last.
type RemoteTool struct {
	client *Client
	info   remoteToolInfo
}

func newRemoteTool(client *Client, info remoteToolInfo) *RemoteTool {
	return &RemoteTool{client: client, info: info}
}

func (t *RemoteTool) Definition() *contracts.UniversalTool {
	return &contracts.UniversalTool{
		Name:              t.client.cfg.Name + "." + t.info.localName,
		Namespace:         t.client.cfg.Name,
		Description:       t.info.description,
		ParametersSchema:  t.info.schema,
		SupportsStreaming: t.info.streaming,
		Metadata: map[string]any{
			"server":    t.client.cfg.Name,
			"transport": t.transport(),
		},
	}
}

func (t *RemoteTool) transport() string {
	if t.client.useStdio() {
		return "stdio"
	}
	if t.client.cfg.Transport != "" {
		return t.client.cfg.Transport
	}
	return "streamable-http"
}

// RequiresApproval reports whether the server config lists this tool as
// approval-gated.
func (t *RemoteTool) RequiresApproval() bool {
	return slices.Contains(t.client.cfg.RequireApproval, t.info.localName)
}

func (t *RemoteTool) Execute(ctx context.Context, req *contracts.ToolRequest) (*contracts.ToolResult, error) {
	result, err := t.client.Call(ctx, t.info.localName, req.Parameters, t.headers(req))
	if err != nil {
		return nil, err
	}
	return &contracts.ToolResult{
		ToolName:   t.Definition().Name,
		Status:     contracts.ToolStatusSuccess,
		ResultData: result,
	}, nil
}

func (t *RemoteTool) ExecuteStream(ctx context.Context, req *contracts.ToolRequest) iter.Seq2[*tool.Chunk, error] {
	return t.client.CallStream(ctx, t.info.localName, req.Parameters, t.headers(req))
}

// Close tears down the owning server session. The tool service calls
// Close on every registered Closer at shutdown; the client makes this
// idempotent.
func (t *RemoteTool) Close() error {
	return t.client.Close()
}

func (t *RemoteTool) headers(req *contracts.ToolRequest) map[string]string {
	var taskLevel, callSite map[string]string
	var userCtx *contracts.UserContext
	if req != nil {
		if req.ExecutionContext != nil {
			taskLevel = HeadersFromMetadata(req.ExecutionContext.Metadata)
		}
		callSite = HeadersFromMetadata(req.Metadata)
		userCtx = req.UserContext
	}
	return MergeHeaders(
		t.client.cfg.Headers,
		t.client.cfg.ToolHeaders[t.info.localName],
		taskLevel,
		callSite,
		userCtx,
	)
}

var (
	_ tool.StreamingTool    = (*RemoteTool)(nil)
	_ tool.ApprovalRequired = (*RemoteTool)(nil)
	_ tool.Closer           = (*RemoteTool)(nil)
)
