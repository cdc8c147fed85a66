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

// Package tool implements the tool subsystem: registration, namespaced
// resolution, permission checks, and synchronous plus streaming
// execution.
//
// Tools are registered under fully-qualified names ("namespace.local").
// The Service executes them; the Resolver maps user-friendly names onto
// registered tools with permission filtering.
package tool

import (
	"context"
	"iter"

	"github.com/aetherframe/aether/pkg/contracts"
)

// Tool is a capability an agent can invoke.
type Tool interface {
	// Definition returns the tool descriptor. The descriptor's Name is
	// fully qualified.
	Definition() *contracts.UniversalTool

	// Execute runs the tool synchronously.
	Execute(ctx context.Context, req *contracts.ToolRequest) (*contracts.ToolResult, error)
}

// Chunk is one unit of streaming tool output. Tool implementations fill
// Content and Final; the Service stamps Status and ErrorMessage when it
// synthesizes error or fallback chunks.
type Chunk struct {
	Content      any
	Final        bool
	Status       contracts.ToolStatus
	ErrorMessage string
	Metadata     map[string]any
}

// StreamingTool extends Tool with incremental output.
type StreamingTool interface {
	Tool

	// ExecuteStream yields output chunks; the last one has Final=true.
	ExecuteStream(ctx context.Context, req *contracts.ToolRequest) iter.Seq2[*Chunk, error]
}

// ApprovalRequired marks tools that need human approval before running
// in a live session.
type ApprovalRequired interface {
	RequiresApproval() bool
}

// Closer is implemented by tools holding external resources.
type Closer interface {
	Close() error
}

// Toolset is a named group of tools discovered together, typically from
// a remote tool server. Discovery may be lazy.
type Toolset interface {
	// Name identifies the toolset; it doubles as the tools' namespace.
	Name() string

	// Tools returns the discovered tools, connecting first if needed.
	Tools(ctx context.Context) ([]Tool, error)

	// Close releases the toolset's connection.
	Close() error
}

// RequiresApproval reports whether t needs human approval, defaulting to
// false for tools that don't implement ApprovalRequired.
func RequiresApproval(t Tool) bool {
	if a, ok := t.(ApprovalRequired); ok {
		return a.RequiresApproval()
	}
	if def := t.Definition(); def != nil && def.Metadata != nil {
		if v, ok := def.Metadata["requires_approval"].(bool); ok {
			return v
		}
	}
	return false
}
