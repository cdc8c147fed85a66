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

// Package model defines the LLM backend contract consumed by runners.
//
// The concrete token-level protocol (OpenAI, Anthropic, ...) lives behind
// this interface and is out of scope here; the scripted model in this
// package drives development and tests.
package model

import (
	"context"
	"iter"

	"github.com/aetherframe/aether/pkg/contracts"
)

// ChunkKind discriminates streamed model output.
type ChunkKind string

const (
	// KindPlan is reasoning text emitted before the answer.
	KindPlan ChunkKind = "plan"

	// KindText is answer text.
	KindText ChunkKind = "text"

	// KindToolCall asks the host to execute a tool.
	KindToolCall ChunkKind = "tool_call"
)

// Request is one model invocation: the full prompt state for a turn.
type Request struct {
	SystemPrompt string
	Messages     []*contracts.Message
	Tools        []*contracts.UniversalTool

	// Settings carries provider-specific generation options
	// (temperature, max tokens, ...).
	Settings map[string]any
}

// Chunk is one unit of streamed model output.
type Chunk struct {
	Kind     ChunkKind
	Text     string
	ToolCall *contracts.ToolCall

	// Final marks the last chunk of the generation.
	Final bool
}

// Model generates completions for a prompt state.
type Model interface {
	// Name returns the model identifier.
	Name() string

	// GenerateStream yields output chunks until the generation completes
	// or ctx is cancelled. The last successfully yielded chunk has
	// Final=true.
	GenerateStream(ctx context.Context, req *Request) iter.Seq2[*Chunk, error]
}

// Factory builds a model from an agent's model configuration.
type Factory func(modelConfig map[string]any) (Model, error)
