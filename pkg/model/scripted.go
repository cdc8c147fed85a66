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

package model

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"

	"github.com/aetherframe/aether/pkg/contracts"
)

// Step is one scripted turn of a ScriptedModel.
type Step struct {
	// Plan chunks are emitted first, one chunk each.
	Plan []string

	// ToolCall, when set, is requested after the plan. The host executes
	// the tool and re-invokes the model with the result in the prompt.
	ToolCall *contracts.ToolCall

	// Reply is the answer text, streamed in fragments.
	Reply string

	// Err aborts the generation with this error.
	Err error
}

// ScriptedModel is a deterministic Model for development and tests.
//
// With a script, each invocation consumes the next Step. Without one, it
// echoes the last user message, which is enough to exercise the full
// session and streaming machinery.
type ScriptedModel struct {
	name string

	mu     sync.Mutex
	script []Step
	next   int
}

// NewScripted creates a scripted model. An empty script yields echo
// behavior for every turn.
func NewScripted(name string, script ...Step) *ScriptedModel {
	if name == "" {
		name = "scripted"
	}
	return &ScriptedModel{name: name, script: script}
}

// scriptedSettings is the shape accepted from AgentConfig.ModelConfig.
type scriptedSettings struct {
	Name string `mapstructure:"model"`
}

// ScriptedFactory builds ScriptedModels from agent model configs. This is
// the default factory wired into the adapter when no provider is
// configured.
func ScriptedFactory(modelConfig map[string]any) (Model, error) {
	var settings scriptedSettings
	if modelConfig != nil {
		if err := mapstructure.Decode(modelConfig, &settings); err != nil {
			return nil, fmt.Errorf("invalid model config: %w", err)
		}
	}
	return NewScripted(settings.Name), nil
}

func (m *ScriptedModel) Name() string { return m.name }

func (m *ScriptedModel) GenerateStream(ctx context.Context, req *Request) iter.Seq2[*Chunk, error] {
	return func(yield func(*Chunk, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}

		step := m.takeStep(req)
		if step.Err != nil {
			yield(nil, step.Err)
			return
		}

		for _, plan := range step.Plan {
			if !yield(&Chunk{Kind: KindPlan, Text: plan}, nil) {
				return
			}
		}

		if step.ToolCall != nil {
			yield(&Chunk{Kind: KindToolCall, ToolCall: step.ToolCall, Final: true}, nil)
			return
		}

		// Stream the reply in a couple of fragments so consumers see
		// partial output.
		reply := step.Reply
		if half := len(reply) / 2; half > 0 {
			if !yield(&Chunk{Kind: KindText, Text: reply[:half]}, nil) {
				return
			}
			reply = reply[half:]
		}
		yield(&Chunk{Kind: KindText, Text: reply, Final: true}, nil)
	}
}

func (m *ScriptedModel) takeStep(req *Request) Step {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.next < len(m.script) {
		step := m.script[m.next]
		m.next++
		return step
	}
	return Step{Reply: m.echo(req)}
}

func (m *ScriptedModel) echo(req *Request) string {
	var lastUser, lastToolResult string
	for _, msg := range req.Messages {
		switch msg.Role {
		case contracts.RoleUser:
			lastUser = msg.Text()
		case contracts.RoleTool:
			lastToolResult = msg.Text()
		}
	}
	if lastToolResult != "" {
		return fmt.Sprintf("Used tool output: %s", lastToolResult)
	}
	if lastUser == "" {
		return "Ready."
	}
	if req.SystemPrompt != "" {
		return fmt.Sprintf("[%s] %s", strings.SplitN(req.SystemPrompt, "\n", 2)[0], lastUser)
	}
	return "You said: " + lastUser
}

var _ Model = (*ScriptedModel)(nil)
