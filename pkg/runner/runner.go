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

// Package runner hosts one agent runtime instance: a model, its tool
// grants, a system prompt, and a session service. A runner owns many
// runtime sessions and drives one conversation turn at a time per
// session.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/aetherframe/aether/pkg/contracts"
	"github.com/aetherframe/aether/pkg/model"
	"github.com/aetherframe/aether/pkg/session"
	"github.com/aetherframe/aether/pkg/tool"
)

// DefaultMaxToolRounds bounds the model→tool→model loop per turn.
const DefaultMaxToolRounds = 4

// ToolGate decides whether a requested tool call may run. A nil gate
// approves everything. Denials are surfaced to the model as a tool
// result so the conversation can continue.
type ToolGate func(ctx context.Context, call *contracts.ToolCall) (approved bool, reason string)

// Config assembles a Runner.
type Config struct {
	// Name is the agent/app name; it authors assistant events and keys
	// sessions in the session service.
	Name string

	SystemPrompt string

	Model model.Model

	// Tools executes requested tool calls. Optional: a runner without a
	// tool service reports every call as not found.
	Tools *tool.Service

	// ToolDefs are the tool descriptors advertised to the model.
	ToolDefs []*contracts.UniversalTool

	Sessions session.Service

	// Settings carries generation options passed through to the model.
	Settings map[string]any

	// MaxToolRounds bounds tool loops per turn. Default 4.
	MaxToolRounds int
}

// Runner executes conversation turns for one agent.
type Runner struct {
	cfg Config
}

// New validates the config and builds a Runner.
func New(cfg Config) (*Runner, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("runner requires a name")
	}
	if cfg.Model == nil {
		return nil, fmt.Errorf("runner requires a model")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("runner requires a session service")
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultMaxToolRounds
	}
	return &Runner{cfg: cfg}, nil
}

// Name returns the agent name this runner hosts.
func (r *Runner) Name() string { return r.cfg.Name }

// Sessions returns the runner's session service.
func (r *Runner) Sessions() session.Service { return r.cfg.Sessions }

// RunRequest is one conversation turn.
type RunRequest struct {
	UserID    string
	SessionID string
	Content   string

	// Gate intercepts tool calls, typically for human approval in live
	// sessions. Nil approves everything.
	Gate ToolGate

	// UserMessages carries messages injected mid-turn by the consumer of
	// a live session. Queued messages are folded into the session before
	// each model round. Nil disables folding.
	UserMessages <-chan string

	// StreamTools routes tool execution through the streaming path,
	// yielding partial tool-output events as they arrive. Tools without
	// streaming support fall back to one final chunk.
	StreamTools bool
}

// Run executes one turn: records the user event, streams the model,
// executes requested tools up to MaxToolRounds, and records the final
// assistant event. Every event is yielded in order; partial events are
// yielded but not persisted. The last yielded event has
// TurnComplete=true.
func (r *Runner) Run(ctx context.Context, req *RunRequest) iter.Seq2[*session.Event, error] {
	return func(yield func(*session.Event, error) bool) {
		sess, err := r.getSession(ctx, req)
		if err != nil {
			yield(nil, err)
			return
		}

		userEvent := &session.Event{
			Author:  session.AuthorUser,
			Role:    contracts.RoleUser,
			Content: req.Content,
		}
		if err := r.cfg.Sessions.AppendEvent(ctx, sess, userEvent); err != nil {
			yield(nil, contracts.NewError(contracts.CodeRunnerExecution, "runner.execution", "failed to record user turn: %v", err))
			return
		}
		if !yield(userEvent, nil) {
			return
		}

		for round := 0; round < r.cfg.MaxToolRounds; round++ {
			if round > 0 && !r.foldUserMessages(ctx, sess, req, yield) {
				return
			}

			finalText, toolCall, err := r.generate(ctx, sess, yield)
			if err != nil {
				yield(nil, contracts.AsError(err, "runner.execution"))
				return
			}

			if toolCall == nil {
				final := &session.Event{
					Author:       r.cfg.Name,
					Role:         contracts.RoleAssistant,
					Content:      finalText,
					TurnComplete: true,
				}
				if err := r.cfg.Sessions.AppendEvent(ctx, sess, final); err != nil {
					yield(nil, contracts.NewError(contracts.CodeRunnerExecution, "runner.execution", "failed to record assistant turn: %v", err))
					return
				}
				yield(final, nil)
				return
			}

			if ok := r.executeTool(ctx, sess, req, toolCall, yield); !ok {
				return
			}
		}

		// Tool budget exhausted; close the turn with what we have.
		slog.Warn("Tool round budget exhausted", "runner", r.cfg.Name, "session_id", req.SessionID)
		final := &session.Event{
			Author:       r.cfg.Name,
			Role:         contracts.RoleAssistant,
			Content:      "I could not complete the request within the tool budget.",
			TurnComplete: true,
			Metadata:     map[string]any{"tool_budget_exhausted": true},
		}
		if err := r.cfg.Sessions.AppendEvent(ctx, sess, final); err != nil {
			yield(nil, contracts.NewError(contracts.CodeRunnerExecution, "runner.execution", "failed to record assistant turn: %v", err))
			return
		}
		yield(final, nil)
	}
}

func (r *Runner) getSession(ctx context.Context, req *RunRequest) (session.Session, error) {
	resp, err := r.cfg.Sessions.Get(ctx, &session.GetRequest{
		AppName:   r.cfg.Name,
		UserID:    req.UserID,
		SessionID: req.SessionID,
	})
	if err != nil {
		return nil, contracts.NewError(contracts.CodeRunnerExecution, "runner.execution", "session lookup failed: %v", err).
			WithDetail("session_id", req.SessionID)
	}
	return resp.Session, nil
}

// foldUserMessages drains messages the consumer injected mid-turn and
// records them as user events so the next model round sees them. Returns
// false when the consumer stopped or persistence failed.
func (r *Runner) foldUserMessages(ctx context.Context, sess session.Session, req *RunRequest, yield func(*session.Event, error) bool) bool {
	if req.UserMessages == nil {
		return true
	}
	for {
		select {
		case text := <-req.UserMessages:
			ev := &session.Event{
				Author:   session.AuthorUser,
				Role:     contracts.RoleUser,
				Content:  text,
				Metadata: map[string]any{"mid_turn": true},
			}
			if err := r.cfg.Sessions.AppendEvent(ctx, sess, ev); err != nil {
				yield(nil, contracts.NewError(contracts.CodeRunnerExecution, "runner.execution", "failed to record user message: %v", err))
				return false
			}
			if !yield(ev, nil) {
				return false
			}
		default:
			return true
		}
	}
}

// generate runs one model invocation over the session history. It yields
// plan and text fragments as partial events and returns either the final
// text or a requested tool call.
func (r *Runner) generate(ctx context.Context, sess session.Session, yield func(*session.Event, error) bool) (string, *contracts.ToolCall, error) {
	modelReq := &model.Request{
		SystemPrompt: r.cfg.SystemPrompt,
		Messages:     eventsToMessages(sess.Events()),
		Tools:        r.cfg.ToolDefs,
		Settings:     r.cfg.Settings,
	}

	var text strings.Builder
	var toolCall *contracts.ToolCall

	for chunk, err := range r.cfg.Model.GenerateStream(ctx, modelReq) {
		if err != nil {
			return "", nil, err
		}
		switch chunk.Kind {
		case model.KindPlan:
			ev := &session.Event{
				Author:   r.cfg.Name,
				Role:     contracts.RoleAssistant,
				Content:  chunk.Text,
				Partial:  true,
				Metadata: map[string]any{"kind": "plan"},
			}
			if !yield(ev, nil) {
				return "", nil, context.Canceled
			}
		case model.KindToolCall:
			toolCall = chunk.ToolCall
		case model.KindText:
			text.WriteString(chunk.Text)
			if !chunk.Final {
				ev := &session.Event{
					Author:  r.cfg.Name,
					Role:    contracts.RoleAssistant,
					Content: chunk.Text,
					Partial: true,
				}
				if !yield(ev, nil) {
					return "", nil, context.Canceled
				}
			}
		}
		if chunk.Final {
			break
		}
	}

	return text.String(), toolCall, nil
}

// executeTool records the call, runs (or denies) it, and records the
// result so the next model round sees it. Returns false when the
// consumer stopped or an unrecoverable error was yielded.
func (r *Runner) executeTool(ctx context.Context, sess session.Session, req *RunRequest, call *contracts.ToolCall, yield func(*session.Event, error) bool) bool {
	callEvent := &session.Event{
		Author:    r.cfg.Name,
		Role:      contracts.RoleAssistant,
		ToolCalls: []*contracts.ToolCall{call},
	}
	if err := r.cfg.Sessions.AppendEvent(ctx, sess, callEvent); err != nil {
		yield(nil, contracts.NewError(contracts.CodeRunnerExecution, "runner.execution", "failed to record tool call: %v", err))
		return false
	}
	if !yield(callEvent, nil) {
		return false
	}

	result, ok := r.runToolCall(ctx, req, call, yield)
	if !ok {
		return false
	}

	resultEvent := &session.Event{
		Author:      r.cfg.Name,
		Role:        contracts.RoleTool,
		Content:     resultText(result),
		ToolResults: []*contracts.ToolResult{result},
	}
	if err := r.cfg.Sessions.AppendEvent(ctx, sess, resultEvent); err != nil {
		yield(nil, contracts.NewError(contracts.CodeRunnerExecution, "runner.execution", "failed to record tool result: %v", err))
		return false
	}
	return yield(resultEvent, nil)
}

// runToolCall gates and executes one tool call. The bool reports whether
// the consumer is still listening; a false means the caller must stop.
func (r *Runner) runToolCall(ctx context.Context, req *RunRequest, call *contracts.ToolCall, yield func(*session.Event, error) bool) (*contracts.ToolResult, bool) {
	if req.Gate != nil {
		if approved, reason := req.Gate(ctx, call); !approved {
			if reason == "" {
				reason = "tool call was not approved"
			}
			return &contracts.ToolResult{
				ToolName:     call.Name,
				Status:       contracts.ToolStatusError,
				ErrorMessage: reason,
				Metadata:     map[string]any{"approval_denied": true},
			}, true
		}
	}

	if r.cfg.Tools == nil {
		return &contracts.ToolResult{
			ToolName:     call.Name,
			Status:       contracts.ToolStatusNotFound,
			ErrorMessage: "no tool service configured",
		}, true
	}

	if req.StreamTools {
		return r.streamToolCall(ctx, call, yield)
	}

	result, err := r.cfg.Tools.Execute(ctx, &contracts.ToolRequest{
		ToolName:   call.Name,
		Parameters: call.Arguments,
	})
	if err != nil {
		return &contracts.ToolResult{
			ToolName:     call.Name,
			Status:       contracts.ToolStatusError,
			ErrorMessage: err.Error(),
		}, true
	}
	return result, true
}

// streamToolCall runs a tool through the streaming path, yielding each
// intermediate chunk as a partial tool event and assembling the final
// result from the stream. Tools without streaming support produce a
// single final chunk.
func (r *Runner) streamToolCall(ctx context.Context, call *contracts.ToolCall, yield func(*session.Event, error) bool) (*contracts.ToolResult, bool) {
	var parts strings.Builder
	var structured any

	for chunk, err := range r.cfg.Tools.ExecuteStream(ctx, &contracts.ToolRequest{
		ToolName:   call.Name,
		Parameters: call.Arguments,
	}) {
		if err != nil {
			return &contracts.ToolResult{
				ToolName:     call.Name,
				Status:       contracts.ToolStatusError,
				ErrorMessage: err.Error(),
			}, true
		}

		switch data := chunk.Content.(type) {
		case nil:
		case string:
			parts.WriteString(data)
		default:
			structured = data
		}

		if !chunk.Final {
			ev := &session.Event{
				Author:   r.cfg.Name,
				Role:     contracts.RoleTool,
				Content:  fmt.Sprintf("%v", chunk.Content),
				Partial:  true,
				Metadata: map[string]any{"kind": "tool", "tool_name": call.Name},
			}
			if !yield(ev, nil) {
				return nil, false
			}
			continue
		}

		data := any(parts.String())
		if structured != nil {
			data = structured
		}
		return &contracts.ToolResult{
			ToolName:     call.Name,
			Status:       chunk.Status,
			ErrorMessage: chunk.ErrorMessage,
			ResultData:   contracts.NormalizeResultData(data),
			Metadata:     chunk.Metadata,
		}, true
	}

	return &contracts.ToolResult{
		ToolName:     call.Name,
		Status:       contracts.ToolStatusError,
		ErrorMessage: "tool stream ended without a final chunk",
	}, true
}

// eventsToMessages projects persisted events onto the model's message
// view. Partial events never reach the history; tool call events carry
// their calls for providers that want them.
func eventsToMessages(events []*session.Event) []*contracts.Message {
	msgs := make([]*contracts.Message, 0, len(events))
	for _, ev := range events {
		msgs = append(msgs, &contracts.Message{
			Role:      ev.Role,
			Content:   ev.Content,
			Author:    ev.Author,
			ToolCalls: ev.ToolCalls,
		})
	}
	return msgs
}

func resultText(result *contracts.ToolResult) string {
	if result.ErrorMessage != "" {
		return fmt.Sprintf("tool %s failed: %s", result.ToolName, result.ErrorMessage)
	}
	switch data := result.ResultData.(type) {
	case nil:
		return ""
	case string:
		return data
	default:
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Sprintf("%v", data)
		}
		return string(raw)
	}
}
