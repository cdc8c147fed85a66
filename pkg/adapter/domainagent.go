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

package adapter

import (
	"context"
	"log/slog"
	"strings"

	"github.com/aetherframe/aether/pkg/contracts"
	"github.com/aetherframe/aether/pkg/runner"
	"github.com/aetherframe/aether/pkg/session"
	"github.com/aetherframe/aether/pkg/stream"
	"github.com/aetherframe/aether/pkg/tool"
)

// DomainAgent translates agent requests into runner turns. It is
// stateless; all execution state arrives in the RuntimeContext.
type DomainAgent struct {
	streamOpts stream.Options
}

// NewDomainAgent creates a domain agent. The stream options govern live
// sessions it produces.
func NewDomainAgent(streamOpts stream.Options) *DomainAgent {
	return &DomainAgent{streamOpts: streamOpts}
}

// Execute runs one synchronous turn and selects the best final response
// from the runner's event stream.
func (a *DomainAgent) Execute(ctx context.Context, req *AgentRequest) (*contracts.TaskResult, error) {
	task := req.TaskRequest
	rtc := req.Runtime

	if missing := rtc.missingComponents(); len(missing) > 0 {
		err := contracts.NewError(contracts.CodeRunnerExecution, "runner.execution", "runtime context incomplete").
			WithDetail("missing_components", missing)
		return contracts.ErrorResult(task.TaskID, "conversation_continuation", err), nil
	}

	run := &runner.RunRequest{
		UserID:    rtc.UserID,
		SessionID: rtc.SessionID,
		Content:   turnContent(task),
	}

	best := ""
	for ev, err := range rtc.RunnerContext.Runner.Run(ctx, run) {
		if err != nil {
			e := contracts.AsError(err, "runner.execution")
			return contracts.ErrorResult(task.TaskID, "conversation_continuation", e), nil
		}
		if candidate := responseCandidate(ev); candidate != "" {
			best = pickBetterResponse(best, candidate)
		}
	}

	result := contracts.SuccessResult(task.TaskID)
	result.Messages = []*contracts.Message{contracts.NewAssistantMessage(best)}
	result.SessionID = rtc.SessionID
	result.AgentID = rtc.AgentID
	return result, nil
}

// ExecuteLive starts a streaming turn. The returned session delivers
// plan deltas, tool proposals gated by human approval, tool results, and
// a final response chunk.
func (a *DomainAgent) ExecuteLive(ctx context.Context, req *AgentRequest) (*stream.Session, stream.Communicator) {
	task := req.TaskRequest
	rtc := req.Runtime

	sess, producer := stream.NewSession(task.TaskID, a.streamOpts)

	if missing := rtc.missingComponents(); len(missing) > 0 {
		go producer.Fail(contracts.NewError(contracts.CodeRunnerExecution, "runner.execution", "runtime context incomplete: %s", strings.Join(missing, ", ")), "runner.execution")
		return sess, sess.Communicator()
	}

	go a.produce(ctx, producer, task, rtc)
	return sess, sess.Communicator()
}

func (a *DomainAgent) produce(ctx context.Context, producer *stream.Producer, task *contracts.TaskRequest, rtc *RuntimeContext) {
	gate := a.approvalGate(producer, rtc)
	content := turnContent(task)

	final := ""
	for {
		run := &runner.RunRequest{
			UserID:       rtc.UserID,
			SessionID:    rtc.SessionID,
			Content:      content,
			Gate:         gate,
			UserMessages: producer.UserMessages(),
			StreamTools:  true,
		}

		turnFinal := ""
		for ev, err := range rtc.RunnerContext.Runner.Run(ctx, run) {
			if err != nil {
				producer.Fail(err, "runner.execution")
				return
			}
			if !a.emitEvent(producer, ev) {
				return
			}
			if candidate := responseCandidate(ev); candidate != "" {
				turnFinal = pickBetterResponse(turnFinal, candidate)
			}
		}
		if turnFinal != "" {
			final = turnFinal
		}

		// Messages that arrived too late for the turn get a follow-up
		// turn before the stream closes.
		select {
		case content = <-producer.UserMessages():
			continue
		default:
		}
		break
	}

	if err := producer.Emit(&contracts.TaskStreamChunk{
		ChunkType: contracts.ChunkResponse,
		ChunkKind: contracts.KindResponse,
		Content:   final,
	}); err != nil {
		return
	}
	producer.Complete(map[string]any{
		"session_id": rtc.SessionID,
		"agent_id":   rtc.AgentID,
	})
}

// emitEvent maps one runner event onto stream chunks. Returns false when
// the session is closed.
func (a *DomainAgent) emitEvent(producer *stream.Producer, ev *session.Event) bool {
	var chunk *contracts.TaskStreamChunk
	switch {
	case ev.Partial && ev.Metadata["kind"] == "plan":
		chunk = &contracts.TaskStreamChunk{
			ChunkType: contracts.ChunkProcessing,
			ChunkKind: contracts.KindPlanDelta,
			Content:   ev.Content,
		}
	case ev.Partial && ev.Metadata["kind"] == "tool":
		chunk = &contracts.TaskStreamChunk{
			ChunkType: contracts.ChunkToolCallRequest,
			ChunkKind: contracts.KindToolDelta,
			Content: map[string]any{
				"tool_name": ev.Metadata["tool_name"],
				"delta":     ev.Content,
			},
		}
	case ev.Partial:
		chunk = &contracts.TaskStreamChunk{
			ChunkType: contracts.ChunkProgress,
			ChunkKind: contracts.KindResponse,
			Content:   ev.Content,
		}
	case len(ev.ToolResults) > 0:
		result := ev.ToolResults[0]
		kind := contracts.KindToolResult
		if result.Status != contracts.ToolStatusSuccess {
			kind = contracts.KindToolError
		}
		chunk = &contracts.TaskStreamChunk{
			ChunkType: contracts.ChunkToolCallRequest,
			ChunkKind: kind,
			Content: map[string]any{
				"tool_name": result.ToolName,
				"status":    string(result.Status),
				"result":    result.ResultData,
				"error":     result.ErrorMessage,
			},
		}
	default:
		// User echoes, tool-call records, and final assistant events
		// produce no immediate chunk; the final response is emitted by
		// the caller after best-candidate selection.
		return true
	}
	return producer.Emit(chunk) == nil
}

// approvalGate blocks tool calls on human approval when the tool demands
// it. Approval timeouts follow the session's timeout policy.
func (a *DomainAgent) approvalGate(producer *stream.Producer, rtc *RuntimeContext) runner.ToolGate {
	return func(ctx context.Context, call *contracts.ToolCall) (bool, string) {
		if !a.needsApproval(rtc.ToolService, call.Name) {
			return true, ""
		}

		resp, err := producer.RequestApproval(ctx, map[string]any{
			"tool_name":  call.Name,
			"parameters": call.Arguments,
		})
		if err != nil {
			slog.Info("Tool approval not granted", "tool", call.Name, "error", err)
			return false, "approval timed out"
		}
		if !resp.Approved {
			reason := resp.UserMessage
			if reason == "" {
				reason = "user declined the tool call"
			}
			return false, reason
		}
		return true, ""
	}
}

func (a *DomainAgent) needsApproval(tools *tool.Service, name string) bool {
	if tools == nil {
		return false
	}
	t, ok := tools.GetTool(name)
	if !ok {
		return false
	}
	return tool.RequiresApproval(t)
}

// turnContent derives the user content for a turn: the last user
// message, falling back to the task description.
func turnContent(task *contracts.TaskRequest) string {
	for i := len(task.Messages) - 1; i >= 0; i-- {
		if task.Messages[i].Role == contracts.RoleUser {
			if text := task.Messages[i].Text(); text != "" {
				return text
			}
		}
	}
	return task.Description
}

// responseCandidate extracts final assistant text from an event.
func responseCandidate(ev *session.Event) string {
	if ev.Partial || ev.Role != contracts.RoleAssistant || !ev.TurnComplete {
		return ""
	}
	return ev.Content
}

// pickBetterResponse keeps the structurally better of two finals: the
// longer one wins; ties keep the earlier.
func pickBetterResponse(current, candidate string) string {
	if len(candidate) > len(current) {
		return candidate
	}
	return current
}
