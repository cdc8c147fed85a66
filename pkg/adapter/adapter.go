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

// Package adapter binds the neutral task contract to the built-in agent
// runtime: agent and runner lifecycle, chat-session coordination, and
// turn execution.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/aetherframe/aether/pkg/contracts"
	"github.com/aetherframe/aether/pkg/model"
	"github.com/aetherframe/aether/pkg/stream"
	"github.com/aetherframe/aether/pkg/tool"
)

// Request modes reported in result metadata.
const (
	ModeAgentCreation             = "agent_creation"
	ModeConversationContinuation  = "conversation_continuation"
	ModeAgentCreationWithMessages = "agent_creation_with_messages"
)

// Settings configures the adapter core.
type Settings struct {
	Runner      RunnerSettings
	Coordinator CoordinatorSettings
	Stream      stream.Options
}

// Core is the built-in runtime adapter. It classifies incoming requests
// into agent creation or conversation continuation, owns the agent and
// runner registries, and drives turns through the domain agent.
type Core struct {
	settings Settings

	tools       *tool.Service
	runners     *RunnerManager
	agents      *AgentManager
	coordinator *SessionCoordinator
	domain      *DomainAgent
	store       RecoveryStore

	initialized atomic.Bool
	sweepCancel context.CancelFunc
}

// NewCore builds the adapter. A nil recovery store falls back to the
// in-memory one.
func NewCore(settings Settings, factory model.Factory, tools *tool.Service, store RecoveryStore) *Core {
	if store == nil {
		store = NewMemoryRecoveryStore()
	}
	runners := NewRunnerManager(settings.Runner, factory, tools)
	agents := NewAgentManager()
	return &Core{
		settings:    settings,
		tools:       tools,
		runners:     runners,
		agents:      agents,
		coordinator: NewSessionCoordinator(settings.Coordinator, store, runners, agents),
		domain:      NewDomainAgent(settings.Stream),
		store:       store,
	}
}

// SetRecorder installs a gauge recorder on the runner pool and the agent
// registry. Call before traffic starts.
func (c *Core) SetRecorder(rec PoolRecorder) {
	c.runners.SetRecorder(rec)
	c.agents.SetRecorder(rec)
}

// FrameworkType identifies the built-in runtime.
func (c *Core) FrameworkType() contracts.FrameworkType {
	return contracts.FrameworkAether
}

// Initialize wires runner cleanup into the agent registry and starts the
// idle sweeper.
func (c *Core) Initialize(ctx context.Context, settings map[string]any) error {
	if c.initialized.Swap(true) {
		return nil
	}
	c.runners.RegisterAgentCleanupCallback(c.agents.Remove)

	sweepCtx, cancel := context.WithCancel(context.Background())
	c.sweepCancel = cancel
	c.coordinator.StartSweeper(sweepCtx)

	slog.Info("Adapter initialized", "framework", c.FrameworkType())
	return nil
}

// Shutdown stops the sweeper and tears down every runner.
func (c *Core) Shutdown(ctx context.Context) error {
	if c.sweepCancel != nil {
		c.sweepCancel()
	}
	c.coordinator.Shutdown()
	c.runners.Shutdown(ctx)
	c.initialized.Store(false)
	return nil
}

// IsAvailable reports whether the adapter has been initialized.
func (c *Core) IsAvailable(ctx context.Context) bool {
	return c.initialized.Load()
}

// SupportsLiveExecution reports streaming support.
func (c *Core) SupportsLiveExecution() bool {
	return true
}

// ExecuteTask dispatches one request. Creation requests build or reuse
// an agent and return its ids without running a turn; continuation
// requests run one synchronous turn against the agent's session.
func (c *Core) ExecuteTask(ctx context.Context, req *contracts.TaskRequest, strategy *contracts.ExecutionStrategy) (*contracts.TaskResult, error) {
	switch mode := classifyRequest(req); mode {
	case ModeAgentCreation:
		return c.createAgent(ctx, req), nil
	case ModeConversationContinuation:
		return c.continueConversation(ctx, req), nil
	default:
		err := contracts.NewError(contracts.CodeRequestValidation, "adapter.classify_request",
			"agent_config and messages are mutually exclusive; create the agent first, then send messages with its agent_id")
		return contracts.ErrorResult(req.TaskID, mode, err), nil
	}
}

// ExecuteTaskLive starts a streaming continuation turn. Creation
// requests are rejected; they have no turn to stream.
func (c *Core) ExecuteTaskLive(ctx context.Context, req *contracts.TaskRequest, execCtx *contracts.ExecutionContext) (*stream.Session, stream.Communicator, error) {
	if classifyRequest(req) != ModeConversationContinuation {
		return nil, nil, contracts.NewError(contracts.CodeRequestValidation, "adapter.execute_live",
			"live execution requires an existing agent_id")
	}

	rtc, coordErr := c.assembleRuntime(ctx, req, execCtx)
	if coordErr != nil {
		return nil, nil, coordErr
	}

	sess, comm := c.domain.ExecuteLive(ctx, &AgentRequest{TaskRequest: req, Runtime: rtc})
	c.markActivity(rtc)
	return sess, comm, nil
}

// classifyRequest decides the request mode from the shape of the task.
func classifyRequest(req *contracts.TaskRequest) string {
	switch {
	case req.AgentConfig != nil && len(req.Messages) > 0:
		return ModeAgentCreationWithMessages
	case req.AgentConfig != nil && req.AgentID == "":
		return ModeAgentCreation
	default:
		return ModeConversationContinuation
	}
}

// createAgent builds or reuses the agent for a config fingerprint and
// opens a fresh runtime session in its runner.
func (c *Core) createAgent(ctx context.Context, req *contracts.TaskRequest) *contracts.TaskResult {
	cfg := req.AgentConfig

	runnerID, sessionID, err := c.runners.GetOrCreateRunner(ctx, cfg, req, GetOrCreateOptions{
		AllowReuse:    true,
		CreateSession: true,
	})
	if err != nil {
		return contracts.ErrorResult(req.TaskID, ModeAgentCreation, contracts.AsError(err, "adapter.create_agent"))
	}

	hash := cfg.Fingerprint()
	reused := false
	record, ok := c.agents.ByConfigHash(hash)
	if ok && record.RunnerID == runnerID {
		reused = true
		c.agents.MarkActivity(record.AgentID)
	} else {
		record = c.agents.CreateAgent(cfg, hash, runnerID)
		c.runners.BindAgent(record.AgentID, runnerID)
	}

	result := contracts.SuccessResult(req.TaskID)
	result.AgentID = record.AgentID
	result.SessionID = sessionID
	result.Metadata["request_mode"] = ModeAgentCreation
	result.Metadata["agent_reused"] = reused

	slog.Info("Agent creation handled",
		"task_id", req.TaskID, "agent_id", record.AgentID, "runner_id", runnerID, "reused", reused)
	return result
}

// continueConversation runs one synchronous turn.
func (c *Core) continueConversation(ctx context.Context, req *contracts.TaskRequest) *contracts.TaskResult {
	rtc, err := c.assembleRuntime(ctx, req, req.ExecutionContext)
	if err != nil {
		return contracts.ErrorResult(req.TaskID, ModeConversationContinuation, contracts.AsError(err, "adapter.coordinate"))
	}

	result, execErr := c.domain.Execute(ctx, &AgentRequest{TaskRequest: req, Runtime: rtc})
	if execErr != nil {
		return contracts.ErrorResult(req.TaskID, ModeConversationContinuation, contracts.AsError(execErr, "runner.execution"))
	}

	c.markActivity(rtc)

	result.WithMeta("request_mode", ModeConversationContinuation)
	if switched, ok := rtc.Metadata["agent_switched"].(bool); ok && switched {
		result.WithMeta("agent_switched", true)
		result.WithMeta("previous_agent_id", rtc.Metadata["previous_agent_id"])
	}
	return result
}

// assembleRuntime coordinates the chat session and builds the runtime
// context for a continuation turn. A cleared session triggers recovery
// with exactly one coordinate retry.
func (c *Core) assembleRuntime(ctx context.Context, req *contracts.TaskRequest, execCtx *contracts.ExecutionContext) (*RuntimeContext, error) {
	if req.AgentID == "" {
		return nil, contracts.NewError(contracts.CodeRequestValidation, "adapter.continuation",
			"agent_id is required for conversation continuation")
	}
	record, ok := c.agents.Get(req.AgentID)
	if !ok {
		return nil, contracts.NewError(contracts.CodeRequestValidation, "adapter.continuation",
			"unknown agent_id %q", req.AgentID).WithDetail("agent_id", req.AgentID)
	}

	chatSessionID := chatSessionID(req)
	userID := req.UserID()
	if userID == "" {
		userID = c.settings.Runner.withDefaults().DefaultUserID
	}

	coordRes, err := c.coordinator.Coordinate(ctx, chatSessionID, record.AgentID, userID, req)
	if err != nil {
		var cleared *SessionClearedError
		if !errors.As(err, &cleared) {
			return nil, err
		}
		coordRes, err = c.recoverAndRetry(ctx, chatSessionID, record.AgentID, userID, req, cleared)
		if err != nil {
			return nil, err
		}
	}

	runnerID, ok := c.runners.RunnerBySession(coordRes.RunnerSessionID)
	if !ok {
		return nil, contracts.NewError(contracts.CodeRunnerExecution, "adapter.coordinate",
			"runtime session %q has no runner", coordRes.RunnerSessionID)
	}
	rc, _ := c.runners.GetRunner(runnerID)

	rtc := &RuntimeContext{
		SessionID:     coordRes.RunnerSessionID,
		UserID:        userID,
		FrameworkType: c.FrameworkType(),
		AgentID:       record.AgentID,
		AgentConfig:   record.Config,
		RunnerID:      runnerID,
		RunnerContext: rc,
		ToolService:   c.tools,
		Metadata:      map[string]any{},
	}
	if execCtx != nil {
		rtc.ExecutionID = execCtx.ExecutionID
		rtc.TraceID = execCtx.TraceID
	}
	if coordRes.SwitchOccurred {
		rtc.Metadata["agent_switched"] = true
		rtc.Metadata["previous_agent_id"] = coordRes.PreviousAgentID
	}
	if coordRes.Recovered {
		rtc.Metadata["session_recovered"] = true
	}
	return rtc, nil
}

// recoverAndRetry loads the recovery record for a cleared chat session
// and re-coordinates once. A missing record is terminal.
func (c *Core) recoverAndRetry(ctx context.Context, chatID, agentID, userID string, req *contracts.TaskRequest, cleared *SessionClearedError) (*CoordinationResult, error) {
	if _, err := c.coordinator.RecoverChatSession(ctx, chatID); err != nil {
		if errors.Is(err, ErrRecoveryNotFound) {
			return nil, contracts.NewError(contracts.CodeSessionRecoveryFailed, "adapter.recover",
				"chat session %q was cleared and has no recovery record", chatID).
				WithDetail("reason", "missing_recovery_record").
				WithDetail("cleared_at", cleared.ClearedAt)
		}
		return nil, contracts.NewError(contracts.CodeSessionRecoveryFailed, "adapter.recover",
			"recovery load failed: %v", err)
	}

	res, err := c.coordinator.Coordinate(ctx, chatID, agentID, userID, req)
	if err != nil {
		return nil, contracts.AsError(err, "adapter.recover")
	}
	return res, nil
}

func (c *Core) markActivity(rtc *RuntimeContext) {
	c.agents.MarkActivity(rtc.AgentID)
	c.runners.MarkRunnerActivity(rtc.RunnerID)
}

// chatSessionID resolves the business session id for a request, falling
// back to a task-scoped id so a bare request still gets a conversation.
func chatSessionID(req *contracts.TaskRequest) string {
	if req.SessionID != "" {
		return req.SessionID
	}
	if req.SessionContext != nil && req.SessionContext.SessionID != "" {
		return req.SessionContext.SessionID
	}
	return fmt.Sprintf("chat_%s", req.TaskID)
}
