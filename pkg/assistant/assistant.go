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

// Package assistant is the public entry surface of the framework. It
// validates requests, shields callers from panics in the layers below,
// and delegates to the execution engine.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	aether "github.com/aetherframe/aether"
	"github.com/aetherframe/aether/pkg/contracts"
	"github.com/aetherframe/aether/pkg/engine"
	"github.com/aetherframe/aether/pkg/stream"
)

// Assistant is the top-level facade callers interact with.
type Assistant struct {
	engine *engine.Engine
}

// New creates an assistant over an execution engine.
func New(e *engine.Engine) *Assistant {
	return &Assistant{engine: e}
}

// ProcessRequest runs one task synchronously. All failures, including
// panics below this layer, are reported through the result envelope; the
// error return is reserved for a nil request.
func (a *Assistant) ProcessRequest(ctx context.Context, req *contracts.TaskRequest) (result *contracts.TaskResult, err error) {
	if req == nil {
		return nil, fmt.Errorf("task request is nil")
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic during request processing",
				"task_id", req.TaskID, "panic", r, "stack", string(debug.Stack()))
			e := contracts.NewError(contracts.CodeInternalError, "assistant.process_request",
				"internal error: %v", r)
			result, err = contracts.ErrorResult(req.TaskID, requestMode(req), e), nil
		}
	}()

	if verr := req.Validate(); verr != nil {
		e := contracts.NewError(contracts.CodeRequestValidation, "assistant.validate_request", "%v", verr)
		return contracts.ErrorResult(req.TaskID, requestMode(req), e), nil
	}

	return a.engine.ExecuteTask(ctx, req)
}

// StartLiveSession starts a streaming execution. The execution context
// defaults to live mode with a task-derived execution id when the
// request does not carry one.
func (a *Assistant) StartLiveSession(ctx context.Context, req *contracts.TaskRequest) (*stream.Session, stream.Communicator, error) {
	if req == nil {
		return nil, nil, fmt.Errorf("task request is nil")
	}
	if verr := req.Validate(); verr != nil {
		return nil, nil, contracts.NewError(contracts.CodeRequestValidation, "assistant.validate_request", "%v", verr)
	}

	execCtx := req.ExecutionContext
	if execCtx == nil {
		execCtx = &contracts.ExecutionContext{}
	}
	if execCtx.ExecutionID == "" {
		execCtx.ExecutionID = fmt.Sprintf("live_%s", req.TaskID)
	}
	if execCtx.Mode == "" {
		execCtx.Mode = contracts.ExecutionModeLive
	}
	req.ExecutionContext = execCtx

	return a.engine.ExecuteTaskLive(ctx, req, execCtx)
}

// Health reports service liveness.
type Health struct {
	Status     string                    `json:"status"`
	Version    string                    `json:"version"`
	Frameworks []contracts.FrameworkType `json:"frameworks"`
}

// HealthCheck reports the assistant's status and the frameworks it can
// dispatch to.
func (a *Assistant) HealthCheck(ctx context.Context) *Health {
	return &Health{
		Status:     "healthy",
		Version:    aether.Version,
		Frameworks: a.engine.AvailableFrameworks(),
	}
}

// Shutdown tears down the engine and its frameworks.
func (a *Assistant) Shutdown(ctx context.Context) error {
	return a.engine.Shutdown(ctx)
}

func requestMode(req *contracts.TaskRequest) string {
	if req.AgentConfig != nil && len(req.Messages) == 0 {
		return "agent_creation"
	}
	return "conversation_continuation"
}
