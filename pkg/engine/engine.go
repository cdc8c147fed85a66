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

// Package engine is the execution pipeline: validate the request
// context, route it to a framework, dispatch to the adapter, and
// normalize the outcome.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/aetherframe/aether/pkg/contracts"
	"github.com/aetherframe/aether/pkg/framework"
	"github.com/aetherframe/aether/pkg/router"
	"github.com/aetherframe/aether/pkg/stream"
)

// TaskRecorder records task pipeline outcomes.
type TaskRecorder interface {
	RecordTask(framework, requestMode, status string, duration time.Duration)
}

// Engine coordinates task execution across registered frameworks.
type Engine struct {
	router     *router.Router
	frameworks *framework.Registry
	recorder   TaskRecorder
	tracer     trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorder installs a metrics recorder for task outcomes.
func WithRecorder(rec TaskRecorder) Option {
	return func(e *Engine) { e.recorder = rec }
}

// WithTracer traces adapter dispatch with the given tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// New creates an engine over a router and a framework registry.
func New(r *router.Router, frameworks *framework.Registry, opts ...Option) *Engine {
	e := &Engine{
		router:     r,
		frameworks: frameworks,
		tracer:     noop.NewTracerProvider().Tracer("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteTask runs one task through the pipeline. A caller-requested
// timeout in execution_config bounds the dispatch; pipeline failures are
// reported in the result envelope with the stage that produced them; the
// error return is reserved for a nil request.
func (e *Engine) ExecuteTask(ctx context.Context, req *contracts.TaskRequest) (*contracts.TaskResult, error) {
	if req == nil {
		return nil, fmt.Errorf("task request is nil")
	}
	started := time.Now()

	if err := validateContext(req); err != nil {
		return e.observe("", req, contracts.ErrorResult(req.TaskID, requestMode(req), err), started), nil
	}

	strategy := e.router.Route(req)
	ft := string(strategy.FrameworkType)

	adapter, err := e.frameworks.GetAdapter(ctx, strategy.FrameworkType)
	if err != nil {
		ae := contracts.AsError(err, "engine.get_adapter")
		wrapped := contracts.NewError(ae.Code, "engine.get_adapter", "%s", ae.Message).
			WithDetail("framework", ft)
		return e.observe(ft, req, contracts.ErrorResult(req.TaskID, requestMode(req), wrapped), started), nil
	}

	if d := req.Timeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	dispatchCtx, span := e.tracer.Start(ctx, "engine.execute_task", trace.WithAttributes(
		attribute.String("task_id", req.TaskID),
		attribute.String("framework", ft),
	))
	result, err := adapter.ExecuteTask(dispatchCtx, req, strategy)
	span.End()

	deadlined := errors.Is(ctx.Err(), context.DeadlineExceeded)
	if errors.Is(err, context.DeadlineExceeded) ||
		(deadlined && (err != nil || result == nil || result.Status == contracts.TaskStatusError)) {
		return e.observe(ft, req, timeoutResult(req, started), started), nil
	}
	if err != nil {
		return e.observe(ft, req, contracts.ErrorResult(req.TaskID, requestMode(req), contracts.AsError(err, "engine.execute_task")), started), nil
	}

	result.ExecutionTime = time.Since(started)
	result.WithMeta("framework", ft)
	result.WithMeta("task_complexity", string(strategy.TaskComplexity))

	slog.Debug("Task executed",
		"task_id", req.TaskID,
		"framework", strategy.FrameworkType,
		"status", result.Status,
		"duration", result.ExecutionTime)
	return e.observe(ft, req, result, started), nil
}

// observe reports the task outcome to the recorder, if one is installed.
func (e *Engine) observe(framework string, req *contracts.TaskRequest, result *contracts.TaskResult, started time.Time) *contracts.TaskResult {
	if e.recorder != nil {
		e.recorder.RecordTask(framework, requestMode(req), string(result.Status), time.Since(started))
	}
	return result
}

// timeoutResult builds the envelope for a task that outran its
// caller-requested execution timeout.
func timeoutResult(req *contracts.TaskRequest, started time.Time) *contracts.TaskResult {
	err := contracts.NewError(contracts.CodeTaskTimeout, "engine.execute_task",
		"task exceeded its %s execution timeout", req.Timeout())
	result := contracts.ErrorResult(req.TaskID, requestMode(req), err)
	result.Status = contracts.TaskStatusTimeout
	result.ExecutionTime = time.Since(started)
	return result
}

// ExecuteTaskLive starts a streaming execution on a framework that
// supports it.
func (e *Engine) ExecuteTaskLive(ctx context.Context, req *contracts.TaskRequest, execCtx *contracts.ExecutionContext) (*stream.Session, stream.Communicator, error) {
	if req == nil {
		return nil, nil, fmt.Errorf("task request is nil")
	}
	if err := validateContext(req); err != nil {
		return nil, nil, err
	}

	strategy := e.router.Route(req)

	adapter, err := e.frameworks.GetAdapter(ctx, strategy.FrameworkType)
	if err != nil {
		return nil, nil, err
	}
	if !adapter.SupportsLiveExecution() {
		return nil, nil, contracts.NewError(contracts.CodeFrameworkUnavailable, "engine.execute_live",
			"framework %q does not support live execution", strategy.FrameworkType)
	}

	return adapter.ExecuteTaskLive(ctx, req, execCtx)
}

// AvailableFrameworks lists the frameworks the engine can dispatch to.
func (e *Engine) AvailableFrameworks() []contracts.FrameworkType {
	return e.frameworks.AvailableFrameworks()
}

// Shutdown tears down every registered framework adapter.
func (e *Engine) Shutdown(ctx context.Context) error {
	return e.frameworks.ShutdownAll(ctx)
}

// validateContext requires enough context to act on: an agent config to
// create, an agent to continue, or at least a session to resolve.
func validateContext(req *contracts.TaskRequest) *contracts.Error {
	if req.AgentConfig == nil && req.AgentID == "" && req.SessionID == "" {
		return contracts.NewError(contracts.CodeContextMissing, "engine.validate_context",
			"request needs one of agent_config, agent_id, or session_id")
	}
	return nil
}

// requestMode mirrors the adapter's classification for error metadata.
func requestMode(req *contracts.TaskRequest) string {
	if req.AgentConfig != nil && len(req.Messages) == 0 {
		return "agent_creation"
	}
	return "conversation_continuation"
}
