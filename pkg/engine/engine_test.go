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

package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aetherframe/aether/pkg/contracts"
	"github.com/aetherframe/aether/pkg/framework"
	"github.com/aetherframe/aether/pkg/router"
	"github.com/aetherframe/aether/pkg/stream"
)

type stubAdapter struct {
	ft          contracts.FrameworkType
	live        bool
	initErr     error
	lastReq     *contracts.TaskRequest
	lastStrat   *contracts.ExecutionStrategy
	result      *contracts.TaskResult
	resultErr   error
	liveSession *stream.Session
}

func (a *stubAdapter) FrameworkType() contracts.FrameworkType { return a.ft }

func (a *stubAdapter) ExecuteTask(ctx context.Context, req *contracts.TaskRequest, strategy *contracts.ExecutionStrategy) (*contracts.TaskResult, error) {
	a.lastReq = req
	a.lastStrat = strategy
	if a.resultErr != nil {
		return nil, a.resultErr
	}
	if a.result != nil {
		return a.result, nil
	}
	return contracts.SuccessResult(req.TaskID, contracts.NewAssistantMessage("ok")), nil
}

func (a *stubAdapter) ExecuteTaskLive(ctx context.Context, req *contracts.TaskRequest, execCtx *contracts.ExecutionContext) (*stream.Session, stream.Communicator, error) {
	sess, producer := stream.NewSession(req.TaskID, stream.Options{})
	go producer.Complete(nil)
	a.liveSession = sess
	return sess, sess.Communicator(), nil
}

func (a *stubAdapter) SupportsLiveExecution() bool                                  { return a.live }
func (a *stubAdapter) IsAvailable(ctx context.Context) bool                         { return true }
func (a *stubAdapter) Initialize(ctx context.Context, settings map[string]any) error { return a.initErr }
func (a *stubAdapter) Shutdown(ctx context.Context) error                           { return nil }

func newEngine(t *testing.T, a framework.Adapter) *Engine {
	t.Helper()
	reg := framework.NewRegistry()
	if a != nil {
		require.NoError(t, reg.RegisterAdapter(contracts.FrameworkAether, a, nil))
	}
	return New(router.New(contracts.FrameworkAether), reg)
}

func taskReq(taskID string) *contracts.TaskRequest {
	return &contracts.TaskRequest{
		TaskID: taskID, TaskType: "chat", Description: "test",
		AgentID:  "agent_1",
		Messages: []*contracts.Message{contracts.NewUserMessage("hi")},
	}
}

func TestExecuteTask_Success(t *testing.T) {
	stub := &stubAdapter{ft: contracts.FrameworkAether}
	e := newEngine(t, stub)

	res, err := e.ExecuteTask(context.Background(), taskReq("t1"))
	require.NoError(t, err)
	require.Equal(t, contracts.TaskStatusSuccess, res.Status)
	assert.Equal(t, "ok", res.FirstAssistantText())
	assert.Equal(t, string(contracts.FrameworkAether), res.Metadata["framework"])
	assert.Equal(t, string(contracts.ComplexitySimple), res.Metadata["task_complexity"])
	assert.Greater(t, res.ExecutionTime.Nanoseconds(), int64(0))

	// The adapter saw the routed strategy.
	require.NotNil(t, stub.lastStrat)
	assert.Equal(t, contracts.ExecutionModeSync, stub.lastStrat.ExecutionMode)
}

func TestExecuteTask_MissingContext(t *testing.T) {
	e := newEngine(t, &stubAdapter{ft: contracts.FrameworkAether})

	res, err := e.ExecuteTask(context.Background(), &contracts.TaskRequest{
		TaskID: "t1", TaskType: "chat", Description: "no context",
	})
	require.NoError(t, err)
	require.Equal(t, contracts.TaskStatusError, res.Status)
	assert.Equal(t, contracts.CodeContextMissing, res.Error.Code)
	assert.Equal(t, "engine.validate_context", res.Metadata["error_stage"])
}

func TestExecuteTask_UnregisteredFramework(t *testing.T) {
	e := newEngine(t, nil)

	res, err := e.ExecuteTask(context.Background(), taskReq("t1"))
	require.NoError(t, err)
	require.Equal(t, contracts.TaskStatusError, res.Status)
	assert.Equal(t, contracts.CodeFrameworkUnavailable, res.Error.Code)
	assert.Equal(t, "engine.get_adapter", res.Error.Stage)
	assert.Equal(t, string(contracts.FrameworkAether), res.Error.Details["framework"])
}

func TestExecuteTask_AdapterInitFailure(t *testing.T) {
	e := newEngine(t, &stubAdapter{ft: contracts.FrameworkAether, initErr: errors.New("boom")})

	res, err := e.ExecuteTask(context.Background(), taskReq("t1"))
	require.NoError(t, err)
	require.Equal(t, contracts.TaskStatusError, res.Status)
	assert.Equal(t, contracts.CodeFrameworkUnavailable, res.Error.Code)
}

func TestExecuteTask_TransportError(t *testing.T) {
	e := newEngine(t, &stubAdapter{ft: contracts.FrameworkAether, resultErr: errors.New("pipe broke")})

	res, err := e.ExecuteTask(context.Background(), taskReq("t1"))
	require.NoError(t, err)
	require.Equal(t, contracts.TaskStatusError, res.Status)
	assert.Equal(t, contracts.CodeInternalError, res.Error.Code)
	assert.Contains(t, res.Error.Message, "pipe broke")
}

func TestExecuteTask_FrameworkOverride(t *testing.T) {
	stub := &stubAdapter{ft: contracts.FrameworkAether}
	e := newEngine(t, stub)

	req := taskReq("t1")
	req.ExecutionContext = &contracts.ExecutionContext{FrameworkType: "unknown-rt"}

	res, err := e.ExecuteTask(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, contracts.TaskStatusError, res.Status)
	assert.Equal(t, contracts.CodeFrameworkUnavailable, res.Error.Code)
}

// blockingAdapter holds the dispatch until the context expires.
type blockingAdapter struct {
	stubAdapter
}

func (a *blockingAdapter) ExecuteTask(ctx context.Context, req *contracts.TaskRequest, strategy *contracts.ExecutionStrategy) (*contracts.TaskResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestExecuteTask_CallerTimeout(t *testing.T) {
	e := newEngine(t, &blockingAdapter{stubAdapter{ft: contracts.FrameworkAether}})

	req := taskReq("t1")
	req.ExecutionConfig = map[string]any{"timeout": "20ms"}

	res, err := e.ExecuteTask(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, contracts.TaskStatusTimeout, res.Status)
	require.NotNil(t, res.Error)
	assert.Equal(t, contracts.CodeTaskTimeout, res.Error.Code)
	assert.Greater(t, res.ExecutionTime.Nanoseconds(), int64(0))
}

func TestExecuteTask_TimeoutNotTriggeredWhenFast(t *testing.T) {
	e := newEngine(t, &stubAdapter{ft: contracts.FrameworkAether})

	req := taskReq("t1")
	req.ExecutionConfig = map[string]any{"timeout": "5s"}

	res, err := e.ExecuteTask(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, contracts.TaskStatusSuccess, res.Status)
}

type captureRecorder struct {
	mu    sync.Mutex
	calls []recordedTask
}

type recordedTask struct {
	framework string
	mode      string
	status    string
	duration  time.Duration
}

func (c *captureRecorder) RecordTask(framework, requestMode, status string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, recordedTask{framework, requestMode, status, duration})
}

func (c *captureRecorder) recorded() []recordedTask {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]recordedTask(nil), c.calls...)
}

func TestExecuteTask_RecordsOutcome(t *testing.T) {
	rec := &captureRecorder{}
	reg := framework.NewRegistry()
	require.NoError(t, reg.RegisterAdapter(contracts.FrameworkAether, &stubAdapter{ft: contracts.FrameworkAether}, nil))
	e := New(router.New(contracts.FrameworkAether), reg, WithRecorder(rec))

	_, err := e.ExecuteTask(context.Background(), taskReq("t1"))
	require.NoError(t, err)

	calls := rec.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, string(contracts.FrameworkAether), calls[0].framework)
	assert.Equal(t, "conversation_continuation", calls[0].mode)
	assert.Equal(t, string(contracts.TaskStatusSuccess), calls[0].status)
}

func TestExecuteTask_RecordsValidationFailure(t *testing.T) {
	rec := &captureRecorder{}
	reg := framework.NewRegistry()
	e := New(router.New(contracts.FrameworkAether), reg, WithRecorder(rec))

	_, err := e.ExecuteTask(context.Background(), &contracts.TaskRequest{
		TaskID: "t1", TaskType: "chat", Description: "no context",
	})
	require.NoError(t, err)

	calls := rec.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "", calls[0].framework)
	assert.Equal(t, string(contracts.TaskStatusError), calls[0].status)
}

func TestExecuteTaskLive(t *testing.T) {
	stub := &stubAdapter{ft: contracts.FrameworkAether, live: true}
	e := newEngine(t, stub)

	sess, comm, err := e.ExecuteTaskLive(context.Background(), taskReq("t1"), nil)
	require.NoError(t, err)
	require.NotNil(t, comm)

	var finals int
	for chunk := range sess.Chunks() {
		if chunk.IsFinal {
			finals++
		}
	}
	assert.Equal(t, 1, finals)
}

func TestExecuteTaskLive_Unsupported(t *testing.T) {
	e := newEngine(t, &stubAdapter{ft: contracts.FrameworkAether, live: false})

	_, _, err := e.ExecuteTaskLive(context.Background(), taskReq("t1"), nil)
	require.Error(t, err)
	assert.Equal(t, contracts.CodeFrameworkUnavailable, contracts.AsError(err, "").Code)
}

func TestExecuteTaskLive_MissingContext(t *testing.T) {
	e := newEngine(t, &stubAdapter{ft: contracts.FrameworkAether, live: true})

	_, _, err := e.ExecuteTaskLive(context.Background(), &contracts.TaskRequest{
		TaskID: "t1", TaskType: "chat", Description: "x",
	}, nil)
	require.Error(t, err)
	assert.Equal(t, contracts.CodeContextMissing, contracts.AsError(err, "").Code)
}
