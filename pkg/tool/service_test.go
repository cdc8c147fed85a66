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

package tool

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aetherframe/aether/pkg/contracts"
)

type fakeTool struct {
	def     *contracts.UniversalTool
	execute func(ctx context.Context, req *contracts.ToolRequest) (*contracts.ToolResult, error)
	closed  int
}

func (f *fakeTool) Definition() *contracts.UniversalTool { return f.def }

func (f *fakeTool) Execute(ctx context.Context, req *contracts.ToolRequest) (*contracts.ToolResult, error) {
	if f.execute != nil {
		return f.execute(ctx, req)
	}
	return &contracts.ToolResult{Status: contracts.ToolStatusSuccess, ResultData: "ok"}, nil
}

func (f *fakeTool) Close() error {
	f.closed++
	return nil
}

type fakeStreamingTool struct {
	fakeTool
	chunks []*Chunk
	err    error
}

func (f *fakeStreamingTool) ExecuteStream(ctx context.Context, req *contracts.ToolRequest) iter.Seq2[*Chunk, error] {
	return func(yield func(*Chunk, error) bool) {
		for _, c := range f.chunks {
			if !yield(c, nil) {
				return
			}
		}
		if f.err != nil {
			yield(nil, f.err)
		}
	}
}

func namedTool(name string) *fakeTool {
	return &fakeTool{def: &contracts.UniversalTool{Name: name}}
}

func TestService_RegisterAndList(t *testing.T) {
	s := NewService()
	require.NoError(t, s.RegisterTool(namedTool("web.search")))
	require.NoError(t, s.RegisterTool(namedTool("builtin.echo")))

	defs := s.ListTools()
	require.Len(t, defs, 2)
	assert.Equal(t, "builtin.echo", defs[0].Name)
	assert.Equal(t, "web.search", defs[1].Name)

	err := s.RegisterTool(&fakeTool{def: &contracts.UniversalTool{}})
	assert.Error(t, err)
}

func TestService_RegisterQualifiesBareName(t *testing.T) {
	s := NewService()
	require.NoError(t, s.RegisterTool(&fakeTool{def: &contracts.UniversalTool{
		Name:      "search",
		Namespace: "web",
	}}))

	_, ok := s.GetTool("web.search")
	assert.True(t, ok)
}

func TestService_ExecuteResolution(t *testing.T) {
	s := NewService()
	require.NoError(t, s.RegisterTool(namedTool("web.search")))
	require.NoError(t, s.RegisterTool(namedTool("zeta.search")))

	tests := []struct {
		name string
		req  *contracts.ToolRequest
		want contracts.ToolStatus
	}{
		{"exact", &contracts.ToolRequest{ToolName: "web.search"}, contracts.ToolStatusSuccess},
		{"namespaced", &contracts.ToolRequest{ToolName: "search", ToolNamespace: "web"}, contracts.ToolStatusSuccess},
		{"bare picks first sorted", &contracts.ToolRequest{ToolName: "search"}, contracts.ToolStatusSuccess},
		{"unknown", &contracts.ToolRequest{ToolName: "nope"}, contracts.ToolStatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.Execute(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Status)
		})
	}

	res, err := s.Execute(context.Background(), &contracts.ToolRequest{ToolName: "search"})
	require.NoError(t, err)
	assert.Equal(t, "web.search", res.ToolName)
}

func TestService_ExecuteNotFoundMetadata(t *testing.T) {
	s := NewService()
	res, err := s.Execute(context.Background(), &contracts.ToolRequest{ToolName: "ghost"})
	require.NoError(t, err)
	assert.Equal(t, contracts.ToolStatusNotFound, res.Status)
	assert.Equal(t, contracts.CodeToolNotDeclared, res.Metadata["error_code"])
}

func TestService_ExecuteUnauthorized(t *testing.T) {
	s := NewService()
	require.NoError(t, s.RegisterTool(&fakeTool{def: &contracts.UniversalTool{
		Name:                "admin.wipe",
		RequiredPermissions: []string{"admin"},
	}}))

	res, err := s.Execute(context.Background(), &contracts.ToolRequest{
		ToolName:    "admin.wipe",
		UserContext: &contracts.UserContext{Permissions: []string{"web"}},
	})
	require.NoError(t, err)
	assert.Equal(t, contracts.ToolStatusUnauthorized, res.Status)
	assert.Equal(t, contracts.CodeToolUnauthorized, res.Metadata["error_code"])

	res, err = s.Execute(context.Background(), &contracts.ToolRequest{
		ToolName:    "admin.wipe",
		UserContext: &contracts.UserContext{Permissions: []string{"admin"}},
	})
	require.NoError(t, err)
	assert.Equal(t, contracts.ToolStatusSuccess, res.Status)
}

func TestService_ExecuteInvalidParameters(t *testing.T) {
	s := NewService()
	require.NoError(t, s.RegisterTool(&fakeTool{def: &contracts.UniversalTool{
		Name: "web.search",
		ParametersSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
			},
			"required": []any{"query"},
		},
	}}))

	res, err := s.Execute(context.Background(), &contracts.ToolRequest{
		ToolName:   "web.search",
		Parameters: map[string]any{"wrong": true},
	})
	require.NoError(t, err)
	assert.Equal(t, contracts.ToolStatusError, res.Status)
	assert.Equal(t, contracts.CodeToolInvalidParameters, res.Metadata["error_code"])

	res, err = s.Execute(context.Background(), &contracts.ToolRequest{
		ToolName:   "web.search",
		Parameters: map[string]any{"query": "go"},
	})
	require.NoError(t, err)
	assert.Equal(t, contracts.ToolStatusSuccess, res.Status)
}

func TestService_ExecuteTimeout(t *testing.T) {
	s := NewService()
	slow := &fakeTool{
		def: &contracts.UniversalTool{Name: "slow.sleep"},
		execute: func(ctx context.Context, req *contracts.ToolRequest) (*contracts.ToolResult, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
				return &contracts.ToolResult{Status: contracts.ToolStatusSuccess}, nil
			}
		},
	}
	require.NoError(t, s.RegisterTool(slow))

	res, err := s.Execute(context.Background(), &contracts.ToolRequest{
		ToolName: "slow.sleep",
		Timeout:  10 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, contracts.ToolStatusTimeout, res.Status)
	assert.Equal(t, contracts.CodeToolTimeout, res.Metadata["error_code"])
}

func TestService_ExecuteNormalizesResult(t *testing.T) {
	s := NewService()
	require.NoError(t, s.RegisterTool(&fakeTool{
		def: &contracts.UniversalTool{Name: "num.answer"},
		execute: func(context.Context, *contracts.ToolRequest) (*contracts.ToolResult, error) {
			return &contracts.ToolResult{Status: contracts.ToolStatusSuccess, ResultData: 42}, nil
		},
	}))

	res, err := s.Execute(context.Background(), &contracts.ToolRequest{ToolName: "num.answer"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"value": 42}, res.ResultData)
	assert.Greater(t, res.ExecutionTime, time.Duration(0))
}

func TestService_ExecuteStream_Native(t *testing.T) {
	s := NewService()
	st := &fakeStreamingTool{
		fakeTool: fakeTool{def: &contracts.UniversalTool{Name: "live.tail", SupportsStreaming: true}},
		chunks: []*Chunk{
			{Content: "a"},
			{Content: "b", Final: true},
		},
	}
	require.NoError(t, s.RegisterTool(st))

	var got []*Chunk
	for chunk, err := range s.ExecuteStream(context.Background(), &contracts.ToolRequest{ToolName: "live.tail"}) {
		require.NoError(t, err)
		got = append(got, chunk)
	}

	require.Len(t, got, 2)
	assert.Equal(t, contracts.ToolStatusSuccess, got[0].Status)
	assert.False(t, got[0].Final)
	assert.True(t, got[1].Final)
}

func TestService_ExecuteStream_ErrorBecomesFinalChunk(t *testing.T) {
	s := NewService()
	st := &fakeStreamingTool{
		fakeTool: fakeTool{def: &contracts.UniversalTool{Name: "live.tail"}},
		err:      fmt.Errorf("connection lost"),
	}
	require.NoError(t, s.RegisterTool(st))

	var got []*Chunk
	for chunk, err := range s.ExecuteStream(context.Background(), &contracts.ToolRequest{ToolName: "live.tail"}) {
		require.NoError(t, err)
		got = append(got, chunk)
	}

	require.Len(t, got, 1)
	assert.True(t, got[0].Final)
	assert.Equal(t, contracts.ToolStatusError, got[0].Status)
	assert.Contains(t, got[0].ErrorMessage, "connection lost")
}

func TestService_ExecuteStream_FallbackToSync(t *testing.T) {
	s := NewService()
	require.NoError(t, s.RegisterTool(namedTool("web.search")))

	var got []*Chunk
	for chunk, err := range s.ExecuteStream(context.Background(), &contracts.ToolRequest{ToolName: "web.search"}) {
		require.NoError(t, err)
		got = append(got, chunk)
	}

	require.Len(t, got, 1)
	assert.True(t, got[0].Final)
	assert.Equal(t, contracts.ToolStatusSuccess, got[0].Status)
	assert.Equal(t, true, got[0].Metadata["fallback_to_sync"])
}

func TestService_ExecuteStream_Unauthorized(t *testing.T) {
	s := NewService()
	require.NoError(t, s.RegisterTool(&fakeTool{def: &contracts.UniversalTool{
		Name:                "admin.wipe",
		RequiredPermissions: []string{"admin"},
	}}))

	var got []*Chunk
	for chunk, err := range s.ExecuteStream(context.Background(), &contracts.ToolRequest{
		ToolName:    "admin.wipe",
		UserContext: &contracts.UserContext{Permissions: []string{"web"}},
	}) {
		require.NoError(t, err)
		got = append(got, chunk)
	}

	require.Len(t, got, 1)
	assert.True(t, got[0].Final)
	assert.Equal(t, contracts.ToolStatusUnauthorized, got[0].Status)
	assert.Equal(t, contracts.CodeToolUnauthorized, got[0].Metadata["error_code"])
}

func TestService_ExecuteStream_NotFound(t *testing.T) {
	s := NewService()

	var got []*Chunk
	for chunk, err := range s.ExecuteStream(context.Background(), &contracts.ToolRequest{ToolName: "ghost"}) {
		require.NoError(t, err)
		got = append(got, chunk)
	}

	require.Len(t, got, 1)
	assert.True(t, got[0].Final)
	assert.Equal(t, contracts.ToolStatusNotFound, got[0].Status)
}

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (c *callLog) RecordToolCall(toolName, status string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, toolName+":"+status)
}

func (c *callLog) recorded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func TestService_ExecuteRecordsOutcomes(t *testing.T) {
	s := NewService()
	rec := &callLog{}
	s.SetRecorder(rec)
	require.NoError(t, s.RegisterTool(namedTool("web.search")))

	_, err := s.Execute(context.Background(), &contracts.ToolRequest{ToolName: "web.search"})
	require.NoError(t, err)
	_, err = s.Execute(context.Background(), &contracts.ToolRequest{ToolName: "ghost"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"web.search:success",
		"ghost:not_found",
	}, rec.recorded())
}

func TestService_ExecuteStreamRecordsFinalStatus(t *testing.T) {
	s := NewService()
	rec := &callLog{}
	s.SetRecorder(rec)
	st := &fakeStreamingTool{
		fakeTool: fakeTool{def: &contracts.UniversalTool{Name: "live.tail", SupportsStreaming: true}},
		chunks: []*Chunk{
			{Content: "a"},
			{Content: "b", Final: true},
		},
	}
	require.NoError(t, s.RegisterTool(st))

	for _, err := range s.ExecuteStream(context.Background(), &contracts.ToolRequest{ToolName: "live.tail"}) {
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"live.tail:success"}, rec.recorded())
}

type fakeToolset struct {
	name  string
	tools []Tool
	err   error
	close int
}

func (f *fakeToolset) Name() string { return f.name }

func (f *fakeToolset) Tools(context.Context) ([]Tool, error) { return f.tools, f.err }

func (f *fakeToolset) Close() error {
	f.close++
	return nil
}

func TestService_InitializeSkipsFailedToolset(t *testing.T) {
	s := NewService()
	good := &fakeToolset{name: "good", tools: []Tool{namedTool("good.one")}}
	bad := &fakeToolset{name: "bad", err: fmt.Errorf("unreachable")}
	s.AddToolset(bad)
	s.AddToolset(good)

	require.NoError(t, s.Initialize(context.Background()))
	assert.Len(t, s.ListTools(), 1)
}

func TestService_ShutdownClosesEverything(t *testing.T) {
	s := NewService()
	closable := namedTool("a.one")
	ts := &fakeToolset{name: "remote"}
	require.NoError(t, s.RegisterTool(closable))
	s.AddToolset(ts)

	require.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, 1, closable.closed)
	assert.Equal(t, 1, ts.close)
	assert.Empty(t, s.ListTools())
}
