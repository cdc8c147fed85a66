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

package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aetherframe/aether/pkg/adapter"
	"github.com/aetherframe/aether/pkg/assistant"
	"github.com/aetherframe/aether/pkg/config"
	"github.com/aetherframe/aether/pkg/contracts"
	"github.com/aetherframe/aether/pkg/engine"
	"github.com/aetherframe/aether/pkg/framework"
	"github.com/aetherframe/aether/pkg/model"
	"github.com/aetherframe/aether/pkg/router"
	"github.com/aetherframe/aether/pkg/tool"
	"github.com/aetherframe/aether/pkg/tool/builtin"
)

// guardedTool requires human approval before running.
type guardedTool struct {
	calls int
}

func (g *guardedTool) Definition() *contracts.UniversalTool {
	return &contracts.UniversalTool{
		Name:        "guarded.wipe",
		Namespace:   "guarded",
		Description: "Wipes the target. Destructive.",
	}
}

func (g *guardedTool) Execute(ctx context.Context, req *contracts.ToolRequest) (*contracts.ToolResult, error) {
	g.calls++
	return &contracts.ToolResult{
		ToolName:   "guarded.wipe",
		Status:     contracts.ToolStatusSuccess,
		ResultData: "wiped",
	}, nil
}

func (g *guardedTool) RequiresApproval() bool { return true }

type serverFixture struct {
	ts      *httptest.Server
	guarded *guardedTool
}

func newServerFixture(t *testing.T, factory model.Factory) *serverFixture {
	t.Helper()

	tools := tool.NewService()
	for _, bt := range builtin.All() {
		require.NoError(t, tools.RegisterTool(bt))
	}
	guarded := &guardedTool{}
	require.NoError(t, tools.RegisterTool(guarded))

	core := adapter.NewCore(adapter.Settings{}, factory, tools, nil)
	reg := framework.NewRegistry()
	require.NoError(t, reg.RegisterAdapter(contracts.FrameworkAether, core, nil))

	a := assistant.New(engine.New(router.New(contracts.FrameworkAether), reg))
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	srv := New(config.Default().Server, a, nil)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	return &serverFixture{ts: ts, guarded: guarded}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeResult(t *testing.T, resp *http.Response) *contracts.TaskResult {
	t.Helper()
	defer resp.Body.Close()
	var result contracts.TaskResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return &result
}

func createAgentHTTP(t *testing.T, f *serverFixture, taskID string) *contracts.TaskResult {
	t.Helper()
	resp := postJSON(t, f.ts.URL+"/v1/tasks", &contracts.TaskRequest{
		TaskID: taskID, TaskType: "chat", Description: "create agent",
		AgentConfig: &contracts.AgentConfig{
			AgentType:    "chat",
			Name:         "helper",
			SystemPrompt: "Be brief",
			ModelConfig:  map[string]any{"model": "scripted"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decodeResult(t, resp)
	require.Equal(t, contracts.TaskStatusSuccess, result.Status)
	require.NotEmpty(t, result.AgentID)
	return result
}

func chatRequest(taskID, agentID, chatID, text string) *contracts.TaskRequest {
	return &contracts.TaskRequest{
		TaskID: taskID, TaskType: "chat", Description: text,
		AgentID:     agentID,
		SessionID:   chatID,
		Messages:    []*contracts.Message{contracts.NewUserMessage(text)},
		UserContext: &contracts.UserContext{UserID: "u1"},
	}
}

func TestServer_Healthz(t *testing.T) {
	f := newServerFixture(t, model.ScriptedFactory)

	resp, err := http.Get(f.ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health assistant.Health
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.NotEmpty(t, health.Version)
}

func TestServer_SyncTaskRoundtrip(t *testing.T) {
	f := newServerFixture(t, model.ScriptedFactory)

	created := createAgentHTTP(t, f, "t1")

	resp := postJSON(t, f.ts.URL+"/v1/tasks", chatRequest("t2", created.AgentID, "chat-1", "hello"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decodeResult(t, resp)
	require.Equal(t, contracts.TaskStatusSuccess, result.Status)
	assert.Equal(t, "[Be brief] hello", result.FirstAssistantText())
}

func TestServer_TaskDefaults(t *testing.T) {
	f := newServerFixture(t, model.ScriptedFactory)
	created := createAgentHTTP(t, f, "t1")

	// No task id, no task type, no description: the server fills them in.
	body := map[string]any{
		"agent_id":   created.AgentID,
		"session_id": "chat-1",
		"messages":   []map[string]any{{"role": "user", "content": "hi there"}},
	}
	resp := postJSON(t, f.ts.URL+"/v1/tasks", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decodeResult(t, resp)
	require.Equal(t, contracts.TaskStatusSuccess, result.Status)
	assert.True(t, strings.HasPrefix(result.TaskID, "task_"))
}

func TestServer_MalformedBody(t *testing.T) {
	f := newServerFixture(t, model.ScriptedFactory)

	resp, err := http.Post(f.ts.URL+"/v1/tasks", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_ErrorEnvelopePassesThrough(t *testing.T) {
	f := newServerFixture(t, model.ScriptedFactory)

	// Valid request shape, but nothing to act on: the assistant answers
	// with an error envelope, not an HTTP failure.
	resp := postJSON(t, f.ts.URL+"/v1/tasks", &contracts.TaskRequest{
		TaskID: "t1", TaskType: "chat", Description: "nothing to act on",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decodeResult(t, resp)
	require.Equal(t, contracts.TaskStatusError, result.Status)
	assert.Equal(t, contracts.CodeContextMissing, result.Error.Code)
}

func TestServer_InteractionUnknownTask(t *testing.T) {
	f := newServerFixture(t, model.ScriptedFactory)

	resp := postJSON(t, f.ts.URL+"/v1/tasks/nope/interactions", &contracts.InteractionResponse{
		InteractionID: "i1", Approved: true,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_LiveStreamWithApproval(t *testing.T) {
	factory := func(modelConfig map[string]any) (model.Model, error) {
		return model.NewScripted("m", model.Step{
			Plan:     []string{"I need the wipe tool"},
			ToolCall: &contracts.ToolCall{Name: "guarded.wipe", Arguments: map[string]any{"target": "tmp"}},
		}), nil
	}
	f := newServerFixture(t, factory)

	created := createAgentHTTP(t, f, "t1")

	reqBody, err := json.Marshal(chatRequest("t2", created.AgentID, "chat-live", "wipe tmp"))
	require.NoError(t, err)
	resp, err := http.Post(f.ts.URL+"/v1/tasks/live", "application/json", bytes.NewReader(reqBody))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var chunks []*contracts.TaskStreamChunk
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var chunk contracts.TaskStreamChunk
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk))
		chunks = append(chunks, &chunk)

		if chunk.ChunkType == contracts.ChunkToolApprovalRequest {
			// Approve through the back-channel while the stream is open.
			approveResp := postJSON(t, fmt.Sprintf("%s/v1/tasks/t2/interactions", f.ts.URL),
				&contracts.InteractionResponse{InteractionID: chunk.InteractionID, Approved: true})
			approveResp.Body.Close()
			require.Equal(t, http.StatusAccepted, approveResp.StatusCode)
		}
		if chunk.IsFinal {
			break
		}
	}
	require.NoError(t, scanner.Err())

	assert.Equal(t, 1, f.guarded.calls, "approved tool must run exactly once")

	var sawApproval, sawToolResult bool
	for _, chunk := range chunks {
		switch chunk.ChunkType {
		case contracts.ChunkToolApprovalRequest:
			sawApproval = true
		case contracts.ChunkToolCallRequest:
			if chunk.ChunkKind == contracts.KindToolResult {
				sawToolResult = true
			}
		}
	}
	assert.True(t, sawApproval)
	assert.True(t, sawToolResult)
	require.NotEmpty(t, chunks)
	assert.True(t, chunks[len(chunks)-1].IsFinal)
}

func TestServer_LiveRejectsCreation(t *testing.T) {
	f := newServerFixture(t, model.ScriptedFactory)

	resp := postJSON(t, f.ts.URL+"/v1/tasks/live", &contracts.TaskRequest{
		TaskID: "t1", TaskType: "chat", Description: "create agent",
		AgentConfig: &contracts.AgentConfig{
			AgentType:    "chat",
			Name:         "helper",
			SystemPrompt: "Be brief",
			ModelConfig:  map[string]any{"model": "scripted"},
		},
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_UserMessageRequiresText(t *testing.T) {
	f := newServerFixture(t, model.ScriptedFactory)

	resp := postJSON(t, f.ts.URL+"/v1/tasks/nope/messages", map[string]string{"text": "hi"})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
