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

package contracts

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     *TaskRequest
		wantErr bool
	}{
		{
			name:    "valid",
			req:     &TaskRequest{TaskID: "t1", TaskType: "chat", Description: "hi"},
			wantErr: false,
		},
		{
			name:    "missing task_id",
			req:     &TaskRequest{TaskType: "chat", Description: "hi"},
			wantErr: true,
		},
		{
			name:    "missing task_type",
			req:     &TaskRequest{TaskID: "t1", Description: "hi"},
			wantErr: true,
		},
		{
			name:    "missing description",
			req:     &TaskRequest{TaskID: "t1", TaskType: "chat"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestTaskRequest_UserIDFallback(t *testing.T) {
	tests := []struct {
		name string
		ctx  *UserContext
		want string
	}{
		{"explicit id", &UserContext{UserID: "u1", UserName: "bob"}, "u1"},
		{"user name", &UserContext{UserName: "bob"}, "user_bob"},
		{"session token", &UserContext{SessionToken: "abcdef1234"}, "token_abcdef12"},
		{"short token ignored", &UserContext{SessionToken: "abc"}, ""},
		{"nothing", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &TaskRequest{UserContext: tt.ctx}
			assert.Equal(t, tt.want, req.UserID())
		})
	}
}

func TestTaskRequest_Timeout(t *testing.T) {
	req := &TaskRequest{ExecutionConfig: map[string]any{"timeout": 30.0}}
	assert.Equal(t, 30*time.Second, req.Timeout())

	req = &TaskRequest{ExecutionConfig: map[string]any{"timeout": "1m30s"}}
	assert.Equal(t, 90*time.Second, req.Timeout())

	req = &TaskRequest{}
	assert.Equal(t, time.Duration(0), req.Timeout())
}

func TestErrorResult_Metadata(t *testing.T) {
	err := NewError(CodeRequestValidation, "assistant.validate_request", "task_id is required")
	res := ErrorResult("t1", "agent_creation", err)

	assert.Equal(t, TaskStatusError, res.Status)
	assert.Equal(t, "agent_creation", res.Metadata["request_mode"])
	assert.Equal(t, "assistant.validate_request", res.Metadata["error_stage"])
	assert.Equal(t, CodeRequestValidation, res.Error.Code)
}

func TestAsError_WrapsUnknown(t *testing.T) {
	plain := errors.New("boom")
	te := AsError(plain, "adapter.execute_task")
	assert.Equal(t, CodeInternalError, te.Code)
	assert.Equal(t, "adapter.execute_task", te.Stage)

	known := NewError(CodeSessionCleared, "adapter.coordinate", "cleared")
	assert.Same(t, known, AsError(known, "other"))
}

func TestMessage_Text(t *testing.T) {
	m := &Message{Role: RoleAssistant, Parts: []*ContentPart{
		{Type: PartText, Text: "hello"},
		{Type: PartFunctionCall, Call: &ToolCall{Name: "ns.t"}},
		{Type: PartText, Text: "world"},
	}}
	assert.Equal(t, "hello\nworld", m.Text())

	m = &Message{Role: RoleUser, Content: "plain"}
	assert.Equal(t, "plain", m.Text())
}

func TestNormalizeResultData(t *testing.T) {
	assert.Nil(t, NormalizeResultData(nil))
	assert.Equal(t, "x", NormalizeResultData("x"))
	assert.Equal(t, map[string]any{"k": "v"}, NormalizeResultData(map[string]any{"k": "v"}))
	assert.Equal(t, map[string]any{"value": 42}, NormalizeResultData(42))
	assert.Equal(t, "boom", NormalizeResultData(errors.New("boom")))
}

func TestToolRequest_QualifiedName(t *testing.T) {
	r := &ToolRequest{ToolName: "search", ToolNamespace: "web"}
	assert.Equal(t, "web.search", r.QualifiedName())

	r = &ToolRequest{ToolName: "web.search", ToolNamespace: "web"}
	assert.Equal(t, "web.search", r.QualifiedName())

	r = &ToolRequest{ToolName: "search"}
	assert.Equal(t, "search", r.QualifiedName())
}
