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

// Package contracts defines the framework-neutral value types exchanged
// between callers, the execution engine, and runtime adapters.
//
// Every type here is a plain value: no live references across component
// boundaries, no behavior beyond validation and normalization. Components
// communicate exclusively through these types plus the error taxonomy in
// errors.go.
package contracts

import (
	"fmt"
	"time"
)

// TaskStatus is the terminal status of a task execution.
type TaskStatus string

const (
	TaskStatusSuccess   TaskStatus = "success"
	TaskStatusError     TaskStatus = "error"
	TaskStatusPartial   TaskStatus = "partial"
	TaskStatusTimeout   TaskStatus = "timeout"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// FrameworkType identifies a runtime adapter.
type FrameworkType string

const (
	// FrameworkAether is the built-in agent runtime adapter.
	FrameworkAether FrameworkType = "aether"
)

// ExecutionMode describes how a task should be executed.
type ExecutionMode string

const (
	ExecutionModeSync        ExecutionMode = "sync"
	ExecutionModeAsync       ExecutionMode = "async"
	ExecutionModeStreaming   ExecutionMode = "streaming"
	ExecutionModeBatch       ExecutionMode = "batch"
	ExecutionModeInteractive ExecutionMode = "interactive"
	ExecutionModeLive        ExecutionMode = "live"
)

// TaskComplexity classifies how demanding a task is expected to be.
type TaskComplexity string

const (
	ComplexitySimple   TaskComplexity = "simple"
	ComplexityModerate TaskComplexity = "moderate"
	ComplexityComplex  TaskComplexity = "complex"
	ComplexityAdvanced TaskComplexity = "advanced"
)

// TaskRequest is the single entry value for both agent creation and
// conversation continuation.
//
// Exactly one of AgentConfig (creation) or AgentID (continuation) is
// expected. Messages must be empty for a creation request.
type TaskRequest struct {
	TaskID      string `json:"task_id"`
	TaskType    string `json:"task_type"`
	Description string `json:"description"`

	Messages           []*Message         `json:"messages,omitempty"`
	AvailableTools     []*UniversalTool   `json:"available_tools,omitempty"`
	AvailableKnowledge []*KnowledgeSource `json:"available_knowledge,omitempty"`
	Attachments        []*Attachment      `json:"attachments,omitempty"`

	UserContext      *UserContext      `json:"user_context,omitempty"`
	SessionContext   *SessionContext   `json:"session_context,omitempty"`
	ExecutionContext *ExecutionContext `json:"execution_context,omitempty"`
	ExecutionConfig  map[string]any    `json:"execution_config,omitempty"`

	AgentConfig *AgentConfig `json:"agent_config,omitempty"`
	AgentID     string       `json:"agent_id,omitempty"`

	// SessionID is the caller's business chat-session identifier. The
	// adapter maps it to a runtime session.
	SessionID string `json:"session_id,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// Validate checks the request-level invariants shared by all entry points.
func (r *TaskRequest) Validate() error {
	if r == nil {
		return fmt.Errorf("task request is nil")
	}
	if r.TaskID == "" {
		return fmt.Errorf("task_id is required")
	}
	if r.TaskType == "" {
		return fmt.Errorf("task_type is required")
	}
	if r.Description == "" {
		return fmt.Errorf("description is required")
	}
	return nil
}

// Timeout returns the caller-requested execution timeout, zero if unset.
func (r *TaskRequest) Timeout() time.Duration {
	if r.ExecutionConfig == nil {
		return 0
	}
	switch v := r.ExecutionConfig["timeout"].(type) {
	case time.Duration:
		return v
	case float64:
		return time.Duration(v) * time.Second
	case int:
		return time.Duration(v) * time.Second
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return 0
}

// UserID resolves the effective user id for this request.
//
// Fallback policy, in order: explicit UserContext.UserID, UserContext
// user name, session-token prefix, empty (callers substitute their own
// default, typically "anonymous").
func (r *TaskRequest) UserID() string {
	if r.UserContext == nil {
		return ""
	}
	if r.UserContext.UserID != "" {
		return r.UserContext.UserID
	}
	if r.UserContext.UserName != "" {
		return "user_" + r.UserContext.UserName
	}
	if tok := r.UserContext.SessionToken; len(tok) >= 8 {
		return "token_" + tok[:8]
	}
	return ""
}

// TaskResult is the terminal outcome of a task execution.
type TaskResult struct {
	TaskID string     `json:"task_id"`
	Status TaskStatus `json:"status"`

	Messages    []*Message    `json:"messages,omitempty"`
	ToolResults []*ToolResult `json:"tool_results,omitempty"`

	Error        *Error `json:"error,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	ExecutionTime time.Duration `json:"execution_time,omitempty"`

	SessionID string `json:"session_id,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// SuccessResult builds a success envelope for the given task.
func SuccessResult(taskID string, msgs ...*Message) *TaskResult {
	return &TaskResult{
		TaskID:   taskID,
		Status:   TaskStatusSuccess,
		Messages: msgs,
		Metadata: map[string]any{},
	}
}

// ErrorResult builds an error envelope from a taxonomized error.
// The metadata always carries request_mode and error_stage so callers can
// tell where in the pipeline the failure happened.
func ErrorResult(taskID, requestMode string, err *Error) *TaskResult {
	res := &TaskResult{
		TaskID:       taskID,
		Status:       TaskStatusError,
		Error:        err,
		ErrorMessage: err.Message,
		Metadata: map[string]any{
			"request_mode": requestMode,
			"error_stage":  err.Stage,
		},
	}
	return res
}

// WithMeta adds a metadata entry, allocating the map if needed.
func (r *TaskResult) WithMeta(key string, value any) *TaskResult {
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
	r.Metadata[key] = value
	return r
}

// FirstAssistantText returns the text of the first assistant message, if any.
func (r *TaskResult) FirstAssistantText() string {
	for _, m := range r.Messages {
		if m.Role == RoleAssistant {
			return m.Text()
		}
	}
	return ""
}
