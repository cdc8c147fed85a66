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

import "time"

// UserContext identifies the caller and its grants. Permissions use the
// tool grant grammar: full name ("ns.tool"), namespace ("ns") or wildcard
// ("ns.*").
type UserContext struct {
	UserID       string         `json:"user_id,omitempty"`
	UserName     string         `json:"user_name,omitempty"`
	SessionToken string         `json:"session_token,omitempty"`
	Permissions  []string       `json:"permissions,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// SessionContext carries caller-side conversation hints. It travels with
// the request from the public surface to the engine; the adapter maps it
// onto runtime sessions.
type SessionContext struct {
	SessionID      string         `json:"session_id,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ExecutionContext is assembled by the engine for a single execution.
// Flow is strictly public surface -> engine -> adapter; adapters never
// write back into it.
type ExecutionContext struct {
	ExecutionID   string         `json:"execution_id"`
	FrameworkType FrameworkType  `json:"framework_type,omitempty"`
	Mode          ExecutionMode  `json:"mode,omitempty"`
	TraceID       string         `json:"trace_id,omitempty"`
	Timeout       time.Duration  `json:"timeout,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// ExecutionStrategy is the router's verdict: which adapter runs the task
// and how.
type ExecutionStrategy struct {
	FrameworkType      FrameworkType   `json:"framework_type"`
	TaskComplexity     TaskComplexity  `json:"task_complexity"`
	ExecutionConfig    map[string]any  `json:"execution_config,omitempty"`
	RuntimeOptions     map[string]any  `json:"runtime_options,omitempty"`
	ExecutionMode      ExecutionMode   `json:"execution_mode"`
	FrameworkScore     float64         `json:"framework_score,omitempty"`
	FallbackFrameworks []FrameworkType `json:"fallback_frameworks,omitempty"`
}
