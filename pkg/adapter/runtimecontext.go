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
	"github.com/aetherframe/aether/pkg/contracts"
	"github.com/aetherframe/aether/pkg/tool"
)

// RuntimeContext is the adapter-internal execution state assembled per
// dispatched turn. It never crosses the adapter boundary outward.
type RuntimeContext struct {
	SessionID string
	UserID    string

	FrameworkType contracts.FrameworkType
	AgentID       string
	AgentConfig   *contracts.AgentConfig

	RunnerID      string
	RunnerContext *RunnerContext

	ToolService *tool.Service

	ExecutionID string
	TraceID     string
	Metadata    map[string]any
}

// missingComponents enumerates what a dispatch needs but lacks.
func (c *RuntimeContext) missingComponents() []string {
	var missing []string
	if c.RunnerContext == nil || c.RunnerContext.Runner == nil {
		missing = append(missing, "runner")
	}
	if c.SessionID == "" {
		missing = append(missing, "session_id")
	}
	return missing
}

// AgentRequest pairs a task request with its assembled runtime state.
type AgentRequest struct {
	TaskRequest *contracts.TaskRequest
	Runtime     *RuntimeContext
}
