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
	"strings"
	"time"
)

// ToolStatus is the terminal status of a tool execution.
type ToolStatus string

const (
	ToolStatusSuccess      ToolStatus = "success"
	ToolStatusError        ToolStatus = "error"
	ToolStatusTimeout      ToolStatus = "timeout"
	ToolStatusUnauthorized ToolStatus = "unauthorized"
	ToolStatusNotFound     ToolStatus = "not_found"
)

// UniversalTool is the framework-neutral tool descriptor. Name is fully
// qualified ("namespace.local").
type UniversalTool struct {
	Name                string         `json:"name"`
	Description         string         `json:"description,omitempty"`
	ParametersSchema    map[string]any `json:"parameters_schema,omitempty"`
	Namespace           string         `json:"namespace,omitempty"`
	SupportsStreaming   bool           `json:"supports_streaming,omitempty"`
	RequiredPermissions []string       `json:"required_permissions,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty"`
}

// LocalName returns the name without its namespace prefix.
func (t *UniversalTool) LocalName() string {
	if i := strings.LastIndex(t.Name, "."); i >= 0 {
		return t.Name[i+1:]
	}
	return t.Name
}

// ToolRequest is a single tool invocation.
type ToolRequest struct {
	ToolName      string         `json:"tool_name"`
	ToolNamespace string         `json:"tool_namespace,omitempty"`
	Parameters    map[string]any `json:"parameters,omitempty"`

	UserContext      *UserContext      `json:"user_context,omitempty"`
	SessionContext   *SessionContext   `json:"session_context,omitempty"`
	ExecutionContext *ExecutionContext `json:"execution_context,omitempty"`

	Timeout  time.Duration  `json:"timeout,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// QualifiedName returns "<namespace>.<name>" when a namespace is set,
// otherwise the bare tool name.
func (r *ToolRequest) QualifiedName() string {
	if r.ToolNamespace != "" && !strings.Contains(r.ToolName, ".") {
		return r.ToolNamespace + "." + r.ToolName
	}
	return r.ToolName
}

// ToolResult is the outcome of a tool invocation. ResultData is
// normalized at the service boundary: nil, a string, a map, or a slice
// of content parts. Tools never leak provider-specific payload types.
type ToolResult struct {
	ToolName      string         `json:"tool_name"`
	Status        ToolStatus     `json:"status"`
	ResultData    any            `json:"result_data,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	ExecutionTime time.Duration  `json:"execution_time,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// NormalizeResultData coerces an arbitrary tool return value into the
// tagged set allowed by the contract.
func NormalizeResultData(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return val
	case map[string]any:
		return val
	case []*ContentPart:
		return val
	case []any:
		return val
	case error:
		return val.Error()
	default:
		return map[string]any{"value": val}
	}
}
