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

import "strings"

// Role identifies the author class of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ContentPartType discriminates the ContentPart variant.
type ContentPartType string

const (
	PartText          ContentPartType = "text"
	PartFunctionCall  ContentPartType = "function_call"
	PartFileReference ContentPartType = "file_reference"
	PartImageRef      ContentPartType = "image_reference"
)

// ContentPart is one element of a structured message body.
// Exactly the fields matching Type are populated.
type ContentPart struct {
	Type ContentPartType `json:"type"`

	// Text content (Type == PartText).
	Text string `json:"text,omitempty"`

	// Function call content (Type == PartFunctionCall).
	Call *ToolCall `json:"call,omitempty"`

	// File or image reference (Type == PartFileReference / PartImageRef).
	URI      string `json:"uri,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Message is the framework-neutral conversation message. Content carries
// plain text; Parts carries structured content. Either may be set, Parts
// wins when both are present.
type Message struct {
	Role      Role           `json:"role"`
	Content   string         `json:"content,omitempty"`
	Parts     []*ContentPart `json:"parts,omitempty"`
	Author    string         `json:"author,omitempty"`
	ToolCalls []*ToolCall    `json:"tool_calls,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewUserMessage builds a plain-text user message.
func NewUserMessage(text string) *Message {
	return &Message{Role: RoleUser, Content: text}
}

// NewAssistantMessage builds a plain-text assistant message.
func NewAssistantMessage(text string) *Message {
	return &Message{Role: RoleAssistant, Content: text}
}

// Text flattens the message body to plain text. Structured parts other
// than text are skipped.
func (m *Message) Text() string {
	if m == nil {
		return ""
	}
	if len(m.Parts) == 0 {
		return m.Content
	}
	var sb strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText && p.Text != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(p.Text)
		}
	}
	if sb.Len() == 0 {
		return m.Content
	}
	return sb.String()
}

// KnowledgeSource names an external knowledge collection available to a task.
type KnowledgeSource struct {
	Name     string         `json:"name"`
	Kind     string         `json:"kind,omitempty"`
	URI      string         `json:"uri,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Attachment references an uploaded artifact attached to a request.
type Attachment struct {
	Name     string         `json:"name"`
	MimeType string         `json:"mime_type,omitempty"`
	URI      string         `json:"uri,omitempty"`
	Size     int64          `json:"size,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
