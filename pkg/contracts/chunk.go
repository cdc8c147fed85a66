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

// ChunkVersion is the wire version stamped on every stream chunk.
const ChunkVersion = "1.0"

// ChunkType is the coarse taxonomy of stream chunks.
type ChunkType string

const (
	ChunkProcessing          ChunkType = "processing"
	ChunkToolCallRequest     ChunkType = "tool_call_request"
	ChunkToolApprovalRequest ChunkType = "tool_approval_request"
	ChunkUserInputRequest    ChunkType = "user_input_request"
	ChunkResponse            ChunkType = "response"
	ChunkProgress            ChunkType = "progress"
	ChunkComplete            ChunkType = "complete"
	ChunkError               ChunkType = "error"
	ChunkCancelled           ChunkType = "cancelled"
)

// Chunk kinds: the finer taxonomy beneath ChunkType.
const (
	KindPlanDelta    = "plan.delta"
	KindPlanSummary  = "plan.summary"
	KindToolProposal = "tool.proposal"
	KindToolResult   = "tool.result"
	KindToolDelta    = "tool.delta"
	KindToolComplete = "tool.complete"
	KindToolError    = "tool.error"
	KindResponse     = "response.text"
)

// TaskStreamChunk is one event in a live task stream. SequenceID is
// strictly increasing per task; exactly one chunk per stream carries
// IsFinal=true.
type TaskStreamChunk struct {
	TaskID        string         `json:"task_id"`
	ChunkType     ChunkType      `json:"chunk_type"`
	SequenceID    int64          `json:"sequence_id"`
	Content       any            `json:"content,omitempty"`
	IsFinal       bool           `json:"is_final,omitempty"`
	ChunkKind     string         `json:"chunk_kind,omitempty"`
	InteractionID string         `json:"interaction_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	ChunkVersion  string         `json:"chunk_version"`
}

// InteractionType classifies a back-channel interaction request.
type InteractionType string

const (
	InteractionToolApproval InteractionType = "tool_approval"
	InteractionUserInput    InteractionType = "user_input"
	InteractionConfirmation InteractionType = "confirmation"
	InteractionCancellation InteractionType = "cancellation"
)

// InteractionRequest asks the stream consumer for a decision, typically
// tool approval.
type InteractionRequest struct {
	InteractionID   string          `json:"interaction_id"`
	InteractionType InteractionType `json:"interaction_type"`
	TaskID          string          `json:"task_id"`
	Content         map[string]any  `json:"content,omitempty"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
}

// InteractionResponse answers an outstanding InteractionRequest. The
// InteractionID must match a pending request for the same task; unmatched
// responses are dropped with a warning.
type InteractionResponse struct {
	InteractionID string         `json:"interaction_id"`
	Approved      bool           `json:"approved"`
	ResponseData  map[string]any `json:"response_data,omitempty"`
	UserMessage   string         `json:"user_message,omitempty"`
}
