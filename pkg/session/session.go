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

// Package session provides runtime session management.
//
// A runtime session is one conversation context inside a runner. It holds
// the event history the model sees. Business chat sessions map onto
// runtime sessions through the adapter's session coordinator; this
// package knows nothing about that mapping.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/aetherframe/aether/pkg/contracts"
)

// Event authors for non-agent events.
const (
	AuthorUser   = "user"
	AuthorSystem = "system"
)

// Event is one interaction recorded in a session.
type Event struct {
	// ID is the unique identifier for this event.
	ID string

	// Timestamp when the event was created.
	Timestamp time.Time

	// Author is the agent name, AuthorUser, or AuthorSystem.
	Author string

	// Role is the conversation role the event plays for the model.
	Role contracts.Role

	// Content is the plain-text body.
	Content string

	// ToolCalls captures tool invocations requested in this event.
	ToolCalls []*contracts.ToolCall

	// ToolResults captures tool outcomes produced in this event.
	ToolResults []*contracts.ToolResult

	// Partial marks a streaming fragment; partial events are not persisted.
	Partial bool

	// TurnComplete marks the final event of a turn.
	TurnComplete bool

	// Synthetic marks events injected during history migration or
	// recovery rather than produced live.
	Synthetic bool

	ErrorCode    string
	ErrorMessage string

	Metadata map[string]any
}

// IsToolArtifact reports whether the event is a tool call or tool result
// rather than conversational content. History migration drops these.
func (e *Event) IsToolArtifact() bool {
	return len(e.ToolCalls) > 0 || len(e.ToolResults) > 0 || e.Role == contracts.RoleTool
}

// Session is a conversation context owned by a runner.
type Session interface {
	// ID returns the unique session identifier.
	ID() string

	// AppName returns the owning application name.
	AppName() string

	// UserID returns the user this session belongs to.
	UserID() string

	// Events returns a snapshot of the persisted event history in order.
	Events() []*Event

	// LastUpdateTime returns when the session was last modified.
	LastUpdateTime() time.Time
}

// Service manages session lifecycle and persistence.
type Service interface {
	// Get retrieves an existing session.
	Get(ctx context.Context, req *GetRequest) (*GetResponse, error)

	// Create creates a new session.
	Create(ctx context.Context, req *CreateRequest) (*CreateResponse, error)

	// AppendEvent adds an event to the session history.
	AppendEvent(ctx context.Context, session Session, event *Event) error

	// List returns sessions for an app/user pair.
	List(ctx context.Context, req *ListRequest) (*ListResponse, error)

	// Delete removes a session.
	Delete(ctx context.Context, req *DeleteRequest) error

	// Shutdown releases service resources. Idempotent.
	Shutdown(ctx context.Context) error
}

// GetRequest contains parameters for retrieving a session.
type GetRequest struct {
	AppName   string
	UserID    string
	SessionID string

	// NumRecentEvents returns at most N most recent events.
	// Optional: if zero, returns all events.
	NumRecentEvents int
}

// GetResponse contains the retrieved session.
type GetResponse struct {
	Session Session
}

// CreateRequest contains parameters for creating a session.
type CreateRequest struct {
	AppName   string
	UserID    string
	SessionID string // Optional - generated if empty
}

// CreateResponse contains the created session.
type CreateResponse struct {
	Session Session
}

// ListRequest contains parameters for listing sessions.
type ListRequest struct {
	AppName string
	UserID  string
}

// ListResponse contains the list of sessions.
type ListResponse struct {
	Sessions []Session
}

// DeleteRequest contains parameters for deleting a session.
type DeleteRequest struct {
	AppName   string
	UserID    string
	SessionID string
}

// ErrSessionNotFound is returned when a session doesn't exist.
var ErrSessionNotFound = errors.New("session not found")

// ErrServiceClosed is returned after Shutdown.
var ErrServiceClosed = errors.New("session service closed")
