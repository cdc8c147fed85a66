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
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aetherframe/aether/pkg/contracts"
)

// ErrRecoveryNotFound is returned when no recovery record exists for a
// chat session.
var ErrRecoveryNotFound = errors.New("recovery record not found")

// HistoryEntry is one conversational turn in a recovery snapshot. Tool
// artifacts are dropped before archiving.
type HistoryEntry struct {
	Role      contracts.Role `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
}

// RecoveryRecord is an immutable snapshot of a cleared chat session,
// sufficient to re-inject its history on the next request.
type RecoveryRecord struct {
	ChatSessionID string                 `json:"chat_session_id"`
	UserID        string                 `json:"user_id"`
	AgentID       string                 `json:"agent_id"`
	AgentConfig   *contracts.AgentConfig `json:"agent_config,omitempty"`
	ChatHistory   []HistoryEntry         `json:"chat_history"`
	ArchivedAt    time.Time              `json:"archived_at"`
}

// RecoveryStore persists recovery records. Implementations must be safe
// for concurrent use.
type RecoveryStore interface {
	// Save persists a record, replacing any existing one for the same
	// chat session.
	Save(ctx context.Context, record *RecoveryRecord) error

	// Load returns the record for a chat session, or ErrRecoveryNotFound.
	Load(ctx context.Context, chatSessionID string) (*RecoveryRecord, error)

	// Purge deletes the record for a chat session. Missing records are
	// not an error.
	Purge(ctx context.Context, chatSessionID string) error
}

// MemoryRecoveryStore is the in-memory RecoveryStore used in development
// and tests.
type MemoryRecoveryStore struct {
	mu      sync.RWMutex
	records map[string]*RecoveryRecord
}

// NewMemoryRecoveryStore creates an empty in-memory store.
func NewMemoryRecoveryStore() *MemoryRecoveryStore {
	return &MemoryRecoveryStore{records: make(map[string]*RecoveryRecord)}
}

func (s *MemoryRecoveryStore) Save(ctx context.Context, record *RecoveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ChatSessionID] = record
	return nil
}

func (s *MemoryRecoveryStore) Load(ctx context.Context, chatSessionID string) (*RecoveryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[chatSessionID]
	if !ok {
		return nil, ErrRecoveryNotFound
	}
	return record, nil
}

func (s *MemoryRecoveryStore) Purge(ctx context.Context, chatSessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, chatSessionID)
	return nil
}

var _ RecoveryStore = (*MemoryRecoveryStore)(nil)
