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
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const recoverySchema = `
CREATE TABLE IF NOT EXISTS session_recovery (
	chat_session_id TEXT PRIMARY KEY,
	payload         TEXT NOT NULL,
	archived_at     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_recovery_archived_at
	ON session_recovery(archived_at);
`

// SQLiteRecoveryStore is a durable RecoveryStore backed by SQLite.
// Records are stored as JSON payloads keyed by chat session id.
type SQLiteRecoveryStore struct {
	db *sql.DB
}

// NewSQLiteRecoveryStore opens (creating if needed) the database at path
// and ensures the schema. Use ":memory:" for an ephemeral store.
func NewSQLiteRecoveryStore(path string) (*SQLiteRecoveryStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recovery database: %w", err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(recoverySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create recovery schema: %w", err)
	}
	return &SQLiteRecoveryStore{db: db}, nil
}

func (s *SQLiteRecoveryStore) Save(ctx context.Context, record *RecoveryRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal recovery record: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_recovery (chat_session_id, payload, archived_at)
		VALUES (?, ?, ?)
		ON CONFLICT(chat_session_id) DO UPDATE SET
			payload = excluded.payload,
			archived_at = excluded.archived_at`,
		record.ChatSessionID, string(payload), record.ArchivedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save recovery record: %w", err)
	}
	return nil
}

func (s *SQLiteRecoveryStore) Load(ctx context.Context, chatSessionID string) (*RecoveryRecord, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM session_recovery WHERE chat_session_id = ?`,
		chatSessionID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrRecoveryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load recovery record: %w", err)
	}

	var record RecoveryRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recovery record: %w", err)
	}
	return &record, nil
}

func (s *SQLiteRecoveryStore) Purge(ctx context.Context, chatSessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM session_recovery WHERE chat_session_id = ?`, chatSessionID)
	if err != nil {
		return fmt.Errorf("failed to purge recovery record: %w", err)
	}
	return nil
}

// PurgeOlderThan deletes records archived before the cutoff, returning
// the number removed.
func (s *SQLiteRecoveryStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM session_recovery WHERE archived_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge old recovery records: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the database handle.
func (s *SQLiteRecoveryStore) Close() error {
	return s.db.Close()
}

var _ RecoveryStore = (*SQLiteRecoveryStore)(nil)
