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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aetherframe/aether/pkg/contracts"
	"github.com/aetherframe/aether/pkg/session"
)

// Coordinator defaults.
const (
	DefaultSessionIdleTimeout = 30 * time.Minute
	DefaultCheckInterval      = time.Minute
)

// SessionClearedError reports that a chat session was idle-evicted and
// needs recovery before it can continue.
type SessionClearedError struct {
	ChatSessionID string
	ClearedAt     time.Time
}

func (e *SessionClearedError) Error() string {
	return fmt.Sprintf("chat session %q was cleared at %s", e.ChatSessionID, e.ClearedAt.Format(time.RFC3339))
}

// ChatSessionInfo is the coordinator's record of one business chat
// session. The active_* triple is all-or-nothing: either every field is
// set and references a live runner session, or none is.
type ChatSessionInfo struct {
	UserID        string
	ChatSessionID string

	ActiveAgentID         string
	ActiveRunnerSessionID string
	ActiveRunnerID        string

	AvailableKnowledge     []*contracts.KnowledgeSource
	SyncedKnowledgeSources map[string]bool

	CreatedAt    time.Time
	LastActivity time.Time
	LastSwitchAt time.Time
}

func (i *ChatSessionInfo) bound() bool {
	return i.ActiveAgentID != "" && i.ActiveRunnerSessionID != "" && i.ActiveRunnerID != ""
}

// CoordinationResult reports what the coordinator did for a turn.
type CoordinationResult struct {
	RunnerSessionID string
	SwitchOccurred  bool
	PreviousAgentID string
	NewAgentID      string
	Recovered       bool
}

// CoordinatorSettings tunes session lifecycle.
type CoordinatorSettings struct {
	SessionIdleTimeout time.Duration
	RunnerIdleTimeout  time.Duration // default 3x session
	AgentIdleTimeout   time.Duration // default 2x session
	CheckInterval      time.Duration

	// ImmediateRunnerCleanup removes a runner as soon as its last
	// session closes during an agent switch.
	ImmediateRunnerCleanup bool
}

func (s CoordinatorSettings) withDefaults() CoordinatorSettings {
	if s.SessionIdleTimeout <= 0 {
		s.SessionIdleTimeout = DefaultSessionIdleTimeout
	}
	if s.RunnerIdleTimeout <= 0 {
		s.RunnerIdleTimeout = 3 * s.SessionIdleTimeout
	}
	if s.AgentIdleTimeout <= 0 {
		s.AgentIdleTimeout = 2 * s.SessionIdleTimeout
	}
	if s.CheckInterval <= 0 {
		s.CheckInterval = DefaultCheckInterval
	}
	return s
}

type clearedInfo struct {
	ClearedAt time.Time
	Reason    string
}

// chatLock serializes turns per chat session and tracks in-flight use so
// the idle sweeper never clears an active session.
type chatLock struct {
	mu    sync.Mutex
	inUse int
}

// SessionCoordinator maps business chat sessions onto runtime sessions:
// first-time binding, reuse, agent switching with history migration,
// idle eviction, and snapshot recovery.
type SessionCoordinator struct {
	settings CoordinatorSettings
	store    RecoveryStore
	runners  *RunnerManager
	agents   *AgentManager

	mu                sync.RWMutex
	chatSessions      map[string]*ChatSessionInfo
	clearedSessions   map[string]clearedInfo
	pendingRecoveries map[string]*RecoveryRecord
	locks             map[string]*chatLock

	now func() time.Time

	sweepStop chan struct{}
	sweepOnce sync.Once
}

// NewSessionCoordinator creates a coordinator over the given pool,
// agent registry, and recovery store.
func NewSessionCoordinator(settings CoordinatorSettings, store RecoveryStore, runners *RunnerManager, agents *AgentManager) *SessionCoordinator {
	return &SessionCoordinator{
		settings:          settings.withDefaults(),
		store:             store,
		runners:           runners,
		agents:            agents,
		chatSessions:      make(map[string]*ChatSessionInfo),
		clearedSessions:   make(map[string]clearedInfo),
		pendingRecoveries: make(map[string]*RecoveryRecord),
		locks:             make(map[string]*chatLock),
		now:               time.Now,
		sweepStop:         make(chan struct{}),
	}
}

// lockChat acquires the per-chat mutex and marks the chat in use. The
// returned release function must be called when the turn finishes.
func (c *SessionCoordinator) lockChat(chatSessionID string) func() {
	c.mu.Lock()
	l, ok := c.locks[chatSessionID]
	if !ok {
		l = &chatLock{}
		c.locks[chatSessionID] = l
	}
	c.mu.Unlock()

	l.mu.Lock()
	l.inUse++
	return func() {
		l.inUse--
		l.mu.Unlock()
	}
}

// tryLockChat acquires the per-chat mutex without blocking. It returns
// a release function, or false when the chat has an in-flight turn. The
// sweeper uses it so the busy check and the eviction happen under one
// lock hold.
func (c *SessionCoordinator) tryLockChat(chatSessionID string) (func(), bool) {
	c.mu.Lock()
	l, ok := c.locks[chatSessionID]
	if !ok {
		l = &chatLock{}
		c.locks[chatSessionID] = l
	}
	c.mu.Unlock()

	if !l.mu.TryLock() {
		return nil, false
	}
	if l.inUse > 0 {
		l.mu.Unlock()
		return nil, false
	}
	return func() { l.mu.Unlock() }, true
}

// Coordinate maps one turn of a chat session onto a runtime session for
// the target agent, performing first-time binding, reuse, switching, or
// recovery injection as needed. Turns within one chat are serialized.
func (c *SessionCoordinator) Coordinate(ctx context.Context, chatSessionID, targetAgentID, userID string, req *contracts.TaskRequest) (*CoordinationResult, error) {
	release := c.lockChat(chatSessionID)
	defer release()

	c.mu.Lock()
	cleared, isCleared := c.clearedSessions[chatSessionID]
	pending := c.pendingRecoveries[chatSessionID]
	c.mu.Unlock()

	if isCleared {
		if pending == nil {
			return nil, &SessionClearedError{ChatSessionID: chatSessionID, ClearedAt: cleared.ClearedAt}
		}
		return c.coordinateRecovery(ctx, chatSessionID, targetAgentID, userID, req, pending)
	}

	info := c.getOrCreateInfo(chatSessionID, userID, req)

	if !info.bound() {
		return c.bindFirstTime(ctx, info, targetAgentID, req)
	}

	if info.ActiveAgentID == targetAgentID {
		return c.reuseOrRebind(ctx, info, targetAgentID, req)
	}

	return c.switchAgent(ctx, info, targetAgentID, req)
}

func (c *SessionCoordinator) getOrCreateInfo(chatSessionID, userID string, req *contracts.TaskRequest) *ChatSessionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, ok := c.chatSessions[chatSessionID]
	if !ok {
		now := c.now()
		info = &ChatSessionInfo{
			UserID:                 userID,
			ChatSessionID:          chatSessionID,
			SyncedKnowledgeSources: make(map[string]bool),
			CreatedAt:              now,
			LastActivity:           now,
		}
		if req != nil {
			info.AvailableKnowledge = req.AvailableKnowledge
		}
		c.chatSessions[chatSessionID] = info
	}
	return info
}

func (c *SessionCoordinator) runnerForAgent(targetAgentID string) (string, error) {
	runnerID, ok := c.runners.RunnerForAgent(targetAgentID)
	if !ok {
		return "", contracts.NewError(contracts.CodeRunnerExecution, "session_coordinator.coordinate",
			"agent %q has no live runner", targetAgentID).WithDetail("agent_id", targetAgentID)
	}
	return runnerID, nil
}

func (c *SessionCoordinator) bindFirstTime(ctx context.Context, info *ChatSessionInfo, targetAgentID string, req *contracts.TaskRequest) (*CoordinationResult, error) {
	runnerID, err := c.runnerForAgent(targetAgentID)
	if err != nil {
		return nil, err
	}

	sessionID, err := c.runners.CreateSessionInRunner(ctx, runnerID, req, "")
	if err != nil {
		return nil, err
	}

	c.bind(info, targetAgentID, runnerID, sessionID, false)
	return &CoordinationResult{RunnerSessionID: sessionID, NewAgentID: targetAgentID}, nil
}

func (c *SessionCoordinator) reuseOrRebind(ctx context.Context, info *ChatSessionInfo, targetAgentID string, req *contracts.TaskRequest) (*CoordinationResult, error) {
	// The runner reference is weak: the session may have been cleaned up
	// underneath us, in which case a fresh one is created.
	if _, ok := c.runners.SessionUserID(info.ActiveRunnerID, info.ActiveRunnerSessionID); ok {
		c.mu.Lock()
		info.LastActivity = c.now()
		c.mu.Unlock()
		c.runners.MarkRunnerActivity(info.ActiveRunnerID)
		return &CoordinationResult{RunnerSessionID: info.ActiveRunnerSessionID, NewAgentID: targetAgentID}, nil
	}

	runnerID, err := c.runnerForAgent(targetAgentID)
	if err != nil {
		return nil, err
	}
	sessionID, err := c.runners.CreateSessionInRunner(ctx, runnerID, req, "")
	if err != nil {
		return nil, err
	}
	c.bind(info, targetAgentID, runnerID, sessionID, false)
	return &CoordinationResult{RunnerSessionID: sessionID, NewAgentID: targetAgentID}, nil
}

// switchAgent migrates a chat session from its current agent to the
// target: extract history, drop the old runtime session, create a new
// one in the target's runner, and replay the history there. The
// sequence is best-effort ordered, not transactional.
func (c *SessionCoordinator) switchAgent(ctx context.Context, info *ChatSessionInfo, targetAgentID string, req *contracts.TaskRequest) (*CoordinationResult, error) {
	previousAgentID := info.ActiveAgentID
	previousRunnerID := info.ActiveRunnerID
	previousSessionID := info.ActiveRunnerSessionID

	history, err := c.extractHistory(ctx, previousRunnerID, previousSessionID)
	if err != nil {
		slog.Warn("History extraction failed during agent switch",
			"chat_session_id", info.ChatSessionID, "error", err)
	}

	if err := c.runners.RemoveSessionFromRunner(ctx, previousRunnerID, previousSessionID); err != nil {
		slog.Warn("Session cleanup failed during agent switch",
			"chat_session_id", info.ChatSessionID, "error", err)
	}
	if c.settings.ImmediateRunnerCleanup && c.runners.RunnerSessionCount(previousRunnerID) == 0 {
		c.runners.CleanupRunner(ctx, previousRunnerID)
	}

	runnerID, err := c.runnerForAgent(targetAgentID)
	if err != nil {
		return nil, err
	}

	externalID := ""
	if req != nil {
		externalID = fmt.Sprintf("rts_%s_%s", req.TaskID, info.UserID)
	}
	sessionID, err := c.runners.CreateSessionInRunner(ctx, runnerID, req, externalID)
	if err != nil {
		return nil, err
	}

	if err := c.injectHistory(ctx, runnerID, sessionID, history); err != nil {
		return nil, contracts.NewError(contracts.CodeSessionRecoveryFailed, "session_coordinator.switch",
			"history migration failed: %v", err)
	}

	c.bind(info, targetAgentID, runnerID, sessionID, true)

	slog.Info("Agent switch completed",
		"chat_session_id", info.ChatSessionID,
		"previous_agent", previousAgentID,
		"new_agent", targetAgentID,
		"migrated_turns", len(history))

	return &CoordinationResult{
		RunnerSessionID: sessionID,
		SwitchOccurred:  true,
		PreviousAgentID: previousAgentID,
		NewAgentID:      targetAgentID,
	}, nil
}

func (c *SessionCoordinator) bind(info *ChatSessionInfo, agentID, runnerID, sessionID string, switched bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info.ActiveAgentID = agentID
	info.ActiveRunnerID = runnerID
	info.ActiveRunnerSessionID = sessionID
	info.LastActivity = c.now()
	if switched {
		info.LastSwitchAt = c.now()
	}
}

// coordinateRecovery replays a pending recovery record into a fresh
// runtime session. On success the record and the cleared marker are
// purged; on injection failure the record stays queued for the next
// attempt.
func (c *SessionCoordinator) coordinateRecovery(ctx context.Context, chatSessionID, targetAgentID, userID string, req *contracts.TaskRequest, record *RecoveryRecord) (*CoordinationResult, error) {
	runnerID, err := c.runnerForAgent(targetAgentID)
	if err != nil {
		return nil, err
	}

	sessionID, err := c.runners.CreateSessionInRunner(ctx, runnerID, req, "")
	if err != nil {
		return nil, err
	}

	if err := c.injectHistory(ctx, runnerID, sessionID, record.ChatHistory); err != nil {
		// Record stays queued; a later attempt replays it.
		c.runners.RemoveSessionFromRunner(ctx, runnerID, sessionID)
		return nil, contracts.NewError(contracts.CodeSessionRecoveryFailed, "session_coordinator.recover",
			"history injection failed: %v", err).WithDetail("chat_session_id", chatSessionID)
	}

	if err := c.store.Purge(ctx, chatSessionID); err != nil {
		slog.Warn("Recovery record purge failed", "chat_session_id", chatSessionID, "error", err)
	}

	c.mu.Lock()
	delete(c.pendingRecoveries, chatSessionID)
	delete(c.clearedSessions, chatSessionID)
	c.mu.Unlock()

	info := c.getOrCreateInfo(chatSessionID, userID, req)
	c.bind(info, targetAgentID, runnerID, sessionID, false)

	slog.Info("Recovered chat session",
		"chat_session_id", chatSessionID,
		"agent_id", targetAgentID,
		"replayed_turns", len(record.ChatHistory))

	return &CoordinationResult{
		RunnerSessionID: sessionID,
		NewAgentID:      targetAgentID,
		Recovered:       true,
	}, nil
}

// RecoverChatSession loads the recovery record for a cleared chat
// session and queues it for injection on the next Coordinate call.
// Returns ErrRecoveryNotFound when no snapshot exists.
func (c *SessionCoordinator) RecoverChatSession(ctx context.Context, chatSessionID string) (*RecoveryRecord, error) {
	record, err := c.store.Load(ctx, chatSessionID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.pendingRecoveries[chatSessionID] = record
	c.mu.Unlock()
	return record, nil
}

// extractHistory reads the conversational turns from a runtime session,
// dropping tool artifacts and partials.
func (c *SessionCoordinator) extractHistory(ctx context.Context, runnerID, sessionID string) ([]HistoryEntry, error) {
	rc, ok := c.runners.GetRunner(runnerID)
	if !ok {
		return nil, fmt.Errorf("runner %q not found", runnerID)
	}
	userID, ok := c.runners.SessionUserID(runnerID, sessionID)
	if !ok {
		return nil, fmt.Errorf("session %q not found in runner %q", sessionID, runnerID)
	}

	resp, err := rc.Sessions.Get(ctx, &session.GetRequest{
		AppName:   rc.AppName,
		UserID:    userID,
		SessionID: sessionID,
	})
	if err != nil {
		return nil, err
	}

	var history []HistoryEntry
	for _, ev := range resp.Session.Events() {
		if ev.IsToolArtifact() || ev.Partial || ev.Content == "" {
			continue
		}
		if ev.Role != contracts.RoleUser && ev.Role != contracts.RoleAssistant {
			continue
		}
		history = append(history, HistoryEntry{
			Role:      ev.Role,
			Content:   ev.Content,
			Timestamp: ev.Timestamp,
		})
	}
	return history, nil
}

// injectHistory replays extracted turns into a runtime session as
// synthetic events so the model sees the prior conversation.
func (c *SessionCoordinator) injectHistory(ctx context.Context, runnerID, sessionID string, history []HistoryEntry) error {
	if len(history) == 0 {
		return nil
	}

	rc, ok := c.runners.GetRunner(runnerID)
	if !ok {
		return fmt.Errorf("runner %q not found", runnerID)
	}
	userID, ok := c.runners.SessionUserID(runnerID, sessionID)
	if !ok {
		return fmt.Errorf("session %q not found in runner %q", sessionID, runnerID)
	}

	resp, err := rc.Sessions.Get(ctx, &session.GetRequest{
		AppName:   rc.AppName,
		UserID:    userID,
		SessionID: sessionID,
	})
	if err != nil {
		return err
	}

	for _, entry := range history {
		author := rc.AppName
		if entry.Role == contracts.RoleUser {
			author = session.AuthorUser
		}
		err := rc.Sessions.AppendEvent(ctx, resp.Session, &session.Event{
			Author:    author,
			Role:      entry.Role,
			Content:   entry.Content,
			Synthetic: true,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// ChatSession returns the coordinator's record for a chat session.
func (c *SessionCoordinator) ChatSession(chatSessionID string) (*ChatSessionInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.chatSessions[chatSessionID]
	return info, ok
}

// StartSweeper launches the idle sweeper. Stop it with StopSweeper.
func (c *SessionCoordinator) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.settings.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.sweepStop:
				return
			case <-ticker.C:
				c.Sweep(ctx)
			}
		}
	}()
}

// StopSweeper stops the background sweeper. Idempotent.
func (c *SessionCoordinator) StopSweeper() {
	c.sweepOnce.Do(func() { close(c.sweepStop) })
}

// Sweep archives and clears idle chat sessions, then removes idle
// runners and agents. Sessions with in-flight turns are skipped.
func (c *SessionCoordinator) Sweep(ctx context.Context) {
	now := c.now()
	sessionCutoff := now.Add(-c.settings.SessionIdleTimeout)

	c.mu.RLock()
	var idle []*ChatSessionInfo
	for _, info := range c.chatSessions {
		if info.LastActivity.Before(sessionCutoff) || info.LastActivity.Equal(sessionCutoff) {
			idle = append(idle, info)
		}
	}
	c.mu.RUnlock()

	for _, info := range idle {
		release, ok := c.tryLockChat(info.ChatSessionID)
		if !ok {
			continue
		}
		// A turn may have landed between the snapshot and the lock;
		// re-check idleness while holding it.
		c.mu.RLock()
		stillIdle := !info.LastActivity.After(sessionCutoff)
		c.mu.RUnlock()
		if stillIdle {
			c.evictChatSession(ctx, info, "idle_timeout")
		}
		release()
	}

	runnerCutoff := now.Add(-c.settings.RunnerIdleTimeout)
	for _, runnerID := range c.runners.IdleRunners(runnerCutoff) {
		c.runners.CleanupRunner(ctx, runnerID)
	}

	agentCutoff := now.Add(-c.settings.AgentIdleTimeout)
	for _, agentID := range c.agents.IdleAgents(agentCutoff) {
		c.agents.Remove(agentID)
	}
}

// evictChatSession archives a chat session's history to the recovery
// store, drops its runtime session, and marks it cleared. The caller
// holds the chat lock.
func (c *SessionCoordinator) evictChatSession(ctx context.Context, info *ChatSessionInfo, reason string) {
	if info.bound() {
		history, err := c.extractHistory(ctx, info.ActiveRunnerID, info.ActiveRunnerSessionID)
		if err != nil {
			slog.Warn("History extraction failed during eviction",
				"chat_session_id", info.ChatSessionID, "error", err)
		}
		if len(history) > 0 {
			record := &RecoveryRecord{
				ChatSessionID: info.ChatSessionID,
				UserID:        info.UserID,
				AgentID:       info.ActiveAgentID,
				ChatHistory:   history,
				ArchivedAt:    c.now(),
			}
			if err := c.store.Save(ctx, record); err != nil {
				slog.Warn("Recovery record save failed; keeping session",
					"chat_session_id", info.ChatSessionID, "error", err)
				return
			}
		}
		if err := c.runners.RemoveSessionFromRunner(ctx, info.ActiveRunnerID, info.ActiveRunnerSessionID); err != nil {
			slog.Warn("Session removal failed during eviction",
				"chat_session_id", info.ChatSessionID, "error", err)
		}
	}

	c.mu.Lock()
	delete(c.chatSessions, info.ChatSessionID)
	c.clearedSessions[info.ChatSessionID] = clearedInfo{ClearedAt: c.now(), Reason: reason}
	c.mu.Unlock()

	slog.Info("Cleared idle chat session", "chat_session_id", info.ChatSessionID, "reason", reason)
}

// Shutdown stops the sweeper.
func (c *SessionCoordinator) Shutdown() {
	c.StopSweeper()
}
