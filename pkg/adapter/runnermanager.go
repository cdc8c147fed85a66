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

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/aetherframe/aether/pkg/contracts"
	"github.com/aetherframe/aether/pkg/model"
	"github.com/aetherframe/aether/pkg/runner"
	"github.com/aetherframe/aether/pkg/session"
	"github.com/aetherframe/aether/pkg/tool"
)

// RunnerManager defaults.
const (
	DefaultAppName             = "aether"
	DefaultUserID              = "anonymous"
	DefaultMaxSessionsPerAgent = 16
	DefaultSessionIDPrefix     = "rts"
	DefaultRunnerIDPrefix      = "runner"
)

// PoolRecorder tracks pool gauge movements: live runners, runtime
// sessions, and registered agents.
type PoolRecorder interface {
	AddRunners(delta int64)
	AddSessions(delta int64)
	AddAgents(delta int64)
}

// RunnerSettings tunes the runner pool.
type RunnerSettings struct {
	AppName             string
	DefaultUserID       string
	MaxSessionsPerAgent int
	SessionIDPrefix     string
	RunnerIDPrefix      string
}

func (s RunnerSettings) withDefaults() RunnerSettings {
	if s.AppName == "" {
		s.AppName = DefaultAppName
	}
	if s.DefaultUserID == "" {
		s.DefaultUserID = DefaultUserID
	}
	if s.MaxSessionsPerAgent <= 0 {
		s.MaxSessionsPerAgent = DefaultMaxSessionsPerAgent
	}
	if s.SessionIDPrefix == "" {
		s.SessionIDPrefix = DefaultSessionIDPrefix
	}
	if s.RunnerIDPrefix == "" {
		s.RunnerIDPrefix = DefaultRunnerIDPrefix
	}
	return s
}

// RunnerContext is the pool's record of one live runner. It is owned
// exclusively by the RunnerManager; peers hold runner ids only.
type RunnerContext struct {
	RunnerID   string
	Runner     *runner.Runner
	Sessions   session.Service
	Config     *contracts.AgentConfig
	ConfigHash string

	// sessionUserIDs maps each live runtime session to its user. A
	// runner never stores a single process-wide user id.
	sessionUserIDs map[string]string

	CreatedAt    time.Time
	LastActivity time.Time
	AppName      string
}

// RunnerManager pools runner instances keyed by agent-config
// fingerprint and tracks session and agent bindings.
type RunnerManager struct {
	settings     RunnerSettings
	modelFactory model.Factory
	tools        *tool.Service
	resolver     *tool.Resolver

	mu              sync.RWMutex
	runners         map[string]*RunnerContext
	configToRunner  map[string]string
	sessionToRunner map[string]string
	agentToRunner   map[string]string

	cleanupCallbacks []func(agentID string)

	recorder PoolRecorder

	createGroup singleflight.Group
}

// NewRunnerManager creates a runner pool. The model factory builds the
// LLM backend for each new runner from its agent config.
func NewRunnerManager(settings RunnerSettings, factory model.Factory, tools *tool.Service) *RunnerManager {
	return &RunnerManager{
		settings:        settings.withDefaults(),
		modelFactory:    factory,
		tools:           tools,
		resolver:        tool.NewResolver(tools),
		runners:         make(map[string]*RunnerContext),
		configToRunner:  make(map[string]string),
		sessionToRunner: make(map[string]string),
		agentToRunner:   make(map[string]string),
	}
}

// SetRecorder installs a gauge recorder for pool movements.
func (m *RunnerManager) SetRecorder(rec PoolRecorder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorder = rec
}

func (m *RunnerManager) addRunners(delta int64) {
	m.mu.RLock()
	rec := m.recorder
	m.mu.RUnlock()
	if rec != nil {
		rec.AddRunners(delta)
	}
}

func (m *RunnerManager) addSessions(delta int64) {
	m.mu.RLock()
	rec := m.recorder
	m.mu.RUnlock()
	if rec != nil {
		rec.AddSessions(delta)
	}
}

// RegisterAgentCleanupCallback adds a callback invoked with each agent
// id bound to a runner when that runner is cleaned up. Callbacks run
// without the manager's write lock held.
func (m *RunnerManager) RegisterAgentCleanupCallback(cb func(agentID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupCallbacks = append(m.cleanupCallbacks, cb)
}

// GetOrCreateOptions tunes a GetOrCreateRunner call.
type GetOrCreateOptions struct {
	// AllowReuse permits sharing an existing runner for the same config
	// fingerprint. Default true via GetOrCreateRunner.
	AllowReuse bool

	// CreateSession creates a runtime session bound to the request's
	// user. Default true via GetOrCreateRunner.
	CreateSession bool

	// EngineSessionID forces the runtime session id instead of a
	// generated one.
	EngineSessionID string
}

// GetOrCreateRunner resolves or builds the runner for an agent config.
// Creation for a given fingerprint is deduplicated, so concurrent
// first-use requests share one runner. Returns the runner id and, when
// requested, a new session id.
func (m *RunnerManager) GetOrCreateRunner(ctx context.Context, cfg *contracts.AgentConfig, req *contracts.TaskRequest, opts GetOrCreateOptions) (string, string, error) {
	if err := cfg.Validate(); err != nil {
		return "", "", contracts.NewError(contracts.CodeRequestValidation, "runner_manager.get_or_create", "%v", err)
	}
	hash := cfg.Fingerprint()

	runnerID, err := m.resolveRunner(ctx, cfg, hash, opts.AllowReuse)
	if err != nil {
		return "", "", err
	}

	sessionID := ""
	if opts.CreateSession {
		sessionID, err = m.CreateSessionInRunner(ctx, runnerID, req, opts.EngineSessionID)
		if err != nil {
			return "", "", err
		}
	}
	return runnerID, sessionID, nil
}

func (m *RunnerManager) resolveRunner(ctx context.Context, cfg *contracts.AgentConfig, hash string, allowReuse bool) (string, error) {
	if allowReuse {
		if id, ok := m.reusableRunner(hash); ok {
			return id, nil
		}
	}

	// Deduplicate concurrent creations per fingerprint. The check inside
	// the callback re-runs because a racing caller may have registered
	// the runner while we waited.
	v, err, _ := m.createGroup.Do(hash, func() (any, error) {
		if allowReuse {
			if id, ok := m.reusableRunner(hash); ok {
				return id, nil
			}
		}
		return m.createRunner(cfg, hash)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// reusableRunner returns the open runner for a fingerprint if it is
// under the session cap.
func (m *RunnerManager) reusableRunner(hash string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.configToRunner[hash]
	if !ok {
		return "", false
	}
	rc := m.runners[id]
	if rc == nil || len(rc.sessionUserIDs) >= m.settings.MaxSessionsPerAgent {
		return "", false
	}
	return id, true
}

func (m *RunnerManager) createRunner(cfg *contracts.AgentConfig, hash string) (string, error) {
	mdl, err := m.modelFactory(cfg.ModelConfig)
	if err != nil {
		return "", contracts.NewError(contracts.CodeRunnerExecution, "runner_manager.create_runner", "model construction failed: %v", err)
	}

	name := cfg.Name
	if name == "" {
		name = m.settings.AppName
	}

	sessions := session.NewInMemoryService()
	r, err := runner.New(runner.Config{
		Name:         name,
		SystemPrompt: cfg.SystemPrompt,
		Model:        mdl,
		Tools:        m.tools,
		ToolDefs:     m.resolveToolDefs(cfg),
		Sessions:     sessions,
		Settings:     cfg.BehaviorSettings,
	})
	if err != nil {
		return "", contracts.NewError(contracts.CodeRunnerExecution, "runner_manager.create_runner", "%v", err)
	}

	runnerID := fmt.Sprintf("%s_%s", m.settings.RunnerIDPrefix, uuid.NewString())
	now := time.Now()
	rc := &RunnerContext{
		RunnerID:       runnerID,
		Runner:         r,
		Sessions:       sessions,
		Config:         cfg,
		ConfigHash:     hash,
		sessionUserIDs: make(map[string]string),
		CreatedAt:      now,
		LastActivity:   now,
		AppName:        name,
	}

	m.mu.Lock()
	m.runners[runnerID] = rc
	m.configToRunner[hash] = runnerID
	m.mu.Unlock()
	m.addRunners(1)

	slog.Info("Created runner", "runner_id", runnerID, "config_hash", hash[:12], "agent", name)
	return runnerID, nil
}

// resolveToolDefs maps the config's tool grants to descriptors. Names
// that do not resolve are skipped with a warning; the agent simply does
// not see them.
func (m *RunnerManager) resolveToolDefs(cfg *contracts.AgentConfig) []*contracts.UniversalTool {
	var defs []*contracts.UniversalTool
	userCtx := &contracts.UserContext{Permissions: cfg.ToolPermissions}
	for _, name := range cfg.AvailableTools {
		def, err := m.resolver.ResolveOne(name, userCtx)
		if err != nil {
			slog.Warn("Skipping unresolvable tool grant", "tool", name, "error", err)
			continue
		}
		defs = append(defs, def)
	}
	return defs
}

// CreateSessionInRunner creates a runtime session in a runner, bound to
// the request's user. The external session id wins over generation.
func (m *RunnerManager) CreateSessionInRunner(ctx context.Context, runnerID string, req *contracts.TaskRequest, externalSessionID string) (string, error) {
	m.mu.RLock()
	rc, ok := m.runners[runnerID]
	m.mu.RUnlock()
	if !ok {
		return "", contracts.NewError(contracts.CodeRunnerExecution, "runner_manager.create_session", "runner %q not found", runnerID)
	}

	userID := m.settings.DefaultUserID
	if req != nil {
		if id := req.UserID(); id != "" {
			userID = id
		}
	}

	sessionID := externalSessionID
	if sessionID == "" {
		sessionID = fmt.Sprintf("%s_%s", m.settings.SessionIDPrefix, uuid.NewString())
	}

	_, err := rc.Sessions.Create(ctx, &session.CreateRequest{
		AppName:   rc.AppName,
		UserID:    userID,
		SessionID: sessionID,
	})
	if err != nil {
		return "", contracts.NewError(contracts.CodeRunnerExecution, "runner_manager.create_session", "%v", err)
	}

	m.mu.Lock()
	rc.sessionUserIDs[sessionID] = userID
	m.sessionToRunner[sessionID] = runnerID
	rc.LastActivity = time.Now()
	m.mu.Unlock()
	m.addSessions(1)

	return sessionID, nil
}

// RemoveSessionFromRunner deletes a runtime session and purges the
// indices. Missing runners or sessions are a no-op.
func (m *RunnerManager) RemoveSessionFromRunner(ctx context.Context, runnerID, sessionID string) error {
	m.mu.Lock()
	rc, ok := m.runners[runnerID]
	var userID string
	if ok {
		userID = rc.sessionUserIDs[sessionID]
		delete(rc.sessionUserIDs, sessionID)
	}
	delete(m.sessionToRunner, sessionID)
	m.mu.Unlock()

	if !ok || userID == "" {
		return nil
	}
	m.addSessions(-1)

	err := rc.Sessions.Delete(ctx, &session.DeleteRequest{
		AppName:   rc.AppName,
		UserID:    userID,
		SessionID: sessionID,
	})
	if err != nil && err != session.ErrSessionNotFound {
		return contracts.NewError(contracts.CodeRunnerExecution, "runner_manager.remove_session", "%v", err)
	}
	return nil
}

// RunnerSessionCount returns the number of live sessions in a runner.
func (m *RunnerManager) RunnerSessionCount(runnerID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rc, ok := m.runners[runnerID]
	if !ok {
		return 0
	}
	return len(rc.sessionUserIDs)
}

// GetRunner returns the pool record for a runner id.
func (m *RunnerManager) GetRunner(runnerID string) (*RunnerContext, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rc, ok := m.runners[runnerID]
	return rc, ok
}

// RunnerBySession returns the runner id owning a runtime session.
func (m *RunnerManager) RunnerBySession(sessionID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.sessionToRunner[sessionID]
	return id, ok
}

// SessionUserID returns the user bound to a runtime session.
func (m *RunnerManager) SessionUserID(runnerID, sessionID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rc, ok := m.runners[runnerID]
	if !ok {
		return "", false
	}
	userID, ok := rc.sessionUserIDs[sessionID]
	return userID, ok
}

// BindAgent records that an agent is hosted by a runner.
func (m *RunnerManager) BindAgent(agentID, runnerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agentToRunner[agentID] = runnerID
}

// RunnerForAgent returns the runner hosting an agent.
func (m *RunnerManager) RunnerForAgent(agentID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.agentToRunner[agentID]
	return id, ok
}

// MarkRunnerActivity stamps a runner's last-activity time.
func (m *RunnerManager) MarkRunnerActivity(runnerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rc, ok := m.runners[runnerID]; ok {
		rc.LastActivity = time.Now()
	}
}

// IdleRunners returns runner ids whose last activity is older than the
// cutoff.
func (m *RunnerManager) IdleRunners(cutoff time.Time) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for id, rc := range m.runners {
		if rc.LastActivity.Before(cutoff) {
			out = append(out, id)
		}
	}
	return out
}

// CleanupRunner shuts a runner down and purges it from every index.
// Shutdown failures are logged and reported through the return value,
// but indices are always purged. Bound agents are reported to the
// registered cleanup callbacks after the locks are released. Idempotent:
// cleaning a missing runner returns true and changes nothing.
func (m *RunnerManager) CleanupRunner(ctx context.Context, runnerID string) bool {
	m.mu.Lock()
	rc, ok := m.runners[runnerID]
	if !ok {
		m.mu.Unlock()
		return true
	}

	delete(m.runners, runnerID)
	if m.configToRunner[rc.ConfigHash] == runnerID {
		delete(m.configToRunner, rc.ConfigHash)
	}
	for sessionID := range rc.sessionUserIDs {
		delete(m.sessionToRunner, sessionID)
	}

	var boundAgents []string
	for agentID, id := range m.agentToRunner {
		if id == runnerID {
			boundAgents = append(boundAgents, agentID)
			delete(m.agentToRunner, agentID)
		}
	}
	callbacks := make([]func(string), len(m.cleanupCallbacks))
	copy(callbacks, m.cleanupCallbacks)
	droppedSessions := int64(len(rc.sessionUserIDs))
	m.mu.Unlock()

	m.addRunners(-1)
	if droppedSessions > 0 {
		m.addSessions(-droppedSessions)
	}

	clean := true
	if err := rc.Sessions.Shutdown(ctx); err != nil {
		slog.Warn("Runner session service shutdown failed", "runner_id", runnerID, "error", err)
		clean = false
	}

	// Callbacks run lock-free so the agent manager can take its own
	// locks without deadlocking.
	for _, agentID := range boundAgents {
		for _, cb := range callbacks {
			cb(agentID)
		}
	}

	slog.Info("Cleaned up runner", "runner_id", runnerID, "agents", len(boundAgents))
	return clean
}

// Shutdown cleans up every runner.
func (m *RunnerManager) Shutdown(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.runners))
	for id := range m.runners {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.CleanupRunner(ctx, id)
	}
}
