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
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aetherframe/aether/pkg/contracts"
)

// AgentRecord is the manager's record of one created agent.
type AgentRecord struct {
	AgentID    string
	ConfigHash string
	Config     *contracts.AgentConfig
	RunnerID   string

	CreatedAt    time.Time
	LastActivity time.Time
}

// AgentManager owns the agent registry. Agents are created by the
// adapter on AgentCreation requests and removed on idle cleanup or when
// their backing runner is cleaned up.
type AgentManager struct {
	mu       sync.RWMutex
	agents   map[string]*AgentRecord
	byConfig map[string]string // config hash -> agent id
	recorder PoolRecorder
}

// NewAgentManager creates an empty agent registry.
func NewAgentManager() *AgentManager {
	return &AgentManager{
		agents:   make(map[string]*AgentRecord),
		byConfig: make(map[string]string),
	}
}

// SetRecorder installs a gauge recorder for registry movements.
func (m *AgentManager) SetRecorder(rec PoolRecorder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorder = rec
}

func (m *AgentManager) addAgents(delta int64) {
	m.mu.RLock()
	rec := m.recorder
	m.mu.RUnlock()
	if rec != nil {
		rec.AddAgents(delta)
	}
}

// CreateAgent registers a new agent bound to a runner.
func (m *AgentManager) CreateAgent(cfg *contracts.AgentConfig, configHash, runnerID string) *AgentRecord {
	now := time.Now()
	record := &AgentRecord{
		AgentID:      fmt.Sprintf("agent_%s", uuid.NewString()),
		ConfigHash:   configHash,
		Config:       cfg,
		RunnerID:     runnerID,
		CreatedAt:    now,
		LastActivity: now,
	}

	m.mu.Lock()
	m.agents[record.AgentID] = record
	m.byConfig[configHash] = record.AgentID
	m.mu.Unlock()
	m.addAgents(1)
	return record
}

// Get returns the record for an agent id.
func (m *AgentManager) Get(agentID string) (*AgentRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.agents[agentID]
	return record, ok
}

// ByConfigHash returns the agent already created for a config
// fingerprint, for runner-sharing reuse.
func (m *AgentManager) ByConfigHash(configHash string) (*AgentRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byConfig[configHash]
	if !ok {
		return nil, false
	}
	record, ok := m.agents[id]
	return record, ok
}

// Remove drops an agent from the registry. Safe to call from runner
// cleanup callbacks; the manager takes only its own lock.
func (m *AgentManager) Remove(agentID string) {
	m.mu.Lock()
	record, ok := m.agents[agentID]
	if ok {
		delete(m.agents, agentID)
		if m.byConfig[record.ConfigHash] == agentID {
			delete(m.byConfig, record.ConfigHash)
		}
	}
	m.mu.Unlock()
	if ok {
		m.addAgents(-1)
	}
}

// MarkActivity stamps an agent's last-activity time.
func (m *AgentManager) MarkActivity(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record, ok := m.agents[agentID]; ok {
		record.LastActivity = time.Now()
	}
}

// IdleAgents returns agent ids idle since before the cutoff.
func (m *AgentManager) IdleAgents(cutoff time.Time) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for id, record := range m.agents {
		if record.LastActivity.Before(cutoff) {
			out = append(out, id)
		}
	}
	return out
}

// Count returns the number of registered agents.
func (m *AgentManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.agents)
}
