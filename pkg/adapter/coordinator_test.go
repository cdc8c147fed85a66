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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aetherframe/aether/pkg/contracts"
	"github.com/aetherframe/aether/pkg/session"
)

type coordFixture struct {
	runners *RunnerManager
	agents  *AgentManager
	store   *MemoryRecoveryStore
	coord   *SessionCoordinator
}

func newCoordFixture(t *testing.T) *coordFixture {
	t.Helper()
	f := &coordFixture{
		runners: newRunnerManager(t, RunnerSettings{}),
		agents:  NewAgentManager(),
		store:   NewMemoryRecoveryStore(),
	}
	f.coord = NewSessionCoordinator(CoordinatorSettings{}, f.store, f.runners, f.agents)
	f.runners.RegisterAgentCleanupCallback(f.agents.Remove)
	return f
}

// spawnAgent creates an agent with its own runner, the way the adapter
// core does on an agent-creation request.
func (f *coordFixture) spawnAgent(t *testing.T, name string) *AgentRecord {
	t.Helper()
	cfg := testAgentConfig(name)
	runnerID, _, err := f.runners.GetOrCreateRunner(context.Background(), cfg, nil, GetOrCreateOptions{AllowReuse: true})
	require.NoError(t, err)
	record := f.agents.CreateAgent(cfg, cfg.Fingerprint(), runnerID)
	f.runners.BindAgent(record.AgentID, runnerID)
	return record
}

func (f *coordFixture) sessionEvents(t *testing.T, runnerID, sessionID string) []*session.Event {
	t.Helper()
	rc, ok := f.runners.GetRunner(runnerID)
	require.True(t, ok)
	userID, ok := f.runners.SessionUserID(runnerID, sessionID)
	require.True(t, ok)
	resp, err := rc.Sessions.Get(context.Background(), &session.GetRequest{
		AppName: rc.AppName, UserID: userID, SessionID: sessionID,
	})
	require.NoError(t, err)
	return resp.Session.Events()
}

func (f *coordFixture) appendEvents(t *testing.T, runnerID, sessionID string, events ...*session.Event) {
	t.Helper()
	rc, ok := f.runners.GetRunner(runnerID)
	require.True(t, ok)
	userID, ok := f.runners.SessionUserID(runnerID, sessionID)
	require.True(t, ok)
	resp, err := rc.Sessions.Get(context.Background(), &session.GetRequest{
		AppName: rc.AppName, UserID: userID, SessionID: sessionID,
	})
	require.NoError(t, err)
	for _, ev := range events {
		require.NoError(t, rc.Sessions.AppendEvent(context.Background(), resp.Session, ev))
	}
}

func turnRequest(taskID, text string) *contracts.TaskRequest {
	return &contracts.TaskRequest{
		TaskID: taskID, TaskType: "chat", Description: text,
		Messages:    []*contracts.Message{contracts.NewUserMessage(text)},
		UserContext: &contracts.UserContext{UserID: "u1"},
	}
}

func TestCoordinate_FirstTimeBindAndReuse(t *testing.T) {
	f := newCoordFixture(t)
	agent := f.spawnAgent(t, "helper")
	ctx := context.Background()

	res1, err := f.coord.Coordinate(ctx, "chat-1", agent.AgentID, "u1", turnRequest("t1", "hi"))
	require.NoError(t, err)
	assert.False(t, res1.SwitchOccurred)
	assert.NotEmpty(t, res1.RunnerSessionID)

	// Same agent on the next turn reuses the runtime session.
	res2, err := f.coord.Coordinate(ctx, "chat-1", agent.AgentID, "u1", turnRequest("t2", "again"))
	require.NoError(t, err)
	assert.Equal(t, res1.RunnerSessionID, res2.RunnerSessionID)

	info, ok := f.coord.ChatSession("chat-1")
	require.True(t, ok)
	assert.Equal(t, agent.AgentID, info.ActiveAgentID)
	assert.Equal(t, res1.RunnerSessionID, info.ActiveRunnerSessionID)
}

func TestCoordinate_RebindAfterSessionLoss(t *testing.T) {
	f := newCoordFixture(t)
	agent := f.spawnAgent(t, "helper")
	ctx := context.Background()

	res1, err := f.coord.Coordinate(ctx, "chat-1", agent.AgentID, "u1", turnRequest("t1", "hi"))
	require.NoError(t, err)

	// The runtime session disappears underneath the coordinator.
	runnerID, ok := f.runners.RunnerBySession(res1.RunnerSessionID)
	require.True(t, ok)
	require.NoError(t, f.runners.RemoveSessionFromRunner(ctx, runnerID, res1.RunnerSessionID))

	res2, err := f.coord.Coordinate(ctx, "chat-1", agent.AgentID, "u1", turnRequest("t2", "again"))
	require.NoError(t, err)
	assert.NotEqual(t, res1.RunnerSessionID, res2.RunnerSessionID)
}

func TestCoordinate_AgentSwitchMigratesHistory(t *testing.T) {
	f := newCoordFixture(t)
	agentA := f.spawnAgent(t, "alpha")
	agentB := f.spawnAgent(t, "beta")
	ctx := context.Background()

	res1, err := f.coord.Coordinate(ctx, "chat-1", agentA.AgentID, "u1", turnRequest("t1", "hi"))
	require.NoError(t, err)

	// Conversation so far: two turns plus tool noise that must not migrate.
	f.appendEvents(t, agentA.RunnerID, res1.RunnerSessionID,
		&session.Event{Author: session.AuthorUser, Role: contracts.RoleUser, Content: "what is 2+2"},
		&session.Event{Author: "alpha", Role: contracts.RoleAssistant, Content: "calling the calculator",
			ToolCalls: []*contracts.ToolCall{{Name: "builtin.calc"}}},
		&session.Event{Author: "alpha", Role: contracts.RoleTool, Content: "4",
			ToolResults: []*contracts.ToolResult{{ToolName: "builtin.calc", Status: contracts.ToolStatusSuccess}}},
		&session.Event{Author: "alpha", Role: contracts.RoleAssistant, Content: "It is 4.", TurnComplete: true},
	)

	res2, err := f.coord.Coordinate(ctx, "chat-1", agentB.AgentID, "u1", turnRequest("t2", "now summarize"))
	require.NoError(t, err)
	assert.True(t, res2.SwitchOccurred)
	assert.Equal(t, agentA.AgentID, res2.PreviousAgentID)
	assert.Equal(t, agentB.AgentID, res2.NewAgentID)
	assert.NotEqual(t, res1.RunnerSessionID, res2.RunnerSessionID)

	// The old session is gone.
	_, ok := f.runners.RunnerBySession(res1.RunnerSessionID)
	assert.False(t, ok)

	// The new session carries the conversational turns as synthetic
	// events, with tool artifacts dropped.
	events := f.sessionEvents(t, agentB.RunnerID, res2.RunnerSessionID)
	require.Len(t, events, 2)
	assert.True(t, events[0].Synthetic)
	assert.Equal(t, contracts.RoleUser, events[0].Role)
	assert.Equal(t, "what is 2+2", events[0].Content)
	assert.Equal(t, contracts.RoleAssistant, events[1].Role)
	assert.Equal(t, "It is 4.", events[1].Content)

	info, ok := f.coord.ChatSession("chat-1")
	require.True(t, ok)
	assert.Equal(t, agentB.AgentID, info.ActiveAgentID)
	assert.False(t, info.LastSwitchAt.IsZero())
}

func TestCoordinate_SerializesTurnsPerChat(t *testing.T) {
	f := newCoordFixture(t)
	agent := f.spawnAgent(t, "helper")
	ctx := context.Background()

	const turns = 16
	done := make(chan error, turns)
	for i := 0; i < turns; i++ {
		go func() {
			_, err := f.coord.Coordinate(ctx, "chat-1", agent.AgentID, "u1", turnRequest("t", "hi"))
			done <- err
		}()
	}
	for i := 0; i < turns; i++ {
		require.NoError(t, <-done)
	}

	// Every turn landed on the one bound session.
	info, ok := f.coord.ChatSession("chat-1")
	require.True(t, ok)
	assert.Equal(t, 1, f.runners.RunnerSessionCount(info.ActiveRunnerID))
}

func TestSweep_EvictsIdleSessionAndArchives(t *testing.T) {
	f := newCoordFixture(t)
	agent := f.spawnAgent(t, "helper")
	ctx := context.Background()

	base := time.Now()
	f.coord.now = func() time.Time { return base }

	res, err := f.coord.Coordinate(ctx, "chat-1", agent.AgentID, "u1", turnRequest("t1", "hi"))
	require.NoError(t, err)
	f.appendEvents(t, agent.RunnerID, res.RunnerSessionID,
		&session.Event{Author: session.AuthorUser, Role: contracts.RoleUser, Content: "remember me"},
		&session.Event{Author: "helper", Role: contracts.RoleAssistant, Content: "I will.", TurnComplete: true},
	)

	f.coord.now = func() time.Time { return base.Add(31 * time.Minute) }
	f.coord.Sweep(ctx)

	// The chat is cleared; its runtime session is gone.
	_, ok := f.coord.ChatSession("chat-1")
	assert.False(t, ok)
	_, ok = f.runners.RunnerBySession(res.RunnerSessionID)
	assert.False(t, ok)

	// The history survived in the recovery store.
	record, err := f.store.Load(ctx, "chat-1")
	require.NoError(t, err)
	assert.Equal(t, agent.AgentID, record.AgentID)
	require.Len(t, record.ChatHistory, 2)
	assert.Equal(t, "remember me", record.ChatHistory[0].Content)

	// The next turn surfaces the cleared state.
	_, err = f.coord.Coordinate(ctx, "chat-1", agent.AgentID, "u1", turnRequest("t2", "hello?"))
	var cleared *SessionClearedError
	require.ErrorAs(t, err, &cleared)
	assert.Equal(t, "chat-1", cleared.ChatSessionID)
}

func TestSweep_SkipsActiveChats(t *testing.T) {
	f := newCoordFixture(t)
	agent := f.spawnAgent(t, "helper")
	ctx := context.Background()

	base := time.Now()
	f.coord.now = func() time.Time { return base }
	_, err := f.coord.Coordinate(ctx, "chat-1", agent.AgentID, "u1", turnRequest("t1", "hi"))
	require.NoError(t, err)

	// Simulate an in-flight turn holding the chat lock.
	release := f.coord.lockChat("chat-1")
	defer release()

	f.coord.now = func() time.Time { return base.Add(31 * time.Minute) }
	f.coord.Sweep(ctx)

	_, ok := f.coord.ChatSession("chat-1")
	assert.True(t, ok, "busy chats must not be evicted")
}

func TestSweep_BusyChatNeverBlocksOrLosesActivity(t *testing.T) {
	f := newCoordFixture(t)
	agent := f.spawnAgent(t, "helper")
	ctx := context.Background()

	base := time.Now()
	f.coord.now = func() time.Time { return base }
	_, err := f.coord.Coordinate(ctx, "chat-1", agent.AgentID, "u1", turnRequest("t1", "hi"))
	require.NoError(t, err)

	f.coord.now = func() time.Time { return base.Add(31 * time.Minute) }

	// A turn is in flight; the sweeper must return without waiting for
	// the chat lock.
	release, ok := f.coord.tryLockChat("chat-1")
	require.True(t, ok)

	done := make(chan struct{})
	go func() {
		f.coord.Sweep(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper blocked on a busy chat")
	}
	_, ok = f.coord.ChatSession("chat-1")
	require.True(t, ok)

	// The turn completes and stamps fresh activity before releasing the
	// lock; the next sweep must leave the chat alone.
	info, ok := f.coord.ChatSession("chat-1")
	require.True(t, ok)
	f.coord.mu.Lock()
	info.LastActivity = f.coord.now()
	f.coord.mu.Unlock()
	release()

	f.coord.Sweep(ctx)
	_, ok = f.coord.ChatSession("chat-1")
	assert.True(t, ok, "a just-active chat must not be evicted")

	// Once genuinely idle again, eviction proceeds.
	f.coord.now = func() time.Time { return base.Add(62 * time.Minute) }
	f.coord.Sweep(ctx)
	_, ok = f.coord.ChatSession("chat-1")
	assert.False(t, ok)
}

func TestRecovery_RoundTrip(t *testing.T) {
	f := newCoordFixture(t)
	agent := f.spawnAgent(t, "helper")
	ctx := context.Background()

	base := time.Now()
	f.coord.now = func() time.Time { return base }
	res, err := f.coord.Coordinate(ctx, "chat-1", agent.AgentID, "u1", turnRequest("t1", "hi"))
	require.NoError(t, err)
	f.appendEvents(t, agent.RunnerID, res.RunnerSessionID,
		&session.Event{Author: session.AuthorUser, Role: contracts.RoleUser, Content: "my name is Ada"},
		&session.Event{Author: "helper", Role: contracts.RoleAssistant, Content: "Hello Ada.", TurnComplete: true},
	)

	f.coord.now = func() time.Time { return base.Add(31 * time.Minute) }
	f.coord.Sweep(ctx)

	_, err = f.coord.Coordinate(ctx, "chat-1", agent.AgentID, "u1", turnRequest("t2", "who am I?"))
	require.Error(t, err)

	record, err := f.coord.RecoverChatSession(ctx, "chat-1")
	require.NoError(t, err)
	assert.Len(t, record.ChatHistory, 2)

	res2, err := f.coord.Coordinate(ctx, "chat-1", agent.AgentID, "u1", turnRequest("t3", "who am I?"))
	require.NoError(t, err)
	assert.True(t, res2.Recovered)

	// History was re-injected as synthetic events.
	runnerID, ok := f.runners.RunnerBySession(res2.RunnerSessionID)
	require.True(t, ok)
	events := f.sessionEvents(t, runnerID, res2.RunnerSessionID)
	require.Len(t, events, 2)
	assert.True(t, events[0].Synthetic)
	assert.Equal(t, "my name is Ada", events[0].Content)

	// The record is purged; the chat is live again.
	_, err = f.store.Load(ctx, "chat-1")
	assert.ErrorIs(t, err, ErrRecoveryNotFound)
	_, err = f.coord.Coordinate(ctx, "chat-1", agent.AgentID, "u1", turnRequest("t4", "ok"))
	require.NoError(t, err)
}

func TestRecovery_MissingRecord(t *testing.T) {
	f := newCoordFixture(t)
	_ = f.spawnAgent(t, "helper")

	_, err := f.coord.RecoverChatSession(context.Background(), "never-existed")
	assert.ErrorIs(t, err, ErrRecoveryNotFound)
}

func TestSweep_CleansIdleRunnersAndAgents(t *testing.T) {
	f := newCoordFixture(t)
	agent := f.spawnAgent(t, "helper")
	ctx := context.Background()

	// Push the sweeper's clock past every timeout. Runner and agent
	// last-activity stamps are real time, so a far-future clock makes
	// them idle.
	f.coord.now = func() time.Time { return time.Now().Add(24 * time.Hour) }
	f.coord.Sweep(ctx)

	_, ok := f.runners.GetRunner(agent.RunnerID)
	assert.False(t, ok)
	_, ok = f.agents.Get(agent.AgentID)
	assert.False(t, ok, "runner cleanup cascades to the agent registry")
}
