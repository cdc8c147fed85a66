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

package framework

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aetherframe/aether/pkg/contracts"
	"github.com/aetherframe/aether/pkg/stream"
)

type fakeAdapter struct {
	ft        contracts.FrameworkType
	initCalls int
	initErr   error
	shutdowns int
	settings  map[string]any
}

func (f *fakeAdapter) FrameworkType() contracts.FrameworkType { return f.ft }

func (f *fakeAdapter) ExecuteTask(ctx context.Context, req *contracts.TaskRequest, strategy *contracts.ExecutionStrategy) (*contracts.TaskResult, error) {
	return &contracts.TaskResult{TaskID: req.TaskID, Status: contracts.TaskStatusSuccess}, nil
}

func (f *fakeAdapter) ExecuteTaskLive(ctx context.Context, req *contracts.TaskRequest, execCtx *contracts.ExecutionContext) (*stream.Session, stream.Communicator, error) {
	s, p := stream.NewSession(req.TaskID, stream.Options{})
	go p.Complete(nil)
	return s, s.Communicator(), nil
}

func (f *fakeAdapter) SupportsLiveExecution() bool { return true }

func (f *fakeAdapter) IsAvailable(context.Context) bool { return true }

func (f *fakeAdapter) Initialize(ctx context.Context, settings map[string]any) error {
	f.initCalls++
	f.settings = settings
	return f.initErr
}

func (f *fakeAdapter) Shutdown(context.Context) error {
	f.shutdowns++
	return nil
}

func TestRegistry_LazyInitOnce(t *testing.T) {
	r := NewRegistry()
	a := &fakeAdapter{ft: contracts.FrameworkAether}
	settings := map[string]any{"k": "v"}
	require.NoError(t, r.RegisterAdapter(contracts.FrameworkAether, a, settings))

	got, err := r.GetAdapter(context.Background(), contracts.FrameworkAether)
	require.NoError(t, err)
	assert.Same(t, a, got)

	_, err = r.GetAdapter(context.Background(), contracts.FrameworkAether)
	require.NoError(t, err)
	assert.Equal(t, 1, a.initCalls)
	assert.Equal(t, settings, a.settings)
}

func TestRegistry_MissingFramework(t *testing.T) {
	r := NewRegistry()
	_, err := r.GetAdapter(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, contracts.CodeFrameworkUnavailable, contracts.AsError(err, "").Code)
}

func TestRegistry_InitErrorPropagates(t *testing.T) {
	r := NewRegistry()
	a := &fakeAdapter{ft: contracts.FrameworkAether, initErr: fmt.Errorf("no backend")}
	require.NoError(t, r.RegisterAdapter(contracts.FrameworkAether, a, nil))

	_, err := r.GetAdapter(context.Background(), contracts.FrameworkAether)
	require.Error(t, err)

	// Second lookup returns the same failure without re-initializing.
	_, err = r.GetAdapter(context.Background(), contracts.FrameworkAether)
	require.Error(t, err)
	assert.Equal(t, 1, a.initCalls)
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterAdapter(contracts.FrameworkAether, &fakeAdapter{}, nil))
	assert.Error(t, r.RegisterAdapter(contracts.FrameworkAether, &fakeAdapter{}, nil))
}

func TestRegistry_ShutdownAll(t *testing.T) {
	r := NewRegistry()
	a := &fakeAdapter{ft: contracts.FrameworkAether}
	b := &fakeAdapter{ft: "other"}
	require.NoError(t, r.RegisterAdapter(contracts.FrameworkAether, a, nil))
	require.NoError(t, r.RegisterAdapter("other", b, nil))

	require.NoError(t, r.InitializeAll(context.Background()))
	require.NoError(t, r.ShutdownAll(context.Background()))
	assert.Equal(t, 1, a.shutdowns)
	assert.Equal(t, 1, b.shutdowns)

	assert.Equal(t, []contracts.FrameworkType{contracts.FrameworkAether, "other"}, r.AvailableFrameworks())
}
