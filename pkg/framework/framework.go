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

// Package framework defines the adapter contract binding the neutral
// task interface to a concrete agent runtime, and the registry that owns
// adapter instances.
package framework

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aetherframe/aether/pkg/contracts"
	"github.com/aetherframe/aether/pkg/registry"
	"github.com/aetherframe/aether/pkg/stream"
)

// Adapter executes tasks on one agent runtime.
type Adapter interface {
	// FrameworkType identifies the runtime this adapter binds.
	FrameworkType() contracts.FrameworkType

	// ExecuteTask runs one request to completion. Failures are reported
	// through the TaskResult envelope; the error return is reserved for
	// transport-level breakage.
	ExecuteTask(ctx context.Context, req *contracts.TaskRequest, strategy *contracts.ExecutionStrategy) (*contracts.TaskResult, error)

	// ExecuteTaskLive starts a streaming execution and returns the
	// consumer half plus its back-channel.
	ExecuteTaskLive(ctx context.Context, req *contracts.TaskRequest, execCtx *contracts.ExecutionContext) (*stream.Session, stream.Communicator, error)

	// SupportsLiveExecution reports whether ExecuteTaskLive is usable.
	SupportsLiveExecution() bool

	// IsAvailable reports adapter health.
	IsAvailable(ctx context.Context) bool

	// Initialize prepares the adapter. Called once, lazily, before first
	// use.
	Initialize(ctx context.Context, settings map[string]any) error

	// Shutdown releases adapter resources.
	Shutdown(ctx context.Context) error
}

// entry pairs an adapter with its settings and one-time initialization
// state.
type entry struct {
	adapter  Adapter
	settings map[string]any

	initOnce sync.Once
	initErr  error
}

// Registry owns adapter instances keyed by framework type. Adapters are
// initialized lazily on first GetAdapter; initialization errors are
// propagated, not swallowed, and re-returned on subsequent lookups.
type Registry struct {
	entries *registry.BaseRegistry[*entry]
}

// NewRegistry creates an empty framework registry.
func NewRegistry() *Registry {
	return &Registry{entries: registry.NewBaseRegistry[*entry]()}
}

// RegisterAdapter adds an adapter with its initialization settings.
func (r *Registry) RegisterAdapter(ft contracts.FrameworkType, adapter Adapter, settings map[string]any) error {
	if adapter == nil {
		return fmt.Errorf("adapter for %q is nil", ft)
	}
	return r.entries.Register(string(ft), &entry{adapter: adapter, settings: settings})
}

// GetAdapter returns the initialized adapter for a framework, running
// Initialize on first access.
func (r *Registry) GetAdapter(ctx context.Context, ft contracts.FrameworkType) (Adapter, error) {
	e, ok := r.entries.Get(string(ft))
	if !ok {
		return nil, contracts.NewError(contracts.CodeFrameworkUnavailable,
			"framework_registry.get_adapter", "framework %q is not registered", ft)
	}

	e.initOnce.Do(func() {
		if err := e.adapter.Initialize(ctx, e.settings); err != nil {
			e.initErr = err
			slog.Error("Adapter initialization failed", "framework", ft, "error", err)
		}
	})
	if e.initErr != nil {
		return nil, contracts.NewError(contracts.CodeFrameworkUnavailable,
			"framework_registry.get_adapter", "framework %q failed to initialize: %v", ft, e.initErr)
	}
	return e.adapter, nil
}

// AvailableFrameworks lists registered framework types in sorted order.
func (r *Registry) AvailableFrameworks() []contracts.FrameworkType {
	names := r.entries.Names()
	out := make([]contracts.FrameworkType, 0, len(names))
	for _, name := range names {
		out = append(out, contracts.FrameworkType(name))
	}
	return out
}

// InitializeAll eagerly initializes every registered adapter, failing on
// the first error.
func (r *Registry) InitializeAll(ctx context.Context) error {
	for _, ft := range r.AvailableFrameworks() {
		if _, err := r.GetAdapter(ctx, ft); err != nil {
			return err
		}
	}
	return nil
}

// ShutdownAll shuts down every adapter. Failures are logged and the
// remaining adapters are still shut down; the first error is returned.
func (r *Registry) ShutdownAll(ctx context.Context) error {
	var firstErr error
	for _, e := range r.entries.List() {
		if err := e.adapter.Shutdown(ctx); err != nil {
			slog.Warn("Adapter shutdown failed", "framework", e.adapter.FrameworkType(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
