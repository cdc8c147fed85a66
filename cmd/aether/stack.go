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

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aetherframe/aether/pkg/adapter"
	"github.com/aetherframe/aether/pkg/assistant"
	"github.com/aetherframe/aether/pkg/config"
	"github.com/aetherframe/aether/pkg/contracts"
	"github.com/aetherframe/aether/pkg/engine"
	"github.com/aetherframe/aether/pkg/framework"
	"github.com/aetherframe/aether/pkg/model"
	"github.com/aetherframe/aether/pkg/observability"
	"github.com/aetherframe/aether/pkg/router"
	"github.com/aetherframe/aether/pkg/stream"
	"github.com/aetherframe/aether/pkg/tool"
	"github.com/aetherframe/aether/pkg/tool/builtin"
	"github.com/aetherframe/aether/pkg/tool/mcptool"
)

// Stack is the assembled service: assistant facade plus the shared
// infrastructure it runs on.
type Stack struct {
	Assistant     *assistant.Assistant
	Tools         *tool.Service
	Observability *observability.Manager
}

// buildStack wires tools, recovery store, adapter, engine, and
// observability from the configuration.
func buildStack(ctx context.Context, cfg *config.Config) (*Stack, error) {
	obs := observability.NewManager(observability.Config{
		Enabled:     cfg.Observability.Enabled,
		ServiceName: cfg.Observability.ServiceName,
	})
	if err := obs.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}

	tools, err := buildToolService(ctx, cfg.Tools)
	if err != nil {
		return nil, err
	}
	tools.SetRecorder(obs.Metrics())

	store, err := buildRecoveryStore(cfg.Recovery)
	if err != nil {
		return nil, err
	}

	settings := adapter.Settings{
		Runner: adapter.RunnerSettings{
			AppName:             cfg.Runtime.AppName,
			DefaultUserID:       cfg.Runtime.DefaultUserID,
			MaxSessionsPerAgent: cfg.Runtime.MaxSessionsPerAgent,
		},
		Coordinator: adapter.CoordinatorSettings{
			SessionIdleTimeout:     cfg.Runtime.SessionIdleTimeout,
			RunnerIdleTimeout:      cfg.Runtime.RunnerIdleTimeout,
			AgentIdleTimeout:       cfg.Runtime.AgentIdleTimeout,
			CheckInterval:          cfg.Runtime.CheckInterval,
			ImmediateRunnerCleanup: cfg.Runtime.ImmediateRunnerCleanup,
		},
		Stream: stream.Options{
			ApprovalTimeout: cfg.Stream.ApprovalTimeout,
			TimeoutPolicy:   stream.TimeoutPolicy(cfg.Stream.TimeoutPolicy),
			Buffer:          cfg.Stream.Buffer,
		},
	}

	core := adapter.NewCore(settings, model.ScriptedFactory, tools, store)
	core.SetRecorder(obs.Metrics())

	reg := framework.NewRegistry()
	if err := reg.RegisterAdapter(contracts.FrameworkAether, core, nil); err != nil {
		return nil, fmt.Errorf("failed to register runtime adapter: %w", err)
	}

	e := engine.New(router.New(contracts.FrameworkAether), reg,
		engine.WithRecorder(obs.Metrics()),
		engine.WithTracer(obs.Tracer("engine")))
	return &Stack{
		Assistant:     assistant.New(e),
		Tools:         tools,
		Observability: obs,
	}, nil
}

// Close tears the stack down in reverse order.
func (s *Stack) Close() {
	ctx := context.Background()
	if err := s.Assistant.Shutdown(ctx); err != nil {
		slog.Warn("Assistant shutdown failed", "error", err)
	}
	if err := s.Tools.Shutdown(ctx); err != nil {
		slog.Warn("Tool service shutdown failed", "error", err)
	}
	if err := s.Observability.Shutdown(ctx); err != nil {
		slog.Warn("Observability shutdown failed", "error", err)
	}
}

func buildToolService(ctx context.Context, cfg config.ToolsConfig) (*tool.Service, error) {
	tools := tool.NewService()

	if cfg.BuiltinEnabled() {
		for _, bt := range builtin.All() {
			if err := tools.RegisterTool(bt); err != nil {
				return nil, fmt.Errorf("failed to register builtin tool: %w", err)
			}
		}
	}

	for _, srv := range cfg.MCPServers {
		transport := ""
		if srv.Transport == "stdio" {
			transport = "stdio"
		}
		client, err := mcptool.New(mcptool.Config{
			Name:            srv.Name,
			URL:             srv.URL,
			Transport:       transport,
			Command:         srv.Command,
			Args:            srv.Args,
			Env:             srv.Env,
			Headers:         srv.Headers,
			ToolHeaders:     srv.ToolHeaders,
			RequireApproval: srv.RequireApproval,
			MaxRetries:      srv.MaxRetries,
			StreamTimeout:   srv.StreamTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("mcp server %q: %w", srv.Name, err)
		}
		tools.AddToolset(client)
		slog.Info("Registered MCP tool server", "name", srv.Name, "transport", srv.Transport)
	}

	if err := tools.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize tools: %w", err)
	}
	return tools, nil
}

func buildRecoveryStore(cfg config.RecoveryConfig) (adapter.RecoveryStore, error) {
	switch cfg.Backend {
	case "sqlite":
		store, err := adapter.NewSQLiteRecoveryStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open recovery store: %w", err)
		}
		slog.Info("Session recovery persistence enabled", "backend", "sqlite", "path", cfg.Path)
		return store, nil
	default:
		return adapter.NewMemoryRecoveryStore(), nil
	}
}
