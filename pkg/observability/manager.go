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

// Package observability provides metrics and tracing for the service:
// an OpenTelemetry meter exported to Prometheus, a tracer, and an HTTP
// middleware. Disabled observability degrades to no-ops, never nil.
package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config tunes the observability manager.
type Config struct {
	Enabled     bool
	ServiceName string
}

// Manager owns the process's metrics recorder and tracer provider.
type Manager struct {
	config Config

	mu             sync.RWMutex
	metrics        Recorder
	tracerProvider trace.TracerProvider
}

// NewManager creates a manager. Call Initialize before use; until then
// both metrics and tracer are no-ops.
func NewManager(cfg Config) *Manager {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "aether"
	}
	return &Manager{
		config:         cfg,
		metrics:        NoopMetrics{},
		tracerProvider: noop.NewTracerProvider(),
	}
}

// Initialize builds the exporters. With Enabled=false it installs no-ops
// and succeeds.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.config.Enabled {
		return nil
	}

	metrics, err := InitMetrics(ctx, m.config.ServiceName)
	if err != nil {
		return err
	}
	m.metrics = metrics

	tp := sdktrace.NewTracerProvider()
	m.tracerProvider = tp
	otel.SetTracerProvider(tp)
	return nil
}

// Metrics returns the active recorder.
func (m *Manager) Metrics() Recorder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}

// Tracer returns a named tracer from the active provider.
func (m *Manager) Tracer(name string) trace.Tracer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tracerProvider.Tracer(name)
}

// Shutdown flushes and stops the providers.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tp, ok := m.tracerProvider.(interface{ Shutdown(context.Context) error }); ok {
		return tp.Shutdown(ctx)
	}
	return nil
}
