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

package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Recorder records runtime metrics. Implementations must be safe for
// concurrent use.
type Recorder interface {
	// Task metrics.
	RecordTask(framework, requestMode, status string, duration time.Duration)

	// Tool metrics.
	RecordToolCall(toolName, status string, duration time.Duration)

	// Pool gauges.
	AddRunners(delta int64)
	AddSessions(delta int64)
	AddAgents(delta int64)

	// Stream metrics.
	RecordStreamChunk(chunkType string)

	// HTTP metrics.
	RecordHTTPRequest(method, path string, statusCode int, duration time.Duration)

	// Handler serves the metrics scrape endpoint.
	Handler() http.Handler
}

// Metrics is the OpenTelemetry Recorder backed by a Prometheus exporter.
type Metrics struct {
	taskDuration metric.Float64Histogram
	tasks        metric.Int64Counter

	toolDuration metric.Float64Histogram
	toolCalls    metric.Int64Counter

	runnersActive  metric.Int64UpDownCounter
	sessionsActive metric.Int64UpDownCounter
	agentsActive   metric.Int64UpDownCounter

	streamChunks metric.Int64Counter

	httpDuration metric.Float64Histogram
	httpRequests metric.Int64Counter
}

// InitMetrics builds the Prometheus-backed recorder.
func InitMetrics(ctx context.Context, serviceName string) (*Metrics, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(serviceName)

	m := &Metrics{}

	if m.taskDuration, err = meter.Float64Histogram(
		"aether_task_duration_seconds",
		metric.WithDescription("Task execution duration in seconds"),
	); err != nil {
		return nil, err
	}
	if m.tasks, err = meter.Int64Counter(
		"aether_tasks_total",
		metric.WithDescription("Total tasks executed"),
	); err != nil {
		return nil, err
	}
	if m.toolDuration, err = meter.Float64Histogram(
		"aether_tool_duration_seconds",
		metric.WithDescription("Tool execution duration in seconds"),
	); err != nil {
		return nil, err
	}
	if m.toolCalls, err = meter.Int64Counter(
		"aether_tool_calls_total",
		metric.WithDescription("Total tool calls"),
	); err != nil {
		return nil, err
	}
	if m.runnersActive, err = meter.Int64UpDownCounter(
		"aether_runners_active",
		metric.WithDescription("Live runners in the pool"),
	); err != nil {
		return nil, err
	}
	if m.sessionsActive, err = meter.Int64UpDownCounter(
		"aether_sessions_active",
		metric.WithDescription("Live runtime sessions"),
	); err != nil {
		return nil, err
	}
	if m.agentsActive, err = meter.Int64UpDownCounter(
		"aether_agents_active",
		metric.WithDescription("Registered agents"),
	); err != nil {
		return nil, err
	}
	if m.streamChunks, err = meter.Int64Counter(
		"aether_stream_chunks_total",
		metric.WithDescription("Total live stream chunks emitted"),
	); err != nil {
		return nil, err
	}
	if m.httpDuration, err = meter.Float64Histogram(
		"aether_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	); err != nil {
		return nil, err
	}
	if m.httpRequests, err = meter.Int64Counter(
		"aether_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) RecordTask(framework, requestMode, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("framework", framework),
		attribute.String("request_mode", requestMode),
		attribute.String("status", status),
	)
	m.tasks.Add(context.Background(), 1, attrs)
	m.taskDuration.Record(context.Background(), duration.Seconds(), attrs)
}

func (m *Metrics) RecordToolCall(toolName, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("tool", toolName),
		attribute.String("status", status),
	)
	m.toolCalls.Add(context.Background(), 1, attrs)
	m.toolDuration.Record(context.Background(), duration.Seconds(), attrs)
}

func (m *Metrics) AddRunners(delta int64) {
	m.runnersActive.Add(context.Background(), delta)
}

func (m *Metrics) AddSessions(delta int64) {
	m.sessionsActive.Add(context.Background(), delta)
}

func (m *Metrics) AddAgents(delta int64) {
	m.agentsActive.Add(context.Background(), delta)
}

func (m *Metrics) RecordStreamChunk(chunkType string) {
	m.streamChunks.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("chunk_type", chunkType)))
}

func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", statusCode),
	)
	m.httpRequests.Add(context.Background(), 1, attrs)
	m.httpDuration.Record(context.Background(), duration.Seconds(), attrs)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// NoopMetrics is the Recorder used when observability is disabled.
type NoopMetrics struct{}

func (NoopMetrics) RecordTask(_, _, _ string, _ time.Duration)              {}
func (NoopMetrics) RecordToolCall(_, _ string, _ time.Duration)             {}
func (NoopMetrics) AddRunners(_ int64)                                      {}
func (NoopMetrics) AddSessions(_ int64)                                     {}
func (NoopMetrics) AddAgents(_ int64)                                       {}
func (NoopMetrics) RecordStreamChunk(_ string)                              {}
func (NoopMetrics) RecordHTTPRequest(_, _ string, _ int, _ time.Duration)   {}

// Handler answers 503 so scrapers notice metrics are off.
func (NoopMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("metrics not enabled"))
	})
}

var (
	_ Recorder = (*Metrics)(nil)
	_ Recorder = NoopMetrics{}
)
