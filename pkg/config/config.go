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

// Package config defines the service configuration and its loader.
//
// Configuration is layered: built-in defaults, then a YAML file, then
// AETHER_* environment variables. A running loader can watch the file
// and deliver reloaded configs through an OnChange hook.
package config

import (
	"fmt"
	"time"
)

// Config is the root service configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server" yaml:"server"`
	Logging       LoggingConfig       `koanf:"logging" yaml:"logging"`
	Runtime       RuntimeConfig       `koanf:"runtime" yaml:"runtime"`
	Stream        StreamConfig        `koanf:"stream" yaml:"stream"`
	Tools         ToolsConfig         `koanf:"tools" yaml:"tools"`
	Recovery      RecoveryConfig      `koanf:"recovery" yaml:"recovery"`
	Observability ObservabilityConfig `koanf:"observability" yaml:"observability"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host         string        `koanf:"host" yaml:"host"`
	Port         int           `koanf:"port" yaml:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `koanf:"idle_timeout" yaml:"idle_timeout"`
}

// Address returns the listen address.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level" yaml:"level"`

	// Format is text or json.
	Format string `koanf:"format" yaml:"format"`
}

// RuntimeConfig tunes the agent runtime: runner pooling and session
// lifecycle.
type RuntimeConfig struct {
	AppName             string `koanf:"app_name" yaml:"app_name"`
	DefaultUserID       string `koanf:"default_user_id" yaml:"default_user_id"`
	MaxSessionsPerAgent int    `koanf:"max_sessions_per_agent" yaml:"max_sessions_per_agent"`

	SessionIdleTimeout     time.Duration `koanf:"session_idle_timeout" yaml:"session_idle_timeout"`
	RunnerIdleTimeout      time.Duration `koanf:"runner_idle_timeout" yaml:"runner_idle_timeout"`
	AgentIdleTimeout       time.Duration `koanf:"agent_idle_timeout" yaml:"agent_idle_timeout"`
	CheckInterval          time.Duration `koanf:"check_interval" yaml:"check_interval"`
	ImmediateRunnerCleanup bool          `koanf:"immediate_runner_cleanup" yaml:"immediate_runner_cleanup"`
}

// StreamConfig tunes live sessions.
type StreamConfig struct {
	ApprovalTimeout time.Duration `koanf:"approval_timeout" yaml:"approval_timeout"`

	// TimeoutPolicy is auto_cancel, auto_approve, or error.
	TimeoutPolicy string `koanf:"timeout_policy" yaml:"timeout_policy"`

	Buffer int `koanf:"buffer" yaml:"buffer"`
}

// ToolsConfig configures the tool subsystem.
type ToolsConfig struct {
	// Builtin toggles registration of the builtin toolset. On by default.
	Builtin *bool `koanf:"builtin" yaml:"builtin"`

	MCPServers []MCPServerConfig `koanf:"mcp_servers" yaml:"mcp_servers"`
}

// BuiltinEnabled reports whether builtin tools should be registered.
func (t ToolsConfig) BuiltinEnabled() bool {
	return t.Builtin == nil || *t.Builtin
}

// MCPServerConfig describes one remote MCP tool server.
type MCPServerConfig struct {
	Name      string `koanf:"name" yaml:"name"`
	Transport string `koanf:"transport" yaml:"transport"` // http or stdio
	URL       string `koanf:"url" yaml:"url"`

	Command string   `koanf:"command" yaml:"command"`
	Args    []string `koanf:"args" yaml:"args"`
	Env     map[string]string `koanf:"env" yaml:"env"`

	Headers     map[string]string            `koanf:"headers" yaml:"headers"`
	ToolHeaders map[string]map[string]string `koanf:"tool_headers" yaml:"tool_headers"`

	RequireApproval []string `koanf:"require_approval" yaml:"require_approval"`

	MaxRetries    int           `koanf:"max_retries" yaml:"max_retries"`
	StreamTimeout time.Duration `koanf:"stream_timeout" yaml:"stream_timeout"`
}

// RecoveryConfig configures the chat-session recovery store.
type RecoveryConfig struct {
	// Backend is memory or sqlite.
	Backend string `koanf:"backend" yaml:"backend"`

	// Path is the sqlite database file, for the sqlite backend.
	Path string `koanf:"path" yaml:"path"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	Enabled     bool   `koanf:"enabled" yaml:"enabled"`
	ServiceName string `koanf:"service_name" yaml:"service_name"`
	MetricsPath string `koanf:"metrics_path" yaml:"metrics_path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Runtime: RuntimeConfig{
			AppName:             "aether",
			DefaultUserID:       "anonymous",
			MaxSessionsPerAgent: 16,
			SessionIdleTimeout:  30 * time.Minute,
			CheckInterval:       time.Minute,
		},
		Stream: StreamConfig{
			ApprovalTimeout: 60 * time.Second,
			TimeoutPolicy:   "auto_cancel",
			Buffer:          32,
		},
		Recovery: RecoveryConfig{
			Backend: "memory",
		},
		Observability: ObservabilityConfig{
			ServiceName: "aether",
			MetricsPath: "/metrics",
		},
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}
	switch c.Stream.TimeoutPolicy {
	case "", "auto_cancel", "auto_approve", "error":
	default:
		return fmt.Errorf("stream.timeout_policy %q must be auto_cancel, auto_approve, or error", c.Stream.TimeoutPolicy)
	}
	switch c.Recovery.Backend {
	case "", "memory", "sqlite":
	default:
		return fmt.Errorf("recovery.backend %q must be memory or sqlite", c.Recovery.Backend)
	}
	if c.Recovery.Backend == "sqlite" && c.Recovery.Path == "" {
		return fmt.Errorf("recovery.path is required for the sqlite backend")
	}
	for i, srv := range c.Tools.MCPServers {
		if srv.Name == "" {
			return fmt.Errorf("tools.mcp_servers[%d]: name is required", i)
		}
		switch srv.Transport {
		case "", "http":
			if srv.URL == "" {
				return fmt.Errorf("tools.mcp_servers[%d] %q: url is required for http transport", i, srv.Name)
			}
		case "stdio":
			if srv.Command == "" {
				return fmt.Errorf("tools.mcp_servers[%d] %q: command is required for stdio transport", i, srv.Name)
			}
		default:
			return fmt.Errorf("tools.mcp_servers[%d] %q: transport %q must be http or stdio", i, srv.Name, srv.Transport)
		}
	}
	return nil
}
