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

package tool

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aetherframe/aether/pkg/contracts"
)

// BuiltinNamespace marks tools that are always permitted.
const BuiltinNamespace = "builtin"

// CallRecorder records tool call outcomes.
type CallRecorder interface {
	RecordToolCall(toolName, status string, duration time.Duration)
}

// Service is the tool execution service: a registry of tools keyed by
// fully-qualified name, plus sync and streaming execution with parameter
// validation.
type Service struct {
	mu         sync.RWMutex
	tools      map[string]Tool
	namespaces map[string][]string // namespace -> sorted fully-qualified names
	toolsets   []Toolset
	recorder   CallRecorder

	validator *schemaValidator
}

// NewService creates an empty tool service.
func NewService() *Service {
	return &Service{
		tools:      make(map[string]Tool),
		namespaces: make(map[string][]string),
		validator:  newSchemaValidator(),
	}
}

// SetRecorder installs a metrics recorder for tool call outcomes.
func (s *Service) SetRecorder(rec CallRecorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorder = rec
}

func (s *Service) record(toolName string, status contracts.ToolStatus, start time.Time) {
	s.mu.RLock()
	rec := s.recorder
	s.mu.RUnlock()
	if rec != nil {
		rec.RecordToolCall(toolName, string(status), time.Since(start))
	}
}

// RegisterTool adds a tool under its fully-qualified name. Re-registering
// a name replaces the previous tool.
func (s *Service) RegisterTool(t Tool) error {
	def := t.Definition()
	if def == nil || def.Name == "" {
		return fmt.Errorf("tool definition requires a name")
	}

	name := def.Name
	namespace := def.Namespace
	if namespace == "" {
		if i := strings.Index(name, "."); i > 0 {
			namespace = name[:i]
		}
	}
	if namespace != "" && !strings.Contains(name, ".") {
		name = namespace + "." + name
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tools[name]; !exists {
		s.namespaces[namespace] = insertSorted(s.namespaces[namespace], name)
	}
	s.tools[name] = t
	s.validator.Invalidate(name)

	slog.Debug("Registered tool", "name", name, "namespace", namespace)
	return nil
}

// AddToolset attaches a toolset whose tools are discovered during
// Initialize.
func (s *Service) AddToolset(ts Toolset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolsets = append(s.toolsets, ts)
}

// Initialize discovers and registers tools from all attached toolsets.
// A toolset that fails discovery is logged and skipped; the service
// stays usable with the remaining tools.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.RLock()
	toolsets := make([]Toolset, len(s.toolsets))
	copy(toolsets, s.toolsets)
	s.mu.RUnlock()

	for _, ts := range toolsets {
		tools, err := ts.Tools(ctx)
		if err != nil {
			slog.Warn("Toolset discovery failed", "toolset", ts.Name(), "error", err)
			continue
		}
		for _, t := range tools {
			if err := s.RegisterTool(t); err != nil {
				slog.Warn("Skipping tool", "toolset", ts.Name(), "error", err)
			}
		}
	}
	return nil
}

// Shutdown closes toolsets and per-tool resources and clears the
// registries. Cleanup failures are logged, not surfaced.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tools {
		if closer, ok := t.(Closer); ok {
			if err := closer.Close(); err != nil {
				slog.Warn("Tool cleanup failed", "tool", t.Definition().Name, "error", err)
			}
		}
	}
	for _, ts := range s.toolsets {
		if err := ts.Close(); err != nil {
			slog.Warn("Toolset cleanup failed", "toolset", ts.Name(), "error", err)
		}
	}

	s.tools = make(map[string]Tool)
	s.namespaces = make(map[string][]string)
	s.toolsets = nil
	return nil
}

// GetTool looks up a tool by fully-qualified name.
func (s *Service) GetTool(name string) (Tool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tools[name]
	return t, ok
}

// ListTools returns all registered tool descriptors in name order.
func (s *Service) ListTools() []*contracts.UniversalTool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	// Namespaces lists are kept sorted; the flat view sorts on demand.
	sortStrings(names)

	defs := make([]*contracts.UniversalTool, 0, len(names))
	for _, name := range names {
		defs = append(defs, s.tools[name].Definition())
	}
	return defs
}

// resolve finds the tool for a request: exact fully-qualified name, then
// "<namespace>.<name>", then bare local-name scan in stable order.
func (s *Service) resolve(req *contracts.ToolRequest) (Tool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t, ok := s.tools[req.ToolName]; ok {
		return t, true
	}
	if qualified := req.QualifiedName(); qualified != req.ToolName {
		if t, ok := s.tools[qualified]; ok {
			return t, true
		}
	}

	// Bare name: first namespace in sorted order wins.
	suffix := "." + req.ToolName
	var names []string
	for name := range s.tools {
		if strings.HasSuffix(name, suffix) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, false
	}
	sortStrings(names)
	if len(names) > 1 {
		slog.Warn("Ambiguous tool name, picking first", "name", req.ToolName, "candidates", names)
	}
	return s.tools[names[0]], true
}

// Execute runs one tool invocation. Failures are reported through the
// ToolResult status, never through the error return, except for context
// cancellation of the service itself.
func (s *Service) Execute(ctx context.Context, req *contracts.ToolRequest) (*contracts.ToolResult, error) {
	start := time.Now()

	t, ok := s.resolve(req)
	if !ok {
		s.record(req.ToolName, contracts.ToolStatusNotFound, start)
		return &contracts.ToolResult{
			ToolName:     req.ToolName,
			Status:       contracts.ToolStatusNotFound,
			ErrorMessage: fmt.Sprintf("tool %q is not declared", req.ToolName),
			Metadata:     map[string]any{"error_code": contracts.CodeToolNotDeclared},
		}, nil
	}

	def := t.Definition()

	if !hasRequiredPermissions(req.UserContext, def) {
		s.record(def.Name, contracts.ToolStatusUnauthorized, start)
		return &contracts.ToolResult{
			ToolName:     def.Name,
			Status:       contracts.ToolStatusUnauthorized,
			ErrorMessage: fmt.Sprintf("missing permission for %q", def.Name),
			Metadata:     map[string]any{"error_code": contracts.CodeToolUnauthorized},
		}, nil
	}

	if err := s.validator.Validate(def.Name, def.ParametersSchema, req.Parameters); err != nil {
		s.record(def.Name, contracts.ToolStatusError, start)
		return &contracts.ToolResult{
			ToolName:     def.Name,
			Status:       contracts.ToolStatusError,
			ErrorMessage: err.Error(),
			Metadata:     map[string]any{"error_code": contracts.CodeToolInvalidParameters},
		}, nil
	}

	execCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	res, err := t.Execute(execCtx, req)
	elapsed := time.Since(start)
	if err != nil {
		status := contracts.ToolStatusError
		code := contracts.CodeToolExecution
		if errors.Is(err, context.DeadlineExceeded) {
			status = contracts.ToolStatusTimeout
			code = contracts.CodeToolTimeout
		}
		s.record(def.Name, status, start)
		return &contracts.ToolResult{
			ToolName:      def.Name,
			Status:        status,
			ErrorMessage:  err.Error(),
			ExecutionTime: elapsed,
			Metadata:      map[string]any{"error_code": code},
		}, nil
	}

	if res == nil {
		res = &contracts.ToolResult{ToolName: def.Name, Status: contracts.ToolStatusSuccess}
	}
	res.ToolName = def.Name
	res.ResultData = contracts.NormalizeResultData(res.ResultData)
	if res.ExecutionTime == 0 {
		res.ExecutionTime = elapsed
	}
	s.record(def.Name, res.Status, start)
	return res, nil
}

// ExecuteStream runs one tool invocation as a chunk stream. Tools that
// don't stream fall back to sync execution with a single final chunk
// flagged metadata.fallback_to_sync.
func (s *Service) ExecuteStream(ctx context.Context, req *contracts.ToolRequest) iter.Seq2[*Chunk, error] {
	return func(yield func(*Chunk, error) bool) {
		t, ok := s.resolve(req)
		if !ok {
			yield(&Chunk{
				Final:        true,
				Status:       contracts.ToolStatusNotFound,
				ErrorMessage: fmt.Sprintf("tool %q is not declared", req.ToolName),
				Metadata:     map[string]any{"error_code": contracts.CodeToolNotDeclared},
			}, nil)
			return
		}

		def := t.Definition()

		if !hasRequiredPermissions(req.UserContext, def) {
			yield(&Chunk{
				Final:        true,
				Status:       contracts.ToolStatusUnauthorized,
				ErrorMessage: fmt.Sprintf("missing permission for %q", def.Name),
				Metadata:     map[string]any{"error_code": contracts.CodeToolUnauthorized},
			}, nil)
			return
		}

		if err := s.validator.Validate(def.Name, def.ParametersSchema, req.Parameters); err != nil {
			yield(&Chunk{
				Final:        true,
				Status:       contracts.ToolStatusError,
				ErrorMessage: err.Error(),
				Metadata:     map[string]any{"error_code": contracts.CodeToolInvalidParameters},
			}, nil)
			return
		}

		if streaming, ok := t.(StreamingTool); ok {
			start := time.Now()
			for chunk, err := range streaming.ExecuteStream(ctx, req) {
				if err != nil {
					s.record(def.Name, contracts.ToolStatusError, start)
					yield(&Chunk{
						Final:        true,
						Status:       contracts.ToolStatusError,
						ErrorMessage: err.Error(),
						Metadata:     map[string]any{"error_code": contracts.CodeToolExecution},
					}, nil)
					return
				}
				if chunk.Status == "" {
					chunk.Status = contracts.ToolStatusSuccess
				}
				if chunk.Final {
					s.record(def.Name, chunk.Status, start)
				}
				if !yield(chunk, nil) {
					return
				}
				if chunk.Final {
					return
				}
			}
			return
		}

		res, err := s.Execute(ctx, req)
		if err != nil {
			yield(nil, err)
			return
		}
		yield(&Chunk{
			Content:      res.ResultData,
			Final:        true,
			Status:       res.Status,
			ErrorMessage: res.ErrorMessage,
			Metadata:     map[string]any{"fallback_to_sync": true},
		}, nil)
	}
}

func insertSorted(list []string, name string) []string {
	list = append(list, name)
	sortStrings(list)
	return list
}
