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
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/aetherframe/aether/pkg/contracts"
)

// NotFoundError reports an unresolvable or denied tool name. Suggestions
// carries near-miss candidates for error messages.
type NotFoundError struct {
	Name        string
	Denied      bool
	Suggestions []string
}

func (e *NotFoundError) Error() string {
	if e.Denied {
		return fmt.Sprintf("access denied for tool %q", e.Name)
	}
	if len(e.Suggestions) > 0 {
		return fmt.Sprintf("tool %q not found, did you mean one of %v", e.Name, e.Suggestions)
	}
	return fmt.Sprintf("tool %q not found", e.Name)
}

// Resolver maps user-friendly tool names to registered tools.
//
// Priority order: exact fully-qualified match, then any tool whose name
// ends with ".<name>", then substring match on the local part. Ambiguous
// matches pick the first candidate in sorted order with a warning.
type Resolver struct {
	service *Service
}

// NewResolver creates a resolver over the given service.
func NewResolver(service *Service) *Resolver {
	return &Resolver{service: service}
}

// Resolve maps each name to a tool descriptor, applying permission
// filtering. The first unresolvable or denied name aborts with a
// NotFoundError.
func (r *Resolver) Resolve(names []string, userCtx *contracts.UserContext) ([]*contracts.UniversalTool, error) {
	defs := make([]*contracts.UniversalTool, 0, len(names))
	for _, name := range names {
		def, err := r.ResolveOne(name, userCtx)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// ResolveOne resolves a single name.
func (r *Resolver) ResolveOne(name string, userCtx *contracts.UserContext) (*contracts.UniversalTool, error) {
	registered := r.service.registeredNames()

	match := r.match(name, registered)
	if match == "" {
		return nil, &NotFoundError{Name: name, Suggestions: suggest(name, registered)}
	}

	t, ok := r.service.GetTool(match)
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	def := t.Definition()

	if !isGranted(userCtx, def) {
		return nil, &NotFoundError{Name: name, Denied: true}
	}
	return def, nil
}

func (r *Resolver) match(name string, registered []string) string {
	// 1. Exact fully-qualified match.
	for _, candidate := range registered {
		if candidate == name {
			return candidate
		}
	}

	// 2. Suffix match on ".<name>".
	suffix := "." + name
	var candidates []string
	for _, candidate := range registered {
		if strings.HasSuffix(candidate, suffix) {
			candidates = append(candidates, candidate)
		}
	}
	if len(candidates) > 0 {
		if len(candidates) > 1 {
			slog.Warn("Ambiguous tool name, picking first", "name", name, "candidates", candidates)
		}
		return candidates[0]
	}

	// 3. Substring match on the local part.
	for _, candidate := range registered {
		local := candidate
		if i := strings.LastIndex(candidate, "."); i >= 0 {
			local = candidate[i+1:]
		}
		if strings.Contains(local, name) {
			candidates = append(candidates, candidate)
		}
	}
	if len(candidates) > 0 {
		if len(candidates) > 1 {
			slog.Warn("Ambiguous tool name, picking first", "name", name, "candidates", candidates)
		}
		return candidates[0]
	}

	return ""
}

// registeredNames returns all fully-qualified tool names sorted.
func (s *Service) registeredNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	sortStrings(names)
	return names
}

// suggest returns registered names sharing a prefix or substring with the
// query, capped at three.
func suggest(name string, registered []string) []string {
	lower := strings.ToLower(name)
	var out []string
	for _, candidate := range registered {
		if strings.Contains(strings.ToLower(candidate), lower) ||
			strings.Contains(lower, strings.ToLower(candidate)) {
			out = append(out, candidate)
			if len(out) == 3 {
				break
			}
		}
	}
	return out
}

// isGranted applies the resolver permission rule: users without an
// explicit permission set see everything; builtin tools are always
// visible; otherwise the grant set must cover the tool by full name,
// namespace, or "<ns>.*" wildcard.
func isGranted(userCtx *contracts.UserContext, def *contracts.UniversalTool) bool {
	if userCtx == nil || len(userCtx.Permissions) == 0 {
		return true
	}
	if toolNamespace(def) == BuiltinNamespace {
		return true
	}
	for _, grant := range userCtx.Permissions {
		if grantCovers(grant, def.Name) {
			return true
		}
	}
	return false
}

// hasRequiredPermissions applies the execution-time rule: tools that
// declare required permissions demand each one from the caller's grants.
func hasRequiredPermissions(userCtx *contracts.UserContext, def *contracts.UniversalTool) bool {
	if len(def.RequiredPermissions) == 0 {
		return true
	}
	if toolNamespace(def) == BuiltinNamespace {
		return true
	}
	if userCtx == nil || len(userCtx.Permissions) == 0 {
		return false
	}
	for _, required := range def.RequiredPermissions {
		covered := false
		for _, grant := range userCtx.Permissions {
			if grant == required || grantCovers(grant, required) {
				covered = true
				break
			}
		}
		if !covered {
			return false
		}
	}
	return true
}

// grantCovers reports whether a single grant covers the given
// fully-qualified name.
func grantCovers(grant, name string) bool {
	if grant == name {
		return true
	}
	namespace := ""
	if i := strings.Index(name, "."); i > 0 {
		namespace = name[:i]
	}
	if namespace == "" {
		return false
	}
	return grant == namespace || grant == namespace+".*"
}

func toolNamespace(def *contracts.UniversalTool) string {
	if def.Namespace != "" {
		return def.Namespace
	}
	if i := strings.Index(def.Name, "."); i > 0 {
		return def.Name[:i]
	}
	return ""
}

func sortStrings(list []string) {
	sort.Strings(list)
}
