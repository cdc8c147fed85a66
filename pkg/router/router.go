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

// Package router selects an execution strategy for a task: the target
// framework, a complexity class, and an execution mode. Routing is pure;
// it never touches the network.
package router

import (
	"github.com/aetherframe/aether/pkg/contracts"
)

// Complexity thresholds. A task is complex from 11 messages or 6 tools,
// moderate from 4 messages or 3 tools.
const (
	complexMessages  = 11
	complexTools     = 6
	moderateMessages = 4
	moderateTools    = 3
)

// Router classifies tasks and picks an execution strategy.
type Router struct {
	defaultFramework contracts.FrameworkType
	fallbacks        []contracts.FrameworkType
}

// New creates a Router targeting the given default framework.
func New(defaultFramework contracts.FrameworkType, fallbacks ...contracts.FrameworkType) *Router {
	return &Router{defaultFramework: defaultFramework, fallbacks: fallbacks}
}

// Route selects the strategy for a request. The execution mode follows
// the request's execution context when present, otherwise sync.
func (r *Router) Route(req *contracts.TaskRequest) *contracts.ExecutionStrategy {
	framework := r.defaultFramework
	if req.ExecutionContext != nil && req.ExecutionContext.FrameworkType != "" {
		framework = req.ExecutionContext.FrameworkType
	}

	mode := contracts.ExecutionModeSync
	if req.ExecutionContext != nil && req.ExecutionContext.Mode != "" {
		mode = req.ExecutionContext.Mode
	}

	return &contracts.ExecutionStrategy{
		FrameworkType:      framework,
		TaskComplexity:     Classify(req),
		ExecutionConfig:    req.ExecutionConfig,
		ExecutionMode:      mode,
		FrameworkScore:     1.0,
		FallbackFrameworks: r.fallbacks,
	}
}

// Classify buckets a task by message and tool counts.
func Classify(req *contracts.TaskRequest) contracts.TaskComplexity {
	messages := len(req.Messages)
	tools := len(req.AvailableTools)

	switch {
	case messages >= complexMessages || tools >= complexTools:
		return contracts.ComplexityComplex
	case messages >= moderateMessages || tools >= moderateTools:
		return contracts.ComplexityModerate
	default:
		return contracts.ComplexitySimple
	}
}
