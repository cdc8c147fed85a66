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

package router

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aetherframe/aether/pkg/contracts"
)

func requestWith(messages, tools int) *contracts.TaskRequest {
	req := &contracts.TaskRequest{TaskID: "t", TaskType: "chat"}
	for i := 0; i < messages; i++ {
		req.Messages = append(req.Messages, contracts.NewUserMessage("m"))
	}
	for i := 0; i < tools; i++ {
		req.AvailableTools = append(req.AvailableTools, &contracts.UniversalTool{Name: "ns.t"})
	}
	return req
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		messages int
		tools    int
		want     contracts.TaskComplexity
	}{
		{"empty", 0, 0, contracts.ComplexitySimple},
		{"few messages", 3, 0, contracts.ComplexitySimple},
		{"moderate by messages", 4, 0, contracts.ComplexityModerate},
		{"moderate by tools", 0, 3, contracts.ComplexityModerate},
		{"below complex", 10, 5, contracts.ComplexityModerate},
		{"complex by messages", 11, 0, contracts.ComplexityComplex},
		{"complex by tools", 0, 6, contracts.ComplexityComplex},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(requestWith(tt.messages, tt.tools)))
		})
	}
}

func TestRoute_Defaults(t *testing.T) {
	r := New(contracts.FrameworkAether)
	strategy := r.Route(requestWith(1, 0))

	assert.Equal(t, contracts.FrameworkAether, strategy.FrameworkType)
	assert.Equal(t, contracts.ExecutionModeSync, strategy.ExecutionMode)
	assert.Equal(t, contracts.ComplexitySimple, strategy.TaskComplexity)
}

func TestRoute_ContextOverrides(t *testing.T) {
	r := New(contracts.FrameworkAether)
	req := requestWith(1, 0)
	req.ExecutionContext = &contracts.ExecutionContext{
		FrameworkType: contracts.FrameworkType("other"),
		Mode:          contracts.ExecutionModeLive,
	}

	strategy := r.Route(req)
	assert.Equal(t, contracts.FrameworkType("other"), strategy.FrameworkType)
	assert.Equal(t, contracts.ExecutionModeLive, strategy.ExecutionMode)
}
