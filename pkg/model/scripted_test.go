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

package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aetherframe/aether/pkg/contracts"
)

func collect(t *testing.T, m Model, req *Request) []*Chunk {
	t.Helper()
	var chunks []*Chunk
	for chunk, err := range m.GenerateStream(context.Background(), req) {
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}
	return chunks
}

func TestScriptedModel_Echo(t *testing.T) {
	m := NewScripted("")
	chunks := collect(t, m, &Request{Messages: []*contracts.Message{
		contracts.NewUserMessage("hello"),
	}})

	require.NotEmpty(t, chunks)
	last := chunks[len(chunks)-1]
	assert.True(t, last.Final)

	var text string
	for _, c := range chunks {
		text += c.Text
	}
	assert.Equal(t, "You said: hello", text)
}

func TestScriptedModel_Script(t *testing.T) {
	m := NewScripted("test",
		Step{Plan: []string{"think"}, ToolCall: &contracts.ToolCall{Name: "builtin.echo"}},
		Step{Reply: "done"},
	)

	chunks := collect(t, m, &Request{})
	require.Len(t, chunks, 2)
	assert.Equal(t, KindPlan, chunks[0].Kind)
	assert.Equal(t, KindToolCall, chunks[1].Kind)
	assert.True(t, chunks[1].Final)

	chunks = collect(t, m, &Request{})
	var text string
	for _, c := range chunks {
		assert.Equal(t, KindText, c.Kind)
		text += c.Text
	}
	assert.Equal(t, "done", text)
}

func TestScriptedFactory(t *testing.T) {
	m, err := ScriptedFactory(map[string]any{"model": "m-1", "temperature": 0.2})
	require.NoError(t, err)
	assert.Equal(t, "m-1", m.Name())

	m, err = ScriptedFactory(nil)
	require.NoError(t, err)
	assert.Equal(t, "scripted", m.Name())
}
