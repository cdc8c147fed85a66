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

// Package builtin provides the tools shipped with the runtime. They are
// always permitted regardless of the caller's grant set.
package builtin

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/aetherframe/aether/pkg/contracts"
	"github.com/aetherframe/aether/pkg/tool"
)

// All returns every builtin tool.
func All() []tool.Tool {
	return []tool.Tool{
		NewEcho(),
		NewTime(),
		NewCalc(),
	}
}

// Echo repeats its input. It streams, which makes it the standard probe
// for the streaming tool path.
type Echo struct{}

func NewEcho() *Echo { return &Echo{} }

func (e *Echo) Definition() *contracts.UniversalTool {
	return &contracts.UniversalTool{
		Name:              "builtin.echo",
		Namespace:         "builtin",
		Description:       "Repeats the given text back.",
		SupportsStreaming: true,
		ParametersSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []any{"text"},
		},
	}
}

func (e *Echo) Execute(ctx context.Context, req *contracts.ToolRequest) (*contracts.ToolResult, error) {
	text, _ := req.Parameters["text"].(string)
	return &contracts.ToolResult{
		Status:     contracts.ToolStatusSuccess,
		ResultData: text,
	}, nil
}

func (e *Echo) ExecuteStream(ctx context.Context, req *contracts.ToolRequest) iter.Seq2[*tool.Chunk, error] {
	return func(yield func(*tool.Chunk, error) bool) {
		text, _ := req.Parameters["text"].(string)
		if half := len(text) / 2; half > 0 {
			if !yield(&tool.Chunk{Content: text[:half]}, nil) {
				return
			}
			text = text[half:]
		}
		yield(&tool.Chunk{Content: text, Final: true}, nil)
	}
}

// Time reports the current time.
type Time struct {
	now func() time.Time
}

func NewTime() *Time { return &Time{now: time.Now} }

func (t *Time) Definition() *contracts.UniversalTool {
	return &contracts.UniversalTool{
		Name:        "builtin.time",
		Namespace:   "builtin",
		Description: "Returns the current time, optionally in a given IANA timezone.",
		ParametersSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"timezone": map[string]any{"type": "string"},
			},
		},
	}
}

func (t *Time) Execute(ctx context.Context, req *contracts.ToolRequest) (*contracts.ToolResult, error) {
	now := t.now()
	if tz, _ := req.Parameters["timezone"].(string); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q", tz)
		}
		now = now.In(loc)
	}
	return &contracts.ToolResult{
		Status:     contracts.ToolStatusSuccess,
		ResultData: now.Format(time.RFC3339),
	}, nil
}

// Calc evaluates a single binary arithmetic operation.
type Calc struct{}

func NewCalc() *Calc { return &Calc{} }

func (c *Calc) Definition() *contracts.UniversalTool {
	return &contracts.UniversalTool{
		Name:        "builtin.calc",
		Namespace:   "builtin",
		Description: "Applies an arithmetic operation (add, sub, mul, div) to two numbers.",
		ParametersSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"op": map[string]any{
					"type": "string",
					"enum": []any{"add", "sub", "mul", "div"},
				},
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			},
			"required": []any{"op", "a", "b"},
		},
	}
}

func (c *Calc) Execute(ctx context.Context, req *contracts.ToolRequest) (*contracts.ToolResult, error) {
	op, _ := req.Parameters["op"].(string)
	a, aok := toFloat(req.Parameters["a"])
	b, bok := toFloat(req.Parameters["b"])
	if !aok || !bok {
		return nil, fmt.Errorf("a and b must be numbers")
	}

	var result float64
	switch op {
	case "add":
		result = a + b
	case "sub":
		result = a - b
	case "mul":
		result = a * b
	case "div":
		if b == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		result = a / b
	default:
		return nil, fmt.Errorf("unknown op %q", op)
	}

	return &contracts.ToolResult{
		Status:     contracts.ToolStatusSuccess,
		ResultData: map[string]any{"result": result},
	}, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

var (
	_ tool.StreamingTool = (*Echo)(nil)
	_ tool.Tool          = (*Time)(nil)
	_ tool.Tool          = (*Calc)(nil)
)
