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
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// schemaValidator compiles and caches parameter schemas per tool name.
// Tools whose descriptor carries no schema accept any parameters.
type schemaValidator struct {
	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

func newSchemaValidator() *schemaValidator {
	return &schemaValidator{compiled: make(map[string]*jsonschema.Schema)}
}

// Validate checks params against the tool's parameter schema. A nil or
// empty schema accepts everything.
func (v *schemaValidator) Validate(toolName string, schema map[string]any, params map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	sch, err := v.compile(toolName, schema)
	if err != nil {
		return fmt.Errorf("schema for %s: %w", toolName, err)
	}

	// Round-trip through JSON so typed values (ints, structs) become the
	// generic shapes the validator expects.
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("parameters for %s: %w", toolName, err)
	}
	value, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("parameters for %s: %w", toolName, err)
	}

	return sch.Validate(value)
}

// Invalidate drops the cached schema for a tool, e.g. on re-registration.
func (v *schemaValidator) Invalidate(toolName string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.compiled, toolName)
}

func (v *schemaValidator) compile(toolName string, schema map[string]any) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if sch, ok := v.compiled[toolName]; ok {
		return sch, nil
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	compiler := jsonschema.NewCompiler()
	url := "aether://tools/" + toolName + "/schema.json"
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, err
	}
	sch, err := compiler.Compile(url)
	if err != nil {
		return nil, err
	}

	v.compiled[toolName] = sch
	return sch, nil
}
