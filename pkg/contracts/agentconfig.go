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

package contracts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// AgentConfig describes an agent to be hosted by a runner. Two configs
// with the same Fingerprint are "the same agent" for runner-reuse
// purposes.
type AgentConfig struct {
	AgentType     string        `json:"agent_type"`
	FrameworkType FrameworkType `json:"framework_type,omitempty"`

	Name         string `json:"name,omitempty"`
	Description  string `json:"description,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`

	// ModelConfig is provider-specific (model name, temperature, ...).
	// Decoded with mapstructure by the adapter that consumes it.
	ModelConfig map[string]any `json:"model_config,omitempty"`

	AvailableTools   []string       `json:"available_tools,omitempty"`
	BehaviorSettings map[string]any `json:"behavior_settings,omitempty"`
	ToolPermissions  []string       `json:"tool_permissions,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// Validate checks the minimum shape of an agent config.
func (c *AgentConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("agent config is nil")
	}
	if c.AgentType == "" {
		return fmt.Errorf("agent_type is required")
	}
	return nil
}

// Fingerprint returns the stable digest of the normalized config.
//
// Normalization: the config is rendered as canonical JSON (keys sorted,
// null/empty fields stripped, integral floats printed without exponent)
// and hashed with SHA-256. Key order and empty-vs-absent fields do not
// affect the result, so configs that differ only in representation share
// a runner.
func (c *AgentConfig) Fingerprint() string {
	raw, err := json.Marshal(c)
	if err != nil {
		// Marshal of a plain struct cannot fail; keep a defined value anyway.
		return "invalid"
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "invalid"
	}
	var sb strings.Builder
	writeCanonical(&sb, generic)
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// writeCanonical renders a decoded JSON value deterministically, dropping
// nulls, empty strings, empty objects and empty arrays.
func writeCanonical(sb *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		sb.WriteString("null")
	case bool:
		if val {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			sb.WriteString(strconv.FormatInt(int64(val), 10))
		} else {
			sb.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
		}
	case string:
		b, _ := json.Marshal(val)
		sb.Write(b)
	case []any:
		sb.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeCanonical(sb, item)
		}
		sb.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			if isEmptyValue(val[k]) {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			sb.Write(kb)
			sb.WriteByte(':')
			writeCanonical(sb, val[k])
		}
		sb.WriteByte('}')
	default:
		b, _ := json.Marshal(val)
		sb.Write(b)
	}
}

func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	}
	return false
}
