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

package mcptool

import "github.com/aetherframe/aether/pkg/contracts"

// HeadersMetadataKey is the metadata key carrying header maps at the
// tool, task, and call-site levels.
const HeadersMetadataKey = "mcp_headers"

// UserIDHeader carries the effective user id to the remote server.
const UserIDHeader = "X-AF-User-Id"

// MergeHeaders computes the effective header set for a remote call.
//
// Precedence, low to high: server default headers, tool-level headers,
// task-level headers, call-site headers. When userCtx resolves to a
// user id, UserIDHeader is injected last.
func MergeHeaders(server, toolLevel, taskLevel, callSite map[string]string, userCtx *contracts.UserContext) map[string]string {
	merged := make(map[string]string)
	for _, layer := range []map[string]string{server, toolLevel, taskLevel, callSite} {
		for k, v := range layer {
			merged[k] = v
		}
	}
	if userCtx != nil {
		if userID := (&contracts.TaskRequest{UserContext: userCtx}).UserID(); userID != "" {
			merged[UserIDHeader] = userID
		}
	}
	return merged
}

// HeadersFromMetadata extracts a header map stored under
// HeadersMetadataKey. Both map[string]string and map[string]any values
// are accepted; non-string entries are skipped.
func HeadersFromMetadata(metadata map[string]any) map[string]string {
	if metadata == nil {
		return nil
	}
	switch raw := metadata[HeadersMetadataKey].(type) {
	case map[string]string:
		return raw
	case map[string]any:
		out := make(map[string]string, len(raw))
		for k, v := range raw {
			if s, ok := v.(string); ok {
				out[k] = s
			}
		}
		return out
	}
	return nil
}
