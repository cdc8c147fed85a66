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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aetherframe/aether/pkg/contracts"
)

func resolverFixture(t *testing.T) *Resolver {
	t.Helper()
	s := NewService()
	for _, name := range []string{"builtin.echo", "web.search", "docs.search", "web.fetch_page"} {
		require.NoError(t, s.RegisterTool(namedTool(name)))
	}
	return NewResolver(s)
}

func TestResolver_MatchOrder(t *testing.T) {
	r := resolverFixture(t)

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"exact", "web.search", "web.search"},
		{"suffix picks first sorted", "search", "docs.search"},
		{"substring on local part", "fetch", "web.fetch_page"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := r.ResolveOne(tt.query, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, def.Name)
		})
	}
}

func TestResolver_NotFoundWithSuggestions(t *testing.T) {
	r := resolverFixture(t)

	_, err := r.ResolveOne("web.searchx", nil)
	require.Error(t, err)

	var nfe *NotFoundError
	require.ErrorAs(t, err, &nfe)
	assert.False(t, nfe.Denied)
	assert.Contains(t, nfe.Suggestions, "web.search")
}

func TestResolver_PermissionFiltering(t *testing.T) {
	r := resolverFixture(t)

	tests := []struct {
		name    string
		query   string
		userCtx *contracts.UserContext
		denied  bool
	}{
		{
			name:    "no permission set sees everything",
			query:   "web.search",
			userCtx: &contracts.UserContext{},
		},
		{
			name:    "namespace grant",
			query:   "web.search",
			userCtx: &contracts.UserContext{Permissions: []string{"web"}},
		},
		{
			name:    "wildcard grant",
			query:   "web.search",
			userCtx: &contracts.UserContext{Permissions: []string{"web.*"}},
		},
		{
			name:    "full name grant",
			query:   "web.search",
			userCtx: &contracts.UserContext{Permissions: []string{"web.search"}},
		},
		{
			name:    "uncovered namespace denied",
			query:   "docs.search",
			userCtx: &contracts.UserContext{Permissions: []string{"web"}},
			denied:  true,
		},
		{
			name:    "builtin always visible",
			query:   "builtin.echo",
			userCtx: &contracts.UserContext{Permissions: []string{"web"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := r.ResolveOne(tt.query, tt.userCtx)
			if tt.denied {
				var nfe *NotFoundError
				require.ErrorAs(t, err, &nfe)
				assert.True(t, nfe.Denied)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, def)
		})
	}
}

func TestResolver_ResolveAbortsOnFirstFailure(t *testing.T) {
	r := resolverFixture(t)

	defs, err := r.Resolve([]string{"web.search", "ghost", "docs.search"}, nil)
	assert.Nil(t, defs)

	var nfe *NotFoundError
	require.ErrorAs(t, err, &nfe)
	assert.Equal(t, "ghost", nfe.Name)
}

func TestHasRequiredPermissions(t *testing.T) {
	def := &contracts.UniversalTool{
		Name:                "ops.restart",
		RequiredPermissions: []string{"ops.restart", "ops"},
	}

	tests := []struct {
		name    string
		userCtx *contracts.UserContext
		want    bool
	}{
		{"nil user denied", nil, false},
		{"empty grants denied", &contracts.UserContext{}, false},
		{"all covered", &contracts.UserContext{Permissions: []string{"ops.restart", "ops"}}, true},
		{"namespace grant covers both", &contracts.UserContext{Permissions: []string{"ops"}}, true},
		{"partial denied", &contracts.UserContext{Permissions: []string{"ops.restart2"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hasRequiredPermissions(tt.userCtx, def))
		})
	}

	open := &contracts.UniversalTool{Name: "web.search"}
	assert.True(t, hasRequiredPermissions(nil, open))

	builtin := &contracts.UniversalTool{Name: "builtin.echo", RequiredPermissions: []string{"x"}}
	assert.True(t, hasRequiredPermissions(nil, builtin))
}
