// Copyright 2025 Kadir Pekel
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

package toolset

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllFileTools(t *testing.T) {
	r, err := New(Config{WorkingDirectory: t.TempDir()})
	require.NoError(t, err)

	assert.Len(t, r.static, 6)

	mutating := []string{"write_file", "apply_patch", "search_replace"}
	for _, name := range mutating {
		tl, ok := r.static[name]
		require.True(t, ok, "missing tool %s", name)
		assert.True(t, tl.RequiresApproval(), "%s must require approval", name)
	}

	readOnly := []string{"read_file", "list_directory", "grep_search"}
	for _, name := range readOnly {
		tl, ok := r.static[name]
		require.True(t, ok, "missing tool %s", name)
		assert.False(t, tl.RequiresApproval(), "%s must not require approval", name)
	}
}

func TestResolveReturnsToolsInRequestedOrder(t *testing.T) {
	r, err := New(Config{WorkingDirectory: t.TempDir()})
	require.NoError(t, err)

	resolved := r.Resolve(context.Background(), []string{"grep_search", "read_file", "list_directory"})
	require.Len(t, resolved, 3)
	assert.Equal(t, "grep_search", resolved[0].Name())
	assert.Equal(t, "read_file", resolved[1].Name())
	assert.Equal(t, "list_directory", resolved[2].Name())
}

func TestResolveSkipsUnknownNamesGracefully(t *testing.T) {
	r, err := New(Config{WorkingDirectory: t.TempDir()})
	require.NoError(t, err)

	resolved := r.Resolve(context.Background(), []string{"read_file", "does_not_exist", "write_file"})
	require.Len(t, resolved, 2)
	assert.Equal(t, "read_file", resolved[0].Name())
	assert.Equal(t, "write_file", resolved[1].Name())
}

func TestResolveWithNoNamesReturnsNil(t *testing.T) {
	r, err := New(Config{WorkingDirectory: t.TempDir()})
	require.NoError(t, err)

	assert.Nil(t, r.Resolve(context.Background(), nil))
}
