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

package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeToolContext struct {
	context.Context
	callID     string
	boundaryID string
}

func (c *fakeToolContext) CallID() string              { return c.callID }
func (c *fakeToolContext) BoundaryID() string           { return c.boundaryID }
func (c *fakeToolContext) RequireApproval(reason string) {}

type fakeCallableTool struct {
	name             string
	requiresApproval bool
	schema           map[string]any
}

func (f *fakeCallableTool) Name() string             { return f.name }
func (f *fakeCallableTool) Description() string      { return "a fake tool for tests" }
func (f *fakeCallableTool) IsLongRunning() bool       { return false }
func (f *fakeCallableTool) RequiresApproval() bool    { return f.requiresApproval }
func (f *fakeCallableTool) Schema() map[string]any    { return f.schema }
func (f *fakeCallableTool) Call(ctx Context, args map[string]any) (map[string]any, error) {
	return map[string]any{"echo": args["value"]}, nil
}

func TestRequireApprovalAlwaysReportsTrue(t *testing.T) {
	inner := &fakeCallableTool{name: "read_file", requiresApproval: false}
	wrapped := RequireApproval(inner)

	assert.True(t, wrapped.RequiresApproval())
	assert.Equal(t, "read_file", wrapped.Name())
}

func TestRequireApprovalOverridesTrueInner(t *testing.T) {
	inner := &fakeCallableTool{name: "write_file", requiresApproval: true}
	wrapped := RequireApproval(inner)

	assert.True(t, wrapped.RequiresApproval())
}

func TestRequireApprovalPassesThroughOtherMethods(t *testing.T) {
	schema := map[string]any{"type": "object"}
	inner := &fakeCallableTool{name: "write_file", schema: schema}
	wrapped := RequireApproval(inner)

	assert.Equal(t, inner.Description(), wrapped.Description())
	assert.Equal(t, inner.IsLongRunning(), wrapped.IsLongRunning())
	assert.Equal(t, schema, wrapped.Schema())

	ctx := &fakeToolContext{Context: context.Background(), callID: "call-1", boundaryID: "cycle-1"}
	result, err := wrapped.Call(ctx, map[string]any{"value": "hello"})
	assert.NoError(t, err)
	assert.Equal(t, "hello", result["echo"])
}
