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

package approval

import (
	"fmt"

	"github.com/signalforge/cortex/pkg/tool"
)

// Gate wraps a CallableTool so that every invocation is routed through a
// Coordinator before the underlying tool runs. Used for tools whose
// RequiresApproval() returns true.
type Gate struct {
	inner       tool.CallableTool
	coordinator *Coordinator
	reason      string
}

// NewGate wraps inner with human approval, gated through coordinator.
// reason is recorded on the Request for the approver's benefit.
func NewGate(inner tool.CallableTool, coordinator *Coordinator, reason string) *Gate {
	return &Gate{inner: inner, coordinator: coordinator, reason: reason}
}

func (g *Gate) Name() string        { return g.inner.Name() }
func (g *Gate) Description() string { return g.inner.Description() }
func (g *Gate) IsLongRunning() bool { return g.inner.IsLongRunning() }
func (g *Gate) RequiresApproval() bool { return true }
func (g *Gate) Schema() map[string]any { return g.inner.Schema() }

// Call blocks on the coordinator's decision before delegating to the
// wrapped tool. A denial is not an error: it comes back as a
// {"status":"denied","reason":...} result so the task loop can fold it
// into history as a normal tool result. An error is returned only when
// the wait for a decision fails (timeout or cancellation).
func (g *Gate) Call(ctx tool.Context, args map[string]any) (map[string]any, error) {
	req := Request{
		ID:         ctx.CallID(),
		BoundaryID: ctx.BoundaryID(),
		Call:       tool.Call{ID: ctx.CallID(), Name: g.inner.Name(), Args: args},
		Reason:     g.reason,
	}

	decision, err := g.coordinator.RequestApproval(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("approval for %s: %w", g.inner.Name(), err)
	}
	if !decision.Approved {
		return map[string]any{
			"status": "denied",
			"reason": decision.Reason,
		}, nil
	}

	return g.inner.Call(ctx, args)
}

var _ tool.CallableTool = (*Gate)(nil)
