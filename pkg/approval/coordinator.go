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

// Package approval implements the human-in-the-loop approval coordinator
// (C8): the task loop suspends the cycle that produced a gated tool call,
// hands it to the Coordinator, and blocks until exactly one resolution
// (approve, deny, or timeout) arrives.
package approval

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/signalforge/cortex/pkg/tool"
)

var (
	// ErrTimeout is returned when no decision arrives within the request's
	// deadline.
	ErrTimeout = errors.New("approval: timed out waiting for decision")
	// ErrUnknownRequest is returned by Resolve when the id doesn't match a
	// pending request (already resolved, timed out, or never requested).
	ErrUnknownRequest = errors.New("approval: no pending request with that id")
	// ErrAlreadyResolved is returned by Resolve on a second attempt to
	// resolve the same request.
	ErrAlreadyResolved = errors.New("approval: request already resolved")
)

// Decision is a human's resolution of a pending approval request.
type Decision struct {
	Approved bool
	Reason   string
	// Respondent identifies who resolved the request, for audit logging.
	Respondent string
}

// Request describes a tool call suspended pending human sign-off.
type Request struct {
	ID         string
	BoundaryID string
	Call       tool.Call
	Reason     string
	CreatedAt  time.Time
}

// Coordinator gates tool calls that require human approval. Each request
// is resolved exactly once: either a human calls Resolve, or the request
// times out — whichever happens first wins, and the other is a no-op.
type Coordinator struct {
	mu             sync.Mutex
	pending        map[string]pendingEntry
	defaultTimeout time.Duration
}

type pendingEntry struct {
	req      Request
	ch       chan Decision
	resolved bool
}

// NewCoordinator creates a Coordinator. defaultTimeout bounds every
// request's wait; a context that is cancelled or reaches its deadline
// sooner ends the wait first. A non-positive value means five minutes.
func NewCoordinator(defaultTimeout time.Duration) *Coordinator {
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Minute
	}
	return &Coordinator{
		pending:        make(map[string]pendingEntry),
		defaultTimeout: defaultTimeout,
	}
}

// RequestApproval registers req as pending and blocks until a decision is
// made, the context is cancelled, or the coordinator's default timeout
// elapses. It is safe to call concurrently for distinct requests; the
// task loop calls this once per gated tool call, suspending only the
// cycle that owns it — other cycles keep running.
func (c *Coordinator) RequestApproval(ctx context.Context, req Request) (Decision, error) {
	ch := make(chan Decision, 1)

	c.mu.Lock()
	c.pending[req.ID] = pendingEntry{req: req, ch: ch}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	timer := time.NewTimer(c.defaultTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	case <-timer.C:
		return Decision{}, ErrTimeout
	case d := <-ch:
		return d, nil
	}
}

// Resolve delivers a human decision for a pending request. Returns
// ErrAlreadyResolved if a decision was already delivered for it, and
// ErrUnknownRequest if no request with that id is pending (it never
// existed, or its RequestApproval call has already returned).
func (c *Coordinator) Resolve(id string, d Decision) error {
	c.mu.Lock()
	entry, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		return ErrUnknownRequest
	}
	if entry.resolved {
		c.mu.Unlock()
		return ErrAlreadyResolved
	}
	entry.resolved = true
	c.pending[id] = entry
	c.mu.Unlock()

	entry.ch <- d
	return nil
}

// IsPending reports whether a request with the given id is still awaiting
// a decision.
func (c *Coordinator) IsPending(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[id]
	return ok
}

// PendingCount returns the number of requests currently awaiting a decision.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// PendingRequests returns a snapshot of every request currently awaiting
// a decision, for a UI loop to surface to a human. The returned slice
// shares no state with the coordinator; resolving or timing out an entry
// after this call doesn't retroactively change it.
func (c *Coordinator) PendingRequests() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Request, 0, len(c.pending))
	for _, entry := range c.pending {
		out = append(out, entry.req)
	}
	return out
}
