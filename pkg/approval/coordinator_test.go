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
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/signalforge/cortex/pkg/tool"
)

func TestRequestApprovalResolveRoundTrip(t *testing.T) {
	c := NewCoordinator(time.Minute)

	result := make(chan Decision, 1)
	errs := make(chan error, 1)
	go func() {
		d, err := c.RequestApproval(context.Background(), Request{ID: "r1", Call: tool.Call{Name: "write_file"}})
		result <- d
		errs <- err
	}()

	assert.Eventually(t, func() bool { return c.IsPending("r1") }, time.Second, time.Millisecond)

	err := c.Resolve("r1", Decision{Approved: true, Respondent: "alice"})
	assert.NoError(t, err)

	d := <-result
	assert.NoError(t, <-errs)
	assert.True(t, d.Approved)
	assert.Equal(t, "alice", d.Respondent)

	assert.Eventually(t, func() bool { return !c.IsPending("r1") }, time.Second, time.Millisecond)
}

func TestResolveUnknownRequestID(t *testing.T) {
	c := NewCoordinator(time.Minute)
	err := c.Resolve("nonexistent", Decision{Approved: false})
	assert.ErrorIs(t, err, ErrUnknownRequest)
}

func TestResolveTwiceReturnsAlreadyResolved(t *testing.T) {
	c := NewCoordinator(time.Minute)

	go func() {
		_, _ = c.RequestApproval(context.Background(), Request{ID: "r2"})
	}()
	assert.Eventually(t, func() bool { return c.IsPending("r2") }, time.Second, time.Millisecond)

	first := c.Resolve("r2", Decision{Approved: true})
	second := c.Resolve("r2", Decision{Approved: false})

	assert.NoError(t, first)
	// The second call sees ErrAlreadyResolved while the first decision is
	// still being handed over, or ErrUnknownRequest once RequestApproval
	// has returned and dropped the request; it never succeeds.
	assert.Error(t, second)
	if second != nil {
		assert.True(t, errors.Is(second, ErrAlreadyResolved) || errors.Is(second, ErrUnknownRequest))
	}
}

func TestRequestApprovalTimesOut(t *testing.T) {
	c := NewCoordinator(10 * time.Millisecond)
	_, err := c.RequestApproval(context.Background(), Request{ID: "r3"})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.False(t, c.IsPending("r3"))
}

func TestRequestApprovalContextCancellation(t *testing.T) {
	c := NewCoordinator(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := c.RequestApproval(ctx, Request{ID: "r4"})
		done <- err
	}()

	assert.Eventually(t, func() bool { return c.IsPending("r4") }, time.Second, time.Millisecond)
	cancel()

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPendingRequestsSnapshotIsolation(t *testing.T) {
	c := NewCoordinator(time.Minute)

	go func() {
		_, _ = c.RequestApproval(context.Background(), Request{ID: "r5", Reason: "needs sign-off"})
	}()
	assert.Eventually(t, func() bool { return c.PendingCount() == 1 }, time.Second, time.Millisecond)

	snapshot := c.PendingRequests()
	assert.Len(t, snapshot, 1)
	assert.Equal(t, "r5", snapshot[0].ID)

	assert.NoError(t, c.Resolve("r5", Decision{Approved: true}))
	assert.Eventually(t, func() bool { return c.PendingCount() == 0 }, time.Second, time.Millisecond)

	assert.Len(t, snapshot, 1, "a previously taken snapshot must not be mutated by later resolution")
}
