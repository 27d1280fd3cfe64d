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

// Package task implements the multi-cycle task/tool loop (C7): the
// state machine that interleaves LLM calls, approval-gated tool
// invocation, and termination checks against a resolution envelope,
// grounded on the teacher's v2/task.Awaiter suspend/resume shape.
package task

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/signalforge/cortex/pkg/approval"
	"github.com/signalforge/cortex/pkg/fact"
	"github.com/signalforge/cortex/pkg/instruction"
	"github.com/signalforge/cortex/pkg/model"
	"github.com/signalforge/cortex/pkg/observability"
	"github.com/signalforge/cortex/pkg/tool"
)

// State is one node of the task run's state machine.
type State string

const (
	StateStarting        State = "starting"
	StateCycling         State = "cycling"
	StateAwaitingApproval State = "awaiting-approval"
	StateSynthesizing    State = "synthesizing"
	StateComplete        State = "complete"
	StateInterrupted     State = "interrupted"
	StateFailed          State = "failed"
	StateForcedComplete  State = "forced-complete"
)

var completionPattern = regexp.MustCompile(`(?i)i have completed my task`)

const continueNudge = "Continue."

// Input is everything one task run needs.
type Input struct {
	Plan             fact.ExecutionPlan
	Composed         *instruction.Composed
	Tools            []tool.CallableTool
	ParentBoundaryID string
}

// Result is the task run's outcome.
type Result struct {
	Text          string
	State         State
	CycleCount    int
	ToolCallCount int
	Thread        *fact.Thread
	FinishReason  model.FinishReason
}

// Loop drives the task/tool loop for one task-strategy execution.
type Loop struct {
	LLM       model.LLM
	Approval  *approval.Coordinator
	Composer  *instruction.Composer
	Tracer    *observability.Tracer
}

// NewLoop builds a Loop from its collaborators.
func NewLoop(llm model.LLM, coordinator *approval.Coordinator, composer *instruction.Composer, tracer *observability.Tracer) *Loop {
	return &Loop{LLM: llm, Approval: coordinator, Composer: composer, Tracer: tracer}
}

// Run drives the per-cycle protocol (§4.6) to completion, a forced
// synthesis on timeout, or interruption.
func (l *Loop) Run(ctx context.Context, in Input) (*Result, error) {
	resolution := in.Plan.Resolution
	if resolution.MaxCycles <= 0 {
		resolution.MaxCycles = 5
	}

	toolsByName := make(map[string]tool.CallableTool, len(in.Tools))
	defs := make([]tool.Definition, 0, len(in.Tools))
	for _, t := range in.Tools {
		toolsByName[t.Name()] = t
		defs = append(defs, tool.ToDefinition(t))
	}

	thread := in.Composed.Thread.Clone()
	deadline := time.Now().Add(time.Duration(resolution.TimeoutMs) * time.Millisecond)
	hasDeadline := resolution.TimeoutMs > 0

	res := &Result{State: StateStarting, Thread: thread}
	completionSeen := false

	for cycle := 0; ; cycle++ {
		if err := ctx.Err(); err != nil {
			res.State = StateInterrupted
			res.CycleCount = cycle
			return res, nil
		}

		timedOut := hasDeadline && time.Now().After(deadline)
		atCycleCap := cycle >= resolution.MaxCycles
		atToolCallCap := resolution.MaxToolCalls > 0 && res.ToolCallCount >= resolution.MaxToolCalls
		if timedOut || atCycleCap || atToolCallCap {
			if completionSeen {
				return l.synthesize(ctx, in, thread, StateComplete, cycle)
			}
			slog.Warn("task: forcing synthesis at cycle boundary", "cycle", cycle, "timedOut", timedOut, "atCycleCap", atCycleCap, "atToolCallCap", atToolCallCap)
			return l.synthesize(ctx, in, thread, StateForcedComplete, cycle)
		}

		res.State = StateCycling
		cycleID := uuid.NewString()
		cycleCtx, span := l.Tracer.StartCycle(ctx, cycleID, in.ParentBoundaryID, cycle)

		resp, err := l.call(cycleCtx, in, thread)
		span.End()
		if err != nil {
			res.State = StateFailed
			res.CycleCount = cycle
			return res, err
		}

		if resp.HasToolCalls() {
			thread.Append(resp.ToMessage())
			denied, toolErr := l.runToolCalls(ctx, in, thread, toolsByName, resp.ToolCalls, cycleID)
			res.ToolCallCount += len(resp.ToolCalls)
			if toolErr != nil {
				res.State = StateFailed
				res.CycleCount = cycle
				return res, toolErr
			}
			_ = denied
			continue
		}

		thread.Append(resp.ToMessage())
		if completionPattern.MatchString(resp.Text) {
			completionSeen = true
			return l.synthesize(ctx, in, thread, StateComplete, cycle+1)
		}

		thread.Append(&fact.Message{Role: fact.RoleUser, Text: continueNudge, SemanticTag: "continue"})
	}
}

func (l *Loop) call(ctx context.Context, in Input, thread *fact.Thread) (*model.Response, error) {
	req := &model.Request{
		Messages:          thread.Messages,
		SystemInstruction: systemText(in.Composed),
		Config:            &model.GenerateConfig{MaxTokens: intPtr(in.Composed.MaxTokens)},
	}
	for _, t := range in.Tools {
		req.Tools = append(req.Tools, tool.ToDefinition(t))
	}

	var final *model.Response
	for resp, err := range l.LLM.GenerateContent(ctx, req, false) {
		if err != nil {
			return nil, fmt.Errorf("task: llm call failed: %w", err)
		}
		if resp != nil && !resp.Partial {
			final = resp
		}
	}
	if final == nil {
		return nil, fmt.Errorf("task: llm returned no response")
	}
	return final, nil
}

// runToolCalls invokes each requested call in order, routing gated tools
// through the approval coordinator one at a time, and appends a tool
// message for every outcome (approval, denial, or execution error).
func (l *Loop) runToolCalls(ctx context.Context, in Input, thread *fact.Thread, byName map[string]tool.CallableTool, calls []tool.Call, boundaryID string) (deniedCount int, err error) {
	for _, call := range calls {
		t, ok := byName[call.Name]
		if !ok {
			thread.Append(&fact.Message{
				Role:       fact.RoleTool,
				Text:       fmt.Sprintf("tool %q is not available for this plan", call.Name),
				ToolCallID: call.ID,
			})
			continue
		}

		tctx := &callContext{Context: ctx, callID: call.ID, boundaryID: boundaryID}

		if t.RequiresApproval() && l.Approval != nil {
			decision, approvalErr := l.Approval.RequestApproval(ctx, approval.Request{
				ID:         call.ID,
				BoundaryID: boundaryID,
				Call:       call,
				Reason:     fmt.Sprintf("tool %q requires approval", call.Name),
				CreatedAt:  time.Now(),
			})
			if approvalErr != nil {
				return deniedCount, fmt.Errorf("task: approval for %s: %w", call.Name, approvalErr)
			}
			if !decision.Approved {
				deniedCount++
				thread.Append(&fact.Message{
					Role:       fact.RoleTool,
					Text:       fmt.Sprintf("denied: %s", decision.Reason),
					ToolCallID: call.ID,
				})
				continue
			}
		}

		out, callErr := t.Call(tctx, call.Args)
		if callErr != nil {
			thread.Append(&fact.Message{
				Role:       fact.RoleTool,
				Text:       fmt.Sprintf("error: %v", callErr),
				ToolCallID: call.ID,
			})
			continue
		}
		thread.Append(&fact.Message{
			Role:       fact.RoleTool,
			Text:       stringifyResult(out),
			ToolCallID: call.ID,
		})
	}
	return deniedCount, nil
}

func (l *Loop) synthesize(ctx context.Context, in Input, thread *fact.Thread, state State, cycle int) (*Result, error) {
	composed, err := l.Composer.Compose(instruction.Input{
		Plan:            in.Plan,
		Thread:          thread,
		CompositionType: instruction.CompositionAccumulation,
	})
	if err != nil {
		return &Result{State: StateFailed, Thread: thread, CycleCount: cycle}, err
	}

	req := &model.Request{
		Messages:          composed.Thread.Messages,
		SystemInstruction: systemText(composed),
		Config:            &model.GenerateConfig{MaxTokens: intPtr(composed.MaxTokens)},
	}

	var final *model.Response
	for resp, err := range l.LLM.GenerateContent(ctx, req, false) {
		if err != nil {
			return &Result{State: StateFailed, Thread: thread, CycleCount: cycle}, fmt.Errorf("task: synthesis call failed: %w", err)
		}
		if resp != nil && !resp.Partial {
			final = resp
		}
	}
	if final == nil {
		return &Result{State: StateFailed, Thread: thread, CycleCount: cycle}, fmt.Errorf("task: synthesis returned no response")
	}

	thread.Append(final.ToMessage())
	return &Result{
		Text:         final.Text,
		State:        state,
		CycleCount:   cycle,
		Thread:       thread,
		FinishReason: final.FinishReason,
	}, nil
}

// callContext adapts a plain context.Context into tool.Context.
type callContext struct {
	context.Context
	callID     string
	boundaryID string
	approve    bool
	reason     string
}

func (c *callContext) CallID() string     { return c.callID }
func (c *callContext) BoundaryID() string { return c.boundaryID }
func (c *callContext) RequireApproval(reason string) {
	c.approve = true
	c.reason = reason
}

var _ tool.Context = (*callContext)(nil)

func stringifyResult(out map[string]any) string {
	if out == nil {
		return ""
	}
	if content, ok := out["content"].(string); ok {
		return content
	}
	var b strings.Builder
	for k, v := range out {
		fmt.Fprintf(&b, "%s: %v\n", k, v)
	}
	return b.String()
}

func intPtr(v int) *int { return &v }

// systemText locates the composed system message via the composer's
// recorded semantic index rather than assuming a fixed offset, since a
// framed default composition shifts the system message past the frame
// exchange.
func systemText(c *instruction.Composed) string {
	if idx, ok := c.Indices["system"]; ok && idx < len(c.Thread.Messages) {
		return c.Thread.Messages[idx].Text
	}
	return ""
}
