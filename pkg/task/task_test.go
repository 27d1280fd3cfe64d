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

package task

import (
	"context"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalforge/cortex/pkg/approval"
	"github.com/signalforge/cortex/pkg/fact"
	"github.com/signalforge/cortex/pkg/instruction"
	"github.com/signalforge/cortex/pkg/model"
	"github.com/signalforge/cortex/pkg/tool"
)

// scriptedLLM replays one *model.Response per call, in order.
type scriptedLLM struct {
	responses []*model.Response
	calls     int
}

func (l *scriptedLLM) Name() string             { return "scripted" }
func (l *scriptedLLM) Provider() model.Provider { return model.ProviderOpenAI }
func (l *scriptedLLM) Close() error             { return nil }

func (l *scriptedLLM) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		idx := l.calls
		l.calls++
		if idx >= len(l.responses) {
			yield(&model.Response{Text: "done", FinishReason: model.FinishReasonStop}, nil)
			return
		}
		yield(l.responses[idx], nil)
	}
}

type fakeCallableTool struct {
	name             string
	requiresApproval bool
	result           map[string]any
}

func (f *fakeCallableTool) Name() string             { return f.name }
func (f *fakeCallableTool) Description() string      { return "a fake tool" }
func (f *fakeCallableTool) IsLongRunning() bool       { return false }
func (f *fakeCallableTool) RequiresApproval() bool    { return f.requiresApproval }
func (f *fakeCallableTool) Schema() map[string]any    { return nil }
func (f *fakeCallableTool) Call(ctx tool.Context, args map[string]any) (map[string]any, error) {
	return f.result, nil
}

func newComposed() *instruction.Composed {
	thread := &fact.Thread{}
	thread.Append(&fact.Message{Role: fact.RoleSystem, Text: "be helpful", SemanticTag: "system"})
	return &instruction.Composed{
		Thread:    thread,
		Indices:   map[string]int{"system": 0},
		MaxTokens: 500,
	}
}

func TestRunCompletesWhenModelSignalsDone(t *testing.T) {
	llm := &scriptedLLM{responses: []*model.Response{
		{Text: "I have completed my task.", FinishReason: model.FinishReasonStop},
		{Text: "Summary of what I did.", FinishReason: model.FinishReasonStop},
	}}
	loop := NewLoop(llm, nil, instruction.NewComposer(nil), nil)

	result, err := loop.Run(context.Background(), Input{
		Plan:     fact.ExecutionPlan{Name: "task-plan", Strategy: fact.StrategyTask},
		Composed: newComposed(),
	})
	require.NoError(t, err)
	assert.Equal(t, StateComplete, result.State)
	assert.Equal(t, "Summary of what I did.", result.Text)
}

func TestRunExecutesToolCallAndFeedsResultBack(t *testing.T) {
	llm := &scriptedLLM{responses: []*model.Response{
		{
			ToolCalls:    []tool.Call{{ID: "call_1", Name: "read_file", Args: map[string]any{"path": "a.go"}}},
			FinishReason: model.FinishReasonToolCalls,
		},
		{Text: "I have completed my task.", FinishReason: model.FinishReasonStop},
		{Text: "Found the file.", FinishReason: model.FinishReasonStop},
	}}
	readTool := &fakeCallableTool{name: "read_file", result: map[string]any{"content": "package main"}}
	loop := NewLoop(llm, nil, instruction.NewComposer(nil), nil)

	result, err := loop.Run(context.Background(), Input{
		Plan:     fact.ExecutionPlan{Name: "task-plan", Strategy: fact.StrategyTask},
		Composed: newComposed(),
		Tools:    []tool.CallableTool{readTool},
	})
	require.NoError(t, err)
	assert.Equal(t, StateComplete, result.State)
	assert.Equal(t, 1, result.ToolCallCount)

	var sawToolResult bool
	for _, m := range result.Thread.Messages {
		if m.Role == fact.RoleTool && m.Text == "package main" {
			sawToolResult = true
		}
	}
	assert.True(t, sawToolResult, "tool result should be appended to the thread")
}

func TestRunGatesApprovalRequiredToolThroughCoordinator(t *testing.T) {
	llm := &scriptedLLM{responses: []*model.Response{
		{
			ToolCalls:    []tool.Call{{ID: "call_1", Name: "write_file", Args: map[string]any{"path": "a.go"}}},
			FinishReason: model.FinishReasonToolCalls,
		},
		{Text: "I have completed my task.", FinishReason: model.FinishReasonStop},
		{Text: "Wrote the file.", FinishReason: model.FinishReasonStop},
	}}
	writeTool := &fakeCallableTool{name: "write_file", requiresApproval: true, result: map[string]any{"content": "ok"}}
	coordinator := approval.NewCoordinator(time.Second)
	loop := NewLoop(llm, coordinator, instruction.NewComposer(nil), nil)

	go func() {
		assert.Eventually(t, func() bool { return coordinator.IsPending("call_1") }, time.Second, time.Millisecond)
		_ = coordinator.Resolve("call_1", approval.Decision{Approved: true, Respondent: "tester"})
	}()

	result, err := loop.Run(context.Background(), Input{
		Plan:     fact.ExecutionPlan{Name: "task-plan", Strategy: fact.StrategyTask},
		Composed: newComposed(),
		Tools:    []tool.CallableTool{writeTool},
	})
	require.NoError(t, err)
	assert.Equal(t, StateComplete, result.State)
	assert.Equal(t, 1, result.ToolCallCount)
}

func TestRunRecordsDenialWithoutCallingTool(t *testing.T) {
	called := false
	llm := &scriptedLLM{responses: []*model.Response{
		{
			ToolCalls:    []tool.Call{{ID: "call_1", Name: "write_file", Args: map[string]any{"path": "a.go"}}},
			FinishReason: model.FinishReasonToolCalls,
		},
		{Text: "I have completed my task.", FinishReason: model.FinishReasonStop},
		{Text: "Could not write.", FinishReason: model.FinishReasonStop},
	}}
	writeTool := &recordingTool{fakeCallableTool: fakeCallableTool{name: "write_file", requiresApproval: true}, called: &called}
	coordinator := approval.NewCoordinator(time.Second)
	loop := NewLoop(llm, coordinator, instruction.NewComposer(nil), nil)

	go func() {
		assert.Eventually(t, func() bool { return coordinator.IsPending("call_1") }, time.Second, time.Millisecond)
		_ = coordinator.Resolve("call_1", approval.Decision{Approved: false, Reason: "not now"})
	}()

	result, err := loop.Run(context.Background(), Input{
		Plan:     fact.ExecutionPlan{Name: "task-plan", Strategy: fact.StrategyTask},
		Composed: newComposed(),
		Tools:    []tool.CallableTool{writeTool},
	})
	require.NoError(t, err)
	assert.False(t, called, "denied tool must never execute")

	var sawDenial bool
	for _, m := range result.Thread.Messages {
		if m.Role == fact.RoleTool && m.Text == "denied: not now" {
			sawDenial = true
		}
	}
	assert.True(t, sawDenial)
}

type recordingTool struct {
	fakeCallableTool
	called *bool
}

func (r *recordingTool) Call(ctx tool.Context, args map[string]any) (map[string]any, error) {
	*r.called = true
	return r.fakeCallableTool.Call(ctx, args)
}

func TestRunUnknownToolNameSkipsWithoutFailing(t *testing.T) {
	llm := &scriptedLLM{responses: []*model.Response{
		{
			ToolCalls:    []tool.Call{{ID: "call_1", Name: "does_not_exist"}},
			FinishReason: model.FinishReasonToolCalls,
		},
		{Text: "I have completed my task.", FinishReason: model.FinishReasonStop},
		{Text: "Done anyway.", FinishReason: model.FinishReasonStop},
	}}
	loop := NewLoop(llm, nil, instruction.NewComposer(nil), nil)

	result, err := loop.Run(context.Background(), Input{
		Plan:     fact.ExecutionPlan{Name: "task-plan", Strategy: fact.StrategyTask},
		Composed: newComposed(),
	})
	require.NoError(t, err)
	assert.Equal(t, StateComplete, result.State)
}

func TestRunForcesSynthesisAtMaxCycles(t *testing.T) {
	responses := make([]*model.Response, 0, 4)
	for i := 0; i < 4; i++ {
		responses = append(responses, &model.Response{Text: "still working", FinishReason: model.FinishReasonStop})
	}
	llm := &scriptedLLM{responses: responses}
	loop := NewLoop(llm, nil, instruction.NewComposer(nil), nil)

	result, err := loop.Run(context.Background(), Input{
		Plan: fact.ExecutionPlan{
			Name:     "task-plan",
			Strategy: fact.StrategyTask,
			Resolution: fact.Resolution{MaxCycles: 2},
		},
		Composed: newComposed(),
	})
	require.NoError(t, err)
	assert.Equal(t, StateForcedComplete, result.State)
}

func TestRunForcesSynthesisAtMaxToolCalls(t *testing.T) {
	llm := &scriptedLLM{responses: []*model.Response{
		{
			ToolCalls:    []tool.Call{{ID: "call_1", Name: "read_file", Args: map[string]any{"path": "a.go"}}},
			FinishReason: model.FinishReasonToolCalls,
		},
		{Text: "forced synthesis output", FinishReason: model.FinishReasonStop},
	}}
	readTool := &fakeCallableTool{name: "read_file", result: map[string]any{"content": "package main"}}
	loop := NewLoop(llm, nil, instruction.NewComposer(nil), nil)

	result, err := loop.Run(context.Background(), Input{
		Plan: fact.ExecutionPlan{
			Name:       "task-plan",
			Strategy:   fact.StrategyTask,
			Resolution: fact.Resolution{MaxCycles: 10, MaxToolCalls: 1},
		},
		Composed: newComposed(),
		Tools:    []tool.CallableTool{readTool},
	})
	require.NoError(t, err)
	assert.Equal(t, StateForcedComplete, result.State)
	assert.Equal(t, 1, result.ToolCallCount)
}

func TestRunReturnsInterruptedOnCancelledContext(t *testing.T) {
	llm := &scriptedLLM{responses: []*model.Response{{Text: "never reached"}}}
	loop := NewLoop(llm, nil, instruction.NewComposer(nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := loop.Run(ctx, Input{
		Plan:     fact.ExecutionPlan{Name: "task-plan", Strategy: fact.StrategyTask},
		Composed: newComposed(),
	})
	require.NoError(t, err)
	assert.Equal(t, StateInterrupted, result.State)
}
