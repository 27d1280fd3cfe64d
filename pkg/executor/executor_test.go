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

package executor

import (
	"context"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalforge/cortex/pkg/fact"
	"github.com/signalforge/cortex/pkg/instruction"
	"github.com/signalforge/cortex/pkg/model"
	"github.com/signalforge/cortex/pkg/tool"
)

type fakeLLM struct {
	text string
}

func (f *fakeLLM) Name() string             { return "fake" }
func (f *fakeLLM) Provider() model.Provider { return model.ProviderOpenAI }
func (f *fakeLLM) Close() error             { return nil }

func (f *fakeLLM) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		yield(&model.Response{Text: f.text, FinishReason: model.FinishReasonStop}, nil)
	}
}

type recordingLLM struct {
	fakeLLM
	lastReq *model.Request
}

func (r *recordingLLM) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	r.lastReq = req
	return r.fakeLLM.GenerateContent(ctx, req, stream)
}

type fakeTool struct {
	name string
}

func (f *fakeTool) Name() string                  { return f.name }
func (f *fakeTool) Description() string           { return "a fake tool" }
func (f *fakeTool) IsLongRunning() bool            { return false }
func (f *fakeTool) RequiresApproval() bool         { return false }
func (f *fakeTool) Schema() map[string]any         { return nil }
func (f *fakeTool) Call(ctx tool.Context, args map[string]any) (map[string]any, error) {
	return nil, nil
}

type fakeToolResolver struct {
	tools map[string]tool.CallableTool
}

func (r *fakeToolResolver) Resolve(ctx context.Context, names []string) []tool.CallableTool {
	out := make([]tool.CallableTool, 0, len(names))
	for _, n := range names {
		if t, ok := r.tools[n]; ok {
			out = append(out, t)
		}
	}
	return out
}

func newTestExecutor(llm model.LLM, resolver ToolResolver) *Executor {
	return New(llm, instruction.NewComposer(nil), nil, resolver, nil)
}

func TestExecuteDirectReturnsLLMText(t *testing.T) {
	e := newTestExecutor(&fakeLLM{text: "hello"}, nil)
	plan := fact.ExecutionPlan{Name: "direct-plan", Strategy: fact.StrategyDirect, Role: "assistant"}

	resp, err := e.Execute(context.Background(), plan, nil, &fact.Thread{}, "hi", "")
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, "direct", resp.Metadata["strategy"])
}

func TestExecuteSequentialAggregatesWithLabelStrategy(t *testing.T) {
	e := newTestExecutor(&fakeLLM{text: "step output"}, nil)
	plan := fact.ExecutionPlan{
		Name:     "seq-plan",
		Strategy: fact.StrategySequential,
		Sequence: []fact.SequenceStep{
			{Role: "investigate"},
			{Role: "summarize", BuildThread: true},
		},
		ResultStrategy: fact.ResultLabel,
	}

	resp, err := e.Execute(context.Background(), plan, nil, &fact.Thread{}, "hi", "")
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "investigate")
	assert.Contains(t, resp.Text, "summarize")
	assert.Equal(t, 2, resp.Metadata["steps"])
}

func TestExecuteParallelDemotesLastResultStrategyToLabel(t *testing.T) {
	e := newTestExecutor(&fakeLLM{text: "branch output"}, nil)
	plan := fact.ExecutionPlan{
		Name:     "par-plan",
		Strategy: fact.StrategyParallel,
		Roles: []fact.RoleBranch{
			{Role: "optimist"},
			{Role: "skeptic"},
		},
		ResultStrategy: fact.ResultLast,
	}

	resp, err := e.Execute(context.Background(), plan, nil, &fact.Thread{}, "hi", "")
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "optimist")
	assert.Contains(t, resp.Text, "skeptic")
}

func TestExecuteTaskWithoutLoopConfiguredReturnsError(t *testing.T) {
	e := newTestExecutor(&fakeLLM{text: "n/a"}, nil)
	plan := fact.ExecutionPlan{Name: "task-plan", Strategy: fact.StrategyTask}

	_, err := e.Execute(context.Background(), plan, nil, &fact.Thread{}, "hi", "")
	assert.Error(t, err)
}

func TestExecuteUnknownStrategyReturnsError(t *testing.T) {
	e := newTestExecutor(&fakeLLM{text: "n/a"}, nil)
	plan := fact.ExecutionPlan{Name: "mystery-plan", Strategy: fact.Strategy("unknown")}

	_, err := e.Execute(context.Background(), plan, nil, &fact.Thread{}, "hi", "")
	assert.Error(t, err)
}

func TestFilterByCapabilityAllowsEverythingWithNoCapabilityFact(t *testing.T) {
	tools := []tool.CallableTool{&fakeTool{name: "read_file"}, &fakeTool{name: "write_file"}}
	filtered := filterByCapability(tools, nil)
	assert.Len(t, filtered, 2)
}

func TestFilterByCapabilityNarrowsToAllowedToolNames(t *testing.T) {
	tools := []tool.CallableTool{&fakeTool{name: "read_file"}, &fakeTool{name: "write_file"}}
	facts := []fact.Fact{fact.Capability{Name: "investigate", AllowedTools: []string{"read_file"}}}

	filtered := filterByCapability(tools, facts)
	require.Len(t, filtered, 1)
	assert.Equal(t, "read_file", filtered[0].Name())
}

func TestFilterByCapabilityIntersectsMultipleCapabilityFacts(t *testing.T) {
	tools := []tool.CallableTool{&fakeTool{name: "read_file"}, &fakeTool{name: "write_file"}}
	facts := []fact.Fact{
		fact.Capability{Name: "broad", AllowedTools: []string{"read_file", "write_file"}},
		fact.Capability{Name: "narrow", AllowedTools: []string{"write_file"}},
	}

	filtered := filterByCapability(tools, facts)
	require.Len(t, filtered, 1)
	assert.Equal(t, "write_file", filtered[0].Name())
}

func TestExecuteDirectFiltersToolDefinitionsByCapability(t *testing.T) {
	resolver := &fakeToolResolver{tools: map[string]tool.CallableTool{
		"read_file":  &fakeTool{name: "read_file"},
		"write_file": &fakeTool{name: "write_file"},
	}}
	llm := &recordingLLM{fakeLLM: fakeLLM{text: "hello"}}
	e := newTestExecutor(llm, resolver)
	plan := fact.ExecutionPlan{
		Name:     "capability-plan",
		Strategy: fact.StrategyDirect,
		HasTools: true,
		Tools:    []string{"read_file", "write_file"},
	}
	facts := []fact.Fact{fact.Capability{Name: "investigate", AllowedTools: []string{"read_file"}}}

	resp, err := e.Execute(context.Background(), plan, facts, &fact.Thread{}, "hi", "")
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text)
	require.NotNil(t, llm.lastReq)
	require.Len(t, llm.lastReq.Tools, 1)
	assert.Equal(t, "read_file", llm.lastReq.Tools[0].Name)
}
