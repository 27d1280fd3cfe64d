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

// Package executor implements the plan executor (C6): it dispatches a
// SelectedPlan to one of four strategies (direct, sequential, parallel,
// task), opening an execution boundary for each and aggregating step
// results according to the plan's resultStrategy.
package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/signalforge/cortex/pkg/fact"
	"github.com/signalforge/cortex/pkg/instruction"
	"github.com/signalforge/cortex/pkg/model"
	"github.com/signalforge/cortex/pkg/observability"
	"github.com/signalforge/cortex/pkg/task"
	"github.com/signalforge/cortex/pkg/tool"
)

// ToolResolver returns the set of callable tools a plan's tool-name list
// refers to. The executor then narrows that set to what the Capability
// facts allow (filterByCapability).
type ToolResolver interface {
	Resolve(ctx context.Context, names []string) []tool.CallableTool
}

// StepResult is one step/branch's contribution to the plan's final
// response, before resultStrategy aggregation.
type StepResult struct {
	Role         string
	Text         string
	FinishReason model.FinishReason
}

// Response is the plan executor's output for one turn.
type Response struct {
	Text         string
	Strategy     fact.Strategy
	Role         string
	FinishReason model.FinishReason
	Metadata     map[string]any
}

// Executor dispatches SelectedPlan facts to their execution strategy.
type Executor struct {
	LLM      model.LLM
	Composer *instruction.Composer
	Tracer   *observability.Tracer
	Tools    ToolResolver
	Tasks    *task.Loop
}

// New builds an Executor from its collaborators. tools and taskLoop may
// be nil for deployments that never select a plan with tools.
func New(llm model.LLM, composer *instruction.Composer, tracer *observability.Tracer, tools ToolResolver, taskLoop *task.Loop) *Executor {
	return &Executor{LLM: llm, Composer: composer, Tracer: tracer, Tools: tools, Tasks: taskLoop}
}

// Execute dispatches plan by strategy, returning the aggregated Response
// or an error the caller should route to the fallback executor (C9).
func (e *Executor) Execute(ctx context.Context, plan fact.ExecutionPlan, facts []fact.Fact, thread *fact.Thread, userInput string, parentBoundaryID string) (*Response, error) {
	executionID := uuid.NewString()
	ctx, span := e.Tracer.StartExecution(ctx, executionID, parentBoundaryID, string(plan.Strategy))
	defer span.End()

	switch plan.Strategy {
	case fact.StrategyDirect:
		return e.executeDirect(ctx, plan, facts, thread, userInput, executionID)
	case fact.StrategySequential:
		return e.executeSequential(ctx, plan, facts, thread, userInput, executionID)
	case fact.StrategyParallel:
		return e.executeParallel(ctx, plan, facts, thread, userInput, executionID)
	case fact.StrategyTask:
		return e.executeTask(ctx, plan, facts, thread, userInput, executionID)
	default:
		return nil, fmt.Errorf("executor: unknown strategy %q", plan.Strategy)
	}
}

func (e *Executor) executeDirect(ctx context.Context, plan fact.ExecutionPlan, facts []fact.Fact, thread *fact.Thread, userInput string, boundaryID string) (*Response, error) {
	composed, err := e.Composer.Compose(instruction.Input{
		Plan:            plan,
		Facts:           facts,
		Thread:          thread,
		UserInput:       userInput,
		CompositionType: instruction.CompositionDefault,
	})
	if err != nil {
		return nil, fmt.Errorf("executor: compose: %w", err)
	}

	result, err := e.call(ctx, plan, composed, facts, boundaryID)
	if err != nil {
		return nil, err
	}

	return &Response{
		Text:         result.Text,
		Strategy:     plan.Strategy,
		Role:         plan.Role,
		FinishReason: result.FinishReason,
		Metadata:     map[string]any{"strategy": string(plan.Strategy), "role": plan.Role},
	}, nil
}

func (e *Executor) executeSequential(ctx context.Context, plan fact.ExecutionPlan, facts []fact.Fact, thread *fact.Thread, userInput string, boundaryID string) (*Response, error) {
	var built *fact.Thread
	var results []StepResult

	for i, step := range plan.Sequence {
		stepCtx, span := e.Tracer.StartStep(ctx, uuid.NewString(), boundaryID, i)

		in := instruction.Input{
			Plan:            stepPlan(plan, step),
			Facts:           facts,
			UserInput:       userInput,
			CompositionType: instruction.CompositionDefault,
		}
		if step.BuildThread && built != nil {
			in.CompositionType = instruction.CompositionContinuation
			in.ExistingBuilt = built
			in.UserInput = ""
		} else {
			in.Thread = thread
		}

		composed, err := e.Composer.Compose(in)
		if err != nil {
			span.End()
			return nil, fmt.Errorf("executor: compose step %d: %w", i, err)
		}

		result, err := e.call(stepCtx, in.Plan, composed, facts, boundaryID)
		span.End()
		if err != nil {
			return nil, fmt.Errorf("executor: step %d: %w", i, err)
		}

		built = composed.Thread.Clone()
		built.Append(&fact.Message{Role: fact.RoleAssistant, Text: result.Text})
		results = append(results, StepResult{Role: step.Role, Text: result.Text, FinishReason: result.FinishReason})
	}

	text, finish := aggregate(plan.ResultStrategy, results)
	return &Response{
		Text:         text,
		Strategy:     plan.Strategy,
		Role:         plan.Role,
		FinishReason: finish,
		Metadata:     map[string]any{"strategy": string(plan.Strategy), "steps": len(results)},
	}, nil
}

func (e *Executor) executeParallel(ctx context.Context, plan fact.ExecutionPlan, facts []fact.Fact, thread *fact.Thread, userInput string, boundaryID string) (*Response, error) {
	resultStrategy := plan.ResultStrategy
	if resultStrategy == fact.ResultLast {
		slog.Warn("executor: parallel plan requested resultStrategy=last, defaulting to label", "plan", plan.Name)
		resultStrategy = fact.ResultLabel
	}
	if resultStrategy == "" {
		resultStrategy = fact.ResultLabel
	}

	results := make([]StepResult, len(plan.Roles))
	g, gctx := errgroup.WithContext(ctx)
	for i, branch := range plan.Roles {
		i, branch := i, branch
		g.Go(func() error {
			branchCtx, span := e.Tracer.StartBranch(gctx, uuid.NewString(), boundaryID, i)
			defer span.End()

			branchPlan := plan
			branchPlan.Role = branch.Role
			branchPlan.Tools = branch.Tools
			branchPlan.Strategy = fact.StrategyDirect

			composed, err := e.Composer.Compose(instruction.Input{
				Plan:            branchPlan,
				Facts:           facts,
				Thread:          thread.Clone(),
				UserInput:       userInput,
				CompositionType: instruction.CompositionDefault,
			})
			if err != nil {
				return fmt.Errorf("executor: compose branch %q: %w", branch.Role, err)
			}

			result, err := e.call(branchCtx, branchPlan, composed, facts, boundaryID)
			if err != nil {
				return fmt.Errorf("executor: branch %q: %w", branch.Role, err)
			}
			results[i] = StepResult{Role: branch.Role, Text: result.Text, FinishReason: result.FinishReason}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	text, finish := aggregate(resultStrategy, results)
	return &Response{
		Text:         text,
		Strategy:     plan.Strategy,
		Role:         plan.Role,
		FinishReason: finish,
		Metadata:     map[string]any{"strategy": string(plan.Strategy), "branches": len(results)},
	}, nil
}

func (e *Executor) executeTask(ctx context.Context, plan fact.ExecutionPlan, facts []fact.Fact, thread *fact.Thread, userInput string, boundaryID string) (*Response, error) {
	if e.Tasks == nil {
		return nil, fmt.Errorf("executor: task strategy selected but no task loop configured")
	}

	var tools []tool.CallableTool
	if e.Tools != nil {
		tools = filterByCapability(e.Tools.Resolve(ctx, plan.Tools), facts)
	}

	composed, err := e.Composer.Compose(instruction.Input{
		Plan:            plan,
		Facts:           facts,
		Thread:          thread,
		UserInput:       userInput,
		CompositionType: instruction.CompositionDefault,
	})
	if err != nil {
		return nil, fmt.Errorf("executor: compose: %w", err)
	}

	result, err := e.Tasks.Run(ctx, task.Input{
		Plan:             plan,
		Composed:         composed,
		Tools:            tools,
		ParentBoundaryID: boundaryID,
	})
	if err != nil {
		return nil, fmt.Errorf("executor: task loop: %w", err)
	}

	return &Response{
		Text:         result.Text,
		Strategy:     plan.Strategy,
		Role:         plan.Role,
		FinishReason: result.FinishReason,
		Metadata: map[string]any{
			"strategy":      string(plan.Strategy),
			"role":          plan.Role,
			"taskState":     string(result.State),
			"cycleCount":    result.CycleCount,
			"toolCallCount": result.ToolCallCount,
		},
	}, nil
}

// call issues one LLM exchange within the named boundary and returns its
// final aggregated response.
func (e *Executor) call(ctx context.Context, plan fact.ExecutionPlan, composed *instruction.Composed, facts []fact.Fact, parentBoundaryID string) (*model.Response, error) {
	exchangeID := uuid.NewString()
	ctx, span := e.Tracer.StartLLMExchange(ctx, exchangeID, parentBoundaryID, e.LLM.Name(), composed.MaxTokens, 0, 0)
	defer span.End()

	req := &model.Request{
		Messages:          composed.Thread.Messages,
		SystemInstruction: systemText(composed),
		Config:            &model.GenerateConfig{MaxTokens: intPtr(composed.MaxTokens)},
	}
	if (plan.HasTools || len(plan.Tools) > 0) && e.Tools != nil {
		for _, t := range filterByCapability(e.Tools.Resolve(ctx, plan.Tools), facts) {
			req.Tools = append(req.Tools, tool.ToDefinition(t))
		}
	}

	var final *model.Response
	for resp, err := range e.LLM.GenerateContent(ctx, req, false) {
		if err != nil {
			e.Tracer.RecordError(span, err)
			return nil, fmt.Errorf("executor: llm call: %w", err)
		}
		if resp != nil && !resp.Partial {
			final = resp
		}
	}
	if final == nil {
		return nil, fmt.Errorf("executor: llm returned no response")
	}
	if final.Usage != nil {
		e.Tracer.AddLLMUsage(span, final.Usage.PromptTokens, final.Usage.CompletionTokens)
	}
	e.Tracer.AddLLMFinishReason(span, string(final.FinishReason))
	return final, nil
}

func stepPlan(plan fact.ExecutionPlan, step fact.SequenceStep) fact.ExecutionPlan {
	out := plan
	out.Role = step.Role
	out.Strategy = step.Strategy
	out.Tools = step.Tools
	if out.Strategy == "" {
		out.Strategy = fact.StrategyDirect
	}
	return out
}

// aggregate implements the three resultStrategy behaviors over a step or
// branch result set.
func aggregate(strategy fact.ResultStrategy, results []StepResult) (string, model.FinishReason) {
	if len(results) == 0 {
		return "", model.FinishReasonStop
	}
	last := results[len(results)-1]

	switch strategy {
	case fact.ResultConcat:
		var text string
		for i, r := range results {
			if i > 0 {
				text += "\n\n"
			}
			text += r.Text
		}
		return text, last.FinishReason
	case fact.ResultLabel:
		var text string
		for i, r := range results {
			if i > 0 {
				text += "\n\n"
			}
			label := r.Role
			if label == "" {
				label = fmt.Sprintf("step-%d", i)
			}
			text += fmt.Sprintf("## %s\n%s", label, r.Text)
		}
		return text, last.FinishReason
	default: // fact.ResultLast and unset
		return last.Text, last.FinishReason
	}
}

func systemText(c *instruction.Composed) string {
	if idx, ok := c.Indices["system"]; ok && idx < len(c.Thread.Messages) {
		return c.Thread.Messages[idx].Text
	}
	return ""
}

func intPtr(v int) *int { return &v }

// filterByCapability narrows tools to whatever the working memory's
// Capability facts allow. With no Capability fact present, every
// resolved tool passes through unchanged.
func filterByCapability(tools []tool.CallableTool, facts []fact.Fact) []tool.CallableTool {
	pred := tool.AllowAll()
	for _, f := range facts {
		if cap, ok := f.(fact.Capability); ok {
			pred = tool.Combine(pred, tool.StringPredicate(cap.AllowedTools))
		}
	}

	out := make([]tool.CallableTool, 0, len(tools))
	for _, t := range tools {
		if pred(t) {
			out = append(out, t)
		}
	}
	return out
}
