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

// Package cortex wires the perception, rules, instruction, execution and
// fallback stages into one per-turn pipeline: classify the user's turn
// into signals, run them through the rules engine to select a plan,
// compose instructions for it, execute it, and route any escaped error
// to the fallback executor.
package cortex

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/signalforge/cortex/pkg/approval"
	"github.com/signalforge/cortex/pkg/classifier"
	"github.com/signalforge/cortex/pkg/executor"
	"github.com/signalforge/cortex/pkg/fact"
	"github.com/signalforge/cortex/pkg/fallback"
	"github.com/signalforge/cortex/pkg/instruction"
	"github.com/signalforge/cortex/pkg/model"
	"github.com/signalforge/cortex/pkg/observability"
	"github.com/signalforge/cortex/pkg/rules"
	"github.com/signalforge/cortex/pkg/rules/moduleplans"
	"github.com/signalforge/cortex/pkg/rules/policy"
	"github.com/signalforge/cortex/pkg/task"
	"github.com/signalforge/cortex/pkg/utils"
)

// Response is one turn's final, user-visible outcome.
type Response struct {
	Text     string
	Plan     string
	Metadata map[string]any
}

// Engine drives one turn end to end: classify, decide, compose, execute,
// recover. It holds no per-turn state of its own, so a single Engine can
// serve concurrent turns as long as its collaborators do (the classifier
// bank and executor are already safe for concurrent use).
type Engine struct {
	Classifiers *classifier.Bank
	Limits      policy.Limits
	Composer    *instruction.Composer
	Executor    *executor.Executor
	Fallback    *fallback.Executor
	Tracer      *observability.Tracer

	turnIndex int
}

// New assembles an Engine from its collaborators. tools may be nil for a
// deployment that never selects a plan with tools; approval may be nil if
// no plan in use ever requires one.
func New(llm model.LLM, tools executor.ToolResolver, approvalCoord *approval.Coordinator, tracer *observability.Tracer, limits policy.Limits) (*Engine, error) {
	counter, err := utils.NewTokenCounter("gpt-4")
	if err != nil {
		return nil, fmt.Errorf("cortex: build token counter: %w", err)
	}
	composer := instruction.NewComposer(counter)
	taskLoop := task.NewLoop(llm, approvalCoord, composer, tracer)
	exec := executor.New(llm, composer, tracer, tools, taskLoop)

	return &Engine{
		Classifiers: classifier.DefaultBank(llm),
		Limits:      limits,
		Composer:    composer,
		Executor:    exec,
		Fallback:    fallback.NewExecutor(llm),
		Tracer:      tracer,
	}, nil
}

// RunTurn classifies userInput appended to thread, selects a plan via the
// rules engine, executes it, and recovers through the fallback executor
// on any escaped error (including a rules.LoopDetectedError from the
// engine itself).
func (e *Engine) RunTurn(ctx context.Context, thread *fact.Thread, userInput string, parentBoundaryID string) (*Response, error) {
	e.turnIndex++
	turn := thread.Clone()
	turn.Append(&fact.Message{Role: fact.RoleUser, Text: userInput})

	resp, err := e.runTurn(ctx, turn, userInput, parentBoundaryID)
	if err != nil {
		fb := e.Fallback.Recover(ctx, err, turn)
		return &Response{Text: fb.Text, Plan: string(fb.Code), Metadata: fb.Metadata}, nil
	}
	return resp, nil
}

func (e *Engine) runTurn(ctx context.Context, turn *fact.Thread, userInput string, parentBoundaryID string) (*Response, error) {
	signals, err := e.Classifiers.Run(ctx, turn)
	if err != nil {
		return nil, fmt.Errorf("cortex: classify: %w", err)
	}

	initial := make([]fact.Fact, 0, len(signals)+1)
	initial = append(initial, fact.TurnContext{CurrentTurnIndex: e.turnIndex})
	for _, s := range signals {
		initial = append(initial, s)
	}
	wm := rules.NewWorkingMemory(initial...)

	engine := rules.NewEngine(e.turnIndex)
	engine.AddRules(moduleplans.Rules()...)
	engine.AddRules(policy.GeneratePolicyRules(e.Limits)...)
	engine.AddRules(policy.GenerateResultStrategyRule())
	engine.AddRules(policy.ValidationRules()...)
	engine.AddRules(policy.SelectionRule())

	wm, err = engine.Run(wm)
	if err != nil {
		return nil, fmt.Errorf("cortex: rules evaluation: %w", err)
	}
	if err := policy.CheckValidation(wm); err != nil {
		return nil, err
	}

	selected := latestSelectedPlan(wm.Facts())
	if selected == nil {
		return nil, fmt.Errorf("cortex: no plan selected for turn")
	}
	if selected.Synthesized {
		slog.Warn("cortex: no module plan matched, running synthesized fallback", "plan", selected.Plan.Name)
	}

	execResp, err := e.Executor.Execute(ctx, selected.Plan, wm.Facts(), turn, userInput, parentBoundaryID)
	if err != nil {
		return nil, fmt.Errorf("cortex: execute: %w", err)
	}

	return &Response{Text: execResp.Text, Plan: selected.Plan.Name, Metadata: execResp.Metadata}, nil
}

// latestSelectedPlan returns the most recently inserted SelectedPlan
// fact, mirroring policy.latestPlans' "latest wins" resolution for I5's
// immutable-fact model.
func latestSelectedPlan(facts []fact.Fact) *fact.SelectedPlan {
	var latest *fact.SelectedPlan
	for _, f := range facts {
		if sp, ok := f.(fact.SelectedPlan); ok {
			spCopy := sp
			latest = &spCopy
		}
	}
	return latest
}
