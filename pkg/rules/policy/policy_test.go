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

package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/signalforge/cortex/pkg/fact"
	"github.com/signalforge/cortex/pkg/rules"
)

func newEngine(turn int, rs ...rules.Rule) *rules.Engine {
	e := rules.NewEngine(turn)
	e.AddRules(rs...)
	return e
}

func TestFanoutLimitBlocksOversizedParallelPlan(t *testing.T) {
	wm := rules.NewWorkingMemory(fact.ExecutionPlan{
		ID:       "p1",
		Name:     "red-team-forecast",
		Strategy: fact.StrategyParallel,
		Roles:    []fact.RoleBranch{{Role: "a"}, {Role: "b"}, {Role: "c"}, {Role: "d"}},
	})

	engine := newEngine(0, GeneratePolicyRules(Limits{MaxFanout: 3, MaxChildren: 6, MaxDepth: 4})...)
	out, err := engine.Run(wm)
	assert.NoError(t, err)

	plans := latestPlans(out.Facts())
	assert.Len(t, plans, 1)
	assert.True(t, plans[0].PolicyBlocked)
	assert.Contains(t, plans[0].BlockedReason, "E_FANOUT")
}

func TestChildrenLimitBlocksOversizedSequentialPlan(t *testing.T) {
	steps := make([]fact.SequenceStep, 7)
	wm := rules.NewWorkingMemory(fact.ExecutionPlan{
		ID:       "p1",
		Name:     "pipeline",
		Strategy: fact.StrategySequential,
		Sequence: steps,
	})

	engine := newEngine(0, GeneratePolicyRules(Limits{MaxFanout: 3, MaxChildren: 6, MaxDepth: 4})...)
	out, err := engine.Run(wm)
	assert.NoError(t, err)

	plans := latestPlans(out.Facts())
	assert.True(t, plans[0].PolicyBlocked)
	assert.Contains(t, plans[0].BlockedReason, "E_CHILDREN")
}

func TestPlanWithinLimitsIsNotBlocked(t *testing.T) {
	wm := rules.NewWorkingMemory(fact.ExecutionPlan{
		ID:       "p1",
		Name:     "investigate-task",
		Strategy: fact.StrategyTask,
	})

	engine := newEngine(0, GeneratePolicyRules(DefaultLimits)...)
	out, err := engine.Run(wm)
	assert.NoError(t, err)

	plans := latestPlans(out.Facts())
	assert.False(t, plans[0].PolicyBlocked)
}

func TestGenerateResultStrategyRuleCorrectsLastToLabel(t *testing.T) {
	wm := rules.NewWorkingMemory(fact.ExecutionPlan{
		ID:             "p1",
		Name:           "red-team-forecast",
		Strategy:       fact.StrategyParallel,
		ResultStrategy: fact.ResultLast,
	})

	engine := newEngine(0, GenerateResultStrategyRule())
	out, err := engine.Run(wm)
	assert.NoError(t, err)

	plans := latestPlans(out.Facts())
	assert.Equal(t, fact.ResultLabel, plans[0].ResultStrategy)
}

func TestValidationRulesFlagUnnamedPlan(t *testing.T) {
	wm := rules.NewWorkingMemory(fact.ExecutionPlan{
		ID:       "p1",
		Strategy: fact.StrategyDirect,
		Provenance: fact.Provenance{Producer: "module.broken"},
	})

	engine := newEngine(0, ValidationRules()...)
	out, err := engine.Run(wm)
	assert.NoError(t, err)

	verr := CheckValidation(out)
	assert.Error(t, verr)
	assert.Contains(t, verr.Error(), "module.broken")
}

func TestValidationRulesFlagMultiplePrecedence(t *testing.T) {
	wm := rules.NewWorkingMemory(
		fact.PlanPrecedence{Names: []string{"a"}, Provenance: fact.Provenance{Producer: "r1"}},
		fact.PlanPrecedence{Names: []string{"b"}, Provenance: fact.Provenance{Producer: "r2"}},
	)

	engine := newEngine(0, ValidationRules()...)
	out, err := engine.Run(wm)
	assert.NoError(t, err)

	verr := CheckValidation(out)
	assert.Error(t, verr)
	assert.Contains(t, verr.Error(), "r1")
	assert.Contains(t, verr.Error(), "r2")
}

func TestCheckValidationCleanWorkingMemory(t *testing.T) {
	wm := rules.NewWorkingMemory(fact.ExecutionPlan{ID: "p1", Name: "direct", Strategy: fact.StrategyDirect})
	assert.NoError(t, CheckValidation(wm))
}

func TestSelectionRuleFollowsPrecedenceOrder(t *testing.T) {
	wm := rules.NewWorkingMemory(
		fact.ExecutionPlan{ID: "p1", Name: "investigate-task", Strategy: fact.StrategyTask, HasTools: true},
		fact.ExecutionPlan{ID: "p2", Name: "ack-only-direct", Strategy: fact.StrategyDirect},
		fact.PlanPrecedence{Names: []string{"ack-only-direct", "investigate-task"}},
	)

	engine := newEngine(0, SelectionRule())
	out, err := engine.Run(wm)
	assert.NoError(t, err)

	selected := out.OfType("selected_plan")
	assert.Len(t, selected, 1)
	sp := selected[0].(fact.SelectedPlan)
	assert.False(t, sp.Synthesized)
	assert.Equal(t, "ack-only-direct", sp.Plan.Name)
}

func TestSelectionRuleSkipsPolicyBlockedPlans(t *testing.T) {
	wm := rules.NewWorkingMemory(
		fact.ExecutionPlan{ID: "p1", Name: "red-team-forecast", Strategy: fact.StrategyParallel, PolicyBlocked: true, BlockedReason: "E_FANOUT: too many roles"},
		fact.ExecutionPlan{ID: "p2", Name: "investigate-task", Strategy: fact.StrategyTask, HasTools: true},
		fact.PlanPrecedence{Names: []string{"red-team-forecast", "investigate-task"}},
	)

	engine := newEngine(0, SelectionRule())
	out, err := engine.Run(wm)
	assert.NoError(t, err)

	sp := out.OfType("selected_plan")[0].(fact.SelectedPlan)
	assert.Equal(t, "investigate-task", sp.Plan.Name)
}

func TestSelectionRuleSynthesizesFallbackWhenNothingEligible(t *testing.T) {
	wm := rules.NewWorkingMemory(
		fact.ExecutionPlan{ID: "p1", Name: "red-team-forecast", Strategy: fact.StrategyParallel, PolicyBlocked: true},
	)

	engine := newEngine(0, SelectionRule())
	out, err := engine.Run(wm)
	assert.NoError(t, err)

	sp := out.OfType("selected_plan")[0].(fact.SelectedPlan)
	assert.True(t, sp.Synthesized)
	assert.Equal(t, fact.StrategyDirect, sp.Plan.Strategy)
}

func TestDedupeFirstOccurrenceKeepsFirst(t *testing.T) {
	wm := rules.NewWorkingMemory(
		fact.ExecutionPlan{ID: "p1", Name: "investigate-task", Strategy: fact.StrategyTask},
		fact.PlanPrecedence{Names: []string{"investigate-task", "investigate-task"}},
	)

	engine := newEngine(0, SelectionRule())
	out, err := engine.Run(wm)
	assert.NoError(t, err)

	sp := out.OfType("selected_plan")[0].(fact.SelectedPlan)
	assert.Equal(t, "investigate-task", sp.Plan.Name)
}
