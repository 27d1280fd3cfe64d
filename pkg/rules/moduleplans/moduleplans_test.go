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

package moduleplans

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/signalforge/cortex/pkg/fact"
	"github.com/signalforge/cortex/pkg/rules"
)

func runWith(t *testing.T, signals ...fact.Signal) *rules.WorkingMemory {
	t.Helper()
	initial := make([]fact.Fact, 0, len(signals))
	for _, s := range signals {
		initial = append(initial, s)
	}
	wm := rules.NewWorkingMemory(initial...)

	engine := rules.NewEngine(1)
	engine.AddRules(Rules()...)
	out, err := engine.Run(wm)
	assert.NoError(t, err)
	return out
}

func TestAckOnlyDirectRule(t *testing.T) {
	wm := runWith(t, fact.Signal{Dimension: fact.DimensionContract, Label: "ack-only", Confidence: 0.9})

	plans := wm.OfType("execution_plan")
	assert.Len(t, plans, 1)
	assert.Equal(t, "ack-only-direct", plans[0].(fact.ExecutionPlan).Name)

	multipliers := wm.OfType("token_multiplier")
	assert.Len(t, multipliers, 1)
	assert.Equal(t, 0.5, multipliers[0].(fact.TokenMultiplier).Multiplier)
}

func TestInvestigateTaskRuleUsesRegisteredToolNames(t *testing.T) {
	wm := runWith(t, fact.Signal{Dimension: fact.DimensionIntent, Label: "investigate", Confidence: 0.9})

	plans := wm.OfType("execution_plan")
	assert.Len(t, plans, 1)
	plan := plans[0].(fact.ExecutionPlan)
	assert.Equal(t, "investigate-task", plan.Name)
	assert.Equal(t, []string{"list_directory", "read_file", "grep_search"}, plan.Tools)
	assert.True(t, plan.HasTools)
}

func TestExecuteTaskRuleRequiresBothSignals(t *testing.T) {
	wm := runWith(t,
		fact.Signal{Dimension: fact.DimensionIntent, Label: "investigate", Confidence: 0.9},
		fact.Signal{Dimension: fact.DimensionClaim, Label: "asserted-claim", Confidence: 0.9},
	)

	plans := wm.OfType("execution_plan")
	var names []string
	for _, p := range plans {
		names = append(names, p.(fact.ExecutionPlan).Name)
	}
	assert.Contains(t, names, "execute-task")
	assert.Contains(t, names, "investigate-task")

	for _, p := range plans {
		plan := p.(fact.ExecutionPlan)
		if plan.Name == "execute-task" {
			assert.Equal(t, []string{"list_directory", "read_file", "grep_search", "write_file"}, plan.Tools)
		}
	}
}

func TestRedTeamForecastRequiresBothSignals(t *testing.T) {
	wm := runWith(t,
		fact.Signal{Dimension: fact.DimensionTemporal, Label: "forecast", Confidence: 0.9},
		fact.Signal{Dimension: fact.DimensionCalibration, Label: "high-certainty", Confidence: 0.9},
	)

	plans := wm.OfType("execution_plan")
	assert.Len(t, plans, 1)
	plan := plans[0].(fact.ExecutionPlan)
	assert.Equal(t, "red-team-forecast", plan.Name)
	assert.Equal(t, fact.StrategyParallel, plan.Strategy)
	assert.Equal(t, fact.ResultLabel, plan.ResultStrategy, "a parallel plan must never select resultStrategy=last")
	assert.Len(t, plan.Roles, 2)
}

func TestPrecedenceRuleOrdersByPreference(t *testing.T) {
	wm := runWith(t,
		fact.Signal{Dimension: fact.DimensionIntent, Label: "investigate", Confidence: 0.9},
		fact.Signal{Dimension: fact.DimensionClaim, Label: "asserted-claim", Confidence: 0.9},
		fact.Signal{Dimension: fact.DimensionContract, Label: "ack-only", Confidence: 0.9},
	)

	precedence := wm.OfType("plan_precedence")
	assert.Len(t, precedence, 1, "only one PlanPrecedence fact may be emitted per evaluation")
	pp := precedence[0].(fact.PlanPrecedence)
	assert.Equal(t, []string{"execute-task", "investigate-task", "ack-only-direct"}, pp.Names)
}

func TestNoSignalsProducesNoPlans(t *testing.T) {
	wm := runWith(t)
	assert.Empty(t, wm.OfType("execution_plan"))
	assert.Empty(t, wm.OfType("plan_precedence"))
}
