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

package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/signalforge/cortex/pkg/fact"
)

func TestEngineRunFixedPoint(t *testing.T) {
	wm := NewWorkingMemory(fact.Signal{Dimension: fact.DimensionIntent, Label: "investigate", Confidence: 0.9})

	engine := NewEngine(1)
	engine.AddRules(Rule{
		Name:     "emit-plan-once",
		Salience: 0,
		When:     SignalAtLeast{Dimension: fact.DimensionIntent, Label: "investigate", Min: fact.MinConfidence},
		Then: func(ctx *RuleContext, b Bindings) {
			ctx.AddFact(fact.ExecutionPlan{Name: "investigate-task", Strategy: fact.StrategyTask})
		},
	})

	out, err := engine.Run(wm)
	assert.NoError(t, err)

	plans := out.OfType("execution_plan")
	assert.Len(t, plans, 1, "refraction must prevent the rule from firing twice")
}

func TestEngineRunRespectsSalienceOrder(t *testing.T) {
	wm := NewWorkingMemory()
	var order []string

	engine := NewEngine(0)
	engine.AddRules(
		Rule{
			Name:     "low",
			Salience: -10,
			When:     Test{Fn: func(*WorkingMemory) (bool, Bindings) { return true, nil }},
			Then:     func(ctx *RuleContext, b Bindings) { order = append(order, "low") },
		},
		Rule{
			Name:     "high",
			Salience: 10,
			When:     Test{Fn: func(*WorkingMemory) (bool, Bindings) { return true, nil }},
			Then:     func(ctx *RuleContext, b Bindings) { order = append(order, "high") },
		},
	)

	_, err := engine.Run(wm)
	assert.NoError(t, err)
	assert.Equal(t, []string{"high", "low"}, order)
}

func TestEngineLoopDetection(t *testing.T) {
	wm := NewWorkingMemory()
	engine := NewEngine(0)
	engine.AddRules(Rule{
		Name:     "always-add",
		Salience: 0,
		When:     Test{Fn: func(wm *WorkingMemory) (bool, Bindings) { return true, Bindings{"n": len(wm.facts)} }},
		Then: func(ctx *RuleContext, b Bindings) {
			ctx.AddFact(fact.Derived{Label: "spin", Value: len(ctx.wm.facts)})
		},
	})

	out, err := engine.Run(wm)
	var loopErr *LoopDetectedError
	assert.ErrorAs(t, err, &loopErr)
	assert.Same(t, out, loopErr.WorkingMemory)
}

func TestRuleContextAddFactStampsProvenance(t *testing.T) {
	wm := NewWorkingMemory()
	engine := NewEngine(3)
	engine.AddRules(Rule{
		Name:     "stamp",
		Salience: 0,
		When:     Test{Fn: func(*WorkingMemory) (bool, Bindings) { return true, nil }},
		Then: func(ctx *RuleContext, b Bindings) {
			ctx.AddFact(fact.ExecutionPlan{Name: "direct", Strategy: fact.StrategyDirect})
		},
	})

	out, err := engine.Run(wm)
	assert.NoError(t, err)

	plans := out.OfType("execution_plan")
	assert.Len(t, plans, 1)
	plan := plans[0].(fact.ExecutionPlan)
	assert.Equal(t, "rule", plan.Provenance.Source)
	assert.Equal(t, "stamp", plan.Provenance.Producer)
	assert.Equal(t, 3, plan.Provenance.TurnIndex)
	assert.NotEmpty(t, plan.ID)
}

func TestWorkingMemoryOfTypeIsolation(t *testing.T) {
	wm := NewWorkingMemory(
		fact.Signal{Dimension: fact.DimensionIntent, Label: "investigate", Confidence: 0.9},
		fact.TurnContext{CurrentTurnIndex: 1},
	)
	assert.Len(t, wm.OfType("signal"), 1)
	assert.Len(t, wm.OfType("turn_context"), 1)
	assert.Empty(t, wm.OfType("execution_plan"))

	snapshot := wm.Facts()
	assert.Len(t, snapshot, 2)
}
