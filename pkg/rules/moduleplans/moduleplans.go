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

// Package moduleplans is the first rule source applied within a
// rules.Engine evaluation (§4.2): domain rules mapping classifier signal
// combinations onto named ExecutionPlan, RoleSelection, TokenMultiplier
// and Derived facts. Everything here runs at the engine's default
// salience (0), above the policy/validation/selection rules in
// pkg/rules/policy, which run at negative salience and never see a raw
// signal directly.
package moduleplans

import (
	"github.com/signalforge/cortex/pkg/fact"
	"github.com/signalforge/cortex/pkg/rules"
)

// Rules returns the module's named plan rules, in registration order.
// Salience is left at the engine default (0) for all of them: precedence
// between competing plans is expressed through PlanPrecedence, not
// salience ordering, since two unrelated signal combinations may both
// fire in the same evaluation and both deserve a seat in the precedence
// list.
func Rules() []rules.Rule {
	return []rules.Rule{
		ackOnlyDirectRule(),
		investigateTaskRule(),
		redTeamForecastRule(),
		executeTaskRule(),
		precedenceRule(),
	}
}

// ackOnlyDirectRule emits a single-turn direct plan at half the base
// token budget when the contract classifier detects a terse
// acknowledgement — no tools, no multi-step reasoning needed.
func ackOnlyDirectRule() rules.Rule {
	return rules.Rule{
		Name: "module.ack-only-direct",
		When: rules.SignalAtLeast{Dimension: fact.DimensionContract, Label: "ack-only", Min: fact.MinConfidence},
		Then: func(ctx *rules.RuleContext, b rules.Bindings) {
			ctx.AddFact(fact.ExecutionPlan{
				Name:      "ack-only-direct",
				Strategy:  fact.StrategyDirect,
				Role:      "default",
				Rationale: "user turn is a terse acknowledgement",
			})
			ctx.AddFact(fact.TokenMultiplier{Multiplier: 0.5, Reason: "ack-only-direct"})
		},
	}
}

// investigateTaskRule emits a task-strategy plan bounded by a five-cycle
// resolution when the intent classifier detects exploratory language
// ("find the files that...", "search the codebase for...").
func investigateTaskRule() rules.Rule {
	return rules.Rule{
		Name: "module.investigate-task",
		When: rules.SignalAtLeast{Dimension: fact.DimensionIntent, Label: "investigate", Min: fact.MinConfidence},
		Then: func(ctx *rules.RuleContext, b rules.Bindings) {
			ctx.AddFact(fact.ExecutionPlan{
				Name:     "investigate-task",
				Strategy: fact.StrategyTask,
				Role:     "investigator",
				Tools:    []string{"list_directory", "read_file", "grep_search"},
				HasTools: true,
				Resolution: fact.Resolution{
					MaxCycles:    5,
					MaxTokens:    4000,
					MaxToolCalls: 12,
					TimeoutMs:    30000,
				},
				Rationale: "user turn asks for exploration over the project",
			})
		},
	}
}

// redTeamForecastRule emits a parallel planner/critic plan when a
// forward-looking claim is paired with overconfident phrasing: the
// critic branch exists specifically to push back on unhedged forecasts.
// Per §9 Open Question 3, a parallel plan may never declare
// ResultLast (no well-defined "last" branch), so this plan uses
// ResultLabel to keep each role's output addressable.
func redTeamForecastRule() rules.Rule {
	return rules.Rule{
		Name: "module.red-team-forecast",
		When: rules.All{Conditions: []rules.Condition{
			rules.SignalAtLeast{Dimension: fact.DimensionTemporal, Label: "forecast", Min: fact.MinConfidence},
			rules.SignalAtLeast{Dimension: fact.DimensionCalibration, Label: "high-certainty", Min: fact.MinConfidence},
		}},
		Then: func(ctx *rules.RuleContext, b rules.Bindings) {
			ctx.AddFact(fact.ExecutionPlan{
				Name:     "red-team-forecast",
				Strategy: fact.StrategyParallel,
				Roles: []fact.RoleBranch{
					{Role: "planner"},
					{Role: "critic"},
				},
				ResultStrategy: fact.ResultLabel,
				Rationale:      "forecast stated with high certainty needs an adversarial pass",
			})
			ctx.AddFact(fact.TokenMultiplier{Multiplier: 1.1, Reason: "red-team-forecast"})
			ctx.AddFact(fact.Adaptation{Key: "hedge-claims", Text: "Flag any unsupported certainty in the forecast before agreeing with it."})
		},
	}
}

// executeTaskRule emits a task-strategy plan whose tools require human
// approval before invocation (routed through pkg/approval by the
// executor) when the turn both asks for investigation and asserts a
// claim that would change state rather than merely inspect it.
func executeTaskRule() rules.Rule {
	return rules.Rule{
		Name: "module.execute-task",
		When: rules.All{Conditions: []rules.Condition{
			rules.SignalAtLeast{Dimension: fact.DimensionIntent, Label: "investigate", Min: fact.MinConfidence},
			rules.SignalAtLeast{Dimension: fact.DimensionClaim, Label: "asserted-claim", Min: fact.MinConfidence},
		}},
		Then: func(ctx *rules.RuleContext, b rules.Bindings) {
			ctx.AddFact(fact.ExecutionPlan{
				Name:     "execute-task",
				Strategy: fact.StrategyTask,
				Role:     "executor",
				Tools:    []string{"list_directory", "read_file", "grep_search", "write_file"},
				HasTools: true,
				Resolution: fact.Resolution{
					MaxCycles:    8,
					MaxTokens:    6000,
					MaxToolCalls: 20,
					TimeoutMs:    60000,
				},
				Rationale: "turn asks for both exploration and a change that needs approval",
			})
		},
	}
}

// precedenceRule collects every named plan this evaluation produced, in
// a fixed preference order (state-changing execution over adversarial
// review over investigation over a bare acknowledgement), and emits the
// single PlanPrecedence fact the selection rule consumes. Guarded
// against re-firing every cycle by checking for a prior emission, since
// its condition (CollectAll) always matches once any plan exists.
func precedenceRule() rules.Rule {
	preferred := []string{"execute-task", "red-team-forecast", "investigate-task", "ack-only-direct"}
	return rules.Rule{
		Name: "module.precedence",
		When: rules.CollectAll{Type: "execution_plan", MinCount: 1},
		Then: func(ctx *rules.RuleContext, b rules.Bindings) {
			if len(ctx.WorkingMemoryOfType("plan_precedence")) > 0 {
				return
			}
			present := map[string]bool{}
			for _, f := range b["facts"].([]fact.Fact) {
				present[f.(fact.ExecutionPlan).Name] = true
			}
			var names []string
			for _, name := range preferred {
				if present[name] {
					names = append(names, name)
				}
			}
			if len(names) == 0 {
				return
			}
			ctx.AddFact(fact.PlanPrecedence{Names: names})
		},
	}
}
