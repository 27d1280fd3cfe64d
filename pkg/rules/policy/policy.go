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

// Package policy implements C4: policy rules auto-generated from depth/
// fanout/children limits, the system validation rules (unique
// precedence, named plans), and the precedence-based plan-selection
// rule. These run after module rules, in that order, within the same
// rules.Engine evaluation.
package policy

import (
	"fmt"
	"log/slog"

	"github.com/signalforge/cortex/pkg/fact"
	"github.com/signalforge/cortex/pkg/rules"
)

// Limits bounds plan shape; GeneratePolicyRules turns these into rules
// that tag offending ExecutionPlan facts PolicyBlocked=true rather than
// throwing (policy violations are recovered, not fatal — §7).
type Limits struct {
	MaxDepth    int
	MaxFanout   int
	MaxChildren int
}

// DefaultLimits matches the values exercised by the spec's end-to-end
// scenarios (policy-block scenario uses MaxFanout=3).
var DefaultLimits = Limits{MaxDepth: 4, MaxFanout: 3, MaxChildren: 6}

// latestPlans collapses a raw execution_plan fact list down to the most
// recent fact per plan ID. Facts never mutate after insertion (I5), so a
// policy rule "updating" a plan's PolicyBlocked flag appends a new fact
// with the same ID rather than editing the old one; every reader that
// cares about a plan's current state must resolve through this.
func latestPlans(facts []fact.Fact) []fact.ExecutionPlan {
	order := make([]string, 0, len(facts))
	byID := make(map[string]fact.ExecutionPlan, len(facts))
	for _, f := range facts {
		plan := f.(fact.ExecutionPlan)
		if _, seen := byID[plan.ID]; !seen {
			order = append(order, plan.ID)
		}
		byID[plan.ID] = plan
	}
	out := make([]fact.ExecutionPlan, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

// policyBlockSalience runs after module rules (which default to 0) but
// before system validation and selection.
const policyBlockSalience = -10

// GeneratePolicyRules builds the depth/fanout/children policy rules.
func GeneratePolicyRules(limits Limits) []rules.Rule {
	return []rules.Rule{
		{
			Name:     "policy.fanout-limit",
			Salience: policyBlockSalience,
			When:     rules.CollectAll{Type: "execution_plan"},
			Then: func(ctx *rules.RuleContext, b rules.Bindings) {
				for _, plan := range latestPlans(b["facts"].([]fact.Fact)) {
					if plan.PolicyBlocked || plan.Strategy != fact.StrategyParallel {
						continue
					}
					if len(plan.Roles) > limits.MaxFanout {
						plan.PolicyBlocked = true
						plan.BlockedReason = fmt.Sprintf("E_FANOUT: %d roles exceeds maxFanout %d", len(plan.Roles), limits.MaxFanout)
						ctx.AddFact(plan)
					}
				}
			},
		},
		{
			Name:     "policy.children-limit",
			Salience: policyBlockSalience,
			When:     rules.CollectAll{Type: "execution_plan"},
			Then: func(ctx *rules.RuleContext, b rules.Bindings) {
				for _, plan := range latestPlans(b["facts"].([]fact.Fact)) {
					if plan.PolicyBlocked || plan.Strategy != fact.StrategySequential {
						continue
					}
					if len(plan.Sequence) > limits.MaxChildren {
						plan.PolicyBlocked = true
						plan.BlockedReason = fmt.Sprintf("E_CHILDREN: %d steps exceeds maxChildren %d", len(plan.Sequence), limits.MaxChildren)
						ctx.AddFact(plan)
					}
				}
			},
		},
		{
			Name:     "policy.depth-limit",
			Salience: policyBlockSalience,
			When:     rules.CollectAll{Type: "execution_plan"},
			Then: func(ctx *rules.RuleContext, b rules.Bindings) {
				for _, plan := range latestPlans(b["facts"].([]fact.Fact)) {
					if plan.PolicyBlocked {
						continue
					}
					depth := planDepth(plan)
					if depth > limits.MaxDepth {
						plan.PolicyBlocked = true
						plan.BlockedReason = fmt.Sprintf("E_DEPTH: depth %d exceeds maxDepth %d", depth, limits.MaxDepth)
						ctx.AddFact(plan)
					}
				}
			},
		},
	}
}

// parallelResultStrategySalience runs alongside the other policy rules,
// before validation and selection.
const parallelResultStrategySalience = policyBlockSalience

// GenerateResultStrategyRule corrects a parallel plan that requested
// resultStrategy=last — ambiguous with no defined "last" branch (§9 Open
// Question 3) — to the label default, rather than blocking the plan
// outright.
func GenerateResultStrategyRule() rules.Rule {
	return rules.Rule{
		Name:     "policy.parallel-result-strategy",
		Salience: parallelResultStrategySalience,
		When:     rules.CollectAll{Type: "execution_plan"},
		Then: func(ctx *rules.RuleContext, b rules.Bindings) {
			for _, plan := range latestPlans(b["facts"].([]fact.Fact)) {
				if plan.PolicyBlocked || plan.Strategy != fact.StrategyParallel || plan.ResultStrategy != fact.ResultLast {
					continue
				}
				slog.Warn("policy: parallel plan requested resultStrategy=last, defaulting to label", "plan", plan.Name)
				plan.ResultStrategy = fact.ResultLabel
				ctx.AddFact(plan)
			}
		},
	}
}

// planDepth estimates recursion depth from nesting shape: a sequential
// plan's depth is its number of steps; every other plan is depth 1. There is no native recursive plan type in this
// module, so depth tracks sequence length as the proxy the spec's
// "recursion exceeds maxDepth" error models for linear pipelines.
func planDepth(plan fact.ExecutionPlan) int {
	if plan.Strategy == fact.StrategySequential {
		return len(plan.Sequence)
	}
	return 1
}

// ValidationErrors enumerates validation failures with offending
// producers named, per §7's "must surface up with the offending
// producers listed".
type ValidationErrors struct {
	Messages []string
}

func (v *ValidationErrors) Error() string {
	s := "rules: validation failed:"
	for _, m := range v.Messages {
		s += "\n  - " + m
	}
	return s
}

// ValidationRules returns the system validation rules: multiple
// PlanPrecedence facts or any unnamed ExecutionPlan both raise, naming
// every offending producer. The rules engine itself never panics; these
// rules record violations as Derived facts with label
// "validation-error", and the caller (Run) turns those into an error
// after the engine finishes its fixed point.
func ValidationRules() []rules.Rule {
	const validationSalience = -20
	return []rules.Rule{
		{
			Name:     "system.validate-single-precedence",
			Salience: validationSalience,
			When:     rules.CollectAll{Type: "plan_precedence"},
			Then: func(ctx *rules.RuleContext, b rules.Bindings) {
				facts := b["facts"].([]fact.Fact)
				if len(facts) <= 1 || hasValidationError(ctx, "multiple PlanPrecedence") {
					return
				}
				producers := make([]string, 0, len(facts))
				for _, f := range facts {
					pp := f.(fact.PlanPrecedence)
					producers = append(producers, pp.Provenance.Producer)
				}
				ctx.AddFact(fact.Derived{
					Label: "validation-error",
					Value: fmt.Sprintf("multiple PlanPrecedence facts from producers: %v", producers),
				})
			},
		},
		{
			Name:     "system.validate-named-plans",
			Salience: validationSalience,
			When:     rules.CollectAll{Type: "execution_plan"},
			Then: func(ctx *rules.RuleContext, b rules.Bindings) {
				facts := b["facts"].([]fact.Fact)
				var offenders []string
				for _, plan := range latestPlans(facts) {
					if plan.Name == "" {
						offenders = append(offenders, plan.Provenance.Producer)
					}
				}
				if len(offenders) > 0 && !hasValidationError(ctx, "unnamed ExecutionPlan") {
					ctx.AddFact(fact.Derived{
						Label: "validation-error",
						Value: fmt.Sprintf("unnamed ExecutionPlan from producers: %v", offenders),
					})
				}
			},
		},
	}
}

// hasValidationError reports whether a validation-error Derived fact
// whose value starts with prefix has already been recorded, so the
// validation rules (which must re-match every cycle while other rules
// keep adding facts) don't re-emit the same violation forever.
func hasValidationError(ctx *rules.RuleContext, prefix string) bool {
	for _, f := range ctx.WorkingMemoryOfType("derived") {
		d := f.(fact.Derived)
		if d.Label != "validation-error" {
			continue
		}
		if s, ok := d.Value.(string); ok && len(s) >= len(prefix) && s[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// CheckValidation scans wm for validation-error Derived facts and
// returns a *ValidationErrors if any exist.
func CheckValidation(wm *rules.WorkingMemory) error {
	var msgs []string
	for _, f := range wm.OfType("derived") {
		d := f.(fact.Derived)
		if d.Label == "validation-error" {
			if s, ok := d.Value.(string); ok {
				msgs = append(msgs, s)
			}
		}
	}
	if len(msgs) > 0 {
		return &ValidationErrors{Messages: msgs}
	}
	return nil
}

const selectionSalience = -30

// SelectionRule implements §4.3's algorithm: drop policy-blocked plans;
// synthesize a fallback direct plan if none remain; otherwise walk the
// (deduplicated) PlanPrecedence list preferring has-tools matches, else
// prefer the first has-tools plan, else the first available plan.
func SelectionRule() rules.Rule {
	return rules.Rule{
		Name:     "system.select-plan",
		Salience: selectionSalience,
		When: rules.All{Conditions: []rules.Condition{
			rules.CollectAll{Type: "execution_plan", MinCount: 0},
		}},
		Then: func(ctx *rules.RuleContext, b rules.Bindings) {
			if len(ctx.WorkingMemoryOfType("selected_plan")) > 0 {
				return
			}
			allPlans := latestPlans(b["facts"].([]fact.Fact))
			var eligible []fact.ExecutionPlan
			for _, plan := range allPlans {
				if !plan.PolicyBlocked {
					eligible = append(eligible, plan)
				}
			}

			if len(eligible) == 0 {
				ctx.AddFact(fact.SelectedPlan{
					Synthesized: true,
					Plan: fact.ExecutionPlan{
						ID:        "fallback-direct",
						Name:      "fallback-direct",
						Strategy:  fact.StrategyDirect,
						Role:      "default",
						Rationale: "No plans available after policy enforcement",
					},
				})
				return
			}

			precedenceFacts := ctx.WorkingMemoryOfType("plan_precedence")
			if len(precedenceFacts) == 1 {
				pp := precedenceFacts[0].(fact.PlanPrecedence)
				names := dedupeFirstOccurrence(pp.Names)
				for _, name := range names {
					var matches []fact.ExecutionPlan
					for _, p := range eligible {
						if p.Name == name || p.ID == name {
							matches = append(matches, p)
						}
					}
					if len(matches) == 0 {
						continue
					}
					ctx.AddFact(fact.SelectedPlan{Plan: preferHasTools(matches)})
					return
				}
			}

			ctx.AddFact(fact.SelectedPlan{Plan: preferHasTools(eligible)})
		},
	}
}

func preferHasTools(plans []fact.ExecutionPlan) fact.ExecutionPlan {
	for _, p := range plans {
		if p.HasTools {
			return p
		}
	}
	return plans[0]
}

// dedupeFirstOccurrence keeps only the first occurrence of each name,
// warning on duplicates — §9 Open Question 1: a precedence list that
// repeats a plan name keeps the first occurrence.
func dedupeFirstOccurrence(names []string) []string {
	seen := make(map[string]bool, len(names))
	var out []string
	for _, n := range names {
		if seen[n] {
			slog.Warn("rules: duplicate plan name in PlanPrecedence, keeping first occurrence", "name", n)
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
