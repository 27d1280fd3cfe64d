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

// Package rules implements the forward-chaining rules engine (C3): a
// fixed-point evaluation loop over a typed working memory, with
// salience-ordered rule firing, refraction (each rule/binding fires at
// most once per run), and a hard cycle cap. Module rules, policy rules,
// and the system validation/selection rules are all plain Rule values —
// the engine itself carries no domain knowledge.
package rules

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/signalforge/cortex/pkg/fact"
)

// MaxCycles is the hard cap on forward-chaining cycles (I6).
const MaxCycles = 32

// ErrLoopDetected is returned when evaluation exceeds MaxCycles. The
// caller should treat this as a trappable outcome and still consume
// whatever facts accrued via LoopDetectedError.WorkingMemory.
var ErrLoopDetected = errors.New("rules: loop detected (cycle cap exceeded)")

// LoopDetectedError wraps ErrLoopDetected with the partial working memory
// snapshot accrued before the cap was hit.
type LoopDetectedError struct {
	WorkingMemory *WorkingMemory
}

func (e *LoopDetectedError) Error() string { return ErrLoopDetected.Error() }
func (e *LoopDetectedError) Unwrap() error { return ErrLoopDetected }

// WorkingMemory holds the fact set a rules evaluation reasons over. Facts
// never mutate after insertion (I5); derivation always appends new facts.
type WorkingMemory struct {
	facts []fact.Fact
}

// NewWorkingMemory seeds working memory with an initial fact set.
func NewWorkingMemory(initial ...fact.Fact) *WorkingMemory {
	wm := &WorkingMemory{}
	wm.facts = append(wm.facts, initial...)
	return wm
}

// Facts returns every fact currently in working memory, insertion order.
func (wm *WorkingMemory) Facts() []fact.Fact {
	out := make([]fact.Fact, len(wm.facts))
	copy(out, wm.facts)
	return out
}

// OfType returns all facts whose Type() matches typ, insertion order.
func (wm *WorkingMemory) OfType(typ string) []fact.Fact {
	var out []fact.Fact
	for _, f := range wm.facts {
		if f.Type() == typ {
			out = append(out, f)
		}
	}
	return out
}

func (wm *WorkingMemory) add(f fact.Fact) {
	wm.facts = append(wm.facts, f)
}

func (wm *WorkingMemory) len() int { return len(wm.facts) }

// Bindings carries the variables a Condition bound while matching, for
// the Action to read (e.g. an accumulator's collected group).
type Bindings map[string]any

// Condition is satisfied against working memory and produces bindings an
// Action can consume. Built-in combinators: All, Any, Test,
// CollectAll, IncrementalCount.
type Condition interface {
	Match(wm *WorkingMemory) (bool, Bindings)
}

// RuleContext is the handle an Action receives. It wraps AddFact so every
// emitted fact carries rule provenance: it is filled in only when the
// action left the fact's Provenance zero-valued, and provenance the action
// set itself is kept unchanged.
type RuleContext struct {
	ruleName string
	wm       *WorkingMemory
	turn     int
	emitted  []fact.Fact
}

// AddFact inserts f into working memory, injecting {source:"rule",
// producer:ruleName} provenance where the fact type carries a Provenance
// field and it is currently zero-valued.
func (rc *RuleContext) AddFact(f fact.Fact) {
	f = stampProvenance(f, rc.ruleName, rc.turn)
	rc.wm.add(f)
	rc.emitted = append(rc.emitted, f)
}

// WorkingMemoryOfType gives an Action read access to working memory
// beyond what its own Condition bound, e.g. the selection rule reading
// PlanPrecedence facts while its Condition matched on ExecutionPlan.
func (rc *RuleContext) WorkingMemoryOfType(typ string) []fact.Fact {
	return rc.wm.OfType(typ)
}

func stampProvenance(f fact.Fact, ruleName string, turn int) fact.Fact {
	switch v := f.(type) {
	case fact.Signal:
		if v.Provenance == (fact.Provenance{}) {
			v.Provenance = fact.Provenance{Source: "rule", Producer: ruleName, TurnIndex: turn}
		}
		return v
	case fact.ExecutionPlan:
		if v.Provenance == (fact.Provenance{}) {
			v.Provenance = fact.Provenance{Source: "rule", Producer: ruleName, TurnIndex: turn}
		}
		if v.ID == "" {
			v.ID = uuid.NewString()
		}
		return v
	case fact.PlanPrecedence:
		if v.Provenance == (fact.Provenance{}) {
			v.Provenance = fact.Provenance{Source: "rule", Producer: ruleName, TurnIndex: turn}
		}
		return v
	case fact.SelectedPlan:
		if v.Provenance == (fact.Provenance{}) {
			v.Provenance = fact.Provenance{Source: "rule", Producer: ruleName, TurnIndex: turn}
		}
		return v
	case fact.RoleSelection:
		if v.Provenance == (fact.Provenance{}) {
			v.Provenance = fact.Provenance{Source: "rule", Producer: ruleName, TurnIndex: turn}
		}
		return v
	case fact.TokenMultiplier:
		if v.Provenance == (fact.Provenance{}) {
			v.Provenance = fact.Provenance{Source: "rule", Producer: ruleName, TurnIndex: turn}
		}
		return v
	case fact.Derived:
		if v.Provenance == (fact.Provenance{}) {
			v.Provenance = fact.Provenance{Source: "rule", Producer: ruleName, TurnIndex: turn}
		}
		return v
	case fact.Adaptation:
		if v.Provenance == (fact.Provenance{}) {
			v.Provenance = fact.Provenance{Source: "rule", Producer: ruleName, TurnIndex: turn}
		}
		return v
	case fact.Capability:
		if v.Provenance == (fact.Provenance{}) {
			v.Provenance = fact.Provenance{Source: "rule", Producer: ruleName, TurnIndex: turn}
		}
		return v
	default:
		return f
	}
}

// Action mutates working memory through ctx in response to a matched
// Condition. Actions are impure by design (they call ctx.AddFact) but
// may not remove or edit existing facts.
type Action func(ctx *RuleContext, b Bindings)

// Rule pairs a Condition with an Action under a salience priority.
// Higher salience fires first; ties break by insertion (registration)
// order into the Engine.
type Rule struct {
	Name     string
	Salience int
	When     Condition
	Then     Action
}

// Engine runs one or more rule sources against a working memory to a
// fixed point.
type Engine struct {
	rules []Rule
	turn  int
}

// NewEngine creates an Engine. turnIndex scopes TurnContext-aware
// conditions.
func NewEngine(turnIndex int) *Engine {
	return &Engine{turn: turnIndex}
}

// AddRules registers rule sources in the given order; sources registered
// earlier whose rules share a salience value fire before later sources'
// rules at that same salience (stable sort).
func (e *Engine) AddRules(rs ...Rule) {
	e.rules = append(e.rules, rs...)
}

// Run evaluates all registered rules to a fixed point: each cycle,
// candidate (rule, binding) pairs are matched, sorted by salience
// (descending) then insertion order, and fired once each (refraction);
// the cycle repeats until no rule fires or MaxCycles is reached.
func (e *Engine) Run(wm *WorkingMemory) (*WorkingMemory, error) {
	ordered := make([]Rule, len(e.rules))
	copy(ordered, e.rules)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Salience > ordered[j].Salience })

	fired := make(map[string]bool)

	for cycle := 0; cycle < MaxCycles; cycle++ {
		progressed := false

		for _, r := range ordered {
			ok, bindings := r.When.Match(wm)
			if !ok {
				continue
			}
			key := fmt.Sprintf("%s|%s", r.Name, bindingKey(bindings))
			if fired[key] {
				continue
			}
			fired[key] = true

			ctx := &RuleContext{ruleName: r.Name, wm: wm, turn: e.turn}
			r.Then(ctx, bindings)
			if len(ctx.emitted) > 0 {
				progressed = true
			}
		}

		if !progressed {
			return wm, nil
		}
	}

	slog.Warn("rules: cycle cap exceeded", "maxCycles", MaxCycles, "factCount", wm.len())
	return wm, &LoopDetectedError{WorkingMemory: wm}
}

func bindingKey(b Bindings) string {
	if len(b) == 0 {
		return ""
	}
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := ""
	for _, k := range keys {
		s += fmt.Sprintf("%s=%v;", k, b[k])
	}
	return s
}
