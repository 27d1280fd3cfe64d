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

import "github.com/signalforge/cortex/pkg/fact"

// TestFunc is a pure predicate over working memory.
type TestFunc func(wm *WorkingMemory) (bool, Bindings)

// Test wraps an arbitrary predicate as a Condition.
type Test struct {
	Fn TestFunc
}

func (t Test) Match(wm *WorkingMemory) (bool, Bindings) { return t.Fn(wm) }

// All matches only if every sub-condition matches; bindings are merged,
// later conditions' keys overriding earlier ones on collision.
type All struct {
	Conditions []Condition
}

func (a All) Match(wm *WorkingMemory) (bool, Bindings) {
	merged := Bindings{}
	for _, c := range a.Conditions {
		ok, b := c.Match(wm)
		if !ok {
			return false, nil
		}
		for k, v := range b {
			merged[k] = v
		}
	}
	return true, merged
}

// Any matches if at least one sub-condition matches, returning the first
// match's bindings.
type Any struct {
	Conditions []Condition
}

func (a Any) Match(wm *WorkingMemory) (bool, Bindings) {
	for _, c := range a.Conditions {
		if ok, b := c.Match(wm); ok {
			return true, b
		}
	}
	return false, nil
}

// HasFactType matches when at least one fact of typ exists, binding it
// under "fact" (the first match) and "facts" (all matches).
type HasFactType struct {
	Type string
}

func (h HasFactType) Match(wm *WorkingMemory) (bool, Bindings) {
	facts := wm.OfType(h.Type)
	if len(facts) == 0 {
		return false, nil
	}
	return true, Bindings{"fact": facts[0], "facts": facts}
}

// CollectAll is an accumulator: it always matches (even with zero facts)
// and binds "facts" to every fact of Type currently in working memory.
// Rules that need to react to "all plans so far" rather than "a specific
// plan" use this instead of HasFactType.
type CollectAll struct {
	Type string
	// MinCount requires at least this many facts to match; 0 means
	// always match (used by plan-selection, which must still run a
	// synthesized fallback when zero plans exist).
	MinCount int
}

func (c CollectAll) Match(wm *WorkingMemory) (bool, Bindings) {
	facts := wm.OfType(c.Type)
	if len(facts) < c.MinCount {
		return false, nil
	}
	return true, Bindings{"facts": facts}
}

// IncrementalCount is an accumulator that matches once the running count
// of facts of Type reaches Threshold, binding "count". Used by policy
// rules that fire only once fanout/children/depth crosses a limit.
type IncrementalCount struct {
	Type      string
	Threshold int
}

func (ic IncrementalCount) Match(wm *WorkingMemory) (bool, Bindings) {
	facts := wm.OfType(ic.Type)
	if len(facts) < ic.Threshold {
		return false, nil
	}
	return true, Bindings{"count": len(facts), "facts": facts}
}

// SignalAtLeast matches when a Signal fact with the given dimension and
// label exists with confidence >= min, binding "signal".
type SignalAtLeast struct {
	Dimension fact.Dimension
	Label     string
	Min       float64
}

func (s SignalAtLeast) Match(wm *WorkingMemory) (bool, Bindings) {
	for _, f := range wm.OfType("signal") {
		sig, ok := f.(fact.Signal)
		if !ok || sig.Dimension != s.Dimension || sig.Label != s.Label {
			continue
		}
		if sig.Confidence >= s.Min {
			return true, Bindings{"signal": sig}
		}
	}
	return false, nil
}

// TurnScoped wraps inner so it only matches facts whose Provenance
// TurnIndex equals the engine's current turn (or is unset, turn 0),
// implementing "rules ignore signals from other turns".
type TurnScoped struct {
	Turn  int
	Inner Condition
}

func (t TurnScoped) Match(wm *WorkingMemory) (bool, Bindings) {
	ok, b := t.Inner.Match(wm)
	if !ok {
		return false, nil
	}
	if sig, isSignal := b["signal"].(fact.Signal); isSignal {
		if sig.Provenance.TurnIndex != 0 && sig.Provenance.TurnIndex != t.Turn {
			return false, nil
		}
	}
	return true, b
}
