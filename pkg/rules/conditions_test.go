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

func trueCond(_ *WorkingMemory) (bool, Bindings)  { return true, Bindings{"a": 1} }
func falseCond(_ *WorkingMemory) (bool, Bindings) { return false, nil }

func TestAllRequiresEverySubcondition(t *testing.T) {
	wm := NewWorkingMemory()

	ok, b := All{Conditions: []Condition{Test{Fn: trueCond}, Test{Fn: trueCond}}}.Match(wm)
	assert.True(t, ok)
	assert.Equal(t, 1, b["a"])

	ok, _ = All{Conditions: []Condition{Test{Fn: trueCond}, Test{Fn: falseCond}}}.Match(wm)
	assert.False(t, ok)
}

func TestAnyMatchesFirstSuccess(t *testing.T) {
	wm := NewWorkingMemory()

	ok, _ := Any{Conditions: []Condition{Test{Fn: falseCond}, Test{Fn: trueCond}}}.Match(wm)
	assert.True(t, ok)

	ok, _ = Any{Conditions: []Condition{Test{Fn: falseCond}, Test{Fn: falseCond}}}.Match(wm)
	assert.False(t, ok)
}

func TestHasFactType(t *testing.T) {
	wm := NewWorkingMemory(fact.TurnContext{CurrentTurnIndex: 2})

	ok, b := HasFactType{Type: "turn_context"}.Match(wm)
	assert.True(t, ok)
	assert.Equal(t, fact.TurnContext{CurrentTurnIndex: 2}, b["fact"])

	ok, _ = HasFactType{Type: "execution_plan"}.Match(wm)
	assert.False(t, ok)
}

func TestCollectAllMinCount(t *testing.T) {
	wm := NewWorkingMemory()

	ok, b := CollectAll{Type: "execution_plan", MinCount: 0}.Match(wm)
	assert.True(t, ok)
	assert.Empty(t, b["facts"])

	ok, _ = CollectAll{Type: "execution_plan", MinCount: 1}.Match(wm)
	assert.False(t, ok)
}

func TestIncrementalCountThreshold(t *testing.T) {
	wm := NewWorkingMemory(
		fact.Derived{Label: "x"},
		fact.Derived{Label: "y"},
	)

	ok, b := IncrementalCount{Type: "derived", Threshold: 2}.Match(wm)
	assert.True(t, ok)
	assert.Equal(t, 2, b["count"])

	ok, _ = IncrementalCount{Type: "derived", Threshold: 3}.Match(wm)
	assert.False(t, ok)
}

func TestSignalAtLeast(t *testing.T) {
	wm := NewWorkingMemory(fact.Signal{Dimension: fact.DimensionIntent, Label: "investigate", Confidence: 0.7})

	ok, b := SignalAtLeast{Dimension: fact.DimensionIntent, Label: "investigate", Min: 0.6}.Match(wm)
	assert.True(t, ok)
	assert.Equal(t, 0.7, b["signal"].(fact.Signal).Confidence)

	ok, _ = SignalAtLeast{Dimension: fact.DimensionIntent, Label: "investigate", Min: 0.9}.Match(wm)
	assert.False(t, ok)

	ok, _ = SignalAtLeast{Dimension: fact.DimensionClaim, Label: "investigate", Min: 0.6}.Match(wm)
	assert.False(t, ok)
}

func TestTurnScopedIgnoresOtherTurns(t *testing.T) {
	wm := NewWorkingMemory(fact.Signal{
		Dimension:  fact.DimensionIntent,
		Label:      "investigate",
		Confidence: 0.9,
		Provenance: fact.Provenance{TurnIndex: 5},
	})

	inner := SignalAtLeast{Dimension: fact.DimensionIntent, Label: "investigate", Min: 0.6}

	ok, _ := TurnScoped{Turn: 5, Inner: inner}.Match(wm)
	assert.True(t, ok)

	ok, _ = TurnScoped{Turn: 6, Inner: inner}.Match(wm)
	assert.False(t, ok)
}
