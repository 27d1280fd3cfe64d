// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package instruction

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/signalforge/cortex/pkg/fact"
)

// TestTokenBudgetAckOnlyAppliesMultiplierOnce guards against the signal
// label and its module-rule-emitted TokenMultiplier fact both scaling the
// budget: an ack-only turn carries both fact.Signal{Label: "ack-only"}
// and the TokenMultiplier the module rule adds alongside it, and the net
// effect must still be roleBase * 0.5, not 0.25.
func TestTokenBudgetAckOnlyAppliesMultiplierOnce(t *testing.T) {
	c := NewComposer(nil)
	in := Input{
		RoleBaseTokens: 500,
		Facts: []fact.Fact{
			fact.Signal{Dimension: fact.DimensionContract, Label: "ack-only", Confidence: 0.9},
			fact.TokenMultiplier{Multiplier: 0.5, Reason: "ack-only-direct"},
		},
	}
	assert.Equal(t, 250, c.tokenBudget(in))
}

// TestTokenBudgetForecastHighCertaintyAppliesMultiplierOnce mirrors the
// red-team-forecast scenario: two signals (forecast, high-certainty) fire
// alongside a single TokenMultiplier fact covering their combination. The
// net multiplier must be 1.1, not 1.1 cubed.
func TestTokenBudgetForecastHighCertaintyAppliesMultiplierOnce(t *testing.T) {
	c := NewComposer(nil)
	in := Input{
		RoleBaseTokens: 500,
		Facts: []fact.Fact{
			fact.Signal{Dimension: fact.DimensionTemporal, Label: "forecast", Confidence: 0.9},
			fact.Signal{Dimension: fact.DimensionCalibration, Label: "high-certainty", Confidence: 0.9},
			fact.TokenMultiplier{Multiplier: 1.1, Reason: "red-team-forecast"},
		},
	}
	assert.Equal(t, 550, c.tokenBudget(in))
}

func TestTokenBudgetInvestigateSignalAppliesStaticMultiplier(t *testing.T) {
	c := NewComposer(nil)
	in := Input{
		RoleBaseTokens: 500,
		Facts: []fact.Fact{
			fact.Signal{Dimension: fact.DimensionIntent, Label: "investigate", Confidence: 0.9},
		},
	}
	assert.Equal(t, 600, c.tokenBudget(in))
}

func TestTokenBudgetDefaultsRoleBaseWhenUnset(t *testing.T) {
	c := NewComposer(nil)
	assert.Equal(t, 500, c.tokenBudget(Input{}))
}

func TestTokenBudgetClampsToFloorAndCeiling(t *testing.T) {
	c := NewComposer(nil)

	low := c.tokenBudget(Input{
		RoleBaseTokens: 10,
		Facts:          []fact.Fact{fact.TokenMultiplier{Multiplier: 0.1, Reason: "floor"}},
	})
	assert.Equal(t, 50, low)

	high := c.tokenBudget(Input{
		RoleBaseTokens: 6000,
		Facts:          []fact.Fact{fact.TokenMultiplier{Multiplier: 5, Reason: "ceiling"}},
	})
	assert.Equal(t, 4000, high)
}

func TestComposeDefaultThreadsTokenBudgetIntoMaxTokens(t *testing.T) {
	c := NewComposer(nil)
	composed, err := c.Compose(Input{
		Plan:           fact.ExecutionPlan{Name: "ack-only-direct", Strategy: fact.StrategyDirect},
		RoleBaseTokens: 500,
		UserInput:      "ok",
		Facts: []fact.Fact{
			fact.Signal{Dimension: fact.DimensionContract, Label: "ack-only", Confidence: 0.9},
			fact.TokenMultiplier{Multiplier: 0.5, Reason: "ack-only-direct"},
		},
	})
	assert.NoError(t, err)
	assert.Equal(t, 250, composed.MaxTokens)
}
