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

package cortex

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalforge/cortex/pkg/fact"
	"github.com/signalforge/cortex/pkg/fallback"
	"github.com/signalforge/cortex/pkg/model"
	"github.com/signalforge/cortex/pkg/rules/policy"
)

// directOnlyLLM answers the final direct-plan generation call only; a
// short ack-only turn never reaches enhancement, so this never needs to
// emulate classifier-stage JSON parsing.
type directOnlyLLM struct {
	text string
	err  error
}

func (l *directOnlyLLM) Name() string             { return "fake-direct" }
func (l *directOnlyLLM) Provider() model.Provider { return model.ProviderOpenAI }
func (l *directOnlyLLM) Close() error              { return nil }

func (l *directOnlyLLM) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		if l.err != nil {
			yield(nil, l.err)
			return
		}
		yield(&model.Response{Text: l.text, FinishReason: model.FinishReasonStop}, nil)
	}
}

func TestRunTurnAckOnlySelectsDirectPlan(t *testing.T) {
	llm := &directOnlyLLM{text: "You're welcome!"}
	engine, err := New(llm, nil, nil, nil, policy.DefaultLimits)
	require.NoError(t, err)

	thread := &fact.Thread{}
	resp, err := engine.RunTurn(context.Background(), thread, "thanks", "")
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, "ack-only-direct", resp.Plan)
	assert.Equal(t, "You're welcome!", resp.Text)
	assert.Equal(t, "direct", resp.Metadata["strategy"])
}

func TestRunTurnNeverReturnsErrorEvenWhenExecutionFails(t *testing.T) {
	llm := &directOnlyLLM{err: &fallback.ProviderError{Err: errors.New("model unavailable")}}
	engine, err := New(llm, nil, nil, nil, policy.DefaultLimits)
	require.NoError(t, err)

	thread := &fact.Thread{}
	resp, err := engine.RunTurn(context.Background(), thread, "thanks", "")
	require.NoError(t, err, "RunTurn must recover through the fallback executor rather than propagate an error")
	require.NotNil(t, resp)

	assert.Equal(t, true, resp.Metadata["fallback"])
	assert.Equal(t, string(fallback.CodeProvider), resp.Plan)
}

func TestLatestSelectedPlanPrefersMostRecentFact(t *testing.T) {
	facts := []fact.Fact{
		fact.SelectedPlan{Plan: fact.ExecutionPlan{Name: "first"}},
		fact.Signal{Dimension: fact.DimensionIntent, Label: "investigate", Confidence: 0.9},
		fact.SelectedPlan{Plan: fact.ExecutionPlan{Name: "second"}},
	}

	latest := latestSelectedPlan(facts)
	require.NotNil(t, latest)
	assert.Equal(t, "second", latest.Plan.Name)
}

func TestLatestSelectedPlanReturnsNilWhenAbsent(t *testing.T) {
	assert.Nil(t, latestSelectedPlan(nil))
}
