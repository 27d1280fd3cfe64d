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

package fallback

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/signalforge/cortex/pkg/fact"
	"github.com/signalforge/cortex/pkg/model"
	"github.com/signalforge/cortex/pkg/rules"
	"github.com/signalforge/cortex/pkg/rules/policy"
)

type fakeLLM struct {
	text string
	err  error
}

func (f *fakeLLM) Name() string             { return "fake" }
func (f *fakeLLM) Provider() model.Provider { return model.ProviderOpenAI }
func (f *fakeLLM) Close() error             { return nil }

func (f *fakeLLM) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		if f.err != nil {
			yield(nil, f.err)
			return
		}
		yield(&model.Response{Text: f.text}, nil)
	}
}

func TestClassifyMapsKnownErrorTypes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Code
	}{
		{"provider", &ProviderError{Err: errors.New("boom")}, CodeProvider},
		{"timeout", &TimeoutError{Err: errors.New("boom")}, CodeTimeout},
		{"schema", &SchemaError{Err: errors.New("boom")}, CodeSchema},
		{"cancelled", context.Canceled, CodeAbort},
		{"rule loop", &rules.LoopDetectedError{}, CodeRuleLoop},
		{"validation", &policy.ValidationErrors{Messages: []string{"x"}}, CodeUnknown},
		{"unknown", errors.New("mystery failure"), CodeUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classify(tc.err))
		})
	}
}

func TestRecoverWithoutLLMReturnsStaticMessage(t *testing.T) {
	exec := NewExecutor(nil)
	resp := exec.Recover(context.Background(), &TimeoutError{Err: errors.New("slow")}, nil)

	assert.Equal(t, CodeTimeout, resp.Code)
	assert.Equal(t, staticMessage(CodeTimeout), resp.Text)
	assert.Equal(t, true, resp.Metadata["fallback"])
}

func TestRecoverProviderErrorSkipsRecoveryCallEvenWithLLM(t *testing.T) {
	llm := &fakeLLM{text: "should never be used"}
	exec := NewExecutor(llm)
	resp := exec.Recover(context.Background(), &ProviderError{Err: errors.New("down")}, nil)

	assert.Equal(t, CodeProvider, resp.Code)
	assert.Equal(t, staticMessage(CodeProvider), resp.Text)
}

func TestRecoverUsesRecoveryCallWhenLLMConfigured(t *testing.T) {
	llm := &fakeLLM{text: "Sorry about that, let's try again."}
	exec := NewExecutor(llm)

	thread := &fact.Thread{}
	thread.Append(&fact.Message{Role: fact.RoleUser, Text: "what happened?"})

	resp := exec.Recover(context.Background(), &SchemaError{Err: errors.New("bad json")}, thread)

	assert.Equal(t, CodeSchema, resp.Code)
	assert.Equal(t, "Sorry about that, let's try again.", resp.Text)
	assert.Equal(t, true, resp.Metadata["fallback"])
}

func TestRecoverFallsBackToStaticMessageWhenRecoveryCallFails(t *testing.T) {
	llm := &fakeLLM{err: errors.New("network down")}
	exec := NewExecutor(llm)

	resp := exec.Recover(context.Background(), &TimeoutError{Err: errors.New("slow")}, nil)

	assert.Equal(t, CodeTimeout, resp.Code)
	assert.Equal(t, staticMessage(CodeTimeout), resp.Text)
}

func TestRecoverAlwaysMarksFallbackMetadata(t *testing.T) {
	exec := NewExecutor(nil)
	resp := exec.Recover(context.Background(), errors.New("whatever"), nil)
	assert.Equal(t, true, resp.Metadata["fallback"])
	assert.Equal(t, string(CodeUnknown), resp.Metadata["errorCode"])
}
