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

package providerhttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalforge/cortex/pkg/fact"
	"github.com/signalforge/cortex/pkg/fallback"
	"github.com/signalforge/cortex/pkg/model"
)

func newProvider(t *testing.T, baseURL string) *Provider {
	t.Helper()
	return New(Config{
		Name:     "test-model",
		Provider: model.ProviderOpenAI,
		BaseURL:  baseURL,
		Model:    "gpt-test",
		Timeout:  5 * time.Second,
	})
}

func TestGenerateContentParsesSuccessfulResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [{
				"message": {"role": "assistant", "content": "hello there", "tool_calls": [
					{"id": "call_1", "type": "function", "function": {"name": "read_file", "arguments": "{\"path\":\"a.go\"}"}}
				]},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL)
	req := &model.Request{Messages: []*fact.Message{{Role: fact.RoleUser, Text: "hi"}}}

	var got *model.Response
	for resp, err := range p.GenerateContent(context.Background(), req, false) {
		require.NoError(t, err)
		got = resp
	}

	require.NotNil(t, got)
	assert.Equal(t, "hello there", got.Text)
	assert.Equal(t, model.FinishReasonToolCalls, got.FinishReason)
	require.Len(t, got.ToolCalls, 1)
	assert.Equal(t, "read_file", got.ToolCalls[0].Name)
	assert.Equal(t, "a.go", got.ToolCalls[0].Args["path"])
	require.NotNil(t, got.Usage)
	assert.Equal(t, 15, got.Usage.TotalTokens)
}

func TestGenerateContentMapsErrorStatusToProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"message": "bad request"}}`))
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL)
	req := &model.Request{Messages: []*fact.Message{{Role: fact.RoleUser, Text: "hi"}}}

	var gotErr error
	for _, err := range p.GenerateContent(context.Background(), req, false) {
		gotErr = err
	}

	var providerErr *fallback.ProviderError
	assert.ErrorAs(t, gotErr, &providerErr)
}

func TestGenerateContentMapsCancelledContextToTimeoutError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL)
	req := &model.Request{Messages: []*fact.Message{{Role: fact.RoleUser, Text: "hi"}}}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var gotErr error
	for _, err := range p.GenerateContent(ctx, req, false) {
		gotErr = err
	}

	var timeoutErr *fallback.TimeoutError
	assert.ErrorAs(t, gotErr, &timeoutErr)
}

func TestGenerateContentMapsMalformedBodyToSchemaError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`not json at all`))
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL)
	req := &model.Request{Messages: []*fact.Message{{Role: fact.RoleUser, Text: "hi"}}}

	var gotErr error
	for _, err := range p.GenerateContent(context.Background(), req, false) {
		gotErr = err
	}

	var schemaErr *fallback.SchemaError
	assert.ErrorAs(t, gotErr, &schemaErr)
}

func TestGenerateContentMapsEmptyChoicesToSchemaError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices": []}`))
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL)
	req := &model.Request{Messages: []*fact.Message{{Role: fact.RoleUser, Text: "hi"}}}

	var gotErr error
	for _, err := range p.GenerateContent(context.Background(), req, false) {
		gotErr = err
	}

	var schemaErr *fallback.SchemaError
	assert.ErrorAs(t, gotErr, &schemaErr)
}
