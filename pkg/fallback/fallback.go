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

// Package fallback implements the fallback executor (C9): the final
// error-recovery step invoked whenever the plan executor or task loop
// escapes with an error. It maps the error onto a fixed code table and
// either issues one short recovery call through the configured model or
// returns a static response, always marking metadata.fallback=true.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/signalforge/cortex/pkg/fact"
	"github.com/signalforge/cortex/pkg/model"
	"github.com/signalforge/cortex/pkg/rules"
	"github.com/signalforge/cortex/pkg/rules/policy"
)

// Code is one of the nine fixed error codes §4.8 defines.
type Code string

const (
	CodeDepth     Code = "E_DEPTH"
	CodeFanout    Code = "E_FANOUT"
	CodeChildren  Code = "E_CHILDREN"
	CodeProvider  Code = "E_PROVIDER"
	CodeTimeout   Code = "E_TIMEOUT"
	CodeAbort     Code = "E_ABORT"
	CodeSchema    Code = "E_SCHEMA"
	CodeRuleLoop  Code = "E_RULE_LOOP"
	CodeUnknown   Code = "E_UNKNOWN"
)

// ProviderError wraps an LLM adapter failure so Recover can classify it
// as E_PROVIDER without depending on any specific provider package.
type ProviderError struct{ Err error }

func (e *ProviderError) Error() string { return fmt.Sprintf("provider error: %v", e.Err) }
func (e *ProviderError) Unwrap() error { return e.Err }

// TimeoutError marks a task run that was forced to complete because its
// resolution envelope's timeoutMs was exhausted at a cycle boundary.
type TimeoutError struct{ Err error }

func (e *TimeoutError) Error() string { return fmt.Sprintf("timeout: %v", e.Err) }
func (e *TimeoutError) Unwrap() error { return e.Err }

// SchemaError marks malformed classifier output or tool argument
// validation failure.
type SchemaError struct{ Err error }

func (e *SchemaError) Error() string { return fmt.Sprintf("schema error: %v", e.Err) }
func (e *SchemaError) Unwrap() error { return e.Err }

// Response is the fallback executor's output: a user-visible message and
// the metadata required by §7 ("metadata.fallback=true" plus the code).
type Response struct {
	Text     string
	Code     Code
	Metadata map[string]any
}

// Executor recovers from an escaped error. llm may be nil, in which case
// Recover always returns the static response for its code.
type Executor struct {
	llm model.LLM
}

// NewExecutor creates an Executor. llm is used for the short recovery
// call when the code isn't CodeProvider and the model is configured.
func NewExecutor(llm model.LLM) *Executor {
	return &Executor{llm: llm}
}

// Recover classifies err against the fixed code table and produces a
// Response. thread supplies conversational context for the optional
// recovery call.
func (e *Executor) Recover(ctx context.Context, err error, thread *fact.Thread) *Response {
	code := classify(err)
	slog.Warn("fallback: recovering from error", "code", code, "error", err)

	resp := &Response{
		Code: code,
		Metadata: map[string]any{
			"fallback":  true,
			"errorCode": string(code),
			"recovered": true,
		},
	}

	if e.llm == nil || code == CodeProvider {
		resp.Text = staticMessage(code)
		return resp
	}

	text, callErr := e.recoveryCall(ctx, thread, code)
	if callErr != nil {
		slog.Warn("fallback: recovery call failed, using static response", "error", callErr)
		resp.Text = staticMessage(code)
		return resp
	}
	resp.Text = text
	return resp
}

func (e *Executor) recoveryCall(ctx context.Context, thread *fact.Thread, code Code) (string, error) {
	messages := []*fact.Message{
		{Role: fact.RoleSystem, Text: "An internal error interrupted the previous response. Acknowledge it briefly and offer to help differently."},
	}
	if thread != nil {
		if last := thread.Last(); last != nil {
			messages = append(messages, &fact.Message{Role: fact.RoleUser, Text: last.Text})
		}
	}

	req := &model.Request{Messages: messages, SystemInstruction: recoveryPrompt(code)}
	var text string
	for resp, genErr := range e.llm.GenerateContent(ctx, req, false) {
		if genErr != nil {
			return "", genErr
		}
		if resp != nil && !resp.Partial {
			text = resp.Text
		}
	}
	if text == "" {
		return "", fmt.Errorf("fallback: empty recovery response")
	}
	return text, nil
}

func recoveryPrompt(code Code) string {
	return fmt.Sprintf("Something went wrong (%s) while preparing the previous response. Apologize briefly without technical detail and ask how you can help.", code)
}

// classify maps err onto a Code via errors.As/Is against the sentinel
// error types this package and its collaborators define.
func classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return CodeProvider
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return CodeTimeout
	}

	var schemaErr *SchemaError
	if errors.As(err, &schemaErr) {
		return CodeSchema
	}

	if errors.Is(err, context.Canceled) {
		return CodeAbort
	}

	var loopErr *rules.LoopDetectedError
	if errors.As(err, &loopErr) {
		return CodeRuleLoop
	}

	var validationErr *policy.ValidationErrors
	if errors.As(err, &validationErr) {
		// Validation errors are module authoring bugs, not one of the
		// recovered policy codes; surface as unknown so callers still
		// see the full producer-naming message via Error().
		return CodeUnknown
	}

	switch {
	case errorContains(err, "E_DEPTH"):
		return CodeDepth
	case errorContains(err, "E_FANOUT"):
		return CodeFanout
	case errorContains(err, "E_CHILDREN"):
		return CodeChildren
	}

	return CodeUnknown
}

func errorContains(err error, substr string) bool {
	msg := err.Error()
	for i := 0; i+len(substr) <= len(msg); i++ {
		if msg[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func staticMessage(code Code) string {
	switch code {
	case CodeDepth:
		return "I couldn't complete that because the plan nested deeper than allowed. Let's try a simpler request."
	case CodeFanout:
		return "I couldn't complete that because it required more parallel branches than allowed. Let's narrow the scope."
	case CodeChildren:
		return "I couldn't complete that because the plan had too many sequential steps. Let's break it into smaller requests."
	case CodeProvider:
		return "I'm having trouble reaching the language model right now. Please try again shortly."
	case CodeTimeout:
		return "That task took longer than allowed, so I stopped and summarized what I found so far."
	case CodeAbort:
		return "That request was cancelled before it finished."
	case CodeSchema:
		return "I received a malformed response while working on that. Please rephrase your request."
	case CodeRuleLoop:
		return "I got stuck evaluating that request internally. Please rephrase it."
	default:
		return "Something went wrong while handling that request. Please try again."
	}
}
