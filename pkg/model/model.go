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

// Package model defines the LLM interface the task loop drives.
//
// Key design principles, carried over from the v2 model package this was
// adapted from:
//   - Single GenerateContent method handles both streaming and non-streaming
//   - Returns iter.Seq2 which yields one or more Response objects
//   - For non-streaming: yields exactly one Response
//   - For streaming: yields multiple partial Responses (Partial=true), then
//     a final aggregated one (Partial=false)
package model

import (
	"context"
	"iter"

	"github.com/signalforge/cortex/pkg/fact"
	"github.com/signalforge/cortex/pkg/tool"
)

// LLM is the interface for language models.
type LLM interface {
	// Name returns the model identifier.
	Name() string

	// Provider returns the provider type (e.g., "openai", "anthropic", "gemini").
	Provider() Provider

	// GenerateContent produces responses for the given request.
	//
	// When stream=false: yields exactly one Response, Partial=false.
	// When stream=true: yields partial Responses (Partial=true) followed by
	// one aggregated Response (Partial=false) for history persistence.
	GenerateContent(ctx context.Context, req *Request, stream bool) iter.Seq2[*Response, error]

	// Close releases any resources held by the LLM.
	Close() error
}

// Provider identifies the LLM provider, used for model-specific message
// formatting (e.g. how tool results are paired with tool calls).
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
	ProviderOllama    Provider = "ollama"
	ProviderUnknown   Provider = "unknown"
)

// Request contains the input for an LLM call.
type Request struct {
	// Messages is the conversation history, including the system message.
	Messages []*fact.Message

	// Tools available for the model to call.
	Tools []tool.Definition

	// Config contains generation configuration.
	Config *GenerateConfig

	// SystemInstruction is the composed instruction for this call, as
	// produced by the instruction composer.
	SystemInstruction string
}

// GenerateConfig contains configuration for generation.
type GenerateConfig struct {
	Temperature          *float64
	MaxTokens            *int
	TopP                 *float64
	TopK                 *int
	StopSequences        []string
	ResponseMIMEType     string
	ResponseSchema       map[string]any
	ResponseSchemaName   string
	ResponseSchemaStrict *bool
	EnableThinking       bool
	ThinkingBudget       int
	Metadata             map[string]string
}

// Clone creates a deep copy of the GenerateConfig so processor pipelines
// don't share mutable state across requests.
func (c *GenerateConfig) Clone() *GenerateConfig {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Temperature != nil {
		temp := *c.Temperature
		clone.Temperature = &temp
	}
	if c.MaxTokens != nil {
		maxTok := *c.MaxTokens
		clone.MaxTokens = &maxTok
	}
	if c.TopP != nil {
		topP := *c.TopP
		clone.TopP = &topP
	}
	if c.TopK != nil {
		topK := *c.TopK
		clone.TopK = &topK
	}
	if c.StopSequences != nil {
		clone.StopSequences = make([]string, len(c.StopSequences))
		copy(clone.StopSequences, c.StopSequences)
	}
	if c.ResponseSchema != nil {
		clone.ResponseSchema = deepCopyMap(c.ResponseSchema)
	}
	if c.ResponseSchemaStrict != nil {
		strict := *c.ResponseSchemaStrict
		clone.ResponseSchemaStrict = &strict
	}
	if c.Metadata != nil {
		clone.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	result := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			result[k] = deepCopyMap(val)
		case []any:
			result[k] = deepCopySlice(val)
		default:
			result[k] = v
		}
	}
	return result
}

func deepCopySlice(s []any) []any {
	if s == nil {
		return nil
	}
	result := make([]any, len(s))
	for i, v := range s {
		switch val := v.(type) {
		case map[string]any:
			result[i] = deepCopyMap(val)
		case []any:
			result[i] = deepCopySlice(val)
		default:
			result[i] = v
		}
	}
	return result
}

// Response contains the result of an LLM call.
type Response struct {
	// Text is the generated text content, if any.
	Text string

	// Partial indicates a streaming chunk (true) vs. the final aggregated
	// response (false).
	Partial bool

	// TurnComplete indicates whether the model has finished its turn.
	TurnComplete bool

	// ToolCalls requested by the model.
	ToolCalls []tool.Call

	// Usage statistics, set on the final (non-partial) response.
	Usage *Usage

	// Thinking contains the model's reasoning, if enabled.
	Thinking *ThinkingBlock

	// FinishReason indicates why generation stopped.
	FinishReason FinishReason

	// ErrorCode/ErrorMessage carry provider-specific error detail; the
	// fallback executor (C9) maps these onto its own error codes.
	ErrorCode    string
	ErrorMessage string
}

// Usage contains token usage statistics.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	ThinkingTokens   int
}

// ThinkingBlock contains the model's reasoning.
type ThinkingBlock struct {
	ID        string
	Content   string
	Signature string
}

// FinishReason indicates why generation stopped.
type FinishReason string

const (
	FinishReasonStop      FinishReason = "stop"
	FinishReasonLength    FinishReason = "length"
	FinishReasonToolCalls FinishReason = "tool_calls"
	FinishReasonContent   FinishReason = "content_filter"
	FinishReasonError     FinishReason = "error"
)

// HasToolCalls returns whether the response contains tool calls.
func (r *Response) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// ToMessage converts a Response to a fact.Message for history persistence.
func (r *Response) ToMessage() *fact.Message {
	if r == nil {
		return nil
	}
	return &fact.Message{
		Role:      fact.RoleAssistant,
		Text:      r.Text,
		ToolCalls: toFactToolCalls(r.ToolCalls),
	}
}

func toFactToolCalls(calls []tool.Call) []fact.ToolCall {
	if calls == nil {
		return nil
	}
	out := make([]fact.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = fact.ToolCall{ID: c.ID, Name: c.Name, Args: c.Args}
	}
	return out
}
