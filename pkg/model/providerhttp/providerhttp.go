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

// Package providerhttp implements model.LLM against any OpenAI-compatible
// chat completions endpoint, using pkg/httpclient for retry/backoff so
// rate limits and transient 5xxs are absorbed before they ever reach the
// task loop.
package providerhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/signalforge/cortex/pkg/fact"
	"github.com/signalforge/cortex/pkg/fallback"
	"github.com/signalforge/cortex/pkg/httpclient"
	"github.com/signalforge/cortex/pkg/model"
	"github.com/signalforge/cortex/pkg/tool"
)

// Config configures a Provider.
type Config struct {
	Name        string
	Provider    model.Provider
	BaseURL     string // e.g. "https://api.openai.com/v1"
	APIKey      string
	Model       string
	Temperature float64
	MaxRetries  int
	Timeout     time.Duration

	// CACertificate, if set, pins the transport to a custom CA, for
	// self-hosted OpenAI-compatible gateways behind a corporate proxy.
	CACertificate string
	// InsecureSkipVerify disables certificate verification. Development
	// only; never set this against a production endpoint.
	InsecureSkipVerify bool
}

// Provider is a model.LLM backed by an OpenAI-compatible HTTP API.
type Provider struct {
	cfg    Config
	client *httpclient.Client
}

// New builds a Provider from cfg, wiring pkg/httpclient's smart
// rate-limit-aware retry strategy over the default strategy function.
func New(cfg Config) *Provider {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	opts := []httpclient.Option{
		httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithRetryStrategy(httpclient.DefaultStrategy),
		httpclient.WithHeaderParser(headerParserFor(cfg.Provider)),
	}
	if cfg.CACertificate != "" || cfg.InsecureSkipVerify {
		opts = append(opts, httpclient.WithTLSConfig(&httpclient.TLSConfig{
			CACertificate:      cfg.CACertificate,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		}))
	}
	httpClient := httpclient.New(opts...)
	return &Provider{cfg: cfg, client: httpClient}
}

// headerParserFor picks the rate-limit header parser matching the
// provider kind, so retry backoff honors Retry-After/reset headers
// instead of blind exponential backoff whenever the API surfaces them.
func headerParserFor(provider model.Provider) httpclient.HeaderParser {
	switch provider {
	case model.ProviderAnthropic:
		return httpclient.ParseAnthropicHeaders
	case model.ProviderGemini:
		return httpclient.ParseGeminiHeaders
	default:
		return httpclient.ParseOpenAIHeaders
	}
}

// Name returns the configured model identifier.
func (p *Provider) Name() string { return p.cfg.Name }

// Provider returns the configured provider kind.
func (p *Provider) Provider() model.Provider { return p.cfg.Provider }

// Close releases no resources of its own; the underlying http.Client's
// idle connections are reclaimed by the transport on process exit.
func (p *Provider) Close() error { return nil }

// GenerateContent issues one chat completions call. Streaming is not
// implemented against this transport (stream is accepted for interface
// compatibility but always produces a single non-partial Response);
// providers that need token-level streaming should implement model.LLM
// directly against their native streaming transport instead.
func (p *Provider) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		resp, err := p.call(ctx, req)
		if err != nil {
			yield(nil, err)
			return
		}
		yield(resp, nil)
	}
}

func (p *Provider) call(ctx context.Context, req *model.Request) (*model.Response, error) {
	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("providerhttp: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("providerhttp: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &fallback.TimeoutError{Err: err}
		}
		return nil, &fallback.ProviderError{Err: err}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &fallback.ProviderError{Err: fmt.Errorf("providerhttp: read body: %w", err)}
	}

	if httpResp.StatusCode >= 400 {
		return nil, &fallback.ProviderError{Err: fmt.Errorf("providerhttp: status %d: %s", httpResp.StatusCode, strings.TrimSpace(string(raw)))}
	}

	var chatResp chatResponse
	if err := json.Unmarshal(raw, &chatResp); err != nil {
		return nil, &fallback.SchemaError{Err: fmt.Errorf("providerhttp: decode response: %w", err)}
	}
	if chatResp.Error != nil {
		return nil, &fallback.ProviderError{Err: fmt.Errorf("providerhttp: api error: %s", chatResp.Error.Message)}
	}
	if len(chatResp.Choices) == 0 {
		return nil, &fallback.SchemaError{Err: fmt.Errorf("providerhttp: no choices in response")}
	}

	return toModelResponse(chatResp), nil
}

func (p *Provider) buildRequest(req *model.Request) chatRequest {
	messages := make([]chatMessage, 0, len(req.Messages)+1)
	if req.SystemInstruction != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemInstruction})
	}
	for _, m := range req.Messages {
		messages = append(messages, toChatMessage(m))
	}

	out := chatRequest{
		Model:       p.cfg.Model,
		Messages:    messages,
		Temperature: p.cfg.Temperature,
	}
	if req.Config != nil && req.Config.MaxTokens != nil {
		out.MaxTokens = *req.Config.MaxTokens
	}
	if len(req.Tools) > 0 {
		out.Tools = toChatTools(req.Tools)
		out.ToolChoice = "auto"
	}
	return out
}

func toChatMessage(m *fact.Message) chatMessage {
	out := chatMessage{
		Role:       string(m.Role),
		Content:    m.Text,
		ToolCallID: m.ToolCallID,
	}
	if len(m.ToolCalls) > 0 {
		out.ToolCalls = make([]chatToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			rawArgs, _ := json.Marshal(tc.Args)
			out.ToolCalls[i] = chatToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: chatFunctionCall{
					Name:      tc.Name,
					Arguments: string(rawArgs),
				},
			}
		}
	}
	return out
}

func toChatTools(defs []tool.Definition) []chatTool {
	out := make([]chatTool, len(defs))
	for i, d := range defs {
		out[i] = chatTool{
			Type: "function",
			Function: chatToolFunction{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		}
	}
	return out
}

func toModelResponse(resp chatResponse) *model.Response {
	choice := resp.Choices[0]
	out := &model.Response{
		Text:         choice.Message.Content,
		Partial:      false,
		TurnComplete: true,
		FinishReason: toFinishReason(choice.FinishReason),
	}
	if resp.Usage != nil {
		out.Usage = &model.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	if len(choice.Message.ToolCalls) > 0 {
		out.ToolCalls = make([]tool.Call, len(choice.Message.ToolCalls))
		for i, tc := range choice.Message.ToolCalls {
			var args map[string]any
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
			out.ToolCalls[i] = tool.Call{ID: tc.ID, Name: tc.Function.Name, Args: args}
		}
		out.FinishReason = model.FinishReasonToolCalls
	}
	return out
}

func toFinishReason(s string) model.FinishReason {
	switch s {
	case "stop":
		return model.FinishReasonStop
	case "length":
		return model.FinishReasonLength
	case "tool_calls":
		return model.FinishReasonToolCalls
	case "content_filter":
		return model.FinishReasonContent
	default:
		return model.FinishReasonStop
	}
}

// chatRequest and friends mirror the OpenAI-compatible chat completions
// wire format.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Tools       []chatTool    `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function chatFunctionCall `json:"function"`
}

type chatFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatTool struct {
	Type     string           `json:"type"`
	Function chatToolFunction `json:"function"`
}

type chatToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type chatResponse struct {
	Choices []chatChoice  `json:"choices"`
	Usage   *chatUsage    `json:"usage"`
	Error   *chatAPIError `json:"error,omitempty"`
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatAPIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}
