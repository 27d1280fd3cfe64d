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

package model

import (
	"iter"

	"github.com/google/uuid"

	"github.com/signalforge/cortex/pkg/tool"
)

// StreamingAggregator accumulates content from a provider's partial
// responses and produces:
//   - Partial responses for real-time UI updates (Partial=true)
//   - One aggregated response for history persistence (Partial=false)
//
// Usage:
//
//	aggregator := NewStreamingAggregator()
//	for chunk := range provider.Stream(ctx, req) {
//	    for resp, err := range aggregator.ProcessChunk(chunk) {
//	        yield(resp, err)
//	    }
//	}
//	if final := aggregator.Close(); final != nil {
//	    yield(final, nil)
//	}
type StreamingAggregator struct {
	text         string
	thinkingText string
	toolCalls    []tool.Call
	usage        *Usage
	finishReason FinishReason

	thinkingID        string
	thinkingSignature string
}

// NewStreamingAggregator creates a new streaming aggregator.
func NewStreamingAggregator() *StreamingAggregator {
	return &StreamingAggregator{}
}

// ProcessTextDelta processes a text delta chunk and yields a partial
// response for the UI.
func (s *StreamingAggregator) ProcessTextDelta(text string) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		if text == "" {
			return
		}
		s.text += text
		yield(&Response{Text: text, Partial: true}, nil)
	}
}

// ProcessThinkingDelta processes a thinking delta chunk and yields a
// partial response with thinking metadata.
func (s *StreamingAggregator) ProcessThinkingDelta(thinking string) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		if thinking == "" {
			return
		}
		if s.thinkingID == "" {
			s.thinkingID = "thinking_" + uuid.NewString()[:8]
		}
		s.thinkingText += thinking

		yield(&Response{
			Partial: true,
			Thinking: &ThinkingBlock{
				ID:      s.thinkingID,
				Content: thinking, // delta only
			},
		}, nil)
	}
}

// ProcessThinkingComplete processes a completed thinking block with signature.
func (s *StreamingAggregator) ProcessThinkingComplete(content, signature string) {
	if s.thinkingID == "" {
		s.thinkingID = "thinking_" + uuid.NewString()[:8]
	}
	s.thinkingText = content
	s.thinkingSignature = signature
}

// ThinkingText returns the accumulated thinking text.
func (s *StreamingAggregator) ThinkingText() string {
	return s.thinkingText
}

// ProcessToolCall processes a complete tool call and yields a partial
// response carrying it.
func (s *StreamingAggregator) ProcessToolCall(tc tool.Call) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		s.toolCalls = append(s.toolCalls, tc)
		yield(&Response{
			Partial:   true,
			ToolCalls: []tool.Call{tc},
		}, nil)
	}
}

// SetUsage sets the usage statistics, typically from the stream's final event.
func (s *StreamingAggregator) SetUsage(usage *Usage) {
	s.usage = usage
}

// SetFinishReason sets the finish reason.
func (s *StreamingAggregator) SetFinishReason(reason FinishReason) {
	s.finishReason = reason
}

// Close generates the final aggregated response, Partial=false, suitable
// for persisting to the thread. Returns nil if nothing was accumulated.
func (s *StreamingAggregator) Close() *Response {
	if s.text == "" && s.thinkingText == "" && len(s.toolCalls) == 0 {
		return nil
	}

	resp := &Response{
		Text:         s.text,
		Partial:      false,
		TurnComplete: true,
		ToolCalls:    s.toolCalls,
		Usage:        s.usage,
		FinishReason: s.finishReason,
	}

	if s.thinkingText != "" {
		resp.Thinking = &ThinkingBlock{
			ID:        s.thinkingID,
			Content:   s.thinkingText,
			Signature: s.thinkingSignature,
		}
	}

	s.clear()
	return resp
}

func (s *StreamingAggregator) clear() {
	s.text = ""
	s.thinkingText = ""
	s.thinkingID = ""
	s.thinkingSignature = ""
	s.toolCalls = nil
	s.usage = nil
	s.finishReason = ""
}
