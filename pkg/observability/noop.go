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

package observability

import (
	"net/http"
	"time"
)

// NoopMetrics is a Recorder implementation that does nothing. Its Handler
// is what Metrics.Handler returns when there is no metrics registry.
type NoopMetrics struct{}

func (NoopMetrics) RecordExecution(_ string, _ time.Duration, _ string) {}
func (NoopMetrics) IncExecutionsActive(_ string)                        {}
func (NoopMetrics) DecExecutionsActive(_ string)                        {}
func (NoopMetrics) RecordClassifier(_, _ string, _ time.Duration)       {}
func (NoopMetrics) RecordRuleFire(_ string)                             {}
func (NoopMetrics) RecordRuleCycles(_ string, _ int)                    {}
func (NoopMetrics) RecordLLMCall(_, _ string, _ time.Duration, _, _ int, _ string) {}
func (NoopMetrics) RecordToolCall(_ string, _ time.Duration, _ string)  {}
func (NoopMetrics) RecordApproval(_, _ string, _ time.Duration)         {}
func (NoopMetrics) RecordFallback(_ string, _ bool)                     {}
func (NoopMetrics) RecordHTTPRequest(_, _ string, _ int, _ time.Duration) {}

// Handler returns a handler reporting metrics are unavailable.
func (NoopMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("metrics not enabled"))
	})
}

// Recorder is the interface *Metrics satisfies, so callers that only need
// to record measurements (not manage the registry) can depend on an
// interface instead of the concrete Prometheus-backed type. NoopMetrics
// implements it too, so code can always record against a Recorder even
// when metrics are disabled.
type Recorder interface {
	RecordExecution(strategy string, duration time.Duration, errorCode string)
	IncExecutionsActive(strategy string)
	DecExecutionsActive(strategy string)
	RecordClassifier(name, label string, duration time.Duration)
	RecordRuleFire(ruleName string)
	RecordRuleCycles(terminatedReason string, cycles int)
	RecordLLMCall(model, provider string, duration time.Duration, inputTokens, outputTokens int, errType string)
	RecordToolCall(toolName string, duration time.Duration, errType string)
	RecordApproval(toolName, decision string, waited time.Duration)
	RecordFallback(errorCode string, recovered bool)
	RecordHTTPRequest(method, path string, statusCode int, duration time.Duration)
	Handler() http.Handler
}

var (
	_ Recorder = (*Metrics)(nil)
	_ Recorder = NoopMetrics{}
)
