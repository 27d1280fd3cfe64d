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

package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics collection for the pipeline's
// boundary types, plus fallback and HTTP metrics. Execution, llm_exchange
// and tool get calls, duration and error metrics; classifier and approval
// get calls and duration; rules get fire and cycle counts.
type Metrics struct {
	config   *MetricsConfig
	registry *prometheus.Registry

	executionRuns     *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	executionErrors   *prometheus.CounterVec
	executionsActive  *prometheus.GaugeVec

	classifierRuns     *prometheus.CounterVec
	classifierDuration *prometheus.HistogramVec

	ruleFires  *prometheus.CounterVec
	ruleCycles *prometheus.HistogramVec

	llmCalls        *prometheus.CounterVec
	llmCallDuration *prometheus.HistogramVec
	llmTokensInput  *prometheus.CounterVec
	llmTokensOutput *prometheus.CounterVec
	llmErrors       *prometheus.CounterVec

	toolCalls        *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	toolErrors       *prometheus.CounterVec

	approvalRequests *prometheus.CounterVec
	approvalDuration *prometheus.HistogramVec

	fallbackInvocations *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance from configuration.
func NewMetrics(cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	cfg.SetDefaults()

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),
	}

	m.initExecutionMetrics()
	m.initClassifierMetrics()
	m.initRuleMetrics()
	m.initLLMMetrics()
	m.initToolMetrics()
	m.initApprovalMetrics()
	m.initFallbackMetrics()
	m.initHTTPMetrics()

	return m, nil
}

func (m *Metrics) initExecutionMetrics() {
	m.executionRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "execution",
			Name:      "runs_total",
			Help:      "Total number of plan executions",
		},
		[]string{"strategy"},
	)

	m.executionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "execution",
			Name:      "duration_seconds",
			Help:      "Plan execution duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 15),
		},
		[]string{"strategy"},
	)

	m.executionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "execution",
			Name:      "errors_total",
			Help:      "Total number of plan execution errors",
		},
		[]string{"strategy", "error_code"},
	)

	m.executionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.config.Namespace,
			Subsystem: "execution",
			Name:      "active",
			Help:      "Number of currently running plan executions",
		},
		[]string{"strategy"},
	)

	m.registry.MustRegister(m.executionRuns, m.executionDuration, m.executionErrors, m.executionsActive)
}

func (m *Metrics) initClassifierMetrics() {
	m.classifierRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "classifier",
			Name:      "runs_total",
			Help:      "Total number of classifier invocations",
		},
		[]string{"classifier_name", "label"},
	)

	m.classifierDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "classifier",
			Name:      "duration_seconds",
			Help:      "Classifier invocation duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"classifier_name"},
	)

	m.registry.MustRegister(m.classifierRuns, m.classifierDuration)
}

func (m *Metrics) initRuleMetrics() {
	m.ruleFires = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "rules",
			Name:      "fires_total",
			Help:      "Total number of rule firings",
		},
		[]string{"rule_name"},
	)

	m.ruleCycles = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "rules",
			Name:      "cycles",
			Help:      "Number of forward-chaining cycles run before quiescence or the cycle cap",
			Buckets:   prometheus.LinearBuckets(1, 2, 17), // covers the 32-cycle cap
		},
		[]string{"terminated_reason"},
	)

	m.registry.MustRegister(m.ruleFires, m.ruleCycles)
}

func (m *Metrics) initLLMMetrics() {
	m.llmCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "Total number of LLM API calls",
		},
		[]string{"model", "provider"},
	)

	m.llmCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "LLM API call duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"model", "provider"},
	)

	m.llmTokensInput = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "llm",
			Name:      "tokens_input_total",
			Help:      "Total number of input tokens consumed",
		},
		[]string{"model", "provider"},
	)

	m.llmTokensOutput = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "llm",
			Name:      "tokens_output_total",
			Help:      "Total number of output tokens generated",
		},
		[]string{"model", "provider"},
	)

	m.llmErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "llm",
			Name:      "errors_total",
			Help:      "Total number of LLM API errors",
		},
		[]string{"model", "provider", "error_type"},
	)

	m.registry.MustRegister(m.llmCalls, m.llmCallDuration, m.llmTokensInput, m.llmTokensOutput, m.llmErrors)
}

func (m *Metrics) initToolMetrics() {
	m.toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "tool",
			Name:      "calls_total",
			Help:      "Total number of tool invocations",
		},
		[]string{"tool_name"},
	)

	m.toolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "tool",
			Name:      "call_duration_seconds",
			Help:      "Tool execution duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"tool_name"},
	)

	m.toolErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "tool",
			Name:      "errors_total",
			Help:      "Total number of tool errors",
		},
		[]string{"tool_name", "error_type"},
	)

	m.registry.MustRegister(m.toolCalls, m.toolCallDuration, m.toolErrors)
}

func (m *Metrics) initApprovalMetrics() {
	m.approvalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "approval",
			Name:      "requests_total",
			Help:      "Total number of human approval requests",
		},
		[]string{"tool_name", "decision"},
	)

	m.approvalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "approval",
			Name:      "wait_duration_seconds",
			Help:      "Time spent waiting for a human decision",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14), // 1s to 8192s (~2.3h)
		},
		[]string{"tool_name"},
	)

	m.registry.MustRegister(m.approvalRequests, m.approvalDuration)
}

func (m *Metrics) initFallbackMetrics() {
	m.fallbackInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "fallback",
			Name:      "invocations_total",
			Help:      "Total number of fallback executor invocations by error code",
		},
		[]string{"error_code", "recovered"},
	)

	m.registry.MustRegister(m.fallbackInvocations)
}

func (m *Metrics) initHTTPMetrics() {
	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	m.registry.MustRegister(m.httpRequests, m.httpDuration)
}

// RecordExecution records one plan execution.
func (m *Metrics) RecordExecution(strategy string, duration time.Duration, errorCode string) {
	if m == nil {
		return
	}
	m.executionRuns.WithLabelValues(strategy).Inc()
	m.executionDuration.WithLabelValues(strategy).Observe(duration.Seconds())
	if errorCode != "" {
		m.executionErrors.WithLabelValues(strategy, errorCode).Inc()
	}
}

// IncExecutionsActive/DecExecutionsActive track concurrently running plan executions.
func (m *Metrics) IncExecutionsActive(strategy string) {
	if m != nil {
		m.executionsActive.WithLabelValues(strategy).Inc()
	}
}

func (m *Metrics) DecExecutionsActive(strategy string) {
	if m != nil {
		m.executionsActive.WithLabelValues(strategy).Dec()
	}
}

// RecordClassifier records one classifier invocation.
func (m *Metrics) RecordClassifier(name, label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.classifierRuns.WithLabelValues(name, label).Inc()
	m.classifierDuration.WithLabelValues(name).Observe(duration.Seconds())
}

// RecordRuleFire records a single rule firing.
func (m *Metrics) RecordRuleFire(ruleName string) {
	if m != nil {
		m.ruleFires.WithLabelValues(ruleName).Inc()
	}
}

// RecordRuleCycles records how many forward-chaining cycles a rules engine run took.
func (m *Metrics) RecordRuleCycles(terminatedReason string, cycles int) {
	if m != nil {
		m.ruleCycles.WithLabelValues(terminatedReason).Observe(float64(cycles))
	}
}

// RecordLLMCall records one model call.
func (m *Metrics) RecordLLMCall(model, provider string, duration time.Duration, inputTokens, outputTokens int, errType string) {
	if m == nil {
		return
	}
	m.llmCalls.WithLabelValues(model, provider).Inc()
	m.llmCallDuration.WithLabelValues(model, provider).Observe(duration.Seconds())
	m.llmTokensInput.WithLabelValues(model, provider).Add(float64(inputTokens))
	m.llmTokensOutput.WithLabelValues(model, provider).Add(float64(outputTokens))
	if errType != "" {
		m.llmErrors.WithLabelValues(model, provider, errType).Inc()
	}
}

// RecordToolCall records one tool invocation.
func (m *Metrics) RecordToolCall(toolName string, duration time.Duration, errType string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(toolName).Inc()
	m.toolCallDuration.WithLabelValues(toolName).Observe(duration.Seconds())
	if errType != "" {
		m.toolErrors.WithLabelValues(toolName, errType).Inc()
	}
}

// RecordApproval records the outcome and wait time of one approval request.
func (m *Metrics) RecordApproval(toolName, decision string, waited time.Duration) {
	if m == nil {
		return
	}
	m.approvalRequests.WithLabelValues(toolName, decision).Inc()
	m.approvalDuration.WithLabelValues(toolName).Observe(waited.Seconds())
}

// RecordFallback records one fallback executor invocation.
func (m *Metrics) RecordFallback(errorCode string, recovered bool) {
	if m == nil {
		return
	}
	m.fallbackInvocations.WithLabelValues(errorCode, boolLabel(recovered)).Inc()
}

// RecordHTTPRequest records one HTTP request against the approval/admin API.
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	status := http.StatusText(statusCode)
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Handler returns the Prometheus scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return NoopMetrics{}.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
