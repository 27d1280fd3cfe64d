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
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Tracer wraps the OpenTelemetry tracer with helpers for starting one span
// per node of the execution-boundary tree (session, execution, cycle, step,
// branch, llm_exchange, pipeline) plus leaf spans for tool calls and HTTP
// requests.
type Tracer struct {
	provider       *sdktrace.TracerProvider
	tracer         trace.Tracer
	debugExporter  *DebugExporter
	capturePayload bool
	serviceName    string
}

// TracerOption configures the Tracer.
type TracerOption func(*Tracer)

// WithDebugExporter adds a debug exporter for in-memory span inspection.
func WithDebugExporter(exporter *DebugExporter) TracerOption {
	return func(t *Tracer) {
		t.debugExporter = exporter
	}
}

// WithCapturePayloads enables capturing full LLM/tool request-response
// bodies as span attributes. Off by default since payloads can be large and
// may contain sensitive data.
func WithCapturePayloads(capture bool) TracerOption {
	return func(t *Tracer) {
		t.capturePayload = capture
	}
}

// NewTracer creates a new Tracer from configuration.
func NewTracer(ctx context.Context, cfg *TracingConfig, opts ...TracerOption) (*Tracer, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	cfg.SetDefaults()

	exporter, err := createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String(AttrGenAISystem, DefaultServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	sampler := sdktrace.TraceIDRatioBased(cfg.SamplingRate)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t := &Tracer{
		provider:    provider,
		tracer:      provider.Tracer(cfg.ServiceName),
		serviceName: cfg.ServiceName,
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.debugExporter != nil {
		provider.RegisterSpanProcessor(sdktrace.NewSimpleSpanProcessor(t.debugExporter))
	}

	return t, nil
}

func createExporter(ctx context.Context, cfg *TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "otlp":
		return createOTLPExporter(ctx, cfg)
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "jaeger", "zipkin":
		// Modern collectors for both accept OTLP, so route through it too.
		return createOTLPExporter(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", cfg.Exporter)
	}
}

func createOTLPExporter(ctx context.Context, cfg *TracingConfig) (*otlptrace.Exporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithTimeout(cfg.Timeout),
	}

	if cfg.IsInsecure() {
		opts = append(opts, otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}

	return otlptracegrpc.New(ctx, opts...)
}

// Start begins a new span with the given name.
func (t *Tracer) Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return ctx, noopSpan()
	}
	return t.tracer.Start(ctx, spanName, opts...)
}

// startBoundary begins a span for one node of the execution-boundary tree.
func (t *Tracer) startBoundary(ctx context.Context, spanName, boundaryType, boundaryID, parentBoundaryID string, extra ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs := append([]attribute.KeyValue{
		attribute.String(AttrBoundaryType, boundaryType),
		attribute.String(AttrBoundaryID, boundaryID),
	}, extra...)
	if parentBoundaryID != "" {
		attrs = append(attrs, attribute.String(AttrParentBoundary, parentBoundaryID))
	}
	return t.Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// StartSession begins the root span for one conversation/session.
func (t *Tracer) StartSession(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	return t.startBoundary(ctx, SpanSession, BoundarySession, sessionID, "",
		attribute.String(AttrSessionID, sessionID))
}

// StartExecution begins a span for one plan execution (direct, sequential,
// parallel, or task strategy).
func (t *Tracer) StartExecution(ctx context.Context, executionID, parentBoundaryID, strategy string) (context.Context, trace.Span) {
	return t.startBoundary(ctx, SpanExecution, BoundaryExecution, executionID, parentBoundaryID,
		attribute.String(AttrExecutionKind, strategy))
}

// StartCycle begins a span for one forward-chaining rules-engine cycle.
func (t *Tracer) StartCycle(ctx context.Context, cycleID, parentBoundaryID string, index int) (context.Context, trace.Span) {
	return t.startBoundary(ctx, SpanCycle, BoundaryCycle, cycleID, parentBoundaryID,
		attribute.Int(AttrCycleIndex, index))
}

// StartStep begins a span for one task/tool-loop step.
func (t *Tracer) StartStep(ctx context.Context, stepID, parentBoundaryID string, index int) (context.Context, trace.Span) {
	return t.startBoundary(ctx, SpanStep, BoundaryStep, stepID, parentBoundaryID,
		attribute.Int(AttrStepIndex, index))
}

// StartBranch begins a span for one branch of a parallel execution.
func (t *Tracer) StartBranch(ctx context.Context, branchID, parentBoundaryID string, index int) (context.Context, trace.Span) {
	return t.startBoundary(ctx, SpanBranch, BoundaryBranch, branchID, parentBoundaryID,
		attribute.Int(AttrBranchIndex, index))
}

// StartLLMExchange begins a span for a single request/response round trip
// with the model.
func (t *Tracer) StartLLMExchange(ctx context.Context, exchangeID, parentBoundaryID, model string, maxTokens int, temperature, topP float64) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String(AttrGenAIOperationName, OpChat),
		attribute.String(AttrGenAIRequestModel, model),
	}
	if maxTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrGenAIRequestMaxTokens, maxTokens))
	}
	if temperature > 0 {
		attrs = append(attrs, attribute.Float64(AttrGenAIRequestTemperature, temperature))
	}
	if topP > 0 {
		attrs = append(attrs, attribute.Float64(AttrGenAIRequestTopP, topP))
	}
	return t.startBoundary(ctx, SpanLLMExchange, BoundaryLLMExchange, exchangeID, parentBoundaryID, attrs...)
}

// StartPipeline begins the span for the C2-C9 perception-to-fallback
// pipeline run that produced one execution.
func (t *Tracer) StartPipeline(ctx context.Context, pipelineID, parentBoundaryID string) (context.Context, trace.Span) {
	return t.startBoundary(ctx, SpanPipeline, BoundaryPipeline, pipelineID, parentBoundaryID)
}

// StartToolExecution begins a leaf span for a single tool call. Tool calls
// are not boundary-tree nodes themselves; they attach to the step that owns
// them via parentBoundaryID.
func (t *Tracer) StartToolExecution(ctx context.Context, toolName, toolDescription, callID, parentBoundaryID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String(AttrGenAIOperationName, OpToolCall),
		attribute.String(AttrGenAIToolName, toolName),
		attribute.String(AttrGenAIToolDescription, toolDescription),
		attribute.String(AttrGenAIToolCallID, callID),
	}
	if parentBoundaryID != "" {
		attrs = append(attrs, attribute.String(AttrParentBoundary, parentBoundaryID))
	}
	return t.Start(ctx, SpanToolExecution, trace.WithAttributes(attrs...))
}

// AddLLMUsage adds token usage information to a span.
func (t *Tracer) AddLLMUsage(span trace.Span, inputTokens, outputTokens int) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.Int(AttrGenAIUsageInputTokens, inputTokens),
		attribute.Int(AttrGenAIUsageOutputTokens, outputTokens),
	)
}

// AddLLMFinishReason adds the finish reason to a span.
func (t *Tracer) AddLLMFinishReason(span trace.Span, reason string) {
	if span == nil {
		return
	}
	span.SetAttributes(attribute.String(AttrGenAIResponseFinish, reason))
}

// AddPayload adds serialized LLM request/response to a span, if capture is
// enabled.
func (t *Tracer) AddPayload(span trace.Span, request, response string) {
	if span == nil || !t.capturePayload {
		return
	}
	if request != "" {
		span.SetAttributes(attribute.String(AttrLLMRequestPayload, request))
	}
	if response != "" {
		span.SetAttributes(attribute.String(AttrLLMResponsePayload, response))
	}
}

// AddToolPayload adds serialized tool args/response to a span, if capture
// is enabled.
func (t *Tracer) AddToolPayload(span trace.Span, args, response string) {
	if span == nil || !t.capturePayload {
		return
	}
	if args != "" {
		span.SetAttributes(attribute.String(AttrToolArgsPayload, args))
	}
	if response != "" {
		span.SetAttributes(attribute.String(AttrToolResultPayload, response))
	}
}

// AddApprovalDecision records a resolved human-approval decision on a span.
func (t *Tracer) AddApprovalDecision(span trace.Span, approvalID, decision string) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.String(AttrApprovalID, approvalID),
		attribute.String(AttrApprovalDecision, decision),
	)
}

// RecordError records an error on a span.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(
		attribute.String(AttrErrorType, fmt.Sprintf("%T", err)),
		attribute.String(AttrErrorMessage, err.Error()),
	)
}

// DebugExporter returns the debug exporter if configured.
func (t *Tracer) DebugExporter() *DebugExporter {
	if t == nil {
		return nil
	}
	return t.debugExporter
}

// Shutdown gracefully shuts down the tracer provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// noopSpan returns a no-op span that satisfies the trace.Span interface.
func noopSpan() trace.Span {
	_, span := trace.NewNoopTracerProvider().Tracer("noop").Start(context.Background(), "noop")
	return span
}
