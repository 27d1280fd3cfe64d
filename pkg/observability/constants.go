package observability

// Service identity attributes.
const (
	AttrServiceName     = "service.name"
	AttrServiceVersion  = "service.version"
	AttrServiceInstance = "service.instance.id"
)

// GenAI semantic-convention attributes (OpenTelemetry GenAI SIG), reused for
// the llm_exchange boundary.
const (
	AttrGenAISystem             = "gen_ai.system"
	AttrGenAIOperationName      = "gen_ai.operation.name"
	AttrGenAIRequestModel       = "gen_ai.request.model"
	AttrGenAIRequestTemperature = "gen_ai.request.temperature"
	AttrGenAIRequestTopP        = "gen_ai.request.top_p"
	AttrGenAIRequestMaxTokens   = "gen_ai.request.max_tokens"
	AttrGenAIResponseFinish     = "gen_ai.response.finish_reason"
	AttrGenAIUsageInputTokens   = "gen_ai.usage.input_tokens"
	AttrGenAIUsageOutputTokens  = "gen_ai.usage.output_tokens"
	AttrGenAIToolName           = "gen_ai.tool.name"
	AttrGenAIToolDescription    = "gen_ai.tool.description"
	AttrGenAIToolCallID         = "gen_ai.tool.call.id"
)

// Boundary-tree attributes. Boundary spans (session, execution, cycle,
// step, branch, llm_exchange, pipeline) carry a boundary type and id so the
// tree can be reconstructed from a flat trace; tool-execution spans carry
// only the parent boundary id, and spans begun with Start carry none.
const (
	AttrBoundaryType   = "boundary.type"
	AttrBoundaryID     = "boundary.id"
	AttrParentBoundary = "boundary.parent_id"

	AttrSessionID     = "cortex.session_id"
	AttrExecutionID   = "cortex.execution_id"
	AttrExecutionKind = "cortex.execution.strategy"
	AttrCycleIndex    = "cortex.cycle_index"
	AttrStepIndex     = "cortex.step_index"
	AttrBranchIndex   = "cortex.branch_index"

	AttrToolName       = "tool.name"
	AttrLLMModel       = "llm.model"
	AttrLLMTokensInput = "llm.tokens.input"
	AttrLLMTokensOutput = "llm.tokens.output"
	AttrRuleName       = "rule.name"
	AttrClassifierName = "classifier.name"
	AttrApprovalID     = "approval.id"
	AttrApprovalDecision = "approval.decision"
)

// HTTP attributes.
const (
	AttrHTTPMethod       = "http.method"
	AttrHTTPPath         = "http.route"
	AttrHTTPStatusCode   = "http.status_code"
	AttrHTTPRequestSize  = "http.request.body.size"
	AttrHTTPResponseSize = "http.response.body.size"
	AttrStatusCode       = AttrHTTPStatusCode
)

// Error attributes.
const (
	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"
)

// Payload attributes, only populated when CapturePayloads is enabled.
const (
	AttrLLMRequestPayload  = "cortex.llm.request"
	AttrLLMResponsePayload = "cortex.llm.response"
	AttrToolArgsPayload    = "cortex.tool.args"
	AttrToolResultPayload  = "cortex.tool.response"
)

// Span names, one per boundary type plus the llm_exchange/tool/http leaves.
const (
	SpanPipeline    = "cortex.pipeline"
	SpanSession     = "cortex.session"
	SpanExecution   = "cortex.execution"
	SpanCycle       = "cortex.cycle"
	SpanStep        = "cortex.step"
	SpanBranch      = "cortex.branch"
	SpanLLMExchange = "cortex.llm_exchange"
	SpanToolExecution = "cortex.tool.execute"
	SpanHTTPRequest   = "cortex.http.request"
)

// BoundaryType values for the execution-boundary tree. Every emitted event's
// boundaryType must be one of these.
const (
	BoundarySession     = "session"
	BoundaryExecution   = "execution"
	BoundaryCycle       = "cycle"
	BoundaryStep        = "step"
	BoundaryBranch      = "branch"
	BoundaryLLMExchange = "llm_exchange"
	BoundaryPipeline    = "pipeline"
)

// GenAI operation names (AttrGenAIOperationName values).
const (
	OpChat     = "chat"
	OpToolCall = "execute_tool"
)

// Defaults.
const (
	DefaultServiceName  = "cortex"
	DefaultSamplingRate = 1.0
	DefaultOTLPEndpoint = "localhost:4317"
	DefaultMetricsPath  = "/metrics"
)
