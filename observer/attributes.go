package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for deepsearch observability spans and metrics.
var (
	AttrLLMModel  = attribute.Key("llm.model")
	AttrLLMMethod = attribute.Key("llm.method")

	AttrTokensInput  = attribute.Key("llm.tokens.input")
	AttrTokensOutput = attribute.Key("llm.tokens.output")
	AttrCostUSD      = attribute.Key("llm.cost_usd")

	AttrToolCount = attribute.Key("llm.tool_count")
	AttrToolNames = attribute.Key("llm.tool_names")

	AttrStreamChunks = attribute.Key("llm.stream_chunks")

	AttrToolName   = attribute.Key("tool.name")
	AttrToolStatus = attribute.Key("tool.status")

	AttrCodeLength    = attribute.Key("sandbox.code_length")
	AttrSandboxStatus = attribute.Key("sandbox.status")
	AttrSandboxTools  = attribute.Key("sandbox.tool_calls")

	AttrAgentKind   = attribute.Key("agent.kind")
	AttrAgentStatus = attribute.Key("agent.status")
	AttrRunSteps    = attribute.Key("agent.run.steps")
)
