package llm

// Role constants for conversation messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// StopReason constants define normalized reasons for LLM generation termination.
// All providers must normalize their native stop reasons to these values.
const (
	StopReasonStop   = "stop"   // Normal completion
	StopReasonLength = "length" // Output truncated due to token limit
)

// FinishReason constants carried on normalized deltas. FinishToolCalls and
// FinishFunctionCall both close the cycle's tool calls; they differ only in
// which wire dialect produced them.
const (
	FinishNone         = ""
	FinishStop         = "stop"
	FinishLength       = "length"
	FinishToolCalls    = "tool_calls"
	FinishFunctionCall = "function_call"
)

// Dialect tags select the tool-calling wire format of an OpenAI-compatible
// endpoint. Configured per provider group; the core never negotiates.
const (
	// DialectToolCalls is the modern format: multiple concurrent tool calls,
	// each delta carrying index, id and function name/argument fragments.
	DialectToolCalls = "tool_calls"
	// DialectFunctionCall is the legacy format: a single function call per
	// cycle, fragments arriving on delta.function_call with no correlation id.
	DialectFunctionCall = "function_call"
)

// ContentBlock Type constants define the supported content block formats
// used throughout the message pipeline.
const (
	BlockTypeText     = "text"     // Plain text content
	BlockTypeThinking = "thinking" // Internal reasoning/chain-of-thought
	BlockTypeImage    = "image"    // Binary image data
	BlockTypeError    = "error"    // Error message displayed to user
)

type contextKey string

// DebugDirContextKey carries a per-request debug directory suffix so that all
// raw chunk logs of one agentic loop land in the same folder.
const DebugDirContextKey contextKey = "llm_debug_dir"
