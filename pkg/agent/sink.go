package agent

import (
	"context"

	"echoai/pkg/llm"
)

// Sink receives incremental output while the engine works. The engine never
// renders anything itself; channels adapt their transport into a Sink.
type Sink interface {
	// OnBlock delivers one freshly arrived content block (text, thinking,
	// image or error).
	OnBlock(block llm.ContentBlock)

	// OnSignal delivers out-of-band status markers such as "thinking" or
	// "tool", used by UIs for activity indicators.
	OnSignal(name string)
}

// Confirmer decides whether a tool call may execute. A declined call is
// converted into a cancellation result; the conversation continues.
type Confirmer interface {
	Confirm(ctx context.Context, call llm.ToolCall) bool
}

// DiscardSink drops all output. Useful for tests and headless runs.
type DiscardSink struct{}

func (DiscardSink) OnBlock(llm.ContentBlock) {}
func (DiscardSink) OnSignal(string)          {}

// AutoApprove confirms every tool call. The default policy outside safe mode.
type AutoApprove struct{}

func (AutoApprove) Confirm(context.Context, llm.ToolCall) bool { return true }

// ConfirmerFunc adapts a function to the Confirmer interface.
type ConfirmerFunc func(ctx context.Context, call llm.ToolCall) bool

func (f ConfirmerFunc) Confirm(ctx context.Context, call llm.ToolCall) bool {
	return f(ctx, call)
}
