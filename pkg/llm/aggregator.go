package llm

import (
	"fmt"
	"strings"
)

// Delta is one normalized increment of a streamed chat-completions response.
// Dialect adapters translate their wire format into this shape; nothing
// dialect-specific survives past them.
type Delta struct {
	Content   string
	Thinking  string
	ToolCalls []ToolCallDelta
	// FinishReason is empty until the provider closes the stream.
	FinishReason string
	Usage        *Usage
}

// ToolCallDelta is a fragment of one in-flight tool call. Under the modern
// dialect the first fragment carries Index, ID and Name and later fragments
// carry Index plus argument pieces. The legacy dialect has neither index nor
// id; adapters pin those fragments to index 0 with an empty ID.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// Aggregator states.
const (
	AggAccumulating   = "accumulating"
	AggTextReady      = "text_ready"
	AggToolCallsReady = "tool_calls_ready"
	AggFailed         = "failed"
)

// AggregatedCall is a closed tool call in first-opened order. Err is non-nil
// when the argument buffer failed JSON validation at closure; the failure is
// scoped to this call and does not abort its siblings.
type AggregatedCall struct {
	ToolCall
	Err error
}

// Aggregator reassembles a fragmented stream of Deltas into either a complete
// text response or a set of complete tool calls. One Aggregator serves one
// request/response cycle and is not safe for concurrent use.
type Aggregator struct {
	state    string
	text     strings.Builder
	thinking strings.Builder

	calls   []*AggregatedCall
	byID    map[string]*AggregatedCall
	byIndex map[int]*AggregatedCall

	finishReason string
	usage        *Usage
	failure      error
}

// NewAggregator returns an Aggregator in the accumulating state.
func NewAggregator() *Aggregator {
	return &Aggregator{
		state:   AggAccumulating,
		byID:    make(map[string]*AggregatedCall),
		byIndex: make(map[int]*AggregatedCall),
	}
}

// Feed consumes one delta. Content and tool-call fragments may interleave
// freely. A delta carrying a tool finish reason closes all open calls and
// moves to tool_calls_ready; any other finish reason moves to text_ready.
// Chat-completions streams report usage on a trailing chunk after the finish
// reason, so a usage-only delta is still absorbed in a terminal state.
// Feeding anything else after a terminal state is a caller bug and returns an
// error.
func (a *Aggregator) Feed(d Delta) error {
	if a.state != AggAccumulating {
		if d.Usage != nil {
			a.usage = d.Usage
		}
		if d.Content == "" && d.Thinking == "" && len(d.ToolCalls) == 0 && d.FinishReason == FinishNone {
			return nil
		}
		return fmt.Errorf("aggregator already closed in state %q", a.state)
	}

	a.text.WriteString(d.Content)
	a.thinking.WriteString(d.Thinking)
	if d.Usage != nil {
		a.usage = d.Usage
	}

	for _, frag := range d.ToolCalls {
		call := a.locate(frag)
		if call.Name == "" {
			call.Name = frag.Name
		}
		call.Arguments += frag.Arguments
	}

	switch d.FinishReason {
	case FinishNone:
	case FinishToolCalls, FinishFunctionCall:
		a.finishReason = d.FinishReason
		a.close()
	default:
		a.finishReason = d.FinishReason
		a.state = AggTextReady
	}
	return nil
}

// locate finds the open call a fragment belongs to, creating it on first
// sight. Fragments with an id key by id; id-less fragments (argument
// continuations, and everything under the legacy dialect) key positionally.
func (a *Aggregator) locate(frag ToolCallDelta) *AggregatedCall {
	if frag.ID != "" {
		if call, ok := a.byID[frag.ID]; ok {
			return call
		}
	}
	if call, ok := a.byIndex[frag.Index]; ok {
		if frag.ID != "" && call.ID == "" {
			call.ID = frag.ID
			a.byID[frag.ID] = call
		}
		return call
	}

	call := &AggregatedCall{ToolCall: ToolCall{ID: frag.ID}}
	a.calls = append(a.calls, call)
	a.byIndex[frag.Index] = call
	if frag.ID != "" {
		a.byID[frag.ID] = call
	}
	return call
}

// close validates every accumulated argument buffer. Validation happens only
// here; mid-stream buffers are arbitrary JSON prefixes and must not be parsed.
func (a *Aggregator) close() {
	for _, call := range a.calls {
		if call.Arguments == "" {
			call.Arguments = "{}"
		}
		if !json.Valid([]byte(call.Arguments)) {
			call.Err = fmt.Errorf("%w: tool %q: %q", ErrMalformedToolArguments, call.Name, call.Arguments)
		}
	}
	a.state = AggToolCallsReady
}

// Finish marks a stream that ended without an explicit finish reason. Streams
// that closed cleanly mid-accumulation resolve to text.
func (a *Aggregator) Finish() {
	if a.state == AggAccumulating {
		a.state = AggTextReady
	}
}

// Fail records a transport failure. Accumulated text survives and stays
// readable through Text.
func (a *Aggregator) Fail(err error) {
	a.failure = &TransportError{Err: err}
	a.state = AggFailed
}

// State returns the current aggregator state.
func (a *Aggregator) State() string { return a.state }

// Text returns the text accumulated so far. Valid in every state, including
// failed, where it holds the partial response.
func (a *Aggregator) Text() string { return a.text.String() }

// Thinking returns the accumulated thinking content.
func (a *Aggregator) Thinking() string { return a.thinking.String() }

// Calls returns the closed tool calls in the order they were first opened.
func (a *Aggregator) Calls() []AggregatedCall {
	out := make([]AggregatedCall, 0, len(a.calls))
	for _, call := range a.calls {
		out = append(out, *call)
	}
	return out
}

// FinishReason returns the provider's finish reason, empty if none arrived.
func (a *Aggregator) FinishReason() string { return a.finishReason }

// Usage returns the last usage report seen on the stream, if any.
func (a *Aggregator) Usage() *Usage { return a.usage }

// Err returns the recorded transport failure, nil unless state is failed.
func (a *Aggregator) Err() error { return a.failure }
