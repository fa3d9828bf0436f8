package llm

import (
	"errors"
	"fmt"
)

// Sentinel errors for the orchestration core. Tool execution failures are NOT
// errors at this level: they are converted into structured result payloads and
// fed back to the model, so the conversation can continue.
var (
	// ErrToolNotFound means the model requested a tool that is not registered.
	// Fatal to the current invocation loop; never retried blindly.
	ErrToolNotFound = errors.New("tool not found")

	// ErrMalformedToolArguments means a completed argument buffer was not valid
	// JSON. Scoped to a single tool call; siblings in the cycle still execute.
	ErrMalformedToolArguments = errors.New("malformed tool arguments")

	// ErrIterationLimit is the loop safety valve for a model that keeps
	// issuing tool calls without ever producing a final answer.
	ErrIterationLimit = errors.New("tool iteration limit exceeded")

	// ErrInvalidSystemPrompt rejects empty system prompt updates.
	ErrInvalidSystemPrompt = errors.New("system prompt must not be empty")

	// ErrEmptyInput signals a blank user turn internally. Callers treat it as
	// a no-op, not a failure; it never reaches the network.
	ErrEmptyInput = errors.New("empty input")
)

// TransportError wraps a network or stream-level failure. The partial text
// accumulated before the failure is preserved by the aggregator and surfaced
// to the caller; it is never silently discarded.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
