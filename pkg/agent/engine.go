package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"echoai/pkg/config"
	"echoai/pkg/llm"
	"echoai/pkg/tools"
	"echoai/pkg/utils"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Engine drives the request/tool-execution loop against one LLM client. It
// owns no rendering: incremental output goes to the Sink, tool approval goes
// through the Confirmer, and conversation state lives in the ChatHistory the
// caller passes in.
type Engine struct {
	client    llm.LLMClient
	registry  *tools.Registry
	sink      Sink
	confirmer Confirmer

	mu     sync.RWMutex
	sysCfg *config.SystemConfig
}

// RunOptions adjusts a single run.
type RunOptions struct {
	// NoTools suppresses tool advertisement for this turn only.
	NoTools bool

	// Sink overrides the engine sink for this run, letting concurrent
	// sessions stream to their own destinations.
	Sink Sink
}

// NewEngine builds an engine with a discarding sink and auto-approving
// confirmer; callers override via SetSink and SetConfirmer.
func NewEngine(client llm.LLMClient, registry *tools.Registry, sysCfg *config.SystemConfig) *Engine {
	if sysCfg == nil {
		sysCfg = config.DefaultSystemConfig()
	}
	return &Engine{
		client:    client,
		registry:  registry,
		sink:      DiscardSink{},
		confirmer: AutoApprove{},
		sysCfg:    sysCfg,
	}
}

// SetSink replaces the output sink.
func (e *Engine) SetSink(s Sink) {
	if s != nil {
		e.sink = s
	}
}

// SetConfirmer replaces the tool approval policy.
func (e *Engine) SetConfirmer(c Confirmer) {
	if c != nil {
		e.confirmer = c
	}
}

// SetSystemConfig swaps the engine parameters. Called by the config watcher
// on live reload; takes effect on the next cycle.
func (e *Engine) SetSystemConfig(cfg *config.SystemConfig) {
	if cfg == nil {
		return
	}
	e.mu.Lock()
	e.sysCfg = cfg
	e.mu.Unlock()
}

func (e *Engine) config() *config.SystemConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sysCfg
}

// SetModel forwards a model swap to the underlying client.
func (e *Engine) SetModel(model string) {
	e.client.SetModel(model)
}

// Registry exposes the engine's tool registry.
func (e *Engine) Registry() *tools.Registry {
	return e.registry
}

// Run executes the agentic loop for the current history state: submit the
// conversation, execute any requested tools, feed results back, repeat until
// the model answers in plain text or a limit is hit. The final assistant
// message is returned; history always ends on a complete turn, never
// mid-cycle.
func (e *Engine) Run(ctx context.Context, history *llm.ChatHistory, opts RunOptions) (llm.Message, error) {
	cfg := e.config()
	maxIter := cfg.MaxToolIterations
	if maxIter <= 0 {
		maxIter = 10
	}

	sink := e.sink
	if opts.Sink != nil {
		sink = opts.Sink
	}

	iterations := 0
	retries := 0
	var lastAssistant llm.Message

	for {
		if iterations >= maxIter {
			slog.WarnContext(ctx, "tool iteration limit reached", "limit", maxIter)
			return lastAssistant, fmt.Errorf("%w (limit %d)", llm.ErrIterationLimit, maxIter)
		}

		if cfg.HistoryMaxChars > 0 {
			if dropped := history.TrimToBudget(cfg.HistoryMaxChars); dropped > 0 {
				slog.DebugContext(ctx, "trimmed history to budget", "dropped", dropped)
			}
		}

		var defs []llm.ToolDefinition
		if cfg.EnableTools && !opts.NoTools && e.registry != nil {
			defs = e.registry.Schemas()
		}

		timeout := time.Duration(cfg.LLMTimeoutMs) * time.Millisecond
		runCtx, cancel := context.WithTimeout(ctx, timeout)

		// The first stream of a run waits longer before signalling
		// "thinking"; continuations after tool execution, and any mid-stream
		// stall, use the shorter token threshold.
		initDelay := time.Duration(cfg.ThinkingInitDelayMs) * time.Millisecond
		stallDelay := time.Duration(cfg.ThinkingTokenDelayMs) * time.Millisecond
		if iterations > 0 {
			initDelay = stallDelay
		}

		chunkCh, err := e.client.StreamChat(runCtx, history.Snapshot(), defs)
		if err != nil {
			cancel()
			if e.client.IsTransientError(err) && retries < cfg.MaxRetries {
				retries++
				slog.WarnContext(ctx, "stream init failed, retrying", "attempt", retries, "err", err)
				select {
				case <-ctx.Done():
					return llm.Message{}, ctx.Err()
				case <-time.After(time.Duration(cfg.RetryDelayMs) * time.Millisecond):
				}
				continue
			}
			return llm.Message{}, asTransport(err)
		}

		assistantMsg, streamErr := e.collectChunks(runCtx, chunkCh, sink, initDelay, stallDelay)
		cancel()

		if streamErr != nil {
			hasContent, _, _ := SummarizeContent(assistantMsg)
			if !hasContent && len(assistantMsg.ToolCalls) == 0 &&
				e.client.IsTransientError(streamErr) && retries < cfg.MaxRetries {
				retries++
				slog.WarnContext(ctx, "stream failed before content, retrying", "attempt", retries, "err", streamErr)
				select {
				case <-ctx.Done():
					return llm.Message{}, ctx.Err()
				case <-time.After(time.Duration(cfg.RetryDelayMs) * time.Millisecond):
				}
				continue
			}

			// Whatever arrived before the failure is kept, never discarded.
			if len(assistantMsg.Content) > 0 {
				history.Add(assistantMsg)
			}
			return assistantMsg, asTransport(streamErr)
		}

		if len(assistantMsg.ToolCalls) > 0 {
			history.Add(assistantMsg)
			lastAssistant = assistantMsg

			for _, tc := range assistantMsg.ToolCalls {
				if fatal := e.resolveAndCommitToolCall(ctx, tc, history, sink); fatal != nil {
					return assistantMsg, fatal
				}
			}

			iterations++
			continue
		}

		// Plain text answer closes the turn.
		if len(assistantMsg.Content) > 0 {
			history.Add(assistantMsg)
		}
		return assistantMsg, nil
	}
}

// collectChunks consumes one stream into an assistant message, forwarding
// deltas to the sink as they arrive. Silence longer than initDelay before the
// first chunk, or stallDelay between chunks, triggers one "thinking" signal
// per stream so UIs can show activity.
func (e *Engine) collectChunks(ctx context.Context, chunkCh <-chan llm.StreamChunk, sink Sink, initDelay, stallDelay time.Duration) (llm.Message, error) {
	msg := llm.Message{
		ID:        utils.GenerateID(),
		Role:      llm.RoleAssistant,
		Content:   []llm.ContentBlock{},
		Timestamp: time.Now().Unix(),
	}

	thinkingTimer := time.NewTimer(initDelay)
	defer thinkingTimer.Stop()
	timerChan := thinkingTimer.C

	for {
		select {
		case chunk, ok := <-chunkCh:
			if !ok {
				return msg, nil
			}
			if chunk.RawError != nil {
				return msg, chunk.RawError
			}

			// Re-arm so a later stall can still fire; once the signal has
			// gone out the timer stays quiet for the rest of the stream.
			if timerChan != nil {
				if !thinkingTimer.Stop() {
					<-thinkingTimer.C
				}
				if stallDelay > 0 {
					thinkingTimer.Reset(stallDelay)
				} else {
					timerChan = nil
				}
			}

			e.processChunk(chunk, &msg, sink)

			if chunk.IsFinal {
				return msg, nil
			}

		case <-timerChan:
			sink.OnSignal("thinking")
			timerChan = nil

		case <-ctx.Done():
			return msg, ctx.Err()
		}
	}
}

// processChunk folds one chunk into the message under construction.
func (e *Engine) processChunk(chunk llm.StreamChunk, msg *llm.Message, sink Sink) {
	if chunk.Error != "" {
		msg.AddContentBlock(llm.NewErrorBlock(chunk.Error))
		sink.OnBlock(llm.NewErrorBlock(chunk.Error))
	}

	for _, block := range chunk.ContentBlocks {
		msg.AddContentBlock(block)

		switch block.Type {
		case llm.BlockTypeThinking:
			if e.config().ShowThinking {
				sink.OnBlock(block)
			}
		default:
			sink.OnBlock(block)
		}
	}

	if len(chunk.ToolCalls) > 0 {
		msg.ToolCalls = append(msg.ToolCalls, chunk.ToolCalls...)
	}

	if chunk.Usage != nil {
		msg.Usage = chunk.Usage
	}
}

// resolveAndCommitToolCall guarantees that every tool call gets a correlated
// tool message in the history, even when the tool panics. Only an unknown
// tool name is fatal; everything else becomes a result payload the model can
// react to.
func (e *Engine) resolveAndCommitToolCall(ctx context.Context, tc llm.ToolCall, history *llm.ChatHistory, sink Sink) (fatal error) {
	var payload string

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "tool execution panicked", "tool", tc.Name, "panic", r)
			payload = errorPayload(fmt.Sprintf("internal panic: %v", r))
		}

		toolMsg := llm.Message{
			ID:         utils.GenerateID(),
			Role:       llm.RoleTool,
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
			Content:    []llm.ContentBlock{llm.NewTextBlock(payload)},
			Timestamp:  time.Now().Unix(),
		}
		history.Add(toolMsg)
		sink.OnSignal("tool")
	}()

	payload, fatal = e.executeToolCall(ctx, tc)
	return fatal
}

// executeToolCall resolves, confirms and runs one tool call, producing the
// JSON payload fed back to the model.
func (e *Engine) executeToolCall(ctx context.Context, tc llm.ToolCall) (string, error) {
	// Some models prefix advertised names with a namespace.
	cleanName := strings.TrimPrefix(tc.Name, "functions.")

	fn, err := e.registry.Resolve(cleanName)
	if err != nil {
		slog.ErrorContext(ctx, "unknown tool requested", "name", tc.Name)
		return errorPayload(fmt.Sprintf("unknown tool %q", tc.Name)), err
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
		slog.ErrorContext(ctx, "malformed tool arguments", "name", cleanName, "err", err)
		return errorPayload(fmt.Sprintf("%v: %v", llm.ErrMalformedToolArguments, err)), nil
	}

	if !e.confirmer.Confirm(ctx, tc) {
		slog.InfoContext(ctx, "tool call declined", "name", cleanName)
		return cancelledPayload(), nil
	}

	slog.InfoContext(ctx, "executing tool", "name", cleanName, "args", tc.Arguments)
	result, err := fn(ctx, args)
	if err != nil {
		slog.ErrorContext(ctx, "tool execution failed", "name", cleanName, "err", err)
		return errorPayload(err.Error()), nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		return errorPayload(fmt.Sprintf("unserializable tool result: %v", err)), nil
	}
	return string(data), nil
}

func errorPayload(msg string) string {
	data, _ := json.Marshal(map[string]any{
		"status": "error",
		"error":  msg,
	})
	return string(data)
}

func cancelledPayload() string {
	data, _ := json.Marshal(map[string]any{
		"status": "cancelled",
		"reason": "declined by user",
	})
	return string(data)
}

// asTransport guarantees the error carries the TransportError wrapper exactly
// once.
func asTransport(err error) error {
	if err == nil {
		return nil
	}
	var te *llm.TransportError
	if errors.As(err, &te) {
		return err
	}
	return &llm.TransportError{Err: err}
}

// SummarizeContent performs a single pass over the message to derive content
// info for logging and retry decisions.
func SummarizeContent(msg llm.Message) (hasContent, hasThinking bool, preview string) {
	var sb strings.Builder
	sb.Grow(100)

	for _, b := range msg.Content {
		if b.Type == llm.BlockTypeThinking && len(b.Text) > 0 {
			hasThinking = true
		} else if b.Type == llm.BlockTypeText && len(b.Text) > 0 {
			hasContent = true
			if sb.Len() < 100 {
				remaining := 100 - sb.Len()
				if len(b.Text) > remaining {
					sb.WriteString(b.Text[:remaining])
				} else {
					sb.WriteString(b.Text)
				}
			}
		}
	}

	preview = sb.String()
	if len(preview) >= 100 {
		preview += "..."
	}
	return
}
