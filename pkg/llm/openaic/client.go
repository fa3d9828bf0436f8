package openaic

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"echoai/pkg/llm"

	jsoniter "github.com/json-iterator/go"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client drives any OpenAI-compatible chat-completions endpoint. The dialect
// tag selects between the modern multi tool-call wire format and the legacy
// single function-call format; everything past the adapter is dialect-free.
type Client struct {
	client       openai.Client
	provider     string
	dialect      string
	stream       bool
	toolsEnabled bool
	debugEnabled bool
	bufSize      int
	options      map[string]any

	mu    sync.RWMutex
	model string
}

// NewClient builds a client for one endpoint/model pair.
func NewClient(provider, apiKey, model, baseURL, dialect string, options map[string]any) (*Client, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if dialect == "" {
		dialect = llm.DialectToolCalls
	}
	if dialect != llm.DialectToolCalls && dialect != llm.DialectFunctionCall {
		return nil, fmt.Errorf("unknown dialect %q", dialect)
	}

	return &Client{
		client:       openai.NewClient(opts...),
		provider:     provider,
		dialect:      dialect,
		stream:       true,
		toolsEnabled: true,
		bufSize:      100,
		options:      options,
		model:        model,
	}, nil
}

func (c *Client) Provider() string { return c.provider }

// SetStreaming toggles SSE streaming. When off, the single response is
// normalized through the same delta path as a stream of one.
func (c *Client) SetStreaming(enabled bool) { c.stream = enabled }

// SetToolsEnabled toggles tool advertisement on requests.
func (c *Client) SetToolsEnabled(enabled bool) { c.toolsEnabled = enabled }

func (c *Client) SetDebug(enabled bool) { c.debugEnabled = enabled }

func (c *Client) SetChannelBuffer(n int) {
	if n > 0 {
		c.bufSize = n
	}
}

// SetModel swaps the model used for subsequent requests.
func (c *Client) SetModel(model string) {
	c.mu.Lock()
	c.model = model
	c.mu.Unlock()
}

func (c *Client) Model() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model
}

func (c *Client) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())

	// Transient: network-level issues
	if strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout") {
		return true
	}

	// Transient: server-side temporary failures
	if strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "500 internal") ||
		strings.Contains(msg, "502 bad gateway") ||
		strings.Contains(msg, "503 service unavailable") ||
		strings.Contains(msg, "overloaded") {
		return true
	}

	// Everything else (400 Bad Request, 401 Unauthorized, etc.) is non-transient
	return false
}

func (c *Client) StreamChat(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (<-chan llm.StreamChunk, error) {
	chunkCh := make(chan llm.StreamChunk, c.bufSize)

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.Model()),
		Messages: c.convertMessages(messages),
	}

	opts := []option.RequestOption{}

	if t, ok := c.options["temperature"].(float64); ok {
		opts = append(opts, option.WithJSONSet("temperature", t))
	}
	if p, ok := c.options["top_p"].(float64); ok {
		opts = append(opts, option.WithJSONSet("top_p", p))
	}
	if maxTok, ok := c.options["max_tokens"].(float64); ok {
		opts = append(opts, option.WithJSONSet("max_completion_tokens", int(maxTok)))
	}

	if c.toolsEnabled && len(tools) > 0 {
		switch c.dialect {
		case llm.DialectFunctionCall:
			// Legacy endpoints reject the tools field; they take functions
			// plus function_call instead.
			opts = append(opts,
				option.WithJSONSet("functions", convertLegacyFunctions(tools)),
				option.WithJSONSet("function_call", "auto"),
			)
		default:
			params.Tools = convertTools(tools)
		}
	}

	if c.stream {
		params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		}
		go c.runStreaming(ctx, params, opts, chunkCh)
	} else {
		go c.runBlocking(ctx, params, opts, chunkCh)
	}

	return chunkCh, nil
}

// runStreaming consumes the SSE stream, forwarding text deltas immediately
// and reassembling tool calls through the aggregator.
func (c *Client) runStreaming(ctx context.Context, params openai.ChatCompletionNewParams, opts []option.RequestOption, chunkCh chan<- llm.StreamChunk) {
	defer close(chunkCh)

	stream := c.client.Chat.Completions.NewStreaming(ctx, params, opts...)
	defer stream.Close()

	debugger := llm.NewStreamDebugger(ctx, c.provider, c.debugEnabled)
	defer debugger.Close()

	agg := llm.NewAggregator()

	for stream.Next() {
		chunk := stream.Current()
		debugger.WriteString(chunk.RawJSON())

		delta := normalizeChunk(chunk, c.dialect)

		if delta.Content != "" {
			chunkCh <- llm.NewTextChunk(delta.Content)
		}
		if delta.Thinking != "" {
			chunkCh <- llm.NewThinkingChunk(delta.Thinking)
		}
		if err := agg.Feed(delta); err != nil {
			// A post-finish chunk; nothing left to accumulate.
			break
		}
	}

	if err := stream.Err(); err != nil {
		agg.Fail(err)
		chunkCh <- llm.NewErrorChunk(fmt.Sprintf("stream error: %v", err), agg.Err(), true)
		return
	}

	c.emitResult(agg, chunkCh)
}

// runBlocking issues a non-streaming request and pushes the whole response
// through the same normalization path as a stream of one delta.
func (c *Client) runBlocking(ctx context.Context, params openai.ChatCompletionNewParams, opts []option.RequestOption, chunkCh chan<- llm.StreamChunk) {
	defer close(chunkCh)

	debugger := llm.NewStreamDebugger(ctx, c.provider, c.debugEnabled)
	defer debugger.Close()

	completion, err := c.client.Chat.Completions.New(ctx, params, opts...)
	if err != nil {
		chunkCh <- llm.NewErrorChunk(fmt.Sprintf("request error: %v", err), &llm.TransportError{Err: err}, true)
		return
	}
	debugger.WriteString(completion.RawJSON())

	agg := llm.NewAggregator()
	delta := normalizeCompletion(completion, c.dialect)

	if delta.Content != "" {
		chunkCh <- llm.NewTextChunk(delta.Content)
	}
	agg.Feed(delta)

	c.emitResult(agg, chunkCh)
}

// emitResult closes out a finished aggregation: tool calls first when
// present, then the final chunk.
func (c *Client) emitResult(agg *llm.Aggregator, chunkCh chan<- llm.StreamChunk) {
	agg.Finish()

	if agg.State() == llm.AggToolCallsReady {
		calls := agg.Calls()
		toolCalls := make([]llm.ToolCall, 0, len(calls))
		for i, call := range calls {
			tc := call.ToolCall
			if tc.ID == "" {
				// Legacy deltas carry no correlation id; synthesize a
				// deterministic placeholder from the open order.
				tc.ID = fmt.Sprintf("call_%d", i)
			}
			toolCalls = append(toolCalls, tc)
		}
		chunkCh <- llm.StreamChunk{ToolCalls: toolCalls}
	}

	usage := agg.Usage()
	reason := normalizeStopReason(agg.FinishReason())
	if usage != nil && usage.StopReason == "" {
		usage.StopReason = reason
	}
	chunkCh <- llm.NewFinalChunk(reason, usage)
}

// normalizeStopReason collapses dialect finish reasons into the shared set.
func normalizeStopReason(reason string) string {
	switch strings.ToLower(reason) {
	case "", "stop", "tool_calls", "function_call":
		return llm.StopReasonStop
	case "length":
		return llm.StopReasonLength
	default:
		return reason
	}
}
