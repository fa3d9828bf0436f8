package ollamalm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"echoai/pkg/llm"

	jsoniter "github.com/json-iterator/go"
	"github.com/ollama/ollama/api"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client talks to a local Ollama daemon through its native API. Unlike the
// OpenAI wire format, Ollama delivers tool calls whole per chunk, so no
// fragment reassembly is needed here.
type Client struct {
	client       *api.Client
	options      map[string]any
	debugEnabled bool
	bufSize      int

	mu    sync.RWMutex
	model string
}

// NewClient creates an Ollama client. An empty baseURL falls back to the
// OLLAMA_HOST environment.
func NewClient(model string, baseURL string, options map[string]any) (*Client, error) {
	var client *api.Client
	var err error

	// Local model loads can take minutes; the transport must not impose
	// response timeouts of its own.
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 0,
	}

	customClient := &http.Client{
		Transport: &jsonFixingRoundTripper{proxied: transport},
		Timeout:   0,
	}

	if baseURL != "" {
		u, parseErr := url.Parse(baseURL)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid base URL: %w", parseErr)
		}
		client = api.NewClient(u, customClient)
	} else {
		client, err = api.ClientFromEnvironment()
	}
	if err != nil {
		return nil, err
	}

	slog.Info("Ollama client initialized", "model", model, "base_url", baseURL)

	return &Client{
		client:  client,
		options: options,
		bufSize: 100,
		model:   model,
	}, nil
}

func (o *Client) Provider() string { return "ollama" }

func (o *Client) SetDebug(enabled bool) { o.debugEnabled = enabled }

func (o *Client) SetChannelBuffer(n int) {
	if n > 0 {
		o.bufSize = n
	}
}

// SetModel swaps the model used for subsequent requests.
func (o *Client) SetModel(model string) {
	o.mu.Lock()
	o.model = model
	o.mu.Unlock()
}

func (o *Client) Model() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.model
}

func (o *Client) StreamChat(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (<-chan llm.StreamChunk, error) {
	apiMessages := o.convertMessages(messages)
	model := o.Model()

	chunkCh := make(chan llm.StreamChunk, o.bufSize)
	startResultCh := make(chan error) // Unbuffered to detect if reader is present

	go func() {
		defer close(chunkCh)

		ollamaTools := convertTools(tools)

		streamVal := true
		req := &api.ChatRequest{
			Model:    model,
			Messages: apiMessages,
			Options:  o.options,
			Tools:    ollamaTools,
			Stream:   &streamVal,
		}

		started := false
		debugger := llm.NewStreamDebugger(ctx, "ollama", o.debugEnabled)
		defer debugger.Close()

		err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			if o.debugEnabled {
				if raw, err := json.Marshal(resp); err == nil {
					debugger.Write(raw)
				}
			}

			if !started {
				started = true
				select {
				case startResultCh <- nil:
				default:
				}
			}

			if resp.Message.Thinking != "" {
				chunkCh <- llm.NewThinkingChunk(resp.Message.Thinking)
			}
			if resp.Message.Content != "" {
				chunkCh <- llm.NewTextChunk(resp.Message.Content)
			}

			if len(resp.Message.ToolCalls) > 0 {
				var toolCalls []llm.ToolCall
				for i, tc := range resp.Message.ToolCalls {
					argsB, err := json.Marshal(tc.Function.Arguments)
					if err != nil {
						slog.Warn("failed to marshal tool call arguments", "provider", "ollama", "err", err)
						argsB = []byte("{}")
					}
					id := tc.ID
					if id == "" {
						id = fmt.Sprintf("call_%d", i)
					}
					toolCalls = append(toolCalls, llm.ToolCall{
						ID:        id,
						Name:      tc.Function.Name,
						Arguments: string(argsB),
					})
				}
				chunkCh <- llm.StreamChunk{ToolCalls: toolCalls}
			}

			if resp.Done {
				usage := &llm.Usage{
					PromptTokens:     resp.PromptEvalCount,
					CompletionTokens: resp.EvalCount,
					TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
					StopReason:       resp.DoneReason,
				}
				if resp.DoneReason == llm.StopReasonLength {
					slog.Warn("response truncated due to length", "provider", "ollama")
				}
				chunkCh <- llm.NewFinalChunk(resp.DoneReason, usage)
			}

			return nil
		})

		if err != nil {
			slog.Error("stream error", "provider", "ollama", "model", model, "err", err)
			if !started {
				select {
				case startResultCh <- err:
				default:
					chunkCh <- llm.NewErrorChunk(fmt.Sprintf("error loading model %s: %v", model, err), &llm.TransportError{Err: err}, true)
				}
			} else {
				chunkCh <- llm.NewErrorChunk(fmt.Sprintf("stream interrupted: %v", err), &llm.TransportError{Err: err}, true)
			}
		} else if !started {
			select {
			case startResultCh <- nil:
			default:
			}
		}
	}()

	select {
	case err := <-startResultCh:
		if err != nil {
			return nil, err
		}
		return chunkCh, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// convertTools maps neutral definitions into api.Tool through a JSON
// round-trip of the wire shape, sidestepping the SDK's nested schema types.
func convertTools(defs []llm.ToolDefinition) []api.Tool {
	if len(defs) == 0 {
		return nil
	}

	wire := make([]map[string]any, 0, len(defs))
	for _, def := range defs {
		properties := make(map[string]any, len(def.Parameters))
		var required []string
		for name, spec := range def.Parameters {
			properties[name] = map[string]any{
				"type":        spec.Type,
				"description": spec.Description,
			}
			if spec.Required {
				required = append(required, name)
			}
		}
		wire = append(wire, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        def.Name,
				"description": def.Description,
				"parameters": map[string]any{
					"type":       "object",
					"properties": properties,
					"required":   required,
				},
			},
		})
	}

	rawB, err := json.Marshal(wire)
	if err != nil {
		slog.Error("failed to marshal tools", "provider", "ollama", "err", err)
		return nil
	}
	var ollamaTools []api.Tool
	if err := json.Unmarshal(rawB, &ollamaTools); err != nil {
		slog.Error("failed to unmarshal to api.Tool", "provider", "ollama", "err", err)
		return nil
	}
	return ollamaTools
}

// convertMessages converts history to Ollama API format.
func (o *Client) convertMessages(messages []llm.Message) []api.Message {
	var ollamaMsgs []api.Message

	for _, m := range messages {
		var textContent strings.Builder
		var images []api.ImageData

		for _, block := range m.Content {
			switch block.Type {
			case llm.BlockTypeText:
				textContent.WriteString(block.Text)
			case llm.BlockTypeImage:
				if block.Source != nil && len(block.Source.Data) > 0 {
					images = append(images, block.Source.Data)
				}
			}
		}

		msg := api.Message{
			Role:    m.Role,
			Content: textContent.String(),
		}

		if m.Role == llm.RoleAssistant && len(m.ToolCalls) > 0 {
			var ollamaToolCalls []api.ToolCall
			for _, tc := range m.ToolCalls {
				var apiArgs api.ToolCallFunctionArguments
				if err := json.Unmarshal([]byte(tc.Arguments), &apiArgs); err != nil {
					slog.Warn("failed to convert tool arguments for history", "provider", "ollama", "err", err)
				}
				ollamaToolCalls = append(ollamaToolCalls, api.ToolCall{
					ID: tc.ID,
					Function: api.ToolCallFunction{
						Name:      tc.Name,
						Arguments: apiArgs,
					},
				})
			}
			msg.ToolCalls = ollamaToolCalls
		}

		if m.Role == llm.RoleTool {
			msg.ToolCallID = m.ToolCallID
		}

		if len(images) > 0 {
			msg.Images = images
		}

		ollamaMsgs = append(ollamaMsgs, msg)
	}

	return ollamaMsgs
}

// IsTransientError implements the llm.LLMClient interface.
func (o *Client) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := strings.ToLower(err.Error())

	if strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "connection reset") {
		return true
	}
	if strings.Contains(errMsg, "overloaded") {
		return true
	}

	return false
}

//----------------------------------------------------------------
// jsonFixingRoundTripper - fixes illegal JSON escapes in responses
//----------------------------------------------------------------

// jsonFixingRoundTripper intercepts responses and strips illegal escapes
// (e.g. \$) that some models emit inside streamed JSON.
type jsonFixingRoundTripper struct {
	proxied http.RoundTripper
}

func (j *jsonFixingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := j.proxied.RoundTrip(req)
	if err != nil {
		return resp, err
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") ||
		strings.Contains(resp.Header.Get("Content-Type"), "application/x-ndjson") {
		resp.Body = &jsonFixingReadCloser{body: resp.Body}
	}
	return resp, nil
}

type jsonFixingReadCloser struct {
	body io.ReadCloser
}

var illegalEscapeRegex = regexp.MustCompile(`\\([^\/\\bfnrtu"])`)

func (j *jsonFixingReadCloser) Read(p []byte) (n int, err error) {
	n, err = j.body.Read(p)
	if n > 0 {
		content := string(p[:n])
		fixed := illegalEscapeRegex.ReplaceAllString(content, "$1")
		if len(fixed) < len(content) {
			// Only single characters are removed, so rewriting in place is
			// safe at the byte level.
			copy(p, []byte(fixed))
			n = len(fixed)
		}
	}
	return n, err
}

func (j *jsonFixingReadCloser) Close() error {
	return j.body.Close()
}
