package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"echoai/pkg/llm"

	jsoniter "github.com/json-iterator/go"
	"google.golang.org/genai"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client is the Google Gemini API client. Gemini delivers function calls as
// whole parts, already assembled, and keeps the system prompt out of the
// content list as a separate system instruction.
type Client struct {
	client       *genai.Client
	useThought   bool
	debugEnabled bool
	bufSize      int

	mu    sync.RWMutex
	model string
}

// NewClient creates a Gemini client for one model and API key.
func NewClient(ctx context.Context, apiKey string, model string, useThought bool) (*Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Client{
		client:     client,
		useThought: useThought,
		bufSize:    100,
		model:      model,
	}, nil
}

func (g *Client) Provider() string { return "gemini" }

func (g *Client) SetDebug(enabled bool) { g.debugEnabled = enabled }

func (g *Client) SetChannelBuffer(n int) {
	if n > 0 {
		g.bufSize = n
	}
}

// SetModel swaps the model used for subsequent requests.
func (g *Client) SetModel(model string) {
	g.mu.Lock()
	g.model = model
	g.mu.Unlock()
}

func (g *Client) Model() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.model
}

// StreamChat implements llm.LLMClient.
func (g *Client) StreamChat(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (<-chan llm.StreamChunk, error) {
	apiMessages, systemInstruction := g.convertMessages(messages)
	genaiTools := convertTools(tools)
	model := g.Model()

	chunkCh := make(chan llm.StreamChunk, g.bufSize)
	startResultCh := make(chan error, 1)

	slog.Debug("streaming", "provider", "gemini", "model", model)

	go func() {
		defer close(chunkCh)

		var thinkingCfg *genai.ThinkingConfig
		if g.useThought {
			thinkingCfg = &genai.ThinkingConfig{
				IncludeThoughts: true,
			}
		}

		iter := g.client.Models.GenerateContentStream(ctx, model, apiMessages, &genai.GenerateContentConfig{
			SystemInstruction: systemInstruction,
			Tools:             genaiTools,
			ThinkingConfig:    thinkingCfg,
		})

		started := false
		var lastUsage *llm.Usage
		callIdx := 0

		debugger := llm.NewStreamDebugger(ctx, "gemini", g.debugEnabled)
		defer debugger.Close()

		for resp, err := range iter {
			if resp != nil && g.debugEnabled {
				if raw, mErr := json.Marshal(resp); mErr == nil {
					debugger.Write(raw)
				}
			}
			if err != nil {
				// The SDK iterator may hand back data alongside the error;
				// process it before bailing.
				if resp == nil {
					slog.Error("stream error", "provider", "gemini", "err", err)
					if !started {
						startResultCh <- err
					} else {
						chunkCh <- llm.NewErrorChunk(fmt.Sprintf("stream interrupted: %v", err), &llm.TransportError{Err: err}, true)
					}
					break
				}
				slog.Error("stream error with data", "provider", "gemini", "err", err)
			}

			if !started {
				started = true
				startResultCh <- nil
			}

			if resp.UsageMetadata != nil {
				u := resp.UsageMetadata
				lastUsage = &llm.Usage{
					PromptTokens:     int(u.PromptTokenCount),
					CompletionTokens: int(u.CandidatesTokenCount),
					TotalTokens:      int(u.TotalTokenCount),
				}
			}

			for _, candidate := range resp.Candidates {
				if candidate.FinishReason != "" && lastUsage != nil {
					lastUsage.StopReason = normalizeStopReason(string(candidate.FinishReason))
				}

				if candidate.Content == nil {
					continue
				}

				var blocks []llm.ContentBlock
				var toolCalls []llm.ToolCall

				for _, part := range candidate.Content.Parts {
					if part.Text != "" {
						if part.Thought {
							blocks = append(blocks, llm.NewThinkingBlock(part.Text))
						} else {
							blocks = append(blocks, llm.NewTextBlock(part.Text))
						}
					}

					if part.FunctionCall != nil {
						argsB, _ := json.Marshal(part.FunctionCall.Args)
						// Gemini carries no call ID on the stream; synthesize
						// one from the arrival order.
						toolCalls = append(toolCalls, llm.ToolCall{
							ID:        fmt.Sprintf("call_%d", callIdx),
							Name:      part.FunctionCall.Name,
							Arguments: string(argsB),
						})
						callIdx++
					}
				}

				if len(blocks) > 0 || len(toolCalls) > 0 {
					chunkCh <- llm.StreamChunk{
						ContentBlocks: blocks,
						ToolCalls:     toolCalls,
					}
				}
			}
		}

		reason := llm.StopReasonStop
		if lastUsage != nil && lastUsage.StopReason != "" {
			reason = lastUsage.StopReason
		}
		chunkCh <- llm.NewFinalChunk(reason, lastUsage)
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

// convertTools maps neutral definitions into genai function declarations.
func convertTools(defs []llm.ToolDefinition) []*genai.Tool {
	if len(defs) == 0 {
		return nil
	}

	var fds []*genai.FunctionDeclaration
	for _, def := range defs {
		fd := &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
		}
		if len(def.Parameters) > 0 {
			properties := make(map[string]*genai.Schema, len(def.Parameters))
			var required []string
			for name, spec := range def.Parameters {
				properties[name] = &genai.Schema{
					Type:        genaiType(spec.Type),
					Description: spec.Description,
				}
				if spec.Required {
					required = append(required, name)
				}
			}
			fd.Parameters = &genai.Schema{
				Type:       genai.TypeObject,
				Properties: properties,
				Required:   required,
			}
		}
		fds = append(fds, fd)
	}

	return []*genai.Tool{{FunctionDeclarations: fds}}
}

func genaiType(t string) genai.Type {
	switch t {
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

// convertMessages converts history into GenAI contents plus the system
// instruction Gemini keeps out of band.
func (g *Client) convertMessages(messages []llm.Message) ([]*genai.Content, *genai.Content) {
	var genaiContents []*genai.Content
	var systemInstruction *genai.Content

	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			if text := msg.TextContent(); text != "" {
				systemInstruction = &genai.Content{Parts: []*genai.Part{{Text: text}}}
			}
			continue
		}

		if msg.Role == llm.RoleTool {
			// Tool results travel as user-role function responses.
			genaiContents = append(genaiContents, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{
					{
						FunctionResponse: &genai.FunctionResponse{
							Name:     msg.ToolName,
							Response: map[string]any{"result": msg.TextContent()},
						},
					},
				},
			})
			continue
		}

		role := genai.RoleUser
		if msg.Role == llm.RoleAssistant {
			role = genai.RoleModel
		}

		var parts []*genai.Part
		// Gemini requires echoing function calls before their responses.
		for _, tc := range msg.ToolCalls {
			var args map[string]any
			json.Unmarshal([]byte(tc.Arguments), &args)
			parts = append(parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					Name: tc.Name,
					Args: args,
				},
			})
		}

		for _, block := range msg.Content {
			switch block.Type {
			case llm.BlockTypeText:
				if block.Text == "" {
					continue
				}
				parts = append(parts, &genai.Part{Text: block.Text})

			case llm.BlockTypeThinking:
				if block.Text == "" {
					continue
				}
				parts = append(parts, &genai.Part{
					Text:    block.Text,
					Thought: true,
				})

			case llm.BlockTypeImage:
				if block.Source != nil && len(block.Source.Data) > 0 {
					parts = append(parts, &genai.Part{
						InlineData: &genai.Blob{
							MIMEType: block.Source.MediaType,
							Data:     block.Source.Data,
						},
					})
				}
			}
		}

		if len(parts) > 0 {
			genaiContents = append(genaiContents, &genai.Content{
				Role:  role,
				Parts: parts,
			})
		}
	}

	return genaiContents, systemInstruction
}

func normalizeStopReason(reason string) string {
	switch strings.ToUpper(reason) {
	case "STOP", "FINISH_REASON_STOP":
		return llm.StopReasonStop
	case "MAX_TOKENS", "FINISH_REASON_MAX_TOKENS":
		return llm.StopReasonLength
	default:
		return strings.ToLower(reason)
	}
}

// IsTransientError implements the llm.LLMClient interface.
func (g *Client) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := strings.ToLower(err.Error())

	if strings.Contains(errMsg, "503") || strings.Contains(errMsg, "overloaded") {
		return true
	}
	if strings.Contains(errMsg, "429") || strings.Contains(errMsg, "resource exhausted") {
		return true
	}
	if strings.Contains(errMsg, "500") || strings.Contains(errMsg, "internal error") {
		return true
	}

	return false
}
