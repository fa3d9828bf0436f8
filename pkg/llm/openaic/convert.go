package openaic

import (
	"encoding/base64"
	"fmt"
	"sort"

	"echoai/pkg/llm"

	openai "github.com/openai/openai-go/v3"
)

// normalizeChunk flattens one raw SSE chunk into the dialect-free Delta shape.
// Under the legacy dialect function_call fragments are pinned to index 0 with
// no id; the aggregator keys them positionally.
func normalizeChunk(chunk openai.ChatCompletionChunk, dialect string) llm.Delta {
	d := llm.Delta{}

	if chunk.Usage.TotalTokens > 0 {
		d.Usage = &llm.Usage{
			PromptTokens:     int(chunk.Usage.PromptTokens),
			CompletionTokens: int(chunk.Usage.CompletionTokens),
			TotalTokens:      int(chunk.Usage.TotalTokens),
		}
	}

	if len(chunk.Choices) == 0 {
		return d
	}
	choice := chunk.Choices[0]

	d.Content = choice.Delta.Content
	d.FinishReason = choice.FinishReason
	d.Thinking = extractThinking(chunk.RawJSON())

	switch dialect {
	case llm.DialectFunctionCall:
		fc := choice.Delta.FunctionCall
		if fc.Name != "" || fc.Arguments != "" {
			d.ToolCalls = append(d.ToolCalls, llm.ToolCallDelta{
				Index:     0,
				Name:      fc.Name,
				Arguments: fc.Arguments,
			})
		}
	default:
		for _, tc := range choice.Delta.ToolCalls {
			d.ToolCalls = append(d.ToolCalls, llm.ToolCallDelta{
				Index:     int(tc.Index),
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
	}

	return d
}

// normalizeCompletion maps a non-streaming response into a single Delta so
// both request modes share one aggregation path.
func normalizeCompletion(completion *openai.ChatCompletion, dialect string) llm.Delta {
	d := llm.Delta{}

	if completion.Usage.TotalTokens > 0 {
		d.Usage = &llm.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		}
	}

	if len(completion.Choices) == 0 {
		return d
	}
	choice := completion.Choices[0]

	d.Content = choice.Message.Content
	d.FinishReason = choice.FinishReason

	switch dialect {
	case llm.DialectFunctionCall:
		fc := choice.Message.FunctionCall
		if fc.Name != "" {
			d.ToolCalls = append(d.ToolCalls, llm.ToolCallDelta{
				Index:     0,
				Name:      fc.Name,
				Arguments: fc.Arguments,
			})
		}
	default:
		for i, tc := range choice.Message.ToolCalls {
			d.ToolCalls = append(d.ToolCalls, llm.ToolCallDelta{
				Index:     i,
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
	}

	return d
}

// extractThinking pulls reasoning deltas out of the raw chunk JSON. DeepSeek
// and several OpenAI-compatible gateways put these in nonstandard fields the
// SDK does not model.
func extractThinking(raw string) string {
	if raw == "" {
		return ""
	}
	var shape struct {
		Choices []struct {
			Delta struct {
				Reasoning        string `json:"reasoning"`
				ReasoningContent string `json:"reasoning_content"`
				Thinking         string `json:"thinking"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(raw), &shape); err != nil || len(shape.Choices) == 0 {
		return ""
	}
	delta := shape.Choices[0].Delta
	if delta.Reasoning != "" {
		return delta.Reasoning
	}
	if delta.ReasoningContent != "" {
		return delta.ReasoningContent
	}
	return delta.Thinking
}

// convertMessages maps conversation history to the wire format of the active
// dialect. Error blocks stay local; they are never sent back to the model.
func (c *Client) convertMessages(messages []llm.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			out = append(out, openai.SystemMessage(m.TextContent()))

		case llm.RoleUser:
			if m.HasImages() {
				var parts []openai.ChatCompletionContentPartUnionParam
				for _, block := range m.Content {
					switch block.Type {
					case llm.BlockTypeText:
						parts = append(parts, openai.TextContentPart(block.Text))
					case llm.BlockTypeImage:
						if block.Source != nil {
							imgURL := block.Source.URL
							if block.Source.Type == "base64" {
								imgURL = fmt.Sprintf("data:%s;base64,%s",
									block.Source.MediaType, base64.StdEncoding.EncodeToString(block.Source.Data))
							}
							parts = append(parts, openai.ImageContentPart(
								openai.ChatCompletionContentPartImageImageURLParam{URL: imgURL}))
						}
					}
				}
				out = append(out, openai.UserMessage(parts))
			} else {
				out = append(out, openai.UserMessage(m.TextContent()))
			}

		case llm.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.TextContent()))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if text := m.TextContent(); text != "" {
				assistant.Content.OfString = openai.String(text)
			}
			if c.dialect == llm.DialectFunctionCall {
				// Legacy wire format carries a single function_call echo.
				assistant.FunctionCall = openai.ChatCompletionAssistantMessageParamFunctionCall{
					Name:      m.ToolCalls[0].Name,
					Arguments: m.ToolCalls[0].Arguments,
				}
			} else {
				for _, tc := range m.ToolCalls {
					assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
						OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
							ID: tc.ID,
							Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
								Name:      tc.Name,
								Arguments: tc.Arguments,
							},
						},
					})
				}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})

		case llm.RoleTool:
			if c.dialect == llm.DialectFunctionCall {
				out = append(out, openai.ChatCompletionMessageParamUnion{
					OfFunction: &openai.ChatCompletionFunctionMessageParam{
						Name:    m.ToolName,
						Content: openai.String(m.TextContent()),
					},
				})
			} else {
				out = append(out, openai.ToolMessage(m.TextContent(), m.ToolCallID))
			}
		}
	}

	return out
}

// schemaParameters builds the JSON-schema object shared by both dialects.
// Parameter names are sorted so the advertised schema is stable across runs.
func schemaParameters(def llm.ToolDefinition) map[string]any {
	names := make([]string, 0, len(def.Parameters))
	for name := range def.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	properties := make(map[string]any, len(def.Parameters))
	required := make([]string, 0, len(def.Parameters))
	for _, name := range names {
		spec := def.Parameters[name]
		properties[name] = map[string]any{
			"type":        spec.Type,
			"description": spec.Description,
		}
		if spec.Required {
			required = append(required, name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// convertTools maps definitions to the modern tools field.
func convertTools(defs []llm.ToolDefinition) []openai.ChatCompletionToolUnionParam {
	tools := make([]openai.ChatCompletionToolUnionParam, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, openai.ChatCompletionFunctionTool(
			openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  openai.FunctionParameters(schemaParameters(def)),
			},
		))
	}
	return tools
}

// convertLegacyFunctions maps definitions to the legacy functions field.
func convertLegacyFunctions(defs []llm.ToolDefinition) []map[string]any {
	functions := make([]map[string]any, 0, len(defs))
	for _, def := range defs {
		functions = append(functions, map[string]any{
			"name":        def.Name,
			"description": def.Description,
			"parameters":  schemaParameters(def),
		})
	}
	return functions
}
