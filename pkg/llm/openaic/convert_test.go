package openaic

import (
	"testing"

	"echoai/pkg/llm"

	openai "github.com/openai/openai-go/v3"
)

// parseChunk builds a ChatCompletionChunk from wire JSON so normalization is
// tested against what actually arrives on the SSE stream.
func parseChunk(t *testing.T, raw string) openai.ChatCompletionChunk {
	t.Helper()
	var chunk openai.ChatCompletionChunk
	if err := chunk.UnmarshalJSON([]byte(raw)); err != nil {
		t.Fatalf("parse chunk: %v", err)
	}
	return chunk
}

func TestNormalizeChunkModernDialect(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want llm.Delta
	}{
		{
			name: "content delta",
			raw:  `{"choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
			want: llm.Delta{Content: "Hel"},
		},
		{
			name: "tool call opening fragment",
			raw:  `{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_abc","function":{"name":"get_current_weather","arguments":""}}]}}]}`,
			want: llm.Delta{ToolCalls: []llm.ToolCallDelta{{Index: 0, ID: "call_abc", Name: "get_current_weather"}}},
		},
		{
			name: "argument continuation without id",
			raw:  `{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"location\":"}}]}}]}`,
			want: llm.Delta{ToolCalls: []llm.ToolCallDelta{{Index: 0, Arguments: `{"location":`}}},
		},
		{
			name: "parallel call second index",
			raw:  `{"choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_def","function":{"name":"run_command","arguments":""}}]}}]}`,
			want: llm.Delta{ToolCalls: []llm.ToolCallDelta{{Index: 1, ID: "call_def", Name: "run_command"}}},
		},
		{
			name: "tool finish",
			raw:  `{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
			want: llm.Delta{FinishReason: llm.FinishToolCalls},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeChunk(parseChunk(t, tt.raw), llm.DialectToolCalls)

			if got.Content != tt.want.Content {
				t.Errorf("content = %q, want %q", got.Content, tt.want.Content)
			}
			if got.FinishReason != tt.want.FinishReason {
				t.Errorf("finish = %q, want %q", got.FinishReason, tt.want.FinishReason)
			}
			if len(got.ToolCalls) != len(tt.want.ToolCalls) {
				t.Fatalf("tool calls len = %d, want %d", len(got.ToolCalls), len(tt.want.ToolCalls))
			}
			for i, tc := range got.ToolCalls {
				if tc != tt.want.ToolCalls[i] {
					t.Errorf("tool call %d = %+v, want %+v", i, tc, tt.want.ToolCalls[i])
				}
			}
		})
	}
}

func TestNormalizeChunkLegacyDialect(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want llm.Delta
	}{
		{
			name: "function call opening",
			raw:  `{"choices":[{"index":0,"delta":{"function_call":{"name":"get_current_weather","arguments":""}}}]}`,
			want: llm.Delta{ToolCalls: []llm.ToolCallDelta{{Index: 0, Name: "get_current_weather"}}},
		},
		{
			name: "argument fragment pinned to index zero",
			raw:  `{"choices":[{"index":0,"delta":{"function_call":{"arguments":"{\"location\":\"Boston\"}"}}}]}`,
			want: llm.Delta{ToolCalls: []llm.ToolCallDelta{{Index: 0, Arguments: `{"location":"Boston"}`}}},
		},
		{
			name: "legacy finish reason",
			raw:  `{"choices":[{"index":0,"delta":{},"finish_reason":"function_call"}]}`,
			want: llm.Delta{FinishReason: llm.FinishFunctionCall},
		},
		{
			name: "empty delta produces no fragments",
			raw:  `{"choices":[{"index":0,"delta":{}}]}`,
			want: llm.Delta{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeChunk(parseChunk(t, tt.raw), llm.DialectFunctionCall)

			if got.FinishReason != tt.want.FinishReason {
				t.Errorf("finish = %q, want %q", got.FinishReason, tt.want.FinishReason)
			}
			if len(got.ToolCalls) != len(tt.want.ToolCalls) {
				t.Fatalf("tool calls len = %d, want %d", len(got.ToolCalls), len(tt.want.ToolCalls))
			}
			for i, tc := range got.ToolCalls {
				if tc.ID != "" {
					t.Errorf("legacy fragment %d carries id %q", i, tc.ID)
				}
				if tc != tt.want.ToolCalls[i] {
					t.Errorf("tool call %d = %+v, want %+v", i, tc, tt.want.ToolCalls[i])
				}
			}
		})
	}
}

func TestNormalizeChunkThinkingFields(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"reasoning", `{"choices":[{"index":0,"delta":{"reasoning":"step one"}}]}`, "step one"},
		{"reasoning_content", `{"choices":[{"index":0,"delta":{"reasoning_content":"step two"}}]}`, "step two"},
		{"thinking", `{"choices":[{"index":0,"delta":{"thinking":"step three"}}]}`, "step three"},
		{"absent", `{"choices":[{"index":0,"delta":{"content":"plain"}}]}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeChunk(parseChunk(t, tt.raw), llm.DialectToolCalls)
			if got.Thinking != tt.want {
				t.Errorf("thinking = %q, want %q", got.Thinking, tt.want)
			}
		})
	}
}

func TestNormalizeChunkUsage(t *testing.T) {
	raw := `{"choices":[],"usage":{"prompt_tokens":15,"completion_tokens":7,"total_tokens":22}}`
	got := normalizeChunk(parseChunk(t, raw), llm.DialectToolCalls)

	if got.Usage == nil {
		t.Fatal("usage not extracted")
	}
	if got.Usage.PromptTokens != 15 || got.Usage.CompletionTokens != 7 || got.Usage.TotalTokens != 22 {
		t.Fatalf("usage = %+v", got.Usage)
	}
}

// TestStreamReassemblyThroughAggregator runs realistic chunk sequences for
// both dialects through normalization and aggregation end to end.
func TestStreamReassemblyThroughAggregator(t *testing.T) {
	tests := []struct {
		name     string
		dialect  string
		raws     []string
		wantName string
		wantArgs string
		wantID   string
	}{
		{
			name:    "modern fragmented arguments",
			dialect: llm.DialectToolCalls,
			raws: []string{
				`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"get_current_weather","arguments":""}}]}}]}`,
				`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"location\""}}]}}]}`,
				`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":":\"Paris\"}"}}]}}]}`,
				`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
			},
			wantName: "get_current_weather",
			wantArgs: `{"location":"Paris"}`,
			wantID:   "call_1",
		},
		{
			name:    "legacy fragmented arguments",
			dialect: llm.DialectFunctionCall,
			raws: []string{
				`{"choices":[{"index":0,"delta":{"function_call":{"name":"run_command","arguments":""}}}]}`,
				`{"choices":[{"index":0,"delta":{"function_call":{"arguments":"{\"command\""}}}]}`,
				`{"choices":[{"index":0,"delta":{"function_call":{"arguments":":\"uptime\"}"}}}]}`,
				`{"choices":[{"index":0,"delta":{},"finish_reason":"function_call"}]}`,
			},
			wantName: "run_command",
			wantArgs: `{"command":"uptime"}`,
			wantID:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := llm.NewAggregator()
			for i, raw := range tt.raws {
				if err := agg.Feed(normalizeChunk(parseChunk(t, raw), tt.dialect)); err != nil {
					t.Fatalf("feed %d: %v", i, err)
				}
			}

			if agg.State() != llm.AggToolCallsReady {
				t.Fatalf("state = %q", agg.State())
			}
			calls := agg.Calls()
			if len(calls) != 1 {
				t.Fatalf("calls len = %d", len(calls))
			}
			if calls[0].Name != tt.wantName {
				t.Errorf("name = %q, want %q", calls[0].Name, tt.wantName)
			}
			if calls[0].Arguments != tt.wantArgs {
				t.Errorf("arguments = %q, want %q", calls[0].Arguments, tt.wantArgs)
			}
			if calls[0].ID != tt.wantID {
				t.Errorf("id = %q, want %q", calls[0].ID, tt.wantID)
			}
			if calls[0].Err != nil {
				t.Errorf("unexpected call error: %v", calls[0].Err)
			}
		})
	}
}

func TestSchemaParameters(t *testing.T) {
	def := llm.ToolDefinition{
		Name: "get_current_weather",
		Parameters: map[string]llm.ParamSpec{
			"unit":     {Type: "string", Description: "unit"},
			"location": {Type: "string", Description: "city", Required: true},
		},
	}

	schema := schemaParameters(def)

	if schema["type"] != "object" {
		t.Fatalf("type = %v", schema["type"])
	}
	props := schema["properties"].(map[string]any)
	if len(props) != 2 {
		t.Fatalf("properties len = %d", len(props))
	}
	loc := props["location"].(map[string]any)
	if loc["type"] != "string" || loc["description"] != "city" {
		t.Fatalf("location schema = %+v", loc)
	}
	required := schema["required"].([]string)
	if len(required) != 1 || required[0] != "location" {
		t.Fatalf("required = %v", required)
	}
}

func TestSchemaParametersNoRequired(t *testing.T) {
	schema := schemaParameters(llm.ToolDefinition{
		Name:       "ping",
		Parameters: map[string]llm.ParamSpec{"host": {Type: "string"}},
	})
	if _, ok := schema["required"]; ok {
		t.Fatal("required key present with no required params")
	}
}

func TestConvertLegacyFunctions(t *testing.T) {
	defs := []llm.ToolDefinition{
		{Name: "a", Description: "first"},
		{Name: "b", Description: "second"},
	}

	functions := convertLegacyFunctions(defs)
	if len(functions) != 2 {
		t.Fatalf("len = %d", len(functions))
	}
	if functions[0]["name"] != "a" || functions[1]["name"] != "b" {
		t.Fatalf("functions = %+v", functions)
	}
	if _, ok := functions[0]["parameters"].(map[string]any); !ok {
		t.Fatal("parameters schema missing")
	}
}

func TestConvertMessagesToolResults(t *testing.T) {
	history := []llm.Message{
		llm.NewSystemMessage("sys"),
		llm.NewUserMessage("weather?"),
		{
			Role:      llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "get_current_weather", Arguments: `{"location":"Oslo"}`}},
		},
		{
			Role:       llm.RoleTool,
			ToolCallID: "call_1",
			ToolName:   "get_current_weather",
			Content:    []llm.ContentBlock{llm.NewTextBlock(`{"temperature":72}`)},
		},
	}

	t.Run("modern dialect", func(t *testing.T) {
		client, err := NewClient("openai", "test-key", "gpt-4o", "", llm.DialectToolCalls, nil)
		if err != nil {
			t.Fatalf("new client: %v", err)
		}
		out := client.convertMessages(history)
		if len(out) != 4 {
			t.Fatalf("len = %d", len(out))
		}
		assistant := out[2].OfAssistant
		if assistant == nil || len(assistant.ToolCalls) != 1 {
			t.Fatalf("assistant message = %+v", out[2])
		}
		if assistant.ToolCalls[0].OfFunction.ID != "call_1" {
			t.Fatalf("tool call id = %q", assistant.ToolCalls[0].OfFunction.ID)
		}
		if out[3].OfTool == nil {
			t.Fatalf("tool message = %+v", out[3])
		}
	})

	t.Run("legacy dialect", func(t *testing.T) {
		client, err := NewClient("openai", "test-key", "gpt-3.5-turbo", "", llm.DialectFunctionCall, nil)
		if err != nil {
			t.Fatalf("new client: %v", err)
		}
		out := client.convertMessages(history)
		assistant := out[2].OfAssistant
		if assistant == nil || assistant.FunctionCall.Name != "get_current_weather" {
			t.Fatalf("assistant message = %+v", out[2])
		}
		if len(assistant.ToolCalls) != 0 {
			t.Fatal("legacy dialect must not emit tool_calls")
		}
		fn := out[3].OfFunction
		if fn == nil || fn.Name != "get_current_weather" {
			t.Fatalf("function message = %+v", out[3])
		}
	})
}

func TestNewClientRejectsUnknownDialect(t *testing.T) {
	if _, err := NewClient("openai", "k", "m", "", "bogus", nil); err == nil {
		t.Fatal("expected error for unknown dialect")
	}
}
