package openaic

import (
	"testing"

	"echoai/pkg/llm"
)

func TestEmitResultSynthesizesLegacyIDs(t *testing.T) {
	client, err := NewClient("openai", "k", "gpt-3.5-turbo", "", llm.DialectFunctionCall, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	agg := llm.NewAggregator()
	deltas := []llm.Delta{
		{ToolCalls: []llm.ToolCallDelta{{Index: 0, Name: "get_current_weather", Arguments: `{"location":"Oslo"}`}}},
		{FinishReason: llm.FinishFunctionCall},
	}
	for _, d := range deltas {
		if err := agg.Feed(d); err != nil {
			t.Fatalf("feed: %v", err)
		}
	}

	ch := make(chan llm.StreamChunk, 4)
	client.emitResult(agg, ch)
	close(ch)

	var toolChunk, finalChunk *llm.StreamChunk
	for chunk := range ch {
		chunk := chunk
		if len(chunk.ToolCalls) > 0 {
			toolChunk = &chunk
		}
		if chunk.IsFinal {
			finalChunk = &chunk
		}
	}

	if toolChunk == nil {
		t.Fatal("no tool call chunk emitted")
	}
	if toolChunk.ToolCalls[0].ID != "call_0" {
		t.Fatalf("id = %q, want synthesized call_0", toolChunk.ToolCalls[0].ID)
	}
	if toolChunk.ToolCalls[0].Name != "get_current_weather" {
		t.Fatalf("name = %q", toolChunk.ToolCalls[0].Name)
	}
	if finalChunk == nil || finalChunk.FinishReason != llm.StopReasonStop {
		t.Fatalf("final chunk = %+v", finalChunk)
	}
}

func TestEmitResultKeepsModernIDs(t *testing.T) {
	client, err := NewClient("openai", "k", "gpt-4o", "", llm.DialectToolCalls, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	agg := llm.NewAggregator()
	deltas := []llm.Delta{
		{ToolCalls: []llm.ToolCallDelta{
			{Index: 0, ID: "call_abc", Name: "first", Arguments: `{}`},
			{Index: 1, ID: "call_def", Name: "second", Arguments: `{}`},
		}},
		{FinishReason: llm.FinishToolCalls},
	}
	for _, d := range deltas {
		if err := agg.Feed(d); err != nil {
			t.Fatalf("feed: %v", err)
		}
	}

	ch := make(chan llm.StreamChunk, 4)
	client.emitResult(agg, ch)
	close(ch)

	var toolCalls []llm.ToolCall
	for chunk := range ch {
		if len(chunk.ToolCalls) > 0 {
			toolCalls = chunk.ToolCalls
		}
	}

	if len(toolCalls) != 2 {
		t.Fatalf("tool calls = %d, want 2", len(toolCalls))
	}
	if toolCalls[0].ID != "call_abc" || toolCalls[1].ID != "call_def" {
		t.Fatalf("ids = %q, %q", toolCalls[0].ID, toolCalls[1].ID)
	}
}

func TestNormalizeStopReason(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"stop", llm.StopReasonStop},
		{"tool_calls", llm.StopReasonStop},
		{"function_call", llm.StopReasonStop},
		{"", llm.StopReasonStop},
		{"length", llm.StopReasonLength},
		{"content_filter", "content_filter"},
	}
	for _, tt := range tests {
		if got := normalizeStopReason(tt.in); got != tt.want {
			t.Errorf("normalizeStopReason(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsTransientError(t *testing.T) {
	client, err := NewClient("openai", "k", "gpt-4o", "", llm.DialectToolCalls, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	tests := []struct {
		msg  string
		want bool
	}{
		{"429 Too Many Requests", true},
		{"rate limit exceeded", true},
		{"503 Service Unavailable", true},
		{"model is overloaded", true},
		{"request timeout", true},
		{"401 Unauthorized", false},
		{"invalid request", false},
	}
	for _, tt := range tests {
		if got := client.IsTransientError(errorString(tt.msg)); got != tt.want {
			t.Errorf("IsTransientError(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

type errorString string

func (e errorString) Error() string { return string(e) }
