package llm

import (
	"errors"
	"testing"
)

func TestAggregatorTextOnly(t *testing.T) {
	agg := NewAggregator()

	for _, piece := range []string{"Hel", "lo ", "wor", "ld"} {
		if err := agg.Feed(Delta{Content: piece}); err != nil {
			t.Fatalf("feed: %v", err)
		}
	}
	if err := agg.Feed(Delta{FinishReason: FinishStop}); err != nil {
		t.Fatalf("feed finish: %v", err)
	}

	if agg.State() != AggTextReady {
		t.Fatalf("state = %q, want %q", agg.State(), AggTextReady)
	}
	if agg.Text() != "Hello world" {
		t.Fatalf("text = %q", agg.Text())
	}
	if agg.FinishReason() != FinishStop {
		t.Fatalf("finish reason = %q", agg.FinishReason())
	}
}

func TestAggregatorToolCallFragments(t *testing.T) {
	tests := []struct {
		name     string
		deltas   []Delta
		wantArgs []string
		wantIDs  []string
		wantErrs []bool
	}{
		{
			name: "single call split across fragments",
			deltas: []Delta{
				{ToolCalls: []ToolCallDelta{{Index: 0, ID: "call_a", Name: "get_current_weather"}}},
				{ToolCalls: []ToolCallDelta{{Index: 0, Arguments: `{"location":`}}},
				{ToolCalls: []ToolCallDelta{{Index: 0, Arguments: `"Boston"}`}}},
				{FinishReason: FinishToolCalls},
			},
			wantArgs: []string{`{"location":"Boston"}`},
			wantIDs:  []string{"call_a"},
			wantErrs: []bool{false},
		},
		{
			name: "interleaved calls keep first-opened order",
			deltas: []Delta{
				{ToolCalls: []ToolCallDelta{{Index: 0, ID: "a", Name: "first", Arguments: `{"x"`}}},
				{ToolCalls: []ToolCallDelta{{Index: 1, ID: "b", Name: "second", Arguments: `{"y"`}}},
				{ToolCalls: []ToolCallDelta{{Index: 0, Arguments: `:1}`}}},
				{ToolCalls: []ToolCallDelta{{Index: 1, Arguments: `:2}`}}},
				{FinishReason: FinishToolCalls},
			},
			wantArgs: []string{`{"x":1}`, `{"y":2}`},
			wantIDs:  []string{"a", "b"},
			wantErrs: []bool{false, false},
		},
		{
			name: "legacy positional fragments without ids",
			deltas: []Delta{
				{ToolCalls: []ToolCallDelta{{Index: 0, Name: "run_command"}}},
				{ToolCalls: []ToolCallDelta{{Index: 0, Arguments: `{"command":"ls"}`}}},
				{FinishReason: FinishFunctionCall},
			},
			wantArgs: []string{`{"command":"ls"}`},
			wantIDs:  []string{""},
			wantErrs: []bool{false},
		},
		{
			name: "empty arguments default to empty object",
			deltas: []Delta{
				{ToolCalls: []ToolCallDelta{{Index: 0, ID: "c", Name: "get_time"}}},
				{FinishReason: FinishToolCalls},
			},
			wantArgs: []string{"{}"},
			wantIDs:  []string{"c"},
			wantErrs: []bool{false},
		},
		{
			name: "malformed arguments scoped to the broken call",
			deltas: []Delta{
				{ToolCalls: []ToolCallDelta{{Index: 0, ID: "bad", Name: "x", Arguments: `{"unclosed":`}}},
				{ToolCalls: []ToolCallDelta{{Index: 1, ID: "good", Name: "y", Arguments: `{"ok":true}`}}},
				{FinishReason: FinishToolCalls},
			},
			wantArgs: []string{`{"unclosed":`, `{"ok":true}`},
			wantIDs:  []string{"bad", "good"},
			wantErrs: []bool{true, false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := NewAggregator()
			for i, d := range tt.deltas {
				if err := agg.Feed(d); err != nil {
					t.Fatalf("feed %d: %v", i, err)
				}
			}

			if agg.State() != AggToolCallsReady {
				t.Fatalf("state = %q, want %q", agg.State(), AggToolCallsReady)
			}

			calls := agg.Calls()
			if len(calls) != len(tt.wantArgs) {
				t.Fatalf("calls len = %d, want %d", len(calls), len(tt.wantArgs))
			}
			for i, call := range calls {
				if call.Arguments != tt.wantArgs[i] {
					t.Errorf("call %d arguments = %q, want %q", i, call.Arguments, tt.wantArgs[i])
				}
				if call.ID != tt.wantIDs[i] {
					t.Errorf("call %d id = %q, want %q", i, call.ID, tt.wantIDs[i])
				}
				if (call.Err != nil) != tt.wantErrs[i] {
					t.Errorf("call %d err = %v, want err %v", i, call.Err, tt.wantErrs[i])
				}
				if call.Err != nil && !errors.Is(call.Err, ErrMalformedToolArguments) {
					t.Errorf("call %d err = %v, want ErrMalformedToolArguments", i, call.Err)
				}
			}
		})
	}
}

func TestAggregatorBackfillsIDFromLaterFragment(t *testing.T) {
	agg := NewAggregator()

	deltas := []Delta{
		{ToolCalls: []ToolCallDelta{{Index: 0, Name: "fetch_webpage"}}},
		{ToolCalls: []ToolCallDelta{{Index: 0, ID: "call_late", Arguments: `{"url":"http://x"}`}}},
		{FinishReason: FinishToolCalls},
	}
	for _, d := range deltas {
		if err := agg.Feed(d); err != nil {
			t.Fatalf("feed: %v", err)
		}
	}

	calls := agg.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls len = %d", len(calls))
	}
	if calls[0].ID != "call_late" {
		t.Fatalf("id = %q, want call_late", calls[0].ID)
	}
}

func TestAggregatorTextBeforeToolCalls(t *testing.T) {
	agg := NewAggregator()

	deltas := []Delta{
		{Content: "Let me check. "},
		{Thinking: "user wants weather"},
		{ToolCalls: []ToolCallDelta{{Index: 0, ID: "w", Name: "get_current_weather", Arguments: `{}`}}},
		{FinishReason: FinishToolCalls},
	}
	for _, d := range deltas {
		if err := agg.Feed(d); err != nil {
			t.Fatalf("feed: %v", err)
		}
	}

	if agg.State() != AggToolCallsReady {
		t.Fatalf("state = %q", agg.State())
	}
	if agg.Text() != "Let me check. " {
		t.Fatalf("text = %q", agg.Text())
	}
	if agg.Thinking() != "user wants weather" {
		t.Fatalf("thinking = %q", agg.Thinking())
	}
}

func TestAggregatorFailKeepsPartialText(t *testing.T) {
	agg := NewAggregator()
	if err := agg.Feed(Delta{Content: "partial answ"}); err != nil {
		t.Fatalf("feed: %v", err)
	}

	cause := errors.New("connection reset")
	agg.Fail(cause)

	if agg.State() != AggFailed {
		t.Fatalf("state = %q", agg.State())
	}
	if agg.Text() != "partial answ" {
		t.Fatalf("partial text lost: %q", agg.Text())
	}

	var te *TransportError
	if !errors.As(agg.Err(), &te) {
		t.Fatalf("err = %v, want TransportError", agg.Err())
	}
	if !errors.Is(agg.Err(), cause) {
		t.Fatalf("err does not wrap cause: %v", agg.Err())
	}
}

func TestAggregatorFeedAfterClose(t *testing.T) {
	agg := NewAggregator()
	if err := agg.Feed(Delta{FinishReason: FinishStop}); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if err := agg.Feed(Delta{Content: "late"}); err == nil {
		t.Fatal("expected error feeding a closed aggregator")
	}
}

func TestAggregatorFinishWithoutReason(t *testing.T) {
	agg := NewAggregator()
	if err := agg.Feed(Delta{Content: "done"}); err != nil {
		t.Fatalf("feed: %v", err)
	}
	agg.Finish()
	if agg.State() != AggTextReady {
		t.Fatalf("state = %q, want %q", agg.State(), AggTextReady)
	}
}

func TestAggregatorUsagePropagates(t *testing.T) {
	agg := NewAggregator()
	deltas := []Delta{
		{Content: "hi"},
		{FinishReason: FinishStop, Usage: &Usage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12}},
	}
	for _, d := range deltas {
		if err := agg.Feed(d); err != nil {
			t.Fatalf("feed: %v", err)
		}
	}
	u := agg.Usage()
	if u == nil || u.TotalTokens != 12 {
		t.Fatalf("usage = %+v", u)
	}
}

func TestAggregatorAbsorbsTrailingUsage(t *testing.T) {
	agg := NewAggregator()
	deltas := []Delta{
		{Content: "hi"},
		{FinishReason: FinishStop},
	}
	for _, d := range deltas {
		if err := agg.Feed(d); err != nil {
			t.Fatalf("feed: %v", err)
		}
	}

	// OpenAI delivers the usage report on a chunk after the finish reason.
	trailing := Delta{Usage: &Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10}}
	if err := agg.Feed(trailing); err != nil {
		t.Fatalf("trailing usage delta rejected: %v", err)
	}

	u := agg.Usage()
	if u == nil || u.TotalTokens != 10 {
		t.Fatalf("usage = %+v, want the trailing report", u)
	}
	if agg.State() != AggTextReady {
		t.Fatalf("state = %q, want %q", agg.State(), AggTextReady)
	}
}
