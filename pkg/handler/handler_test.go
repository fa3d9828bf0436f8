package handler

import (
	"context"
	"strings"
	"sync"
	"testing"

	"echoai/pkg/agent"
	"echoai/pkg/api"
	"echoai/pkg/config"
	"echoai/pkg/llm"
	"echoai/pkg/tools"
)

// cannedClient replays scripted stream responses.
type cannedClient struct {
	mu    sync.Mutex
	turns [][]llm.StreamChunk
	calls int
}

func (c *cannedClient) StreamChat(ctx context.Context, messages []llm.Message, defs []llm.ToolDefinition) (<-chan llm.StreamChunk, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++

	var chunks []llm.StreamChunk
	if len(c.turns) > 0 {
		chunks = c.turns[0]
		c.turns = c.turns[1:]
	}

	ch := make(chan llm.StreamChunk, len(chunks))
	for _, chunk := range chunks {
		ch <- chunk
	}
	close(ch)
	return ch, nil
}

func (c *cannedClient) IsTransientError(error) bool { return false }
func (c *cannedClient) SetModel(string)             {}

// fakeResponder records everything routed back toward the channel.
type fakeResponder struct {
	mu      sync.Mutex
	replies []string
	signals []string
	blocks  []llm.ContentBlock
}

func (r *fakeResponder) SendReply(session api.SessionContext, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, content)
	return nil
}

func (r *fakeResponder) SendSignal(session api.SessionContext, signal string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, signal)
	return nil
}

func (r *fakeResponder) StreamReply(session api.SessionContext, blocks <-chan llm.ContentBlock) error {
	for block := range blocks {
		r.mu.Lock()
		r.blocks = append(r.blocks, block)
		r.mu.Unlock()
	}
	return nil
}

func (r *fakeResponder) streamedText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sb strings.Builder
	for _, b := range r.blocks {
		if b.Type == llm.BlockTypeText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

func testSetup(t *testing.T, turns [][]llm.StreamChunk, mutate func(*config.SystemConfig)) (*ChatHandler, *fakeResponder, *llm.SessionManager) {
	t.Helper()

	sysCfg := config.DefaultSystemConfig()
	sysCfg.RetryDelayMs = 1
	sysCfg.ThinkingInitDelayMs = 60000
	sysCfg.ThinkingTokenDelayMs = 60000
	sysCfg.SessionStorageDir = t.TempDir()
	if mutate != nil {
		mutate(sysCfg)
	}

	registry := tools.NewRegistry()
	registry.Register(tools.GetCurrentWeatherDefinition(), tools.NewGetCurrentWeather())
	registry.Register(tools.RunCommandDefinition(), func(ctx context.Context, args map[string]any) (any, error) {
		return map[string]any{"status": "success", "output": "ran"}, nil
	})

	engine := agent.NewEngine(&cannedClient{turns: turns}, registry, sysCfg)
	sessions := llm.NewSessionManager(sysCfg.SessionStorageDir, "handler sys")
	h := NewChatHandler(engine, sessions, sysCfg)

	responder := &fakeResponder{}
	h.SetResponder(responder)
	return h, responder, sessions
}

func textTurn(text string) []llm.StreamChunk {
	return []llm.StreamChunk{
		llm.NewTextChunk(text),
		llm.NewFinalChunk(llm.StopReasonStop, nil),
	}
}

func session() api.SessionContext {
	return api.SessionContext{ChannelID: "web", UserID: "u1", ChatID: "global", Username: "tester"}
}

func TestHandlerStreamsReply(t *testing.T) {
	h, responder, sessions := testSetup(t, [][]llm.StreamChunk{textTurn("streamed answer")}, nil)

	h.OnMessage(&api.UnifiedMessage{Session: session(), Content: "hello"})

	if got := responder.streamedText(); got != "streamed answer" {
		t.Fatalf("streamed text = %q", got)
	}

	history, err := sessions.GetHistory(session().SessionKey())
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	// system + user + assistant
	if history.Len() != 3 {
		t.Fatalf("history len = %d, want 3", history.Len())
	}
}

func TestHandlerFlushCommand(t *testing.T) {
	h, responder, sessions := testSetup(t, [][]llm.StreamChunk{textTurn("first")}, nil)

	h.OnMessage(&api.UnifiedMessage{Session: session(), Content: "hello"})
	h.OnMessage(&api.UnifiedMessage{Session: session(), Content: "/flush"})

	history, _ := sessions.GetHistory(session().SessionKey())
	if history.Len() != 1 {
		t.Fatalf("history len after flush = %d, want 1", history.Len())
	}

	found := false
	for _, reply := range responder.replies {
		if strings.Contains(reply, "cleared") {
			found = true
		}
	}
	if !found {
		t.Fatalf("replies = %v, want flush confirmation", responder.replies)
	}
}

func TestHandlerUnknownCommand(t *testing.T) {
	h, responder, sessions := testSetup(t, nil, nil)

	h.OnMessage(&api.UnifiedMessage{Session: session(), Content: "/bogus"})

	if len(responder.replies) != 1 || !strings.Contains(responder.replies[0], "Unknown command") {
		t.Fatalf("replies = %v", responder.replies)
	}
	history, _ := sessions.GetHistory(session().SessionKey())
	if history.Len() != 1 {
		t.Fatalf("command leaked into history: len = %d", history.Len())
	}
}

func TestHandlerEmptyMessageIgnored(t *testing.T) {
	h, responder, sessions := testSetup(t, nil, nil)

	h.OnMessage(&api.UnifiedMessage{Session: session(), Content: ""})

	if len(responder.blocks) != 0 || len(responder.replies) != 0 {
		t.Fatal("empty message produced output")
	}
	history, _ := sessions.GetHistory(session().SessionKey())
	if history.Len() != 1 {
		t.Fatalf("empty message recorded: len = %d", history.Len())
	}
}

func TestHandlerSafeModeDeclinesShell(t *testing.T) {
	turns := [][]llm.StreamChunk{
		{
			{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "run_command", Arguments: `{"command":"rm -rf /"}`}}},
			llm.NewFinalChunk(llm.StopReasonStop, nil),
		},
		textTurn("declined as expected"),
	}
	h, _, sessions := testSetup(t, turns, func(cfg *config.SystemConfig) {
		cfg.SafeMode = true
	})

	h.OnMessage(&api.UnifiedMessage{Session: session(), Content: "wipe the disk"})

	history, _ := sessions.GetHistory(session().SessionKey())
	var toolMsg llm.Message
	for _, m := range history.Snapshot() {
		if m.Role == llm.RoleTool {
			toolMsg = m
		}
	}
	if !strings.Contains(toolMsg.TextContent(), "cancelled") {
		t.Fatalf("tool payload = %q, want cancelled", toolMsg.TextContent())
	}
}
