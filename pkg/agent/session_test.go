package agent

import (
	"context"
	"errors"
	"testing"

	"echoai/pkg/llm"
)

func TestSessionInteract(t *testing.T) {
	client := &scriptedClient{turns: []scriptedTurn{textTurn("answer", llm.StopReasonStop)}}
	engine := NewEngine(client, weatherRegistry(), testSysCfg())
	session := NewSession(engine, "be brief")

	reply, err := session.Interact(context.Background(), "question")
	if err != nil {
		t.Fatalf("interact: %v", err)
	}
	if reply != "answer" {
		t.Fatalf("reply = %q", reply)
	}

	msgs := session.History()
	if len(msgs) != 3 {
		t.Fatalf("history len = %d, want 3", len(msgs))
	}
	if msgs[0].Role != llm.RoleSystem || msgs[0].TextContent() != "be brief" {
		t.Fatalf("system message = %+v", msgs[0])
	}
}

func TestSessionInteractBlankInput(t *testing.T) {
	client := &scriptedClient{}
	engine := NewEngine(client, weatherRegistry(), testSysCfg())
	session := NewSession(engine, "sys")

	for _, input := range []string{"", "   ", "\n\t"} {
		reply, err := session.Interact(context.Background(), input)
		if err != nil {
			t.Fatalf("interact(%q): %v", input, err)
		}
		if reply != "" {
			t.Fatalf("reply = %q, want empty", reply)
		}
	}

	if client.callCount() != 0 {
		t.Fatalf("calls = %d, want 0 for blank input", client.callCount())
	}
	if session.history.Len() != 1 {
		t.Fatalf("history len = %d, blank input must not be recorded", session.history.Len())
	}
}

func TestSessionInteractNoToolsPrefix(t *testing.T) {
	client := &scriptedClient{turns: []scriptedTurn{textTurn("plain", llm.StopReasonStop)}}
	engine := NewEngine(client, weatherRegistry(), testSysCfg())
	session := NewSession(engine, "sys")

	reply, err := session.Interact(context.Background(), "/notools what time is it")
	if err != nil {
		t.Fatalf("interact: %v", err)
	}
	if reply != "plain" {
		t.Fatalf("reply = %q", reply)
	}

	if len(client.defs[0]) != 0 {
		t.Fatalf("tools advertised despite /notools: %d", len(client.defs[0]))
	}

	// The recorded user message must not carry the command prefix.
	msgs := session.History()
	if msgs[1].TextContent() != "what time is it" {
		t.Fatalf("user message = %q", msgs[1].TextContent())
	}
}

func TestSessionSetSystemPrompt(t *testing.T) {
	engine := NewEngine(&scriptedClient{}, weatherRegistry(), testSysCfg())
	session := NewSession(engine, "original")

	if err := session.SetSystemPrompt("  "); !errors.Is(err, llm.ErrInvalidSystemPrompt) {
		t.Fatalf("err = %v, want ErrInvalidSystemPrompt", err)
	}
	if session.history.SystemPrompt() != "original" {
		t.Fatalf("prompt changed on rejected update: %q", session.history.SystemPrompt())
	}

	if err := session.SetSystemPrompt("replacement"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if session.history.SystemPrompt() != "replacement" {
		t.Fatalf("prompt = %q", session.history.SystemPrompt())
	}
}

func TestSessionFlush(t *testing.T) {
	client := &scriptedClient{turns: []scriptedTurn{textTurn("a", llm.StopReasonStop)}}
	engine := NewEngine(client, weatherRegistry(), testSysCfg())
	session := NewSession(engine, "sys")

	if _, err := session.Interact(context.Background(), "hi"); err != nil {
		t.Fatalf("interact: %v", err)
	}
	session.Flush()

	msgs := session.History()
	if len(msgs) != 1 || msgs[0].Role != llm.RoleSystem {
		t.Fatalf("history after flush = %+v", msgs)
	}
}

func TestManagedSessionPersists(t *testing.T) {
	dir := t.TempDir()
	manager := llm.NewSessionManager(dir, "persist sys")

	client := &scriptedClient{turns: []scriptedTurn{textTurn("stored", llm.StopReasonStop)}}
	engine := NewEngine(client, weatherRegistry(), testSysCfg())

	session, err := NewManagedSession(engine, manager, "chat_1")
	if err != nil {
		t.Fatalf("new managed session: %v", err)
	}
	if _, err := session.Interact(context.Background(), "remember this"); err != nil {
		t.Fatalf("interact: %v", err)
	}

	// A second manager over the same directory must see the saved turns.
	manager2 := llm.NewSessionManager(dir, "persist sys")
	history, err := manager2.GetHistory("chat_1")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if history.Len() != 3 {
		t.Fatalf("restored len = %d, want 3", history.Len())
	}
	last, _ := history.Last()
	if last.TextContent() != "stored" {
		t.Fatalf("restored last = %q", last.TextContent())
	}
}
