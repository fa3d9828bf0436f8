package handler

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"echoai/pkg/agent"
	"echoai/pkg/api"
	"echoai/pkg/config"
	"echoai/pkg/llm"
	"echoai/pkg/utils"
)

// ChatHandler bridges the gateway and the agent engine. It resolves the
// per-conversation history, feeds incoming messages into the engine, and
// streams the engine's output back through the responder. One handler serves
// every channel; conversations are serialized per session key so a slow tool
// run never interleaves with the next message from the same chat.
type ChatHandler struct {
	engine    *agent.Engine
	sessions  *llm.SessionManager
	responder api.MessageResponder
	sysCfg    *config.SystemConfig

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewChatHandler wires a handler to the engine and session store. When safe
// mode is on, shell execution requests are declined instead of run.
func NewChatHandler(engine *agent.Engine, sessions *llm.SessionManager, sysCfg *config.SystemConfig) *ChatHandler {
	if sysCfg == nil {
		sysCfg = config.DefaultSystemConfig()
	}

	if sysCfg.SafeMode {
		engine.SetConfirmer(agent.ConfirmerFunc(func(ctx context.Context, tc llm.ToolCall) bool {
			return strings.TrimPrefix(tc.Name, "functions.") != "run_command"
		}))
	}

	return &ChatHandler{
		engine:   engine,
		sessions: sessions,
		sysCfg:   sysCfg,
		locks:    make(map[string]*sync.Mutex),
	}
}

// SetResponder implements api.ResponderAware; the gateway injects itself here
// during Build.
func (h *ChatHandler) SetResponder(responder api.MessageResponder) {
	h.responder = responder
}

// sessionLock returns the mutex guarding one conversation.
func (h *ChatHandler) sessionLock(key string) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.locks[key]
	if !ok {
		l = &sync.Mutex{}
		h.locks[key] = l
	}
	return l
}

// OnMessage is the entry point for every message the gateway receives.
func (h *ChatHandler) OnMessage(msg *api.UnifiedMessage) {
	if msg.DebugID == "" {
		b := make([]byte, 2)
		rand.Read(b)
		msg.DebugID = fmt.Sprintf("%x", b)
	}
	start := time.Now()

	key := msg.Session.SessionKey()
	lock := h.sessionLock(key)
	lock.Lock()
	defer lock.Unlock()

	slog.Info("message accepted",
		"session", key, "user", msg.Session.Username,
		"files", len(msg.Files), "debug_id", msg.DebugID)

	if strings.HasPrefix(msg.Content, "/") {
		if handled := h.handleSlashCommand(msg, key); handled {
			return
		}
	}

	history, err := h.sessions.GetHistory(key)
	if err != nil {
		slog.Error("failed to load session history", "session", key, "err", err)
		h.responder.SendReply(msg.Session, fmt.Sprintf("❌ %v", err))
		return
	}

	userMsg := llm.Message{
		ID:        utils.GenerateID(),
		Role:      llm.RoleUser,
		Content:   []llm.ContentBlock{},
		Timestamp: time.Now().Unix(),
	}
	if msg.Content != "" {
		userMsg.Content = append(userMsg.Content, llm.NewTextBlock(msg.Content))
	}
	for _, file := range msg.Files {
		userMsg.Content = append(userMsg.Content, llm.NewImageBlock(file.Data, file.MimeType))
		slog.Info("attached file", "name", file.Filename, "mime", file.MimeType, "bytes", len(file.Data))
	}
	if len(userMsg.Content) == 0 {
		return
	}

	history.Add(userMsg)
	h.save(key)

	h.runEngine(msg, key, history)

	slog.Info("agent loop finished", "session", key,
		"duration", time.Since(start).String(), "debug_id", msg.DebugID)
}

// runEngine executes one full agentic turn, streaming blocks back to the
// originating channel while the engine works.
func (h *ChatHandler) runEngine(msg *api.UnifiedMessage, key string, history *llm.ChatHistory) {
	timeout := time.Duration(h.sysCfg.LLMTimeoutMs) * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if msg.DebugID != "" {
		ctx = context.WithValue(ctx, llm.DebugDirContextKey, msg.DebugID)
	}

	blockCh := make(chan llm.ContentBlock, h.sysCfg.InternalChannelBuffer)
	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		if err := h.responder.StreamReply(msg.Session, blockCh); err != nil {
			slog.Error("failed to stream reply", "session", key, "err", err)
		}
	}()

	sink := &responderSink{
		session:   msg.Session,
		responder: h.responder,
		blockCh:   blockCh,
	}

	_, err := h.engine.Run(ctx, history, agent.RunOptions{
		NoTools: msg.NoTools,
		Sink:    sink,
	})

	close(blockCh)
	<-streamDone

	h.save(key)

	if err != nil {
		slog.Error("agent run failed", "session", key, "err", err)
		h.responder.SendReply(msg.Session, fmt.Sprintf("❌ %v", err))
	}
}

// handleSlashCommand intercepts control commands. Returns false when the
// message should continue through the normal pipeline.
func (h *ChatHandler) handleSlashCommand(msg *api.UnifiedMessage, key string) bool {
	cmd, rest, _ := strings.Cut(strings.TrimPrefix(msg.Content, "/"), " ")

	switch cmd {
	case "flush":
		if err := h.sessions.FlushSession(key); err != nil {
			h.responder.SendReply(msg.Session, fmt.Sprintf("❌ Failed to clear history: %v", err))
			return true
		}
		h.responder.SendReply(msg.Session, "🧹 Conversation history cleared.")
		return true

	case "notools":
		// Strip the prefix and run the rest as a plain conversation turn.
		msg.NoTools = true
		msg.Content = rest
		return false

	default:
		h.responder.SendReply(msg.Session,
			fmt.Sprintf("❌ Unknown command /%s. Available: /flush, /notools <message>", cmd))
		return true
	}
}

func (h *ChatHandler) save(key string) {
	if err := h.sessions.SaveSession(key); err != nil {
		slog.Error("failed to persist session", "session", key, "err", err)
	}
}

// responderSink forwards engine output to the gateway stream for one turn.
type responderSink struct {
	session   api.SessionContext
	responder api.MessageResponder
	blockCh   chan<- llm.ContentBlock
}

func (s *responderSink) OnBlock(block llm.ContentBlock) {
	s.blockCh <- block
}

func (s *responderSink) OnSignal(name string) {
	if err := s.responder.SendSignal(s.session, name); err != nil {
		slog.Debug("signal delivery failed", "signal", name, "err", err)
	}
}
