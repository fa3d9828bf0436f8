package agent

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"echoai/pkg/llm"
	"echoai/pkg/utils"
)

// Session is the conversational facade over one engine and one history. All
// turns on a session are serialized: concurrent Interact calls queue up
// rather than interleave.
type Session struct {
	engine  *Engine
	history *llm.ChatHistory

	// manager and id are set for persisted sessions only.
	manager *llm.SessionManager
	id      string

	mu sync.Mutex
}

// NewSession creates an in-memory session seeded with a system prompt.
func NewSession(engine *Engine, systemPrompt string) *Session {
	return &Session{
		engine:  engine,
		history: llm.NewChatHistory(systemPrompt),
	}
}

// NewManagedSession creates a session whose history is loaded from and saved
// through a SessionManager.
func NewManagedSession(engine *Engine, manager *llm.SessionManager, sessionID string) (*Session, error) {
	history, err := manager.GetHistory(sessionID)
	if err != nil {
		return nil, err
	}
	return &Session{
		engine:  engine,
		history: history,
		manager: manager,
		id:      sessionID,
	}, nil
}

// Interact runs one user turn through the engine and returns the final
// assistant text. Blank input is a no-op: the history is untouched and no
// request is made.
func (s *Session) Interact(ctx context.Context, userText string) (string, error) {
	trimmed := strings.TrimSpace(userText)
	if trimmed == "" {
		return "", nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	opts := RunOptions{}
	if rest, ok := strings.CutPrefix(trimmed, "/notools "); ok {
		opts.NoTools = true
		trimmed = strings.TrimSpace(rest)
		if trimmed == "" {
			return "", nil
		}
	}

	s.history.Add(llm.Message{
		ID:        utils.GenerateID(),
		Role:      llm.RoleUser,
		Content:   []llm.ContentBlock{llm.NewTextBlock(trimmed)},
		Timestamp: time.Now().Unix(),
	})
	s.save(ctx)

	msg, err := s.engine.Run(ctx, s.history, opts)
	s.save(ctx)

	return msg.TextContent(), err
}

// SetSystemPrompt replaces the session's system message. Empty prompts are
// rejected.
func (s *Session) SetSystemPrompt(text string) error {
	if strings.TrimSpace(text) == "" {
		return llm.ErrInvalidSystemPrompt
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.ReplaceSystem(text)
	return nil
}

// Flush resets the conversation to a single fresh system message.
func (s *Session) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.manager != nil {
		if err := s.manager.FlushSession(s.id); err != nil {
			slog.Warn("failed to flush persisted session", "session", s.id, "err", err)
		}
		return
	}
	s.history.Flush()
}

// SetModel swaps the model identifier used for subsequent turns.
func (s *Session) SetModel(model string) {
	s.engine.SetModel(model)
}

// History returns a read-only snapshot of the conversation.
func (s *Session) History() []llm.Message {
	return s.history.Snapshot()
}

func (s *Session) save(ctx context.Context) {
	if s.manager == nil {
		return
	}
	if err := s.manager.SaveSession(s.id); err != nil {
		slog.WarnContext(ctx, "failed to persist session", "session", s.id, "err", err)
	}
}
