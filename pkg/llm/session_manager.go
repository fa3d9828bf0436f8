package llm

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

var filenameSafeRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-]`)

// SessionManager holds one ChatHistory per session ID, loading persisted
// histories lazily and writing them back after each turn.
type SessionManager struct {
	histories    map[string]*ChatHistory
	storage      string
	systemPrompt string
	mu           sync.RWMutex
}

// NewSessionManager initializes a manager over a storage directory. An empty
// storage path disables persistence; histories then live in memory only.
func NewSessionManager(storage, systemPrompt string) *SessionManager {
	if storage != "" {
		os.MkdirAll(storage, 0755)
	}
	return &SessionManager{
		histories:    make(map[string]*ChatHistory),
		storage:      storage,
		systemPrompt: systemPrompt,
	}
}

// GetHistory returns the history for a session, loading it from disk on first
// access or seeding a fresh one with the configured system prompt.
func (sm *SessionManager) GetHistory(sessionID string) (*ChatHistory, error) {
	sm.mu.RLock()
	h, ok := sm.histories[sessionID]
	sm.mu.RUnlock()

	if ok {
		return h, nil
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if h, ok = sm.histories[sessionID]; ok {
		return h, nil
	}

	h = NewChatHistory(sm.systemPrompt)
	if sm.storage != "" {
		if err := h.Load(sm.historyPath(sessionID)); err != nil {
			return nil, err
		}
	}

	sm.histories[sessionID] = h
	return h, nil
}

// SaveSession persists one session's history to disk. A session never seen or
// a disabled storage dir is a no-op.
func (sm *SessionManager) SaveSession(sessionID string) error {
	sm.mu.RLock()
	h, ok := sm.histories[sessionID]
	sm.mu.RUnlock()

	if !ok || sm.storage == "" {
		return nil
	}
	return h.Save(sm.historyPath(sessionID))
}

// FlushSession resets a session's history and removes its persisted file.
func (sm *SessionManager) FlushSession(sessionID string) error {
	sm.mu.RLock()
	h, ok := sm.histories[sessionID]
	sm.mu.RUnlock()

	if ok {
		h.Flush()
	}
	if sm.storage == "" {
		return nil
	}
	if err := os.Remove(sm.historyPath(sessionID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (sm *SessionManager) historyPath(sessionID string) string {
	safeID := filenameSafeRegex.ReplaceAllString(sessionID, "_")
	return filepath.Join(sm.storage, fmt.Sprintf("history_%s.json", safeID))
}
