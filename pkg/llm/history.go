package llm

import (
	"fmt"
	"os"
	"sync"
)

// ChatHistory is the append-only conversation log for one session. At most one
// system message exists and it is always first; everything else only grows,
// aside from an explicit Flush or character-budget trimming.
type ChatHistory struct {
	mu       sync.RWMutex
	messages []Message
}

// NewChatHistory builds a history seeded with a system prompt. An empty prompt
// starts the history without a system message.
func NewChatHistory(systemPrompt string) *ChatHistory {
	h := &ChatHistory{}
	if systemPrompt != "" {
		h.messages = append(h.messages, NewSystemMessage(systemPrompt))
	}
	return h
}

// Add appends a message to the log. System messages must go through
// ReplaceSystem instead; Add silently redirects them there to preserve the
// single-system invariant.
func (h *ChatHistory) Add(msg Message) {
	if msg.Role == RoleSystem {
		h.ReplaceSystem(msg.TextContent())
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
}

// ReplaceSystem removes any existing system message and inserts the given
// content as the system message at position 0.
func (h *ChatHistory) ReplaceSystem(content string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	kept := make([]Message, 0, len(h.messages)+1)
	kept = append(kept, NewSystemMessage(content))
	for _, msg := range h.messages {
		if msg.Role != RoleSystem {
			kept = append(kept, msg)
		}
	}
	h.messages = kept
}

// SystemPrompt returns the current system message content, empty if none.
func (h *ChatHistory) SystemPrompt() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.messages) > 0 && h.messages[0].Role == RoleSystem {
		return h.messages[0].TextContent()
	}
	return ""
}

// Snapshot returns a copy of the log for the provider layer. The copy shares
// block slices but callers treat it as read-only.
func (h *ChatHistory) Snapshot() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Flush resets the history to a single fresh system message carrying the
// current prompt.
func (h *ChatHistory) Flush() {
	h.mu.Lock()
	defer h.mu.Unlock()

	var system *Message
	if len(h.messages) > 0 && h.messages[0].Role == RoleSystem {
		system = &h.messages[0]
	}
	h.messages = nil
	if system != nil {
		h.messages = append(h.messages, NewSystemMessage(system.TextContent()))
	}
}

// Len returns the number of messages including the system message.
func (h *ChatHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// Last returns the most recent message and true, or a zero message and false
// when the history is empty.
func (h *ChatHistory) Last() (Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.messages) == 0 {
		return Message{}, false
	}
	return h.messages[len(h.messages)-1], true
}

// TrimToBudget drops the oldest non-system messages until the total text size
// fits maxChars. A non-positive budget disables trimming. Trimming never
// splits an assistant tool-call echo from its tool results: the drop boundary
// advances past any tool messages so the remaining prefix stays well-formed.
func (h *ChatHistory) TrimToBudget(maxChars int) int {
	if maxChars <= 0 {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	start := 0
	if len(h.messages) > 0 && h.messages[0].Role == RoleSystem {
		start = 1
	}

	total := 0
	for _, msg := range h.messages {
		total += msgChars(msg)
	}

	dropped := 0
	cut := start
	for total > maxChars && cut < len(h.messages)-1 {
		total -= msgChars(h.messages[cut])
		cut++
		dropped++
		// A tool result must never become the first visible turn.
		for cut < len(h.messages)-1 && h.messages[cut].Role == RoleTool {
			total -= msgChars(h.messages[cut])
			cut++
			dropped++
		}
	}
	if dropped > 0 {
		h.messages = append(h.messages[:start], h.messages[cut:]...)
	}
	return dropped
}

func msgChars(msg Message) int {
	n := 0
	for _, block := range msg.Content {
		n += len(block.Text)
	}
	for _, call := range msg.ToolCalls {
		n += len(call.Name) + len(call.Arguments)
	}
	return n
}

// Save persists the history as a JSON file.
func (h *ChatHistory) Save(path string) error {
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}

// Load restores a persisted history. A missing file is not an error; the
// history keeps its seeded state.
func (h *ChatHistory) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read history: %w", err)
	}
	if err := h.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("parse history %s: %w", path, err)
	}
	return nil
}

// MarshalJSON serializes the message slice for session persistence.
func (h *ChatHistory) MarshalJSON() ([]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return json.Marshal(h.messages)
}

// UnmarshalJSON restores a persisted message slice.
func (h *ChatHistory) UnmarshalJSON(data []byte) error {
	var messages []Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = messages
	return nil
}
