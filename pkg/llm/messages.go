package llm

import (
	"encoding/base64"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

//----------------------------------------------------------------
// Message - the unit of conversation history
//----------------------------------------------------------------

// Message represents one conversational turn. Messages are immutable once
// appended to a ChatHistory; the history only grows (aside from an explicit
// flush or system-prompt replacement).
type Message struct {
	ID        string         `json:"id,omitempty"`
	Role      string         `json:"role"`    // "system", "user", "assistant", "tool"
	Content   []ContentBlock `json:"content"` // Ordered content blocks
	Timestamp int64          `json:"timestamp,omitempty"`

	// ToolCalls holds the tool invocations requested by the model.
	// Only valid on assistant messages.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID correlates a tool-result message back to the assistant
	// message that requested it. Only valid on tool messages.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolName records which tool produced this result. Only valid on tool
	// messages; required by the legacy function-call dialect on the wire.
	ToolName string `json:"tool_name,omitempty"`

	// Usage carries the provider's token accounting for the cycle that
	// produced this message, when known.
	Usage *Usage `json:"usage,omitempty"`
}

// ToolCall is a completed model-issued request to invoke a named local tool.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string, validated at aggregation closure
}

// Usage holds normalized token accounting for one request/response cycle.
type Usage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	StopReason       string `json:"stop_reason,omitempty"`
}

//----------------------------------------------------------------
// ContentBlock - unified content block
//----------------------------------------------------------------

// ContentBlock represents one block of message content.
// Supported types: text, thinking, image, error.
type ContentBlock struct {
	Type string `json:"type"`

	// Text content (type: "text" | "thinking" | "error")
	Text string `json:"text,omitempty"`

	// Image content (type: "image")
	Source *ImageSource `json:"source,omitempty"`
}

// ImageSource describes where image bytes come from.
type ImageSource struct {
	Type      string `json:"type"`       // "base64" | "url"
	MediaType string `json:"media_type"` // "image/jpeg", "image/png", etc.
	Data      []byte `json:"-"`          // Raw bytes, serialized as base64
	URL       string `json:"url,omitempty"`
}

// MarshalJSON encodes Data as base64 for persistence.
func (is *ImageSource) MarshalJSON() ([]byte, error) {
	if is.Type == "base64" && len(is.Data) > 0 {
		return []byte(`{"type":"base64","media_type":"` + is.MediaType + `","data":"` + base64.StdEncoding.EncodeToString(is.Data) + `"}`), nil
	}
	return []byte(`{"type":"` + is.Type + `","media_type":"` + is.MediaType + `","url":"` + is.URL + `"}`), nil
}

// UnmarshalJSON decodes the base64 data field back into Data.
func (is *ImageSource) UnmarshalJSON(data []byte) error {
	type alias ImageSource
	aux := &struct {
		DataBase64 string `json:"data"`
		*alias
	}{
		alias: (*alias)(is),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.DataBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(aux.DataBase64)
		if err != nil {
			return err
		}
		is.Data = decoded
	}

	return nil
}

//----------------------------------------------------------------
// StreamChunk - incremental stream unit emitted by provider clients
//----------------------------------------------------------------

// StreamChunk is one increment of a streamed LLM response after provider
// normalization. ContentBlocks carry only the newly arrived content; ToolCalls
// carry fully reassembled calls (clients close them before emitting).
type StreamChunk struct {
	ContentBlocks []ContentBlock `json:"content_blocks,omitempty"`
	ToolCalls     []ToolCall     `json:"tool_calls,omitempty"`

	IsFinal      bool   `json:"is_final"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`

	// Error is a user-facing error string; RawError is the underlying error
	// kept for retry classification. Both set only on failure chunks.
	Error    string `json:"error,omitempty"`
	RawError error  `json:"-"`
}

//----------------------------------------------------------------
// Helper constructors
//----------------------------------------------------------------

// NewTextMessage builds a plain text message for the given role.
func NewTextMessage(role, text string) Message {
	return Message{
		Role: role,
		Content: []ContentBlock{{
			Type: BlockTypeText,
			Text: text,
		}},
		Timestamp: time.Now().Unix(),
	}
}

// NewSystemMessage builds a system message.
func NewSystemMessage(text string) Message {
	return NewTextMessage(RoleSystem, text)
}

// NewUserMessage builds a user message.
func NewUserMessage(text string) Message {
	return NewTextMessage(RoleUser, text)
}

// NewAssistantMessage builds an assistant message.
func NewAssistantMessage(text string) Message {
	return NewTextMessage(RoleAssistant, text)
}

// AddContentBlock appends a block to the message.
func (m *Message) AddContentBlock(block ContentBlock) {
	m.Content = append(m.Content, block)
}

// TextContent concatenates all plain text blocks (thinking excluded).
func (m *Message) TextContent() string {
	var result string
	for _, block := range m.Content {
		if block.Type == BlockTypeText {
			result += block.Text
		}
	}
	return result
}

// ThinkingContent concatenates all thinking blocks.
func (m *Message) ThinkingContent() string {
	var result string
	for _, block := range m.Content {
		if block.Type == BlockTypeThinking {
			result += block.Text
		}
	}
	return result
}

// HasImages reports whether the message carries image blocks.
func (m *Message) HasImages() bool {
	for _, block := range m.Content {
		if block.Type == BlockTypeImage {
			return true
		}
	}
	return false
}

// NewTextBlock builds a text block.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeText, Text: text}
}

// NewThinkingBlock builds a thinking block.
func NewThinkingBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeThinking, Text: text}
}

// NewErrorBlock builds an error block shown to the user but excluded from the
// text sent back to the model.
func NewErrorBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeError, Text: text}
}

// NewImageBlock builds an image block from raw bytes.
func NewImageBlock(data []byte, mimeType string) ContentBlock {
	return ContentBlock{
		Type: BlockTypeImage,
		Source: &ImageSource{
			Type:      "base64",
			MediaType: mimeType,
			Data:      data,
		},
	}
}

// NewImageBlockFromURL builds an image block referencing a URL.
func NewImageBlockFromURL(url, mimeType string) ContentBlock {
	return ContentBlock{
		Type: BlockTypeImage,
		Source: &ImageSource{
			Type:      "url",
			MediaType: mimeType,
			URL:       url,
		},
	}
}

// NewTextChunk builds a chunk carrying one text delta.
func NewTextChunk(text string) StreamChunk {
	return StreamChunk{ContentBlocks: []ContentBlock{NewTextBlock(text)}}
}

// NewThinkingChunk builds a chunk carrying one thinking delta.
func NewThinkingChunk(text string) StreamChunk {
	return StreamChunk{ContentBlocks: []ContentBlock{NewThinkingBlock(text)}}
}

// NewFinalChunk builds the terminal chunk of a successful stream.
func NewFinalChunk(reason string, usage *Usage) StreamChunk {
	return StreamChunk{
		IsFinal:      true,
		FinishReason: reason,
		Usage:        usage,
	}
}

// NewErrorChunk builds a failure chunk. final marks the stream as terminated.
func NewErrorChunk(msg string, raw error, final bool) StreamChunk {
	return StreamChunk{
		Error:    msg,
		RawError: raw,
		IsFinal:  final,
	}
}
