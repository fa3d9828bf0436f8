package web

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"echoai/pkg/api"
	"echoai/pkg/llm"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // decoupled UI runs on its own origin
	},
}

// WebConfig configures the WebSocket endpoint.
type WebConfig struct {
	Port int `json:"port"`
}

// IncomingMessage is the JSON frame a browser client sends.
type IncomingMessage struct {
	Text   string `json:"text"`
	Images []struct {
		Name string `json:"name"`
		Mime string `json:"mime"`
		Data string `json:"data"` // base64 encoded
	} `json:"images"`
}

// SafeConn serializes writes; gorilla/websocket allows only one concurrent
// writer per connection.
type SafeConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (sc *SafeConn) WriteMessage(messageType int, data []byte) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.Conn.WriteMessage(messageType, data)
}

// WebChannel implements api.Channel over a WebSocket endpoint. Each frame to
// the client is a small JSON object keyed by "type": content block types for
// stream deltas, "signal" for UI hints, "history" for replay on connect and
// "done" when a stream closes.
type WebChannel struct {
	config      WebConfig
	server      *http.Server
	sessions    *llm.SessionManager
	connections map[string]*SafeConn // UserID -> connection
	mu          sync.RWMutex
}

func NewWebChannel(cfg WebConfig, sessions *llm.SessionManager) *WebChannel {
	return &WebChannel{
		config:      cfg,
		sessions:    sessions,
		connections: make(map[string]*SafeConn),
	}
}

func (c *WebChannel) ID() string {
	return "web"
}

func (c *WebChannel) Start(ctx api.ChannelContext) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		c.handleWebSocket(w, r, ctx)
	})

	c.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", c.config.Port),
		Handler: mux,
	}

	slog.Info("web api listening", "port", c.config.Port)

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("web api server error", "err", err)
		}
	}()

	return nil
}

func (c *WebChannel) Stop() error {
	if c.server != nil {
		return c.server.Close()
	}
	return nil
}

func (c *WebChannel) conn(userID string) (*SafeConn, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conn, ok := c.connections[userID]
	return conn, ok
}

func (c *WebChannel) Send(session api.SessionContext, message string) error {
	conn, ok := c.conn(session.UserID)
	if !ok {
		return fmt.Errorf("web user %s not connected", session.UserID)
	}
	frame, err := json.Marshal(map[string]string{
		"type": llm.BlockTypeText,
		"text": message,
	})
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"done"}`))
}

// SendSignal implements api.SignalingChannel.
func (c *WebChannel) SendSignal(session api.SessionContext, signal string) error {
	conn, ok := c.conn(session.UserID)
	if !ok {
		return fmt.Errorf("web user %s not connected", session.UserID)
	}

	frame, err := json.Marshal(map[string]string{
		"type":  "signal",
		"value": signal,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal signal: %w", err)
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// Stream forwards content blocks to the client as they arrive.
func (c *WebChannel) Stream(session api.SessionContext, blocks <-chan llm.ContentBlock) error {
	conn, ok := c.conn(session.UserID)
	if !ok {
		return fmt.Errorf("web user %s not connected", session.UserID)
	}

	for block := range blocks {
		frame := map[string]any{
			"type": block.Type,
		}

		if block.Type == llm.BlockTypeImage && block.Source != nil {
			if block.Source.Type == "base64" && len(block.Source.Data) > 0 {
				frame["data"] = base64.StdEncoding.EncodeToString(block.Source.Data)
				frame["mime"] = block.Source.MediaType
			} else if block.Source.Type == "url" {
				frame["url"] = block.Source.URL
			}
		} else {
			frame["text"] = block.Text
		}

		data, err := json.Marshal(frame)
		if err != nil {
			slog.Error("failed to marshal stream block", "err", err)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return err
		}
	}

	return conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"done"}`))
}

// uiMessage is the reduced message shape sent during history replay.
type uiMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

func (c *WebChannel) replayHistory(conn *SafeConn, sessionKey string) {
	h, err := c.sessions.GetHistory(sessionKey)
	if err != nil {
		slog.Error("failed to load history for replay", "session", sessionKey, "err", err)
		return
	}

	var uiMsgs []uiMessage
	for _, msg := range h.Snapshot() {
		if msg.Role != llm.RoleUser && msg.Role != llm.RoleAssistant {
			continue
		}
		text := msg.TextContent()
		if text == "" {
			continue
		}
		uiMsgs = append(uiMsgs, uiMessage{Role: msg.Role, Text: text})
	}
	if len(uiMsgs) == 0 {
		return
	}

	frame, err := json.Marshal(map[string]any{
		"type": "history",
		"data": uiMsgs,
	})
	if err != nil {
		slog.Error("failed to marshal history", "err", err)
		return
	}
	conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *WebChannel) handleWebSocket(w http.ResponseWriter, r *http.Request, ctx api.ChannelContext) {
	rawConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	conn := &SafeConn{Conn: rawConn}
	userID := r.RemoteAddr

	c.mu.Lock()
	c.connections[userID] = conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.connections, userID)
		c.mu.Unlock()
		conn.Close()
	}()

	session := api.SessionContext{
		ChannelID: "web",
		UserID:    userID,
		ChatID:    "global", // the web UI shares one conversation
		Username:  "WebUser",
	}

	c.replayHistory(conn, session.SessionKey())

	for {
		_, msgBytes, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var content string
		var files []api.FileAttachment

		var incoming IncomingMessage
		if err := json.Unmarshal(msgBytes, &incoming); err == nil {
			content = incoming.Text
			for _, img := range incoming.Images {
				data, err := base64.StdEncoding.DecodeString(img.Data)
				if err != nil {
					slog.Error("failed to decode base64 image", "name", img.Name, "err", err)
					continue
				}
				files = append(files, api.FileAttachment{
					Filename: img.Name,
					MimeType: img.Mime,
					Data:     data,
				})
			}
		} else {
			// Plain text frame from minimal clients.
			content = string(msgBytes)
		}

		ctx.OnMessage(c.ID(), &api.UnifiedMessage{
			Session: session,
			Content: content,
			Files:   files,
		})
	}
}
