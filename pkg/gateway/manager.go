package gateway

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"echoai/pkg/config"
	"echoai/pkg/llm"
	"echoai/pkg/monitor"
)

// GatewayManager owns all registered channels and routes messages between
// them and the core handler. It implements api.ChannelContext, so channels
// reply through it.
type GatewayManager struct {
	channels      map[string]Channel
	msgHandler    MessageHandler
	monitor       monitor.Monitor
	channelBuffer int
	mu            sync.RWMutex
}

// NewGatewayManager creates an empty manager.
func NewGatewayManager() *GatewayManager {
	return &GatewayManager{
		channels:      make(map[string]Channel),
		channelBuffer: 100,
	}
}

// WithSystemConfig applies engine-level parameters to the manager.
func (g *GatewayManager) WithSystemConfig(cfg *config.SystemConfig) {
	if cfg != nil && cfg.InternalChannelBuffer > 0 {
		g.channelBuffer = cfg.InternalChannelBuffer
	}
}

// SetMessageHandler sets the core message processing logic.
func (g *GatewayManager) SetMessageHandler(handler MessageHandler) {
	g.msgHandler = handler
}

// SetMonitor attaches a traffic monitor.
func (g *GatewayManager) SetMonitor(m monitor.Monitor) {
	g.monitor = m
}

// Register adds a channel.
func (g *GatewayManager) Register(c Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.channels[c.ID()] = c
}

// GetChannel looks up a channel by id.
func (g *GatewayManager) GetChannel(id string) (Channel, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.channels[id]
	return c, ok
}

// StartAll starts every registered channel, passing the manager in as the
// channel context.
func (g *GatewayManager) StartAll() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id, c := range g.channels {
		slog.Info("starting channel", "channel", id)
		if err := c.Start(g); err != nil {
			return fmt.Errorf("failed to start channel %s: %w", id, err)
		}
	}
	return nil
}

// StopAll stops every channel.
func (g *GatewayManager) StopAll() {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id, c := range g.channels {
		slog.Info("stopping channel", "channel", id)
		if err := c.Stop(); err != nil {
			slog.Error("error stopping channel", "channel", id, "err", err)
		}
	}
}

// SendReply routes a complete reply back to the originating channel.
func (g *GatewayManager) SendReply(session SessionContext, content string) error {
	slog.Debug("reply", "channel", session.ChannelID, "user", session.Username)

	if g.monitor != nil {
		g.monitor.OnMessage(monitor.MonitorMessage{
			Timestamp:   time.Now(),
			MessageType: "ASSISTANT",
			ChannelID:   session.ChannelID,
			Username:    session.Username,
			Content:     content,
		})
	}

	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		return fmt.Errorf("channel %s not found", session.ChannelID)
	}
	return c.Send(session, content)
}

// SendSignal forwards a control signal to the channel if it supports
// signaling; other channels silently ignore it.
func (g *GatewayManager) SendSignal(session SessionContext, signal string) error {
	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		return fmt.Errorf("channel %s not found", session.ChannelID)
	}

	if sc, ok := c.(SignalingChannel); ok {
		return sc.SendSignal(session, signal)
	}
	return nil
}

// StreamReply routes an incremental reply stream to the channel, mirroring
// the assembled text to the monitor once the stream closes.
func (g *GatewayManager) StreamReply(session SessionContext, blocks <-chan llm.ContentBlock) error {
	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		return fmt.Errorf("channel %s not found", session.ChannelID)
	}

	wrappedBlocks := make(chan llm.ContentBlock, g.channelBuffer)
	var fullContent string

	go func() {
		defer close(wrappedBlocks)
		for block := range blocks {
			if block.Type == llm.BlockTypeText {
				fullContent += block.Text
			}
			wrappedBlocks <- block
		}
		if fullContent != "" && g.monitor != nil {
			g.monitor.OnMessage(monitor.MonitorMessage{
				Timestamp:   time.Now(),
				MessageType: "ASSISTANT",
				ChannelID:   session.ChannelID,
				Username:    session.Username,
				Content:     fullContent,
			})
		}
	}()

	return c.Stream(session, wrappedBlocks)
}

// OnMessage implements api.ChannelContext, receiving messages from channels.
func (g *GatewayManager) OnMessage(channelID string, msg *UnifiedMessage) {
	slog.Info("message received",
		"channel", channelID, "user", msg.Session.Username, "chars", len(msg.Content))

	if g.monitor != nil {
		g.monitor.OnMessage(monitor.MonitorMessage{
			Timestamp:   time.Now(),
			MessageType: "USER",
			ChannelID:   channelID,
			Username:    msg.Session.Username,
			Content:     msg.Content,
		})
	}

	if g.msgHandler != nil {
		g.msgHandler(msg)
	} else {
		slog.Warn("no message handler set")
	}
}
