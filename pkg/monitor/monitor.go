package monitor

import "time"

// MonitorMessage is one observed exchange flowing through the gateway.
type MonitorMessage struct {
	Timestamp   time.Time
	MessageType string // "USER" or "ASSISTANT"
	ChannelID   string
	Username    string
	Content     string
}

// Monitor mirrors gateway traffic to an operator-facing surface.
type Monitor interface {
	Start() error
	Stop() error

	// OnMessage receives one message to display.
	OnMessage(msg MonitorMessage)
}
