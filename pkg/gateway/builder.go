package gateway

import (
	"fmt"

	"echoai/pkg/api"
	"echoai/pkg/config"
	"echoai/pkg/monitor"
)

// GatewayBuilder provides a fluent builder for constructing and starting a
// GatewayManager with all its dependencies. Components (channels, handler,
// monitor) are pre-built and injected as instances; the builder assembles and
// starts them.
type GatewayBuilder struct {
	gw             *GatewayManager
	monitor        monitor.Monitor
	systemConfig   *config.SystemConfig
	handlerBuilder func(api.MessageResponder) api.MessageProcessor
	channels       []api.Channel
}

// NewGatewayBuilder creates a fresh builder with an internal manager.
func NewGatewayBuilder() *GatewayBuilder {
	return &GatewayBuilder{
		gw: NewGatewayManager(),
	}
}

// WithMonitor injects a monitoring implementation. The monitor is started
// automatically during Build.
func (b *GatewayBuilder) WithMonitor(m monitor.Monitor) *GatewayBuilder {
	b.monitor = m
	return b
}

// WithSystemConfig provides engine-level technical parameters.
func (b *GatewayBuilder) WithSystemConfig(cfg *config.SystemConfig) *GatewayBuilder {
	b.systemConfig = cfg
	return b
}

// WithChannel adds pre-built channel instances.
func (b *GatewayBuilder) WithChannel(channels ...api.Channel) *GatewayBuilder {
	b.channels = append(b.channels, channels...)
	return b
}

// WithHandler injects the message handler. If the handler implements
// api.ResponderAware, the gateway is wired in as its responder.
func (b *GatewayBuilder) WithHandler(h api.MessageProcessor) *GatewayBuilder {
	b.handlerBuilder = func(responder api.MessageResponder) api.MessageProcessor {
		if setter, ok := h.(api.ResponderAware); ok {
			setter.SetResponder(responder)
		}
		return h
	}
	return b
}

// Build finalizes the configuration, registers channels, wires the handler
// and starts everything. Returns the operational manager or the first
// startup error.
func (b *GatewayBuilder) Build() (*GatewayManager, error) {
	if b.systemConfig != nil {
		b.gw.WithSystemConfig(b.systemConfig)
	}

	if b.monitor != nil {
		b.gw.SetMonitor(b.monitor)
		if err := b.monitor.Start(); err != nil {
			return nil, fmt.Errorf("failed to start monitor: %w", err)
		}
	}

	for _, c := range b.channels {
		b.gw.Register(c)
	}

	if b.handlerBuilder != nil {
		handler := b.handlerBuilder(b.gw)
		if handler != nil {
			b.gw.SetMessageHandler(handler.OnMessage)
		}
	}

	if err := b.gw.StartAll(); err != nil {
		return nil, fmt.Errorf("failed to start channels: %w", err)
	}

	return b.gw, nil
}
