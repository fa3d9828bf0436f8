package web

import (
	"fmt"

	"echoai/pkg/api"
	"echoai/pkg/channels"
	"echoai/pkg/config"
	"echoai/pkg/llm"

	jsoniter "github.com/json-iterator/go"
)

// WebFactory builds WebSocket channels from raw config.
type WebFactory struct{}

// Create implements channels.ChannelFactory.
func (f *WebFactory) Create(rawConfig jsoniter.RawMessage, sessions *llm.SessionManager, _ *config.SystemConfig) (api.Channel, error) {
	pCfg := WebConfig{Port: 8080}

	if err := json.Unmarshal(rawConfig, &pCfg); err != nil {
		return nil, fmt.Errorf("failed to parse web config: %w", err)
	}

	return NewWebChannel(pCfg, sessions), nil
}

func init() {
	channels.RegisterChannel("web", &WebFactory{})
}
