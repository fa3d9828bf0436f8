package gemini

import (
	"context"
	"log/slog"

	"echoai/pkg/config"
	"echoai/pkg/llm"
)

// Factory handles creation of Gemini clients.
type Factory struct{}

// Create implements llm.ProviderFactory.
func (f *Factory) Create(cfg llm.ProviderGroupConfig, sys *config.SystemConfig) ([]llm.LLMClient, error) {
	var clients []llm.LLMClient

	useThought := false
	if effort, ok := cfg.Options["thinking_effort"].(string); ok && effort != "" && effort != "off" {
		useThought = true
	}

	// Cartesian product: models x keys, model-major so fallback order walks
	// through all keys of one model before degrading.
	for _, model := range cfg.Models {
		for _, key := range cfg.APIKeys {
			client, err := NewClient(context.Background(), key, model, useThought)
			if err != nil {
				slog.Error("failed to create Gemini client", "model", model, "err", err)
				continue
			}
			if sys != nil {
				client.SetDebug(sys.DebugChunks)
				client.SetChannelBuffer(sys.InternalChannelBuffer)
			}
			clients = append(clients, client)
		}
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("gemini", &Factory{})
}
