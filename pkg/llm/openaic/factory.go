package openaic

import (
	"log/slog"

	"echoai/pkg/config"
	"echoai/pkg/llm"
)

// Factory handles creation of OpenAI-compatible clients. One provider group
// may fan out into several atomic clients, one per configured model.
type Factory struct{}

// Create implements llm.ProviderFactory.
func (f *Factory) Create(cfg llm.ProviderGroupConfig, sys *config.SystemConfig) ([]llm.LLMClient, error) {
	var clients []llm.LLMClient

	apiKey := ""
	if len(cfg.APIKeys) > 0 {
		apiKey = cfg.APIKeys[0]
	}

	for _, model := range cfg.Models {
		client, err := NewClient("openai", apiKey, model, cfg.BaseURL, cfg.Dialect, cfg.Options)
		if err != nil {
			slog.Error("failed to create OpenAI client", "model", model, "err", err)
			continue
		}
		client.SetStreaming(cfg.Streaming())
		client.SetToolsEnabled(cfg.ToolsEnabled())
		if sys != nil {
			client.SetDebug(sys.DebugChunks)
			client.SetChannelBuffer(sys.InternalChannelBuffer)
		}
		clients = append(clients, client)
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("openai", &Factory{})
}
