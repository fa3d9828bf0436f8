package ollamalm

import (
	"log/slog"

	"echoai/pkg/config"
	"echoai/pkg/llm"
)

// Factory handles creation of Ollama clients.
type Factory struct{}

// Create implements llm.ProviderFactory.
func (f *Factory) Create(cfg llm.ProviderGroupConfig, sys *config.SystemConfig) ([]llm.LLMClient, error) {
	var clients []llm.LLMClient

	for _, model := range cfg.Models {
		baseURL := cfg.BaseURL
		if baseURL == "" && sys != nil {
			baseURL = sys.OllamaDefaultURL
		}

		client, err := NewClient(model, baseURL, cfg.Options)
		if err != nil {
			slog.Error("failed to create Ollama client", "model", model, "err", err)
			continue
		}
		if sys != nil {
			client.SetDebug(sys.DebugChunks)
			client.SetChannelBuffer(sys.InternalChannelBuffer)
		}
		clients = append(clients, client)
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("ollama", &Factory{})
}
