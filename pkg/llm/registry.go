package llm

import (
	"echoai/pkg/config"
)

// ProviderGroupConfig defines one group of models sharing an endpoint.
type ProviderGroupConfig struct {
	Type    string   `json:"type"`
	APIKeys []string `json:"api_keys,omitempty"`
	Models  []string `json:"models"`
	BaseURL string   `json:"base_url,omitempty"`

	// Dialect selects the tool-calling wire format for OpenAI-compatible
	// endpoints. Empty means DialectToolCalls.
	Dialect string `json:"dialect,omitempty"`

	// Stream disables SSE streaming when false; the non-streaming response is
	// normalized through the same delta path.
	Stream *bool `json:"stream,omitempty"`

	// Tools disables tool advertisement for this group when false.
	Tools *bool `json:"tools,omitempty"`

	Options map[string]any `json:"options,omitempty"`
}

// Streaming reports whether the group streams. Defaults to true.
func (g ProviderGroupConfig) Streaming() bool {
	return g.Stream == nil || *g.Stream
}

// ToolsEnabled reports whether the group advertises tools. Defaults to true.
func (g ProviderGroupConfig) ToolsEnabled() bool {
	return g.Tools == nil || *g.Tools
}

// ProviderFactory builds the atomic clients of one provider group.
type ProviderFactory interface {
	Create(groupConfig ProviderGroupConfig, systemConfig *config.SystemConfig) ([]LLMClient, error)
}

var providerRegistry = make(map[string]ProviderFactory)

// RegisterProvider registers a factory under a provider type name. Provider
// packages call this from init.
func RegisterProvider(name string, factory ProviderFactory) {
	providerRegistry[name] = factory
}

// GetProviderFactory looks up a registered factory.
func GetProviderFactory(name string) (ProviderFactory, bool) {
	f, ok := providerRegistry[name]
	return f, ok
}
