package channels

import (
	"echoai/pkg/api"
	"echoai/pkg/config"
	"echoai/pkg/llm"

	jsoniter "github.com/json-iterator/go"
)

// ChannelFactory is the abstract interface for platform-specific channel
// creators. New platforms (Discord, Line, ...) plug in here without touching
// the gateway core.
type ChannelFactory interface {
	// Create instantiates a concrete Channel from its raw JSON config block
	// and the shared system resources.
	Create(rawConfig jsoniter.RawMessage, sessions *llm.SessionManager, system *config.SystemConfig) (api.Channel, error)
}

var channelRegistry = make(map[string]ChannelFactory)

// RegisterChannel adds a factory under a platform name. Called from each
// platform package's init().
func RegisterChannel(name string, factory ChannelFactory) {
	channelRegistry[name] = factory
}

// GetChannelFactory retrieves a registered factory by platform name.
func GetChannelFactory(name string) (ChannelFactory, bool) {
	f, ok := channelRegistry[name]
	return f, ok
}
