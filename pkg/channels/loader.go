package channels

import (
	"log/slog"

	"echoai/pkg/api"
	"echoai/pkg/config"
	"echoai/pkg/llm"

	jsoniter "github.com/json-iterator/go"
)

// LoadFromConfig builds every channel named in the configuration map.
// Unknown platform names and construction failures are logged and skipped so
// one broken channel cannot take down the rest.
func LoadFromConfig(configs map[string]jsoniter.RawMessage, sessions *llm.SessionManager, system *config.SystemConfig) []api.Channel {
	var built []api.Channel

	for name, rawConfig := range configs {
		factory, ok := GetChannelFactory(name)
		if !ok {
			slog.Warn("unknown channel type", "name", name)
			continue
		}

		channel, err := factory.Create(rawConfig, sessions, system)
		if err != nil {
			slog.Error("failed to create channel", "name", name, "err", err)
			continue
		}
		if channel == nil {
			continue
		}

		built = append(built, channel)
		slog.Info("channel created", "name", name)
	}

	return built
}
