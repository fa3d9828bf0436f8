package config

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
)

// Config defines the global application configuration structure.
// This structure maps directly to the config.json file and holds
// business-level settings like channel API keys and LLM provider choices.
type Config struct {
	// Channels contains a map of channel identifiers (e.g., "telegram", "web")
	// to their specific configuration payloads in raw JSON format.
	Channels map[string]jsoniter.RawMessage `json:"channels"`
	// LLM holds the configuration for the LLM provider groups in raw JSON.
	LLM jsoniter.RawMessage `json:"llm"`
	// SystemPrompt is the global persona/instruction string used as the
	// initial system message in every conversation.
	SystemPrompt string `json:"system_prompt"`
}

// Validate ensures the configuration structure contains all mandatory fields.
// It acts as a primary guard before the system proceeds to initialization.
func (c *Config) Validate() error {
	if len(c.LLM) == 0 {
		return fmt.Errorf("mandatory 'llm' configuration is missing or empty")
	}
	return nil
}

// SystemConfig defines engine-level technical parameters. These settings are
// stored in system.json and control performance, reliability, and the
// technical behavior of the orchestration engine.
type SystemConfig struct {
	// MaxRetries is the number of times the system will attempt to
	// recover from a transient LLM or network error before giving up.
	MaxRetries int `json:"max_retries"`
	// RetryDelayMs is the duration to wait (in milliseconds) between
	// consecutive retry attempts.
	RetryDelayMs int `json:"retry_delay_ms"`
	// LLMTimeoutMs is the hard cutoff time (in milliseconds) for an
	// LLM request. The context will be cancelled if exceeded.
	LLMTimeoutMs int `json:"llm_timeout_ms"`
	// MaxToolIterations caps the number of request/tool-execution cycles one
	// user turn may trigger before the engine aborts with an error.
	MaxToolIterations int `json:"max_tool_iterations"`
	// HistoryMaxChars is the character budget for conversation history.
	// Oldest non-system messages beyond it are dropped before each request.
	// Zero disables trimming.
	HistoryMaxChars int `json:"history_max_chars"`
	// SessionStorageDir is the directory where per-session conversation
	// histories are persisted as JSON. Empty disables persistence.
	SessionStorageDir string `json:"session_storage_dir"`
	// CommandTimeoutMs is the wall-clock limit (in milliseconds) for the
	// run_command tool.
	CommandTimeoutMs int `json:"command_timeout_ms"`
	// FetchTimeoutMs is the HTTP timeout (in milliseconds) for the
	// fetch_webpage tool.
	FetchTimeoutMs int `json:"fetch_timeout_ms"`
	// SafeMode requires interactive confirmation before executing tools that
	// touch the host, such as run_command.
	SafeMode bool `json:"safe_mode"`
	// OllamaDefaultURL is the fallback endpoint used when connecting
	// to a local Ollama instance if no specific URL is provided.
	OllamaDefaultURL string `json:"ollama_default_url"`
	// InternalChannelBuffer defines the size of the internal Go channels
	// used for buffering stream chunks to prevent production blocking.
	InternalChannelBuffer int `json:"internal_channel_buffer"`
	// ThinkingInitDelayMs is the time to wait (in milliseconds) after a
	// user message before emitting the "thinking" status signal.
	ThinkingInitDelayMs int `json:"thinking_init_delay_ms"`
	// ThinkingTokenDelayMs is the threshold (in milliseconds) used to
	// detect a streaming pause, triggering a thinking signal.
	ThinkingTokenDelayMs int `json:"thinking_token_delay_ms"`
	// TelegramMessageLimit is the maximum character count for a single
	// Telegram message. Longer responses will be split into multiple chunks.
	TelegramMessageLimit int `json:"telegram_message_limit"`
	// DownloadTimeoutMs is the timeout (in milliseconds) applied when
	// fetching external media or files (e.g., from Telegram servers).
	DownloadTimeoutMs int `json:"download_timeout_ms"`
	// ShowThinking determines whether the AI's internal reasoning process
	// (thinking blocks) should be streamed and displayed to the end user.
	ShowThinking bool `json:"show_thinking"`
	// DebugChunks enables saving every raw LLM response chunk to the /debug
	// folder for inspection and troubleshooting purposes.
	DebugChunks bool `json:"debug_chunks"`
	// LogLevel sets the minimum severity for log output.
	// Accepted values: "debug", "info", "warn", "error". Default: "info".
	LogLevel string `json:"log_level"`
	// EnableTools globally toggles tool calling. If false, the model is not
	// offered any tools and responses are plain text.
	EnableTools bool `json:"enable_tools"`
}

// DefaultSystemConfig returns a SystemConfig pointer initialized with safe
// default values. This is used as a fallback when the system.json file is
// missing or corrupt, ensuring the engine can always start.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		MaxRetries:            3,
		RetryDelayMs:          500,
		LLMTimeoutMs:          600000,
		MaxToolIterations:     10,
		HistoryMaxChars:       0,
		CommandTimeoutMs:      10000,
		FetchTimeoutMs:        10000,
		OllamaDefaultURL:      "http://localhost:11434",
		InternalChannelBuffer: 100,
		ThinkingInitDelayMs:   500,
		ThinkingTokenDelayMs:  200,
		TelegramMessageLimit:  4000,
		DownloadTimeoutMs:     10000,
		ShowThinking:          true,
		LogLevel:              "info",
		EnableTools:           true,
	}
}

// Load reads and parses the JSON configuration files from the current working
// directory. 'config.json' (app config) is mandatory; 'system.json' falls back
// to defaults when missing or corrupt.
func Load() (*Config, *SystemConfig, error) {
	appPath := "config.json"
	if _, err := os.Stat(appPath); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("config file '%s' not found. please create one", appPath)
	}

	appFile, err := os.ReadFile(appPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(appFile, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	sysCfg := LoadSystemConfig("system.json")

	return &cfg, sysCfg, nil
}

// LoadSystemConfig attempts to load system settings, returns defaults if it fails.
func LoadSystemConfig(path string) *SystemConfig {
	cfg := DefaultSystemConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}

	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(file, cfg); err != nil {
		return cfg
	}

	return cfg
}
