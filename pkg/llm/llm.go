package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ToolDefinition describes one callable tool advertised to the model.
// Providers translate this neutral shape into their wire format.
type ToolDefinition struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Parameters  map[string]ParamSpec `json:"parameters,omitempty"`
}

// ParamSpec describes a single tool parameter.
type ParamSpec struct {
	Type        string `json:"type"` // string | number | boolean | array | object
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// LLMClient is the common provider client interface. StreamChat returns a
// channel of normalized chunks; the channel is closed after the final chunk.
// Tool execution failures never travel through the error return, only
// request-construction and connection failures do.
type LLMClient interface {
	StreamChat(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error)

	// IsTransientError classifies an error for retry purposes (503, rate
	// limits, timeouts). Each client knows its own provider's failure modes.
	IsTransientError(err error) bool

	// SetModel swaps the model identifier used for subsequent requests.
	SetModel(model string)
}

// FallbackClient tries a chain of clients in order, retrying transient
// failures on each before moving on.
type FallbackClient struct {
	Clients    []LLMClient
	MaxRetries int
	RetryDelay time.Duration
}

func (f *FallbackClient) StreamChat(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error) {
	var lastErr error
	for i, client := range f.Clients {
		if i > 0 {
			slog.Warn("provider failed, trying fallback", "provider_index", i)
		}

		maxRetries := f.MaxRetries
		if maxRetries <= 0 {
			maxRetries = 1
		}

		for retry := 1; retry <= maxRetries; retry++ {
			if retry > 1 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(time.Duration(retry-1) * f.RetryDelay):
				}
			}

			ch, err := client.StreamChat(ctx, messages, tools)
			if err == nil {
				return ch, nil
			}
			lastErr = err

			if client.IsTransientError(err) && retry < maxRetries {
				slog.Warn("transient provider error, retrying",
					"provider_index", i, "attempt", retry, "max", maxRetries, "err", err)
				continue
			}

			slog.Error("provider failed", "provider_index", i, "err", err)
			break
		}
	}
	return nil, fmt.Errorf("all fallback providers failed, last error: %w", lastErr)
}

// IsTransientError always reports false: a FallbackClient error means every
// child already exhausted its own retries.
func (f *FallbackClient) IsTransientError(err error) bool {
	return false
}

// SetModel forwards the model swap to every child client.
func (f *FallbackClient) SetModel(model string) {
	for _, c := range f.Clients {
		c.SetModel(model)
	}
}
