// Package llm provides chat model providers and a gateway that routes
// between them with automatic failover.
package llm

import (
	"context"
	"errors"

	"waris-go/internal/model"
)

// ErrAllProvidersFailed means the primary and the fallback both failed.
var ErrAllProvidersFailed = errors.New("all llm providers failed")

// TokenWriter receives streamed tokens as they are generated. Both the
// SSE handler and the WebSocket handler implement it.
type TokenWriter interface {
	WriteToken(content string) error
}

// Options override the configured generation parameters per call. Nil
// fields keep the configured values.
type Options struct {
	Model       string
	Temperature *float64
	MaxTokens   *int
}

// Provider is one chat model backend.
type Provider interface {
	// Name identifies the provider ("openrouter", "ollama").
	Name() string
	// Model reports the default model this provider is configured with.
	Model() string
	// Available reports whether the provider is configured at all.
	Available() bool
	// Chat sends a full conversation and returns the complete answer.
	Chat(ctx context.Context, messages []model.ChatMessage, opts Options) (string, error)
	// StreamChat sends a full conversation and writes tokens to w as they
	// arrive.
	StreamChat(ctx context.Context, messages []model.ChatMessage, opts Options, w TokenWriter) error
}
