// Package llm provides a uniform chat-completion interface over external
// model providers, with transient-error classification and retry.
package llm

import (
	"context"

	"github.com/arbiterlabs/arbiter/pkg/models"
)

// Message is one turn in a chat request.
type Message struct {
	Role    string `json:"role"` // system | user | assistant
	Content string `json:"content"`
}

// Request is a provider-neutral chat completion request.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Response is the provider-neutral completion result.
type Response struct {
	Content string
	Usage   models.UsageCall
}

// Provider is implemented by each model backend adapter.
type Provider interface {
	// Name returns the provider key ("openai", "anthropic", ...).
	Name() string

	// Chat sends a completion request and blocks until the provider answers
	// or ctx is done. Transient failures are returned as *TransientError.
	Chat(ctx context.Context, req Request) (*Response, error)
}

// ProviderFunc adapts a function to the Provider interface. Used by tests
// and by the conversation scribe's pass-through provider.
type ProviderFunc struct {
	ProviderName string
	Fn           func(ctx context.Context, req Request) (*Response, error)
}

func (p ProviderFunc) Name() string { return p.ProviderName }

func (p ProviderFunc) Chat(ctx context.Context, req Request) (*Response, error) {
	return p.Fn(ctx, req)
}
