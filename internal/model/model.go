package model

import (
	"context"

	"github.com/stupiduntilnot/zyro/internal/prompt"
)

// CompletionResponse is the common response model for model providers.
type CompletionResponse struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// Provider is the chat-completion abstraction used by the completion client.
// Implementations make exactly one remote attempt per call.
type Provider interface {
	ChatCompletion(ctx context.Context, messages []prompt.Message) (CompletionResponse, error)
}
