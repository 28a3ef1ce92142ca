package ai

import (
	"context"
	"errors"
)

var ErrProviderUnavailable = errors.New("llm provider unavailable")

type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

type GenerateRequest struct {
	Instructions    string
	Input           string
	Temperature     float64
	MaxOutputTokens int
	// JSONOutput asks for a JSON object response when the backend supports it.
	JSONOutput bool
}

type GenerateResult struct {
	Text    string
	ModelID string
	Usage   TokenUsage
}

// TextGenerator is one chat-completion backend.
type TextGenerator interface {
	Generate(ctx context.Context, request GenerateRequest) (GenerateResult, error)
	Available() bool
	Backend() Backend
}
