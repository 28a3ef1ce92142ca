package ai

import (
	"strings"
	"unicode/utf8"
)

const (
	OpenAIBaseURL = "https://api.openai.com/v1"
	GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	GroqBaseURL   = "https://api.groq.com/openai/v1"

	DefaultModel = "gpt-4o-mini"
	LowCostModel = "gemini-1.5-flash"

	// LowCostThreshold is the input length (in characters) above which
	// auto-language requests go to the low-cost backend.
	LowCostThreshold = 10000
)

// Backend is an OpenAI-compatible chat endpoint and the model it serves.
// SupportsStructuredOutput reports whether it accepts a JSON response format.
type Backend struct {
	Name                     string
	BaseURL                  string
	Model                    string
	APIKey                   string
	SupportsStructuredOutput bool
}

func DefaultBackend(apiKey string) Backend {
	return Backend{
		Name:                     "openai",
		BaseURL:                  OpenAIBaseURL,
		Model:                    DefaultModel,
		APIKey:                   apiKey,
		SupportsStructuredOutput: true,
	}
}

func LowCostBackend(apiKey string) Backend {
	return Backend{
		Name:    "gemini",
		BaseURL: GeminiBaseURL,
		Model:   LowCostModel,
		APIKey:  apiKey,
	}
}

type BackendRouterConfig struct {
	Default   TextGenerator
	LowCost   TextGenerator
	Threshold int
}

// BackendRouter picks the backend for a summarization call.
type BackendRouter struct {
	defaultGenerator TextGenerator
	lowCost          TextGenerator
	threshold        int
}

func NewBackendRouter(config BackendRouterConfig) *BackendRouter {
	if config.Threshold <= 0 {
		config.Threshold = LowCostThreshold
	}
	if config.LowCost == nil {
		config.LowCost = config.Default
	}
	return &BackendRouter{
		defaultGenerator: config.Default,
		lowCost:          config.LowCost,
		threshold:        config.Threshold,
	}
}

// Select returns the low-cost backend only when the text is longer than the
// threshold and no explicit output language was requested.
func (r *BackendRouter) Select(text string, language string) TextGenerator {
	if UseLowCost(utf8.RuneCountInString(text), language, r.threshold) {
		return r.lowCost
	}
	return r.defaultGenerator
}

func UseLowCost(length int, language string, threshold int) bool {
	return length > threshold && strings.TrimSpace(language) == "Auto"
}
