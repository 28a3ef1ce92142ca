package service

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"log"
	"strings"
	"sync"
	"text/template"

	"github.com/iago/link-collector-back/internal/ai"
	"github.com/iago/link-collector-back/internal/cache"
	"github.com/iago/link-collector-back/internal/domain"
)

// MaxSummaryInputRunes is how much of the extracted text reaches the model.
const MaxSummaryInputRunes = 15000

//go:embed prompts/*
var promptFS embed.FS

type SummarizationDependencies struct {
	Router *ai.BackendRouter
	Cache  *cache.SummaryCache
	// Zero leaves the backend default in place.
	Temperature     float64
	MaxOutputTokens int
	Logger          *log.Logger
}

// SummarizationService turns extracted text into a knowledge block JSON
// string. It never fails: backend problems yield domain.SummarizationStub.
type SummarizationService struct {
	router          *ai.BackendRouter
	cache           *cache.SummaryCache
	temperature     float64
	maxOutputTokens int
	logger          *log.Logger

	tmplOnce sync.Once
	tmpl     *template.Template
	system   string
	tmplErr  error
}

func NewSummarizationService(deps SummarizationDependencies) *SummarizationService {
	return &SummarizationService{
		router:          deps.Router,
		cache:           deps.Cache,
		temperature:     deps.Temperature,
		maxOutputTokens: deps.MaxOutputTokens,
		logger:          deps.Logger,
	}
}

func (s *SummarizationService) Summarize(ctx context.Context, text, language string) string {
	if strings.TrimSpace(language) == "" {
		language = domain.LanguageAuto
	}
	if s.router == nil {
		s.logf("summarize skipped: no backend router configured")
		return domain.SummarizationStub
	}

	generator := s.router.Select(text, language)
	if generator == nil || !generator.Available() {
		s.logf("summarize skipped: backend unavailable")
		return domain.SummarizationStub
	}
	backend := generator.Backend()

	input := truncateRunes(text, MaxSummaryInputRunes)
	key := cache.Key(backend.Model, language, input)
	if cached, ok := s.cache.Get(key); ok {
		s.logf("summary cache hit backend=%s model=%s", cached.Backend, cached.ModelID)
		return cached.Text
	}

	prompt, system, err := s.renderPrompt(language, input)
	if err != nil {
		s.logf("render summary prompt failed: %v", err)
		return domain.SummarizationStub
	}

	s.logf("summarize backend=%s model=%s chars=%d language=%s", backend.Name, backend.Model, len([]rune(text)), language)
	result, err := generator.Generate(ctx, ai.GenerateRequest{
		Instructions:    system,
		Input:           prompt,
		Temperature:     s.temperature,
		MaxOutputTokens: s.maxOutputTokens,
		JSONOutput:      true,
	})
	if err != nil {
		s.logf("llm failed backend=%s err=%v", backend.Name, err)
		return domain.SummarizationStub
	}
	s.logf(
		"llm usage backend=%s model=%s input_tokens=%d output_tokens=%d total_tokens=%d",
		backend.Name,
		firstNonEmpty(result.ModelID, backend.Model),
		result.Usage.InputTokens,
		result.Usage.OutputTokens,
		result.Usage.TotalTokens,
	)

	cleaned := StripCodeFences(result.Text)
	if cleaned == "" {
		s.logf("llm returned empty output backend=%s", backend.Name)
		return domain.SummarizationStub
	}

	s.cache.Set(key, cache.Entry{
		Text:    cleaned,
		Backend: backend.Name,
		ModelID: firstNonEmpty(result.ModelID, backend.Model),
	})
	return cleaned
}

// LanguageDirective tells the model which language to answer in.
func LanguageDirective(language string) string {
	language = strings.TrimSpace(language)
	if language == "" || language == domain.LanguageAuto {
		return "IMPORTANT: The output MUST be in the same language as the input text."
	}
	return fmt.Sprintf("IMPORTANT: The output MUST be in %s language.", language)
}

// StripCodeFences removes markdown fences models add despite instructions.
func StripCodeFences(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	return strings.TrimSpace(text)
}

func (s *SummarizationService) renderPrompt(language, text string) (string, string, error) {
	s.tmplOnce.Do(func() {
		system, err := promptFS.ReadFile("prompts/system.txt")
		if err != nil {
			s.tmplErr = fmt.Errorf("read system prompt: %w", err)
			return
		}
		s.system = strings.TrimSpace(string(system))
		s.tmpl, s.tmplErr = template.ParseFS(promptFS, "prompts/summary.tmpl")
	})
	if s.tmplErr != nil {
		return "", "", s.tmplErr
	}

	buffer := bytes.NewBuffer(nil)
	err := s.tmpl.Execute(buffer, map[string]string{
		"LanguageDirective": LanguageDirective(language),
		"Text":              text,
	})
	if err != nil {
		return "", "", fmt.Errorf("execute summary template: %w", err)
	}
	return buffer.String(), s.system, nil
}

func truncateRunes(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	count := 0
	for index := range text {
		if count == limit {
			return text[:index]
		}
		count++
	}
	return text
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func (s *SummarizationService) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
