package ai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/iago/link-collector-back/internal/domain"
)

// Transcriber turns an audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

type GroqTranscriberConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// GroqTranscriber uploads audio to an OpenAI-compatible
// /audio/transcriptions endpoint and returns the plain-text transcript.
type GroqTranscriber struct {
	apiKey     string
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
}

func NewGroqTranscriber(config GroqTranscriberConfig) *GroqTranscriber {
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = GroqBaseURL
	}
	if strings.TrimSpace(config.Model) == "" {
		config.Model = "whisper-large-v3"
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Minute
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	return &GroqTranscriber{
		apiKey:     strings.TrimSpace(config.APIKey),
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		model:      config.Model,
		timeout:    config.Timeout,
		httpClient: config.HTTPClient,
	}
}

func (t *GroqTranscriber) Available() bool {
	return t.apiKey != ""
}

func (t *GroqTranscriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if !t.Available() {
		return "", fmt.Errorf("%w: groq: %w", domain.ErrTranscriptionFailed, ErrProviderUnavailable)
	}

	body, contentType, err := t.buildUpload(audioPath)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrTranscriptionFailed, err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, t.baseURL+"/audio/transcriptions", body)
	if err != nil {
		return "", fmt.Errorf("%w: create request: %w", domain.ErrTranscriptionFailed, err)
	}
	request.Header.Set("Authorization", "Bearer "+t.apiKey)
	request.Header.Set("Content-Type", contentType)

	response, err := t.httpClient.Do(request)
	if err != nil {
		if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %w", domain.ErrTranscriptionFailed, domain.ErrUpstreamTimeout)
		}
		return "", fmt.Errorf("%w: transport: %w", domain.ErrTranscriptionFailed, err)
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(response.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read body: %w", domain.ErrTranscriptionFailed, err)
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return "", fmt.Errorf("%w: %w", domain.ErrTranscriptionFailed, newProviderHTTPError("groq", response.StatusCode, payload))
	}

	text := strings.TrimSpace(string(payload))
	if text == "" {
		return "", fmt.Errorf("%w: empty transcript", domain.ErrTranscriptionFailed)
	}
	return text, nil
}

func (t *GroqTranscriber) buildUpload(audioPath string) (io.Reader, string, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, "", fmt.Errorf("open audio: %w", err)
	}
	defer file.Close()

	buffer := &bytes.Buffer{}
	writer := multipart.NewWriter(buffer)
	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", fmt.Errorf("copy audio: %w", err)
	}
	if err := writer.WriteField("model", t.model); err != nil {
		return nil, "", err
	}
	if err := writer.WriteField("response_format", "text"); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return buffer, writer.FormDataContentType(), nil
}
