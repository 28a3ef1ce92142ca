package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/iago/link-collector-back/internal/domain"
)

var ErrScraperUnavailable = errors.New("managed scraper not configured")

// Scraper is a hosted scraping service that returns page text directly.
type Scraper interface {
	Available() bool
	Scrape(ctx context.Context, pageURL string) (string, error)
}

type FirecrawlConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// FirecrawlClient calls the Firecrawl v1 scrape endpoint asking for markdown.
type FirecrawlClient struct {
	apiKey     string
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

func NewFirecrawlClient(config FirecrawlConfig) *FirecrawlClient {
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = "https://api.firecrawl.dev"
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	return &FirecrawlClient{
		apiKey:     strings.TrimSpace(config.APIKey),
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		timeout:    config.Timeout,
		httpClient: config.HTTPClient,
	}
}

func (c *FirecrawlClient) Available() bool {
	return c.apiKey != ""
}

type firecrawlScrapeRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats"`
}

type firecrawlScrapeResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Markdown string `json:"markdown"`
	} `json:"data"`
	Error string `json:"error"`
}

func (c *FirecrawlClient) Scrape(ctx context.Context, pageURL string) (string, error) {
	if !c.Available() {
		return "", ErrScraperUnavailable
	}

	payload, err := json.Marshal(firecrawlScrapeRequest{URL: pageURL, Formats: []string{"markdown"}})
	if err != nil {
		return "", fmt.Errorf("marshal firecrawl payload: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, c.baseURL+"/v1/scrape", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create firecrawl request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+c.apiKey)
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("firecrawl: %w", domain.ErrUpstreamTimeout)
		}
		return "", fmt.Errorf("firecrawl transport error: %w", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("read firecrawl body: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		message := strings.TrimSpace(string(body))
		if len(message) > 500 {
			message = message[:500]
		}
		return "", fmt.Errorf("firecrawl status %d: %s", response.StatusCode, message)
	}

	var decoded firecrawlScrapeResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("decode firecrawl response: %w", err)
	}
	if !decoded.Success && decoded.Error != "" {
		return "", fmt.Errorf("firecrawl: %s", decoded.Error)
	}
	return strings.TrimSpace(decoded.Data.Markdown), nil
}
