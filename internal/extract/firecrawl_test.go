package extract

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFirecrawlScrapeSendsPinnedRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/scrape" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer fc-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var payload firecrawlScrapeRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if payload.URL != "https://example.com/a" || len(payload.Formats) != 1 || payload.Formats[0] != "markdown" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"markdown":"# Hello\n\nworld"}}`))
	}))
	defer server.Close()

	client := NewFirecrawlClient(FirecrawlConfig{APIKey: "fc-key", BaseURL: server.URL})
	text, err := client.Scrape(context.Background(), "https://example.com/a")
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	if text != "# Hello\n\nworld" {
		t.Fatalf("unexpected markdown %q", text)
	}
}

func TestFirecrawlWithoutKey(t *testing.T) {
	client := NewFirecrawlClient(FirecrawlConfig{})
	if client.Available() {
		t.Fatalf("client without key must be unavailable")
	}
	if _, err := client.Scrape(context.Background(), "https://example.com"); !errors.Is(err, ErrScraperUnavailable) {
		t.Fatalf("expected ErrScraperUnavailable, got %v", err)
	}
}

func TestFirecrawlReportsProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"success":false,"error":"insufficient credits"}`))
	}))
	defer server.Close()

	client := NewFirecrawlClient(FirecrawlConfig{APIKey: "fc-key", BaseURL: server.URL})
	if _, err := client.Scrape(context.Background(), "https://example.com"); err == nil {
		t.Fatalf("expected error")
	}
}
