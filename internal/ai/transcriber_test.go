package ai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/iago/link-collector-back/internal/domain"
)

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp3")
	if err := os.WriteFile(path, []byte("ID3fake-audio"), 0o600); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	return path
}

func TestGroqTranscriberUploadsMultipart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.FormValue("model") != "whisper-large-v3" || r.FormValue("response_format") != "text" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		content, _ := io.ReadAll(file)
		if header.Filename != "clip.mp3" || string(content) != "ID3fake-audio" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte("  hello from the audio  \n"))
	}))
	defer server.Close()

	transcriber := NewGroqTranscriber(GroqTranscriberConfig{
		APIKey:  "groq-key",
		BaseURL: server.URL,
		Timeout: 2 * time.Second,
	})
	text, err := transcriber.Transcribe(context.Background(), writeAudio(t))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "hello from the audio" {
		t.Fatalf("unexpected transcript %q", text)
	}
}

func TestGroqTranscriberWrapsProviderErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"down"}`))
	}))
	defer server.Close()

	transcriber := NewGroqTranscriber(GroqTranscriberConfig{APIKey: "groq-key", BaseURL: server.URL})
	_, err := transcriber.Transcribe(context.Background(), writeAudio(t))
	if !errors.Is(err, domain.ErrTranscriptionFailed) {
		t.Fatalf("expected ErrTranscriptionFailed, got %v", err)
	}
}

func TestGroqTranscriberMissingFile(t *testing.T) {
	transcriber := NewGroqTranscriber(GroqTranscriberConfig{APIKey: "groq-key"})
	_, err := transcriber.Transcribe(context.Background(), filepath.Join(t.TempDir(), "missing.mp3"))
	if !errors.Is(err, domain.ErrTranscriptionFailed) {
		t.Fatalf("expected ErrTranscriptionFailed, got %v", err)
	}
}
