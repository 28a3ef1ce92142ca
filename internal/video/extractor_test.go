package video

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/iago/link-collector-back/internal/domain"
	"github.com/iago/link-collector-back/internal/offload"
)

type fakeTranscripts struct {
	text  string
	err   error
	calls int
}

func (f *fakeTranscripts) Transcript(context.Context, string) (string, error) {
	f.calls++
	return f.text, f.err
}

type fakeTranscriber struct {
	text     string
	err      error
	calls    int
	sawFile  bool
	lastPath string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, path string) (string, error) {
	f.calls++
	f.lastPath = path
	_, statErr := os.Stat(path)
	f.sawFile = statErr == nil
	return f.text, f.err
}

type fakeMetadata struct {
	meta  Metadata
	err   error
	calls int
}

func (f *fakeMetadata) Metadata(context.Context, string) (Metadata, error) {
	f.calls++
	return f.meta, f.err
}

const testVideoURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

func TestProcessUsesTranscriptFirst(t *testing.T) {
	transcripts := &fakeTranscripts{text: "caption line"}
	transcriber := &fakeTranscriber{text: "audio"}
	metadata := &fakeMetadata{meta: Metadata{Title: "t", Description: "d"}}
	runner := &scriptedRunner{files: []string{".mp3"}}

	extractor := NewExtractor(Dependencies{
		Transcripts: transcripts,
		Audio:       NewYTDLP(YTDLPConfig{DownloadDir: t.TempDir(), Runner: runner}),
		Metadata:    metadata,
		Transcriber: transcriber,
		Pool:        offload.NewPool(1),
	})
	result, err := extractor.Process(context.Background(), testVideoURL)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Method != domain.MethodTranscript || result.Content != "caption line" {
		t.Fatalf("unexpected result %+v", result)
	}
	if transcriber.calls != 0 || metadata.calls != 0 || runner.args != nil {
		t.Fatalf("later tiers must not run")
	}
}

func TestProcessTranscribesAudioAndRemovesFile(t *testing.T) {
	dir := t.TempDir()
	transcriber := &fakeTranscriber{text: "spoken words"}

	extractor := NewExtractor(Dependencies{
		Transcripts: &fakeTranscripts{err: errors.New("captions disabled")},
		Audio:       NewYTDLP(YTDLPConfig{DownloadDir: dir, Runner: &scriptedRunner{files: []string{".mp3"}}}),
		Metadata:    &fakeMetadata{meta: Metadata{Title: "t", Description: "d"}},
		Transcriber: transcriber,
		Pool:        offload.NewPool(1),
	})
	result, err := extractor.Process(context.Background(), testVideoURL)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Method != domain.MethodAudioTranscription || result.Content != "spoken words" {
		t.Fatalf("unexpected result %+v", result)
	}
	if !transcriber.sawFile {
		t.Fatalf("transcriber should receive an existing file")
	}
	if names := dirEntries(t, dir); len(names) != 0 {
		t.Fatalf("audio file left behind: %v", names)
	}
}

func TestProcessRemovesAudioWhenTranscriptionFails(t *testing.T) {
	dir := t.TempDir()
	metadata := &fakeMetadata{meta: Metadata{Title: "Talk", Description: "About Go."}}

	extractor := NewExtractor(Dependencies{
		Transcripts: &fakeTranscripts{err: errors.New("captions disabled")},
		Audio:       NewYTDLP(YTDLPConfig{DownloadDir: dir, Runner: &scriptedRunner{files: []string{".mp3"}}}),
		Metadata:    metadata,
		Transcriber: &fakeTranscriber{err: domain.ErrTranscriptionFailed},
		Pool:        offload.NewPool(1),
	})
	result, err := extractor.Process(context.Background(), testVideoURL)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Method != domain.MethodMetadataFallback {
		t.Fatalf("expected metadata fallback, got %s", result.Method)
	}
	if names := dirEntries(t, dir); len(names) != 0 {
		t.Fatalf("audio file left behind: %v", names)
	}
}

func TestProcessFallsBackToMetadataWhenDownloadFails(t *testing.T) {
	dir := t.TempDir()
	transcriber := &fakeTranscriber{text: "unused"}

	extractor := NewExtractor(Dependencies{
		Transcripts: &fakeTranscripts{err: errors.New("captions disabled")},
		Audio:       NewYTDLP(YTDLPConfig{DownloadDir: dir, Runner: &scriptedRunner{files: []string{".m4a.part"}, err: errors.New("exit status 1")}}),
		Metadata:    &fakeMetadata{meta: Metadata{Title: "Talk", Description: "About Go."}},
		Transcriber: transcriber,
	})
	result, err := extractor.Process(context.Background(), testVideoURL)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !strings.Contains(result.Content, MetadataNote) || !strings.Contains(result.Content, "VIDEO TITLE: Talk") {
		t.Fatalf("unexpected content %q", result.Content)
	}
	if transcriber.calls != 0 {
		t.Fatalf("transcriber must not run without audio")
	}
	if names := dirEntries(t, dir); len(names) != 0 {
		t.Fatalf("partial files left behind: %v", names)
	}
}

func TestProcessAllTiersFail(t *testing.T) {
	extractor := NewExtractor(Dependencies{
		Transcripts: &fakeTranscripts{err: errors.New("captions disabled")},
		Metadata:    &fakeMetadata{err: errors.New("yt-dlp missing")},
	})
	_, err := extractor.Process(context.Background(), testVideoURL)
	if !errors.Is(err, domain.ErrExtractionFailed) {
		t.Fatalf("expected ErrExtractionFailed, got %v", err)
	}
	if err.Error() != domain.VideoExhaustedMessage {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestProcessRejectsURLWithoutID(t *testing.T) {
	transcripts := &fakeTranscripts{text: "never"}
	extractor := NewExtractor(Dependencies{Transcripts: transcripts})
	if _, err := extractor.Process(context.Background(), "https://www.youtube.com/feed/trending"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if transcripts.calls != 0 {
		t.Fatalf("no tier should run for an invalid URL")
	}
}
