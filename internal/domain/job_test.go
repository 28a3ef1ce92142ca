package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestJobLifecycleCompleted(t *testing.T) {
	now := time.Now().UTC()
	job := NewJob("job-1", "https://example.com", "demo_user", "", now)
	if job.Status != JobStatusQueued {
		t.Fatalf("expected queued, got %s", job.Status)
	}
	if job.Language != LanguageAuto {
		t.Fatalf("expected default language Auto, got %q", job.Language)
	}

	if err := job.MarkProcessing(now); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if err := job.Complete(json.RawMessage(`{"data":{}}`), now); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(job.Result) == 0 || job.ErrorMessage != "" {
		t.Fatalf("completed job must carry result and no error, got result=%s err=%q", job.Result, job.ErrorMessage)
	}
}

func TestJobRejectsBackwardTransitions(t *testing.T) {
	now := time.Now().UTC()
	job := NewJob("job-1", "https://example.com", "demo_user", "English", now)
	if err := job.MarkProcessing(now); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if err := job.Fail("boom", now); err != nil {
		t.Fatalf("fail: %v", err)
	}

	if err := job.MarkProcessing(now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := job.Complete(json.RawMessage(`{}`), now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if job.Status != JobStatusFailed || job.ErrorMessage != "boom" || job.Result != nil {
		t.Fatalf("terminal job mutated: %+v", job)
	}
}

func TestJobCompleteRequiresResult(t *testing.T) {
	now := time.Now().UTC()
	job := NewJob("job-1", "https://example.com", "demo_user", "Auto", now)
	_ = job.MarkProcessing(now)
	if err := job.Complete(nil, now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected error for empty result, got %v", err)
	}
	if job.Status != JobStatusProcessing {
		t.Fatalf("status changed on rejected completion: %s", job.Status)
	}
}

func TestJobFailWithoutMessageUsesUnknownError(t *testing.T) {
	now := time.Now().UTC()
	job := NewJob("job-1", "https://example.com", "demo_user", "Auto", now)
	if err := job.Fail("  ", now); err != nil {
		t.Fatalf("queued job should be allowed to fail: %v", err)
	}
	if job.ErrorMessage != UnknownErrorMessage {
		t.Fatalf("expected %q, got %q", UnknownErrorMessage, job.ErrorMessage)
	}
}
