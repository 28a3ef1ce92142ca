package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/iago/link-collector-back/internal/config"
	"github.com/iago/link-collector-back/internal/domain"
	"github.com/iago/link-collector-back/internal/queue"
	"github.com/iago/link-collector-back/internal/quota"
	"github.com/iago/link-collector-back/internal/repository"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestNewInMemory(t *testing.T) {
	application, err := New(context.Background(), config.Config{WorkerConcurrency: 1}, testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer application.Close()

	if _, ok := application.Repo.(*repository.MemoryJobsRepository); !ok {
		t.Fatalf("expected memory repository, got %T", application.Repo)
	}
	if _, ok := application.Quota.(quota.Allow); !ok {
		t.Fatalf("expected allow gate, got %T", application.Quota)
	}
	if application.Distributed {
		t.Fatalf("in-memory wiring must not be distributed")
	}
	if err := application.RunWorker(context.Background(), true); !errors.Is(err, ErrLocalOnly) {
		t.Fatalf("standalone worker must refuse in-process queue, got %v", err)
	}

	recorder := httptest.NewRecorder()
	application.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))
	if recorder.Code != http.StatusOK || !strings.Contains(recorder.Body.String(), "healthy") {
		t.Fatalf("unexpected health response %d %s", recorder.Code, recorder.Body.String())
	}
}

func TestNewWithSQLiteQuota(t *testing.T) {
	cfg := config.Config{QuotaSQLitePath: filepath.Join(t.TempDir(), "quota.db")}
	application, err := New(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer application.Close()

	profile, err := application.Quota.Check(context.Background(), "")
	if err != nil || profile != quota.DemoProfile() {
		t.Fatalf("expected demo profile from sqlite gate, got %+v %v", profile, err)
	}
	if _, err := application.Quota.Check(context.Background(), "stranger"); err == nil {
		t.Fatalf("sqlite gate must reject unknown users")
	}
}

func TestRunWorkerStopsWithContext(t *testing.T) {
	application, err := New(context.Background(), config.Config{WorkerConcurrency: 2}, testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer application.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := application.RunWorker(ctx, false); err != nil {
		t.Fatalf("in-process worker: %v", err)
	}
}

func TestCloseReportsLocalDeadLetters(t *testing.T) {
	var logs bytes.Buffer
	application, err := New(context.Background(), config.Config{WorkerConcurrency: 1}, log.New(&logs, "", 0))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	local, ok := application.Consumer.(*queue.LocalQueue)
	if !ok {
		t.Fatalf("expected local queue, got %T", application.Consumer)
	}

	message := domain.QueueMessage{JobID: "missing-job", URL: "https://example.com/a"}
	if err := application.Producer.Enqueue(context.Background(), message); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = application.RunWorker(ctx, false)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for local.DLQSize() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done
	if local.DLQSize() != 1 {
		t.Fatalf("expected one dead letter, got %d", local.DLQSize())
	}

	application.Close()
	if !strings.Contains(logs.String(), "local queue dead letter job_id=missing-job url=https://example.com/a") {
		t.Fatalf("dead letter not reported on close: %s", logs.String())
	}
}
