package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/iago/link-collector-back/internal/domain"
	"github.com/iago/link-collector-back/internal/http/handlers"
	"github.com/iago/link-collector-back/internal/queue"
	"github.com/iago/link-collector-back/internal/quota"
	"github.com/iago/link-collector-back/internal/repository"
	"github.com/iago/link-collector-back/internal/service"
)

const testToken = "test-token"

type testServer struct {
	handler http.Handler
	repo    *repository.MemoryJobsRepository
	store   *quota.SQLiteStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := quota.OpenSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open quota store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	repo := repository.NewMemoryJobsRepository()
	local := queue.NewLocalQueue(64, nil)
	api := handlers.NewAPI(handlers.APIDependencies{
		Jobs:          service.NewJobsService(repo, local, nil),
		Quota:         quota.NewChecker(store, nil),
		WatchInterval: 10 * time.Millisecond,
	})
	return &testServer{
		handler: NewRouter(RouterDependencies{API: api, AuthToken: testToken, CORSOrigins: []string{"*"}, RateLimitRPS: 1000, RateLimitBurst: 1000}),
		repo:    repo,
		store:   store,
	}
}

func (s *testServer) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+testToken)
	for key, value := range headers {
		request.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var decoded map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode body %q: %v", recorder.Body.String(), err)
	}
	return decoded
}

func errorMessage(body map[string]any) string {
	envelope, _ := body["error"].(map[string]any)
	message, _ := envelope["message"].(string)
	return message
}

func TestPublicEndpoints(t *testing.T) {
	server := newTestServer(t)

	for path, want := range map[string]string{
		"/":       `"status":"ok"`,
		"/health": `"status":"healthy"`,
	} {
		request := httptest.NewRequest(http.MethodGet, path, nil)
		recorder := httptest.NewRecorder()
		server.handler.ServeHTTP(recorder, request)
		if recorder.Code != http.StatusOK || !strings.Contains(recorder.Body.String(), want) {
			t.Fatalf("GET %s: unexpected response %d %s", path, recorder.Code, recorder.Body.String())
		}
	}

	request := httptest.NewRequest(http.MethodGet, "/status/anything", nil)
	recorder := httptest.NewRecorder()
	server.handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status endpoint must require auth, got %d", recorder.Code)
	}
}

func TestProcessQueuesJobWithoutRunningIt(t *testing.T) {
	server := newTestServer(t)

	recorder := server.do(t, http.MethodPost, "/process", `{"url":"https://example.com/post"}`, nil)
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d %s", recorder.Code, recorder.Body.String())
	}
	body := decodeBody(t, recorder)
	jobID, _ := body["job_id"].(string)
	if jobID == "" || body["status"] != "queued" || body["status_url"] != "/status/"+jobID || body["remaining_quota"] != float64(50) {
		t.Fatalf("unexpected process response %+v", body)
	}

	job, err := server.repo.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("job not stored: %v", err)
	}
	if job.UserID != quota.DemoUserID || job.Language != domain.LanguageAuto {
		t.Fatalf("defaults not applied: %+v", job)
	}

	status := server.do(t, http.MethodGet, "/status/"+jobID, "", nil)
	if status.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", status.Code)
	}
	statusBody := decodeBody(t, status)
	if statusBody["status"] != "queued" || statusBody["result"] != nil || statusBody["job_id"] != jobID {
		t.Fatalf("job must stay queued until a worker runs: %+v", statusBody)
	}
}

func TestProcessRejectsInvalidInput(t *testing.T) {
	server := newTestServer(t)

	cases := map[string]string{
		"malformed json": `{"url":`,
		"unknown field":  `{"url":"https://example.com","extra":true}`,
		"missing url":    `{"user_id":"demo_user"}`,
		"bad scheme":     `{"url":"ftp://example.com/file"}`,
	}
	for name, payload := range cases {
		recorder := server.do(t, http.MethodPost, "/process", payload, nil)
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d %s", name, recorder.Code, recorder.Body.String())
		}
		if body := decodeBody(t, recorder); body["request_id"] == "" || errorMessage(body) == "" {
			t.Fatalf("%s: expected error envelope, got %+v", name, body)
		}
	}
}

func TestProcessEnforcesQuota(t *testing.T) {
	server := newTestServer(t)
	ctx := context.Background()
	if err := server.store.UpsertProfile(ctx, quota.Profile{ID: "p-1", UserID: "user_1", Tier: quota.TierFree, MonthlyCredits: 1}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	first := server.do(t, http.MethodPost, "/process", `{"url":"https://example.com","user_id":"user_1"}`, nil)
	if first.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", first.Code)
	}
	second := server.do(t, http.MethodPost, "/process", `{"url":"https://example.com/2","user_id":"user_1"}`, nil)
	if second.Code != http.StatusPaymentRequired || errorMessage(decodeBody(t, second)) != domain.QuotaExceededMessage {
		t.Fatalf("expected 402, got %d %s", second.Code, second.Body.String())
	}

	unknown := server.do(t, http.MethodPost, "/process", `{"url":"https://example.com","user_id":"ghost"}`, nil)
	if unknown.Code != http.StatusNotFound || errorMessage(decodeBody(t, unknown)) != "User profile not found" {
		t.Fatalf("expected 404, got %d %s", unknown.Code, unknown.Body.String())
	}
}

func TestProcessIdempotencyKey(t *testing.T) {
	server := newTestServer(t)
	headers := map[string]string{"Idempotency-Key": "retry-key-1"}

	first := decodeBody(t, server.do(t, http.MethodPost, "/process", `{"url":"https://example.com"}`, headers))
	second := decodeBody(t, server.do(t, http.MethodPost, "/process", `{"url":"https://example.com"}`, headers))
	if first["job_id"] == nil || first["job_id"] != second["job_id"] {
		t.Fatalf("replay must return the same job, got %v and %v", first["job_id"], second["job_id"])
	}

	conflict := server.do(t, http.MethodPost, "/process", `{"url":"https://example.org"}`, headers)
	if conflict.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", conflict.Code)
	}
}

// gatedQuota fails its first failures checks, then holds each check open
// until release is closed.
type gatedQuota struct {
	entered  chan struct{}
	release  chan struct{}
	failures int32
	calls    atomic.Int32
}

func (g *gatedQuota) Check(ctx context.Context, _ string) (quota.Profile, error) {
	if g.calls.Add(1) <= g.failures {
		return quota.Profile{}, errors.New("quota store unavailable")
	}
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
		return quota.DemoProfile(), nil
	case <-ctx.Done():
		return quota.Profile{}, ctx.Err()
	}
}

func (g *gatedQuota) Record(context.Context, quota.Profile, string) error {
	return nil
}

func newGatedServer(gate *gatedQuota) *testServer {
	repo := repository.NewMemoryJobsRepository()
	api := handlers.NewAPI(handlers.APIDependencies{
		Jobs:  service.NewJobsService(repo, queue.NewLocalQueue(64, nil), nil),
		Quota: gate,
	})
	return &testServer{
		handler: NewRouter(RouterDependencies{API: api, AuthToken: testToken, RateLimitRPS: 1000, RateLimitBurst: 1000}),
		repo:    repo,
	}
}

func TestProcessIdempotencyKeyHeldWhileEnqueueing(t *testing.T) {
	gate := &gatedQuota{entered: make(chan struct{}, 1), release: make(chan struct{})}
	server := newGatedServer(gate)
	headers := map[string]string{"Idempotency-Key": "slow-key"}

	firstDone := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		firstDone <- server.do(t, http.MethodPost, "/process", `{"url":"https://example.com"}`, headers)
	}()
	select {
	case <-gate.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("first request never reached the quota check")
	}

	duplicate := server.do(t, http.MethodPost, "/process", `{"url":"https://example.com"}`, headers)
	if duplicate.Code != http.StatusConflict {
		t.Fatalf("expected 409 while the key is held, got %d %s", duplicate.Code, duplicate.Body.String())
	}
	envelope, _ := decodeBody(t, duplicate)["error"].(map[string]any)
	if envelope["code"] != "idempotency_in_progress" {
		t.Fatalf("unexpected error envelope %v", envelope)
	}

	close(gate.release)
	first := <-firstDone
	if first.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d %s", first.Code, first.Body.String())
	}
	replay := server.do(t, http.MethodPost, "/process", `{"url":"https://example.com"}`, headers)
	if decodeBody(t, replay)["job_id"] != decodeBody(t, first)["job_id"] {
		t.Fatalf("replay must return the job from the first request")
	}
}

func TestProcessIdempotencyKeyReleasedOnFailure(t *testing.T) {
	gate := &gatedQuota{entered: make(chan struct{}, 1), release: make(chan struct{}), failures: 1}
	close(gate.release)
	server := newGatedServer(gate)
	headers := map[string]string{"Idempotency-Key": "retry-after-error"}

	failed := server.do(t, http.MethodPost, "/process", `{"url":"https://example.com"}`, headers)
	if failed.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d %s", failed.Code, failed.Body.String())
	}
	retried := server.do(t, http.MethodPost, "/process", `{"url":"https://example.com"}`, headers)
	if retried.Code != http.StatusAccepted {
		t.Fatalf("retry with the same key must be accepted, got %d %s", retried.Code, retried.Body.String())
	}
}

func TestStatusUnknownJob(t *testing.T) {
	server := newTestServer(t)
	recorder := server.do(t, http.MethodGet, "/status/does-not-exist", "", nil)
	if recorder.Code != http.StatusNotFound || errorMessage(decodeBody(t, recorder)) != "Job not found" {
		t.Fatalf("expected 404 Job not found, got %d %s", recorder.Code, recorder.Body.String())
	}
}

func TestStatusReportsFailure(t *testing.T) {
	server := newTestServer(t)
	now := time.Now().UTC()
	job := domain.NewJob("job-failed", "https://example.com", "demo_user", "Auto", now)
	_ = job.MarkProcessing(now)
	_ = job.Fail(domain.NoContentMessage, now)
	if err := server.repo.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("create: %v", err)
	}

	body := decodeBody(t, server.do(t, http.MethodGet, "/status/job-failed", "", nil))
	if body["status"] != "failed" || body["error"] != domain.NoContentMessage {
		t.Fatalf("unexpected failed status %+v", body)
	}
}

func TestWatchStatusStreamsUntilTerminal(t *testing.T) {
	server := newTestServer(t)
	httpServer := httptest.NewServer(server.handler)
	defer httpServer.Close()

	now := time.Now().UTC()
	job := domain.NewJob("job-watch", "https://example.com", "demo_user", "Auto", now)
	if err := server.repo.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("create: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/status/job-watch/watch"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Authorization": []string{"Bearer " + testToken}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var first map[string]any
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first: %v", err)
	}
	if first["status"] != "queued" {
		t.Fatalf("unexpected first payload %+v", first)
	}

	_ = job.MarkProcessing(now)
	_ = server.repo.UpdateJob(context.Background(), job, domain.JobStatusQueued)
	_ = job.Complete(json.RawMessage(`{"data":{"title":"T"}}`), now)
	_ = server.repo.UpdateJob(context.Background(), job, domain.JobStatusProcessing)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var payload map[string]any
		if err := conn.ReadJSON(&payload); err != nil {
			t.Fatalf("stream ended before completion: %v", err)
		}
		if payload["status"] == "completed" {
			result, _ := payload["result"].(map[string]any)
			if result["data"] == nil {
				t.Fatalf("completed payload without result %+v", payload)
			}
			break
		}
	}

	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close after terminal state, got %v", err)
	}
}

func TestWatchStatusUnknownJob(t *testing.T) {
	server := newTestServer(t)
	recorder := server.do(t, http.MethodGet, "/status/missing/watch", "", nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before upgrade, got %d", recorder.Code)
	}
}
