package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthSkipsPublicPaths(t *testing.T) {
	handler := Auth("secret", "/health")(okHandler())

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("public path must not require auth, got %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/process", nil))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), `"code":"unauthorized"`) {
		t.Fatalf("unexpected body %s", recorder.Body.String())
	}
}

func TestAuthChecksBearerToken(t *testing.T) {
	handler := Auth("secret")(okHandler())

	for token, want := range map[string]int{
		"Bearer secret": http.StatusOK,
		"Bearer wrong":  http.StatusUnauthorized,
		"secret":        http.StatusUnauthorized,
	} {
		request := httptest.NewRequest(http.MethodGet, "/status/job-1", nil)
		request.Header.Set("Authorization", token)
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, request)
		if recorder.Code != want {
			t.Fatalf("Authorization %q: expected %d, got %d", token, want, recorder.Code)
		}
	}
}

func TestAuthDisabledWithoutToken(t *testing.T) {
	recorder := httptest.NewRecorder()
	Auth("")(okHandler()).ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/process", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected passthrough, got %d", recorder.Code)
	}
}

func TestRateLimitRejectsBurstOverflow(t *testing.T) {
	handler := RequestID(RateLimit(RateLimitConfig{RPS: 0.001, Burst: 2})(okHandler()))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		request := httptest.NewRequest(http.MethodGet, "/status/job-1", nil)
		request.RemoteAddr = "10.0.0.1:5000"
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, request)
		codes = append(codes, recorder.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}

	other := httptest.NewRequest(http.MethodGet, "/status/job-1", nil)
	other.RemoteAddr = "10.0.0.2:5000"
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, other)
	if recorder.Code != http.StatusOK {
		t.Fatalf("limits must be per client, got %d", recorder.Code)
	}
}

func TestRequestIDPropagatesOrGenerates(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	request := httptest.NewRequest(http.MethodGet, "/health", nil)
	request.Header.Set("X-Request-Id", "req-123")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	if seen != "req-123" || recorder.Header().Get("X-Request-Id") != "req-123" {
		t.Fatalf("expected propagated id, got %q", seen)
	}

	request = httptest.NewRequest(http.MethodGet, "/health", nil)
	request.Header.Set("X-Request-Id", strings.Repeat("x", maxRequestIDLength+1))
	handler.ServeHTTP(httptest.NewRecorder(), request)
	if len(seen) != 36 {
		t.Fatalf("expected generated uuid, got %q", seen)
	}

	request = httptest.NewRequest(http.MethodGet, "/health", nil)
	request.Header.Set("X-Request-Id", `abc","request_id":"forged`)
	handler.ServeHTTP(httptest.NewRecorder(), request)
	if strings.Contains(seen, `"`) || len(seen) != 36 {
		t.Fatalf("ids with quotes must be replaced, got %q", seen)
	}
}
