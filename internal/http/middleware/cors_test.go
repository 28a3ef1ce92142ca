package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const extensionOrigin = "chrome-extension://link-collector"

// corsResult records what reached the wrapped handler.
type corsResult struct {
	recorder *httptest.ResponseRecorder
	reached  bool
}

func serveCORS(cfg CORSConfig, method, origin string) corsResult {
	var result corsResult
	handler := CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result.reached = true
		w.WriteHeader(http.StatusOK)
	}))

	request := httptest.NewRequest(method, "/process", nil)
	if origin != "" {
		request.Header.Set("Origin", origin)
	}
	if method == http.MethodOptions {
		request.Header.Set("Access-Control-Request-Method", http.MethodPost)
	}
	result.recorder = httptest.NewRecorder()
	handler.ServeHTTP(result.recorder, request)
	return result
}

func TestCORSPreflight(t *testing.T) {
	result := serveCORS(CORSConfig{AllowedOrigins: []string{extensionOrigin}}, http.MethodOptions, extensionOrigin)
	header := result.recorder.Header()

	if result.recorder.Code != http.StatusNoContent || result.reached {
		t.Fatalf("preflight must be answered by the middleware, got %d reached=%v", result.recorder.Code, result.reached)
	}
	if header.Get("Access-Control-Allow-Origin") != extensionOrigin {
		t.Fatalf("unexpected allow origin %q", header.Get("Access-Control-Allow-Origin"))
	}
	if !strings.Contains(header.Get("Access-Control-Allow-Methods"), http.MethodPost) {
		t.Fatalf("POST missing from %q", header.Get("Access-Control-Allow-Methods"))
	}
	for _, name := range []string{"Authorization", "Idempotency-Key", "X-Request-Id"} {
		if !strings.Contains(header.Get("Access-Control-Allow-Headers"), name) {
			t.Fatalf("%s missing from %q", name, header.Get("Access-Control-Allow-Headers"))
		}
	}
	if header.Get("Access-Control-Max-Age") != "600" {
		t.Fatalf("unexpected max age %q", header.Get("Access-Control-Max-Age"))
	}
}

func TestCORSOrigins(t *testing.T) {
	cfg := CORSConfig{AllowedOrigins: []string{" chrome-extension://* ", "https://App.example.com", ""}}
	cases := []struct {
		method    string
		origin    string
		wantAllow string
	}{
		{http.MethodPost, "chrome-extension://abcdef", "chrome-extension://abcdef"},
		{http.MethodGet, "https://app.example.com", "https://app.example.com"},
		{http.MethodGet, "https://other.example.com", ""},
		{http.MethodGet, "moz-extension://link-saver", ""},
		{http.MethodOptions, "https://evil.example", ""},
		{http.MethodGet, "", ""},
	}
	for _, tc := range cases {
		result := serveCORS(cfg, tc.method, tc.origin)
		if got := result.recorder.Header().Get("Access-Control-Allow-Origin"); got != tc.wantAllow {
			t.Fatalf("%s %q: expected allow origin %q, got %q", tc.method, tc.origin, tc.wantAllow, got)
		}
		if tc.wantAllow == "" && (!result.reached || result.recorder.Code != http.StatusOK) {
			t.Fatalf("%s %q: unknown origins must pass through", tc.method, tc.origin)
		}
	}
}

func TestCORSWildcardAndOverrides(t *testing.T) {
	cfg := CORSConfig{AllowedOrigins: []string{"*"}, AllowedMethods: []string{http.MethodGet}, MaxAgeSeconds: 60}
	header := serveCORS(cfg, http.MethodOptions, "https://anything.example").recorder.Header()

	if header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("wildcard must answer with *, got %q", header.Get("Access-Control-Allow-Origin"))
	}
	if header.Get("Access-Control-Allow-Methods") != http.MethodGet || header.Get("Access-Control-Max-Age") != "60" {
		t.Fatalf("configured methods and max age ignored: %v", header)
	}
}
