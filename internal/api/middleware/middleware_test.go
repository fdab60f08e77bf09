package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

// chain assembles the middleware the way the API server does.
func chain(log zerolog.Logger, h http.Handler) http.Handler {
	return Recovery(log)(RequestID(Logger(log)(CORS(Auth(h)))))
}

func TestLogger_RecordsAssignedRequestID(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	handler := chain(log, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assigned := rec.Header().Get("X-Request-ID")
	if assigned == "" {
		t.Fatal("no X-Request-ID assigned to the response")
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if got := entry["request_id"]; got != assigned {
		t.Errorf("logged request_id = %v, want %q", got, assigned)
	}
}

func TestRequestID_HonorsCallerID(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	var seen string
	handler := chain(log, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "caller-id-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "caller-id-1" {
		t.Errorf("handler saw request id %q, want caller-id-1", seen)
	}
	if got := rec.Header().Get("X-Request-ID"); got != "caller-id-1" {
		t.Errorf("response X-Request-ID = %q, want caller-id-1", got)
	}
}

func TestAuth_ResolvesUserFromHeader(t *testing.T) {
	var seen string
	handler := Auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "user-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "user-1" {
		t.Errorf("user id = %q, want user-1", seen)
	}
}
