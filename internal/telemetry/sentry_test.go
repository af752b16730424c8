package telemetry

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/getsentry/sentry-go"
)

func TestPanicRecoveryMiddlewareJSONEnvelope(t *testing.T) {
	h := PanicRecoveryMiddleware("testsvc")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/access", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status: %d, want 500", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("content type: %q", ct)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not JSON: %v (%s)", err, rec.Body.String())
	}
	if body["error"] != "internal_error" || body["message"] == "" {
		t.Errorf("envelope: %v", body)
	}
}

func TestPanicRecoveryMiddlewarePassthrough(t *testing.T) {
	h := PanicRecoveryMiddleware("testsvc")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status: %d, want 418", rec.Code)
	}
}

func TestScrubRedactsCredentials(t *testing.T) {
	if scrub(nil) != nil {
		t.Error("nil event should stay nil")
	}

	ev := &sentry.Event{}
	ev.User.Email = "buyer@example.com"
	ev.User.IPAddress = "203.0.113.9"
	ev.Request = &sentry.Request{Headers: map[string]string{
		"Authorization": "Bearer secret",
		"Cookie":        "session=abc",
		"Accept":        "application/json",
	}}

	out := scrub(ev)
	if out.User.Email != "[redacted]" || out.User.IPAddress != "" {
		t.Errorf("user not scrubbed: %+v", out.User)
	}
	if out.Request.Headers["Authorization"] != "[redacted]" || out.Request.Headers["Cookie"] != "[redacted]" {
		t.Errorf("headers not scrubbed: %v", out.Request.Headers)
	}
	if out.Request.Headers["Accept"] != "application/json" {
		t.Error("benign headers must survive")
	}
}
