package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareCountsRequests(t *testing.T) {
	handler := Middleware("testsvc", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(HTTPRequests.WithLabelValues("testsvc", "GET", "/access", "418"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/access", nil))

	if rec.Code != http.StatusTeapot {
		t.Fatalf("middleware altered status: %d", rec.Code)
	}
	after := testutil.ToFloat64(HTTPRequests.WithLabelValues("testsvc", "GET", "/access", "418"))
	if after != before+1 {
		t.Errorf("counter: got %v, want %v", after, before+1)
	}
}

func TestMiddlewareDefaultStatus(t *testing.T) {
	// A handler that never calls WriteHeader must be recorded as 200.
	handler := Middleware("testsvc", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))

	before := testutil.ToFloat64(HTTPRequests.WithLabelValues("testsvc", "GET", "/health", "200"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	after := testutil.ToFloat64(HTTPRequests.WithLabelValues("testsvc", "GET", "/health", "200"))
	if after != before+1 {
		t.Errorf("counter: got %v, want %v", after, before+1)
	}
}

func TestSanitizePath(t *testing.T) {
	cases := []struct{ in, want string }{
		{"/access", "/access"},
		{"/status", "/status"},
		{"/packs/pack1/videos/123_clip.mp4", "/packs/pack1/..."},
		{"/", "/"},
	}
	for _, tc := range cases {
		if got := sanitizePath(tc.in); got != tc.want {
			t.Errorf("sanitizePath(%q): got %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestHandlerServesExposition(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("exposition output missing runtime metrics")
	}
}
