package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func observed() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.InfoLevel)
	return zap.New(core), logs
}

// singleEntry returns the fields of the only logged request
func singleEntry(t *testing.T, logs *observer.ObservedLogs) map[string]any {
	t.Helper()
	entries := logs.FilterMessage("http request").All()
	if len(entries) != 1 {
		t.Fatalf("expected one request log, got %d", len(entries))
	}
	return entries[0].ContextMap()
}

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("ok"))
}

func TestLoggingMiddleware_GeneratesRequestID(t *testing.T) {
	logger, logs := observed()
	wrapped := LoggingMiddleware(logger)(http.HandlerFunc(okHandler))

	w := httptest.NewRecorder()
	wrapped.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	id := w.Header().Get("X-Request-ID")
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("generated request id %q is not a uuid: %v", id, err)
	}
	fields := singleEntry(t, logs)
	if fields["request_id"] != id {
		t.Errorf("logged request_id %v, response header %s", fields["request_id"], id)
	}
}

func TestLoggingMiddleware_KeepsIncomingRequestID(t *testing.T) {
	logger, logs := observed()
	var seen string
	wrapped := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("X-Request-ID")
	}))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("X-Request-ID", "scrape-42")
	w := httptest.NewRecorder()
	wrapped.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "scrape-42" {
		t.Errorf("response X-Request-ID = %q, want scrape-42", got)
	}
	if seen != "scrape-42" {
		t.Errorf("handler saw %q", seen)
	}
	if id := singleEntry(t, logs)["request_id"]; id != "scrape-42" {
		t.Errorf("logged request_id %v", id)
	}
}

func TestLoggingMiddleware_DistinctIDsPerRequest(t *testing.T) {
	logger, _ := observed()
	wrapped := LoggingMiddleware(logger)(http.HandlerFunc(okHandler))

	ids := map[string]bool{}
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		wrapped.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		ids[w.Header().Get("X-Request-ID")] = true
	}
	if len(ids) != 3 {
		t.Errorf("expected 3 distinct ids, got %v", ids)
	}
}

func TestLoggingMiddleware_ServerChain(t *testing.T) {
	logger, logs := observed()
	reg := NewRegistry()

	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	wrapped := LoggingMiddleware(logger)(HTTPMiddleware(reg)(mux))

	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	fields := singleEntry(t, logs)
	if fields["path"] != "/healthz" || fields["method"] != http.MethodGet {
		t.Errorf("unexpected request fields: %v", fields)
	}
	if fields["status"] != int64(http.StatusServiceUnavailable) {
		t.Errorf("status = %v, want 503", fields["status"])
	}
	if _, found := fields["duration_ms"]; !found {
		t.Error("expected duration_ms")
	}
	if got := requestCount(t, reg, "/healthz", "5xx"); got != 1 {
		t.Errorf("expected the failed health check counted as 5xx, got %v", got)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"remote address", "10.0.0.1:54321", "", "10.0.0.1"},
		{"first forwarded hop", "10.0.0.1:54321", "203.0.113.50, 10.0.0.2", "203.0.113.50"},
		{"address without port", "unix-socket", "", "unix-socket"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
