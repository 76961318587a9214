package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthCheckHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthCheckHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var status HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Status != "healthy" || status.Service != serviceName {
		t.Errorf("Unexpected status %+v", status)
	}
}

func TestReadinessHandler(t *testing.T) {
	ok := func(ctx context.Context) (bool, error) { return true, nil }
	down := func(ctx context.Context) (bool, error) { return false, errors.New("connection refused") }

	t.Run("all healthy", func(t *testing.T) {
		rec := httptest.NewRecorder()
		ReadinessHandler(map[string]HealthCheckFunc{"speech": ok, "gateway": ok})(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("Expected 200, got %d", rec.Code)
		}
		if got := rec.Header().Get("Content-Type"); got != "application/json" {
			t.Errorf("Expected JSON content type, got %q", got)
		}
	})

	t.Run("one dependency down", func(t *testing.T) {
		rec := httptest.NewRecorder()
		ReadinessHandler(map[string]HealthCheckFunc{"speech": down, "gateway": ok})(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("Expected 503, got %d", rec.Code)
		}
		var status HealthStatus
		if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if status.Status != "not_ready" {
			t.Errorf("Expected not_ready, got %s", status.Status)
		}
		if dep := status.Dependencies["speech"]; dep.Status != "unhealthy" || dep.Message != "connection refused" {
			t.Errorf("Unexpected speech dependency %+v", dep)
		}
		if dep := status.Dependencies["gateway"]; dep.Status != "healthy" {
			t.Errorf("Unexpected gateway dependency %+v", dep)
		}
	})
}

type brokenWriter struct {
	header http.Header
	code   int
}

func (w *brokenWriter) Header() http.Header {
	if w.header == nil {
		w.header = http.Header{}
	}
	return w.header
}

func (w *brokenWriter) Write([]byte) (int, error) { return 0, errors.New("client went away") }

func (w *brokenWriter) WriteHeader(code int) { w.code = code }

func TestWriteStatus_EncodeFailureIsLogged(t *testing.T) {
	w := &brokenWriter{}
	writeStatus(w, http.StatusServiceUnavailable, HealthStatus{Status: "unhealthy"})

	if w.code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", w.code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %q", ct)
	}
}
