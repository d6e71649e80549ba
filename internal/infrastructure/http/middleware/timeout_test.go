package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTimeout_SetsDeadline(t *testing.T) {
	var remaining time.Duration
	handler := Timeout(2 * time.Second)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		deadline, ok := r.Context().Deadline()
		if !ok {
			t.Fatal("expected a deadline")
		}
		remaining = time.Until(deadline)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	if remaining <= 0 || remaining > 2*time.Second {
		t.Errorf("unexpected remaining time %v", remaining)
	}
}

func TestTimeout_CancelsAfterHandler(t *testing.T) {
	var done <-chan struct{}
	handler := Timeout(time.Minute)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		done = r.Context().Done()
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	select {
	case <-done:
	default:
		t.Error("expected the request context to be released")
	}
}
