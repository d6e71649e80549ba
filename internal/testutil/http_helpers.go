package testutil

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
)

// DecodeJSON decodes the recorded body into v, failing the test when the status differs
// from want or the body is not valid JSON.
func DecodeJSON(t testing.TB, w *httptest.ResponseRecorder, want int, v any) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected status %d, got %d (body %s)", want, w.Code, w.Body.String())
	}
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
}
