package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"3tcapital/ms_facturacion_afip/internal/testutil"
)

// failingResponseWriter simulates a broken connection on Write.
type failingResponseWriter struct {
	http.ResponseWriter
}

func (f *failingResponseWriter) Write(p []byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name           string
		statusCode     int
		message        string
		errors         []string
		expectedErrors []string
	}{
		{
			name:           "itemized reasons",
			statusCode:     http.StatusServiceUnavailable,
			message:        "dependencias degradadas",
			errors:         []string{"wsfe: AppServer=ERROR"},
			expectedErrors: []string{"wsfe: AppServer=ERROR"},
		},
		{
			name:           "nil reasons become empty array",
			statusCode:     http.StatusNotFound,
			message:        "recurso no encontrado",
			errors:         nil,
			expectedErrors: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.statusCode, tt.message, tt.errors, testutil.NewTestLogger(t))

			if w.Code != tt.statusCode {
				t.Errorf("expected status code %d, got %d", tt.statusCode, w.Code)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected Content-Type application/json, got %s", ct)
			}

			var raw map[string]json.RawMessage
			if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if string(raw["errors"]) == "null" {
				t.Error("errors must never be null")
			}

			var response ErrorResponse
			_ = json.Unmarshal(w.Body.Bytes(), &response)
			if response.Message != tt.message {
				t.Errorf("expected message %q, got %q", tt.message, response.Message)
			}
			if len(response.Errors) != len(tt.expectedErrors) {
				t.Errorf("expected %d errors, got %d", len(tt.expectedErrors), len(response.Errors))
			}
		})
	}
}

func TestWriteJSON_EncodingFailureIsLogged(t *testing.T) {
	w := &failingResponseWriter{ResponseWriter: httptest.NewRecorder()}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"}, testutil.NewTestLogger(t))
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"}, nil)
}
