package context

import (
	"context"
	"testing"
)

func TestWithCorrelationID(t *testing.T) {
	tests := []struct {
		name          string
		correlationID string
	}{
		{name: "adds correlation ID to context", correlationID: "test-correlation-123"},
		{name: "handles empty correlation ID", correlationID: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := WithCorrelationID(context.Background(), tt.correlationID)
			if got := GetCorrelationID(ctx); got != tt.correlationID {
				t.Errorf("expected %s, got %s", tt.correlationID, got)
			}
		})
	}
}

func TestGetCorrelationID_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), CorrelationIDKey, 123)
	if got := GetCorrelationID(ctx); got != "" {
		t.Errorf("expected empty string for non-string value, got %q", got)
	}
}

func TestEnsureCorrelationID(t *testing.T) {
	ctx, id := EnsureCorrelationID(context.Background())
	if id == "" {
		t.Fatal("expected a generated correlation ID")
	}
	if GetCorrelationID(ctx) != id {
		t.Errorf("generated ID not stored in context")
	}

	same, again := EnsureCorrelationID(ctx)
	if again != id || same != ctx {
		t.Errorf("expected existing ID %s to be kept, got %s", id, again)
	}
}
