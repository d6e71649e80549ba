package audit

import (
	"context"
	"time"
)

// Exchange is the audit record of one SOAP round trip with the tax authority.
// Bodies are stored after redaction of tokens, signatures and signed CMS payloads.
type Exchange struct {
	ID              int64
	CorrelationID   string
	Service         string
	Operation       string
	RequestMethod   string
	RequestURL      string
	RequestHeaders  map[string]string
	RequestBody     string
	ResponseStatus  *int
	ResponseHeaders map[string]string
	ResponseBody    string
	DurationMs      int64
	ErrorMessage    string
	CreatedAt       time.Time
}

// Repository persists and retrieves authority exchanges.
type Repository interface {
	Save(ctx context.Context, exchange Exchange) error

	// FindByCorrelationID returns every exchange made while serving one operation,
	// oldest first.
	FindByCorrelationID(ctx context.Context, correlationID string) ([]Exchange, error)
}
