package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"3tcapital/ms_facturacion_afip/internal/core/audit"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements audit.Repository on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewRepository creates a PostgreSQL audit repository. log may be nil.
func NewRepository(pool *pgxpool.Pool, log *slog.Logger) *Repository {
	return &Repository{pool: pool, log: log}
}

// Save persists one authority exchange.
func (r *Repository) Save(ctx context.Context, exchange audit.Exchange) error {
	query := `
		INSERT INTO authority_exchange_log (
			correlation_id, service, operation, request_method, request_url,
			request_headers, request_body, response_status, response_headers,
			response_body, duration_ms, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	requestHeaders, err := json.Marshal(exchange.RequestHeaders)
	if err != nil {
		return fmt.Errorf("marshal request headers: %w", err)
	}
	responseHeaders, err := json.Marshal(exchange.ResponseHeaders)
	if err != nil {
		return fmt.Errorf("marshal response headers: %w", err)
	}

	_, err = r.pool.Exec(ctx, query,
		exchange.CorrelationID,
		exchange.Service,
		exchange.Operation,
		exchange.RequestMethod,
		exchange.RequestURL,
		requestHeaders,
		nullIfEmpty(exchange.RequestBody),
		exchange.ResponseStatus,
		responseHeaders,
		nullIfEmpty(exchange.ResponseBody),
		exchange.DurationMs,
		exchange.ErrorMessage,
	)
	if err != nil {
		if r.log != nil {
			r.log.Error("Failed to insert authority exchange",
				"correlation_id", exchange.CorrelationID,
				"service", exchange.Service,
				"operation", exchange.Operation,
				"error", err,
			)
		}
		return fmt.Errorf("insert authority exchange: %w", err)
	}

	if r.log != nil {
		r.log.Debug("Authority exchange saved",
			"correlation_id", exchange.CorrelationID,
			"service", exchange.Service,
			"operation", exchange.Operation,
			"response_status", exchange.ResponseStatus,
			"duration_ms", exchange.DurationMs,
		)
	}
	return nil
}

// FindByCorrelationID returns the exchanges of one operation, oldest first.
func (r *Repository) FindByCorrelationID(ctx context.Context, correlationID string) ([]audit.Exchange, error) {
	query := `
		SELECT id, correlation_id, service, operation, request_method, request_url,
		       request_headers, COALESCE(request_body, ''), response_status, response_headers,
		       COALESCE(response_body, ''), duration_ms, error_message, created_at
		FROM authority_exchange_log
		WHERE correlation_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.pool.Query(ctx, query, correlationID)
	if err != nil {
		return nil, fmt.Errorf("query authority exchanges: %w", err)
	}
	defer rows.Close()

	var exchanges []audit.Exchange
	for rows.Next() {
		var (
			e                               audit.Exchange
			requestHeaders, responseHeaders []byte
		)
		if err := rows.Scan(
			&e.ID,
			&e.CorrelationID,
			&e.Service,
			&e.Operation,
			&e.RequestMethod,
			&e.RequestURL,
			&requestHeaders,
			&e.RequestBody,
			&e.ResponseStatus,
			&responseHeaders,
			&e.ResponseBody,
			&e.DurationMs,
			&e.ErrorMessage,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan authority exchange: %w", err)
		}

		if err := json.Unmarshal(requestHeaders, &e.RequestHeaders); err != nil {
			return nil, fmt.Errorf("unmarshal request headers: %w", err)
		}
		if err := json.Unmarshal(responseHeaders, &e.ResponseHeaders); err != nil {
			return nil, fmt.Errorf("unmarshal response headers: %w", err)
		}
		exchanges = append(exchanges, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return exchanges, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
