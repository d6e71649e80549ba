package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Reconciliations stores approved-but-unrecorded documents. It writes on the pool, never
// inside the transaction that failed.
type Reconciliations struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewReconciliations creates the repository.
func NewReconciliations(pool *pgxpool.Pool, log *slog.Logger) *Reconciliations {
	return &Reconciliations{pool: pool, log: log}
}

// Record inserts r.
func (s *Reconciliations) Record(ctx context.Context, r fiscal.Reconciliation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reconciliations (
			id, operation, kind, sales_point, number, cae, cae_expiry,
			related_document_id, counterparty_id, amount, error, correlation_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		r.ID,
		r.Operation,
		int(r.Kind),
		r.SalesPoint,
		r.Number,
		r.CAE,
		nullTime(r.CAEExpiry),
		r.RelatedDocumentID,
		r.CounterpartyID,
		r.Amount,
		r.Error,
		r.CorrelationID,
		r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert reconciliation for CAE %s: %w", r.CAE, err)
	}
	s.log.Info("Reconciliation recorded", "cae", r.CAE, "operation", r.Operation, "correlation_id", r.CorrelationID)
	return nil
}

// Pending lists unresolved records, oldest first.
func (s *Reconciliations) Pending(ctx context.Context) ([]fiscal.Reconciliation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, operation, kind, sales_point, number, cae, cae_expiry,
		       related_document_id, counterparty_id, amount, error, correlation_id, created_at
		FROM reconciliations
		WHERE NOT resolved
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query reconciliations: %w", err)
	}
	defer rows.Close()

	var out []fiscal.Reconciliation
	for rows.Next() {
		var (
			r         fiscal.Reconciliation
			kind      int
			caeExpiry *time.Time
		)
		if err := rows.Scan(
			&r.ID,
			&r.Operation,
			&kind,
			&r.SalesPoint,
			&r.Number,
			&r.CAE,
			&caeExpiry,
			&r.RelatedDocumentID,
			&r.CounterpartyID,
			&r.Amount,
			&r.Error,
			&r.CorrelationID,
			&r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan reconciliation: %w", err)
		}
		r.Kind = fiscal.DocumentKind(kind)
		r.CAEExpiry = derefTime(caeExpiry)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// Resolve marks a record as handled.
func (s *Reconciliations) Resolve(ctx context.Context, cae string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE reconciliations SET resolved = TRUE WHERE cae = $1 AND NOT resolved`, cae)
	if err != nil {
		return fmt.Errorf("resolve reconciliation %s: %w", cae, err)
	}
	if tag.RowsAffected() == 0 {
		return fiscal.ErrNotFound
	}
	return nil
}
