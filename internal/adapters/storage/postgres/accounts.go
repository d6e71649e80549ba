package postgres

import (
	"context"
	"fmt"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
	"3tcapital/ms_facturacion_afip/internal/core/ledger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type sales struct {
	tx pgx.Tx
}

func (r sales) Get(ctx context.Context, id uuid.UUID) (*fiscal.Sale, error) {
	var s fiscal.Sale
	err := r.tx.QueryRow(ctx, `
		SELECT id, counterparty_id, document_id, total, voided, voided_at, created_at
		FROM sales WHERE id = $1 FOR UPDATE`, id,
	).Scan(&s.ID, &s.CounterpartyID, &s.DocumentID, &s.Total, &s.Voided, &s.VoidedAt, &s.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r sales) Update(ctx context.Context, s *fiscal.Sale) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE sales SET document_id = $2, voided = $3, voided_at = $4 WHERE id = $1`,
		s.ID, s.DocumentID, s.Voided, s.VoidedAt,
	)
	if err != nil {
		return fmt.Errorf("update sale %s: %w", s.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fiscal.ErrNotFound
	}
	return nil
}

type counterparties struct {
	tx pgx.Tx
}

// Get locks the counterparty row, which serializes every ledger change of the account.
func (r counterparties) Get(ctx context.Context, id uuid.UUID) (*ledger.Counterparty, error) {
	var c ledger.Counterparty
	err := r.tx.QueryRow(ctx, `
		SELECT id, name, tax_id, credit_limit, balance, delinquent, updated_at
		FROM counterparties WHERE id = $1 FOR UPDATE`, id,
	).Scan(&c.ID, &c.Name, &c.TaxID, &c.CreditLimit, &c.Balance, &c.Delinquent, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (r counterparties) Update(ctx context.Context, c *ledger.Counterparty) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE counterparties SET balance = $2, delinquent = $3, updated_at = $4 WHERE id = $1`,
		c.ID, c.Balance, c.Delinquent, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update counterparty %s: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fiscal.ErrNotFound
	}
	return nil
}

type movements struct {
	tx pgx.Tx
}

func (r movements) ListByCounterparty(ctx context.Context, counterpartyID uuid.UUID) ([]ledger.Movement, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT id, counterparty_id, movement_date, seq, kind, debit, credit,
		       running_balance, voided, document_id, description, created_at
		FROM ledger_movements
		WHERE counterparty_id = $1
		ORDER BY movement_date ASC, seq ASC`, counterpartyID)
	if err != nil {
		return nil, fmt.Errorf("query movements: %w", err)
	}
	defer rows.Close()

	var out []ledger.Movement
	for rows.Next() {
		var (
			m    ledger.Movement
			kind string
		)
		if err := rows.Scan(
			&m.ID,
			&m.CounterpartyID,
			&m.Date,
			&m.Seq,
			&kind,
			&m.Debit,
			&m.Credit,
			&m.RunningBalance,
			&m.Voided,
			&m.DocumentID,
			&m.Description,
			&m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan movement: %w", err)
		}
		m.Kind = ledger.Kind(kind)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

func (r movements) Insert(ctx context.Context, m ledger.Movement) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO ledger_movements (
			id, counterparty_id, movement_date, seq, kind, debit, credit,
			running_balance, voided, document_id, description, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		m.ID,
		m.CounterpartyID,
		m.Date,
		m.Seq,
		string(m.Kind),
		m.Debit,
		m.Credit,
		m.RunningBalance,
		m.Voided,
		m.DocumentID,
		m.Description,
		m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert movement: %w", err)
	}
	return nil
}

func (r movements) UpdateState(ctx context.Context, m ledger.Movement) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE ledger_movements SET running_balance = $2, voided = $3 WHERE id = $1`,
		m.ID, m.RunningBalance, m.Voided,
	)
	if err != nil {
		return fmt.Errorf("update movement %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrNotFound
	}
	return nil
}
