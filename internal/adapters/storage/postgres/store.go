// Package postgres stores fiscal documents, sales and current accounts in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
	"3tcapital/ms_facturacion_afip/internal/core/ledger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store implements fiscal.TransactionScope on a pgx pool. Every Get inside a
// transaction takes a row lock that is held until commit or rollback.
type Store struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewStore creates a store on pool.
func NewStore(pool *pgxpool.Pool, log *slog.Logger) *Store {
	return &Store{pool: pool, log: log}
}

// Execute runs fn in one READ COMMITTED transaction and commits when it returns nil.
func (s *Store) Execute(ctx context.Context, fn func(repos fiscal.Repositories) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.log.Warn("Rollback failed", "error", err)
		}
	}()

	if err := fn(&txRepos{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type txRepos struct {
	tx pgx.Tx
}

func (r *txRepos) Documents() fiscal.DocumentRepository          { return documents{r.tx} }
func (r *txRepos) Sales() fiscal.SaleRepository                  { return sales{r.tx} }
func (r *txRepos) Movements() ledger.MovementRepository          { return movements{r.tx} }
func (r *txRepos) Counterparties() ledger.CounterpartyRepository { return counterparties{r.tx} }

var _ fiscal.TransactionScope = (*Store)(nil)

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fiscal.ErrNotFound
	}
	return err
}
