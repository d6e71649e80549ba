package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
	"3tcapital/ms_facturacion_afip/internal/core/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service maintains counterparty current accounts outside document issuance.
type Service struct {
	scope fiscal.TransactionScope
	log   *slog.Logger
	now   func() time.Time
}

// NewService creates a ledger service.
func NewService(scope fiscal.TransactionScope, log *slog.Logger, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{scope: scope, log: log, now: now}
}

// Report is the state of one counterparty's account.
type Report struct {
	CounterpartyID uuid.UUID
	Balance        decimal.Decimal
	Delinquent     bool
	Mismatches     []ledger.Mismatch
}

// Consistent reports whether every stored running balance matched.
func (r Report) Consistent() bool { return len(r.Mismatches) == 0 }

// VoidMovement voids a movement, recomputes every later running balance and, when a
// debit is voided, clears the counterparty's delinquency if the balance is back within
// its limit. All in one transaction.
func (s *Service) VoidMovement(ctx context.Context, counterpartyID, movementID uuid.UUID) (Report, error) {
	var report Report

	err := s.scope.Execute(ctx, func(repos fiscal.Repositories) error {
		counterparty, err := repos.Counterparties().Get(ctx, counterpartyID)
		if err != nil {
			return fmt.Errorf("load counterparty %s: %w", counterpartyID, err)
		}

		voided, balance, err := ledger.Void(ctx, repos.Movements(), counterpartyID, movementID)
		if err != nil {
			return err
		}

		// Voiding a debit credits the account.
		counterparty.ApplyBalance(balance, voided.Signed().IsPositive())
		counterparty.UpdatedAt = s.now()
		if err := repos.Counterparties().Update(ctx, counterparty); err != nil {
			return fmt.Errorf("update counterparty %s: %w", counterpartyID, err)
		}

		report = Report{CounterpartyID: counterpartyID, Balance: balance, Delinquent: counterparty.Delinquent}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrNotFound), errors.Is(err, fiscal.ErrNotFound):
			return Report{}, fiscal.NewValidationError(err.Error())
		case errors.Is(err, ledger.ErrAlreadyVoided):
			return Report{}, fiscal.NewValidationError(fmt.Sprintf("el movimiento %s ya está anulado", movementID))
		}
		return Report{}, err
	}

	s.log.Info("Movement voided",
		"counterparty_id", counterpartyID,
		"movement_id", movementID,
		"balance", report.Balance.StringFixed(2),
	)
	return report, nil
}

// Verify recomputes a counterparty's ledger and reports stored balances that disagree.
// It reads only; mismatches are logged, never repaired.
func (s *Service) Verify(ctx context.Context, counterpartyID uuid.UUID) (Report, error) {
	var report Report

	err := s.scope.Execute(ctx, func(repos fiscal.Repositories) error {
		counterparty, err := repos.Counterparties().Get(ctx, counterpartyID)
		if err != nil {
			return fmt.Errorf("load counterparty %s: %w", counterpartyID, err)
		}
		movements, err := repos.Movements().ListByCounterparty(ctx, counterpartyID)
		if err != nil {
			return fmt.Errorf("list movements: %w", err)
		}
		report = Report{
			CounterpartyID: counterpartyID,
			Balance:        ledger.Balance(movements),
			Delinquent:     counterparty.Delinquent,
			Mismatches:     ledger.Verify(movements),
		}
		if !counterparty.Balance.Equal(report.Balance) {
			s.log.Warn("Stored counterparty balance differs from its ledger",
				"counterparty_id", counterpartyID,
				"stored", counterparty.Balance.StringFixed(2),
				"ledger", report.Balance.StringFixed(2),
			)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fiscal.ErrNotFound) {
			return Report{}, fiscal.NewValidationError(err.Error())
		}
		return Report{}, err
	}

	for _, m := range report.Mismatches {
		s.log.Error("Running balance mismatch", "counterparty_id", counterpartyID, "detail", m.String())
	}
	return report, nil
}
