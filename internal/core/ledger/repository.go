package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MovementRepository persists current-account movements.
type MovementRepository interface {
	// ListByCounterparty returns every movement of the counterparty, voided included.
	ListByCounterparty(ctx context.Context, counterpartyID uuid.UUID) ([]Movement, error)
	Insert(ctx context.Context, m Movement) error
	// UpdateState stores the running balance and voided flag of an existing movement.
	UpdateState(ctx context.Context, m Movement) error
}

// CounterpartyRepository persists account holders. Get locks the row when called
// inside a transaction.
type CounterpartyRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*Counterparty, error)
	Update(ctx context.Context, c *Counterparty) error
}

// Post appends m to its counterparty's ledger and rewrites every running balance the
// insertion shifts, so back-dated movements stay consistent. It returns the resulting
// account balance.
func Post(ctx context.Context, repo MovementRepository, m *Movement, now time.Time) (decimal.Decimal, error) {
	existing, err := repo.ListByCounterparty(ctx, m.CounterpartyID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("list movements: %w", err)
	}

	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.Seq = nextSeq(existing)
	m.CreatedAt = now

	all := append(existing[:len(existing):len(existing)], *m)
	recomputed := Recompute(all)

	stored := make(map[uuid.UUID]Movement, len(existing))
	for _, e := range existing {
		stored[e.ID] = e
	}

	for _, r := range recomputed {
		if r.ID == m.ID {
			m.RunningBalance = r.RunningBalance
			if err := repo.Insert(ctx, *m); err != nil {
				return decimal.Zero, fmt.Errorf("insert movement: %w", err)
			}
			continue
		}
		if !stored[r.ID].RunningBalance.Equal(r.RunningBalance) {
			if err := repo.UpdateState(ctx, r); err != nil {
				return decimal.Zero, fmt.Errorf("update movement %s: %w", r.ID, err)
			}
		}
	}

	return Balance(recomputed), nil
}

// Void marks a movement as voided and recomputes the balances after it. It returns the
// voided movement and the resulting account balance.
func Void(ctx context.Context, repo MovementRepository, counterpartyID, movementID uuid.UUID) (Movement, decimal.Decimal, error) {
	existing, err := repo.ListByCounterparty(ctx, counterpartyID)
	if err != nil {
		return Movement{}, decimal.Zero, fmt.Errorf("list movements: %w", err)
	}

	var voided *Movement
	updated := make([]Movement, len(existing))
	copy(updated, existing)
	for i := range updated {
		if updated[i].ID != movementID {
			continue
		}
		if updated[i].Voided {
			return Movement{}, decimal.Zero, ErrAlreadyVoided
		}
		updated[i].Voided = true
		voided = &updated[i]
	}
	if voided == nil {
		return Movement{}, decimal.Zero, ErrNotFound
	}

	stored := make(map[uuid.UUID]Movement, len(existing))
	for _, e := range existing {
		stored[e.ID] = e
	}

	recomputed := Recompute(updated)
	for _, r := range recomputed {
		prev := stored[r.ID]
		if prev.Voided != r.Voided || !prev.RunningBalance.Equal(r.RunningBalance) {
			if err := repo.UpdateState(ctx, r); err != nil {
				return Movement{}, decimal.Zero, fmt.Errorf("update movement %s: %w", r.ID, err)
			}
		}
	}
	return *voided, Balance(recomputed), nil
}

// VerifyAccount loads a counterparty's ledger and reports running-balance mismatches.
func VerifyAccount(ctx context.Context, repo MovementRepository, counterpartyID uuid.UUID) ([]Mismatch, error) {
	movements, err := repo.ListByCounterparty(ctx, counterpartyID)
	if err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	return Verify(movements), nil
}

func nextSeq(movements []Movement) int64 {
	var last int64
	for _, m := range movements {
		if m.Seq > last {
			last = m.Seq
		}
	}
	return last + 1
}
