package ledger

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind classifies an accounts-receivable movement.
type Kind string

const (
	KindInvoice    Kind = "FACTURA"
	KindDebitNote  Kind = "NOTA_DEBITO"
	KindCreditNote Kind = "NOTA_CREDITO"
	KindPayment    Kind = "PAGO"
	KindAdjustment Kind = "AJUSTE"
)

var (
	ErrNotFound      = errors.New("movement not found")
	ErrAlreadyVoided = errors.New("movement already voided")
)

// Movement is one entry of a counterparty's current account. Debit increases what the
// counterparty owes; Credit (haber) decreases it.
type Movement struct {
	ID             uuid.UUID
	CounterpartyID uuid.UUID
	Date           time.Time
	Seq            int64
	Kind           Kind
	Debit          decimal.Decimal
	Credit         decimal.Decimal
	RunningBalance decimal.Decimal
	Voided         bool
	DocumentID     *uuid.UUID
	Description    string
	CreatedAt      time.Time
}

// Signed is the movement's effect on the balance.
func (m Movement) Signed() decimal.Decimal {
	return m.Debit.Sub(m.Credit)
}

// Sort orders movements by date, then by insertion sequence.
func Sort(movements []Movement) {
	sort.SliceStable(movements, func(i, j int) bool {
		a, b := movements[i], movements[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.Seq < b.Seq
	})
}

// Recompute returns an ordered copy whose running balances are the signed sum of every
// non-voided movement up to and including each one. Voided movements carry the balance
// of the movements before them.
func Recompute(movements []Movement) []Movement {
	out := make([]Movement, len(movements))
	copy(out, movements)
	Sort(out)

	balance := decimal.Zero
	for i := range out {
		if !out[i].Voided {
			balance = balance.Add(out[i].Signed())
		}
		out[i].RunningBalance = balance
	}
	return out
}

// Balance is the signed sum of all non-voided movements.
func Balance(movements []Movement) decimal.Decimal {
	sum := decimal.Zero
	for _, m := range movements {
		if !m.Voided {
			sum = sum.Add(m.Signed())
		}
	}
	return sum
}

// Mismatch is a stored running balance that differs from its recomputed value.
type Mismatch struct {
	MovementID uuid.UUID
	Stored     decimal.Decimal
	Expected   decimal.Decimal
}

func (m Mismatch) String() string {
	return fmt.Sprintf("movement %s: stored %s, expected %s", m.MovementID, m.Stored.StringFixed(2), m.Expected.StringFixed(2))
}

// Verify recomputes the ledger and reports every stored balance that disagrees.
func Verify(movements []Movement) []Mismatch {
	stored := make(map[uuid.UUID]decimal.Decimal, len(movements))
	for _, m := range movements {
		stored[m.ID] = m.RunningBalance
	}

	var mismatches []Mismatch
	for _, m := range Recompute(movements) {
		if s := stored[m.ID]; !s.Equal(m.RunningBalance) {
			mismatches = append(mismatches, Mismatch{MovementID: m.ID, Stored: s, Expected: m.RunningBalance})
		}
	}
	return mismatches
}

// Counterparty is the account holder of a ledger.
type Counterparty struct {
	ID          uuid.UUID
	Name        string
	TaxID       string
	CreditLimit decimal.Decimal
	Balance     decimal.Decimal
	Delinquent  bool
	UpdatedAt   time.Time
}

// ApplyBalance stores the balance a movement left. Delinquency is flagged by
// collections and never set here: only a movement that credits the account clears it,
// once the balance is at or under the credit limit. A zero limit grants no credit, so
// the flag then clears only when nothing is owed.
func (c *Counterparty) ApplyBalance(balance decimal.Decimal, credited bool) {
	c.Balance = balance
	if credited && c.Delinquent && !balance.GreaterThan(c.CreditLimit) {
		c.Delinquent = false
	}
}
