package invoicing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
	"3tcapital/ms_facturacion_afip/internal/core/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreditNoteCommand requests a credit note against an authorized document.
type CreditNoteCommand struct {
	OriginalID uuid.UUID
	// Amount to credit; nil credits the whole remaining balance.
	Amount *decimal.Decimal
	Reason string
	Date   time.Time
}

// DebitNoteCommand requests a debit note against an authorized invoice.
type DebitNoteCommand struct {
	OriginalID uuid.UUID
	Amount     decimal.Decimal
	Reason     string
	Date       time.Time
}

// IssueCreditNote offsets all or part of an authorized document.
//
// Inside one transaction: the original is loaded and locked, the amount is checked
// against its remaining balance, the original's amounts are scaled to it and the note
// is authorized referencing the original. On approval the note is stored with its
// backlink, the original records it (and is voided once fully offset), a credit
// movement is posted, balances are verified and delinquency is re-evaluated. A full
// offset also voids the sale behind the original.
func (s *Service) IssueCreditNote(ctx context.Context, cmd CreditNoteCommand) (*Outcome, error) {
	date := cmd.Date
	if date.IsZero() {
		date = s.now()
	}

	var (
		original *fiscal.FiscalDocument
		note     *fiscal.FiscalDocument
		voided   bool
		balance  decimal.Decimal
	)

	prepare := func(ctx context.Context, repos fiscal.Repositories, is *issuance) error {
		var err error
		original, err = repos.Documents().Get(ctx, cmd.OriginalID)
		if err != nil {
			return fmt.Errorf("load document %s: %w", cmd.OriginalID, err)
		}
		is.counterpartyID = original.CounterpartyID
		is.relatedID = &original.ID

		if err := original.CanBeCredited(); err != nil {
			return err
		}

		remaining := original.RemainingBalance()
		amount := remaining
		if cmd.Amount != nil {
			amount = fiscal.Round2(*cmd.Amount)
			if !amount.IsPositive() {
				return fiscal.NewValidationError("el importe de la nota de crédito debe ser mayor a cero")
			}
			if amount.GreaterThan(remaining) {
				return fiscal.NewValidationError(fmt.Sprintf("el importe %s supera el saldo anulable %s del comprobante %s",
					amount.StringFixed(2), remaining.StringFixed(2), original.OfficialNumber()))
			}
		}

		kind, err := fiscal.NoteKindFor(original.Kind, fiscal.VariantCreditNote)
		if err != nil {
			return fiscal.NewValidationError(err.Error())
		}
		if err := fiscal.ValidateKindForCategory(kind, original.ReceiverVatCategory); err != nil {
			return err
		}

		is.req = s.noteRequest(original, kind, amount, date)
		return nil
	}

	record := func(ctx context.Context, repos fiscal.Repositories, is *issuance) error {
		now := s.now()
		note = s.newNote(is, original, cmd.Reason, now)
		if err := repos.Documents().Create(ctx, note); err != nil {
			return fmt.Errorf("create credit note: %w", err)
		}

		var err error
		if voided, err = original.ApplyCreditNote(note.LinkTo(note.Amounts.Total), now); err != nil {
			return err
		}
		if err := repos.Documents().Update(ctx, original); err != nil {
			return fmt.Errorf("update document %s: %w", original.ID, err)
		}

		balance, err = s.postMovement(ctx, repos, ledger.Movement{
			CounterpartyID: original.CounterpartyID,
			Date:           date,
			Kind:           ledger.KindCreditNote,
			Credit:         note.Amounts.Total,
			DocumentID:     &note.ID,
			Description:    noteDescription(note.Kind, is.result),
		})
		if err != nil {
			return err
		}

		if voided && original.SaleID != nil {
			sale, err := repos.Sales().Get(ctx, *original.SaleID)
			if err != nil {
				return fmt.Errorf("load sale %s: %w", *original.SaleID, err)
			}
			sale.Void(now)
			if err := repos.Sales().Update(ctx, sale); err != nil {
				return fmt.Errorf("void sale %s: %w", sale.ID, err)
			}
		}
		return nil
	}

	is, err := s.issue(ctx, OpCreditNote, prepare, record)
	if err != nil {
		return nil, notFoundAsValidation(err)
	}
	return &Outcome{Document: note, Result: is.result, OriginalVoided: voided, Balance: balance}, nil
}

// IssueDebitNote charges an additional amount against an authorized invoice. The
// original's amounts and VAT breakdown are scaled to the debited amount.
func (s *Service) IssueDebitNote(ctx context.Context, cmd DebitNoteCommand) (*Outcome, error) {
	if !fiscal.Round2(cmd.Amount).IsPositive() {
		return nil, fiscal.NewValidationError("el importe de la nota de débito debe ser mayor a cero")
	}
	date := cmd.Date
	if date.IsZero() {
		date = s.now()
	}

	var (
		original *fiscal.FiscalDocument
		note     *fiscal.FiscalDocument
		balance  decimal.Decimal
	)

	prepare := func(ctx context.Context, repos fiscal.Repositories, is *issuance) error {
		var err error
		original, err = repos.Documents().Get(ctx, cmd.OriginalID)
		if err != nil {
			return fmt.Errorf("load document %s: %w", cmd.OriginalID, err)
		}
		is.counterpartyID = original.CounterpartyID
		is.relatedID = &original.ID

		if original.Kind.Variant() != fiscal.VariantInvoice {
			return fiscal.NewValidationError(fmt.Sprintf("solo se emiten notas de débito sobre facturas, %s es %s",
				original.OfficialNumber(), original.Kind))
		}
		if original.Voided {
			return fiscal.NewValidationError(fmt.Sprintf("el comprobante %s está anulado", original.OfficialNumber()))
		}

		kind, err := fiscal.NoteKindFor(original.Kind, fiscal.VariantDebitNote)
		if err != nil {
			return fiscal.NewValidationError(err.Error())
		}
		if err := fiscal.ValidateKindForCategory(kind, original.ReceiverVatCategory); err != nil {
			return err
		}

		is.req = s.noteRequest(original, kind, fiscal.Round2(cmd.Amount), date)
		return nil
	}

	record := func(ctx context.Context, repos fiscal.Repositories, is *issuance) error {
		now := s.now()
		note = s.newNote(is, original, cmd.Reason, now)
		if err := repos.Documents().Create(ctx, note); err != nil {
			return fmt.Errorf("create debit note: %w", err)
		}

		original.ApplyDebitNote(note.LinkTo(note.Amounts.Total))
		if err := repos.Documents().Update(ctx, original); err != nil {
			return fmt.Errorf("update document %s: %w", original.ID, err)
		}

		var err error
		balance, err = s.postMovement(ctx, repos, ledger.Movement{
			CounterpartyID: original.CounterpartyID,
			Date:           date,
			Kind:           ledger.KindDebitNote,
			Debit:          note.Amounts.Total,
			DocumentID:     &note.ID,
			Description:    noteDescription(note.Kind, is.result),
		})
		return err
	}

	is, err := s.issue(ctx, OpDebitNote, prepare, record)
	if err != nil {
		return nil, notFoundAsValidation(err)
	}
	return &Outcome{Document: note, Result: is.result, Balance: balance}, nil
}

// noteRequest builds the authorization request of a note worth amount against original.
func (s *Service) noteRequest(original *fiscal.FiscalDocument, kind fiscal.DocumentKind, amount decimal.Decimal, date time.Time) fiscal.AuthorizationRequest {
	amounts, lines := fiscal.ScaleAmounts(original.Amounts, original.VatBreakdown, fiscal.Ratio(amount, original.Amounts.Total))

	req := fiscal.AuthorizationRequest{
		SalesPoint:          original.SalesPoint,
		Kind:                kind,
		Concept:             original.Concept,
		Counterparty:        original.Counterparty,
		ReceiverVatCategory: original.ReceiverVatCategory,
		Date:                date,
		Amounts:             amounts,
		VatBreakdown:        lines,
		Associated:          []fiscal.AssociatedDocument{original.Associated(s.issuer.TaxID)},
	}
	if original.Concept.RequiresServicePeriod() {
		req.ServiceFrom = original.ServiceFrom
		req.ServiceTo = original.ServiceTo
		req.PaymentDue = original.PaymentDue
		// The authority rejects a payment due date before the note's own date.
		if req.PaymentDue.Before(date) {
			req.PaymentDue = date
		}
	}
	return req
}

func (s *Service) newNote(is *issuance, original *fiscal.FiscalDocument, reason string, now time.Time) *fiscal.FiscalDocument {
	note := fiscal.NewDocument(is.req, is.result, now)
	note.CounterpartyID = original.CounterpartyID
	note.SaleID = original.SaleID
	note.Reason = reason
	link := original.LinkTo(note.Amounts.Total)
	note.Original = &link
	return note
}

func notFoundAsValidation(err error) error {
	if errors.Is(err, fiscal.ErrNotFound) {
		return fiscal.NewValidationError(err.Error())
	}
	return err
}
