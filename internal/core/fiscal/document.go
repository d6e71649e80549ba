package fiscal

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NoteLink ties a note and the document it offsets, in either direction.
type NoteLink struct {
	DocumentID     uuid.UUID       `json:"documentId"`
	Kind           DocumentKind    `json:"kind"`
	OfficialNumber string          `json:"officialNumber"`
	CAE            string          `json:"cae"`
	Amount         decimal.Decimal `json:"amount"`
	IssuedAt       time.Time       `json:"issuedAt"`
}

// FiscalDocument is an authorized invoice, credit note or debit note.
type FiscalDocument struct {
	ID                  uuid.UUID
	Kind                DocumentKind
	SalesPoint          int
	Number              int64
	Date                time.Time
	CounterpartyID      uuid.UUID
	Counterparty        Identifier
	ReceiverVatCategory VatCategory
	Concept             Concept
	ServiceFrom         time.Time
	ServiceTo           time.Time
	PaymentDue          time.Time
	Items               []Item
	Amounts             Amounts
	VatBreakdown        []VatLine
	CAE                 string
	CAEExpiry           time.Time
	Observations        []Message
	Reason              string

	// Original is set on notes and points at the offset document.
	Original    *NoteLink
	CreditNotes []NoteLink
	DebitNotes  []NoteLink

	SaleID    *uuid.UUID
	Voided    bool
	VoidedAt  *time.Time
	CreatedAt time.Time
}

// NewDocument builds the local record of an approved request.
func NewDocument(req AuthorizationRequest, res *AuthorizationResult, now time.Time) *FiscalDocument {
	return &FiscalDocument{
		ID:                  uuid.New(),
		Kind:                req.Kind,
		SalesPoint:          req.SalesPoint,
		Number:              res.AssignedNumber,
		Date:                req.Date,
		Counterparty:        req.Counterparty,
		ReceiverVatCategory: req.ReceiverVatCategory,
		Concept:             req.Concept,
		ServiceFrom:         req.ServiceFrom,
		ServiceTo:           req.ServiceTo,
		PaymentDue:          req.PaymentDue,
		Amounts:             req.Amounts,
		VatBreakdown:        req.VatBreakdown,
		CAE:                 res.CAE,
		CAEExpiry:           res.CAEExpiry,
		Observations:        res.Observations,
		CreatedAt:           now,
	}
}

// OfficialNumber is the printed PPPPP-NNNNNNNN number.
func (d *FiscalDocument) OfficialNumber() string {
	return FormatNumber(d.SalesPoint, d.Number)
}

// CreditedAmount is the sum of all credit notes issued against the document.
func (d *FiscalDocument) CreditedAmount() decimal.Decimal {
	sum := decimal.Zero
	for _, n := range d.CreditNotes {
		sum = sum.Add(n.Amount)
	}
	return sum
}

// RemainingBalance is what further credit notes may still offset.
func (d *FiscalDocument) RemainingBalance() decimal.Decimal {
	return d.Amounts.Total.Sub(d.CreditedAmount())
}

// CanBeCredited reports why the document cannot take a credit note, if it cannot.
func (d *FiscalDocument) CanBeCredited() error {
	switch {
	case d.Kind.IsCreditNote():
		return NewValidationError("no se puede emitir una nota de crédito sobre otra nota de crédito")
	case d.Voided:
		return NewValidationError(fmt.Sprintf("el comprobante %s ya está anulado", d.OfficialNumber()))
	case !d.RemainingBalance().IsPositive():
		return NewValidationError(fmt.Sprintf("el comprobante %s no tiene saldo para acreditar", d.OfficialNumber()))
	}
	return nil
}

// ApplyCreditNote records a credit note against the document. Reaching the total voids it.
func (d *FiscalDocument) ApplyCreditNote(note NoteLink, now time.Time) (voided bool, err error) {
	remaining := d.RemainingBalance()
	if note.Amount.GreaterThan(remaining) {
		return false, NewValidationError(fmt.Sprintf("el importe %s supera el saldo anulable %s del comprobante %s",
			note.Amount.StringFixed(2), remaining.StringFixed(2), d.OfficialNumber()))
	}

	d.CreditNotes = append(d.CreditNotes, note)
	if !d.RemainingBalance().IsPositive() {
		d.Voided = true
		d.VoidedAt = &now
	}
	return d.Voided, nil
}

// ApplyDebitNote records a debit note issued against the document.
func (d *FiscalDocument) ApplyDebitNote(note NoteLink) {
	d.DebitNotes = append(d.DebitNotes, note)
}

// LinkTo describes the document for the other side of a note link.
func (d *FiscalDocument) LinkTo(amount decimal.Decimal) NoteLink {
	return NoteLink{
		DocumentID:     d.ID,
		Kind:           d.Kind,
		OfficialNumber: d.OfficialNumber(),
		CAE:            d.CAE,
		Amount:         amount,
		IssuedAt:       d.Date,
	}
}

// Associated references the document as CbteAsoc for a note.
func (d *FiscalDocument) Associated(issuerTaxID string) AssociatedDocument {
	return AssociatedDocument{
		Kind:        d.Kind,
		SalesPoint:  d.SalesPoint,
		Number:      d.Number,
		IssuerTaxID: issuerTaxID,
		Date:        d.Date,
	}
}

var (
	ErrSaleVoided   = errors.New("sale is voided")
	ErrSaleInvoiced = errors.New("sale already has a fiscal document")
)

// Sale is a commercial sale that may be backed by a fiscal document.
type Sale struct {
	ID             uuid.UUID
	CounterpartyID uuid.UUID
	DocumentID     *uuid.UUID
	Total          decimal.Decimal
	Voided         bool
	VoidedAt       *time.Time
	CreatedAt      time.Time
}

// AttachDocument links the sale to the invoice that documents it.
func (s *Sale) AttachDocument(id uuid.UUID) error {
	if s.Voided {
		return ErrSaleVoided
	}
	if s.DocumentID != nil {
		return ErrSaleInvoiced
	}
	s.DocumentID = &id
	return nil
}

// Void marks the sale as cancelled.
func (s *Sale) Void(now time.Time) {
	if s.Voided {
		return
	}
	s.Voided = true
	s.VoidedAt = &now
}
