package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const documentColumns = `
	id, kind, sales_point, number, issue_date, counterparty_id,
	identifier_kind, identifier_number, receiver_vat_category, concept,
	service_from, service_to, payment_due,
	total, non_taxed, exempt, net, vat, other_taxes,
	items, vat_breakdown, observations, cae, cae_expiry, reason,
	original, credit_notes, debit_notes, sale_id, voided, voided_at, created_at`

type documents struct {
	tx pgx.Tx
}

// Create inserts doc. A duplicate (sales point, kind, number) violates
// uq_fiscal_documents_number.
func (r documents) Create(ctx context.Context, doc *fiscal.FiscalDocument) error {
	items, err := json.Marshal(nonNil(doc.Items))
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}
	breakdown, err := json.Marshal(nonNil(doc.VatBreakdown))
	if err != nil {
		return fmt.Errorf("marshal vat breakdown: %w", err)
	}
	observations, err := json.Marshal(nonNil(doc.Observations))
	if err != nil {
		return fmt.Errorf("marshal observations: %w", err)
	}
	creditNotes, debitNotes, err := marshalLinks(doc)
	if err != nil {
		return err
	}
	var original []byte
	if doc.Original != nil {
		if original, err = json.Marshal(doc.Original); err != nil {
			return fmt.Errorf("marshal original: %w", err)
		}
	}

	query := `INSERT INTO fiscal_documents (` + documentColumns + `) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19,
		$20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32)`

	_, err = r.tx.Exec(ctx, query,
		doc.ID,
		int(doc.Kind),
		doc.SalesPoint,
		doc.Number,
		doc.Date,
		doc.CounterpartyID,
		int(doc.Counterparty.Kind),
		doc.Counterparty.Number,
		int(doc.ReceiverVatCategory),
		int(doc.Concept),
		nullTime(doc.ServiceFrom),
		nullTime(doc.ServiceTo),
		nullTime(doc.PaymentDue),
		doc.Amounts.Total,
		doc.Amounts.NonTaxed,
		doc.Amounts.Exempt,
		doc.Amounts.Net,
		doc.Amounts.Vat,
		doc.Amounts.OtherTaxes,
		items,
		breakdown,
		observations,
		doc.CAE,
		doc.CAEExpiry,
		doc.Reason,
		original,
		creditNotes,
		debitNotes,
		doc.SaleID,
		doc.Voided,
		doc.VoidedAt,
		doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert fiscal document %s: %w", doc.OfficialNumber(), err)
	}
	return nil
}

// Get loads a document and locks its row.
func (r documents) Get(ctx context.Context, id uuid.UUID) (*fiscal.FiscalDocument, error) {
	query := `SELECT ` + documentColumns + ` FROM fiscal_documents WHERE id = $1 FOR UPDATE`

	var (
		doc                                     fiscal.FiscalDocument
		kind, identifierKind, category, concept int
		serviceFrom, serviceTo, paymentDue      *time.Time
		items, breakdown, observations          []byte
		original, creditNotes, debitNotes       []byte
	)
	err := r.tx.QueryRow(ctx, query, id).Scan(
		&doc.ID,
		&kind,
		&doc.SalesPoint,
		&doc.Number,
		&doc.Date,
		&doc.CounterpartyID,
		&identifierKind,
		&doc.Counterparty.Number,
		&category,
		&concept,
		&serviceFrom,
		&serviceTo,
		&paymentDue,
		&doc.Amounts.Total,
		&doc.Amounts.NonTaxed,
		&doc.Amounts.Exempt,
		&doc.Amounts.Net,
		&doc.Amounts.Vat,
		&doc.Amounts.OtherTaxes,
		&items,
		&breakdown,
		&observations,
		&doc.CAE,
		&doc.CAEExpiry,
		&doc.Reason,
		&original,
		&creditNotes,
		&debitNotes,
		&doc.SaleID,
		&doc.Voided,
		&doc.VoidedAt,
		&doc.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}

	doc.Kind = fiscal.DocumentKind(kind)
	doc.Counterparty.Kind = fiscal.IdentifierKind(identifierKind)
	doc.ReceiverVatCategory = fiscal.VatCategory(category)
	doc.Concept = fiscal.Concept(concept)
	doc.ServiceFrom = derefTime(serviceFrom)
	doc.ServiceTo = derefTime(serviceTo)
	doc.PaymentDue = derefTime(paymentDue)

	for _, f := range []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"items", items, &doc.Items},
		{"vat breakdown", breakdown, &doc.VatBreakdown},
		{"observations", observations, &doc.Observations},
		{"credit notes", creditNotes, &doc.CreditNotes},
		{"debit notes", debitNotes, &doc.DebitNotes},
	} {
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("unmarshal %s of %s: %w", f.name, id, err)
		}
	}
	if len(original) > 0 {
		doc.Original = &fiscal.NoteLink{}
		if err := json.Unmarshal(original, doc.Original); err != nil {
			return nil, fmt.Errorf("unmarshal original of %s: %w", id, err)
		}
	}
	return &doc, nil
}

// Update stores the note links and void state, the only parts of an authorized
// document that change.
func (r documents) Update(ctx context.Context, doc *fiscal.FiscalDocument) error {
	creditNotes, debitNotes, err := marshalLinks(doc)
	if err != nil {
		return err
	}

	tag, err := r.tx.Exec(ctx, `
		UPDATE fiscal_documents
		SET credit_notes = $2, debit_notes = $3, voided = $4, voided_at = $5
		WHERE id = $1`,
		doc.ID, creditNotes, debitNotes, doc.Voided, doc.VoidedAt,
	)
	if err != nil {
		return fmt.Errorf("update fiscal document %s: %w", doc.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fiscal.ErrNotFound
	}
	return nil
}

func marshalLinks(doc *fiscal.FiscalDocument) (credit, debit []byte, err error) {
	if credit, err = json.Marshal(nonNil(doc.CreditNotes)); err != nil {
		return nil, nil, fmt.Errorf("marshal credit notes: %w", err)
	}
	if debit, err = json.Marshal(nonNil(doc.DebitNotes)); err != nil {
		return nil, nil, fmt.Errorf("marshal debit notes: %w", err)
	}
	return credit, debit, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
