package invoicing

import (
	"context"
	"fmt"
	"time"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
	"3tcapital/ms_facturacion_afip/internal/core/ledger"

	"github.com/google/uuid"
)

// InvoiceCommand requests an invoice for a counterparty.
type InvoiceCommand struct {
	CounterpartyID uuid.UUID
	// SaleID links the invoice to the sale it documents.
	SaleID *uuid.UUID

	// TaxID is resolved when ReceiverVatCategory is not given; the resolved profile also
	// supplies the identifier when Counterparty is empty.
	TaxID               string
	Counterparty        fiscal.Identifier
	ReceiverVatCategory fiscal.VatCategory

	// Zero values mean: default sales point, kind derived from both VAT categories,
	// products, today.
	SalesPoint int
	Kind       fiscal.DocumentKind
	Concept    fiscal.Concept
	Date       time.Time

	ServiceFrom time.Time
	ServiceTo   time.Time
	PaymentDue  time.Time

	Items []fiscal.Item
}

// IssueInvoice authorizes an invoice and records it with its debit movement. When the
// command names a sale, the sale is linked to the invoice in the same transaction.
func (s *Service) IssueInvoice(ctx context.Context, cmd InvoiceCommand) (*Outcome, error) {
	if len(cmd.Items) == 0 {
		return nil, fiscal.NewValidationError("la factura requiere al menos un ítem")
	}
	for _, item := range cmd.Items {
		if item.Description == "" || !item.Quantity.IsPositive() || item.UnitPrice.IsNegative() {
			return nil, fiscal.NewValidationError(fmt.Sprintf("ítem %q inválido", item.Description))
		}
	}

	category, identifier := cmd.ReceiverVatCategory, cmd.Counterparty
	if category == 0 {
		if cmd.TaxID == "" {
			return nil, fiscal.NewValidationError("se requiere la condición frente al IVA o el CUIT del receptor")
		}
		profile, err := s.resolver.Resolve(ctx, cmd.TaxID)
		if err != nil {
			return nil, err
		}
		category = profile.VatCategory
		if identifier == (fiscal.Identifier{}) {
			identifier = profile.SuggestedIdentifier
		}
		s.log.Info("Receiver classified",
			"tax_id", profile.TaxID,
			"vat_category", profile.VatCategoryLabel,
			"confidence", string(profile.Confidence),
		)
	}

	kind := cmd.Kind
	if kind == 0 {
		var err error
		if kind, err = fiscal.KindFor(s.issuer.VatCategory, category); err != nil {
			return nil, fiscal.NewValidationError(err.Error())
		}
	}
	concept := cmd.Concept
	if concept == 0 {
		concept = fiscal.ConceptProducts
	}
	date := cmd.Date
	if date.IsZero() {
		date = s.now()
	}

	amounts, lines := fiscal.ComputeTotals(cmd.Items, kind)

	var (
		doc     *fiscal.FiscalDocument
		balance = amounts.Total
	)

	prepare := func(ctx context.Context, repos fiscal.Repositories, is *issuance) error {
		is.counterpartyID = cmd.CounterpartyID

		if _, err := repos.Counterparties().Get(ctx, cmd.CounterpartyID); err != nil {
			return fmt.Errorf("load counterparty %s: %w", cmd.CounterpartyID, err)
		}
		if cmd.SaleID != nil {
			sale, err := repos.Sales().Get(ctx, *cmd.SaleID)
			if err != nil {
				return fmt.Errorf("load sale %s: %w", *cmd.SaleID, err)
			}
			if sale.Voided {
				return fiscal.NewValidationError(fmt.Sprintf("la venta %s está anulada", sale.ID))
			}
			if sale.DocumentID != nil {
				return fiscal.NewValidationError(fmt.Sprintf("la venta %s ya tiene comprobante", sale.ID))
			}
			is.relatedID = cmd.SaleID
		}

		is.req = fiscal.AuthorizationRequest{
			SalesPoint:          s.salesPoint(cmd.SalesPoint),
			Kind:                kind,
			Concept:             concept,
			Counterparty:        identifier,
			ReceiverVatCategory: category,
			Date:                date,
			ServiceFrom:         cmd.ServiceFrom,
			ServiceTo:           cmd.ServiceTo,
			PaymentDue:          cmd.PaymentDue,
			Amounts:             amounts,
			VatBreakdown:        lines,
		}
		return nil
	}

	record := func(ctx context.Context, repos fiscal.Repositories, is *issuance) error {
		doc = fiscal.NewDocument(is.req, is.result, s.now())
		doc.CounterpartyID = cmd.CounterpartyID
		doc.Items = cmd.Items
		doc.SaleID = cmd.SaleID

		if err := repos.Documents().Create(ctx, doc); err != nil {
			return fmt.Errorf("create document: %w", err)
		}

		if cmd.SaleID != nil {
			sale, err := repos.Sales().Get(ctx, *cmd.SaleID)
			if err != nil {
				return fmt.Errorf("load sale %s: %w", *cmd.SaleID, err)
			}
			if err := sale.AttachDocument(doc.ID); err != nil {
				return fmt.Errorf("link sale %s: %w", sale.ID, err)
			}
			if err := repos.Sales().Update(ctx, sale); err != nil {
				return fmt.Errorf("update sale %s: %w", sale.ID, err)
			}
		}

		var err error
		balance, err = s.postMovement(ctx, repos, ledger.Movement{
			CounterpartyID: cmd.CounterpartyID,
			Date:           date,
			Kind:           ledger.KindInvoice,
			Debit:          doc.Amounts.Total,
			DocumentID:     &doc.ID,
			Description:    noteDescription(doc.Kind, is.result),
		})
		return err
	}

	is, err := s.issue(ctx, OpInvoice, prepare, record)
	if err != nil {
		return nil, notFoundAsValidation(err)
	}
	return &Outcome{Document: doc, Result: is.result, Balance: balance}, nil
}
