package invoicing

import (
	"context"
	"errors"
	"testing"
	"time"

	"3tcapital/ms_facturacion_afip/internal/application/taxpayer"
	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
	"3tcapital/ms_facturacion_afip/internal/core/ledger"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/metrics"
	"3tcapital/ms_facturacion_afip/internal/testutil"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const issuerTaxID = "30712345671"

var testNow = time.Date(2026, 6, 15, 13, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

type fixture struct {
	store           *testutil.MemoryStore
	authorizer      *testutil.MockAuthorizer
	reconciliations *testutil.MockReconciliations
	metrics         *metrics.Metrics
	service         *Service

	counterparty ledger.Counterparty
	sale         fiscal.Sale
	original     fiscal.FiscalDocument
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:           testutil.NewMemoryStore(),
		authorizer:      &testutil.MockAuthorizer{},
		reconciliations: &testutil.MockReconciliations{},
		metrics:         metrics.New(prometheus.NewRegistry()),
	}
	clock := testutil.NewClock(testNow)
	resolver := taxpayer.NewService(nil, taxpayer.Config{Sandbox: true}, testutil.NewNullLogger(), nil, clock.Now)

	f.service = NewService(
		f.authorizer,
		resolver,
		f.store,
		f.reconciliations,
		Issuer{TaxID: issuerTaxID, Name: "3T Capital SA", VatCategory: fiscal.VatResponsableInscripto, DefaultSalesPoint: 3},
		testutil.NewNullLogger(),
		WithClock(clock.Now),
		WithMetrics(f.metrics),
	)

	f.counterparty = ledger.Counterparty{
		ID:          uuid.New(),
		Name:        "Juan Pérez",
		TaxID:       "20301234567",
		CreditLimit: dec("100"),
		Balance:     dec("121"),
		Delinquent:  true,
	}
	f.store.PutCounterparty(f.counterparty)

	saleID := uuid.New()
	f.original = fiscal.FiscalDocument{
		ID:                  uuid.New(),
		Kind:                fiscal.KindInvoiceB,
		SalesPoint:          3,
		Number:              100,
		Date:                testNow.AddDate(0, 0, -5),
		CounterpartyID:      f.counterparty.ID,
		Counterparty:        fiscal.Identifier{Kind: fiscal.IdentifierDNI, Number: 30123456},
		ReceiverVatCategory: fiscal.VatConsumidorFinal,
		Concept:             fiscal.ConceptProducts,
		Amounts:             fiscal.Amounts{Total: dec("121"), Net: dec("100"), Vat: dec("21")},
		VatBreakdown:        []fiscal.VatLine{{Rate: fiscal.Vat21, Base: dec("100"), Amount: dec("21")}},
		CAE:                 "76100000000100",
		SaleID:              &saleID,
		CreatedAt:           testNow.AddDate(0, 0, -5),
	}
	f.store.PutDocument(f.original)

	f.sale = fiscal.Sale{
		ID:             saleID,
		CounterpartyID: f.counterparty.ID,
		DocumentID:     &f.original.ID,
		Total:          dec("121"),
	}
	f.store.PutSale(f.sale)

	f.store.PutMovement(ledger.Movement{
		ID:             uuid.New(),
		CounterpartyID: f.counterparty.ID,
		Date:           f.original.Date,
		Seq:            1,
		Kind:           ledger.KindInvoice,
		Debit:          dec("121"),
		RunningBalance: dec("121"),
		DocumentID:     &f.original.ID,
	})
	return f
}

func (f *fixture) stored(t *testing.T, id uuid.UUID) fiscal.FiscalDocument {
	t.Helper()
	doc, ok := f.store.Document(id)
	require.True(t, ok, "document %s not stored", id)
	return doc
}

func TestIssueCreditNote_FullAmountVoidsOriginalAndSale(t *testing.T) {
	f := newFixture(t)

	out, err := f.service.IssueCreditNote(context.Background(), CreditNoteCommand{
		OriginalID: f.original.ID,
		Reason:     "devolución total",
	})
	require.NoError(t, err)

	assert.True(t, out.OriginalVoided)
	assert.True(t, out.Balance.IsZero())
	assert.Equal(t, fiscal.KindCreditNoteB, out.Document.Kind)

	reqs := f.authorizer.Requests()
	require.Len(t, reqs, 1)
	req := reqs[0]
	assert.Equal(t, 3, req.SalesPoint)
	assert.Equal(t, f.original.Amounts, req.Amounts)
	require.Len(t, req.Associated, 1)
	assert.Equal(t, fiscal.AssociatedDocument{
		Kind:        fiscal.KindInvoiceB,
		SalesPoint:  3,
		Number:      100,
		IssuerTaxID: issuerTaxID,
		Date:        f.original.Date,
	}, req.Associated[0])

	original := f.stored(t, f.original.ID)
	assert.True(t, original.Voided)
	require.Len(t, original.CreditNotes, 1)
	assert.Equal(t, out.Document.ID, original.CreditNotes[0].DocumentID)
	assert.True(t, original.RemainingBalance().IsZero())

	note := f.stored(t, out.Document.ID)
	require.NotNil(t, note.Original)
	assert.Equal(t, f.original.ID, note.Original.DocumentID)
	assert.Equal(t, "devolución total", note.Reason)
	assert.Equal(t, f.counterparty.ID, note.CounterpartyID)

	sale, _ := f.store.Sale(f.sale.ID)
	assert.True(t, sale.Voided)

	movements := f.store.Movements(f.counterparty.ID)
	require.Len(t, movements, 2)
	assert.Equal(t, ledger.KindCreditNote, movements[1].Kind)
	assert.True(t, movements[1].Credit.Equal(dec("121")))
	assert.True(t, movements[1].RunningBalance.IsZero())

	cp, _ := f.store.Counterparty(f.counterparty.ID)
	assert.True(t, cp.Balance.IsZero())
	assert.False(t, cp.Delinquent)
}

func TestIssueCreditNote_Partial(t *testing.T) {
	f := newFixture(t)

	out, err := f.service.IssueCreditNote(context.Background(), CreditNoteCommand{
		OriginalID: f.original.ID,
		Amount:     decPtr("60.50"),
	})
	require.NoError(t, err)
	assert.False(t, out.OriginalVoided)

	req := f.authorizer.Requests()[0]
	assert.True(t, req.Amounts.Total.Equal(dec("60.50")))
	assert.True(t, req.Amounts.Net.Equal(dec("50")))
	assert.True(t, req.Amounts.Vat.Equal(dec("10.50")))
	require.Len(t, req.VatBreakdown, 1)
	assert.True(t, req.VatBreakdown[0].Amount.Equal(dec("10.50")))

	original := f.stored(t, f.original.ID)
	assert.False(t, original.Voided)
	assert.True(t, original.RemainingBalance().Equal(dec("60.50")))

	sale, _ := f.store.Sale(f.sale.ID)
	assert.False(t, sale.Voided)

	cp, _ := f.store.Counterparty(f.counterparty.ID)
	assert.True(t, cp.Balance.Equal(dec("60.50")))
	assert.False(t, cp.Delinquent)

	// The rest can still be credited, and only the rest.
	_, err = f.service.IssueCreditNote(context.Background(), CreditNoteCommand{
		OriginalID: f.original.ID,
		Amount:     decPtr("60.51"),
	})
	var verr *fiscal.ValidationError
	require.ErrorAs(t, err, &verr)

	out, err = f.service.IssueCreditNote(context.Background(), CreditNoteCommand{OriginalID: f.original.ID})
	require.NoError(t, err)
	assert.True(t, out.OriginalVoided)
	assert.True(t, out.Document.Amounts.Total.Equal(dec("60.50")))
}

func TestIssueCreditNote_ExactAmountsAtRatioOne(t *testing.T) {
	f := newFixture(t)

	odd := f.original
	odd.ID = uuid.New()
	odd.Number = 101
	odd.SaleID = nil
	odd.Amounts = fiscal.Amounts{Total: dec("1234.57"), Net: dec("1020.31"), Vat: dec("214.26")}
	odd.VatBreakdown = []fiscal.VatLine{{Rate: fiscal.Vat21, Base: dec("1020.31"), Amount: dec("214.26")}}
	f.store.PutDocument(odd)

	_, err := f.service.IssueCreditNote(context.Background(), CreditNoteCommand{
		OriginalID: odd.ID,
		Amount:     decPtr("1234.57"),
	})
	require.NoError(t, err)

	req := f.authorizer.Requests()[0]
	assert.Equal(t, odd.Amounts, req.Amounts)
	assert.Equal(t, odd.VatBreakdown, req.VatBreakdown)
}

func TestIssueCreditNote_PartialOnMixedInvoice(t *testing.T) {
	f := newFixture(t)

	mixed := f.original
	mixed.ID = uuid.New()
	mixed.Number = 102
	mixed.SaleID = nil
	mixed.Amounts = fiscal.Amounts{Total: dec("1208.06"), Net: dec("1000.05"), Vat: dec("157.51"), Exempt: dec("33.33"), NonTaxed: dec("17.17")}
	mixed.VatBreakdown = []fiscal.VatLine{
		{Rate: fiscal.Vat10_5, Base: dec("500.02"), Amount: dec("52.50")},
		{Rate: fiscal.Vat21, Base: dec("500.03"), Amount: dec("105.01")},
	}
	f.store.PutDocument(mixed)

	for _, amount := range []string{"0.27", "0.40", "363.03", "604.03", "240.33"} {
		_, err := f.service.IssueCreditNote(context.Background(), CreditNoteCommand{
			OriginalID: mixed.ID,
			Amount:     decPtr(amount),
		})
		require.NoError(t, err, amount)

		requests := f.authorizer.Requests()
		req := requests[len(requests)-1]
		require.NoError(t, req.Validate(), amount)
		assert.Equal(t, amount, req.Amounts.Total.StringFixed(2))
		assert.True(t, req.Amounts.Total.Equal(req.Amounts.ComponentSum()), amount)
		assert.True(t, fiscal.SumBases(req.VatBreakdown).Equal(req.Amounts.Net), amount)
	}
	assert.True(t, f.stored(t, mixed.ID).Voided)
}

func TestIssueCreditNote_ValidationFailsBeforeAuthority(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture) CreditNoteCommand
	}{
		{
			name: "amount above remaining balance",
			setup: func(f *fixture) CreditNoteCommand {
				return CreditNoteCommand{OriginalID: f.original.ID, Amount: decPtr("121.01")}
			},
		},
		{
			name: "zero amount",
			setup: func(f *fixture) CreditNoteCommand {
				return CreditNoteCommand{OriginalID: f.original.ID, Amount: decPtr("0")}
			},
		},
		{
			name: "original already voided",
			setup: func(f *fixture) CreditNoteCommand {
				voided := f.original
				voided.Voided = true
				f.store.PutDocument(voided)
				return CreditNoteCommand{OriginalID: f.original.ID}
			},
		},
		{
			name: "original is a credit note",
			setup: func(f *fixture) CreditNoteCommand {
				note := f.original
				note.ID = uuid.New()
				note.Kind = fiscal.KindCreditNoteB
				f.store.PutDocument(note)
				return CreditNoteCommand{OriginalID: note.ID}
			},
		},
		{
			name: "unknown original",
			setup: func(f *fixture) CreditNoteCommand {
				return CreditNoteCommand{OriginalID: uuid.New()}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			cmd := tt.setup(f)

			_, err := f.service.IssueCreditNote(context.Background(), cmd)

			var verr *fiscal.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Empty(t, f.authorizer.Requests())
			assert.Len(t, f.store.Movements(f.counterparty.ID), 1)
		})
	}
}

func TestIssueCreditNote_RejectionPersistsNothing(t *testing.T) {
	f := newFixture(t)
	f.authorizer.RequestAuthorizationFunc = func(_ context.Context, req fiscal.AuthorizationRequest) (*fiscal.AuthorizationResult, error) {
		return &fiscal.AuthorizationResult{
			Kind:           req.Kind,
			SalesPoint:     req.SalesPoint,
			AssignedNumber: 7,
			Errors:         []fiscal.Message{{Code: 10016, Msg: "El numero o fecha del comprobante no se corresponde"}},
		}, nil
	}

	_, err := f.service.IssueCreditNote(context.Background(), CreditNoteCommand{OriginalID: f.original.ID})

	var rejection *fiscal.RejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, []string{"[10016] El numero o fecha del comprobante no se corresponde"}, rejection.Reasons())

	assert.Len(t, f.store.Documents(), 1)
	assert.Empty(t, f.stored(t, f.original.ID).CreditNotes)
	assert.Len(t, f.store.Movements(f.counterparty.ID), 1)
	assert.Empty(t, f.reconciliations.Records())
}

func TestIssueCreditNote_PersistenceFailureAfterApprovalNeedsReconciliation(t *testing.T) {
	for _, op := range []string{"documents.create", "documents.update", "movements.insert", "counterparties.update", "sales.update"} {
		t.Run(op, func(t *testing.T) {
			f := newFixture(t)
			f.store.FailOn[op] = true
			f.authorizer.RequestAuthorizationFunc = func(_ context.Context, req fiscal.AuthorizationRequest) (*fiscal.AuthorizationResult, error) {
				return testutil.Approved(req, 42), nil
			}

			_, err := f.service.IssueCreditNote(context.Background(), CreditNoteCommand{OriginalID: f.original.ID})

			var cerr *fiscal.ConsistencyError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, "76110000000001", cerr.CAE)
			assert.Equal(t, int64(42), cerr.Number)
			assert.ErrorIs(t, err, testutil.ErrInjected)
			assert.False(t, fiscal.IsRetryable(err))

			records := f.reconciliations.Records()
			require.Len(t, records, 1)
			assert.Equal(t, OpCreditNote, records[0].Operation)
			assert.Equal(t, fiscal.KindCreditNoteB, records[0].Kind)
			assert.Equal(t, int64(42), records[0].Number)
			assert.Equal(t, "76110000000001", records[0].CAE)
			assert.Equal(t, &f.original.ID, records[0].RelatedDocumentID)
			assert.True(t, records[0].Amount.Equal(dec("121")))
			assert.NotEmpty(t, records[0].CorrelationID)

			assert.Equal(t, 1.0, promtestutil.ToFloat64(f.metrics.Reconciliations.WithLabelValues(OpCreditNote)))

			// Nothing of the transaction survives.
			assert.Len(t, f.store.Documents(), 1)
			original := f.stored(t, f.original.ID)
			assert.False(t, original.Voided)
			assert.Empty(t, original.CreditNotes)
			sale, _ := f.store.Sale(f.sale.ID)
			assert.False(t, sale.Voided)
			assert.Len(t, f.store.Movements(f.counterparty.ID), 1)
			cp, _ := f.store.Counterparty(f.counterparty.ID)
			assert.True(t, cp.Balance.Equal(dec("121")))
		})
	}
}

func TestIssueCreditNote_ReconciliationStoreFailureStillReportsConsistencyError(t *testing.T) {
	f := newFixture(t)
	f.store.FailOn["documents.create"] = true
	f.reconciliations.RecordFunc = func(context.Context, fiscal.Reconciliation) error {
		return errors.New("database unavailable")
	}

	_, err := f.service.IssueCreditNote(context.Background(), CreditNoteCommand{OriginalID: f.original.ID})

	var cerr *fiscal.ConsistencyError
	require.ErrorAs(t, err, &cerr)
	assert.Empty(t, f.reconciliations.Records())
}

func TestIssueCreditNote_CallerCancelledBeforeAuthorityCall(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.service.IssueCreditNote(ctx, CreditNoteCommand{OriginalID: f.original.ID})

	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.authorizer.Requests())
}

func TestIssueCreditNote_CallerCancelledDuringAuthorityCallStillRecords(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.authorizer.RequestAuthorizationFunc = func(opCtx context.Context, req fiscal.AuthorizationRequest) (*fiscal.AuthorizationResult, error) {
		cancel()
		require.NoError(t, opCtx.Err())
		return testutil.Approved(req, 9), nil
	}

	out, err := f.service.IssueCreditNote(ctx, CreditNoteCommand{OriginalID: f.original.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(9), out.Document.Number)
	assert.True(t, f.stored(t, f.original.ID).Voided)
}

func TestIssueCreditNote_ServicesKeepPeriodAndMoveDueDate(t *testing.T) {
	f := newFixture(t)

	svc := f.original
	svc.ID = uuid.New()
	svc.SaleID = nil
	svc.Concept = fiscal.ConceptServices
	svc.ServiceFrom = testNow.AddDate(0, -1, 0)
	svc.ServiceTo = testNow.AddDate(0, 0, -10)
	svc.PaymentDue = testNow.AddDate(0, 0, -1)
	f.store.PutDocument(svc)

	_, err := f.service.IssueCreditNote(context.Background(), CreditNoteCommand{OriginalID: svc.ID, Date: testNow})
	require.NoError(t, err)

	req := f.authorizer.Requests()[0]
	assert.Equal(t, svc.ServiceFrom, req.ServiceFrom)
	assert.Equal(t, svc.ServiceTo, req.ServiceTo)
	assert.Equal(t, testNow, req.PaymentDue)
}

func TestIssueDebitNote(t *testing.T) {
	f := newFixture(t)

	out, err := f.service.IssueDebitNote(context.Background(), DebitNoteCommand{
		OriginalID: f.original.ID,
		Amount:     dec("12.10"),
		Reason:     "intereses por mora",
	})
	require.NoError(t, err)

	assert.Equal(t, fiscal.KindDebitNoteB, out.Document.Kind)
	req := f.authorizer.Requests()[0]
	assert.True(t, req.Amounts.Total.Equal(dec("12.10")))
	assert.True(t, req.Amounts.Net.Equal(dec("10")))
	assert.True(t, req.Amounts.Vat.Equal(dec("2.10")))
	require.Len(t, req.Associated, 1)
	assert.Equal(t, int64(100), req.Associated[0].Number)

	original := f.stored(t, f.original.ID)
	require.Len(t, original.DebitNotes, 1)
	assert.False(t, original.Voided)
	assert.True(t, original.RemainingBalance().Equal(dec("121")))

	assert.True(t, out.Balance.Equal(dec("133.10")))
	movements := f.store.Movements(f.counterparty.ID)
	require.Len(t, movements, 2)
	assert.Equal(t, ledger.KindDebitNote, movements[1].Kind)
	assert.True(t, movements[1].Debit.Equal(dec("12.10")))
}

func TestIssueDebitNote_Invalid(t *testing.T) {
	f := newFixture(t)

	note := f.original
	note.ID = uuid.New()
	note.Kind = fiscal.KindCreditNoteB
	f.store.PutDocument(note)

	tests := []struct {
		name string
		cmd  DebitNoteCommand
	}{
		{"zero amount", DebitNoteCommand{OriginalID: f.original.ID}},
		{"negative amount", DebitNoteCommand{OriginalID: f.original.ID, Amount: dec("-1")}},
		{"against a credit note", DebitNoteCommand{OriginalID: note.ID, Amount: dec("10")}},
		{"unknown original", DebitNoteCommand{OriginalID: uuid.New(), Amount: dec("10")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.IssueDebitNote(context.Background(), tt.cmd)
			var verr *fiscal.ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
	assert.Empty(t, f.authorizer.Requests())
}

func TestIssueInvoice_ComputesTotalsAndLinksSale(t *testing.T) {
	f := newFixture(t)
	sale := fiscal.Sale{ID: uuid.New(), CounterpartyID: f.counterparty.ID, Total: dec("131")}
	f.store.PutSale(sale)

	out, err := f.service.IssueInvoice(context.Background(), InvoiceCommand{
		CounterpartyID:      f.counterparty.ID,
		SaleID:              &sale.ID,
		Counterparty:        fiscal.Identifier{Kind: fiscal.IdentifierDNI, Number: 30123456},
		ReceiverVatCategory: fiscal.VatConsumidorFinal,
		Items: []fiscal.Item{
			{Description: "Servicio de hosting", Quantity: dec("2"), UnitPrice: dec("50"), Rate: fiscal.Vat21},
			{Description: "Libro", Quantity: dec("1"), UnitPrice: dec("10"), Treatment: fiscal.TreatmentExempt},
		},
	})
	require.NoError(t, err)

	req := f.authorizer.Requests()[0]
	assert.Equal(t, fiscal.KindInvoiceB, req.Kind)
	assert.Equal(t, fiscal.ConceptProducts, req.Concept)
	assert.Equal(t, 3, req.SalesPoint)
	assert.Equal(t, testNow, req.Date)
	assert.True(t, req.Amounts.Net.Equal(dec("100")))
	assert.True(t, req.Amounts.Vat.Equal(dec("21")))
	assert.True(t, req.Amounts.Exempt.Equal(dec("10")))
	assert.True(t, req.Amounts.Total.Equal(dec("131")))

	doc := f.stored(t, out.Document.ID)
	assert.Len(t, doc.Items, 2)
	assert.Equal(t, &sale.ID, doc.SaleID)

	linked, _ := f.store.Sale(sale.ID)
	require.NotNil(t, linked.DocumentID)
	assert.Equal(t, out.Document.ID, *linked.DocumentID)

	assert.True(t, out.Balance.Equal(dec("252")))
	cp, _ := f.store.Counterparty(f.counterparty.ID)
	assert.True(t, cp.Delinquent)
}

func TestIssueInvoice_LeavesDelinquencyUntouched(t *testing.T) {
	f := newFixture(t)
	cp := ledger.Counterparty{ID: uuid.New(), Name: "Ana Gómez", CreditLimit: dec("1000"), Delinquent: true}
	f.store.PutCounterparty(cp)

	out, err := f.service.IssueInvoice(context.Background(), InvoiceCommand{
		CounterpartyID:      cp.ID,
		Counterparty:        fiscal.Identifier{Kind: fiscal.IdentifierDNI, Number: 28123456},
		ReceiverVatCategory: fiscal.VatConsumidorFinal,
		Items:               []fiscal.Item{{Description: "Abono mensual", Quantity: dec("1"), UnitPrice: dec("100"), Rate: fiscal.Vat21}},
	})
	require.NoError(t, err)
	assert.True(t, out.Balance.Equal(dec("121")))

	stored, _ := f.store.Counterparty(cp.ID)
	assert.True(t, stored.Balance.Equal(dec("121")))
	assert.True(t, stored.Delinquent)
}

func TestIssueDebitNote_NeverFlagsDelinquency(t *testing.T) {
	f := newFixture(t)
	cp := f.counterparty
	cp.Delinquent = false
	f.store.PutCounterparty(cp)

	out, err := f.service.IssueDebitNote(context.Background(), DebitNoteCommand{
		OriginalID: f.original.ID,
		Amount:     dec("12.10"),
	})
	require.NoError(t, err)
	assert.True(t, out.Balance.GreaterThan(cp.CreditLimit))

	stored, _ := f.store.Counterparty(cp.ID)
	assert.False(t, stored.Delinquent)
}

func TestIssueInvoice_ResolvesReceiverFromTaxID(t *testing.T) {
	f := newFixture(t)

	out, err := f.service.IssueInvoice(context.Background(), InvoiceCommand{
		CounterpartyID: f.counterparty.ID,
		TaxID:          "30-71234567-1",
		SalesPoint:     5,
		Items:          []fiscal.Item{{Description: "Consultoría", Quantity: dec("1"), UnitPrice: dec("1000"), Rate: fiscal.Vat21}},
	})
	require.NoError(t, err)

	req := f.authorizer.Requests()[0]
	assert.Equal(t, fiscal.KindInvoiceA, req.Kind)
	assert.Equal(t, 5, req.SalesPoint)
	assert.Equal(t, fiscal.VatResponsableInscripto, req.ReceiverVatCategory)
	assert.Equal(t, fiscal.Identifier{Kind: fiscal.IdentifierCUIT, Number: 30712345671}, req.Counterparty)
	assert.True(t, out.Document.Amounts.Total.Equal(dec("1210")))
}

func TestIssueInvoice_Invalid(t *testing.T) {
	f := newFixture(t)
	invoiced := f.sale

	item := fiscal.Item{Description: "x", Quantity: dec("1"), UnitPrice: dec("1"), Rate: fiscal.Vat21}
	tests := []struct {
		name string
		cmd  InvoiceCommand
	}{
		{"no items", InvoiceCommand{CounterpartyID: f.counterparty.ID, ReceiverVatCategory: fiscal.VatConsumidorFinal}},
		{"zero quantity", InvoiceCommand{
			CounterpartyID:      f.counterparty.ID,
			ReceiverVatCategory: fiscal.VatConsumidorFinal,
			Items:               []fiscal.Item{{Description: "x", UnitPrice: dec("1")}},
		}},
		{"no receiver data", InvoiceCommand{CounterpartyID: f.counterparty.ID, Items: []fiscal.Item{item}}},
		{"unknown counterparty", InvoiceCommand{
			CounterpartyID:      uuid.New(),
			Counterparty:        fiscal.Identifier{Kind: fiscal.IdentifierDNI, Number: 30123456},
			ReceiverVatCategory: fiscal.VatConsumidorFinal,
			Items:               []fiscal.Item{item},
		}},
		{"sale already invoiced", InvoiceCommand{
			CounterpartyID:      f.counterparty.ID,
			SaleID:              &invoiced.ID,
			Counterparty:        fiscal.Identifier{Kind: fiscal.IdentifierDNI, Number: 30123456},
			ReceiverVatCategory: fiscal.VatConsumidorFinal,
			Items:               []fiscal.Item{item},
		}},
		{"class A to a final consumer", InvoiceCommand{
			CounterpartyID:      f.counterparty.ID,
			Kind:                fiscal.KindInvoiceA,
			Counterparty:        fiscal.Identifier{Kind: fiscal.IdentifierDNI, Number: 30123456},
			ReceiverVatCategory: fiscal.VatConsumidorFinal,
			Items:               []fiscal.Item{item},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.IssueInvoice(context.Background(), tt.cmd)
			var verr *fiscal.ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
	assert.Empty(t, f.authorizer.Requests())
}

func TestDetermineInvoiceKind(t *testing.T) {
	f := newFixture(t)

	company, err := f.service.DetermineInvoiceKind(context.Background(), "30712345671")
	require.NoError(t, err)
	assert.Equal(t, fiscal.KindInvoiceA, company.Kind)
	assert.True(t, company.DiscriminatesVAT)
	assert.Equal(t, fiscal.ConfidenceHeuristic, company.Profile.Confidence)

	person, err := f.service.DetermineInvoiceKind(context.Background(), "20301234567")
	require.NoError(t, err)
	assert.Equal(t, fiscal.KindInvoiceB, person.Kind)
	assert.False(t, person.DiscriminatesVAT)
	assert.Equal(t, fiscal.Identifier{Kind: fiscal.IdentifierDNI, Number: 30123456}, person.Profile.SuggestedIdentifier)

	_, err = f.service.DetermineInvoiceKind(context.Background(), "123")
	var verr *fiscal.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestLastAuthorizedNumber_DefaultsSalesPoint(t *testing.T) {
	f := newFixture(t)
	f.authorizer.LastAuthorizedNumberFunc = func(_ context.Context, salesPoint int, kind fiscal.DocumentKind) (int64, error) {
		assert.Equal(t, 3, salesPoint)
		assert.Equal(t, fiscal.KindInvoiceB, kind)
		return 57, nil
	}

	n, err := f.service.LastAuthorizedNumber(context.Background(), 0, fiscal.KindInvoiceB)
	require.NoError(t, err)
	assert.Equal(t, int64(57), n)

	_, err = f.service.LastAuthorizedNumber(context.Background(), 0, fiscal.DocumentKind(99))
	var verr *fiscal.ValidationError
	require.ErrorAs(t, err, &verr)
}
