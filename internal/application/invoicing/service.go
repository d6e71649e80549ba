package invoicing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
	"3tcapital/ms_facturacion_afip/internal/core/ledger"
	ctxutil "3tcapital/ms_facturacion_afip/internal/infrastructure/context"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/metrics"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Operation names used in logs, metrics and reconciliation records.
const (
	OpInvoice    = "invoice"
	OpCreditNote = "credit_note"
	OpDebitNote  = "debit_note"
)

const (
	defaultOperationTimeout = 90 * time.Second
	reconciliationTimeout   = 5 * time.Second
)

// Resolver resolves a counterparty's tax status.
type Resolver interface {
	Resolve(ctx context.Context, taxID string) (fiscal.TaxpayerProfile, error)
}

// Issuer identifies who signs the documents.
type Issuer struct {
	TaxID             string
	Name              string
	VatCategory       fiscal.VatCategory
	DefaultSalesPoint int
}

// Service issues invoices and notes and keeps the local ledgers consistent with what
// the authority approved.
type Service struct {
	authorizer      fiscal.Authorizer
	resolver        Resolver
	scope           fiscal.TransactionScope
	reconciliations fiscal.ReconciliationRepository
	issuer          Issuer
	timeout         time.Duration
	now             func() time.Time
	log             *slog.Logger
	metrics         *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithClock injects the clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMetrics counts reconciliation records.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithOperationTimeout bounds one issuance, authority call and persistence included.
// It applies even after the caller goes away.
func WithOperationTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewService creates the issuance service.
func NewService(
	authorizer fiscal.Authorizer,
	resolver Resolver,
	scope fiscal.TransactionScope,
	reconciliations fiscal.ReconciliationRepository,
	issuer Issuer,
	log *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		authorizer:      authorizer,
		resolver:        resolver,
		scope:           scope,
		reconciliations: reconciliations,
		issuer:          issuer,
		timeout:         defaultOperationTimeout,
		now:             time.Now,
		log:             log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Outcome is a persisted issuance.
type Outcome struct {
	Document *fiscal.FiscalDocument
	Result   *fiscal.AuthorizationResult
	// OriginalVoided is set when a credit note offset the rest of its original.
	OriginalVoided bool
	// Balance is the counterparty's account balance after the movement.
	Balance decimal.Decimal
}

// issuance carries one document through the shared skeleton.
type issuance struct {
	operation      string
	counterpartyID uuid.UUID
	relatedID      *uuid.UUID
	req            fiscal.AuthorizationRequest
	result         *fiscal.AuthorizationResult
}

type stepFunc func(ctx context.Context, repos fiscal.Repositories, is *issuance) error

// issue runs prepare, the authority call and record inside one transaction.
//
// The authority call and everything after it run on a context detached from the
// caller: once a number may have been consumed the outcome must be recorded. An
// approval followed by any local failure becomes a ConsistencyError plus a
// reconciliation record written outside the rolled back transaction.
func (s *Service) issue(ctx context.Context, operation string, prepare, record stepFunc) (*issuance, error) {
	ctx, correlationID := ctxutil.EnsureCorrelationID(ctx)
	log := s.log.With("operation", operation, "correlation_id", correlationID)

	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	is := &issuance{operation: operation}
	var approved bool

	err := s.scope.Execute(opCtx, func(repos fiscal.Repositories) error {
		if err := prepare(opCtx, repos, is); err != nil {
			return err
		}
		if err := is.req.Validate(); err != nil {
			return err
		}
		// Last point where giving up costs nothing.
		if err := ctx.Err(); err != nil {
			return err
		}

		result, err := s.authorizer.RequestAuthorization(opCtx, is.req)
		if err != nil {
			return err
		}
		is.result = result
		if !result.Approved {
			return &fiscal.RejectionError{Result: result}
		}
		approved = true

		return record(opCtx, repos, is)
	})

	switch {
	case err == nil:
		log.Info("Document issued",
			"kind", is.result.Kind.String(),
			"number", is.result.OfficialNumber(),
			"cae", is.result.CAE,
		)
		return is, nil
	case approved:
		return nil, s.reconcile(ctx, log, correlationID, is, err)
	default:
		var rejection *fiscal.RejectionError
		if errors.As(err, &rejection) {
			log.Warn("Document rejected by the authority", "reasons", rejection.Reasons())
		}
		return nil, err
	}
}

func (s *Service) reconcile(ctx context.Context, log *slog.Logger, correlationID string, is *issuance, cause error) error {
	res := is.result
	cerr := &fiscal.ConsistencyError{
		Kind:       res.Kind,
		SalesPoint: res.SalesPoint,
		Number:     res.AssignedNumber,
		CAE:        res.CAE,
		Err:        cause,
	}
	s.metrics.IncReconciliation(is.operation)
	log.Error("Document approved by the authority but not recorded",
		"kind", res.Kind.String(),
		"number", res.OfficialNumber(),
		"cae", res.CAE,
		"error", cause,
	)

	if s.reconciliations == nil {
		return cerr
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reconciliationTimeout)
	defer cancel()

	err := s.reconciliations.Record(rctx, fiscal.Reconciliation{
		ID:                uuid.New(),
		Operation:         is.operation,
		Kind:              res.Kind,
		SalesPoint:        res.SalesPoint,
		Number:            res.AssignedNumber,
		CAE:               res.CAE,
		CAEExpiry:         res.CAEExpiry,
		RelatedDocumentID: is.relatedID,
		CounterpartyID:    is.counterpartyID,
		Amount:            is.req.Amounts.Total,
		Error:             cause.Error(),
		CorrelationID:     correlationID,
		CreatedAt:         s.now(),
	})
	if err != nil {
		log.Error("Failed to record reconciliation", "cae", res.CAE, "error", err)
	}
	return cerr
}

// postMovement appends m to the counterparty's ledger, checks every running balance
// and, for credits, clears the counterparty's delinquency when the balance is back
// within its limit.
func (s *Service) postMovement(ctx context.Context, repos fiscal.Repositories, m ledger.Movement) (decimal.Decimal, error) {
	now := s.now()

	counterparty, err := repos.Counterparties().Get(ctx, m.CounterpartyID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("load counterparty %s: %w", m.CounterpartyID, err)
	}

	balance, err := ledger.Post(ctx, repos.Movements(), &m, now)
	if err != nil {
		return decimal.Zero, err
	}

	mismatches, err := ledger.VerifyAccount(ctx, repos.Movements(), m.CounterpartyID)
	if err != nil {
		return decimal.Zero, err
	}
	if len(mismatches) > 0 {
		return decimal.Zero, fmt.Errorf("ledger of %s inconsistent after posting: %s", m.CounterpartyID, mismatches[0])
	}

	counterparty.ApplyBalance(balance, m.Signed().IsNegative())
	counterparty.UpdatedAt = now
	if err := repos.Counterparties().Update(ctx, counterparty); err != nil {
		return decimal.Zero, fmt.Errorf("update counterparty %s: %w", m.CounterpartyID, err)
	}
	return balance, nil
}

func (s *Service) salesPoint(requested int) int {
	if requested > 0 {
		return requested
	}
	return s.issuer.DefaultSalesPoint
}

// LastAuthorizedNumber returns the last number the authority assigned for the sales
// point and kind. A zero sales point means the issuer's default.
func (s *Service) LastAuthorizedNumber(ctx context.Context, salesPoint int, kind fiscal.DocumentKind) (int64, error) {
	if !kind.Valid() {
		return 0, fiscal.NewValidationError(fmt.Sprintf("tipo de comprobante %d no soportado", int(kind)))
	}
	return s.authorizer.LastAuthorizedNumber(ctx, s.salesPoint(salesPoint), kind)
}

// KindSuggestion is the invoice kind to use for a counterparty.
type KindSuggestion struct {
	Profile          fiscal.TaxpayerProfile `json:"profile"`
	Kind             fiscal.DocumentKind    `json:"kind"`
	DiscriminatesVAT bool                   `json:"discriminatesVat"`
}

// DetermineInvoiceKind resolves taxID and derives the invoice kind the issuer must use.
// The profile's confidence travels with the suggestion.
func (s *Service) DetermineInvoiceKind(ctx context.Context, taxID string) (KindSuggestion, error) {
	profile, err := s.resolver.Resolve(ctx, taxID)
	if err != nil {
		return KindSuggestion{}, err
	}
	kind, err := fiscal.KindFor(s.issuer.VatCategory, profile.VatCategory)
	if err != nil {
		return KindSuggestion{}, err
	}
	return KindSuggestion{
		Profile:          profile,
		Kind:             kind,
		DiscriminatesVAT: kind.DiscriminatesVAT(),
	}, nil
}

func noteDescription(kind fiscal.DocumentKind, res *fiscal.AuthorizationResult) string {
	return kind.String() + " " + res.OfficialNumber()
}
