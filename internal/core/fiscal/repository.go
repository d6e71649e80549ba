package fiscal

import (
	"context"
	"time"

	"3tcapital/ms_facturacion_afip/internal/core/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Authorizer requests CAEs from the authority.
type Authorizer interface {
	LastAuthorizedNumber(ctx context.Context, salesPoint int, kind DocumentKind) (int64, error)
	RequestAuthorization(ctx context.Context, req AuthorizationRequest) (*AuthorizationResult, error)
}

// DocumentRepository persists fiscal documents. Get locks the row when called inside a
// transaction.
type DocumentRepository interface {
	Create(ctx context.Context, doc *FiscalDocument) error
	Get(ctx context.Context, id uuid.UUID) (*FiscalDocument, error)
	Update(ctx context.Context, doc *FiscalDocument) error
}

// SaleRepository persists sales.
type SaleRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*Sale, error)
	Update(ctx context.Context, sale *Sale) error
}

// Repositories is the set of stores bound to one transaction.
type Repositories interface {
	Documents() DocumentRepository
	Sales() SaleRepository
	Movements() ledger.MovementRepository
	Counterparties() ledger.CounterpartyRepository
}

// TransactionScope runs fn atomically: everything fn writes commits together or not at all.
type TransactionScope interface {
	Execute(ctx context.Context, fn func(repos Repositories) error) error
}

// Reconciliation records a document the authority approved but that failed to persist.
type Reconciliation struct {
	ID                uuid.UUID
	Operation         string
	Kind              DocumentKind
	SalesPoint        int
	Number            int64
	CAE               string
	CAEExpiry         time.Time
	RelatedDocumentID *uuid.UUID
	CounterpartyID    uuid.UUID
	Amount            decimal.Decimal
	Error             string
	CorrelationID     string
	CreatedAt         time.Time
}

// ReconciliationRepository stores reconciliation records outside any failed transaction.
type ReconciliationRepository interface {
	Record(ctx context.Context, r Reconciliation) error
}
