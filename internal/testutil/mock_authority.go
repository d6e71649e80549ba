package testutil

import (
	"context"
	"sync"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

// MockAuthorizer is a mock implementation of fiscal.Authorizer for testing.
type MockAuthorizer struct {
	LastAuthorizedNumberFunc func(ctx context.Context, salesPoint int, kind fiscal.DocumentKind) (int64, error)
	RequestAuthorizationFunc func(ctx context.Context, req fiscal.AuthorizationRequest) (*fiscal.AuthorizationResult, error)

	mu       sync.Mutex
	requests []fiscal.AuthorizationRequest
}

// LastAuthorizedNumber calls the mock function if set, otherwise returns 0.
func (m *MockAuthorizer) LastAuthorizedNumber(ctx context.Context, salesPoint int, kind fiscal.DocumentKind) (int64, error) {
	if m.LastAuthorizedNumberFunc != nil {
		return m.LastAuthorizedNumberFunc(ctx, salesPoint, kind)
	}
	return 0, nil
}

// RequestAuthorization records req and calls the mock function if set, otherwise
// approves it as number 1.
func (m *MockAuthorizer) RequestAuthorization(ctx context.Context, req fiscal.AuthorizationRequest) (*fiscal.AuthorizationResult, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.RequestAuthorizationFunc != nil {
		return m.RequestAuthorizationFunc(ctx, req)
	}
	return Approved(req, 1), nil
}

// Requests returns every request received so far.
func (m *MockAuthorizer) Requests() []fiscal.AuthorizationRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]fiscal.AuthorizationRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// Approved builds an approved result for req with the given number.
func Approved(req fiscal.AuthorizationRequest, number int64) *fiscal.AuthorizationResult {
	return &fiscal.AuthorizationResult{
		Approved:       true,
		Kind:           req.Kind,
		SalesPoint:     req.SalesPoint,
		AssignedNumber: number,
		CAE:            "76110000000001",
		CAEExpiry:      req.Date.AddDate(0, 0, 10),
		ProcessedAt:    req.Date,
	}
}

// MockRegistry is a mock implementation of fiscal.Registry for testing.
type MockRegistry struct {
	LookupFunc func(ctx context.Context, taxID string) (*fiscal.RegistryRecord, error)

	mu    sync.Mutex
	calls int
}

// Lookup calls the mock function if set, otherwise reports fiscal.ErrNotFound.
func (m *MockRegistry) Lookup(ctx context.Context, taxID string) (*fiscal.RegistryRecord, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.LookupFunc != nil {
		return m.LookupFunc(ctx, taxID)
	}
	return nil, fiscal.ErrNotFound
}

// Calls returns how many lookups were made.
func (m *MockRegistry) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockReconciliations records reconciliation entries in memory.
type MockReconciliations struct {
	RecordFunc func(ctx context.Context, r fiscal.Reconciliation) error

	mu      sync.Mutex
	records []fiscal.Reconciliation
}

// Record stores r, then calls the mock function if set.
func (m *MockReconciliations) Record(ctx context.Context, r fiscal.Reconciliation) error {
	if m.RecordFunc != nil {
		if err := m.RecordFunc(ctx, r); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

// Records returns the stored entries.
func (m *MockReconciliations) Records() []fiscal.Reconciliation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]fiscal.Reconciliation, len(m.records))
	copy(out, m.records)
	return out
}
