package wsaa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/metrics"

	"golang.org/x/sync/singleflight"
)

// TicketStore keeps tickets per service. The in-process cache and the Redis store
// both implement it.
type TicketStore interface {
	Get(ctx context.Context, service string) (fiscal.AccessTicket, bool, error)
	Set(ctx context.Context, ticket fiscal.AccessTicket) error
	Delete(ctx context.Context, service string) error
}

// Authenticator exchanges a signed request for a ticket.
type Authenticator interface {
	Login(ctx context.Context, service string) (fiscal.AccessTicket, error)
}

// ErrTicketTooShort is returned when a fresh ticket already falls inside the safety
// margin, which means the margin is misconfigured.
var ErrTicketTooShort = errors.New("issued ticket expires within the safety margin")

// TicketManager hands out tickets that stay valid for longer than the safety margin,
// refreshing at most once concurrently per service.
type TicketManager struct {
	auth    Authenticator
	store   TicketStore
	margin  time.Duration
	now     func() time.Time
	group   singleflight.Group
	log     *slog.Logger
	metrics *metrics.Metrics
}

// ManagerOption configures a TicketManager.
type ManagerOption func(*TicketManager)

// WithSafetyMargin overrides fiscal.DefaultSafetyMargin.
func WithSafetyMargin(margin time.Duration) ManagerOption {
	return func(m *TicketManager) { m.margin = margin }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *TicketManager) { m.now = now }
}

// WithManagerMetrics records refresh outcomes.
func WithManagerMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *TicketManager) { m.metrics = mt }
}

// NewTicketManager creates a manager over auth and store.
func NewTicketManager(auth Authenticator, store TicketStore, log *slog.Logger, opts ...ManagerOption) *TicketManager {
	m := &TicketManager{
		auth:   auth,
		store:  store,
		margin: fiscal.DefaultSafetyMargin,
		now:    time.Now,
		log:    log,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetTicket returns a usable ticket for service. A caller whose context ends while a
// refresh is in flight returns early; the refresh itself completes and is cached.
func (m *TicketManager) GetTicket(ctx context.Context, service string) (fiscal.AccessTicket, error) {
	if ticket, ok := m.cached(ctx, service); ok {
		m.metrics.IncTicketRefresh(service, metrics.OutcomeCached)
		return ticket, nil
	}

	ch := m.group.DoChan(service, func() (any, error) {
		return m.refresh(context.WithoutCancel(ctx), service)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return fiscal.AccessTicket{}, res.Err
		}
		return res.Val.(fiscal.AccessTicket), nil
	case <-ctx.Done():
		return fiscal.AccessTicket{}, ctx.Err()
	}
}

// Invalidate drops the ticket of service, typically after the authority reported it
// as invalid. Other services keep theirs.
func (m *TicketManager) Invalidate(ctx context.Context, service string) error {
	m.log.Info("Invalidating access ticket", "afip_service", service)
	if err := m.store.Delete(ctx, service); err != nil {
		return fmt.Errorf("invalidate ticket %s: %w", service, err)
	}
	return nil
}

func (m *TicketManager) cached(ctx context.Context, service string) (fiscal.AccessTicket, bool) {
	ticket, ok, err := m.store.Get(ctx, service)
	if err != nil {
		m.log.Warn("Ticket store read failed, requesting a new ticket",
			"afip_service", service,
			"error", err,
		)
		return fiscal.AccessTicket{}, false
	}
	if !ok || !ticket.UsableAt(m.now(), m.margin) {
		return fiscal.AccessTicket{}, false
	}
	return ticket, true
}

func (m *TicketManager) refresh(ctx context.Context, service string) (fiscal.AccessTicket, error) {
	// Another waiter or instance may have stored a ticket in the meantime.
	if ticket, ok := m.cached(ctx, service); ok {
		return ticket, nil
	}

	m.log.Info("Requesting access ticket", "afip_service", service)
	ticket, err := m.auth.Login(ctx, service)
	if err != nil {
		if IsAlreadyAuthenticated(err) {
			if shared, ok := m.cached(ctx, service); ok {
				m.metrics.IncTicketRefresh(service, metrics.OutcomeCached)
				return shared, nil
			}
		}
		m.metrics.IncTicketRefresh(service, outcomeOf(err))
		m.log.Error("Access ticket request failed", "afip_service", service, "error", err)
		return fiscal.AccessTicket{}, fmt.Errorf("login %s: %w", service, err)
	}
	m.metrics.IncTicketRefresh(service, metrics.OutcomeOK)

	if !ticket.UsableAt(m.now(), m.margin) {
		return fiscal.AccessTicket{}, fmt.Errorf("login %s: %w (expires %s, margin %s)",
			service, ErrTicketTooShort, ticket.ExpiresAt.Format(time.RFC3339), m.margin)
	}

	if err := m.store.Set(ctx, ticket); err != nil {
		m.log.Warn("Ticket store write failed", "afip_service", service, "error", err)
	}

	m.log.Info("Access ticket obtained",
		"afip_service", service,
		"expires_at", ticket.ExpiresAt,
	)
	return ticket, nil
}

func outcomeOf(err error) string {
	var transport *fiscal.TransportError
	if errors.As(err, &transport) {
		return metrics.OutcomeTransport
	}
	return metrics.OutcomeFault
}
