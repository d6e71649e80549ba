package cache

import (
	"context"
	"sync"
	"time"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

// TicketCache is the in-process access ticket store, keyed by service name. Entries
// are dropped once expired; the safety margin is applied by the ticket manager.
type TicketCache struct {
	mu      sync.RWMutex
	tickets map[string]fiscal.AccessTicket
	now     func() time.Time
}

// NewTicketCache creates an empty cache. A nil clock means time.Now.
func NewTicketCache(now func() time.Time) *TicketCache {
	if now == nil {
		now = time.Now
	}
	return &TicketCache{
		tickets: make(map[string]fiscal.AccessTicket),
		now:     now,
	}
}

// Get returns the ticket cached for service unless it has expired.
func (c *TicketCache) Get(_ context.Context, service string) (fiscal.AccessTicket, bool, error) {
	c.mu.RLock()
	ticket, ok := c.tickets[service]
	c.mu.RUnlock()

	if !ok || !c.now().Before(ticket.ExpiresAt) {
		return fiscal.AccessTicket{}, false, nil
	}
	return ticket, true, nil
}

// Set stores ticket under its service, replacing any previous one.
func (c *TicketCache) Set(_ context.Context, ticket fiscal.AccessTicket) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tickets[ticket.Service] = ticket
	return nil
}

// Delete removes the ticket of service. Other services are untouched.
func (c *TicketCache) Delete(_ context.Context, service string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.tickets, service)
	return nil
}
