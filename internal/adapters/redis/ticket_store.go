package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"

	goredis "github.com/redis/go-redis/v9"
)

// TicketStore shares access tickets between instances. Keys are scoped by issuer so
// several CUITs can share one server.
type TicketStore struct {
	client *goredis.Client
	prefix string
	now    func() time.Time
}

// NewTicketStore creates a store for the issuer's tickets.
func NewTicketStore(client *goredis.Client, issuerTaxID string, now func() time.Time) *TicketStore {
	if now == nil {
		now = time.Now
	}
	return &TicketStore{
		client: client,
		prefix: "afip:ta:" + issuerTaxID + ":",
		now:    now,
	}
}

func (s *TicketStore) key(service string) string {
	return s.prefix + service
}

// Get returns the stored ticket for service.
func (s *TicketStore) Get(ctx context.Context, service string) (fiscal.AccessTicket, bool, error) {
	raw, err := s.client.Get(ctx, s.key(service)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return fiscal.AccessTicket{}, false, nil
	}
	if err != nil {
		return fiscal.AccessTicket{}, false, fmt.Errorf("get ticket %s: %w", service, err)
	}

	var ticket fiscal.AccessTicket
	if err := json.Unmarshal(raw, &ticket); err != nil {
		return fiscal.AccessTicket{}, false, fmt.Errorf("decode ticket %s: %w", service, err)
	}
	if !s.now().Before(ticket.ExpiresAt) {
		return fiscal.AccessTicket{}, false, nil
	}
	return ticket, true, nil
}

// Set stores ticket until it expires.
func (s *TicketStore) Set(ctx context.Context, ticket fiscal.AccessTicket) error {
	ttl := ticket.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(ticket)
	if err != nil {
		return fmt.Errorf("encode ticket %s: %w", ticket.Service, err)
	}
	if err := s.client.Set(ctx, s.key(ticket.Service), raw, ttl).Err(); err != nil {
		return fmt.Errorf("set ticket %s: %w", ticket.Service, err)
	}
	return nil
}

// Delete removes the ticket for service.
func (s *TicketStore) Delete(ctx context.Context, service string) error {
	if err := s.client.Del(ctx, s.key(service)).Err(); err != nil {
		return fmt.Errorf("delete ticket %s: %w", service, err)
	}
	return nil
}
