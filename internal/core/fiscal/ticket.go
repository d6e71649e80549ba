package fiscal

import (
	"context"
	"time"
)

// Authority service names a ticket can be requested for.
const (
	ServiceInvoicing = "wsfe"
	ServiceRegistry  = "ws_sr_padron_a5"
)

// DefaultSafetyMargin is how long before expiry a ticket stops being handed out.
const DefaultSafetyMargin = time.Hour

// AccessTicket is a short-lived credential for one authority service.
type AccessTicket struct {
	Service   string    `json:"service"`
	Token     string    `json:"token"`
	Sign      string    `json:"sign"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// UsableAt reports whether the ticket still has more than margin of validity at now.
func (t AccessTicket) UsableAt(now time.Time, margin time.Duration) bool {
	if t.Token == "" || t.Sign == "" {
		return false
	}
	return t.ExpiresAt.Sub(now) > margin
}

// TicketProvider hands out usable tickets per service.
type TicketProvider interface {
	GetTicket(ctx context.Context, service string) (AccessTicket, error)
	Invalidate(ctx context.Context, service string) error
}
