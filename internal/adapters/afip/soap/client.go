package soap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// HTTPClient executes raw HTTP requests. The traced client satisfies it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request describes one SOAP operation call.
type Request struct {
	// Service labels metrics and spans ("wsaa", "wsfe", "padron").
	Service   string
	Operation string
	Endpoint  string
	// Action is the SOAPAction header; empty is sent as "".
	Action string
	// Body is the operation element, marshaled with its own XMLName.
	Body       any
	Namespaces map[string]string
}

// Client sends SOAP 1.1 requests and classifies failures into transport errors and
// protocol faults. It never retries.
type Client struct {
	http    HTTPClient
	breaker *Breaker
	metrics *metrics.Metrics
	tracer  trace.Tracer
	log     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBreaker guards calls with a circuit breaker.
func WithBreaker(b *Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithMetrics records call latency and outcome.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// NewClient creates a SOAP client over httpClient.
func NewClient(httpClient HTTPClient, log *slog.Logger, opts ...Option) *Client {
	c := &Client{
		http:   httpClient,
		tracer: otel.Tracer("3tcapital/ms_facturacion_afip/soap"),
		log:    log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call sends req and decodes the body content into out. Authority faults are returned
// as *fiscal.ProtocolFault, network and timeout failures as *fiscal.TransportError.
func (c *Client) Call(ctx context.Context, req Request, out any) error {
	ctx, span := c.tracer.Start(ctx, req.Service+"."+req.Operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("afip.service", req.Service),
			attribute.String("afip.operation", req.Operation),
		),
	)
	defer span.End()

	start := time.Now()
	err := c.call(ctx, req, out)

	outcome := metrics.OutcomeOK
	var (
		transport *fiscal.TransportError
		fault     *fiscal.ProtocolFault
	)
	switch {
	case errors.As(err, &transport):
		outcome = metrics.OutcomeTransport
	case errors.As(err, &fault):
		outcome = metrics.OutcomeFault
	}
	c.metrics.ObserveAuthorityCall(req.Service, req.Operation, outcome, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	return err
}

func (c *Client) call(ctx context.Context, req Request, out any) error {
	if err := c.breaker.Allow(); err != nil {
		return &fiscal.TransportError{Op: req.Operation, Endpoint: req.Endpoint, Err: err}
	}

	payload, err := Marshal(req.Body, req.Namespaces)
	if err != nil {
		c.breaker.Record(false)
		return fmt.Errorf("%s: %w", req.Operation, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Endpoint, bytes.NewReader(payload))
	if err != nil {
		c.breaker.Record(false)
		return fmt.Errorf("%s: build request: %w", req.Operation, err)
	}
	httpReq.Header.Set("Content-Type", "text/xml; charset=utf-8")
	httpReq.Header.Set("Accept", "text/xml")
	httpReq.Header.Set("SOAPAction", `"`+req.Action+`"`)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.breaker.Record(true)
		return &fiscal.TransportError{Op: req.Operation, Endpoint: req.Endpoint, Timeout: isTimeout(ctx, err), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.breaker.Record(true)
		return &fiscal.TransportError{Op: req.Operation, Endpoint: req.Endpoint, Timeout: isTimeout(ctx, err), Err: err}
	}

	content, f, decodeErr := unwrap(body)
	switch {
	case f != nil:
		c.breaker.Record(false)
		c.log.Warn("Authority fault",
			"service", req.Service,
			"operation", req.Operation,
			"fault_code", f.Code,
			"fault_string", f.String,
		)
		return &fiscal.ProtocolFault{
			Op:         req.Operation,
			Code:       f.Code,
			Message:    f.String,
			StatusCode: resp.StatusCode,
			Payload:    body,
		}
	case resp.StatusCode >= http.StatusBadRequest:
		// Gateways answer outages with HTML error pages.
		c.breaker.Record(true)
		return &fiscal.TransportError{
			Op:       req.Operation,
			Endpoint: req.Endpoint,
			Err:      fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	case decodeErr != nil:
		c.breaker.Record(false)
		return &fiscal.ProtocolFault{Op: req.Operation, Message: decodeErr.Error(), StatusCode: resp.StatusCode, Payload: body}
	}

	c.breaker.Record(false)
	if out == nil {
		return nil
	}
	if err := newDecoder(bytes.NewReader(content)).Decode(out); err != nil {
		return &fiscal.ProtocolFault{
			Op:         req.Operation,
			Message:    fmt.Sprintf("decode %s response: %v", req.Operation, err),
			StatusCode: resp.StatusCode,
			Payload:    body,
		}
	}
	return nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
