package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"3tcapital/ms_facturacion_afip/internal/core/audit"
	ctxutil "3tcapital/ms_facturacion_afip/internal/infrastructure/context"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/security"
)

// HTTPClient is the subset of *http.Client the SOAP transport depends on.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// TracedClient wraps an HTTP client to log every authority exchange with sanitized
// bodies and persist it to the audit trail.
type TracedClient struct {
	client       *http.Client
	log          *slog.Logger
	auditRepo    audit.Repository
	service      string
	auditEnabled bool
	logReqBody   bool
	logRespBody  bool
	maxBodySize  int
	auditTimeout time.Duration
}

// TracedClientConfig holds configuration for the traced HTTP client.
type TracedClientConfig struct {
	Timeout         time.Duration
	AuditEnabled    bool
	LogRequestBody  bool
	LogResponseBody bool
	MaxBodySize     int
	MaxConnsPerHost int // 0 means 10
	AuditTimeout    time.Duration
}

// NewTracedClient creates a traced client for one authority service ("wsaa", "wsfe",
// "padron"). A nil audit repository only disables persistence.
func NewTracedClient(cfg TracedClientConfig, log *slog.Logger, auditRepo audit.Repository, service string) *TracedClient {
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = 102400
	}
	if cfg.MaxConnsPerHost == 0 {
		cfg.MaxConnsPerHost = 10
	}
	if cfg.AuditTimeout == 0 {
		cfg.AuditTimeout = 5 * time.Second
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   cfg.MaxConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ExpectContinueTimeout: time.Second,
	}

	return &TracedClient{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		log:          log.With("service", service),
		auditRepo:    auditRepo,
		service:      service,
		auditEnabled: cfg.AuditEnabled,
		logReqBody:   cfg.LogRequestBody,
		logRespBody:  cfg.LogResponseBody,
		maxBodySize:  cfg.MaxBodySize,
		auditTimeout: cfg.AuditTimeout,
	}
}

// Do executes the request, logs it and persists the audit record before returning.
// The response body is buffered so it can be read again by the caller.
func (c *TracedClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	correlationID := ctxutil.GetCorrelationID(ctx)
	operation := Operation(req)
	start := time.Now()

	if correlationID != "" {
		req.Header.Set("X-Correlation-ID", correlationID)
	}

	var requestBody []byte
	if req.Body != nil {
		var err error
		requestBody, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		_ = req.Body.Close()
		req.Body = io.NopCloser(bytes.NewReader(requestBody))
	}

	c.logRequest(correlationID, operation, req, requestBody)

	resp, err := c.client.Do(req)
	duration := time.Since(start)

	var responseBody []byte
	if resp != nil && resp.Body != nil {
		var readErr error
		responseBody, readErr = io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(responseBody))
		if readErr != nil && err == nil {
			err = fmt.Errorf("read response body: %w", readErr)
		}
	}

	c.logResponse(correlationID, operation, req, resp, err, duration, responseBody)

	if c.auditEnabled && c.auditRepo != nil {
		if correlationID == "" {
			correlationID = fmt.Sprintf("audit-%d", time.Now().UnixNano())
		}
		// The record must survive a cancelled caller.
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.auditTimeout)
		c.persist(saveCtx, correlationID, operation, req, resp, err, duration, requestBody, responseBody)
		cancel()
	}

	return resp, err
}

func (c *TracedClient) logRequest(correlationID, operation string, req *http.Request, body []byte) {
	attrs := []any{
		"correlation_id", correlationID,
		"operation", operation,
		"method", req.Method,
		"url", security.SanitizeURL(req.URL.String()),
	}
	if c.logReqBody && len(body) > 0 {
		attrs = append(attrs, "request_body", security.SanitizeXML(body, c.maxBodySize))
	}
	c.log.Info("provider_request", attrs...)
}

func (c *TracedClient) logResponse(correlationID, operation string, req *http.Request, resp *http.Response, err error, duration time.Duration, body []byte) {
	attrs := []any{
		"correlation_id", correlationID,
		"operation", operation,
		"url", security.SanitizeURL(req.URL.String()),
		"duration_ms", duration.Milliseconds(),
	}

	if err != nil {
		attrs = append(attrs, "error", err.Error())
		c.log.Error("provider_request_failed", attrs...)
		return
	}

	attrs = append(attrs, "status", resp.StatusCode, "response_size_bytes", len(body))
	if c.logRespBody && len(body) > 0 {
		attrs = append(attrs, "response_body", security.SanitizeXML(body, c.maxBodySize))
	}

	// SOAP faults travel as 500; the transport decides what they mean.
	if resp.StatusCode >= 400 {
		c.log.Warn("provider_response", attrs...)
		return
	}
	c.log.Info("provider_response", attrs...)
}

func (c *TracedClient) persist(ctx context.Context, correlationID, operation string, req *http.Request, resp *http.Response, err error, duration time.Duration, requestBody, responseBody []byte) {
	exchange := audit.Exchange{
		CorrelationID:  correlationID,
		Service:        c.service,
		Operation:      operation,
		RequestMethod:  req.Method,
		RequestURL:     security.SanitizeURL(req.URL.String()),
		RequestHeaders: security.SanitizeHeaders(req.Header),
		RequestBody:    security.SanitizeXML(requestBody, c.maxBodySize),
		DurationMs:     duration.Milliseconds(),
	}

	if resp != nil {
		status := resp.StatusCode
		exchange.ResponseStatus = &status
		exchange.ResponseHeaders = security.SanitizeHeaders(resp.Header)
		exchange.ResponseBody = security.SanitizeXML(responseBody, c.maxBodySize)
	}
	if err != nil {
		exchange.ErrorMessage = err.Error()
	}

	if saveErr := c.auditRepo.Save(ctx, exchange); saveErr != nil {
		c.log.Error("Failed to persist authority exchange",
			"error", saveErr,
			"correlation_id", correlationID,
			"operation", operation,
		)
	}
}

// Operation names the SOAP operation of a request: the last segment of its
// SOAPAction header, or of the URL path when the header is absent.
func Operation(req *http.Request) string {
	action := strings.Trim(req.Header.Get("SOAPAction"), `"`)
	if action == "" {
		action = req.URL.Path
	}
	action = strings.TrimRight(action, "/")
	if i := strings.LastIndexAny(action, "/#"); i >= 0 {
		action = action[i+1:]
	}
	if action == "" {
		return req.Method
	}
	return action
}

// Client returns the underlying HTTP client.
func (c *TracedClient) Client() *http.Client {
	return c.client
}
