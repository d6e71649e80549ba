package wsfe

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"3tcapital/ms_facturacion_afip/internal/adapters/afip/soap"
	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/cache"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/metrics"
)

// Authority error codes with a meaning of their own.
const (
	codeInvalidToken = 600
	codeUnauthorized = 601
	codeNoResults    = 602
)

// Config holds the issuer and endpoint of the invoicing service.
type Config struct {
	Endpoint    string
	IssuerTaxID string
	CatalogTTL  time.Duration
}

// Client talks to WSFEv1. It assigns document numbers and requests one CAE per call.
type Client struct {
	soap     *soap.Client
	endpoint string
	cuit     int64
	tickets  fiscal.TicketProvider
	locker   Locker
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time

	salesPoints   *cache.TTLCache[string, []SalesPoint]
	tables        *cache.TTLCache[string, []CatalogEntry]
	vatCategories *cache.TTLCache[string, []VatCategoryEntry]
}

// Option configures a Client.
type Option func(*Client)

// WithLocker replaces the in-process numbering lock, e.g. with a Redis lock shared by
// every instance that issues from the same sales points.
func WithLocker(l Locker) Option {
	return func(c *Client) { c.locker = l }
}

// WithMetrics counts authorization outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithClock injects the clock used for catalog expiry and processing times.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates an invoicing client.
func NewClient(soapClient *soap.Client, cfg Config, tickets fiscal.TicketProvider, log *slog.Logger, opts ...Option) (*Client, error) {
	cuit, err := strconv.ParseInt(cfg.IssuerTaxID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid issuer tax id %q: %w", cfg.IssuerTaxID, err)
	}

	c := &Client{
		soap:     soapClient,
		endpoint: cfg.Endpoint,
		cuit:     cuit,
		tickets:  tickets,
		locker:   NewKeyedLocker(),
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.salesPoints = cache.NewTTLCache[string, []SalesPoint](cfg.CatalogTTL, c.now)
	c.tables = cache.NewTTLCache[string, []CatalogEntry](cfg.CatalogTTL, c.now)
	c.vatCategories = cache.NewTTLCache[string, []VatCategoryEntry](cfg.CatalogTTL, c.now)
	return c, nil
}

func (c *Client) auth(ctx context.Context) (auth, error) {
	ticket, err := c.tickets.GetTicket(ctx, fiscal.ServiceInvoicing)
	if err != nil {
		return auth{}, err
	}
	return auth{Token: ticket.Token, Sign: ticket.Sign, Cuit: c.cuit}, nil
}

func (c *Client) call(ctx context.Context, operation string, body, out any) error {
	return c.soap.Call(ctx, soap.Request{
		Service:   fiscal.ServiceInvoicing,
		Operation: operation,
		Endpoint:  c.endpoint,
		Action:    namespace + operation,
		Body:      body,
	}, out)
}

// checkErrors turns a result's Errors list into a fault. An invalid token also drops
// the cached ticket so the next call logs in again.
func (c *Client) checkErrors(ctx context.Context, operation string, errs []message) error {
	if len(errs) == 0 {
		return nil
	}
	c.invalidateIfRejectedToken(ctx, errs)

	parts := make([]string, len(errs))
	for i, m := range errs {
		parts[i] = fiscal.Message{Code: m.Code, Msg: strings.TrimSpace(m.Msg)}.String()
	}
	return &fiscal.ProtocolFault{
		Op:      operation,
		Code:    strconv.Itoa(errs[0].Code),
		Message: strings.Join(parts, "; "),
	}
}

func (c *Client) invalidateIfRejectedToken(ctx context.Context, errs []message) {
	if !hasCode(errs, codeInvalidToken) {
		return
	}
	if err := c.tickets.Invalidate(ctx, fiscal.ServiceInvoicing); err != nil {
		c.log.Warn("Failed to invalidate rejected ticket", "error", err)
	}
}

// LastAuthorizedNumber returns the last number authorized for the sales point and
// kind, or 0 when none was issued yet.
func (c *Client) LastAuthorizedNumber(ctx context.Context, salesPoint int, kind fiscal.DocumentKind) (int64, error) {
	a, err := c.auth(ctx)
	if err != nil {
		return 0, err
	}
	return c.lastAuthorized(ctx, a, salesPoint, kind)
}

func (c *Client) lastAuthorized(ctx context.Context, a auth, salesPoint int, kind fiscal.DocumentKind) (int64, error) {
	var resp lastAuthorizedResponse
	err := c.call(ctx, "FECompUltimoAutorizado", lastAuthorizedRequest{
		Auth:     a,
		PtoVta:   salesPoint,
		CbteTipo: int(kind),
	}, &resp)
	if err != nil {
		return 0, err
	}
	if err := c.checkErrors(ctx, "FECompUltimoAutorizado", resp.Result.Errors.Items); err != nil {
		return 0, err
	}
	return resp.Result.CbteNro, nil
}

// RequestAuthorization validates req, takes the numbering lock for its sales point and
// kind, and submits it with the next free number. A rejection is returned as a result
// with Approved false. Nothing is retried: a retry must go through this method again so
// that the number is derived afresh.
func (c *Client) RequestAuthorization(ctx context.Context, req fiscal.AuthorizationRequest) (*fiscal.AuthorizationResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := c.checkCatalogs(ctx, req); err != nil {
		return nil, err
	}

	// No login runs while the numbering lock is held.
	a, err := c.auth(ctx)
	if err != nil {
		return nil, err
	}

	unlock, err := c.locker.Lock(ctx, fmt.Sprintf("%d:%d", req.SalesPoint, int(req.Kind)))
	if err != nil {
		return nil, fmt.Errorf("numbering lock for %s at sales point %d: %w", req.Kind, req.SalesPoint, err)
	}
	defer unlock()

	last, err := c.lastAuthorized(ctx, a, req.SalesPoint, req.Kind)
	if err != nil {
		return nil, err
	}
	number := last + 1

	body := caeRequest{Auth: a}
	body.FeCAEReq.FeCabReq.CantReg = 1
	body.FeCAEReq.FeCabReq.PtoVta = req.SalesPoint
	body.FeCAEReq.FeCabReq.CbteTipo = int(req.Kind)
	body.FeCAEReq.FeDetReq.Items = []caeDetail{buildDetail(req, number)}

	var resp caeResponse
	if err := c.call(ctx, "FECAESolicitar", body, &resp); err != nil {
		return nil, err
	}

	result := c.decodeResult(ctx, req, number, resp)

	outcome := metrics.OutcomeRejected
	if result.Approved {
		outcome = metrics.OutcomeApproved
	}
	c.metrics.IncAuthorization(req.Kind.String(), outcome)

	attrs := []any{
		"kind", req.Kind.String(),
		"sales_point", req.SalesPoint,
		"number", number,
		"approved", result.Approved,
	}
	if result.Approved {
		c.log.Info("Document authorized", append(attrs, "cae", result.CAE)...)
	} else {
		c.log.Warn("Document rejected", append(attrs, "reasons", result.Reasons())...)
	}
	return result, nil
}

func (c *Client) decodeResult(ctx context.Context, req fiscal.AuthorizationRequest, number int64, resp caeResponse) *fiscal.AuthorizationResult {
	r := resp.Result
	c.invalidateIfRejectedToken(ctx, r.Errors.Items)

	result := &fiscal.AuthorizationResult{
		Kind:           req.Kind,
		SalesPoint:     req.SalesPoint,
		AssignedNumber: number,
		Errors:         toMessages(r.Errors.Items),
		Events:         toMessages(r.Events.Items),
		ProcessedAt:    parseTimestamp(r.FeCabResp.FchProceso),
	}
	if result.ProcessedAt.IsZero() {
		result.ProcessedAt = c.now()
	}

	if len(r.FeDetResp.Items) == 0 {
		return result
	}
	det := r.FeDetResp.Items[0]
	result.Observations = toMessages(det.Observaciones.Items)
	result.Approved = det.Resultado == "A" && det.CAE != ""
	if result.Approved {
		result.CAE = strings.TrimSpace(det.CAE)
		if expiry, err := parseDate(det.CAEFchVto); err == nil {
			result.CAEExpiry = expiry
		}
	}
	return result
}

// checkCatalogs rejects a sales point or kind the authority does not list. Empty
// catalogs, as the sandbox returns, do not block.
func (c *Client) checkCatalogs(ctx context.Context, req fiscal.AuthorizationRequest) error {
	points, err := c.ListSalesPoints(ctx)
	if err != nil {
		return err
	}
	if len(points) > 0 {
		p, ok := findSalesPoint(points, req.SalesPoint)
		if !ok {
			return fiscal.NewValidationError(fmt.Sprintf("el punto de venta %d no está habilitado para factura electrónica", req.SalesPoint))
		}
		if !p.Active() {
			return fiscal.NewValidationError(fmt.Sprintf("el punto de venta %d está bloqueado o dado de baja", req.SalesPoint))
		}
	}

	kinds, err := c.ListDocumentKinds(ctx)
	if err != nil {
		return err
	}
	if len(kinds) > 0 && !containsKind(kinds, req.Kind) {
		return fiscal.NewValidationError(fmt.Sprintf("el tipo de comprobante %d no está habilitado", int(req.Kind)))
	}
	return nil
}

// DocumentRecord is an authorized document as the authority stores it.
type DocumentRecord struct {
	Kind         fiscal.DocumentKind `json:"kind"`
	SalesPoint   int                 `json:"salesPoint"`
	Number       int64               `json:"number"`
	Date         time.Time           `json:"date"`
	Concept      fiscal.Concept      `json:"concept"`
	Counterparty fiscal.Identifier   `json:"counterparty"`
	Amounts      fiscal.Amounts      `json:"amounts"`
	VatBreakdown []fiscal.VatLine    `json:"vatBreakdown,omitempty"`
	Currency     string              `json:"currency"`
	Result       string              `json:"result"`
	CAE          string              `json:"cae"`
	CAEExpiry    time.Time           `json:"caeExpiry"`
	EmissionType string              `json:"emissionType"`
	ProcessedAt  time.Time           `json:"processedAt"`
}

// QueryDocument fetches an authorized document. It returns fiscal.ErrNotFound when the
// authority has no such document.
func (c *Client) QueryDocument(ctx context.Context, salesPoint int, kind fiscal.DocumentKind, number int64) (*DocumentRecord, error) {
	a, err := c.auth(ctx)
	if err != nil {
		return nil, err
	}

	body := queryRequest{Auth: a}
	body.FeCompConsReq.CbteTipo = int(kind)
	body.FeCompConsReq.CbteNro = number
	body.FeCompConsReq.PtoVta = salesPoint

	var resp queryResponse
	if err := c.call(ctx, "FECompConsultar", body, &resp); err != nil {
		return nil, err
	}
	if hasCode(resp.Result.Errors.Items, codeNoResults) {
		return nil, fmt.Errorf("document %s: %w", fiscal.FormatNumber(salesPoint, number), fiscal.ErrNotFound)
	}
	if err := c.checkErrors(ctx, "FECompConsultar", resp.Result.Errors.Items); err != nil {
		return nil, err
	}
	g := resp.Result.ResultGet
	if g == nil {
		return nil, fmt.Errorf("document %s: %w", fiscal.FormatNumber(salesPoint, number), fiscal.ErrNotFound)
	}

	date, _ := parseDate(g.CbteFch)
	expiry, _ := parseDate(g.FchVto)
	rec := &DocumentRecord{
		Kind:         fiscal.DocumentKind(g.CbteTipo),
		SalesPoint:   g.PtoVta,
		Number:       g.CbteDesde,
		Date:         date,
		Concept:      fiscal.Concept(g.Concepto),
		Counterparty: fiscal.Identifier{Kind: fiscal.IdentifierKind(g.DocTipo), Number: g.DocNro},
		Amounts: fiscal.Amounts{
			Total:      g.ImpTotal,
			NonTaxed:   g.ImpTotConc,
			Exempt:     g.ImpOpEx,
			Net:        g.ImpNeto,
			Vat:        g.ImpIVA,
			OtherTaxes: g.ImpTrib,
		},
		Currency:     g.MonID,
		Result:       g.Resultado,
		CAE:          g.CodAutorizacion,
		CAEExpiry:    expiry,
		EmissionType: g.EmisionTipo,
		ProcessedAt:  parseTimestamp(g.FchProceso),
	}
	for _, l := range g.Iva.Items {
		rec.VatBreakdown = append(rec.VatBreakdown, fiscal.VatLine{
			Rate:   fiscal.VatRate(l.ID),
			Base:   l.BaseImp,
			Amount: l.Importe,
		})
	}
	return rec, nil
}

// catalogErrors reports whether errs mean "no data" rather than a failure.
func (c *Client) catalogErrors(ctx context.Context, operation string, errs []message) (empty bool, err error) {
	if hasCode(errs, codeInvalidToken, codeUnauthorized, codeNoResults) {
		c.invalidateIfRejectedToken(ctx, errs)
		c.log.Warn("Authority catalog unavailable, treating as empty",
			"operation", operation,
			"errors", fmt.Sprint(toMessages(errs)),
		)
		return true, nil
	}
	return false, c.checkErrors(ctx, operation, errs)
}

// ListSalesPoints returns the issuer's electronic sales points.
func (c *Client) ListSalesPoints(ctx context.Context) ([]SalesPoint, error) {
	if points, ok := c.salesPoints.Get("all"); ok {
		return points, nil
	}

	const op = "FEParamGetPtosVenta"
	a, err := c.auth(ctx)
	if err != nil {
		return nil, err
	}
	var resp salesPointsResponse
	if err := c.call(ctx, op, paramRequest{XMLName: paramName(op), Auth: a}, &resp); err != nil {
		return nil, err
	}
	empty, err := c.catalogErrors(ctx, op, resp.Result.Errors.Items)
	if err != nil {
		return nil, err
	}

	points := []SalesPoint{}
	if !empty {
		for _, p := range resp.Result.ResultGet.Items {
			dropped, _ := parseDate(p.FchBaja)
			points = append(points, SalesPoint{
				Number:       p.Nro,
				EmissionType: p.EmisionTipo,
				Blocked:      strings.EqualFold(p.Bloqueado, "S"),
				DroppedAt:    dropped,
			})
		}
	}
	c.salesPoints.Set("all", points)
	return points, nil
}

// ListDocumentKinds returns the document kinds the authority accepts.
func (c *Client) ListDocumentKinds(ctx context.Context) ([]CatalogEntry, error) {
	return c.table(ctx, "FEParamGetTiposCbte", &documentKindsResponse{})
}

// ListVatRates returns the AlicIva catalog.
func (c *Client) ListVatRates(ctx context.Context) ([]CatalogEntry, error) {
	return c.table(ctx, "FEParamGetTiposIva", &vatRatesResponse{})
}

func (c *Client) table(ctx context.Context, op string, resp tableResponse) ([]CatalogEntry, error) {
	if entries, ok := c.tables.Get(op); ok {
		return entries, nil
	}

	a, err := c.auth(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.call(ctx, op, paramRequest{XMLName: paramName(op), Auth: a}, resp); err != nil {
		return nil, err
	}
	empty, err := c.catalogErrors(ctx, op, resp.errorItems())
	if err != nil {
		return nil, err
	}

	entries := []CatalogEntry{}
	if !empty {
		if entries, err = toCatalog(resp.entries()); err != nil {
			return nil, &fiscal.ProtocolFault{Op: op, Message: err.Error()}
		}
	}
	c.tables.Set(op, entries)
	return entries, nil
}

// ListVatCategories returns the receiver VAT conditions, optionally filtered by
// document class ("A", "B", "C" or "M").
func (c *Client) ListVatCategories(ctx context.Context, class string) ([]VatCategoryEntry, error) {
	if cats, ok := c.vatCategories.Get(class); ok {
		return cats, nil
	}

	const op = "FEParamGetCondicionIvaReceptor"
	a, err := c.auth(ctx)
	if err != nil {
		return nil, err
	}
	var resp vatCategoriesResponse
	if err := c.call(ctx, op, vatCategoriesRequest{Auth: a, ClaseCmp: class}, &resp); err != nil {
		return nil, err
	}
	empty, err := c.catalogErrors(ctx, op, resp.Result.Errors.Items)
	if err != nil {
		return nil, err
	}

	cats := []VatCategoryEntry{}
	if !empty {
		for _, e := range resp.Result.ResultGet.Items {
			cats = append(cats, VatCategoryEntry{
				Category:    fiscal.VatCategory(e.ID),
				Description: strings.TrimSpace(e.Desc),
				Class:       strings.TrimSpace(e.CmpClase),
			})
		}
	}
	c.vatCategories.Set(class, cats)
	return cats, nil
}

// DummyStatus is the FEDummy answer.
type DummyStatus struct {
	AppServer  string `json:"appServer"`
	DbServer   string `json:"dbServer"`
	AuthServer string `json:"authServer"`
}

// Healthy reports whether every component answered OK.
func (s DummyStatus) Healthy() bool {
	return strings.EqualFold(s.AppServer, "OK") &&
		strings.EqualFold(s.DbServer, "OK") &&
		strings.EqualFold(s.AuthServer, "OK")
}

// Dummy checks the service infrastructure. It needs no ticket.
func (c *Client) Dummy(ctx context.Context) (DummyStatus, error) {
	var resp dummyResponse
	if err := c.call(ctx, "FEDummy", dummyRequest{}, &resp); err != nil {
		return DummyStatus{}, err
	}
	return DummyStatus{
		AppServer:  resp.Result.AppServer,
		DbServer:   resp.Result.DbServer,
		AuthServer: resp.Result.AuthServer,
	}, nil
}

var _ fiscal.Authorizer = (*Client)(nil)
