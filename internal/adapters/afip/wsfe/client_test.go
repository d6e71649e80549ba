package wsfe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"3tcapital/ms_facturacion_afip/internal/adapters/afip/soap"
	"3tcapital/ms_facturacion_afip/internal/core/fiscal"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const issuer = "20123456786"

type stubTickets struct {
	invalidated atomic.Int32
}

func (s *stubTickets) GetTicket(_ context.Context, service string) (fiscal.AccessTicket, error) {
	return fiscal.AccessTicket{Service: service, Token: "tok", Sign: "sig"}, nil
}

func (s *stubTickets) Invalidate(context.Context, string) error {
	s.invalidated.Add(1)
	return nil
}

// fakeAuthority emulates the numbering and catalog behavior of WSFEv1.
type fakeAuthority struct {
	mu         sync.Mutex
	last       map[string]int64
	duplicates int
	calls      map[string]int
	bodies     map[string]string

	// Per-operation canned result, the XML inside <opResult>.
	results map[string]string
	// caeResult overrides the FECAESolicitar outcome; %d receives the number.
	caeResult string
}

func newFakeAuthority() *fakeAuthority {
	return &fakeAuthority{
		last:    map[string]int64{},
		calls:   map[string]int{},
		bodies:  map[string]string{},
		results: map[string]string{},
	}
}

var fieldPattern = map[string]*regexp.Regexp{
	"PtoVta":    regexp.MustCompile(`<PtoVta>(\d+)</PtoVta>`),
	"CbteTipo":  regexp.MustCompile(`<CbteTipo>(\d+)</CbteTipo>`),
	"CbteDesde": regexp.MustCompile(`<CbteDesde>(\d+)</CbteDesde>`),
}

func field(body, name string) int64 {
	m := fieldPattern[name].FindStringSubmatch(body)
	if m == nil {
		return 0
	}
	n, _ := strconv.ParseInt(m[1], 10, 64)
	return n
}

func (f *fakeAuthority) callsFor(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeAuthority) bodyOf(op string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[op]
}

func (f *fakeAuthority) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	body := string(raw)
	op := strings.TrimPrefix(strings.Trim(r.Header.Get("SOAPAction"), `"`), namespace)

	f.mu.Lock()
	f.calls[op]++
	f.bodies[op] = body
	result, canned := f.results[op]
	key := fmt.Sprintf("%d:%d", field(body, "PtoVta"), field(body, "CbteTipo"))

	if !canned {
		switch op {
		case "FECompUltimoAutorizado":
			result = fmt.Sprintf("<PtoVta>%d</PtoVta><CbteTipo>%d</CbteTipo><CbteNro>%d</CbteNro>",
				field(body, "PtoVta"), field(body, "CbteTipo"), f.last[key])
		case "FECAESolicitar":
			number := field(body, "CbteDesde")
			if number != f.last[key]+1 {
				f.duplicates++
			}
			f.last[key] = number
			if f.caeResult != "" {
				result = fmt.Sprintf(f.caeResult, number)
			} else {
				result = fmt.Sprintf(`<FeCabResp><Cuit>%s</Cuit><PtoVta>1</PtoVta><CbteTipo>6</CbteTipo><FchProceso>20260310120000</FchProceso><CantReg>1</CantReg><Resultado>A</Resultado></FeCabResp>`+
					`<FeDetResp><FECAEDetResponse><Resultado>A</Resultado><CbteDesde>%d</CbteDesde><CAE>7611000000%04d</CAE><CAEFchVto>20260320</CAEFchVto></FECAEDetResponse></FeDetResp>`,
					issuer, number, number)
			}
		default:
			result = `<Errors><Err><Code>602</Code><Msg>Sin Resultados</Msg></Err></Errors>`
		}
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	_, _ = fmt.Fprintf(w, `<?xml version="1.0" encoding="utf-8"?><soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>`+
		`<%[1]sResponse xmlns="http://ar.gov.afip.dif.FEV1/"><%[1]sResult>%[2]s</%[1]sResult></%[1]sResponse></soap:Body></soap:Envelope>`, op, result)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, authority *fakeAuthority, opts ...Option) (*Client, *stubTickets) {
	t.Helper()
	server := httptest.NewServer(authority)
	t.Cleanup(server.Close)

	tickets := &stubTickets{}
	c, err := NewClient(soap.NewClient(server.Client(), testLogger()), Config{
		Endpoint:    server.URL,
		IssuerTaxID: issuer,
		CatalogTTL:  time.Hour,
	}, tickets, testLogger(), opts...)
	require.NoError(t, err)
	return c, tickets
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func invoiceB() fiscal.AuthorizationRequest {
	return fiscal.AuthorizationRequest{
		SalesPoint:          1,
		Kind:                fiscal.KindInvoiceB,
		Concept:             fiscal.ConceptProducts,
		Counterparty:        fiscal.Identifier{Kind: fiscal.IdentifierDNI, Number: 30123456},
		ReceiverVatCategory: fiscal.VatConsumidorFinal,
		Date:                time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		Amounts: fiscal.Amounts{
			Total: dec("121"),
			Net:   dec("100"),
			Vat:   dec("21"),
		},
		VatBreakdown: []fiscal.VatLine{{Rate: fiscal.Vat21, Base: dec("100"), Amount: dec("21")}},
	}
}

func TestRequestAuthorization_Approved(t *testing.T) {
	authority := newFakeAuthority()
	c, _ := newTestClient(t, authority)

	res, err := c.RequestAuthorization(context.Background(), invoiceB())
	require.NoError(t, err)

	assert.True(t, res.Approved)
	assert.Equal(t, int64(1), res.AssignedNumber)
	assert.Equal(t, "76110000000001", res.CAE)
	assert.Equal(t, "00001-00000001", res.OfficialNumber())
	assert.Equal(t, 20, res.CAEExpiry.Day())
	assert.Equal(t, 2026, res.ProcessedAt.Year())

	body := authority.bodyOf("FECAESolicitar")
	assert.Contains(t, body, "<CantReg>1</CantReg>")
	assert.Contains(t, body, "<ImpTotal>121.00</ImpTotal>")
	assert.Contains(t, body, "<ImpIVA>21.00</ImpIVA>")
	assert.Contains(t, body, "<CbteFch>20260310</CbteFch>")
	assert.Contains(t, body, "<MonId>PES</MonId><MonCotiz>1</MonCotiz>")
	assert.Contains(t, body, "<AlicIva><Id>5</Id><BaseImp>100.00</BaseImp><Importe>21.00</Importe></AlicIva>")
	assert.Contains(t, body, "<CondicionIVAReceptorId>5</CondicionIVAReceptorId>")
	assert.Contains(t, body, "<Token>tok</Token><Sign>sig</Sign><Cuit>20123456786</Cuit>")
	assert.NotContains(t, body, "CbtesAsoc")
	assert.NotContains(t, body, "FchServDesde")
}

func TestRequestAuthorization_ConcurrentNumbersAreConsecutive(t *testing.T) {
	authority := newFakeAuthority()
	c, _ := newTestClient(t, authority)

	const n = 12
	numbers := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.RequestAuthorization(context.Background(), invoiceB())
			if assert.NoError(t, err) {
				numbers <- res.AssignedNumber
			}
		}()
	}
	wg.Wait()
	close(numbers)

	seen := map[int64]bool{}
	for num := range numbers {
		assert.False(t, seen[num], "number %d assigned twice", num)
		seen[num] = true
	}
	assert.Len(t, seen, n)
	for i := int64(1); i <= n; i++ {
		assert.True(t, seen[i], "missing number %d", i)
	}
	assert.Zero(t, authority.duplicates)
}

func TestRequestAuthorization_ClassAForFinalConsumerFailsBeforeAnyCall(t *testing.T) {
	authority := newFakeAuthority()
	c, _ := newTestClient(t, authority)

	req := invoiceB()
	req.Kind = fiscal.KindInvoiceA

	_, err := c.RequestAuthorization(context.Background(), req)

	var validation *fiscal.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Contains(t, strings.Join(validation.Reasons, " "), "Responsable Inscripto")
	assert.Zero(t, authority.callsFor("FECompUltimoAutorizado"))
	assert.Zero(t, authority.callsFor("FECAESolicitar"))
}

func TestRequestAuthorization_RejectionIsAResult(t *testing.T) {
	authority := newFakeAuthority()
	authority.caeResult = `<FeCabResp><Resultado>R</Resultado><FchProceso>20260310120000</FchProceso></FeCabResp>` +
		`<FeDetResp><FECAEDetResponse><Resultado>R</Resultado><CbteDesde>%d</CbteDesde>` +
		`<Observaciones><Obs><Code>10015</Code><Msg>DocNro invalido</Msg></Obs></Observaciones></FECAEDetResponse></FeDetResp>`
	c, _ := newTestClient(t, authority)

	res, err := c.RequestAuthorization(context.Background(), invoiceB())
	require.NoError(t, err)

	assert.False(t, res.Approved)
	assert.Empty(t, res.CAE)
	assert.Equal(t, []string{"[10015] DocNro invalido"}, res.Reasons())
	assert.Equal(t, 1, authority.callsFor("FECAESolicitar"))
}

func TestRequestAuthorization_CreditNoteCarriesAssociatedDocument(t *testing.T) {
	authority := newFakeAuthority()
	c, _ := newTestClient(t, authority)

	req := invoiceB()
	req.Kind = fiscal.KindCreditNoteB
	req.Concept = fiscal.ConceptServices
	req.ServiceFrom = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	req.ServiceTo = time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	req.PaymentDue = time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	req.Associated = []fiscal.AssociatedDocument{{
		Kind:        fiscal.KindInvoiceB,
		SalesPoint:  1,
		Number:      40,
		IssuerTaxID: issuer,
		Date:        time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}}

	_, err := c.RequestAuthorization(context.Background(), req)
	require.NoError(t, err)

	body := authority.bodyOf("FECAESolicitar")
	assert.Contains(t, body, "<CbtesAsoc><CbteAsoc><Tipo>6</Tipo><PtoVta>1</PtoVta><Nro>40</Nro><Cuit>20123456786</Cuit><CbteFch>20260302</CbteFch></CbteAsoc></CbtesAsoc>")
	assert.Contains(t, body, "<FchServDesde>20260301</FchServDesde><FchServHasta>20260331</FchServHasta><FchVtoPago>20260410</FchVtoPago>")
}

func TestRequestAuthorization_ClassCSendsNoBreakdown(t *testing.T) {
	authority := newFakeAuthority()
	c, _ := newTestClient(t, authority)

	req := invoiceB()
	req.Kind = fiscal.KindInvoiceC
	req.Amounts = fiscal.Amounts{Total: dec("100"), Net: dec("100")}
	req.VatBreakdown = nil

	_, err := c.RequestAuthorization(context.Background(), req)
	require.NoError(t, err)

	body := authority.bodyOf("FECAESolicitar")
	assert.Contains(t, body, "<ImpIVA>0.00</ImpIVA>")
	assert.NotContains(t, body, "<Iva>")
}

func TestRequestAuthorization_UnknownSalesPoint(t *testing.T) {
	authority := newFakeAuthority()
	authority.results["FEParamGetPtosVenta"] = `<ResultGet>` +
		`<PtoVenta><Nro>2</Nro><EmisionTipo>CAE - Ws</EmisionTipo><Bloqueado>N</Bloqueado><FchBaja>NULL</FchBaja></PtoVenta>` +
		`<PtoVenta><Nro>3</Nro><EmisionTipo>CAE - Ws</EmisionTipo><Bloqueado>S</Bloqueado><FchBaja>NULL</FchBaja></PtoVenta>` +
		`</ResultGet>`
	c, _ := newTestClient(t, authority)

	var validation *fiscal.ValidationError

	_, err := c.RequestAuthorization(context.Background(), invoiceB())
	require.ErrorAs(t, err, &validation)

	req := invoiceB()
	req.SalesPoint = 3
	_, err = c.RequestAuthorization(context.Background(), req)
	require.ErrorAs(t, err, &validation)
	assert.Contains(t, validation.Reasons[0], "bloqueado")

	req.SalesPoint = 2
	_, err = c.RequestAuthorization(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 1, authority.callsFor("FEParamGetPtosVenta"), "catalog is cached")
	assert.Equal(t, 1, authority.callsFor("FECAESolicitar"))
}

func TestLastAuthorizedNumber_InvalidTokenDropsTicket(t *testing.T) {
	authority := newFakeAuthority()
	authority.results["FECompUltimoAutorizado"] = `<Errors><Err><Code>600</Code><Msg>ValidacionDeToken: No validaron las credenciales</Msg></Err></Errors>`
	c, tickets := newTestClient(t, authority)

	_, err := c.LastAuthorizedNumber(context.Background(), 1, fiscal.KindInvoiceB)

	var fault *fiscal.ProtocolFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "600", fault.Code)
	assert.Equal(t, int32(1), tickets.invalidated.Load())
}

func TestLastAuthorizedNumber_NoneIssued(t *testing.T) {
	c, _ := newTestClient(t, newFakeAuthority())

	last, err := c.LastAuthorizedNumber(context.Background(), 7, fiscal.KindInvoiceA)
	require.NoError(t, err)
	assert.Zero(t, last)
}

func TestQueryDocument(t *testing.T) {
	authority := newFakeAuthority()
	authority.results["FECompConsultar"] = `<ResultGet><Concepto>1</Concepto><DocTipo>80</DocTipo><DocNro>30712345671</DocNro>` +
		`<CbteDesde>15</CbteDesde><CbteHasta>15</CbteHasta><CbteFch>20260310</CbteFch><ImpTotal>1210.5</ImpTotal><ImpTotConc>0</ImpTotConc>` +
		`<ImpNeto>1000.41</ImpNeto><ImpOpEx>0</ImpOpEx><ImpTrib>0</ImpTrib><ImpIVA>210.09</ImpIVA><MonId>PES</MonId>` +
		`<Iva><AlicIva><Id>5</Id><BaseImp>1000.41</BaseImp><Importe>210.09</Importe></AlicIva></Iva>` +
		`<Resultado>A</Resultado><CodAutorizacion>76110000000015</CodAutorizacion><EmisionTipo>CAE</EmisionTipo>` +
		`<FchVto>20260320</FchVto><FchProceso>20260310120000</FchProceso><PtoVta>1</PtoVta><CbteTipo>1</CbteTipo></ResultGet>`
	c, _ := newTestClient(t, authority)

	rec, err := c.QueryDocument(context.Background(), 1, fiscal.KindInvoiceA, 15)
	require.NoError(t, err)

	assert.Equal(t, fiscal.KindInvoiceA, rec.Kind)
	assert.Equal(t, int64(15), rec.Number)
	assert.Equal(t, "76110000000015", rec.CAE)
	assert.True(t, rec.Amounts.Total.Equal(dec("1210.5")))
	require.Len(t, rec.VatBreakdown, 1)
	assert.Equal(t, fiscal.Vat21, rec.VatBreakdown[0].Rate)
	assert.Equal(t, fiscal.Identifier{Kind: fiscal.IdentifierCUIT, Number: 30712345671}, rec.Counterparty)
	assert.Contains(t, authority.bodyOf("FECompConsultar"), "<FeCompConsReq><CbteTipo>1</CbteTipo><CbteNro>15</CbteNro><PtoVta>1</PtoVta></FeCompConsReq>")
}

func TestQueryDocument_NotFound(t *testing.T) {
	c, _ := newTestClient(t, newFakeAuthority())

	_, err := c.QueryDocument(context.Background(), 1, fiscal.KindInvoiceA, 999)
	assert.True(t, errors.Is(err, fiscal.ErrNotFound))
}

func TestCatalogs(t *testing.T) {
	authority := newFakeAuthority()
	authority.results["FEParamGetTiposIva"] = `<ResultGet>` +
		`<IvaTipo><Id>5</Id><Desc>21%</Desc><FchDesde>20090220</FchDesde><FchHasta>NULL</FchHasta></IvaTipo>` +
		`<IvaTipo><Id>4</Id><Desc>10.5%</Desc><FchDesde>20090220</FchDesde><FchHasta>NULL</FchHasta></IvaTipo>` +
		`</ResultGet>`
	authority.results["FEParamGetCondicionIvaReceptor"] = `<ResultGet>` +
		`<CondicionIvaReceptor><Id>1</Id><Desc>IVA Responsable Inscripto</Desc><Cmp_Clase>A/M/C</Cmp_Clase></CondicionIvaReceptor>` +
		`</ResultGet>`
	c, _ := newTestClient(t, authority)
	ctx := context.Background()

	rates, err := c.ListVatRates(ctx)
	require.NoError(t, err)
	require.Len(t, rates, 2)
	assert.Equal(t, 5, rates[0].ID)
	assert.Equal(t, "21%", rates[0].Description)
	assert.True(t, rates[0].ValidTo.IsZero())

	kinds, err := c.ListDocumentKinds(ctx)
	require.NoError(t, err)
	assert.Empty(t, kinds, "no results is an empty catalog")

	cats, err := c.ListVatCategories(ctx, "A")
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, fiscal.VatResponsableInscripto, cats[0].Category)
	assert.Contains(t, authority.bodyOf("FEParamGetCondicionIvaReceptor"), "<ClaseCmp>A</ClaseCmp>")

	_, err = c.ListVatRates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, authority.callsFor("FEParamGetTiposIva"))
}

func TestDummy(t *testing.T) {
	authority := newFakeAuthority()
	authority.results["FEDummy"] = `<AppServer>OK</AppServer><DbServer>OK</DbServer><AuthServer>OK</AuthServer>`
	c, _ := newTestClient(t, authority)

	status, err := c.Dummy(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy())
	assert.NotContains(t, authority.bodyOf("FEDummy"), "<Auth>")

	assert.False(t, DummyStatus{AppServer: "OK", DbServer: "NO", AuthServer: "OK"}.Healthy())
}

// heldLocker reports whether its lock is currently held.
type heldLocker struct {
	inner *KeyedLocker
	held  atomic.Bool
}

func (l *heldLocker) Lock(ctx context.Context, key string) (func(), error) {
	unlock, err := l.inner.Lock(ctx, key)
	if err != nil {
		return nil, err
	}
	l.held.Store(true)
	return func() {
		l.held.Store(false)
		unlock()
	}, nil
}

// orderedTickets counts ticket requests made while the numbering lock is held.
type orderedTickets struct {
	stubTickets
	locker *heldLocker
	calls  atomic.Int32
	held   atomic.Int32
}

func (o *orderedTickets) GetTicket(ctx context.Context, service string) (fiscal.AccessTicket, error) {
	o.calls.Add(1)
	if o.locker.held.Load() {
		o.held.Add(1)
	}
	return o.stubTickets.GetTicket(ctx, service)
}

func TestRequestAuthorization_TicketBeforeNumberingLock(t *testing.T) {
	authority := newFakeAuthority()
	server := httptest.NewServer(authority)
	t.Cleanup(server.Close)

	locker := &heldLocker{inner: NewKeyedLocker()}
	tickets := &orderedTickets{locker: locker}
	c, err := NewClient(soap.NewClient(server.Client(), testLogger()), Config{
		Endpoint:    server.URL,
		IssuerTaxID: issuer,
		CatalogTTL:  time.Hour,
	}, tickets, testLogger(), WithLocker(locker))
	require.NoError(t, err)

	_, err = c.RequestAuthorization(context.Background(), invoiceB())
	require.NoError(t, err)

	assert.Positive(t, tickets.calls.Load())
	assert.Zero(t, tickets.held.Load(), "tickets must be obtained before taking the numbering lock")
	assert.False(t, locker.held.Load())
	assert.Equal(t, 1, authority.callsFor("FECompUltimoAutorizado"))
}

func TestKeyedLocker(t *testing.T) {
	l := NewKeyedLocker()

	unlock, err := l.Lock(context.Background(), "1:6")
	require.NoError(t, err)

	other, err := l.Lock(context.Background(), "1:1")
	require.NoError(t, err, "different keys do not block each other")
	other()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "1:6")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()

	again, err := l.Lock(context.Background(), "1:6")
	require.NoError(t, err)
	again()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.slots)
}
