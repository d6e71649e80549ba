package wsfe

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"

	"github.com/shopspring/decimal"
)

const dateLayout = "20060102"

// The authority works in Argentina's civil time.
var authorityZone = time.FixedZone("ART", -3*60*60)

func money(d decimal.Decimal) string {
	return fiscal.Round2(d).StringFixed(2)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(authorityZone).Format(dateLayout)
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(dateLayout, s, authorityZone)
}

// parseTimestamp reads FchProceso, which comes as yyyymmddhhmmss or as a date.
func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"20060102150405", dateLayout} {
		if t, err := time.ParseInLocation(layout, s, authorityZone); err == nil {
			return t
		}
	}
	return time.Time{}
}

// buildDetail maps a validated request with its assigned number to FECAEDetRequest.
func buildDetail(req fiscal.AuthorizationRequest, number int64) caeDetail {
	currency := req.Currency
	if currency == "" {
		currency = "PES"
	}
	rate := req.ExchangeRate
	if !rate.IsPositive() {
		rate = decimal.NewFromInt(1)
	}

	det := caeDetail{
		Concepto:               int(req.Concept),
		DocTipo:                int(req.Counterparty.Kind),
		DocNro:                 req.Counterparty.Number,
		CbteDesde:              number,
		CbteHasta:              number,
		CbteFch:                formatDate(req.Date),
		ImpTotal:               money(req.Amounts.Total),
		ImpTotConc:             money(req.Amounts.NonTaxed),
		ImpNeto:                money(req.Amounts.Net),
		ImpOpEx:                money(req.Amounts.Exempt),
		ImpTrib:                money(req.Amounts.OtherTaxes),
		ImpIVA:                 money(req.Amounts.Vat),
		MonID:                  currency,
		MonCotiz:               rate.String(),
		CondicionIVAReceptorID: int(req.ReceiverVatCategory),
	}

	if req.Concept.RequiresServicePeriod() {
		det.FchServDesde = formatDate(req.ServiceFrom)
		det.FchServHasta = formatDate(req.ServiceTo)
		det.FchVtoPago = formatDate(req.PaymentDue)
	}

	if len(req.Associated) > 0 {
		det.CbtesAsoc = &associatedList{}
		for _, a := range req.Associated {
			det.CbtesAsoc.Items = append(det.CbtesAsoc.Items, associated{
				Tipo:    int(a.Kind),
				PtoVta:  a.SalesPoint,
				Nro:     a.Number,
				Cuit:    a.IssuerTaxID,
				CbteFch: formatDate(a.Date),
			})
		}
	}

	// Class C documents never carry a breakdown.
	if req.Kind.RequiresVatBreakdown() && len(req.VatBreakdown) > 0 {
		det.Iva = &vatList{}
		for _, l := range req.VatBreakdown {
			det.Iva.Items = append(det.Iva.Items, vatLine{
				ID:      int(l.Rate),
				BaseImp: money(l.Base),
				Importe: money(l.Amount),
			})
		}
	}

	return det
}

func toMessages(in []message) []fiscal.Message {
	if len(in) == 0 {
		return nil
	}
	out := make([]fiscal.Message, len(in))
	for i, m := range in {
		out[i] = fiscal.Message{Code: m.Code, Msg: strings.TrimSpace(m.Msg)}
	}
	return out
}

func hasCode(msgs []message, codes ...int) bool {
	for _, m := range msgs {
		for _, c := range codes {
			if m.Code == c {
				return true
			}
		}
	}
	return false
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid catalog id %q: %w", s, err)
	}
	return id, nil
}
