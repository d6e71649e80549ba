package fiscal

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// AssociatedDocument references the document a note offsets (CbteAsoc).
type AssociatedDocument struct {
	Kind        DocumentKind `json:"kind"`
	SalesPoint  int          `json:"salesPoint"`
	Number      int64        `json:"number"`
	IssuerTaxID string       `json:"issuerTaxId,omitempty"`
	Date        time.Time    `json:"date"`
}

// AuthorizationRequest is one document submitted for a CAE. It is built fresh for every
// call and its number is assigned by the authorization client.
type AuthorizationRequest struct {
	SalesPoint          int          `validate:"gt=0,lt=100000"`
	Kind                DocumentKind `validate:"required"`
	Concept             Concept      `validate:"required"`
	Counterparty        Identifier
	ReceiverVatCategory VatCategory `validate:"required"`
	Date                time.Time   `validate:"required"`
	ServiceFrom         time.Time
	ServiceTo           time.Time
	PaymentDue          time.Time
	Amounts             Amounts
	VatBreakdown        []VatLine
	Associated          []AssociatedDocument
	Currency            string `validate:"omitempty,len=3"`
	ExchangeRate        decimal.Decimal
}

// Validate checks everything the authority would reject, before any number is used.
func (r AuthorizationRequest) Validate() error {
	var reasons []string

	if err := validate.Struct(r); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrs {
				reasons = append(reasons, fmt.Sprintf("campo %s inválido (%s)", fe.Field(), fe.Tag()))
			}
		} else {
			reasons = append(reasons, err.Error())
		}
	}

	if !r.Kind.Valid() {
		reasons = append(reasons, fmt.Sprintf("tipo de comprobante %d no soportado", int(r.Kind)))
	}
	if !r.Concept.Valid() {
		reasons = append(reasons, fmt.Sprintf("concepto %d no soportado", int(r.Concept)))
	}
	if !r.Counterparty.Kind.Valid() {
		reasons = append(reasons, fmt.Sprintf("tipo de documento del receptor %d no soportado", int(r.Counterparty.Kind)))
	}
	if r.Counterparty.Kind != IdentifierUnidentified && r.Counterparty.Number <= 0 {
		reasons = append(reasons, "el número de documento del receptor es obligatorio")
	}

	if err := ValidateKindForCategory(r.Kind, r.ReceiverVatCategory); err != nil {
		if ve, ok := err.(*ValidationError); ok {
			reasons = append(reasons, ve.Reasons...)
		}
	}

	reasons = append(reasons, r.validateAmounts()...)

	if r.Concept.RequiresServicePeriod() {
		if r.ServiceFrom.IsZero() || r.ServiceTo.IsZero() || r.PaymentDue.IsZero() {
			reasons = append(reasons, "servicios requieren fecha desde, fecha hasta y vencimiento de pago")
		} else if r.ServiceTo.Before(r.ServiceFrom) {
			reasons = append(reasons, "la fecha hasta del servicio es anterior a la fecha desde")
		}
	}

	if r.Kind.IsNote() && len(r.Associated) == 0 {
		reasons = append(reasons, "las notas de crédito y débito requieren un comprobante asociado")
	}
	for _, a := range r.Associated {
		if !a.Kind.Valid() || a.SalesPoint <= 0 || a.Number <= 0 {
			reasons = append(reasons, fmt.Sprintf("comprobante asociado %d %d-%d inválido", int(a.Kind), a.SalesPoint, a.Number))
		}
	}

	if len(reasons) > 0 {
		return NewValidationError(reasons...)
	}
	return nil
}

func (r AuthorizationRequest) validateAmounts() []string {
	var reasons []string
	a := r.Amounts

	if !a.Total.IsPositive() {
		reasons = append(reasons, "el importe total debe ser mayor a cero")
	}
	if sum := Round2(a.ComponentSum()); !Round2(a.Total).Equal(sum) {
		reasons = append(reasons, fmt.Sprintf("el importe total (%s) no coincide con la suma de sus componentes (%s)",
			a.Total.StringFixed(2), sum.StringFixed(2)))
	}
	components := []struct {
		name  string
		value decimal.Decimal
	}{
		{"neto", a.Net}, {"no gravado", a.NonTaxed}, {"exento", a.Exempt}, {"iva", a.Vat}, {"tributos", a.OtherTaxes},
	}
	for _, c := range components {
		if c.value.IsNegative() {
			reasons = append(reasons, fmt.Sprintf("el importe %s no puede ser negativo", c.name))
		}
	}

	if !r.Kind.RequiresVatBreakdown() {
		if !a.Vat.IsZero() || len(r.VatBreakdown) > 0 {
			reasons = append(reasons, fmt.Sprintf("%s no discrimina IVA: el importe de IVA debe ser cero y sin alícuotas", r.Kind))
		}
		return reasons
	}

	if len(r.VatBreakdown) == 0 {
		return append(reasons, fmt.Sprintf("%s requiere el detalle de alícuotas de IVA", r.Kind))
	}
	for _, l := range r.VatBreakdown {
		if !l.Rate.Valid() {
			reasons = append(reasons, fmt.Sprintf("alícuota de IVA %d no soportada", int(l.Rate)))
		}
		if l.Base.IsNegative() || l.Amount.IsNegative() {
			reasons = append(reasons, "las alícuotas de IVA no pueden ser negativas")
		}
	}
	if bases := Round2(SumBases(r.VatBreakdown)); !bases.Equal(Round2(a.Net)) {
		reasons = append(reasons, fmt.Sprintf("la suma de bases imponibles (%s) no coincide con el neto gravado (%s)",
			bases.StringFixed(2), a.Net.StringFixed(2)))
	}
	if diff := SumVat(r.VatBreakdown).Sub(a.Vat).Abs(); diff.GreaterThan(VatTolerance) {
		reasons = append(reasons, fmt.Sprintf("la suma de alícuotas (%s) no coincide con el IVA total (%s)",
			SumVat(r.VatBreakdown).StringFixed(2), a.Vat.StringFixed(2)))
	}
	return reasons
}
