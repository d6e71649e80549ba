package fiscal

import (
	"sort"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)

	// VatTolerance is the largest accepted gap between the VAT header and its breakdown.
	VatTolerance = decimal.RequireFromString("0.01")
)

// Amounts is the monetary header of a fiscal document.
type Amounts struct {
	Total      decimal.Decimal `json:"total"`
	NonTaxed   decimal.Decimal `json:"nonTaxed"`
	Exempt     decimal.Decimal `json:"exempt"`
	Net        decimal.Decimal `json:"net"`
	Vat        decimal.Decimal `json:"vat"`
	OtherTaxes decimal.Decimal `json:"otherTaxes"`
}

// VatLine is one AlicIva entry.
type VatLine struct {
	Rate   VatRate         `json:"rate"`
	Base   decimal.Decimal `json:"base"`
	Amount decimal.Decimal `json:"amount"`
}

// Round2 rounds half away from zero to cents.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// SumVat adds the amounts of a breakdown.
func SumVat(lines []VatLine) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Amount)
	}
	return sum
}

// Ratio is the scale factor that takes total to target.
func Ratio(target, total decimal.Decimal) decimal.Decimal {
	if total.IsZero() {
		return decimal.Zero
	}
	return target.Div(total)
}

// ScaleAmounts scales a document's amounts and VAT breakdown by ratio.
//
// A ratio of exactly one returns the originals unchanged. Otherwise the total, the
// VAT-free components and every breakdown line are scaled and rounded to cents, the VAT
// header is the sum of the rounded line amounts and the net absorbs the rounding
// residual so the total equals the sum of its components. The bases then receive the
// cent difference on the largest line so they add up to the net.
func ScaleAmounts(original Amounts, breakdown []VatLine, ratio decimal.Decimal) (Amounts, []VatLine) {
	lines := make([]VatLine, len(breakdown))
	if ratio.Equal(decimal.NewFromInt(1)) {
		copy(lines, breakdown)
		return original, lines
	}

	scale := func(d decimal.Decimal) decimal.Decimal { return Round2(d.Mul(ratio)) }

	for i, l := range breakdown {
		lines[i] = VatLine{Rate: l.Rate, Base: scale(l.Base), Amount: scale(l.Amount)}
	}

	scaled := Amounts{
		Total:      scale(original.Total),
		NonTaxed:   scale(original.NonTaxed),
		Exempt:     scale(original.Exempt),
		Vat:        scale(original.Vat),
		OtherTaxes: scale(original.OtherTaxes),
	}
	if len(lines) > 0 {
		scaled.Vat = SumVat(lines)
	}
	scaled.Net = scaled.Total.Sub(scaled.Vat).Sub(scaled.Exempt).Sub(scaled.NonTaxed).Sub(scaled.OtherTaxes)

	if len(lines) > 0 {
		largest := 0
		for i := range lines {
			if lines[i].Base.GreaterThan(lines[largest].Base) {
				largest = i
			}
		}
		lines[largest].Base = lines[largest].Base.Add(scaled.Net.Sub(SumBases(lines)))
	}
	return scaled, lines
}

// SumBases adds the taxable bases of a breakdown.
func SumBases(lines []VatLine) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Base)
	}
	return sum
}

// ComponentSum is the total implied by the header's components.
func (a Amounts) ComponentSum() decimal.Decimal {
	return a.Net.Add(a.NonTaxed).Add(a.Exempt).Add(a.Vat).Add(a.OtherTaxes)
}

// Treatment is how a line item is taxed.
type Treatment int

const (
	TreatmentTaxed Treatment = iota
	TreatmentExempt
	TreatmentNonTaxed
)

// Item is one billed line.
type Item struct {
	Description string          `json:"description" validate:"required"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Rate        VatRate         `json:"rate,omitempty"`
	Treatment   Treatment       `json:"treatment"`
}

// Subtotal is quantity times unit price, rounded to cents.
func (i Item) Subtotal() decimal.Decimal {
	return Round2(i.Quantity.Mul(i.UnitPrice))
}

// ComputeTotals derives the header and VAT breakdown from line items. Unit prices are
// net of VAT. Class C documents carry no VAT: every taxed line counts as net.
func ComputeTotals(items []Item, kind DocumentKind) (Amounts, []VatLine) {
	amounts := Amounts{}
	bases := map[VatRate]decimal.Decimal{}

	for _, item := range items {
		subtotal := item.Subtotal()
		switch item.Treatment {
		case TreatmentExempt:
			amounts.Exempt = amounts.Exempt.Add(subtotal)
		case TreatmentNonTaxed:
			amounts.NonTaxed = amounts.NonTaxed.Add(subtotal)
		default:
			amounts.Net = amounts.Net.Add(subtotal)
			if kind.RequiresVatBreakdown() {
				bases[item.Rate] = bases[item.Rate].Add(subtotal)
			}
		}
	}

	var lines []VatLine
	for rate, base := range bases {
		lines = append(lines, VatLine{
			Rate:   rate,
			Base:   base,
			Amount: Round2(base.Mul(rate.Percent()).Div(hundred)),
		})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].Rate < lines[j].Rate })

	amounts.Vat = SumVat(lines)
	amounts.Total = amounts.ComponentSum()
	return amounts, lines
}
