package fiscal

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ClassFor returns the document class an issuer must use for a counterparty.
// A responsable inscripto issuer uses A towards another responsable inscripto and B
// otherwise; monotributo and exempt issuers always use C.
func ClassFor(issuer, counterparty VatCategory) (Class, error) {
	switch {
	case issuer == VatResponsableInscripto:
		if !counterparty.Valid() {
			return "", fmt.Errorf("unmapped counterparty vat category %d", int(counterparty))
		}
		if counterparty == VatResponsableInscripto {
			return ClassA, nil
		}
		return ClassB, nil
	case issuer.IsMonotributo(), issuer == VatExento:
		return ClassC, nil
	default:
		return "", fmt.Errorf("issuer vat category %q cannot issue fiscal documents", issuer.Label())
	}
}

// KindFor returns the invoice kind for an issuer/counterparty pair.
func KindFor(issuer, counterparty VatCategory) (DocumentKind, error) {
	class, err := ClassFor(issuer, counterparty)
	if err != nil {
		return 0, err
	}
	return KindOf(class, VariantInvoice)
}

// NoteKindFor returns the note kind that offsets original, keeping its class.
func NoteKindFor(original DocumentKind, variant Variant) (DocumentKind, error) {
	if !original.Valid() {
		return 0, fmt.Errorf("unmapped document kind %d", int(original))
	}
	return KindOf(original.Class(), variant)
}

// ValidateKindForCategory rejects class A documents for anyone but a responsable inscripto.
func ValidateKindForCategory(kind DocumentKind, counterparty VatCategory) error {
	if !kind.Valid() {
		return NewValidationError(fmt.Sprintf("tipo de comprobante %d no soportado", int(kind)))
	}
	if !counterparty.Valid() {
		return NewValidationError(fmt.Sprintf("condición frente al IVA %d no soportada", int(counterparty)))
	}
	if kind.Class() == ClassA && counterparty != VatResponsableInscripto {
		return NewValidationError(fmt.Sprintf("%s solo puede emitirse a un Responsable Inscripto, el receptor es %s",
			kind, counterparty.Label()))
	}
	return nil
}

// VatRateFromPercent maps a percentage to its rate id. Unmapped rates are an error.
func VatRateFromPercent(percent decimal.Decimal) (VatRate, error) {
	for rate, p := range vatRatePercents {
		if p.Equal(percent) {
			return rate, nil
		}
	}
	return 0, fmt.Errorf("unmapped vat rate %s%%", percent.String())
}

// VatRateFromName accepts forms such as "21", "10,5%", "IVA 27%".
func VatRateFromName(name string) (VatRate, error) {
	cleaned := strings.ToUpper(strings.TrimSpace(name))
	cleaned = strings.TrimPrefix(cleaned, "IVA")
	cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "%")
	cleaned = strings.ReplaceAll(strings.TrimSpace(cleaned), ",", ".")

	percent, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, fmt.Errorf("unmapped vat rate %q", name)
	}
	return VatRateFromPercent(percent)
}

var identifierAliases = map[string]IdentifierKind{
	"CUIT":               IdentifierCUIT,
	"CUIL":               IdentifierCUIL,
	"CDI":                IdentifierCDI,
	"DNI":                IdentifierDNI,
	"PASAPORTE":          IdentifierPassport,
	"PASSPORT":           IdentifierPassport,
	"SIN_IDENTIFICAR":    IdentifierUnidentified,
	"SIN_IDENTIFICACION": IdentifierUnidentified,
	"OTRO":               IdentifierUnidentified,
}

// IdentifierKindFrom maps a name or numeric code to an identifier kind. Unknown values
// map to DNI with known=false so the caller can log a warning.
func IdentifierKindFrom(value string) (kind IdentifierKind, known bool) {
	key := normalizeName(value)
	if n, err := strconv.Atoi(key); err == nil {
		if k := IdentifierKind(n); k.Valid() {
			return k, true
		}
		return IdentifierDNI, false
	}
	if k, ok := identifierAliases[key]; ok {
		return k, true
	}
	return IdentifierDNI, false
}

var vatCategoryAliases = map[string]VatCategory{
	"RI":                        VatResponsableInscripto,
	"RESPONSABLE_INSCRIPTO":     VatResponsableInscripto,
	"IVA_RESPONSABLE_INSCRIPTO": VatResponsableInscripto,
	"EXENTO":                    VatExento,
	"IVA_EXENTO":                VatExento,
	"SUJETO_EXENTO":             VatExento,
	"IVA_SUJETO_EXENTO":         VatExento,
	"CF":                        VatConsumidorFinal,
	"CONSUMIDOR_FINAL":          VatConsumidorFinal,
	"MONOTRIBUTO":               VatMonotributo,
	"MONOTRIBUTISTA":            VatMonotributo,
	"RESPONSABLE_MONOTRIBUTO":   VatMonotributo,
	"NO_CATEGORIZADO":           VatNoCategorizado,
	"SUJETO_NO_CATEGORIZADO":    VatNoCategorizado,
	"PROVEEDOR_EXTERIOR":        VatProveedorExterior,
	"PROVEEDOR_DEL_EXTERIOR":    VatProveedorExterior,
	"CLIENTE_EXTERIOR":          VatClienteExterior,
	"CLIENTE_DEL_EXTERIOR":      VatClienteExterior,
	"LIBERADO":                  VatLiberado,
	"IVA_LIBERADO":              VatLiberado,
	"MONOTRIBUTO_SOCIAL":        VatMonotributoSocial,
	"MONOTRIBUTISTA_SOCIAL":     VatMonotributoSocial,
	"NO_ALCANZADO":              VatNoAlcanzado,
	"IVA_NO_ALCANZADO":          VatNoAlcanzado,
	"MONOTRIBUTO_PROMOVIDO":     VatMonotributoPromovido,
}

// VatCategoryFrom maps a category name or numeric id. There is no safe default, so
// unmapped values are an error.
func VatCategoryFrom(value string) (VatCategory, error) {
	key := normalizeName(value)
	if n, err := strconv.Atoi(key); err == nil {
		if c := VatCategory(n); c.Valid() {
			return c, nil
		}
		return 0, fmt.Errorf("unmapped vat category %q", value)
	}
	if c, ok := vatCategoryAliases[key]; ok {
		return c, nil
	}
	for c, label := range vatCategoryLabels {
		if normalizeName(label) == key {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unmapped vat category %q", value)
}

// normalizeName folds accents and case and joins words with underscores.
func normalizeName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	fields := strings.FieldsFunc(strings.ToUpper(folded), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, "_")
}
