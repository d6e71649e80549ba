package fiscal

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DocumentKind is the authority's numeric document type (CbteTipo).
type DocumentKind int

const (
	KindInvoiceA    DocumentKind = 1
	KindDebitNoteA  DocumentKind = 2
	KindCreditNoteA DocumentKind = 3
	KindInvoiceB    DocumentKind = 6
	KindDebitNoteB  DocumentKind = 7
	KindCreditNoteB DocumentKind = 8
	KindInvoiceC    DocumentKind = 11
	KindDebitNoteC  DocumentKind = 12
	KindCreditNoteC DocumentKind = 13
)

// Class is the VAT-discrimination letter of a document kind.
type Class string

const (
	ClassA Class = "A"
	ClassB Class = "B"
	ClassC Class = "C"
)

// Variant distinguishes invoices from the two note types within a class.
type Variant int

const (
	VariantInvoice Variant = iota + 1
	VariantDebitNote
	VariantCreditNote
)

func (v Variant) String() string {
	switch v {
	case VariantInvoice:
		return "invoice"
	case VariantDebitNote:
		return "debit note"
	case VariantCreditNote:
		return "credit note"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

type kindInfo struct {
	class   Class
	variant Variant
	label   string
}

var kinds = map[DocumentKind]kindInfo{
	KindInvoiceA:    {ClassA, VariantInvoice, "Factura A"},
	KindDebitNoteA:  {ClassA, VariantDebitNote, "Nota de Débito A"},
	KindCreditNoteA: {ClassA, VariantCreditNote, "Nota de Crédito A"},
	KindInvoiceB:    {ClassB, VariantInvoice, "Factura B"},
	KindDebitNoteB:  {ClassB, VariantDebitNote, "Nota de Débito B"},
	KindCreditNoteB: {ClassB, VariantCreditNote, "Nota de Crédito B"},
	KindInvoiceC:    {ClassC, VariantInvoice, "Factura C"},
	KindDebitNoteC:  {ClassC, VariantDebitNote, "Nota de Débito C"},
	KindCreditNoteC: {ClassC, VariantCreditNote, "Nota de Crédito C"},
}

// Valid reports whether k is one of the supported document kinds.
func (k DocumentKind) Valid() bool {
	_, ok := kinds[k]
	return ok
}

func (k DocumentKind) Class() Class       { return kinds[k].class }
func (k DocumentKind) Variant() Variant   { return kinds[k].variant }
func (k DocumentKind) IsNote() bool       { return k.Valid() && k.Variant() != VariantInvoice }
func (k DocumentKind) IsCreditNote() bool { return k.Valid() && k.Variant() == VariantCreditNote }

// DiscriminatesVAT reports whether the document shows VAT separately to the receiver.
func (k DocumentKind) DiscriminatesVAT() bool { return k.Class() == ClassA }

// RequiresVatBreakdown reports whether the authority expects an AlicIva block.
// Classes A and B carry VAT; class C issuers are outside the VAT regime.
func (k DocumentKind) RequiresVatBreakdown() bool {
	c := k.Class()
	return c == ClassA || c == ClassB
}

func (k DocumentKind) String() string {
	if info, ok := kinds[k]; ok {
		return info.label
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// KindOf returns the document kind for a class and variant.
func KindOf(class Class, variant Variant) (DocumentKind, error) {
	for k, info := range kinds {
		if info.class == class && info.variant == variant {
			return k, nil
		}
	}
	return 0, fmt.Errorf("no document kind for class %q and %s", class, variant)
}

// Concept is what the document bills for.
type Concept int

const (
	ConceptProducts            Concept = 1
	ConceptServices            Concept = 2
	ConceptProductsAndServices Concept = 3
)

func (c Concept) Valid() bool {
	return c >= ConceptProducts && c <= ConceptProductsAndServices
}

// RequiresServicePeriod reports whether the service period and payment due date are mandatory.
func (c Concept) RequiresServicePeriod() bool {
	return c == ConceptServices || c == ConceptProductsAndServices
}

// IdentifierKind is the authority's receiver document type (DocTipo).
type IdentifierKind int

const (
	IdentifierCUIT         IdentifierKind = 80
	IdentifierCUIL         IdentifierKind = 86
	IdentifierCDI          IdentifierKind = 87
	IdentifierPassport     IdentifierKind = 94
	IdentifierDNI          IdentifierKind = 96
	IdentifierUnidentified IdentifierKind = 99
)

var identifierLabels = map[IdentifierKind]string{
	IdentifierCUIT:         "CUIT",
	IdentifierCUIL:         "CUIL",
	IdentifierCDI:          "CDI",
	IdentifierPassport:     "PASAPORTE",
	IdentifierDNI:          "DNI",
	IdentifierUnidentified: "SIN_IDENTIFICAR",
}

func (k IdentifierKind) Valid() bool {
	_, ok := identifierLabels[k]
	return ok
}

func (k IdentifierKind) String() string {
	if label, ok := identifierLabels[k]; ok {
		return label
	}
	return fmt.Sprintf("identifier(%d)", int(k))
}

// VatCategory is the receiver's VAT condition id (CondicionIVAReceptorId).
type VatCategory int

const (
	VatResponsableInscripto VatCategory = 1
	VatExento               VatCategory = 4
	VatConsumidorFinal      VatCategory = 5
	VatMonotributo          VatCategory = 6
	VatNoCategorizado       VatCategory = 7
	VatProveedorExterior    VatCategory = 8
	VatClienteExterior      VatCategory = 9
	VatLiberado             VatCategory = 10
	VatMonotributoSocial    VatCategory = 13
	VatNoAlcanzado          VatCategory = 15
	VatMonotributoPromovido VatCategory = 16
)

var vatCategoryLabels = map[VatCategory]string{
	VatResponsableInscripto: "IVA Responsable Inscripto",
	VatExento:               "IVA Sujeto Exento",
	VatConsumidorFinal:      "Consumidor Final",
	VatMonotributo:          "Responsable Monotributo",
	VatNoCategorizado:       "Sujeto No Categorizado",
	VatProveedorExterior:    "Proveedor del Exterior",
	VatClienteExterior:      "Cliente del Exterior",
	VatLiberado:             "IVA Liberado - Ley N° 19.640",
	VatMonotributoSocial:    "Monotributista Social",
	VatNoAlcanzado:          "IVA No Alcanzado",
	VatMonotributoPromovido: "Monotributo Trabajador Independiente Promovido",
}

func (c VatCategory) Valid() bool {
	_, ok := vatCategoryLabels[c]
	return ok
}

// Label is the authority's human-readable name for the category.
func (c VatCategory) Label() string {
	if label, ok := vatCategoryLabels[c]; ok {
		return label
	}
	return fmt.Sprintf("categoría %d", int(c))
}

func (c VatCategory) String() string { return c.Label() }

// IsMonotributo covers every simplified-regime variant.
func (c VatCategory) IsMonotributo() bool {
	return c == VatMonotributo || c == VatMonotributoSocial || c == VatMonotributoPromovido
}

// VatRate is the authority's VAT rate id (AlicIva Id).
type VatRate int

const (
	Vat0    VatRate = 3
	Vat10_5 VatRate = 4
	Vat21   VatRate = 5
	Vat27   VatRate = 6
	Vat5    VatRate = 8
	Vat2_5  VatRate = 9
)

var vatRatePercents = map[VatRate]decimal.Decimal{
	Vat0:    decimal.Zero,
	Vat2_5:  decimal.RequireFromString("2.5"),
	Vat5:    decimal.NewFromInt(5),
	Vat10_5: decimal.RequireFromString("10.5"),
	Vat21:   decimal.NewFromInt(21),
	Vat27:   decimal.NewFromInt(27),
}

func (r VatRate) Valid() bool {
	_, ok := vatRatePercents[r]
	return ok
}

// Percent returns the rate as a percentage, e.g. 21 for Vat21.
func (r VatRate) Percent() decimal.Decimal {
	return vatRatePercents[r]
}

func (r VatRate) String() string {
	if p, ok := vatRatePercents[r]; ok {
		return p.String() + "%"
	}
	return fmt.Sprintf("alicuota(%d)", int(r))
}
