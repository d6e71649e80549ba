package fiscal

import (
	"context"
	"fmt"
	"strings"
)

// Confidence tells downstream consumers how a taxpayer profile was obtained.
type Confidence string

const (
	ConfidenceRegistry  Confidence = "registry"
	ConfidenceHeuristic Confidence = "heuristic"
)

// PersonKind is the registry's tipoPersona.
type PersonKind string

const (
	PersonNatural PersonKind = "FISICA"
	PersonLegal   PersonKind = "JURIDICA"
)

// Identifier is a counterparty document as sent to the authority.
type Identifier struct {
	Kind   IdentifierKind `json:"kind"`
	Number int64          `json:"number"`
}

// TaxpayerProfile is the resolved tax status of a counterparty.
type TaxpayerProfile struct {
	TaxID            string      `json:"taxId"`
	PersonKind       PersonKind  `json:"personKind"`
	Name             string      `json:"name,omitempty"`
	VatCategory      VatCategory `json:"vatCategory"`
	VatCategoryLabel string      `json:"vatCategoryLabel"`
	RegistryStatus   string      `json:"registryStatus,omitempty"`
	Confidence       Confidence  `json:"confidence"`

	// SuggestedIdentifier is the document the receiver should be identified with.
	SuggestedIdentifier Identifier `json:"suggestedIdentifier"`
}

// RegistryRecord is the subset of a registry entry used for classification.
type RegistryRecord struct {
	TaxID        string
	PersonKind   PersonKind
	Name         string
	Status       string
	Taxes        []int
	Monotributo  bool
	MonoCategory string
}

// HasTax reports whether the record is registered for tax id.
func (r RegistryRecord) HasTax(id int) bool {
	for _, t := range r.Taxes {
		if t == id {
			return true
		}
	}
	return false
}

// Registry looks up taxpayers in the authority's registry.
type Registry interface {
	Lookup(ctx context.Context, taxID string) (*RegistryRecord, error)
}

// NormalizeTaxID strips separators and checks for the eleven digits of a CUIT/CUIL.
func NormalizeTaxID(taxID string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' || r == '.' {
			return -1
		}
		return r
	}, taxID)

	if len(digits) != 11 {
		return "", NewValidationError(fmt.Sprintf("CUIT %q debe tener 11 dígitos", taxID))
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", NewValidationError(fmt.Sprintf("CUIT %q contiene caracteres no numéricos", taxID))
		}
	}
	return digits, nil
}
