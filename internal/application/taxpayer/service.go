package taxpayer

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/cache"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/metrics"
)

// Registry tax ids used for classification.
const (
	taxVAT       = 30
	taxVATExempt = 32
)

// legalEntityPrefixes are the CUIT prefixes reserved for companies.
var legalEntityPrefixes = []string{"30", "33", "34"}

// Service resolves a counterparty's tax status from the registry, falling back to a
// conservative heuristic whenever the registry cannot answer.
type Service struct {
	registry fiscal.Registry
	sandbox  bool
	profiles *cache.TTLCache[string, fiscal.TaxpayerProfile]
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// Config controls registry usage.
type Config struct {
	// Sandbox skips the registry entirely: the homologation registry has no usable data.
	Sandbox  bool
	CacheTTL time.Duration
}

// NewService creates a resolver. A nil registry behaves like the sandbox.
func NewService(registry fiscal.Registry, cfg Config, log *slog.Logger, mt *metrics.Metrics, now func() time.Time) *Service {
	return &Service{
		registry: registry,
		sandbox:  cfg.Sandbox || registry == nil,
		profiles: cache.NewTTLCache[string, fiscal.TaxpayerProfile](cfg.CacheTTL, now),
		metrics:  mt,
		log:      log,
	}
}

// Resolve returns the profile of taxID. Only an invalid tax id is an error; every
// registry failure degrades to the heuristic, flagged by its confidence.
func (s *Service) Resolve(ctx context.Context, taxID string) (fiscal.TaxpayerProfile, error) {
	normalized, err := fiscal.NormalizeTaxID(taxID)
	if err != nil {
		return fiscal.TaxpayerProfile{}, err
	}

	if s.sandbox {
		return s.heuristic(normalized), nil
	}

	if p, ok := s.profiles.Get(normalized); ok {
		s.metrics.IncTaxpayerResolution(metrics.OutcomeCached)
		return p, nil
	}

	rec, err := s.registry.Lookup(ctx, normalized)
	if err != nil {
		s.log.Warn("Registry lookup failed, using heuristic classification",
			"tax_id", normalized,
			"error", err,
		)
		return s.heuristic(normalized), nil
	}

	p := Classify(*rec)
	s.profiles.Set(normalized, p)
	s.metrics.IncTaxpayerResolution(string(fiscal.ConfidenceRegistry))
	return p, nil
}

func (s *Service) heuristic(taxID string) fiscal.TaxpayerProfile {
	s.metrics.IncTaxpayerResolution(string(fiscal.ConfidenceHeuristic))
	return Heuristic(taxID)
}

// Classify derives a profile from a registry record.
func Classify(rec fiscal.RegistryRecord) fiscal.TaxpayerProfile {
	category := fiscal.VatConsumidorFinal
	switch {
	case rec.Monotributo:
		category = fiscal.VatMonotributo
	case rec.HasTax(taxVAT):
		category = fiscal.VatResponsableInscripto
	case rec.HasTax(taxVATExempt):
		category = fiscal.VatExento
	}

	kind := rec.PersonKind
	if kind != fiscal.PersonLegal {
		kind = fiscal.PersonNatural
	}

	number, _ := strconv.ParseInt(rec.TaxID, 10, 64)
	return fiscal.TaxpayerProfile{
		TaxID:               rec.TaxID,
		PersonKind:          kind,
		Name:                rec.Name,
		VatCategory:         category,
		VatCategoryLabel:    category.Label(),
		RegistryStatus:      rec.Status,
		Confidence:          fiscal.ConfidenceRegistry,
		SuggestedIdentifier: fiscal.Identifier{Kind: fiscal.IdentifierCUIT, Number: number},
	}
}

// Heuristic classifies a normalized CUIT by prefix alone. Companies are assumed to be
// registered for VAT; everyone else is a final consumer identified by DNI, because the
// authority rejects an unregistered CUIT as a business identifier.
func Heuristic(taxID string) fiscal.TaxpayerProfile {
	if isLegalEntity(taxID) {
		number, _ := strconv.ParseInt(taxID, 10, 64)
		return fiscal.TaxpayerProfile{
			TaxID:               taxID,
			PersonKind:          fiscal.PersonLegal,
			VatCategory:         fiscal.VatResponsableInscripto,
			VatCategoryLabel:    fiscal.VatResponsableInscripto.Label(),
			Confidence:          fiscal.ConfidenceHeuristic,
			SuggestedIdentifier: fiscal.Identifier{Kind: fiscal.IdentifierCUIT, Number: number},
		}
	}

	dni, _ := strconv.ParseInt(taxID[2:10], 10, 64)
	return fiscal.TaxpayerProfile{
		TaxID:               taxID,
		PersonKind:          fiscal.PersonNatural,
		VatCategory:         fiscal.VatConsumidorFinal,
		VatCategoryLabel:    fiscal.VatConsumidorFinal.Label(),
		Confidence:          fiscal.ConfidenceHeuristic,
		SuggestedIdentifier: fiscal.Identifier{Kind: fiscal.IdentifierDNI, Number: dni},
	}
}

func isLegalEntity(taxID string) bool {
	for _, p := range legalEntityPrefixes {
		if len(taxID) >= len(p) && taxID[:len(p)] == p {
			return true
		}
	}
	return false
}
