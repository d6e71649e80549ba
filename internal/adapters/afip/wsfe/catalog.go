package wsfe

import (
	"time"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

// SalesPoint is one entry of FEParamGetPtosVenta.
type SalesPoint struct {
	Number       int       `json:"number"`
	EmissionType string    `json:"emissionType"`
	Blocked      bool      `json:"blocked"`
	DroppedAt    time.Time `json:"droppedAt,omitempty"`
}

// Active reports whether documents may still be issued from the sales point.
func (p SalesPoint) Active() bool {
	return !p.Blocked && p.DroppedAt.IsZero()
}

// CatalogEntry is one row of a parameter table.
type CatalogEntry struct {
	ID          int       `json:"id"`
	Description string    `json:"description"`
	ValidFrom   time.Time `json:"validFrom,omitempty"`
	ValidTo     time.Time `json:"validTo,omitempty"`
}

// VatCategoryEntry is one receiver VAT condition and the document class it applies to.
type VatCategoryEntry struct {
	Category    fiscal.VatCategory `json:"category"`
	Description string             `json:"description"`
	Class       string             `json:"class"`
}

func toCatalog(entries []paramEntry) ([]CatalogEntry, error) {
	out := make([]CatalogEntry, 0, len(entries))
	for _, e := range entries {
		id, err := parseID(e.ID)
		if err != nil {
			return nil, err
		}
		from, _ := parseDate(e.FchDesde)
		// "NULL" means open ended.
		to, _ := parseDate(e.FchHasta)
		out = append(out, CatalogEntry{ID: id, Description: e.Desc, ValidFrom: from, ValidTo: to})
	}
	return out, nil
}

func containsKind(entries []CatalogEntry, kind fiscal.DocumentKind) bool {
	for _, e := range entries {
		if e.ID == int(kind) {
			return true
		}
	}
	return false
}

func findSalesPoint(points []SalesPoint, number int) (SalesPoint, bool) {
	for _, p := range points {
		if p.Number == number {
			return p, true
		}
	}
	return SalesPoint{}, false
}
