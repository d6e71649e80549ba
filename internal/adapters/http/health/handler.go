package health

import (
	"net/http"

	apphealth "3tcapital/ms_facturacion_afip/internal/application/health"
	corehealth "3tcapital/ms_facturacion_afip/internal/core/health"
	httpjson "3tcapital/ms_facturacion_afip/internal/infrastructure/http"
)

// Handler serves the health snapshot. Probes and scrapers must never see a cached
// answer, and only a critical dependency being down turns the response into a 503:
// an authority outage leaves the service degraded but able to answer.
type Handler struct {
	service *apphealth.Service
}

func NewHandler(service *apphealth.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snapshot := h.service.Status(r.Context())

	code := http.StatusOK
	if snapshot.Status == corehealth.StatusDown {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Cache-Control", "no-store")
	httpjson.WriteJSON(w, code, snapshot, nil)
}
