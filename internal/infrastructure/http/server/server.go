// Package server runs the operations endpoint: health, metrics and the reconciliation
// queue. Document issuance has no HTTP surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/config"
	httperrors "3tcapital/ms_facturacion_afip/internal/infrastructure/http"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/http/middleware"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

const defaultRequestTimeout = 15 * time.Second

// ReconciliationQueue lists approved documents that still need manual recording.
type ReconciliationQueue interface {
	Pending(ctx context.Context) ([]fiscal.Reconciliation, error)
}

// Server is the operations HTTP server.
type Server struct {
	log        *slog.Logger
	httpServer *http.Server
	shutdown   time.Duration
}

// Options wires the server's handlers. Logger and HealthHandler are required.
type Options struct {
	Config          config.AppConfig
	Logger          *slog.Logger
	HealthHandler   http.Handler
	MetricsHandler  http.Handler
	Reconciliations ReconciliationQueue
}

// New builds the router and the underlying http.Server.
func New(opts Options) (*Server, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.HealthHandler == nil {
		return nil, errors.New("health handler is required")
	}

	cfg := opts.Config.HTTP
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(opts.Logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, http.StatusNotFound, "recurso no encontrado", nil, opts.Logger)
	})

	r.Method(http.MethodGet, "/health", opts.HealthHandler)
	if opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", opts.MetricsHandler)
	}
	r.Get("/reconciliations", reconciliationsHandler(opts.Reconciliations, opts.Logger))

	return &Server{
		log: opts.Logger,
		httpServer: &http.Server{
			Addr:         cfg.Address(),
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		shutdown: cfg.ShutdownTimeout,
	}, nil
}

type reconciliationView struct {
	Operation         string `json:"operation"`
	Kind              string `json:"kind"`
	OfficialNumber    string `json:"officialNumber"`
	CAE               string `json:"cae"`
	Amount            string `json:"amount"`
	RelatedDocumentID string `json:"relatedDocumentId,omitempty"`
	Error             string `json:"error"`
	CorrelationID     string `json:"correlationId"`
	CreatedAt         string `json:"createdAt"`
}

func reconciliationsHandler(queue ReconciliationQueue, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if queue == nil {
			httperrors.WriteError(w, http.StatusServiceUnavailable, "base de datos no configurada", nil, log)
			return
		}

		pending, err := queue.Pending(r.Context())
		if err != nil {
			log.Error("Failed to list reconciliations", "error", err)
			httperrors.WriteError(w, http.StatusInternalServerError, "no se pudieron listar las conciliaciones", nil, log)
			return
		}

		views := make([]reconciliationView, 0, len(pending))
		for _, p := range pending {
			v := reconciliationView{
				Operation:      p.Operation,
				Kind:           p.Kind.String(),
				OfficialNumber: fiscal.FormatNumber(p.SalesPoint, p.Number),
				CAE:            p.CAE,
				Amount:         p.Amount.StringFixed(2),
				Error:          p.Error,
				CorrelationID:  p.CorrelationID,
				CreatedAt:      p.CreatedAt.Format(time.RFC3339),
			}
			if p.RelatedDocumentID != nil {
				v.RelatedDocumentID = p.RelatedDocumentID.String()
			}
			views = append(views, v)
		}
		httperrors.WriteJSON(w, http.StatusOK, views, log)
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is done, then shuts down within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server started", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// Close stops the listener immediately.
func (s *Server) Close() {
	_ = s.httpServer.Close()
}
