// Package app wires the configuration into the issuance stack shared by the service and
// the operator CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"3tcapital/ms_facturacion_afip/internal/adapters/afip/padron"
	"3tcapital/ms_facturacion_afip/internal/adapters/afip/soap"
	"3tcapital/ms_facturacion_afip/internal/adapters/afip/wsaa"
	"3tcapital/ms_facturacion_afip/internal/adapters/afip/wsfe"
	auditpg "3tcapital/ms_facturacion_afip/internal/adapters/audit/postgres"
	healthhttp "3tcapital/ms_facturacion_afip/internal/adapters/http/health"
	redisadapter "3tcapital/ms_facturacion_afip/internal/adapters/redis"
	storage "3tcapital/ms_facturacion_afip/internal/adapters/storage/postgres"
	apphealth "3tcapital/ms_facturacion_afip/internal/application/health"
	"3tcapital/ms_facturacion_afip/internal/application/invoicing"
	appledger "3tcapital/ms_facturacion_afip/internal/application/ledger"
	"3tcapital/ms_facturacion_afip/internal/application/taxpayer"
	"3tcapital/ms_facturacion_afip/internal/core/audit"
	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/cache"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/config"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/database"
	httpclient "3tcapital/ms_facturacion_afip/internal/infrastructure/http"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/http/server"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/metrics"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
)

// Options selects which parts of the stack are built.
type Options struct {
	// Database connects Postgres, runs migrations and builds the issuance and ledger
	// services. Without it only the authority clients are available.
	Database bool
}

// App holds every wired component. Fields of parts not requested are nil.
type App struct {
	Config   config.AppConfig
	Log      *slog.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Pool  *pgxpool.Pool
	Redis *goredis.Client

	Tickets   *wsaa.TicketManager
	WSFE      *wsfe.Client
	Padron    *padron.Client
	Taxpayers *taxpayer.Service

	Store           *storage.Store
	Reconciliations *storage.Reconciliations
	Invoicing       *invoicing.Service
	Ledger          *appledger.Service
	Health          *apphealth.Service

	closers []func()
}

// New builds the stack. Unreadable credentials, an unknown issuer VAT category or an
// unreachable database are fatal; Redis is optional and only logged when down.
func New(ctx context.Context, cfg config.AppConfig, log *slog.Logger, opts Options) (*App, error) {
	a := &App{
		Config:   cfg,
		Log:      log,
		Registry: prometheus.NewRegistry(),
	}
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.New(a.Registry)

	if err := a.build(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, opts Options) error {
	cfg := a.Config
	log := a.Log

	if err := cfg.AFIP.CheckCredentials(); err != nil {
		return err
	}
	issuerCategory, err := fiscal.VatCategoryFrom(cfg.AFIP.IssuerVatCategory)
	if err != nil {
		return fmt.Errorf("invalid config: AFIP_CONDICION_IVA: %w", err)
	}

	var auditRepo audit.Repository
	if opts.Database {
		pool, err := database.NewPool(ctx, database.Config(cfg.Database))
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		a.Pool = pool
		a.closers = append(a.closers, pool.Close)
		log.Info("Database connection established", "database", cfg.Database.Database)

		if err := database.RunMigrations(ctx, pool, log); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		if cfg.Audit.Enabled {
			auditRepo = auditpg.NewRepository(pool, log)
		}
	}
	log.Info("Audit trail configuration",
		"enabled", auditRepo != nil,
		"audit_enabled_config", cfg.Audit.Enabled,
		"max_body_size", cfg.Audit.MaxBodySize,
	)

	if cfg.Redis.Enabled {
		client, err := redisadapter.NewClient(ctx, redisadapter.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Warn("Redis unavailable, using in-process ticket cache and numbering lock", "error", err)
		} else {
			a.Redis = client
			a.closers = append(a.closers, func() { _ = client.Close() })
		}
	}

	endpoints := cfg.AFIP.Endpoints()
	log.Info("Authority endpoints configured",
		"production", cfg.AFIP.Production,
		"wsaa", endpoints.WSAA,
		"wsfe", endpoints.WSFE,
		"padron", endpoints.Padron,
	)

	signer, err := wsaa.LoadSigner(cfg.AFIP.CertPath, cfg.AFIP.KeyPath)
	if err != nil {
		return fmt.Errorf("load certificate: %w", err)
	}

	var store wsaa.TicketStore = cache.NewTicketCache(time.Now)
	if a.Redis != nil {
		store = redisadapter.NewTicketStore(a.Redis, cfg.AFIP.IssuerTaxID, time.Now)
	}
	login := wsaa.NewLoginClient(a.soapClient("wsaa", auditRepo), endpoints.WSAA, signer, time.Now)
	a.Tickets = wsaa.NewTicketManager(login, store, log,
		wsaa.WithSafetyMargin(cfg.AFIP.TicketSafetyMargin),
		wsaa.WithManagerMetrics(a.Metrics),
	)

	var locker wsfe.Locker = wsfe.NewKeyedLocker()
	if a.Redis != nil {
		locker = redisadapter.NewLocker(a.Redis, cfg.AFIP.IssuerTaxID, cfg.Redis.LockTTL, log)
	}
	a.WSFE, err = wsfe.NewClient(a.soapClient("wsfe", auditRepo), wsfe.Config{
		Endpoint:    endpoints.WSFE,
		IssuerTaxID: cfg.AFIP.IssuerTaxID,
		CatalogTTL:  cfg.AFIP.CatalogTTL,
	}, a.Tickets, log, wsfe.WithLocker(locker), wsfe.WithMetrics(a.Metrics))
	if err != nil {
		return fmt.Errorf("create wsfe client: %w", err)
	}

	var registry fiscal.Registry
	if cfg.AFIP.Production {
		a.Padron, err = padron.NewClient(a.soapClient("padron", auditRepo), endpoints.Padron, cfg.AFIP.IssuerTaxID, a.Tickets)
		if err != nil {
			return fmt.Errorf("create padron client: %w", err)
		}
		registry = a.Padron
	}
	a.Taxpayers = taxpayer.NewService(registry, taxpayer.Config{
		Sandbox:  !cfg.AFIP.Production,
		CacheTTL: cfg.AFIP.RegistryCacheTTL,
	}, log, a.Metrics, time.Now)

	if a.Pool != nil {
		a.Store = storage.NewStore(a.Pool, log)
		a.Reconciliations = storage.NewReconciliations(a.Pool, log)
		a.Invoicing = invoicing.NewService(a.WSFE, a.Taxpayers, a.Store, a.Reconciliations, invoicing.Issuer{
			TaxID:             cfg.AFIP.IssuerTaxID,
			Name:              cfg.AFIP.IssuerName,
			VatCategory:       issuerCategory,
			DefaultSalesPoint: cfg.AFIP.DefaultSalesPoint,
		}, log,
			invoicing.WithMetrics(a.Metrics),
			invoicing.WithOperationTimeout(cfg.AFIP.OperationTimeout),
		)
		a.Ledger = appledger.NewService(a.Store, log, time.Now)
	}

	a.Health = apphealth.NewService(apphealth.Metadata{
		Service:     cfg.App.Name,
		Version:     cfg.App.Version,
		Environment: cfg.App.Environment,
	}, a.probes()...)
	return nil
}

// soapClient builds the audited transport of one authority service with its own
// breaker, so an outage of the registry does not open the invoicing breaker.
func (a *App) soapClient(service string, auditRepo audit.Repository) *soap.Client {
	traced := httpclient.NewTracedClient(httpclient.TracedClientConfig{
		Timeout:         a.Config.AFIP.RequestTimeout,
		AuditEnabled:    auditRepo != nil,
		LogRequestBody:  a.Config.Audit.LogRequestBody,
		LogResponseBody: a.Config.Audit.LogResponseBody,
		MaxBodySize:     a.Config.Audit.MaxBodySize,
	}, a.Log, auditRepo, service)

	return soap.NewClient(traced, a.Log.With("service", service),
		soap.WithBreaker(soap.NewBreaker(a.Config.AFIP.BreakerMaxFailures, a.Config.AFIP.BreakerCooldown, time.Now)),
		soap.WithMetrics(a.Metrics),
	)
}

func (a *App) probes() []apphealth.Probe {
	var probes []apphealth.Probe
	if a.Pool != nil {
		probes = append(probes, apphealth.Probe{Name: "database", Critical: true, Check: a.Pool.Ping})
	}
	if a.Redis != nil {
		probes = append(probes, apphealth.Probe{Name: "redis", Check: func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		}})
	}
	probes = append(probes, apphealth.Probe{Name: "wsfe", Check: func(ctx context.Context) error {
		status, err := a.WSFE.Dummy(ctx)
		if err != nil {
			return err
		}
		if !status.Healthy() {
			return fmt.Errorf("app=%s db=%s auth=%s", status.AppServer, status.DbServer, status.AuthServer)
		}
		return nil
	}})
	return probes
}

// Server builds the operations server over the wired components.
func (a *App) Server() (*server.Server, error) {
	opts := server.Options{
		Config:         a.Config,
		Logger:         a.Log,
		HealthHandler:  healthhttp.NewHandler(a.Health),
		MetricsHandler: promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}),
	}
	if a.Reconciliations != nil {
		opts.Reconciliations = a.Reconciliations
	}
	return server.New(opts)
}

// Serve runs the operations server until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	if a.Invoicing == nil {
		return errors.New("database connection required")
	}
	srv, err := a.Server()
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	defer srv.Close()

	a.Log.Info("Starting HTTP server", "port", a.Config.HTTP.Port)
	return srv.Run(ctx)
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
