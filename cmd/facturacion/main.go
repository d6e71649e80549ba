package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"3tcapital/ms_facturacion_afip/internal/app"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/config"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "service stopped: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.App.Name, cfg.Log.Level, cfg.App.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, app.Options{Database: true})
	if err != nil {
		return err
	}
	defer a.Close()

	log.Info("Issuer configured",
		"cuit", cfg.AFIP.IssuerTaxID,
		"vat_category", cfg.AFIP.IssuerVatCategory,
		"default_sales_point", cfg.AFIP.DefaultSalesPoint,
		"redis", a.Redis != nil,
	)

	return a.Serve(ctx)
}
