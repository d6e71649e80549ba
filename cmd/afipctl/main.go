// Command afipctl is the operator CLI: it talks to the authority with the service's own
// credentials and inspects the local reconciliation queue and ledgers.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"3tcapital/ms_facturacion_afip/internal/app"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/config"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/logger"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "afipctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "afipctl",
		Short: "Operate the AFIP electronic invoicing integration",
		Long: `afipctl queries the AFIP web services (WSAA, WSFEv1, Padron A5) with the
configured issuer credentials and manages the local reconciliation queue.

Configuration is read from the environment (and .env) exactly like the service:
  AFIP_CUIT, AFIP_CERT_PATH, AFIP_KEY_PATH, AFIP_PRODUCTION, AFIP_PUNTO_VENTA ...`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("log-level", "warn", "Log level written to stderr")

	root.AddCommand(
		newTicketCmd(),
		newLastNumberCmd(),
		newCatalogsCmd(),
		newDummyCmd(),
		newResolveCmd(),
		newQueryCmd(),
		newReconciliationsCmd(),
		newLedgerCmd(),
	)
	return root
}

// open loads the configuration and builds the stack for one command.
func open(cmd *cobra.Command, opts app.Options) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	level, _ := cmd.Flags().GetString("log-level")
	log := logger.NewWithOptions(logger.Options{
		App:         "afipctl",
		Level:       level,
		Environment: cfg.App.Environment,
		Output:      cmd.ErrOrStderr(),
	})
	return app.New(cmd.Context(), cfg, log, opts)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
