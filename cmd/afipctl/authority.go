package main

import (
	"fmt"
	"strconv"
	"time"

	"3tcapital/ms_facturacion_afip/internal/adapters/afip/wsfe"
	"3tcapital/ms_facturacion_afip/internal/app"
	"3tcapital/ms_facturacion_afip/internal/application/inquiry"
	"3tcapital/ms_facturacion_afip/internal/core/fiscal"

	"github.com/spf13/cobra"
)

func newTicketCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ticket [service]",
		Short: "Obtain (or reuse) the access ticket of a service",
		Long: `Obtain the WSAA access ticket of a service, reusing the cached one while it is
outside the safety margin. Token and sign are never printed.`,
		Example: `  afipctl ticket
  afipctl ticket ws_sr_padron_a5`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service := fiscal.ServiceInvoicing
			if len(args) == 1 {
				service = args[0]
			}
			a, err := open(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			ticket, err := a.Tickets.GetTicket(cmd.Context(), service)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"service":   ticket.Service,
				"issuedAt":  ticket.IssuedAt.Format(time.RFC3339),
				"expiresAt": ticket.ExpiresAt.Format(time.RFC3339),
			})
		},
	}
}

func newLastNumberCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "last-number",
		Short:   "Print the last number the authority assigned",
		Example: `  afipctl last-number --kind 6 --sales-point 3`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			salesPoint, _ := cmd.Flags().GetInt("sales-point")
			kind, err := kindFlag(cmd)
			if err != nil {
				return err
			}
			a, err := open(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			if salesPoint == 0 {
				salesPoint = a.Config.AFIP.DefaultSalesPoint
			}
			number, err := a.WSFE.LastAuthorizedNumber(cmd.Context(), salesPoint, kind)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"kind":           kind.String(),
				"salesPoint":     salesPoint,
				"number":         number,
				"officialNumber": fiscal.FormatNumber(salesPoint, number),
			})
		},
	}
	cmd.Flags().Int("sales-point", 0, "Sales point (default AFIP_PUNTO_VENTA)")
	cmd.Flags().Int("kind", 0, "Document kind code, e.g. 1, 6, 11")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func newCatalogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "catalogs {sales-points|kinds|vat-rates|vat-categories}",
		Short:     "List authority parameter tables",
		Example:   `  afipctl catalogs vat-categories --class A`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"sales-points", "kinds", "vat-rates", "vat-categories"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cobra.OnlyValidArgs(cmd, args); err != nil {
				return err
			}
			a, err := open(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			var out any
			switch args[0] {
			case "sales-points":
				out, err = a.WSFE.ListSalesPoints(ctx)
			case "kinds":
				out, err = a.WSFE.ListDocumentKinds(ctx)
			case "vat-rates":
				out, err = a.WSFE.ListVatRates(ctx)
			case "vat-categories":
				class, _ := cmd.Flags().GetString("class")
				out, err = a.WSFE.ListVatCategories(ctx, class)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().String("class", "", "Document class (A, B, C) for vat-categories")
	return cmd
}

func newDummyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dummy",
		Short: "Check the invoicing service infrastructure (FEDummy)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			status, err := a.WSFE.Dummy(cmd.Context())
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), status); err != nil {
				return err
			}
			if !status.Healthy() {
				return fmt.Errorf("authority reports degraded infrastructure")
			}
			return nil
		},
	}
}

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <cuit>",
		Short: "Resolve a taxpayer and the invoice kind to issue them",
		Long: `Resolve a taxpayer's VAT status through the Padron A5 registry (production) or
the prefix heuristic (sandbox, or when the registry fails) and derive the invoice kind.`,
		Example: `  afipctl resolve 20-12345678-6`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			profile, err := a.Taxpayers.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			issuer, err := fiscal.VatCategoryFrom(a.Config.AFIP.IssuerVatCategory)
			if err != nil {
				return err
			}
			out := map[string]any{"profile": profile}
			if kind, err := fiscal.KindFor(issuer, profile.VatCategory); err == nil {
				out["kind"] = kind.String()
				out["kindCode"] = int(kind)
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <number> [to]",
		Short: "Fetch authorized documents from the authority",
		Long: `Fetch one authorized document (FECompConsultar), or every number of an inclusive
range with a bounded number of concurrent requests.`,
		Example: `  afipctl query 120 --kind 6
  afipctl query 100 180 --kind 6 --sales-point 3 --workers 8`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to, err := numberRange(args)
			if err != nil {
				return err
			}
			kind, err := kindFlag(cmd)
			if err != nil {
				return err
			}
			salesPoint, _ := cmd.Flags().GetInt("sales-point")
			workers, _ := cmd.Flags().GetInt("workers")

			a, err := open(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			if salesPoint == 0 {
				salesPoint = a.Config.AFIP.DefaultSalesPoint
			}
			if from == to {
				record, err := a.WSFE.QueryDocument(cmd.Context(), salesPoint, kind, from)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), record)
			}

			report, err := inquiry.QueryRange[*wsfe.DocumentRecord](cmd.Context(), a.WSFE, salesPoint, kind, from, to, workers)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rangeView(report))
		},
	}
	cmd.Flags().Int("sales-point", 0, "Sales point (default AFIP_PUNTO_VENTA)")
	cmd.Flags().Int("kind", 0, "Document kind code")
	cmd.Flags().Int("workers", 4, "Concurrent requests for a range")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func kindFlag(cmd *cobra.Command) (fiscal.DocumentKind, error) {
	code, _ := cmd.Flags().GetInt("kind")
	kind := fiscal.DocumentKind(code)
	if !kind.Valid() {
		return 0, fmt.Errorf("unsupported document kind %d", code)
	}
	return kind, nil
}

func numberRange(args []string) (from, to int64, err error) {
	from, err = strconv.ParseInt(args[0], 10, 64)
	if err != nil || from <= 0 {
		return 0, 0, fmt.Errorf("invalid number %q", args[0])
	}
	to = from
	if len(args) == 2 {
		to, err = strconv.ParseInt(args[1], 10, 64)
		if err != nil || to < from {
			return 0, 0, fmt.Errorf("invalid range end %q", args[1])
		}
	}
	return from, to, nil
}

type rangeFailure struct {
	Number int64  `json:"number"`
	Error  string `json:"error"`
}

type rangeReport struct {
	Found      []*wsfe.DocumentRecord `json:"found"`
	Missing    []int64                `json:"missing"`
	Failed     []rangeFailure         `json:"failed"`
	Total      int                    `json:"total"`
	DurationMs int64                  `json:"durationMs"`
}

func rangeView(r *inquiry.Report[*wsfe.DocumentRecord]) rangeReport {
	out := rangeReport{
		Found:      make([]*wsfe.DocumentRecord, 0, len(r.Found)),
		Missing:    r.Missing,
		Failed:     make([]rangeFailure, 0, len(r.Failed)),
		Total:      r.Stats.Total,
		DurationMs: r.Stats.Duration.Milliseconds(),
	}
	if out.Missing == nil {
		out.Missing = []int64{}
	}
	for _, f := range r.Found {
		out.Found = append(out.Found, f.Record)
	}
	for _, f := range r.Failed {
		out.Failed = append(out.Failed, rangeFailure{Number: f.Number, Error: f.Err.Error()})
	}
	return out
}
