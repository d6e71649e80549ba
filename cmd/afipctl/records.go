package main

import (
	"errors"
	"fmt"

	"3tcapital/ms_facturacion_afip/internal/app"
	"3tcapital/ms_facturacion_afip/internal/core/fiscal"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newReconciliationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconciliations",
		Short: "Inspect documents approved by the authority but not recorded locally",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List pending reconciliations, oldest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open(cmd, app.Options{Database: true})
			if err != nil {
				return err
			}
			defer a.Close()

			pending, err := a.Reconciliations.Pending(cmd.Context())
			if err != nil {
				return err
			}
			if pending == nil {
				pending = []fiscal.Reconciliation{}
			}
			return printJSON(cmd.OutOrStdout(), pending)
		},
	}

	resolve := &cobra.Command{
		Use:   "resolve <cae>",
		Short: "Mark a reconciliation as handled once the document was recorded by hand",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd, app.Options{Database: true})
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Reconciliations.Resolve(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, fiscal.ErrNotFound) {
					return fmt.Errorf("no pending reconciliation with CAE %s", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reconciliation %s resolved\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, resolve)
	return cmd
}

func newLedgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Verify and repair counterparty current accounts",
	}

	verify := &cobra.Command{
		Use:   "verify <counterparty-id>",
		Short: "Recompute running balances and report mismatches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			counterpartyID, err := parseID("counterparty", args[0])
			if err != nil {
				return err
			}
			a, err := open(cmd, app.Options{Database: true})
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Ledger.Verify(cmd.Context(), counterpartyID)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.Consistent() {
				return fmt.Errorf("%d running balance mismatches", len(report.Mismatches))
			}
			return nil
		},
	}

	void := &cobra.Command{
		Use:   "void <counterparty-id> <movement-id>",
		Short: "Void a movement and recompute the later balances",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			counterpartyID, err := parseID("counterparty", args[0])
			if err != nil {
				return err
			}
			movementID, err := parseID("movement", args[1])
			if err != nil {
				return err
			}
			a, err := open(cmd, app.Options{Database: true})
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Ledger.VoidMovement(cmd.Context(), counterpartyID, movementID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}

	cmd.AddCommand(verify, void)
	return cmd
}

func parseID(what, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s id %q", what, raw)
	}
	return id, nil
}
