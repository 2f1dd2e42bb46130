package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"crmcore/internal/core"
)

// idCommand builds a command that takes a single record id and runs a
// workflow against it.
func idCommand(rootOpts *RootOptions, use, short string, run func(ctx context.Context, rt *runtime, id string, out *OutputFormatter) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(rootOpts, cmd, func(ctx context.Context, rt *runtime, out *OutputFormatter) error {
				return run(ctx, rt, args[0], out)
			})
		},
	}
}

// NewConvertLeadCommand creates the convert-lead command.
func NewConvertLeadCommand(rootOpts *RootOptions) *cobra.Command {
	return idCommand(rootOpts, "convert-lead <lead-id>", "Convert a lead into an account, contact and deal",
		func(ctx context.Context, rt *runtime, id string, out *OutputFormatter) error {
			res := rt.svc.ConvertLead(ctx, id)
			return emitOutcome(out, res, res.Success, res.Error,
				fmt.Sprintf("account %s\ncontact %s\ndeal %s", res.AccountID, res.ContactID, res.DealID))
		})
}

// NewLeadToDealCommand creates the lead-to-deal command.
func NewLeadToDealCommand(rootOpts *RootOptions) *cobra.Command {
	return idCommand(rootOpts, "lead-to-deal <lead-id>", "Open a deal for a lead without creating an account yet",
		func(ctx context.Context, rt *runtime, id string, out *OutputFormatter) error {
			res := rt.svc.ConvertLeadToDeal(ctx, id)
			return emitOutcome(out, res, res.Success, res.Error, "deal "+res.DealID)
		})
}

// NewCloseDealCommand creates the close-deal command.
func NewCloseDealCommand(rootOpts *RootOptions) *cobra.Command {
	return idCommand(rootOpts, "close-deal <deal-id>", "Mark a deal Closed Won, creating its account and contact",
		func(ctx context.Context, rt *runtime, id string, out *OutputFormatter) error {
			res := rt.svc.CloseDealAsWon(ctx, id)
			return emitOutcome(out, res, res.Success, res.Error,
				fmt.Sprintf("account %s\ncontact %s", res.AccountID, res.ContactID))
		})
}

// NewQuoteToInvoiceCommand creates the quote-to-invoice command.
func NewQuoteToInvoiceCommand(rootOpts *RootOptions) *cobra.Command {
	return idCommand(rootOpts, "quote-to-invoice <quote-id>", "Issue a draft invoice from a quote",
		func(ctx context.Context, rt *runtime, id string, out *OutputFormatter) error {
			res := rt.svc.ConvertQuoteToInvoice(ctx, id)
			return emitOutcome(out, res, res.Success, res.Error, "invoice "+res.InvoiceID)
		})
}

// NewAcceptQuoteCommand creates the accept-quote command.
func NewAcceptQuoteCommand(rootOpts *RootOptions) *cobra.Command {
	return idCommand(rootOpts, "accept-quote <quote-id>", "Accept a quote and supersede its siblings",
		func(ctx context.Context, rt *runtime, id string, out *OutputFormatter) error {
			res := rt.svc.AcceptQuote(ctx, id)
			return emitOutcome(out, res, res.Success, res.Error, "deal stage "+res.DealStage)
		})
}

// NewPayCommand creates the pay command.
func NewPayCommand(rootOpts *RootOptions) *cobra.Command {
	var method, note string
	cmd := &cobra.Command{
		Use:   "pay <invoice-id> <amount>",
		Short: "Record a payment against an invoice",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[1])
			if err != nil {
				return rejected(fmt.Sprintf("invalid amount %q", args[1]))
			}
			return withRuntime(rootOpts, cmd, func(ctx context.Context, rt *runtime, out *OutputFormatter) error {
				res := rt.svc.RecordPayment(ctx, args[0], core.Payment{Amount: amount, Method: method, Note: note})
				return emitOutcome(out, res, res.Success, res.Error, "remaining "+res.RemainingBalance.StringFixed(2))
			})
		},
	}
	cmd.Flags().StringVar(&method, "method", "", "payment method")
	cmd.Flags().StringVar(&note, "note", "", "payment note")
	return cmd
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <bank-transaction-id> <invoice-id>",
		Short: "Apply a bank transaction to an invoice",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(rootOpts, cmd, func(ctx context.Context, rt *runtime, out *OutputFormatter) error {
				res := rt.svc.ReconcileBankTransaction(ctx, args[0], args[1])
				return emitOutcome(out, res, res.Success, res.Error, "remaining "+res.RemainingBalance.StringFixed(2))
			})
		},
	}
}

// emitOutcome prints a workflow result and turns a rejection into an
// ExitFailure error.
func emitOutcome(out *OutputFormatter, res any, ok bool, message, text string) error {
	if err := out.Emit(res, func(w io.Writer) {
		if ok {
			fmt.Fprintln(w, text)
		}
	}); err != nil {
		return err
	}
	if !ok {
		return rejected(message)
	}
	return nil
}
