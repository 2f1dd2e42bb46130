// Package cli wires the crmcore commands onto the lifecycle service.
package cli

import (
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	EnvFile string
	Verbose bool
	Format  string // "json" | "text"

	lookup func(string) (string, bool)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command reading configuration from the
// process environment.
func NewRootCommand() *cobra.Command {
	return newRootCommand(os.LookupEnv)
}

func newRootCommand(lookup func(string) (string, bool)) *cobra.Command {
	opts := &RootOptions{lookup: lookup}

	cmd := &cobra.Command{
		Use:   "crmcore",
		Short: "CRM record lifecycle engine",
		Long: `Operate the CRM store: upsert and delete records with cascades, run
lead, deal, quote and payment workflows, export collections and sync with
the remote datastore.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file applied before reading CRMCORE_* variables")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewPutCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewNoteCommand(opts))
	cmd.AddCommand(NewConvertLeadCommand(opts))
	cmd.AddCommand(NewLeadToDealCommand(opts))
	cmd.AddCommand(NewCloseDealCommand(opts))
	cmd.AddCommand(NewQuoteToInvoiceCommand(opts))
	cmd.AddCommand(NewAcceptQuoteCommand(opts))
	cmd.AddCommand(NewPayCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewBlueprintsCommand(opts))
	cmd.AddCommand(NewIndustryCommand(opts))
	cmd.AddCommand(NewRoleCommand(opts))
	cmd.AddCommand(NewNumberingCommand(opts))
	cmd.AddCommand(NewEntitiesCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))

	return cmd
}
