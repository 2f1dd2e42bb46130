package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"crmcore/internal/core"
)

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show pipeline, revenue and receivables aggregates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(rootOpts, cmd, func(ctx context.Context, rt *runtime, out *OutputFormatter) error {
				st, err := rt.svc.Stats(ctx)
				if err != nil {
					return commandError("stats", err)
				}
				return out.Emit(st, func(w io.Writer) {
					fmt.Fprintf(w, "open deals\t%d\n", st.OpenDeals)
					fmt.Fprintf(w, "pipeline\t%s\n", st.PipelineValue.StringFixed(2))
					fmt.Fprintf(w, "weighted\t%s\n", st.WeightedPipeline.StringFixed(2))
					fmt.Fprintf(w, "won\t%d (%s)\n", st.WonDeals, st.WonValue.StringFixed(2))
					fmt.Fprintf(w, "lost\t%d\n", st.LostDeals)
					fmt.Fprintf(w, "win rate\t%.1f%%\n", st.WinRate*100)
					fmt.Fprintf(w, "mrr\t%s\n", st.MRR.StringFixed(2))
					fmt.Fprintf(w, "ar outstanding\t%s\n", st.AROutstanding.StringFixed(2))
					fmt.Fprintf(w, "overdue invoices\t%d\n", st.OverdueInvoices)
				})
			})
		},
	}
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export <type>",
		Short: "Write the visible records of a collection to the blob store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := entityArg(args[0])
			if err != nil {
				return err
			}
			return withRuntime(rootOpts, cmd, func(ctx context.Context, rt *runtime, out *OutputFormatter) error {
				info, err := rt.svc.ExportRecords(ctx, t, strings.ToLower(format))
				if err != nil {
					return rejected(err.Error())
				}
				return out.Emit(info, func(w io.Writer) {
					fmt.Fprintf(w, "%s\t%d bytes\t%s records\n", info.Key, info.Size, info.Metadata["records"])
				})
			})
		},
	}
	cmd.Flags().StringVar(&format, "as", core.ExportJSON, "export format (json|csv)")
	return cmd
}

type syncSummary struct {
	Hydrate core.HydrateReport `json:"hydrate"`
	Drain   core.DrainReport   `json:"drain"`
	Pending int                `json:"pending"`
	Dead    int                `json:"deadLetters"`
	Remote  bool               `json:"remote"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Hydrate from the snapshot and remote and report sync state",
		Long: `Load the local snapshot, overlay the remote tables, write the merged state
back to the snapshot and drain any queued remote operations.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(rootOpts, cmd, func(ctx context.Context, rt *runtime, out *OutputFormatter) error {
				sum := syncSummary{Hydrate: rt.hydrate}
				if ob := rt.svc.Outbox(); ob != nil {
					sum.Remote = true
					sum.Drain = rt.flush(ctx)
					sum.Pending = len(ob.Pending())
					sum.Dead = len(ob.DeadLetters())
				}
				if err := out.Emit(sum, func(w io.Writer) {
					fmt.Fprintf(w, "local buckets\t%d\n", sum.Hydrate.LocalBuckets)
					if !sum.Remote {
						fmt.Fprintln(w, "remote\tnot configured")
						return
					}
					fmt.Fprintf(w, "restored ops\t%d\n", sum.Hydrate.RestoredOps)
					fmt.Fprintf(w, "remote tables\t%s\n", strings.Join(sum.Hydrate.RemoteTables, ","))
					if sum.Hydrate.RemoteError != "" {
						fmt.Fprintf(w, "remote error\t%s\n", sum.Hydrate.RemoteError)
					}
					fmt.Fprintf(w, "applied\t%d\npending\t%d\ndead letters\t%d\n", sum.Drain.Applied, sum.Pending, sum.Dead)
				}); err != nil {
					return err
				}
				if sum.Hydrate.RemoteError != "" {
					return rejected("remote unreachable")
				}
				return nil
			})
		},
	}
}
