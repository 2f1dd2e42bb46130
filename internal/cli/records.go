package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"crmcore/pkg/domain"
)

// NewPutCommand creates the put command.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "put <type>",
		Short: "Create or merge a record",
		Long: `Create a record, or merge the given fields into an existing one when the
JSON carries the id of a stored record.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := entityArg(args[0])
			if err != nil {
				return err
			}
			var rec domain.Record
			if err := json.Unmarshal([]byte(data), &rec); err != nil {
				return rejected(fmt.Sprintf("invalid --data: %v", err))
			}
			return withRuntime(rootOpts, cmd, func(ctx context.Context, rt *runtime, out *OutputFormatter) error {
				saved, ok := rt.svc.UpsertRecord(ctx, t, rec)
				if !ok {
					return rejected(fmt.Sprintf("%s upsert rejected", t))
				}
				return emitRecord(out, saved)
			})
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "{}", "record fields as a JSON object")
	return cmd
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <type> <id>",
		Short: "Show one record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := entityArg(args[0])
			if err != nil {
				return err
			}
			return withRuntime(rootOpts, cmd, func(_ context.Context, rt *runtime, out *OutputFormatter) error {
				rec, ok := rt.svc.GetRecord(t, args[1])
				if !ok || !rt.svc.CanAccessRecord(rec) {
					return rejected(fmt.Sprintf("%s %s not found", t, args[1]))
				}
				return emitRecord(out, rec)
			})
		},
	}
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var related, relatedType string
	cmd := &cobra.Command{
		Use:   "list <type>",
		Short: "List the records the actor can see",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := entityArg(args[0])
			if err != nil {
				return err
			}
			return withRuntime(rootOpts, cmd, func(_ context.Context, rt *runtime, out *OutputFormatter) error {
				recs := rt.svc.VisibleRecords(t)
				if related != "" {
					filtered := recs[:0]
					for _, rec := range recs {
						if domain.RelatesTo(rec, related, relatedType) {
							filtered = append(filtered, rec)
						}
					}
					recs = filtered
				}
				if recs == nil {
					recs = []domain.Record{}
				}
				return out.Emit(recs, func(w io.Writer) {
					for _, rec := range recs {
						fmt.Fprintf(w, "%s\t%s\n", rec.ID, summary(rec))
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&related, "related-to", "", "only records related to this parent id")
	cmd.Flags().StringVar(&relatedType, "related-type", "", "parent type for --related-to")
	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <type> <id>",
		Short: "Delete a record and cascade to its dependents",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := entityArg(args[0])
			if err != nil {
				return err
			}
			return withRuntime(rootOpts, cmd, func(ctx context.Context, rt *runtime, out *OutputFormatter) error {
				if !rt.svc.DeleteRecord(ctx, t, args[1]) {
					return rejected(fmt.Sprintf("delete %s %s rejected", t, args[1]))
				}
				return out.Emit(map[string]any{"deleted": true, "type": t, "id": args[1]}, func(w io.Writer) {
					fmt.Fprintf(w, "deleted %s %s\n", t, args[1])
				})
			})
		},
	}
}

// NewNoteCommand creates the note command.
func NewNoteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "note <type> <id> <text>",
		Short: "Attach a note to a record",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := entityArg(args[0])
			if err != nil {
				return err
			}
			return withRuntime(rootOpts, cmd, func(ctx context.Context, rt *runtime, out *OutputFormatter) error {
				note, ok := rt.svc.AddNote(ctx, t, args[1], args[2])
				if !ok {
					return rejected(fmt.Sprintf("note on %s %s rejected", t, args[1]))
				}
				return emitRecord(out, note)
			})
		},
	}
}

func emitRecord(out *OutputFormatter, rec domain.Record) error {
	return out.Emit(rec, func(w io.Writer) {
		fmt.Fprintf(w, "%s\t%s\n", rec.ID, summary(rec))
	})
}

// summary picks the most descriptive field of a record for text output.
func summary(rec domain.Record) string {
	for _, key := range []string{"name", "title", "subject", "company", "invoiceNumber", "quoteNumber", "body", "description"} {
		if v := rec.String(key); v != "" {
			if status := rec.String("status"); status != "" {
				return v + " [" + status + "]"
			}
			return v
		}
	}
	return rec.String("status")
}
