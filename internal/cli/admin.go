package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"crmcore/internal/entitymodel"
	"crmcore/pkg/domain"
)

type blueprintSummary struct {
	Industry       string   `json:"industry"`
	Name           string   `json:"name"`
	Active         bool     `json:"active"`
	Pipeline       string   `json:"pipeline"`
	Stages         []string `json:"stages"`
	CustomEntities []string `json:"customEntities,omitempty"`
}

// NewBlueprintsCommand creates the blueprints command.
func NewBlueprintsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "blueprints",
		Short: "List the industry blueprints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(rootOpts, cmd, func(_ context.Context, rt *runtime, out *OutputFormatter) error {
				active := rt.svc.GetActiveBlueprint().Industry
				reg := rt.svc.Blueprints()
				var list []blueprintSummary
				for _, industry := range reg.Industries() {
					bp, _ := reg.Get(industry)
					sum := blueprintSummary{Industry: bp.Industry, Name: bp.Name, Active: bp.Industry == active}
					if pipeline, ok := bp.SalesPipeline(); ok {
						sum.Pipeline = pipeline.ID
						for _, st := range pipeline.Stages {
							sum.Stages = append(sum.Stages, st.Name)
						}
					}
					for _, def := range bp.CustomEntities {
						sum.CustomEntities = append(sum.CustomEntities, def.Name)
					}
					list = append(list, sum)
				}
				return out.Emit(list, func(w io.Writer) {
					for _, sum := range list {
						marker := " "
						if sum.Active {
							marker = "*"
						}
						fmt.Fprintf(w, "%s %s\t%s\t%d stages\n", marker, sum.Industry, sum.Name, len(sum.Stages))
					}
				})
			})
		},
	}
}

// NewIndustryCommand creates the industry command.
func NewIndustryCommand(rootOpts *RootOptions) *cobra.Command {
	return idCommand(rootOpts, "industry <industry>", "Switch the active industry blueprint",
		func(ctx context.Context, rt *runtime, industry string, out *OutputFormatter) error {
			res := rt.svc.SetActiveIndustry(ctx, industry)
			return emitOutcome(out, res, res.Success, res.Error, "active industry "+industry)
		})
}

// NewRoleCommand creates the role command.
func NewRoleCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "role <user-id> <role>",
		Short: "Change a user's role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(rootOpts, cmd, func(ctx context.Context, rt *runtime, out *OutputFormatter) error {
				res := rt.svc.UpdateUserRole(ctx, args[0], domain.Role(args[1]))
				return emitOutcome(out, res, res.Success, res.Error, args[0]+" is now "+args[1])
			})
		},
	}
}

// NewNumberingCommand creates the numbering command.
func NewNumberingCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "numbering <kind> <prefix> <next>",
		Short: "Configure a document numbering series",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, ok := domain.ParseDocumentKind(args[0])
			if !ok {
				return rejected(fmt.Sprintf("unknown document kind %q", args[0]))
			}
			next, err := strconv.Atoi(args[2])
			if err != nil {
				return rejected(fmt.Sprintf("invalid next number %q", args[2]))
			}
			return withRuntime(rootOpts, cmd, func(ctx context.Context, rt *runtime, out *OutputFormatter) error {
				res := rt.svc.ConfigureNumbering(ctx, kind, args[1], next)
				return emitOutcome(out, res, res.Success, res.Error, fmt.Sprintf("%s next %s%d", kind, args[1], next))
			})
		},
	}
}

// NewEntitiesCommand creates the entities command. It needs no store.
func NewEntitiesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "entities",
		Short: "Describe the record collections and the model version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rootOpts.Format == "json" {
				return newFormatter(rootOpts, cmd).Emit(entitymodel.Describe(), nil)
			}
			data, err := entitymodel.YAML()
			if err != nil {
				return commandError("render entity model", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
