package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/tansive/catalogsync/internal/catalog"
	"github.com/tansive/catalogsync/internal/common/httpclient"
)

func newBlueprintsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blueprints",
		Short: "Manage the catalog blueprints used by sync",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "setup",
		Short: "Create or update every blueprint sync writes to",
		Long: `Create the blueprints for applications, environments, workloads, resource graph
nodes and resources. Existing blueprints are updated in place.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			defs, err := catalog.Blueprints()
			if err != nil {
				return err
			}
			cat, err := authenticatedCatalog(ctx, cfg)
			if err != nil {
				return err
			}

			var done []string
			for _, def := range defs {
				if err := cat.EnsureBlueprint(ctx, def); err != nil {
					return err
				}
				done = append(done, gjson.GetBytes(def, "identifier").String())
			}

			if jsonOutput {
				printJSON(cmd.OutOrStdout(), map[string]any{"blueprints": done})
				return nil
			}
			for _, id := range done {
				okLabel.Fprintf(cmd.OutOrStdout(), "ok ")
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	})
	cmd.AddCommand(newBlueprintsDeleteCmd())
	return cmd
}

var errNoBlueprints = errors.New("specify blueprint identifiers or --all")

func newBlueprintsDeleteCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "delete [BLUEPRINT...] [flags]",
		Short: "Delete sync blueprints and their entities",
		Long: `Delete the entities of each blueprint, then the blueprint itself. With --all every
sync blueprint is removed, starting with the ones that point to others. Blueprints that do
not exist are ignored.

Examples:
  catalogsync blueprints delete humanitecResource
  catalogsync blueprints delete --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := args
			if all {
				ids = slices.Clone(catalog.BlueprintIDs())
				slices.Reverse(ids)
			}
			if len(ids) == 0 {
				return errNoBlueprints
			}
			for _, id := range ids {
				if err := validBlueprint(id); err != nil {
					return err
				}
			}
			ctx := cmd.Context()
			cat, err := authenticatedCatalog(ctx, cfg)
			if err != nil {
				return err
			}

			for _, id := range ids {
				if err := emptyBlueprint(ctx, cat, id); err != nil {
					return err
				}
				if err := cat.DeleteBlueprint(ctx, id); err != nil {
					return err
				}
			}

			if jsonOutput {
				printJSON(cmd.OutOrStdout(), map[string]any{"deleted": ids})
				return nil
			}
			for _, id := range ids {
				okLabel.Fprintf(cmd.OutOrStdout(), "deleted ")
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Delete every sync blueprint")
	return cmd
}

// emptyBlueprint deletes every entity of bp. A blueprint that does not exist is already empty.
func emptyBlueprint(ctx context.Context, cat *catalog.Client, bp string) error {
	ents, err := cat.ListEntities(ctx, bp)
	if httpclient.IsStatus(err, http.StatusNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(ents))
	for _, e := range ents {
		ids = append(ids, e.Identifier)
	}
	return deleteEntities(ctx, cat, bp, ids)
}
