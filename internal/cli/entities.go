package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/tansive/catalogsync/internal/catalog"
)

var errNothingToDelete = errors.New("specify entity identifiers or --all")

func newEntitiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entities",
		Short: "Inspect or remove synced catalog entities",
	}
	cmd.AddCommand(newEntitiesListCmd())
	cmd.AddCommand(newEntitiesDeleteCmd())
	return cmd
}

func validBlueprint(id string) error {
	if slices.Contains(catalog.BlueprintIDs(), id) {
		return nil
	}
	return fmt.Errorf("unknown blueprint %q, expected one of %v", id, catalog.BlueprintIDs())
}

func newEntitiesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list BLUEPRINT",
		Short: "List the entities of a blueprint",
		Long: `List the entities stored under one of the sync blueprints, as YAML or, with
--json, as JSON.

Examples:
  catalogsync entities list humanitecWorkload`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validBlueprint(args[0]); err != nil {
				return err
			}
			cat, err := authenticatedCatalog(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			ents, err := cat.ListEntities(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ents == nil {
				ents = []catalog.Entity{}
			}
			if jsonOutput {
				printJSON(cmd.OutOrStdout(), ents)
				return nil
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(ents)
		},
	}
}

func newEntitiesDeleteCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "delete BLUEPRINT [IDENTIFIER...] [flags]",
		Short: "Delete entities of a blueprint",
		Long: `Delete the given entities, or with --all every entity of the blueprint.
Identifiers that do not exist are ignored.

Examples:
  # Delete two workloads
  catalogsync entities delete humanitecWorkload api worker

  # Empty the resource blueprint
  catalogsync entities delete humanitecResource --all`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bp, ids := args[0], args[1:]
			if err := validBlueprint(bp); err != nil {
				return err
			}
			if len(ids) == 0 && !all {
				return errNothingToDelete
			}
			ctx := cmd.Context()
			cat, err := authenticatedCatalog(ctx, cfg)
			if err != nil {
				return err
			}
			if all {
				ents, err := cat.ListEntities(ctx, bp)
				if err != nil {
					return err
				}
				ids = ids[:0]
				for _, e := range ents {
					ids = append(ids, e.Identifier)
				}
			}

			if err := deleteEntities(ctx, cat, bp, ids); err != nil {
				return err
			}

			if jsonOutput {
				printJSON(cmd.OutOrStdout(), map[string]any{"blueprint": bp, "deleted": len(ids)})
				return nil
			}
			okLabel.Fprintf(cmd.OutOrStdout(), "Deleted")
			fmt.Fprintf(cmd.OutOrStdout(), " %d entities from %s\n", len(ids), bp)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Delete every entity of the blueprint")
	return cmd
}

// deleteEntities deletes ids from bp concurrently, bounded by the sync concurrency limit.
func deleteEntities(ctx context.Context, cat *catalog.Client, bp string, ids []string) error {
	g := &errgroup.Group{}
	if cfg.Sync.MaxConcurrency > 0 {
		g.SetLimit(cfg.Sync.MaxConcurrency)
	}
	for _, id := range ids {
		g.Go(func() error {
			return cat.DeleteEntity(ctx, bp, id)
		})
	}
	return g.Wait()
}
