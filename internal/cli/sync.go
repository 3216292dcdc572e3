package cli

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tansive/catalogsync/internal/metrics"
	"github.com/tansive/catalogsync/internal/syncer"
)

func newSyncCmd() *cobra.Command {
	var (
		stages      []string
		metricsFile string
	)
	cmd := &cobra.Command{
		Use:   "sync [flags]",
		Short: "Synchronize the orchestrator state into the catalog",
		Long: `Run the sync stages in order: applications, environments, modules, graph and
resources. Every entity is upserted with merge semantics, so running sync again
is safe. A failing stage ends the run; stages that already completed stay written.

Examples:
  # Run every stage
  catalogsync sync

  # Run only the resource graph stage and write metrics for node-exporter
  catalogsync sync --stage graph --metrics-file /var/lib/node_exporter/catalogsync.prom`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(stages) == 0 {
				stages = cfg.Sync.Stages
			}
			opts := syncer.Options{MaxConcurrency: cfg.Sync.MaxConcurrency}
			for _, s := range stages {
				st, err := syncer.ParseStage(s)
				if err != nil {
					return err
				}
				opts.Stages = append(opts.Stages, st)
			}

			o := syncer.New(newSourceClient(cfg), newCatalogClient(cfg), opts)
			report, runErr := o.Run(cmd.Context())

			if metricsFile != "" {
				if err := metrics.WriteTextfile(metricsFile); err != nil {
					log.Error().Err(err).Str("path", metricsFile).Msg("unable to write metrics file")
				}
			}
			if runErr != nil {
				return runErr
			}
			printReport(cmd, report)
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&stages, "stage", "s", nil, "Stage to run, may be repeated (applications, environments, modules, graph, resources)")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write prometheus metrics to this file after the run")
	return cmd
}

func printReport(cmd *cobra.Command, report *syncer.Report) {
	out := cmd.OutOrStdout()
	if jsonOutput {
		upserts := make(map[string]int)
		for _, bp := range report.Blueprints() {
			upserts[bp] = report.Upserts(bp)
		}
		printJSON(out, map[string]any{
			"run_id":   report.RunID,
			"duration": report.Duration.String(),
			"upserts":  upserts,
		})
		return
	}
	okLabel.Fprintf(out, "Sync completed")
	fmt.Fprintf(out, " in %s (run %s)\n", report.Duration.Round(time.Millisecond), report.RunID)
	for _, bp := range report.Blueprints() {
		fmt.Fprintf(out, "  %-26s %d\n", bp, report.Upserts(bp))
	}
}
