package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tansive/catalogsync/internal/common/apperrors"
	"github.com/tansive/catalogsync/internal/common/logtrace"
	"github.com/tansive/catalogsync/internal/config"
)

var (
	// Global flags
	jsonOutput bool
	configFile string

	// loaded by the persistent pre-run of every command that needs it
	cfg *config.Config
)

var ErrAlreadyHandled = errors.New("already handled")

var okLabel = color.New(color.FgGreen)
var errorLabel = color.New(color.FgRed)

// version is stamped at build time with -ldflags "-X .../internal/cli.version=..."
var version = "v0.1.0-dev"

// newRootCmd builds the command tree. Each call returns an independent tree.
func newRootCmd() *cobra.Command {
	jsonOutput, configFile, cfg = false, "", nil

	root := &cobra.Command{
		Use:   "catalogsync [command] [flags]",
		Short: "Synchronize platform orchestrator state into a software catalog",
		Long: `catalogsync reads applications, environments, modules and resource dependency
graphs from the platform orchestrator and upserts them as entities into the
software catalog.

Credentials come from the config file, a .env file in the working directory or
the environment (HUMANITEC_TOKEN, HUMANITEC_ORG_ID, PORT_CLIENT_ID,
PORT_CLIENT_SECRET).

Examples:
  # Create the catalog blueprints once
  catalogsync blueprints setup

  # Run a full sync
  catalogsync sync

  # Sync only applications and environments
  catalogsync sync --stage applications --stage environments

  # Remove every synced resource entity
  catalogsync entities delete humanitecResource --all`,
		PersistentPreRunE: preRunHandlePersistents,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().StringVarP(&configFile, "config", "", "", "Path to configuration file (default ./"+config.DefaultConfigFile+")")
	root.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newSyncCmd())
	root.AddCommand(newBlueprintsCmd())
	root.AddCommand(newEntitiesCmd())
	return root
}

// Execute runs the command line and exits the process on failure.
// This is called by main.main().
func Execute(ctx context.Context) {
	root := newRootCmd()
	root.SilenceErrors = true // Prevent Cobra from printing the error
	root.SilenceUsage = true  // Prevent Cobra from printing usage on error

	err := root.ExecuteContext(ctx)
	if err != nil {
		if errors.Is(err, ErrAlreadyHandled) {
			os.Exit(1)
		}
		if jsonOutput {
			printJSON(os.Stdout, map[string]string{"error": errorMessage(err)})
		} else {
			errorLabel.Fprintf(os.Stderr, "Error: %s\n", errorMessage(err))
		}
		os.Exit(1)
	}
}

// errorMessage renders err with every error wrapped by the first apperrors.Error in its chain,
// so that HTTP status and response body reach the user.
func errorMessage(err error) string {
	var ae apperrors.Error
	if !errors.As(err, &ae) {
		return err.Error()
	}
	// keep any prefix added by fmt wrapping around the app error
	return strings.TrimSuffix(err.Error(), ae.Error()) + ae.ErrorAll()
}

// preRunHandlePersistents loads the configuration and sets up logging for every command
// except version, help and the bare root.
func preRunHandlePersistents(cmd *cobra.Command, args []string) error {
	if cmd == cmd.Root() {
		logtrace.InitLogger("warn", false)
		return nil
	}
	for c := cmd; c != nil; c = c.Parent() {
		if c.Name() == "version" || c.Name() == "help" {
			logtrace.InitLogger("warn", false)
			return nil
		}
	}

	loaded, err := config.Load(configFile)
	if err != nil {
		return err
	}
	cfg = loaded
	logtrace.InitLoggerWithWriter(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Console)
	return nil
}

// newVersionCmd creates and returns a new version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of catalogsync",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				printJSON(cmd.OutOrStdout(), map[string]string{"version": version})
				return
			}
			fmt.Fprintf(cmd.OutOrStdout(), "catalogsync %s\n", version)
		},
	}
}

// printJSON prints data as indented JSON to w
func printJSON(w io.Writer, data any) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(w, string(jsonData))
}
