package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/specsync/pkg/client"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds minimal global/persistent flags for CLI commands
type GlobalFlags struct {
	ConfigPath string
}

// buildRoot creates the root command with all subcommands attached
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	startFlags := &StartFlags{}
	diffFlags := &DiffFlags{}
	apiFlags := &APIFlags{}
	historyFlags := &HistoryFlags{}
	restartFlags := &RestartFlags{}
	initFlags := &InitFlags{}

	specsyncCommand := command{out: os.Stdout}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createInitCommand(specsyncCommand, globalFlags, initFlags),
		createStartCommand(specsyncCommand, globalFlags, startFlags),
		createValidateCommand(specsyncCommand, globalFlags),
		createDiffCommand(specsyncCommand, diffFlags),
		createUnlinkCommand(specsyncCommand, globalFlags),
		createStatusCommand(specsyncCommand, apiFlags),
		createHistoryCommand(specsyncCommand, apiFlags, historyFlags),
		createSyncCommand(specsyncCommand, apiFlags),
		createRestartCommand(specsyncCommand, apiFlags, restartFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "specsync",
		Short: "Keep a generated API client in step with its backend",
		Long: `Specsync runs a backend (and optionally a frontend) and regenerates the
typed API client whenever the backend's OpenAPI contract changes in a way
that matters.

Examples:
  specsync start                          # uses ./specsync.json
  specsync start --config=dev/specsync.json
  specsync diff old.json new.json --strategy=conservative
  specsync status --api-url=http://127.0.0.1:4545`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "specsync.json", "path to JSON config file")

	return root
}

// createInitCommand creates the init subcommand
func createInitCommand(c command, global *GlobalFlags, f *InitFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration",
		Long: `Write a starter configuration for a backend stack and an optional frontend
to the --config path.

Examples:
  specsync init --backend=fastapi --frontend=vite --package=@todo/api
  specsync init --backend=express --config=dev/specsync.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Init(InitFlags{
				ConfigPath:  global.ConfigPath,
				Backend:     f.Backend,
				Frontend:    f.Frontend,
				PackageName: f.PackageName,
				Force:       f.Force,
			})
		},
	}
	cmd.Flags().StringVar(&f.Backend, "backend", "fastapi", "backend stack (express, fastapi, generic, nest, spring)")
	cmd.Flags().StringVar(&f.Frontend, "frontend", "", "frontend stack (next, vite); empty for none")
	cmd.Flags().StringVar(&f.PackageName, "package", "", "generated client package name (default @app/api)")
	cmd.Flags().BoolVar(&f.Force, "force", false, "overwrite an existing file")
	return cmd
}

// createStartCommand creates the start subcommand
func createStartCommand(c command, global *GlobalFlags, f *StartFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the development session",
		Long: `Start the backend, then the frontend, then the sync pipeline, and keep
running until interrupted (SIGINT or SIGTERM). Lifecycle events are printed
to stdout; logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Start(cmd.Context(), StartFlags{
				ConfigPath:   global.ConfigPath,
				StatusListen: f.StatusListen,
				Strategy:     f.Strategy,
				StopTimeout:  f.StopTimeout,
				PIDFile:      f.PIDFile,
			})
		},
	}
	cmd.Flags().StringVar(&f.StatusListen, "status-listen", "", "override status.listen (e.g. 127.0.0.1:4545)")
	cmd.Flags().StringVar(&f.Strategy, "strategy", "", "override sync.strategy (smart, aggressive, conservative)")
	cmd.Flags().StringVar(&f.PIDFile, "pid-file", "", "session pid file (default .specsync.pid next to the config)")
	cmd.Flags().DurationVar(&f.StopTimeout, "stop-timeout", 30*time.Second, "upper bound for the shutdown sequence")
	return cmd
}

// createValidateCommand creates the validate subcommand
func createValidateCommand(c command, global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Validate(global.ConfigPath)
		},
	}
}

// createDiffCommand creates the diff subcommand
func createDiffCommand(c command, f *DiffFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff <old.json> <new.json>",
		Short: "Classify the changes between two contract documents",
		Long: `Compare two OpenAPI documents, print the change records and whether the
selected strategy would regenerate the client.

Examples:
  specsync diff openapi.old.json openapi.json
  specsync diff a.json b.json --strategy=aggressive --json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Diff(DiffFlags{Old: args[0], New: args[1], Strategy: f.Strategy, JSON: f.JSON})
		},
	}
	cmd.Flags().StringVar(&f.Strategy, "strategy", "smart", "smart, aggressive or conservative")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print the result as JSON")
	return cmd
}

// createUnlinkCommand creates the unlink subcommand
func createUnlinkCommand(c command, global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "unlink",
		Short: "Remove the linked client package from the frontend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Unlink(cmd.Context(), global.ConfigPath)
		},
	}
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", client.DefaultBaseURL, "status server URL of a running session")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
}

// createStatusCommand creates the status subcommand
func createStatusCommand(c command, f *APIFlags) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show service and sync status of a running session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(cmd.Context(), *f, name)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "only this service")
	addAPIFlags(cmd, f)
	return cmd
}

// createHistoryCommand creates the history subcommand
func createHistoryCommand(c command, f *APIFlags, hf *HistoryFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent sync runs of a running session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.History(cmd.Context(), *f, *hf)
		},
	}
	cmd.Flags().IntVar(&hf.Limit, "limit", 20, "number of runs")
	addAPIFlags(cmd, f)
	return cmd
}

// createSyncCommand creates the sync subcommand
func createSyncCommand(c command, f *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Trigger one synchronization in a running session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Sync(cmd.Context(), *f)
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

// createRestartCommand creates the restart subcommand
func createRestartCommand(c command, f *APIFlags, rf *RestartFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart a service of a running session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Restart(cmd.Context(), *f, rf.Name)
		},
	}
	cmd.Flags().StringVar(&rf.Name, "name", "", "service name (required)")
	addAPIFlags(cmd, f)
	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
	return cmd
}
