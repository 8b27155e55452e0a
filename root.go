package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagStateDir   string
	flagJSON       bool
	flagQuiet      bool
)

// skipConfigAnnotation marks commands that open their own store/config
// (reset, status, events read state directly; run and the trigger
// commands only need the state directory, not a parsed config).
const skipConfigAnnotation = "skipConfig"

// CLIContext bundles the resolved paths every subcommand needs. Grounded
// on the teacher's root.go CLIContext — one struct built once in
// PersistentPreRunE instead of every RunE re-deriving file paths.
type CLIContext struct {
	ConfigPath string
	StateDir   string
	JSON       bool
	Quiet      bool
	Logger     *slog.Logger
}

type cliContextKey struct{}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		return nil
	}

	return cc
}

// mustCLIContext extracts the CLIContext or panics — a programmer error,
// since PersistentPreRunE always populates it before any RunE runs.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context")
	}

	return cc
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "adbridged",
		Short:   "AD/LDAP directory to SCIM cloud identity bridge",
		Long:    "adbridged mirrors Active Directory users and groups into a SCIM cloud identity provider.",
		Version: version,

		SilenceErrors: true,
		SilenceUsage:  true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := slog.LevelInfo
			if flagQuiet {
				level = slog.LevelError
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, &CLIContext{
				ConfigPath: flagConfigPath,
				StateDir:   flagStateDir,
				JSON:       flagJSON,
				Quiet:      flagQuiet,
				Logger:     logger,
			}))

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "/etc/adbridge/config.toml", "config file path")
	cmd.PersistentFlags().StringVar(&flagStateDir, "state-dir", "/var/lib/adbridge", "directory holding the sync database, PID file, and status snapshot")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newReloadCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newAnomalyCmd())
	cmd.AddCommand(newResetCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newEventsCmd())
	cmd.AddCommand(newTestCmd())

	return cmd
}

func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
