package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/qliqsoft/adbridge/internal/store"
)

func newResetCmd() *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:         "reset",
		Short:       "Wipe the local sync database (resetSyncDatabase)",
		Long:        "Deletes every synced user, group, watermark, avatar, and event. Forests stay configured; the next sync recreates every row from scratch with a fresh cloud identity. Refuses to run while the daemon is active.",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if !confirm {
				return fmt.Errorf("this wipes the entire sync database; re-run with --yes to confirm")
			}

			if daemonRunning(pidPath(cc.StateDir)) {
				return fmt.Errorf("refusing to reset while adbridged run is active — stop the daemon first")
			}

			s, err := store.Open(cmd.Context(), dbPath(cc.StateDir), cc.Logger)
			if err != nil {
				return fmt.Errorf("opening sync database: %w", err)
			}
			defer s.Close()

			if err := s.ResetSyncDatabase(cmd.Context()); err != nil {
				return fmt.Errorf("resetting sync database: %w", err)
			}

			statusf(cc.Quiet, "Sync database reset\n")

			return nil
		},
	}

	cmd.Flags().BoolVar(&confirm, "yes", false, "confirm the destructive reset")

	return cmd
}

// daemonRunning reports whether the PID file names a live process.
func daemonRunning(path string) bool {
	pid, err := readPIDFile(path)
	if err != nil {
		return false
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return proc.Signal(syscall.Signal(0)) == nil
}
