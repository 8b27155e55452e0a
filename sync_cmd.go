package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	var full, resume bool

	cmd := &cobra.Command{
		Use:         "sync",
		Short:       "Request an out-of-band sync cycle from the running daemon",
		Long:        "Writes a forceSync(isResume, isFull) trigger and signals the daemon to pick it up on its next SIGHUP.",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := os.MkdirAll(triggerDir(cc.StateDir), pidDirPermissions); err != nil {
				return fmt.Errorf("creating trigger directory: %w", err)
			}

			data, err := json.Marshal(forceSyncTrigger{Full: full, Resume: resume})
			if err != nil {
				return err
			}

			if err := os.WriteFile(forceSyncPath(cc.StateDir), data, pidFilePermissions); err != nil {
				return fmt.Errorf("writing sync trigger: %w", err)
			}

			if err := sendSIGHUP(pidPath(cc.StateDir)); err != nil {
				return err
			}

			statusf(cc.Quiet, "Requested sync (full=%v resume=%v)\n", full || resume, resume)

			return nil
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "force a full resync rather than a delta sync")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume from a persistent anomaly pause (implies --full)")

	return cmd
}
