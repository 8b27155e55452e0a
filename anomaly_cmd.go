package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newAnomalyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "anomaly",
		Short: "Inspect or clear the mass-deletion anomaly guard",
	}

	cmd.AddCommand(newAnomalyClearCmd())

	return cmd
}

func newAnomalyClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "clear",
		Short:       "Clear the anomaly flag on the running daemon and resume automatic sync",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := os.MkdirAll(triggerDir(cc.StateDir), pidDirPermissions); err != nil {
				return fmt.Errorf("creating trigger directory: %w", err)
			}

			if err := os.WriteFile(clearAnomalyPath(cc.StateDir), nil, pidFilePermissions); err != nil {
				return fmt.Errorf("writing anomaly-clear trigger: %w", err)
			}

			if err := sendSIGHUP(pidPath(cc.StateDir)); err != nil {
				return err
			}

			statusf(cc.Quiet, "Requested anomaly flag clear\n")

			return nil
		},
	}
}
