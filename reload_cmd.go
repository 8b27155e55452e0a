package main

import (
	"github.com/spf13/cobra"
)

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "reload",
		Short:       "Ask the running daemon to re-read its config file",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := sendSIGHUP(pidPath(cc.StateDir)); err != nil {
				return err
			}

			statusf(cc.Quiet, "Notified daemon to reload config\n")

			return nil
		},
	}
}
