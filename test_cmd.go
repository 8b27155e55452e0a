package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qliqsoft/adbridge/internal/config"
	"github.com/qliqsoft/adbridge/internal/directory"
	"github.com/qliqsoft/adbridge/internal/engine"
	"github.com/qliqsoft/adbridge/internal/forest"
	"github.com/qliqsoft/adbridge/internal/store"
)

// newTestCmd groups the two read-only diagnostic probes of spec §6 —
// testAdminCredentials and testMainGroup — that an operator runs while
// hand-editing a forest's config entry, before trusting it to a running
// daemon. Both build their own short-lived Monitor (store access included
// only because NewMonitor wants one; neither probe reads or writes it).
func newTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Probe a forest's reachability and sync-group resolution",
	}

	cmd.AddCommand(newTestCredentialsCmd())
	cmd.AddCommand(newTestMainGroupCmd())

	return cmd
}

func forestByGUID(cfg *config.Config, guid string) (forest.Forest, error) {
	for _, f := range cfg.ForestList() {
		if f.ObjectGUID == guid {
			return f, nil
		}
	}

	return forest.Forest{}, fmt.Errorf("no forest %q in config", guid)
}

func buildProbeMonitor(cmd *cobra.Command, cc *CLIContext) (*engine.Monitor, *config.Config, error) {
	cfg, err := config.Load(cc.ConfigPath, cc.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	s, err := store.Open(cmd.Context(), dbPath(cc.StateDir), cc.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("opening sync database: %w", err)
	}

	dirClient := directory.NewClient(nil, cc.Logger)
	mgr := forest.NewManager(s, dirClient, cc.Logger)
	cfgHolder := config.NewHolder(cfg, cc.ConfigPath)

	return engine.NewMonitor(s, dirClient, nil, dirClient, mgr, cfgHolder, cc.Logger), cfg, nil
}

func newTestCredentialsCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "credentials <forest-guid>",
		Short:       "testAdminCredentials: probe every controller of a forest until one accepts the configured credentials",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			mon, cfg, err := buildProbeMonitor(cmd, cc)
			if err != nil {
				return err
			}

			f, err := forestByGUID(cfg, args[0])
			if err != nil {
				return err
			}

			result := mon.TestAdminCredentials(cmd.Context(), f)
			if !result.OK {
				return fmt.Errorf("credentials rejected: %w", result.Err)
			}

			statusf(cc.Quiet, "OK — reachable via %s\n", result.DNSName)

			return nil
		},
	}
}

func newTestMainGroupCmd() *cobra.Command {
	var pageSize int

	cmd := &cobra.Command{
		Use:         "main-group <forest-guid>",
		Short:       "testMainGroup: resolve the forest's configured sync group and stream matches",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			mon, cfg, err := buildProbeMonitor(cmd, cc)
			if err != nil {
				return err
			}

			f, err := forestByGUID(cfg, args[0])
			if err != nil {
				return err
			}

			result := mon.TestMainGroup(cmd.Context(), f, pageSize, func(dn string) {
				statusf(cc.Quiet, "  %s\n", dn)
			})

			if !result.OK {
				return fmt.Errorf("%s", result.Message)
			}

			statusf(cc.Quiet, "OK — %d match(es)\n", len(result.Sample))

			return nil
		},
	}

	cmd.Flags().IntVar(&pageSize, "page-size", 500, "LDAP search page size")

	return cmd
}
