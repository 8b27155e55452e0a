package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/qliqsoft/adbridge/internal/config"
	"github.com/qliqsoft/adbridge/internal/directory"
	"github.com/qliqsoft/adbridge/internal/engine"
	"github.com/qliqsoft/adbridge/internal/forest"
	"github.com/qliqsoft/adbridge/internal/scim"
	"github.com/qliqsoft/adbridge/internal/store"
)

// statusSnapshotInterval is how often the running daemon persists
// engine.Status to disk for the `status` command to read — there is no
// RPC transport (spec's explicit Non-goal on the GUI/service link), so the
// status snapshot file is the entire getSyncStatus surface for an outside
// process.
const statusSnapshotInterval = 5 * time.Second

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "run",
		Short:       "Run the sync daemon in the foreground",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runDaemon,
	}
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger

	cfg, err := config.Load(cc.ConfigPath, logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cleanup, err := writePIDFile(pidPath(cc.StateDir))
	if err != nil {
		return err
	}
	defer cleanup()

	s, err := store.Open(cmd.Context(), dbPath(cc.StateDir), logger)
	if err != nil {
		return fmt.Errorf("opening sync database: %w", err)
	}
	defer s.Close()

	dirClient := directory.NewClient(nil, logger)
	scimClient := scim.NewClient(cfg.Cloud.BaseURL, cfg.Cloud.APIKey, nil, logger)
	mgr := forest.NewManager(s, dirClient, logger)

	cfgHolder := config.NewHolder(cfg, cc.ConfigPath)
	mon := engine.NewMonitor(s, dirClient, scimClient, dirClient, mgr, cfgHolder, logger)

	ctx := shutdownContext(cmd.Context(), logger)

	if err := os.MkdirAll(triggerDir(cc.StateDir), pidDirPermissions); err != nil {
		return fmt.Errorf("creating trigger directory: %w", err)
	}

	hupCh := sighupChannel()
	defer signal.Stop(hupCh)

	go runControlLoop(ctx, mon, cfgHolder, cc, hupCh, logger)

	statusTicker := time.NewTicker(statusSnapshotInterval)
	defer statusTicker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				writeStatusSnapshot(cc.StateDir, mon.GetStatus())
				return
			case <-statusTicker.C:
				writeStatusSnapshot(cc.StateDir, mon.GetStatus())
			}
		}
	}()

	logger.Info("adbridged starting", slog.String("config", cc.ConfigPath), slog.String("state_dir", cc.StateDir))

	go mon.Run(ctx)

	<-ctx.Done()

	// WaitForStopped uses a fresh background context: ctx is already
	// canceled, but the current generation of Monitor.Run (possibly
	// restarted by a SIGHUP reload in between) still needs a moment to
	// unwind its in-flight forest or push.
	_ = mon.WaitForStopped(context.Background())
	logger.Info("adbridged stopped")

	return nil
}

// runControlLoop is the control context of spec §5: it owns SIGHUP, which
// carries both a config reload request and any pending forceSync /
// clearAnomalyFlag trigger files left by a separate `adbridged` invocation.
// It never touches Monitor's worker-only state directly — every action is
// either a Holder swap (safe to read without locking, per spec §5) or one
// of Monitor's own RPC-shaped methods.
func runControlLoop(ctx context.Context, mon *engine.Monitor, cfgHolder *config.Holder, cc *CLIContext, hupCh <-chan os.Signal, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-hupCh:
			handleSIGHUP(ctx, mon, cfgHolder, cc, logger)
		}
	}
}

func handleSIGHUP(ctx context.Context, mon *engine.Monitor, cfgHolder *config.Holder, cc *CLIContext, logger *slog.Logger) {
	logger.Info("received SIGHUP, reloading config and checking triggers")

	newCfg, err := config.Load(cc.ConfigPath, logger)
	if err != nil {
		logger.Error("reloading config failed, keeping previous config", slog.String("error", err.Error()))
	} else {
		oldCfg := cfgHolder.Config()

		mon.RequestStop()
		if err := mon.WaitForStopped(ctx); err != nil {
			logger.Error("waiting for worker to stop before applying config", slog.String("error", err.Error()))
			return
		}

		if err := mon.OnConfigApplied(ctx, oldCfg, newCfg); err != nil {
			logger.Error("applying config side effects failed", slog.String("error", err.Error()))
		}

		cfgHolder.Update(newCfg)
		mon.ResetForRestart()

		go mon.Run(ctx)
	}

	if trig, ok := readForceSyncTrigger(cc.StateDir); ok {
		mon.RequestSync(trig.Resume, trig.Full)
	}

	if clearAnomalyTriggerPresent(cc.StateDir) {
		mon.ClearAnomalyFlag()
		os.Remove(clearAnomalyPath(cc.StateDir))
	}
}

// forceSyncTrigger is the on-disk shape of a forceSync(isResume, isFull)
// request (spec §6), written by `adbridged sync` and consumed here.
type forceSyncTrigger struct {
	Full   bool `json:"full"`
	Resume bool `json:"resume"`
}

func readForceSyncTrigger(stateDir string) (forceSyncTrigger, bool) {
	path := forceSyncPath(stateDir)

	data, err := os.ReadFile(path)
	if err != nil {
		return forceSyncTrigger{}, false
	}

	os.Remove(path)

	var trig forceSyncTrigger
	if err := json.Unmarshal(data, &trig); err != nil {
		return forceSyncTrigger{}, false
	}

	return trig, true
}

func clearAnomalyTriggerPresent(stateDir string) bool {
	_, err := os.Stat(clearAnomalyPath(stateDir))
	return err == nil
}

// writeStatusSnapshot persists Status as the getSyncStatus RPC's only
// transport: a JSON file the `status` command reads, since there is no
// live connection between the daemon and any other adbridged invocation.
func writeStatusSnapshot(stateDir string, st engine.Status) {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return
	}

	tmp := statusPath(stateDir) + ".tmp"
	if err := os.WriteFile(tmp, data, pidFilePermissions); err != nil {
		return
	}

	os.Rename(tmp, statusPath(stateDir))
}
