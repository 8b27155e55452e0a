package main

import "path/filepath"

// The state directory layout coordinates the daemon (`run`) with the
// short-lived control commands (`reload`, `sync`, `anomaly clear`, `status`,
// `events`, `reset`). spec §5 places "the local RPC transport between GUI
// and service" out of scope as an external collaborator; in its place the
// trigger commands (`sync`, `anomaly clear`) write a small file here, they
// and `reload` signal the daemon with SIGHUP, and `status`, `events` and
// `reset` read the state here directly, mirroring the teacher's pause.go /
// sendSIGHUP / notifyDaemon pattern rather than building a new IPC layer.
func dbPath(stateDir string) string     { return filepath.Join(stateDir, "adbridge.db") }
func pidPath(stateDir string) string    { return filepath.Join(stateDir, "adbridged.pid") }
func statusPath(stateDir string) string { return filepath.Join(stateDir, "status.json") }
func triggerDir(stateDir string) string { return filepath.Join(stateDir, "triggers") }

func forceSyncPath(stateDir string) string    { return filepath.Join(triggerDir(stateDir), "forcesync.json") }
func clearAnomalyPath(stateDir string) string { return filepath.Join(triggerDir(stateDir), "clearanomaly") }
