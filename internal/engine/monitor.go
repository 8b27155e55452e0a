package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/qliqsoft/adbridge/internal/config"
	"github.com/qliqsoft/adbridge/internal/directory"
	"github.com/qliqsoft/adbridge/internal/forest"
)

// MonitorState is the AD Monitor's top-level state machine of spec §4.F:
// {Idle, Syncing, Pushing, PausedByAnomaly, Stopping}.
type MonitorState int32

const (
	StateIdle MonitorState = iota
	StateSyncing
	StatePushing
	StatePausedByAnomaly
	StateStopping
)

func (s MonitorState) String() string {
	switch s {
	case StateSyncing:
		return "Syncing"
	case StatePushing:
		return "Pushing"
	case StatePausedByAnomaly:
		return "PausedByAnomaly"
	case StateStopping:
		return "Stopping"
	default:
		return "Idle"
	}
}

// pollCheckInterval is how often Run wakes to compare elapsed time against
// the configured poll interval — a short fixed tick rather than a ticker
// retuned to syncIntervalMins, so a live config reload of poll_interval
// takes effect on the very next wake instead of requiring a restart.
const pollCheckInterval = 30 * time.Second

// syncTrigger carries an operator-issued forceSync(isResume, isFull)
// request (spec §6) into the worker loop.
type syncTrigger struct {
	full   bool
	resume bool
}

// Monitor owns the sync state machine: timer, full/delta decision, per-
// forest sync fan-out, anomaly gating, and the push phase — the single
// dedicated worker of spec §5's "one dedicated worker that owns the sync
// state machine". All cross-context communication in and out of Monitor is
// a channel send or an atomic flag, never a blocking call either direction,
// per §5's concurrency contract. Grounded on the teacher's
// internal/sync/worker.go + orchestrator.go select-loop shape.
type Monitor struct {
	store   Store
	dir     Directory
	pusher  Pusher
	prober  forest.Prober
	forests *forest.Manager
	cfg     *config.Holder
	anomaly *AnomalyDetector
	logger  *slog.Logger

	status statusHolder

	state     atomic.Int32
	lastCycle atomic.Int64 // unix nanos of the last cycle's end, 0 if none yet

	shouldStop atomic.Bool
	forceFull  atomic.Bool

	trigger chan syncTrigger
	stopped chan struct{}
}

// NewMonitor wires the leaf components into one Monitor. prober is the
// same internal/directory.Client the forest.Manager itself uses for
// reachability probes — also exposed here so testAdminCredentials can bind
// without an enumeration round-trip.
func NewMonitor(store Store, dir Directory, pusher Pusher, prober forest.Prober, forests *forest.Manager, cfgHolder *config.Holder, logger *slog.Logger) *Monitor {
	return &Monitor{
		store:   store,
		dir:     dir,
		pusher:  pusher,
		prober:  prober,
		forests: forests,
		cfg:     cfgHolder,
		anomaly: NewAnomalyDetector(cfgHolder.Config().Safety),
		logger:  logger,
		trigger: make(chan syncTrigger, 1),
		stopped: make(chan struct{}),
	}
}

func (m *Monitor) getState() MonitorState {
	return MonitorState(m.state.Load())
}

func (m *Monitor) setState(s MonitorState) {
	m.state.Store(int32(s))
	m.status.update(func(st *Status) { st.State = s })
}

// Run is the worker context's main loop. It returns when ctx is canceled
// or RequestStop has been honored at the next cooperative checkpoint,
// publishing the "stopped" notification WaitForStopped blocks on.
func (m *Monitor) Run(ctx context.Context) {
	defer close(m.stopped)

	ticker := time.NewTicker(pollCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-m.trigger:
			m.runCycle(ctx, SyncOpts{Full: t.full, Resume: t.resume})
			m.lastCycle.Store(time.Now().UnixNano())
		case <-ticker.C:
			if m.shouldStop.Load() {
				return
			}

			// A process-wide persistent anomaly pauses automatic cycles
			// entirely; only an operator-issued resume (via trigger) lifts
			// it (spec §4.F: "PausedByAnomaly -> Syncing: only when the
			// operator explicitly resumes").
			if m.getState() == StatePausedByAnomaly {
				continue
			}

			interval, err := time.ParseDuration(m.cfg.Config().Sync.PollInterval)
			if err != nil {
				interval = time.Minute
			}

			last := m.lastCycle.Load()
			due := last == 0 || time.Since(time.Unix(0, last)) >= interval

			if due || m.forceFull.Load() {
				m.runCycle(ctx, SyncOpts{Full: m.forceFull.Load()})
				m.lastCycle.Store(time.Now().UnixNano())
			}
		}

		if m.shouldStop.Load() {
			return
		}
	}
}

// RequestSync is the forceSync(isResume, isFull) RPC of spec §6. Per the
// Open Question decision recorded in DESIGN.md, resume=true always implies
// full=true regardless of the caller's isFull value. The send is
// non-blocking: a trigger already pending is replaced by the newer one,
// matching the "control context never blocks on the worker" contract.
func (m *Monitor) RequestSync(resume, full bool) {
	if resume {
		full = true
	}

	select {
	case m.trigger <- syncTrigger{full: full, resume: resume}:
	default:
		select {
		case <-m.trigger:
		default:
		}

		m.trigger <- syncTrigger{full: full, resume: resume}
	}
}

// RequestStop sets the cooperative shouldStop flag; idempotent, safe from
// any goroutine. The worker honors it at its next checkpoint: between
// forests of a cycle, after a cycle or trigger completes, or on the next
// ticker tick while idle. RunPush's row loop does not check it.
func (m *Monitor) RequestStop() {
	m.shouldStop.Store(true)
}

// WaitForStopped blocks until the worker has published its stopped
// notification or ctx is canceled.
func (m *Monitor) WaitForStopped(ctx context.Context) error {
	select {
	case <-m.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ResetForRestart clears shouldStop so a fresh Run call (e.g. after a
// config reload's stop-persist-restart cycle) can proceed; it must only be
// called after WaitForStopped has returned.
func (m *Monitor) ResetForRestart() {
	m.shouldStop.Store(false)
	m.stopped = make(chan struct{})
}

// ClearAnomalyFlag is the clearAnomalyFlag RPC of spec §6: clears every
// forest's anomaly state and, if the monitor was paused on it, returns it
// to Idle so the next tick can run normally.
func (m *Monitor) ClearAnomalyFlag() {
	for _, f := range m.forests.Forests() {
		m.anomaly.ClearFlag(f.ObjectGUID)
	}

	if m.getState() == StatePausedByAnomaly {
		m.setState(StateIdle)
	}

	m.status.update(func(s *Status) {
		s.IsAnomalyDetected = false
		s.AnomalyMessage = ""
		s.AnomalyNotPresentUserCount = 0
		s.AnomalyNotPresentGroupCount = 0
	})
}

// GetStatus is the getSyncStatus RPC of spec §6.
func (m *Monitor) GetStatus() Status {
	return m.status.get()
}

// OnConfigApplied carries the side effects of a reload that spec §5
// requires beyond swapping the Holder's pointer: "avatar toggle from
// on->off wipes avatars immediately; on->on unchanged leaves them; off->on
// with prior sync count > 0 forces the next run to be full by clearing
// every lastFullSyncDateTime. Similarly DN-auth off->on forces a full
// sync." Must be called with the worker stopped (WaitForStopped having
// returned) before the new config is installed in the Holder.
func (m *Monitor) OnConfigApplied(ctx context.Context, oldCfg, newCfg *config.Config) error {
	if oldCfg.Sync.EnableAvatars && !newCfg.Sync.EnableAvatars {
		if err := m.store.DeleteAllAvatars(ctx); err != nil {
			return fmt.Errorf("engine: wiping avatars on avatar-disable: %w", err)
		}
	}

	everSynced, err := m.anyForestEverSynced(ctx)
	if err != nil {
		return err
	}

	forcesFull := (!oldCfg.Sync.EnableAvatars && newCfg.Sync.EnableAvatars && everSynced) ||
		(!oldCfg.Sync.EnableDNAuth && newCfg.Sync.EnableDNAuth)

	if forcesFull {
		if err := m.store.ClearAllFullSyncDates(ctx); err != nil {
			return fmt.Errorf("engine: forcing full resync after config change: %w", err)
		}
	}

	m.anomaly.SetConfig(newCfg.Safety)

	return nil
}

func (m *Monitor) anyForestEverSynced(ctx context.Context) (bool, error) {
	for _, f := range m.forests.Forests() {
		for _, dc := range f.Controllers {
			sc, err := m.store.LoadSyncContext(ctx, f.ObjectGUID, dc.Host)
			if err != nil {
				return false, err
			}

			if sc.HighestCommittedUSN != "" {
				return true, nil
			}
		}
	}

	return false, nil
}

// runCycle is one full tick of the state machine: Idle->Syncing, sync
// every reachable forest, then Syncing->Pushing. The push phase always
// runs; RunPush skips the rows of any forest whose anomaly state gates
// push (anomaly.PushBlocked), so other forests' backlogs still drain. If a
// forest entered PersistentAnomaly, the monitor parks in PausedByAnomaly
// after the push until an operator resume (spec §4.F transitions).
// FirstSeenAnomaly, by contrast, only gates that one forest's rows within
// RunPush — it does not block future automatic ticks, since the detector
// needs another cycle's data to decide whether to escalate or self-heal.
func (m *Monitor) runCycle(ctx context.Context, opts SyncOpts) {
	cfg := m.cfg.Config()

	m.setState(StateSyncing)
	m.status.update(func(s *Status) {
		s.IsADSyncInProgress = true
		s.ADSyncProgress = Indeterminate("loading forests")
	})

	if err := pruneOldEvents(ctx, m.store, cfg.Sync.EventRetentionDays); err != nil {
		m.logger.Warn("engine: pruning old events failed", slog.String("error", err.Error()))
	}

	if err := m.forests.Load(ctx); err != nil {
		recordEvent(ctx, m.store, m.logger, OriginSync, CategoryError, fmt.Sprintf("loading forests failed: %v", err), 0)
		m.status.update(func(s *Status) { s.IsADSyncInProgress = false })
		m.setState(StateIdle)

		return
	}

	m.forests.ResetIteration()

	all := m.forests.Forests()
	resume := opts.Resume
	full := opts.Full || resume

	anyPersistent := false
	processed := 0

	for {
		if m.shouldStop.Load() || ctx.Err() != nil {
			m.setState(StateStopping)
			break
		}

		f, dc, ok, err := m.forests.NextForest(ctx)
		if err != nil {
			recordEvent(ctx, m.store, m.logger, OriginSync, CategoryError, fmt.Sprintf("selecting controller: %v", err), 0)
			break
		}

		if !ok {
			break
		}

		processed++

		m.status.update(func(s *Status) {
			s.ADSyncProgress = Progress{Value: processed, Maximum: len(all), Text: fmt.Sprintf("syncing forest %s", f.ObjectGUID)}
		})

		result, err := RunForestSync(ctx, m.store, m.dir, m.anomaly, m.logger, f, dc,
			cfg.Sync.EnableSubgroups, cfg.Sync.EnableAvatars, cfg.Sync.PageSize, cfg.Sync.SubgroupWorkers, SyncOpts{Full: full, Resume: resume})
		if err != nil {
			recordEvent(ctx, m.store, m.logger, OriginSync, CategoryError, fmt.Sprintf("forest %s sync failed: %v", f.ObjectGUID, err), 0)
			continue
		}

		if result.Anomaly.Status != NoAnomaly {
			recordEvent(ctx, m.store, m.logger, OriginSync, CategoryWarn, result.Anomaly.Message, 0)

			m.status.update(func(s *Status) {
				s.IsAnomalyDetected = true
				s.AnomalyMessage = result.Anomaly.Message
				s.AnomalyNotPresentUserCount = result.Anomaly.NotPresent
			})
		}

		if result.Anomaly.Status == PersistentAnomaly {
			anyPersistent = true
		}
	}

	m.forceFull.Store(false)
	m.status.update(func(s *Status) { s.IsADSyncInProgress = false })

	if m.shouldStop.Load() || ctx.Err() != nil {
		m.setState(StateStopping)
		return
	}

	if anyPersistent {
		m.setState(StatePausedByAnomaly)
		// Push still runs: RunPush skips rows belonging to an anomalous
		// forest per-row (anomaly.PushBlocked(forestGUID)), so ungated
		// forests' backlogs still drain this cycle.
	}

	m.setState(StatePushing)
	m.status.update(func(s *Status) { s.IsWebPushInProgress = true })

	pushResult, err := RunPush(ctx, m.store, m.pusher, m.anomaly, m.logger, &m.status)

	m.status.update(func(s *Status) { s.IsWebPushInProgress = false })

	switch {
	case err != nil:
		recordEvent(ctx, m.store, m.logger, OriginWebPush, CategoryError, fmt.Sprintf("push failed: %v", err), 0)
	case pushResult.NetworkPaused:
		recordEvent(ctx, m.store, m.logger, OriginWebPush, CategoryWarn, "push paused due to network error", 0)
	default:
		recordEvent(ctx, m.store, m.logger, OriginWebPush, CategoryInfo,
			fmt.Sprintf("pushed %d groups, %d users (%d updated)", pushResult.GroupsPushed, pushResult.UsersPushed, pushResult.Updated), 0)
	}

	if anyPersistent {
		m.setState(StatePausedByAnomaly)
	} else {
		m.setState(StateIdle)
	}
}

// TestCredentialsResult is the outcome of testAdminCredentials (spec §6).
type TestCredentialsResult struct {
	OK      bool
	DNSName string
	Err     error
}

// TestAdminCredentials is the testAdminCredentials(forest) RPC: probes
// the configured controllers of f in their listed order and reports the
// first reachable one, without touching the Store or forest.Manager's loaded
// iteration state.
func (m *Monitor) TestAdminCredentials(ctx context.Context, f forest.Forest) TestCredentialsResult {
	for _, dc := range f.Controllers {
		dnsName, err := m.prober.Probe(ctx, f.UserName, f.Password, dc.Host)
		if err == nil {
			return TestCredentialsResult{OK: true, DNSName: dnsName}
		}
	}

	return TestCredentialsResult{OK: false, Err: fmt.Errorf("engine: forest %s: %w", f.ObjectGUID, forest.ErrControllerUnreachable)}
}

// TestMainGroupResult is the outcome of testMainGroup (spec §6): {status,
// errorMessage, sampleResults[]}.
type TestMainGroupResult struct {
	OK      bool
	Message string
	Sample  []string
}

// maxMainGroupSample bounds how many matches testMainGroup reports, since
// spec §6 calls for streaming "partial results" rather than a full dump.
const maxMainGroupSample = 20

// TestMainGroup is the testMainGroup(forest, pageSize) RPC: resolves the
// forest's configured sync group against its first reachable controller
// and streams up to maxMainGroupSample distinguished names back via
// onSample as they arrive, matching spec §6's "streaming partial results".
func (m *Monitor) TestMainGroup(ctx context.Context, f forest.Forest, pageSize int, onSample func(string)) TestMainGroupResult {
	var dc forest.DomainController

	found := false

	for _, candidate := range f.Controllers {
		if _, err := m.prober.Probe(ctx, f.UserName, f.Password, candidate.Host); err == nil {
			dc = candidate
			found = true

			break
		}
	}

	if !found {
		return TestMainGroupResult{OK: false, Message: "no reachable controller"}
	}

	creds := directory.Credentials{UserName: f.UserName, Password: f.Password}
	filter := fmt.Sprintf("(&(objectClass=group)(CN=%s))", directory.EscapeFilterValue(f.SyncGroup))

	var sample []string

	status, _ := m.dir.RetrieveGroups(ctx, creds, dc.Host, pageSize, filter, directory.SyncCursor{}, func(g directory.AdGroup) bool {
		sample = append(sample, g.DistinguishedName)

		if onSample != nil {
			onSample(g.DistinguishedName)
		}

		return len(sample) < maxMainGroupSample
	})

	if !status.OK() {
		return TestMainGroupResult{OK: false, Message: fmt.Sprintf("auth=%s err=%v", status.Auth, status.Err), Sample: sample}
	}

	if len(sample) == 0 {
		return TestMainGroupResult{OK: false, Message: fmt.Sprintf("sync group %q not found", f.SyncGroup), Sample: sample}
	}

	return TestMainGroupResult{OK: true, Sample: sample}
}
