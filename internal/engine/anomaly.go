package engine

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/qliqsoft/adbridge/internal/config"
)

// ErrAnomalyBlocksDeletes is wrapped into EvalResult.Err whenever a
// forest's anomaly status gates this cycle's push, mirroring the teacher's
// checkS5BigDelete/ErrBigDeleteBlocked shape: the check itself doesn't
// abort the sync cycle (RunForestSync/RunPush still run to completion),
// but the decision is a real, checkable error rather than only a log line.
var ErrAnomalyBlocksDeletes = errors.New("engine: anomaly detector blocks cloud push this cycle")

// AnomalyStatus is the per-forest anomaly state machine of spec §4.G.
type AnomalyStatus int

const (
	NoAnomaly AnomalyStatus = iota
	FirstSeenAnomaly
	PersistentAnomaly
)

func (a AnomalyStatus) String() string {
	switch a {
	case FirstSeenAnomaly:
		return "FirstSeenAnomaly"
	case PersistentAnomaly:
		return "PersistentAnomaly"
	default:
		return "NoAnomaly"
	}
}

// AnomalyState is one forest's anomaly-detector state, tracked per
// forestGuid per the Open Question decision recorded in DESIGN.md
// (thresholds are a single process-global AnomalyConfig, but the detector's
// state machine is evaluated and stored per forest, not process-wide).
type AnomalyState struct {
	Status                  AnomalyStatus
	InitialPresentUserCount int
	LastNotPresentCount     int

	// ResumeBypass is true only for the one cycle in which an operator
	// resume lifted the push gate despite Status != NoAnomaly; the next
	// Evaluate call (resumed or not) overwrites it, so it never survives a
	// second cycle.
	ResumeBypass bool
}

// AnomalyDetector evaluates and persists per-forest anomaly state in
// memory across sync cycles. Single-cycle threshold math
// (max(count, ceil(percent*prev))) is grounded on the teacher's
// internal/sync/safety.go checkS5BigDelete, extended here to carry state
// across cycles (FirstSeen → Persistent) rather than the teacher's
// single-cycle block/allow decision.
type AnomalyDetector struct {
	mu     sync.Mutex
	states map[string]AnomalyState
	cfg    config.AnomalyConfig
}

func NewAnomalyDetector(cfg config.AnomalyConfig) *AnomalyDetector {
	return &AnomalyDetector{states: make(map[string]AnomalyState), cfg: cfg}
}

// SetConfig swaps the anomaly thresholds atomically (used on config reload).
func (d *AnomalyDetector) SetConfig(cfg config.AnomalyConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cfg = cfg
}

// State returns the current anomaly state for a forest (zero value —
// NoAnomaly — if never evaluated).
func (d *AnomalyDetector) State(forestGUID string) AnomalyState {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.states[forestGUID]
}

// PushBlocked reports whether RunPush must skip this forest's rows this
// cycle: true whenever the forest's anomaly status is not NoAnomaly, unless
// an operator resume bypassed the gate for exactly this cycle (spec §4.G,
// Testable Property 5).
func (d *AnomalyDetector) PushBlocked(forestGUID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.states[forestGUID]

	return s.Status != NoAnomaly && !s.ResumeBypass
}

// EvalResult is the outcome of one forest's anomaly evaluation.
type EvalResult struct {
	Status     AnomalyStatus
	GatePush   bool  // true: no cloud deletions/push this cycle
	Err        error // ErrAnomalyBlocksDeletes when GatePush, else nil
	Message    string
	NotPresent int
	Threshold  int
}

// threshold computes max(configuredUserCountThreshold,
// ceil(previouslyPresent * configuredPercent / 100)), per spec §4.G.
func threshold(cfg config.AnomalyConfig, previouslyPresent int) int {
	pct := int(math.Ceil(float64(previouslyPresent) * float64(cfg.Percent) / 100.0))
	if cfg.UserCountThreshold > pct {
		return cfg.UserCountThreshold
	}

	return pct
}

// Evaluate runs the per-forest anomaly check after a sync cycle completes.
// previouslyPresent is the pre-cycle Present count (step 1 of the per-forest
// algorithm); notPresent is freshly recomputed as "count of users with
// status=NotPresent AND isSentToWebserver=false" (spec §4.G: "this detects
// newly-missing users rather than residual backlog").
//
// previouslyPresent below cfg.UserCountThreshold skips judging the forest
// entirely — the same field doubles as the population floor and as the
// absolute-count term of the threshold formula below, per spec §4.G's
// literal wording and `_examples/original_source/AdMonitor.cpp:1031-1038`,
// which use a single anomalyDetectionUserCountThreshold for both.
func (d *AnomalyDetector) Evaluate(forestGUID string, previouslyPresent, notPresent int, resume bool) EvalResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	cfg := d.cfg
	prev := d.states[forestGUID]

	if previouslyPresent < cfg.UserCountThreshold {
		d.states[forestGUID] = AnomalyState{Status: NoAnomaly}
		return EvalResult{Status: NoAnomaly}
	}

	thr := threshold(cfg, previouslyPresent)
	exceeded := notPresent >= thr

	next := prev

	switch {
	case resume:
		// Operator-issued resume bypasses the persistent gate for exactly
		// this cycle; self-heals if the population is back to normal,
		// otherwise the dialog reports the residuals next cycle.
		if notPresent == 0 {
			next = AnomalyState{Status: NoAnomaly}
		} else {
			next = AnomalyState{Status: FirstSeenAnomaly, InitialPresentUserCount: previouslyPresent, LastNotPresentCount: notPresent, ResumeBypass: true}
		}
	case prev.Status == NoAnomaly && exceeded:
		next = AnomalyState{Status: FirstSeenAnomaly, InitialPresentUserCount: previouslyPresent, LastNotPresentCount: notPresent}
	case prev.Status == FirstSeenAnomaly && exceeded:
		next = AnomalyState{Status: PersistentAnomaly, InitialPresentUserCount: prev.InitialPresentUserCount, LastNotPresentCount: notPresent}
	case prev.Status == FirstSeenAnomaly && !exceeded:
		next = AnomalyState{Status: NoAnomaly}
	case prev.Status == PersistentAnomaly && exceeded:
		next = AnomalyState{Status: PersistentAnomaly, InitialPresentUserCount: prev.InitialPresentUserCount, LastNotPresentCount: notPresent}
	case prev.Status == PersistentAnomaly && !exceeded:
		next = AnomalyState{Status: NoAnomaly}
	}

	d.states[forestGUID] = next

	result := EvalResult{Status: next.Status, NotPresent: notPresent, Threshold: thr}
	if next.Status != NoAnomaly {
		result.GatePush = !next.ResumeBypass
		result.Message = fmt.Sprintf("forest %s: %d users newly missing (threshold %d, %s)", forestGUID, notPresent, thr, next.Status)

		if result.GatePush {
			result.Err = ErrAnomalyBlocksDeletes
			result.Message = fmt.Sprintf("%s: %v", result.Message, ErrAnomalyBlocksDeletes)
		} else {
			result.Message = fmt.Sprintf("%s: push resumed this cycle, residuals remain", result.Message)
		}
	}

	return result
}

// ClearFlag forces a forest's anomaly state back to NoAnomaly — the
// `clearAnomalyFlag` RPC of spec §6.
func (d *AnomalyDetector) ClearFlag(forestGUID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.states, forestGUID)
}
