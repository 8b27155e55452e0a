package engine

import "sync"

// Progress is a {value, maximum, text} snapshot, per spec §4.H and
// _examples/original_source/ActiveDirectoryEvent.h's
// ActiveDirectoryProgressAndStatus. Maximum=-1 denotes indeterminate
// progress (unknown total, still running).
type Progress struct {
	Value   int
	Maximum int
	Text    string
}

// Indeterminate builds a Progress with no known total.
func Indeterminate(text string) Progress {
	return Progress{Maximum: -1, Text: text}
}

// Done reports whether a bounded progress has reached its maximum.
func (p Progress) Done() bool {
	return p.Maximum >= 0 && p.Value >= p.Maximum
}

// Status is the externally-visible snapshot of spec §4.H:
// {isAdSyncInProgress, isWebPushInProgress, webPushProgress, adSyncProgress,
// isAnomalyDetected, anomalyMessage, anomalyNotPresentUserCount,
// anomalyNotPresentGroupCount}.
type Status struct {
	IsADSyncInProgress  bool
	IsWebPushInProgress bool
	WebPushProgress     Progress
	ADSyncProgress      Progress

	IsAnomalyDetected           bool
	AnomalyMessage              string
	AnomalyNotPresentUserCount  int
	AnomalyNotPresentGroupCount int

	State MonitorState
}

// statusHolder guards the whole mutable Status snapshot with a short-lived
// mutex, per spec §5's shared-state policy — the shouldStop and forceFull
// flags are plain atomics on Monitor, and sync/resume requests travel on
// Monitor's trigger channel.
type statusHolder struct {
	mu sync.Mutex
	s  Status
}

func (h *statusHolder) get() Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.s
}

func (h *statusHolder) update(fn func(*Status)) {
	h.mu.Lock()
	defer h.mu.Unlock()

	fn(&h.s)
}
