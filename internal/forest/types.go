// Package forest holds the configuration-time model of a directory forest:
// its domain controllers, its sync-group scope, and the watermark each
// (forest, controller) pair has reached.
package forest

import (
	"errors"
	"fmt"
	"time"
)

// ErrForestInvalid is wrapped by Validate's failures: missing objectGuid,
// no controller, no/more-than-one primary, or a duplicate controller host.
var ErrForestInvalid = errors.New("forest: invalid forest configuration")

// ErrControllerUnreachable is wrapped by callers that must surface a
// forest's total controller unreachability as an error rather than simply
// skipping the forest for this cycle (e.g. the testAdminCredentials RPC of
// spec §6, which exists specifically to report that failure to an
// operator).
var ErrControllerUnreachable = errors.New("forest: no controller accepted the configured credentials")

// Forest is a unit of administrative trust: one set of service-account
// credentials, one sync-group scoping the population, and one or more
// domain controllers.
type Forest struct {
	ObjectGUID  string
	UserName    string
	Password    string
	SyncGroup   string
	Controllers []DomainController
}

// Primary returns the forest's primary controller, or false if none is
// marked primary (a config invariant violation — callers should validate
// forests with Validate before relying on this).
func (f Forest) Primary() (DomainController, bool) {
	for _, dc := range f.Controllers {
		if dc.IsPrimary {
			return dc, true
		}
	}

	return DomainController{}, false
}

// Validate checks the invariants from spec §3: non-empty ObjectGUID, at
// least one controller, exactly one primary, no duplicate host.
func (f Forest) Validate() error {
	if f.ObjectGUID == "" {
		return fmt.Errorf("forest: objectGuid must not be empty: %w", ErrForestInvalid)
	}

	if len(f.Controllers) == 0 {
		return fmt.Errorf("forest %s: must have at least one domain controller: %w", f.ObjectGUID, ErrForestInvalid)
	}

	seenHost := make(map[string]bool, len(f.Controllers))
	primaryCount := 0

	for _, dc := range f.Controllers {
		if seenHost[dc.Host] {
			return fmt.Errorf("forest %s: duplicate controller host %q: %w", f.ObjectGUID, dc.Host, ErrForestInvalid)
		}

		seenHost[dc.Host] = true

		if dc.IsPrimary {
			primaryCount++
		}
	}

	if primaryCount != 1 {
		return fmt.Errorf("forest %s: must have exactly one primary controller, found %d: %w", f.ObjectGUID, primaryCount, ErrForestInvalid)
	}

	return nil
}

// DomainController is a reachable directory server endpoint belonging to a
// forest. DNSName is filled lazily on first successful reachability check.
type DomainController struct {
	Host      string
	DNSName   string
	IsPrimary bool
}

// SyncContext is the persisted watermark for one (forestGuid, controllerHost)
// pair. An empty HighestCommittedUSN means "never successfully synced".
type SyncContext struct {
	ForestGUID          string
	ControllerHost       string
	InvocationID         string
	HighestCommittedUSN  string
	LastFullSyncDateTime time.Time
	DCDNSName            string
}

// RequiresFullSync reports whether this context forces a full (rather than
// delta) sync on its next cycle, per spec §3/§4.F: invocation-id change,
// never-synced, or the last full sync wasn't today.
func (sc SyncContext) RequiresFullSync(observedInvocationID string, now time.Time, forceRequested bool) bool {
	if forceRequested {
		return true
	}

	if sc.InvocationID != observedInvocationID {
		return true
	}

	if sc.LastFullSyncDateTime.IsZero() {
		return true
	}

	y1, m1, d1 := sc.LastFullSyncDateTime.Date()
	y2, m2, d2 := now.Date()

	return y1 != y2 || m1 != m2 || d1 != d2
}
