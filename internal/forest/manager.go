package forest

import (
	"context"
	"fmt"
	"log/slog"
)

// Store is the persistence surface the Manager needs from internal/store.
// Defined here (the consumer) per "accept interfaces, return structs" —
// internal/store implements it but does not import this package for it.
type Store interface {
	LoadForests(ctx context.Context) ([]Forest, error)
	ApplyForestChanges(ctx context.Context, changes []ForestWithChange) error
	UpdateControllerDNSName(ctx context.Context, forestGUID, host, dnsName string) error
}

// Prober checks whether a controller answers a reachability probe (bind to
// root, read DnsHostName) and returns the resolved DNS name on success.
type Prober interface {
	Probe(ctx context.Context, userName, password, host string) (dnsName string, err error)
}

// Manager loads forests from the Store, iterates them in a stable order,
// and picks a reachable controller per forest, per spec §4.D.
type Manager struct {
	store  Store
	prober Prober
	logger *slog.Logger

	forests []Forest
	index   int
	loaded  bool
}

func NewManager(store Store, prober Prober, logger *slog.Logger) *Manager {
	return &Manager{store: store, prober: prober, logger: logger}
}

// Load hydrates the forest list from the Store.
func (m *Manager) Load(ctx context.Context) error {
	forests, err := m.store.LoadForests(ctx)
	if err != nil {
		return fmt.Errorf("forest manager: load: %w", err)
	}

	m.forests = forests
	m.index = 0
	m.loaded = true

	return nil
}

// ResetIteration rewinds the cursor to the start of the forest list.
func (m *Manager) ResetIteration() {
	m.index = 0
}

// Forests returns the currently loaded forest list.
func (m *Manager) Forests() []Forest {
	return m.forests
}

// NextForest returns the next forest with a reachable controller, skipping
// (and logging) forests with no reachable controller. ok is false once the
// list is exhausted.
func (m *Manager) NextForest(ctx context.Context) (f Forest, dc DomainController, ok bool, err error) {
	for m.index < len(m.forests) {
		candidate := m.forests[m.index]
		m.index++

		reachable, probeErr := m.selectReachableController(ctx, candidate)
		if probeErr != nil {
			return Forest{}, DomainController{}, false, probeErr
		}

		if !reachable.found {
			m.logger.Warn("forest skipped: no reachable controller",
				slog.String("forest", candidate.ObjectGUID))

			continue
		}

		return candidate, reachable.dc, true, nil
	}

	return Forest{}, DomainController{}, false, nil
}

type reachableResult struct {
	dc    DomainController
	found bool
}

// selectReachableController tries controllers primary-first, persisting a
// newly-resolved DNS name on first successful probe.
func (m *Manager) selectReachableController(ctx context.Context, f Forest) (reachableResult, error) {
	ordered := orderedControllers(f.Controllers)

	for _, dc := range ordered {
		dnsName, err := m.prober.Probe(ctx, f.UserName, f.Password, dc.Host)
		if err != nil {
			m.logger.Debug("controller unreachable",
				slog.String("forest", f.ObjectGUID), slog.String("host", dc.Host), slog.String("error", err.Error()))

			continue
		}

		if dc.DNSName == "" && dnsName != "" {
			if updateErr := m.store.UpdateControllerDNSName(ctx, f.ObjectGUID, dc.Host, dnsName); updateErr != nil {
				return reachableResult{}, fmt.Errorf("forest manager: persisting dns name: %w", updateErr)
			}

			dc.DNSName = dnsName
		}

		return reachableResult{dc: dc, found: true}, nil
	}

	return reachableResult{}, nil
}

// orderedControllers returns controllers primary-first, then the remainder
// in their stored order.
func orderedControllers(controllers []DomainController) []DomainController {
	ordered := make([]DomainController, 0, len(controllers))

	for _, dc := range controllers {
		if dc.IsPrimary {
			ordered = append(ordered, dc)
		}
	}

	for _, dc := range controllers {
		if !dc.IsPrimary {
			ordered = append(ordered, dc)
		}
	}

	return ordered
}

// SaveForests runs the Comparator against the currently loaded forests and,
// iff there is any diff, applies it transactionally via the Store. The
// in-memory forest list is replaced only on commit success.
func (m *Manager) SaveForests(ctx context.Context, newForests []Forest) error {
	for _, f := range newForests {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("forest manager: rejecting invalid forest: %w", err)
		}
	}

	changes := Comparator{}.Compare(m.forests, newForests)
	if len(changes) == 0 {
		return nil
	}

	if err := m.store.ApplyForestChanges(ctx, changes); err != nil {
		return fmt.Errorf("forest manager: applying forest changes: %w", err)
	}

	m.forests = newForests
	m.index = 0

	return nil
}
