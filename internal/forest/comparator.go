package forest

// ChangeMask is a bit set over the kinds of change a forest can undergo
// between two configuration snapshots. Grounded on the original source's
// ForestComparator::Changed enum (AdForestComparator.h).
type ChangeMask int

const (
	NotChanged              ChangeMask = 0
	Added                   ChangeMask = 1 << 0
	Deleted                 ChangeMask = 1 << 1
	CredentialsChanged      ChangeMask = 1 << 2
	DomainControllerAdded   ChangeMask = 1 << 3
	DomainControllerChanged ChangeMask = 1 << 4
	DomainControllerDeleted ChangeMask = 1 << 5
	SyncGroupChanged        ChangeMask = 1 << 6
)

// Has reports whether m contains every bit set in flag.
func (m ChangeMask) Has(flag ChangeMask) bool {
	return m&flag == flag
}

func (m ChangeMask) String() string {
	if m == NotChanged {
		return "unchanged"
	}

	labels := []struct {
		bit   ChangeMask
		label string
	}{
		{Added, "added"},
		{Deleted, "deleted"},
		{CredentialsChanged, "credentials-changed"},
		{DomainControllerAdded, "dc-added"},
		{DomainControllerChanged, "dc-changed"},
		{DomainControllerDeleted, "dc-deleted"},
		{SyncGroupChanged, "sync-group-changed"},
	}

	out := ""

	for _, l := range labels {
		if m.Has(l.bit) {
			if out != "" {
				out += "|"
			}

			out += l.label
		}
	}

	return out
}

// DCChange describes one controller's fate within a forest change.
type DCChange int

const (
	DCAdded DCChange = iota
	DCDeleted
	DCPrimaryChanged
)

// DomainControllerWithChange pairs a controller with how it changed.
type DomainControllerWithChange struct {
	Controller DomainController
	Change     DCChange
}

// ForestWithChange is one entry of a Comparator diff: a forest (its new
// state, or for a deletion its previous state) plus the change
// mask and per-controller changes that produced it.
type ForestWithChange struct {
	Forest                 Forest
	Changes                ChangeMask
	DomainControllerChanges []DomainControllerWithChange
}

// Comparator diffs a previous forest set against a new one, per spec §4.C.
type Comparator struct{}

// Compare computes the structured change list between previous and current
// forest sets. Forests are matched by ObjectGUID; iteration is in the order
// of current, then any survivors of previous not seen in current are
// reported as deletions.
func (Comparator) Compare(previous, current []Forest) []ForestWithChange {
	prevByGUID := toMap(previous)

	seen := make(map[string]bool, len(current))

	var out []ForestWithChange

	for _, cur := range current {
		seen[cur.ObjectGUID] = true

		prev, existed := prevByGUID[cur.ObjectGUID]
		if !existed {
			out = append(out, newForest(cur))
			continue
		}

		changes, dcChanges := compareOne(prev, cur)
		if changes != NotChanged {
			out = append(out, ForestWithChange{Forest: cur, Changes: changes, DomainControllerChanges: dcChanges})
		}
	}

	for _, prev := range previous {
		if seen[prev.ObjectGUID] {
			continue
		}

		out = append(out, deletedForest(prev))
	}

	return out
}

func newForest(f Forest) ForestWithChange {
	dcChanges := make([]DomainControllerWithChange, 0, len(f.Controllers))
	for _, dc := range f.Controllers {
		dcChanges = append(dcChanges, DomainControllerWithChange{Controller: dc, Change: DCAdded})
	}

	return ForestWithChange{Forest: f, Changes: Added | DomainControllerAdded, DomainControllerChanges: dcChanges}
}

func deletedForest(f Forest) ForestWithChange {
	dcChanges := make([]DomainControllerWithChange, 0, len(f.Controllers))
	for _, dc := range f.Controllers {
		dcChanges = append(dcChanges, DomainControllerWithChange{Controller: dc, Change: DCDeleted})
	}

	return ForestWithChange{Forest: f, Changes: Deleted | DomainControllerDeleted, DomainControllerChanges: dcChanges}
}

// compareOne diffs a single forest's previous and current snapshot,
// returning the change mask and the per-controller deltas.
func compareOne(previous, current Forest) (ChangeMask, []DomainControllerWithChange) {
	var mask ChangeMask

	if previous.UserName != current.UserName || previous.Password != current.Password {
		mask |= CredentialsChanged
	}

	if previous.SyncGroup != current.SyncGroup {
		mask |= SyncGroupChanged
	}

	prevDC := toControllerMap(previous.Controllers)

	var dcChanges []DomainControllerWithChange

	seenHost := make(map[string]bool, len(current.Controllers))

	for _, cur := range current.Controllers {
		seenHost[cur.Host] = true

		prev, existed := prevDC[cur.Host]
		if !existed {
			mask |= DomainControllerAdded
			dcChanges = append(dcChanges, DomainControllerWithChange{Controller: cur, Change: DCAdded})

			continue
		}

		if prev.IsPrimary != cur.IsPrimary {
			mask |= DomainControllerChanged
			dcChanges = append(dcChanges, DomainControllerWithChange{Controller: cur, Change: DCPrimaryChanged})
		}
	}

	for host, prev := range prevDC {
		if !seenHost[host] {
			mask |= DomainControllerDeleted
			dcChanges = append(dcChanges, DomainControllerWithChange{Controller: prev, Change: DCDeleted})
		}
	}

	return mask, dcChanges
}

func toMap(forests []Forest) map[string]Forest {
	m := make(map[string]Forest, len(forests))
	for _, f := range forests {
		m[f.ObjectGUID] = f
	}

	return m
}

func toControllerMap(controllers []DomainController) map[string]DomainController {
	m := make(map[string]DomainController, len(controllers))
	for _, dc := range controllers {
		m[dc.Host] = dc
	}

	return m
}
