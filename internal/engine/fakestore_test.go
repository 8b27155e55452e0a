package engine

import (
	"context"
	"sort"
	gosync "sync"
	"time"

	"github.com/qliqsoft/adbridge/internal/forest"
	"github.com/qliqsoft/adbridge/internal/store"
)

// fakeStore is an in-memory implementation of the Store interface, the Go
// analogue of the teacher's engineMockGraph: a hand-rolled fake satisfying
// the consumer-defined interface so engine tests never touch a real
// database. Guarded by mu since RunForestSync now fans subgroups out
// across goroutines (internal/engine/sync.go), the same way the real
// Store's sole-writer connection serializes concurrent callers.
type fakeStore struct {
	mu gosync.Mutex

	users  map[string]store.User
	groups map[string]store.Group
	avatars map[string]store.Avatar
	syncContexts map[string]forest.SyncContext
	events []store.EventRow

	forestGroupMemberships map[string]map[string]bool // forestGUID -> groupGUID -> true
	groupMemberships       map[string]map[string]bool // groupGUID -> userGUID -> true

	forests []forest.Forest // also satisfies forest.Store, so the same fake backs both seams in Monitor tests
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:                  make(map[string]store.User),
		groups:                 make(map[string]store.Group),
		avatars:                make(map[string]store.Avatar),
		syncContexts:           make(map[string]forest.SyncContext),
		forestGroupMemberships: make(map[string]map[string]bool),
		groupMemberships:       make(map[string]map[string]bool),
	}
}

func (f *fakeStore) SetStatusForPresentUsersOfForest(_ context.Context, forestGUID string, newStatus store.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, u := range f.users {
		if u.ForestGUID == forestGUID && u.Status == store.StatusPresent {
			u.Status = newStatus
			f.users[id] = u
		}
	}

	return nil
}

func (f *fakeStore) SetStatusForPresentGroupsOfForest(_ context.Context, forestGUID string, newStatus store.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, g := range f.groups {
		if g.ForestGUID == forestGUID && g.Status == store.StatusPresent {
			g.Status = newStatus
			f.groups[id] = g
		}
	}

	return nil
}

func (f *fakeStore) SetUserStatusForForestWhere(_ context.Context, forestGUID string, ifOldStatus, newStatus store.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, u := range f.users {
		if u.ForestGUID == forestGUID && u.Status == ifOldStatus {
			u.Status = newStatus
			f.users[id] = u
		}
	}

	return nil
}

func (f *fakeStore) SetGroupStatusForForestWhere(_ context.Context, forestGUID string, ifOldStatus, newStatus store.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, g := range f.groups {
		if g.ForestGUID == forestGUID && g.Status == ifOldStatus {
			g.Status = newStatus
			f.groups[id] = g
		}
	}

	return nil
}

func (f *fakeStore) MarkUsersPresent(_ context.Context, objectGUIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, id := range objectGUIDs {
		if u, ok := f.users[id]; ok {
			u.Status = store.StatusPresent
			f.users[id] = u
		}
	}

	return nil
}

func (f *fakeStore) MarkDeletedUsers(_ context.Context, objectGUIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, id := range objectGUIDs {
		if u, ok := f.users[id]; ok {
			u.IsDeleted = true
			f.users[id] = u
		}
	}

	return nil
}

func (f *fakeStore) CountWithStatusAndOfForest(_ context.Context, forestGUID string, status store.Status) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0

	for _, u := range f.users {
		if u.ForestGUID == forestGUID && u.Status == status {
			n++
		}
	}

	return n, nil
}

func (f *fakeStore) CountGroupsWithStatusAndOfForest(_ context.Context, forestGUID string, status store.Status) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0

	for _, g := range f.groups {
		if g.ForestGUID == forestGUID && g.Status == status {
			n++
		}
	}

	return n, nil
}

func (f *fakeStore) CountNotPresentNotSent(_ context.Context, forestGUID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0

	for _, u := range f.users {
		if u.ForestGUID == forestGUID && u.Status == store.StatusNotPresent && !u.IsSentToWebserver {
			n++
		}
	}

	return n, nil
}

func (f *fakeStore) SelectNotPresentInAdAndOfForest(_ context.Context, forestGUID string, limit int) ([]store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []store.User

	for _, u := range f.users {
		if u.ForestGUID == forestGUID && u.Status == store.StatusNotPresent {
			out = append(out, u)

			if len(out) >= limit {
				break
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ObjectGUID < out[j].ObjectGUID })

	return out, nil
}

func (f *fakeStore) SelectGroupsWithStatusOfForest(_ context.Context, forestGUID string, status store.Status) ([]store.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []store.Group

	for _, g := range f.groups {
		if g.ForestGUID == forestGUID && g.Status == status {
			out = append(out, g)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ObjectGUID < out[j].ObjectGUID })

	return out, nil
}

func (f *fakeStore) ClearWebserverErrorNotIn(_ context.Context, permanentErrors []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	isPermanent := func(code int) bool {
		for _, c := range permanentErrors {
			if c == code {
				return true
			}
		}

		return false
	}

	for id, u := range f.users {
		if u.WebserverError != 0 && !isPermanent(u.WebserverError) {
			u.WebserverError = 0
			f.users[id] = u
		}
	}

	for id, g := range f.groups {
		if g.WebserverError != 0 && !isPermanent(g.WebserverError) {
			g.WebserverError = 0
			f.groups[id] = g
		}
	}

	return nil
}

func (f *fakeStore) SelectOneNotSentToWebserver(_ context.Context, skip int) (store.User, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]string, 0, len(f.users))
	for id := range f.users {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	n := 0

	for _, id := range ids {
		u := f.users[id]
		if u.IsSentToWebserver {
			continue
		}

		if n == skip {
			return u, true, nil
		}

		n++
	}

	return store.User{}, false, nil
}

func (f *fakeStore) SelectOneGroupNotSentToWebserver(_ context.Context, skip int) (store.Group, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]string, 0, len(f.groups))
	for id := range f.groups {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	n := 0

	for _, id := range ids {
		g := f.groups[id]
		if g.IsSentToWebserver {
			continue
		}

		if n == skip {
			return g, true, nil
		}

		n++
	}

	return store.Group{}, false, nil
}

func (f *fakeStore) UpsertUser(_ context.Context, u store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.users[u.ObjectGUID] = u
	return nil
}

func (f *fakeStore) SelectUser(_ context.Context, objectGUID string) (store.User, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.users[objectGUID]
	return u, ok, nil
}

func (f *fakeStore) DeleteUser(_ context.Context, objectGUID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.users, objectGUID)
	return nil
}

func (f *fakeStore) UpsertGroup(_ context.Context, g store.Group) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.groups[g.ObjectGUID] = g
	return nil
}

func (f *fakeStore) SelectGroup(_ context.Context, objectGUID string) (store.Group, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	g, ok := f.groups[objectGUID]
	return g, ok, nil
}

func (f *fakeStore) SelectGroupsOfUser(_ context.Context, userGUID string) ([]store.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []store.Group

	for groupGUID, members := range f.groupMemberships {
		if members[userGUID] {
			if g, ok := f.groups[groupGUID]; ok {
				out = append(out, g)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ObjectGUID < out[j].ObjectGUID })

	return out, nil
}

func (f *fakeStore) DeleteGroup(_ context.Context, objectGUID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.groups, objectGUID)
	delete(f.groupMemberships, objectGUID)

	return nil
}

func (f *fakeStore) SetStatusForMemberOfGroup(_ context.Context, groupGUID string, newStatus, ifOldStatus store.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for userGUID := range f.groupMemberships[groupGUID] {
		if u, ok := f.users[userGUID]; ok && u.Status == ifOldStatus {
			u.Status = newStatus
			f.users[userGUID] = u
		}
	}

	return nil
}

func (f *fakeStore) ReplaceGroupMembership(_ context.Context, groupGUID string, memberGUIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	m := make(map[string]bool, len(memberGUIDs))
	for _, id := range memberGUIDs {
		m[id] = true
	}

	f.groupMemberships[groupGUID] = m

	return nil
}

func (f *fakeStore) EnsureForestGroupMembership(_ context.Context, forestGUID, groupGUID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.forestGroupMemberships[forestGUID] == nil {
		f.forestGroupMemberships[forestGUID] = make(map[string]bool)
	}

	f.forestGroupMemberships[forestGUID][groupGUID] = true

	return nil
}

func (f *fakeStore) CleanDanglingForestGroupMemberships(_ context.Context, forestGUID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for groupGUID := range f.forestGroupMemberships[forestGUID] {
		if _, ok := f.groups[groupGUID]; !ok {
			delete(f.forestGroupMemberships[forestGUID], groupGUID)
		}
	}

	return nil
}

func (f *fakeStore) LoadSyncContext(_ context.Context, forestGUID, controllerHost string) (forest.SyncContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := forestGUID + "|" + controllerHost
	if sc, ok := f.syncContexts[key]; ok {
		return sc, nil
	}

	return forest.SyncContext{ForestGUID: forestGUID, ControllerHost: controllerHost}, nil
}

func (f *fakeStore) CommitWatermark(_ context.Context, sc forest.SyncContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.syncContexts[sc.ForestGUID+"|"+sc.ControllerHost] = sc
	return nil
}

func (f *fakeStore) ClearSyncContextsForForest(_ context.Context, forestGUID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for key, sc := range f.syncContexts {
		if sc.ForestGUID == forestGUID {
			delete(f.syncContexts, key)
		}
	}

	return nil
}

func (f *fakeStore) ClearAllFullSyncDates(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for key, sc := range f.syncContexts {
		sc.LastFullSyncDateTime = time.Time{}
		f.syncContexts[key] = sc
	}

	return nil
}

func (f *fakeStore) UpsertAvatar(_ context.Context, a store.Avatar) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.avatars[a.UserGUID] = a
	return nil
}

func (f *fakeStore) SelectAvatar(_ context.Context, userGUID string) (store.Avatar, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	a, ok := f.avatars[userGUID]
	return a, ok, nil
}

func (f *fakeStore) DeleteAllAvatars(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.avatars = make(map[string]store.Avatar)
	return nil
}

func (f *fakeStore) InsertEvent(_ context.Context, e store.EventRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.events = append(f.events, e)
	return nil
}

func (f *fakeStore) LoadEvents(_ context.Context, offset, count int) ([]store.EventRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if offset >= len(f.events) {
		return nil, nil
	}

	end := min(offset+count, len(f.events))

	return f.events[offset:end], nil
}

func (f *fakeStore) DeleteAllEvents(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.events = nil
	return nil
}

// forest.Store methods, kept alongside the engine.Store ones so the same
// fake instance backs both seams a Monitor needs.

func (f *fakeStore) LoadForests(_ context.Context) ([]forest.Forest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.forests, nil
}

func (f *fakeStore) ApplyForestChanges(_ context.Context, changes []forest.ForestWithChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, c := range changes {
		switch {
		case c.Changes.Has(forest.Deleted):
			var kept []forest.Forest
			for _, existing := range f.forests {
				if existing.ObjectGUID != c.Forest.ObjectGUID {
					kept = append(kept, existing)
				}
			}
			f.forests = kept
		case c.Changes.Has(forest.Added):
			f.forests = append(f.forests, c.Forest)
		default:
			for i, existing := range f.forests {
				if existing.ObjectGUID == c.Forest.ObjectGUID {
					f.forests[i] = c.Forest
				}
			}
		}
	}

	return nil
}

func (f *fakeStore) UpdateControllerDNSName(_ context.Context, forestGUID, host, dnsName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, existing := range f.forests {
		if existing.ObjectGUID != forestGUID {
			continue
		}

		for j, dc := range existing.Controllers {
			if dc.Host == host {
				f.forests[i].Controllers[j].DNSName = dnsName
			}
		}
	}

	return nil
}

func (f *fakeStore) PruneEventsOlderThan(_ context.Context, cutoff time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var kept []store.EventRow

	for _, e := range f.events {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}

	f.events = kept

	return nil
}
