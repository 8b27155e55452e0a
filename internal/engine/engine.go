// Package engine implements the AD Monitor: the sync orchestrator (spec
// §4.F), anomaly detector (§4.G), and event/status surface (§4.H) that
// wires internal/directory, internal/store, and internal/scim together.
// Grounded on the teacher's internal/sync package (Engine.RunOnce's
// observe→plan→execute→commit shape, worker.go/tracker.go's cooperative
// cancellation, orchestrator.go's watch-mode select loop), retargeted from
// a single-drive file-sync cycle to a multi-forest directory↔cloud cycle.
package engine

import (
	"context"
	"time"

	"github.com/qliqsoft/adbridge/internal/forest"
	"github.com/qliqsoft/adbridge/internal/store"
)

// Store is the persistence surface the engine needs, a narrow view of
// *store.Store (accept interfaces, return structs — store itself stays a
// leaf package unaware of the engine).
type Store interface {
	SetStatusForPresentUsersOfForest(ctx context.Context, forestGUID string, newStatus store.Status) error
	SetStatusForPresentGroupsOfForest(ctx context.Context, forestGUID string, newStatus store.Status) error
	SetUserStatusForForestWhere(ctx context.Context, forestGUID string, ifOldStatus, newStatus store.Status) error
	SetGroupStatusForForestWhere(ctx context.Context, forestGUID string, ifOldStatus, newStatus store.Status) error
	MarkUsersPresent(ctx context.Context, objectGUIDs []string) error
	MarkDeletedUsers(ctx context.Context, objectGUIDs []string) error
	CountWithStatusAndOfForest(ctx context.Context, forestGUID string, status store.Status) (int, error)
	CountGroupsWithStatusAndOfForest(ctx context.Context, forestGUID string, status store.Status) (int, error)
	CountNotPresentNotSent(ctx context.Context, forestGUID string) (int, error)
	SelectNotPresentInAdAndOfForest(ctx context.Context, forestGUID string, limit int) ([]store.User, error)
	SelectGroupsWithStatusOfForest(ctx context.Context, forestGUID string, status store.Status) ([]store.Group, error)
	ClearWebserverErrorNotIn(ctx context.Context, permanentErrors []int) error
	SelectOneNotSentToWebserver(ctx context.Context, skip int) (store.User, bool, error)
	SelectOneGroupNotSentToWebserver(ctx context.Context, skip int) (store.Group, bool, error)

	UpsertUser(ctx context.Context, u store.User) error
	SelectUser(ctx context.Context, objectGUID string) (store.User, bool, error)
	DeleteUser(ctx context.Context, objectGUID string) error

	UpsertGroup(ctx context.Context, g store.Group) error
	SelectGroup(ctx context.Context, objectGUID string) (store.Group, bool, error)
	SelectGroupsOfUser(ctx context.Context, userGUID string) ([]store.Group, error)
	DeleteGroup(ctx context.Context, objectGUID string) error
	SetStatusForMemberOfGroup(ctx context.Context, groupGUID string, newStatus, ifOldStatus store.Status) error
	ReplaceGroupMembership(ctx context.Context, groupGUID string, memberGUIDs []string) error
	EnsureForestGroupMembership(ctx context.Context, forestGUID, groupGUID string) error
	CleanDanglingForestGroupMemberships(ctx context.Context, forestGUID string) error

	LoadSyncContext(ctx context.Context, forestGUID, controllerHost string) (forest.SyncContext, error)
	CommitWatermark(ctx context.Context, sc forest.SyncContext) error
	ClearSyncContextsForForest(ctx context.Context, forestGUID string) error
	ClearAllFullSyncDates(ctx context.Context) error

	UpsertAvatar(ctx context.Context, a store.Avatar) error
	SelectAvatar(ctx context.Context, userGUID string) (store.Avatar, bool, error)
	DeleteAllAvatars(ctx context.Context) error

	InsertEvent(ctx context.Context, e store.EventRow) error
	LoadEvents(ctx context.Context, offset, count int) ([]store.EventRow, error)
	DeleteAllEvents(ctx context.Context) error
	PruneEventsOlderThan(ctx context.Context, cutoff time.Time) error
}
