package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qliqsoft/adbridge/internal/directory"
	"github.com/qliqsoft/adbridge/internal/forest"
	"github.com/qliqsoft/adbridge/internal/store"
)

// SyncOpts carries the per-cycle overrides a caller (RPC or timer tick) may
// request, per spec §4.F / §6's forceSync(isResume, isFull).
type SyncOpts struct {
	Full   bool
	Resume bool
}

// ForestSyncResult summarizes one forest's cycle for the caller (status
// surface, logging, anomaly reporting).
type ForestSyncResult struct {
	ForestGUID string
	Anomaly    EvalResult
	AllSynced  bool
}

// deletedUserBatchSize bounds a single MarkDeletedUsers transaction during
// the tombstone scan (spec §4.F step 9).
const deletedUserBatchSize = 200

// RunForestSync executes the twelve-step per-forest algorithm of spec §4.F
// against one (forest, reachable controller) pair. Grounded on the
// teacher's internal/sync/engine.go Engine.RunOnce observe→plan→execute→
// commit shape, retargeted from a single delta-query cycle to AD's
// group/subgroup/user/tombstone enumeration with a watermark commit gated
// on full completion.
func RunForestSync(
	ctx context.Context, s Store, dir Directory, anomaly *AnomalyDetector, logger *slog.Logger,
	f forest.Forest, dc forest.DomainController, enableSubgroups, enableAvatars bool, pageSize, subgroupWorkers int, opts SyncOpts,
) (ForestSyncResult, error) {
	creds := directory.Credentials{UserName: f.UserName, Password: f.Password}
	now := time.Now().UTC()

	// Step 1: pre-counts.
	usersBefore, err := s.CountWithStatusAndOfForest(ctx, f.ObjectGUID, store.StatusPresent)
	if err != nil {
		return ForestSyncResult{}, err
	}

	// Step 2: flip Present -> Unknown so enumeration can reclassify.
	if err := s.SetStatusForPresentUsersOfForest(ctx, f.ObjectGUID, store.StatusUnknown); err != nil {
		return ForestSyncResult{}, err
	}

	if err := s.SetStatusForPresentGroupsOfForest(ctx, f.ObjectGUID, store.StatusUnknown); err != nil {
		return ForestSyncResult{}, err
	}

	// Step 3: load/initialize the watermark.
	sc, err := s.LoadSyncContext(ctx, f.ObjectGUID, dc.Host)
	if err != nil {
		return ForestSyncResult{}, err
	}

	// Step 4: full-sync decision. The invocation-id mismatch term is left
	// to the directory client itself (it already forces a full page-0
	// rescan when the live root DSE's invocationId/DnsHostName diverges
	// from the cursor it's handed — spec §4.A), so only the operator
	// override and the once-a-day requirement are decided here.
	full := sc.RequiresFullSync(sc.InvocationID, now, opts.Full)

	cursor := directory.SyncCursor{InvocationID: sc.InvocationID, HighestCommittedUSN: sc.HighestCommittedUSN, DCDNSName: sc.DCDNSName}
	if full {
		cursor = directory.SyncCursor{}
	}

	synced := true

	// Step 5: main group lookup.
	mainFilter := fmt.Sprintf("(&(objectClass=group)(CN=%s))", directory.EscapeFilterValue(f.SyncGroup))

	var mainGroups []directory.AdGroup

	status, newCursor := dir.RetrieveGroups(ctx, creds, dc.Host, pageSize, mainFilter, cursor, func(g directory.AdGroup) bool {
		mainGroups = append(mainGroups, g)
		return len(mainGroups) < 2 // abandon early once a second match proves ambiguity
	})

	if !status.OK() {
		return ForestSyncResult{}, fmt.Errorf("engine: main group lookup for forest %s: auth=%s err=%v", f.ObjectGUID, status.Auth, status.Err)
	}

	if len(mainGroups) != 1 {
		return ForestSyncResult{}, fmt.Errorf("engine: forest %s: sync group %q resolved to %d groups, want exactly 1", f.ObjectGUID, f.SyncGroup, len(mainGroups))
	}

	mainGroup := mainGroups[0]
	if err := processGroup(ctx, s, f.ObjectGUID, mainGroup, true, enableSubgroups, logger); err != nil {
		return ForestSyncResult{}, err
	}

	// Step 6: capture the server-observed watermark at the moment of the
	// group query — persisted only if the whole cycle completes.
	observedCursor := newCursor

	// Step 7/8: subgroup enumeration, and per-subgroup user enumeration.
	if enableSubgroups {
		if err := syncSubgroups(ctx, s, dir, creds, dc.Host, pageSize, subgroupWorkers, mainGroup.DistinguishedName, cursor, enableAvatars, full, f.ObjectGUID, logger, &synced); err != nil {
			return ForestSyncResult{}, err
		}
	}

	// Step 9: tombstone scan, full sync only, and only if nothing failed
	// so far.
	if full && synced {
		delStatus := dir.RetrieveDeletedUsers(ctx, creds, dc.Host, pageSize, cursor, func(batch []string) bool {
			for start := 0; start < len(batch); start += deletedUserBatchSize {
				end := min(start+deletedUserBatchSize, len(batch))
				if err := s.MarkDeletedUsers(ctx, batch[start:end]); err != nil {
					logger.Error("engine: marking tombstoned users failed", slog.String("forest", f.ObjectGUID), slog.String("error", err.Error()))
					synced = false

					return false
				}
			}

			return true
		})

		if !delStatus.OK() {
			logger.Warn("engine: tombstone scan incomplete", slog.String("forest", f.ObjectGUID), slog.Any("error", delStatus.Err))
			synced = false
		}
	}

	// Step 10: status resolution.
	if err := s.SetUserStatusForForestWhere(ctx, f.ObjectGUID, store.StatusUnknown, store.StatusNotPresent); err != nil {
		return ForestSyncResult{}, err
	}

	notPresentUsers, err := s.SelectNotPresentInAdAndOfForest(ctx, f.ObjectGUID, 1<<30)
	if err != nil {
		return ForestSyncResult{}, err
	}

	notPresentGUIDs := make([]string, len(notPresentUsers))
	for i, u := range notPresentUsers {
		notPresentGUIDs[i] = u.ObjectGUID
	}

	if len(notPresentGUIDs) > 0 {
		if err := s.MarkDeletedUsers(ctx, notPresentGUIDs); err != nil {
			return ForestSyncResult{}, err
		}
	}

	if err := removeGhostGroups(ctx, s, f.ObjectGUID, logger); err != nil {
		return ForestSyncResult{}, err
	}

	// Step 11: anomaly evaluation.
	notPresentNotSent, err := s.CountNotPresentNotSent(ctx, f.ObjectGUID)
	if err != nil {
		return ForestSyncResult{}, err
	}

	evalResult := anomaly.Evaluate(f.ObjectGUID, usersBefore, notPresentNotSent, opts.Resume)

	// Step 12: commit watermark only if the whole cycle completed cleanly.
	if synced {
		sc.InvocationID = observedCursor.InvocationID
		sc.HighestCommittedUSN = observedCursor.HighestCommittedUSN
		sc.DCDNSName = observedCursor.DCDNSName

		if full {
			sc.LastFullSyncDateTime = now
		}

		if err := s.CommitWatermark(ctx, sc); err != nil {
			return ForestSyncResult{}, err
		}
	}

	return ForestSyncResult{ForestGUID: f.ObjectGUID, Anomaly: evalResult, AllSynced: synced}, nil
}

// syncSubgroups implements steps 7-8: enumerate subgroups of the main
// group, and for each, either bulk-mark existing members Present (the
// unchanged-USN short-circuit) or fully enumerate its user membership.
//
// Each subgroup's member search dials its own LDAP connection (the
// Directory Client never shares one, per its package doc), so the
// subgroups are processed through a bounded errgroup rather than one at a
// time — the Local Store's single writable connection still serializes
// every UpsertUser/UpsertGroup itself, so this only overlaps network
// round-trips, never store writes. Grounded on the teacher's
// internal/sync/transfer.go dispatchPool: same errgroup.SetLimit-plus-
// mutex shape, generalized from file transfers to subgroup fan-out.
func syncSubgroups(
	ctx context.Context, s Store, dir Directory, creds directory.Credentials, host string, pageSize, workers int,
	mainGroupDN string, cursor directory.SyncCursor, enableAvatars, full bool, forestGUID string, logger *slog.Logger, synced *bool,
) error {
	subFilter := fmt.Sprintf("(&(objectClass=group)(memberOf=%s))", directory.EscapeFilterValue(mainGroupDN))

	var subgroups []directory.AdGroup

	status, _ := dir.RetrieveGroups(ctx, creds, host, pageSize, subFilter, cursor, func(g directory.AdGroup) bool {
		subgroups = append(subgroups, g)
		return true
	})

	if !status.OK() {
		*synced = false
		logger.Warn("engine: subgroup enumeration incomplete", slog.String("forest", forestGUID), slog.Any("error", status.Err))

		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))

	var mu sync.Mutex

	for _, sg := range subgroups {
		sg := sg

		g.Go(func() error {
			return syncOneSubgroup(gctx, s, dir, creds, host, pageSize, sg, enableAvatars, full, forestGUID, logger, synced, &mu)
		})
	}

	return g.Wait()
}

// syncOneSubgroup is the per-subgroup unit dispatched by syncSubgroups'
// errgroup: decide whether the subgroup's USN is unchanged since the last
// cycle (bulk bump, no member search needed) or fully re-enumerate its
// members. mu guards the shared *synced flag, the only state this touches
// outside the Store (which serializes its own writes).
func syncOneSubgroup(
	ctx context.Context, s Store, dir Directory, creds directory.Credentials, host string, pageSize int,
	sg directory.AdGroup, enableAvatars, full bool, forestGUID string, logger *slog.Logger, synced *bool, mu *sync.Mutex,
) error {
	priorGroup, hadPrior, err := s.SelectGroup(ctx, sg.ObjectGUID)
	if err != nil {
		return err
	}

	if err := processGroup(ctx, s, forestGUID, sg, false, true, logger); err != nil {
		return err
	}

	unchanged := hadPrior && !full && priorGroup.USNChanged == sg.USNChanged && priorGroup.USNChanged != ""

	if unchanged {
		return s.SetStatusForMemberOfGroup(ctx, sg.ObjectGUID, store.StatusPresent, store.StatusUnknown)
	}

	return syncSubgroupMembers(ctx, s, dir, creds, host, pageSize, sg, enableAvatars, forestGUID, logger, synced, mu)
}

// syncSubgroupMembers implements step 8's full enumeration path: fetch
// every user directly under one subgroup, process each, and replace the
// subgroup's membership rows with exactly what was observed.
func syncSubgroupMembers(
	ctx context.Context, s Store, dir Directory, creds directory.Credentials, host string, pageSize int,
	sg directory.AdGroup, enableAvatars bool, forestGUID string, logger *slog.Logger, synced *bool, mu *sync.Mutex,
) error {
	userFilter := fmt.Sprintf("(&(objectClass=user)(objectcategory=person)(memberOf=%s))", directory.EscapeFilterValue(sg.DistinguishedName))

	var memberGUIDs []string

	status, _ := dir.RetrieveUsers(ctx, creds, host, pageSize, userFilter, directory.SyncCursor{}, enableAvatars, func(u directory.AdUser) bool {
		if err := processUser(ctx, s, forestGUID, u, enableAvatars, logger); err != nil {
			logger.Error("engine: processing user failed", slog.String("user", u.ObjectGUID), slog.String("error", err.Error()))
			return true
		}

		memberGUIDs = append(memberGUIDs, u.ObjectGUID)

		return true
	})

	if !status.OK() {
		mu.Lock()
		*synced = false
		mu.Unlock()

		logger.Warn("engine: subgroup member enumeration incomplete",
			slog.String("forest", forestGUID), slog.String("subgroup", sg.ObjectGUID), slog.Any("error", status.Err))

		return nil
	}

	return s.ReplaceGroupMembership(ctx, sg.ObjectGUID, memberGUIDs)
}

// removeGhostGroups implements the group half of step 10: a subgroup or
// main group left at status=Unknown after enumeration no longer exists in
// AD. A group never pushed to the cloud is removed outright; one that was
// pushed is marked deleted so the push loop issues the cloud DELETE before
// its local row disappears.
func removeGhostGroups(ctx context.Context, s Store, forestGUID string, logger *slog.Logger) error {
	ghosts, err := s.SelectGroupsWithStatusOfForest(ctx, forestGUID, store.StatusUnknown)
	if err != nil {
		return err
	}

	for _, g := range ghosts {
		if g.QliqID == "" {
			if err := s.DeleteGroup(ctx, g.ObjectGUID); err != nil {
				return err
			}

			continue
		}

		g.IsDeleted = true
		g.IsSentToWebserver = false

		if err := s.UpsertGroup(ctx, g); err != nil {
			return err
		}

		logger.Info("engine: group ghost queued for cloud delete", slog.String("group", g.ObjectGUID))
	}

	return nil
}
