package engine

import (
	"context"
	"log/slog"

	"github.com/qliqsoft/adbridge/internal/scim"
	"github.com/qliqsoft/adbridge/internal/store"
)

// permanentWebserverErrors are the HTTP status codes that permanently
// quarantine a row from further push attempts, per spec §4.E: "400 (bad
// request), 404 (cloud-deleted/ignored), 422 (missing mandatory field)".
var permanentWebserverErrors = []int{400, 404, 422}

// PushResult summarizes one invocation of RunPush.
type PushResult struct {
	GroupsPushed  int
	UsersPushed   int
	Updated       int
	NetworkPaused bool
}

// RunPush drives the single-flight push pipeline of spec §4.E: one
// outstanding HTTP request at a time, groups before users, a shared cursor
// per entity kind that advances past permanently-quarantined and
// anomaly-gated rows without modifying them. It returns when both cursors
// are exhausted or a network-class error pauses the round.
//
// Grounded on the teacher's internal/sync/transfer.go dispatchPool shape
// generalized down to strict single-flight (the teacher's worker pool
// fans out; the SCIM server contract here is serial), and on spec §4.E's
// per-row decision table.
func RunPush(ctx context.Context, s Store, pusher Pusher, anomaly *AnomalyDetector, logger *slog.Logger, status *statusHolder) (PushResult, error) {
	if err := s.ClearWebserverErrorNotIn(ctx, permanentWebserverErrors); err != nil {
		return PushResult{}, err
	}

	var result PushResult

	touchedForests := make(map[string]bool)

	groupSkip := 0

	for {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		g, ok, err := s.SelectOneGroupNotSentToWebserver(ctx, groupSkip)
		if err != nil {
			return result, err
		}

		if !ok {
			break
		}

		if anomaly.PushBlocked(g.ForestGUID) {
			groupSkip++
			continue
		}

		paused := !pushGroup(ctx, s, pusher, g, touchedForests, &result, logger)
		if paused {
			result.NetworkPaused = true
			return result, nil
		}

		// A row now marked sent has left the unsent set; only a row that is
		// still unsent moves the cursor past it.
		if after, found, selErr := s.SelectGroup(ctx, g.ObjectGUID); selErr != nil || (found && !after.IsSentToWebserver) {
			groupSkip++
		}
	}

	userSkip := 0
	pushedCount := 0

	for {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		u, ok, err := s.SelectOneNotSentToWebserver(ctx, userSkip)
		if err != nil {
			return result, err
		}

		if !ok {
			break
		}

		if anomaly.PushBlocked(u.ForestGUID) {
			userSkip++
			continue
		}

		paused := !pushUser(ctx, s, pusher, u, &result, logger)
		if paused {
			result.NetworkPaused = true
			return result, nil
		}

		if after, found, selErr := s.SelectUser(ctx, u.ObjectGUID); selErr != nil || (found && !after.IsSentToWebserver) {
			userSkip++
		}

		pushedCount++

		if pushedCount == 1 || pushedCount%100 == 0 {
			remaining, countErr := s.CountNotPresentNotSent(ctx, u.ForestGUID)
			if countErr == nil {
				status.update(func(s *Status) {
					s.WebPushProgress = Progress{Value: pushedCount, Maximum: -1, Text: "pushing users"}
				})

				logger.Info("push progress", slog.Int("pushed", pushedCount), slog.Int("remaining", remaining))
			}
		}
	}

	for forestGUID := range touchedForests {
		if err := s.CleanDanglingForestGroupMemberships(ctx, forestGUID); err != nil {
			logger.Warn("engine: cleaning dangling forest-group memberships failed",
				slog.String("forest", forestGUID), slog.String("error", err.Error()))
		}
	}

	return result, nil
}

// pushGroup pushes one group row and applies its Outcome. It returns false
// on a network-class error, signaling the caller to pause the round.
func pushGroup(ctx context.Context, s Store, pusher Pusher, g store.Group, touchedForests map[string]bool, result *PushResult, logger *slog.Logger) bool {
	if !g.IsDeleted && !groupPushValid(g) {
		logger.Warn("engine: skipping invalid group push", slog.String("group", g.ObjectGUID))
		return persistGroupOutcome(ctx, s, g, scim.Outcome{MarkSent: true}, logger)
	}

	outcome, err := pusher.PushGroup(ctx, toGroupInput(g), g.QliqID, g.IsDeleted)
	if err != nil {
		logger.Warn("engine: group push paused by network error",
			slog.String("group", g.ObjectGUID), slog.String("error", err.Error()))

		return false
	}

	if outcome.IsDeleted || g.IsDeleted {
		touchedForests[g.ForestGUID] = true
	}

	if outcome.Updated {
		result.Updated++
	}

	result.GroupsPushed++

	return persistGroupOutcome(ctx, s, g, outcome, logger)
}

func pushUser(ctx context.Context, s Store, pusher Pusher, u store.User, result *PushResult, logger *slog.Logger) bool {
	if !u.IsDeleted && !userPushValid(u) {
		logger.Warn("engine: skipping invalid user push", slog.String("user", u.ObjectGUID))
		return persistUserOutcome(ctx, s, u, scim.Outcome{MarkSent: true}, logger)
	}

	in, err := toUserInput(ctx, s, u)
	if err != nil {
		logger.Error("engine: building user push payload failed", slog.String("user", u.ObjectGUID), slog.String("error", err.Error()))
		return true
	}

	outcome, err := pusher.PushUser(ctx, in, u.QliqID, u.IsDeleted)
	if err != nil {
		logger.Warn("engine: user push paused by network error",
			slog.String("user", u.ObjectGUID), slog.String("error", err.Error()))

		return false
	}

	if outcome.Updated {
		result.Updated++
	}

	result.UsersPushed++

	return persistUserOutcome(ctx, s, u, outcome, logger)
}

func persistUserOutcome(ctx context.Context, s Store, u store.User, o scim.Outcome, logger *slog.Logger) bool {
	if o.QliqID != "" {
		u.QliqID = o.QliqID
	}

	if o.CleanedError {
		u.WebserverError = 0
	} else if o.WebserverError != 0 {
		u.WebserverError = o.WebserverError
	}

	if o.IsDeleted {
		u.IsDeleted = true
		u.QliqID = ""
	}

	if o.PasswordResolved {
		u.UserAccountControl &^= store.PasswordChangedLocally
	}

	if o.MarkSent {
		u.IsSentToWebserver = true
	}

	if err := s.UpsertUser(ctx, u); err != nil {
		logger.Error("engine: persisting user push outcome failed", slog.String("user", u.ObjectGUID), slog.String("error", err.Error()))
	}

	return true
}

func persistGroupOutcome(ctx context.Context, s Store, g store.Group, o scim.Outcome, logger *slog.Logger) bool {
	if o.QliqID != "" {
		g.QliqID = o.QliqID
	}

	if o.CleanedError {
		g.WebserverError = 0
	} else if o.WebserverError != 0 {
		g.WebserverError = o.WebserverError
	}

	if o.IsDeleted {
		g.IsDeleted = true
		g.QliqID = ""
	}

	if o.MarkSent {
		g.IsSentToWebserver = true
	}

	if err := s.UpsertGroup(ctx, g); err != nil {
		logger.Error("engine: persisting group push outcome failed", slog.String("group", g.ObjectGUID), slog.String("error", err.Error()))
	}

	return true
}
