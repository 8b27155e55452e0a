package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/qliqsoft/adbridge/internal/forest"
)

// LoadSyncContext returns the watermark for (forestGUID, controllerHost),
// or a zero-value SyncContext (HighestCommittedUSN == "") if none exists
// yet — spec §3's "never successfully synced" state.
func (s *Store) LoadSyncContext(ctx context.Context, forestGUID, controllerHost string) (forest.SyncContext, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT invocation_id, highest_committed_usn, last_full_sync_datetime, dc_dns_name
		   FROM active_directory_sync_context WHERE forest_guid = ? AND controller_host = ?`,
		forestGUID, controllerHost)

	var (
		invocationID, usn, dnsName string
		lastFull                   sql.NullString
	)

	err := row.Scan(&invocationID, &usn, &lastFull, &dnsName)
	if errors.Is(err, sql.ErrNoRows) {
		return forest.SyncContext{ForestGUID: forestGUID, ControllerHost: controllerHost}, nil
	}

	if err != nil {
		return forest.SyncContext{}, fmt.Errorf("store: loading sync context: %w", err)
	}

	sc := forest.SyncContext{
		ForestGUID:          forestGUID,
		ControllerHost:      controllerHost,
		InvocationID:        invocationID,
		HighestCommittedUSN: usn,
		DCDNSName:           dnsName,
	}

	if lastFull.Valid {
		if t, parseErr := time.Parse(time.RFC3339, lastFull.String); parseErr == nil {
			sc.LastFullSyncDateTime = t
		}
	}

	return sc, nil
}

// CommitWatermark persists the new watermark — the final act of a
// successful forest cycle, per spec §4.F step 12.
func (s *Store) CommitWatermark(ctx context.Context, sc forest.SyncContext) error {
	var lastFull any
	if !sc.LastFullSyncDateTime.IsZero() {
		lastFull = sc.LastFullSyncDateTime.Format(time.RFC3339)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO active_directory_sync_context
			(forest_guid, controller_host, invocation_id, highest_committed_usn, last_full_sync_datetime, dc_dns_name)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(forest_guid, controller_host) DO UPDATE SET
			invocation_id = excluded.invocation_id,
			highest_committed_usn = excluded.highest_committed_usn,
			last_full_sync_datetime = excluded.last_full_sync_datetime,
			dc_dns_name = excluded.dc_dns_name`,
		sc.ForestGUID, sc.ControllerHost, sc.InvocationID, sc.HighestCommittedUSN, lastFull, sc.DCDNSName)
	if err != nil {
		return fmt.Errorf("store: committing watermark for %s/%s: %w", sc.ForestGUID, sc.ControllerHost, err)
	}

	return nil
}

// ClearSyncContextsForForest deletes every watermark for a forest, forcing
// a full sync on the next cycle — used when the sync group changes or a
// controller is removed (spec §4.C semantic rules).
func (s *Store) ClearSyncContextsForForest(ctx context.Context, forestGUID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM active_directory_sync_context WHERE forest_guid = ?`, forestGUID)
	if err != nil {
		return fmt.Errorf("store: clearing sync contexts for %s: %w", forestGUID, err)
	}

	return nil
}

// ResetSyncDatabase is the resetSyncDatabase RPC of spec §6: wipes every
// row the AD side of the bridge ever observed — users, groups, watermarks,
// memberships, avatars, and the event log — while leaving the forest list
// itself untouched, since forests are owned by the config file, not by the
// sync state. The next cycle re-enumerates every forest from scratch and
// re-creates every row in the cloud (a fresh qliqId per row), which is why
// this is an explicit operator action rather than something a sync cycle
// ever does on its own.
func (s *Store) ResetSyncDatabase(ctx context.Context) error {
	return s.withTx(ctx, "reset sync database", func(tx *sql.Tx) error {
		tables := []string{
			"active_directory_user_group_membership",
			"active_directory_forest_group_membership",
			"active_directory_user_avatar",
			"active_directory_event",
			"active_directory_sync_context",
			"active_directory_user",
			"active_directory_group",
		}

		for _, table := range tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clearing %s: %w", table, err)
			}
		}

		return nil
	})
}
