package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertGroup inserts or updates a group row by ObjectGUID. objectGuid is
// asserted globally unique (Open Question decision 1): a pre-existing row
// under a different forest returns ErrObjectGUIDCollision.
func (s *Store) UpsertGroup(ctx context.Context, g Group) error {
	if existing, ok, err := s.SelectGroup(ctx, g.ObjectGUID); err != nil {
		return err
	} else if ok && existing.ForestGUID != g.ForestGUID {
		return fmt.Errorf("store: group %s already belongs to forest %s: %w", g.ObjectGUID, existing.ForestGUID, ErrObjectGUIDCollision)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO active_directory_group (
			object_guid, forest_guid, distinguished_name, cn, usn_changed, is_deleted, is_main_group,
			status, qliq_id, is_sent_to_webserver, webserver_error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(object_guid) DO UPDATE SET
			distinguished_name = excluded.distinguished_name,
			cn = excluded.cn,
			usn_changed = excluded.usn_changed,
			is_deleted = excluded.is_deleted,
			is_main_group = excluded.is_main_group,
			status = excluded.status,
			qliq_id = excluded.qliq_id,
			is_sent_to_webserver = excluded.is_sent_to_webserver,
			webserver_error = excluded.webserver_error`,
		g.ObjectGUID, g.ForestGUID, g.DistinguishedName, g.CN, g.USNChanged, g.IsDeleted, g.IsMainGroup,
		string(g.Status), g.QliqID, g.IsSentToWebserver, g.WebserverError)
	if err != nil {
		return fmt.Errorf("store: upserting group %s: %w", g.ObjectGUID, err)
	}

	return nil
}

// SelectGroup fetches a single group by ObjectGUID.
func (s *Store) SelectGroup(ctx context.Context, objectGUID string) (g Group, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT object_guid, forest_guid, distinguished_name, cn, usn_changed, is_deleted, is_main_group,
			status, qliq_id, is_sent_to_webserver, webserver_error
		FROM active_directory_group WHERE object_guid = ?`, objectGUID)

	g, err = scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Group{}, false, nil
	}

	if err != nil {
		return Group{}, false, fmt.Errorf("store: selecting group %s: %w", objectGUID, err)
	}

	return g, true, nil
}

func scanGroup(row rowScanner) (Group, error) {
	var (
		g      Group
		status string
	)

	err := row.Scan(&g.ObjectGUID, &g.ForestGUID, &g.DistinguishedName, &g.CN, &g.USNChanged, &g.IsDeleted, &g.IsMainGroup,
		&status, &g.QliqID, &g.IsSentToWebserver, &g.WebserverError)
	g.Status = Status(status)

	return g, err
}

// SetStatusForPresentGroupsOfForest mirrors SetStatusForPresentUsersOfForest
// for groups — step 2 applies to both entity kinds.
func (s *Store) SetStatusForPresentGroupsOfForest(ctx context.Context, forestGUID string, newStatus Status) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE active_directory_group SET status = ? WHERE forest_guid = ? AND status = ?`,
		string(newStatus), forestGUID, string(StatusPresent))
	if err != nil {
		return fmt.Errorf("store: resetting group status for forest %s: %w", forestGUID, err)
	}

	return nil
}

// SetStatusForMemberOfGroup updates the status of every user that is a
// member of groupGUID and currently has ifOldStatus, implementing spec
// §4.B's setStatusForMemberOfGroup(newStatus, ifOldStatus, groupGuid) — used
// for the unchanged-subgroup short-circuit (bulk-mark members Present
// without a directory fetch).
func (s *Store) SetStatusForMemberOfGroup(ctx context.Context, groupGUID string, newStatus, ifOldStatus Status) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE active_directory_user SET status = ?
		WHERE status = ? AND object_guid IN (
			SELECT user_guid FROM active_directory_user_group_membership WHERE group_guid = ?
		)`, string(newStatus), string(ifOldStatus), groupGUID)
	if err != nil {
		return fmt.Errorf("store: setting status for members of group %s: %w", groupGUID, err)
	}

	return nil
}

// ReplaceGroupMembership replaces the membership rows for a group with
// exactly memberGUIDs — "remove membership rows for users no longer
// listed under that subgroup" (spec §4.F step 8).
func (s *Store) ReplaceGroupMembership(ctx context.Context, groupGUID string, memberGUIDs []string) error {
	return s.withTx(ctx, "replace group membership", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM active_directory_user_group_membership WHERE group_guid = ?`, groupGUID); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO active_directory_user_group_membership (user_guid, group_guid) VALUES (?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, userGUID := range memberGUIDs {
			if _, err := stmt.ExecContext(ctx, userGUID, groupGUID); err != nil {
				return err
			}
		}

		return nil
	})
}

// DeleteGroup removes a group row and its memberships (cascaded by FK).
func (s *Store) DeleteGroup(ctx context.Context, objectGUID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM active_directory_group WHERE object_guid = ?`, objectGUID)
	if err != nil {
		return fmt.Errorf("store: deleting group %s: %w", objectGUID, err)
	}

	return nil
}

// EnsureForestGroupMembership records that groupGUID belongs to forestGUID,
// the ForestGroupMembership row spec §3 calls "the only cross-forest
// structure the pusher uses to clean up dangling memberships after a group
// deletion" — populated whenever a group is upserted, outliving the group
// row itself until CleanDanglingForestGroupMemberships reaps it.
func (s *Store) EnsureForestGroupMembership(ctx context.Context, forestGUID, groupGUID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO active_directory_forest_group_membership (forest_guid, group_guid) VALUES (?, ?)
		 ON CONFLICT(forest_guid, group_guid) DO NOTHING`,
		forestGUID, groupGUID)
	if err != nil {
		return fmt.Errorf("store: ensuring forest-group membership %s/%s: %w", forestGUID, groupGUID, err)
	}

	return nil
}

// SetGroupStatusForForestWhere mirrors SetUserStatusForForestWhere for
// groups.
func (s *Store) SetGroupStatusForForestWhere(ctx context.Context, forestGUID string, ifOldStatus, newStatus Status) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE active_directory_group SET status = ? WHERE forest_guid = ? AND status = ?`,
		string(newStatus), forestGUID, string(ifOldStatus))
	if err != nil {
		return fmt.Errorf("store: setting group status for forest %s (%s->%s): %w", forestGUID, ifOldStatus, newStatus, err)
	}

	return nil
}

// CountGroupsWithStatusAndOfForest mirrors CountWithStatusAndOfForest for
// groups — the "groupsBefore" pre-count of spec §4.F step 1.
func (s *Store) CountGroupsWithStatusAndOfForest(ctx context.Context, forestGUID string, status Status) (int, error) {
	var n int

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM active_directory_group WHERE forest_guid = ? AND status = ?`,
		forestGUID, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: counting groups %s/%s: %w", forestGUID, status, err)
	}

	return n, nil
}

// SelectGroupsWithStatusOfForest returns every group row of a forest with
// the given status — used for the status-resolution pass (spec §4.F step
// 10: "main-group ghosts and subgroup ghosts are removed").
func (s *Store) SelectGroupsWithStatusOfForest(ctx context.Context, forestGUID string, status Status) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT object_guid, forest_guid, distinguished_name, cn, usn_changed, is_deleted, is_main_group,
			status, qliq_id, is_sent_to_webserver, webserver_error
		FROM active_directory_group WHERE forest_guid = ? AND status = ?`, forestGUID, string(status))
	if err != nil {
		return nil, fmt.Errorf("store: selecting %s groups of %s: %w", status, forestGUID, err)
	}
	defer rows.Close()

	var groups []Group

	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}

		groups = append(groups, g)
	}

	return groups, rows.Err()
}

// SelectOneGroupNotSentToWebserver mirrors SelectOneNotSentToWebserver for
// groups — the pusher's group half of the single shared cursor
// `(userSkip, groupSkip)` (spec §4.E).
func (s *Store) SelectOneGroupNotSentToWebserver(ctx context.Context, skip int) (g Group, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT object_guid, forest_guid, distinguished_name, cn, usn_changed, is_deleted, is_main_group,
			status, qliq_id, is_sent_to_webserver, webserver_error
		FROM active_directory_group WHERE is_sent_to_webserver = 0
		ORDER BY object_guid LIMIT 1 OFFSET ?`, skip)

	g, err = scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Group{}, false, nil
	}

	if err != nil {
		return Group{}, false, fmt.Errorf("store: selecting unsent group: %w", err)
	}

	return g, true, nil
}

// SelectGroupsOfUser returns every group a user currently belongs to, per
// the `active_directory_user_group_membership` join table — the source of
// the `groups[{value,display,$ref}]` array in a pushed user's SCIM payload
// (spec §6).
func (s *Store) SelectGroupsOfUser(ctx context.Context, userGUID string) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.object_guid, g.forest_guid, g.distinguished_name, g.cn, g.usn_changed, g.is_deleted, g.is_main_group,
			g.status, g.qliq_id, g.is_sent_to_webserver, g.webserver_error
		FROM active_directory_group g
		JOIN active_directory_user_group_membership m ON m.group_guid = g.object_guid
		WHERE m.user_guid = ?`, userGUID)
	if err != nil {
		return nil, fmt.Errorf("store: selecting groups of user %s: %w", userGUID, err)
	}
	defer rows.Close()

	var groups []Group

	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}

		groups = append(groups, g)
	}

	return groups, rows.Err()
}

// CleanDanglingForestGroupMemberships removes ForestGroupMembership rows
// whose groupGuid no longer exists — "Group deletion on the cloud must be
// followed by removal of local memberships whose groupGuid matches, done
// lazily at end-of-push" (spec §4.E).
func (s *Store) CleanDanglingForestGroupMemberships(ctx context.Context, forestGUID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM active_directory_forest_group_membership
		WHERE forest_guid = ? AND group_guid NOT IN (SELECT object_guid FROM active_directory_group)`,
		forestGUID)
	if err != nil {
		return fmt.Errorf("store: cleaning dangling forest-group memberships for %s: %w", forestGUID, err)
	}

	return nil
}
