package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertUser inserts a new user row or updates an existing one by
// ObjectGUID, matching spec §4.B's per-entity insert/update surface.
// objectGuid is asserted globally unique (Open Question decision 1): if the
// row already exists under a different forest, this returns
// ErrObjectGUIDCollision rather than silently reassigning it.
func (s *Store) UpsertUser(ctx context.Context, u User) error {
	if existing, ok, err := s.SelectUser(ctx, u.ObjectGUID); err != nil {
		return err
	} else if ok && existing.ForestGUID != u.ForestGUID {
		return fmt.Errorf("store: user %s already belongs to forest %s: %w", u.ObjectGUID, existing.ForestGUID, ErrObjectGUIDCollision)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO active_directory_user (
			object_guid, forest_guid, distinguished_name, cn, account_name, user_principal_name,
			given_name, middle_name, sn, mail, telephone_number, mobile, title,
			employee_number, organization, division, department,
			usn_changed, is_deleted, user_account_control, pwd_last_set,
			status, qliq_id, is_sent_to_webserver, webserver_error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(object_guid) DO UPDATE SET
			distinguished_name = excluded.distinguished_name,
			cn = excluded.cn,
			account_name = excluded.account_name,
			user_principal_name = excluded.user_principal_name,
			given_name = excluded.given_name,
			middle_name = excluded.middle_name,
			sn = excluded.sn,
			mail = excluded.mail,
			telephone_number = excluded.telephone_number,
			mobile = excluded.mobile,
			title = excluded.title,
			employee_number = excluded.employee_number,
			organization = excluded.organization,
			division = excluded.division,
			department = excluded.department,
			usn_changed = excluded.usn_changed,
			is_deleted = excluded.is_deleted,
			user_account_control = excluded.user_account_control,
			pwd_last_set = excluded.pwd_last_set,
			status = excluded.status,
			qliq_id = excluded.qliq_id,
			is_sent_to_webserver = excluded.is_sent_to_webserver,
			webserver_error = excluded.webserver_error`,
		u.ObjectGUID, u.ForestGUID, u.DistinguishedName, u.CN, u.AccountName, u.UserPrincipalName,
		u.GivenName, u.MiddleName, u.SN, u.Mail, u.TelephoneNumber, u.Mobile, u.Title,
		u.EmployeeNumber, u.Organization, u.Division, u.Department,
		u.USNChanged, u.IsDeleted, u.UserAccountControl, u.PwdLastSet,
		string(u.Status), u.QliqID, u.IsSentToWebserver, u.WebserverError)
	if err != nil {
		return fmt.Errorf("store: upserting user %s: %w", u.ObjectGUID, err)
	}

	return nil
}

// SelectUser fetches a single user by ObjectGUID. ok is false if no such
// row exists (spec §4.B selectOneBy).
func (s *Store) SelectUser(ctx context.Context, objectGUID string) (u User, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT object_guid, forest_guid, distinguished_name, cn, account_name, user_principal_name,
			given_name, middle_name, sn, mail, telephone_number, mobile, title,
			employee_number, organization, division, department,
			usn_changed, is_deleted, user_account_control, pwd_last_set,
			status, qliq_id, is_sent_to_webserver, webserver_error
		FROM active_directory_user WHERE object_guid = ?`, objectGUID)

	u, err = scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, false, nil
	}

	if err != nil {
		return User{}, false, fmt.Errorf("store: selecting user %s: %w", objectGUID, err)
	}

	return u, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var (
		u        User
		status   string
	)

	err := row.Scan(&u.ObjectGUID, &u.ForestGUID, &u.DistinguishedName, &u.CN, &u.AccountName, &u.UserPrincipalName,
		&u.GivenName, &u.MiddleName, &u.SN, &u.Mail, &u.TelephoneNumber, &u.Mobile, &u.Title,
		&u.EmployeeNumber, &u.Organization, &u.Division, &u.Department,
		&u.USNChanged, &u.IsDeleted, &u.UserAccountControl, &u.PwdLastSet,
		&status, &u.QliqID, &u.IsSentToWebserver, &u.WebserverError)
	u.Status = Status(status)

	return u, err
}

// DeleteUser removes a user row outright (distinct from marking IsDeleted —
// used only for config-apply cascades, not sync-time deletion detection).
func (s *Store) DeleteUser(ctx context.Context, objectGUID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM active_directory_user WHERE object_guid = ?`, objectGUID)
	if err != nil {
		return fmt.Errorf("store: deleting user %s: %w", objectGUID, err)
	}

	return nil
}

// SetStatusForPresentUsersOfForest flips every Present row of a forest to
// newStatus — step 2 of the per-forest sync algorithm ("flip all Present
// rows to Unknown so enumeration can reclassify").
func (s *Store) SetStatusForPresentUsersOfForest(ctx context.Context, forestGUID string, newStatus Status) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE active_directory_user SET status = ? WHERE forest_guid = ? AND status = ?`,
		string(newStatus), forestGUID, string(StatusPresent))
	if err != nil {
		return fmt.Errorf("store: resetting user status for forest %s: %w", forestGUID, err)
	}

	return nil
}

// SetUserStatusForForestWhere flips every row of a forest currently at
// ifOldStatus to newStatus — the generic form behind
// SetStatusForPresentUsersOfForest, also used for the Unknown→NotPresent
// status-resolution pass of spec §4.F step 10.
func (s *Store) SetUserStatusForForestWhere(ctx context.Context, forestGUID string, ifOldStatus, newStatus Status) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE active_directory_user SET status = ? WHERE forest_guid = ? AND status = ?`,
		string(newStatus), forestGUID, string(ifOldStatus))
	if err != nil {
		return fmt.Errorf("store: setting user status for forest %s (%s->%s): %w", forestGUID, ifOldStatus, newStatus, err)
	}

	return nil
}

// MarkUsersPresent bulk-marks the given users Present — used for the
// unchanged-subgroup short-circuit in spec §4.F step 8.
func (s *Store) MarkUsersPresent(ctx context.Context, objectGUIDs []string) error {
	return s.withTx(ctx, "mark users present", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `UPDATE active_directory_user SET status = ? WHERE object_guid = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, guid := range objectGUIDs {
			if _, err := stmt.ExecContext(ctx, string(StatusPresent), guid); err != nil {
				return err
			}
		}

		return nil
	})
}

// MarkDeletedUsers bulk-marks the given users IsDeleted — the tombstone
// scan result (spec §4.F step 9) and the NotPresent→deleted transition
// (step 10).
func (s *Store) MarkDeletedUsers(ctx context.Context, objectGUIDs []string) error {
	return s.withTx(ctx, "mark users deleted", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`UPDATE active_directory_user SET is_deleted = 1, status = ? WHERE object_guid = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, guid := range objectGUIDs {
			if _, err := stmt.ExecContext(ctx, string(StatusNotPresent), guid); err != nil {
				return err
			}
		}

		return nil
	})
}

// CountWithStatusAndOfForest counts rows with a given status in a forest —
// used for the "usersBefore"/"previouslyPresent" pre-counts (spec §4.F
// step 1, §4.G).
func (s *Store) CountWithStatusAndOfForest(ctx context.Context, forestGUID string, status Status) (int, error) {
	var n int

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM active_directory_user WHERE forest_guid = ? AND status = ?`,
		forestGUID, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: counting users %s/%s: %w", forestGUID, status, err)
	}

	return n, nil
}

// CountNotPresentNotSent counts users with status=NotPresent AND
// isSentToWebserver=false — the anomaly detector's "newly-missing" measure
// (spec §4.G: "recompute as count of users with status=NotPresent AND
// isSentToWebserver=false — this detects newly-missing users rather than
// residual backlog").
func (s *Store) CountNotPresentNotSent(ctx context.Context, forestGUID string) (int, error) {
	var n int

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM active_directory_user WHERE forest_guid = ? AND status = ? AND is_sent_to_webserver = 0`,
		forestGUID, string(StatusNotPresent)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: counting not-present-not-sent users for %s: %w", forestGUID, err)
	}

	return n, nil
}

// SelectNotPresentInAdAndOfForest returns up to limit users with
// status=NotPresent for a forest — the deletion candidate pool of spec §3.
func (s *Store) SelectNotPresentInAdAndOfForest(ctx context.Context, forestGUID string, limit int) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT object_guid, forest_guid, distinguished_name, cn, account_name, user_principal_name,
			given_name, middle_name, sn, mail, telephone_number, mobile, title,
			employee_number, organization, division, department,
			usn_changed, is_deleted, user_account_control, pwd_last_set,
			status, qliq_id, is_sent_to_webserver, webserver_error
		FROM active_directory_user WHERE forest_guid = ? AND status = ? LIMIT ?`,
		forestGUID, string(StatusNotPresent), limit)
	if err != nil {
		return nil, fmt.Errorf("store: selecting not-present users for %s: %w", forestGUID, err)
	}
	defer rows.Close()

	var users []User

	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}

		users = append(users, u)
	}

	return users, rows.Err()
}

// ClearWebserverErrorNotIn clears webserver_error on every row whose error
// code is not in permanentErrors — called before each startPushing() per
// spec §4.E ("before each startPushing() the Store clears transient error
// codes").
func (s *Store) ClearWebserverErrorNotIn(ctx context.Context, permanentErrors []int) error {
	placeholders, args := inClausePlaceholders(permanentErrors)

	query := fmt.Sprintf(
		`UPDATE active_directory_user SET webserver_error = 0 WHERE webserver_error != 0 AND webserver_error NOT IN (%s)`,
		placeholders)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("store: clearing transient webserver errors: %w", err)
	}

	return nil
}

// SelectOneNotSentToWebserver returns the next pushable user after
// skipping the first skip rows in objectGUID order — the pusher's
// single shared cursor (spec §4.E).
func (s *Store) SelectOneNotSentToWebserver(ctx context.Context, skip int) (u User, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT object_guid, forest_guid, distinguished_name, cn, account_name, user_principal_name,
			given_name, middle_name, sn, mail, telephone_number, mobile, title,
			employee_number, organization, division, department,
			usn_changed, is_deleted, user_account_control, pwd_last_set,
			status, qliq_id, is_sent_to_webserver, webserver_error
		FROM active_directory_user WHERE is_sent_to_webserver = 0
		ORDER BY object_guid LIMIT 1 OFFSET ?`, skip)

	u, err = scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, false, nil
	}

	if err != nil {
		return User{}, false, fmt.Errorf("store: selecting unsent user: %w", err)
	}

	return u, true, nil
}

func inClausePlaceholders(ints []int) (string, []any) {
	if len(ints) == 0 {
		return "-1", nil
	}

	placeholders := ""
	args := make([]any, 0, len(ints))

	for i, v := range ints {
		if i > 0 {
			placeholders += ","
		}

		placeholders += "?"
		args = append(args, v)
	}

	return placeholders, args
}
