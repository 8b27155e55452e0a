package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertAvatar stores or replaces a user's binary photo, kept in its own
// table (per the initial migration) so bulk status-transition scans never
// touch blob data.
func (s *Store) UpsertAvatar(ctx context.Context, a Avatar) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO active_directory_user_avatar (user_guid, avatar, avatar_md5) VALUES (?, ?, ?)
		ON CONFLICT(user_guid) DO UPDATE SET avatar = excluded.avatar, avatar_md5 = excluded.avatar_md5`,
		a.UserGUID, a.Data, a.MD5)
	if err != nil {
		return fmt.Errorf("store: upserting avatar for %s: %w", a.UserGUID, err)
	}

	return nil
}

// SelectAvatar fetches a user's avatar. ok is false if none is stored.
func (s *Store) SelectAvatar(ctx context.Context, userGUID string) (a Avatar, ok bool, err error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_guid, avatar, avatar_md5 FROM active_directory_user_avatar WHERE user_guid = ?`, userGUID)

	err = row.Scan(&a.UserGUID, &a.Data, &a.MD5)
	if errors.Is(err, sql.ErrNoRows) {
		return Avatar{}, false, nil
	}

	if err != nil {
		return Avatar{}, false, fmt.Errorf("store: selecting avatar for %s: %w", userGUID, err)
	}

	return a, true, nil
}

// DeleteAvatar removes a single user's stored avatar.
func (s *Store) DeleteAvatar(ctx context.Context, userGUID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM active_directory_user_avatar WHERE user_guid = ?`, userGUID); err != nil {
		return fmt.Errorf("store: deleting avatar for %s: %w", userGUID, err)
	}

	return nil
}

// DeleteAllAvatars wipes every stored avatar — the avatar on→off toggle's
// immediate-wipe behavior (spec §5: "avatar toggle from on→off wipes
// avatars immediately").
func (s *Store) DeleteAllAvatars(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM active_directory_user_avatar`); err != nil {
		return fmt.Errorf("store: deleting all avatars: %w", err)
	}

	return nil
}

// ClearAllFullSyncDates resets every forest's lastFullSyncDateTime, forcing
// a full resync on the next cycle — spec §5: "off→on with prior sync count
// > 0 forces the next run to be full by clearing every
// lastFullSyncDateTime", and similarly for the DN-auth off→on toggle.
func (s *Store) ClearAllFullSyncDates(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE active_directory_sync_context SET last_full_sync_datetime = NULL`); err != nil {
		return fmt.Errorf("store: clearing full sync dates: %w", err)
	}

	return nil
}
