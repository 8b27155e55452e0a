package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/qliqsoft/adbridge/internal/forest"
)

// LoadForests hydrates every forest and its controllers from the database,
// implementing forest.Store for the DC Manager.
func (s *Store) LoadForests(ctx context.Context) ([]forest.Forest, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT object_guid, user_name, password, sync_group FROM active_directory_forest ORDER BY object_guid`)
	if err != nil {
		return nil, fmt.Errorf("store: loading forests: %w", err)
	}
	defer rows.Close()

	var forests []forest.Forest

	for rows.Next() {
		var f forest.Forest
		if err := rows.Scan(&f.ObjectGUID, &f.UserName, &f.Password, &f.SyncGroup); err != nil {
			return nil, fmt.Errorf("store: scanning forest: %w", err)
		}

		forests = append(forests, f)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range forests {
		controllers, err := s.loadControllers(ctx, forests[i].ObjectGUID)
		if err != nil {
			return nil, err
		}

		forests[i].Controllers = controllers
	}

	return forests, nil
}

func (s *Store) loadControllers(ctx context.Context, forestGUID string) ([]forest.DomainController, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT host, is_primary, dns_name FROM active_directory_forest_dc_membership WHERE forest_guid = ? ORDER BY host`,
		forestGUID)
	if err != nil {
		return nil, fmt.Errorf("store: loading controllers for %s: %w", forestGUID, err)
	}
	defer rows.Close()

	var controllers []forest.DomainController

	for rows.Next() {
		var dc forest.DomainController
		if err := rows.Scan(&dc.Host, &dc.IsPrimary, &dc.DNSName); err != nil {
			return nil, err
		}

		controllers = append(controllers, dc)
	}

	return controllers, rows.Err()
}

// UpdateControllerDNSName persists a lazily-resolved controller DNS name.
func (s *Store) UpdateControllerDNSName(ctx context.Context, forestGUID, host, dnsName string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE active_directory_forest_dc_membership SET dns_name = ? WHERE forest_guid = ? AND host = ?`,
		dnsName, forestGUID, host)
	if err != nil {
		return fmt.Errorf("store: updating dns name: %w", err)
	}

	return nil
}

// ApplyForestChanges applies a Comparator diff within a single transaction,
// per spec §4.B: partial failure rolls back the entire configuration apply.
func (s *Store) ApplyForestChanges(ctx context.Context, changes []forest.ForestWithChange) error {
	return s.withTx(ctx, "update AD forests", func(tx *sql.Tx) error {
		for _, c := range changes {
			if err := s.applyOneForestChange(ctx, tx, c); err != nil {
				return err
			}
		}

		return nil
	})
}

func (s *Store) applyOneForestChange(ctx context.Context, tx *sql.Tx, c forest.ForestWithChange) error {
	switch {
	case c.Changes.Has(forest.Deleted):
		return deleteForest(ctx, tx, c.Forest.ObjectGUID)
	case c.Changes.Has(forest.Added):
		return insertForest(ctx, tx, c.Forest)
	default:
		return updateForest(ctx, tx, c)
	}
}

func insertForest(ctx context.Context, tx *sql.Tx, f forest.Forest) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO active_directory_forest (object_guid, user_name, password, sync_group) VALUES (?, ?, ?, ?)`,
		f.ObjectGUID, f.UserName, f.Password, f.SyncGroup); err != nil {
		return fmt.Errorf("inserting forest %s: %w", f.ObjectGUID, err)
	}

	for _, dc := range f.Controllers {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO active_directory_forest_dc_membership (forest_guid, host, is_primary, dns_name) VALUES (?, ?, ?, ?)`,
			f.ObjectGUID, dc.Host, dc.IsPrimary, dc.DNSName); err != nil {
			return fmt.Errorf("inserting controller %s for forest %s: %w", dc.Host, f.ObjectGUID, err)
		}
	}

	return nil
}

func deleteForest(ctx context.Context, tx *sql.Tx, objectGUID string) error {
	// Foreign keys (ON DELETE CASCADE) remove users, groups, DC memberships,
	// forest-group memberships, and user/group membership rows. Sync context
	// has no FK (it is keyed by host, not a single parent row) so it is
	// cleared explicitly; forest-group membership is cleared explicitly too.
	if _, err := tx.ExecContext(ctx, `DELETE FROM active_directory_sync_context WHERE forest_guid = ?`, objectGUID); err != nil {
		return fmt.Errorf("deleting sync context for forest %s: %w", objectGUID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM active_directory_forest_group_membership WHERE forest_guid = ?`, objectGUID); err != nil {
		return fmt.Errorf("deleting forest-group membership for forest %s: %w", objectGUID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM active_directory_forest WHERE object_guid = ?`, objectGUID); err != nil {
		return fmt.Errorf("deleting forest %s: %w", objectGUID, err)
	}

	return nil
}

func updateForest(ctx context.Context, tx *sql.Tx, c forest.ForestWithChange) error {
	f := c.Forest

	if c.Changes.Has(forest.CredentialsChanged) {
		if _, err := tx.ExecContext(ctx,
			`UPDATE active_directory_forest SET user_name = ?, password = ? WHERE object_guid = ?`,
			f.UserName, f.Password, f.ObjectGUID); err != nil {
			return fmt.Errorf("updating credentials for forest %s: %w", f.ObjectGUID, err)
		}
	}

	if c.Changes.Has(forest.SyncGroupChanged) {
		if _, err := tx.ExecContext(ctx,
			`UPDATE active_directory_forest SET sync_group = ? WHERE object_guid = ?`,
			f.SyncGroup, f.ObjectGUID); err != nil {
			return fmt.Errorf("updating sync group for forest %s: %w", f.ObjectGUID, err)
		}

		// Forces a full re-scan rooted at the new group.
		if _, err := tx.ExecContext(ctx, `DELETE FROM active_directory_sync_context WHERE forest_guid = ?`, f.ObjectGUID); err != nil {
			return fmt.Errorf("clearing sync context after sync-group change for forest %s: %w", f.ObjectGUID, err)
		}
	}

	for _, dcc := range c.DomainControllerChanges {
		if err := applyControllerChange(ctx, tx, f.ObjectGUID, dcc); err != nil {
			return err
		}
	}

	return nil
}

func applyControllerChange(ctx context.Context, tx *sql.Tx, forestGUID string, dcc forest.DomainControllerWithChange) error {
	switch dcc.Change {
	case forest.DCAdded:
		_, err := tx.ExecContext(ctx,
			`INSERT INTO active_directory_forest_dc_membership (forest_guid, host, is_primary, dns_name) VALUES (?, ?, ?, ?)`,
			forestGUID, dcc.Controller.Host, dcc.Controller.IsPrimary, dcc.Controller.DNSName)
		if err != nil {
			return fmt.Errorf("inserting controller %s: %w", dcc.Controller.Host, err)
		}
	case forest.DCDeleted:
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM active_directory_forest_dc_membership WHERE forest_guid = ? AND host = ?`,
			forestGUID, dcc.Controller.Host); err != nil {
			return fmt.Errorf("deleting controller %s: %w", dcc.Controller.Host, err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM active_directory_sync_context WHERE forest_guid = ? AND controller_host = ?`,
			forestGUID, dcc.Controller.Host); err != nil {
			return fmt.Errorf("deleting sync context for controller %s: %w", dcc.Controller.Host, err)
		}
	case forest.DCPrimaryChanged:
		if _, err := tx.ExecContext(ctx,
			`UPDATE active_directory_forest_dc_membership SET is_primary = ? WHERE forest_guid = ? AND host = ?`,
			dcc.Controller.IsPrimary, forestGUID, dcc.Controller.Host); err != nil {
			return fmt.Errorf("updating primary flag for controller %s: %w", dcc.Controller.Host, err)
		}
	}

	return nil
}
