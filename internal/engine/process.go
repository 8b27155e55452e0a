package engine

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"log/slog"

	"github.com/qliqsoft/adbridge/internal/directory"
	"github.com/qliqsoft/adbridge/internal/store"
)

// uacAccountDisabled is the ACCOUNTDISABLE userAccountControl bit (spec
// §6). Re-declared locally rather than imported from internal/scim, which
// keeps its own copy for the opposite direction (encoding the flag list
// onto the wire) — both sides are grounded on the same AD bit layout.
const uacAccountDisabled = 0x0002

// isPermanentError reports whether code is one of the permanent webserver
// error classes (spec §4.E/§7: 400, 404, 422) that quarantine a row until
// its AD attributes observably change.
func isPermanentError(code int) bool {
	for _, c := range permanentWebserverErrors {
		if c == code {
			return true
		}
	}

	return false
}

// processGroup applies the group decision table of spec §4.F to one
// directory-observed group. isMain marks the forest's own sync group
// (always IsSentToWebserver=true, never pushed); enableSubgroups gates
// whether a non-main group is kept at all (disabling subgroups
// force-deletes every non-main group, re-enabling undeletes them).
func processGroup(ctx context.Context, s Store, forestGUID string, g directory.AdGroup, isMain, enableSubgroups bool, logger *slog.Logger) error {
	prior, hadPrior, err := s.SelectGroup(ctx, g.ObjectGUID)
	if err != nil {
		return err
	}

	// Quarantined: the cloud already rejected this row permanently. Only
	// refresh its status so it survives this cycle's ghost sweep; never
	// touch any other attribute.
	if hadPrior && prior.WebserverError == 404 {
		prior.Status = store.StatusPresent
		return s.UpsertGroup(ctx, prior)
	}

	if !isMain && !enableSubgroups {
		if !hadPrior {
			return nil
		}

		prior.IsDeleted = true
		prior.Status = store.StatusPresent
		prior.IsSentToWebserver = prior.QliqID == ""

		return s.UpsertGroup(ctx, prior)
	}

	next := store.Group{
		ObjectGUID:        g.ObjectGUID,
		ForestGUID:        forestGUID,
		DistinguishedName: g.DistinguishedName,
		CN:                g.CN,
		USNChanged:        g.USNChanged,
		IsMainGroup:       isMain,
		Status:            store.StatusPresent,
	}

	switch {
	case !hadPrior:
		next.IsSentToWebserver = isMain
	case prior.USNChanged == g.USNChanged && g.USNChanged != "" && !prior.IsDeleted:
		// Unchanged since the last cycle: the status flip above already
		// reclassified it Present, nothing else to do.
		next.QliqID = prior.QliqID
		next.IsSentToWebserver = prior.IsSentToWebserver
		next.WebserverError = prior.WebserverError
	default:
		// Attributes changed, or the group is being undeleted after
		// subgroups were re-enabled: queue for push, keep its cloud
		// identity if it has one, clear any non-permanent error.
		next.QliqID = prior.QliqID
		next.IsSentToWebserver = isMain

		if prior.WebserverError != 0 && !isPermanentError(prior.WebserverError) {
			next.WebserverError = 0
		} else {
			next.WebserverError = prior.WebserverError
		}
	}

	return s.UpsertGroup(ctx, next)
}

// processUser applies the user decision table of spec §4.F to one
// directory-observed user.
func processUser(ctx context.Context, s Store, forestGUID string, u directory.AdUser, enableAvatars bool, logger *slog.Logger) error {
	prior, hadPrior, err := s.SelectUser(ctx, u.ObjectGUID)
	if err != nil {
		return err
	}

	disabled := u.UserAccountControl&uacAccountDisabled != 0

	if disabled && !hadPrior {
		return nil
	}

	if u.UserPrincipalName == "" {
		logger.Warn("engine: skipping user with empty userPrincipalName", slog.String("user", u.ObjectGUID))
		return nil
	}

	if hadPrior && prior.WebserverError == 404 {
		prior.Status = store.StatusPresent
		return s.UpsertUser(ctx, prior)
	}

	next := store.User{
		ObjectGUID:         u.ObjectGUID,
		ForestGUID:         forestGUID,
		DistinguishedName:  u.DistinguishedName,
		CN:                 u.CN,
		AccountName:        u.AccountName,
		UserPrincipalName:  u.UserPrincipalName,
		GivenName:          u.GivenName,
		MiddleName:         u.MiddleName,
		SN:                 u.SN,
		Mail:               u.Mail,
		TelephoneNumber:    u.TelephoneNumber,
		Mobile:             u.Mobile,
		Title:              u.Title,
		EmployeeNumber:     u.EmployeeNumber,
		Organization:       u.Organization,
		Division:           u.Division,
		Department:         u.Department,
		USNChanged:         u.USNChanged,
		UserAccountControl: u.UserAccountControl,
		PwdLastSet:         u.PwdLastSet,
		Status:             store.StatusPresent,
	}

	switch {
	case !hadPrior:
		next.IsDeleted = disabled
	case prior.USNChanged == u.USNChanged && u.USNChanged != "" && !disabled && !prior.IsDeleted:
		next.QliqID = prior.QliqID
		next.IsSentToWebserver = prior.IsSentToWebserver
		next.WebserverError = prior.WebserverError
		next.UserAccountControl = prior.UserAccountControl
		next.PwdLastSet = prior.PwdLastSet
	default:
		// Disabled is treated identically to deleted (spec §4.F); a
		// pwdLastSet change flips the locally-reserved "password changed"
		// bit, preserved across writes until a successful push clears it.
		next.QliqID = prior.QliqID
		next.IsDeleted = disabled

		if prior.PwdLastSet != "" && prior.PwdLastSet != u.PwdLastSet {
			next.UserAccountControl |= store.PasswordChangedLocally
		} else {
			next.UserAccountControl |= prior.UserAccountControl & store.PasswordChangedLocally
		}

		if disabled {
			next.IsSentToWebserver = false
		}

		if prior.WebserverError != 0 && !isPermanentError(prior.WebserverError) {
			next.WebserverError = 0
		} else {
			next.WebserverError = prior.WebserverError
		}
	}

	if err := s.UpsertUser(ctx, next); err != nil {
		return err
	}

	if enableAvatars && len(u.Avatar) > 0 {
		sum := md5.Sum(u.Avatar)
		if err := s.UpsertAvatar(ctx, store.Avatar{UserGUID: u.ObjectGUID, Data: u.Avatar, MD5: hex.EncodeToString(sum[:])}); err != nil {
			logger.Warn("engine: persisting avatar failed", slog.String("user", u.ObjectGUID), slog.String("error", err.Error()))
		}
	}

	return nil
}
