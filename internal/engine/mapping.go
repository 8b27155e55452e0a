package engine

import (
	"context"
	"fmt"

	"github.com/qliqsoft/adbridge/internal/scim"
	"github.com/qliqsoft/adbridge/internal/store"
)

// toUserInput builds the scim package's UserInput from a persisted user row,
// resolving its current group memberships to qliqId/topLevelCn refs (spec
// §6: "optionally groups[{value=qliqId,display=topLevelCn,$ref=...}]").
// Groups without a qliqId yet (not pushed) are omitted — the cloud side has
// no handle to reference them until their own push completes.
func toUserInput(ctx context.Context, s Store, u store.User) (scim.UserInput, error) {
	groups, err := s.SelectGroupsOfUser(ctx, u.ObjectGUID)
	if err != nil {
		return scim.UserInput{}, fmt.Errorf("engine: resolving groups for user %s: %w", u.ObjectGUID, err)
	}

	var refs []scim.GroupRef

	for _, g := range groups {
		if g.QliqID == "" {
			continue
		}

		refs = append(refs, scim.GroupRef{QliqID: g.QliqID, TopLevelCN: g.CN})
	}

	var avatar []byte

	if a, ok, err := s.SelectAvatar(ctx, u.ObjectGUID); err != nil {
		return scim.UserInput{}, fmt.Errorf("engine: resolving avatar for user %s: %w", u.ObjectGUID, err)
	} else if ok {
		avatar = a.Data
	}

	return scim.UserInput{
		ObjectGUID:         u.ObjectGUID,
		UserPrincipalName:  u.UserPrincipalName,
		GivenName:          u.GivenName,
		MiddleName:         u.MiddleName,
		SN:                 u.SN,
		Title:              u.Title,
		TelephoneNumber:    u.TelephoneNumber,
		Mobile:             u.Mobile,
		Mail:               u.Mail,
		UserAccountControl: u.UserAccountControl,
		PwdLastSet:         u.PwdLastSet,
		DistinguishedName:  u.DistinguishedName,
		EmployeeNumber:     u.EmployeeNumber,
		Organization:       u.Organization,
		Division:           u.Division,
		Department:         u.Department,
		Groups:             refs,
		Avatar:             avatar,
	}, nil
}

func toGroupInput(g store.Group) scim.GroupInput {
	return scim.GroupInput{ObjectGUID: g.ObjectGUID, DistinguishedName: g.DistinguishedName}
}

// userPushValid reports whether a user row meets the cloud's mandatory-field
// constraint, re-evaluated on each write per spec §4.F: "validity (§4.E for
// cloud constraints: non-empty objectGuid, userPrincipalName, first and last
// name for users; objectGuid and cn for groups) is re-evaluated on each
// write."
func userPushValid(u store.User) bool {
	return u.ObjectGUID != "" && u.UserPrincipalName != "" && u.GivenName != "" && u.SN != ""
}

func groupPushValid(g store.Group) bool {
	return g.ObjectGUID != "" && g.CN != ""
}
