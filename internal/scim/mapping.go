package scim

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// Active Directory userAccountControl bits relevant to the pushed flag
// list (spec §6). passwordChangedLocally repurposes bit 0x4 (a bit AD
// itself leaves undefined) as a local overlay
// flag tracking "pwdLastSet changed since last push" — see
// internal/store.PasswordChangedLocally.
const (
	uacAccountDisabled     = 0x0002
	uacLockout             = 0x0010
	uacPasswordCantChange  = 0x0040
	passwordChangedLocally = 0x0004
	uacPasswordExpired     = 0x800000
)

func uacFlags(uac int) []string {
	var flags []string

	if uac&uacAccountDisabled != 0 {
		flags = append(flags, "account-disabled")
	}

	if uac&uacLockout != 0 {
		flags = append(flags, "account-locked")
	}

	if uac&uacPasswordExpired != 0 {
		flags = append(flags, "password-expired")
	}

	if uac&uacPasswordCantChange != 0 {
		flags = append(flags, "password-cant-change")
	}

	if uac&passwordChangedLocally != 0 {
		flags = append(flags, "password-changed")
	}

	return flags
}

// GroupRef is one entry of a pushed user's `groups` array.
type GroupRef struct {
	QliqID    string
	TopLevelCN string
}

// UserInput is everything the mapper needs to build a SCIM user payload,
// decoupled from internal/store's row shape so this package stays a leaf.
type UserInput struct {
	ObjectGUID         string
	UserPrincipalName  string
	GivenName          string
	MiddleName         string
	SN                 string
	Title              string
	TelephoneNumber    string
	Mobile             string
	Mail               string
	UserAccountControl int
	PwdLastSet         string
	DistinguishedName  string
	EmployeeNumber     string
	Organization       string
	Division           string
	Department         string
	Groups             []GroupRef

	// Avatar is the user's raw photo bytes (AD's thumbnailPhoto/jpegPhoto
	// attribute), pushed alongside the rest of the user's attributes on the
	// same create/update call rather than as a separate pass — the cloud
	// side has no endpoint for avatars on their own.
	Avatar []byte
}

// GroupInput is everything the mapper needs to build a SCIM group payload.
type GroupInput struct {
	ObjectGUID        string
	DistinguishedName string
}

type scimName struct {
	Formatted  string `json:"formatted"`
	GivenName  string `json:"givenName"`
	FamilyName string `json:"familyName"`
	MiddleName string `json:"middleName,omitempty"`
}

type scimPhoneNumber struct {
	Value string `json:"value"`
	Type  string `json:"type"`
}

type scimEmail struct {
	Value   string `json:"value"`
	Type    string `json:"type"`
	Primary bool   `json:"primary"`
}

type scimGroupRef struct {
	Value   string `json:"value"`
	Display string `json:"display"`
	Ref     string `json:"$ref"`
}

// scimPhoto carries the avatar inline as a base64 data URI, the SCIM-core
// `photos` attribute repurposed for a payload that never has its own URL.
type scimPhoto struct {
	Value string `json:"value"`
	Type  string `json:"type"`
}

type scimEnterpriseExtension struct {
	EmployeeNumber string `json:"employeeNumber,omitempty"`
	Organization   string `json:"organization,omitempty"`
	Division       string `json:"division,omitempty"`
	Department     string `json:"department,omitempty"`
}

// scimUser is the wire shape pushed to /scimv2/Users, per spec §6.
type scimUser struct {
	Schemas            []string                 `json:"schemas"`
	ExternalID         string                   `json:"externalId"`
	UserName           string                   `json:"userName"`
	Name               scimName                 `json:"name"`
	Title              string                   `json:"title,omitempty"`
	PhoneNumbers       []scimPhoneNumber        `json:"phoneNumbers,omitempty"`
	Emails             []scimEmail              `json:"emails,omitempty"`
	UserAccountControl string                   `json:"userAccountControl,omitempty"`
	PwdLastSet         string                   `json:"pwdLastSet,omitempty"`
	DistinguishedName  string                   `json:"distinguishedName,omitempty"`
	Groups             []scimGroupRef           `json:"groups,omitempty"`
	Photos             []scimPhoto              `json:"photos,omitempty"`
	EmployeeNumber     string                   `json:"employeeNumber,omitempty"`
	Organization       string                   `json:"organization,omitempty"`
	Division           string                   `json:"division,omitempty"`
	Department         string                   `json:"department,omitempty"`
	Enterprise         *scimEnterpriseExtension `json:"urn:ietf:params:scim:schemas:extension:enterprise:2.0:User,omitempty"`
}

const enterpriseSchema = "urn:ietf:params:scim:schemas:extension:enterprise:2.0:User"

func toSCIMUser(in UserInput) scimUser {
	u := scimUser{
		Schemas:    []string{"urn:ietf:params:scim:schemas:core:2.0:User", enterpriseSchema},
		ExternalID: in.ObjectGUID,
		UserName:   in.UserPrincipalName,
		Name: scimName{
			Formatted:  strings.Join(strings.Fields(strings.Join([]string{in.GivenName, in.MiddleName, in.SN}, " ")), " "),
			GivenName:  in.GivenName,
			FamilyName: in.SN,
			MiddleName: in.MiddleName,
		},
		Title:             in.Title,
		PwdLastSet:        in.PwdLastSet,
		DistinguishedName: in.DistinguishedName,
		EmployeeNumber:    in.EmployeeNumber,
		Organization:      in.Organization,
		Division:          in.Division,
		Department:        in.Department,
		Enterprise: &scimEnterpriseExtension{
			EmployeeNumber: in.EmployeeNumber,
			Organization:   in.Organization,
			Division:       in.Division,
			Department:     in.Department,
		},
	}

	if flags := uacFlags(in.UserAccountControl); len(flags) > 0 {
		u.UserAccountControl = strings.Join(flags, ";")
	}

	if in.TelephoneNumber != "" {
		u.PhoneNumbers = append(u.PhoneNumbers, scimPhoneNumber{Value: in.TelephoneNumber, Type: "work"})
	}

	if in.Mobile != "" {
		u.PhoneNumbers = append(u.PhoneNumbers, scimPhoneNumber{Value: in.Mobile, Type: "mobile"})
	}

	if in.Mail != "" {
		u.Emails = append(u.Emails, scimEmail{Value: in.Mail, Type: "work", Primary: true})
	}

	for _, g := range in.Groups {
		u.Groups = append(u.Groups, scimGroupRef{
			Value:   g.QliqID,
			Display: g.TopLevelCN,
			Ref:     "/Groups/" + g.QliqID,
		})
	}

	if len(in.Avatar) > 0 {
		u.Photos = []scimPhoto{{
			Value: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(in.Avatar),
			Type:  "photo",
		}}
	}

	return u
}

// scimGroup is the wire shape pushed to /scimv2/Groups.
type scimGroup struct {
	Schemas     []string `json:"schemas"`
	ExternalID  string   `json:"externalId"`
	DisplayName string   `json:"displayName"`
}

func toSCIMGroup(in GroupInput) scimGroup {
	return scimGroup{
		Schemas:     []string{"urn:ietf:params:scim:schemas:core:2.0:Group"},
		ExternalID:  in.ObjectGUID,
		DisplayName: topLevelCN(in.DistinguishedName),
	}
}

// topLevelCN extracts the display name from a distinguished name's first
// CN=<name>, segment, per spec §6: "displayName (top-level CN extracted
// from cn via the first CN=<name>, segment)".
func topLevelCN(dn string) string {
	const prefix = "CN="

	idx := strings.Index(strings.ToUpper(dn), prefix)
	if idx == -1 {
		return dn
	}

	rest := dn[idx+len(prefix):]
	if comma := strings.Index(rest, ","); comma != -1 {
		return rest[:comma]
	}

	return rest
}

// conflictBody is the minimal shape of a 409 Conflict response body, per
// spec §4.E: "extract id from the conflict body".
type conflictBody struct {
	ID string `json:"id"`
}

// createdBody is the minimal shape of a 201/200 response body carrying the
// assigned cloud id.
type createdBody struct {
	ID string `json:"id"`
}

func parseID(body []byte) (string, bool) {
	var created createdBody
	if err := json.Unmarshal(body, &created); err == nil && created.ID != "" {
		return created.ID, true
	}

	return "", false
}

func parseConflictID(body []byte) (string, bool) {
	var conflict conflictBody
	if err := json.Unmarshal(body, &conflict); err == nil && conflict.ID != "" {
		return conflict.ID, true
	}

	return "", false
}
