package directory

import (
	"encoding/binary"
	"fmt"

	"github.com/go-ldap/ldap/v3"
)

// userAttributes is the required fetch list for AdUser, per spec §6.
var userAttributes = []string{
	"distinguishedName", "name", "givenName", "middleName", "sn", "displayName",
	"mail", "telephoneNumber", "mobile", "title", "userPrincipalName",
	"uSNChanged", "objectGUID", "isDeleted", "userAccountControl",
	"msDS-User-Account-Control-Computed", "cn", "sAMAccountName", "memberOf",
	"objectClass", "employeeNumber", "o", "division", "department", "pwdLastSet",
}

// avatarAttributes is appended to userAttributes when avatars are enabled.
var avatarAttributes = []string{"thumbnailPhoto", "jpegPhoto"}

// groupAttributes is the required fetch list for AdGroup.
var groupAttributes = []string{
	"distinguishedName", "name", "cn", "uSNChanged", "objectGUID", "isDeleted",
	"memberOf", "objectClass",
}

func decodeObjectGUID(raw []byte) string {
	if len(raw) != 16 {
		return ""
	}

	// Active Directory stores objectGUID as a mixed-endian byte sequence:
	// the first three components are little-endian, the rest big-endian.
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		binary.LittleEndian.Uint32(raw[0:4]),
		binary.LittleEndian.Uint16(raw[4:6]),
		binary.LittleEndian.Uint16(raw[6:8]),
		raw[8:10],
		raw[10:16],
	)
}

func decodeUser(entry *ldap.Entry) AdUser {
	u := AdUser{
		AdEntity: AdEntity{
			ObjectGUID:        decodeObjectGUID(entry.GetRawAttributeValue("objectGUID")),
			DistinguishedName: entry.GetAttributeValue("distinguishedName"),
			CN:                entry.GetAttributeValue("cn"),
			AccountName:       entry.GetAttributeValue("sAMAccountName"),
			ObjectClasses:     entry.GetAttributeValues("objectClass"),
			MemberOf:          entry.GetAttributeValues("memberOf"),
			USNChanged:        entry.GetAttributeValue("uSNChanged"),
			IsDeleted:         entry.GetAttributeValue("isDeleted") == "TRUE",
			ValidState:        ValidStateValid,
		},
		GivenName:         entry.GetAttributeValue("givenName"),
		MiddleName:        entry.GetAttributeValue("middleName"),
		SN:                entry.GetAttributeValue("sn"),
		DisplayName:       entry.GetAttributeValue("displayName"),
		Mail:              entry.GetAttributeValue("mail"),
		TelephoneNumber:   entry.GetAttributeValue("telephoneNumber"),
		Mobile:            entry.GetAttributeValue("mobile"),
		Title:             entry.GetAttributeValue("title"),
		UserPrincipalName: entry.GetAttributeValue("userPrincipalName"),
		PwdLastSet:        entry.GetAttributeValue("pwdLastSet"),
		EmployeeNumber:    entry.GetAttributeValue("employeeNumber"),
		Organization:      entry.GetAttributeValue("o"),
		Division:          entry.GetAttributeValue("division"),
		Department:        entry.GetAttributeValue("department"),
	}

	if uac := entry.GetAttributeValue("userAccountControl"); uac != "" {
		fmt.Sscanf(uac, "%d", &u.UserAccountControl)
	}

	if avatar := entry.GetRawAttributeValue("thumbnailPhoto"); len(avatar) > 0 {
		u.Avatar = avatar
	} else if avatar := entry.GetRawAttributeValue("jpegPhoto"); len(avatar) > 0 {
		u.Avatar = avatar
	}

	return u
}

func decodeGroup(entry *ldap.Entry) AdGroup {
	return AdGroup{
		AdEntity: AdEntity{
			ObjectGUID:        decodeObjectGUID(entry.GetRawAttributeValue("objectGUID")),
			DistinguishedName: entry.GetAttributeValue("distinguishedName"),
			CN:                entry.GetAttributeValue("cn"),
			ObjectClasses:     entry.GetAttributeValues("objectClass"),
			MemberOf:          entry.GetAttributeValues("memberOf"),
			USNChanged:        entry.GetAttributeValue("uSNChanged"),
			IsDeleted:         entry.GetAttributeValue("isDeleted") == "TRUE",
			ValidState:        ValidStateValid,
		},
	}
}
