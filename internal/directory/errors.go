package directory

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// dataCodePattern extracts the embedded AD sub-status hex code from a bind
// error's diagnostic message, e.g. "80090308: LdapErr: ... data 532, ...".
var dataCodePattern = regexp.MustCompile(`data ([0-9a-fA-F]+)`)

// adSubCodes maps the AD extended sub-status hex code to its symbolic
// sub-reason, per spec §4.A's enumerated list.
var adSubCodes = map[string]InvalidCredentialsSubCode{
	"525": SubCodeUserNotFound,
	"52e": SubCodeInvalidPassword,
	"530": SubCodeTimeRestrictions,
	"531": SubCodeComputerRestrictions,
	"532": SubCodePasswordExpired,
	"533": SubCodeAccountDisabled,
	"534": SubCodeAccountRestrictions,
	"568": SubCodeTooManySIDs,
	"701": SubCodeAccountExpired,
	"773": SubCodePasswordMustChange,
	"775": SubCodeAccountLocked,
}

// classifyBindError turns a raw LDAP bind error into the stable AuthResult
// the rest of the engine reasons about (spec §4.A): Ok, InvalidCredentials
// (with sub-code), ServerUnreachable, or Other(hr).
func classifyBindError(err error) AuthResult {
	var ldapErr *ldap.Error
	if !errors.As(err, &ldapErr) {
		return AuthResult{Status: AuthServerUnreachable, Err: err}
	}

	switch ldapErr.ResultCode {
	case ldap.LDAPResultInvalidCredentials:
		return AuthResult{Status: AuthInvalidCredentials, SubCode: subCodeFromMessage(ldapErr.Error()), Err: err}
	case ldap.LDAPResultUnwillingToPerform, ldap.LDAPResultInappropriateAuthentication:
		return AuthResult{Status: AuthInvalidCredentials, SubCode: SubCodeAccountRestrictions, Err: err}
	case ldap.LDAPResultTimeLimitExceeded, ldap.LDAPResultBusy, ldap.LDAPResultUnavailable:
		return AuthResult{Status: AuthServerUnreachable, Err: err}
	default:
		return AuthResult{Status: AuthOther, Err: err}
	}
}

func subCodeFromMessage(msg string) InvalidCredentialsSubCode {
	m := dataCodePattern.FindStringSubmatch(msg)
	if m == nil {
		return SubCodeUnknown
	}

	// Normalize to a bare 3-digit lowercase hex code; AD embeds it with
	// varying surrounding punctuation/case across server versions.
	code := strings.ToLower(m[1])
	if len(code) > 3 {
		code = code[len(code)-3:]
	}

	if _, err := strconv.ParseUint(code, 16, 32); err != nil {
		return SubCodeUnknown
	}

	if sub, ok := adSubCodes[code]; ok {
		return sub
	}

	return SubCodeUnknown
}

// permanentSearchErrors are LDAP result codes that should abort a forest
// cycle without retry (distinct from bind errors) — size/admin limits and
// malformed requests, per spec §4.A's filter-validation requirement.
var permanentSearchErrors = map[uint16]bool{
	ldap.LDAPResultSizeLimitExceeded:  true,
	ldap.LDAPResultAdminLimitExceeded: true,
	ldap.LDAPResultFilterError:        true,
	ldap.LDAPResultInvalidDNSyntax:    true,
}

func isPermanentSearchError(err error) bool {
	var ldapErr *ldap.Error
	if !errors.As(err, &ldapErr) {
		return false
	}

	return permanentSearchErrors[ldapErr.ResultCode]
}
