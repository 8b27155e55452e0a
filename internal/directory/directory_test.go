package directory

import (
	"errors"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
)

func TestValidateFilter(t *testing.T) {
	assert.NoError(t, validateFilter("(objectClass=user)"))
	assert.ErrorIs(t, validateFilter("objectClass=user"), ErrBadFilter)
	assert.ErrorIs(t, validateFilter("(uSNChanged>=100)"), ErrBadFilter)
}

func TestJoinUSNLowerBound(t *testing.T) {
	got := joinUSNLowerBound("(objectClass=user)", "1000")
	assert.Equal(t, "(&(objectClass=user)(uSNChanged>=1000))", got)
}

func TestDecodeObjectGUID(t *testing.T) {
	raw := []byte{
		0x01, 0x02, 0x03, 0x04,
		0x05, 0x06,
		0x07, 0x08,
		0x09, 0x0a,
		0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10,
	}

	got := decodeObjectGUID(raw)
	assert.Equal(t, "04030201-0605-0807-090a-0b0c0d0e0f10", got)

	assert.Equal(t, "", decodeObjectGUID([]byte{0x01, 0x02}))
}

func TestSubCodeFromMessage(t *testing.T) {
	cases := map[string]InvalidCredentialsSubCode{
		"80090308: LdapErr: DSID-0C090442, comment: AcceptSecurityContext error, data 525, v3839": SubCodeUserNotFound,
		"80090308: LdapErr: DSID-0C090442, comment: AcceptSecurityContext error, data 52e, v3839": SubCodeInvalidPassword,
		"80090308: LdapErr: DSID-0C090442, comment: AcceptSecurityContext error, data 533, v3839": SubCodeAccountDisabled,
		"80090308: LdapErr: DSID-0C090442, comment: AcceptSecurityContext error, data 775, v3839": SubCodeAccountLocked,
		"no embedded code here": SubCodeUnknown,
	}

	for msg, want := range cases {
		assert.Equal(t, want, subCodeFromMessage(msg), msg)
	}
}

func TestClassifyBindError_InvalidCredentials(t *testing.T) {
	err := &ldap.Error{
		ResultCode: ldap.LDAPResultInvalidCredentials,
		Err:        errors.New("80090308: LdapErr: DSID-0C090442, comment: AcceptSecurityContext error, data 532, v3839"),
	}

	result := classifyBindError(err)
	assert.Equal(t, AuthInvalidCredentials, result.Status)
	assert.Equal(t, SubCodePasswordExpired, result.SubCode)
	assert.Equal(t, "InvalidCredentials(password-expired)", result.String())
}

func TestClassifyBindError_ServerUnreachable(t *testing.T) {
	err := &ldap.Error{ResultCode: ldap.LDAPResultBusy, Err: errors.New("busy")}

	result := classifyBindError(err)
	assert.Equal(t, AuthServerUnreachable, result.Status)
}

func TestClassifyBindError_NonLDAPError(t *testing.T) {
	result := classifyBindError(errors.New("connection refused"))
	assert.Equal(t, AuthServerUnreachable, result.Status)
}

func TestAuthStatus_String(t *testing.T) {
	assert.Equal(t, "Ok", AuthOk.String())
	assert.Equal(t, "InvalidCredentials", AuthInvalidCredentials.String())
	assert.Equal(t, "ServerUnreachable", AuthServerUnreachable.String())
	assert.Equal(t, "Other", AuthOther.String())
}
