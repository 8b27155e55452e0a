package scim

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopSleep(_ context.Context, _ time.Duration) error { return nil }

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, "secret-key", srv.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.sleepFunc = noopSleep

	return c, srv
}

func TestUACFlags(t *testing.T) {
	assert.Empty(t, uacFlags(0))
	assert.Equal(t, []string{"account-disabled"}, uacFlags(uacAccountDisabled))
	assert.Equal(t, []string{"account-disabled", "account-locked", "password-changed"},
		uacFlags(uacAccountDisabled|uacLockout|passwordChangedLocally))
}

func TestTopLevelCN(t *testing.T) {
	assert.Equal(t, "Nurses", topLevelCN("CN=Nurses,OU=Groups,DC=example,DC=com"))
	assert.Equal(t, "example.com", topLevelCN("example.com"))
}

func TestToSCIMUser(t *testing.T) {
	in := UserInput{
		ObjectGUID:        "G1",
		UserPrincipalName: "alice@example.com",
		GivenName:         "Alice",
		SN:                "Smith",
		Mail:              "alice@example.com",
		TelephoneNumber:   "555-1000",
		Groups:            []GroupRef{{QliqID: "Q1", TopLevelCN: "Nurses"}},
	}

	u := toSCIMUser(in)
	assert.Equal(t, "G1", u.ExternalID)
	assert.Equal(t, "alice@example.com", u.UserName)
	assert.Equal(t, "Alice Smith", u.Name.Formatted)
	require.Len(t, u.Emails, 1)
	assert.True(t, u.Emails[0].Primary)
	require.Len(t, u.Groups, 1)
	assert.Equal(t, "/Groups/Q1", u.Groups[0].Ref)
	require.NotNil(t, u.Enterprise)
	assert.Empty(t, u.Photos, "no avatar bytes means no photos entry")
}

func TestToSCIMUser_AvatarEmbedsAsBase64Photo(t *testing.T) {
	in := UserInput{
		ObjectGUID:        "G1",
		UserPrincipalName: "alice@example.com",
		GivenName:         "Alice",
		SN:                "Smith",
		Avatar:            []byte{0xff, 0xd8, 0xff, 0x00},
	}

	u := toSCIMUser(in)
	require.Len(t, u.Photos, 1)
	assert.Equal(t, "photo", u.Photos[0].Type)
	assert.Equal(t, "data:image/jpeg;base64,/9j/AA==", u.Photos[0].Value)
}

func TestPushUser_CreateSuccess(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/Users", r.URL.Path)

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "", user)
		assert.Equal(t, "secret-key", pass)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "Q1"})
	})

	out, err := c.PushUser(context.Background(), UserInput{ObjectGUID: "G1", UserPrincipalName: "a@x.com"}, "", false)
	require.NoError(t, err)
	assert.Equal(t, "Q1", out.QliqID)
	assert.True(t, out.MarkSent)
	assert.True(t, out.CleanedError)
}

func TestPushUser_UpdateNotFoundBecomesCloudDeleted(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	out, err := c.PushUser(context.Background(), UserInput{ObjectGUID: "G1"}, "Q2", false)
	require.NoError(t, err)
	assert.True(t, out.IsDeleted)
	assert.Equal(t, http.StatusNotFound, out.WebserverError)
	assert.True(t, out.MarkSent)
}

func TestPushUser_PermanentErrorQuarantines(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})

	out, err := c.PushUser(context.Background(), UserInput{ObjectGUID: "G1"}, "", false)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, out.WebserverError)
	assert.False(t, out.MarkSent)
}

func TestPushUser_ConflictResolution(t *testing.T) {
	var calls []string

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)

		switch {
		case r.Method == http.MethodPost:
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]string{"id": "Q1"})
		case r.Method == http.MethodGet:
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{"id": "Q1"})
		case r.Method == http.MethodPut:
			w.WriteHeader(http.StatusOK)
		}
	})

	out, err := c.PushUser(context.Background(), UserInput{ObjectGUID: "G1"}, "", false)
	require.NoError(t, err)
	assert.Equal(t, "Q1", out.QliqID)
	assert.True(t, out.ResolvedConflict)
	assert.Equal(t, []string{"POST /Users", "GET /Users/Q1", "PUT /Users/Q1"}, calls)
}

func TestPushUser_DeletedWithQliqIDCallsDelete(t *testing.T) {
	called := false

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	})

	out, err := c.PushUser(context.Background(), UserInput{ObjectGUID: "G1"}, "Q1", true)
	require.NoError(t, err)
	assert.True(t, called)
	assert.True(t, out.MarkSent)
}

func TestPushUser_DeletedWithoutQliqIDSkipsCall(t *testing.T) {
	called := false

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	out, err := c.PushUser(context.Background(), UserInput{ObjectGUID: "G1"}, "", true)
	require.NoError(t, err)
	assert.False(t, called)
	assert.True(t, out.MarkSent)
}

func TestPushGroup_CreateSuccess(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Groups", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "Q9"})
	})

	out, err := c.PushGroup(context.Background(), GroupInput{ObjectGUID: "G1", DistinguishedName: "CN=Nurses,DC=x"}, "", false)
	require.NoError(t, err)
	assert.Equal(t, "Q9", out.QliqID)
}

func TestRetryOn5xxThenSucceed(t *testing.T) {
	attempts := 0

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "Q1"})
	})

	out, err := c.PushUser(context.Background(), UserInput{ObjectGUID: "G1"}, "", false)
	require.NoError(t, err)
	assert.Equal(t, "Q1", out.QliqID)
	assert.Equal(t, 2, attempts)
}

func TestIsPermanentAndIsNetwork(t *testing.T) {
	assert.True(t, IsPermanent(&StatusError{StatusCode: http.StatusBadRequest, Err: ErrBadRequest}))
	assert.True(t, IsPermanent(&StatusError{StatusCode: http.StatusNotFound, Err: ErrNotFound}))
	assert.False(t, IsPermanent(&StatusError{StatusCode: http.StatusConflict, Err: ErrConflict}))
	assert.True(t, IsNetwork(&NetworkError{Op: "POST /Users", Err: context.DeadlineExceeded}))
}
