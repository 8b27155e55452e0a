package engine

import (
	"context"
	"log/slog"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qliqsoft/adbridge/internal/directory"
	"github.com/qliqsoft/adbridge/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProcessGroup_NewMainGroupAlwaysSentToWebserver(t *testing.T) {
	s := newFakeStore()
	g := directory.AdGroup{AdEntity: directory.AdEntity{ObjectGUID: "g1", CN: "qliqConnect", USNChanged: "100"}}

	require.NoError(t, processGroup(context.Background(), s, "f1", g, true, true, testLogger()))

	row, ok, err := s.SelectGroup(context.Background(), "g1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, row.IsMainGroup)
	assert.True(t, row.IsSentToWebserver, "main group must never be queued for push")
	assert.Equal(t, store.StatusPresent, row.Status)
}

func TestProcessGroup_NewSubgroupQueuedForPush(t *testing.T) {
	s := newFakeStore()
	g := directory.AdGroup{AdEntity: directory.AdEntity{ObjectGUID: "g2", CN: "Nurses", USNChanged: "101"}}

	require.NoError(t, processGroup(context.Background(), s, "f1", g, false, true, testLogger()))

	row, ok, _ := s.SelectGroup(context.Background(), "g2")
	require.True(t, ok)
	assert.False(t, row.IsSentToWebserver)
}

func TestProcessGroup_UnchangedUSNKeepsPushState(t *testing.T) {
	s := newFakeStore()
	require.NoError(t, s.UpsertGroup(context.Background(), store.Group{
		ObjectGUID: "g2", ForestGUID: "f1", USNChanged: "101", QliqID: "Q1", IsSentToWebserver: true, Status: store.StatusUnknown,
	}))

	g := directory.AdGroup{AdEntity: directory.AdEntity{ObjectGUID: "g2", USNChanged: "101"}}
	require.NoError(t, processGroup(context.Background(), s, "f1", g, false, true, testLogger()))

	row, _, _ := s.SelectGroup(context.Background(), "g2")
	assert.Equal(t, "Q1", row.QliqID)
	assert.True(t, row.IsSentToWebserver)
	assert.Equal(t, store.StatusPresent, row.Status)
}

func TestProcessGroup_ChangedUSNRequeuesForPush(t *testing.T) {
	s := newFakeStore()
	require.NoError(t, s.UpsertGroup(context.Background(), store.Group{
		ObjectGUID: "g2", ForestGUID: "f1", USNChanged: "101", QliqID: "Q1", IsSentToWebserver: true, Status: store.StatusUnknown,
	}))

	g := directory.AdGroup{AdEntity: directory.AdEntity{ObjectGUID: "g2", CN: "NursesRenamed", USNChanged: "202"}}
	require.NoError(t, processGroup(context.Background(), s, "f1", g, false, true, testLogger()))

	row, _, _ := s.SelectGroup(context.Background(), "g2")
	assert.False(t, row.IsSentToWebserver)
	assert.Equal(t, "Q1", row.QliqID, "keeps its cloud identity across an update")
}

func TestProcessGroup_QuarantinedRowSkipsUpdate(t *testing.T) {
	s := newFakeStore()
	require.NoError(t, s.UpsertGroup(context.Background(), store.Group{
		ObjectGUID: "g2", ForestGUID: "f1", CN: "stale-name", USNChanged: "101", WebserverError: 404, Status: store.StatusUnknown,
	}))

	g := directory.AdGroup{AdEntity: directory.AdEntity{ObjectGUID: "g2", CN: "new-name", USNChanged: "999"}}
	require.NoError(t, processGroup(context.Background(), s, "f1", g, false, true, testLogger()))

	row, _, _ := s.SelectGroup(context.Background(), "g2")
	assert.Equal(t, "stale-name", row.CN, "quarantined row's attributes are never touched")
	assert.Equal(t, store.StatusPresent, row.Status)
}

func TestProcessGroup_SubgroupsDisabledForceDeletesNonMain(t *testing.T) {
	s := newFakeStore()
	require.NoError(t, s.UpsertGroup(context.Background(), store.Group{
		ObjectGUID: "g2", ForestGUID: "f1", QliqID: "Q1", IsSentToWebserver: true, Status: store.StatusUnknown,
	}))

	g := directory.AdGroup{AdEntity: directory.AdEntity{ObjectGUID: "g2", USNChanged: "101"}}
	require.NoError(t, processGroup(context.Background(), s, "f1", g, false, false, testLogger()))

	row, _, _ := s.SelectGroup(context.Background(), "g2")
	assert.True(t, row.IsDeleted)
	assert.False(t, row.IsSentToWebserver, "has a qliqId so the cloud DELETE must still go out")
}

func TestProcessGroup_ReenablingSubgroupsUndeletesGhost(t *testing.T) {
	s := newFakeStore()
	require.NoError(t, s.UpsertGroup(context.Background(), store.Group{
		ObjectGUID: "g2", ForestGUID: "f1", IsDeleted: true, IsSentToWebserver: true, Status: store.StatusUnknown,
	}))

	g := directory.AdGroup{AdEntity: directory.AdEntity{ObjectGUID: "g2", USNChanged: "101"}}
	require.NoError(t, processGroup(context.Background(), s, "f1", g, false, true, testLogger()))

	row, _, _ := s.SelectGroup(context.Background(), "g2")
	assert.False(t, row.IsDeleted)
	assert.False(t, row.IsSentToWebserver, "undeleted group is queued for a fresh create")
}

func TestProcessUser_DisabledAndUnknownIsIgnored(t *testing.T) {
	s := newFakeStore()
	u := directory.AdUser{AdEntity: directory.AdEntity{ObjectGUID: "u1"}, UserPrincipalName: "alice@x", UserAccountControl: 0x2}

	require.NoError(t, processUser(context.Background(), s, "f1", u, false, testLogger()))

	_, ok, _ := s.SelectUser(context.Background(), "u1")
	assert.False(t, ok, "never-seen disabled account must not be inserted")
}

func TestProcessUser_EmptyUPNSkipped(t *testing.T) {
	s := newFakeStore()
	u := directory.AdUser{AdEntity: directory.AdEntity{ObjectGUID: "u1"}}

	require.NoError(t, processUser(context.Background(), s, "f1", u, false, testLogger()))

	_, ok, _ := s.SelectUser(context.Background(), "u1")
	assert.False(t, ok)
}

func TestProcessUser_NewUserInserted(t *testing.T) {
	s := newFakeStore()
	u := directory.AdUser{
		AdEntity:          directory.AdEntity{ObjectGUID: "u1", USNChanged: "55"},
		UserPrincipalName: "alice@x", GivenName: "Alice", SN: "Smith",
	}

	require.NoError(t, processUser(context.Background(), s, "f1", u, false, testLogger()))

	row, ok, _ := s.SelectUser(context.Background(), "u1")
	require.True(t, ok)
	assert.Equal(t, store.StatusPresent, row.Status)
	assert.False(t, row.IsDeleted)
}

func TestProcessUser_DisabledExistingUserBecomesDeleted(t *testing.T) {
	s := newFakeStore()
	require.NoError(t, s.UpsertUser(context.Background(), store.User{
		ObjectGUID: "u1", ForestGUID: "f1", QliqID: "Q1", UserPrincipalName: "alice@x",
		GivenName: "Alice", SN: "Smith", USNChanged: "1", IsSentToWebserver: true, Status: store.StatusUnknown,
	}))

	u := directory.AdUser{
		AdEntity:          directory.AdEntity{ObjectGUID: "u1", USNChanged: "2"},
		UserPrincipalName: "alice@x", GivenName: "Alice", SN: "Smith", UserAccountControl: 0x2,
	}

	require.NoError(t, processUser(context.Background(), s, "f1", u, false, testLogger()))

	row, _, _ := s.SelectUser(context.Background(), "u1")
	assert.True(t, row.IsDeleted)
	assert.False(t, row.IsSentToWebserver)
	assert.Equal(t, "Q1", row.QliqID)
}

func TestProcessUser_PasswordChangeFlipsLocalBit(t *testing.T) {
	s := newFakeStore()
	require.NoError(t, s.UpsertUser(context.Background(), store.User{
		ObjectGUID: "u1", ForestGUID: "f1", UserPrincipalName: "alice@x", GivenName: "Alice", SN: "Smith",
		USNChanged: "1", PwdLastSet: "100", Status: store.StatusUnknown,
	}))

	u := directory.AdUser{
		AdEntity:          directory.AdEntity{ObjectGUID: "u1", USNChanged: "2"},
		UserPrincipalName: "alice@x", GivenName: "Alice", SN: "Smith", PwdLastSet: "200",
	}

	require.NoError(t, processUser(context.Background(), s, "f1", u, false, testLogger()))

	row, _, _ := s.SelectUser(context.Background(), "u1")
	assert.NotZero(t, row.UserAccountControl&store.PasswordChangedLocally)
}

func TestProcessUser_QuarantinedSkipsUpdate(t *testing.T) {
	s := newFakeStore()
	require.NoError(t, s.UpsertUser(context.Background(), store.User{
		ObjectGUID: "u1", ForestGUID: "f1", UserPrincipalName: "alice@x", WebserverError: 404, Status: store.StatusUnknown,
	}))

	u := directory.AdUser{
		AdEntity:          directory.AdEntity{ObjectGUID: "u1", USNChanged: "9"},
		UserPrincipalName: "alice@x", GivenName: "New", SN: "Name",
	}

	require.NoError(t, processUser(context.Background(), s, "f1", u, false, testLogger()))

	row, _, _ := s.SelectUser(context.Background(), "u1")
	assert.Equal(t, "", row.GivenName, "quarantined row's attributes are never touched")
	assert.Equal(t, store.StatusPresent, row.Status)
}
