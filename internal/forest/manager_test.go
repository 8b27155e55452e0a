package forest

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	forests       []Forest
	applied       []ForestWithChange
	dnsUpdates    map[string]string
	applyErr      error
}

func newFakeStore(forests []Forest) *fakeStore {
	return &fakeStore{forests: forests, dnsUpdates: map[string]string{}}
}

func (s *fakeStore) LoadForests(context.Context) ([]Forest, error) { return s.forests, nil }

func (s *fakeStore) ApplyForestChanges(_ context.Context, changes []ForestWithChange) error {
	if s.applyErr != nil {
		return s.applyErr
	}

	s.applied = changes

	return nil
}

func (s *fakeStore) UpdateControllerDNSName(_ context.Context, forestGUID, host, dnsName string) error {
	s.dnsUpdates[forestGUID+"/"+host] = dnsName
	return nil
}

type fakeProber struct {
	reachable map[string]string // host -> dnsName; absent means unreachable
}

func (p fakeProber) Probe(_ context.Context, _, _, host string) (string, error) {
	if dns, ok := p.reachable[host]; ok {
		return dns, nil
	}

	return "", errors.New("server unreachable")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(new(nopWriter), nil))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestManager_NextForest_PrefersPrimary(t *testing.T) {
	store := newFakeStore([]Forest{{
		ObjectGUID: "F1",
		Controllers: []DomainController{
			{Host: "dc2"},
			{Host: "dc1", IsPrimary: true},
		},
	}})
	prober := fakeProber{reachable: map[string]string{"dc1": "dc1.example.com", "dc2": "dc2.example.com"}}

	m := NewManager(store, prober, discardLogger())
	require.NoError(t, m.Load(context.Background()))

	_, dc, ok, err := m.NextForest(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "dc1", dc.Host)
	assert.Equal(t, "dc1.example.com", store.dnsUpdates["F1/dc1"])
}

func TestManager_NextForest_FallsBackWhenPrimaryUnreachable(t *testing.T) {
	store := newFakeStore([]Forest{{
		ObjectGUID: "F1",
		Controllers: []DomainController{
			{Host: "dc1", IsPrimary: true},
			{Host: "dc2"},
		},
	}})
	prober := fakeProber{reachable: map[string]string{"dc2": "dc2.example.com"}}

	m := NewManager(store, prober, discardLogger())
	require.NoError(t, m.Load(context.Background()))

	_, dc, ok, err := m.NextForest(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "dc2", dc.Host)
}

func TestManager_NextForest_SkipsUnreachableForest(t *testing.T) {
	store := newFakeStore([]Forest{{
		ObjectGUID:  "F1",
		Controllers: []DomainController{{Host: "dc1", IsPrimary: true}},
	}})
	prober := fakeProber{reachable: map[string]string{}}

	m := NewManager(store, prober, discardLogger())
	require.NoError(t, m.Load(context.Background()))

	_, _, ok, err := m.NextForest(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_SaveForests_NoOpWhenUnchanged(t *testing.T) {
	f := []Forest{{ObjectGUID: "F1", Controllers: []DomainController{{Host: "dc1", IsPrimary: true}}}}
	store := newFakeStore(f)

	m := NewManager(store, fakeProber{}, discardLogger())
	require.NoError(t, m.Load(context.Background()))
	require.NoError(t, m.SaveForests(context.Background(), f))

	assert.Nil(t, store.applied)
}

func TestManager_SaveForests_RejectsInvalidForest(t *testing.T) {
	store := newFakeStore(nil)
	m := NewManager(store, fakeProber{}, discardLogger())
	require.NoError(t, m.Load(context.Background()))

	err := m.SaveForests(context.Background(), []Forest{{ObjectGUID: ""}})
	require.Error(t, err)
}

func TestManager_SaveForests_AppliesDiff(t *testing.T) {
	store := newFakeStore(nil)
	m := NewManager(store, fakeProber{}, discardLogger())
	require.NoError(t, m.Load(context.Background()))

	newForests := []Forest{{ObjectGUID: "F1", Controllers: []DomainController{{Host: "dc1", IsPrimary: true}}}}
	require.NoError(t, m.SaveForests(context.Background(), newForests))

	require.Len(t, store.applied, 1)
	assert.Equal(t, newForests, m.Forests())
}
