package forest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComparator_Compare_Added(t *testing.T) {
	cur := []Forest{{ObjectGUID: "F1", Controllers: []DomainController{{Host: "dc1", IsPrimary: true}}}}

	changes := Comparator{}.Compare(nil, cur)

	require.Len(t, changes, 1)
	assert.True(t, changes[0].Changes.Has(Added))
	assert.True(t, changes[0].Changes.Has(DomainControllerAdded))
	assert.Len(t, changes[0].DomainControllerChanges, 1)
}

func TestComparator_Compare_Deleted(t *testing.T) {
	prev := []Forest{{ObjectGUID: "F1", Controllers: []DomainController{{Host: "dc1", IsPrimary: true}}}}

	changes := Comparator{}.Compare(prev, nil)

	require.Len(t, changes, 1)
	assert.True(t, changes[0].Changes.Has(Deleted))
	assert.True(t, changes[0].Changes.Has(DomainControllerDeleted))
}

func TestComparator_Compare_CredentialsChanged(t *testing.T) {
	prev := []Forest{{ObjectGUID: "F1", UserName: "svc", Password: "old", Controllers: []DomainController{{Host: "dc1", IsPrimary: true}}}}
	cur := []Forest{{ObjectGUID: "F1", UserName: "svc", Password: "new", Controllers: []DomainController{{Host: "dc1", IsPrimary: true}}}}

	changes := Comparator{}.Compare(prev, cur)

	require.Len(t, changes, 1)
	assert.Equal(t, ChangeMask(CredentialsChanged), changes[0].Changes)
}

func TestComparator_Compare_SyncGroupChanged(t *testing.T) {
	prev := []Forest{{ObjectGUID: "F1", SyncGroup: "old", Controllers: []DomainController{{Host: "dc1", IsPrimary: true}}}}
	cur := []Forest{{ObjectGUID: "F1", SyncGroup: "new", Controllers: []DomainController{{Host: "dc1", IsPrimary: true}}}}

	changes := Comparator{}.Compare(prev, cur)

	require.Len(t, changes, 1)
	assert.True(t, changes[0].Changes.Has(SyncGroupChanged))
}

func TestComparator_Compare_DomainControllerAddedAndDeleted(t *testing.T) {
	prev := []Forest{{ObjectGUID: "F1", Controllers: []DomainController{
		{Host: "dc1", IsPrimary: true},
		{Host: "dc2"},
	}}}
	cur := []Forest{{ObjectGUID: "F1", Controllers: []DomainController{
		{Host: "dc1", IsPrimary: true},
		{Host: "dc3"},
	}}}

	changes := Comparator{}.Compare(prev, cur)

	require.Len(t, changes, 1)
	assert.True(t, changes[0].Changes.Has(DomainControllerAdded))
	assert.True(t, changes[0].Changes.Has(DomainControllerDeleted))
	assert.Len(t, changes[0].DomainControllerChanges, 2)
}

func TestComparator_Compare_Unchanged(t *testing.T) {
	f := []Forest{{ObjectGUID: "F1", UserName: "svc", Password: "pw", SyncGroup: "grp",
		Controllers: []DomainController{{Host: "dc1", IsPrimary: true}}}}

	changes := Comparator{}.Compare(f, f)

	assert.Empty(t, changes)
}

func TestChangeMask_String(t *testing.T) {
	assert.Equal(t, "unchanged", NotChanged.String())
	assert.Equal(t, "added|dc-added", (Added | DomainControllerAdded).String())
}
