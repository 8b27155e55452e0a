package engine

import (
	"context"
	"sync"

	"github.com/qliqsoft/adbridge/internal/directory"
	"github.com/qliqsoft/adbridge/internal/scim"
)

// fakeDirectory is a scripted Directory fake: each call to RetrieveGroups /
// RetrieveUsers consumes the next queued response in order, the way the
// teacher's engineMockGraph shifts queued delta pages off a slice. Guarded
// by mu since the subgroup member fan-out in internal/engine/sync.go calls
// RetrieveUsers from multiple goroutines at once.
type fakeDirectory struct {
	mu sync.Mutex

	groupResponses []fakeGroupResponse
	userResponses  []fakeUserResponse
	deletedBatches [][]string
	deletedStatus  directory.RetrieveStatus
}

type fakeGroupResponse struct {
	groups []directory.AdGroup
	status directory.RetrieveStatus
}

type fakeUserResponse struct {
	users  []directory.AdUser
	status directory.RetrieveStatus
}

func (d *fakeDirectory) RetrieveGroups(_ context.Context, _ directory.Credentials, _ string, _ int, _ string,
	cursor directory.SyncCursor, onGroup func(directory.AdGroup) bool,
) (directory.RetrieveStatus, directory.SyncCursor) {
	resp, ok := d.popGroupResponse()
	if !ok {
		return directory.RetrieveStatus{}, cursor
	}

	for _, g := range resp.groups {
		if !onGroup(g) {
			break
		}
	}

	return resp.status, cursor
}

func (d *fakeDirectory) popGroupResponse() (fakeGroupResponse, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.groupResponses) == 0 {
		return fakeGroupResponse{}, false
	}

	resp := d.groupResponses[0]
	d.groupResponses = d.groupResponses[1:]

	return resp, true
}

func (d *fakeDirectory) RetrieveUsers(_ context.Context, _ directory.Credentials, _ string, _ int, _ string,
	cursor directory.SyncCursor, _ bool, onUser func(directory.AdUser) bool,
) (directory.RetrieveStatus, directory.SyncCursor) {
	resp, ok := d.popUserResponse()
	if !ok {
		return directory.RetrieveStatus{}, cursor
	}

	for _, u := range resp.users {
		if !onUser(u) {
			break
		}
	}

	return resp.status, cursor
}

func (d *fakeDirectory) popUserResponse() (fakeUserResponse, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.userResponses) == 0 {
		return fakeUserResponse{}, false
	}

	resp := d.userResponses[0]
	d.userResponses = d.userResponses[1:]

	return resp, true
}

func (d *fakeDirectory) RetrieveDeletedUsers(_ context.Context, _ directory.Credentials, _ string, _ int,
	_ directory.SyncCursor, onBatch func([]string) bool,
) directory.RetrieveStatus {
	for _, batch := range d.deletedBatches {
		if !onBatch(batch) {
			break
		}
	}

	return d.deletedStatus
}

// fakePusher is a scripted Pusher fake keyed by ObjectGUID.
type fakePusher struct {
	userOutcomes  map[string]scim.Outcome
	userErrs      map[string]error
	groupOutcomes map[string]scim.Outcome
	groupErrs     map[string]error

	userCalls  []string
	groupCalls []string
	calls      []string // "group:<guid>" / "user:<guid>" in call order
}

func newFakePusher() *fakePusher {
	return &fakePusher{
		userOutcomes:  make(map[string]scim.Outcome),
		userErrs:      make(map[string]error),
		groupOutcomes: make(map[string]scim.Outcome),
		groupErrs:     make(map[string]error),
	}
}

func (p *fakePusher) PushUser(_ context.Context, in scim.UserInput, _ string, _ bool) (scim.Outcome, error) {
	p.userCalls = append(p.userCalls, in.ObjectGUID)
	p.calls = append(p.calls, "user:"+in.ObjectGUID)

	if err, ok := p.userErrs[in.ObjectGUID]; ok {
		return scim.Outcome{}, err
	}

	return p.userOutcomes[in.ObjectGUID], nil
}

func (p *fakePusher) PushGroup(_ context.Context, in scim.GroupInput, _ string, _ bool) (scim.Outcome, error) {
	p.groupCalls = append(p.groupCalls, in.ObjectGUID)
	p.calls = append(p.calls, "group:"+in.ObjectGUID)

	if err, ok := p.groupErrs[in.ObjectGUID]; ok {
		return scim.Outcome{}, err
	}

	return p.groupOutcomes[in.ObjectGUID], nil
}

// fakeProber scripts reachability by host.
type fakeProber struct {
	reachable map[string]string // host -> dnsName
}

func (p *fakeProber) Probe(_ context.Context, _, _, host string) (string, error) {
	if dns, ok := p.reachable[host]; ok {
		return dns, nil
	}

	return "", errUnreachable
}

var errUnreachable = errUnreachableSentinel("no such host")

type errUnreachableSentinel string

func (e errUnreachableSentinel) Error() string { return string(e) }
