package engine

import (
	"context"

	"github.com/qliqsoft/adbridge/internal/directory"
	"github.com/qliqsoft/adbridge/internal/scim"
)

// Directory is the enumeration surface the per-forest sync algorithm needs
// from *directory.Client (accept interfaces, return structs — mirrors
// internal/forest.Prober's narrow consumer-defined interface).
type Directory interface {
	RetrieveGroups(ctx context.Context, creds directory.Credentials, host string, pageSize int, filter string,
		cursor directory.SyncCursor, onGroup func(directory.AdGroup) bool) (directory.RetrieveStatus, directory.SyncCursor)

	RetrieveUsers(ctx context.Context, creds directory.Credentials, host string, pageSize int, filter string,
		cursor directory.SyncCursor, enableAvatars bool, onUser func(directory.AdUser) bool) (directory.RetrieveStatus, directory.SyncCursor)

	RetrieveDeletedUsers(ctx context.Context, creds directory.Credentials, host string, pageSize int,
		cursor directory.SyncCursor, onBatch func([]string) bool) directory.RetrieveStatus
}

// Pusher is the cloud-push surface the push loop needs from *scim.Client.
type Pusher interface {
	PushUser(ctx context.Context, in scim.UserInput, qliqID string, isDeleted bool) (scim.Outcome, error)
	PushGroup(ctx context.Context, in scim.GroupInput, qliqID string, isDeleted bool) (scim.Outcome, error)
}
