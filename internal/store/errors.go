package store

import "errors"

// ErrObjectGUIDCollision is returned when a user or group upsert's
// objectGuid already exists under a different forest. Per the Open
// Question decision (SPEC_FULL.md "Cross-forest objectGuid collisions"),
// objectGuid is asserted globally unique; a collision is a hard error
// rather than a silent overwrite.
var ErrObjectGUIDCollision = errors.New("store: objectGuid collision across forests")
