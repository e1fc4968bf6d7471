package base

import "github.com/google/uuid"

// NewUUID generates an opaque correlation id, used where the core needs one
// (e.g. defaulting an unset replicator id) but has no natural identifier of
// its own to reuse.
func NewUUID() string {
	return uuid.New().String()
}
