// Package uuid provides time-ordered identifiers for sync runs.
// It wraps github.com/google/uuid and uses version 7 as the default.
package uuid

import "github.com/google/uuid"

// UUID represents a UUID, aliased from github.com/google/uuid.UUID
type UUID = uuid.UUID

// New returns a new UUIDv7. Panics if UUID generation fails.
func New() UUID {
	id, err := uuid.NewV7()
	if err != nil {
		panic(err)
	}
	return id
}
