package domain

import (
	"strings"

	"github.com/google/uuid"
)

// NewID generates a UUIDv7 string for application-owned entities.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewRelationName returns a unique, identifier-safe name for an intermediate
// dataset relation, e.g. "ds_0192f3c4a1b27c3e8d...".
func NewRelationName() string {
	return "ds_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
