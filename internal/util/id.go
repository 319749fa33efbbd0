package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random UUID, optionally prefixed ("req_…") for ids that
// never reach the database.
func NewID(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "_" + strings.ReplaceAll(id, "-", "")
}

// IsUUID reports whether value parses as a UUID; row ids are UUIDs.
func IsUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}
