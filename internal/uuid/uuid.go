// Package uuid generates item identifiers.
package uuid

import (
	"strings"

	"github.com/google/uuid"
)

// New generates a new item id. Ids are UUID v7 so their text sorts by
// creation time; a v4 id is used if the clock source fails.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// IsUUID reports whether s parses as a UUID of any version.
// Item ids are opaque, so ids imported from older data need not pass.
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// Ensure returns id unchanged when it is non-blank, otherwise a fresh id.
func Ensure(id string) string {
	if strings.TrimSpace(id) == "" {
		return New()
	}
	return id
}
