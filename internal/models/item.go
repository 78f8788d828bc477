// Package models provides data model definitions for Curio.
package models

import (
	"bytes"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MaxMemoLength is the memo limit, in characters, applied when a memo is edited.
	MaxMemoLength = 140

	MinRating = 1
	MaxRating = 5
)

// Item represents one cataloged entry.
type Item struct {
	ID        string    `json:"id"`
	Image     []byte    `json:"image,omitempty"`
	Memo      string    `json:"memo"`
	Rating    int       `json:"rating"`
	Tags      []string  `json:"tags"`
	Link      string    `json:"link,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// HasImage reports whether the item carries an embedded image payload.
func (i *Item) HasImage() bool {
	return len(i.Image) > 0
}

// HasTag reports whether the item is labeled with tag.
func (i *Item) HasTag(tag string) bool {
	for _, t := range i.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Equal reports whether two items are identical in every field.
func (i Item) Equal(other Item) bool {
	if i.ID != other.ID || i.Memo != other.Memo || i.Rating != other.Rating || i.Link != other.Link {
		return false
	}
	if !i.CreatedAt.Equal(other.CreatedAt) {
		return false
	}
	if !bytes.Equal(i.Image, other.Image) {
		return false
	}
	if len(i.Tags) != len(other.Tags) {
		return false
	}
	for n := range i.Tags {
		if i.Tags[n] != other.Tags[n] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy so callers can mutate it without touching shared state.
func (i Item) Clone() Item {
	out := i
	if i.Image != nil {
		out.Image = append([]byte(nil), i.Image...)
	}
	if i.Tags != nil {
		out.Tags = append([]string(nil), i.Tags...)
	}
	return out
}

// Validate checks the invariants every stored item must satisfy.
// The memo length is deliberately not checked here; see ValidateMemo.
func (i *Item) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return fmt.Errorf("item id is required")
	}
	return ValidateRating(i.Rating)
}

// ValidateRating checks that a rating is within 1..5.
func ValidateRating(rating int) error {
	if rating < MinRating || rating > MaxRating {
		return fmt.Errorf("rating must be between %d and %d, got %d", MinRating, MaxRating, rating)
	}
	return nil
}

// ValidateMemo checks the edit-time memo limit.
func ValidateMemo(memo string) error {
	if n := utf8.RuneCountInString(memo); n > MaxMemoLength {
		return fmt.Errorf("memo must be at most %d characters, got %d", MaxMemoLength, n)
	}
	return nil
}

// NormalizeTags trims labels, drops empty ones and removes duplicates,
// keeping the first occurrence of each.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}
