// Package backup encodes and decodes catalog backup files.
package backup

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	apperrors "github.com/kimhsiao/curio/internal/errors"
	"github.com/kimhsiao/curio/internal/models"
)

// New builds a backup of items in display order.
func New(items []models.Item, order []string, now time.Time) models.Backup {
	if items == nil {
		items = []models.Item{}
	}
	if order == nil {
		order = models.IDs(items)
	}
	return models.Backup{
		Version:     models.BackupVersion,
		Timestamp:   now.UTC(),
		Items:       items,
		CustomOrder: order,
	}
}

// Encode writes b as indented JSON.
func Encode(w io.Writer, b models.Backup) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(b); err != nil {
		return fmt.Errorf("encode backup: %w", err)
	}
	return nil
}

// Decode reads and validates a backup. Input without an items array is
// rejected with MALFORMED_BACKUP. A missing customOrder is filled from
// the items array's own sequence.
func Decode(r io.Reader) (*models.Backup, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMalformedBackup, "read backup", err)
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMalformedBackup, "backup is not a JSON object", err)
	}
	rawItems, ok := probe["items"]
	if !ok || !isArray(rawItems) {
		return nil, apperrors.New(apperrors.ErrMalformedBackup, "backup has no items array")
	}

	var b models.Backup
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMalformedBackup, "decode backup", err)
	}
	if b.Items == nil {
		b.Items = []models.Item{}
	}
	if b.CustomOrder == nil {
		b.CustomOrder = models.IDs(b.Items)
	}
	if err := Validate(&b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Validate checks a backup before anything is overwritten.
func Validate(b *models.Backup) error {
	if b == nil || b.Items == nil {
		return apperrors.New(apperrors.ErrMalformedBackup, "backup has no items array")
	}
	seen := make(map[string]bool, len(b.Items))
	for i := range b.Items {
		item := &b.Items[i]
		if err := item.Validate(); err != nil {
			return apperrors.Wrap(apperrors.ErrMalformedBackup, fmt.Sprintf("item %d invalid", i), err)
		}
		if seen[item.ID] {
			return apperrors.New(apperrors.ErrMalformedBackup, fmt.Sprintf("duplicate item id %s", item.ID))
		}
		seen[item.ID] = true
	}
	return nil
}

func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}
