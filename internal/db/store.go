package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/kimhsiao/curio/internal/errors"
	"github.com/kimhsiao/curio/internal/models"
)

// LocalStore is the on-device item store: items keyed by id plus a single
// order record in the meta table. Every failure is returned as a
// STORAGE_ERROR AppError.
type LocalStore struct {
	db *sql.DB

	schemaMu    sync.Mutex
	schemaReady bool
}

// NewLocalStore creates a LocalStore. The schema is created on first use
// if the database has not been migrated yet.
func NewLocalStore(db *sql.DB) *LocalStore {
	return &LocalStore{db: db}
}

func storageErr(op string, err error) error {
	return apperrors.Wrap(apperrors.ErrStorage, op, err)
}

// ensureSchema runs pending migrations once; a failure is retried on the next call.
func (s *LocalStore) ensureSchema() error {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()

	if s.schemaReady {
		return nil
	}
	if err := NewMigrator(s.db).Up(); err != nil {
		return err
	}
	s.schemaReady = true
	return nil
}

// GetAllItems returns every stored item, oldest first.
func (s *LocalStore) GetAllItems(ctx context.Context) ([]models.Item, error) {
	if err := s.ensureSchema(); err != nil {
		return nil, storageErr("prepare schema", err)
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT id, image, memo, rating, tags, link, created_at
	FROM items ORDER BY created_at, id
	`)
	if err != nil {
		return nil, storageErr("list items", err)
	}
	defer rows.Close()

	var items []models.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, storageErr("scan item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list items", err)
	}
	return items, nil
}

// GetItem returns a single item by id.
func (s *LocalStore) GetItem(ctx context.Context, id string) (models.Item, error) {
	if err := s.ensureSchema(); err != nil {
		return models.Item{}, storageErr("prepare schema", err)
	}

	row := s.db.QueryRowContext(ctx, `
	SELECT id, image, memo, rating, tags, link, created_at
	FROM items WHERE id = ?
	`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return models.Item{}, apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("item %s not found", id))
	}
	if err != nil {
		return models.Item{}, storageErr("get item", err)
	}
	return item, nil
}

// SaveItem inserts or replaces an item by id.
func (s *LocalStore) SaveItem(ctx context.Context, item models.Item) error {
	if err := item.Validate(); err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "invalid item", err)
	}
	if err := s.ensureSchema(); err != nil {
		return storageErr("prepare schema", err)
	}

	tags, err := json.Marshal(nonNilTags(item.Tags))
	if err != nil {
		return storageErr("encode tags", err)
	}
	var image interface{}
	if item.HasImage() {
		image = item.Image
	}

	_, err = s.db.ExecContext(ctx, `
	INSERT INTO items (id, image, memo, rating, tags, link, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		image = excluded.image,
		memo = excluded.memo,
		rating = excluded.rating,
		tags = excluded.tags,
		link = excluded.link,
		created_at = excluded.created_at
	`, item.ID, image, item.Memo, item.Rating, string(tags), item.Link, item.CreatedAt.UnixNano())
	if err != nil {
		return storageErr("save item", err)
	}
	return nil
}

// DeleteItem removes an item. Deleting an absent id is not an error.
func (s *LocalStore) DeleteItem(ctx context.Context, id string) error {
	if err := s.ensureSchema(); err != nil {
		return storageErr("prepare schema", err)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM items WHERE id = ?", id); err != nil {
		return storageErr("delete item", err)
	}
	return nil
}

// SaveOrder replaces the stored order record.
func (s *LocalStore) SaveOrder(ctx context.Context, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	return s.putMeta(ctx, models.OrderKey, ids)
}

// GetOrder returns the stored order, or nil when it was never set.
func (s *LocalStore) GetOrder(ctx context.Context) ([]string, error) {
	var ids []string
	found, err := s.getMeta(ctx, models.OrderKey, &ids)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// LegacyItems returns the records stored under the deprecated flat key.
// found is false when the key was never written.
func (s *LocalStore) LegacyItems(ctx context.Context) (items []models.Item, found bool, err error) {
	if err := s.ensureSchema(); err != nil {
		return nil, false, storageErr("prepare schema", err)
	}

	var raw string
	err = s.db.QueryRowContext(ctx, "SELECT value FROM legacy_storage WHERE key = ?", models.LegacyKey).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storageErr("read legacy items", err)
	}
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, true, storageErr("decode legacy items", err)
	}
	return items, true, nil
}

func (s *LocalStore) putMeta(ctx context.Context, key string, value interface{}) error {
	if err := s.ensureSchema(); err != nil {
		return storageErr("prepare schema", err)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return storageErr("encode "+key, err)
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO meta (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, string(data))
	if err != nil {
		return storageErr("save "+key, err)
	}
	return nil
}

func (s *LocalStore) getMeta(ctx context.Context, key string, dest interface{}) (bool, error) {
	if err := s.ensureSchema(); err != nil {
		return false, storageErr("prepare schema", err)
	}
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, storageErr("read "+key, err)
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return true, storageErr("decode "+key, err)
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (models.Item, error) {
	var item models.Item
	var image []byte
	var tags string
	var createdAt int64
	if err := row.Scan(&item.ID, &image, &item.Memo, &item.Rating, &tags, &item.Link, &createdAt); err != nil {
		return models.Item{}, err
	}
	if len(image) > 0 {
		item.Image = image
	}
	if err := json.Unmarshal([]byte(tags), &item.Tags); err != nil {
		return models.Item{}, fmt.Errorf("decode tags for %s: %w", item.ID, err)
	}
	item.CreatedAt = time.Unix(0, createdAt).UTC()
	return item, nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
