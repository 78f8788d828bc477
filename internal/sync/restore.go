package sync

import (
	"context"
	"time"

	"github.com/kimhsiao/curio/internal/backup"
	apperrors "github.com/kimhsiao/curio/internal/errors"
	"github.com/kimhsiao/curio/internal/models"
)

// Export returns a backup of the current application state.
func (s *Session) Export(now time.Time) models.Backup {
	state := s.State()
	return backup.New(state.Items, state.Order, now)
}

// Restore replaces the catalog with b. The backup is validated before
// anything is written; items absent from the backup are deleted, every
// backup item is saved and the backup's order becomes the custom order.
func (s *Session) Restore(ctx context.Context, b *models.Backup) error {
	if err := backup.Validate(b); err != nil {
		return err
	}
	order := b.CustomOrder
	if order == nil {
		order = models.IDs(b.Items)
	}

	stale, err := s.staleIDs(ctx, b.Items)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrRestoreFailed, "read current items", err)
	}
	for _, id := range stale {
		if err := s.facade.DeleteItem(ctx, id); err != nil {
			return apperrors.Wrap(apperrors.ErrRestoreFailed, "delete item "+id, err)
		}
	}
	for _, item := range b.Items {
		if err := s.facade.SaveItem(ctx, item); err != nil {
			return apperrors.Wrap(apperrors.ErrRestoreFailed, "save item "+item.ID, err)
		}
	}
	if err := s.facade.SaveOrder(ctx, order); err != nil {
		return apperrors.Wrap(apperrors.ErrRestoreFailed, "save order", err)
	}

	s.Apply(FullUpdate(b.Items, order))
	s.log.Info("backup restored", "items", len(b.Items))
	return nil
}

// staleIDs returns the ids held locally, or remotely in cloud mode, that
// are absent from keep. Both stores are consulted so that neither keeps
// an item the backup does not have.
func (s *Session) staleIDs(ctx context.Context, keep []models.Item) ([]string, error) {
	local, err := s.facade.LocalItems(ctx)
	if err != nil {
		return nil, err
	}
	current := append(local, s.facade.remoteItems(ctx)...)

	skip := make(map[string]bool, len(keep)+len(current))
	for _, item := range keep {
		skip[item.ID] = true
	}
	var ids []string
	for _, item := range current {
		if skip[item.ID] {
			continue
		}
		skip[item.ID] = true
		ids = append(ids, item.ID)
	}
	return ids, nil
}
