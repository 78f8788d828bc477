package sync

import (
	"context"
	"time"

	"github.com/kimhsiao/curio/internal/logging"
	"github.com/kimhsiao/curio/internal/models"
	"github.com/kimhsiao/curio/internal/uuid"
)

// LegacySource reads records kept by the deprecated persistence mechanism.
type LegacySource interface {
	LegacyItems(ctx context.Context) ([]models.Item, bool, error)
}

// MigrateLegacy copies legacy records into the current store through the
// Facade and saves their sequence as the order. It only runs while the
// local store holds no items and no order record. A migration always
// writes the order, so it does not repeat on later starts, even after
// every item has been deleted. The legacy record itself is left in place.
func MigrateLegacy(ctx context.Context, src LegacySource, f *Facade, log *logging.Logger) (int, error) {
	legacy, found, err := src.LegacyItems(ctx)
	if err != nil {
		return 0, err
	}
	if !found || len(legacy) == 0 {
		return 0, nil
	}

	existing, err := f.LocalItems(ctx)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}
	order, err := f.LocalOrder(ctx)
	if err != nil {
		return 0, err
	}
	if order != nil {
		return 0, nil
	}

	now := time.Now().UTC()
	ids := make([]string, 0, len(legacy))
	for _, item := range legacy {
		item = normalizeLegacy(item, now)
		if err := f.SaveItem(ctx, item); err != nil {
			return len(ids), err
		}
		ids = append(ids, item.ID)
	}
	if err := f.SaveOrder(ctx, ids); err != nil {
		return len(ids), err
	}

	log.Info("migrated legacy items", "count", len(ids))
	return len(ids), nil
}

func normalizeLegacy(item models.Item, now time.Time) models.Item {
	item.ID = uuid.Ensure(item.ID)
	item.Tags = models.NormalizeTags(item.Tags)
	if item.Rating < models.MinRating {
		item.Rating = models.MinRating
	}
	if item.Rating > models.MaxRating {
		item.Rating = models.MaxRating
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	return item
}
