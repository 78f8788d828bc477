// Package catalog implements the user actions and views over the
// collection. Actions update the in-memory state first and then persist
// through the sync Facade.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	apperrors "github.com/kimhsiao/curio/internal/errors"
	"github.com/kimhsiao/curio/internal/linkpreview"
	"github.com/kimhsiao/curio/internal/logging"
	"github.com/kimhsiao/curio/internal/models"
	cursync "github.com/kimhsiao/curio/internal/sync"
	"github.com/kimhsiao/curio/internal/uuid"
)

// SortMode selects the display order of a view.
type SortMode string

const (
	SortCustom SortMode = "custom"
	SortNewest SortMode = "newest"
	SortOldest SortMode = "oldest"
	SortRating SortMode = "rating"
)

// ParseSortMode maps a query value to a SortMode; unknown values mean custom.
func ParseSortMode(s string) SortMode {
	switch SortMode(strings.ToLower(strings.TrimSpace(s))) {
	case SortNewest:
		return SortNewest
	case SortOldest:
		return SortOldest
	case SortRating:
		return SortRating
	default:
		return SortCustom
	}
}

// Query filters and sorts a view.
type Query struct {
	Tags     []string
	MatchAll bool
	Sort     SortMode
}

// TagCount is a tag and the number of items carrying it.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// Draft holds the fields of an item being created.
type Draft struct {
	Image  []byte   `json:"image,omitempty"`
	Memo   string   `json:"memo"`
	Rating int      `json:"rating"`
	Tags   []string `json:"tags"`
	Link   string   `json:"link,omitempty"`
}

// Patch holds an in-place edit. Nil fields are left unchanged.
type Patch struct {
	Rating *int      `json:"rating"`
	Memo   *string   `json:"memo"`
	Tags   *[]string `json:"tags"`
	Image  *[]byte   `json:"image"`
	Link   *string   `json:"link"`
}

// Previewer fetches link metadata.
type Previewer interface {
	Fetch(ctx context.Context, rawURL string) (*linkpreview.Preview, error)
}

// Service runs catalog actions against a session.
type Service struct {
	session *cursync.Session
	preview Previewer
	log     *logging.Logger
	now     func() time.Time
}

// NewService creates a Service. preview may be nil, which disables Preview.
func NewService(session *cursync.Session, preview Previewer, log *logging.Logger) *Service {
	if log == nil {
		log = logging.Get()
	}
	return &Service{
		session: session,
		preview: preview,
		log:     log.With("component", "catalog"),
		now:     time.Now,
	}
}

// Items returns the current items in custom order.
func (s *Service) Items() []models.Item {
	return s.session.State().Items
}

// Get returns the item with id.
func (s *Service) Get(id string) (models.Item, error) {
	item, _, ok := s.session.State().Find(id)
	if !ok {
		return models.Item{}, notFound(id)
	}
	return item.Clone(), nil
}

// Add creates an item from d and places it at the top of the custom order.
// The memo limit is not applied on creation.
func (s *Service) Add(ctx context.Context, d Draft) (models.Item, error) {
	if err := models.ValidateRating(d.Rating); err != nil {
		return models.Item{}, apperrors.Wrap(apperrors.ErrValidation, "invalid rating", err)
	}
	item := models.Item{
		ID:        uuid.New(),
		Image:     d.Image,
		Memo:      d.Memo,
		Rating:    d.Rating,
		Tags:      models.NormalizeTags(d.Tags),
		Link:      strings.TrimSpace(d.Link),
		CreatedAt: s.now().UTC(),
	}

	var order []string
	s.session.Mutate(func(cur *cursync.State) cursync.Update {
		items := append([]models.Item{item}, cur.Items...)
		order = append([]string{item.ID}, cur.Order...)
		return cursync.FullUpdate(items, order)
	})

	f := s.session.Facade()
	if err := f.SaveItem(ctx, item); err != nil {
		return item, s.persistFailed("add item", item.ID, err)
	}
	if err := f.SaveOrder(ctx, order); err != nil {
		return item, s.persistFailed("save order", item.ID, err)
	}
	return item, nil
}

// SetRating changes an item's rating.
func (s *Service) SetRating(ctx context.Context, id string, rating int) (models.Item, error) {
	if err := models.ValidateRating(rating); err != nil {
		return models.Item{}, apperrors.Wrap(apperrors.ErrValidation, "invalid rating", err)
	}
	return s.edit(ctx, id, func(item *models.Item) { item.Rating = rating })
}

// SetMemo replaces an item's memo, enforcing the edit-time length limit.
func (s *Service) SetMemo(ctx context.Context, id, memo string) (models.Item, error) {
	if err := models.ValidateMemo(memo); err != nil {
		return models.Item{}, apperrors.Wrap(apperrors.ErrValidation, "invalid memo", err)
	}
	return s.edit(ctx, id, func(item *models.Item) { item.Memo = memo })
}

// SetTags replaces an item's tags.
func (s *Service) SetTags(ctx context.Context, id string, tags []string) (models.Item, error) {
	tags = models.NormalizeTags(tags)
	return s.edit(ctx, id, func(item *models.Item) { item.Tags = tags })
}

// SetImage replaces an item's image payload. nil removes it.
func (s *Service) SetImage(ctx context.Context, id string, image []byte) (models.Item, error) {
	return s.edit(ctx, id, func(item *models.Item) { item.Image = image })
}

// SetLink replaces an item's source link.
func (s *Service) SetLink(ctx context.Context, id, link string) (models.Item, error) {
	link = strings.TrimSpace(link)
	return s.edit(ctx, id, func(item *models.Item) { item.Link = link })
}

// Update applies every field of p in a single edit. All fields are
// validated first; an invalid field leaves the item untouched.
func (s *Service) Update(ctx context.Context, id string, p Patch) (models.Item, error) {
	if p.Rating != nil {
		if err := models.ValidateRating(*p.Rating); err != nil {
			return models.Item{}, apperrors.Wrap(apperrors.ErrValidation, "invalid rating", err)
		}
	}
	if p.Memo != nil {
		if err := models.ValidateMemo(*p.Memo); err != nil {
			return models.Item{}, apperrors.Wrap(apperrors.ErrValidation, "invalid memo", err)
		}
	}
	var tags []string
	if p.Tags != nil {
		tags = models.NormalizeTags(*p.Tags)
	}

	return s.edit(ctx, id, func(item *models.Item) {
		if p.Rating != nil {
			item.Rating = *p.Rating
		}
		if p.Memo != nil {
			item.Memo = *p.Memo
		}
		if p.Tags != nil {
			item.Tags = tags
		}
		if p.Image != nil {
			item.Image = *p.Image
		}
		if p.Link != nil {
			item.Link = strings.TrimSpace(*p.Link)
		}
	})
}

// edit applies fn to a copy of the item, reconciles it into memory and
// then persists it.
func (s *Service) edit(ctx context.Context, id string, fn func(*models.Item)) (models.Item, error) {
	var (
		edited models.Item
		found  bool
	)
	s.session.Mutate(func(cur *cursync.State) cursync.Update {
		item, idx, ok := cur.Find(id)
		if !ok {
			return cursync.Update{}
		}
		found = true
		edited = item.Clone()
		fn(&edited)

		items := make([]models.Item, len(cur.Items))
		copy(items, cur.Items)
		items[idx] = edited
		return cursync.ItemsUpdate(items)
	})
	if !found {
		return models.Item{}, notFound(id)
	}

	if err := s.session.Facade().SaveItem(ctx, edited); err != nil {
		return edited, s.persistFailed("save item", id, err)
	}
	return edited, nil
}

// Delete removes an item and drops it from the custom order.
func (s *Service) Delete(ctx context.Context, id string) error {
	var (
		order []string
		found bool
	)
	s.session.Mutate(func(cur *cursync.State) cursync.Update {
		if _, _, ok := cur.Find(id); !ok {
			return cursync.Update{}
		}
		found = true
		items := make([]models.Item, 0, len(cur.Items))
		for _, item := range cur.Items {
			if item.ID != id {
				items = append(items, item)
			}
		}
		order = models.IDs(items)
		return cursync.FullUpdate(items, order)
	})
	if !found {
		return notFound(id)
	}

	f := s.session.Facade()
	if err := f.DeleteItem(ctx, id); err != nil {
		return s.persistFailed("delete item", id, err)
	}
	if err := f.SaveOrder(ctx, order); err != nil {
		return s.persistFailed("save order", id, err)
	}
	return nil
}

// Move places id at index in the custom order. index is clamped to the
// list bounds.
func (s *Service) Move(ctx context.Context, id string, index int) ([]string, error) {
	var (
		order []string
		found bool
	)
	s.session.Mutate(func(cur *cursync.State) cursync.Update {
		from := -1
		for i, oid := range cur.Order {
			if oid == id {
				from = i
				break
			}
		}
		if from < 0 {
			return cursync.Update{}
		}
		found = true

		rest := make([]string, 0, len(cur.Order))
		rest = append(rest, cur.Order[:from]...)
		rest = append(rest, cur.Order[from+1:]...)
		if index < 0 {
			index = 0
		}
		if index > len(rest) {
			index = len(rest)
		}
		order = make([]string, 0, len(cur.Order))
		order = append(order, rest[:index]...)
		order = append(order, id)
		order = append(order, rest[index:]...)
		return cursync.OrderUpdate(order)
	})
	if !found {
		return nil, notFound(id)
	}

	if err := s.session.Facade().SaveOrder(ctx, order); err != nil {
		return order, s.persistFailed("save order", id, err)
	}
	return order, nil
}

// SetOrder replaces the custom order, as after a drag. Unknown ids are
// dropped and missing items are surfaced at the top.
func (s *Service) SetOrder(ctx context.Context, ids []string) ([]string, error) {
	s.session.Apply(cursync.OrderUpdate(ids))
	order := s.session.State().Order
	if err := s.session.Facade().SaveOrder(ctx, order); err != nil {
		return order, s.persistFailed("save order", "", err)
	}
	return order, nil
}

// View returns the items matching q in the requested order.
func (s *Service) View(q Query) []models.Item {
	state := s.session.State()
	tags := models.NormalizeTags(q.Tags)

	out := make([]models.Item, 0, len(state.Items))
	for _, item := range state.Items {
		if matches(item, tags, q.MatchAll) {
			out = append(out, item)
		}
	}

	switch q.Sort {
	case SortNewest:
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	case SortOldest:
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	case SortRating:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Rating > out[j].Rating })
	}
	return out
}

func matches(item models.Item, tags []string, all bool) bool {
	if len(tags) == 0 {
		return true
	}
	for _, tag := range tags {
		has := item.HasTag(tag)
		if all && !has {
			return false
		}
		if !all && has {
			return true
		}
	}
	return all
}

// Tags lists every tag in use, most used first.
func (s *Service) Tags() []TagCount {
	counts := make(map[string]int)
	for _, item := range s.session.State().Items {
		for _, tag := range item.Tags {
			counts[tag]++
		}
	}

	out := make([]TagCount, 0, len(counts))
	for tag, n := range counts {
		out = append(out, TagCount{Tag: tag, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	return out
}

// Preview fetches link metadata for rawURL.
func (s *Service) Preview(ctx context.Context, rawURL string) (*linkpreview.Preview, error) {
	if s.preview == nil {
		return nil, apperrors.New(apperrors.ErrPreviewFailed, "link preview disabled")
	}
	return s.preview.Fetch(ctx, rawURL)
}

// persistFailed logs a failed write after the optimistic update and
// returns it to the caller. Memory keeps the optimistic value.
func (s *Service) persistFailed(op, id string, err error) error {
	s.log.Error("persist after optimistic update failed", err, "op", op, "item_id", id)
	return err
}

func notFound(id string) error {
	return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("item %s not found", id))
}
