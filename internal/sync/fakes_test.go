package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "github.com/kimhsiao/curio/internal/errors"
	"github.com/kimhsiao/curio/internal/models"
	"github.com/kimhsiao/curio/internal/remote"
)

var errDisk = errors.New("disk full")

// fakeLocal is an in-memory LocalStore with failure injection.
type fakeLocal struct {
	mu        sync.Mutex
	items     map[string]models.Item
	order     []string
	legacy    []models.Item
	hasLegacy bool
	failSave  bool
	saves     int
}

func newFakeLocal() *fakeLocal {
	return &fakeLocal{items: make(map[string]models.Item)}
}

func (f *fakeLocal) GetAllItems(ctx context.Context) ([]models.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Item, 0, len(f.items))
	for _, item := range f.items {
		out = append(out, item)
	}
	sortItems(out)
	return out, nil
}

func (f *fakeLocal) SaveItem(ctx context.Context, item models.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSave {
		return apperrors.Wrap(apperrors.ErrStorage, "save item", errDisk)
	}
	f.saves++
	f.items[item.ID] = item.Clone()
	return nil
}

func (f *fakeLocal) DeleteItem(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, id)
	return nil
}

func (f *fakeLocal) SaveOrder(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSave {
		return apperrors.Wrap(apperrors.ErrStorage, "save order", errDisk)
	}
	f.order = append([]string{}, ids...)
	return nil
}

func (f *fakeLocal) GetOrder(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.order == nil {
		return nil, nil
	}
	return append([]string{}, f.order...), nil
}

func (f *fakeLocal) LegacyItems(ctx context.Context) ([]models.Item, bool, error) {
	return f.legacy, f.hasLegacy, nil
}

func (f *fakeLocal) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// fakeRemote is an in-memory remote.Store. Pushes are fed by tests via push().
type fakeRemote struct {
	mu       sync.Mutex
	items    map[string]map[string]models.Item
	orders   map[string][]string
	failPut  map[string]bool
	failAll  bool
	failRead bool
	puts     int
	feeds    map[string]chan remote.Change
	closed   map[string]bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		items:   make(map[string]map[string]models.Item),
		orders:  make(map[string][]string),
		failPut: make(map[string]bool),
		feeds:   make(map[string]chan remote.Change),
		closed:  make(map[string]bool),
	}
}

func (f *fakeRemote) List(ctx context.Context, scope string) ([]models.Item, error) {
	if scope == "" {
		return nil, apperrors.NotAuthenticated
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRead {
		return nil, apperrors.New(apperrors.ErrRemoteRead, "offline")
	}
	out := make([]models.Item, 0)
	for _, item := range f.items[scope] {
		out = append(out, item)
	}
	sortItems(out)
	return out, nil
}

func (f *fakeRemote) Put(ctx context.Context, scope string, item models.Item) error {
	if scope == "" {
		return apperrors.NotAuthenticated
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll || f.failPut[item.ID] {
		return apperrors.New(apperrors.ErrRemoteWrite, "permission denied")
	}
	f.puts++
	if f.items[scope] == nil {
		f.items[scope] = make(map[string]models.Item)
	}
	f.items[scope][item.ID] = item.Clone()
	return nil
}

func (f *fakeRemote) Delete(ctx context.Context, scope, id string) error {
	if scope == "" {
		return apperrors.NotAuthenticated
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return apperrors.New(apperrors.ErrRemoteWrite, "permission denied")
	}
	delete(f.items[scope], id)
	return nil
}

func (f *fakeRemote) GetOrder(ctx context.Context, scope string) ([]string, error) {
	if scope == "" {
		return nil, apperrors.NotAuthenticated
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRead {
		return nil, apperrors.New(apperrors.ErrRemoteRead, "offline")
	}
	return f.orders[scope], nil
}

func (f *fakeRemote) SetOrder(ctx context.Context, scope string, ids []string) error {
	if scope == "" {
		return apperrors.NotAuthenticated
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return apperrors.New(apperrors.ErrRemoteWrite, "permission denied")
	}
	f.orders[scope] = append([]string{}, ids...)
	return nil
}

func (f *fakeRemote) Subscribe(ctx context.Context, scope string) (*remote.Subscription, error) {
	if scope == "" {
		return nil, apperrors.NotAuthenticated
	}
	f.mu.Lock()
	feed := make(chan remote.Change, 8)
	f.feeds[scope] = feed
	f.closed[scope] = false
	f.mu.Unlock()

	return remote.NewSubscription(ctx, scope, func(ctx context.Context, out chan<- remote.Change) {
		defer func() {
			f.mu.Lock()
			f.closed[scope] = true
			f.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case change := <-feed:
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}), nil
}

func (f *fakeRemote) push(scope string, change remote.Change) {
	f.mu.Lock()
	feed := f.feeds[scope]
	f.mu.Unlock()
	feed <- change
}

func (f *fakeRemote) isClosed(scope string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed[scope]
}

func sortItems(items []models.Item) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].ID < items[j-1].ID; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

func mkItem(id string) models.Item {
	return models.Item{
		ID:        id,
		Memo:      "memo " + id,
		Rating:    3,
		Tags:      []string{"tag"},
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func mkItems(ids ...string) []models.Item {
	out := make([]models.Item, 0, len(ids))
	for _, id := range ids {
		out = append(out, mkItem(id))
	}
	return out
}

func assertOrder(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
