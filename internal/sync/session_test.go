package sync

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/kimhsiao/curio/internal/db"
	apperrors "github.com/kimhsiao/curio/internal/errors"
	"github.com/kimhsiao/curio/internal/logging"
	"github.com/kimhsiao/curio/internal/models"
	"github.com/kimhsiao/curio/internal/remote"
)

func newTestSession(t *testing.T, opts ...Option) (*Session, *fakeLocal, *fakeRemote) {
	t.Helper()
	f, local, rs := newTestFacade(t)
	opts = append([]Option{WithLogger(logging.Nop())}, opts...)
	s := NewSession(context.Background(), f, NewReconciler(), opts...)
	t.Cleanup(func() { s.Close() })
	return s, local, rs
}

func TestSession_StartLoadsLocalState(t *testing.T) {
	s, local, _ := newTestSession(t)
	local.items["a"] = mkItem("a")
	local.items["b"] = mkItem("b")
	local.items["c"] = mkItem("c")
	local.order = []string{"a", "b"}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	assertOrder(t, s.State().Order, "c", "a", "b")
	assertOrder(t, models.IDs(s.State().Items), "c", "a", "b")
}

func TestSession_StartMigratesLegacyOnce(t *testing.T) {
	local := newFakeLocal()
	legacy := mkItem("old")
	legacy.Rating = 9
	legacy.Tags = []string{" x ", "x", ""}
	local.legacy = []models.Item{legacy, mkItem("older")}
	local.hasLegacy = true
	f := NewFacade(local, nil, logging.Nop())
	s := NewSession(context.Background(), f, NewReconciler(), WithLegacySource(local), WithLogger(logging.Nop()))

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if local.count() != 2 {
		t.Fatalf("local items = %d, want 2", local.count())
	}
	assertOrder(t, local.order, "old", "older")
	assertOrder(t, s.State().Order, "old", "older")
	migrated := local.items["old"]
	if migrated.Rating != models.MaxRating {
		t.Errorf("rating = %d, want clamped %d", migrated.Rating, models.MaxRating)
	}
	assertOrder(t, migrated.Tags, "x")

	saves := local.saves
	if err := s.Start(ctx); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if local.saves != saves {
		t.Errorf("second start re-ran migration: saves %d -> %d", saves, local.saves)
	}
}

func TestSession_StartWithoutLegacySource(t *testing.T) {
	s, local, _ := newTestSession(t)
	local.legacy = mkItems("l1")
	local.hasLegacy = true

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if local.count() != 0 {
		t.Errorf("legacy migrated without a legacy source")
	}
}

func TestSession_pushReconciled(t *testing.T) {
	s, local, rs := newTestSession(t)
	local.items["a"] = mkItem("a")
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	var renders atomic.Int32
	s.OnChange(func(*State) { renders.Add(1) })

	if err := s.SignIn(ctx, "u1"); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	// Empty remote: local state is kept.
	assertOrder(t, s.State().Order, "a")

	rs.push("u1", remote.ItemsChanged(mkItems("a", "x")))
	eventually(t, "pushed item", func() bool { return len(s.State().Items) == 2 })
	assertOrder(t, s.State().Order, "x", "a")

	rs.push("u1", remote.OrderChanged([]string{"a", "x"}))
	eventually(t, "pushed order", func() bool { return s.State().Order[0] == "a" })

	before := renders.Load()
	rs.push("u1", remote.OrderChanged([]string{"a", "x"}))
	rs.push("u1", remote.ItemsChanged(mkItems("x", "a")))
	time.Sleep(50 * time.Millisecond)
	if renders.Load() != before {
		t.Errorf("echo caused %d extra renders", renders.Load()-before)
	}
}

func TestSession_pushDoesNotWriteLocal(t *testing.T) {
	s, local, rs := newTestSession(t)
	ctx := context.Background()
	s.Start(ctx)
	s.SignIn(ctx, "u1")

	rs.push("u1", remote.ItemsChanged(mkItems("x")))
	eventually(t, "pushed item", func() bool { return len(s.State().Items) == 1 })
	if local.count() != 0 {
		t.Errorf("push wrote %d items to the local store", local.count())
	}
}

func TestSession_SignInSwitchCancelsOldSubscription(t *testing.T) {
	s, _, rs := newTestSession(t)
	ctx := context.Background()
	s.Start(ctx)

	if err := s.SignIn(ctx, "u1"); err != nil {
		t.Fatalf("SignIn(u1) error = %v", err)
	}
	if err := s.SignIn(ctx, "u2"); err != nil {
		t.Fatalf("SignIn(u2) error = %v", err)
	}
	if !rs.isClosed("u1") {
		t.Error("subscription for u1 still open after switching to u2")
	}
	if rs.isClosed("u2") {
		t.Error("subscription for u2 closed")
	}
	if got := s.Mode(); got != CloudMode("u2") {
		t.Errorf("Mode() = %v, want cloud(u2)", got)
	}
}

func TestSession_SignInSameIdentityIsNoop(t *testing.T) {
	s, _, rs := newTestSession(t)
	ctx := context.Background()
	s.SignIn(ctx, "u1")
	first := rs.feeds["u1"]

	if err := s.SignIn(ctx, "u1"); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if rs.feeds["u1"] != first {
		t.Error("same-identity sign-in resubscribed")
	}
}

func TestSession_SignOut(t *testing.T) {
	s, local, rs := newTestSession(t)
	local.items["mine"] = mkItem("mine")
	rs.items["u1"] = map[string]models.Item{"cloud": mkItem("cloud")}
	ctx := context.Background()
	s.Start(ctx)

	s.SignIn(ctx, "u1")
	assertOrder(t, s.State().Order, "cloud")

	if err := s.SignOut(ctx); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	if !rs.isClosed("u1") {
		t.Error("subscription still open after sign-out")
	}
	if s.Mode().IsCloud() {
		t.Error("still in cloud mode after sign-out")
	}
	assertOrder(t, s.State().Order, "mine")
}

func TestSession_Mutate(t *testing.T) {
	s, _, _ := newTestSession(t)
	s.Apply(FullUpdate(mkItems("a", "b"), []string{"a", "b"}))

	got := s.Mutate(func(cur *State) Update {
		order := append([]string{}, cur.Order...)
		order[0], order[1] = order[1], order[0]
		return OrderUpdate(order)
	})
	if got != Changed {
		t.Fatalf("Mutate() = %v, want changed", got)
	}
	assertOrder(t, s.State().Order, "b", "a")
}

func TestSession_UploadLocal(t *testing.T) {
	s, local, rs := newTestSession(t, WithUploadWorkers(2))
	for _, id := range []string{"a", "b", "c"} {
		local.items[id] = mkItem(id)
	}
	local.order = []string{"c", "b", "a"}
	ctx := context.Background()
	s.Start(ctx)

	if _, err := s.UploadLocal(ctx); !apperrors.Is(err, apperrors.ErrNotAuthenticated) {
		t.Fatalf("UploadLocal() in local mode error = %v, want NOT_AUTHENTICATED", err)
	}

	s.SignIn(ctx, "u1")
	rs.failPut["b"] = true
	result, err := s.UploadLocal(ctx)
	if err != nil {
		t.Fatalf("UploadLocal() error = %v", err)
	}
	if result.Total != 3 || result.Synced != 2 || result.Failed != 1 {
		t.Errorf("result = %+v, want 3 total, 2 synced, 1 failed", result)
	}
	if got := result.Summary(); got != "synced 2/3, 1 failed" {
		t.Errorf("Summary() = %q", got)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "b") {
		t.Errorf("Errors = %v", result.Errors)
	}
	assertOrder(t, rs.orders["u1"], "c", "b", "a")

	// Re-running is harmless.
	delete(rs.failPut, "b")
	result, err = s.UploadLocal(ctx)
	if err != nil || result.Synced != 3 {
		t.Fatalf("second UploadLocal() = %+v, %v", result, err)
	}
	if len(rs.items["u1"]) != 3 {
		t.Errorf("remote items = %d, want 3", len(rs.items["u1"]))
	}
}

func TestSyncResult_Summary(t *testing.T) {
	r := &SyncResult{Total: 10, Synced: 10}
	if got := r.Summary(); got != "synced 10/10" {
		t.Errorf("Summary() = %q", got)
	}
}

func TestSession_RestoreMalformedWritesNothing(t *testing.T) {
	s, local, _ := newTestSession(t)
	local.items["keep"] = mkItem("keep")
	ctx := context.Background()
	s.Start(ctx)
	saves := local.saves

	bad := &models.Backup{Version: models.BackupVersion, Items: []models.Item{{ID: "x", Rating: 0}}}
	err := s.Restore(ctx, bad)
	if !apperrors.Is(err, apperrors.ErrMalformedBackup) {
		t.Fatalf("Restore() error = %v, want MALFORMED_BACKUP", err)
	}
	if local.saves != saves || local.count() != 1 {
		t.Error("malformed backup modified the local store")
	}
	if err := s.Restore(ctx, &models.Backup{}); !apperrors.Is(err, apperrors.ErrMalformedBackup) {
		t.Errorf("Restore(no items) error = %v, want MALFORMED_BACKUP", err)
	}
}

func TestSession_RestoreReplacesCatalog(t *testing.T) {
	s, local, _ := newTestSession(t)
	local.items["old"] = mkItem("old")
	local.items["a"] = mkItem("a")
	ctx := context.Background()
	s.Start(ctx)

	restored := mkItem("a")
	restored.Memo = "from backup"
	b := &models.Backup{
		Version:     models.BackupVersion,
		Items:       []models.Item{restored, mkItem("b")},
		CustomOrder: []string{"b", "a"},
	}
	if err := s.Restore(ctx, b); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	if _, ok := local.items["old"]; ok {
		t.Error("item absent from backup was not deleted")
	}
	if local.items["a"].Memo != "from backup" {
		t.Errorf("memo = %q, want restored value", local.items["a"].Memo)
	}
	assertOrder(t, local.order, "b", "a")
	assertOrder(t, s.State().Order, "b", "a")
}

func TestSession_RestoreInCloudModeClearsBothStores(t *testing.T) {
	s, local, rs := newTestSession(t)
	local.items["old"] = mkItem("old")
	rs.items["u1"] = map[string]models.Item{"x": mkItem("x")}
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.SignIn(ctx, "u1"); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}

	b := &models.Backup{Version: models.BackupVersion, Items: mkItems("a")}
	if err := s.Restore(ctx, b); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if _, ok := local.items["old"]; ok {
		t.Error("local-only item survived a cloud-mode restore")
	}
	if _, ok := rs.items["u1"]["x"]; ok {
		t.Error("remote-only item survived a cloud-mode restore")
	}
	assertOrder(t, s.State().Order, "a")

	if err := s.SignOut(ctx); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	assertOrder(t, s.State().Order, "a")
	assertOrder(t, models.IDs(s.State().Items), "a")
}

// hookedLocal runs onGetOrder once, inside the first GetOrder call.
type hookedLocal struct {
	*fakeLocal
	once       sync.Once
	onGetOrder func()
}

func (h *hookedLocal) GetOrder(ctx context.Context) ([]string, error) {
	if h.onGetOrder != nil {
		h.once.Do(h.onGetOrder)
	}
	return h.fakeLocal.GetOrder(ctx)
}

func TestSession_ReloadDoesNotDropConcurrentAction(t *testing.T) {
	ctx := context.Background()
	local := &hookedLocal{fakeLocal: newFakeLocal()}
	local.items["a"] = mkItem("a")
	local.order = []string{"a"}
	f := NewFacade(local, nil, logging.Nop())
	s := NewSession(ctx, f, NewReconciler(), WithLogger(logging.Nop()))
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	done := make(chan struct{})
	local.onGetOrder = func() {
		go func() {
			defer close(done)
			added := mkItem("new")
			var order []string
			s.Mutate(func(cur *State) Update {
				order = append([]string{added.ID}, cur.Order...)
				return FullUpdate(append([]models.Item{added}, cur.Items...), order)
			})
			local.SaveItem(ctx, added)
			local.SaveOrder(ctx, order)
		}()
		// Give the action a chance to land while the reload is mid-read.
		time.Sleep(20 * time.Millisecond)
	}

	if err := s.Reload(ctx); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	<-done

	assertOrder(t, s.State().Order, "new", "a")
	if _, ok := local.items["new"]; !ok {
		t.Fatal("added item was not saved locally")
	}
}

func TestSession_Export(t *testing.T) {
	s, _, _ := newTestSession(t)
	s.Apply(FullUpdate(mkItems("a", "b"), []string{"b", "a"}))
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	b := s.Export(now)
	if b.Version != models.BackupVersion || !b.Timestamp.Equal(now) {
		t.Errorf("backup header = %d %v", b.Version, b.Timestamp)
	}
	assertOrder(t, b.CustomOrder, "b", "a")
	assertOrder(t, models.IDs(b.Items), "b", "a")
}

// TestTwoDevices runs two sessions against one Redis and separate SQLite
// files: a write on one device reaches the other through the push channel.
func TestTwoDevices(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	newDevice := func() *Session {
		d, err := db.Open(t.TempDir())
		if err != nil {
			t.Fatalf("db.Open() error = %v", err)
		}
		t.Cleanup(func() { d.Close() })
		rs, err := remote.NewRedisStore("redis://"+mr.Addr(), logging.Nop())
		if err != nil {
			t.Fatalf("NewRedisStore() error = %v", err)
		}
		t.Cleanup(func() { rs.Close() })
		f := NewFacade(db.NewLocalStore(d.DB), rs, logging.Nop())
		s := NewSession(ctx, f, NewReconciler(), WithLogger(logging.Nop()))
		t.Cleanup(func() { s.Close() })
		if err := s.Start(ctx); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		if err := s.SignIn(ctx, "u1"); err != nil {
			t.Fatalf("SignIn() error = %v", err)
		}
		return s
	}
	phone, laptop := newDevice(), newDevice()

	added := mkItem("n1")
	if err := phone.Facade().SaveItem(ctx, added); err != nil {
		t.Fatalf("SaveItem() error = %v", err)
	}
	phone.Mutate(func(cur *State) Update {
		return FullUpdate(append([]models.Item{added}, cur.Items...), append([]string{added.ID}, cur.Order...))
	})
	if err := phone.Facade().SaveOrder(ctx, phone.State().Order); err != nil {
		t.Fatalf("SaveOrder() error = %v", err)
	}

	eventually(t, "laptop sees new item", func() bool {
		_, _, ok := laptop.State().Find("n1")
		return ok
	})
	assertOrder(t, laptop.State().Order, "n1")

	// The laptop's local store is untouched by pushes.
	items, err := laptop.Facade().LocalItems(ctx)
	if err != nil {
		t.Fatalf("LocalItems() error = %v", err)
	}
	if len(items) != 0 {
		t.Errorf("laptop local items = %d, want 0", len(items))
	}

	// The phone's own echo leaves its state unchanged.
	assertOrder(t, phone.State().Order, "n1")
}
