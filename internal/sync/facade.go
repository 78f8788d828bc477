package sync

import (
	"context"
	"sync"

	apperrors "github.com/kimhsiao/curio/internal/errors"
	"github.com/kimhsiao/curio/internal/logging"
	"github.com/kimhsiao/curio/internal/models"
	"github.com/kimhsiao/curio/internal/remote"
)

// LocalStore is the on-device store the Facade always writes to.
type LocalStore interface {
	GetAllItems(ctx context.Context) ([]models.Item, error)
	SaveItem(ctx context.Context, item models.Item) error
	DeleteItem(ctx context.Context, id string) error
	SaveOrder(ctx context.Context, ids []string) error
	GetOrder(ctx context.Context) ([]string, error)
}

// Facade routes reads and writes to the local and remote stores according
// to the connectivity mode. Writes go to the local store first and are
// mirrored to the remote store in cloud mode; a remote failure is logged
// and never undoes the local write. In cloud mode a non-empty remote read
// wins, otherwise the local value is returned.
type Facade struct {
	local  LocalStore
	remote remote.Store
	log    *logging.Logger

	mu   sync.RWMutex
	mode Mode
}

// NewFacade creates a Facade in local mode. rs may be nil when no remote
// store is configured; cloud mode is then refused.
func NewFacade(local LocalStore, rs remote.Store, log *logging.Logger) *Facade {
	if log == nil {
		log = logging.Get()
	}
	return &Facade{
		local:  local,
		remote: rs,
		log:    log.With("component", "facade"),
		mode:   LocalMode(),
	}
}

// Init checks that the local store is usable, creating its schema if needed.
func (f *Facade) Init(ctx context.Context) error {
	if _, err := f.local.GetOrder(ctx); err != nil {
		return err
	}
	return nil
}

// Mode returns the current connectivity mode.
func (f *Facade) Mode() Mode {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.mode
}

// SetMode transitions to m and reports whether the mode actually changed.
func (f *Facade) SetMode(m Mode) (bool, error) {
	if m.IsCloud() {
		if f.remote == nil {
			return false, apperrors.New(apperrors.ErrNotAuthenticated, "no remote store configured")
		}
		if m.Identity() == "" {
			return false, apperrors.NotAuthenticated
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mode == m {
		return false, nil
	}
	f.log.Info("connectivity mode changed", "from", f.mode.String(), "to", m.String())
	f.mode = m
	return true, nil
}

// cloudScope returns the identity to use for remote calls, if any.
func (f *Facade) cloudScope() (string, bool) {
	m := f.Mode()
	if !m.IsCloud() {
		return "", false
	}
	return m.Identity(), true
}

// GetAllItems returns the authoritative item set for the current mode.
func (f *Facade) GetAllItems(ctx context.Context) ([]models.Item, error) {
	if items := f.remoteItems(ctx); len(items) > 0 {
		return items, nil
	}
	return f.local.GetAllItems(ctx)
}

// GetOrder returns the authoritative order for the current mode.
func (f *Facade) GetOrder(ctx context.Context) ([]string, error) {
	if order := f.remoteOrder(ctx); len(order) > 0 {
		return order, nil
	}
	return f.local.GetOrder(ctx)
}

// LocalItems reads the local store regardless of mode.
func (f *Facade) LocalItems(ctx context.Context) ([]models.Item, error) {
	return f.local.GetAllItems(ctx)
}

// LocalOrder reads the local order regardless of mode.
func (f *Facade) LocalOrder(ctx context.Context) ([]string, error) {
	return f.local.GetOrder(ctx)
}

// SaveItem upserts item locally and mirrors it in cloud mode.
func (f *Facade) SaveItem(ctx context.Context, item models.Item) error {
	_, err := f.saveItem(ctx, item)
	return err
}

// DeleteItem removes id locally and mirrors the removal in cloud mode.
func (f *Facade) DeleteItem(ctx context.Context, id string) error {
	scope, cloud := f.cloudScope()
	if err := f.local.DeleteItem(ctx, id); err != nil {
		return err
	}
	if cloud {
		if err := f.remote.Delete(ctx, scope, id); err != nil {
			f.logMirrorFailure("delete item", id, err)
		}
	}
	return nil
}

// SaveOrder replaces the order locally and mirrors it in cloud mode.
func (f *Facade) SaveOrder(ctx context.Context, ids []string) error {
	scope, cloud := f.cloudScope()
	if err := f.local.SaveOrder(ctx, ids); err != nil {
		return err
	}
	if cloud {
		if err := f.remote.SetOrder(ctx, scope, ids); err != nil {
			f.logMirrorFailure("save order", "", err)
		}
	}
	return nil
}

// saveItem writes item and returns the mirror error separately so bulk
// callers can count remote failures. err is the local failure, if any.
func (f *Facade) saveItem(ctx context.Context, item models.Item) (mirrorErr error, err error) {
	scope, cloud := f.cloudScope()
	if err := f.local.SaveItem(ctx, item); err != nil {
		return nil, err
	}
	if !cloud {
		return nil, nil
	}
	if err := f.remote.Put(ctx, scope, item); err != nil {
		f.logMirrorFailure("save item", item.ID, err)
		return apperrors.Wrap(apperrors.ErrRemoteWrite, "mirror item "+item.ID, err), nil
	}
	return nil, nil
}

func (f *Facade) logMirrorFailure(op, id string, err error) {
	f.log.Warn("remote mirror failed; local write kept", "op", op, "item_id", id, "error", err)
}

// remoteItems returns the remote item set, or nil in local mode or on failure.
func (f *Facade) remoteItems(ctx context.Context) []models.Item {
	scope, cloud := f.cloudScope()
	if !cloud {
		return nil
	}
	items, err := f.remote.List(ctx, scope)
	if err != nil {
		f.log.Warn("remote read failed; using local items", "error", err)
		return nil
	}
	return items
}

// remoteOrder returns the remote order, or nil in local mode or on failure.
func (f *Facade) remoteOrder(ctx context.Context) []string {
	scope, cloud := f.cloudScope()
	if !cloud {
		return nil
	}
	order, err := f.remote.GetOrder(ctx, scope)
	if err != nil {
		f.log.Warn("remote read failed; using local order", "error", err)
		return nil
	}
	return order
}

// subscribe opens a push subscription for the current cloud identity.
func (f *Facade) subscribe(ctx context.Context) (*remote.Subscription, error) {
	scope, cloud := f.cloudScope()
	if !cloud {
		return nil, apperrors.NotAuthenticated
	}
	return f.remote.Subscribe(ctx, scope)
}
