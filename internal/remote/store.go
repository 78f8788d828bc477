// Package remote defines the per-user cloud store and its Redis implementation.
package remote

import (
	"context"
	"strings"

	apperrors "github.com/kimhsiao/curio/internal/errors"
	"github.com/kimhsiao/curio/internal/models"
)

// Store is per-user durable persistence with push notifications.
// Every operation fails with NOT_AUTHENTICATED when scope is empty.
type Store interface {
	// List returns every item stored for the scope.
	List(ctx context.Context, scope string) ([]models.Item, error)

	// Put upserts an item by id.
	Put(ctx context.Context, scope string, item models.Item) error

	// Delete removes an item; deleting an absent id is not an error.
	Delete(ctx context.Context, scope, id string) error

	// GetOrder returns the order record, or nil when never set.
	GetOrder(ctx context.Context, scope string) ([]string, error)

	// SetOrder replaces the order record.
	SetOrder(ctx context.Context, scope string, ids []string) error

	// Subscribe delivers a Change whenever the scope's items or order
	// change, including echoes of this client's own writes. The
	// subscription must be closed when the identity changes.
	Subscribe(ctx context.Context, scope string) (*Subscription, error)
}

// Change is one push notification. Only the side that changed is carried;
// the other is withheld.
type Change struct {
	Items    []models.Item
	Order    []string
	HasItems bool
	HasOrder bool
}

// ItemsChanged builds a Change carrying only items.
func ItemsChanged(items []models.Item) Change {
	return Change{Items: items, HasItems: true}
}

// OrderChanged builds a Change carrying only the order.
func OrderChanged(order []string) Change {
	return Change{Order: order, HasOrder: true}
}

// Subscription is a live push channel for one scope.
type Subscription struct {
	scope   string
	changes chan Change
	cancel  context.CancelFunc
	done    chan struct{}
}

func newSubscription(scope string, cancel context.CancelFunc) *Subscription {
	return &Subscription{
		scope:   scope,
		changes: make(chan Change, 16),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// NewSubscription returns a subscription fed by produce. produce must
// return once its context is done; the channel is closed after it returns.
func NewSubscription(ctx context.Context, scope string, produce func(ctx context.Context, out chan<- Change)) *Subscription {
	subCtx, cancel := context.WithCancel(ctx)
	sub := newSubscription(scope, cancel)
	go func() {
		defer close(sub.done)
		defer close(sub.changes)
		produce(subCtx, sub.changes)
	}()
	return sub
}

// Scope returns the identity this subscription listens on.
func (s *Subscription) Scope() string {
	return s.scope
}

// Changes returns the notification channel. It is closed when the
// subscription ends.
func (s *Subscription) Changes() <-chan Change {
	return s.changes
}

// Close cancels the subscription and waits for its goroutine to exit.
func (s *Subscription) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func checkScope(scope string) error {
	if strings.TrimSpace(scope) == "" {
		return apperrors.NotAuthenticated
	}
	return nil
}
