package sync

import (
	"sync"
	"sync/atomic"

	"github.com/kimhsiao/curio/internal/models"
	"github.com/kimhsiao/curio/internal/remote"
)

// State is the application state rendered by the UI: items in display
// order and the parallel id sequence. A State is never mutated after the
// Reconciler publishes it.
type State struct {
	Items []models.Item
	Order []string
}

// Equal reports whether two states hold the same items and order.
func (s *State) Equal(other *State) bool {
	if len(s.Items) != len(other.Items) || len(s.Order) != len(other.Order) {
		return false
	}
	for i := range s.Order {
		if s.Order[i] != other.Order[i] {
			return false
		}
	}
	for i := range s.Items {
		if !s.Items[i].Equal(other.Items[i]) {
			return false
		}
	}
	return true
}

// Find returns the item with id and its display index.
func (s *State) Find(id string) (models.Item, int, bool) {
	for i, item := range s.Items {
		if item.ID == id {
			return item, i, true
		}
	}
	return models.Item{}, -1, false
}

// Update is a candidate for reconciliation. Either side may be withheld.
type Update struct {
	items    []models.Item
	order    []string
	hasItems bool
	hasOrder bool
}

// ItemsUpdate carries only an items list.
func ItemsUpdate(items []models.Item) Update {
	return Update{items: items, hasItems: true}
}

// OrderUpdate carries only an order list.
func OrderUpdate(order []string) Update {
	return Update{order: order, hasOrder: true}
}

// FullUpdate carries both sides.
func FullUpdate(items []models.Item, order []string) Update {
	return Update{items: items, order: order, hasItems: true, hasOrder: true}
}

// UpdateFromChange converts a push notification into an Update.
func UpdateFromChange(c remote.Change) Update {
	return Update{items: c.Items, order: c.Order, hasItems: c.HasItems, hasOrder: c.HasOrder}
}

// Empty reports whether both sides are withheld.
func (u Update) Empty() bool {
	return !u.hasItems && !u.hasOrder
}

// Result describes the outcome of a reconciliation pass.
type Result int

const (
	// Unchanged means the candidate matched the current state, or was empty.
	Unchanged Result = iota
	// Changed means the state was replaced.
	Changed
	// Skipped means another pass was in progress and this one was ignored.
	Skipped
)

func (r Result) String() string {
	switch r {
	case Changed:
		return "changed"
	case Skipped:
		return "skipped"
	default:
		return "unchanged"
	}
}

// Reconciler owns the application state. Only Reconcile replaces it.
type Reconciler struct {
	mu       sync.RWMutex
	state    *State
	listener func(*State)

	// busy is held for a whole pass, including the change listener.
	busy atomic.Bool
}

// NewReconciler returns a Reconciler holding an empty state.
func NewReconciler() *Reconciler {
	return &Reconciler{state: &State{Items: []models.Item{}, Order: []string{}}}
}

// State returns the current state. Callers must treat it as read-only.
func (r *Reconciler) State() *State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// OnChange registers fn to run after every replacement of the state.
// fn runs inside the pass; a Reconcile call made from fn is Skipped.
func (r *Reconciler) OnChange(fn func(*State)) {
	r.mu.Lock()
	r.listener = fn
	r.mu.Unlock()
}

// Reconcile merges u into the current state.
func (r *Reconciler) Reconcile(u Update) Result {
	if u.Empty() {
		return Unchanged
	}
	if !r.busy.CompareAndSwap(false, true) {
		return Skipped
	}
	defer r.busy.Store(false)

	r.mu.Lock()
	current := r.state
	items, order := current.Items, current.Order
	if u.hasItems {
		items = u.items
	}
	if u.hasOrder {
		order = u.order
	}

	next := Merge(items, order)
	if current.Equal(next) {
		r.mu.Unlock()
		return Unchanged
	}
	r.state = next
	listener := r.listener
	r.mu.Unlock()

	if listener != nil {
		listener(next)
	}
	return Changed
}

// Merge orders items by order. Ids in order without an item are dropped.
// Items missing from order are prepended to both outputs, keeping their
// relative order from items. For duplicate ids in items the last value
// wins at the first position.
func Merge(items []models.Item, order []string) *State {
	byID := make(map[string]models.Item, len(items))
	var seq []string
	for _, item := range items {
		if _, ok := byID[item.ID]; !ok {
			seq = append(seq, item.ID)
		}
		byID[item.ID] = item
	}

	ordered := make([]models.Item, 0, len(byID))
	for _, id := range order {
		item, ok := byID[id]
		if !ok {
			continue
		}
		ordered = append(ordered, item.Clone())
		delete(byID, id)
	}

	out := &State{
		Items: make([]models.Item, 0, len(ordered)+len(byID)),
		Order: make([]string, 0, len(ordered)+len(byID)),
	}
	for _, id := range seq {
		if item, ok := byID[id]; ok {
			out.Items = append(out.Items, item.Clone())
			out.Order = append(out.Order, id)
		}
	}
	out.Items = append(out.Items, ordered...)
	out.Order = append(out.Order, models.IDs(ordered)...)
	return out
}
