package sync

import (
	"context"
	"sync"

	"github.com/kimhsiao/curio/internal/logging"
	"github.com/kimhsiao/curio/internal/remote"
)

// Session ties the Facade to the Reconciler. It loads state, follows
// sign-in and sign-out, and feeds remote push notifications into the
// Reconciler. Push-driven and action-driven passes are serialized.
type Session struct {
	facade *Facade
	rec    *Reconciler
	legacy LegacySource
	log    *logging.Logger

	uploadWorkers int

	// mu serializes logical reconciliation passes.
	mu sync.Mutex

	subMu     sync.Mutex
	sub       *remote.Subscription
	watchDone chan struct{}
	baseCtx   context.Context
}

// Option configures a Session.
type Option func(*Session)

// WithLegacySource enables first-run migration from the deprecated store.
func WithLegacySource(src LegacySource) Option {
	return func(s *Session) { s.legacy = src }
}

// WithUploadWorkers bounds concurrent remote writes during UploadLocal.
func WithUploadWorkers(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.uploadWorkers = n
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(log *logging.Logger) Option {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// NewSession creates a Session. ctx bounds the lifetime of push subscriptions.
func NewSession(ctx context.Context, facade *Facade, rec *Reconciler, opts ...Option) *Session {
	s := &Session{
		facade:        facade,
		rec:           rec,
		log:           logging.Get(),
		uploadWorkers: 4,
		baseCtx:       ctx,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "session")
	return s
}

// Facade returns the session's facade.
func (s *Session) Facade() *Facade { return s.facade }

// State returns the current application state.
func (s *Session) State() *State { return s.rec.State() }

// OnChange registers the re-render hook.
func (s *Session) OnChange(fn func(*State)) { s.rec.OnChange(fn) }

// Mode returns the current connectivity mode.
func (s *Session) Mode() Mode { return s.facade.Mode() }

// Start initializes the local store, runs legacy migration and loads state.
func (s *Session) Start(ctx context.Context) error {
	if err := s.facade.Init(ctx); err != nil {
		return err
	}
	if s.legacy != nil {
		if _, err := MigrateLegacy(ctx, s.legacy, s.facade, s.log); err != nil {
			return err
		}
	}
	return s.Reload(ctx)
}

// Reload reads items and order through the Facade and reconciles them.
// The reads happen under the session lock so an action or push cannot
// land between them and the reconcile and then be overwritten.
func (s *Session) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.facade.GetAllItems(ctx)
	if err != nil {
		return err
	}
	order, err := s.facade.GetOrder(ctx)
	if err != nil {
		return err
	}
	s.rec.Reconcile(FullUpdate(items, order))
	return nil
}

// Apply reconciles u under the session lock.
func (s *Session) Apply(u Update) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Reconcile(u)
}

// Mutate computes an update from the current state and reconciles it
// without letting another pass run in between.
func (s *Session) Mutate(fn func(current *State) Update) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Reconcile(fn(s.rec.State()))
}

// SignIn switches to cloud mode for identity, replaces the push
// subscription and reloads state. Signing in again with the same identity
// is a no-op.
func (s *Session) SignIn(ctx context.Context, identity string) error {
	changed, err := s.facade.SetMode(CloudMode(identity))
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	s.resubscribe()
	return s.Reload(ctx)
}

// SignOut switches to local mode, cancels the push subscription and
// reloads state from the local store.
func (s *Session) SignOut(ctx context.Context) error {
	changed, err := s.facade.SetMode(LocalMode())
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	s.closeSubscription()
	return s.Reload(ctx)
}

// Close cancels any live subscription.
func (s *Session) Close() error {
	s.closeSubscription()
	return nil
}

// resubscribe cancels the old subscription before opening one for the
// current identity, so a stale scope never reconciles into the new one.
func (s *Session) resubscribe() {
	s.closeSubscription()

	sub, err := s.facade.subscribe(s.baseCtx)
	if err != nil {
		s.log.Error("push subscription failed; remote changes will not be pushed", err)
		return
	}

	done := make(chan struct{})
	s.subMu.Lock()
	s.sub = sub
	s.watchDone = done
	s.subMu.Unlock()

	go s.watch(sub, done)
}

func (s *Session) closeSubscription() {
	s.subMu.Lock()
	sub, done := s.sub, s.watchDone
	s.sub, s.watchDone = nil, nil
	s.subMu.Unlock()

	if sub == nil {
		return
	}
	if err := sub.Close(); err != nil {
		s.log.Warn("closing push subscription", "error", err)
	}
	<-done
}

// watch drains push notifications into the Reconciler until the
// subscription ends. Notifications for a scope that is no longer current
// are dropped.
func (s *Session) watch(sub *remote.Subscription, done chan struct{}) {
	defer close(done)
	log := s.log.With("scope", sub.Scope())
	for change := range sub.Changes() {
		if m := s.facade.Mode(); !m.IsCloud() || m.Identity() != sub.Scope() {
			log.Debug("dropping push for stale scope")
			continue
		}
		result := s.Apply(UpdateFromChange(change))
		log.Debug("push reconciled", "result", result.String(), "items", change.HasItems, "order", change.HasOrder)
	}
}
