// Package settings is the configuration engine of the parking
// operations backend: typed values at system, location and user scope,
// resolved through the inheritance chain, cached with per-category
// TTLs, kept consistent across processes by the live channel and never
// failing a read thanks to the fallback chain.
package settings

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	settingctl "github.com/lotkeeper/lotkeeper/internal/db/controller/setting"
	templatectl "github.com/lotkeeper/lotkeeper/internal/db/controller/template"
	"github.com/lotkeeper/lotkeeper/internal/settings/broadcast"
	"github.com/lotkeeper/lotkeeper/internal/settings/cache"
	"github.com/lotkeeper/lotkeeper/internal/settings/conflict"
	"github.com/lotkeeper/lotkeeper/internal/settings/fallback"
	"github.com/lotkeeper/lotkeeper/internal/settings/registry"
	"github.com/lotkeeper/lotkeeper/internal/settings/resolver"
	"github.com/lotkeeper/lotkeeper/internal/settings/scope"
	"github.com/lotkeeper/lotkeeper/internal/settings/validate"
	"github.com/lotkeeper/lotkeeper/internal/settings/value"
	"github.com/lotkeeper/lotkeeper/internal/uniuri"
)

const (
	defaultStoreTimeout = 3 * time.Second
	defaultCacheTTL     = time.Minute
	clientIDLen         = 12
)

// Options configures a Service.
type Options struct {
	DB       *gorm.DB
	Notifier broadcast.Notifier

	// Registry defaults to the compiled-in catalog.
	Registry *registry.Registry

	// LocalStorePath is the durable fallback cache location. Empty
	// disables the durable step of the fallback chain.
	LocalStorePath string

	// ClientID identifies this process on the live channel. Generated
	// when empty.
	ClientID string

	// StoreTimeout bounds every backing-store call. Mandatory; the
	// default applies when zero.
	StoreTimeout time.Duration

	Logger zerolog.Logger
}

// Service is the settings engine facade. Construct one per process and
// pass it by reference to consumers; all state lives on the instance.
type Service struct {
	db        *gorm.DB
	reg       *registry.Registry
	engine    *resolver.Engine
	cache     *cache.Cache
	local     *fallback.LocalStore
	chain     *fallback.Chain
	bcast     *broadcast.Broadcaster
	conflicts *conflict.Resolver
	validator *validate.Engine
	log       zerolog.Logger
	timeout   time.Duration

	mu      sync.Mutex
	pending map[string]*conflict.PendingWrite

	internalSubs []*broadcast.Subscription
}

// New wires the settings engine and subscribes to every catalog
// category so remote changes keep the local cache coherent.
func New(opts Options) (*Service, error) {
	if opts.DB == nil {
		return nil, settingctl.ErrDBNil
	}
	if opts.Registry == nil {
		opts.Registry = registry.Default()
	}
	if opts.ClientID == "" {
		opts.ClientID = "lk-" + uniuri.NewLen(clientIDLen)
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	if opts.Notifier == nil {
		opts.Notifier = broadcast.NewMemoryNotifier()
	}

	s := &Service{
		db:        opts.DB,
		reg:       opts.Registry,
		engine:    resolver.New(opts.DB, opts.Registry),
		cache:     cache.New(defaultCacheTTL),
		bcast:     broadcast.New(opts.Notifier, opts.ClientID, opts.Logger),
		conflicts: conflict.NewResolver(opts.Logger),
		validator: validate.New(opts.Registry),
		log:       opts.Logger,
		timeout:   opts.StoreTimeout,
		pending:   make(map[string]*conflict.PendingWrite),
	}

	if opts.LocalStorePath != "" {
		local, err := fallback.OpenLocalStore(opts.LocalStorePath)
		if err != nil {
			return nil, err
		}
		s.local = local
	}

	steps := []fallback.Step{liveStep{s: s}}
	if s.local != nil {
		steps = append(steps, s.local.Step())
	}
	s.chain = fallback.NewChain(opts.Logger, steps...)

	go s.cache.Start()

	for _, category := range s.reg.Categories() {
		sub, err := s.bcast.Subscribe(category, s.onEvent)
		if err != nil {
			s.Close()

			return nil, err
		}
		s.internalSubs = append(s.internalSubs, sub)
	}

	return s, nil
}

// Close releases the engine's subscriptions and stops the cache. The
// notifier and database are owned by the caller.
func (s *Service) Close() {
	for _, sub := range s.internalSubs {
		sub.Unsubscribe()
	}
	s.cache.Stop()
}

// ClientID returns the id this process stamps onto its change events.
func (s *Service) ClientID() string { return s.bcast.ClientID() }

func variantKey(ref scope.Ref) string {
	return ref.UserID + "@" + ref.LocationID
}

func pendingKey(category, key string) string {
	return category + "/" + key
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// GetSetting resolves the effective value of a key for a requester and
// reports the scope that satisfied it. Results are cached under the
// category's TTL.
func (s *Service) GetSetting(ctx context.Context, category, key string, ref scope.Ref) (value.Value, scope.Scope, error) {
	variant := variantKey(ref)

	if entry, ok := s.cache.Get(category, key, variant); ok {
		return entry.Value, scope.Scope(entry.Scope), nil
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	resolved, err := s.engine.Resolve(storeCtx, category, key, ref)
	if err != nil {
		if errors.Is(err, resolver.ErrNotFound) {
			return value.Value{}, "", ErrSettingNotFound
		}

		return value.Value{}, "", &StoreError{Op: "resolve", Err: err}
	}

	s.cacheResolved(ctx, category, key, variant, resolved)

	return resolved.Value, resolved.Scope, nil
}

// GetCategorySettings resolves every defined key of a category for a
// requester.
func (s *Service) GetCategorySettings(ctx context.Context, category string, ref scope.Ref) (map[string]value.Value, error) {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	resolved, err := s.engine.ResolveCategory(storeCtx, category, ref)
	if err != nil {
		if errors.Is(err, resolver.ErrNotFound) {
			return nil, ErrSettingNotFound
		}

		return nil, &StoreError{Op: "resolve category", Err: err}
	}

	variant := variantKey(ref)
	out := make(map[string]value.Value, len(resolved))
	for key, r := range resolved {
		s.cacheResolved(ctx, category, key, variant, r)
		out[key] = r.Value
	}

	return out, nil
}

func (s *Service) cacheResolved(ctx context.Context, category, key, variant string, r resolver.Resolved) {
	s.cache.Put(category, key, variant, cache.Entry{Value: r.Value, Scope: string(r.Scope)}, s.reg.TTL(category, defaultCacheTTL))

	def, err := s.reg.Definition(category, key)
	if err != nil || def.Sensitive || s.local == nil {
		return
	}

	if err := s.local.Put(ctx, category, key, r.Value); err != nil {
		s.log.Debug().Err(err).Str("category", category).Str("key", key).Msg("local store write-through failed")
	}
}

// UpdateSetting validates and persists a value at an explicit scope
// level, applying it optimistically to the cache first. On a store
// error the optimistic update is rolled back and the error returned; on
// success the change is broadcast to all other clients.
func (s *Service) UpdateSetting(ctx context.Context, category, key string, v value.Value, at scope.Scope, ref scope.Ref, actor string) error {
	def, err := s.reg.Definition(category, key)
	if err != nil {
		return ErrSettingNotFound
	}

	if err := s.checkWriteScope(def, at, ref); err != nil {
		return err
	}

	// advisory client-side pass with cross-setting state, then the
	// authoritative pass right before persisting
	effective, err := s.GetCategorySettings(ctx, category, ref)
	if err != nil {
		var se *StoreError
		if errors.As(err, &se) {
			effective = nil // cross checks degrade, kind and rule checks still run
		} else {
			return err
		}
	}

	if err := s.validator.Check(category, key, v, effective); err != nil {
		return err
	}

	variant := variantKey(ref)

	// optimistic apply, tracked as a pending write
	prev, had := s.cache.Get(category, key, variant)
	pw := conflict.NewPendingWrite(category, key, actor, v, prev.Value, had)
	s.trackPending(pw)
	s.cache.Put(category, key, variant, cache.Entry{Value: v, Scope: string(at)}, s.reg.TTL(category, defaultCacheTTL))

	raw, err := value.Encode(v)
	if err != nil {
		s.rollBack(pw, variant, prev, had)

		return err
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	// authoritative validation at the store boundary
	if err := s.validator.Check(category, key, v, effective); err != nil {
		s.rollBack(pw, variant, prev, had)

		return err
	}

	row, err := settingctl.Upsert(storeCtx, s.db, category, key, string(at), ref.InstanceID(at), raw, actor)
	if err != nil {
		s.rollBack(pw, variant, prev, had)

		return &StoreError{Op: "upsert", Err: err}
	}

	s.confirm(pw)

	// other variants of this key may resolve differently now
	s.cache.Invalidate(category, key)
	s.cache.Put(category, key, variant, cache.Entry{Value: v, Scope: string(at)}, s.reg.TTL(category, defaultCacheTTL))

	if !def.Sensitive && s.local != nil {
		if err := s.local.Put(ctx, category, key, v); err != nil {
			s.log.Debug().Err(err).Str("key", key).Msg("local store write-through failed")
		}
	}

	change := broadcast.Change{
		Category:  category,
		Key:       key,
		Scope:     string(at),
		ScopeID:   ref.InstanceID(at),
		Value:     raw,
		UpdatedAt: row.UpdatedAt,
		UpdatedBy: actor,
	}
	if err := s.bcast.Publish(ctx, change); err != nil {
		s.log.Warn().Err(err).Str("category", category).Str("key", key).Msg("change broadcast failed, peers converge on next read")
	}

	return nil
}

func (s *Service) checkWriteScope(def registry.Definition, at scope.Scope, ref scope.Ref) error {
	if !at.Valid() {
		return ErrScopeNotAllowed
	}
	if at == scope.User && (!def.UserOverridable || ref.UserID == "") {
		return ErrScopeNotAllowed
	}
	if at == scope.Location && ref.LocationID == "" {
		return ErrScopeNotAllowed
	}

	return nil
}

// BatchResult reports a multi-key update. Writes are independently
// atomic; a batch is not all-or-nothing.
type BatchResult struct {
	Applied []string
	Failed  map[string]error
}

// PartialFailure reports whether some keys failed while others applied.
func (r BatchResult) PartialFailure() bool {
	return len(r.Failed) > 0 && len(r.Applied) > 0
}

// UpdateCategorySettings applies a set of writes to one category,
// per key, and reports which applied and which failed.
func (s *Service) UpdateCategorySettings(ctx context.Context, category string, values map[string]value.Value, at scope.Scope, ref scope.Ref, actor string) BatchResult {
	result := BatchResult{Failed: make(map[string]error)}

	for key, v := range values {
		if err := s.UpdateSetting(ctx, category, key, v, at, ref, actor); err != nil {
			result.Failed[key] = err

			continue
		}
		result.Applied = append(result.Applied, key)
	}

	return result
}

// ResetToDefault removes the override at a scope level so resolution
// falls through to the parent scope, and broadcasts the new effective
// value.
func (s *Service) ResetToDefault(ctx context.Context, category, key string, at scope.Scope, ref scope.Ref, actor string) error {
	def, err := s.reg.Definition(category, key)
	if err != nil {
		return ErrSettingNotFound
	}

	if err := s.checkWriteScope(def, at, ref); err != nil {
		return err
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	if err := settingctl.DeleteOverride(storeCtx, s.db, category, key, string(at), ref.InstanceID(at), actor); err != nil {
		if errors.Is(err, settingctl.ErrSettingNotFound) {
			return ErrSettingNotFound
		}

		return &StoreError{Op: "delete override", Err: err}
	}

	s.cache.Invalidate(category, key)

	resolved, err := s.engine.Resolve(storeCtx, category, key, ref)
	if err != nil {
		// override removed; peers still converge via invalidation on read
		return nil
	}

	raw, err := value.Encode(resolved.Value)
	if err != nil {
		return nil
	}

	change := broadcast.Change{
		Category:  category,
		Key:       key,
		Scope:     string(resolved.Scope),
		ScopeID:   ref.InstanceID(resolved.Scope),
		Value:     raw,
		UpdatedAt: time.Now().UTC(),
		UpdatedBy: actor,
	}
	if err := s.bcast.Publish(ctx, change); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("reset broadcast failed")
	}

	return nil
}

// ApplyTemplate seeds a scope instance from a named template bundle,
// one validated write per key. Writes are independently atomic, so the
// report can carry partial failures.
func (s *Service) ApplyTemplate(ctx context.Context, name string, at scope.Scope, ref scope.Ref, actor string) (BatchResult, error) {
	result := BatchResult{Failed: make(map[string]error)}

	storeCtx, cancel := s.storeCtx(ctx)
	tpl, err := templatectl.Get(storeCtx, s.db, name)
	cancel()
	if err != nil {
		if errors.Is(err, templatectl.ErrTemplateNotFound) {
			return result, err
		}

		return result, &StoreError{Op: "load template", Err: err}
	}

	payload, err := value.Decode(tpl.Payload)
	if err != nil {
		return result, err
	}

	categories, ok := payload.AsObject()
	if !ok {
		return result, errors.New("template payload is not an object")
	}

	for category, keys := range categories {
		inner, ok := keys.AsObject()
		if !ok {
			result.Failed[category] = errors.New("template category is not an object")

			continue
		}

		for key, v := range inner {
			qualified := category + "/" + key
			if err := s.UpdateSetting(ctx, category, key, v, at, ref, actor); err != nil {
				result.Failed[qualified] = err

				continue
			}
			result.Applied = append(result.Applied, qualified)
		}
	}

	return result, nil
}

// Subscribe registers a callback for a category's change events and
// connectivity transitions. Release the returned subscription to stop
// delivery; the underlying channel closes with the last subscriber.
func (s *Service) Subscribe(category string, fn broadcast.Callback) (*broadcast.Subscription, error) {
	return s.bcast.Subscribe(category, fn)
}

// batchWindow coalesces bursts of change events, for example a
// category-wide update, into one callback delivery.
const batchWindow = 100 * time.Millisecond

// SubscribeValues registers a callback that receives a map of changed
// keys to their new decoded values, coalesced per batch of updates.
// Connectivity transitions are not delivered here; use Subscribe for
// the full event stream.
func (s *Service) SubscribeValues(category string, fn func(map[string]value.Value)) (*broadcast.Subscription, error) {
	var (
		mu    sync.Mutex
		batch = make(map[string]value.Value)
		timer *time.Timer
	)

	flush := func() {
		mu.Lock()
		out := batch
		batch = make(map[string]value.Value)
		timer = nil
		mu.Unlock()

		if len(out) > 0 {
			fn(out)
		}
	}

	return s.bcast.Subscribe(category, func(ev broadcast.Event) {
		if ev.Kind != broadcast.KindChange {
			return
		}

		v, err := value.Decode(ev.Change.Value)
		if err != nil {
			return
		}

		mu.Lock()
		batch[ev.Change.Key] = v
		if timer == nil {
			timer = time.AfterFunc(batchWindow, flush)
		}
		mu.Unlock()
	})
}

// GetWithFallback reads through the degrade path: live resolution with
// a bounded timeout, then the durable local store, then the hard
// default. It never fails.
func (s *Service) GetWithFallback(ctx context.Context, category, key string, ref scope.Ref, hard value.Value) value.Value {
	return s.chain.Get(ctx, category, key, ref, hard)
}

func (s *Service) trackPending(pw *conflict.PendingWrite) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending[pendingKey(pw.Category(), pw.Key())] = pw
}

func (s *Service) takePending(category, key string) *conflict.PendingWrite {
	s.mu.Lock()
	defer s.mu.Unlock()

	pk := pendingKey(category, key)
	pw := s.pending[pk]
	delete(s.pending, pk)

	return pw
}

func (s *Service) confirm(pw *conflict.PendingWrite) {
	if err := pw.Confirm(); err != nil {
		// a concurrent remote event settled it first; the conflict
		// path already corrected the cache
		return
	}
	s.takePending(pw.Category(), pw.Key())
}

func (s *Service) rollBack(pw *conflict.PendingWrite, variant string, prev cache.Entry, had bool) {
	if err := pw.RollBack(); err != nil {
		return
	}
	s.takePending(pw.Category(), pw.Key())

	if had {
		s.cache.Put(pw.Category(), pw.Key(), variant, prev, s.reg.TTL(pw.Category(), defaultCacheTTL))

		return
	}
	s.cache.Invalidate(pw.Category(), pw.Key())
}

// onEvent keeps the local cache coherent with remote writes and
// settles pending writes that lost a race.
func (s *Service) onEvent(ev broadcast.Event) {
	switch ev.Kind {
	case broadcast.KindDegraded:
		s.log.Warn().Str("reason", ev.Reason).Msg("live channel degraded, serving cached values until recovery")

		return
	case broadcast.KindRecovered:
		s.log.Info().Msg("live channel recovered, retiring possibly stale cache")
		for _, category := range s.reg.Categories() {
			s.cache.InvalidateCategory(category)
		}

		return
	}

	change := ev.Change
	if change.Origin == s.bcast.ClientID() {
		// our own write, handled on the confirm path
		return
	}

	remoteVal, err := value.Decode(change.Value)
	if err != nil {
		s.log.Warn().Err(err).Str("key", change.Key).Msg("remote change carried an undecodable value")
		s.cache.Invalidate(change.Category, change.Key)

		return
	}

	pw := s.takePending(change.Category, change.Key)
	if pw != nil && pw.State() == conflict.StatePending {
		s.reconcile(pw, remoteVal, change)

		return
	}

	// plain remote write: drop the cached key everywhere, next read
	// resolves fresh
	s.cache.Invalidate(change.Category, change.Key)
	s.writeThroughRemote(change.Category, change.Key, remoteVal)
}

func (s *Service) reconcile(pw *conflict.PendingWrite, remoteVal value.Value, change broadcast.Change) {
	strategy := s.reg.Strategy(change.Category)
	resolved, outcome := s.conflicts.Resolve(strategy, pw, remoteVal, change.UpdatedAt)

	s.log.Info().
		Str("change_id", change.ID).
		Str("category", change.Category).
		Str("key", change.Key).
		Str("strategy", string(strategy)).
		Str("outcome", outcome.String()).
		Msg("concurrent write reconciled")

	switch outcome {
	case conflict.KeptLocal:
		// the local write carries the later timestamp, but the store
		// may hold the remote value; re-upsert the winner so every
		// client converges to it even after cache expiry. Writing an
		// identical value is a no-op, so this terminates.
		_ = pw.Confirm()
		s.cache.Invalidate(change.Category, change.Key)
		s.persistOutcome(change, resolved, pw.Actor())
	case conflict.Merged:
		_ = pw.RollBack()
		s.cache.Invalidate(change.Category, change.Key)

		// persist the merged value so every client converges on it;
		// merging identical values is stable, so this terminates
		s.persistOutcome(change, resolved, pw.Actor())
	default: // TookRemote
		_ = pw.RollBack()
		s.cache.Invalidate(change.Category, change.Key)
		s.writeThroughRemote(change.Category, change.Key, resolved)
	}
}

// persistOutcome writes a reconciled value back to the store at the
// coordinate the remote change landed on.
func (s *Service) persistOutcome(change broadcast.Change, v value.Value, actor string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	raw, err := value.Encode(v)
	if err != nil {
		return
	}

	at := scope.Scope(change.Scope)
	if !at.Valid() {
		at = scope.System
	}

	if _, err := settingctl.Upsert(ctx, s.db, change.Category, change.Key, string(at), change.ScopeID, raw, actor); err != nil {
		s.log.Warn().Err(err).
			Str("key", change.Key).
			Str("change_id", change.ID).
			Msg("persisting reconciled value failed")

		return
	}
	s.writeThroughRemote(change.Category, change.Key, v)
}

func (s *Service) writeThroughRemote(category, key string, v value.Value) {
	def, err := s.reg.Definition(category, key)
	if err != nil || def.Sensitive || s.local == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.local.Put(ctx, category, key, v); err != nil {
		s.log.Debug().Err(err).Str("key", key).Msg("local store write-through failed")
	}
}

// liveStep adapts the cached live resolution into the fallback chain.
type liveStep struct {
	s *Service
}

func (l liveStep) Name() string { return "live" }

func (l liveStep) Resolve(ctx context.Context, category, key string, ref scope.Ref) (value.Value, error) {
	v, _, err := l.s.GetSetting(ctx, category, key, ref)
	if err != nil {
		if errors.Is(err, ErrSettingNotFound) {
			return value.Value{}, fallback.ErrMiss
		}

		return value.Value{}, err
	}

	return v, nil
}
