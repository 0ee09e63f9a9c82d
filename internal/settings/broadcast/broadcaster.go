package broadcast

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// channelPrefix namespaces the live channel names so unrelated
// LISTEN/NOTIFY traffic on the same database stays invisible.
const channelPrefix = "lotkeeper_settings_"

// Callback receives events for one subscribed category.
type Callback func(Event)

// Broadcaster fans live-channel events out to local subscribers.
// Exactly one underlying channel subscription exists per category,
// opened when the first local callback registers and closed when the
// last one releases its Subscription.
type Broadcaster struct {
	notifier Notifier
	clientID string
	log      zerolog.Logger

	mu         sync.Mutex
	categories map[string]*categorySub
}

type categorySub struct {
	cancel    func()
	callbacks map[uint64]Callback
	next      uint64
}

// New creates a broadcaster over the given notifier. clientID is
// stamped onto outgoing events as their origin.
func New(notifier Notifier, clientID string, log zerolog.Logger) *Broadcaster {
	b := &Broadcaster{
		notifier:   notifier,
		clientID:   clientID,
		log:        log,
		categories: make(map[string]*categorySub),
	}

	notifier.OnState(b.fanOutState)

	return b
}

// ClientID returns the origin id stamped onto this process's events.
func (b *Broadcaster) ClientID() string { return b.clientID }

// Subscription is the capability token returned by Subscribe. Releasing
// it decrements the category's reference count; the underlying channel
// subscription is torn down when the count reaches zero.
type Subscription struct {
	once    sync.Once
	release func()
}

// Unsubscribe releases the subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.release)
}

// Subscribe registers a callback for a category's change events and
// connectivity transitions.
func (b *Broadcaster) Subscribe(category string, fn Callback) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.categories[category]
	if !ok {
		cancel, err := b.notifier.Listen(channelPrefix+category, func(payload []byte) {
			b.deliver(category, payload)
		})
		if err != nil {
			return nil, err
		}

		sub = &categorySub{cancel: cancel, callbacks: make(map[uint64]Callback)}
		b.categories[category] = sub
	}

	sub.next++
	id := sub.next
	sub.callbacks[id] = fn

	return &Subscription{release: func() { b.release(category, id) }}, nil
}

// Publish sends a change to every client listening on the category's
// channel, including this one.
func (b *Broadcaster) Publish(ctx context.Context, change Change) error {
	change.ID = uuid.NewString()
	change.Origin = b.clientID

	payload, err := encodeChange(change)
	if err != nil {
		return err
	}

	return b.notifier.Publish(ctx, channelPrefix+change.Category, payload)
}

func (b *Broadcaster) release(category string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.categories[category]
	if !ok {
		return
	}

	delete(sub.callbacks, id)
	if len(sub.callbacks) == 0 {
		sub.cancel()
		delete(b.categories, category)
	}
}

func (b *Broadcaster) deliver(category string, payload []byte) {
	change, err := decodeChange(payload)
	if err != nil {
		b.log.Warn().Err(err).Str("category", category).Msg("dropping malformed change event")

		return
	}

	for _, fn := range b.callbacks(category) {
		fn(Event{Kind: KindChange, Change: change})
	}
}

func (b *Broadcaster) fanOutState(state State, reason string) {
	kind := KindRecovered
	if state == StateDegraded {
		kind = KindDegraded
	}

	b.mu.Lock()
	var all []Callback
	for _, sub := range b.categories {
		for _, fn := range sub.callbacks {
			all = append(all, fn)
		}
	}
	b.mu.Unlock()

	for _, fn := range all {
		fn(Event{Kind: kind, Reason: reason})
	}
}

func (b *Broadcaster) callbacks(category string) []Callback {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.categories[category]
	if !ok {
		return nil
	}

	out := make([]Callback, 0, len(sub.callbacks))
	for _, fn := range sub.callbacks {
		out = append(out, fn)
	}

	return out
}
