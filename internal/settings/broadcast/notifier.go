package broadcast

import (
	"context"
	"sync"
)

// State is the connectivity state of the live channel.
type State int

const (
	// StateConnected means notifications are flowing.
	StateConnected State = iota
	// StateDegraded means the channel dropped and reconnection with
	// backoff is in progress.
	StateDegraded
)

// Handler receives the raw payload of one notification.
type Handler func(payload []byte)

// StateHandler receives connectivity transitions.
type StateHandler func(state State, reason string)

// Notifier is the live-change primitive of the backing store. The
// Postgres implementation rides LISTEN/NOTIFY; the in-memory one serves
// sqlite deployments and tests.
type Notifier interface {
	// Publish sends a payload to every listener of a channel,
	// including listeners in this process.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Listen registers a handler for a channel and returns a cancel
	// func that unregisters it. The underlying subscription is shared
	// between handlers of the same channel.
	Listen(channel string, h Handler) (func(), error)

	// OnState registers a connectivity observer.
	OnState(h StateHandler)

	// Close tears down all subscriptions.
	Close() error
}

// MemoryNotifier is an in-process Notifier. Cross-process delivery is
// not available without a shared backing channel, which mirrors what a
// sqlite deployment can do.
type MemoryNotifier struct {
	mu       sync.Mutex
	channels map[string]map[uint64]Handler
	next     uint64
	closed   bool
}

// NewMemoryNotifier creates an in-process notifier.
func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{channels: make(map[string]map[uint64]Handler)}
}

// Publish delivers the payload to every registered handler of the
// channel. Delivery is asynchronous so a slow handler cannot stall the
// writer.
func (m *MemoryNotifier) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	handlers := make([]Handler, 0, len(m.channels[channel]))
	for _, h := range m.channels[channel] {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		go h(payload)
	}

	return nil
}

// Listen registers a handler for a channel.
func (m *MemoryNotifier) Listen(channel string, h Handler) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.channels[channel] == nil {
		m.channels[channel] = make(map[uint64]Handler)
	}

	m.next++
	id := m.next
	m.channels[channel][id] = h

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		delete(m.channels[channel], id)
		if len(m.channels[channel]) == 0 {
			delete(m.channels, channel)
		}
	}, nil
}

// OnState is a no-op: an in-process channel cannot drop.
func (m *MemoryNotifier) OnState(_ StateHandler) {}

// Close drops all handlers.
func (m *MemoryNotifier) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.channels = make(map[string]map[uint64]Handler)
	m.closed = true

	return nil
}
