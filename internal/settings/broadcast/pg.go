package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var reconnects = promauto.NewCounter(prometheus.CounterOpts{
	Name: "lotkeeper_settings_channel_reconnects_total",
	Help: "Reconnection attempts of the live notification channel.",
})

const (
	reconnectMin = 500 * time.Millisecond
	reconnectMax = 30 * time.Second
)

// PGNotifier implements Notifier on Postgres LISTEN/NOTIFY. One
// dedicated connection carries all LISTENs; a second one serves
// pg_notify publishes. A dropped listen connection is re-established
// with exponential backoff and all channels are re-LISTENed; observers
// get a degraded signal in between.
type PGNotifier struct {
	connString string
	log        zerolog.Logger

	mu       sync.Mutex
	handlers map[string]map[uint64]Handler
	next     uint64
	states   []StateHandler
	pubConn  *pgx.Conn

	cancelLoop context.CancelFunc
	loopDone   chan struct{}
	restart    chan struct{} // poked when the LISTEN set grows
}

// NewPGNotifier connects to Postgres and starts the listen loop.
func NewPGNotifier(ctx context.Context, connString string, log zerolog.Logger) (*PGNotifier, error) {
	pubConn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, errors.Wrap(err, "connect notify publisher")
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	n := &PGNotifier{
		connString: connString,
		log:        log,
		handlers:   make(map[string]map[uint64]Handler),
		pubConn:    pubConn,
		cancelLoop: cancel,
		loopDone:   make(chan struct{}),
		restart:    make(chan struct{}, 1),
	}

	go n.listenLoop(loopCtx)

	return n, nil
}

// Publish sends the payload over pg_notify.
func (n *PGNotifier) Publish(ctx context.Context, channel string, payload []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	_, err := n.pubConn.Exec(ctx, "SELECT pg_notify($1, $2)", channel, string(payload))

	return errors.Wrap(err, "pg_notify")
}

// Listen registers a handler; the LISTEN set of the loop connection is
// extended on the next (re)connect, which Listen triggers immediately.
func (n *PGNotifier) Listen(channel string, h Handler) (func(), error) {
	n.mu.Lock()
	if n.handlers[channel] == nil {
		n.handlers[channel] = make(map[uint64]Handler)
	}
	n.next++
	id := n.next
	n.handlers[channel][id] = h
	n.mu.Unlock()

	n.poke()

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()

		delete(n.handlers[channel], id)
		if len(n.handlers[channel]) == 0 {
			delete(n.handlers, channel)
		}
	}, nil
}

// OnState registers a connectivity observer.
func (n *PGNotifier) OnState(h StateHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.states = append(n.states, h)
}

// Close stops the listen loop and closes connections.
func (n *PGNotifier) Close() error {
	n.cancelLoop()
	<-n.loopDone

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n.mu.Lock()
	defer n.mu.Unlock()

	return n.pubConn.Close(ctx)
}

func (n *PGNotifier) poke() {
	select {
	case n.restart <- struct{}{}:
	default:
	}
}

func (n *PGNotifier) notifyState(state State, reason string) {
	n.mu.Lock()
	observers := make([]StateHandler, len(n.states))
	copy(observers, n.states)
	n.mu.Unlock()

	for _, h := range observers {
		h(state, reason)
	}
}

func (n *PGNotifier) channelSet() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	channels := make([]string, 0, len(n.handlers))
	for ch := range n.handlers {
		channels = append(channels, ch)
	}

	return channels
}

func (n *PGNotifier) dispatch(channel string, payload []byte) {
	n.mu.Lock()
	handlers := make([]Handler, 0, len(n.handlers[channel]))
	for _, h := range n.handlers[channel] {
		handlers = append(handlers, h)
	}
	n.mu.Unlock()

	for _, h := range handlers {
		h(payload)
	}
}

func (n *PGNotifier) listenLoop(ctx context.Context) {
	defer close(n.loopDone)

	backoff := reconnectMin

	for {
		if ctx.Err() != nil {
			return
		}

		err := n.listenOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			n.log.Warn().Err(err).Dur("backoff", backoff).Msg("live channel dropped, reconnecting")
			n.notifyState(StateDegraded, err.Error())
			reconnects.Inc()

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}

			backoff *= 2
			if backoff > reconnectMax {
				backoff = reconnectMax
			}

			continue
		}

		backoff = reconnectMin
	}
}

// listenOnce holds one listen connection until it fails or the LISTEN
// set changes. A nil return means the set changed and the caller should
// reconnect without backoff.
func (n *PGNotifier) listenOnce(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, n.connString)
	if err != nil {
		return errors.Wrap(err, "connect listener")
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	channels := n.channelSet()
	for _, ch := range channels {
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			return errors.Wrapf(err, "listen %s", ch)
		}
	}

	n.notifyState(StateConnected, "")

	for {
		waitCtx, cancel := context.WithCancel(ctx)

		go func() {
			select {
			case <-n.restart:
				cancel()
			case <-waitCtx.Done():
			}
		}()

		notification, err := conn.WaitForNotification(waitCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if waitCtx.Err() != nil && ctx.Err() == nil {
				// LISTEN set changed, reconnect cleanly
				return nil
			}

			return errors.Wrap(err, "wait for notification")
		}

		n.dispatch(notification.Channel, []byte(notification.Payload))
	}
}
