package conflict

import (
	"errors"
	"sync"
	"time"

	"github.com/lotkeeper/lotkeeper/internal/settings/value"
)

// State is the lifecycle position of an optimistic local write.
type State int

const (
	// StatePending means the write was applied to the local cache but
	// the backing store has not confirmed it.
	StatePending State = iota
	// StateConfirmed means the backing store accepted the write.
	StateConfirmed
	// StateRolledBack means the write lost: the store rejected it or
	// a conflicting remote write superseded it.
	StateRolledBack
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConfirmed:
		return "confirmed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// ErrWriteSettled is returned when a terminal pending write is moved
// again. Confirmed and RolledBack are terminal.
var ErrWriteSettled = errors.New("pending write already settled")

// PendingWrite tracks one optimistic local write from cache apply until
// the backing store or a conflicting remote write settles it.
type PendingWrite struct {
	mu sync.Mutex

	category string
	key      string
	val      value.Value
	actor    string

	// previous cache content, restored on rollback
	previous    value.Value
	hadPrevious bool

	submittedAt time.Time
	state       State
}

// NewPendingWrite starts tracking an optimistic write by actor.
// previous is the cache content before the optimistic apply;
// hadPrevious is false when the key was not cached.
func NewPendingWrite(category, key, actor string, val, previous value.Value, hadPrevious bool) *PendingWrite {
	return &PendingWrite{
		category:    category,
		key:         key,
		actor:       actor,
		val:         val,
		previous:    previous,
		hadPrevious: hadPrevious,
		submittedAt: time.Now(),
	}
}

// Category returns the setting category.
func (p *PendingWrite) Category() string { return p.category }

// Key returns the setting key.
func (p *PendingWrite) Key() string { return p.key }

// Actor returns who submitted the write.
func (p *PendingWrite) Actor() string { return p.actor }

// Value returns the optimistically written value.
func (p *PendingWrite) Value() value.Value { return p.val }

// SubmittedAt returns the client timestamp of the write.
func (p *PendingWrite) SubmittedAt() time.Time { return p.submittedAt }

// State returns the current lifecycle state.
func (p *PendingWrite) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state
}

// Confirm marks the write accepted by the backing store.
func (p *PendingWrite) Confirm() error {
	return p.settle(StateConfirmed)
}

// RollBack marks the write lost.
func (p *PendingWrite) RollBack() error {
	return p.settle(StateRolledBack)
}

func (p *PendingWrite) settle(terminal State) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StatePending {
		return ErrWriteSettled
	}
	p.state = terminal

	return nil
}

// Previous returns the cache content to restore on rollback and
// whether the key was cached at all.
func (p *PendingWrite) Previous() (value.Value, bool) {
	return p.previous, p.hadPrevious
}
