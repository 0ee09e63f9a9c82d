// Package broadcast is the pub/sub façade over the backing store's
// live-change primitive. It fans inbound change events out to local
// subscribers per category, opening exactly one underlying channel
// subscription per category regardless of how many local callbacks
// register.
package broadcast

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Change is one setting change as carried over the live channel. The
// wire form is JSON with an ISO 8601 timestamp.
type Change struct {
	// ID is unique per published event and correlates log lines about
	// it across processes.
	ID       string `json:"id"`
	Category string `json:"category"`
	Key      string `json:"key"`

	// Scope and ScopeID locate the row the write landed on, so
	// receivers reconciling a conflict can persist at the same
	// coordinate.
	Scope   string `json:"scope"`
	ScopeID string `json:"scope_id,omitempty"`

	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
	UpdatedBy string          `json:"updated_by"`
	Origin    string          `json:"origin"`
}

// EventKind discriminates deliveries to subscribers.
type EventKind int

const (
	// KindChange is a setting change.
	KindChange EventKind = iota
	// KindDegraded signals the live channel dropped; events may be
	// missed until recovery.
	KindDegraded
	// KindRecovered signals the live channel is healthy again.
	// Subscribers should refresh values they care about.
	KindRecovered
)

// Event is what subscribers receive: a change, or a connectivity
// transition of the live channel.
type Event struct {
	Kind   EventKind
	Change Change
	Reason string
}

func encodeChange(c Change) ([]byte, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "encode change event")
	}

	return raw, nil
}

func decodeChange(raw []byte) (Change, error) {
	var c Change
	if err := json.Unmarshal(raw, &c); err != nil {
		return Change{}, errors.Wrap(err, "decode change event")
	}

	return c, nil
}
