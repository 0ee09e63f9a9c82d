// Package conflict reconciles concurrent writes to the same setting
// key. There is no cross-process lock: every client applies its writes
// optimistically and converges through the broadcast channel, so a
// deterministic per-category strategy decides which value survives.
package conflict

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/lotkeeper/lotkeeper/internal/settings/value"
)

// Strategy names a per-category conflict resolution policy.
type Strategy string

const (
	// ServerWins makes the last write accepted by the backing store
	// authoritative. The default for most categories.
	ServerWins Strategy = "server_wins"
	// TimestampBased lets the write with the later client timestamp
	// win. Acceptable where approximate clock sync holds and user
	// intent matters more than arrival order.
	TimestampBased Strategy = "timestamp_based"
	// MergeDeep combines non-conflicting object fields from both
	// writes; conflicting leaves fall back to ServerWins.
	MergeDeep Strategy = "merge_deep"
)

// Valid reports whether s names a known strategy.
func (s Strategy) Valid() bool {
	return s == ServerWins || s == TimestampBased || s == MergeDeep
}

// ErrMergeAmbiguous marks a merge where conflicting leaves could not be
// combined deterministically. It is logged, never returned to callers;
// the resolution falls back to the server value.
var ErrMergeAmbiguous = errors.New("deep merge had conflicting leaves")

// Outcome describes which side a resolution converged to.
type Outcome int

const (
	// TookRemote means the remote (server-accepted) value replaced
	// the local one.
	TookRemote Outcome = iota
	// KeptLocal means the local pending value survived.
	KeptLocal
	// Merged means both writes contributed fields.
	Merged
)

// String returns the outcome name used in logs.
func (o Outcome) String() string {
	switch o {
	case TookRemote:
		return "took_remote"
	case KeptLocal:
		return "kept_local"
	case Merged:
		return "merged"
	default:
		return "unknown"
	}
}

// Resolver applies the per-category strategy to concurrent writes.
type Resolver struct {
	log zerolog.Logger
}

// NewResolver creates a Resolver logging through the given logger.
func NewResolver(log zerolog.Logger) *Resolver {
	return &Resolver{log: log}
}

// Resolve decides the value a client's cache must converge to when a
// remote change for a key arrives while a local write for the same key
// is still pending. The returned value is what every client ends up
// with; the Outcome says which side contributed it.
func (r *Resolver) Resolve(strategy Strategy, local *PendingWrite, remote value.Value, remoteAt time.Time) (value.Value, Outcome) {
	switch strategy {
	case TimestampBased:
		if local.SubmittedAt().After(remoteAt) {
			return local.Value(), KeptLocal
		}

		return remote, TookRemote
	case MergeDeep:
		merged, err := Merge(local.Value(), remote)
		if err != nil {
			r.log.Warn().
				Str("category", local.Category()).
				Str("key", local.Key()).
				Err(err).
				Msg("deep merge ambiguous, conflicting leaves take the server value")
		}

		return merged, Merged
	default: // ServerWins
		return remote, TookRemote
	}
}

// Merge combines two object values field by field. Fields present on
// only one side are kept; fields present on both recurse when both are
// objects and otherwise conflict. A conflicting leaf resolves to the
// remote side and flags the merge as ambiguous via ErrMergeAmbiguous.
// Lists are atomic leaves: diverging lists conflict as a whole, there
// is no per-index merging.
func Merge(local, remote value.Value) (value.Value, error) {
	localObj, localOK := local.AsObject()
	remoteObj, remoteOK := remote.AsObject()

	if !localOK || !remoteOK {
		// strategy misuse on a non-object value degenerates to server_wins
		if local.Equal(remote) {
			return remote, nil
		}

		return remote, ErrMergeAmbiguous
	}

	merged := make(map[string]value.Value, len(localObj)+len(remoteObj))
	var ambiguous bool

	for name, lv := range localObj {
		merged[name] = lv
	}

	for name, rv := range remoteObj {
		lv, both := merged[name]
		if !both {
			merged[name] = rv

			continue
		}

		if lv.Equal(rv) {
			continue
		}

		if lv.Kind() == value.KindObject && rv.Kind() == value.KindObject {
			sub, err := Merge(lv, rv)
			if err != nil {
				ambiguous = true
			}
			merged[name] = sub

			continue
		}

		// conflicting leaf, server side wins
		merged[name] = rv
		ambiguous = true
	}

	if ambiguous {
		return value.Object(merged), ErrMergeAmbiguous
	}

	return value.Object(merged), nil
}
