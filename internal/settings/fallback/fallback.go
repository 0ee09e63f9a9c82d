// Package fallback implements the ordered degrade path for reads:
// live resolution, then the durable local store, then the caller's
// hard-coded default. The chain never fails; it always hands back a
// value.
package fallback

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/lotkeeper/lotkeeper/internal/settings/scope"
	"github.com/lotkeeper/lotkeeper/internal/settings/value"
)

var transitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lotkeeper_settings_fallback_transitions_total",
	Help: "Degrade-path transitions per step and reason.",
}, []string{"step", "reason"})

// ErrMiss tells the chain a step had no value, as opposed to failing.
var ErrMiss = errors.New("no value at this step")

// Step is one resolver in the degrade path. A returned error moves the
// chain to the next step; ErrMiss distinguishes an absent value from a
// failure for logging.
type Step interface {
	Name() string
	Resolve(ctx context.Context, category, key string, ref scope.Ref) (value.Value, error)
}

// Chain is the explicit ordered list of resolvers.
type Chain struct {
	steps []Step
	log   zerolog.Logger
}

// NewChain builds a degrade path from its steps, tried in order.
func NewChain(log zerolog.Logger, steps ...Step) *Chain {
	return &Chain{steps: steps, log: log}
}

// Get walks the chain and returns the first value it finds, or the
// hard default when every step fails. Every transition is logged with
// its reason; nothing propagates to the caller.
func (c *Chain) Get(ctx context.Context, category, key string, ref scope.Ref, hard value.Value) value.Value {
	for _, step := range c.steps {
		v, err := step.Resolve(ctx, category, key, ref)
		if err == nil {
			return v
		}

		reason := transitionReason(ctx, err)
		transitions.WithLabelValues(step.Name(), reason).Inc()
		c.log.Debug().
			Str("category", category).
			Str("key", key).
			Str("step", step.Name()).
			Str("reason", reason).
			Msg("fallback step exhausted")
	}

	transitions.WithLabelValues("hard_default", "exhausted").Inc()
	c.log.Warn().
		Str("category", category).
		Str("key", key).
		Msg("all fallback steps exhausted, serving hard default")

	return hard
}

func transitionReason(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, ErrMiss):
		return "miss"
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
