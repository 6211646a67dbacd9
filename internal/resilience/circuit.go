// Package resilience wraps outbound HTTP calls with a failure-ratio circuit
// breaker and exponential retry backoff.
package resilience

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrOpenCircuit is returned while the breaker refuses traffic.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State is the breaker's position in its lifecycle.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// Breaker trips open when the observed failure ratio reaches a threshold,
// cools off for a fixed window, then probes the upstream with a single
// request before closing again.
type Breaker struct {
	mu       sync.Mutex
	state    State
	fail     int
	ok       int
	minTotal int
	trip     float64
	cooloff  time.Duration
	since    time.Time
	name     string
	log      *zerolog.Logger
}

// NewBreaker builds a breaker. minTotal is the sample size required before
// the ratio is consulted, trip the failure ratio that opens the circuit, and
// cooloff how long an open breaker rejects before probing.
func NewBreaker(minTotal int, trip float64, cooloff time.Duration) *Breaker {
	if minTotal < 1 {
		minTotal = 1
	}
	if trip <= 0 || trip > 1 {
		trip = 0.5
	}
	if cooloff <= 0 {
		cooloff = 30 * time.Second
	}
	return &Breaker{minTotal: minTotal, trip: trip, cooloff: cooloff}
}

// WithTarget names the upstream for metric labels and transition logs.
func (b *Breaker) WithTarget(name string) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.name = strings.TrimSpace(name)
	b.publishState()
	return b
}

// WithLogger sets the fallback logger for transition events. A logger carried
// on the request context takes precedence.
func (b *Breaker) WithLogger(logger zerolog.Logger) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log = &logger
	return b
}

// Allow reports whether a request may proceed. An open breaker past its
// cool-off moves to half-open and lets the request through as a probe.
func (b *Breaker) Allow(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return true
	}
	if time.Since(b.since) < b.cooloff {
		return false
	}
	b.transition(ctx, StateHalfOpen)
	return true
}

// Report feeds a request outcome into the state machine.
func (b *Breaker) Report(ctx context.Context, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		return
	case StateHalfOpen:
		if success {
			b.transition(ctx, StateClosed)
		} else {
			b.transition(ctx, StateOpen)
		}
		return
	}

	if success {
		b.ok++
	} else {
		b.fail++
	}
	total := b.ok + b.fail
	if total < b.minTotal {
		return
	}
	if float64(b.fail)/float64(total) >= b.trip {
		b.transition(ctx, StateOpen)
		return
	}
	if total > 2*b.minTotal {
		// Age out old samples so a long-closed breaker can still trip.
		b.ok -= b.ok / 2
		b.fail -= b.fail / 2
	}
}

func (b *Breaker) transition(ctx context.Context, next State) {
	prev := b.state
	if prev == next {
		b.publishState()
		return
	}
	b.state = next
	b.ok, b.fail = 0, 0
	if next == StateOpen {
		b.since = time.Now()
	} else {
		b.since = time.Time{}
	}
	b.publishState()

	label := b.label()
	breakerTransitionsTotal.WithLabelValues(label, prev.String(), next.String()).Inc()
	if next == StateOpen {
		breakerOpenedTotal.WithLabelValues(label).Inc()
	}
	b.loggerFor(ctx).Info().
		Str("target", label).
		Str("from_state", prev.String()).
		Str("to_state", next.String()).
		Msg("breaker_transition")
}

func (b *Breaker) publishState() {
	breakerStateGauge.WithLabelValues(b.label()).Set(float64(b.state))
}

func (b *Breaker) label() string {
	if b.name == "" {
		return "default"
	}
	return b.name
}

var breakerNop = zerolog.Nop()

func (b *Breaker) loggerFor(ctx context.Context) *zerolog.Logger {
	if ctxLogger := zerolog.Ctx(ctx); ctxLogger.GetLevel() != zerolog.Disabled {
		logger := ctxLogger.With().Logger()
		return &logger
	}
	if b.log != nil {
		return b.log
	}
	return &breakerNop
}

// Backoff computes the exponential delay for a retry attempt. jitterPct
// spreads the result by up to that fraction in either direction.
func Backoff(base time.Duration, attempt int, jitterPct float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	d := base << uint(attempt-1)
	if jitterPct <= 0 {
		return d
	}
	spread := (rand.Float64()*2 - 1) * jitterPct * float64(d)
	return d + time.Duration(spread)
}
