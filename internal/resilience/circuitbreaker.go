// Package resilience provides the failover primitives the dispatch path
// runs on: a three-state circuit breaker and provider chains that try the
// next healthy transcriber, brain, or TTS backend when the preferred one
// fails.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Do] while the breaker is open and
// the retry window has not yet elapsed.
var ErrBreakerOpen = errors.New("resilience: breaker open")

// Breaker defaults.
const (
	DefaultTripAfter   = 5
	DefaultRetryAfter  = 30 * time.Second
	DefaultProbeBudget = 3
)

// BreakerState is the operating mode of a [Breaker].
type BreakerState int

const (
	// BreakerClosed forwards every call.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects calls until the retry window elapses.
	BreakerOpen

	// BreakerProbing allows a limited number of calls through to test
	// whether the backend recovered.
	BreakerProbing
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerProbing:
		return "probing"
	default:
		return "unknown"
	}
}

// BreakerConfig holds the breaker tuning knobs. Zero values select the
// package defaults.
type BreakerConfig struct {
	// Name labels the breaker in log messages.
	Name string

	// TripAfter is the consecutive-failure count that opens the breaker.
	TripAfter int

	// RetryAfter is how long the breaker stays open before probing.
	RetryAfter time.Duration

	// ProbeBudget is how many probe calls may run while probing; that many
	// consecutive successes close the breaker, any failure re-opens it.
	ProbeBudget int
}

// Breaker is a three-state circuit breaker (closed, open, probing). Safe
// for concurrent use.
type Breaker struct {
	cfg BreakerConfig

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probes   int
	probeOKs int
}

// NewBreaker creates a closed Breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.TripAfter <= 0 {
		cfg.TripAfter = DefaultTripAfter
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = DefaultRetryAfter
	}
	if cfg.ProbeBudget <= 0 {
		cfg.ProbeBudget = DefaultProbeBudget
	}
	return &Breaker{cfg: cfg}
}

// Do runs fn if the breaker allows it, recording the outcome.
func (b *Breaker) Do(fn func() error) error {
	probing, err := b.allow()
	if err != nil {
		return err
	}

	err = fn()
	b.record(probing, err == nil)
	return err
}

// allow decides whether a call may proceed, handling the open-to-probing
// transition. Reports whether the call counts against the probe budget.
func (b *Breaker) allow() (probing bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if time.Since(b.openedAt) < b.cfg.RetryAfter {
			return false, ErrBreakerOpen
		}
		b.state = BreakerProbing
		b.probes = 0
		b.probeOKs = 0
		slog.Info("breaker probing backend", "name", b.cfg.Name)

	case BreakerProbing:
		if b.probes >= b.cfg.ProbeBudget {
			return false, ErrBreakerOpen
		}
	}

	if b.state == BreakerProbing {
		b.probes++
		return true, nil
	}
	return false, nil
}

// record updates the breaker after a call.
func (b *Breaker) record(probing, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probing {
		if !ok {
			b.trip()
			slog.Warn("breaker re-opened after failed probe", "name", b.cfg.Name)
			return
		}
		b.probeOKs++
		if b.probeOKs >= b.cfg.ProbeBudget {
			b.state = BreakerClosed
			b.failures = 0
			slog.Info("breaker closed after successful probes", "name", b.cfg.Name)
		}
		return
	}

	if !ok {
		b.failures++
		if b.failures >= b.cfg.TripAfter {
			b.trip()
			slog.Warn("breaker opened",
				"name", b.cfg.Name, "consecutive_failures", b.failures)
		}
		return
	}
	b.failures = 0
}

// trip moves to the open state. Must be called with b.mu held.
func (b *Breaker) trip() {
	b.state = BreakerOpen
	b.openedAt = time.Now()
	b.failures = b.cfg.TripAfter
}

// State returns the breaker's current state. An open breaker whose retry
// window has elapsed reports BreakerProbing; the actual transition happens
// on the next Do call.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen && time.Since(b.openedAt) >= b.cfg.RetryAfter {
		return BreakerProbing
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.probes = 0
	b.probeOKs = 0
}
