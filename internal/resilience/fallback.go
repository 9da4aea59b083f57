package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or
// has an open breaker.
var ErrAllFailed = errors.New("resilience: all backends failed")

// FallbackConfig configures the per-entry breaker created for each backend
// in a [FallbackGroup].
type FallbackConfig struct {
	Breaker BreakerConfig
}

// entry pairs a backend with its dedicated breaker.
type entry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// FallbackGroup holds an ordered chain of backends of the same type. Calls
// go to the first entry whose breaker admits them; on failure the next
// entry is tried. Registration order is preference order.
//
// Safe for concurrent use once assembled; Add is not synchronised and must
// happen before the group is shared.
type FallbackGroup[T any] struct {
	entries []entry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group with primary as the preferred backend.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.Add(primaryName, primary)
	return g
}

// Add appends a fallback backend, tried after all previously added entries.
func (g *FallbackGroup[T]) Add(name string, backend T) {
	bCfg := g.cfg.Breaker
	bCfg.Name = name
	g.entries = append(g.entries, entry[T]{
		name:    name,
		value:   backend,
		breaker: NewBreaker(bCfg),
	})
}

// States reports the breaker state of every backend, keyed by backend name.
func (g *FallbackGroup[T]) States() map[string]BreakerState {
	states := make(map[string]BreakerState, len(g.entries))
	for i := range g.entries {
		states[g.entries[i].name] = g.entries[i].breaker.State()
	}
	return states
}

// Try runs fn against each entry in order until one succeeds. Entries with
// an open breaker are skipped. Every entry failing yields [ErrAllFailed]
// wrapped around the last error.
func (g *FallbackGroup[T]) Try(fn func(T) error) error {
	_, err := TryWithResult(g, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// TryWithResult is [FallbackGroup.Try] for calls that return a value. A
// package-level function because Go methods cannot add type parameters.
func TryWithResult[T, R any](g *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range g.entries {
		e := &g.entries[i]
		var result R
		err := e.breaker.Do(func() error {
			var callErr error
			result, callErr = fn(e.value)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrBreakerOpen) {
			slog.Debug("skipping backend, breaker open", "backend", e.name)
		} else {
			slog.Warn("backend failed, trying next", "backend", e.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
