// Package mock provides an in-memory transcriber.Provider for unit tests.
//
// The mock returns scripted results in order and records every call so tests
// can assert on call counts and submitted buffer sizes. It is safe for
// concurrent use.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/exovoice/exo/pkg/provider/transcriber"
)

// Call records the arguments of one Transcribe invocation.
type Call struct {
	PCMBytes   int
	SampleRate int
}

// Transcriber is a mock implementation of [transcriber.Provider].
// Set the exported fields before use; inspect Calls afterwards.
type Transcriber struct {
	mu sync.Mutex

	// Results are returned in order, one per call. When exhausted, the last
	// result repeats. A nil/empty slice yields a zero Result.
	Results []transcriber.Result

	// Err, when non-nil, is returned by every call instead of a result.
	Err error

	// Delay is slept (context-aware) before returning, to simulate
	// inference latency.
	Delay time.Duration

	// Calls holds one entry per Transcribe invocation.
	Calls []Call
}

var _ transcriber.Provider = (*Transcriber)(nil)

// Transcribe implements transcriber.Provider.
func (m *Transcriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (transcriber.Result, error) {
	m.mu.Lock()
	idx := len(m.Calls)
	m.Calls = append(m.Calls, Call{PCMBytes: len(pcm), SampleRate: sampleRate})
	delay := m.Delay
	err := m.Err
	var res transcriber.Result
	if len(m.Results) > 0 {
		if idx >= len(m.Results) {
			idx = len(m.Results) - 1
		}
		res = m.Results[idx]
	}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return transcriber.Result{}, ctx.Err()
		}
	}
	if err != nil {
		return transcriber.Result{}, err
	}
	return res, nil
}

// Name implements transcriber.Provider.
func (m *Transcriber) Name() string { return "mock" }

// Close implements transcriber.Provider.
func (m *Transcriber) Close() error { return nil }

// CallCount returns the number of Transcribe invocations so far.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent call, or a zero Call when none happened.
func (m *Transcriber) LastCall() Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return Call{}
	}
	return m.Calls[len(m.Calls)-1]
}
