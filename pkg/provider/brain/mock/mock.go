// Package mock provides a test double for the brain.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/exovoice/exo/pkg/provider/brain"
)

// Brain is a mock implementation of brain.Provider. Zero values return an
// empty reply; set Err to inject failures.
type Brain struct {
	mu sync.Mutex

	// Replies are returned in order; the last one repeats once exhausted.
	Replies []*brain.Reply

	// Err, if non-nil, is returned by every Process call.
	Err error

	// Calls records every Process invocation in order.
	Calls []brain.Request

	next int
}

// Process records the call and returns the next configured reply.
func (b *Brain) Process(ctx context.Context, req brain.Request) (*brain.Reply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.Calls = append(b.Calls, req)
	if b.Err != nil {
		return nil, b.Err
	}
	if len(b.Replies) == 0 {
		return &brain.Reply{}, nil
	}
	reply := b.Replies[b.next]
	if b.next < len(b.Replies)-1 {
		b.next++
	}
	return reply, nil
}

// Name implements brain.Provider.
func (b *Brain) Name() string { return "mock" }

// Close implements brain.Provider.
func (b *Brain) Close() error { return nil }

// CallCount returns the number of recorded Process calls.
func (b *Brain) CallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Calls)
}

// LastCall returns the most recent recorded request.
func (b *Brain) LastCall() brain.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.Calls) == 0 {
		return brain.Request{}
	}
	return b.Calls[len(b.Calls)-1]
}

// Ensure Brain implements brain.Provider at compile time.
var _ brain.Provider = (*Brain)(nil)
