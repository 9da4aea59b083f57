package resilience

import (
	"context"
	"errors"
	"io"

	"github.com/exovoice/exo/pkg/provider/brain"
)

// BrainChain implements [brain.Provider] with failover across multiple
// reasoning backends, each behind its own breaker.
type BrainChain struct {
	group *FallbackGroup[brain.Provider]
}

// Compile-time interface assertion.
var _ brain.Provider = (*BrainChain)(nil)

// NewBrainChain creates a chain with primary as the preferred backend.
func NewBrainChain(primary brain.Provider, cfg FallbackConfig) *BrainChain {
	return &BrainChain{
		group: NewFallbackGroup(primary, primary.Name(), cfg),
	}
}

// Add registers an additional brain as a fallback.
func (c *BrainChain) Add(p brain.Provider) {
	c.group.Add(p.Name(), p)
}

// Process sends the command to the first healthy backend.
func (c *BrainChain) Process(ctx context.Context, req brain.Request) (*brain.Reply, error) {
	return TryWithResult(c.group, func(p brain.Provider) (*brain.Reply, error) {
		return p.Process(ctx, req)
	})
}

// Name implements brain.Provider.
func (c *BrainChain) Name() string { return "brain-chain" }

// States reports the breaker state of every backend.
func (c *BrainChain) States() map[string]BreakerState { return c.group.States() }

// Close closes every backend in the chain, returning the joined errors.
func (c *BrainChain) Close() error {
	return closeAll(c.group.entries)
}

// closeAll closes each entry value that implements io.Closer.
func closeAll[T any](entries []entry[T]) error {
	var errs []error
	for i := range entries {
		if closer, ok := any(entries[i].value).(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
