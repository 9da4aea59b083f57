package resilience

import (
	"context"

	"github.com/exovoice/exo/pkg/provider/transcriber"
)

// TranscriberChain implements [transcriber.Provider] with failover across
// multiple transcription backends, each behind its own breaker.
type TranscriberChain struct {
	group *FallbackGroup[transcriber.Provider]
}

// Compile-time interface assertion.
var _ transcriber.Provider = (*TranscriberChain)(nil)

// NewTranscriberChain creates a chain with primary as the preferred
// backend.
func NewTranscriberChain(primary transcriber.Provider, cfg FallbackConfig) *TranscriberChain {
	return &TranscriberChain{
		group: NewFallbackGroup(primary, primary.Name(), cfg),
	}
}

// Add registers an additional transcriber as a fallback.
func (c *TranscriberChain) Add(p transcriber.Provider) {
	c.group.Add(p.Name(), p)
}

// Transcribe runs the inference on the first healthy backend.
func (c *TranscriberChain) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (transcriber.Result, error) {
	return TryWithResult(c.group, func(p transcriber.Provider) (transcriber.Result, error) {
		return p.Transcribe(ctx, pcm, sampleRate)
	})
}

// Name implements transcriber.Provider.
func (c *TranscriberChain) Name() string { return "transcriber-chain" }

// States reports the breaker state of every backend.
func (c *TranscriberChain) States() map[string]BreakerState { return c.group.States() }

// Close closes every backend in the chain, returning the joined errors.
func (c *TranscriberChain) Close() error {
	return closeAll(c.group.entries)
}
