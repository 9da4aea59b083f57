package resilience

import (
	"context"

	"github.com/exovoice/exo/pkg/provider/tts"
)

// TTSChain implements [tts.Provider] with failover across multiple speech
// backends, each behind its own breaker.
type TTSChain struct {
	group *FallbackGroup[tts.Provider]
	rate  int
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSChain)(nil)

// NewTTSChain creates a chain with primary as the preferred backend. The
// chain reports the primary's sample rate; fallbacks should be configured
// to match it.
func NewTTSChain(primary tts.Provider, cfg FallbackConfig) *TTSChain {
	return &TTSChain{
		group: NewFallbackGroup(primary, primary.Name(), cfg),
		rate:  primary.SampleRate(),
	}
}

// Add registers an additional TTS backend as a fallback.
func (c *TTSChain) Add(p tts.Provider) {
	c.group.Add(p.Name(), p)
}

// Speak synthesises text on the first healthy backend.
func (c *TTSChain) Speak(ctx context.Context, text string) ([]byte, error) {
	return TryWithResult(c.group, func(p tts.Provider) ([]byte, error) {
		return p.Speak(ctx, text)
	})
}

// SampleRate implements tts.Provider.
func (c *TTSChain) SampleRate() int { return c.rate }

// Name implements tts.Provider.
func (c *TTSChain) Name() string { return "tts-chain" }

// States reports the breaker state of every backend.
func (c *TTSChain) States() map[string]BreakerState { return c.group.States() }

// Close closes every backend in the chain, returning the joined errors.
func (c *TTSChain) Close() error {
	return closeAll(c.group.entries)
}
