// Package mock provides a test double for the tts.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/exovoice/exo/pkg/audio"
	"github.com/exovoice/exo/pkg/provider/tts"
)

// Speaker is a mock implementation of tts.Provider. By default Speak returns
// a short silent PCM buffer; set PCM to control the output or Err to inject
// failures.
type Speaker struct {
	mu sync.Mutex

	// PCM is returned by every Speak call. Nil means a 1024-sample silent
	// buffer.
	PCM []byte

	// Err, if non-nil, is returned by every Speak call.
	Err error

	// Rate is the reported sample rate. Zero means 16000.
	Rate int

	// Spoken records the text of every Speak call in order.
	Spoken []string
}

// Speak records the call and returns the configured PCM.
func (s *Speaker) Speak(ctx context.Context, text string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.Spoken = append(s.Spoken, text)
	if s.Err != nil {
		return nil, s.Err
	}
	if s.PCM != nil {
		out := make([]byte, len(s.PCM))
		copy(out, s.PCM)
		return out, nil
	}
	return make([]byte, audio.DefaultChunkSamples*2), nil
}

// SampleRate implements tts.Provider.
func (s *Speaker) SampleRate() int {
	if s.Rate > 0 {
		return s.Rate
	}
	return audio.DefaultSampleRate
}

// Name implements tts.Provider.
func (s *Speaker) Name() string { return "mock" }

// Close implements tts.Provider.
func (s *Speaker) Close() error { return nil }

// CallCount returns the number of recorded Speak calls.
func (s *Speaker) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Spoken)
}

// LastSpoken returns the most recent spoken text.
func (s *Speaker) LastSpoken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Spoken) == 0 {
		return ""
	}
	return s.Spoken[len(s.Spoken)-1]
}

// Ensure Speaker implements tts.Provider at compile time.
var _ tts.Provider = (*Speaker)(nil)
