// Package mock provides a deterministic, scriptable audio source for tests.
//
// A Source plays back a script of segments, each a run of silent or voiced
// (sine wave) chunks. Frames are generated on demand from ReadFrame, so tests
// stay fully deterministic with no timing dependence.
package mock

import (
	"context"
	"io"
	"math"
	"sync"
	"time"

	"github.com/exovoice/exo/pkg/audio"
)

// Segment is one scripted run of identical chunks.
type Segment struct {
	// Chunks is the number of frames this segment produces.
	Chunks int

	// Amplitude scales the sine wave in [0, 1]. 0 produces silence.
	Amplitude float64

	// Frequency of the sine wave in Hz. Ignored when Amplitude is 0;
	// defaults to 440 when voiced and unset.
	Frequency float64
}

// Silence returns a segment of n silent chunks.
func Silence(n int) Segment {
	return Segment{Chunks: n}
}

// Voice returns a segment of n voiced chunks at half amplitude.
func Voice(n int) Segment {
	return Segment{Chunks: n, Amplitude: 0.5, Frequency: 440}
}

// Option configures a Source.
type Option func(*Source)

// WithRoom sets the room name stamped on generated frames. Default "test".
func WithRoom(room string) Option {
	return func(s *Source) { s.room = room }
}

// WithChunkSamples overrides the samples per generated frame.
func WithChunkSamples(n int) Option {
	return func(s *Source) { s.chunkSamples = n }
}

// WithTrailingSilence makes the source emit endless silence once the script
// is exhausted instead of returning io.EOF.
func WithTrailingSilence() Option {
	return func(s *Source) { s.trailingSilence = true }
}

// Source is a scriptable audio source. It implements [audio.Source].
type Source struct {
	room            string
	chunkSamples    int
	trailingSilence bool
	script          []Segment

	mu      sync.Mutex
	started bool
	closed  bool
	seg     int
	emitted int
	phase   float64
	frames  int
}

// NewSource creates a source that plays back script in order.
func NewSource(script []Segment, opts ...Option) *Source {
	s := &Source{
		room:         "test",
		chunkSamples: audio.DefaultChunkSamples,
		script:       script,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

var _ audio.Source = (*Source)(nil)

// Start marks the source as running.
func (s *Source) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	s.started = true
	return nil
}

// ReadFrame generates the next scripted frame. It returns io.EOF when the
// script is exhausted, unless trailing silence is enabled.
func (s *Source) ReadFrame(ctx context.Context) (audio.Frame, error) {
	if err := ctx.Err(); err != nil {
		return audio.Frame{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.started {
		return audio.Frame{}, io.EOF
	}

	for s.seg < len(s.script) && s.emitted >= s.script[s.seg].Chunks {
		s.seg++
		s.emitted = 0
	}

	var seg Segment
	switch {
	case s.seg < len(s.script):
		seg = s.script[s.seg]
		s.emitted++
	case s.trailingSilence:
		seg = Segment{}
	default:
		return audio.Frame{}, io.EOF
	}

	s.frames++
	return audio.Frame{
		Data:       s.generate(seg),
		SampleRate: audio.DefaultSampleRate,
		Channels:   audio.DefaultChannels,
		Room:       s.room,
		Timestamp:  time.Now(),
	}, nil
}

// generate produces one chunk of PCM for seg. Must be called with s.mu held.
func (s *Source) generate(seg Segment) []byte {
	samples := make([]int16, s.chunkSamples)
	if seg.Amplitude > 0 {
		freq := seg.Frequency
		if freq <= 0 {
			freq = 440
		}
		for i := range samples {
			v := seg.Amplitude * math.Sin(2*math.Pi*freq*s.phase/float64(audio.DefaultSampleRate))
			samples[i] = int16(v * 32767)
			s.phase++
			if s.phase >= float64(audio.DefaultSampleRate) {
				s.phase = 0
			}
		}
	}
	return audio.SamplesToBytes(samples)
}

// Stop halts frame generation.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	return nil
}

// Room returns the configured room name.
func (s *Source) Room() string { return s.room }

// Name returns "mock".
func (s *Source) Name() string { return "mock" }

// Close releases the source.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.started = false
	return nil
}

// FramesRead returns the number of frames generated so far.
func (s *Source) FramesRead() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}
