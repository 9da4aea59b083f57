package ingest

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/exovoice/exo/pkg/audio"
)

// sourceBuffer is the number of pipeline frames buffered per room before the
// server starts dropping incoming audio.
const sourceBuffer = 64

// Source adapts a room's incoming wire audio into an [audio.Source]. The
// server pushes decoded PCM into it; the room pipeline reads canonical
// 64 ms frames out of it.
type Source struct {
	room   string
	frames chan audio.Frame

	mu      sync.Mutex
	pending []byte
	started bool
	closed  bool
}

// Compile-time interface assertion.
var _ audio.Source = (*Source)(nil)

// NewSource creates an ingest-fed source for room.
func NewSource(room string) *Source {
	return &Source{
		room:   room,
		frames: make(chan audio.Frame, sourceBuffer),
	}
}

// Start implements audio.Source. Frames pushed before Start are retained.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

// ReadFrame returns the next buffered frame. It returns io.EOF once the
// source is closed and the buffer is drained.
func (s *Source) ReadFrame(ctx context.Context) (audio.Frame, error) {
	select {
	case f, ok := <-s.frames:
		if !ok {
			return audio.Frame{}, io.EOF
		}
		return f, nil
	default:
	}
	select {
	case <-ctx.Done():
		return audio.Frame{}, ctx.Err()
	case f, ok := <-s.frames:
		if !ok {
			return audio.Frame{}, io.EOF
		}
		return f, nil
	}
}

// Push appends canonical-format PCM to the source, slicing it into 64 ms
// pipeline frames. It reports false when frames were dropped because the
// pipeline is not keeping up.
func (s *Source) Push(pcm []byte, ts time.Time) bool {
	const frameBytes = audio.DefaultChunkSamples * 2

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	s.pending = append(s.pending, pcm...)
	ok := true
	for len(s.pending) >= frameBytes {
		f := audio.Frame{
			Data:       append([]byte(nil), s.pending[:frameBytes]...),
			SampleRate: audio.DefaultSampleRate,
			Channels:   audio.DefaultChannels,
			Room:       s.room,
			Timestamp:  ts,
		}
		s.pending = s.pending[frameBytes:]
		select {
		case s.frames <- f:
		default:
			ok = false
		}
	}
	return ok
}

// Stop implements audio.Source. The pipeline drains buffered frames and then
// sees io.EOF.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.pending = nil
		close(s.frames)
	}
	return nil
}

// Room implements audio.Source.
func (s *Source) Room() string { return s.room }

// Name implements audio.Source.
func (s *Source) Name() string { return "ingest" }

// Close implements audio.Source.
func (s *Source) Close() error { return s.Stop() }
