package audio

import (
	"context"
	"io"
)

// Source captures audio for a single room from a microphone or other input.
//
// Implementations deliver frames in the canonical pipeline format. ReadFrame
// returns io.EOF once the source has been stopped and its buffer drained.
type Source interface {
	// Start begins audio capture. After Start, frames are available via
	// ReadFrame. Starting an already-running source is a no-op.
	Start(ctx context.Context) error

	// ReadFrame returns the next captured frame, blocking until one is
	// available, the context is cancelled, or the source is stopped.
	ReadFrame(ctx context.Context) (Frame, error)

	// Stop halts capture. Safe to call multiple times.
	Stop() error

	// Room returns the room this source captures for.
	Room() string

	// Name returns the backend name (e.g., "alsa", "ingest", "mock").
	Name() string

	// Close releases all resources. After Close the source cannot be
	// restarted.
	io.Closer
}
