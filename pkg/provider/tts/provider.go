// Package tts defines the Provider interface for text-to-speech backends.
//
// A TTS provider turns a short spoken-ready reply into raw PCM16
// little-endian audio. Implementors must be safe for concurrent use: several
// room sessions may speak at once.
package tts

import (
	"context"
	"io"
)

// Provider is the abstraction over any text-to-speech backend.
type Provider interface {
	// Speak synthesises text and returns mono PCM16 little-endian audio at
	// the provider's configured sample rate.
	Speak(ctx context.Context, text string) ([]byte, error)

	// SampleRate returns the sample rate of the PCM returned by Speak.
	SampleRate() int

	// Name returns a short identifier for logs and metrics.
	Name() string

	io.Closer
}
