// Package transcriber defines the speech-to-text provider interface used by
// the streaming transcription layer.
//
// Providers are batch engines: they receive a complete PCM buffer and return
// text. Streaming behaviour (speculative submission of partial buffers) is
// built on top by internal/stt, so implementations stay simple.
package transcriber

import (
	"context"
	"io"
	"time"
)

// Result is the outcome of one transcription call.
type Result struct {
	// Text is the transcribed text, whitespace-trimmed. May be empty for
	// silent or unintelligible audio.
	Text string

	// Language is the BCP-47 code of the detected or configured language.
	Language string

	// Confidence in [0, 1] when the engine reports one; 0 means unknown.
	Confidence float64

	// Duration is how long the inference took.
	Duration time.Duration
}

// Provider transcribes 16-bit signed little-endian mono PCM.
//
// Transcribe must be safe for concurrent use; the worker pool calls it from
// several goroutines against the same provider.
type Provider interface {
	// Transcribe runs inference over the full buffer. sampleRate is the PCM
	// sample rate in Hz.
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (Result, error)

	// Name returns the provider name (e.g., "whisper-native").
	Name() string

	// Close releases engine resources.
	io.Closer
}
