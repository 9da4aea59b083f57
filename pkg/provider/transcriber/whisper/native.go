// This file contains the native provider backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/exovoice/exo/pkg/provider/transcriber"
)

// Compile-time assertion that Native satisfies transcriber.Provider.
var _ transcriber.Provider = (*Native)(nil)

// Native implements transcriber.Provider using the whisper.cpp Go bindings,
// eliminating HTTP overhead entirely. The model is loaded once at startup
// and shared; each Transcribe call creates its own whisper context, so calls
// may run concurrently.
type Native struct {
	model    whisperlib.Model
	language string
}

// NativeOption is a functional option for configuring a Native provider.
type NativeOption func(*Native)

// WithNativeLanguage sets the BCP-47 language code for transcription
// (e.g., "fr", "en"). Defaults to "fr".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *Native) { p.language = lang }
}

// NewNative creates a Native provider that loads the whisper.cpp model from
// the given file path. The caller must call Close when the provider is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &Native{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements transcriber.Provider. It converts the PCM buffer to
// float32 samples, runs inference on a fresh whisper context, and joins the
// resulting segments.
func (p *Native) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (transcriber.Result, error) {
	if err := ctx.Err(); err != nil {
		return transcriber.Result{}, fmt.Errorf("whisper: context cancelled: %w", err)
	}
	if sampleRate != modelSampleRate {
		return transcriber.Result{}, fmt.Errorf("whisper: sample rate %d not supported, want %d", sampleRate, modelSampleRate)
	}

	start := time.Now()
	samples := pcmToFloat32(pcm)

	// Each context is NOT thread-safe, but the model can be shared across
	// goroutines.
	wctx, err := p.model.NewContext()
	if err != nil {
		return transcriber.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("whisper: failed to set language, using default",
			"language", p.language, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return transcriber.Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return transcriber.Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	return transcriber.Result{
		Text:     strings.Join(parts, " "),
		Language: p.language,
		Duration: time.Since(start),
	}, nil
}

// Name implements transcriber.Provider.
func (p *Native) Name() string { return "whisper-native" }

// Close releases the whisper model.
func (p *Native) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// pcmToFloat32 converts 16-bit signed little-endian mono PCM to the float32
// samples whisper.cpp expects, scaled to [-1, 1].
func pcmToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(s) / 32768.0
	}
	return out
}
