// Package piper provides a TTS provider backed by a locally-running Piper
// HTTP server. Synthesis is one GET /?text=... call per reply; the WAV
// response is unwrapped to raw PCM and resampled to the configured output
// rate when the model's native rate differs.
package piper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/exovoice/exo/pkg/audio"
	"github.com/exovoice/exo/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultTimeout = 30 * time.Second

	// defaultOutputRate matches the native rate of the medium Piper voices.
	defaultOutputRate = 22050
)

// Option is a functional option for configuring a Piper Provider.
type Option func(*Provider)

// WithSpeaker selects a speaker ID for multi-speaker voice models.
func WithSpeaker(id string) Option {
	return func(p *Provider) { p.speaker = id }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithOutputSampleRate resamples synthesised PCM to the given rate. Defaults
// to 22050, the native rate of the medium Piper voices.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) { p.outputRate = rate }
}

// Provider implements tts.Provider backed by a Piper HTTP server. Safe for
// concurrent use; each Speak call is an independent HTTP request.
type Provider struct {
	serverURL  string
	speaker    string
	outputRate int
	httpClient *http.Client
}

// New creates a Provider targeting the Piper server at serverURL
// (e.g. "http://localhost:5000").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("piper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		outputRate: defaultOutputRate,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Speak implements tts.Provider.
func (p *Provider) Speak(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("piper: text must not be empty")
	}

	params := url.Values{}
	params.Set("text", text)
	if p.speaker != "" {
		params.Set("speaker_id", p.speaker)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.serverURL+"/?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("piper: create request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("piper: synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("piper: server returned status %d", resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("piper: read WAV response: %w", err)
	}

	pcm, info, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("piper: decode WAV response: %w", err)
	}
	if info.Channels == 2 {
		pcm = audio.StereoToMono(pcm)
	}
	if info.SampleRate > 0 && info.SampleRate != p.outputRate {
		pcm = audio.Resample(pcm, info.SampleRate, p.outputRate)
	}
	return pcm, nil
}

// SampleRate implements tts.Provider.
func (p *Provider) SampleRate() int { return p.outputRate }

// Name implements tts.Provider.
func (p *Provider) Name() string { return "piper" }

// Close implements tts.Provider.
func (p *Provider) Close() error { return nil }
