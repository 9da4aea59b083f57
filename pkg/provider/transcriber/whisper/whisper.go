// Package whisper provides whisper.cpp-backed transcriber providers.
//
// Two variants exist: [Native] links the whisper.cpp library directly via
// CGO, and [Server] talks to a running whisper-server binary (POST
// /inference). Both are batch engines behind the transcriber.Provider
// contract.
//
// Usage:
//
//	p, err := whisper.NewServer("http://localhost:8080",
//	    whisper.WithLanguage("fr"),
//	)
//	res, err := p.Transcribe(ctx, pcm, 16000)
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/exovoice/exo/pkg/audio"
	"github.com/exovoice/exo/pkg/provider/transcriber"
)

const (
	defaultLanguage = "fr"

	// modelSampleRate is the only sample rate whisper models accept.
	modelSampleRate = 16000
)

// Compile-time assertion that Server implements transcriber.Provider.
var _ transcriber.Provider = (*Server)(nil)

// Option is a functional option for configuring a Server provider.
type Option func(*Server)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base", "small"). When empty the server uses whichever model it was
// started with.
func WithModel(model string) Option {
	return func(p *Server) { p.model = model }
}

// WithLanguage sets the BCP-47 language code sent to the server. Defaults
// to "fr".
func WithLanguage(lang string) Option {
	return func(p *Server) { p.language = lang }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Server) { p.httpClient.Timeout = d }
}

// Server implements transcriber.Provider backed by a whisper.cpp HTTP
// server. Safe for concurrent use.
type Server struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// NewServer creates a provider that connects to the whisper.cpp HTTP server
// at serverURL (e.g., "http://localhost:8080").
func NewServer(serverURL string, opts ...Option) (*Server, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Server{
		serverURL:  serverURL,
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe encodes pcm as WAV and POSTs it to the /inference endpoint as
// multipart/form-data.
func (p *Server) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (transcriber.Result, error) {
	start := time.Now()
	wav := audio.EncodeWAV(pcm, sampleRate, 1)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return transcriber.Result{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return transcriber.Result{}, fmt.Errorf("whisper: write wav data: %w", err)
	}
	if p.language != "" {
		if err := mw.WriteField("language", p.language); err != nil {
			return transcriber.Result{}, fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if p.model != "" {
		if err := mw.WriteField("model", p.model); err != nil {
			return transcriber.Result{}, fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return transcriber.Result{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	endpoint := p.serverURL + "/inference"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return transcriber.Result{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return transcriber.Result{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return transcriber.Result{}, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return transcriber.Result{}, fmt.Errorf("whisper: read response body: %w", err)
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return transcriber.Result{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	return transcriber.Result{
		Text:     strings.TrimSpace(payload.Text),
		Language: p.language,
		Duration: time.Since(start),
	}, nil
}

// Name implements transcriber.Provider.
func (p *Server) Name() string { return "whisper" }

// Close implements transcriber.Provider. The HTTP client holds no
// per-provider resources.
func (p *Server) Close() error { return nil }
