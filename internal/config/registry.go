package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/exovoice/exo/pkg/provider/brain"
	"github.com/exovoice/exo/pkg/provider/transcriber"
	"github.com/exovoice/exo/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory
// has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// pipeline stage. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	transcriber map[string]func(TranscriberConfig) (transcriber.Provider, error)
	brain       map[string]func(BrainConfig) (brain.Provider, error)
	tts         map[string]func(TTSConfig) (tts.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		transcriber: make(map[string]func(TranscriberConfig) (transcriber.Provider, error)),
		brain:       make(map[string]func(BrainConfig) (brain.Provider, error)),
		tts:         make(map[string]func(TTSConfig) (tts.Provider, error)),
	}
}

// RegisterTranscriber registers a transcriber factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTranscriber(name string, factory func(TranscriberConfig) (transcriber.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcriber[name] = factory
}

// RegisterBrain registers a brain factory under name.
func (r *Registry) RegisterBrain(name string, factory func(BrainConfig) (brain.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.brain[name] = factory
}

// RegisterTTS registers a TTS factory under name.
func (r *Registry) RegisterTTS(name string, factory func(TTSConfig) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// CreateTranscriber instantiates the transcriber registered under cfg.Name.
// Returns [ErrProviderNotRegistered] for unknown names.
func (r *Registry) CreateTranscriber(cfg TranscriberConfig) (transcriber.Provider, error) {
	r.mu.RLock()
	factory, ok := r.transcriber[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transcriber/%q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg)
}

// CreateBrain instantiates the brain registered under cfg.Name.
func (r *Registry) CreateBrain(cfg BrainConfig) (brain.Provider, error) {
	r.mu.RLock()
	factory, ok := r.brain[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: brain/%q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg)
}

// CreateTTS instantiates the synthesiser registered under cfg.Name.
func (r *Registry) CreateTTS(cfg TTSConfig) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg)
}
