package config_test

import (
	"errors"
	"testing"

	"github.com/exovoice/exo/internal/config"
	"github.com/exovoice/exo/pkg/provider/brain"
	brainmock "github.com/exovoice/exo/pkg/provider/brain/mock"
	"github.com/exovoice/exo/pkg/provider/transcriber"
	transcribermock "github.com/exovoice/exo/pkg/provider/transcriber/mock"
	"github.com/exovoice/exo/pkg/provider/tts"
	ttsmock "github.com/exovoice/exo/pkg/provider/tts/mock"
)

func TestRegistryCreatesRegisteredProviders(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	r.RegisterTranscriber("mock", func(cfg config.TranscriberConfig) (transcriber.Provider, error) {
		return &transcribermock.Transcriber{}, nil
	})
	r.RegisterBrain("mock", func(cfg config.BrainConfig) (brain.Provider, error) {
		return &brainmock.Brain{}, nil
	})
	r.RegisterTTS("mock", func(cfg config.TTSConfig) (tts.Provider, error) {
		return &ttsmock.Speaker{}, nil
	})

	if _, err := r.CreateTranscriber(config.TranscriberConfig{Name: "mock"}); err != nil {
		t.Errorf("CreateTranscriber: %v", err)
	}
	if _, err := r.CreateBrain(config.BrainConfig{Name: "mock"}); err != nil {
		t.Errorf("CreateBrain: %v", err)
	}
	if _, err := r.CreateTTS(config.TTSConfig{Name: "mock"}); err != nil {
		t.Errorf("CreateTTS: %v", err)
	}
}

func TestRegistryUnknownName(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	_, err := r.CreateBrain(config.BrainConfig{Name: "missing"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistryFactoryReceivesConfig(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	var seen config.BrainConfig
	r.RegisterBrain("probe", func(cfg config.BrainConfig) (brain.Provider, error) {
		seen = cfg
		return &brainmock.Brain{}, nil
	})

	in := config.BrainConfig{Name: "probe", APIKey: "sk-x", Model: "gpt-4o-mini"}
	if _, err := r.CreateBrain(in); err != nil {
		t.Fatalf("CreateBrain: %v", err)
	}
	if seen != in {
		t.Fatalf("factory saw %+v, want %+v", seen, in)
	}
}
