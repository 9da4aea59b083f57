// Package config provides the configuration schema, loader, and provider
// registry for the exo voice assistant daemon.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/exovoice/exo/internal/session"
	"github.com/exovoice/exo/internal/stt"
	"github.com/exovoice/exo/internal/vad"
)

// LogLevel controls log verbosity for the exo daemon.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogText LogFormat = "text"
	LogJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogText || f == LogJSON
}

// Duration wraps time.Duration with YAML decoding from strings like "800ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for exod, typically loaded from
// a YAML file with [Load].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	VAD       VADConfig       `yaml:"vad"`
	STT       STTConfig       `yaml:"stt"`
	Wake      WakeConfig      `yaml:"wake"`
	Session   SessionConfig   `yaml:"session"`
	Ingest    IngestConfig    `yaml:"ingest"`
	History   HistoryConfig   `yaml:"history"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address for the health and metrics endpoints
	// (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects text or json log output.
	LogFormat LogFormat `yaml:"log_format"`
}

// ProvidersConfig declares the backend for each pipeline stage. Each Name
// selects a factory registered in the [Registry].
type ProvidersConfig struct {
	Transcriber TranscriberConfig `yaml:"transcriber"`
	Brain       BrainConfig       `yaml:"brain"`
	TTS         TTSConfig         `yaml:"tts"`
}

// TranscriberConfig configures the speech-to-text backend.
type TranscriberConfig struct {
	// Name selects the registered transcriber (e.g., "whisper").
	Name string `yaml:"name"`

	// ModelPath is the on-disk model for native backends.
	ModelPath string `yaml:"model_path"`

	// ServerURL points at an HTTP transcription server, for backends that
	// use one.
	ServerURL string `yaml:"server_url"`

	// Language hints the spoken language (e.g., "fr").
	Language string `yaml:"language"`
}

// BrainConfig configures the command reasoning backend.
type BrainConfig struct {
	// Name selects the registered brain (e.g., "openai", "ollama").
	Name string `yaml:"name"`

	// APIKey authenticates against the backend. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key"`

	// Model selects the backend model (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`

	// BaseURL overrides the backend's default endpoint.
	BaseURL string `yaml:"base_url"`
}

// TTSConfig configures the speech synthesis backend.
type TTSConfig struct {
	// Name selects the registered synthesiser (e.g., "piper").
	Name string `yaml:"name"`

	// ServerURL is the synthesis server address.
	ServerURL string `yaml:"server_url"`

	// Voice is the backend-specific voice or speaker identifier.
	Voice string `yaml:"voice"`
}

// VADConfig tunes energy detection, noise calibration, and endpointing.
// Zero values fall back to the vad package defaults.
type VADConfig struct {
	FixedThreshold    float64  `yaml:"fixed_threshold"`
	NoiseMultiplier   float64  `yaml:"noise_multiplier"`
	NoiseCeiling      float64  `yaml:"noise_ceiling"`
	CalibrationFrames int      `yaml:"calibration_frames"`
	SilenceChunks     int      `yaml:"silence_chunks"`
	WindowSize        int      `yaml:"window_size"`
	WindowRatio       float64  `yaml:"window_ratio"`
	MinUtterance      Duration `yaml:"min_utterance"`
	MaxUtterance      Duration `yaml:"max_utterance"`
	MinVoicedChunks   int      `yaml:"min_voiced_chunks"`
	MaxWait           Duration `yaml:"max_wait"`
}

// Endpointer converts the section into a [vad.Config] using the supplied
// effective threshold (typically from noise calibration).
func (c VADConfig) Endpointer(threshold float64) vad.Config {
	return vad.Config{
		Threshold:       threshold,
		SilenceChunks:   c.SilenceChunks,
		WindowSize:      c.WindowSize,
		WindowRatio:     c.WindowRatio,
		MinVoicedChunks: c.MinVoicedChunks,
		MinUtterance:    c.MinUtterance.Std(),
		MaxUtterance:    c.MaxUtterance.Std(),
		MaxWait:         c.MaxWait.Std(),
	}
}

// STTConfig tunes the transcription pool and the speculative listener.
type STTConfig struct {
	Workers         int      `yaml:"workers"`
	SubmitInterval  Duration `yaml:"submit_interval"`
	ReuseThreshold  int      `yaml:"reuse_threshold"`
	MaxSnapshot     Duration `yaml:"max_snapshot"`
	FollowupTimeout Duration `yaml:"followup_timeout"`
}

// Pool converts the section into an [stt.PoolConfig].
func (c STTConfig) Pool() stt.PoolConfig {
	return stt.PoolConfig{Workers: c.Workers}
}

// Listener converts the section into an [stt.ListenerConfig] around the
// given endpointer settings.
func (c STTConfig) Listener(ep vad.Config) stt.ListenerConfig {
	return stt.ListenerConfig{
		Endpointer:      ep,
		SubmitInterval:  c.SubmitInterval.Std(),
		ReuseThreshold:  c.ReuseThreshold,
		MaxSnapshot:     c.MaxSnapshot.Std(),
		FollowUpTimeout: c.FollowupTimeout.Std(),
	}
}

// WakeConfig tunes wake-word spotting.
type WakeConfig struct {
	// Words overrides the default wake variant list.
	Words []string `yaml:"words"`

	// FuzzyThreshold is the JaroWinkler acceptance bound; 0 keeps the
	// default, negative disables fuzzy matching.
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
}

// RoomConfig declares one room and its scheduling priority (lower value is
// more urgent).
type RoomConfig struct {
	Name     string `yaml:"name"`
	Priority int    `yaml:"priority"`
}

// SessionConfig tunes the orchestrator.
type SessionConfig struct {
	MaxProcessing int          `yaml:"max_processing"`
	QueueSize     int          `yaml:"queue_size"`
	ErrorCooldown Duration     `yaml:"error_cooldown"`
	Rooms         []RoomConfig `yaml:"rooms"`
}

// Orchestrator converts the section into a [session.OrchestratorConfig].
func (c SessionConfig) Orchestrator() session.OrchestratorConfig {
	return session.OrchestratorConfig{
		MaxProcessing: c.MaxProcessing,
		QueueCapacity: c.QueueSize,
	}
}

// IngestConfig configures the network audio server.
type IngestConfig struct {
	// Enabled turns the WebSocket ingest server on.
	Enabled bool `yaml:"enabled"`

	// ListenAddr is the TCP address for the ingest endpoint.
	ListenAddr string `yaml:"listen_addr"`
}

// HistoryConfig selects the command history backend.
type HistoryConfig struct {
	// Backend is "postgres" or "memory". Empty means memory.
	Backend string `yaml:"backend"`

	// PostgresDSN is the connection string for the postgres backend.
	// Supports ${VAR} expansion.
	PostgresDSN string `yaml:"postgres_dsn"`

	// RingSize bounds the in-memory backend.
	RingSize int `yaml:"ring_size"`
}
