package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per pipeline stage. Used by
// [Validate] to warn about unrecognised names without rejecting third-party
// factories.
var ValidProviderNames = map[string][]string{
	"transcriber": {"whisper", "whisper-server", "mock"},
	"brain":       {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "mock"},
	"tts":         {"piper", "mock"},
}

// ValidHistoryBackends lists the accepted history.backend values.
var ValidHistoryBackends = []string{"", "memory", "postgres"}

// Load reads the YAML configuration file at path and returns a validated
// [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands environment
// references in secret fields, and validates the result. Useful in tests
// where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	expandSecrets(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandSecrets resolves ${VAR} references in the fields that carry
// credentials, so keys never have to live in the config file itself.
func expandSecrets(cfg *Config) {
	cfg.Providers.Brain.APIKey = expandEnv(cfg.Providers.Brain.APIKey)
	cfg.History.PostgresDSN = expandEnv(cfg.History.PostgresDSN)
}

// expandEnv substitutes ${VAR} with the environment value. Unset variables
// expand to the empty string. Bare $VAR is left untouched so postgres DSNs
// with dollar signs survive.
func expandEnv(s string) string {
	return os.Expand(s, func(key string) string {
		return os.Getenv(key)
	})
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every validation failure found.
func Validate(cfg *Config) error {
	var errs []error

	// Server.
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	// Provider names warn rather than fail.
	validateProviderName("transcriber", cfg.Providers.Transcriber.Name)
	validateProviderName("brain", cfg.Providers.Brain.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)

	// VAD ranges. Zero means "use the default" throughout.
	if cfg.VAD.FixedThreshold < 0 {
		errs = append(errs, fmt.Errorf("vad.fixed_threshold %.1f must not be negative", cfg.VAD.FixedThreshold))
	}
	if cfg.VAD.NoiseMultiplier < 0 {
		errs = append(errs, fmt.Errorf("vad.noise_multiplier %.2f must not be negative", cfg.VAD.NoiseMultiplier))
	}
	if c := cfg.VAD.NoiseCeiling; c != 0 && c < 1 {
		errs = append(errs, fmt.Errorf("vad.noise_ceiling %.2f must be at least 1", c))
	}
	if r := cfg.VAD.WindowRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("vad.window_ratio %.2f is out of range [0, 1]", r))
	}
	if mn, mx := cfg.VAD.MinUtterance.Std(), cfg.VAD.MaxUtterance.Std(); mn > 0 && mx > 0 && mn >= mx {
		errs = append(errs, fmt.Errorf("vad.min_utterance %s must be shorter than vad.max_utterance %s", mn, mx))
	}

	// Wake.
	if cfg.Wake.FuzzyThreshold > 1 {
		errs = append(errs, fmt.Errorf("wake.fuzzy_threshold %.2f is out of range (max 1.0)", cfg.Wake.FuzzyThreshold))
	}
	for i, w := range cfg.Wake.Words {
		if w == "" {
			errs = append(errs, fmt.Errorf("wake.words[%d] is empty", i))
		}
	}

	// Rooms.
	if len(cfg.Session.Rooms) == 0 {
		errs = append(errs, errors.New("session.rooms must declare at least one room"))
	}
	roomsSeen := make(map[string]int, len(cfg.Session.Rooms))
	for i, room := range cfg.Session.Rooms {
		prefix := fmt.Sprintf("session.rooms[%d]", i)
		if room.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, dup := roomsSeen[room.Name]; dup {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of session.rooms[%d]", prefix, room.Name, prev))
		}
		roomsSeen[room.Name] = i
		if room.Priority < 0 {
			errs = append(errs, fmt.Errorf("%s.priority %d must not be negative", prefix, room.Priority))
		}
	}

	// History.
	if !slices.Contains(ValidHistoryBackends, cfg.History.Backend) {
		errs = append(errs, fmt.Errorf("history.backend %q is invalid; valid values: memory, postgres", cfg.History.Backend))
	}
	if cfg.History.Backend == "postgres" && cfg.History.PostgresDSN == "" {
		errs = append(errs, errors.New("history.postgres_dsn is required when history.backend is postgres"))
	}

	// Ingest.
	if cfg.Ingest.Enabled && cfg.Ingest.ListenAddr == "" {
		errs = append(errs, errors.New("ingest.listen_addr is required when ingest.enabled is true"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
