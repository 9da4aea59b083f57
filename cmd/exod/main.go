// Command exod is the multi-room voice assistant daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/exovoice/exo/internal/app"
	"github.com/exovoice/exo/internal/config"
	"github.com/exovoice/exo/internal/observe"
	"github.com/exovoice/exo/pkg/provider/brain"
	"github.com/exovoice/exo/pkg/provider/brain/anyllm"
	"github.com/exovoice/exo/pkg/provider/brain/openai"
	"github.com/exovoice/exo/pkg/provider/transcriber"
	"github.com/exovoice/exo/pkg/provider/transcriber/whisper"
	"github.com/exovoice/exo/pkg/provider/tts"
	"github.com/exovoice/exo/pkg/provider/tts/piper"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "exod.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "exod: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "exod: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel, cfg.Server.LogFormat)
	slog.SetDefault(logger)

	slog.Info("exod starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "exod"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithLogger(logger))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}

	return 0
}

// ── Provider registration ─────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
//
// Third-party binaries embedding exod can register additional factories
// before calling buildProviders.
func registerBuiltinProviders(reg *config.Registry) {
	// Transcribers.
	reg.RegisterTranscriber("whisper", func(cfg config.TranscriberConfig) (transcriber.Provider, error) {
		var opts []whisper.NativeOption
		if cfg.Language != "" {
			opts = append(opts, whisper.WithNativeLanguage(cfg.Language))
		}
		return whisper.NewNative(cfg.ModelPath, opts...)
	})
	reg.RegisterTranscriber("whisper-server", func(cfg config.TranscriberConfig) (transcriber.Provider, error) {
		var opts []whisper.Option
		if cfg.Language != "" {
			opts = append(opts, whisper.WithLanguage(cfg.Language))
		}
		return whisper.NewServer(cfg.ServerURL, opts...)
	})

	// Brains. OpenAI gets the dedicated client; every other hosted backend
	// goes through the any-llm bridge with the same factory body.
	reg.RegisterBrain("openai", func(cfg config.BrainConfig) (brain.Provider, error) {
		var opts []openai.Option
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(cfg.APIKey, cfg.Model, opts...)
	})
	for _, name := range []string{"anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"} {
		reg.RegisterBrain(name, func(cfg config.BrainConfig) (brain.Provider, error) {
			var opts []anyllm.Option
			if cfg.APIKey != "" {
				opts = append(opts, anyllm.WithAPIKey(cfg.APIKey))
			}
			if cfg.BaseURL != "" {
				opts = append(opts, anyllm.WithBaseURL(cfg.BaseURL))
			}
			return anyllm.New(name, cfg.Model, opts...)
		})
	}

	// Synthesisers.
	reg.RegisterTTS("piper", func(cfg config.TTSConfig) (tts.Provider, error) {
		var opts []piper.Option
		if cfg.Voice != "" {
			opts = append(opts, piper.WithSpeaker(cfg.Voice))
		}
		return piper.New(cfg.ServerURL, opts...)
	})
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to
// consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Providers.Transcriber.Name; name != "" {
		p, err := reg.CreateTranscriber(cfg.Providers.Transcriber)
		if err != nil {
			return nil, fmt.Errorf("create transcriber provider %q: %w", name, err)
		}
		ps.Transcriber = p
		slog.Info("provider created", "kind", "transcriber", "name", name)
	}

	if name := cfg.Providers.Brain.Name; name != "" {
		p, err := reg.CreateBrain(cfg.Providers.Brain)
		if err != nil {
			return nil, fmt.Errorf("create brain provider %q: %w", name, err)
		}
		ps.Brain = p
		slog.Info("provider created", "kind", "brain", "name", name)
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTS)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		}
		ps.TTS = p
		slog.Info("provider created", "kind", "tts", "name", name)
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║           exod — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Transcriber", cfg.Providers.Transcriber.Name, cfg.Providers.Transcriber.ModelPath)
	printProvider("Brain", cfg.Providers.Brain.Name, cfg.Providers.Brain.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Voice)
	fmt.Printf("║  Rooms           : %-19d ║\n", len(cfg.Session.Rooms))
	if cfg.Ingest.Enabled {
		fmt.Printf("║  Ingest          : %-19s ║\n", cfg.Ingest.ListenAddr)
	} else {
		fmt.Printf("║  Ingest          : %-19s ║\n", "(disabled)")
	}
	backend := cfg.History.Backend
	if backend == "" {
		backend = "memory"
	}
	fmt.Printf("║  History         : %-19s ║\n", backend)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, detail string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if detail != "" {
		value = name + " / " + detail
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel, format config.LogFormat) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == config.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
