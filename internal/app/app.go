// Package app wires all exod subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the capture and dispatch loops, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithHistoryStore,
// WithAudioSource, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/exovoice/exo/internal/config"
	"github.com/exovoice/exo/internal/dispatch"
	"github.com/exovoice/exo/internal/health"
	"github.com/exovoice/exo/internal/ingest"
	"github.com/exovoice/exo/internal/observe"
	"github.com/exovoice/exo/internal/resilience"
	"github.com/exovoice/exo/internal/session"
	"github.com/exovoice/exo/internal/stt"
	"github.com/exovoice/exo/internal/transcript"
	"github.com/exovoice/exo/internal/vad"
	"github.com/exovoice/exo/internal/wake"
	"github.com/exovoice/exo/pkg/audio"
	"github.com/exovoice/exo/pkg/history"
	historypg "github.com/exovoice/exo/pkg/history/postgres"
	"github.com/exovoice/exo/pkg/provider/brain"
	"github.com/exovoice/exo/pkg/provider/transcriber"
	"github.com/exovoice/exo/pkg/provider/tts"
)

// Providers holds the primary provider per pipeline stage. Nil means the
// stage is not configured. Populated by main.go via the config registry.
type Providers struct {
	Transcriber transcriber.Provider
	Brain       brain.Provider
	TTS         tts.Provider
}

// App owns all subsystem lifetimes and orchestrates the voice pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers
	logger    *slog.Logger
	metrics   *observe.Metrics

	// Provider chains wrap the primaries with per-backend circuit breakers.
	transcribers *resilience.TranscriberChain
	brains       *resilience.BrainChain
	speakers     *resilience.TTSChain

	store      history.Store
	pool       *stt.Pool
	dispatcher *dispatch.Dispatcher
	orch       *session.Orchestrator
	ingest     *ingest.Server
	filter     *transcript.Filter
	spotter    *wake.Spotter

	// sources maps room name to its audio source. Populated from the
	// ingest server, or injected for tests via WithAudioSource.
	sources map[string]audio.Source
	rooms   map[string]config.RoomConfig

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger sets the application logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithHistoryStore injects a history store instead of creating one from
// config.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects a metrics set instead of using the global one.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithAudioSource injects an audio source for a room, bypassing the ingest
// server. Rooms with an injected source are not wired to network audio.
func WithAudioSource(room string, src audio.Source) Option {
	return func(a *App) {
		if a.sources == nil {
			a.sources = make(map[string]audio.Source)
		}
		a.sources[room] = src
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers
// struct comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: history store connection,
// provider chain assembly, ingest server setup, and orchestrator assembly.
// Per-room noise calibration happens in Run, once audio flows.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		rooms:     make(map[string]config.RoomConfig, len(cfg.Session.Rooms)),
	}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	for _, room := range cfg.Session.Rooms {
		a.rooms[room.Name] = room
	}

	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}
	if err := a.initChains(); err != nil {
		return nil, fmt.Errorf("app: init provider chains: %w", err)
	}
	if err := a.initIngest(); err != nil {
		return nil, fmt.Errorf("app: init ingest: %w", err)
	}
	if err := a.initDispatch(); err != nil {
		return nil, fmt.Errorf("app: init dispatch: %w", err)
	}
	a.initRecognition()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initHistory sets up the configured history backend or uses an injected
// store.
func (a *App) initHistory(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	backend := a.cfg.History.Backend
	switch backend {
	case "postgres":
		store, err := historypg.New(ctx, a.cfg.History.PostgresDSN)
		if err != nil {
			return err
		}
		a.store = store
	default:
		backend = "memory"
		a.store = history.NewMemoryStore(a.cfg.History.RingSize)
	}
	a.closers = append(a.closers, a.store.Close)
	a.logger.Info("history store ready", "backend", backend)
	return nil
}

// initChains wraps the primary providers in fallback chains. The brain and
// TTS stages are mandatory; the transcriber is only needed when network
// audio is enabled.
func (a *App) initChains() error {
	if a.providers.Brain == nil {
		return fmt.Errorf("a brain provider is required")
	}
	if a.providers.TTS == nil {
		return fmt.Errorf("a tts provider is required")
	}
	if a.providers.Transcriber == nil && a.cfg.Ingest.Enabled {
		return fmt.Errorf("a transcriber provider is required when ingest is enabled")
	}

	fc := resilience.FallbackConfig{}
	a.brains = resilience.NewBrainChain(a.providers.Brain, fc)
	a.speakers = resilience.NewTTSChain(a.providers.TTS, fc)
	a.closers = append(a.closers, a.brains.Close, a.speakers.Close)

	if a.providers.Transcriber != nil {
		a.transcribers = resilience.NewTranscriberChain(a.providers.Transcriber, fc)
		a.closers = append(a.closers, a.transcribers.Close)
		a.pool = stt.NewPool(a.transcribers, a.cfg.STT.Pool(), a.logger)
		a.closers = append(a.closers, a.pool.Close)
	}
	return nil
}

// initIngest creates the WebSocket ingest server and registers its per-room
// sources, unless sources were injected for tests.
func (a *App) initIngest() error {
	if !a.cfg.Ingest.Enabled {
		if len(a.sources) == 0 {
			a.logger.Warn("ingest disabled and no audio sources injected, capture pipelines will not run")
		}
		return nil
	}

	rooms := make([]string, 0, len(a.cfg.Session.Rooms))
	for _, room := range a.cfg.Session.Rooms {
		rooms = append(rooms, room.Name)
	}
	srv, err := ingest.NewServer(ingest.Config{
		Rooms:       rooms,
		OnRecognize: a.handleRecognize,
		Logger:      a.logger,
	})
	if err != nil {
		return err
	}
	a.ingest = srv
	a.closers = append(a.closers, srv.Close)

	if a.sources == nil {
		a.sources = make(map[string]audio.Source, len(rooms))
	}
	for _, room := range rooms {
		if _, injected := a.sources[room]; !injected {
			a.sources[room] = srv.Source(room)
		}
	}
	return nil
}

// initDispatch assembles the dispatcher and the orchestrator around it.
func (a *App) initDispatch() error {
	var responder dispatch.Responder
	if a.ingest != nil {
		responder = a.ingest
	}
	d, err := dispatch.New(dispatch.Config{
		Brain:     a.brains,
		TTS:       a.speakers,
		History:   a.store,
		Responder: responder,
		Metrics:   a.metrics,
		Logger:    a.logger,
	})
	if err != nil {
		return err
	}
	a.dispatcher = d
	a.orch = session.NewOrchestrator(d, a.cfg.Session.Orchestrator(), a.logger)

	reg, err := a.metrics.RegisterSessionGauges(a.orch.QueueDepth, a.orch.Active)
	if err != nil {
		return fmt.Errorf("register session gauges: %w", err)
	}
	a.closers = append(a.closers, reg.Unregister)
	return nil
}

// initRecognition builds the hallucination filter and wake-word spotter
// shared by all room pipelines.
func (a *App) initRecognition() {
	a.filter = transcript.NewFilter()

	var opts []wake.Option
	if len(a.cfg.Wake.Words) > 0 {
		opts = append(opts, wake.WithVariants(a.cfg.Wake.Words))
	}
	if a.cfg.Wake.FuzzyThreshold != 0 {
		opts = append(opts, wake.WithFuzzyThreshold(a.cfg.Wake.FuzzyThreshold))
	}
	a.spotter = wake.NewSpotter(opts...)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the HTTP endpoints, the orchestrator, and one capture pipeline
// per room with an audio source. It blocks until ctx is cancelled or a
// subsystem fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Server.ListenAddr != "" {
		g.Go(func() error { return a.serveAdmin(ctx) })
	}
	if a.ingest != nil {
		g.Go(func() error { return a.serveIngest(ctx) })
	}

	g.Go(func() error { return a.orch.Run(ctx) })

	for room, src := range a.sources {
		g.Go(func() error {
			// One room's failure must not tear down the others or the
			// servers; log it and keep the group alive.
			if err := a.runRoom(ctx, room, src); err != nil && ctx.Err() == nil {
				a.logger.Error("room pipeline stopped", "room", room, "error", err)
			}
			return nil
		})
	}

	a.logger.Info("app running", "rooms", len(a.sources), "ingest", a.ingest != nil)
	return g.Wait()
}

// runRoom calibrates the room's noise floor, then runs its capture
// pipeline until ctx is cancelled or the source ends.
func (a *App) runRoom(ctx context.Context, room string, src audio.Source) error {
	if a.pool == nil {
		return fmt.Errorf("app: room %q has an audio source but no transcriber is configured", room)
	}
	logger := a.logger.With("room", room)

	if err := src.Start(ctx); err != nil {
		return fmt.Errorf("app: start source %q: %w", room, err)
	}
	profile, err := vad.Calibrate(ctx, src, a.cfg.VAD.CalibrationFrames)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, io.EOF) {
			logger.Info("audio source ended during calibration")
			return nil
		}
		// A partial or empty profile still yields a usable threshold; the
		// clamp in Threshold falls back to the fixed default.
		logger.Warn("noise calibration incomplete, falling back to configured threshold",
			"frames", profile.Frames, "error", err)
	}
	threshold := profile.Threshold(a.cfg.VAD.FixedThreshold, a.cfg.VAD.NoiseMultiplier, a.cfg.VAD.NoiseCeiling)
	logger.Info("noise calibration complete",
		"floor", fmt.Sprintf("%.1f", profile.Floor),
		"threshold", fmt.Sprintf("%.1f", threshold),
	)

	lcfg := a.cfg.STT.Listener(a.cfg.VAD.Endpointer(threshold))
	lcfg.Hallucination = a.filter.IsHallucination
	listener := stt.NewListener(a.pool, lcfg, logger)
	machine := session.NewMachine(a.cfg.Session.ErrorCooldown.Std())
	pipeline := session.NewPipeline(
		session.PipelineConfig{Room: room, Priority: a.rooms[room].Priority},
		src, listener, a.filter, a.spotter, machine, a.orch, logger,
	)
	return pipeline.Run(ctx)
}

// handleRecognize routes pre-transcribed text from satellites through
// wake-word spotting and into the orchestrator. Transcription and the
// hallucination filter are skipped; the text is trusted as-is.
func (a *App) handleRecognize(room, text string, ts time.Time) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	match, ok := a.spotter.Spot(text)
	if !ok || match.Command == "" {
		a.logger.Debug("recognize without wake word", "room", room, "text", text)
		a.metrics.RecordDiscard(context.Background(), room, "no_wake_word")
		return
	}
	if ts.IsZero() {
		ts = time.Now()
	}

	cmd := session.CommandContext{
		SessionID: uuid.New(),
		Room:      room,
		Text:      match.Command,
		Timestamp: ts,
	}
	a.logger.Info("command recognised", "room", room, "text", match.Command, "session_id", cmd.SessionID)

	// No state machine here: recognised text arrives outside the room's
	// capture loop and must not fight over its session state.
	w, err := a.orch.Submit(cmd, nil, a.rooms[room].Priority)
	if err != nil {
		a.logger.Error("submit recognised command", "room", room, "error", err)
		return
	}
	go func() {
		if derr := <-w.Done(); derr != nil {
			a.logger.Warn("recognised command failed", "room", room, "error", derr)
		}
	}()
}

// ─── HTTP ────────────────────────────────────────────────────────────────────

// serveAdmin runs the health and metrics endpoint until ctx is cancelled.
func (a *App) serveAdmin(ctx context.Context) error {
	mux := http.NewServeMux()
	a.healthHandler().Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.logger.Info("admin endpoint listening", "addr", srv.Addr)
	return serveUntil(ctx, srv)
}

// serveIngest runs the WebSocket audio endpoint until ctx is cancelled.
func (a *App) serveIngest(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Ingest.ListenAddr,
		Handler:           a.ingest,
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.logger.Info("ingest endpoint listening", "addr", srv.Addr)
	return serveUntil(ctx, srv)
}

// healthHandler assembles the liveness and readiness checks.
func (a *App) healthHandler() *health.Handler {
	checkers := []health.Checker{
		health.HistoryCheck(a.store),
		health.ChainCheck("brain", a.brains.States),
		health.ChainCheck("tts", a.speakers.States),
	}
	if a.transcribers != nil {
		checkers = append(checkers, health.ChainCheck("transcriber", a.transcribers.States))
	}
	return health.New(checkers...)
}

// serveUntil serves srv and shuts it down when ctx is cancelled. A clean
// shutdown returns nil.
func serveUntil(ctx context.Context, srv *http.Server) error {
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return srv.Close()
		}
		return nil
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems. It respects the context deadline: if
// ctx expires before all closers finish, the remaining ones are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))

		// Reverse-init order: sources and servers before stores.
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.logger.Warn("closer error", "index", i, "error", err)
			}
		}

		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}
