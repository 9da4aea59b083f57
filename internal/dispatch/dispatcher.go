// Package dispatch turns an extracted voice command into a spoken reply.
//
// The [Dispatcher] is the back half of the voice pipeline: it sends the
// command text to a Brain backend together with the room's recent exchange
// history, synthesises the reply through a TTS provider, pushes the audio to
// an optional [Responder], and records the exchange in the command history
// store. Brain failures degrade to a spoken apology rather than failing the
// session; TTS and history failures are logged and otherwise ignored.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/exovoice/exo/internal/observe"
	"github.com/exovoice/exo/internal/session"
	"github.com/exovoice/exo/pkg/history"
	"github.com/exovoice/exo/pkg/provider/brain"
	"github.com/exovoice/exo/pkg/provider/tts"
)

// defaultApology is spoken when the Brain chain is unavailable.
const defaultApology = "Désolé, je n'arrive pas à traiter ta demande pour le moment."

// defaultHistoryDepth is the number of past exchanges sent to the Brain as
// conversation context.
const defaultHistoryDepth = 5

// Response carries a synthesised reply to be delivered to the originating
// room, typically over the network ingest connection.
type Response struct {
	SessionID  uuid.UUID
	Room       string
	Text       string
	PCM        []byte
	SampleRate int
}

// Responder delivers synthesised replies back to the room that issued the
// command. Implementations must be safe for concurrent use.
type Responder interface {
	Respond(ctx context.Context, rsp Response) error
}

// Outcome summarises what happened to a dispatched command.
type Outcome struct {
	// Reply is the text that was (or would have been) spoken.
	Reply string

	// Actions lists tool invocations the Brain requested.
	Actions []brain.Action

	// Spoken reports whether TTS synthesis succeeded.
	Spoken bool

	// Degraded is true when the Brain failed and Reply is the apology.
	Degraded bool

	// Latency is the end-to-end time from command capture to reply.
	Latency time.Duration
}

// Config assembles the collaborators of a [Dispatcher]. Brain and TTS are
// required; the rest are optional.
type Config struct {
	Brain brain.Provider
	TTS   tts.Provider

	// History stores completed exchanges and feeds conversation context to
	// the Brain. Nil disables both.
	History history.Store

	// Responder receives synthesised replies. Nil drops the audio, which is
	// useful for tests and for rooms without a return channel.
	Responder Responder

	// HistoryDepth is the number of past exchanges included in Brain
	// requests. Zero means defaultHistoryDepth.
	HistoryDepth int

	// Apology overrides the degraded reply text.
	Apology string

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Dispatcher executes commands against the Brain/TTS/history stack.
type Dispatcher struct {
	brain        brain.Provider
	tts          tts.Provider
	history      history.Store
	responder    Responder
	historyDepth int
	apology      string
	metrics      *observe.Metrics
	logger       *slog.Logger
}

// Compile-time interface assertion.
var _ session.Dispatcher = (*Dispatcher)(nil)

// New creates a Dispatcher from cfg.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Brain == nil {
		return nil, fmt.Errorf("dispatch: Brain is required")
	}
	if cfg.TTS == nil {
		return nil, fmt.Errorf("dispatch: TTS is required")
	}
	if cfg.HistoryDepth <= 0 {
		cfg.HistoryDepth = defaultHistoryDepth
	}
	if cfg.Apology == "" {
		cfg.Apology = defaultApology
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		brain:        cfg.Brain,
		tts:          cfg.TTS,
		history:      cfg.History,
		responder:    cfg.Responder,
		historyDepth: cfg.HistoryDepth,
		apology:      cfg.Apology,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger.With("component", "dispatch"),
	}, nil
}

// Dispatch implements [session.Dispatcher]. It returns an error only when the
// context is cancelled; provider failures degrade instead.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd session.CommandContext) error {
	_, err := d.Handle(ctx, cmd)
	return err
}

// Handle runs the full Brain, TTS, delivery, and history sequence for one
// command and reports the outcome.
func (d *Dispatcher) Handle(ctx context.Context, cmd session.CommandContext) (Outcome, error) {
	ctx, span := observe.StartSpan(ctx, "dispatch "+cmd.Room)
	defer span.End()

	log := d.logger.With("room", cmd.Room, "session_id", cmd.SessionID.String())

	out := Outcome{}
	reply, actions, degraded := d.think(ctx, cmd, log)
	if err := ctx.Err(); err != nil {
		return out, err
	}
	out.Reply = reply
	out.Actions = actions
	out.Degraded = degraded

	out.Spoken = d.speak(ctx, cmd, reply, log)
	if err := ctx.Err(); err != nil {
		return out, err
	}

	if !degraded {
		d.record(ctx, cmd, reply, log)
	}

	out.Latency = d.observeLatency(ctx, cmd, degraded)
	log.Info("command dispatched",
		"degraded", degraded,
		"spoken", out.Spoken,
		"actions", len(actions),
		"latency", out.Latency,
	)
	return out, nil
}

// think queries the Brain with the room's recent history. On failure it
// returns the apology text with degraded set.
func (d *Dispatcher) think(ctx context.Context, cmd session.CommandContext, log *slog.Logger) (reply string, actions []brain.Action, degraded bool) {
	req := brain.Request{
		SessionID: cmd.SessionID,
		Room:      cmd.Room,
		Text:      cmd.Text,
		History:   d.recentExchanges(ctx, cmd.Room, log),
	}

	start := time.Now()
	rep, err := d.brain.Process(ctx, req)
	d.metrics.BrainDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return "", nil, true
		}
		log.Error("brain failed, degrading", "error", err)
		d.metrics.RecordProviderError(ctx, d.brain.Name(), "brain")
		return d.apology, nil, true
	}
	return rep.Text, rep.Actions, false
}

// speak synthesises the reply and hands it to the responder. Both steps are
// best effort.
func (d *Dispatcher) speak(ctx context.Context, cmd session.CommandContext, reply string, log *slog.Logger) bool {
	if reply == "" {
		return false
	}

	start := time.Now()
	pcm, err := d.tts.Speak(ctx, reply)
	d.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() == nil {
			log.Error("tts failed, reply not spoken", "error", err)
			d.metrics.RecordProviderError(ctx, d.tts.Name(), "tts")
		}
		return false
	}

	if d.responder != nil {
		rsp := Response{
			SessionID:  cmd.SessionID,
			Room:       cmd.Room,
			Text:       reply,
			PCM:        pcm,
			SampleRate: d.tts.SampleRate(),
		}
		if err := d.responder.Respond(ctx, rsp); err != nil && ctx.Err() == nil {
			log.Error("reply delivery failed", "error", err)
		}
	}
	return true
}

// record appends the completed exchange to the history store.
func (d *Dispatcher) record(ctx context.Context, cmd session.CommandContext, reply string, log *slog.Logger) {
	if d.history == nil {
		return
	}
	entry := history.Entry{
		SessionID:  cmd.SessionID,
		Room:       cmd.Room,
		Command:    cmd.Text,
		Reply:      reply,
		Confidence: cmd.Confidence,
	}
	if err := d.history.Append(ctx, entry); err != nil && ctx.Err() == nil {
		log.Error("history append failed", "error", err)
	}
}

// recentExchanges loads the room's conversation context. Failures yield an
// empty history rather than blocking the command.
func (d *Dispatcher) recentExchanges(ctx context.Context, room string, log *slog.Logger) []brain.Exchange {
	if d.history == nil || d.historyDepth == 0 {
		return nil
	}
	entries, err := d.history.Recent(ctx, room, d.historyDepth)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("history lookup failed, proceeding without context", "error", err)
		}
		return nil
	}
	exchanges := make([]brain.Exchange, 0, len(entries))
	for _, e := range entries {
		exchanges = append(exchanges, brain.Exchange{Command: e.Command, Reply: e.Reply})
	}
	return exchanges
}

// observeLatency records the end-to-end dispatch latency, measured from the
// command's capture timestamp when available.
func (d *Dispatcher) observeLatency(ctx context.Context, cmd session.CommandContext, degraded bool) time.Duration {
	latency := time.Duration(0)
	if !cmd.Timestamp.IsZero() {
		latency = time.Since(cmd.Timestamp)
	}
	d.metrics.DispatchLatency.Record(ctx, latency.Seconds())
	outcome := "ok"
	if degraded {
		outcome = "degraded"
	}
	d.metrics.RecordCommand(ctx, cmd.Room, outcome)
	return latency
}
