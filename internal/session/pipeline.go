package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/exovoice/exo/internal/stt"
	"github.com/exovoice/exo/internal/transcript"
	"github.com/exovoice/exo/internal/wake"
	"github.com/exovoice/exo/pkg/audio"
)

// captor is the slice of stt.Listener the pipeline needs; narrowed for
// tests.
type captor interface {
	Capture(ctx context.Context, src audio.Source) (stt.Capture, error)
	CaptureFollowUp(ctx context.Context, src audio.Source) (stt.Capture, error)
}

// PipelineConfig identifies one room's capture pipeline.
type PipelineConfig struct {
	// Room names the room this pipeline listens to.
	Room string

	// Priority orders this room's commands in the global queue; lower is
	// served first.
	Priority int
}

// Pipeline runs the capture loop for one room: utterances are captured,
// filtered, wake-spotted, and the resulting commands submitted to the
// orchestrator. One in-flight command per room: the loop blocks on each
// command's outcome before capturing the next.
type Pipeline struct {
	cfg      PipelineConfig
	src      audio.Source
	listener captor
	filter   *transcript.Filter
	spotter  *wake.Spotter
	machine  *Machine
	orch     *Orchestrator
	logger   *slog.Logger
}

// NewPipeline assembles a room pipeline.
func NewPipeline(cfg PipelineConfig, src audio.Source, listener *stt.Listener, filter *transcript.Filter, spotter *wake.Spotter, machine *Machine, orch *Orchestrator, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:      cfg,
		src:      src,
		listener: listener,
		filter:   filter,
		spotter:  spotter,
		machine:  machine,
		orch:     orch,
		logger:   logger.With("component", "pipeline", "room", cfg.Room),
	}
}

// Run loops until ctx is cancelled or the audio source ends.
func (p *Pipeline) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		if p.machine.State() == StateError {
			if err := p.recover(ctx); err != nil {
				return err
			}
			continue
		}

		if err := p.machine.Transition(StateListening); err != nil {
			p.logger.Warn("cannot start listening", "error", err)
			if err := sleepCtx(ctx, 100*time.Millisecond); err != nil {
				return err
			}
			continue
		}

		if err := p.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				p.logger.Info("audio source ended")
				p.toIdle()
				return nil
			}
			return err
		}
	}
	return ctx.Err()
}

// runOnce captures one utterance and, when it carries a wake-word command,
// dispatches it. Returns io.EOF (wrapped) when the source ends; other
// non-nil errors stop the pipeline.
func (p *Pipeline) runOnce(ctx context.Context) error {
	c, err := p.listener.Capture(ctx, p.src)
	if err != nil {
		switch {
		case errors.Is(err, stt.ErrNoVoice):
			return p.toIdle()
		case ctx.Err() != nil, errors.Is(err, io.EOF):
			return err
		default:
			// A transcription failure is an empty transcript, never the
			// end of the room. Only a dead source stops the loop.
			p.logger.Warn("capture failed, treating as empty transcript", "error", err)
			return p.toIdle()
		}
	}

	text := strings.TrimSpace(c.Text)
	if text == "" || p.filter.IsHallucination(text, c.Utterance.Duration) {
		p.logger.Debug("transcription filtered", "text", text)
		return p.toIdle()
	}

	match, ok := p.spotter.Spot(text)
	if !ok {
		p.logger.Debug("no wake word", "text", text)
		return p.toIdle()
	}

	command := match.Command
	if match.NeedsFollowUp {
		p.logger.Debug("wake word without command, capturing follow-up")
		fc, err := p.listener.CaptureFollowUp(ctx, p.src)
		if err != nil {
			switch {
			case errors.Is(err, stt.ErrNoVoice):
				p.logger.Debug("follow-up timed out, dropping interaction")
				return p.toIdle()
			case ctx.Err() != nil, errors.Is(err, io.EOF):
				return err
			default:
				p.logger.Warn("follow-up capture failed, dropping interaction", "error", err)
				return p.toIdle()
			}
		}
		followUp := strings.TrimSpace(fc.Text)
		if followUp == "" || p.filter.IsHallucination(followUp, fc.Utterance.Duration) {
			return p.toIdle()
		}
		command = strings.TrimSpace(command + " " + followUp)
	}
	if command == "" {
		return p.toIdle()
	}

	cmd := CommandContext{
		SessionID:  uuid.New(),
		Room:       p.cfg.Room,
		Text:       command,
		Timestamp:  time.Now(),
		Confidence: c.Confidence,
	}
	p.logger.Info("command recognised", "text", command, "session_id", cmd.SessionID)

	w, err := p.orch.Submit(cmd, p.machine, p.cfg.Priority)
	if err != nil {
		return err
	}

	select {
	case derr := <-w.Done():
		switch {
		case derr == nil:
			// Orchestrator left the machine in StateResponding.
			return p.toIdle()
		case errors.Is(derr, ErrDropped):
			p.logger.Warn("command dropped before dispatch")
			return p.toIdle()
		default:
			p.logger.Error("dispatch failed", "error", derr)
			// Machine is in StateError; the next loop iteration recovers.
			return nil
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// recover waits out the error cooldown and returns the machine to idle.
func (p *Pipeline) recover(ctx context.Context) error {
	for {
		if err := p.machine.Transition(StateIdle); err == nil {
			return nil
		}
		if err := sleepCtx(ctx, 50*time.Millisecond); err != nil {
			return err
		}
	}
}

// toIdle transitions back to idle, logging rather than failing on an
// unexpected state.
func (p *Pipeline) toIdle() error {
	if err := p.machine.Transition(StateIdle); err != nil {
		p.logger.Warn("cannot return to idle", "error", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
