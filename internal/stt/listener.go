package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/exovoice/exo/internal/vad"
	"github.com/exovoice/exo/pkg/audio"
	"github.com/exovoice/exo/pkg/provider/transcriber"
)

// ErrNoVoice is returned by [Listener.Capture] when the wait budget elapses
// without any voice, and by [Listener.CaptureFollowUp] when the deadline
// passes without a usable utterance.
var ErrNoVoice = errors.New("stt: no voice detected")

// Defaults for the speculative loop, matching 64 ms chunks.
const (
	// DefaultSubmitInterval is the minimum audio growth between speculative
	// submissions.
	DefaultSubmitInterval = time.Second

	// DefaultReuseThreshold is the voiced-chunk count below which the last
	// speculative result is reused at seal time instead of re-transcribing.
	DefaultReuseThreshold = 6

	// DefaultMaxSnapshot caps speculative snapshots to the trailing window.
	DefaultMaxSnapshot = 8 * time.Second

	// minSnapshot skips speculative submission of buffers too short to
	// transcribe meaningfully.
	minSnapshot = 300 * time.Millisecond

	// DefaultFollowUpTimeout bounds follow-up capture.
	DefaultFollowUpTimeout = 7 * time.Second

	// followUpMinUtterance relaxes the utterance floor during follow-up.
	followUpMinUtterance = 300 * time.Millisecond

	// followUpMinVoicedChunks relaxes the voiced-chunk floor during
	// follow-up.
	followUpMinVoicedChunks = 3
)

// ListenerConfig tunes the capture loop. Zero values select defaults.
type ListenerConfig struct {
	// Endpointer configures utterance segmentation.
	Endpointer vad.Config

	// SubmitInterval is the minimum buffered-audio growth between
	// speculative submissions.
	SubmitInterval time.Duration

	// ReuseThreshold is the voiced-chunk distance below which a completed
	// speculative result is reused at seal time.
	ReuseThreshold int

	// MaxSnapshot caps speculative snapshots to the trailing window.
	MaxSnapshot time.Duration

	// FollowUpTimeout bounds CaptureFollowUp.
	FollowUpTimeout time.Duration

	// Hallucination, when non-nil, rejects speculative results that look
	// like recognition artifacts for the snapshot's duration. Rejected
	// results are dropped so seal time re-transcribes instead of reusing
	// noise.
	Hallucination func(text string, audioDur time.Duration) bool
}

func (c ListenerConfig) withDefaults() ListenerConfig {
	if c.SubmitInterval <= 0 {
		c.SubmitInterval = DefaultSubmitInterval
	}
	if c.ReuseThreshold <= 0 {
		c.ReuseThreshold = DefaultReuseThreshold
	}
	if c.MaxSnapshot <= 0 {
		c.MaxSnapshot = DefaultMaxSnapshot
	}
	if c.FollowUpTimeout <= 0 {
		c.FollowUpTimeout = DefaultFollowUpTimeout
	}
	return c
}

// Capture is one captured and transcribed utterance.
type Capture struct {
	// Text is the final transcription, possibly empty when the engine
	// heard nothing intelligible.
	Text string

	// Utterance is the sealed audio the text came from.
	Utterance *vad.Utterance

	// Confidence is the engine's self-reported confidence in [0, 1], zero
	// when the engine does not report one.
	Confidence float64

	// Reused is true when the text came from a speculative job instead of
	// a fresh inference at seal time.
	Reused bool
}

// Listener runs the capture loop for one room: frames in, transcribed
// utterances out. Not safe for concurrent use; each room pipeline owns one.
type Listener struct {
	pool   *Pool
	cfg    ListenerConfig
	logger *slog.Logger
}

// NewListener creates a Listener over the given pool.
func NewListener(pool *Pool, cfg ListenerConfig, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		pool:   pool,
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "listener"),
	}
}

// Capture reads frames from src until one utterance is sealed and
// transcribed. Utterances discarded as too short are skipped and the loop
// continues; a wait timeout returns [ErrNoVoice].
//
// While an utterance accumulates, growing snapshots are submitted to the
// pool. At seal time, if the newest speculative result is close enough to
// the sealed audio (fewer than ReuseThreshold voiced chunks arrived after
// the covered submission), it is reused; otherwise the full utterance is
// transcribed synchronously.
func (l *Listener) Capture(ctx context.Context, src audio.Source) (Capture, error) {
	return l.capture(ctx, src, l.cfg.Endpointer)
}

// CaptureFollowUp captures a short continuation utterance with relaxed
// minimums and an absolute deadline. Returns [ErrNoVoice] when the deadline
// passes first.
func (l *Listener) CaptureFollowUp(ctx context.Context, src audio.Source) (Capture, error) {
	epCfg := l.cfg.Endpointer
	epCfg.MinUtterance = followUpMinUtterance
	epCfg.MinVoicedChunks = followUpMinVoicedChunks
	if epCfg.MaxWait <= 0 || epCfg.MaxWait > l.cfg.FollowUpTimeout {
		epCfg.MaxWait = l.cfg.FollowUpTimeout
	}

	deadline, cancel := context.WithTimeout(ctx, l.cfg.FollowUpTimeout)
	defer cancel()

	c, err := l.capture(deadline, src, epCfg)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return Capture{}, ErrNoVoice
	}
	return c, err
}

// capture is the shared loop behind Capture and CaptureFollowUp.
func (l *Listener) capture(ctx context.Context, src audio.Source, epCfg vad.Config) (Capture, error) {
	ep := vad.NewEndpointer(epCfg)

	sampleRate := audio.DefaultSampleRate
	intervalBytes := pcmBytes(l.cfg.SubmitInterval, sampleRate)
	snapshotBytes := pcmBytes(l.cfg.MaxSnapshot, sampleRate)
	minSnapshotBytes := pcmBytes(minSnapshot, sampleRate)
	minVoiced := ep.MinVoicedChunks()

	var (
		pending       *Job
		pendingVoiced int
		pendingDur    time.Duration

		specText   string
		specConf   float64
		haveSpec   bool
		specVoiced int

		bytesAtSubmit int
	)

	resetSpec := func() {
		if pending != nil {
			pending.Cancel()
			pending = nil
		}
		specText = ""
		specConf = 0
		haveSpec = false
		specVoiced = 0
		bytesAtSubmit = 0
	}

	// keepSpec records a completed speculative result unless the
	// hallucination gate flags it for the snapshot's duration.
	keepSpec := func(res transcriber.Result) {
		if res.Text == "" {
			return
		}
		if l.cfg.Hallucination != nil && l.cfg.Hallucination(res.Text, pendingDur) {
			l.logger.Debug("speculative result rejected as hallucination",
				"text", res.Text, "snapshot", pendingDur)
			return
		}
		specText = res.Text
		specConf = res.Confidence
		haveSpec = true
		specVoiced = pendingVoiced
	}

	for {
		frame, err := src.ReadFrame(ctx)
		if err != nil {
			return Capture{}, fmt.Errorf("stt: read frame: %w", err)
		}
		if frame.SampleRate > 0 && frame.SampleRate != sampleRate {
			sampleRate = frame.SampleRate
			intervalBytes = pcmBytes(l.cfg.SubmitInterval, sampleRate)
			snapshotBytes = pcmBytes(l.cfg.MaxSnapshot, sampleRate)
			minSnapshotBytes = pcmBytes(minSnapshot, sampleRate)
		}

		// Harvest a completed speculative job before the seal check so a
		// result finishing on the sealing frame is still reusable.
		if pending != nil {
			if res, jerr, ok := pending.Poll(); ok {
				if jerr == nil {
					keepSpec(res)
				}
				pending = nil
			}
		}

		d := ep.Feed(frame)

		if !d.Sealed {
			if ep.Accumulating() && pending == nil &&
				ep.VoicedChunks() >= minVoiced &&
				ep.BufferedBytes()-bytesAtSubmit >= intervalBytes {
				snap := ep.Snapshot(snapshotBytes)
				if len(snap) >= minSnapshotBytes {
					job, err := l.pool.Submit(snap)
					switch {
					case errors.Is(err, ErrQueueFull):
						// Back off; the next interval retries.
					case err != nil:
						// Speculation is an optimisation; a failed submit
						// only costs latency at seal time.
						l.logger.Debug("speculative submit failed", "error", err)
					default:
						pending = job
						pendingVoiced = ep.VoicedChunks()
						pendingDur = pcmDuration(len(snap), sampleRate)
						bytesAtSubmit = ep.BufferedBytes()
						l.logger.Debug("speculative snapshot submitted",
							"room", frame.Room,
							"bytes", len(snap),
							"voiced_chunks", pendingVoiced,
						)
					}
				}
			}
			continue
		}

		// Sealed.
		if d.Discarded {
			if d.Reason == vad.SealTimeout {
				resetSpec()
				return Capture{}, ErrNoVoice
			}
			l.logger.Debug("utterance discarded", "reason", string(d.Reason))
			resetSpec()
			continue
		}

		// Let an in-flight speculative job finish; its snapshot may already
		// cover the sealed audio.
		utt := d.Utterance
		if pending != nil {
			if res, jerr := pending.Await(ctx); jerr == nil {
				keepSpec(res)
			}
			pending = nil
		}

		if haveSpec && utt.VoicedChunks-specVoiced < l.cfg.ReuseThreshold {
			l.logger.Debug("reusing speculative transcription",
				"room", utt.Room,
				"voiced_chunks", utt.VoicedChunks,
				"covered_chunks", specVoiced,
			)
			return Capture{Text: specText, Confidence: specConf, Utterance: utt, Reused: true}, nil
		}

		res, err := l.pool.Transcribe(ctx, utt.PCM)
		if err != nil {
			if ctx.Err() != nil {
				return Capture{}, fmt.Errorf("stt: transcribe utterance: %w", err)
			}
			// A dead transcriber must not kill the capture loop. Fall back
			// to the last speculative text, or surface an empty transcript.
			l.logger.Warn("transcription failed", "room", utt.Room, "error", err)
			if haveSpec {
				return Capture{Text: specText, Confidence: specConf, Utterance: utt, Reused: true}, nil
			}
			return Capture{Utterance: utt}, nil
		}
		if res.Text == "" && haveSpec {
			return Capture{Text: specText, Confidence: specConf, Utterance: utt, Reused: true}, nil
		}
		return Capture{Text: res.Text, Confidence: res.Confidence, Utterance: utt}, nil
	}
}

// pcmBytes converts a duration of mono PCM16 at rate into bytes.
func pcmBytes(d time.Duration, rate int) int {
	return int(d.Seconds() * float64(rate) * 2)
}

// pcmDuration converts a mono PCM16 byte count at rate into a duration.
func pcmDuration(bytes, rate int) time.Duration {
	return time.Duration(bytes/2) * time.Second / time.Duration(rate)
}
