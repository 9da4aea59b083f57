package vad

import (
	"time"

	"github.com/exovoice/exo/pkg/audio"
)

// Default endpointing parameters, expressed in 64 ms chunks where counts are
// used.
const (
	// DefaultSilenceChunks is the consecutive-silence run that seals an
	// utterance (~0.8 s).
	DefaultSilenceChunks = 12

	// DefaultWindowSize is the length of the sliding voice-ratio window.
	DefaultWindowSize = 15

	// DefaultWindowRatio is the voice ratio below which a full window seals
	// the utterance.
	DefaultWindowRatio = 0.25

	// DefaultMinVoicedChunks is the minimum voiced chunk count for a sealed
	// utterance to be kept, and the gate before the soft window rule applies.
	DefaultMinVoicedChunks = 8

	// DefaultMinUtterance is the minimum duration for a sealed utterance to
	// be kept.
	DefaultMinUtterance = 800 * time.Millisecond

	// DefaultMaxUtterance is the hard cap on utterance duration.
	DefaultMaxUtterance = 15 * time.Second
)

// SealReason says which condition ended an utterance.
type SealReason string

const (
	// SealSilence: the consecutive-silence run reached the limit.
	SealSilence SealReason = "silence"

	// SealWindow: the sliding window's voice ratio dropped below the limit.
	SealWindow SealReason = "window"

	// SealMaxDuration: the utterance hit the hard duration cap.
	SealMaxDuration SealReason = "max-duration"

	// SealTimeout: no voice arrived within the wait budget.
	SealTimeout SealReason = "timeout"
)

// Utterance is a sealed run of speech audio.
type Utterance struct {
	// PCM is the accumulated audio, including trailing silence up to the
	// seal point.
	PCM []byte

	// Duration is the playback duration of PCM.
	Duration time.Duration

	// Chunks is the total number of accumulated frames.
	Chunks int

	// VoicedChunks is the number of frames at or above the voice threshold.
	VoicedChunks int

	// Room names the room the audio came from.
	Room string

	// Start is the capture timestamp of the first accumulated frame.
	Start time.Time
}

// Decision is the endpointer's verdict after one frame.
type Decision struct {
	// Voiced reports whether the fed frame was at or above the threshold.
	Voiced bool

	// Sealed is true when this frame ended an utterance. The endpointer has
	// already reset itself for the next one.
	Sealed bool

	// Reason is set when Sealed is true.
	Reason SealReason

	// Utterance is the sealed audio. Nil when Discarded is true.
	Utterance *Utterance

	// Discarded is true for sealed utterances that were too short or too
	// thin to keep, and for wait timeouts.
	Discarded bool
}

// Config holds the endpointer tuning knobs. Zero values select the package
// defaults; MaxWait zero means wait for voice indefinitely.
type Config struct {
	Threshold       float64
	SilenceChunks   int
	WindowSize      int
	WindowRatio     float64
	MinVoicedChunks int
	MinUtterance    time.Duration
	MaxUtterance    time.Duration
	MaxWait         time.Duration
}

// withDefaults fills zero fields with package defaults.
func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultFixedThreshold
	}
	if c.SilenceChunks <= 0 {
		c.SilenceChunks = DefaultSilenceChunks
	}
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.WindowRatio <= 0 {
		c.WindowRatio = DefaultWindowRatio
	}
	if c.MinVoicedChunks <= 0 {
		c.MinVoicedChunks = DefaultMinVoicedChunks
	}
	if c.MinUtterance <= 0 {
		c.MinUtterance = DefaultMinUtterance
	}
	if c.MaxUtterance <= 0 {
		c.MaxUtterance = DefaultMaxUtterance
	}
	return c
}

// Endpointer segments a frame stream into utterances. Feed one frame at a
// time; a non-zero Decision.Sealed marks an utterance boundary. Not safe for
// concurrent use; each capture loop owns one Endpointer.
type Endpointer struct {
	cfg Config

	accumulating bool
	buf          []byte
	chunks       int
	voiced       int
	silenceRun   int
	window       []bool
	duration     time.Duration
	waited       time.Duration
	room         string
	start        time.Time
}

// NewEndpointer creates an Endpointer in the waiting state.
func NewEndpointer(cfg Config) *Endpointer {
	return &Endpointer{cfg: cfg.withDefaults()}
}

// Feed advances the state machine by one frame.
//
// In the waiting state, silent frames are discarded; the first voiced frame
// starts accumulation and is kept. While accumulating, every frame is
// buffered and the three end conditions are checked: a consecutive-silence
// run, a mostly-silent sliding window (only once enough voice has been
// heard), and the hard duration cap.
func (e *Endpointer) Feed(frame audio.Frame) Decision {
	voiced := frame.RMSEnergy() >= e.cfg.Threshold

	if !e.accumulating {
		if !voiced {
			if e.cfg.MaxWait > 0 {
				e.waited += frame.Duration()
				if e.waited >= e.cfg.MaxWait {
					e.Reset()
					return Decision{Sealed: true, Discarded: true, Reason: SealTimeout}
				}
			}
			return Decision{}
		}
		e.accumulating = true
		e.room = frame.Room
		e.start = frame.Timestamp
	}

	e.buf = append(e.buf, frame.Data...)
	e.chunks++
	e.duration += frame.Duration()
	if voiced {
		e.voiced++
		e.silenceRun = 0
	} else {
		e.silenceRun++
	}

	e.window = append(e.window, voiced)
	if len(e.window) > e.cfg.WindowSize {
		e.window = e.window[1:]
	}

	switch {
	case e.silenceRun >= e.cfg.SilenceChunks:
		return e.seal(SealSilence, voiced)
	case e.windowMostlySilent() && e.voiced >= e.cfg.MinVoicedChunks:
		return e.seal(SealWindow, voiced)
	case e.duration >= e.cfg.MaxUtterance:
		return e.seal(SealMaxDuration, voiced)
	}
	return Decision{Voiced: voiced}
}

// windowMostlySilent reports whether the sliding window is full and its
// voice ratio is below the configured floor.
func (e *Endpointer) windowMostlySilent() bool {
	if len(e.window) < e.cfg.WindowSize {
		return false
	}
	var n int
	for _, v := range e.window {
		if v {
			n++
		}
	}
	return float64(n)/float64(len(e.window)) < e.cfg.WindowRatio
}

// seal closes the current utterance, resets the machine, and decides whether
// the audio is worth keeping.
func (e *Endpointer) seal(reason SealReason, voiced bool) Decision {
	utt := &Utterance{
		PCM:          e.buf,
		Duration:     e.duration,
		Chunks:       e.chunks,
		VoicedChunks: e.voiced,
		Room:         e.room,
		Start:        e.start,
	}
	e.Reset()

	if utt.Duration < e.cfg.MinUtterance || utt.VoicedChunks < e.cfg.MinVoicedChunks {
		return Decision{Voiced: voiced, Sealed: true, Reason: reason, Discarded: true}
	}
	return Decision{Voiced: voiced, Sealed: true, Reason: reason, Utterance: utt}
}

// Reset returns the endpointer to the waiting state, dropping any buffered
// audio.
func (e *Endpointer) Reset() {
	e.accumulating = false
	e.buf = nil
	e.chunks = 0
	e.voiced = 0
	e.silenceRun = 0
	e.window = nil
	e.duration = 0
	e.waited = 0
	e.room = ""
	e.start = time.Time{}
}

// Accumulating reports whether an utterance is currently being buffered.
func (e *Endpointer) Accumulating() bool { return e.accumulating }

// VoicedChunks returns the voiced chunk count of the current utterance.
func (e *Endpointer) VoicedChunks() int { return e.voiced }

// MinVoicedChunks returns the configured voiced-chunk floor.
func (e *Endpointer) MinVoicedChunks() int { return e.cfg.MinVoicedChunks }

// BufferedBytes returns the size of the current utterance buffer.
func (e *Endpointer) BufferedBytes() int { return len(e.buf) }

// Snapshot returns a copy of the current utterance buffer, capped to the
// trailing max bytes when max is positive. Used by the speculative
// transcription loop; the copy keeps workers isolated from further appends.
func (e *Endpointer) Snapshot(max int) []byte {
	buf := e.buf
	if max > 0 && len(buf) > max {
		buf = buf[len(buf)-max:]
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out
}
