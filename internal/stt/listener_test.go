package stt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/exovoice/exo/internal/transcript"
	"github.com/exovoice/exo/internal/vad"
	audiomock "github.com/exovoice/exo/pkg/audio/mock"
	"github.com/exovoice/exo/pkg/provider/transcriber"
	transcribermock "github.com/exovoice/exo/pkg/provider/transcriber/mock"
)

func newTestListener(t *testing.T, prov transcriber.Provider, cfg ListenerConfig) *Listener {
	t.Helper()
	pool := NewPool(prov, PoolConfig{Workers: 1, QueueSize: 2}, nil)
	t.Cleanup(func() { pool.Close() })
	return NewListener(pool, cfg, nil)
}

func startSource(t *testing.T, script []audiomock.Segment) *audiomock.Source {
	t.Helper()
	src := audiomock.NewSource(script, audiomock.WithRoom("salon"))
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("source Start: %v", err)
	}
	return src
}

func TestCaptureReusesSpeculativeResult(t *testing.T) {
	t.Parallel()

	prov := &transcribermock.Transcriber{
		Results: []transcriber.Result{{Text: "exo allume la lumière"}},
	}
	l := newTestListener(t, prov, ListenerConfig{})

	// 20 voiced chunks then a silence run. The speculative snapshot goes
	// out around chunk 16, so at most 4 voiced chunks arrive after it,
	// under the reuse threshold of 6.
	src := startSource(t, []audiomock.Segment{
		audiomock.Voice(20),
		audiomock.Silence(12),
	})

	c, err := l.Capture(context.Background(), src)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if !c.Reused {
		t.Fatal("expected the speculative result to be reused")
	}
	if c.Text != "exo allume la lumière" {
		t.Fatalf("Text = %q", c.Text)
	}
	if c.Utterance == nil || c.Utterance.VoicedChunks != 20 {
		t.Fatalf("Utterance = %+v", c.Utterance)
	}
	if c.Utterance.Room != "salon" {
		t.Fatalf("Room = %q, want salon", c.Utterance.Room)
	}
	if got := prov.CallCount(); got != 1 {
		t.Fatalf("provider called %d times, want 1", got)
	}
}

func TestCaptureRetranscribesWhenSpeculativeIsStale(t *testing.T) {
	t.Parallel()

	prov := &transcribermock.Transcriber{
		Results: []transcriber.Result{
			{Text: "exo allume"},
			{Text: "exo allume la lumière du salon"},
		},
	}
	// Reuse only when zero voiced chunks follow the covered snapshot.
	l := newTestListener(t, prov, ListenerConfig{ReuseThreshold: 1})

	src := startSource(t, []audiomock.Segment{
		audiomock.Voice(20),
		audiomock.Silence(12),
	})

	c, err := l.Capture(context.Background(), src)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if c.Reused {
		t.Fatal("stale speculative result was reused")
	}
	if c.Text != "exo allume la lumière du salon" {
		t.Fatalf("Text = %q", c.Text)
	}
	if got := prov.CallCount(); got != 2 {
		t.Fatalf("provider called %d times, want 2", got)
	}
	// The authoritative pass must see the whole utterance.
	if got := prov.LastCall().PCMBytes; got != 32*2048 {
		t.Fatalf("final pass saw %d bytes, want %d", got, 32*2048)
	}
}

func TestCaptureDropsHallucinatedSpeculativeResult(t *testing.T) {
	t.Parallel()

	prov := &transcribermock.Transcriber{
		Results: []transcriber.Result{
			{Text: "Sous-titres réalisés par la communauté d'Amara.org"},
			{Text: "exo allume la lumière"},
		},
	}
	l := newTestListener(t, prov, ListenerConfig{
		Hallucination: transcript.NewFilter().IsHallucination,
	})

	src := startSource(t, []audiomock.Segment{
		audiomock.Voice(20),
		audiomock.Silence(12),
	})

	c, err := l.Capture(context.Background(), src)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	// The artifact speculative result must not be reused; seal time
	// re-transcribes the full utterance.
	if c.Reused {
		t.Fatal("hallucinated speculative result was reused")
	}
	if c.Text != "exo allume la lumière" {
		t.Fatalf("Text = %q", c.Text)
	}
	if got := prov.CallCount(); got != 2 {
		t.Fatalf("provider called %d times, want 2", got)
	}
}

// flakyTranscriber serves its result once, then fails every call.
type flakyTranscriber struct {
	mu    sync.Mutex
	calls int
	res   transcriber.Result
	err   error
}

func (f *flakyTranscriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (transcriber.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls > 1 {
		return transcriber.Result{}, f.err
	}
	return f.res, nil
}

func (f *flakyTranscriber) Name() string { return "flaky" }
func (f *flakyTranscriber) Close() error { return nil }

func TestCaptureFallsBackToSpeculativeWhenFinalFails(t *testing.T) {
	t.Parallel()

	prov := &flakyTranscriber{
		res: transcriber.Result{Text: "exo allume la lumière", Confidence: 0.9},
		err: errors.New("whisper server unavailable"),
	}
	// Force a re-transcription at seal time so the second, failing call is
	// the authoritative one.
	l := newTestListener(t, prov, ListenerConfig{ReuseThreshold: 1})

	src := startSource(t, []audiomock.Segment{
		audiomock.Voice(20),
		audiomock.Silence(12),
	})

	c, err := l.Capture(context.Background(), src)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if !c.Reused {
		t.Fatal("expected fallback to the speculative result")
	}
	if c.Text != "exo allume la lumière" {
		t.Fatalf("Text = %q", c.Text)
	}
	if c.Confidence != 0.9 {
		t.Fatalf("Confidence = %v, want 0.9", c.Confidence)
	}
}

func TestCaptureReturnsEmptyWhenTranscriptionFails(t *testing.T) {
	t.Parallel()

	prov := &transcribermock.Transcriber{Err: errors.New("whisper server unavailable")}
	l := newTestListener(t, prov, ListenerConfig{})

	src := startSource(t, []audiomock.Segment{
		audiomock.Voice(20),
		audiomock.Silence(12),
	})

	// A dead transcriber yields an empty transcript, not a capture error.
	c, err := l.Capture(context.Background(), src)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if c.Text != "" {
		t.Fatalf("Text = %q, want empty", c.Text)
	}
	if c.Utterance == nil {
		t.Fatal("Utterance = nil, want the sealed audio")
	}
}

func TestCaptureSkipsDiscardedUtterance(t *testing.T) {
	t.Parallel()

	prov := &transcribermock.Transcriber{
		Results: []transcriber.Result{{Text: "bonne commande"}},
	}
	l := newTestListener(t, prov, ListenerConfig{})

	// A 3-chunk blip (discarded) followed by a real utterance.
	src := startSource(t, []audiomock.Segment{
		audiomock.Voice(3),
		audiomock.Silence(12),
		audiomock.Voice(20),
		audiomock.Silence(12),
	})

	c, err := l.Capture(context.Background(), src)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if c.Text != "bonne commande" {
		t.Fatalf("Text = %q", c.Text)
	}
	if c.Utterance.VoicedChunks != 20 {
		t.Fatalf("VoicedChunks = %d, want 20", c.Utterance.VoicedChunks)
	}
}

func TestCaptureNoVoiceTimeout(t *testing.T) {
	t.Parallel()

	prov := &transcribermock.Transcriber{}
	l := newTestListener(t, prov, ListenerConfig{
		Endpointer: vad.Config{MaxWait: 500 * time.Millisecond},
	})

	src := startSource(t, []audiomock.Segment{audiomock.Silence(20)})

	if _, err := l.Capture(context.Background(), src); !errors.Is(err, ErrNoVoice) {
		t.Fatalf("err = %v, want ErrNoVoice", err)
	}
	if got := prov.CallCount(); got != 0 {
		t.Fatalf("provider called %d times on silence", got)
	}
}

func TestCaptureFollowUpRelaxedMinimums(t *testing.T) {
	t.Parallel()

	prov := &transcribermock.Transcriber{
		Results: []transcriber.Result{{Text: "la lumière"}},
	}
	l := newTestListener(t, prov, ListenerConfig{})

	// 6 voiced chunks: under the normal floor of 8, over the follow-up
	// floor of 3.
	src := startSource(t, []audiomock.Segment{
		audiomock.Voice(6),
		audiomock.Silence(12),
	})

	c, err := l.CaptureFollowUp(context.Background(), src)
	if err != nil {
		t.Fatalf("CaptureFollowUp: %v", err)
	}
	if c.Text != "la lumière" {
		t.Fatalf("Text = %q", c.Text)
	}
}

func TestCaptureFollowUpTimesOut(t *testing.T) {
	t.Parallel()

	prov := &transcribermock.Transcriber{}
	l := newTestListener(t, prov, ListenerConfig{FollowUpTimeout: 300 * time.Millisecond})

	src := startSource(t, []audiomock.Segment{audiomock.Silence(200)})

	if _, err := l.CaptureFollowUp(context.Background(), src); !errors.Is(err, ErrNoVoice) {
		t.Fatalf("err = %v, want ErrNoVoice", err)
	}
}

func TestCaptureSourceEndError(t *testing.T) {
	t.Parallel()

	prov := &transcribermock.Transcriber{}
	l := newTestListener(t, prov, ListenerConfig{})

	src := startSource(t, []audiomock.Segment{audiomock.Voice(2)})

	if _, err := l.Capture(context.Background(), src); err == nil {
		t.Fatal("expected error when the source ends mid-capture")
	}
}
