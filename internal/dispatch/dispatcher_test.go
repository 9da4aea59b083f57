package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/exovoice/exo/internal/session"
	"github.com/exovoice/exo/pkg/history"
	"github.com/exovoice/exo/pkg/provider/brain"
	brainmock "github.com/exovoice/exo/pkg/provider/brain/mock"
	ttsmock "github.com/exovoice/exo/pkg/provider/tts/mock"
)

type captureResponder struct {
	mu  sync.Mutex
	got []Response
	err error
}

func (r *captureResponder) Respond(_ context.Context, rsp Response) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.got = append(r.got, rsp)
	return nil
}

func (r *captureResponder) responses() []Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Response(nil), r.got...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCommand(text string) session.CommandContext {
	return session.CommandContext{
		SessionID:  uuid.New(),
		Room:       "salon",
		Text:       text,
		Confidence: 0.92,
		Timestamp:  time.Now().Add(-200 * time.Millisecond),
	}
}

func TestHandleSpeaksBrainReply(t *testing.T) {
	t.Parallel()

	b := &brainmock.Brain{Replies: []*brain.Reply{{Text: "La lumière est allumée.", Confidence: 0.9}}}
	sp := &ttsmock.Speaker{}
	store := history.NewMemoryStore(16)
	rsp := &captureResponder{}

	d, err := New(Config{Brain: b, TTS: sp, History: store, Responder: rsp, Logger: testLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cmd := testCommand("allume la lumière")
	out, err := d.Handle(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out.Degraded {
		t.Fatal("outcome degraded with a healthy brain")
	}
	if out.Reply != "La lumière est allumée." {
		t.Fatalf("Reply = %q", out.Reply)
	}
	if !out.Spoken {
		t.Fatal("reply was not spoken")
	}
	if sp.LastSpoken() != out.Reply {
		t.Fatalf("spoken %q, want %q", sp.LastSpoken(), out.Reply)
	}
	if out.Latency <= 0 {
		t.Fatalf("Latency = %v, want > 0", out.Latency)
	}

	responses := rsp.responses()
	if len(responses) != 1 {
		t.Fatalf("responder received %d responses, want 1", len(responses))
	}
	if responses[0].Room != "salon" || responses[0].SessionID != cmd.SessionID {
		t.Fatalf("response routing = %+v", responses[0])
	}
	if len(responses[0].PCM) == 0 {
		t.Fatal("response carries no audio")
	}

	entries, err := store.Recent(context.Background(), "salon", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("history has %d entries, want 1", len(entries))
	}
	if entries[0].Command != "allume la lumière" || entries[0].Reply != out.Reply {
		t.Fatalf("history entry = %+v", entries[0])
	}
}

func TestHandleSendsRecentHistoryToBrain(t *testing.T) {
	t.Parallel()

	store := history.NewMemoryStore(16)
	ctx := context.Background()
	for _, ex := range []struct{ cmd, rep string }{
		{"quelle heure est-il", "Il est midi."},
		{"et la météo", "Grand soleil."},
	} {
		if err := store.Append(ctx, history.Entry{Room: "salon", Command: ex.cmd, Reply: ex.rep}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	b := &brainmock.Brain{Replies: []*brain.Reply{{Text: "D'accord."}}}
	d, err := New(Config{Brain: b, TTS: &ttsmock.Speaker{}, History: store, HistoryDepth: 2, Logger: testLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := d.Handle(ctx, testCommand("merci")); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	req := b.LastCall()
	if len(req.History) != 2 {
		t.Fatalf("brain received %d exchanges, want 2", len(req.History))
	}
	if req.History[0].Command != "quelle heure est-il" || req.History[1].Reply != "Grand soleil." {
		t.Fatalf("history order = %+v", req.History)
	}
	if req.Room != "salon" || req.Text != "merci" {
		t.Fatalf("request = %+v", req)
	}
}

func TestHandleDegradesOnBrainFailure(t *testing.T) {
	t.Parallel()

	b := &brainmock.Brain{Err: errors.New("backend down")}
	sp := &ttsmock.Speaker{}
	store := history.NewMemoryStore(16)

	d, err := New(Config{Brain: b, TTS: sp, History: store, Logger: testLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := d.Handle(context.Background(), testCommand("allume la lumière"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !out.Degraded {
		t.Fatal("outcome not degraded after brain failure")
	}
	if out.Reply != defaultApology {
		t.Fatalf("Reply = %q, want the apology", out.Reply)
	}
	if !out.Spoken {
		t.Fatal("apology was not spoken")
	}

	// Degraded exchanges are not recorded.
	entries, err := store.Recent(context.Background(), "salon", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("history has %d entries, want 0", len(entries))
	}
}

func TestHandleTTSFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	b := &brainmock.Brain{Replies: []*brain.Reply{{Text: "Voilà."}}}
	sp := &ttsmock.Speaker{Err: errors.New("synth down")}
	store := history.NewMemoryStore(16)

	d, err := New(Config{Brain: b, TTS: sp, History: store, Logger: testLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := d.Handle(context.Background(), testCommand("allume la lumière"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out.Spoken {
		t.Fatal("Spoken = true with a failing synthesiser")
	}
	if out.Degraded {
		t.Fatal("TTS failure must not degrade the outcome")
	}

	// The exchange still lands in history.
	entries, err := store.Recent(context.Background(), "salon", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("history has %d entries, want 1", len(entries))
	}
}

func TestHandleForwardsBrainActions(t *testing.T) {
	t.Parallel()

	b := &brainmock.Brain{Replies: []*brain.Reply{{
		Text:    "J'allume.",
		Actions: []brain.Action{{Name: "light_on", Arguments: `{"room":"salon"}`}},
	}}}

	d, err := New(Config{Brain: b, TTS: &ttsmock.Speaker{}, Logger: testLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := d.Handle(context.Background(), testCommand("allume la lumière"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(out.Actions) != 1 || out.Actions[0].Name != "light_on" {
		t.Fatalf("Actions = %+v", out.Actions)
	}
}

func TestDispatchHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	b := &brainmock.Brain{Replies: []*brain.Reply{{Text: "ok"}}}
	d, err := New(Config{Brain: b, TTS: &ttsmock.Speaker{}, Logger: testLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Dispatch(ctx, testCommand("allume la lumière")); !errors.Is(err, context.Canceled) {
		t.Fatalf("Dispatch on cancelled ctx: err = %v, want context.Canceled", err)
	}
}

func TestNewRequiresProviders(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{TTS: &ttsmock.Speaker{}}); err == nil {
		t.Fatal("New accepted a nil Brain")
	}
	if _, err := New(Config{Brain: &brainmock.Brain{}}); err == nil {
		t.Fatal("New accepted a nil TTS")
	}
}
