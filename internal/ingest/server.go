package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/exovoice/exo/internal/dispatch"
	"github.com/exovoice/exo/pkg/audio"
)

// maxMessageBytes bounds a single wire frame. One second of 48 kHz stereo
// PCM plus header fits comfortably.
const maxMessageBytes = 512 * 1024

// RecognizeFunc receives pre-transcribed text from a `recognize` message.
// The text still goes through wake-word spotting; only transcription is
// skipped.
type RecognizeFunc func(room, text string, ts time.Time)

// Config configures a [Server].
type Config struct {
	// Rooms lists the rooms the server accepts audio for. Messages for
	// other rooms are dropped with a warning.
	Rooms []string

	// OnRecognize handles `recognize` messages. Nil drops them.
	OnRecognize RecognizeFunc

	Logger *slog.Logger
}

// Server accepts satellite WebSocket connections, feeds their audio into
// per-room [Source]s, and pushes `respond` messages back to every connection
// subscribed to a room. It implements [dispatch.Responder] and
// [http.Handler].
type Server struct {
	sources     map[string]*Source
	norms       map[string]*audio.Normalizer
	onRecognize RecognizeFunc
	logger      *slog.Logger

	mu   sync.Mutex
	subs map[string]map[*websocket.Conn]struct{}
}

var (
	_ http.Handler       = (*Server)(nil)
	_ dispatch.Responder = (*Server)(nil)
)

// NewServer creates a server with one ingest source per configured room.
func NewServer(cfg Config) (*Server, error) {
	if len(cfg.Rooms) == 0 {
		return nil, fmt.Errorf("ingest: at least one room is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		sources:     make(map[string]*Source, len(cfg.Rooms)),
		norms:       make(map[string]*audio.Normalizer, len(cfg.Rooms)),
		onRecognize: cfg.OnRecognize,
		logger:      cfg.Logger.With("component", "ingest"),
		subs:        make(map[string]map[*websocket.Conn]struct{}),
	}
	for _, room := range cfg.Rooms {
		if _, dup := s.sources[room]; dup {
			return nil, fmt.Errorf("ingest: duplicate room %q", room)
		}
		s.sources[room] = NewSource(room)
		s.norms[room] = &audio.Normalizer{SampleRate: audio.DefaultSampleRate, Channels: 1}
	}
	return s, nil
}

// Source returns the audio source for room, or nil for unknown rooms.
func (s *Server) Source(room string) *Source {
	return s.sources[room]
}

// ServeHTTP upgrades the connection and runs the read loop until the client
// disconnects or the request context ends.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Satellites are headless clients, so browser origin checks do not
	// apply.
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	conn.SetReadLimit(maxMessageBytes)

	s.logger.Info("satellite connected", "remote", r.RemoteAddr)
	err = s.readLoop(r.Context(), conn)
	s.unsubscribeAll(conn)
	if err != nil && !errors.Is(err, context.Canceled) {
		var ce websocket.CloseError
		if !errors.As(err, &ce) {
			s.logger.Warn("satellite read loop ended", "error", err, "remote", r.RemoteAddr)
		}
	}
	conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("satellite disconnected", "remote", r.RemoteAddr)
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageBinary {
			continue
		}
		msg, err := ParseMessage(data)
		if err != nil {
			s.logger.Warn("dropping malformed message", "error", err)
			continue
		}
		s.handle(conn, msg)
	}
}

func (s *Server) handle(conn *websocket.Conn, msg Message) {
	room := msg.Header.Room
	src := s.sources[room]
	if src == nil {
		s.logger.Warn("message for unknown room", "room", room, "event", msg.Header.Event)
		return
	}
	s.subscribe(room, conn)

	switch msg.Header.Event {
	case EventAudio:
		pcm, err := s.canonicalPCM(room, msg)
		if err != nil {
			s.logger.Warn("dropping audio message", "room", room, "error", err)
			return
		}
		if len(pcm) == 0 {
			// The normalizer dropped a corrupt payload.
			return
		}
		if !src.Push(pcm, msg.Time()) {
			s.logger.Warn("pipeline lagging, audio dropped", "room", room)
		}
	case EventRecognize:
		if msg.Header.Text == "" {
			s.logger.Warn("recognize message without text", "room", room)
			return
		}
		if s.onRecognize != nil {
			s.onRecognize(room, msg.Header.Text, msg.Time())
		}
	case EventAudioStart, EventAudioStop:
		s.logger.Debug("stream marker", "room", room, "event", msg.Header.Event)
	default:
		s.logger.Warn("unhandled event", "room", room, "event", msg.Header.Event)
	}
}

// canonicalPCM converts a message payload to the 16 kHz mono pipeline
// format through the room's normalizer. Returns an empty slice when the
// normalizer drops a corrupt payload.
func (s *Server) canonicalPCM(room string, msg Message) ([]byte, error) {
	if msg.Header.Format != "" && msg.Header.Format != FormatPCM16 {
		return nil, fmt.Errorf("unsupported format %q", msg.Header.Format)
	}
	channels := msg.Header.Channels
	if channels == 0 {
		channels = 1
	}
	if channels > 2 {
		return nil, fmt.Errorf("unsupported channel count %d", msg.Header.Channels)
	}
	rate := msg.Header.Rate
	if rate == 0 {
		rate = audio.DefaultSampleRate
	}
	frame := s.norms[room].Normalize(audio.Frame{
		Data:       msg.Payload,
		SampleRate: rate,
		Channels:   channels,
		Room:       room,
	})
	return frame.Data, nil
}

// Respond implements [dispatch.Responder]: the reply is encoded as a
// `respond` message and written to every connection subscribed to the room.
func (s *Server) Respond(ctx context.Context, rsp dispatch.Response) error {
	raw := EncodeMessage(NewRespondMessage(rsp.SessionID, rsp.Room, rsp.Text, rsp.PCM, rsp.SampleRate))

	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.subs[rsp.Room]))
	for c := range s.subs[rsp.Room] {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if len(conns) == 0 {
		return fmt.Errorf("ingest: no connection subscribed to room %q", rsp.Room)
	}

	var errs []error
	for _, c := range conns {
		if err := c.Write(ctx, websocket.MessageBinary, raw); err != nil {
			s.unsubscribeAll(c)
			errs = append(errs, err)
		}
	}
	if len(errs) == len(conns) {
		return fmt.Errorf("ingest: respond to room %q: %w", rsp.Room, errors.Join(errs...))
	}
	return nil
}

// Close stops every room source, unblocking their pipelines with io.EOF.
func (s *Server) Close() error {
	var errs []error
	for _, src := range s.sources {
		if err := src.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) subscribe(room string, conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[room] == nil {
		s.subs[room] = make(map[*websocket.Conn]struct{})
	}
	s.subs[room][conn] = struct{}{}
}

func (s *Server) unsubscribeAll(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conns := range s.subs {
		delete(conns, conn)
	}
}
