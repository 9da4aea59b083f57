// Package ingest implements the network audio wire protocol and the
// WebSocket server that feeds room pipelines.
//
// A wire message is a UTF-8 JSON header, a single NUL byte, and an optional
// raw PCM16 payload. Satellites in each room stream `audio` messages to the
// server; `recognize` messages carry already-transcribed text and bypass the
// transcription stage. The server pushes `respond` messages carrying the
// synthesised reply back to every connection subscribed to the room.
package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event names a wire message type.
type Event string

const (
	// EventAudio carries a PCM16 payload for transcription.
	EventAudio Event = "audio"

	// EventRecognize carries pre-transcribed text in the header. The text
	// goes straight to wake-word spotting.
	EventRecognize Event = "recognize"

	// EventAudioStart marks the beginning of a satellite's audio stream.
	EventAudioStart Event = "audio-start"

	// EventAudioStop marks the end of a satellite's audio stream.
	EventAudioStop Event = "audio-stop"

	// EventRespond is sent by the server: a synthesised reply for the room.
	EventRespond Event = "respond"
)

// FormatPCM16 is the only payload format currently supported.
const FormatPCM16 = "pcm16"

var (
	// ErrMissingPayload is returned when an event that requires a PCM
	// payload arrives without the NUL separator.
	ErrMissingPayload = errors.New("ingest: message has no payload separator")

	// ErrUnknownEvent is returned for events outside the protocol.
	ErrUnknownEvent = errors.New("ingest: unknown event")
)

// Header is the JSON front matter of a wire message.
type Header struct {
	Event     Event  `json:"event"`
	Room      string `json:"room,omitempty"`
	Format    string `json:"format,omitempty"`
	Rate      int    `json:"rate,omitempty"`
	Channels  int    `json:"channels,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Text      string `json:"text,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// Message is a decoded wire message.
type Message struct {
	Header  Header
	Payload []byte
}

// Time returns the header timestamp as a [time.Time], or the zero value when
// the header carries none.
func (m Message) Time() time.Time {
	if m.Header.Timestamp == 0 {
		return time.Time{}
	}
	return time.UnixMilli(m.Header.Timestamp)
}

// validEvents guards ParseMessage against arbitrary event strings.
var validEvents = map[Event]bool{
	EventAudio:      true,
	EventRecognize:  true,
	EventAudioStart: true,
	EventAudioStop:  true,
	EventRespond:    true,
}

// requiresPayload lists the events that must carry PCM after the NUL byte.
var requiresPayload = map[Event]bool{
	EventAudio: true,
}

// ParseMessage decodes a raw wire frame. The JSON header runs up to the first
// NUL byte; everything after it is the payload. Frames without a NUL are
// accepted only for events that carry no payload.
func ParseMessage(raw []byte) (Message, error) {
	head := raw
	var payload []byte
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		head = raw[:i]
		payload = raw[i+1:]
	}

	var h Header
	dec := json.NewDecoder(bytes.NewReader(head))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&h); err != nil {
		return Message{}, fmt.Errorf("ingest: decode header: %w", err)
	}
	if !validEvents[h.Event] {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownEvent, h.Event)
	}
	if requiresPayload[h.Event] && payload == nil {
		return Message{}, fmt.Errorf("%w (event %q)", ErrMissingPayload, h.Event)
	}
	if h.Room == "" && h.Event != EventRespond {
		return Message{}, fmt.Errorf("ingest: event %q without a room", h.Event)
	}
	return Message{Header: h, Payload: payload}, nil
}

// EncodeMessage serialises a message into the wire format. Header encoding
// cannot fail for the field types used.
func EncodeMessage(m Message) []byte {
	head, err := json.Marshal(m.Header)
	if err != nil {
		panic("ingest: marshal header: " + err.Error())
	}
	out := make([]byte, 0, len(head)+1+len(m.Payload))
	out = append(out, head...)
	out = append(out, 0)
	out = append(out, m.Payload...)
	return out
}

// NewRespondMessage builds the server-to-satellite reply message.
func NewRespondMessage(sessionID uuid.UUID, room, text string, pcm []byte, rate int) Message {
	return Message{
		Header: Header{
			Event:     EventRespond,
			Room:      room,
			Format:    FormatPCM16,
			Rate:      rate,
			Channels:  1,
			Timestamp: time.Now().UnixMilli(),
			Text:      text,
			SessionID: sessionID.String(),
		},
		Payload: pcm,
	}
}
