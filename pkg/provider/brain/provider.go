// Package brain defines the Provider interface for the reasoning backend.
//
// A brain provider receives a transcribed voice command together with room
// and session metadata and returns a spoken-ready reply, optionally with
// structured actions the caller can execute (lights, media, timers).
//
// Implementors must be safe for concurrent use: the orchestrator may run
// several room sessions against one provider at a time.
package brain

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// Exchange is one past command/reply pair, used as conversation context.
type Exchange struct {
	// Command is what the user said, wake word stripped.
	Command string

	// Reply is what the assistant answered.
	Reply string
}

// Request carries one voice command to the brain.
type Request struct {
	// SessionID identifies the capture session the command belongs to.
	SessionID uuid.UUID

	// Room names the room the command was spoken in.
	Room string

	// Text is the command text, wake word already stripped.
	Text string

	// History is recent prior exchanges in this room, oldest first. May be
	// empty.
	History []Exchange
}

// Action is a structured side effect requested by the brain.
type Action struct {
	// Name is the action identifier (e.g. "lights.on").
	Name string

	// Arguments is the JSON-encoded action parameters.
	Arguments string
}

// Tool describes an action the brain may request, offered to backends that
// support function calling.
type Tool struct {
	// Name is the action identifier the backend returns in its tool calls.
	Name string

	// Description explains what the action does, included in prompts.
	Description string

	// Parameters is the JSON Schema for the action's arguments.
	Parameters map[string]any
}

// Reply is the brain's answer to one Request.
type Reply struct {
	// Text is the spoken-ready answer. Empty when the brain responds with
	// actions only.
	Text string

	// Actions lists side effects the caller should execute.
	Actions []Action

	// Confidence is the brain's self-reported confidence in [0, 1].
	// Zero means the backend does not report one.
	Confidence float64
}

// Provider is the abstraction over any reasoning backend.
//
// Process must propagate context cancellation promptly. Close releases any
// backend resources; the provider must not be used afterwards.
type Provider interface {
	// Process sends the command to the backend and waits for the reply.
	Process(ctx context.Context, req Request) (*Reply, error)

	// Name returns a short identifier for logs and metrics.
	Name() string

	io.Closer
}
