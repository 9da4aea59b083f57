// Package history defines the command log: every dispatched voice command
// and its reply is appended as an Entry, and recent entries feed back into
// the brain as conversation context.
package history

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// Entry is one logged command/reply pair.
type Entry struct {
	// ID identifies the entry.
	ID uuid.UUID

	// SessionID identifies the capture session the command belongs to.
	SessionID uuid.UUID

	// Room names the room the command was spoken in.
	Room string

	// Command is the recognised command text, wake word stripped.
	Command string

	// Reply is the brain's answer.
	Reply string

	// Confidence is the brain's self-reported confidence, zero if unknown.
	Confidence float64

	// CreatedAt is when the entry was appended.
	CreatedAt time.Time
}

// Store is the abstraction over any command log backend.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Append adds one entry to the log. A zero Entry.ID is assigned by the
	// store; a zero CreatedAt is set to the current time.
	Append(ctx context.Context, entry Entry) error

	// Recent returns up to limit most recent entries for the room, in
	// chronological order (oldest first). An empty room matches all rooms.
	Recent(ctx context.Context, room string, limit int) ([]Entry, error)

	io.Closer
}
