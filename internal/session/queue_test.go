package session

import (
	"errors"
	"testing"
)

func work(text string) *Work {
	return &Work{Cmd: CommandContext{Text: text}, done: make(chan error, 1)}
}

func TestQueuePriorityOrder(t *testing.T) {
	t.Parallel()

	q := NewQueue(8)
	mustPush := func(text string, prio int) {
		t.Helper()
		if _, err := q.Push(work(text), prio); err != nil {
			t.Fatalf("Push(%s): %v", text, err)
		}
	}
	mustPush("low", 5)
	mustPush("high", 1)
	mustPush("mid", 3)

	for _, want := range []string{"high", "mid", "low"} {
		w, err := q.Pop()
		if err != nil {
			t.Fatalf("Pop: %v", err)
		}
		if w.Cmd.Text != want {
			t.Fatalf("popped %q, want %q", w.Cmd.Text, want)
		}
	}
}

func TestQueueFIFOWithinPriority(t *testing.T) {
	t.Parallel()

	q := NewQueue(8)
	for _, text := range []string{"first", "second", "third"} {
		if _, err := q.Push(work(text), 2); err != nil {
			t.Fatalf("Push(%s): %v", text, err)
		}
	}

	for _, want := range []string{"first", "second", "third"} {
		w, err := q.Pop()
		if err != nil {
			t.Fatalf("Pop: %v", err)
		}
		if w.Cmd.Text != want {
			t.Fatalf("popped %q, want %q", w.Cmd.Text, want)
		}
	}
}

func TestQueueOverflowEvictsWorstNewest(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	if _, err := q.Push(work("keep-a"), 1); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if _, err := q.Push(work("keep-b"), 2); err != nil {
		t.Fatalf("Push: %v", err)
	}

	// Lowest-importance newest item goes; here that is the pushed one.
	evicted, err := q.Push(work("worst"), 9)
	if err != nil {
		t.Fatalf("Push overflow: %v", err)
	}
	if evicted == nil || evicted.Cmd.Text != "worst" {
		t.Fatalf("evicted = %+v, want the newly pushed worst item", evicted)
	}

	// A high-importance push evicts the stored worst instead.
	evicted, err = q.Push(work("urgent"), 0)
	if err != nil {
		t.Fatalf("Push overflow: %v", err)
	}
	if evicted == nil || evicted.Cmd.Text != "keep-b" {
		t.Fatalf("evicted = %+v, want keep-b", evicted)
	}

	w, err := q.Pop()
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if w.Cmd.Text != "urgent" {
		t.Fatalf("popped %q, want urgent", w.Cmd.Text)
	}
}

func TestQueueCloseDrainsThenErrors(t *testing.T) {
	t.Parallel()

	q := NewQueue(4)
	if _, err := q.Push(work("pending"), 1); err != nil {
		t.Fatalf("Push: %v", err)
	}
	q.Close()

	w, err := q.Pop()
	if err != nil {
		t.Fatalf("Pop after close with pending item: %v", err)
	}
	if w.Cmd.Text != "pending" {
		t.Fatalf("popped %q, want pending", w.Cmd.Text)
	}

	if _, err := q.Pop(); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("Pop on drained closed queue: err = %v, want ErrQueueClosed", err)
	}
	if _, err := q.Push(work("late"), 1); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("Push after close: err = %v, want ErrQueueClosed", err)
	}
}
