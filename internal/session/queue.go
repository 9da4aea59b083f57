package session

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrQueueClosed is returned by Push and Pop after Close.
var ErrQueueClosed = errors.New("session: queue closed")

// DefaultQueueCapacity bounds the global command queue.
const DefaultQueueCapacity = 32

// CommandContext is one recognised command waiting for dispatch.
type CommandContext struct {
	// SessionID identifies the capture session.
	SessionID uuid.UUID

	// Room names the room the command was spoken in.
	Room string

	// Text is the command text, wake word stripped.
	Text string

	// Confidence is the transcription confidence, zero if unknown.
	Confidence float64

	// Timestamp is when the command was recognised.
	Timestamp time.Time
}

// Work is one queued command together with its completion signal. The
// orchestrator resolves done exactly once when dispatch finishes.
type Work struct {
	Cmd     CommandContext
	Machine *Machine

	done chan error
}

// Done returns a channel resolved with the dispatch outcome.
func (w *Work) Done() <-chan error { return w.done }

// item is a queued work unit with its ordering keys.
type item struct {
	work     *Work
	priority int
	seq      uint64
}

// commandHeap orders items by priority value ascending, then submission
// order. Implements heap.Interface.
type commandHeap []*item

func (h commandHeap) Len() int { return len(h) }

func (h commandHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h commandHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *commandHeap) Push(x any) { *h = append(*h, x.(*item)) }

func (h *commandHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue is the bounded global command queue. Lower priority values are
// served first; equal priorities keep submission order. When full, the
// newest item among those with the worst priority is dropped to make room.
// Safe for concurrent use.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	heap   commandHeap
	cap    int
	seq    uint64
	closed bool
}

// NewQueue creates a Queue holding at most capacity commands. Non-positive
// capacity selects the default.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	q := &Queue{cap: capacity}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a work unit. When the queue is full the worst item (highest
// priority value, newest submission) is evicted; the pushed unit itself may
// be the one evicted. Returns the evicted unit, if any.
func (q *Queue) Push(w *Work, priority int) (evicted *Work, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	it := &item{work: w, priority: priority, seq: q.seq}
	q.seq++
	heap.Push(&q.heap, it)

	if len(q.heap) > q.cap {
		worst := q.worstIndex()
		dropped := q.heap[worst]
		heap.Remove(&q.heap, worst)
		q.cond.Signal()
		return dropped.work, nil
	}

	q.cond.Signal()
	return nil, nil
}

// worstIndex finds the item with the highest priority value, breaking ties
// toward the newest submission.
func (q *Queue) worstIndex() int {
	worst := 0
	for i := 1; i < len(q.heap); i++ {
		if q.heap[i].priority > q.heap[worst].priority ||
			(q.heap[i].priority == q.heap[worst].priority && q.heap[i].seq > q.heap[worst].seq) {
			worst = i
		}
	}
	return worst
}

// Pop blocks until a work unit is available or the queue is closed.
func (q *Queue) Pop() (*Work, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.heap) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.heap) == 0 {
		return nil, ErrQueueClosed
	}
	it := heap.Pop(&q.heap).(*item)
	return it.work, nil
}

// Len returns the number of queued commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Close wakes all blocked Pop calls. Remaining commands can still be popped;
// Pop returns ErrQueueClosed once the queue drains.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
