package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrDropped resolves the Work of a command evicted from a full queue.
var ErrDropped = errors.New("session: command dropped from full queue")

// DefaultMaxProcessing caps how many commands are dispatched concurrently
// across all rooms.
const DefaultMaxProcessing = 2

// Dispatcher handles one recognised command end to end: brain, reply, log.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd CommandContext) error
}

// OrchestratorConfig tunes the orchestrator. Zero values select defaults.
type OrchestratorConfig struct {
	// MaxProcessing is the number of commands that may be in dispatch at
	// once.
	MaxProcessing int

	// QueueCapacity bounds the global command queue.
	QueueCapacity int
}

// Orchestrator owns the global command queue and the processing cap. Room
// pipelines submit recognised commands; a dispatch worker pool drains the
// queue in priority order, holding one semaphore permit per in-flight
// command.
type Orchestrator struct {
	dispatcher Dispatcher
	queue      *Queue
	sem        *semaphore.Weighted
	logger     *slog.Logger

	mu     sync.Mutex
	active int
}

// NewOrchestrator creates an Orchestrator over the given dispatcher.
func NewOrchestrator(dispatcher Dispatcher, cfg OrchestratorConfig, logger *slog.Logger) *Orchestrator {
	if cfg.MaxProcessing <= 0 {
		cfg.MaxProcessing = DefaultMaxProcessing
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		dispatcher: dispatcher,
		queue:      NewQueue(cfg.QueueCapacity),
		sem:        semaphore.NewWeighted(int64(cfg.MaxProcessing)),
		logger:     logger.With("component", "orchestrator"),
	}
}

// Submit enqueues a recognised command and returns its Work handle. The
// caller waits on Work.Done for the dispatch outcome, which also enforces
// one in-flight command per room: each room pipeline submits its next
// command only after the previous one resolves.
func (o *Orchestrator) Submit(cmd CommandContext, machine *Machine, priority int) (*Work, error) {
	w := &Work{Cmd: cmd, Machine: machine, done: make(chan error, 1)}

	evicted, err := o.queue.Push(w, priority)
	if err != nil {
		return nil, err
	}
	if evicted != nil {
		o.logger.Warn("command dropped from full queue",
			"room", evicted.Cmd.Room, "text", evicted.Cmd.Text)
		evicted.done <- ErrDropped
		if evicted == w {
			return w, nil
		}
	}
	return w, nil
}

// QueueDepth returns the number of commands waiting for dispatch.
func (o *Orchestrator) QueueDepth() int { return o.queue.Len() }

// Active returns the number of commands currently in dispatch.
func (o *Orchestrator) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// Run drains the queue until ctx is cancelled, then waits for in-flight
// dispatches to finish.
func (o *Orchestrator) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		o.queue.Close()
	}()

	var wg sync.WaitGroup
	for {
		w, err := o.queue.Pop()
		if err != nil {
			break
		}

		if err := o.sem.Acquire(ctx, 1); err != nil {
			w.done <- err
			continue
		}

		o.mu.Lock()
		o.active++
		o.mu.Unlock()

		wg.Add(1)
		go func(w *Work) {
			defer wg.Done()
			defer o.sem.Release(1)
			defer func() {
				o.mu.Lock()
				o.active--
				o.mu.Unlock()
			}()
			w.done <- o.process(ctx, w)
		}(w)
	}

	wg.Wait()
	return nil
}

// process runs one command through the dispatcher, tracking the session
// state around it.
func (o *Orchestrator) process(ctx context.Context, w *Work) error {
	if w.Machine != nil {
		if err := w.Machine.Transition(StateProcessing); err != nil {
			o.logger.Warn("state transition failed", "room", w.Cmd.Room, "error", err)
		}
	}

	err := o.dispatcher.Dispatch(ctx, w.Cmd)

	if w.Machine != nil {
		next := StateResponding
		if err != nil {
			next = StateError
		}
		if terr := w.Machine.Transition(next); terr != nil {
			o.logger.Warn("state transition failed", "room", w.Cmd.Room, "error", terr)
		}
	}
	return err
}
