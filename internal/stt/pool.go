// Package stt layers streaming behaviour over batch transcriber providers.
//
// A [Pool] runs a small number of inference workers fed from a bounded FIFO
// queue; submissions return a [Job] future immediately. The [Listener]
// drives a capture loop that speculatively submits growing utterance
// snapshots to the pool so that, by the time the endpointer seals, a usable
// transcription usually already exists.
package stt

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/exovoice/exo/pkg/provider/transcriber"
)

// ErrQueueFull is returned by [Pool.Submit] when the job queue is at
// capacity. Callers skip the speculative submission and try again later.
var ErrQueueFull = errors.New("stt: transcription queue full")

// ErrPoolClosed is returned by [Pool.Submit] after [Pool.Close].
var ErrPoolClosed = errors.New("stt: pool is closed")

// errJobCancelled is set on jobs skipped by workers after cancellation.
var errJobCancelled = errors.New("stt: job cancelled")

// Defaults for the pool.
const (
	DefaultWorkers   = 2
	DefaultQueueSize = 4
)

// Job is a pending transcription. It completes exactly once.
type Job struct {
	pcmBytes int

	cancelled atomic.Bool
	done      chan struct{}
	result    transcriber.Result
	err       error
}

// Poll returns the job's outcome without blocking. ok is false while the
// job is still pending.
func (j *Job) Poll() (res transcriber.Result, err error, ok bool) {
	select {
	case <-j.done:
		return j.result, j.err, true
	default:
		return transcriber.Result{}, nil, false
	}
}

// Await blocks until the job completes or ctx is cancelled.
func (j *Job) Await(ctx context.Context) (transcriber.Result, error) {
	select {
	case <-j.done:
		return j.result, j.err
	case <-ctx.Done():
		return transcriber.Result{}, ctx.Err()
	}
}

// Cancel marks the job as stale. A queued cancelled job is skipped by the
// workers; one already inferring runs to completion but its result is
// ignored by the caller.
func (j *Job) Cancel() {
	j.cancelled.Store(true)
}

// complete resolves the future. Must be called at most once.
func (j *Job) complete(res transcriber.Result, err error) {
	j.result = res
	j.err = err
	close(j.done)
}

// Pool is a bounded worker pool over a transcriber provider.
type Pool struct {
	provider   transcriber.Provider
	sampleRate int
	logger     *slog.Logger

	jobs   chan *poolItem
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// poolItem pairs a job with its input buffer, which is dropped once the
// inference has consumed it.
type poolItem struct {
	job *Job
	pcm []byte
}

// PoolConfig holds pool sizing. Zero values select the defaults.
type PoolConfig struct {
	Workers    int
	QueueSize  int
	SampleRate int
}

// NewPool creates the pool and starts its workers.
func NewPool(provider transcriber.Provider, cfg PoolConfig, logger *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		provider:   provider,
		sampleRate: cfg.SampleRate,
		logger:     logger.With("component", "stt-pool"),
		jobs:       make(chan *poolItem, cfg.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}

	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker()
	}
	return p
}

// Submit queues pcm for transcription and returns a [Job] future. It never
// blocks: a full queue yields [ErrQueueFull].
func (p *Pool) Submit(pcm []byte) (*Job, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	job := &Job{pcmBytes: len(pcm), done: make(chan struct{})}
	select {
	case p.jobs <- &poolItem{job: job, pcm: pcm}:
		return job, nil
	default:
		return nil, ErrQueueFull
	}
}

// Transcribe bypasses the queue and runs a blocking inference directly on
// the provider. Used for the authoritative pass after an utterance seals.
func (p *Pool) Transcribe(ctx context.Context, pcm []byte) (transcriber.Result, error) {
	return p.provider.Transcribe(ctx, pcm, p.sampleRate)
}

// Close stops the workers. Queued jobs are resolved as cancelled; the
// in-flight inference per worker finishes first.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.jobs)
	p.cancel()
	p.wg.Wait()
	return nil
}

// worker drains the queue until it closes.
func (p *Pool) worker() {
	defer p.wg.Done()
	for item := range p.jobs {
		if item.job.cancelled.Load() {
			item.job.complete(transcriber.Result{}, errJobCancelled)
			continue
		}

		res, err := p.provider.Transcribe(p.ctx, item.pcm, p.sampleRate)
		if err != nil {
			p.logger.Warn("speculative transcription failed",
				"bytes", len(item.pcm), "error", err)
		}
		item.job.complete(res, err)
	}
}
