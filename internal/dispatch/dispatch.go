// Package dispatch runs sink writes off the ingestion path. Jobs are queued
// without blocking, executed by a bounded pool and retried with exponential
// backoff; their outcome is only logged and counted.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

// Job is one sink write for one feed.
type Job struct {
	Feed string
	Sink string
	Run  func(ctx context.Context) error
}

// Observer receives job outcomes, typically the metrics collector.
type Observer interface {
	SinkResult(feed, sink string, d time.Duration, err error)
	SinkDropped(feed, sink string)
	QueueDepth(n int)
}

type Options struct {
	Workers        int
	QueueSize      int
	MaxElapsed     time.Duration
	AttemptTimeout time.Duration
	Observer       Observer
}

type Dispatcher struct {
	opts  Options
	queue chan Job

	mu     sync.RWMutex
	closed bool

	jobCtx    context.Context
	jobCancel context.CancelFunc
	done      chan struct{}
}

func New(opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.MaxElapsed <= 0 {
		opts.MaxElapsed = 20 * time.Second
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		opts:      opts,
		queue:     make(chan Job, opts.QueueSize),
		jobCtx:    ctx,
		jobCancel: cancel,
		done:      make(chan struct{}),
	}
	go d.loop()
	return d
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Submit queues job and returns immediately. It reports false when the
// queue is full or the dispatcher is closed; the job is then dropped.
func (d *Dispatcher) Submit(job Job) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped(job)
		return false
	}
	select {
	case d.queue <- job:
		if d.opts.Observer != nil {
			d.opts.Observer.QueueDepth(len(d.queue))
		}
		return true
	default:
		d.dropped(job)
		return false
	}
}

func (d *Dispatcher) dropped(job Job) {
	log.Warn().Str("feed", job.Feed).Str("sink", job.Sink).Msg("sink queue full; dropping write")
	if d.opts.Observer != nil {
		d.opts.Observer.SinkDropped(job.Feed, job.Sink)
	}
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	p := pool.New().WithMaxGoroutines(d.opts.Workers)
	for job := range d.queue {
		if d.opts.Observer != nil {
			d.opts.Observer.QueueDepth(len(d.queue))
		}
		p.Go(func() { d.run(job) })
	}
	p.Wait()
}

func (d *Dispatcher) run(job Job) {
	start := time.Now()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxElapsedTime = d.opts.MaxElapsed

	attempts := 0
	op := func() error {
		attempts++
		ctx, cancel := context.WithTimeout(d.jobCtx, d.opts.AttemptTimeout)
		defer cancel()
		return job.Run(ctx)
	}
	err := backoff.Retry(op, backoff.WithContext(b, d.jobCtx))

	if d.opts.Observer != nil {
		d.opts.Observer.SinkResult(job.Feed, job.Sink, time.Since(start), err)
	}
	if err != nil {
		log.Error().Err(err).
			Str("feed", job.Feed).
			Str("sink", job.Sink).
			Int("attempts", attempts).
			Msg("sink write failed")
		return
	}
	log.Debug().Str("feed", job.Feed).Str("sink", job.Sink).Int("attempts", attempts).
		Str("took", time.Since(start).String()).Msg("sink write ok")
}

// Close stops accepting jobs and waits for queued and running jobs. When
// ctx ends first, in-flight jobs are cancelled and Close returns ctx.Err().
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		d.jobCancel()
		return nil
	case <-ctx.Done():
		d.jobCancel()
		<-d.done
		return ctx.Err()
	}
}
