// Package uiqueue provides the single serial execution context every status
// handler marshals its work onto before touching listener state or emitting.
package uiqueue

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"go2tv.app/castbridge/internal/metrics"
)

const DefaultSize = 256

var (
	ErrQueueFull   = errors.New("uiqueue: queue is full")
	ErrQueueClosed = errors.New("uiqueue: queue is closed")
)

// Queue runs posted tasks one at a time, in posting order, on the goroutine
// that called Run.
type Queue struct {
	tasks  chan func()
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	log    zerolog.Logger
}

// New creates a queue buffering up to size pending tasks.
func New(size int, logger zerolog.Logger) *Queue {
	if size <= 0 {
		size = DefaultSize
	}
	return &Queue{
		tasks: make(chan func(), size),
		done:  make(chan struct{}),
		log:   logger.With().Str("Component", "uiqueue").Logger(),
	}
}

// Post enqueues task without blocking.
func (q *Queue) Post(task func()) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.QueueRejectedTotal.WithLabelValues("closed").Inc()
		return ErrQueueClosed
	}

	select {
	case q.tasks <- task:
		return nil
	default:
		metrics.QueueRejectedTotal.WithLabelValues("full").Inc()
		return ErrQueueFull
	}
}

// Run executes tasks until ctx is done. Tasks still pending at that point
// are discarded. Run must be called once.
func (q *Queue) Run(ctx context.Context) {
	q.log.Debug().Str("Method", "Run").Msg("queue started")
	defer func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.done)
		q.log.Debug().Str("Method", "Run").Int("Discarded", len(q.tasks)).Msg("queue stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-q.tasks:
			q.exec(task)
		}
	}
}

func (q *Queue) exec(task func()) {
	defer func() {
		if r := recover(); r != nil {
			metrics.QueueTaskPanicsTotal.Inc()
			q.log.Error().Str("Method", "exec").Interface("Panic", r).Msg("task panicked")
		}
	}()
	task()
}

// Flush blocks until every task posted before the call has run.
func (q *Queue) Flush(ctx context.Context) error {
	reached := make(chan struct{})

	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return ErrQueueClosed
	}
	q.mu.RUnlock()

	select {
	case q.tasks <- func() { close(reached) }:
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-reached:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once Run has returned.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}
