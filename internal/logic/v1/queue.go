package v1

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Queue is the best-effort reconciliation channel. Tasks run one at a time on
// a single worker with a Background context; their errors are logged and
// dropped. Submit never blocks: when the buffer is full the task is discarded,
// which is safe for cart pushes because each one carries the full line list.
type Queue struct {
	tasks chan task

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

type task struct {
	name string
	run  func(ctx context.Context) error
}

// NewQueue starts a worker consuming up to size pending tasks.
func NewQueue(size int) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		tasks:  make(chan task, size),
		ctx:    Background(ctx),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go q.work()
	return q
}

// Submit enqueues fn. It reports false when the queue is closed or full.
func (q *Queue) Submit(name string, fn func(ctx context.Context) error) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		log.Debug().Str("task", name).Msg("Queue closed, dropping task")
		return false
	}

	select {
	case q.tasks <- task{name: name, run: fn}:
		return true
	default:
		log.Warn().Str("task", name).Msg("Queue full, dropping task")
		return false
	}
}

// Close stops accepting tasks and waits for pending ones to finish. When ctx
// expires first, the running task's context is cancelled and Close returns
// ctx.Err() after the worker exits.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-q.done
		return ctx.Err()
	}
}

func (q *Queue) work() {
	defer close(q.done)
	for t := range q.tasks {
		if q.ctx.Err() != nil {
			continue
		}
		if err := q.run(t); err != nil {
			log.Warn().Err(err).Str("task", t.name).Msg("Background task failed")
		}
	}
}

func (q *Queue) run(t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.run(q.ctx)
}
