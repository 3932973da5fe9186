// Package eventloop provides the single "UI thread" a map session runs on.
//
// Map surfaces and the controllers that drive them are not safe for
// concurrent use. Every mutation happens inside a task executed by the
// loop goroutine; network work runs elsewhere and posts its result back.
package eventloop

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Dispatcher schedules work onto the loop.
type Dispatcher interface {
	// Post queues fn to run on the loop goroutine.
	Post(fn func())
	// Go runs work on its own goroutine and posts the continuation it
	// returns back onto the loop. A nil continuation is ignored.
	Go(work func(ctx context.Context) func())
}

// Loop executes posted tasks one at a time, in post order.
type Loop struct {
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	pending int // queued tasks + running task + outstanding Go work
	closed  bool
	done    chan struct{}
}

// New starts a loop. Call Close to stop it.
func New(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loop{
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

// Post queues fn. Posting to a closed loop drops the task.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.queue = append(l.queue, fn)
	l.pending++
	l.cond.Broadcast()
}

// Go runs work off-loop and posts its continuation. The context is
// cancelled when the loop closes.
func (l *Loop) Go(work func(ctx context.Context) func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.pending++
	l.mu.Unlock()

	go func() {
		defer l.finish()
		next := l.safeWork(work)
		if next != nil {
			l.Post(next)
		}
	}()
}

// Sync posts fn and blocks until it has run. It must not be called from the
// loop goroutine itself.
func (l *Loop) Sync(fn func()) {
	ran := make(chan struct{})
	l.Post(func() {
		defer close(ran)
		fn()
	})
	select {
	case <-ran:
	case <-l.done:
	}
}

// Idle blocks until no task is queued or running and no Go work is outstanding.
func (l *Loop) Idle() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.pending > 0 && !l.closed {
		l.cond.Wait()
	}
}

// Close stops the loop after the running task finishes. Queued tasks are dropped.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.queue = nil
	l.cond.Broadcast()
	l.mu.Unlock()

	l.cancel()
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.cond.Wait()
		}
		if l.closed {
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.safeRun(fn)
		l.finish()
	}
}

func (l *Loop) finish() {
	l.mu.Lock()
	l.pending--
	l.cond.Broadcast()
	l.mu.Unlock()
}

// safeRun keeps one failing handler from taking the session down.
func (l *Loop) safeRun(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("event loop task panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

func (l *Loop) safeWork(work func(ctx context.Context) func()) (next func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("event loop background work panicked", "panic", fmt.Sprint(r))
			next = nil
		}
	}()
	return work(l.ctx)
}
