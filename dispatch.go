package lattix

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Dispatcher defaults, sized for one worker per active conversation.
const (
	DefaultDispatcherWorkers = 10
	DefaultDispatcherQueue   = 100
	DefaultShutdownGrace     = 60 * time.Second
)

// task is one queued unit of background work.
type task struct {
	conversationID string
	fn             func(ctx context.Context)
}

// Dispatcher runs background conversation workers from a bounded pool.
// Concurrency is capped by a weighted semaphore; excess submissions wait in
// a bounded queue and Submit fails fast with ErrQueueFull beyond that.
// Inside one worker the agent loop is strictly sequential.
type Dispatcher struct {
	name     string
	queue    chan task
	sem      *semaphore.Weighted
	logger   *slog.Logger
	wg       sync.WaitGroup // in-flight workers
	loopDone chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	grace    time.Duration
	mu       sync.Mutex
	stopped  bool
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// DispatcherWorkers caps concurrent workers (default 10).
func DispatcherWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// DispatcherQueue sets the pending-task queue depth (default 100).
func DispatcherQueue(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan task, n)
		}
	}
}

// DispatcherGrace sets the shutdown grace window (default 60s).
func DispatcherGrace(grace time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.grace = grace }
}

// DispatcherLogger sets the structured logger.
func DispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher creates and starts a named pool. The name appears in logs
// for debugging.
func NewDispatcher(name string, opts ...DispatcherOption) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		name:     name,
		queue:    make(chan task, DefaultDispatcherQueue),
		sem:      semaphore.NewWeighted(DefaultDispatcherWorkers),
		grace:    DefaultShutdownGrace,
		ctx:      ctx,
		cancel:   cancel,
		loopDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = nopLogger
	}
	go d.loop()
	return d
}

// Submit enqueues background work for a conversation. Fails with
// ErrQueueFull when the queue is saturated, and with an error after
// shutdown has begun.
func (d *Dispatcher) Submit(conversationID string, fn func(ctx context.Context)) error {
	d.mu.Lock()
	stopped := d.stopped
	d.mu.Unlock()
	if stopped {
		return fmt.Errorf("dispatcher %s is shutting down", d.name)
	}
	select {
	case d.queue <- task{conversationID: conversationID, fn: fn}:
		return nil
	default:
		return ErrQueueFull
	}
}

// loop hands queued tasks to worker goroutines. The worker slot is
// acquired before the dequeue, so tasks stay in the bounded queue while
// every worker is busy and Submit keeps its fail-fast contract.
func (d *Dispatcher) loop() {
	defer close(d.loopDone)
	for {
		if err := d.sem.Acquire(d.ctx, 1); err != nil {
			return
		}
		select {
		case <-d.ctx.Done():
			d.sem.Release(1)
			return
		case t := <-d.queue:
			d.wg.Add(1)
			go func(t task) {
				defer d.wg.Done()
				defer d.sem.Release(1)
				defer func() {
					if p := recover(); p != nil {
						d.logger.Error("worker panic",
							"pool", d.name, "conversation", t.conversationID, "panic", fmt.Sprint(p))
					}
				}()
				t.fn(d.ctx)
			}(t)
		}
	}
}

// Shutdown stops intake and waits for in-flight workers up to the grace
// window (workers observe cancellation through their context). Returns an
// error when the grace window expires with workers still running.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	grace := time.NewTimer(d.grace)
	defer grace.Stop()

	// Let running workers finish; cancel them only when the grace window
	// or the caller's context expires.
	select {
	case <-done:
		d.cancel()
		<-d.loopDone
		return nil
	case <-grace.C:
	case <-ctx.Done():
	}
	d.cancel()
	<-d.loopDone
	select {
	case <-done:
		return nil
	case <-time.After(time.Second):
		return fmt.Errorf("dispatcher %s: workers still running after grace window", d.name)
	}
}
