package db

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// defaultQueueCapacity bounds how many history inserts can wait in the
// queue before the repository falls back to a synchronous write.
const defaultQueueCapacity = 100

// pendingInsert is a prepared history insert waiting in the queue.
type pendingInsert struct {
	query string
	args  []interface{}
}

// HistoryWriter applies generation-history inserts off the request path.
// Recording a submission must never stall a generation request behind a
// SQLite lock, so the repository enqueues the insert here and the writer
// applies it on a background goroutine. Failed inserts are logged and
// dropped; history is bookkeeping, not the source of truth for a task.
type HistoryWriter struct {
	db      *Database
	logger  *zap.Logger
	queue   chan pendingInsert
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	mu      sync.Mutex
}

// NewHistoryWriter creates a writer bound to the history database.
// A nil logger is replaced with a no-op logger.
func NewHistoryWriter(database *Database, logger *zap.Logger) *HistoryWriter {
	return newHistoryWriter(database, logger, defaultQueueCapacity)
}

func newHistoryWriter(database *Database, logger *zap.Logger, capacity int) *HistoryWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &HistoryWriter{
		db:     database,
		logger: logger,
		queue:  make(chan pendingInsert, capacity),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the background goroutine. Inserts enqueued before Start
// sit in the queue until it runs.
func (w *HistoryWriter) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return
	}
	w.started = true
	w.wg.Add(1)
	go w.run()
}

// IsStarted reports whether the background goroutine is running.
func (w *HistoryWriter) IsStarted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

// enqueue queues an insert without blocking. Returns false when the
// queue is full; the caller then writes synchronously instead.
func (w *HistoryWriter) enqueue(insert pendingInsert) bool {
	select {
	case w.queue <- insert:
		return true
	default:
		return false
	}
}

// Pending returns the number of inserts waiting in the queue.
func (w *HistoryWriter) Pending() int {
	return len(w.queue)
}

func (w *HistoryWriter) run() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			w.drain()
			return
		case insert := <-w.queue:
			w.apply(insert)
		}
	}
}

// drain applies whatever is still queued so shutdown doesn't lose
// history rows that the request path already reported as recorded.
func (w *HistoryWriter) drain() {
	for {
		select {
		case insert := <-w.queue:
			w.apply(insert)
		default:
			return
		}
	}
}

func (w *HistoryWriter) apply(insert pendingInsert) {
	if _, err := w.db.Exec(insert.query, insert.args...); err != nil {
		w.logger.Warn("history insert dropped", zap.Error(err))
	}
}

// StopWithTimeout stops the writer, waiting up to timeout for queued
// inserts to drain. Returns false when the drain did not finish in time.
func (w *HistoryWriter) StopWithTimeout(timeout time.Duration) bool {
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
