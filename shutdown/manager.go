// Package shutdown coordinates graceful teardown of the backend: the HTTP
// server drains first, then the history writer flushes, then the
// database closes, and finally stale photo uploads are swept.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"pawprints_backend/core"

	"go.uber.org/zap"
)

// DefaultTimeout bounds the whole teardown sequence.
const DefaultTimeout = 60 * time.Second

// hook is one registered teardown step. Lower priority runs first.
type hook struct {
	name     string
	priority int
	fn       core.ShutdownFunc
}

// Manager owns the process lifecycle context and an ordered list of
// teardown hooks. The first SIGINT/SIGTERM cancels the context so the run
// loop can call Shutdown; a second signal exits immediately.
//
// The wiring in main registers, in priority order: the HTTP server (10),
// the history writer (30), the database (35), and the stale-upload
// sweep (45).
//
// Thread Safety: safe for concurrent use.
type Manager struct {
	logger  *zap.Logger
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	sigChan   chan os.Signal
	forceExit func() // second-signal behavior, replaceable in tests

	mu       sync.Mutex
	hooks    []hook
	started  bool
	finished bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTimeout bounds the teardown sequence. Default is DefaultTimeout.
func WithTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		m.timeout = timeout
	}
}

// NewManager creates a Manager. The logger is required.
func NewManager(logger *zap.Logger, opts ...ManagerOption) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		logger:    logger,
		timeout:   DefaultTimeout,
		ctx:       ctx,
		cancel:    cancel,
		sigChan:   make(chan os.Signal, 1),
		forceExit: func() { os.Exit(1) },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Context returns the lifecycle context. It is cancelled by the first
// shutdown signal or by Shutdown itself; long-running components (the
// database retention scheduler, the run loop) watch it.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Register adds a teardown hook. Lower priority values run earlier.
// Registration after Shutdown has begun is dropped with a warning.
func (m *Manager) Register(name string, priority int, fn core.ShutdownFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.finished {
		m.logger.Warn("Teardown hook registered after shutdown, dropping",
			zap.String("name", name))
		return
	}

	m.hooks = append(m.hooks, hook{name: name, priority: priority, fn: fn})
	m.logger.Debug("Teardown hook registered",
		zap.String("name", name),
		zap.Int("priority", priority))
}

// Hooks returns the registered hook names in execution order.
func (m *Manager) Hooks() []string {
	m.mu.Lock()
	ordered := m.ordered()
	m.mu.Unlock()

	names := make([]string, len(ordered))
	for i, h := range ordered {
		names[i] = h.name
	}
	return names
}

// Start installs the signal handler. The first SIGINT or SIGTERM cancels
// the lifecycle context; a second one forces an immediate exit. Safe to
// call more than once.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return
	}
	m.started = true

	signal.Notify(m.sigChan, os.Interrupt, syscall.SIGTERM)
	go m.watchSignals()

	m.logger.Info("Shutdown manager listening for signals")
}

// watchSignals runs until the signal channel is closed by Shutdown.
func (m *Manager) watchSignals() {
	received := 0
	for sig := range m.sigChan {
		received++
		if received == 1 {
			m.logger.Info("Shutdown signal received",
				zap.String("signal", sig.String()))
			m.cancel()
			continue
		}
		m.logger.Warn("Second signal received, exiting immediately",
			zap.String("signal", sig.String()))
		m.forceExit()
	}
}

// Shutdown cancels the lifecycle context and runs every registered hook in
// priority order under one shared deadline. Every hook runs even when an
// earlier one fails; the first error is returned after all have run.
// Subsequent calls are no-ops.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.finished {
		m.mu.Unlock()
		return nil
	}
	m.finished = true
	ordered := m.ordered()
	started := m.started
	m.mu.Unlock()

	m.cancel()
	startTime := time.Now()
	m.logger.Info("Shutting down",
		zap.Duration("timeout", m.timeout),
		zap.Int("hooks", len(ordered)))

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var firstErr error
	for _, h := range ordered {
		hookStart := time.Now()
		if err := h.fn(ctx); err != nil {
			m.logger.Error("Teardown hook failed",
				zap.String("name", h.name),
				zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("shutdown hook %s: %w", h.name, err)
			}
			continue
		}
		m.logger.Debug("Teardown hook finished",
			zap.String("name", h.name),
			zap.Duration("took", time.Since(hookStart)))
	}

	if started {
		signal.Stop(m.sigChan)
		close(m.sigChan)
	}

	m.logger.Info("Shutdown complete",
		zap.Duration("duration", time.Since(startTime)),
		zap.Bool("clean", firstErr == nil))
	return firstErr
}

// ordered returns the hooks sorted by priority, ties in registration
// order. Callers must hold the lock.
func (m *Manager) ordered() []hook {
	out := make([]hook, len(m.hooks))
	copy(out, m.hooks)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].priority < out[j].priority
	})
	return out
}
