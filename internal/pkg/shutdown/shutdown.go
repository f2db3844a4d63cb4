// Package shutdown stops the render service in two phases. Canceling the
// root context stops background units (job monitors, provider lifecycles)
// and Shutdown waits for them; only then do cleanup handlers run, most
// recently registered first, so no unit writes job records into a store
// that is closing.
package shutdown

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"proofrender/internal/pkg/logger"
)

const defaultTimeout = 30 * time.Second

type Handler struct {
	Name    string
	Cleanup func(ctx context.Context) error
}

type Manager struct {
	log     *logger.Logger
	timeout time.Duration

	root   context.Context
	cancel context.CancelFunc
	units  sync.WaitGroup

	mu       sync.Mutex
	handlers []Handler

	once sync.Once
	done chan struct{}
}

// NewManager returns a Manager whose Shutdown gives background units and
// cleanup handlers timeout in total. Zero means 30s.
func NewManager(log *logger.Logger, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log == nil {
		log = logger.NewDiscard()
	}
	m := &Manager{
		log:     log.WithComponent("shutdown"),
		timeout: timeout,
		done:    make(chan struct{}),
	}
	m.root, m.cancel = context.WithCancel(context.Background())
	return m
}

func (m *Manager) Register(name string, cleanup func(ctx context.Context) error) {
	m.mu.Lock()
	m.handlers = append(m.handlers, Handler{Name: name, Cleanup: cleanup})
	m.mu.Unlock()
}

func (m *Manager) RegisterSimple(name string, cleanup func()) {
	m.Register(name, func(context.Context) error {
		cleanup()
		return nil
	})
}

// Context is canceled when shutdown begins.
func (m *Manager) Context() context.Context {
	return m.root
}

// Go runs fn as a background unit. Shutdown cancels ctx and waits for fn
// to return before running any cleanup handler.
func (m *Manager) Go(name string, fn func(ctx context.Context)) {
	m.units.Add(1)
	go func() {
		defer m.units.Done()
		fn(m.root)
		m.log.Debug("background unit exited", "name", name)
	}()
}

// Wait blocks until SIGINT, SIGTERM or SIGHUP and then shuts down.
func (m *Manager) Wait() {
	m.WaitWithContext(context.Background())
}

// WaitWithContext is Wait that also shuts down when ctx ends.
func (m *Manager) WaitWithContext(ctx context.Context) {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()
	<-sigCtx.Done()

	if ctx.Err() != nil {
		m.log.Info("context ended, shutting down")
	} else {
		m.log.Info("signal received, shutting down")
	}
	m.Shutdown()
}

// Shutdown is idempotent; later calls return immediately.
func (m *Manager) Shutdown() {
	m.once.Do(m.run)
}

func (m *Manager) Done() <-chan struct{} {
	return m.done
}

func (m *Manager) run() {
	defer close(m.done)
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.cancel()
	if !waitCtx(ctx, m.units.Wait) {
		m.log.Warn("background units still running at deadline")
	}

	m.mu.Lock()
	handlers := append([]Handler(nil), m.handlers...)
	m.mu.Unlock()

	finished := waitCtx(ctx, func() {
		for i := len(handlers) - 1; i >= 0; i-- {
			m.cleanup(ctx, handlers[i])
		}
	})
	if !finished {
		m.log.Warn("shutdown deadline exceeded", "timeout", m.timeout.String())
		return
	}
	m.log.Info("shutdown complete", "handlers", len(handlers), "duration_ms", time.Since(start).Milliseconds())
}

func (m *Manager) cleanup(ctx context.Context, h Handler) {
	if err := h.Cleanup(ctx); err != nil {
		m.log.Error("cleanup failed", "name", h.Name, "error", err.Error())
		return
	}
	m.log.Debug("cleanup done", "name", h.Name)
}

// waitCtx runs fn and reports whether it returned before ctx ended.
func waitCtx(ctx context.Context, fn func()) bool {
	ch := make(chan struct{})
	go func() {
		fn()
		close(ch)
	}()
	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	}
}
