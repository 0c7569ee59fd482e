package runner

import (
	"context"
	"sync"
)

// CleanupFunc performs one cleanup step during shutdown.
type CleanupFunc func(ctx context.Context) error

type cleanupEntry struct {
	name string
	fn   CleanupFunc
}

// ShutdownManager coordinates graceful shutdown of a continuous-run
// loop: it lets an in-flight syncengine.Run finish (or be cancelled
// cleanly) before the embedding process exits, then runs cleanup steps
// in LIFO order.
type ShutdownManager struct {
	mu       sync.Mutex
	cleanups []cleanupEntry
	done     bool
	ctx      context.Context
	cancel   context.CancelFunc
	once     sync.Once
}

// NewShutdownManager creates a ShutdownManager whose Context is
// cancelled the moment Shutdown is called.
func NewShutdownManager() *ShutdownManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &ShutdownManager{ctx: ctx, cancel: cancel}
}

// RegisterCleanup registers fn to run during Shutdown. Cleanups run in
// LIFO order: the most recently registered runs first.
func (m *ShutdownManager) RegisterCleanup(name string, fn CleanupFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups = append(m.cleanups, cleanupEntry{name: name, fn: fn})
}

// Context returns a context cancelled as soon as Shutdown is called,
// so an in-flight Run can observe it and stop cleanly.
func (m *ShutdownManager) Context() context.Context {
	return m.ctx
}

// Shutdown cancels the manager's context and runs every registered
// cleanup in LIFO order, stopping at the first one to return an error.
// Safe to call more than once; only the first call has effect.
func (m *ShutdownManager) Shutdown(ctx context.Context) error {
	var err error
	m.once.Do(func() {
		m.mu.Lock()
		m.done = true
		cleanups := make([]cleanupEntry, len(m.cleanups))
		copy(cleanups, m.cleanups)
		m.mu.Unlock()

		m.cancel()

		for i := len(cleanups) - 1; i >= 0; i-- {
			if cerr := cleanups[i].fn(ctx); cerr != nil {
				err = cerr
				return
			}
		}
	})
	return err
}

// IsShutdown reports whether Shutdown has been called.
func (m *ShutdownManager) IsShutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}
