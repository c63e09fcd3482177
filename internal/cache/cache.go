// Package cache holds the read-through caches in front of computed reports.
package cache

import (
	"context"
	"log/slog"
	"time"
)

// Cache defines a generic cache interface
type Cache[T any] interface {
	// Get retrieves a value from the cache
	Get(ctx context.Context, key string) (T, bool, error)

	// Set stores a value in the cache
	Set(ctx context.Context, key string, data T) error

	// Delete removes keys from the cache
	Delete(ctx context.Context, keys ...string) error

	// Purge drops every entry
	Purge(ctx context.Context) error
}

// Manager handles cache lifecycle and cleanup
type Manager struct {
	caches      []Cleaner
	started     bool
	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

// Cleaner interface for caches that support cleanup
type Cleaner interface {
	CleanExpired() int
}

// NewManager creates a new cache manager
func NewManager() *Manager {
	return &Manager{
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
}

// Register adds a cache to the manager for cleanup. Caches without local
// state (Redis) are ignored.
func (m *Manager) Register(c any) {
	if cleaner, ok := c.(Cleaner); ok {
		m.caches = append(m.caches, cleaner)
	}
}

// StartCleanup begins periodic cleanup of all registered caches
func (m *Manager) StartCleanup(interval time.Duration) {
	m.started = true
	go m.cleanup(interval)
}

func (m *Manager) cleanup(interval time.Duration) {
	defer close(m.cleanupDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			totalCleaned := 0
			for _, c := range m.caches {
				totalCleaned += c.CleanExpired()
			}
			if totalCleaned > 0 {
				slog.Debug("Expired cache entries removed", "count", totalCleaned)
			}
		case <-m.stopCleanup:
			return
		}
	}
}

// Stop gracefully stops the cleanup routine
func (m *Manager) Stop() {
	close(m.stopCleanup)
	if m.started {
		<-m.cleanupDone
	}
}
