package executor

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// MemoryLockManager implements domain.LockManager with in-process mutexes
// keyed by symbol. It is the default for single-instance deployments; a
// multi-instance deployment swaps in the Redis lock manager.
type MemoryLockManager struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewMemoryLockManager creates an empty MemoryLockManager.
func NewMemoryLockManager() *MemoryLockManager {
	return &MemoryLockManager{held: make(map[string]bool)}
}

// Acquire takes the lock for key, returning domain.ErrLockHeld immediately
// when another execution holds it. The ttl is ignored: in-process locks
// cannot outlive their holder.
func (m *MemoryLockManager) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.held[key] {
		return nil, domain.ErrLockHeld
	}
	m.held[key] = true

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, key)
			m.mu.Unlock()
		})
	}
	return unlock, nil
}
