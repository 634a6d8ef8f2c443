// Package lock provides expiring crawl leases. A crashed holder blocks a
// source only until its lease expires.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
)

// TokenSource mints lease ownership tokens.
type TokenSource interface {
	NewToken() (string, error)
}

// Memory is an in-process LockManager for single-instance deployments.
type Memory struct {
	mu     sync.Mutex
	leases map[string]memoryLease
	now    func() time.Time
	seq    uint64
}

type memoryLease struct {
	token   uint64
	expires time.Time
}

// NewMemory builds an empty Memory lock manager.
func NewMemory() *Memory {
	return &Memory{leases: map[string]memoryLease{}, now: time.Now}
}

// TryAcquire implements crawler.LockManager.
func (m *Memory) TryAcquire(_ context.Context, key string, ttl time.Duration) (crawler.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if held, ok := m.leases[key]; ok && now.Before(held.expires) {
		return nil, crawler.ErrLockHeld
	}
	m.seq++
	m.leases[key] = memoryLease{token: m.seq, expires: now.Add(ttl)}
	return &memoryHandle{m: m, key: key, token: m.seq}, nil
}

type memoryHandle struct {
	m     *Memory
	key   string
	token uint64
	once  sync.Once
}

// Release drops the lease if this handle still owns it.
func (h *memoryHandle) Release(context.Context) error {
	h.once.Do(func() {
		h.m.mu.Lock()
		defer h.m.mu.Unlock()
		if held, ok := h.m.leases[h.key]; ok && held.token == h.token {
			delete(h.m.leases, h.key)
		}
	})
	return nil
}
