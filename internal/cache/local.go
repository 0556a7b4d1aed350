// Package cache provides the small TTL caches the sync engine leans on:
// team-membership lookups and ranked search windows. A local in-process
// tier is always available; a Redis tier can sit in front of it when
// several server replicas share one tenant.
package cache

import (
	"context"
	"sync"
	"time"
)

// Cache stores string-slice values with a per-entry TTL.
type Cache interface {
	GetStrings(ctx context.Context, key string) ([]string, bool)
	SetStrings(ctx context.Context, key string, values []string, ttl time.Duration)
	Delete(ctx context.Context, key string)
}

type localItem struct {
	values    []string
	expiresAt time.Time
}

// Local is an in-memory Cache with background expiry.
type Local struct {
	mu     sync.RWMutex
	items  map[string]localItem
	stopCh chan struct{}
}

// NewLocal creates a local cache. cleanupInterval bounds how long
// expired entries linger; reads never return them either way.
func NewLocal(cleanupInterval time.Duration) *Local {
	l := &Local{
		items:  make(map[string]localItem),
		stopCh: make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go l.cleanupLoop(cleanupInterval)
	}
	return l
}

func (l *Local) GetStrings(_ context.Context, key string) ([]string, bool) {
	l.mu.RLock()
	item, ok := l.items[key]
	l.mu.RUnlock()
	if !ok || time.Now().After(item.expiresAt) {
		misses.WithLabelValues("local").Inc()
		return nil, false
	}
	hits.WithLabelValues("local").Inc()
	out := make([]string, len(item.values))
	copy(out, item.values)
	return out, true
}

func (l *Local) SetStrings(_ context.Context, key string, values []string, ttl time.Duration) {
	cp := make([]string, len(values))
	copy(cp, values)
	l.mu.Lock()
	l.items[key] = localItem{values: cp, expiresAt: time.Now().Add(ttl)}
	l.mu.Unlock()
}

func (l *Local) Delete(_ context.Context, key string) {
	l.mu.Lock()
	delete(l.items, key)
	l.mu.Unlock()
}

// Stop terminates the cleanup goroutine.
func (l *Local) Stop() {
	close(l.stopCh)
}

func (l *Local) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			l.mu.Lock()
			for k, item := range l.items {
				if now.After(item.expiresAt) {
					delete(l.items, k)
				}
			}
			l.mu.Unlock()
		}
	}
}
