package lock

import (
	"context"
	"sync"
	"time"
)

// LocalLock is the single-instance Locker used when no redis address is configured.
type LocalLock struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

func NewLocalLock() *LocalLock {
	return &LocalLock{
		keys: make(map[string]time.Time),
		now:  time.Now,
	}
}

func (l *LocalLock) Lock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if exp, ok := l.keys[key]; ok && now.Before(exp) {
		return false, nil
	}

	l.keys[key] = now.Add(ttl)

	return true, nil
}

func (l *LocalLock) Unlock(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.keys, key)

	return nil
}
