package memory

import (
	"context"
	"sync"
	"time"

	"boardsync/application/compaction"
)

// CompactionLock is an in-process implementation of
// compaction.Locker for single-instance deployments. Entries expire
// so a crashed holder cannot wedge a document forever.
type CompactionLock struct {
	mu   sync.Mutex
	held map[string]time.Time
	ttl  time.Duration

	now func() time.Time
}

// NewCompactionLock creates an in-process lock with the given
// expiry duration.
func NewCompactionLock(ttl time.Duration) *CompactionLock {
	return &CompactionLock{
		held: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Acquire takes the lock for key, returning compaction.ErrLockHeld
// when another caller holds an unexpired lock on it.
func (l *CompactionLock) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if expiry, ok := l.held[key]; ok && now.Before(expiry) {
		return nil, compaction.ErrLockHeld
	}
	l.held[key] = now.Add(l.ttl)

	release := func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}
	return release, nil
}
