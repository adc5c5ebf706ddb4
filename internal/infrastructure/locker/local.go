package locker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"FeeSync/internal/domain"
	"FeeSync/internal/ports"
)

type localEntry struct {
	token   string
	expires time.Time
}

// LocalLocker is a process-local ports.Locker with the same expiry semantics
// as RedisLocker.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]localEntry
	now   func() time.Time
}

var _ ports.Locker = (*LocalLocker)(nil)

// NewLocalLocker returns an empty lock table.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]localEntry), now: time.Now}
}

func (l *LocalLocker) TryLock(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if entry, held := l.locks[key]; held && (entry.expires.IsZero() || now.Before(entry.expires)) {
		return "", false, nil
	}

	entry := localEntry{token: uuid.NewString()}
	if ttl > 0 {
		entry.expires = now.Add(ttl)
	}
	l.locks[key] = entry
	return entry.token, true, nil
}

func (l *LocalLocker) Unlock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, held := l.locks[key]
	if !held || entry.token != token {
		return fmt.Errorf("%w: %s", domain.ErrLockNotHeld, key)
	}
	delete(l.locks, key)
	return nil
}
