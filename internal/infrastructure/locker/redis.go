package locker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"FeeSync/internal/domain"
	"FeeSync/internal/ports"
)

// unlockScript deletes the key only while it still holds the caller's token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements ports.Locker with SET NX and an owner token.
type RedisLocker struct {
	client redis.UniversalClient
	logger *slog.Logger
}

var _ ports.Locker = (*RedisLocker)(nil)

// NewRedisLocker wraps an existing client.
func NewRedisLocker(client redis.UniversalClient, logger *slog.Logger) *RedisLocker {
	return &RedisLocker{client: client, logger: logger}
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	acquired, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	if !acquired {
		l.logger.Debug("lock busy", "key", key)
		return "", false, nil
	}
	l.logger.Debug("lock acquired", "key", key, "ttl", ttl)
	return token, true, nil
}

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	deleted, err := unlockScript.Run(ctx, l.client, []string{key}, token).Int()
	if err != nil {
		return fmt.Errorf("redis unlock %s: %w", key, err)
	}
	if deleted == 0 {
		return fmt.Errorf("%w: %s", domain.ErrLockNotHeld, key)
	}
	return nil
}
