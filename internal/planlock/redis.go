package planlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLockNotHeld is returned when releasing a lock that expired or was
// taken over by another holder.
var ErrLockNotHeld = errors.New("lock not held")

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Redis is a Locker shared by every process using the same Redis.
type Redis struct {
	rdb       *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewRedis creates a Redis locker. ttl bounds how long a crashed holder
// can keep a plan locked.
func NewRedis(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Redis {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{rdb: rdb, keyPrefix: "menu-planner:lock:", ttl: ttl, logger: logger}
}

// NewRedisFromURL connects to redisURL (redis://...) and checks the
// connection.
func NewRedisFromURL(ctx context.Context, redisURL string, ttl time.Duration, logger *zap.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	return NewRedis(rdb, ttl, logger), nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := r.keyPrefix + key
	token := uuid.NewString()
	backoff := 10 * time.Millisecond

	for {
		ok, err := r.rdb.SetNX(ctx, lockKey, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
			backoff = min(backoff*2, 500*time.Millisecond)
		}
	}

	return func() {
		relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.release(relCtx, lockKey, token); err != nil {
			r.logger.Warn("failed to release plan lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

func (r *Redis) release(ctx context.Context, lockKey, token string) error {
	n, err := releaseScript.Run(ctx, r.rdb, []string{lockKey}, token).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// New returns a Redis locker when redisURL is set and a process-local one
// otherwise. The returned func closes the underlying connection.
func New(ctx context.Context, redisURL string, logger *zap.Logger) (Locker, func() error, error) {
	if redisURL == "" {
		return NewLocal(), func() error { return nil }, nil
	}
	r, err := NewRedisFromURL(ctx, redisURL, 0, logger)
	if err != nil {
		return nil, nil, err
	}
	return r, r.Close, nil
}
