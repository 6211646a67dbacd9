package lock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrAlreadyHeld is returned by TryAcquire when another holder owns the key.
var ErrAlreadyHeld = errors.New("lock: already held")

// Locker provides a Redis-backed distributed lock. It guards mutations that
// must not run concurrently across register instances, such as keeping a
// single in-progress transaction per session.
type Locker struct {
	R            *redis.Client
	RetryBackoff time.Duration
}

// Lease represents an acquired lock. Release is safe to call more than once;
// only the original holder deletes the key.
type Lease struct {
	locker Locker
	key    string
	token  string
}

// TryAcquire attempts to take the lock without blocking. It returns
// ErrAlreadyHeld when the key is owned by another holder.
func (l Locker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if l.R == nil {
		return nil, errors.New("lock: redis client not configured")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	token := uuid.NewString()
	ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyHeld
	}
	return &Lease{locker: l, key: key, token: token}, nil
}

// Release frees the lease. The key is only deleted when the stored token still
// matches, so an expired lease never clobbers a newer holder.
func (le *Lease) Release(ctx context.Context) {
	if le == nil || le.token == "" {
		return
	}
	le.locker.release(ctx, le.key, le.token)
	le.token = ""
}

// WithLock executes fn while holding the lock for key, retrying acquisition
// until the context is cancelled. The lock is released when fn returns,
// regardless of its error.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}

	for {
		lease, err := l.TryAcquire(ctx, key, ttl)
		if err == nil {
			defer lease.Release(context.Background())
			return fn(ctx)
		}
		if !errors.Is(err, ErrAlreadyHeld) {
			return err
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l Locker) release(ctx context.Context, key, token string) {
	const script = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`
	if err := l.R.Eval(ctx, script, []string{key}, token).Err(); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unknown command") {
			_ = l.R.Del(ctx, key).Err()
		}
	}
}

// SessionTxKey returns the lock key guarding the in-progress transaction for
// a register session.
func SessionTxKey(sessionID string) string {
	return "kasir:txlock:" + sessionID
}
