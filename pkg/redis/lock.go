package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrLockNotHeld means the caller's token no longer owns the lock, usually
// because the TTL ran out and someone else took it.
var ErrLockNotHeld = errors.New("lock not held")

// releaseScript deletes the lock only while it still holds the caller's token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// Locker serializes work such as charging or refunding a single order.
type Locker interface {
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, name, token string) error
}

// AcquireLock returns a fencing token when the lock was free. ok is false
// while another holder owns it.
func (c *Client) AcquireLock(ctx context.Context, name string, ttl time.Duration) (token string, ok bool, err error) {
	if c.store == nil {
		return "", false, errNotConnected
	}
	if strings.TrimSpace(name) == "" {
		return "", false, errors.New("lock name is required")
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}
	token = uuid.NewString()
	ok, err = c.store.SetNX(ctx, c.LockKey(name), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (c *Client) ReleaseLock(ctx context.Context, name, token string) error {
	if c.store == nil {
		return errNotConnected
	}
	n, err := c.store.Eval(ctx, releaseScript, []string{c.LockKey(name)}, token).Int64()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}
