package payherewebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agromart/agromart-backend/pkg/payhere"
	"github.com/agromart/agromart-backend/pkg/redis"
)

// DedupScope namespaces payment outcome keys in Redis. Card charges share it
// so a charge result and its notify callback are applied once between them.
const DedupScope = "payhere-notify"

// DedupKey identifies one gateway outcome for an order.
func DedupKey(gatewayOrderID string, code payhere.StatusCode) string {
	return fmt.Sprintf("%s:%d", gatewayOrderID, int(code))
}

// IdempotencyGuard marks payment outcomes as seen for a TTL window.
type IdempotencyGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

func NewIdempotencyGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &IdempotencyGuard{
		store: store,
		ttl:   ttl,
		scope: scope,
	}, nil
}

// CheckAndMark reports whether key was already marked, marking it otherwise.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("dedup key is required")
	}
	set, err := g.store.SetNX(ctx, g.store.IdempotencyKey(g.scope, key), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set idempotency key: %w", err)
	}
	return !set, nil
}

// Delete forgets key so a gateway retry can be applied again.
func (g *IdempotencyGuard) Delete(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("dedup key is required")
	}
	return g.store.Del(ctx, g.store.IdempotencyKey(g.scope, key))
}
