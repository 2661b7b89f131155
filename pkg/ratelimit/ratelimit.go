package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

// Window is the period over which a client's token budget is counted.
const Window = time.Minute

// Limiter charges generation token budgets per client using github.com/vnmchuo/ratelimiter.
type Limiter struct {
	store extratelimit.Limiter
}

func NewLimiter(rdb *redis.Client, tokensPerMinute int64) *Limiter {
	store := extratelimit.NewRedisStore(rdb,
		extratelimit.WithLimit(int(tokensPerMinute)),
		extratelimit.WithWindow(Window),
	)
	return &Limiter{store: store}
}

func NewTestLimiter(store extratelimit.Limiter) *Limiter {
	return &Limiter{store: store}
}

func key(clientID string) string {
	return fmt.Sprintf("ratelimit:client:%s", clientID)
}

// Allow charges tokens against the client's budget. A nil Limiter allows everything.
func (l *Limiter) Allow(ctx context.Context, clientID string, tokens int) (bool, error) {
	if l == nil {
		return true, nil
	}
	res, err := l.store.AllowN(ctx, key(clientID), tokens)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

func (l *Limiter) Status(ctx context.Context, clientID string) (*extratelimit.Result, error) {
	if l == nil {
		return &extratelimit.Result{Allowed: true}, nil
	}
	return l.store.Status(ctx, key(clientID))
}
