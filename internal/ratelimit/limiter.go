package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// DefaultPrefix namespaces limiter keys in the store.
const DefaultPrefix = "lab:ratelimit"

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter records an event for key and reports whether it is within the limit.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Store is a fixed-window limiter over a ulule store.
type Store struct {
	limiter *limiter.Limiter
}

// NewMemory builds a process-local limiter. rate uses the "<limit>-<period>"
// format, e.g. "300-M".
func NewMemory(rate, prefix string) (*Store, error) {
	r, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("parse rate %q: %w", rate, err)
	}
	store := memory.NewStoreWithOptions(limiter.StoreOptions{
		Prefix:          prefixOrDefault(prefix),
		CleanUpInterval: limiter.DefaultCleanUpInterval,
	})
	return &Store{limiter: limiter.New(store, r)}, nil
}

// NewRedis builds a limiter shared by every replica through Redis.
func NewRedis(client *redis.Client, rate, prefix string) (*Store, error) {
	r, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("parse rate %q: %w", rate, err)
	}
	store, err := limiterredis.NewStoreWithOptions(client, limiter.StoreOptions{
		Prefix:   prefixOrDefault(prefix),
		MaxRetry: limiter.DefaultMaxRetry,
	})
	if err != nil {
		return nil, fmt.Errorf("redis limiter store: %w", err)
	}
	return &Store{limiter: limiter.New(store, r)}, nil
}

// Allow implements Limiter.
func (s *Store) Allow(ctx context.Context, key string) (Decision, error) {
	lctx, err := s.limiter.Get(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Allowed:   !lctx.Reached,
		Limit:     int(lctx.Limit),
		Remaining: int(lctx.Remaining),
		ResetAt:   time.Unix(lctx.Reset, 0),
	}, nil
}

func prefixOrDefault(prefix string) string {
	if prefix == "" {
		return DefaultPrefix
	}
	return prefix
}
