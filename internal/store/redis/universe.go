package redis

import (
	"context"
	"fmt"
	"sort"

	goredis "github.com/go-redis/redis/v8"

	"analytics-enginev1/internal/model"
)

// UniverseSets resolves universes stored as Redis sets under
// "<namespace>:<id>".
type UniverseSets struct {
	rdb       *goredis.Client
	namespace string
	breaker   *CircuitBreaker
}

// NewUniverseSets returns a universe supplier over rdb. An empty namespace defaults to "universe".
func NewUniverseSets(rdb *goredis.Client, namespace string, cb *CircuitBreaker) *UniverseSets {
	if namespace == "" {
		namespace = "universe"
	}
	return &UniverseSets{rdb: rdb, namespace: namespace, breaker: cb}
}

// ListUniverse implements model.UniverseSupplier. Members are returned
// sorted because Redis sets are unordered. An empty or missing set is an
// unknown universe.
func (u *UniverseSets) ListUniverse(ctx context.Context, id string) ([]string, error) {
	var members []string
	err := u.do(ctx, func(ctx context.Context) error {
		var err error
		members, err = u.rdb.SMembers(ctx, u.key(id)).Result()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: universe %s: %v", model.ErrUpstreamFetch, id, err)
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: unknown universe %q", model.ErrInvalidParameter, id)
	}
	sort.Strings(members)
	return members, nil
}

// Add inserts instruments into the universe set.
func (u *UniverseSets) Add(ctx context.Context, id string, instruments ...string) error {
	if len(instruments) == 0 {
		return nil
	}
	args := make([]interface{}, len(instruments))
	for i, s := range instruments {
		args[i] = s
	}
	return u.do(ctx, func(ctx context.Context) error {
		return u.rdb.SAdd(ctx, u.key(id), args...).Err()
	})
}

func (u *UniverseSets) key(id string) string { return u.namespace + ":" + safe(id) }

func (u *UniverseSets) do(ctx context.Context, fn func(ctx context.Context) error) error {
	if u.breaker == nil {
		return fn(ctx)
	}
	return u.breaker.Execute(ctx, fn)
}
