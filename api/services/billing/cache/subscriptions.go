// Package cache provides a Redis read-through cache for subscription records.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tbeaudouin05/study-entitlements/api/services/billing/model"
)

const keyPrefix = "entitlements:subscription:"

// Store is the subscription store being cached.
type Store interface {
	FindByUserID(ctx context.Context, userID string) (*model.SubscriptionRecord, error)
	Save(ctx context.Context, rec *model.SubscriptionRecord) (int64, error)
	SetCancelAtPeriodEnd(ctx context.Context, userID, externalSubscriptionID string, cancel bool, at time.Time) (bool, error)
}

// Client is the subset of *redis.Client used here.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// SubscriptionCache serves FindByUserID from Redis. Reads only fill an empty
// key (SETNX); writes overwrite the key with the row re-read after the write,
// so a reader holding a pre-write row cannot replace it.
type SubscriptionCache struct {
	inner  Store
	client Client
	ttl    time.Duration
}

func NewSubscriptionCache(inner Store, client Client, ttl time.Duration) *SubscriptionCache {
	return &SubscriptionCache{inner: inner, client: client, ttl: ttl}
}

// cachedRecord wraps the record so "no subscription" can be cached too.
type cachedRecord struct {
	Record *model.SubscriptionRecord `json:"record"`
}

func key(userID string) string { return keyPrefix + userID }

func (c *SubscriptionCache) FindByUserID(ctx context.Context, userID string) (*model.SubscriptionRecord, error) {
	raw, err := c.client.Get(ctx, key(userID)).Bytes()
	switch {
	case err == nil:
		var cached cachedRecord
		if jerr := json.Unmarshal(raw, &cached); jerr == nil {
			return cached.Record, nil
		}
		slog.Warn("discarding corrupt cache entry", "user_id", userID)
		c.client.Del(ctx, key(userID))
	case !errors.Is(err, redis.Nil):
		slog.Warn("subscription cache read failed", "user_id", userID, "err", err)
	}

	rec, err := c.inner.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(cachedRecord{Record: rec})
	if err == nil {
		if serr := c.client.SetNX(ctx, key(userID), payload, c.ttl).Err(); serr != nil {
			slog.Warn("subscription cache write failed", "user_id", userID, "err", serr)
		}
	}
	return rec, nil
}

func (c *SubscriptionCache) Save(ctx context.Context, rec *model.SubscriptionRecord) (int64, error) {
	n, err := c.inner.Save(ctx, rec)
	if err != nil {
		return n, err
	}
	return n, c.refresh(ctx, rec.UserID)
}

func (c *SubscriptionCache) SetCancelAtPeriodEnd(ctx context.Context, userID, externalSubscriptionID string, cancel bool, at time.Time) (bool, error) {
	ok, err := c.inner.SetCancelAtPeriodEnd(ctx, userID, externalSubscriptionID, cancel, at)
	if err != nil || !ok {
		return ok, err
	}
	return ok, c.refresh(ctx, userID)
}

// refresh overwrites the user's key with the stored row. If the row cannot be
// read back the key is deleted instead.
func (c *SubscriptionCache) refresh(ctx context.Context, userID string) error {
	rec, err := c.inner.FindByUserID(ctx, userID)
	if err == nil {
		payload, jerr := json.Marshal(cachedRecord{Record: rec})
		if jerr == nil && c.client.Set(ctx, key(userID), payload, c.ttl).Err() == nil {
			return nil
		}
	}
	if derr := c.client.Del(ctx, key(userID)).Err(); derr != nil {
		return fmt.Errorf("invalidate subscription cache: %w", derr)
	}
	return nil
}
