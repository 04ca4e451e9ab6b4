package deals

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const dealCachePrefix = "deals:deal:"

// CachedStore serves FetchDeal from Redis and drops the cached snapshot on
// every write. Redis failures degrade to the inner store.
type CachedStore struct {
	inner  Store
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewCachedStore wraps inner with a Redis snapshot cache.
func NewCachedStore(inner Store, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedStore {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedStore{inner: inner, client: client, ttl: ttl, logger: logger}
}

func cacheKey(id uuid.UUID) string {
	return dealCachePrefix + id.String()
}

// FetchDeal returns the cached snapshot or loads it once for concurrent callers.
func (c *CachedStore) FetchDeal(ctx context.Context, id uuid.UUID) (*Deal, error) {
	if c.client == nil {
		return c.inner.FetchDeal(ctx, id)
	}
	key := cacheKey(id)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var d Deal
		if err := json.Unmarshal(payload, &d); err == nil {
			return &d, nil
		}
		c.logger.Warn("discarding undecodable deal snapshot", slog.String("key", key))
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("deal cache read failed", slog.String("key", key), slog.Any("error", err))
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		d, err := c.inner.FetchDeal(ctx, id)
		if err != nil {
			return nil, err
		}
		c.put(ctx, d)
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	// Callers own the returned deal; never share the singleflight result.
	return v.(*Deal).Clone(), nil
}

// UpdateDeal delegates and refreshes the snapshot.
func (c *CachedStore) UpdateDeal(ctx context.Context, id uuid.UUID, patch DealPatch) (*Deal, error) {
	d, err := c.inner.UpdateDeal(ctx, id, patch)
	return c.afterWrite(ctx, id, d, err)
}

// ProgressStage delegates and refreshes the snapshot.
func (c *CachedStore) ProgressStage(ctx context.Context, id uuid.UUID, req StageRequest) (*Deal, error) {
	d, err := c.inner.ProgressStage(ctx, id, req)
	return c.afterWrite(ctx, id, d, err)
}

// RecordPayment delegates and refreshes the snapshot.
func (c *CachedStore) RecordPayment(ctx context.Context, id uuid.UUID, req PaymentRequest) (*Deal, error) {
	d, err := c.inner.RecordPayment(ctx, id, req)
	return c.afterWrite(ctx, id, d, err)
}

// CreatePaymentSchedule delegates and invalidates.
func (c *CachedStore) CreatePaymentSchedule(ctx context.Context, id uuid.UUID, req ScheduleRequest) error {
	err := c.inner.CreatePaymentSchedule(ctx, id, req)
	c.invalidate(ctx, id)
	return err
}

// CreateNote delegates and invalidates.
func (c *CachedStore) CreateNote(ctx context.Context, id uuid.UUID, req NoteRequest) error {
	err := c.inner.CreateNote(ctx, id, req)
	c.invalidate(ctx, id)
	return err
}

// CreateDocument delegates and invalidates.
func (c *CachedStore) CreateDocument(ctx context.Context, id uuid.UUID, req DocumentRequest) error {
	err := c.inner.CreateDocument(ctx, id, req)
	c.invalidate(ctx, id)
	return err
}

// CompleteDeal delegates and invalidates.
func (c *CachedStore) CompleteDeal(ctx context.Context, id uuid.UUID, req CompleteRequest) error {
	err := c.inner.CompleteDeal(ctx, id, req)
	c.invalidate(ctx, id)
	return err
}

// CancelDeal delegates and invalidates.
func (c *CachedStore) CancelDeal(ctx context.Context, id uuid.UUID, req CancelRequest) error {
	err := c.inner.CancelDeal(ctx, id, req)
	c.invalidate(ctx, id)
	return err
}

// afterWrite drops the snapshot on failure (the outcome may be unknown) and
// caches the confirmed deal on success.
func (c *CachedStore) afterWrite(ctx context.Context, id uuid.UUID, d *Deal, err error) (*Deal, error) {
	if err != nil {
		c.invalidate(ctx, id)
		return nil, err
	}
	c.put(ctx, d)
	return d, nil
}

func (c *CachedStore) put(ctx context.Context, d *Deal) {
	if c.client == nil || d == nil {
		return
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(d.ID), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("deal cache write failed", slog.String("deal_id", d.ID.String()), slog.Any("error", err))
	}
}

func (c *CachedStore) invalidate(ctx context.Context, id uuid.UUID) {
	if c.client == nil {
		return
	}
	if err := c.client.Del(ctx, cacheKey(id)).Err(); err != nil {
		c.logger.Warn("deal cache invalidate failed", slog.String("deal_id", id.String()), slog.Any("error", err))
	}
}
