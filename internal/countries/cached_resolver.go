package countries

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/appointment-saga/internal/saga"
	"github.com/wolfman30/appointment-saga/pkg/logging"
)

const scheduleKeyPrefix = "schedule:"

// CachedResolver is a Redis read-through cache in front of another resolver.
// Cache failures degrade to the inner resolver; not-found answers are never
// cached.
type CachedResolver struct {
	inner  ScheduleResolver
	redis  redis.Cmdable
	ttl    time.Duration
	logger *logging.Logger
}

var _ ScheduleResolver = (*CachedResolver)(nil)

func NewCachedResolver(inner ScheduleResolver, client redis.Cmdable, ttl time.Duration, logger *logging.Logger) *CachedResolver {
	if inner == nil {
		panic("countries: inner resolver cannot be nil")
	}
	if client == nil {
		panic("countries: redis client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedResolver{inner: inner, redis: client, ttl: ttl, logger: logger}
}

func (r *CachedResolver) Resolve(ctx context.Context, scheduleID int64) (saga.ScheduleDetail, error) {
	key := scheduleKeyPrefix + strconv.FormatInt(scheduleID, 10)

	raw, err := r.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached saga.ScheduleDetail
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
			return cached, nil
		}
		r.logger.Warn("discarding corrupt schedule cache entry", "key", key)
	case !errors.Is(err, redis.Nil):
		r.logger.Warn("schedule cache read failed", "error", err, "key", key)
	}

	detail, err := r.inner.Resolve(ctx, scheduleID)
	if err != nil {
		return saga.ScheduleDetail{}, err
	}

	if payload, err := json.Marshal(detail); err == nil {
		if err := r.redis.Set(ctx, key, payload, r.ttl).Err(); err != nil {
			r.logger.Warn("schedule cache write failed", "error", err, "key", key)
		}
	}
	return detail, nil
}
