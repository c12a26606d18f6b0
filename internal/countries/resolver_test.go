package countries

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/appointment-saga/internal/saga"
	"github.com/wolfman30/appointment-saga/pkg/logging"
)

func TestStaticResolver(t *testing.T) {
	fixed := time.Date(2025, 1, 1, 8, 30, 45, 0, time.UTC)
	r := NewStaticResolver()
	r.now = func() time.Time { return fixed }

	detail, err := r.Resolve(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, saga.ScheduleDetail{
		CenterID:        1,
		SpecialtyID:     2,
		MedicID:         3,
		AppointmentDate: time.Date(2025, 1, 8, 8, 30, 0, 0, time.UTC),
	}, detail)

	_, err = r.Resolve(context.Background(), 0)
	assert.ErrorIs(t, err, saga.ErrScheduleNotFound)
}

func TestHTTPResolver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/schedules/100":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"centerId":4,"specialtyId":5,"medicId":6,"appointmentDate":"2025-02-01T09:00:00Z"}`))
		case "/schedules/500":
			http.Error(w, "boom", http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	r := NewHTTPResolver(srv.URL+"/", time.Second)

	detail, err := r.Resolve(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, int64(6), detail.MedicID)
	assert.True(t, detail.AppointmentDate.Equal(time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)))

	_, err = r.Resolve(context.Background(), 404)
	assert.ErrorIs(t, err, saga.ErrScheduleNotFound)

	_, err = r.Resolve(context.Background(), 500)
	require.Error(t, err)
	assert.NotErrorIs(t, err, saga.ErrScheduleNotFound)
}

type countingResolver struct {
	calls atomic.Int32
	err   error
}

func (c *countingResolver) Resolve(_ context.Context, scheduleID int64) (saga.ScheduleDetail, error) {
	c.calls.Add(1)
	if c.err != nil {
		return saga.ScheduleDetail{}, c.err
	}
	return saga.ScheduleDetail{CenterID: scheduleID, SpecialtyID: 2, MedicID: 3}, nil
}

func TestCachedResolver_ReadThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	inner := &countingResolver{}
	r := NewCachedResolver(inner, client, time.Minute, logging.Discard())

	for i := 0; i < 3; i++ {
		detail, err := r.Resolve(context.Background(), 42)
		require.NoError(t, err)
		assert.Equal(t, int64(42), detail.CenterID)
	}
	assert.Equal(t, int32(1), inner.calls.Load())
	assert.True(t, mr.Exists("schedule:42"))

	mr.FastForward(2 * time.Minute)
	_, err := r.Resolve(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestCachedResolver_DoesNotCacheNotFound(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	inner := &countingResolver{err: saga.ErrScheduleNotFound}
	r := NewCachedResolver(inner, client, time.Minute, logging.Discard())

	_, err := r.Resolve(context.Background(), 7)
	assert.ErrorIs(t, err, saga.ErrScheduleNotFound)
	assert.False(t, mr.Exists("schedule:7"))
}

func TestCachedResolver_RedisDownFallsThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	mr.Close()
	inner := &countingResolver{}
	r := NewCachedResolver(inner, client, time.Minute, logging.Discard())

	detail, err := r.Resolve(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, int64(9), detail.CenterID)
}
