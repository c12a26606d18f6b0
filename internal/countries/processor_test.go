package countries

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/appointment-saga/internal/events"
	"github.com/wolfman30/appointment-saga/internal/queue"
	"github.com/wolfman30/appointment-saga/internal/saga"
	"github.com/wolfman30/appointment-saga/pkg/logging"
)

type recordingEmitter struct {
	mu     sync.Mutex
	err    error
	events []saga.StatusEvent
}

func (e *recordingEmitter) Publish(_ context.Context, evt saga.StatusEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.events = append(e.events, evt)
	return nil
}

func (e *recordingEmitter) statuses() []saga.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]saga.Status, 0, len(e.events))
	for _, evt := range e.events {
		out = append(out, evt.Status)
	}
	return out
}

type failingDetailStore struct {
	*MemoryDetailStore
	getErr    error
	insertErr error
}

func (s *failingDetailStore) Get(ctx context.Context, id string) (*saga.Detail, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.MemoryDetailStore.Get(ctx, id)
}

func (s *failingDetailStore) InsertIfAbsent(ctx context.Context, d saga.Detail) (bool, error) {
	if s.insertErr != nil {
		return false, s.insertErr
	}
	return s.MemoryDetailStore.InsertIfAbsent(ctx, d)
}

func fanoutBody(t *testing.T, id, country string, schedule int64) string {
	t.Helper()
	body, err := events.EncodeFanout(saga.FanoutMessage{AppointmentID: id, OwnerID: "12345", ScheduleID: schedule, CountryCode: country})
	require.NoError(t, err)
	return body
}

func TestProcessor_WritesDetailAndEmitsCompleted(t *testing.T) {
	store := NewMemoryDetailStore()
	emitter := &recordingEmitter{}
	p := NewProcessor("pe", store, NewStaticResolver(), emitter, logging.Discard())

	result := p.HandleBatch(context.Background(), []queue.Message{{ID: "m1", Body: fanoutBody(t, "a-1", "PE", 100)}})
	assert.Empty(t, result.Failed)

	detail, err := store.Get(context.Background(), "a-1")
	require.NoError(t, err)
	assert.Equal(t, saga.StatusCompleted, detail.Status)
	assert.Equal(t, int64(1), detail.CenterID)
	assert.Equal(t, "12345", detail.OwnerID)

	require.Len(t, emitter.events, 1)
	assert.Equal(t, saga.StatusEvent{
		AppointmentID: "a-1",
		Status:        saga.StatusCompleted,
		CountryCode:   "PE",
		ProcessedAt:   emitter.events[0].ProcessedAt,
	}, emitter.events[0])
}

func TestProcessor_DuplicateDeliveryWritesOnce(t *testing.T) {
	store := NewMemoryDetailStore()
	emitter := &recordingEmitter{}
	resolver := &countingResolver{}
	p := NewProcessor("PE", store, resolver, emitter, logging.Discard())

	body := fanoutBody(t, "a-1", "PE", 100)
	for i := 0; i < 3; i++ {
		_, err := p.Handle(context.Background(), body)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, int32(1), resolver.calls.Load())
	assert.Equal(t, []saga.Status{saga.StatusCompleted, saga.StatusCompleted, saga.StatusCompleted}, emitter.statuses())
}

func TestProcessor_ConcurrentDeliveriesInsertOnce(t *testing.T) {
	store := NewMemoryDetailStore()
	emitter := &recordingEmitter{}
	p := NewProcessor("CL", store, NewStaticResolver(), emitter, logging.Discard())
	body := fanoutBody(t, "a-1", "CL", 100)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Handle(context.Background(), body)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, store.Len())
	for _, status := range emitter.statuses() {
		assert.Equal(t, saga.StatusCompleted, status)
	}
}

func TestProcessor_ScheduleNotFoundIsAcknowledged(t *testing.T) {
	store := NewMemoryDetailStore()
	emitter := &recordingEmitter{}
	p := NewProcessor("PE", store, &countingResolver{err: saga.ErrScheduleNotFound}, emitter, logging.Discard())

	result := p.HandleBatch(context.Background(), []queue.Message{{ID: "m1", Body: fanoutBody(t, "a-1", "PE", 100)}})
	assert.Empty(t, result.Failed)
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, []saga.Status{saga.StatusFailed}, emitter.statuses())
}

func TestProcessor_TransientFailuresAreRedelivered(t *testing.T) {
	cases := []struct {
		name     string
		store    DetailStore
		resolver ScheduleResolver
	}{
		{name: "resolver", store: NewMemoryDetailStore(), resolver: &countingResolver{err: errors.New("timeout")}},
		{name: "insert", store: &failingDetailStore{MemoryDetailStore: NewMemoryDetailStore(), insertErr: errors.New("db down")}, resolver: NewStaticResolver()},
		{name: "lookup", store: &failingDetailStore{MemoryDetailStore: NewMemoryDetailStore(), getErr: errors.New("db down")}, resolver: NewStaticResolver()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			emitter := &recordingEmitter{}
			p := NewProcessor("PE", tc.store, tc.resolver, emitter, logging.Discard())

			result := p.HandleBatch(context.Background(), []queue.Message{{ID: "m1", Body: fanoutBody(t, "a-1", "PE", 100)}})
			assert.Equal(t, []string{"m1"}, result.Failed)
			assert.Equal(t, []saga.Status{saga.StatusFailed}, emitter.statuses())
		})
	}
}

func TestProcessor_EmitFailureAfterWriteIsRedelivered(t *testing.T) {
	store := NewMemoryDetailStore()
	emitter := &recordingEmitter{err: errors.New("status queue down")}
	resolver := &countingResolver{}
	p := NewProcessor("PE", store, resolver, emitter, logging.Discard())
	body := fanoutBody(t, "a-1", "PE", 100)

	_, err := p.Handle(context.Background(), body)
	require.Error(t, err)
	assert.Equal(t, 1, store.Len())

	emitter.err = nil
	_, err = p.Handle(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, int32(1), resolver.calls.Load())
	assert.Equal(t, []saga.Status{saga.StatusCompleted}, emitter.statuses())
}

func TestProcessor_FailurePathEmitErrorKeepsOriginal(t *testing.T) {
	emitter := &recordingEmitter{err: errors.New("status queue down")}
	resolveErr := errors.New("timeout")
	p := NewProcessor("PE", NewMemoryDetailStore(), &countingResolver{err: resolveErr}, emitter, logging.Discard())

	outcome, err := p.Handle(context.Background(), fanoutBody(t, "a-1", "PE", 100))
	assert.Equal(t, "resolve_error", outcome)
	assert.ErrorIs(t, err, resolveErr)
}

func TestProcessor_PoisonMessages(t *testing.T) {
	emitter := &recordingEmitter{}
	store := NewMemoryDetailStore()
	p := NewProcessor("PE", store, NewStaticResolver(), emitter, logging.Discard())

	result := p.HandleBatch(context.Background(), []queue.Message{
		{ID: "m1", Body: `not json`},
		{ID: "m2", Body: fanoutBody(t, "a-2", "CL", 100)},
		{ID: "m3", Body: fanoutBody(t, "a-3", "PE", 100)},
	})
	assert.Equal(t, []string{"m1", "m2"}, result.Failed)
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, []saga.Status{saga.StatusCompleted}, emitter.statuses())
}

func TestProcessor_AcceptsSNSEnvelope(t *testing.T) {
	emitter := &recordingEmitter{}
	store := NewMemoryDetailStore()
	p := NewProcessor("PE", store, NewStaticResolver(), emitter, logging.Discard())
	p.now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }

	envelope := `{"Type":"Notification","Message":"{\"appointmentId\":\"a-9\",\"ownerId\":\"12345\",\"scheduleId\":7,\"countryCode\":\"PE\"}"}`
	_, err := p.Handle(context.Background(), envelope)
	require.NoError(t, err)

	detail, err := store.Get(context.Background(), "a-9")
	require.NoError(t, err)
	assert.Equal(t, int64(7), detail.ScheduleID)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), detail.CreatedAt)
}
