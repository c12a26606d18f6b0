package appointments

import (
	"context"

	"github.com/wolfman30/appointment-saga/internal/saga"
)

// RecordStore is the primary record store. ConditionalUpdateStatus is the only
// mutation after creation; it succeeds only while the stored status equals
// expected, returning saga.ErrConditionFailed otherwise and saga.ErrNotFound
// when id does not exist.
type RecordStore interface {
	Create(ctx context.Context, record *saga.Record) error
	Get(ctx context.Context, id string) (*saga.Record, error)
	ListByOwner(ctx context.Context, ownerID string) ([]saga.Record, error)
	ConditionalUpdateStatus(ctx context.Context, id string, expected, next saga.Status, errMsg string) error
}
