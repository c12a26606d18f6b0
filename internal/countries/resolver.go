package countries

import (
	"context"
	"time"

	"github.com/wolfman30/appointment-saga/internal/saga"
)

// ScheduleResolver looks up the center, specialty, medic and date behind a
// schedule id. An unknown id fails with saga.ErrScheduleNotFound; any other
// error is treated as transient.
type ScheduleResolver interface {
	Resolve(ctx context.Context, scheduleID int64) (saga.ScheduleDetail, error)
}

const defaultLeadTime = 7 * 24 * time.Hour

// StaticResolver answers every schedule with fixed ids and a date a fixed
// lead time from now. It stands in for a schedule service in local runs.
type StaticResolver struct {
	CenterID    int64
	SpecialtyID int64
	MedicID     int64
	LeadTime    time.Duration
	now         func() time.Time
}

var _ ScheduleResolver = (*StaticResolver)(nil)

func NewStaticResolver() *StaticResolver {
	return &StaticResolver{
		CenterID:    1,
		SpecialtyID: 2,
		MedicID:     3,
		LeadTime:    defaultLeadTime,
		now:         time.Now,
	}
}

func (r *StaticResolver) Resolve(_ context.Context, scheduleID int64) (saga.ScheduleDetail, error) {
	if scheduleID <= 0 {
		return saga.ScheduleDetail{}, saga.ErrScheduleNotFound
	}
	return saga.ScheduleDetail{
		CenterID:        r.CenterID,
		SpecialtyID:     r.SpecialtyID,
		MedicID:         r.MedicID,
		AppointmentDate: r.now().UTC().Add(r.LeadTime).Truncate(time.Minute),
	}, nil
}
