package saga

import "errors"

var (
	// ErrNotFound is returned when an appointment or detail record does not exist.
	ErrNotFound = errors.New("saga: record not found")

	// ErrAlreadyExists is returned when creating a record whose id is taken.
	ErrAlreadyExists = errors.New("saga: record already exists")

	// ErrConditionFailed is returned when a conditional status update finds the
	// record in a status other than the expected one.
	ErrConditionFailed = errors.New("saga: status precondition failed")

	// ErrUnsupportedCountry is returned when no processing path exists for a country code.
	ErrUnsupportedCountry = errors.New("saga: unsupported country")

	// ErrScheduleNotFound is a permanent resolution failure for an unknown schedule id.
	ErrScheduleNotFound = errors.New("saga: schedule not found")

	// ErrDispatchFailed is returned when the fan-out publish failed and the
	// record was compensated to failed.
	ErrDispatchFailed = errors.New("saga: dispatch failed")

	// ErrCompensationFailed is returned when the record could not be moved to
	// failed after a dispatch failure. The record may still read pending.
	ErrCompensationFailed = errors.New("saga: compensation failed")
)
