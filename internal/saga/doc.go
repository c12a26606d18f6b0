// Package saga defines the shared vocabulary of the appointment saga: the
// appointment status state machine, the records kept by the primary and
// country stores, and the messages exchanged between stages.
//
// An appointment is created pending, fanned out to exactly one country
// processor, and reconciled to a terminal status by a conditional write.
// Messages may be delivered any number of times in any order, so every
// consumer is idempotent and every status write is conditional on the
// record still being pending.
package saga
