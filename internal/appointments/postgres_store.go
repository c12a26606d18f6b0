package appointments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/wolfman30/appointment-saga/internal/saga"
)

const pgUniqueViolation = "23505"

// PostgresRecordStore keeps appointment records in the appointments table.
type PostgresRecordStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ RecordStore = (*PostgresRecordStore)(nil)

// NewPostgresRecordStore wraps an open database handle.
func NewPostgresRecordStore(db *sql.DB) *PostgresRecordStore {
	if db == nil {
		panic("appointments: sql db cannot be nil")
	}
	return &PostgresRecordStore{db: db, now: time.Now}
}

// OpenPostgresRecordStore opens dsn with the lib/pq driver.
func OpenPostgresRecordStore(ctx context.Context, dsn string) (*PostgresRecordStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("appointments: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("appointments: ping postgres: %w", err)
	}
	return NewPostgresRecordStore(db), nil
}

// Close releases the underlying pool.
func (s *PostgresRecordStore) Close() error {
	return s.db.Close()
}

func (s *PostgresRecordStore) Create(ctx context.Context, record *saga.Record) error {
	if record == nil {
		return errors.New("appointments: record cannot be nil")
	}
	createdAt, err := time.Parse(time.RFC3339Nano, record.CreatedAt)
	if err != nil {
		return fmt.Errorf("appointments: invalid createdAt: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, record.UpdatedAt)
	if err != nil {
		return fmt.Errorf("appointments: invalid updatedAt: %w", err)
	}

	query := `
		INSERT INTO appointments (appointment_id, owner_id, schedule_id, country_code, status, created_at, updated_at, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = s.db.ExecContext(ctx, query,
		record.ID, record.OwnerID, record.ScheduleID, record.CountryCode,
		string(record.Status), createdAt, updatedAt, nullString(record.ErrorMessage))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation {
			return fmt.Errorf("appointments: create %s: %w", record.ID, saga.ErrAlreadyExists)
		}
		return fmt.Errorf("appointments: insert record: %w", err)
	}
	return nil
}

func (s *PostgresRecordStore) Get(ctx context.Context, id string) (*saga.Record, error) {
	query := `
		SELECT appointment_id, owner_id, schedule_id, country_code, status, created_at, updated_at, error_message
		FROM appointments
		WHERE appointment_id = $1
	`
	record, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, saga.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("appointments: get record: %w", err)
	}
	return record, nil
}

func (s *PostgresRecordStore) ListByOwner(ctx context.Context, ownerID string) ([]saga.Record, error) {
	query := `
		SELECT appointment_id, owner_id, schedule_id, country_code, status, created_at, updated_at, error_message
		FROM appointments
		WHERE owner_id = $1
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("appointments: list owner records: %w", err)
	}
	defer rows.Close()

	records := []saga.Record{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("appointments: scan owner record: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("appointments: iterate owner records: %w", err)
	}
	return records, nil
}

// ConditionalUpdateStatus applies the transition with a guarded UPDATE. When no
// row matches, a follow-up lookup tells a missing id from a terminal record.
func (s *PostgresRecordStore) ConditionalUpdateStatus(ctx context.Context, id string, expected, next saga.Status, errMsg string) error {
	if !expected.CanTransitionTo(next) {
		return fmt.Errorf("appointments: update %s from %s to %s: %w", id, expected, next, saga.ErrConditionFailed)
	}
	query := `
		UPDATE appointments
		SET status = $1, updated_at = $2, error_message = COALESCE($3, error_message)
		WHERE appointment_id = $4 AND status = $5
	`
	res, err := s.db.ExecContext(ctx, query, string(next), s.now().UTC(), nullString(errMsg), id, string(expected))
	if err != nil {
		return fmt.Errorf("appointments: update record %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("appointments: update record %s: %w", id, err)
	}
	if affected > 0 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM appointments WHERE appointment_id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("appointments: update %s: %w", id, saga.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("appointments: check record %s: %w", id, err)
	}
	return fmt.Errorf("appointments: update %s from %s to %s: %w", id, current, next, saga.ErrConditionFailed)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*saga.Record, error) {
	var (
		record    saga.Record
		status    string
		createdAt time.Time
		updatedAt time.Time
		errMsg    sql.NullString
	)
	if err := row.Scan(&record.ID, &record.OwnerID, &record.ScheduleID, &record.CountryCode,
		&status, &createdAt, &updatedAt, &errMsg); err != nil {
		return nil, err
	}
	record.Status = saga.Status(status)
	record.CreatedAt = saga.Timestamp(createdAt)
	record.UpdatedAt = saga.Timestamp(updatedAt)
	record.ErrorMessage = errMsg.String
	return &record, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
