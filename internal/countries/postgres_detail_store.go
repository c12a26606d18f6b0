package countries

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/appointment-saga/internal/saga"
)

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PostgresDetailStore writes details into one country's table. The table's
// primary key on appointment_id makes InsertIfAbsent safe under concurrent
// delivery of the same message.
type PostgresDetailStore struct {
	db        pgxQuerier
	table     string
	insertSQL string
	selectSQL string
}

var _ DetailStore = (*PostgresDetailStore)(nil)

// NewPostgresDetailStore builds a store over table, e.g. appointment_details_pe.
func NewPostgresDetailStore(db pgxQuerier, table string) *PostgresDetailStore {
	if db == nil {
		panic("countries: pgx pool cannot be nil")
	}
	if !tableNamePattern.MatchString(table) {
		panic("countries: invalid detail table name " + table)
	}
	ident := pgx.Identifier{table}.Sanitize()
	return &PostgresDetailStore{
		db:    db,
		table: table,
		insertSQL: `INSERT INTO ` + ident + ` (
			appointment_id, owner_id, schedule_id, center_id, specialty_id,
			medic_id, appointment_date, status, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (appointment_id) DO NOTHING`,
		selectSQL: `SELECT appointment_id, owner_id, schedule_id, center_id, specialty_id,
			medic_id, appointment_date, status, created_at
		FROM ` + ident + `
		WHERE appointment_id = $1`,
	}
}

// Table returns the table this store writes to.
func (s *PostgresDetailStore) Table() string {
	return s.table
}

func (s *PostgresDetailStore) Get(ctx context.Context, appointmentID string) (*saga.Detail, error) {
	var (
		detail saga.Detail
		status string
	)
	err := s.db.QueryRow(ctx, s.selectSQL, appointmentID).Scan(
		&detail.AppointmentID, &detail.OwnerID, &detail.ScheduleID, &detail.CenterID,
		&detail.SpecialtyID, &detail.MedicID, &detail.AppointmentDate, &status, &detail.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, saga.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("countries: get detail from %s: %w", s.table, err)
	}
	detail.Status = saga.Status(status)
	return &detail, nil
}

func (s *PostgresDetailStore) InsertIfAbsent(ctx context.Context, detail saga.Detail) (bool, error) {
	if detail.AppointmentID == "" {
		return false, errors.New("countries: appointment id required")
	}
	tag, err := s.db.Exec(ctx, s.insertSQL,
		detail.AppointmentID, detail.OwnerID, detail.ScheduleID, detail.CenterID, detail.SpecialtyID,
		detail.MedicID, detail.AppointmentDate.UTC(), string(detail.Status), detail.CreatedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("countries: insert detail into %s: %w", s.table, err)
	}
	return tag.RowsAffected() == 1, nil
}
