package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/care-allocation-core/internal/schedule"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Helpers

func scanSchedule(row pgx.Row) (*schedule.Schedule, error) {
	var s schedule.Schedule
	var windows, exceptions []byte

	err := row.Scan(
		&s.ProviderID,
		&windows,
		&exceptions,
		&s.BufferMinutes,
		&s.MaxConcurrent,
		&s.Location,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScheduleNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(windows, &s.Windows); err != nil {
		return nil, fmt.Errorf("decode windows for %s: %w", s.ProviderID, err)
	}
	if len(exceptions) > 0 {
		if err := json.Unmarshal(exceptions, &s.Exceptions); err != nil {
			return nil, fmt.Errorf("decode exceptions for %s: %w", s.ProviderID, err)
		}
	}
	return &s, nil
}

func scanAppointment(row pgx.Row) (*schedule.Appointment, error) {
	var a schedule.Appointment

	err := row.Scan(
		&a.ID,
		&a.ProviderID,
		&a.PatientID,
		&a.RoomID,
		&a.EquipmentID,
		&a.Start,
		&a.DurationMinutes,
		&a.Status,
		&a.Type,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

const appointmentColumns = `id, provider_id, patient_id, room_id, equipment_id, start_time, duration_minutes, status, type`

// Interface methods

func (r *PgStore) GetSchedule(ctx context.Context, providerID string) (*schedule.Schedule, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT provider_id, windows, exceptions, buffer_minutes, max_concurrent, location
		FROM provider_schedules
		WHERE provider_id = $1
	`, providerID)
	return scanSchedule(row)
}

func (r *PgStore) ListSchedules(ctx context.Context, providerIDs ...string) (map[string]schedule.Schedule, error) {
	query := `
		SELECT provider_id, windows, exceptions, buffer_minutes, max_concurrent, location
		FROM provider_schedules`
	var args []any
	if len(providerIDs) > 0 {
		query += ` WHERE provider_id = ANY($1)`
		args = append(args, providerIDs)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]schedule.Schedule)
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		result[s.ProviderID] = *s
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgStore) PutSchedule(ctx context.Context, s schedule.Schedule) error {
	windows, err := json.Marshal(s.Windows)
	if err != nil {
		return fmt.Errorf("encode windows: %w", err)
	}
	exceptions, err := json.Marshal(s.Exceptions)
	if err != nil {
		return fmt.Errorf("encode exceptions: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO provider_schedules (provider_id, windows, exceptions, buffer_minutes, max_concurrent, location, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (provider_id) DO UPDATE SET
		    windows = EXCLUDED.windows,
		    exceptions = EXCLUDED.exceptions,
		    buffer_minutes = EXCLUDED.buffer_minutes,
		    max_concurrent = EXCLUDED.max_concurrent,
		    location = EXCLUDED.location,
		    updated_at = now()
	`, s.ProviderID, windows, exceptions, s.BufferMinutes, s.MaxConcurrent, s.Location)
	if err != nil {
		return fmt.Errorf("upsert schedule: %w", err)
	}
	return nil
}

func (r *PgStore) GetAppointment(ctx context.Context, id string) (*schedule.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgStore) ListAppointmentsInRange(ctx context.Context, from, to time.Time) ([]schedule.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE start_time < $2
		  AND start_time + make_interval(mins => duration_minutes) > $1
		ORDER BY start_time, id
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []schedule.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgStore) CreateAppointment(ctx context.Context, a schedule.Appointment) (*schedule.Appointment, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.ProviderID, a.PatientID, a.RoomID, a.EquipmentID, a.Start, a.DurationMinutes, a.Status, a.Type)

	return scanAppointment(row)
}

func (r *PgStore) UpdateAppointmentStatus(ctx context.Context, id string, to schedule.AppointmentStatus) (*schedule.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns,
		id, to)

	return scanAppointment(row)
}

func (r *PgStore) InsertEvent(ctx context.Context, ev EventLog) error {
	var appID *string
	if ev.AppointmentID != "" {
		appID = &ev.AppointmentID
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, appID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
