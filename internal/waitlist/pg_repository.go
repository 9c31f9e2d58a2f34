package waitlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const entryColumns = `id, patient_id, provider_id, preferred_provider_id, appointment_type, reason,
	duration_minutes, preferred_dates, preferred_time_of_day, same_day_only, priority,
	score, wait_hours, attempts, status, added_at, notified_at, updated_at, version`

const matchColumns = `id, entry_id, patient_id, provider_id, slot_start, slot_minutes, room_id,
	score, reasons, created_at, expires_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(
		&e.ID,
		&e.PatientID,
		&e.ProviderID,
		&e.PreferredProviderID,
		&e.AppointmentType,
		&e.Reason,
		&e.DurationMinutes,
		&e.PreferredDates,
		&e.PreferredTimeOfDay,
		&e.SameDayOnly,
		&e.Priority,
		&e.Score,
		&e.WaitHours,
		&e.Attempts,
		&e.Status,
		&e.AddedAt,
		&e.NotifiedAt,
		&e.UpdatedAt,
		&e.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return &e, nil
}

func scanMatch(row pgx.Row) (*SlotMatch, error) {
	var m SlotMatch
	err := row.Scan(
		&m.ID,
		&m.EntryID,
		&m.PatientID,
		&m.Slot.ProviderID,
		&m.Slot.Start,
		&m.Slot.DurationMinutes,
		&m.Slot.RoomID,
		&m.Score,
		&m.Reasons,
		&m.CreatedAt,
		&m.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *PgRepository) GetEntry(ctx context.Context, id uuid.UUID) (*Entry, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM waitlist_entries WHERE id = $1`, id)
	return scanEntry(row)
}

func (r *PgRepository) PutEntry(ctx context.Context, e *Entry) error {
	dates := e.PreferredDates
	if dates == nil {
		dates = []time.Time{}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO waitlist_entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, 1)
	`,
		e.ID, e.PatientID, e.ProviderID, e.PreferredProviderID, e.AppointmentType, e.Reason,
		e.DurationMinutes, dates, e.PreferredTimeOfDay, e.SameDayOnly, e.Priority,
		e.Score, e.WaitHours, e.Attempts, e.Status, e.AddedAt, e.NotifiedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert waitlist entry: %w", err)
	}
	e.Version = 1
	return nil
}

func (r *PgRepository) UpdateEntry(ctx context.Context, e *Entry) error {
	dates := e.PreferredDates
	if dates == nil {
		dates = []time.Time{}
	}
	row := r.pool.QueryRow(ctx, `
		UPDATE waitlist_entries SET
		    provider_id = $2,
		    preferred_provider_id = $3,
		    duration_minutes = $4,
		    preferred_dates = $5,
		    preferred_time_of_day = $6,
		    same_day_only = $7,
		    priority = $8,
		    score = $9,
		    wait_hours = $10,
		    attempts = $11,
		    status = $12,
		    notified_at = $13,
		    updated_at = $14,
		    version = version + 1
		WHERE id = $1 AND version = $15
		RETURNING version
	`,
		e.ID, e.ProviderID, e.PreferredProviderID, e.DurationMinutes, dates,
		e.PreferredTimeOfDay, e.SameDayOnly, e.Priority, e.Score, e.WaitHours,
		e.Attempts, e.Status, e.NotifiedAt, e.UpdatedAt, e.Version,
	)
	if err := row.Scan(&e.Version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrEntryConflict
		}
		return fmt.Errorf("update waitlist entry: %w", err)
	}
	return nil
}

func (r *PgRepository) UpdateScores(ctx context.Context, id uuid.UUID, waitHours, score float64, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE waitlist_entries
		SET wait_hours = $2, score = $3, updated_at = $4
		WHERE id = $1 AND status IN ('active', 'notified')
	`, id, waitHours, score, at)
	if err != nil {
		return fmt.Errorf("update waitlist scores: %w", err)
	}
	return nil
}

func (r *PgRepository) DeleteEntry(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM waitlist_entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete waitlist entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *PgRepository) ListByStatus(ctx context.Context, statuses ...Status) ([]Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM waitlist_entries`
	var args []any
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, s := range statuses {
			names[i] = string(s)
		}
		query += ` WHERE status = ANY($1)`
		args = append(args, names)
	}
	query += ` ORDER BY added_at, id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) GetMatch(ctx context.Context, id uuid.UUID) (*SlotMatch, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+matchColumns+` FROM waitlist_matches WHERE id = $1`, id)
	return scanMatch(row)
}

func (r *PgRepository) PutMatch(ctx context.Context, m *SlotMatch) error {
	reasons := m.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO waitlist_matches (`+matchColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
		    score = EXCLUDED.score,
		    reasons = EXCLUDED.reasons,
		    expires_at = EXCLUDED.expires_at
	`,
		m.ID, m.EntryID, m.PatientID, m.Slot.ProviderID, m.Slot.Start, m.Slot.DurationMinutes,
		m.Slot.RoomID, m.Score, reasons, m.CreatedAt, m.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("upsert slot match: %w", err)
	}
	return nil
}

func (r *PgRepository) DeleteMatch(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM waitlist_matches WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete slot match: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMatchNotFound
	}
	return nil
}

func (r *PgRepository) ListMatches(ctx context.Context, entryID uuid.UUID) ([]SlotMatch, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+matchColumns+`
		FROM waitlist_matches
		WHERE entry_id = $1
		ORDER BY created_at, id
	`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []SlotMatch
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
