package slot

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/consultorio/agenda/internal/db"
)

const activeUniqueIndex = "schedule_slots_active_uniq"

type PgRepository struct {
	db db.DBTX
}

func NewPgRepository(conn db.DBTX) *PgRepository {
	if conn == nil {
		panic("slot: db required")
	}
	return &PgRepository{db: conn}
}

const slotColumns = `id, to_char(slot_date, 'YYYY-MM-DD'), slot_time, is_active, created_at`

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	err := row.Scan(&s.ID, &s.Date, &s.Time, &s.IsActive, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *PgRepository) Create(ctx context.Context, s *Slot) error {
	row := r.db.QueryRow(ctx, `
		INSERT INTO schedule_slots (id, slot_date, slot_time, is_active, created_at)
		VALUES ($1, $2::date, $3, $4, now())
		RETURNING created_at
	`, s.ID, s.Date, s.Time, s.IsActive)
	if err := row.Scan(&s.CreatedAt); err != nil {
		if db.IsUniqueViolation(err, activeUniqueIndex) {
			return ErrSlotExists.Wrap(err)
		}
		return fmt.Errorf("insert slot: %w", err)
	}
	return nil
}

func (r *PgRepository) GetByID(ctx context.Context, id string) (*Slot, error) {
	row := r.db.QueryRow(ctx, `SELECT `+slotColumns+` FROM schedule_slots WHERE id = $1`, id)
	return scanSlot(row)
}

func (r *PgRepository) FindActive(ctx context.Context, date, time string) (*Slot, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM schedule_slots
		WHERE slot_date = $1::date AND slot_time = $2 AND is_active
	`, date, time)
	return scanSlot(row)
}

func (r *PgRepository) SetActive(ctx context.Context, id string, active bool) (*Slot, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE schedule_slots
		SET is_active = $2
		WHERE id = $1
		RETURNING `+slotColumns, id, active)
	s, err := scanSlot(row)
	if err != nil && db.IsUniqueViolation(err, activeUniqueIndex) {
		return nil, ErrSlotExists.Wrap(err)
	}
	return s, err
}

func (r *PgRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM schedule_slots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (r *PgRepository) ListByDate(ctx context.Context, date string) ([]Slot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+slotColumns+`
		FROM schedule_slots
		WHERE slot_date = $1::date
		ORDER BY slot_time, created_at
	`, date)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()

	var out []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
