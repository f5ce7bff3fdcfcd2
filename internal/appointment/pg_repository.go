package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/consultorio/agenda/internal/db"
	"github.com/consultorio/agenda/internal/status"
)

const activeBookingIndex = "appointments_active_booking_uniq"

type PgRepository struct {
	db db.DBTX
}

func NewPgRepository(conn db.DBTX) *PgRepository {
	if conn == nil {
		panic("appointment: db required")
	}
	return &PgRepository{db: conn}
}

// Helpers

const appointmentColumns = `id, to_char(appt_date, 'YYYY-MM-DD'), appt_time, type, status, notes,
	medical_patient_id, communication_contact_id, patient_id,
	patient_name, patient_phone, patient_whatsapp, patient_email, patient_birth_date, patient_cpf,
	insurance_type, insurance_plan, created_by, source, revision, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var typ, st string
	var medicalID, contactID, legacyID *string

	err := row.Scan(
		&a.ID,
		&a.Date,
		&a.Time,
		&typ,
		&st,
		&a.Notes,
		&medicalID,
		&contactID,
		&legacyID,
		&a.PatientName,
		&a.PatientPhone,
		&a.PatientWhatsapp,
		&a.PatientEmail,
		&a.PatientBirthDate,
		&a.PatientCPF,
		&a.InsuranceType,
		&a.InsurancePlan,
		&a.CreatedBy,
		&a.Source,
		&a.Revision,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Type = Type(typ)
	a.Status = status.Status(st)
	a.MedicalPatientID = deref(medicalID)
	a.CommunicationContactID = deref(contactID)
	a.PatientID = deref(legacyID)
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
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

// Interface methods

func (r *PgRepository) Create(ctx context.Context, a *Appointment) error {
	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (
			id, appt_date, appt_time, type, status, notes, identity_key,
			medical_patient_id, communication_contact_id, patient_id,
			patient_name, patient_phone, patient_whatsapp, patient_email, patient_birth_date, patient_cpf,
			insurance_type, insurance_plan, created_by, source, revision, created_at, updated_at
		)
		VALUES ($1, $2::date, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, 1, now(), now())
		RETURNING revision, created_at, updated_at
	`,
		a.ID, a.Date, a.Time, string(a.Type), string(a.Status), a.Notes, a.IdentityKey(),
		nullable(a.MedicalPatientID), nullable(a.CommunicationContactID), nullable(a.PatientID),
		a.PatientName, a.PatientPhone, a.PatientWhatsapp, a.PatientEmail, a.PatientBirthDate, a.PatientCPF,
		a.InsuranceType, a.InsurancePlan, a.CreatedBy, a.Source,
	)

	if err := row.Scan(&a.Revision, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if db.IsUniqueViolation(err, activeBookingIndex) {
			return ErrDoubleBooking.Wrap(err)
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) GetByID(ctx context.Context, id string) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAt(ctx context.Context, date, hm string) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE appt_date = $1::date AND appt_time = $2
	`, date, hm)
	if err != nil {
		return nil, fmt.Errorf("list appointments at time: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) Update(ctx context.Context, a *Appointment, expectedRevision int) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET appt_date = $2::date,
		    appt_time = $3,
		    type = $4,
		    status = $5,
		    notes = $6,
		    identity_key = COALESCE(NULLIF($8, ''), identity_key),
		    revision = revision + 1,
		    updated_at = now()
		WHERE id = $1
		  AND ($7::int = 0 OR revision = $7)
		RETURNING `+appointmentColumns,
		a.ID, a.Date, a.Time, string(a.Type), string(a.Status), a.Notes, expectedRevision, a.BookingKey)

	updated, err := scanAppointment(row)
	if err == nil {
		return updated, nil
	}
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, r.missOrMismatch(ctx, a.ID)
	}
	if db.IsUniqueViolation(err, activeBookingIndex) {
		return nil, ErrDoubleBooking.Wrap(err)
	}
	return nil, fmt.Errorf("update appointment: %w", err)
}

func (r *PgRepository) Delete(ctx context.Context, id string, expectedRevision int) error {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM appointments
		WHERE id = $1
		  AND ($2::int = 0 OR revision = $2)
	`, id, expectedRevision)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOrMismatch(ctx, id)
	}
	return nil
}

// missOrMismatch tells apart a vanished row from a stale revision after a
// conditional write touched nothing.
func (r *PgRepository) missOrMismatch(ctx context.Context, id string) error {
	var rev int
	err := r.db.QueryRow(ctx, `SELECT revision FROM appointments WHERE id = $1`, id).Scan(&rev)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAppointmentNotFound
		}
		return fmt.Errorf("load appointment revision: %w", err)
	}
	return ErrRevisionMismatch.Withf("appointment %s is at revision %d", id, rev)
}

func (r *PgRepository) ListByDate(ctx context.Context, date string) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE appt_date = $1::date
		ORDER BY appt_time, created_at
	`, date)
	if err != nil {
		return nil, fmt.Errorf("list appointments by date: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListByRange(ctx context.Context, from, to string) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE appt_date BETWEEN $1::date AND $2::date
		ORDER BY appt_date, appt_time, created_at
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("list appointments by range: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListAll(ctx context.Context) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		ORDER BY appt_date, appt_time, created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) DeleteTerminalBefore(ctx context.Context, date string, statuses []status.Status) (int64, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	tag, err := r.db.Exec(ctx, `
		DELETE FROM appointments
		WHERE appt_date < $1::date
		  AND status = ANY($2)
	`, date, names)
	if err != nil {
		return 0, fmt.Errorf("purge appointments: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO appointment_events (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
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

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
