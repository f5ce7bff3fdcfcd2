package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/consultorio/agenda/internal/db"
)

type PgRepository struct {
	db db.DBTX
}

func NewPgRepository(conn db.DBTX) *PgRepository {
	if conn == nil {
		panic("patient: db required")
	}
	return &PgRepository{db: conn}
}

const patientColumns = `id, name, full_name, phone, whatsapp, email, cpf, birth_date,
	medical_record_number, insurance_type, insurance_plan, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var fullName *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&fullName,
		&p.Phone,
		&p.Whatsapp,
		&p.Email,
		&p.CPF,
		&p.BirthDate,
		&p.MedicalRecordNumber,
		&p.Insurance.Type,
		&p.Insurance.Plan,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	if fullName != nil {
		p.FullName = *fullName
	}
	return &p, nil
}

func collectPatients(rows pgx.Rows) ([]Patient, error) {
	defer rows.Close()

	var out []Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PgRepository) ListPatients(ctx context.Context) ([]Patient, error) {
	rows, err := r.db.Query(ctx, `SELECT `+patientColumns+` FROM patients ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	return collectPatients(rows)
}

func (r *PgRepository) GetPatient(ctx context.Context, id string) (*Patient, error) {
	row := r.db.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE id = $1`, id)
	return scanPatient(row)
}

func (r *PgRepository) FindByCPF(ctx context.Context, cpf string) ([]Patient, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE regexp_replace(cpf, '[^0-9]', '', 'g') = $1
	`, cpf)
	if err != nil {
		return nil, fmt.Errorf("find patients by cpf: %w", err)
	}
	return collectPatients(rows)
}

func (r *PgRepository) CreatePatient(ctx context.Context, p *Patient) error {
	var fullName *string
	if p.FullName != "" {
		fullName = &p.FullName
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO patients (id, name, full_name, phone, whatsapp, email, cpf, birth_date,
			medical_record_number, insurance_type, insurance_plan, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
		RETURNING created_at, updated_at
	`, p.ID, p.Name, fullName, p.Phone, p.Whatsapp, p.Email, p.CPF, p.BirthDate,
		p.MedicalRecordNumber, p.Insurance.Type, p.Insurance.Plan,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (r *PgRepository) ListContacts(ctx context.Context) ([]Contact, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, phone, whatsapp, email, newsletter_opt_in, created_at
		FROM contacts
		ORDER BY name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Whatsapp, &c.Email, &c.NewsletterOptIn, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
