package patient

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var patientCols = []string{
	"id", "name", "full_name", "phone", "whatsapp", "email", "cpf", "birth_date",
	"medical_record_number", "insurance_type", "insurance_plan", "created_at", "updated_at",
}

func strPtr(s string) *string { return &s }

func TestPgRepositoryGetPatient(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPgRepository(mock)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM patients WHERE id = \\$1").
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows(patientCols).AddRow(
			"p1", "Maria Silva", (*string)(nil), "11999990000", "", strPtr("maria@example.com"),
			strPtr("12345678909"), (*string)(nil), strPtr("PR-001"), "unimed", strPtr("basico"), now, now,
		))

	p, err := repo.GetPatient(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "Maria Silva", p.Name)
	assert.Empty(t, p.FullName)
	require.NotNil(t, p.MedicalRecordNumber)
	assert.Equal(t, "PR-001", *p.MedicalRecordNumber)
	assert.Equal(t, "unimed", p.Insurance.Type)

	mock.ExpectQuery("FROM patients WHERE id = \\$1").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err = repo.GetPatient(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrPatientNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryListContacts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPgRepository(mock)
	now := time.Now()

	mock.ExpectQuery("FROM contacts").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "phone", "whatsapp", "email", "newsletter_opt_in", "created_at"}).
			AddRow("c1", "Ana", "", "11988887777", (*string)(nil), true, now).
			AddRow("c2", "Bruno", "1133334444", "", strPtr("b@example.com"), false, now))

	contacts, err := repo.ListContacts(context.Background())
	require.NoError(t, err)
	require.Len(t, contacts, 2)
	assert.True(t, contacts[0].NewsletterOptIn)
	assert.Equal(t, "b@example.com", *contacts[1].Email)

	assert.NoError(t, mock.ExpectationsWereMet())
}
