package patient

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultorio/agenda/internal/apperr"
)

type memRepo struct {
	patients []Patient
	contacts []Contact
	listErr  error
}

func (m *memRepo) ListPatients(context.Context) ([]Patient, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.patients, nil
}

func (m *memRepo) GetPatient(_ context.Context, id string) (*Patient, error) {
	for i := range m.patients {
		if m.patients[i].ID == id {
			p := m.patients[i]
			return &p, nil
		}
	}
	return nil, ErrPatientNotFound
}

func (m *memRepo) FindByCPF(_ context.Context, cpf string) ([]Patient, error) {
	var out []Patient
	for _, p := range m.patients {
		if p.CPF != nil && NormalizeCPF(*p.CPF) == cpf {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memRepo) CreatePatient(_ context.Context, p *Patient) error {
	m.patients = append(m.patients, *p)
	return nil
}

func (m *memRepo) ListContacts(context.Context) ([]Contact, error) {
	return m.contacts, nil
}

func TestCreatePatientWarnsOnDuplicateCPF(t *testing.T) {
	repo := &memRepo{patients: []Patient{{ID: "p1", Name: "Maria Silva", CPF: strPtr("123.456.789-09")}}}
	svc := NewService(repo, zerolog.Nop())

	p, warnings, err := svc.CreatePatient(context.Background(), Patient{
		Name:     "Maria S.",
		Whatsapp: "11999990000",
		CPF:      strPtr("12345678909"),
	})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, apperr.WarnDuplicateCPF, warnings[0].Code)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "11999990000", p.Phone, "phone coalesced from whatsapp")
	assert.Len(t, repo.patients, 2, "duplicate CPF must not block creation")
}

func TestCreatePatientRequiresName(t *testing.T) {
	svc := NewService(&memRepo{}, zerolog.Nop())

	_, _, err := svc.CreatePatient(context.Background(), Patient{Phone: "1"})
	assert.ErrorIs(t, err, ErrMissingName)

	p, warnings, err := svc.CreatePatient(context.Background(), Patient{FullName: "João Souza"})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "João Souza", p.Name)
}

func TestListPatientsWrapsUpstream(t *testing.T) {
	svc := NewService(&memRepo{listErr: errors.New("connection refused")}, zerolog.Nop())

	_, err := svc.ListPatients(context.Background())
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))
}

func TestCoalesce(t *testing.T) {
	p := Patient{FullName: "Ana Lima", Phone: "1133334444"}.Coalesce()
	assert.Equal(t, "Ana Lima", p.Name)
	assert.Equal(t, "1133334444", p.Whatsapp)
	assert.Equal(t, InsuranceParticular, p.Insurance.Type)
}
