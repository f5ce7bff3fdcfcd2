package patient

import (
	"context"

	"github.com/consultorio/agenda/internal/apperr"
)

var ErrPatientNotFound = apperr.NotFound("patient_not_found", "patient not found")

// Repository is the patient-management collaborator. The agenda only reads
// from it, apart from registering new patients.
type Repository interface {
	ListPatients(ctx context.Context) ([]Patient, error)
	GetPatient(ctx context.Context, id string) (*Patient, error)
	FindByCPF(ctx context.Context, cpf string) ([]Patient, error)
	CreatePatient(ctx context.Context, p *Patient) error

	ListContacts(ctx context.Context) ([]Contact, error)
}
