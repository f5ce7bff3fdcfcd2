package patient

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/consultorio/agenda/internal/apperr"
)

var ErrMissingName = apperr.Validation("missing_patient_name", "patient name is required")

type Service struct {
	repo Repository
	log  zerolog.Logger
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{repo: repo, log: log.With().Str("component", "patient").Logger()}
}

func (s *Service) ListPatients(ctx context.Context) ([]Patient, error) {
	patients, err := s.repo.ListPatients(ctx)
	if err != nil {
		return nil, apperr.Upstream("patients_unavailable", err)
	}
	return patients, nil
}

func (s *Service) GetPatient(ctx context.Context, id string) (*Patient, error) {
	p, err := s.repo.GetPatient(ctx, id)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, err
		}
		return nil, apperr.Upstream("patients_unavailable", err)
	}
	return p, nil
}

func (s *Service) ListContacts(ctx context.Context) ([]Contact, error) {
	contacts, err := s.repo.ListContacts(ctx)
	if err != nil {
		return nil, apperr.Upstream("contacts_unavailable", err)
	}
	return contacts, nil
}

// CreatePatient registers a patient. A CPF already on file is reported as a
// warning; the record is created anyway.
func (s *Service) CreatePatient(ctx context.Context, p Patient) (*Patient, []apperr.Warning, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		p.Name = strings.TrimSpace(p.FullName)
	}
	if p.Name == "" {
		return nil, nil, ErrMissingName
	}
	p = p.Coalesce()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	var warnings []apperr.Warning
	if p.CPF != nil {
		cpf := NormalizeCPF(*p.CPF)
		if cpf == "" {
			p.CPF = nil
		} else {
			p.CPF = &cpf
			existing, err := s.repo.FindByCPF(ctx, cpf)
			if err != nil {
				return nil, nil, fmt.Errorf("check duplicate cpf: %w", err)
			}
			if len(existing) > 0 {
				s.log.Warn().Str("cpf_owner", existing[0].ID).Msg("duplicate cpf on patient create")
				warnings = append(warnings, apperr.Warning{
					Code:    apperr.WarnDuplicateCPF,
					Message: fmt.Sprintf("CPF already registered for %s", existing[0].DisplayName()),
				})
			}
		}
	}

	if err := s.repo.CreatePatient(ctx, &p); err != nil {
		return nil, nil, fmt.Errorf("create patient: %w", err)
	}
	return &p, warnings, nil
}
