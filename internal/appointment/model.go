package appointment

import (
	"time"

	"github.com/consultorio/agenda/internal/identity"
	"github.com/consultorio/agenda/internal/status"
)

type Type string

const (
	TypeConsulta     Type = "consulta"
	TypeRetorno      Type = "retorno"
	TypeUrgencia     Type = "urgencia"
	TypeTeleconsulta Type = "teleconsulta"
	TypeExame        Type = "exame"
	TypeProcedimento Type = "procedimento"
)

var validTypes = map[Type]bool{
	TypeConsulta: true, TypeRetorno: true, TypeUrgencia: true,
	TypeTeleconsulta: true, TypeExame: true, TypeProcedimento: true,
}

// Sources of an appointment record.
const (
	SourceSecretaria = "secretaria"
	SourceMedico     = "medico"
	SourceAgendar    = "agendar"
	SourceImportacao = "importacao"
)

type Appointment struct {
	ID     string        `json:"id"`
	Date   string        `json:"date"`
	Time   string        `json:"time"`
	Type   Type          `json:"type"`
	Status status.Status `json:"status"`
	Notes  *string       `json:"notes,omitempty"`

	MedicalPatientID       string `json:"medical_patient_id,omitempty"`
	CommunicationContactID string `json:"communication_contact_id,omitempty"`
	PatientID              string `json:"patient_id,omitempty"`

	PatientName      string  `json:"patient_name"`
	PatientPhone     string  `json:"patient_phone"`
	PatientWhatsapp  string  `json:"patient_whatsapp"`
	PatientEmail     *string `json:"patient_email,omitempty"`
	PatientBirthDate *string `json:"patient_birth_date,omitempty"`
	PatientCPF       *string `json:"patient_cpf,omitempty"`
	InsuranceType    string  `json:"insurance_type"`
	InsurancePlan    *string `json:"insurance_plan,omitempty"`

	CreatedBy string `json:"created_by"`
	Source    string `json:"source"`
	Revision  int    `json:"revision"`

	// BookingKey is the resolved double-booking identity written to the
	// active-booking index. Empty leaves the stored key untouched on update.
	BookingKey string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IdentityRef hands the identity-bearing fields to the identity package.
func (a Appointment) IdentityRef() identity.Ref {
	return identity.Ref{
		AppointmentID:          a.ID,
		MedicalPatientID:       a.MedicalPatientID,
		CommunicationContactID: a.CommunicationContactID,
		PatientID:              a.PatientID,
		PatientName:            a.PatientName,
		PatientPhone:           a.PatientPhone,
		PatientWhatsapp:        a.PatientWhatsapp,
		PatientEmail:           a.PatientEmail,
		PatientBirthDate:       a.PatientBirthDate,
		PatientCPF:             a.PatientCPF,
		InsuranceType:          a.InsuranceType,
		InsurancePlan:          a.InsurancePlan,
	}
}

// IdentityKey is the double-booking key of the appointment's patient as far
// as its own fields tell. The service resolves a sharper key against the
// patient catalog and stores it in BookingKey.
func (a Appointment) IdentityKey() string {
	if a.BookingKey != "" {
		return a.BookingKey
	}
	return identity.Key(a.IdentityRef())
}

// NormalizedStatus reads the stored status through the normalizer; rows from
// legacy imports may still carry other spellings.
func (a Appointment) NormalizedStatus() status.Status {
	s, _ := status.Normalize(string(a.Status))
	return s
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *string
	Payload       []byte
	CreatedAt     time.Time
}
