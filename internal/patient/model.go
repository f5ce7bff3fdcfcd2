package patient

import (
	"strings"
	"time"
)

type Insurance struct {
	Type string  `json:"type"`
	Plan *string `json:"plan,omitempty"`
}

// Patient is the clinically authoritative identity record.
type Patient struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	FullName            string    `json:"full_name,omitempty"`
	Phone               string    `json:"phone"`
	Whatsapp            string    `json:"whatsapp"`
	Email               *string   `json:"email,omitempty"`
	CPF                 *string   `json:"cpf,omitempty"`
	BirthDate           *string   `json:"birth_date,omitempty"`
	MedicalRecordNumber *string   `json:"medical_record_number,omitempty"`
	Insurance           Insurance `json:"insurance"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// DisplayName prefers Name and falls back to FullName.
func (p Patient) DisplayName() string {
	if strings.TrimSpace(p.Name) != "" {
		return p.Name
	}
	return p.FullName
}

// Coalesce fills name/full_name and phone/whatsapp from each other so that
// records written by different flows render the same way.
func (p Patient) Coalesce() Patient {
	if strings.TrimSpace(p.Name) == "" {
		p.Name = p.FullName
	}
	if strings.TrimSpace(p.FullName) == "" {
		p.FullName = p.Name
	}
	if strings.TrimSpace(p.Phone) == "" {
		p.Phone = p.Whatsapp
	}
	if strings.TrimSpace(p.Whatsapp) == "" {
		p.Whatsapp = p.Phone
	}
	if p.Insurance.Type == "" {
		p.Insurance.Type = InsuranceParticular
	}
	return p
}

const InsuranceParticular = "particular"

// Contact is the lighter record used for messaging and newsletters. It may
// share its id with a Patient, or not correspond to one at all.
type Contact struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Phone           string    `json:"phone"`
	Whatsapp        string    `json:"whatsapp"`
	Email           *string   `json:"email,omitempty"`
	NewsletterOptIn bool      `json:"newsletter_opt_in"`
	CreatedAt       time.Time `json:"created_at"`
}

// NormalizeCPF strips punctuation so "123.456.789-09" and "12345678909" compare equal.
func NormalizeCPF(cpf string) string {
	var b strings.Builder
	for _, r := range cpf {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
