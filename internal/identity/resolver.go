// Package identity decides which patient an appointment belongs to.
//
// Appointments are written by several flows that fill different identity
// fields, and nothing at the storage layer ties them to a patient row. Every
// component that needs "the patient of this appointment" asks this package;
// none re-derives it.
package identity

import (
	"strings"

	"github.com/consultorio/agenda/internal/apperr"
	"github.com/consultorio/agenda/internal/patient"
)

// Ref is the identity-bearing part of an appointment.
type Ref struct {
	AppointmentID          string
	MedicalPatientID       string
	CommunicationContactID string
	PatientID              string

	PatientName      string
	PatientPhone     string
	PatientWhatsapp  string
	PatientEmail     *string
	PatientBirthDate *string
	PatientCPF       *string
	InsuranceType    string
	InsurancePlan    *string
}

// Empty reports whether r carries nothing to resolve from.
func (r Ref) Empty() bool {
	return r.MedicalPatientID == "" && r.CommunicationContactID == "" &&
		r.PatientID == "" && strings.TrimSpace(r.PatientName) == ""
}

type Kind int

const (
	Resolved Kind = iota + 1
	Synthesized
)

func (k Kind) String() string {
	switch k {
	case Resolved:
		return "resolved"
	case Synthesized:
		return "synthesized"
	default:
		return "unknown"
	}
}

// Rule is the step of the fallback chain that produced a Resolution.
type Rule string

const (
	RuleMedicalPatientID       Rule = "medical_patient_id"
	RuleCommunicationContactID Rule = "communication_contact_id"
	RulePatientID              Rule = "patient_id"
	RuleName                   Rule = "name"
	RuleSynthesized            Rule = "synthesized"
)

// Resolution is either a catalog patient or a placeholder built from the
// appointment's denormalized fields.
type Resolution struct {
	Kind    Kind
	Rule    Rule
	Patient patient.Patient
}

func (r Resolution) Linked() bool {
	return r.Kind == Resolved
}

// RecordID returns the id that may be used to open a medical record. It is
// only available for catalog patients; placeholders never open a record.
func (r Resolution) RecordID() (string, bool) {
	if r.Kind != Resolved || r.Patient.ID == "" {
		return "", false
	}
	return r.Patient.ID, true
}

// Warning describes the degraded link for synthesized resolutions.
func (r Resolution) Warning() (apperr.Warning, bool) {
	if r.Kind != Synthesized {
		return apperr.Warning{}, false
	}
	return apperr.Warning{
		Code:    apperr.WarnIdentitySynthesized,
		Message: "appointment for " + r.Patient.DisplayName() + " is not linked to a patient record",
	}, true
}

// Resolver indexes a patient catalog once so that many appointments can be
// resolved against it without rescanning.
type Resolver struct {
	byID   map[string]patient.Patient
	byName map[string]patient.Patient
}

// NewResolver indexes catalog. On duplicate ids or names the first entry wins.
func NewResolver(catalog []patient.Patient) *Resolver {
	r := &Resolver{
		byID:   make(map[string]patient.Patient, len(catalog)),
		byName: make(map[string]patient.Patient, len(catalog)),
	}
	for _, p := range catalog {
		if p.ID != "" {
			if _, ok := r.byID[p.ID]; !ok {
				r.byID[p.ID] = p
			}
		}
		for _, name := range []string{p.Name, p.FullName} {
			if name == "" {
				continue
			}
			if _, ok := r.byName[name]; !ok {
				r.byName[name] = p
			}
		}
	}
	return r
}

// Resolve walks the chain: medical patient id, communication contact id,
// legacy patient id, exact name, then a synthesized placeholder.
func (r *Resolver) Resolve(ref Ref) Resolution {
	idRules := []struct {
		id   string
		rule Rule
	}{
		{ref.MedicalPatientID, RuleMedicalPatientID},
		{ref.CommunicationContactID, RuleCommunicationContactID},
		{ref.PatientID, RulePatientID},
	}
	for _, c := range idRules {
		if c.id == "" {
			continue
		}
		if p, ok := r.byID[c.id]; ok {
			return Resolution{Kind: Resolved, Rule: c.rule, Patient: p}
		}
	}

	if ref.PatientName != "" {
		if p, ok := r.byName[ref.PatientName]; ok {
			return Resolution{Kind: Resolved, Rule: RuleName, Patient: p}
		}
	}

	return Resolution{Kind: Synthesized, Rule: RuleSynthesized, Patient: synthesize(ref)}
}

// Resolve is a one-shot convenience over NewResolver(catalog).Resolve(ref).
func Resolve(ref Ref, catalog []patient.Patient) Resolution {
	return NewResolver(catalog).Resolve(ref)
}

func synthesize(ref Ref) patient.Patient {
	id := firstNonEmpty(ref.MedicalPatientID, ref.PatientID, ref.CommunicationContactID)
	if id == "" {
		id = "temp-" + ref.AppointmentID
	}
	p := patient.Patient{
		ID:        id,
		Name:      ref.PatientName,
		Phone:     ref.PatientPhone,
		Whatsapp:  ref.PatientWhatsapp,
		Email:     ref.PatientEmail,
		BirthDate: ref.PatientBirthDate,
		CPF:       ref.PatientCPF,
		Insurance: patient.Insurance{Type: ref.InsuranceType, Plan: ref.InsurancePlan},
	}
	return p.Coalesce()
}

// Key is the identity used to detect double-booking of one patient. It
// follows the same id preference as synthesized placeholders and falls back
// to the patient name.
func Key(ref Ref) string {
	if id := firstNonEmpty(ref.MedicalPatientID, ref.PatientID, ref.CommunicationContactID); id != "" {
		return id
	}
	if name := strings.TrimSpace(ref.PatientName); name != "" {
		return "name:" + name
	}
	return ""
}

// Key is the double-booking identity of ref against the indexed catalog. A
// resolved appointment is keyed by its catalog patient, so bookings that
// reach the same patient through different fields collide. Unresolved ones
// fall back to the package-level Key. A nil Resolver always falls back.
func (r *Resolver) Key(ref Ref) string {
	if r != nil {
		if res := r.Resolve(ref); res.Kind == Resolved && res.Patient.ID != "" {
			return res.Patient.ID
		}
	}
	return Key(ref)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
