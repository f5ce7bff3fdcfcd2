package api

import (
	"github.com/consultorio/agenda/internal/apperr"
	"github.com/consultorio/agenda/internal/appointment"
	"github.com/consultorio/agenda/internal/patient"
)

type CreateAppointmentRequest struct {
	Date  string  `json:"date"`
	Time  string  `json:"time"`
	Type  string  `json:"type"`
	Notes *string `json:"notes"`

	MedicalPatientID       string `json:"medical_patient_id"`
	CommunicationContactID string `json:"communication_contact_id"`
	PatientID              string `json:"patient_id"`

	PatientName      string  `json:"patient_name"`
	PatientPhone     string  `json:"patient_phone"`
	PatientWhatsapp  string  `json:"patient_whatsapp"`
	PatientEmail     *string `json:"patient_email"`
	PatientBirthDate *string `json:"patient_birth_date"`
	PatientCPF       *string `json:"patient_cpf"`
	InsuranceType    string  `json:"insurance_type"`
	InsurancePlan    *string `json:"insurance_plan"`

	CreatedBy string `json:"created_by"`
	Source    string `json:"source"`
	Backfill  bool   `json:"backfill"`
}

type UpdateStatusRequest struct {
	Status   string  `json:"status"`
	Notes    *string `json:"notes"`
	Revision int     `json:"revision"`
	Override bool    `json:"override"`
}

type EditAppointmentRequest struct {
	Date     *string `json:"date"`
	Time     *string `json:"time"`
	Type     *string `json:"type"`
	Notes    *string `json:"notes"`
	Revision int     `json:"revision"`
	Backfill bool    `json:"backfill"`
}

type CreateSlotRequest struct {
	Date      string `json:"date"`
	Time      string `json:"time"`
	AllowPast bool   `json:"allow_past"`
}

type GenerateSlotsRequest struct {
	Date        string `json:"date"`
	From        string `json:"from"`
	To          string `json:"to"`
	StepMinutes int    `json:"step_minutes"`
	AllowPast   bool   `json:"allow_past"`
}

type AppointmentResponse struct {
	appointment.Appointment
	Warnings []apperr.Warning `json:"warnings,omitempty"`
}

type PatientResponse struct {
	patient.Patient
	Warnings []apperr.Warning `json:"warnings,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
