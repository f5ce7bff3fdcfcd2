package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/consultorio/agenda/internal/apperr"
	"github.com/consultorio/agenda/internal/appointment"
	"github.com/consultorio/agenda/internal/calendar"
	"github.com/consultorio/agenda/internal/patient"
	redisclient "github.com/consultorio/agenda/internal/redis"
)

var (
	errInvalidBody     = apperr.Validation("invalid_request_body", "could not parse JSON")
	errInvalidRevision = apperr.Validation("invalid_revision", "revision must be a positive integer")
	errPartialRange    = apperr.Validation("invalid_range", "from and to must be given together")
)

// Appointments

func createAppointmentHandler(svc AppointmentService, sess SessionProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			handleError(w, r, errInvalidBody)
			return
		}

		createdBy := req.CreatedBy
		if createdBy == "" && sess != nil {
			if s, err := sess.Current(r.Context()); err == nil {
				createdBy = s.DoctorID
			}
		}

		appt, warnings, err := svc.CreateAppointment(r.Context(), appointment.CreateInput{
			Date:                   req.Date,
			Time:                   req.Time,
			Type:                   req.Type,
			Notes:                  req.Notes,
			MedicalPatientID:       req.MedicalPatientID,
			CommunicationContactID: req.CommunicationContactID,
			PatientID:              req.PatientID,
			PatientName:            req.PatientName,
			PatientPhone:           req.PatientPhone,
			PatientWhatsapp:        req.PatientWhatsapp,
			PatientEmail:           req.PatientEmail,
			PatientBirthDate:       req.PatientBirthDate,
			PatientCPF:             req.PatientCPF,
			InsuranceType:          req.InsuranceType,
			InsurancePlan:          req.InsurancePlan,
			CreatedBy:              createdBy,
			Source:                 req.Source,
			Backfill:               req.Backfill,
		})
		if err != nil {
			handleError(w, r, err)
			return
		}

		setETag(w, appt.Revision)
		writeJSON(w, http.StatusCreated, AppointmentResponse{Appointment: *appt, Warnings: warnings})
	}
}

func getAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appt, err := svc.GetAppointment(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			handleError(w, r, err)
			return
		}
		setETag(w, appt.Revision)
		writeJSON(w, http.StatusOK, appt)
	}
}

func listAppointmentsHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from := r.URL.Query().Get("from")
		to := r.URL.Query().Get("to")

		var (
			appts []appointment.Appointment
			err   error
		)
		switch {
		case from == "" && to == "":
			appts, err = svc.ListAll(r.Context())
		case from == "" || to == "":
			err = errPartialRange
		default:
			appts, err = svc.ListByRange(r.Context(), from, to)
		}
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(appts))
	}
}

func listByDateHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appts, err := svc.ListByDate(r.Context(), chi.URLParam(r, "date"))
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(appts))
	}
}

func updateStatusHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			handleError(w, r, errInvalidBody)
			return
		}
		rev, err := expectedRevision(r, req.Revision)
		if err != nil {
			handleError(w, r, err)
			return
		}

		appt, err := svc.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status, req.Notes, appointment.StatusOptions{
			ExpectedRevision: rev,
			Override:         req.Override,
		})
		if err != nil {
			handleError(w, r, err)
			return
		}

		setETag(w, appt.Revision)
		writeJSON(w, http.StatusOK, appt)
	}
}

func editAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EditAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			handleError(w, r, errInvalidBody)
			return
		}
		rev, err := expectedRevision(r, req.Revision)
		if err != nil {
			handleError(w, r, err)
			return
		}

		appt, err := svc.UpdateAppointment(r.Context(), chi.URLParam(r, "id"), appointment.EditInput{
			Date:     req.Date,
			Time:     req.Time,
			Type:     req.Type,
			Notes:    req.Notes,
			Backfill: req.Backfill,
		}, rev)
		if err != nil {
			handleError(w, r, err)
			return
		}

		setETag(w, appt.Revision)
		writeJSON(w, http.StatusOK, appt)
	}
}

func deleteAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var bodyRev int
		if v := r.URL.Query().Get("revision"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				handleError(w, r, errInvalidRevision)
				return
			}
			bodyRev = n
		}
		rev, err := expectedRevision(r, bodyRev)
		if err != nil {
			handleError(w, r, err)
			return
		}

		if err := svc.DeleteAppointment(r.Context(), chi.URLParam(r, "id"), rev); err != nil {
			handleError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// Patients

func listPatientsHandler(svc PatientService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patients, err := svc.ListPatients(r.Context())
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(patients))
	}
}

func getPatientHandler(svc PatientService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := svc.GetPatient(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func createPatientHandler(svc PatientService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req patient.Patient
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			handleError(w, r, errInvalidBody)
			return
		}

		p, warnings, err := svc.CreatePatient(r.Context(), req)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, PatientResponse{Patient: *p, Warnings: warnings})
	}
}

func listContactsHandler(svc PatientService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		contacts, err := svc.ListContacts(r.Context())
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(contacts))
	}
}

// Slots

func listSlotsHandler(svc SlotService, clock calendar.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date := r.URL.Query().Get("date")
		if date == "" {
			date = calendar.Today(clock)
		}
		slots, err := svc.ListSlotsForDate(r.Context(), date)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(slots))
	}
}

func createSlotHandler(svc SlotService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			handleError(w, r, errInvalidBody)
			return
		}
		s, err := svc.CreateSlot(r.Context(), req.Date, req.Time, req.AllowPast)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, s)
	}
}

func generateSlotsHandler(svc SlotService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req GenerateSlotsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			handleError(w, r, errInvalidBody)
			return
		}
		if req.StepMinutes == 0 {
			req.StepMinutes = 30
		}
		slots, err := svc.GenerateDay(r.Context(), req.Date, req.From, req.To, req.StepMinutes, req.AllowPast)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, nonNil(slots))
	}
}

func toggleSlotHandler(svc SlotService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := svc.ToggleSlot(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

func deleteSlotHandler(svc SlotService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.DeleteSlot(r.Context(), chi.URLParam(r, "id")); err != nil {
			handleError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// Dashboard and session

func dashboardHandler(loader DashboardLoader, clock calendar.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date := r.URL.Query().Get("date")
		if date == "" {
			date = calendar.Today(clock)
		}
		d, err := loader.Load(r.Context(), date)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

func sessionHandler(sess SessionProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := sess.Current(r.Context())
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

func refreshSessionHandler(sess SessionProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := sess.Refresh(r.Context())
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

// Helpers

// expectedRevision reads the If-Match header, falling back to the revision
// sent in the body or query. 0 means the client did not ask for a check.
func expectedRevision(r *http.Request, fallback int) (int, error) {
	h := strings.TrimSpace(r.Header.Get("If-Match"))
	if h == "" {
		if fallback < 0 {
			return 0, errInvalidRevision
		}
		return fallback, nil
	}
	h = strings.TrimPrefix(h, "W/")
	n, err := strconv.Atoi(strings.Trim(h, `"`))
	if err != nil || n <= 0 {
		return 0, errInvalidRevision
	}
	return n, nil
}

func setETag(w http.ResponseWriter, revision int) {
	w.Header().Set("ETag", `"`+strconv.Itoa(revision)+`"`)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// handleError maps an error to its HTTP status by apperr kind.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	var ae *apperr.Error
	switch {
	case errors.As(err, &ae):
		status := statusForKind(ae.Kind)
		if status >= http.StatusInternalServerError {
			zerolog.Ctx(r.Context()).Error().Err(err).Str("code", ae.Code).Msg("request failed")
		}
		writeError(w, status, ae.Code, ae.Message)
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "booking_in_progress", "this time is currently being booked, please retry shortly")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func statusForKind(k apperr.Kind) int {
	switch k {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindUpstream:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
