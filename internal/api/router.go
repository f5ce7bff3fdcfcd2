package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/consultorio/agenda/internal/apperr"
	"github.com/consultorio/agenda/internal/appointment"
	"github.com/consultorio/agenda/internal/calendar"
	"github.com/consultorio/agenda/internal/dashboard"
	"github.com/consultorio/agenda/internal/metrics"
	"github.com/consultorio/agenda/internal/patient"
	redisclient "github.com/consultorio/agenda/internal/redis"
	"github.com/consultorio/agenda/internal/session"
	"github.com/consultorio/agenda/internal/slot"
)

type AppointmentService interface {
	CreateAppointment(ctx context.Context, in appointment.CreateInput) (*appointment.Appointment, []apperr.Warning, error)
	UpdateStatus(ctx context.Context, id, token string, notes *string, opts appointment.StatusOptions) (*appointment.Appointment, error)
	UpdateAppointment(ctx context.Context, id string, in appointment.EditInput, expectedRevision int) (*appointment.Appointment, error)
	DeleteAppointment(ctx context.Context, id string, expectedRevision int) error
	GetAppointment(ctx context.Context, id string) (*appointment.Appointment, error)
	ListByDate(ctx context.Context, date string) ([]appointment.Appointment, error)
	ListByRange(ctx context.Context, from, to string) ([]appointment.Appointment, error)
	ListAll(ctx context.Context) ([]appointment.Appointment, error)
}

type PatientService interface {
	ListPatients(ctx context.Context) ([]patient.Patient, error)
	GetPatient(ctx context.Context, id string) (*patient.Patient, error)
	CreatePatient(ctx context.Context, p patient.Patient) (*patient.Patient, []apperr.Warning, error)
	ListContacts(ctx context.Context) ([]patient.Contact, error)
}

type SlotService interface {
	CreateSlot(ctx context.Context, date, hm string, allowPast bool) (*slot.Slot, error)
	GenerateDay(ctx context.Context, date, from, to string, step int, allowPast bool) ([]slot.Slot, error)
	ToggleSlot(ctx context.Context, id string) (*slot.Slot, error)
	DeleteSlot(ctx context.Context, id string) error
	ListSlotsForDate(ctx context.Context, date string) ([]slot.Slot, error)
}

type DashboardLoader interface {
	Load(ctx context.Context, date string) (*dashboard.Dashboard, error)
}

type SessionProvider interface {
	Current(ctx context.Context) (session.Session, error)
	Refresh(ctx context.Context) (session.Session, error)
}

type RouterConfig struct {
	Appointments AppointmentService
	Patients     PatientService
	Slots        SlotService
	Dashboard    DashboardLoader
	Session      SessionProvider
	Idempotency  *redisclient.IdempotencyStore
	RateLimiter  *RateLimiter
	Health       *HealthHandler
	Metrics      *metrics.Metrics
	Gatherer     prometheus.Gatherer
	Clock        calendar.Clock
	Logger       zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Clock == nil {
		cfg.Clock = calendar.SystemClock(nil)
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware(cfg.Metrics))

	// Health endpoints
	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(cfg.RateLimiter.RateLimit)
		r.Use(IdempotencyMiddleware(cfg.Idempotency))

		// Appointment endpoints
		r.Get("/agenda/{date}", listByDateHandler(cfg.Appointments))
		r.Get("/appointments", listAppointmentsHandler(cfg.Appointments))
		r.Get("/appointments/date/{date}", listByDateHandler(cfg.Appointments))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Appointments))
		r.Post("/appointments", createAppointmentHandler(cfg.Appointments, cfg.Session))
		r.Patch("/appointments/{id}", editAppointmentHandler(cfg.Appointments))
		r.Put("/appointments/{id}/status", updateStatusHandler(cfg.Appointments))
		r.Delete("/appointments/{id}", deleteAppointmentHandler(cfg.Appointments))

		// Patients and contacts
		r.Get("/patients", listPatientsHandler(cfg.Patients))
		r.Get("/patients/{id}", getPatientHandler(cfg.Patients))
		r.Post("/patients", createPatientHandler(cfg.Patients))
		r.Get("/contacts", listContactsHandler(cfg.Patients))

		// Slots
		r.Get("/slots", listSlotsHandler(cfg.Slots, cfg.Clock))
		r.Post("/slots", createSlotHandler(cfg.Slots))
		r.Post("/slots/generate", generateSlotsHandler(cfg.Slots))
		r.Patch("/slots/{id}/toggle", toggleSlotHandler(cfg.Slots))
		r.Delete("/slots/{id}", deleteSlotHandler(cfg.Slots))

		r.Get("/dashboard", dashboardHandler(cfg.Dashboard, cfg.Clock))

		r.Get("/session", sessionHandler(cfg.Session))
		r.Post("/session/refresh", refreshSessionHandler(cfg.Session))
	})

	return r
}
