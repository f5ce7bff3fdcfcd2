package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/consultorio/agenda/internal/apperr"
	"github.com/consultorio/agenda/internal/calendar"
	"github.com/consultorio/agenda/internal/config"
	"github.com/consultorio/agenda/internal/identity"
	"github.com/consultorio/agenda/internal/metrics"
	"github.com/consultorio/agenda/internal/patient"
	redisclient "github.com/consultorio/agenda/internal/redis"
	"github.com/consultorio/agenda/internal/status"
)

const (
	EventAppointmentCreated       = "APPOINTMENT_CREATED"
	EventAppointmentUpdated       = "APPOINTMENT_UPDATED"
	EventAppointmentStatusChanged = "APPOINTMENT_STATUS_CHANGED"
	EventAppointmentDeleted       = "APPOINTMENT_DELETED"
)

var (
	ErrMissingIdentity   = apperr.Validation("missing_identity", "appointment needs a patient id, contact id or patient name")
	ErrInvalidType       = apperr.Validation("invalid_type", "unknown appointment type")
	ErrInvalidRange      = apperr.Validation("invalid_range", "from must not be after to")
	ErrSlotOccupied      = apperr.Conflict("slot_occupied", "another active appointment already occupies this date and time")
	ErrBookingInProgress = apperr.Conflict("booking_in_progress", "this time is currently being booked, please retry shortly")
)

// SlotChecker answers whether the clinician opened a slot at (date, time).
// Slots are advisory: a missing slot produces a warning, not an error.
type SlotChecker interface {
	HasActiveSlot(ctx context.Context, date, time string) (bool, error)
}

// PatientCatalog supplies the patients that bookings are resolved against
// before the double-booking check.
type PatientCatalog interface {
	ListPatients(ctx context.Context) ([]patient.Patient, error)
}

type Deps struct {
	Repo     Repository
	Slots    SlotChecker
	Patients PatientCatalog
	Locker   redisclient.Locker
	Clock    calendar.Clock
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
}

type Service struct {
	repo     Repository
	slots    SlotChecker
	patients PatientCatalog
	locker   redisclient.Locker
	clock    calendar.Clock
	metrics  *metrics.Metrics
	log      zerolog.Logger
	cfg      config.Config
}

func NewService(deps Deps, cfg config.Config) *Service {
	clock := deps.Clock
	if clock == nil {
		clock = calendar.SystemClock(cfg.Timezone)
	}
	return &Service{
		repo:     deps.Repo,
		slots:    deps.Slots,
		patients: deps.Patients,
		locker:   deps.Locker,
		clock:    clock,
		metrics:  deps.Metrics,
		log:      deps.Logger.With().Str("component", "appointment").Logger(),
		cfg:      cfg,
	}
}

type CreateInput struct {
	Date  string
	Time  string
	Type  string
	Notes *string

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

	CreatedBy string
	Source    string

	// Backfill allows dates before today, for recording past visits.
	Backfill bool
}

// CreateAppointment books a patient at (date, time). The check for an
// existing active booking and the insert run under a distributed lock so that
// two staff members booking the same patient at once cannot both succeed.
func (s *Service) CreateAppointment(ctx context.Context, in CreateInput) (*Appointment, []apperr.Warning, error) {
	appt, err := s.buildAppointment(in)
	if err != nil {
		s.metrics.ObserveBooking("invalid")
		return nil, nil, err
	}

	res, err := s.resolver(ctx)
	if err != nil {
		s.metrics.ObserveBooking("error")
		return nil, nil, err
	}
	appt.BookingKey = res.Key(appt.IdentityRef())

	err = s.locker.WithLock(ctx, s.lockKey(appt), func(lockCtx context.Context) error {
		// Inside the critical section re-check for an active booking
		if err := s.checkConflict(lockCtx, appt, res); err != nil {
			return err
		}
		if err := s.repo.Create(lockCtx, appt); err != nil {
			return err
		}

		s.logEvent(lockCtx, appt.ID, EventAppointmentCreated, map[string]any{
			"date":         appt.Date,
			"time":         appt.Time,
			"type":         appt.Type,
			"identity_key": appt.BookingKey,
			"source":       appt.Source,
			"created_by":   appt.CreatedBy,
		})
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			s.metrics.ObserveBooking("conflict")
			return nil, nil, ErrBookingInProgress
		}
		if apperr.KindOf(err) == apperr.KindConflict {
			s.metrics.ObserveBooking("conflict")
			return nil, nil, err
		}
		s.metrics.ObserveBooking("error")
		return nil, nil, fmt.Errorf("create appointment: %w", err)
	}

	s.metrics.ObserveBooking("created")
	s.log.Info().
		Str("appointment_id", appt.ID).
		Str("date", appt.Date).
		Str("time", appt.Time).
		Str("source", appt.Source).
		Msg("appointment created")

	return appt, s.slotWarnings(ctx, appt.Date, appt.Time), nil
}

func (s *Service) buildAppointment(in CreateInput) (*Appointment, error) {
	date, err := calendar.ParseDate(in.Date)
	if err != nil {
		return nil, err
	}
	hm, err := calendar.ParseTime(in.Time)
	if err != nil {
		return nil, err
	}
	typ, err := parseType(in.Type)
	if err != nil {
		return nil, err
	}
	if !in.Backfill && calendar.IsPast(s.clock, date) {
		return nil, calendar.ErrPastDate.Withf("cannot book on past date %s", date)
	}

	appt := &Appointment{
		ID:                     uuid.NewString(),
		Date:                   date,
		Time:                   hm,
		Type:                   typ,
		Status:                 status.Agendada,
		Notes:                  in.Notes,
		MedicalPatientID:       strings.TrimSpace(in.MedicalPatientID),
		CommunicationContactID: strings.TrimSpace(in.CommunicationContactID),
		PatientID:              strings.TrimSpace(in.PatientID),
		PatientName:            strings.TrimSpace(in.PatientName),
		PatientPhone:           in.PatientPhone,
		PatientWhatsapp:        in.PatientWhatsapp,
		PatientEmail:           in.PatientEmail,
		PatientBirthDate:       in.PatientBirthDate,
		PatientCPF:             in.PatientCPF,
		InsuranceType:          in.InsuranceType,
		InsurancePlan:          in.InsurancePlan,
		CreatedBy:              in.CreatedBy,
		Source:                 in.Source,
		Revision:               1,
	}
	if appt.IdentityRef().Empty() {
		return nil, ErrMissingIdentity
	}
	if appt.InsuranceType == "" {
		appt.InsuranceType = "particular"
	}
	if appt.Source == "" {
		appt.Source = SourceAgendar
	}
	return appt, nil
}

func parseType(raw string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(raw)))
	if t == "" {
		return TypeConsulta, nil
	}
	if !validTypes[t] {
		return "", ErrInvalidType.Withf("unknown appointment type %q", raw)
	}
	return t, nil
}

// lockKey serializes bookings that could collide. With exclusive slots any
// two bookings at the same time collide; otherwise only the same patient's.
func (s *Service) lockKey(a *Appointment) string {
	if s.cfg.ExclusiveSlots {
		return fmt.Sprintf("slot:%s:%s", a.Date, a.Time)
	}
	return fmt.Sprintf("patient:%s:%s:%s", a.IdentityKey(), a.Date, a.Time)
}

// checkConflict looks for another active appointment that a would collide
// with. Cancelled appointments never collide. Both sides are keyed through
// res so that one patient booked by id and by name is still one patient.
func (s *Service) checkConflict(ctx context.Context, a *Appointment, res *identity.Resolver) error {
	existing, err := s.repo.ListAt(ctx, a.Date, a.Time)
	if err != nil {
		return fmt.Errorf("check existing appointments: %w", err)
	}

	key := res.Key(a.IdentityRef())
	for _, other := range existing {
		if other.ID == a.ID || !other.NormalizedStatus().Active() {
			continue
		}
		if s.cfg.ExclusiveSlots {
			return ErrSlotOccupied.Withf("%s at %s is already taken by another appointment", a.Date, a.Time)
		}
		if res.Key(other.IdentityRef()) == key {
			return ErrDoubleBooking.Withf("patient already booked on %s at %s", a.Date, a.Time)
		}
	}
	return nil
}

func (s *Service) slotWarnings(ctx context.Context, date, hm string) []apperr.Warning {
	if s.slots == nil {
		return nil
	}
	ok, err := s.slots.HasActiveSlot(ctx, date, hm)
	if err != nil {
		s.log.Warn().Err(err).Str("date", date).Str("time", hm).Msg("slot lookup failed")
		return nil
	}
	if ok {
		return nil
	}
	return []apperr.Warning{{
		Code:    apperr.WarnNoActiveSlot,
		Message: fmt.Sprintf("no open slot on %s at %s", date, hm),
	}}
}

type StatusOptions struct {
	// ExpectedRevision, when non-zero, must match the stored revision.
	ExpectedRevision int
	// Override lets an administrator apply a transition the table forbids.
	Override bool
}

// UpdateStatus moves an appointment to the status named by token, which may
// be any recognized spelling.
func (s *Service) UpdateStatus(ctx context.Context, id, token string, notes *string, opts StatusOptions) (*Appointment, error) {
	to, err := status.Parse(token)
	if err != nil {
		return nil, err
	}

	appt, err := s.load(ctx, id, opts.ExpectedRevision)
	if err != nil {
		return nil, err
	}

	from := appt.NormalizedStatus()
	if err := status.Transition(from, to, opts.Override); err != nil {
		return nil, err
	}

	appt.Status = to
	if notes != nil {
		appt.Notes = notes
	}

	reactivated := !from.Active() && to.Active()
	var res *identity.Resolver
	if reactivated {
		if res, err = s.resolver(ctx); err != nil {
			return nil, err
		}
		appt.BookingKey = res.Key(appt.IdentityRef())
	}

	var updated *Appointment
	write := func(ctx context.Context) error {
		if reactivated {
			if err := s.checkConflict(ctx, appt, res); err != nil {
				return err
			}
		}
		var err error
		updated, err = s.repo.Update(ctx, appt, appt.Revision)
		return err
	}
	if reactivated {
		err = s.withBookingLock(ctx, appt, write)
	} else {
		err = write(ctx)
	}
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveStatusChange(string(to), opts.Override)
	s.logEvent(ctx, updated.ID, EventAppointmentStatusChanged, map[string]any{
		"from":     from,
		"to":       to,
		"override": opts.Override,
	})
	if opts.Override && !status.CanTransition(from, to) {
		s.log.Warn().Str("appointment_id", id).Str("from", string(from)).Str("to", string(to)).Msg("status transition forced by override")
	}
	return updated, nil
}

type EditInput struct {
	Date     *string
	Time     *string
	Type     *string
	Notes    *string
	Backfill bool
}

// UpdateAppointment edits date, time, type or notes. Moving an active
// appointment re-runs the double-booking check.
func (s *Service) UpdateAppointment(ctx context.Context, id string, in EditInput, expectedRevision int) (*Appointment, error) {
	appt, err := s.load(ctx, id, expectedRevision)
	if err != nil {
		return nil, err
	}

	moved := false
	if in.Date != nil {
		date, err := calendar.ParseDate(*in.Date)
		if err != nil {
			return nil, err
		}
		if date != appt.Date {
			if !in.Backfill && calendar.IsPast(s.clock, date) {
				return nil, calendar.ErrPastDate.Withf("cannot move appointment to past date %s", date)
			}
			appt.Date = date
			moved = true
		}
	}
	if in.Time != nil {
		hm, err := calendar.ParseTime(*in.Time)
		if err != nil {
			return nil, err
		}
		if hm != appt.Time {
			appt.Time = hm
			moved = true
		}
	}
	if in.Type != nil {
		typ, err := parseType(*in.Type)
		if err != nil {
			return nil, err
		}
		appt.Type = typ
	}
	if in.Notes != nil {
		appt.Notes = in.Notes
	}

	var res *identity.Resolver
	if moved {
		if res, err = s.resolver(ctx); err != nil {
			return nil, err
		}
		appt.BookingKey = res.Key(appt.IdentityRef())
	}

	var updated *Appointment
	write := func(ctx context.Context) error {
		if moved && appt.NormalizedStatus().Active() {
			if err := s.checkConflict(ctx, appt, res); err != nil {
				return err
			}
		}
		var err error
		updated, err = s.repo.Update(ctx, appt, appt.Revision)
		return err
	}
	if moved {
		err = s.withBookingLock(ctx, appt, write)
	} else {
		err = write(ctx)
	}
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, updated.ID, EventAppointmentUpdated, map[string]any{
		"date":  updated.Date,
		"time":  updated.Time,
		"type":  updated.Type,
		"moved": moved,
	})
	return updated, nil
}

// DeleteAppointment removes the record entirely. Use UpdateStatus with
// CANCELADA to keep it for reporting. Patient records are never touched.
func (s *Service) DeleteAppointment(ctx context.Context, id string, expectedRevision int) error {
	if err := s.repo.Delete(ctx, id, expectedRevision); err != nil {
		return err
	}
	s.logEvent(ctx, id, EventAppointmentDeleted, map[string]any{})
	s.log.Info().Str("appointment_id", id).Msg("appointment deleted")
	return nil
}

func (s *Service) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

// ListByDate returns the day's appointments ordered by time.
func (s *Service) ListByDate(ctx context.Context, date string) ([]Appointment, error) {
	date, err := calendar.ParseDate(date)
	if err != nil {
		return nil, err
	}
	appts, err := s.repo.ListByDate(ctx, date)
	if err != nil {
		return nil, err
	}
	sortByDateTime(appts)
	return appts, nil
}

func (s *Service) ListByRange(ctx context.Context, from, to string) ([]Appointment, error) {
	from, err := calendar.ParseDate(from)
	if err != nil {
		return nil, err
	}
	to, err = calendar.ParseDate(to)
	if err != nil {
		return nil, err
	}
	if from > to {
		return nil, ErrInvalidRange
	}
	appts, err := s.repo.ListByRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	sortByDateTime(appts)
	return appts, nil
}

func (s *Service) ListAll(ctx context.Context) ([]Appointment, error) {
	appts, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	sortByDateTime(appts)
	return appts, nil
}

// PurgeTerminal deletes concluded, cancelled and no-show appointments dated
// before the given day. Intended to be called by the purge worker.
func (s *Service) PurgeTerminal(ctx context.Context, before string) (int64, error) {
	before, err := calendar.ParseDate(before)
	if err != nil {
		return 0, err
	}
	n, err := s.repo.DeleteTerminalBefore(ctx, before, []status.Status{status.Concluida, status.Cancelada, status.NoShow})
	if err != nil {
		return 0, fmt.Errorf("purge terminal appointments: %w", err)
	}
	s.metrics.AddPurged(n)
	return n, nil
}

// PurgeCutoff is the first date kept for a given retention.
func (s *Service) PurgeCutoff(retention time.Duration) string {
	return s.clock.Now().Add(-retention).Format(calendar.DateLayout)
}

func (s *Service) load(ctx context.Context, id string, expectedRevision int) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if expectedRevision != 0 && appt.Revision != expectedRevision {
		return nil, ErrRevisionMismatch.Withf("appointment %s is at revision %d, not %d", id, appt.Revision, expectedRevision)
	}
	return appt, nil
}

// resolver indexes the current patient catalog. Without a catalog configured
// it returns nil and bookings are keyed by their own fields. A failing
// catalog fails the booking rather than risk keying it differently.
func (s *Service) resolver(ctx context.Context) (*identity.Resolver, error) {
	if s.patients == nil {
		return nil, nil
	}
	catalog, err := s.patients.ListPatients(ctx)
	if err != nil {
		return nil, fmt.Errorf("load patient catalog: %w", err)
	}
	return identity.NewResolver(catalog), nil
}

func (s *Service) withBookingLock(ctx context.Context, a *Appointment, fn func(ctx context.Context) error) error {
	err := s.locker.WithLock(ctx, s.lockKey(a), fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return ErrBookingInProgress
	}
	return err
}

func (s *Service) logEvent(ctx context.Context, appointmentID string, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.clock.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).
			Str("event_type", eventType).
			Str("appointment_id", appointmentID).
			Msg("failed to insert event log")
	}
}

func sortByDateTime(appts []Appointment) {
	sort.SliceStable(appts, func(i, j int) bool {
		if appts[i].Date != appts[j].Date {
			return appts[i].Date < appts[j].Date
		}
		return appts[i].Time < appts[j].Time
	})
}
