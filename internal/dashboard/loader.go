package dashboard

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/consultorio/agenda/internal/apperr"
	"github.com/consultorio/agenda/internal/appointment"
	"github.com/consultorio/agenda/internal/calendar"
	"github.com/consultorio/agenda/internal/metrics"
	"github.com/consultorio/agenda/internal/patient"
)

type AppointmentSource interface {
	ListByDate(ctx context.Context, date string) ([]appointment.Appointment, error)
}

type PatientSource interface {
	ListPatients(ctx context.Context) ([]patient.Patient, error)
}

// patientsUnavailableMessage is shown in place of the catalog error, which
// stays in the log.
const patientsUnavailableMessage = "patient catalog unavailable; names shown from appointment data"

// Loader fetches both sources and builds the dashboard. Overlapping loads of
// the same date share one fetch.
type Loader struct {
	appts    AppointmentSource
	patients PatientSource
	metrics  *metrics.Metrics
	log      zerolog.Logger
	timeout  time.Duration

	group singleflight.Group
}

func NewLoader(appts AppointmentSource, patients PatientSource, m *metrics.Metrics, log zerolog.Logger) *Loader {
	return &Loader{
		appts:    appts,
		patients: patients,
		metrics:  m,
		log:      log.With().Str("component", "dashboard").Logger(),
		timeout:  10 * time.Second,
	}
}

// Load returns the dashboard for date. A patient catalog failure degrades the
// result; an appointments failure is returned as an upstream error. The
// returned value may be shared with concurrent callers and must not be
// modified.
func (l *Loader) Load(ctx context.Context, date string) (*Dashboard, error) {
	date, err := calendar.ParseDate(date)
	if err != nil {
		return nil, err
	}

	ch := l.group.DoChan(date, func() (any, error) {
		// detached so one caller going away does not fail the others
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
		defer cancel()
		return l.load(loadCtx, date)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Dashboard), nil
	}
}

func (l *Loader) load(ctx context.Context, date string) (*Dashboard, error) {
	var (
		appts       []appointment.Appointment
		patients    []patient.Patient
		patientsErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		appts, err = l.appts.ListByDate(gctx, date)
		return err
	})
	g.Go(func() error {
		// never fails the group; a missing catalog only degrades the result
		patients, patientsErr = l.patients.ListPatients(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		l.metrics.ObserveDashboard("error")
		l.log.Error().Err(err).Str("date", date).Msg("dashboard appointments unavailable")
		if apperr.KindOf(err) == apperr.KindUpstream {
			return nil, err
		}
		return nil, apperr.Upstream("appointments_unavailable", err)
	}

	d := Build(date, appts, patients)
	if patientsErr != nil {
		d.Degraded = true
		d.Warnings = append(d.Warnings, apperr.Warning{
			Code:    apperr.WarnPatientsUnavailable,
			Message: patientsUnavailableMessage,
		})
		l.log.Warn().Err(patientsErr).Str("date", date).Msg("dashboard degraded: patient catalog unavailable")
		l.metrics.ObserveDashboard("degraded")
	} else {
		l.metrics.ObserveDashboard("ok")
	}

	for _, c := range d.TodayPatients {
		l.metrics.ObserveResolution(string(c.Rule))
	}
	for _, w := range d.Warnings {
		if w.Code == apperr.WarnUnknownStatus {
			l.log.Warn().Str("date", date).Msg(w.Message)
		}
	}

	return &d, nil
}
