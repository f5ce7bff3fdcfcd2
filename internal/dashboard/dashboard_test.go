package dashboard

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultorio/agenda/internal/apperr"
	"github.com/consultorio/agenda/internal/appointment"
	"github.com/consultorio/agenda/internal/identity"
	"github.com/consultorio/agenda/internal/patient"
	"github.com/consultorio/agenda/internal/status"
)

const day = "2025-03-10"

func catalog() []patient.Patient {
	return []patient.Patient{
		{ID: "c1", Name: "Maria Silva", Phone: "11988887777"},
		{ID: "p2", FullName: "João Pereira", Whatsapp: "11911112222"},
		{ID: "c1", Name: "Maria Silva (dup)"},
	}
}

func appts() []appointment.Appointment {
	return []appointment.Appointment{
		{ID: "a1", Date: day, Time: "10:00", Status: "COMPLETED", CommunicationContactID: "c1", PatientName: "Maria Silva"},
		{ID: "a2", Date: day, Time: "09:00", Status: status.Agendada, MedicalPatientID: "p2"},
		{ID: "a3", Date: day, Time: "11:00", Status: status.Cancelada, PatientName: "Walk In"},
		{ID: "a4", Date: "2025-03-11", Time: "09:00", Status: status.Agendada, MedicalPatientID: "p2"},
		{ID: "a5", Date: day, Time: "15:00", Status: "confirmed", CommunicationContactID: "c1"},
	}
}

func TestBuildTodayPatients(t *testing.T) {
	d := Build(day, appts(), catalog())

	require.Len(t, d.TodayPatients, 3)

	// ordered by first visit time
	assert.Equal(t, "p2", d.TodayPatients[0].Patient.ID)
	assert.Equal(t, "João Pereira", d.TodayPatients[0].Patient.Name)
	assert.Equal(t, "11911112222", d.TodayPatients[0].Patient.Phone)

	maria := d.TodayPatients[1]
	assert.Equal(t, "c1", maria.Patient.ID)
	assert.True(t, maria.Linked)
	assert.Equal(t, identity.RuleCommunicationContactID, maria.Rule)
	assert.Equal(t, "c1", maria.RecordID)
	assert.Equal(t, []string{"a1", "a5"}, maria.AppointmentIDs())
	assert.Equal(t, status.Concluida, maria.Visits[0].Status)
	assert.Equal(t, status.Confirmada, maria.Visits[1].Status)

	walkIn := d.TodayPatients[2]
	assert.False(t, walkIn.Linked)
	assert.Empty(t, walkIn.RecordID)
	assert.Equal(t, "temp-a3", walkIn.Patient.ID)
	assert.Equal(t, "Walk In", walkIn.Patient.Name)
}

func TestBuildAttendedAndStats(t *testing.T) {
	d := Build(day, appts(), catalog())

	require.Len(t, d.AttendedPatients, 1)
	assert.Equal(t, "c1", d.AttendedPatients[0].Patient.ID)

	assert.Equal(t, Stats{TotalPatients: 2, TodayConsultations: 4, CompletedToday: 1}, d.Stats)
	assert.False(t, d.Degraded)
}

func TestBuildAllPatientsDedupedAndCoalesced(t *testing.T) {
	d := Build(day, nil, catalog())

	require.Len(t, d.AllPatients, 2)
	assert.Equal(t, "Maria Silva", d.AllPatients[0].Name)
	assert.Equal(t, "11988887777", d.AllPatients[0].Whatsapp)
	assert.Equal(t, "João Pereira", d.AllPatients[1].Name)
	assert.Equal(t, patient.InsuranceParticular, d.AllPatients[1].Insurance.Type)
	assert.Empty(t, d.TodayPatients)
}

func TestBuildWarnings(t *testing.T) {
	in := append(appts(), appointment.Appointment{ID: "a6", Date: day, Time: "16:00", Status: "remarcada", MedicalPatientID: "p2"})
	d := Build(day, in, catalog())

	codes := make([]string, 0, len(d.Warnings))
	for _, w := range d.Warnings {
		codes = append(codes, w.Code)
	}
	assert.Contains(t, codes, apperr.WarnIdentitySynthesized)
	assert.Contains(t, codes, apperr.WarnUnknownStatus)
}

func TestBuildIsRepeatable(t *testing.T) {
	in := appts()
	first := Build(day, in, catalog())
	second := Build(day, in, catalog())
	assert.Equal(t, first, second)
	// inputs are untouched
	assert.Equal(t, status.Status("COMPLETED"), in[0].Status)
}

type fakeAppts struct {
	appts []appointment.Appointment
	err   error
}

func (f fakeAppts) ListByDate(_ context.Context, date string) ([]appointment.Appointment, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []appointment.Appointment
	for _, a := range f.appts {
		if a.Date == date {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakePatients struct {
	patients []patient.Patient
	err      error
}

func (f fakePatients) ListPatients(context.Context) ([]patient.Patient, error) {
	return f.patients, f.err
}

func TestLoaderLoad(t *testing.T) {
	l := NewLoader(fakeAppts{appts: appts()}, fakePatients{patients: catalog()}, nil, zerolog.Nop())

	d, err := l.Load(context.Background(), day)
	require.NoError(t, err)
	assert.False(t, d.Degraded)
	assert.Len(t, d.TodayPatients, 3)
	assert.Equal(t, 1, d.Stats.CompletedToday)
}

func TestLoaderDegradesWithoutPatients(t *testing.T) {
	down := apperr.Upstream("patients_unavailable", errors.New("dial tcp 10.0.0.7:5432: connection refused"))
	l := NewLoader(fakeAppts{appts: appts()}, fakePatients{err: down}, nil, zerolog.Nop())

	d, err := l.Load(context.Background(), day)
	require.NoError(t, err)
	assert.True(t, d.Degraded)
	assert.Empty(t, d.AllPatients)
	assert.Equal(t, 4, d.Stats.TodayConsultations)
	for _, c := range d.TodayPatients {
		assert.False(t, c.Linked)
	}

	var found bool
	for _, w := range d.Warnings {
		if w.Code == apperr.WarnPatientsUnavailable {
			found = true
			assert.Equal(t, patientsUnavailableMessage, w.Message)
			assert.NotContains(t, w.Message, "10.0.0.7")
		}
	}
	assert.True(t, found)
}

func TestLoaderFailsWithoutAppointments(t *testing.T) {
	l := NewLoader(fakeAppts{err: errors.New("timeout")}, fakePatients{patients: catalog()}, nil, zerolog.Nop())

	_, err := l.Load(context.Background(), day)
	require.Error(t, err)
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))
}

func TestLoaderRejectsBadDate(t *testing.T) {
	l := NewLoader(fakeAppts{}, fakePatients{}, nil, zerolog.Nop())

	_, err := l.Load(context.Background(), "10/03/2025")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}
