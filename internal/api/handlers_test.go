package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultorio/agenda/internal/apperr"
	"github.com/consultorio/agenda/internal/appointment"
	"github.com/consultorio/agenda/internal/calendar"
	"github.com/consultorio/agenda/internal/dashboard"
	"github.com/consultorio/agenda/internal/metrics"
	"github.com/consultorio/agenda/internal/patient"
	redisclient "github.com/consultorio/agenda/internal/redis"
	"github.com/consultorio/agenda/internal/session"
	"github.com/consultorio/agenda/internal/slot"
	"github.com/consultorio/agenda/internal/status"
)

type fakeAppointments struct {
	mu          sync.Mutex
	creates     int
	lastCreate  appointment.CreateInput
	lastStatus  appointment.StatusOptions
	lastDelete  int
	createErr   error
	panics      int
	statusErr   error
	warnings    []apperr.Warning
	listByRange [2]string
}

func (f *fakeAppointments) CreateAppointment(_ context.Context, in appointment.CreateInput) (*appointment.Appointment, []apperr.Warning, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	f.lastCreate = in
	if f.panics > 0 {
		f.panics--
		panic("appointment store exploded")
	}
	if f.createErr != nil {
		return nil, nil, f.createErr
	}
	return &appointment.Appointment{ID: "a1", Date: in.Date, Time: in.Time, Status: status.Agendada, PatientName: in.PatientName, Revision: 1}, f.warnings, nil
}

func (f *fakeAppointments) UpdateStatus(_ context.Context, id, token string, _ *string, opts appointment.StatusOptions) (*appointment.Appointment, error) {
	f.lastStatus = opts
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	st, err := status.Parse(token)
	if err != nil {
		return nil, err
	}
	return &appointment.Appointment{ID: id, Status: st, Revision: 2}, nil
}

func (f *fakeAppointments) UpdateAppointment(_ context.Context, id string, in appointment.EditInput, _ int) (*appointment.Appointment, error) {
	a := &appointment.Appointment{ID: id, Revision: 3}
	if in.Time != nil {
		a.Time = *in.Time
	}
	return a, nil
}

func (f *fakeAppointments) DeleteAppointment(_ context.Context, id string, rev int) error {
	f.lastDelete = rev
	if id == "missing" {
		return appointment.ErrAppointmentNotFound
	}
	return nil
}

func (f *fakeAppointments) GetAppointment(_ context.Context, id string) (*appointment.Appointment, error) {
	if id == "missing" {
		return nil, appointment.ErrAppointmentNotFound
	}
	return &appointment.Appointment{ID: id, Revision: 4}, nil
}

func (f *fakeAppointments) ListByDate(_ context.Context, date string) ([]appointment.Appointment, error) {
	if _, err := calendar.ParseDate(date); err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *fakeAppointments) ListByRange(_ context.Context, from, to string) ([]appointment.Appointment, error) {
	f.listByRange = [2]string{from, to}
	return []appointment.Appointment{{ID: "a1"}}, nil
}

func (f *fakeAppointments) ListAll(context.Context) ([]appointment.Appointment, error) {
	return []appointment.Appointment{{ID: "a1"}, {ID: "a2"}}, nil
}

type fakePatients struct{}

func (fakePatients) ListPatients(context.Context) ([]patient.Patient, error) {
	return nil, apperr.Upstream("patients_unavailable", errors.New("down"))
}

func (fakePatients) GetPatient(_ context.Context, id string) (*patient.Patient, error) {
	return &patient.Patient{ID: id}, nil
}

func (fakePatients) CreatePatient(_ context.Context, p patient.Patient) (*patient.Patient, []apperr.Warning, error) {
	p.ID = "p1"
	return &p, []apperr.Warning{{Code: apperr.WarnDuplicateCPF, Message: "cpf already on file"}}, nil
}

func (fakePatients) ListContacts(context.Context) ([]patient.Contact, error) {
	return nil, nil
}

type fakeSlots struct {
	lastDate string
}

func (f *fakeSlots) CreateSlot(_ context.Context, date, hm string, _ bool) (*slot.Slot, error) {
	if date == "2025-03-10" && hm == "09:00" {
		return nil, slot.ErrSlotExists
	}
	return &slot.Slot{ID: "s1", Date: date, Time: hm, IsActive: true}, nil
}

func (f *fakeSlots) GenerateDay(_ context.Context, date, from, to string, step int, _ bool) ([]slot.Slot, error) {
	times, err := calendar.Steps(from, to, step)
	if err != nil {
		return nil, err
	}
	out := make([]slot.Slot, len(times))
	for i, hm := range times {
		out[i] = slot.Slot{Date: date, Time: hm, IsActive: true}
	}
	return out, nil
}

func (f *fakeSlots) ToggleSlot(_ context.Context, id string) (*slot.Slot, error) {
	return &slot.Slot{ID: id}, nil
}

func (f *fakeSlots) DeleteSlot(context.Context, string) error { return nil }

func (f *fakeSlots) ListSlotsForDate(_ context.Context, date string) ([]slot.Slot, error) {
	f.lastDate = date
	return nil, nil
}

type fakeDashboard struct{}

func (fakeDashboard) Load(_ context.Context, date string) (*dashboard.Dashboard, error) {
	d := dashboard.Build(date, nil, nil)
	d.Degraded = true
	return &d, nil
}

var testNow = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

type testServer struct {
	handler http.Handler
	appts   *fakeAppointments
	slots   *fakeSlots
	reg     *prometheus.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, nil)
}

func newTestServerWith(t *testing.T, limiter *RateLimiter) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	reg := prometheus.NewRegistry()
	clock := calendar.FixedClock(testNow)
	ts := &testServer{appts: &fakeAppointments{}, slots: &fakeSlots{}, reg: reg}
	ts.handler = NewRouter(RouterConfig{
		Appointments: ts.appts,
		Patients:     fakePatients{},
		Slots:        ts.slots,
		Dashboard:    fakeDashboard{},
		Session:      session.NewManager(session.StaticSource{DoctorID: "dr-1", DoctorName: "Dra. Helena"}, clock, zerolog.Nop()),
		Idempotency:  redisclient.NewIdempotencyStore(client, time.Minute, time.Hour),
		RateLimiter:  limiter,
		Health:       NewHealthHandler(nil, PingFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() }), "test", "v0"),
		Metrics:      metrics.New(reg),
		Gatherer:     reg,
		Clock:        clock,
		Logger:       zerolog.Nop(),
	})
	return ts
}

func (ts *testServer) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var rdr *bytes.Reader
	if body != "" {
		rdr = bytes.NewReader([]byte(body))
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

const createBody = `{"date":"2025-03-10","time":"09:00","patient_name":"Ana Souza","medical_patient_id":"p1"}`

func TestCreateAppointmentHandler(t *testing.T) {
	ts := newTestServer(t)
	ts.appts.warnings = []apperr.Warning{{Code: apperr.WarnNoActiveSlot, Message: "no open slot"}}

	rec := ts.do(http.MethodPost, "/appointments", createBody)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, `"1"`, rec.Header().Get("ETag"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "a1", resp.ID)
	assert.Equal(t, status.Agendada, resp.Status)
	require.Len(t, resp.Warnings, 1)
	assert.Equal(t, apperr.WarnNoActiveSlot, resp.Warnings[0].Code)

	// created_by defaults to the session provider
	assert.Equal(t, "dr-1", ts.appts.lastCreate.CreatedBy)
}

func TestCreateAppointmentHandlerErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		body     string
		wantCode int
		wantErr  string
	}{
		{"bad json", nil, `{`, http.StatusBadRequest, "invalid_request_body"},
		{"validation", calendar.ErrMissingDate, createBody, http.StatusBadRequest, "missing_date"},
		{"double booking", appointment.ErrDoubleBooking, createBody, http.StatusConflict, "double_booking"},
		{"lock busy", redisclient.ErrLockNotAcquired, createBody, http.StatusConflict, "booking_in_progress"},
		{"upstream", apperr.Upstream("db_unavailable", errors.New("conn refused")), createBody, http.StatusServiceUnavailable, "db_unavailable"},
		{"internal", errors.New("boom"), createBody, http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.appts.createErr = tt.err

			rec := ts.do(http.MethodPost, "/appointments", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantErr, decodeError(t, rec).Error)
		})
	}
}

func TestIdempotentCreateReplays(t *testing.T) {
	ts := newTestServer(t)

	first := ts.do(http.MethodPost, "/appointments", createBody, IdempotencyKeyHeader, "k-1")
	require.Equal(t, http.StatusCreated, first.Code)

	second := ts.do(http.MethodPost, "/appointments", createBody, IdempotencyKeyHeader, "k-1")
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, ts.appts.creates)

	third := ts.do(http.MethodPost, "/appointments", createBody, IdempotencyKeyHeader, "k-2")
	require.Equal(t, http.StatusCreated, third.Code)
	assert.Equal(t, 2, ts.appts.creates)
}

func TestIdempotencyReleasesKeyOnServerError(t *testing.T) {
	ts := newTestServer(t)
	ts.appts.createErr = errors.New("boom")

	rec := ts.do(http.MethodPost, "/appointments", createBody, IdempotencyKeyHeader, "k-1")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	ts.appts.createErr = nil
	rec = ts.do(http.MethodPost, "/appointments", createBody, IdempotencyKeyHeader, "k-1")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 2, ts.appts.creates)
}

func TestIdempotencyReleasesKeyWhenHandlerPanics(t *testing.T) {
	ts := newTestServer(t)
	ts.appts.panics = 1

	rec := ts.do(http.MethodPost, "/appointments", createBody, IdempotencyKeyHeader, "k-1")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = ts.do(http.MethodPost, "/appointments", createBody, IdempotencyKeyHeader, "k-1")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, rec.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, 2, ts.appts.creates)
}

func TestUpdateStatusHandlerUsesIfMatch(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPut, "/appointments/a1/status", `{"status":"COMPLETED"}`, "If-Match", `"1"`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ts.appts.lastStatus.ExpectedRevision)
	assert.Equal(t, `"2"`, rec.Header().Get("ETag"))

	var appt appointment.Appointment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &appt))
	assert.Equal(t, status.Concluida, appt.Status)
}

func TestUpdateStatusHandlerErrors(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPut, "/appointments/a1/status", `{"status":"remarcada"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unknown_status", decodeError(t, rec).Error)

	rec = ts.do(http.MethodPut, "/appointments/a1/status", `{"status":"done"}`, "If-Match", "abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_revision", decodeError(t, rec).Error)

	ts.appts.statusErr = appointment.ErrRevisionMismatch
	rec = ts.do(http.MethodPut, "/appointments/a1/status", `{"status":"done","revision":1}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "revision_mismatch", decodeError(t, rec).Error)
	assert.Equal(t, 1, ts.appts.lastStatus.ExpectedRevision)
}

func TestEditAppointmentHandler(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPatch, "/appointments/a1", `{"time":"10:30"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"time":"10:30"`)
}

func TestDeleteAppointmentHandler(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodDelete, "/appointments/a1?revision=3", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 3, ts.appts.lastDelete)

	rec = ts.do(http.MethodDelete, "/appointments/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "appointment_not_found", decodeError(t, rec).Error)
}

func TestListAppointmentsHandler(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/appointments", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var all []appointment.Appointment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all, 2)

	rec = ts.do(http.MethodGet, "/appointments?from=2025-03-01&to=2025-03-31", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, [2]string{"2025-03-01", "2025-03-31"}, ts.appts.listByRange)

	rec = ts.do(http.MethodGet, "/appointments?from=2025-03-01", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAgendaHandlers(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/agenda/2025-03-10", "/appointments/date/2025-03-10"} {
		rec := ts.do(http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "[]\n", rec.Body.String())
	}

	rec := ts.do(http.MethodGet, "/agenda/not-a-date", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAppointmentHandler(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/appointments/a9", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `"4"`, rec.Header().Get("ETag"))

	rec = ts.do(http.MethodGet, "/appointments/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPatientHandlers(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/patients", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = ts.do(http.MethodPost, "/patients", `{"name":"Ana Souza","cpf":"123.456.789-09"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp PatientResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "p1", resp.ID)
	require.Len(t, resp.Warnings, 1)
	assert.Equal(t, apperr.WarnDuplicateCPF, resp.Warnings[0].Code)

	rec = ts.do(http.MethodGet, "/contacts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestSlotHandlers(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/slots", `{"date":"2025-03-10","time":"09:00"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(http.MethodPost, "/slots", `{"date":"2025-03-10","time":"10:00"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(http.MethodPost, "/slots/generate", `{"date":"2025-03-10","from":"08:00","to":"10:00"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var generated []slot.Slot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &generated))
	assert.Len(t, generated, 4)

	rec = ts.do(http.MethodGet, "/slots", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2025-03-10", ts.slots.lastDate)

	rec = ts.do(http.MethodPatch, "/slots/s1/toggle", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodDelete, "/slots/s1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestDashboardAndSessionHandlers(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/dashboard", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var d dashboard.Dashboard
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, "2025-03-10", d.Date)
	assert.True(t, d.Degraded)

	rec = ts.do(http.MethodGet, "/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"doctor_id":"dr-1"`)

	rec = ts.do(http.MethodPost, "/session/refresh", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/health/ready", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ready ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.Equal(t, "ok", ready.Status)
	assert.Equal(t, "ok", ready.Dependencies["redis"])

	rec = ts.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "agenda_http_request_duration_seconds"))
}

func TestReadinessDegradedWithoutRedis(t *testing.T) {
	h := NewHealthHandler(nil, PingFunc(func(context.Context) error { return errors.New("down") }), "test", "v0")

	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
}
