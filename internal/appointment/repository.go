package appointment

import (
	"context"

	"github.com/consultorio/agenda/internal/apperr"
	"github.com/consultorio/agenda/internal/status"
)

var (
	ErrAppointmentNotFound = apperr.NotFound("appointment_not_found", "appointment not found")
	ErrRevisionMismatch    = apperr.Conflict("revision_mismatch", "appointment was changed by someone else, reload and retry")
	ErrDoubleBooking       = apperr.Conflict("double_booking", "patient already has an active appointment at this date and time")
)

// Repository contains all DB interactions needed by the service.
// expectedRevision 0 skips the optimistic check.
type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id string) (*Appointment, error)

	// For conflict checks: every appointment at (date, time), any status.
	ListAt(ctx context.Context, date, time string) ([]Appointment, error)

	Update(ctx context.Context, a *Appointment, expectedRevision int) (*Appointment, error)
	Delete(ctx context.Context, id string, expectedRevision int) error

	ListByDate(ctx context.Context, date string) ([]Appointment, error)
	ListByRange(ctx context.Context, from, to string) ([]Appointment, error)
	ListAll(ctx context.Context) ([]Appointment, error)

	// Retention
	DeleteTerminalBefore(ctx context.Context, date string, statuses []status.Status) (int64, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
