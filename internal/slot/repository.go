package slot

import (
	"context"

	"github.com/consultorio/agenda/internal/apperr"
)

var (
	ErrSlotNotFound = apperr.NotFound("slot_not_found", "slot not found")
	ErrSlotExists   = apperr.Conflict("slot_exists", "an active slot already exists for this date and time")
)

type Repository interface {
	Create(ctx context.Context, s *Slot) error
	GetByID(ctx context.Context, id string) (*Slot, error)
	// FindActive returns ErrSlotNotFound when no active slot exists at (date, time).
	FindActive(ctx context.Context, date, time string) (*Slot, error)
	SetActive(ctx context.Context, id string, active bool) (*Slot, error)
	Delete(ctx context.Context, id string) error
	ListByDate(ctx context.Context, date string) ([]Slot, error)
}
