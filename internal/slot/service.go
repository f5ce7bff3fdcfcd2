package slot

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/consultorio/agenda/internal/calendar"
)

type Service struct {
	repo  Repository
	clock calendar.Clock
	log   zerolog.Logger
}

func NewService(repo Repository, clock calendar.Clock, log zerolog.Logger) *Service {
	return &Service{
		repo:  repo,
		clock: clock,
		log:   log.With().Str("component", "slot").Logger(),
	}
}

// CreateSlot opens a slot. Past dates are refused unless allowPast is set,
// which is how old paper agendas get back-filled.
func (s *Service) CreateSlot(ctx context.Context, date, hm string, allowPast bool) (*Slot, error) {
	date, err := calendar.ParseDate(date)
	if err != nil {
		return nil, err
	}
	hm, err = calendar.ParseSlotTime(hm)
	if err != nil {
		return nil, err
	}
	if !allowPast && calendar.IsPast(s.clock, date) {
		return nil, calendar.ErrPastDate.Withf("cannot open a slot on past date %s", date)
	}

	if _, err := s.repo.FindActive(ctx, date, hm); err == nil {
		return nil, ErrSlotExists.Withf("an active slot already exists on %s at %s", date, hm)
	} else if !errors.Is(err, ErrSlotNotFound) {
		return nil, fmt.Errorf("check existing slot: %w", err)
	}

	sl := &Slot{
		ID:       uuid.NewString(),
		Date:     date,
		Time:     hm,
		IsActive: true,
	}
	if err := s.repo.Create(ctx, sl); err != nil {
		return nil, err
	}

	s.log.Info().Str("slot_id", sl.ID).Str("date", date).Str("time", hm).Msg("slot created")
	return sl, nil
}

// GenerateDay opens every slot from "from" until "to" in step minutes,
// skipping times that already have an active slot.
func (s *Service) GenerateDay(ctx context.Context, date, from, to string, step int, allowPast bool) ([]Slot, error) {
	date, err := calendar.ParseDate(date)
	if err != nil {
		return nil, err
	}
	times, err := calendar.Steps(from, to, step)
	if err != nil {
		return nil, err
	}

	var created []Slot
	for _, hm := range times {
		sl, err := s.CreateSlot(ctx, date, hm, allowPast)
		if err != nil {
			if errors.Is(err, ErrSlotExists) {
				continue
			}
			return created, err
		}
		created = append(created, *sl)
	}
	return created, nil
}

// ToggleSlot flips the active flag.
func (s *Service) ToggleSlot(ctx context.Context, id string) (*Slot, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	activate := !current.IsActive
	if activate {
		other, err := s.repo.FindActive(ctx, current.Date, current.Time)
		if err == nil && other.ID != current.ID {
			return nil, ErrSlotExists.Withf("another active slot exists on %s at %s", current.Date, current.Time)
		}
		if err != nil && !errors.Is(err, ErrSlotNotFound) {
			return nil, fmt.Errorf("check existing slot: %w", err)
		}
	}

	updated, err := s.repo.SetActive(ctx, id, activate)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("slot_id", id).Bool("is_active", updated.IsActive).Msg("slot toggled")
	return updated, nil
}

// DeleteSlot removes the slot. Appointments at the same date and time are
// left alone.
func (s *Service) DeleteSlot(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("slot_id", id).Msg("slot deleted")
	return nil
}

func (s *Service) ListSlotsForDate(ctx context.Context, date string) ([]Slot, error) {
	date, err := calendar.ParseDate(date)
	if err != nil {
		return nil, err
	}
	slots, err := s.repo.ListByDate(ctx, date)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(slots, func(i, j int) bool { return slots[i].Time < slots[j].Time })
	return slots, nil
}

// HasActiveSlot reports whether an active slot exists at (date, time).
func (s *Service) HasActiveSlot(ctx context.Context, date, hm string) (bool, error) {
	_, err := s.repo.FindActive(ctx, date, hm)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrSlotNotFound) {
		return false, nil
	}
	return false, err
}
