package slot

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carelane/booking-api/internal/model"
	"github.com/carelane/booking-api/internal/repository"
	"github.com/carelane/booking-api/internal/service/capacity"
	apperrors "github.com/carelane/booking-api/pkg/errors"
	"github.com/carelane/booking-api/pkg/logger"
)

const dateLayout = "2006-01-02"
const clockLayout = "15:04"

// Service owns the catalog of bookable slots: bulk creation across date
// ranges, edits guarded against overlap and capacity conflicts, and the
// past-filtered active listing.
type Service struct {
	slots    repository.SlotRepository
	bookings repository.BookingRepository
	ledger   *capacity.Ledger
	loc      *time.Location
	logger   *logger.Logger

	now func() time.Time
}

func NewService(slots repository.SlotRepository, bookings repository.BookingRepository, ledger *capacity.Ledger, loc *time.Location, log *logger.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		slots:    slots,
		bookings: bookings,
		ledger:   ledger,
		loc:      loc,
		logger:   log,
		now:      time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

type plannedSlot struct {
	date       time.Time
	def        model.SlotDefinition
	start, end time.Time
	cap        int
}

// CreateSlots creates slots for every date in the inclusive range and every
// definition. Definitions whose (date, label, kind) already exist for the
// provider are skipped and reported, not failed. The whole batch is rejected
// before any insertion when a definition is invalid on its own, two
// definitions in the call overlap, or a definition collides with an existing
// active sibling.
func (s *Service) CreateSlots(ctx context.Context, req *model.CreateSlotsRequest) (*model.CreateSlotsResult, error) {
	from, err := time.ParseInLocation(dateLayout, req.FromDate, s.loc)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrInvalidRange, "invalid from_date %q", req.FromDate)
	}
	to, err := time.ParseInLocation(dateLayout, req.ToDate, s.loc)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrInvalidRange, "invalid to_date %q", req.ToDate)
	}
	if to.Before(from) {
		return nil, apperrors.New(apperrors.ErrInvalidRange, "to_date is before from_date").
			WithContext("from_date", req.FromDate).
			WithContext("to_date", req.ToDate)
	}

	defs := make([]struct {
		def        model.SlotDefinition
		start, end time.Duration
		cap        int
	}, len(req.Definitions))

	for i, def := range req.Definitions {
		start, err := parseClock(def.Start)
		if err != nil {
			return nil, apperrors.Newf(apperrors.ErrInvalidRange, "definition %q: invalid start %q", def.Label, def.Start)
		}
		end, err := parseClock(def.End)
		if err != nil {
			return nil, apperrors.Newf(apperrors.ErrInvalidRange, "definition %q: invalid end %q", def.Label, def.End)
		}
		if end <= start {
			return nil, apperrors.Newf(apperrors.ErrInvalidRange, "definition %q: end must be after start", def.Label).
				WithContext("label", def.Label)
		}

		capValue, err := resolveCapacity(def)
		if err != nil {
			return nil, err
		}

		defs[i].def = def
		defs[i].start = start
		defs[i].end = end
		defs[i].cap = capValue
	}

	// Definitions inside one call must not overlap each other.
	for i := 0; i < len(defs); i++ {
		for j := i + 1; j < len(defs); j++ {
			if defs[i].def.Kind != defs[j].def.Kind {
				continue
			}
			if defs[i].start < defs[j].end && defs[j].start < defs[i].end {
				return nil, apperrors.New(apperrors.ErrOverlapConflict, "definitions overlap within the batch").
					WithContext("label", defs[i].def.Label).
					WithContext("conflicting_label", defs[j].def.Label)
			}
		}
	}

	// Plan the whole batch before inserting anything: resolve duplicates to
	// skips and reject on collision with existing active siblings.
	var planned []plannedSlot
	var skipped []model.SkippedSlot

	for date := from; !date.After(to); date = date.AddDate(0, 0, 1) {
		for _, d := range defs {
			exists, err := s.slots.Exists(ctx, req.ProviderID, date, d.def.Label, d.def.Kind)
			if err != nil {
				return nil, fmt.Errorf("failed to check duplicate slot: %w", err)
			}
			if exists {
				skipped = append(skipped, model.SkippedSlot{
					Date:  date.Format(dateLayout),
					Label: d.def.Label,
				})
				continue
			}

			start := date.Add(d.start)
			end := date.Add(d.end)

			siblings, err := s.slots.FindOverlapping(ctx, req.ProviderID, date, d.def.Kind, start, end, nil)
			if err != nil {
				return nil, fmt.Errorf("failed to check slot overlap: %w", err)
			}
			if len(siblings) > 0 {
				return nil, apperrors.Newf(apperrors.ErrOverlapConflict, "definition %q overlaps existing slot %q", d.def.Label, siblings[0].Label).
					WithContext("label", d.def.Label).
					WithContext("date", date.Format(dateLayout)).
					WithContext("conflicting_slot_id", siblings[0].ID).
					WithContext("conflicting_label", siblings[0].Label)
			}

			planned = append(planned, plannedSlot{date: date, def: d.def, start: start, end: end, cap: d.cap})
		}
	}

	created := make([]*model.Slot, 0, len(planned))
	for _, p := range planned {
		slot := &model.Slot{
			ProviderID:  req.ProviderID,
			Date:        p.date,
			Label:       p.def.Label,
			StartTime:   p.start,
			EndTime:     p.end,
			MaxCapacity: p.cap,
			Kind:        p.def.Kind,
			Active:      true,
		}
		if err := s.slots.Create(ctx, slot); err != nil {
			return nil, fmt.Errorf("failed to create slot: %w", err)
		}
		created = append(created, slot)
	}

	s.logger.Info("slots created",
		"provider_id", req.ProviderID.String(),
		"created", len(created),
		"skipped", len(skipped))

	return &model.CreateSlotsResult{Created: created, Skipped: skipped}, nil
}

// UpdateSlot patches a slot, re-validating the time range against active
// siblings and the capacity against current admitted bookings.
func (s *Service) UpdateSlot(ctx context.Context, id uuid.UUID, patch *model.UpdateSlotRequest) (*model.Slot, error) {
	slot, err := s.slots.Get(ctx, id)
	if err != nil {
		return nil, apperrors.NotFound("slot", err)
	}

	if patch.Label != nil {
		slot.Label = *patch.Label
	}
	if patch.Start != nil {
		start, err := parseClock(*patch.Start)
		if err != nil {
			return nil, apperrors.Newf(apperrors.ErrInvalidRange, "invalid start %q", *patch.Start)
		}
		slot.StartTime = slot.Date.Add(start)
	}
	if patch.End != nil {
		end, err := parseClock(*patch.End)
		if err != nil {
			return nil, apperrors.Newf(apperrors.ErrInvalidRange, "invalid end %q", *patch.End)
		}
		slot.EndTime = slot.Date.Add(end)
	}
	if !slot.EndTime.After(slot.StartTime) {
		return nil, apperrors.New(apperrors.ErrInvalidRange, "end must be after start").
			WithContext("slot_id", slot.ID)
	}

	if patch.MaxCapacity != nil {
		newCap := *patch.MaxCapacity
		if newCap < model.MinSlotCapacity || newCap > model.MaxSlotCapacity {
			return nil, apperrors.Newf(apperrors.ErrCapacityOutOfBounds, "capacity %d outside [%d,%d]", newCap, model.MinSlotCapacity, model.MaxSlotCapacity)
		}

		admitted, err := s.bookings.CountActiveForSlot(ctx, slot.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count bookings: %w", err)
		}
		if newCap < admitted {
			return nil, apperrors.Newf(apperrors.ErrCapacityConflict, "capacity %d is below current bookings %d", newCap, admitted).
				WithContext("slot_id", slot.ID).
				WithContext("current_bookings", admitted).
				WithContext("requested_capacity", newCap)
		}
		slot.MaxCapacity = newCap
	}

	if patch.Active != nil {
		slot.Active = *patch.Active
	}

	siblings, err := s.slots.FindOverlapping(ctx, slot.ProviderID, slot.Date, slot.Kind, slot.StartTime, slot.EndTime, &slot.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check slot overlap: %w", err)
	}
	if len(siblings) > 0 {
		return nil, apperrors.Newf(apperrors.ErrOverlapConflict, "time range collides with slot %q", siblings[0].Label).
			WithContext("slot_id", slot.ID).
			WithContext("conflicting_slot_id", siblings[0].ID).
			WithContext("conflicting_label", siblings[0].Label)
	}

	if err := s.slots.Update(ctx, slot); err != nil {
		return nil, fmt.Errorf("failed to update slot: %w", err)
	}
	return slot, nil
}

// DeactivateSlot soft-deletes a slot. Always allowed; history against the
// slot stays intact.
func (s *Service) DeactivateSlot(ctx context.Context, id uuid.UUID) error {
	slot, err := s.slots.Get(ctx, id)
	if err != nil {
		return apperrors.NotFound("slot", err)
	}

	slot.Active = false
	if err := s.slots.Update(ctx, slot); err != nil {
		return fmt.Errorf("failed to deactivate slot: %w", err)
	}
	return nil
}

// DeleteSlot hard-deletes a slot. Refused once any booking was ever admitted
// against it, to preserve audit history; deactivate instead.
func (s *Service) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	slot, err := s.slots.Get(ctx, id)
	if err != nil {
		return apperrors.NotFound("slot", err)
	}

	ever, err := s.bookings.CountEverForSlot(ctx, slot.ID)
	if err != nil {
		return fmt.Errorf("failed to count bookings: %w", err)
	}
	if ever > 0 {
		return apperrors.Newf(apperrors.ErrHasBookings, "slot has %d bookings; deactivate instead", ever).
			WithContext("slot_id", slot.ID).
			WithContext("bookings", ever)
	}

	return s.slots.Delete(ctx, id)
}

// GetSlot returns a slot decorated with its live occupancy.
func (s *Service) GetSlot(ctx context.Context, id uuid.UUID) (*model.SlotWithOccupancy, error) {
	slot, err := s.slots.Get(ctx, id)
	if err != nil {
		return nil, apperrors.NotFound("slot", err)
	}

	occ, err := s.ledger.Occupancy(ctx, slot)
	if err != nil {
		return nil, err
	}
	return &model.SlotWithOccupancy{Slot: slot, Occupancy: occ}, nil
}

// ListActiveSlots returns the provider's active slots for a date, ordered by
// start time, with elapsed slots filtered out: past dates return nothing,
// today's slots disappear once their end time has passed.
func (s *Service) ListActiveSlots(ctx context.Context, providerID uuid.UUID, date time.Time) ([]*model.SlotWithOccupancy, error) {
	now := s.now().In(s.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, s.loc)

	if day.Before(today) {
		return nil, nil
	}

	slots, err := s.slots.ListActive(ctx, providerID, day)
	if err != nil {
		return nil, err
	}

	result := make([]*model.SlotWithOccupancy, 0, len(slots))
	for _, slot := range slots {
		if day.Equal(today) && !slot.EndTime.After(now) {
			continue
		}

		occ, err := s.ledger.CachedOccupancy(ctx, slot)
		if err != nil {
			return nil, err
		}
		result = append(result, &model.SlotWithOccupancy{Slot: slot, Occupancy: occ})
	}
	return result, nil
}

func resolveCapacity(def model.SlotDefinition) (int, error) {
	capValue := def.Capacity
	if capValue == 0 && def.CapacityPreset != "" {
		preset, ok := model.CapacityPresets[def.CapacityPreset]
		if !ok {
			return 0, apperrors.Newf(apperrors.ErrCapacityOutOfBounds, "unknown capacity preset %q", def.CapacityPreset)
		}
		capValue = preset
	}
	if capValue < model.MinSlotCapacity || capValue > model.MaxSlotCapacity {
		return 0, apperrors.Newf(apperrors.ErrCapacityOutOfBounds, "capacity %d outside [%d,%d]", capValue, model.MinSlotCapacity, model.MaxSlotCapacity).
			WithContext("label", def.Label)
	}
	return capValue, nil
}

// parseClock parses "HH:MM" into an offset from midnight.
func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse(clockLayout, s)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
