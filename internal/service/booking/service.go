package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/carelane/booking-api/internal/model"
	"github.com/carelane/booking-api/internal/repository"
	"github.com/carelane/booking-api/internal/service/capacity"
	"github.com/carelane/booking-api/internal/service/reconciler"
	apperrors "github.com/carelane/booking-api/pkg/errors"
	"github.com/carelane/booking-api/pkg/lock"
	"github.com/carelane/booking-api/pkg/logger"
	"github.com/carelane/booking-api/pkg/metrics"
)

// Service is the admission controller and the only writer of bookings and
// request resolutions. Every capacity check and its write run inside a
// per-slot lock with the occupancy recomputed in the critical section, so a
// concurrent request observing stale capacity cannot commit.
type Service struct {
	slots      repository.SlotRepository
	bookings   repository.BookingRepository
	requests   repository.RequestRepository
	outbox     repository.OutboxRepository
	ledger     *capacity.Ledger
	reconciler *reconciler.Service
	locker     lock.SlotLocker
	metrics    *metrics.Metrics
	logger     *logger.Logger

	// interval is the quantized sub-interval bookings land on inside a slot.
	interval time.Duration

	now func() time.Time
}

func NewService(
	slots repository.SlotRepository,
	bookings repository.BookingRepository,
	requests repository.RequestRepository,
	outbox repository.OutboxRepository,
	ledger *capacity.Ledger,
	rec *reconciler.Service,
	locker lock.SlotLocker,
	m *metrics.Metrics,
	log *logger.Logger,
	interval time.Duration,
) *Service {
	return &Service{
		slots:      slots,
		bookings:   bookings,
		requests:   requests,
		outbox:     outbox,
		ledger:     ledger,
		reconciler: rec,
		locker:     locker,
		metrics:    m,
		logger:     log,
		interval:   interval,
		now:        time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Admit converts a booking request into a capacity-consuming booking. The
// occupancy check and the insert happen inside the slot lock; the admission
// order equals the count of already-admitted bookings observed there, so
// concurrent admissions receive distinct, gap-free orders.
func (s *Service) Admit(ctx context.Context, req *model.AdmitRequest) (*model.Booking, error) {
	slot, err := s.slots.Get(ctx, req.SlotID)
	if err != nil {
		return nil, apperrors.NotFound("slot", err)
	}
	if !slot.Active {
		return nil, apperrors.New(apperrors.ErrNotFound, "slot is not active").
			WithContext("slot_id", slot.ID)
	}
	if slot.ProviderID != req.ProviderID {
		return nil, apperrors.New(apperrors.ErrInvalidRange, "slot belongs to a different provider").
			WithContext("slot_id", slot.ID)
	}

	timer := prometheus.NewTimer(s.metrics.AdmissionLatency)
	defer timer.ObserveDuration()

	var booking *model.Booking

	err = s.locker.WithSlotLock(ctx, slot.ID, func(lockCtx context.Context) error {
		occ, err := s.ledger.Occupancy(lockCtx, slot)
		if err != nil {
			return fmt.Errorf("failed to compute occupancy: %w", err)
		}
		if occ.Full {
			return saturated(slot, occ)
		}

		scheduledAt, err := s.scheduleTime(slot, occ.Admitted)
		if err != nil {
			return err
		}

		booking = &model.Booking{
			PatientID:   req.PatientID,
			ProviderID:  req.ProviderID,
			SlotID:      slot.ID,
			ScheduledAt: scheduledAt,
			Status:      model.BookingStatusScheduled,
			QueueOrder:  occ.Admitted,
			Kind:        slot.Kind,
			FeeCents:    req.FeeCents,
			Symptoms:    req.Symptoms,
			Notes:       req.Notes,
		}
		return s.bookings.Create(lockCtx, booking)
	})

	if err != nil {
		if errors.Is(err, lock.ErrLockNotAcquired) {
			s.metrics.AdmissionsTotal.WithLabelValues("busy").Inc()
			return nil, apperrors.New(apperrors.ErrSlotBusy, "slot is being booked, retry").
				WithContext("slot_id", slot.ID)
		}
		if apperrors.Is(err, apperrors.ErrSlotSaturated) {
			s.metrics.AdmissionsTotal.WithLabelValues("saturated").Inc()
		} else {
			s.metrics.AdmissionsTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	s.metrics.AdmissionsTotal.WithLabelValues("admitted").Inc()
	s.afterMutation(ctx, slot.ID, model.EventBookingAdmitted, bookingEvent(booking))
	return booking, nil
}

// Cancel is terminal and reachable from any non-terminal status. The row is
// retained; its capacity unit is released.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*model.Booking, error) {
	booking, err := s.bookings.Get(ctx, id)
	if err != nil {
		return nil, apperrors.NotFound("booking", err)
	}

	if booking.Status.Terminal() {
		return nil, apperrors.Newf(apperrors.ErrInvalidTransition, "booking is already %s", booking.Status).
			WithContext("booking_id", booking.ID).
			WithContext("status", booking.Status)
	}

	booking.Status = model.BookingStatusCancelled
	if reason != "" {
		booking.CancelReason = &reason
	}

	if err := s.bookings.Update(ctx, booking); err != nil {
		return nil, fmt.Errorf("failed to cancel booking: %w", err)
	}

	s.metrics.CancellationsTotal.Inc()
	s.afterMutation(ctx, booking.SlotID, model.EventBookingCancelled, bookingEvent(booking))
	return booking, nil
}

// Reschedule moves a booking into a new slot, all or nothing: the new slot's
// capacity is checked inside its lock, and on saturation the old binding is
// left untouched.
func (s *Service) Reschedule(ctx context.Context, id, newSlotID uuid.UUID) (*model.Booking, error) {
	booking, err := s.bookings.Get(ctx, id)
	if err != nil {
		return nil, apperrors.NotFound("booking", err)
	}

	if !booking.Status.Active() {
		return nil, apperrors.Newf(apperrors.ErrInvalidTransition, "cannot reschedule a %s booking", booking.Status).
			WithContext("booking_id", booking.ID)
	}
	if booking.SlotID == newSlotID {
		return nil, apperrors.New(apperrors.ErrInvalidRange, "booking is already in this slot").
			WithContext("slot_id", newSlotID)
	}

	newSlot, err := s.slots.Get(ctx, newSlotID)
	if err != nil {
		return nil, apperrors.NotFound("slot", err)
	}
	if !newSlot.Active {
		return nil, apperrors.New(apperrors.ErrNotFound, "slot is not active").
			WithContext("slot_id", newSlot.ID)
	}
	if newSlot.ProviderID != booking.ProviderID {
		return nil, apperrors.New(apperrors.ErrInvalidRange, "slot belongs to a different provider").
			WithContext("slot_id", newSlot.ID)
	}

	oldSlotID := booking.SlotID

	err = s.locker.WithSlotLock(ctx, newSlot.ID, func(lockCtx context.Context) error {
		occ, err := s.ledger.Occupancy(lockCtx, newSlot)
		if err != nil {
			return fmt.Errorf("failed to compute occupancy: %w", err)
		}
		if occ.Full {
			return saturated(newSlot, occ)
		}

		scheduledAt, err := s.scheduleTime(newSlot, occ.Admitted)
		if err != nil {
			return err
		}

		// Single-row update: the claim moves atomically or not at all.
		booking.SlotID = newSlot.ID
		booking.ScheduledAt = scheduledAt
		booking.QueueOrder = occ.Admitted
		return s.bookings.Update(lockCtx, booking)
	})

	if err != nil {
		if errors.Is(err, lock.ErrLockNotAcquired) {
			s.metrics.ReschedulesTotal.WithLabelValues("busy").Inc()
			return nil, apperrors.New(apperrors.ErrSlotBusy, "slot is being booked, retry").
				WithContext("slot_id", newSlot.ID)
		}
		s.metrics.ReschedulesTotal.WithLabelValues("saturated").Inc()
		return nil, err
	}

	s.metrics.ReschedulesTotal.WithLabelValues("ok").Inc()
	s.afterMutation(ctx, oldSlotID, "", nil)
	s.afterMutation(ctx, newSlot.ID, model.EventBookingRescheduled, bookingEvent(booking))
	return booking, nil
}

// UpdateStatus advances the booking state machine under staff action.
// Transitions are forward-only; cancellation is handled by Cancel.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, to model.BookingStatus) (*model.Booking, error) {
	booking, err := s.bookings.Get(ctx, id)
	if err != nil {
		return nil, apperrors.NotFound("booking", err)
	}

	if to == model.BookingStatusCancelled {
		return s.Cancel(ctx, id, "")
	}

	if !model.CanTransition(booking.Status, to) {
		return nil, apperrors.Newf(apperrors.ErrInvalidTransition, "cannot move booking from %s to %s", booking.Status, to).
			WithContext("booking_id", booking.ID).
			WithContext("from", booking.Status).
			WithContext("to", to)
	}

	booking.Status = to
	if err := s.bookings.Update(ctx, booking); err != nil {
		return nil, fmt.Errorf("failed to update booking status: %w", err)
	}

	event := ""
	if to == model.BookingStatusNoShow {
		event = model.EventBookingNoShow
	}
	s.afterMutation(ctx, booking.SlotID, event, bookingEvent(booking))
	return booking, nil
}

func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	booking, err := s.bookings.Get(ctx, id)
	if err != nil {
		return nil, apperrors.NotFound("booking", err)
	}
	return booking, nil
}

func (s *Service) ListBookings(ctx context.Context, filters *model.BookingFilters) ([]*model.Booking, error) {
	return s.bookings.List(ctx, filters)
}

// CreateRequest opens a pending request. From this moment it consumes one
// capacity unit in whichever slot contains its requested time.
func (s *Service) CreateRequest(ctx context.Context, in *model.CreatePendingRequest) (*model.PendingRequest, error) {
	if in.SlotID != nil {
		slot, err := s.slots.Get(ctx, *in.SlotID)
		if err != nil {
			return nil, apperrors.NotFound("slot", err)
		}
		if !slot.Active {
			return nil, apperrors.New(apperrors.ErrNotFound, "slot is not active").
				WithContext("slot_id", slot.ID)
		}
	}

	req := &model.PendingRequest{
		PatientID:   in.PatientID,
		ProviderID:  in.ProviderID,
		SlotID:      in.SlotID,
		BookingID:   in.BookingID,
		RequestedAt: in.RequestedAt,
		Status:      model.RequestStatusPending,
		FeeCents:    in.FeeCents,
		Symptoms:    in.Symptoms,
		Notes:       in.Notes,
	}
	if err := s.requests.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to create pending request: %w", err)
	}

	if slotID := s.requestSlotID(ctx, req); slotID != nil {
		s.afterMutation(ctx, *slotID, "", nil)
	}
	return req, nil
}

func (s *Service) GetRequest(ctx context.Context, id uuid.UUID) (*model.PendingRequest, error) {
	req, err := s.requests.Get(ctx, id)
	if err != nil {
		return nil, apperrors.NotFound("pending request", err)
	}
	return req, nil
}

// ResolveRequest applies the staff decision. Either path is terminal;
// re-resolving fails with AlreadyResolved. On approval the request converts
// into a booking via admission or reschedule against the staff-confirmed or
// auto-matched slot.
func (s *Service) ResolveRequest(ctx context.Context, id uuid.UUID, in *model.ResolveRequestInput) (*model.PendingRequest, *model.Booking, error) {
	req, err := s.requests.Get(ctx, id)
	if err != nil {
		return nil, nil, apperrors.NotFound("pending request", err)
	}

	if req.Status != model.RequestStatusPending {
		return nil, nil, apperrors.Newf(apperrors.ErrAlreadyResolved, "request already %s", req.Status).
			WithContext("request_id", req.ID).
			WithContext("status", req.Status)
	}

	if in.Decision == model.DecisionReject {
		return s.reject(ctx, req, in.Reason)
	}
	return s.approve(ctx, req, in.SlotID)
}

func (s *Service) reject(ctx context.Context, req *model.PendingRequest, reason string) (*model.PendingRequest, *model.Booking, error) {
	req.Status = model.RequestStatusRejected
	if reason != "" {
		req.RejectionReason = &reason
	}
	if err := s.requests.Update(ctx, req); err != nil {
		return nil, nil, fmt.Errorf("failed to reject request: %w", err)
	}

	s.metrics.RequestsResolved.WithLabelValues("reject").Inc()
	event := model.EventRequestRejected
	if slotID := s.requestSlotID(ctx, req); slotID != nil {
		s.afterMutation(ctx, *slotID, event, requestEvent(req))
	} else {
		s.enqueueEvent(ctx, event, requestEvent(req))
	}
	return req, nil, nil
}

func (s *Service) approve(ctx context.Context, req *model.PendingRequest, override *uuid.UUID) (*model.PendingRequest, *model.Booking, error) {
	slot, err := s.targetSlot(ctx, req, override)
	if err != nil {
		return nil, nil, err
	}

	// Mark approved first so the request's own provisional capacity unit is
	// released before the admission check; otherwise the request would block
	// its own conversion in a slot it saturates.
	req.Status = model.RequestStatusApproved
	req.SlotID = &slot.ID
	if err := s.requests.Update(ctx, req); err != nil {
		return nil, nil, fmt.Errorf("failed to approve request: %w", err)
	}

	var booking *model.Booking
	if req.BookingID != nil {
		booking, err = s.Reschedule(ctx, *req.BookingID, slot.ID)
	} else {
		booking, err = s.Admit(ctx, &model.AdmitRequest{
			ProviderID: req.ProviderID,
			SlotID:     slot.ID,
			PatientID:  req.PatientID,
			FeeCents:   req.FeeCents,
			Symptoms:   req.Symptoms,
			Notes:      req.Notes,
		})
	}
	if err != nil {
		// Conversion failed; put the request back so staff can retry against
		// another slot.
		req.Status = model.RequestStatusPending
		if revertErr := s.requests.Update(ctx, req); revertErr != nil {
			s.logger.Error(revertErr, "failed to revert request after conversion failure",
				"request_id", req.ID.String())
		}
		return nil, nil, err
	}

	s.metrics.RequestsResolved.WithLabelValues("approve").Inc()
	s.enqueueEvent(ctx, model.EventRequestApproved, requestEvent(req))
	return req, booking, nil
}

// targetSlot picks the slot a request converts into: the staff override, the
// pinned slot, or the slot whose range contains the requested time. Under
// the no-overlap invariant at most one slot can contain it.
func (s *Service) targetSlot(ctx context.Context, req *model.PendingRequest, override *uuid.UUID) (*model.Slot, error) {
	var slotID *uuid.UUID
	if override != nil {
		slotID = override
	} else if req.SlotID != nil {
		slotID = req.SlotID
	}

	if slotID != nil {
		slot, err := s.slots.Get(ctx, *slotID)
		if err != nil {
			return nil, apperrors.NotFound("slot", err)
		}
		if !slot.Active {
			return nil, apperrors.New(apperrors.ErrNotFound, "slot is not active").
				WithContext("slot_id", slot.ID)
		}
		return slot, nil
	}

	slot, err := s.slots.FindContaining(ctx, req.ProviderID, req.RequestedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to match slot: %w", err)
	}
	if slot == nil {
		return nil, apperrors.New(apperrors.ErrNoMatchingSlot, "no slot contains the requested time; pick one explicitly").
			WithContext("request_id", req.ID).
			WithContext("requested_at", req.RequestedAt)
	}
	return slot, nil
}

// scheduleTime quantizes the Nth admission onto slot.start + N×interval,
// pushed forward past "now" when the slot is today and partially elapsed.
// Saturated when the computed offset lands at or after slot end.
func (s *Service) scheduleTime(slot *model.Slot, order int) (time.Time, error) {
	scheduledAt := slot.StartTime.Add(time.Duration(order) * s.interval)

	now := s.now()
	if sameDay(slot.StartTime, now) && scheduledAt.Before(now) {
		elapsed := now.Sub(slot.StartTime)
		steps := int(elapsed / s.interval)
		if slot.StartTime.Add(time.Duration(steps) * s.interval).Before(now) {
			steps++
		}
		scheduledAt = slot.StartTime.Add(time.Duration(steps) * s.interval)
	}

	if !scheduledAt.Before(slot.EndTime) {
		occ := model.SlotOccupancy{Admitted: order}
		return time.Time{}, saturated(slot, occ)
	}
	return scheduledAt, nil
}

// requestSlotID resolves which slot a request's provisional capacity lives
// in, by pin or by containment.
func (s *Service) requestSlotID(ctx context.Context, req *model.PendingRequest) *uuid.UUID {
	if req.SlotID != nil {
		return req.SlotID
	}
	slot, err := s.slots.FindContaining(ctx, req.ProviderID, req.RequestedAt)
	if err != nil || slot == nil {
		return nil
	}
	return &slot.ID
}

// afterMutation runs the post-commit side effects: counter reconciliation,
// cache invalidation, and the outbox event. None of them can fail the
// committed mutation; errors are logged and left to the periodic sweep or
// the outbox retry.
func (s *Service) afterMutation(ctx context.Context, slotID uuid.UUID, eventType string, payload interface{}) {
	if err := s.reconciler.SyncSlotCount(ctx, slotID); err != nil {
		s.logger.Error(err, "post-mutation reconciliation failed", "slot_id", slotID.String())
	}
	s.ledger.Invalidate(slotID.String())

	if eventType != "" {
		s.enqueueEvent(ctx, eventType, payload)
	}
}

func (s *Service) enqueueEvent(ctx context.Context, eventType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error(err, "failed to marshal event payload", "event_type", eventType)
		return
	}
	if err := s.outbox.Create(ctx, &model.OutboxEvent{EventType: eventType, Payload: data}); err != nil {
		s.logger.Error(err, "failed to enqueue event", "event_type", eventType)
	}
}

func saturated(slot *model.Slot, occ model.SlotOccupancy) error {
	return apperrors.Newf(apperrors.ErrSlotSaturated, "slot %q has no available capacity", slot.Label).
		WithContext("slot_id", slot.ID).
		WithContext("max_capacity", slot.MaxCapacity).
		WithContext("admitted", occ.Admitted).
		WithContext("pending", occ.Pending)
}

func bookingEvent(b *model.Booking) model.JSONMap {
	return model.JSONMap{
		"booking_id":   b.ID,
		"patient_id":   b.PatientID,
		"provider_id":  b.ProviderID,
		"slot_id":      b.SlotID,
		"scheduled_at": b.ScheduledAt,
		"status":       b.Status,
		"kind":         b.Kind,
	}
}

func requestEvent(r *model.PendingRequest) model.JSONMap {
	return model.JSONMap{
		"request_id":   r.ID,
		"patient_id":   r.PatientID,
		"provider_id":  r.ProviderID,
		"requested_at": r.RequestedAt,
		"status":       r.Status,
	}
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}
