package booking

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelane/booking-api/internal/model"
	"github.com/carelane/booking-api/internal/repository/memory"
	"github.com/carelane/booking-api/internal/service/capacity"
	"github.com/carelane/booking-api/internal/service/reconciler"
	apperrors "github.com/carelane/booking-api/pkg/errors"
	"github.com/carelane/booking-api/pkg/logger"
	"github.com/carelane/booking-api/pkg/metrics"
)

// mutexLocker serializes critical sections in-process the way the redis
// locker does across processes.
type mutexLocker struct {
	mu sync.Mutex
}

func (l *mutexLocker) WithSlotLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(ctx)
}

type fixture struct {
	svc      *Service
	slots    *memory.SlotRepository
	bookings *memory.BookingRepository
	requests *memory.RequestRepository
	outbox   *memory.OutboxRepository
	provider uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	slots := memory.NewSlotRepository()
	bookings := memory.NewBookingRepository()
	requests := memory.NewRequestRepository()
	outbox := memory.NewOutboxRepository()
	ledger := capacity.NewLedger(bookings, requests, time.Second)
	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	m := metrics.New("test")

	rec := reconciler.NewService(slots, bookings, requests, m, log, time.Minute)
	svc := NewService(slots, bookings, requests, outbox, ledger, rec, &mutexLocker{}, m, log, 40*time.Minute)

	// Fixed clock well before the slot dates so no clamping applies unless a
	// test opts in.
	svc.SetClock(func() time.Time {
		return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	})

	return &fixture{
		svc:      svc,
		slots:    slots,
		bookings: bookings,
		requests: requests,
		outbox:   outbox,
		provider: uuid.New(),
	}
}

func (f *fixture) createSlot(t *testing.T, startHour, startMin, endHour, endMin, capacity int) *model.Slot {
	t.Helper()
	date := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	slot := &model.Slot{
		ProviderID:  f.provider,
		Date:        date,
		Label:       "Morning",
		StartTime:   time.Date(2026, 9, 1, startHour, startMin, 0, 0, time.UTC),
		EndTime:     time.Date(2026, 9, 1, endHour, endMin, 0, 0, time.UTC),
		MaxCapacity: capacity,
		Kind:        model.SlotKindInClinic,
		Active:      true,
	}
	require.NoError(t, f.slots.Create(context.Background(), slot))
	return slot
}

func (f *fixture) admit(t *testing.T, slotID uuid.UUID) *model.Booking {
	t.Helper()
	b, err := f.svc.Admit(context.Background(), &model.AdmitRequest{
		ProviderID: f.provider,
		SlotID:     slotID,
		PatientID:  uuid.New(),
	})
	require.NoError(t, err)
	return b
}

func TestAdmitAssignsOrderAndQuantizedTime(t *testing.T) {
	f := newFixture(t)
	slot := f.createSlot(t, 9, 0, 12, 0, 3)

	expected := []time.Time{
		time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC),
		time.Date(2026, 9, 1, 9, 40, 0, 0, time.UTC),
		time.Date(2026, 9, 1, 10, 20, 0, 0, time.UTC),
	}
	for i, want := range expected {
		b := f.admit(t, slot.ID)
		assert.Equal(t, i, b.QueueOrder)
		assert.Equal(t, want, b.ScheduledAt)
		assert.Equal(t, model.BookingStatusScheduled, b.Status)
		assert.Equal(t, model.SlotKindInClinic, b.Kind)
	}

	// Fourth admission hits the capacity ceiling.
	_, err := f.svc.Admit(context.Background(), &model.AdmitRequest{
		ProviderID: f.provider,
		SlotID:     slot.ID,
		PatientID:  uuid.New(),
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrSlotSaturated))

	// Counter kept in step and events enqueued.
	got, err := f.slots.Get(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.CurrentBookings)

	events, err := f.outbox.GetPendingWithLock(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, events, 3)
	for _, e := range events {
		assert.Equal(t, model.EventBookingAdmitted, e.EventType)
	}
}

func TestAdmitClampsScheduleToNow(t *testing.T) {
	f := newFixture(t)
	slot := f.createSlot(t, 9, 0, 12, 0, 3)

	// 09:20 on the slot's day: the 09:00 sub-interval has elapsed.
	f.svc.SetClock(func() time.Time {
		return time.Date(2026, 9, 1, 9, 20, 0, 0, time.UTC)
	})

	b := f.admit(t, slot.ID)
	assert.Equal(t, 0, b.QueueOrder)
	assert.Equal(t, time.Date(2026, 9, 1, 9, 40, 0, 0, time.UTC), b.ScheduledAt)
}

func TestAdmitSaturatedByScheduleNotCapacity(t *testing.T) {
	f := newFixture(t)
	// One 40-minute sub-interval but generous capacity.
	slot := f.createSlot(t, 9, 0, 9, 40, 5)

	b := f.admit(t, slot.ID)
	assert.Equal(t, time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC), b.ScheduledAt)

	_, err := f.svc.Admit(context.Background(), &model.AdmitRequest{
		ProviderID: f.provider,
		SlotID:     slot.ID,
		PatientID:  uuid.New(),
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrSlotSaturated))
}

func TestAdmitCountsPendingRequestsAgainstCapacity(t *testing.T) {
	f := newFixture(t)
	slot := f.createSlot(t, 9, 0, 12, 0, 2)

	require.NoError(t, f.requests.Create(context.Background(), &model.PendingRequest{
		PatientID:   uuid.New(),
		ProviderID:  f.provider,
		RequestedAt: slot.StartTime.Add(20 * time.Minute),
		Status:      model.RequestStatusPending,
	}))

	f.admit(t, slot.ID)

	_, err := f.svc.Admit(context.Background(), &model.AdmitRequest{
		ProviderID: f.provider,
		SlotID:     slot.ID,
		PatientID:  uuid.New(),
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrSlotSaturated))
}

func TestConcurrentAdmissionsSingleWinner(t *testing.T) {
	f := newFixture(t)
	slot := f.createSlot(t, 9, 0, 12, 0, 1)

	const attempts = 8
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Admit(context.Background(), &model.AdmitRequest{
				ProviderID: f.provider,
				SlotID:     slot.ID,
				PatientID:  uuid.New(),
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.True(t, apperrors.Is(err, apperrors.ErrSlotSaturated))
		}
	}
	assert.Equal(t, 1, winners)

	count, err := f.bookings.CountActiveForSlot(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCancelReleasesCapacityAndResequences(t *testing.T) {
	f := newFixture(t)
	slot := f.createSlot(t, 9, 0, 12, 0, 2)

	first := f.admit(t, slot.ID)
	second := f.admit(t, slot.ID)
	assert.Equal(t, 1, second.QueueOrder)

	cancelled, err := f.svc.Cancel(context.Background(), first.ID, "patient asked")
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelReason)
	assert.Equal(t, "patient asked", *cancelled.CancelReason)

	// Remaining booking moves to the head of the queue.
	remaining, err := f.bookings.Get(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining.QueueOrder)

	got, err := f.slots.Get(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentBookings)

	// The freed unit is admittable again.
	third := f.admit(t, slot.ID)
	assert.Equal(t, 1, third.QueueOrder)

	// Cancel is terminal.
	_, err = f.svc.Cancel(context.Background(), first.ID, "")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))
}

func TestRescheduleMovesBookingAtomically(t *testing.T) {
	f := newFixture(t)
	morning := f.createSlot(t, 9, 0, 12, 0, 2)

	afternoon := &model.Slot{
		ProviderID:  f.provider,
		Date:        morning.Date,
		Label:       "Afternoon",
		StartTime:   time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC),
		EndTime:     time.Date(2026, 9, 1, 17, 0, 0, 0, time.UTC),
		MaxCapacity: 1,
		Kind:        model.SlotKindInClinic,
		Active:      true,
	}
	require.NoError(t, f.slots.Create(context.Background(), afternoon))

	b := f.admit(t, morning.ID)

	moved, err := f.svc.Reschedule(context.Background(), b.ID, afternoon.ID)
	require.NoError(t, err)
	assert.Equal(t, afternoon.ID, moved.SlotID)
	assert.Equal(t, 0, moved.QueueOrder)
	assert.Equal(t, afternoon.StartTime, moved.ScheduledAt)

	// Both counters reconciled.
	gotMorning, err := f.slots.Get(context.Background(), morning.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, gotMorning.CurrentBookings)
	gotAfternoon, err := f.slots.Get(context.Background(), afternoon.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, gotAfternoon.CurrentBookings)

	// A second booking cannot move into the now-full afternoon slot, and the
	// failure leaves it where it was.
	other := f.admit(t, morning.ID)
	_, err = f.svc.Reschedule(context.Background(), other.ID, afternoon.ID)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrSlotSaturated))

	unchanged, err := f.bookings.Get(context.Background(), other.ID)
	require.NoError(t, err)
	assert.Equal(t, morning.ID, unchanged.SlotID)
}

func TestRescheduleRejectsTerminalBooking(t *testing.T) {
	f := newFixture(t)
	morning := f.createSlot(t, 9, 0, 12, 0, 2)
	b := f.admit(t, morning.ID)

	_, err := f.svc.Cancel(context.Background(), b.ID, "")
	require.NoError(t, err)

	_, err = f.svc.Reschedule(context.Background(), b.ID, morning.ID)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))
}

func TestUpdateStatusFollowsStateMachine(t *testing.T) {
	f := newFixture(t)
	slot := f.createSlot(t, 9, 0, 12, 0, 2)
	b := f.admit(t, slot.ID)

	for _, status := range []model.BookingStatus{
		model.BookingStatusCheckedIn,
		model.BookingStatusInProgress,
		model.BookingStatusCompleted,
	} {
		updated, err := f.svc.UpdateStatus(context.Background(), b.ID, status)
		require.NoError(t, err)
		assert.Equal(t, status, updated.Status)
	}

	// Completed is terminal.
	_, err := f.svc.UpdateStatus(context.Background(), b.ID, model.BookingStatusCheckedIn)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))

	// Completion releases the capacity unit.
	count, err := f.bookings.CountActiveForSlot(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestUpdateStatusNoShowOnlyFromScheduled(t *testing.T) {
	f := newFixture(t)
	slot := f.createSlot(t, 9, 0, 12, 0, 2)

	b := f.admit(t, slot.ID)
	_, err := f.svc.UpdateStatus(context.Background(), b.ID, model.BookingStatusCheckedIn)
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(context.Background(), b.ID, model.BookingStatusNoShow)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))

	other := f.admit(t, slot.ID)
	updated, err := f.svc.UpdateStatus(context.Background(), other.ID, model.BookingStatusNoShow)
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusNoShow, updated.Status)
}

func TestResolveRequestApproveAutoMatches(t *testing.T) {
	f := newFixture(t)
	slot := f.createSlot(t, 9, 0, 12, 0, 3)

	req, err := f.svc.CreateRequest(context.Background(), &model.CreatePendingRequest{
		PatientID:   uuid.New(),
		ProviderID:  f.provider,
		RequestedAt: time.Date(2026, 9, 1, 9, 20, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	resolved, b, err := f.svc.ResolveRequest(context.Background(), req.ID, &model.ResolveRequestInput{
		Decision: model.DecisionApprove,
	})
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusApproved, resolved.Status)
	require.NotNil(t, b)
	assert.Equal(t, slot.ID, b.SlotID)
	assert.Equal(t, 0, b.QueueOrder)
	assert.Equal(t, slot.StartTime, b.ScheduledAt)

	// Terminal: a second resolution fails.
	_, _, err = f.svc.ResolveRequest(context.Background(), req.ID, &model.ResolveRequestInput{
		Decision: model.DecisionReject,
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrAlreadyResolved))
}

func TestResolveRequestRejectFreesCapacity(t *testing.T) {
	f := newFixture(t)
	slot := f.createSlot(t, 9, 0, 12, 0, 1)

	req, err := f.svc.CreateRequest(context.Background(), &model.CreatePendingRequest{
		PatientID:   uuid.New(),
		ProviderID:  f.provider,
		RequestedAt: slot.StartTime.Add(20 * time.Minute),
	})
	require.NoError(t, err)

	// While pending the request blocks the only unit.
	_, err = f.svc.Admit(context.Background(), &model.AdmitRequest{
		ProviderID: f.provider,
		SlotID:     slot.ID,
		PatientID:  uuid.New(),
	})
	require.Error(t, err)

	resolved, b, err := f.svc.ResolveRequest(context.Background(), req.ID, &model.ResolveRequestInput{
		Decision: model.DecisionReject,
		Reason:   "no coverage that day",
	})
	require.NoError(t, err)
	assert.Nil(t, b)
	assert.Equal(t, model.RequestStatusRejected, resolved.Status)
	require.NotNil(t, resolved.RejectionReason)
	assert.Equal(t, "no coverage that day", *resolved.RejectionReason)

	// Unit is free again.
	f.admit(t, slot.ID)
}

func TestResolveRequestNoMatchingSlot(t *testing.T) {
	f := newFixture(t)
	f.createSlot(t, 9, 0, 12, 0, 3)

	req, err := f.svc.CreateRequest(context.Background(), &model.CreatePendingRequest{
		PatientID:   uuid.New(),
		ProviderID:  f.provider,
		RequestedAt: time.Date(2026, 9, 1, 20, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	_, _, err = f.svc.ResolveRequest(context.Background(), req.ID, &model.ResolveRequestInput{
		Decision: model.DecisionApprove,
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrNoMatchingSlot))

	// Still pending; staff can retry with an explicit slot.
	got, err := f.requests.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusPending, got.Status)
}

func TestResolveRequestOwnUnitDoesNotBlockApproval(t *testing.T) {
	f := newFixture(t)
	slot := f.createSlot(t, 9, 0, 12, 0, 1)

	// The request itself saturates the slot; its unit must convert, not block.
	req, err := f.svc.CreateRequest(context.Background(), &model.CreatePendingRequest{
		PatientID:   uuid.New(),
		ProviderID:  f.provider,
		SlotID:      &slot.ID,
		RequestedAt: slot.StartTime.Add(20 * time.Minute),
	})
	require.NoError(t, err)

	resolved, b, err := f.svc.ResolveRequest(context.Background(), req.ID, &model.ResolveRequestInput{
		Decision: model.DecisionApprove,
	})
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusApproved, resolved.Status)
	require.NotNil(t, b)
	assert.Equal(t, slot.ID, b.SlotID)
}

func TestResolveRequestApproveSaturatedRevertsToPending(t *testing.T) {
	f := newFixture(t)
	slot := f.createSlot(t, 9, 0, 12, 0, 1)

	f.admit(t, slot.ID)

	req, err := f.svc.CreateRequest(context.Background(), &model.CreatePendingRequest{
		PatientID:   uuid.New(),
		ProviderID:  f.provider,
		SlotID:      &slot.ID,
		RequestedAt: slot.StartTime.Add(20 * time.Minute),
	})
	require.NoError(t, err)

	_, _, err = f.svc.ResolveRequest(context.Background(), req.ID, &model.ResolveRequestInput{
		Decision: model.DecisionApprove,
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrSlotSaturated))

	got, err := f.requests.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusPending, got.Status)
}

func TestResolveRequestApproveReschedules(t *testing.T) {
	f := newFixture(t)
	morning := f.createSlot(t, 9, 0, 12, 0, 2)

	afternoon := &model.Slot{
		ProviderID:  f.provider,
		Date:        morning.Date,
		Label:       "Afternoon",
		StartTime:   time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC),
		EndTime:     time.Date(2026, 9, 1, 17, 0, 0, 0, time.UTC),
		MaxCapacity: 2,
		Kind:        model.SlotKindInClinic,
		Active:      true,
	}
	require.NoError(t, f.slots.Create(context.Background(), afternoon))

	b := f.admit(t, morning.ID)

	req, err := f.svc.CreateRequest(context.Background(), &model.CreatePendingRequest{
		PatientID:   b.PatientID,
		ProviderID:  f.provider,
		BookingID:   &b.ID,
		RequestedAt: afternoon.StartTime.Add(10 * time.Minute),
	})
	require.NoError(t, err)

	resolved, moved, err := f.svc.ResolveRequest(context.Background(), req.ID, &model.ResolveRequestInput{
		Decision: model.DecisionApprove,
	})
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusApproved, resolved.Status)
	require.NotNil(t, moved)
	assert.Equal(t, b.ID, moved.ID)
	assert.Equal(t, afternoon.ID, moved.SlotID)
}
