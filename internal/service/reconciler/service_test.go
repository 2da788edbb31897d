package reconciler

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
	"github.com/carelane/booking-api/pkg/logger"
	"github.com/carelane/booking-api/pkg/metrics"
)

type fixture struct {
	svc      *Service
	slots    *memory.SlotRepository
	bookings *memory.BookingRepository
	requests *memory.RequestRepository
	provider uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	slots := memory.NewSlotRepository()
	bookings := memory.NewBookingRepository()
	requests := memory.NewRequestRepository()
	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})

	return &fixture{
		svc:      NewService(slots, bookings, requests, metrics.New("test"), log, time.Minute),
		slots:    slots,
		bookings: bookings,
		requests: requests,
		provider: uuid.New(),
	}
}

func (f *fixture) createSlot(t *testing.T, label string, cachedCount int) *model.Slot {
	t.Helper()
	slot := &model.Slot{
		ProviderID:      f.provider,
		Date:            time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		Label:           label,
		StartTime:       time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC),
		EndTime:         time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
		MaxCapacity:     5,
		CurrentBookings: cachedCount,
		Kind:            model.SlotKindInClinic,
		Active:          true,
	}
	require.NoError(t, f.slots.Create(context.Background(), slot))
	return slot
}

func (f *fixture) addBooking(t *testing.T, slot *model.Slot, status model.BookingStatus, order int) *model.Booking {
	t.Helper()
	b := &model.Booking{
		PatientID:   uuid.New(),
		ProviderID:  f.provider,
		SlotID:      slot.ID,
		ScheduledAt: slot.StartTime,
		Status:      status,
		QueueOrder:  order,
	}
	require.NoError(t, f.bookings.Create(context.Background(), b))
	return b
}

func TestSyncSlotCountCorrectsDrift(t *testing.T) {
	f := newFixture(t)
	slot := f.createSlot(t, "Morning", 7)

	f.addBooking(t, slot, model.BookingStatusScheduled, 0)
	f.addBooking(t, slot, model.BookingStatusCheckedIn, 1)
	f.addBooking(t, slot, model.BookingStatusCancelled, 2)

	require.NoError(t, f.requests.Create(context.Background(), &model.PendingRequest{
		PatientID:   uuid.New(),
		ProviderID:  f.provider,
		RequestedAt: slot.StartTime.Add(30 * time.Minute),
		Status:      model.RequestStatusPending,
	}))

	require.NoError(t, f.svc.SyncSlotCount(context.Background(), slot.ID))

	got, err := f.slots.Get(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.CurrentBookings, "2 admitted + 1 pending")
}

func TestSyncSlotCountResequencesQueueOrders(t *testing.T) {
	f := newFixture(t)
	slot := f.createSlot(t, "Morning", 0)

	first := f.addBooking(t, slot, model.BookingStatusScheduled, 0)
	second := f.addBooking(t, slot, model.BookingStatusScheduled, 1)
	third := f.addBooking(t, slot, model.BookingStatusScheduled, 2)

	// Cancel the head; orders 1 and 2 must close the gap.
	first.Status = model.BookingStatusCancelled
	require.NoError(t, f.bookings.Update(context.Background(), first))

	require.NoError(t, f.svc.SyncSlotCount(context.Background(), slot.ID))

	gotSecond, err := f.bookings.Get(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, gotSecond.QueueOrder)

	gotThird, err := f.bookings.Get(context.Background(), third.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, gotThird.QueueOrder)

	// Cancelled booking keeps its row untouched.
	gotFirst, err := f.bookings.Get(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusCancelled, gotFirst.Status)
}

func TestSyncSlotCountIdempotent(t *testing.T) {
	f := newFixture(t)
	slot := f.createSlot(t, "Morning", 0)
	f.addBooking(t, slot, model.BookingStatusScheduled, 0)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.svc.SyncSlotCount(context.Background(), slot.ID))
	}

	got, err := f.slots.Get(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentBookings)
}

func TestSyncAllSlotsCoversProvider(t *testing.T) {
	f := newFixture(t)
	a := f.createSlot(t, "Morning", 9)
	b := f.createSlot(t, "Afternoon", 9)
	f.addBooking(t, a, model.BookingStatusScheduled, 0)

	require.NoError(t, f.svc.SyncAllSlots(context.Background(), f.provider))

	gotA, err := f.slots.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, gotA.CurrentBookings)

	gotB, err := f.slots.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, gotB.CurrentBookings)
}

func TestConcurrentSyncAllSlotsConverges(t *testing.T) {
	f := newFixture(t)
	slot := f.createSlot(t, "Morning", 42)
	f.addBooking(t, slot, model.BookingStatusScheduled, 0)
	f.addBooking(t, slot, model.BookingStatusScheduled, 1)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.svc.SyncAllSlots(context.Background(), f.provider)
		}()
	}
	wg.Wait()

	got, err := f.slots.Get(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentBookings)
}
