package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/carelane/booking-api/internal/model"
)

// All repository interfaces in one file
type (
	// SlotRepository persists bookable slots.
	SlotRepository interface {
		Create(ctx context.Context, slot *model.Slot) error
		Get(ctx context.Context, id uuid.UUID) (*model.Slot, error)
		Update(ctx context.Context, slot *model.Slot) error
		Delete(ctx context.Context, id uuid.UUID) error
		// Exists reports whether an active or inactive slot with the same
		// (provider, date, label, kind) natural key already exists.
		Exists(ctx context.Context, providerID uuid.UUID, date time.Time, label string, kind model.SlotKind) (bool, error)
		// FindOverlapping returns active sibling slots of the same kind whose
		// [start,end) range intersects the given one. excludeID skips self on
		// updates.
		FindOverlapping(ctx context.Context, providerID uuid.UUID, date time.Time, kind model.SlotKind, start, end time.Time, excludeID *uuid.UUID) ([]*model.Slot, error)
		// FindContaining returns the first active slot for the provider whose
		// range contains t, ordered by start time.
		FindContaining(ctx context.Context, providerID uuid.UUID, t time.Time) (*model.Slot, error)
		ListActive(ctx context.Context, providerID uuid.UUID, date time.Time) ([]*model.Slot, error)
		ListActiveByProvider(ctx context.Context, providerID uuid.UUID) ([]*model.Slot, error)
		List(ctx context.Context, providerID uuid.UUID, date time.Time) ([]*model.Slot, error)
		// SetCurrentBookings writes the cached occupancy counter. Derived
		// value, last write wins.
		SetCurrentBookings(ctx context.Context, id uuid.UUID, count int) error
		// ListProviders returns providers that have at least one active slot.
		ListProviders(ctx context.Context) ([]uuid.UUID, error)
	}

	// BookingRepository persists admitted bookings.
	BookingRepository interface {
		Create(ctx context.Context, booking *model.Booking) error
		Get(ctx context.Context, id uuid.UUID) (*model.Booking, error)
		Update(ctx context.Context, booking *model.Booking) error
		List(ctx context.Context, filters *model.BookingFilters) ([]*model.Booking, error)
		// CountActiveForSlot counts bookings in capacity-consuming statuses.
		CountActiveForSlot(ctx context.Context, slotID uuid.UUID) (int, error)
		// CountEverForSlot counts bookings ever admitted, any status. Guards
		// hard deletion of slots.
		CountEverForSlot(ctx context.Context, slotID uuid.UUID) (int, error)
		// ListActiveForSlot returns capacity-consuming bookings ordered by
		// queue order then creation time.
		ListActiveForSlot(ctx context.Context, slotID uuid.UUID) ([]*model.Booking, error)
		UpdateQueueOrder(ctx context.Context, id uuid.UUID, order int) error
	}

	// RequestRepository persists pending booking/reschedule requests.
	RequestRepository interface {
		Create(ctx context.Context, req *model.PendingRequest) error
		Get(ctx context.Context, id uuid.UUID) (*model.PendingRequest, error)
		Update(ctx context.Context, req *model.PendingRequest) error
		// CountPendingForSlot counts unresolved requests claiming capacity in
		// the slot: pinned to it explicitly, or with a requested time inside
		// the slot's [start,end) range for the same provider.
		CountPendingForSlot(ctx context.Context, slot *model.Slot) (int, error)
		ListPending(ctx context.Context, providerID uuid.UUID) ([]*model.PendingRequest, error)
	}

	// OutboxRepository persists notification events for out-of-band dispatch.
	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		GetPendingWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		MarkProcessed(ctx context.Context, id uuid.UUID) error
		MarkRetry(ctx context.Context, id uuid.UUID, errMsg string, retryAt time.Time) error
		MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)
