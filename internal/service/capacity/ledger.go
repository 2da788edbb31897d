package capacity

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/carelane/booking-api/internal/model"
	"github.com/carelane/booking-api/internal/repository"
)

// Ledger computes the live occupancy of a slot from source-of-truth rows:
// admitted bookings in active statuses plus unresolved pending requests.
// The cached current_bookings counter on the slot is never consulted here;
// admission decisions always go through the live computation.
type Ledger struct {
	bookings repository.BookingRepository
	requests repository.RequestRepository
	cache    *gocache.Cache
}

func NewLedger(bookings repository.BookingRepository, requests repository.RequestRepository, cacheTTL time.Duration) *Ledger {
	return &Ledger{
		bookings: bookings,
		requests: requests,
		cache:    gocache.New(cacheTTL, 2*cacheTTL),
	}
}

// Occupancy returns the live occupancy of the slot. Both confirmed bookings
// and pending requests consume capacity identically; a slot saturated by
// pending requests reports full.
func (l *Ledger) Occupancy(ctx context.Context, slot *model.Slot) (model.SlotOccupancy, error) {
	admitted, err := l.bookings.CountActiveForSlot(ctx, slot.ID)
	if err != nil {
		return model.SlotOccupancy{}, fmt.Errorf("failed to count admitted bookings: %w", err)
	}

	pending, err := l.requests.CountPendingForSlot(ctx, slot)
	if err != nil {
		return model.SlotOccupancy{}, fmt.Errorf("failed to count pending requests: %w", err)
	}

	available := slot.MaxCapacity - (admitted + pending)
	return model.SlotOccupancy{
		Admitted:  admitted,
		Pending:   pending,
		Available: available,
		Full:      available <= 0,
	}, nil
}

// AvailableCapacity returns max capacity minus live occupancy.
func (l *Ledger) AvailableCapacity(ctx context.Context, slot *model.Slot) (int, error) {
	occ, err := l.Occupancy(ctx, slot)
	if err != nil {
		return 0, err
	}
	return occ.Available, nil
}

// IsFull reports whether available capacity is zero or negative.
func (l *Ledger) IsFull(ctx context.Context, slot *model.Slot) (bool, error) {
	occ, err := l.Occupancy(ctx, slot)
	if err != nil {
		return false, err
	}
	return occ.Full, nil
}

// CachedOccupancy serves list/display reads through a short-TTL cache. Never
// used for admission decisions; bounded staleness is acceptable there because
// the reconciler refreshes the stored counter anyway.
func (l *Ledger) CachedOccupancy(ctx context.Context, slot *model.Slot) (model.SlotOccupancy, error) {
	key := slot.ID.String()
	if cached, found := l.cache.Get(key); found {
		return cached.(model.SlotOccupancy), nil
	}

	occ, err := l.Occupancy(ctx, slot)
	if err != nil {
		return model.SlotOccupancy{}, err
	}

	l.cache.SetDefault(key, occ)
	return occ, nil
}

// Invalidate drops the cached occupancy for a slot after a mutation.
func (l *Ledger) Invalidate(slotID string) {
	l.cache.Delete(slotID)
}
