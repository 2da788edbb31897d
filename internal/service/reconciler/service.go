package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carelane/booking-api/internal/repository"
	"github.com/carelane/booking-api/pkg/logger"
	"github.com/carelane/booking-api/pkg/metrics"
)

// Service recomputes each slot's cached booking counter from the
// authoritative booking and pending-request rows, and resequences the queue
// order of a slot's active bookings. Idempotent; safe to run arbitrarily
// often. The computed value is derived, never incremented, so last write
// wins under concurrent runs.
type Service struct {
	slots    repository.SlotRepository
	bookings repository.BookingRepository
	requests repository.RequestRepository
	metrics  *metrics.Metrics
	logger   *logger.Logger

	sweepInterval time.Duration

	// One sweep at a time per provider; a sweep in progress causes a new
	// trigger for the same provider to be skipped, not queued.
	inflight sync.Map
}

func NewService(
	slots repository.SlotRepository,
	bookings repository.BookingRepository,
	requests repository.RequestRepository,
	m *metrics.Metrics,
	log *logger.Logger,
	sweepInterval time.Duration,
) *Service {
	return &Service{
		slots:         slots,
		bookings:      bookings,
		requests:      requests,
		metrics:       m,
		logger:        log,
		sweepInterval: sweepInterval,
	}
}

// SyncSlotCount recomputes the slot's cached counter exactly as the capacity
// ledger defines occupancy (admitted active bookings + unresolved pending
// requests) and writes it back, then restores contiguous queue orders among
// the slot's active bookings.
func (s *Service) SyncSlotCount(ctx context.Context, slotID uuid.UUID) error {
	slot, err := s.slots.Get(ctx, slotID)
	if err != nil {
		s.metrics.ReconciliationRuns.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to load slot: %w", err)
	}

	admitted, err := s.bookings.CountActiveForSlot(ctx, slotID)
	if err != nil {
		s.metrics.ReconciliationRuns.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to count bookings: %w", err)
	}

	pending, err := s.requests.CountPendingForSlot(ctx, slot)
	if err != nil {
		s.metrics.ReconciliationRuns.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to count pending requests: %w", err)
	}

	total := admitted + pending
	if slot.CurrentBookings != total {
		s.metrics.DriftCorrected.Inc()
		s.logger.Debug("correcting slot counter drift",
			"slot_id", slotID.String(),
			"cached", slot.CurrentBookings,
			"actual", total)
	}

	if err := s.slots.SetCurrentBookings(ctx, slotID, total); err != nil {
		s.metrics.ReconciliationRuns.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to write slot counter: %w", err)
	}

	if err := s.resequence(ctx, slotID); err != nil {
		s.metrics.ReconciliationRuns.WithLabelValues("error").Inc()
		return err
	}

	s.metrics.ReconciliationRuns.WithLabelValues("ok").Inc()
	return nil
}

// resequence restores contiguous queue orders starting at 0 for the slot's
// capacity-consuming bookings, closing gaps left by cancellations.
func (s *Service) resequence(ctx context.Context, slotID uuid.UUID) error {
	active, err := s.bookings.ListActiveForSlot(ctx, slotID)
	if err != nil {
		return fmt.Errorf("failed to list slot bookings: %w", err)
	}

	for i, booking := range active {
		if booking.QueueOrder == i {
			continue
		}
		if err := s.bookings.UpdateQueueOrder(ctx, booking.ID, i); err != nil {
			return fmt.Errorf("failed to resequence booking %s: %w", booking.ID, err)
		}
	}
	return nil
}

// SyncAllSlots sweeps every active slot for a provider. Used for backfill
// and drift repair, not on the hot path. Returns immediately when a sweep
// for the same provider is already running.
func (s *Service) SyncAllSlots(ctx context.Context, providerID uuid.UUID) error {
	if _, running := s.inflight.LoadOrStore(providerID, struct{}{}); running {
		s.metrics.SweepSkipped.Inc()
		s.logger.Debug("sweep already running, skipping", "provider_id", providerID.String())
		return nil
	}
	defer s.inflight.Delete(providerID)

	slots, err := s.slots.ListActiveByProvider(ctx, providerID)
	if err != nil {
		return fmt.Errorf("failed to list provider slots: %w", err)
	}

	var failed int
	for _, slot := range slots {
		if err := s.SyncSlotCount(ctx, slot.ID); err != nil {
			failed++
			s.logger.Error(err, "slot reconciliation failed", "slot_id", slot.ID.String())
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d slots failed reconciliation", failed, len(slots))
	}
	return nil
}

// Start runs the periodic out-of-band sweep until ctx is cancelled. A
// failing provider is logged and retried on the next tick; it never blocks
// sweeps for other providers.
func (s *Service) Start(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	s.logger.Info("starting reconciliation sweep", "interval", s.sweepInterval.String())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopping reconciliation sweep")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	providers, err := s.slots.ListProviders(ctx)
	if err != nil {
		s.logger.Error(err, "failed to list providers for sweep")
		return
	}

	for _, providerID := range providers {
		if err := s.SyncAllSlots(ctx, providerID); err != nil {
			s.logger.Error(err, "provider sweep failed", "provider_id", providerID.String())
		}
	}
}
