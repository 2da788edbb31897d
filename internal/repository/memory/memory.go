// Package memory holds in-memory repository implementations backed by maps.
// They mirror the postgres semantics closely enough for service-level tests
// and local development without a database.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carelane/booking-api/internal/model"
	"github.com/carelane/booking-api/internal/repository"
)

type SlotRepository struct {
	mu    sync.RWMutex
	slots map[uuid.UUID]*model.Slot
}

func NewSlotRepository() *SlotRepository {
	return &SlotRepository{slots: make(map[uuid.UUID]*model.Slot)}
}

func (r *SlotRepository) Create(_ context.Context, slot *model.Slot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slot.ID == uuid.Nil {
		slot.ID = uuid.New()
	}
	slot.CreatedAt = time.Now()
	slot.UpdatedAt = time.Now()
	cp := *slot
	r.slots[slot.ID] = &cp
	return nil
}

func (r *SlotRepository) Get(_ context.Context, id uuid.UUID) (*model.Slot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slot, ok := r.slots[id]
	if !ok {
		return nil, fmt.Errorf("slot %s not found", id)
	}
	cp := *slot
	return &cp, nil
}

func (r *SlotRepository) Update(_ context.Context, slot *model.Slot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.slots[slot.ID]; !ok {
		return fmt.Errorf("slot %s not found", slot.ID)
	}
	slot.UpdatedAt = time.Now()
	cp := *slot
	r.slots[slot.ID] = &cp
	return nil
}

func (r *SlotRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.slots[id]; !ok {
		return fmt.Errorf("slot %s not found", id)
	}
	delete(r.slots, id)
	return nil
}

func (r *SlotRepository) Exists(_ context.Context, providerID uuid.UUID, date time.Time, label string, kind model.SlotKind) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.slots {
		if s.ProviderID == providerID && sameDay(s.Date, date) && s.Label == label && s.Kind == kind {
			return true, nil
		}
	}
	return false, nil
}

func (r *SlotRepository) FindOverlapping(_ context.Context, providerID uuid.UUID, date time.Time, kind model.SlotKind, start, end time.Time, excludeID *uuid.UUID) ([]*model.Slot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Slot
	for _, s := range r.slots {
		if !s.Active || s.ProviderID != providerID || s.Kind != kind || !sameDay(s.Date, date) {
			continue
		}
		if excludeID != nil && s.ID == *excludeID {
			continue
		}
		if s.StartTime.Before(end) && s.EndTime.After(start) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sortByStart(out)
	return out, nil
}

func (r *SlotRepository) FindContaining(_ context.Context, providerID uuid.UUID, t time.Time) (*model.Slot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var candidates []*model.Slot
	for _, s := range r.slots {
		if s.Active && s.ProviderID == providerID && !t.Before(s.StartTime) && t.Before(s.EndTime) {
			cp := *s
			candidates = append(candidates, &cp)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sortByStart(candidates)
	return candidates[0], nil
}

func (r *SlotRepository) ListActive(_ context.Context, providerID uuid.UUID, date time.Time) ([]*model.Slot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Slot
	for _, s := range r.slots {
		if s.Active && s.ProviderID == providerID && sameDay(s.Date, date) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sortByStart(out)
	return out, nil
}

func (r *SlotRepository) ListActiveByProvider(_ context.Context, providerID uuid.UUID) ([]*model.Slot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Slot
	for _, s := range r.slots {
		if s.Active && s.ProviderID == providerID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sortByStart(out)
	return out, nil
}

func (r *SlotRepository) List(_ context.Context, providerID uuid.UUID, date time.Time) ([]*model.Slot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Slot
	for _, s := range r.slots {
		if s.ProviderID == providerID && sameDay(s.Date, date) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sortByStart(out)
	return out, nil
}

func (r *SlotRepository) SetCurrentBookings(_ context.Context, id uuid.UUID, count int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		return fmt.Errorf("slot %s not found", id)
	}
	s.CurrentBookings = count
	s.UpdatedAt = time.Now()
	return nil
}

func (r *SlotRepository) ListProviders(_ context.Context) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, s := range r.slots {
		if s.Active && !seen[s.ProviderID] {
			seen[s.ProviderID] = true
			out = append(out, s.ProviderID)
		}
	}
	return out, nil
}

type BookingRepository struct {
	mu       sync.RWMutex
	bookings map[uuid.UUID]*model.Booking
}

func NewBookingRepository() *BookingRepository {
	return &BookingRepository{bookings: make(map[uuid.UUID]*model.Booking)}
}

func (r *BookingRepository) Create(_ context.Context, booking *model.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if booking.ID == uuid.Nil {
		booking.ID = uuid.New()
	}
	booking.CreatedAt = time.Now()
	booking.UpdatedAt = time.Now()
	cp := *booking
	r.bookings[booking.ID] = &cp
	return nil
}

func (r *BookingRepository) Get(_ context.Context, id uuid.UUID) (*model.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %s not found", id)
	}
	cp := *b
	return &cp, nil
}

func (r *BookingRepository) Update(_ context.Context, booking *model.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bookings[booking.ID]; !ok {
		return fmt.Errorf("booking %s not found", booking.ID)
	}
	booking.UpdatedAt = time.Now()
	cp := *booking
	r.bookings[booking.ID] = &cp
	return nil
}

func (r *BookingRepository) List(_ context.Context, filters *model.BookingFilters) ([]*model.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Booking
	for _, b := range r.bookings {
		if filters != nil {
			if filters.ProviderID != uuid.Nil && b.ProviderID != filters.ProviderID {
				continue
			}
			if filters.PatientID != uuid.Nil && b.PatientID != filters.PatientID {
				continue
			}
			if filters.SlotID != uuid.Nil && b.SlotID != filters.SlotID {
				continue
			}
			if filters.Status != "" && b.Status != filters.Status {
				continue
			}
			if !filters.Date.IsZero() && !sameDay(b.ScheduledAt, filters.Date) {
				continue
			}
		}
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })

	if filters != nil && filters.PageSize > 0 {
		page := filters.Page
		if page < 1 {
			page = 1
		}
		start := (page - 1) * filters.PageSize
		if start >= len(out) {
			return nil, nil
		}
		end := start + filters.PageSize
		if end > len(out) {
			end = len(out)
		}
		out = out[start:end]
	}
	return out, nil
}

func (r *BookingRepository) CountActiveForSlot(_ context.Context, slotID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, b := range r.bookings {
		if b.SlotID == slotID && b.Status.Active() {
			count++
		}
	}
	return count, nil
}

func (r *BookingRepository) CountEverForSlot(_ context.Context, slotID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, b := range r.bookings {
		if b.SlotID == slotID {
			count++
		}
	}
	return count, nil
}

func (r *BookingRepository) ListActiveForSlot(_ context.Context, slotID uuid.UUID) ([]*model.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Booking
	for _, b := range r.bookings {
		if b.SlotID == slotID && b.Status.Active() {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].QueueOrder != out[j].QueueOrder {
			return out[i].QueueOrder < out[j].QueueOrder
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *BookingRepository) UpdateQueueOrder(_ context.Context, id uuid.UUID, order int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return fmt.Errorf("booking %s not found", id)
	}
	b.QueueOrder = order
	b.UpdatedAt = time.Now()
	return nil
}

type RequestRepository struct {
	mu       sync.RWMutex
	requests map[uuid.UUID]*model.PendingRequest
}

func NewRequestRepository() *RequestRepository {
	return &RequestRepository{requests: make(map[uuid.UUID]*model.PendingRequest)}
}

func (r *RequestRepository) Create(_ context.Context, req *model.PendingRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	req.CreatedAt = time.Now()
	req.UpdatedAt = time.Now()
	cp := *req
	r.requests[req.ID] = &cp
	return nil
}

func (r *RequestRepository) Get(_ context.Context, id uuid.UUID) (*model.PendingRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, fmt.Errorf("request %s not found", id)
	}
	cp := *req
	return &cp, nil
}

func (r *RequestRepository) Update(_ context.Context, req *model.PendingRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.requests[req.ID]; !ok {
		return fmt.Errorf("request %s not found", req.ID)
	}
	req.UpdatedAt = time.Now()
	cp := *req
	r.requests[req.ID] = &cp
	return nil
}

func (r *RequestRepository) CountPendingForSlot(_ context.Context, slot *model.Slot) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, req := range r.requests {
		if req.Status != model.RequestStatusPending {
			continue
		}
		if req.SlotID != nil {
			if *req.SlotID == slot.ID {
				count++
			}
			continue
		}
		if req.ProviderID == slot.ProviderID &&
			!req.RequestedAt.Before(slot.StartTime) && req.RequestedAt.Before(slot.EndTime) {
			count++
		}
	}
	return count, nil
}

func (r *RequestRepository) ListPending(_ context.Context, providerID uuid.UUID) ([]*model.PendingRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.PendingRequest
	for _, req := range r.requests {
		if req.Status == model.RequestStatusPending && req.ProviderID == providerID {
			cp := *req
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

type OutboxRepository struct {
	mu     sync.RWMutex
	events map[uuid.UUID]*model.OutboxEvent
}

func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{events: make(map[uuid.UUID]*model.OutboxEvent)}
}

func (r *OutboxRepository) Create(_ context.Context, event *model.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	event.ID = uuid.New()
	event.Status = model.OutboxStatusPending
	event.CreatedAt = time.Now()
	event.UpdatedAt = time.Now()
	cp := *event
	r.events[event.ID] = &cp
	return nil
}

func (r *OutboxRepository) GetPendingWithLock(_ context.Context, limit int) ([]*model.OutboxEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := time.Now()
	var out []*model.OutboxEvent
	for _, e := range r.events {
		if e.Status != model.OutboxStatusPending && e.Status != model.OutboxStatusRetry {
			continue
		}
		if e.RetryAt != nil && e.RetryAt.After(now) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *OutboxRepository) MarkProcessed(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return fmt.Errorf("event %s not found", id)
	}
	now := time.Now()
	e.Status = model.OutboxStatusProcessed
	e.ProcessedAt = &now
	e.UpdatedAt = now
	return nil
}

func (r *OutboxRepository) MarkRetry(_ context.Context, id uuid.UUID, errMsg string, retryAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return fmt.Errorf("event %s not found", id)
	}
	e.Status = model.OutboxStatusRetry
	e.ErrorMessage = &errMsg
	e.RetryAt = &retryAt
	e.RetryCount++
	e.UpdatedAt = time.Now()
	return nil
}

func (r *OutboxRepository) MarkFailed(_ context.Context, id uuid.UUID, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return fmt.Errorf("event %s not found", id)
	}
	e.Status = model.OutboxStatusFailed
	e.ErrorMessage = &errMsg
	e.UpdatedAt = time.Now()
	return nil
}

func (r *OutboxRepository) DeleteProcessedBefore(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for id, e := range r.events {
		if e.Status == model.OutboxStatusProcessed && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
			delete(r.events, id)
			deleted++
		}
	}
	return deleted, nil
}

var (
	_ repository.SlotRepository    = (*SlotRepository)(nil)
	_ repository.BookingRepository = (*BookingRepository)(nil)
	_ repository.RequestRepository = (*RequestRepository)(nil)
	_ repository.OutboxRepository  = (*OutboxRepository)(nil)
)

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

func sortByStart(slots []*model.Slot) {
	sort.Slice(slots, func(i, j int) bool { return slots[i].StartTime.Before(slots[j].StartTime) })
}
