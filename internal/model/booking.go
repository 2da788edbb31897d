package model

import (
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	BookingStatusScheduled  BookingStatus = "scheduled"
	BookingStatusCheckedIn  BookingStatus = "checked_in"
	BookingStatusInProgress BookingStatus = "in_progress"
	BookingStatusCompleted  BookingStatus = "completed"
	BookingStatusCancelled  BookingStatus = "cancelled"
	BookingStatusNoShow     BookingStatus = "no_show"
)

// ActiveBookingStatuses are the statuses that consume slot capacity.
var ActiveBookingStatuses = []BookingStatus{
	BookingStatusScheduled,
	BookingStatusCheckedIn,
	BookingStatusInProgress,
}

// Terminal reports whether no further transition is allowed from s.
func (s BookingStatus) Terminal() bool {
	switch s {
	case BookingStatusCompleted, BookingStatusCancelled, BookingStatusNoShow:
		return true
	}
	return false
}

// Active reports whether a booking in status s holds a capacity unit.
func (s BookingStatus) Active() bool {
	switch s {
	case BookingStatusScheduled, BookingStatusCheckedIn, BookingStatusInProgress:
		return true
	}
	return false
}

// bookingTransitions is the forward state machine. Cancellation is reachable
// from any non-terminal status; no-show only from scheduled.
var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusScheduled:  {BookingStatusCheckedIn, BookingStatusCancelled, BookingStatusNoShow},
	BookingStatusCheckedIn:  {BookingStatusInProgress, BookingStatusCancelled},
	BookingStatusInProgress: {BookingStatusCompleted, BookingStatusCancelled},
}

// CanTransition reports whether from → to is a legal status transition.
func CanTransition(from, to BookingStatus) bool {
	for _, allowed := range bookingTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Booking is one admitted patient-provider encounter bound to exactly one
// slot. QueueOrder is the admission order within the slot, contiguous from 0
// among non-cancelled bookings.
type Booking struct {
	Base
	PatientID    uuid.UUID     `db:"patient_id" json:"patient_id"`
	ProviderID   uuid.UUID     `db:"provider_id" json:"provider_id"`
	SlotID       uuid.UUID     `db:"slot_id" json:"slot_id"`
	ScheduledAt  time.Time     `db:"scheduled_at" json:"scheduled_at"`
	Status       BookingStatus `db:"status" json:"status"`
	QueueOrder   int           `db:"queue_order" json:"queue_order"`
	Kind         SlotKind      `db:"kind" json:"kind"`
	FeeCents     int64         `db:"fee_cents" json:"fee_cents"`
	Symptoms     string        `db:"symptoms" json:"symptoms,omitempty"`
	Notes        string        `db:"notes" json:"notes,omitempty"`
	CancelReason *string       `db:"cancel_reason" json:"cancel_reason,omitempty"`
}

// AdmitRequest asks for a booking to be admitted into a slot.
type AdmitRequest struct {
	ProviderID uuid.UUID `json:"provider_id" binding:"required"`
	SlotID     uuid.UUID `json:"slot_id" binding:"required"`
	PatientID  uuid.UUID `json:"patient_id" binding:"required"`
	FeeCents   int64     `json:"fee_cents" binding:"gte=0"`
	Symptoms   string    `json:"symptoms" binding:"max=2000"`
	Notes      string    `json:"notes" binding:"max=2000"`
}

type CancelBookingRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

type RescheduleBookingRequest struct {
	SlotID uuid.UUID `json:"slot_id" binding:"required"`
}

type UpdateBookingStatusRequest struct {
	Status BookingStatus `json:"status" binding:"required,oneof=checked_in in_progress completed cancelled no_show"`
}

// BookingFilters narrows booking list reads.
type BookingFilters struct {
	ProviderID uuid.UUID
	PatientID  uuid.UUID
	SlotID     uuid.UUID
	Status     BookingStatus
	Date       time.Time
	Pagination
}
