package model

import (
	"time"

	"github.com/google/uuid"
)

type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusApproved RequestStatus = "approved"
	RequestStatusRejected RequestStatus = "rejected"
)

type RequestDecision string

const (
	DecisionApprove RequestDecision = "approve"
	DecisionReject  RequestDecision = "reject"
)

// PendingRequest is a not-yet-admitted booking or reschedule ask. While
// pending it consumes one capacity unit in whichever slot its requested time
// falls inside; SlotID pins a slot explicitly when one was pre-assigned.
type PendingRequest struct {
	Base
	PatientID       uuid.UUID     `db:"patient_id" json:"patient_id"`
	ProviderID      uuid.UUID     `db:"provider_id" json:"provider_id"`
	SlotID          *uuid.UUID    `db:"slot_id" json:"slot_id,omitempty"`
	BookingID       *uuid.UUID    `db:"booking_id" json:"booking_id,omitempty"` // set for reschedule requests
	RequestedAt     time.Time     `db:"requested_at" json:"requested_at"`
	Status          RequestStatus `db:"status" json:"status"`
	RejectionReason *string       `db:"rejection_reason" json:"rejection_reason,omitempty"`
	FeeCents        int64         `db:"fee_cents" json:"fee_cents"`
	Symptoms        string        `db:"symptoms" json:"symptoms,omitempty"`
	Notes           string        `db:"notes" json:"notes,omitempty"`
}

// CreatePendingRequest opens a pending booking/reschedule request.
type CreatePendingRequest struct {
	PatientID   uuid.UUID  `json:"patient_id" binding:"required"`
	ProviderID  uuid.UUID  `json:"provider_id" binding:"required"`
	SlotID      *uuid.UUID `json:"slot_id"`
	BookingID   *uuid.UUID `json:"booking_id"`
	RequestedAt time.Time  `json:"requested_at" binding:"required"`
	FeeCents    int64      `json:"fee_cents" binding:"gte=0"`
	Symptoms    string     `json:"symptoms" binding:"max=2000"`
	Notes       string     `json:"notes" binding:"max=2000"`
}

// ResolveRequestInput carries the staff decision on a pending request.
type ResolveRequestInput struct {
	Decision RequestDecision `json:"decision" binding:"required,oneof=approve reject"`
	SlotID   *uuid.UUID      `json:"slot_id"`
	Reason   string          `json:"reason" binding:"max=500"`
}
