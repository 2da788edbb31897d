package model

import (
	"time"

	"github.com/google/uuid"
)

// SlotKind is the explicit consultation type carried on a slot and
// propagated to every booking admitted into it.
type SlotKind string

const (
	SlotKindInClinic SlotKind = "in_clinic"
	SlotKindVideo    SlotKind = "video"
)

func (k SlotKind) Valid() bool {
	return k == SlotKindInClinic || k == SlotKindVideo
}

// Capacity bounds for a single slot.
const (
	MinSlotCapacity = 1
	MaxSlotCapacity = 50
)

// Slot is one bookable interval for one provider on one calendar date.
// CurrentBookings is a cached counter maintained by the reconciler; it is a
// display value only and never gates admission.
type Slot struct {
	Base
	ProviderID      uuid.UUID `db:"provider_id" json:"provider_id"`
	Date            time.Time `db:"slot_date" json:"date"`
	Label           string    `db:"label" json:"label"`
	StartTime       time.Time `db:"start_time" json:"start_time"`
	EndTime         time.Time `db:"end_time" json:"end_time"`
	MaxCapacity     int       `db:"max_capacity" json:"max_capacity"`
	CurrentBookings int       `db:"current_bookings" json:"current_bookings"`
	Kind            SlotKind  `db:"kind" json:"kind"`
	Active          bool      `db:"active" json:"active"`
}

// Overlaps reports whether the [start,end) ranges of two slots intersect.
func (s *Slot) Overlaps(start, end time.Time) bool {
	return s.StartTime.Before(end) && start.Before(s.EndTime)
}

// Contains reports whether t falls within [start,end).
func (s *Slot) Contains(t time.Time) bool {
	return !t.Before(s.StartTime) && t.Before(s.EndTime)
}

// SlotDefinition is one entry of a bulk slot-creation request.
type SlotDefinition struct {
	Label          string   `json:"label" binding:"required,max=64"`
	Start          string   `json:"start" binding:"required,clock"` // "09:00"
	End            string   `json:"end" binding:"required,clock"`   // "12:00"
	Capacity       int      `json:"capacity"`
	CapacityPreset string   `json:"capacity_preset" binding:"omitempty,oneof=light standard busy"`
	Kind           SlotKind `json:"kind" binding:"required,oneof=in_clinic video"`
}

// Quick-capacity presets accepted in bulk creation.
var CapacityPresets = map[string]int{
	"light":    5,
	"standard": 10,
	"busy":     20,
}

// CreateSlotsRequest creates slots across an inclusive date range.
type CreateSlotsRequest struct {
	ProviderID  uuid.UUID        `json:"provider_id" binding:"required"`
	FromDate    string           `json:"from_date" binding:"required"` // "2025-06-01"
	ToDate      string           `json:"to_date" binding:"required"`
	Definitions []SlotDefinition `json:"definitions" binding:"required,min=1,dive"`
}

// SkippedSlot identifies a (date,label) pair skipped as a duplicate during
// bulk creation.
type SkippedSlot struct {
	Date  string `json:"date"`
	Label string `json:"label"`
}

// CreateSlotsResult is the explicit partial-success report of a bulk create.
type CreateSlotsResult struct {
	Created []*Slot       `json:"created"`
	Skipped []SkippedSlot `json:"skipped"`
}

// UpdateSlotRequest patches a slot. Nil fields are left unchanged.
type UpdateSlotRequest struct {
	Label       *string `json:"label"`
	Start       *string `json:"start"`
	End         *string `json:"end"`
	MaxCapacity *int    `json:"max_capacity"`
	Active      *bool   `json:"active"`
}

// SlotOccupancy is the live read-side view computed by the capacity ledger.
type SlotOccupancy struct {
	Admitted  int  `json:"admitted"`
	Pending   int  `json:"pending"`
	Available int  `json:"available_capacity"`
	Full      bool `json:"is_full"`
}

// SlotWithOccupancy decorates a slot with its live occupancy for list reads.
type SlotWithOccupancy struct {
	*Slot
	Occupancy SlotOccupancy `json:"occupancy"`
}
