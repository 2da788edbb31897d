package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to BookingStatus
		want     bool
	}{
		{BookingStatusScheduled, BookingStatusCheckedIn, true},
		{BookingStatusScheduled, BookingStatusNoShow, true},
		{BookingStatusScheduled, BookingStatusCompleted, false},
		{BookingStatusCheckedIn, BookingStatusInProgress, true},
		{BookingStatusCheckedIn, BookingStatusNoShow, false},
		{BookingStatusInProgress, BookingStatusCompleted, true},
		{BookingStatusInProgress, BookingStatusScheduled, false},
		{BookingStatusCompleted, BookingStatusCancelled, false},
		{BookingStatusCancelled, BookingStatusScheduled, false},
		{BookingStatusNoShow, BookingStatusCheckedIn, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestStatusCapacitySemantics(t *testing.T) {
	assert.True(t, BookingStatusScheduled.Active())
	assert.True(t, BookingStatusInProgress.Active())
	assert.False(t, BookingStatusCompleted.Active())
	assert.False(t, BookingStatusCancelled.Active())

	assert.True(t, BookingStatusCancelled.Terminal())
	assert.True(t, BookingStatusNoShow.Terminal())
	assert.False(t, BookingStatusCheckedIn.Terminal())
}

func TestSlotRangeHelpers(t *testing.T) {
	slot := &Slot{
		StartTime: time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
	}

	assert.True(t, slot.Contains(slot.StartTime))
	assert.True(t, slot.Contains(slot.StartTime.Add(time.Hour)))
	assert.False(t, slot.Contains(slot.EndTime), "end is exclusive")

	assert.True(t, slot.Overlaps(
		time.Date(2026, 9, 1, 11, 0, 0, 0, time.UTC),
		time.Date(2026, 9, 1, 13, 0, 0, 0, time.UTC)))
	assert.False(t, slot.Overlaps(
		time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)), "touching ranges do not overlap")
}
