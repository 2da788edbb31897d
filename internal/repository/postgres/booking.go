package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carelane/booking-api/internal/model"
)

const bookingColumns = `
	id, patient_id, provider_id, slot_id, scheduled_at, status, queue_order,
	kind, fee_cents, symptoms, notes, cancel_reason, created_at, updated_at
`

func (r *bookingRepository) Create(ctx context.Context, booking *model.Booking) error {
	query := `
		INSERT INTO bookings (
			id, patient_id, provider_id, slot_id, scheduled_at, status,
			queue_order, kind, fee_cents, symptoms, notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	if booking.ID == uuid.Nil {
		booking.ID = uuid.New()
	}
	booking.CreatedAt = time.Now()
	booking.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		booking.ID,
		booking.PatientID,
		booking.ProviderID,
		booking.SlotID,
		booking.ScheduledAt,
		booking.Status,
		booking.QueueOrder,
		booking.Kind,
		booking.FeeCents,
		booking.Symptoms,
		booking.Notes,
		booking.CreatedAt,
		booking.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

func (r *bookingRepository) Get(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	var booking model.Booking
	err := r.db.GetContext(ctx, &booking, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &booking, nil
}

func (r *bookingRepository) Update(ctx context.Context, booking *model.Booking) error {
	query := `
		UPDATE bookings
		SET slot_id = $1, scheduled_at = $2, status = $3, queue_order = $4,
			notes = $5, cancel_reason = $6, updated_at = $7
		WHERE id = $8
	`
	booking.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(ctx, query,
		booking.SlotID,
		booking.ScheduledAt,
		booking.Status,
		booking.QueueOrder,
		booking.Notes,
		booking.CancelReason,
		booking.UpdatedAt,
		booking.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("booking not found")
	}
	return nil
}

func (r *bookingRepository) List(ctx context.Context, filters *model.BookingFilters) ([]*model.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE 1=1`
	args := []interface{}{}
	argCount := 1

	if filters.ProviderID != uuid.Nil {
		query += fmt.Sprintf(" AND provider_id = $%d", argCount)
		args = append(args, filters.ProviderID)
		argCount++
	}

	if filters.PatientID != uuid.Nil {
		query += fmt.Sprintf(" AND patient_id = $%d", argCount)
		args = append(args, filters.PatientID)
		argCount++
	}

	if filters.SlotID != uuid.Nil {
		query += fmt.Sprintf(" AND slot_id = $%d", argCount)
		args = append(args, filters.SlotID)
		argCount++
	}

	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, filters.Status)
		argCount++
	}

	if !filters.Date.IsZero() {
		query += fmt.Sprintf(" AND scheduled_at >= $%d AND scheduled_at < $%d", argCount, argCount+1)
		args = append(args, filters.Date, filters.Date.AddDate(0, 0, 1))
		argCount += 2
	}

	query += " ORDER BY scheduled_at ASC, queue_order ASC"

	if filters.PageSize > 0 {
		page := filters.Page
		if page < 1 {
			page = 1
		}
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)
		args = append(args, filters.PageSize, (page-1)*filters.PageSize)
	}

	var bookings []*model.Booking
	err := r.db.SelectContext(ctx, &bookings, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	return bookings, nil
}

func (r *bookingRepository) CountActiveForSlot(ctx context.Context, slotID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*) FROM bookings
		WHERE slot_id = $1
		AND status IN ('scheduled', 'checked_in', 'in_progress')
	`
	var count int
	err := r.db.GetContext(ctx, &count, query, slotID)
	if err != nil {
		return 0, fmt.Errorf("failed to count active bookings: %w", err)
	}
	return count, nil
}

func (r *bookingRepository) CountEverForSlot(ctx context.Context, slotID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM bookings WHERE slot_id = $1`

	var count int
	err := r.db.GetContext(ctx, &count, query, slotID)
	if err != nil {
		return 0, fmt.Errorf("failed to count bookings: %w", err)
	}
	return count, nil
}

func (r *bookingRepository) ListActiveForSlot(ctx context.Context, slotID uuid.UUID) ([]*model.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE slot_id = $1
		AND status IN ('scheduled', 'checked_in', 'in_progress')
		ORDER BY queue_order ASC, created_at ASC
	`
	var bookings []*model.Booking
	err := r.db.SelectContext(ctx, &bookings, query, slotID)
	if err != nil {
		return nil, fmt.Errorf("failed to list slot bookings: %w", err)
	}
	return bookings, nil
}

func (r *bookingRepository) UpdateQueueOrder(ctx context.Context, id uuid.UUID, order int) error {
	query := `
		UPDATE bookings
		SET queue_order = $1, updated_at = $2
		WHERE id = $3
	`
	_, err := r.db.ExecContext(ctx, query, order, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update queue order: %w", err)
	}
	return nil
}
