package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carelane/booking-api/internal/model"
)

const slotColumns = `
	id, provider_id, slot_date, label, start_time, end_time,
	max_capacity, current_bookings, kind, active, created_at, updated_at
`

func (r *slotRepository) Create(ctx context.Context, slot *model.Slot) error {
	query := `
		INSERT INTO slots (
			id, provider_id, slot_date, label, start_time, end_time,
			max_capacity, current_bookings, kind, active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	if slot.ID == uuid.Nil {
		slot.ID = uuid.New()
	}
	slot.CreatedAt = time.Now()
	slot.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		slot.ID,
		slot.ProviderID,
		slot.Date,
		slot.Label,
		slot.StartTime,
		slot.EndTime,
		slot.MaxCapacity,
		slot.CurrentBookings,
		slot.Kind,
		slot.Active,
		slot.CreatedAt,
		slot.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create slot: %w", err)
	}
	return nil
}

func (r *slotRepository) Get(ctx context.Context, id uuid.UUID) (*model.Slot, error) {
	query := `SELECT ` + slotColumns + ` FROM slots WHERE id = $1`

	var slot model.Slot
	err := r.db.GetContext(ctx, &slot, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get slot: %w", err)
	}
	return &slot, nil
}

func (r *slotRepository) Update(ctx context.Context, slot *model.Slot) error {
	query := `
		UPDATE slots
		SET label = $1, start_time = $2, end_time = $3, max_capacity = $4,
			kind = $5, active = $6, updated_at = $7
		WHERE id = $8
	`
	slot.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(ctx, query,
		slot.Label,
		slot.StartTime,
		slot.EndTime,
		slot.MaxCapacity,
		slot.Kind,
		slot.Active,
		slot.UpdatedAt,
		slot.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update slot: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("slot not found")
	}
	return nil
}

func (r *slotRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM slots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete slot: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("slot not found")
	}
	return nil
}

func (r *slotRepository) Exists(ctx context.Context, providerID uuid.UUID, date time.Time, label string, kind model.SlotKind) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM slots
			WHERE provider_id = $1 AND slot_date = $2 AND label = $3 AND kind = $4
		)
	`
	var exists bool
	err := r.db.GetContext(ctx, &exists, query, providerID, date, label, kind)
	if err != nil {
		return false, fmt.Errorf("failed to check slot existence: %w", err)
	}
	return exists, nil
}

func (r *slotRepository) FindOverlapping(ctx context.Context, providerID uuid.UUID, date time.Time, kind model.SlotKind, start, end time.Time, excludeID *uuid.UUID) ([]*model.Slot, error) {
	query := `
		SELECT ` + slotColumns + `
		FROM slots
		WHERE provider_id = $1
		AND slot_date = $2
		AND kind = $3
		AND active = true
		AND start_time < $4
		AND end_time > $5
	`
	args := []interface{}{providerID, date, kind, end, start}

	if excludeID != nil {
		query += " AND id != $6"
		args = append(args, *excludeID)
	}

	query += " ORDER BY start_time ASC"

	var slots []*model.Slot
	err := r.db.SelectContext(ctx, &slots, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find overlapping slots: %w", err)
	}
	return slots, nil
}

func (r *slotRepository) FindContaining(ctx context.Context, providerID uuid.UUID, t time.Time) (*model.Slot, error) {
	query := `
		SELECT ` + slotColumns + `
		FROM slots
		WHERE provider_id = $1
		AND slot_date = $2
		AND active = true
		AND start_time <= $3
		AND end_time > $3
		ORDER BY start_time ASC
		LIMIT 1
	`
	date := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())

	var slot model.Slot
	err := r.db.GetContext(ctx, &slot, query, providerID, date, t)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find containing slot: %w", err)
	}
	return &slot, nil
}

func (r *slotRepository) ListActive(ctx context.Context, providerID uuid.UUID, date time.Time) ([]*model.Slot, error) {
	query := `
		SELECT ` + slotColumns + `
		FROM slots
		WHERE provider_id = $1 AND slot_date = $2 AND active = true
		ORDER BY start_time ASC
	`
	var slots []*model.Slot
	err := r.db.SelectContext(ctx, &slots, query, providerID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list active slots: %w", err)
	}
	return slots, nil
}

func (r *slotRepository) ListActiveByProvider(ctx context.Context, providerID uuid.UUID) ([]*model.Slot, error) {
	query := `
		SELECT ` + slotColumns + `
		FROM slots
		WHERE provider_id = $1 AND active = true
		ORDER BY slot_date ASC, start_time ASC
	`
	var slots []*model.Slot
	err := r.db.SelectContext(ctx, &slots, query, providerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list provider slots: %w", err)
	}
	return slots, nil
}

func (r *slotRepository) List(ctx context.Context, providerID uuid.UUID, date time.Time) ([]*model.Slot, error) {
	query := `
		SELECT ` + slotColumns + `
		FROM slots
		WHERE provider_id = $1 AND slot_date = $2
		ORDER BY start_time ASC
	`
	var slots []*model.Slot
	err := r.db.SelectContext(ctx, &slots, query, providerID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list slots: %w", err)
	}
	return slots, nil
}

func (r *slotRepository) SetCurrentBookings(ctx context.Context, id uuid.UUID, count int) error {
	query := `
		UPDATE slots
		SET current_bookings = $1, updated_at = $2
		WHERE id = $3
	`
	_, err := r.db.ExecContext(ctx, query, count, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set current bookings: %w", err)
	}
	return nil
}

func (r *slotRepository) ListProviders(ctx context.Context) ([]uuid.UUID, error) {
	query := `SELECT DISTINCT provider_id FROM slots WHERE active = true`

	var providers []uuid.UUID
	err := r.db.SelectContext(ctx, &providers, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	return providers, nil
}
