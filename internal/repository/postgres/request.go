package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carelane/booking-api/internal/model"
)

const requestColumns = `
	id, patient_id, provider_id, slot_id, booking_id, requested_at, status,
	rejection_reason, fee_cents, symptoms, notes, created_at, updated_at
`

func (r *requestRepository) Create(ctx context.Context, req *model.PendingRequest) error {
	query := `
		INSERT INTO pending_requests (
			id, patient_id, provider_id, slot_id, booking_id, requested_at,
			status, fee_cents, symptoms, notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	req.CreatedAt = time.Now()
	req.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		req.ID,
		req.PatientID,
		req.ProviderID,
		req.SlotID,
		req.BookingID,
		req.RequestedAt,
		req.Status,
		req.FeeCents,
		req.Symptoms,
		req.Notes,
		req.CreatedAt,
		req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create pending request: %w", err)
	}
	return nil
}

func (r *requestRepository) Get(ctx context.Context, id uuid.UUID) (*model.PendingRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM pending_requests WHERE id = $1`

	var req model.PendingRequest
	err := r.db.GetContext(ctx, &req, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending request: %w", err)
	}
	return &req, nil
}

func (r *requestRepository) Update(ctx context.Context, req *model.PendingRequest) error {
	query := `
		UPDATE pending_requests
		SET slot_id = $1, status = $2, rejection_reason = $3, updated_at = $4
		WHERE id = $5
	`
	req.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(ctx, query,
		req.SlotID,
		req.Status,
		req.RejectionReason,
		req.UpdatedAt,
		req.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update pending request: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("pending request not found")
	}
	return nil
}

// CountPendingForSlot counts unresolved requests that claim a capacity unit
// in the slot: either pinned to it by id, or whose requested time falls
// inside the slot's range for the same provider (containment rule).
func (r *requestRepository) CountPendingForSlot(ctx context.Context, slot *model.Slot) (int, error) {
	query := `
		SELECT COUNT(*) FROM pending_requests
		WHERE status = 'pending'
		AND (
			slot_id = $1
			OR (
				slot_id IS NULL
				AND provider_id = $2
				AND requested_at >= $3
				AND requested_at < $4
			)
		)
	`
	var count int
	err := r.db.GetContext(ctx, &count, query, slot.ID, slot.ProviderID, slot.StartTime, slot.EndTime)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending requests: %w", err)
	}
	return count, nil
}

func (r *requestRepository) ListPending(ctx context.Context, providerID uuid.UUID) ([]*model.PendingRequest, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM pending_requests
		WHERE provider_id = $1 AND status = 'pending'
		ORDER BY requested_at ASC
	`
	var reqs []*model.PendingRequest
	err := r.db.SelectContext(ctx, &reqs, query, providerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending requests: %w", err)
	}
	return reqs, nil
}
