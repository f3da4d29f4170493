package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"slotsync/internal/models"
)

// SaveBookingRequest inserts a request or updates its status fields.
func (db *DB) SaveBookingRequest(ctx context.Context, request *models.BookingRequest) error {
	query := `INSERT INTO booking_requests (id, customer_id, provider_id, time_slot_id, service_id, status, created_at, expires_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET status = excluded.status, expires_at = excluded.expires_at`
	_, err := db.ExecContext(ctx, query,
		request.ID,
		request.CustomerID,
		request.ProviderID,
		request.TimeSlotID,
		request.ServiceID,
		request.Status,
		request.CreatedAt,
		request.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("save booking request %s: %w", request.ID, err)
	}
	return nil
}

// GetBookingRequest returns one request by id, or ErrNotFound.
func (db *DB) GetBookingRequest(ctx context.Context, id string) (*models.BookingRequest, error) {
	query := `SELECT id, customer_id, provider_id, time_slot_id, service_id, status, created_at, expires_at
              FROM booking_requests WHERE id = ?`

	var request models.BookingRequest
	err := db.QueryRowContext(ctx, query, id).Scan(
		&request.ID,
		&request.CustomerID,
		&request.ProviderID,
		&request.TimeSlotID,
		&request.ServiceID,
		&request.Status,
		&request.CreatedAt,
		&request.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get booking request %s: %w", id, err)
	}
	return &request, nil
}

// GetPendingBookingRequests returns all requests still in the pending
// state, oldest first. Used to rebuild the active set at startup.
func (db *DB) GetPendingBookingRequests(ctx context.Context) ([]*models.BookingRequest, error) {
	query := `SELECT id, customer_id, provider_id, time_slot_id, service_id, status, created_at, expires_at
              FROM booking_requests WHERE status = ? ORDER BY created_at ASC`

	rows, err := db.QueryContext(ctx, query, models.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("get pending booking requests: %w", err)
	}
	defer rows.Close()

	var requests []*models.BookingRequest
	for rows.Next() {
		var request models.BookingRequest
		err := rows.Scan(
			&request.ID,
			&request.CustomerID,
			&request.ProviderID,
			&request.TimeSlotID,
			&request.ServiceID,
			&request.Status,
			&request.CreatedAt,
			&request.ExpiresAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan booking request: %w", err)
		}
		requests = append(requests, &request)
	}
	return requests, rows.Err()
}

// UpdateBookingRequestStatus moves a request from pending to the given
// status. The WHERE clause enforces the single terminal transition: a
// request already in a terminal state is left untouched and the update
// reports false.
func (db *DB) UpdateBookingRequestStatus(ctx context.Context, id, status string) (bool, error) {
	query := `UPDATE booking_requests SET status = ? WHERE id = ? AND status = ?`
	result, err := db.ExecContext(ctx, query, status, id, models.StatusPending)
	if err != nil {
		return false, fmt.Errorf("update booking request %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected for %s: %w", id, err)
	}
	return affected == 1, nil
}
