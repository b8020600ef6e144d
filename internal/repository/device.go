package repository

import (
	"context"
	"fmt"
	"time"

	"phone-bridge-backend/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DeviceRepository handles database operations for devices
type DeviceRepository struct {
	db *pgxpool.Pool
}

// NewDeviceRepository creates a new device repository
func NewDeviceRepository(db *pgxpool.Pool) *DeviceRepository {
	return &DeviceRepository{db: db}
}

const deviceColumns = `id, user_id, name, is_paired, pair_code, pair_expires_at, push_token, last_seen_at, created_at, updated_at`

func scanDevice(row pgx.Row) (*models.Device, error) {
	var d models.Device
	err := row.Scan(
		&d.ID, &d.UserID, &d.Name, &d.IsPaired, &d.PairCode, &d.PairExpiresAt,
		&d.PushToken, &d.LastSeenAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// GetByUserID retrieves the user's primary device
func (r *DeviceRepository) GetByUserID(ctx context.Context, userID string) (*models.Device, error) {
	query := `
		SELECT ` + deviceColumns + `
		FROM devices
		WHERE user_id = $1
		ORDER BY created_at
		LIMIT 1
	`
	d, err := scanDevice(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("device not found: %w", err)
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return d, nil
}

// GetByPairCode retrieves the device carrying an unconsumed pairing code.
// The lookup is collection-wide; ownership is checked by the caller.
func (r *DeviceRepository) GetByPairCode(ctx context.Context, code string) (*models.Device, error) {
	query := `
		SELECT ` + deviceColumns + `
		FROM devices
		WHERE pair_code = $1 AND is_paired = false
		LIMIT 1
	`
	d, err := scanDevice(r.db.QueryRow(ctx, query, code))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("device not found: %w", err)
		}
		return nil, fmt.Errorf("failed to get device by pair code: %w", err)
	}
	return d, nil
}

// SetPairCode writes a fresh pairing code onto the user's device slot,
// creating the slot if needed. Any prior unconsumed code is overwritten.
func (r *DeviceRepository) SetPairCode(ctx context.Context, userID, code string, expiresAt time.Time) (*models.Device, error) {
	now := time.Now()

	existing, err := r.GetByUserID(ctx, userID)
	if err != nil {
		// No slot yet: create one with the code.
		query := `
			INSERT INTO devices (id, user_id, name, is_paired, pair_code, pair_expires_at, created_at, updated_at)
			VALUES ($1, $2, '', false, $3, $4, $5, $5)
			RETURNING ` + deviceColumns
		d, err := scanDevice(r.db.QueryRow(ctx, query, uuid.New().String(), userID, code, expiresAt, now))
		if err != nil {
			return nil, fmt.Errorf("failed to create device slot: %w", err)
		}
		return d, nil
	}

	query := `
		UPDATE devices
		SET pair_code = $1, pair_expires_at = $2, is_paired = false, updated_at = $3
		WHERE id = $4
		RETURNING ` + deviceColumns
	d, err := scanDevice(r.db.QueryRow(ctx, query, code, expiresAt, now, existing.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to set pair code: %w", err)
	}
	return d, nil
}

// ConsumePairCode performs the terminal, one-way consumption of a pairing
// code. The conditional update is what guarantees at most one redemption
// succeeds: a concurrent second call matches zero rows. Matching the code
// itself keeps a redeemer holding a stale code from consuming a freshly
// issued one.
func (r *DeviceRepository) ConsumePairCode(ctx context.Context, deviceID, code, name string) (*models.Device, error) {
	query := `
		UPDATE devices
		SET is_paired = true, name = $1, pair_code = NULL, pair_expires_at = NULL, updated_at = $2
		WHERE id = $3 AND pair_code = $4 AND is_paired = false
		RETURNING ` + deviceColumns
	d, err := scanDevice(r.db.QueryRow(ctx, query, name, time.Now(), deviceID, code))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("pair code already consumed: %w", err)
		}
		return nil, fmt.Errorf("failed to consume pair code: %w", err)
	}
	return d, nil
}

// Unpair clears the paired flag for the user's device. Idempotent.
func (r *DeviceRepository) Unpair(ctx context.Context, userID string) error {
	query := `UPDATE devices SET is_paired = false, updated_at = $1 WHERE user_id = $2`
	_, err := r.db.Exec(ctx, query, time.Now(), userID)
	if err != nil {
		return fmt.Errorf("failed to unpair device: %w", err)
	}
	return nil
}

// TouchLastSeen records an agent heartbeat
func (r *DeviceRepository) TouchLastSeen(ctx context.Context, userID string, at time.Time) error {
	query := `UPDATE devices SET last_seen_at = $1, updated_at = $1 WHERE user_id = $2`
	_, err := r.db.Exec(ctx, query, at, userID)
	if err != nil {
		return fmt.Errorf("failed to update last seen: %w", err)
	}
	return nil
}

// UpdatePushToken stores the token used to wake an offline agent
func (r *DeviceRepository) UpdatePushToken(ctx context.Context, userID string, pushToken *string) error {
	query := `UPDATE devices SET push_token = $1, updated_at = $2 WHERE user_id = $3`
	_, err := r.db.Exec(ctx, query, pushToken, time.Now(), userID)
	if err != nil {
		return fmt.Errorf("failed to update push token: %w", err)
	}
	return nil
}
