package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"phone-bridge-backend/internal/models"

	"github.com/rs/zerolog/log"
)

const (
	pairCodeLength = 6
	pairCodeChars  = "0123456789"
)

// DeviceStore is the device persistence the pairing manager depends on.
// Satisfied by repository.DeviceRepository.
type DeviceStore interface {
	GetByUserID(ctx context.Context, userID string) (*models.Device, error)
	GetByPairCode(ctx context.Context, code string) (*models.Device, error)
	SetPairCode(ctx context.Context, userID, code string, expiresAt time.Time) (*models.Device, error)
	ConsumePairCode(ctx context.Context, deviceID, code, name string) (*models.Device, error)
	Unpair(ctx context.Context, userID string) error
	TouchLastSeen(ctx context.Context, userID string, at time.Time) error
	UpdatePushToken(ctx context.Context, userID string, pushToken *string) error
}

// PairingService issues and redeems the short-lived codes binding a mobile
// agent to a user account.
type PairingService struct {
	devices DeviceStore
	streams *StreamService
	codeTTL time.Duration
}

// NewPairingService creates a new pairing service
func NewPairingService(devices DeviceStore, streams *StreamService, codeTTL time.Duration) *PairingService {
	return &PairingService{
		devices: devices,
		streams: streams,
		codeTTL: codeTTL,
	}
}

// IssuePairCode generates a 6-digit code and stores it on the user's device
// slot. Each call overwrites any prior unconsumed code.
func (s *PairingService) IssuePairCode(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", ErrNotAuthenticated
	}

	code := generatePairCode()
	expiresAt := time.Now().Add(s.codeTTL)

	if _, err := s.devices.SetPairCode(ctx, userID, code, expiresAt); err != nil {
		return "", fmt.Errorf("failed to store pair code: %w", err)
	}

	log.Info().
		Str("user_id", userID).
		Time("expires_at", expiresAt).
		Msg("Pair code issued")

	return code, nil
}

// RedeemPairCode consumes a pairing code on behalf of the agent. At most one
// redemption of a given code can succeed; the store's conditional update is
// what enforces that.
func (s *PairingService) RedeemPairCode(ctx context.Context, code, userID, deviceName string) (*models.Device, error) {
	code = strings.TrimSpace(code)
	if len(code) != pairCodeLength {
		return nil, ErrCodeNotFound
	}

	device, err := s.devices.GetByPairCode(ctx, code)
	if err != nil {
		return nil, ErrCodeNotFound
	}

	// The lookup is collection-wide; a leaked code must not bind a device
	// to a foreign account.
	if device.UserID != userID {
		return nil, ErrAccountMismatch
	}

	if device.PairExpiresAt == nil || !time.Now().Before(*device.PairExpiresAt) {
		return nil, ErrCodeExpired
	}

	paired, err := s.devices.ConsumePairCode(ctx, device.ID, code, deviceName)
	if err != nil {
		// A concurrent redemption won the conditional update, or the code
		// was reissued since the lookup.
		return nil, ErrCodeNotFound
	}

	log.Info().
		Str("user_id", userID).
		Str("device_id", paired.ID).
		Str("device_name", deviceName).
		Msg("Device paired")

	return paired, nil
}

// Unpair releases the user's device slot and detaches any live stream
// subscription. Cleanup is best-effort; failures only log.
func (s *PairingService) Unpair(ctx context.Context, userID string) error {
	if err := s.devices.Unpair(ctx, userID); err != nil {
		return fmt.Errorf("failed to unpair: %w", err)
	}

	if s.streams != nil {
		if err := s.streams.Detach(userID); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("Stream detach during unpair failed")
		}
	}

	log.Info().Str("user_id", userID).Msg("Device unpaired")
	return nil
}

// generatePairCode generates a random numeric code
func generatePairCode() string {
	code := make([]byte, pairCodeLength)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(pairCodeChars))))
		code[i] = pairCodeChars[n.Int64()]
	}
	return string(code)
}
