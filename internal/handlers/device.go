package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"phone-bridge-backend/internal/middleware"
	"phone-bridge-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// DeviceHandler handles pairing and device-state HTTP requests
type DeviceHandler struct {
	pairing  *services.PairingService
	devices  services.DeviceStore
	presence *services.PresenceService
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(pairing *services.PairingService, devices services.DeviceStore, presence *services.PresenceService) *DeviceHandler {
	return &DeviceHandler{
		pairing:  pairing,
		devices:  devices,
		presence: presence,
	}
}

// IssuePairCode handles POST /api/v1/pair/code
func (h *DeviceHandler) IssuePairCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := middleware.GetSession(ctx)
	if !sess.Authenticated() {
		respondError(w, "Not authenticated", http.StatusUnauthorized)
		return
	}

	code, err := h.pairing.IssuePairCode(ctx, sess.UserID)
	if err != nil {
		log.Error().Err(err).Str("user_id", sess.UserID).Msg("Failed to issue pair code")
		respondError(w, "Failed to issue pair code", http.StatusInternalServerError)
		return
	}

	respondJSON(w, map[string]string{"pair_code": code}, http.StatusOK)
}

// RedeemPairCodeRequest represents the request body for redeeming a code
type RedeemPairCodeRequest struct {
	Code       string `json:"code"`
	DeviceName string `json:"device_name"`
}

// RedeemPairCode handles POST /api/v1/pair/redeem (called by the agent)
func (h *DeviceHandler) RedeemPairCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := middleware.GetSession(ctx)
	if !sess.Authenticated() {
		respondError(w, "Not authenticated", http.StatusUnauthorized)
		return
	}

	var req RedeemPairCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Code == "" {
		respondError(w, "code is required", http.StatusBadRequest)
		return
	}

	device, err := h.pairing.RedeemPairCode(ctx, req.Code, sess.UserID, req.DeviceName)
	if err != nil {
		log.Warn().
			Err(err).
			Str("user_id", sess.UserID).
			Msg("Pair code redemption failed")

		statusCode := http.StatusInternalServerError
		switch {
		case errors.Is(err, services.ErrCodeNotFound):
			statusCode = http.StatusNotFound
		case errors.Is(err, services.ErrCodeExpired):
			statusCode = http.StatusGone
		case errors.Is(err, services.ErrAccountMismatch):
			statusCode = http.StatusForbidden
		}
		respondError(w, err.Error(), statusCode)
		return
	}

	respondJSON(w, device, http.StatusOK)
}

// Unpair handles DELETE /api/v1/pair
func (h *DeviceHandler) Unpair(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := middleware.GetSession(ctx)
	if !sess.Authenticated() {
		respondError(w, "Not authenticated", http.StatusUnauthorized)
		return
	}

	if err := h.pairing.Unpair(ctx, sess.UserID); err != nil {
		log.Error().Err(err).Str("user_id", sess.UserID).Msg("Failed to unpair")
		respondError(w, "Failed to unpair", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeviceResponse is the device record plus its derived presence
type DeviceResponse struct {
	Device   interface{} `json:"device"`
	Presence string      `json:"presence"`
	LastSeen string      `json:"last_seen,omitempty"`
}

// GetDevice handles GET /api/v1/device
func (h *DeviceHandler) GetDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := middleware.GetSession(ctx)
	if !sess.Authenticated() {
		respondError(w, "Not authenticated", http.StatusUnauthorized)
		return
	}

	device, err := h.devices.GetByUserID(ctx, sess.UserID)
	if err != nil {
		respondError(w, "No device paired", http.StatusNotFound)
		return
	}

	now := time.Now()
	resp := DeviceResponse{
		Device:   device,
		Presence: string(h.presence.Classify(device.LastSeenAt, now)),
	}
	if device.LastSeenAt != nil {
		resp.LastSeen = services.TimeAgo(*device.LastSeenAt, now)
	}

	respondJSON(w, resp, http.StatusOK)
}

// UpdatePushTokenRequest represents the request body for the agent's token
type UpdatePushTokenRequest struct {
	PushToken string `json:"push_token"`
}

// UpdatePushToken handles PUT /api/v1/device/push-token (called by the agent)
func (h *DeviceHandler) UpdatePushToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := middleware.GetSession(ctx)
	if !sess.Authenticated() {
		respondError(w, "Not authenticated", http.StatusUnauthorized)
		return
	}

	var req UpdatePushTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var token *string
	if req.PushToken != "" {
		token = &req.PushToken
	}
	if err := h.devices.UpdatePushToken(ctx, sess.UserID, token); err != nil {
		log.Error().Err(err).Str("user_id", sess.UserID).Msg("Failed to update push token")
		respondError(w, "Failed to update push token", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
