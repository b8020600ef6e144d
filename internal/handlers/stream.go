package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"phone-bridge-backend/internal/middleware"
	"phone-bridge-backend/internal/models"
	"phone-bridge-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// StreamHandler controls the live camera stream session
type StreamHandler struct {
	streams *services.StreamService
	hub     *services.WSHub
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(streams *services.StreamService, hub *services.WSHub) *StreamHandler {
	return &StreamHandler{streams: streams, hub: hub}
}

// StartStreamRequest represents the request body for starting a stream
type StartStreamRequest struct {
	Camera models.Camera `json:"camera"`
}

// StartStream handles POST /api/v1/stream/start. Frames are then delivered
// over the user's dashboard WebSocket until the stream stops.
func (h *StreamHandler) StartStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := middleware.GetSession(ctx)

	var req StartStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Camera == "" {
		req.Camera = models.CameraBack
	}
	if !models.ValidCamera(req.Camera) {
		respondError(w, "unknown camera", http.StatusBadRequest)
		return
	}

	userID := ""
	if sess != nil {
		userID = sess.UserID
	}
	sink := func(f models.StreamFrame) {
		frame := f
		if err := h.hub.SendToUser(userID, services.WSMessage{Type: "frame", Frame: &frame}); err != nil {
			log.Debug().Err(err).Str("user_id", userID).Msg("No dashboard to deliver frame to")
		}
	}

	if err := h.streams.Start(ctx, sess, req.Camera, sink); err != nil {
		statusCode := http.StatusInternalServerError
		switch {
		case errors.Is(err, services.ErrNotAuthenticated):
			statusCode = http.StatusUnauthorized
		case errors.Is(err, services.ErrStreamStart):
			statusCode = http.StatusBadGateway
		}
		respondError(w, err.Error(), statusCode)
		return
	}

	respondJSON(w, map[string]string{"status": "streaming", "camera": string(req.Camera)}, http.StatusOK)
}

// StopStream handles POST /api/v1/stream/stop
func (h *StreamHandler) StopStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := middleware.GetSession(ctx)

	if err := h.streams.Stop(ctx, sess); err != nil {
		statusCode := http.StatusInternalServerError
		if errors.Is(err, services.ErrNotAuthenticated) {
			statusCode = http.StatusUnauthorized
		}
		respondError(w, err.Error(), statusCode)
		return
	}

	respondJSON(w, map[string]string{"status": "stopped"}, http.StatusOK)
}
