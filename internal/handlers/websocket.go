package handlers

import (
	"net/http"

	"phone-bridge-backend/internal/services"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// DashboardWSHandler handles the dashboard's receive-only WebSocket: camera
// frames, device presence transitions and command updates are pushed here.
type DashboardWSHandler struct {
	hub      *services.WSHub
	verifier *services.TokenVerifier
}

// NewDashboardWSHandler creates a new dashboard WebSocket handler
func NewDashboardWSHandler(hub *services.WSHub, verifier *services.TokenVerifier) *DashboardWSHandler {
	return &DashboardWSHandler{hub: hub, verifier: verifier}
}

// HandleWebSocket handles GET /ws
func (h *DashboardWSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		respondError(w, "token required", http.StatusUnauthorized)
		return
	}

	sess, err := h.verifier.ValidateJWT(token)
	if err != nil {
		respondError(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade dashboard WebSocket")
		return
	}

	hc := h.hub.RegisterDashboard(sess.UserID, conn)
	defer h.hub.UnregisterDashboard(sess.UserID, hc)

	log.Info().Str("user_id", sess.UserID).Msg("Dashboard WebSocket established")

	// The dashboard socket is push-only; the read loop exists to observe
	// the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("user_id", sess.UserID).Msg("Dashboard WebSocket error")
			}
			break
		}
	}
}
