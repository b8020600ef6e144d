package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"phone-bridge-backend/internal/models"
	"phone-bridge-backend/internal/services"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// AgentWSHandler handles the mobile agent's WebSocket: commands are
// dispatched down it, results, camera frames and heartbeats come back up.
type AgentWSHandler struct {
	hub      *services.WSHub
	verifier *services.TokenVerifier
	devices  services.DeviceStore
	commands *services.CommandService
	streams  *services.StreamService
}

// NewAgentWSHandler creates a new agent WebSocket handler
func NewAgentWSHandler(hub *services.WSHub, verifier *services.TokenVerifier, devices services.DeviceStore, commands *services.CommandService, streams *services.StreamService) *AgentWSHandler {
	return &AgentWSHandler{
		hub:      hub,
		verifier: verifier,
		devices:  devices,
		commands: commands,
		streams:  streams,
	}
}

// agentMessage is the envelope the agent sends upstream
type agentMessage struct {
	Type      string              `json:"type"`
	CommandID string              `json:"command_id,omitempty"`
	Status    string              `json:"status,omitempty"`
	Result    json.RawMessage     `json:"result,omitempty"`
	Error     string              `json:"error,omitempty"`
	Frame     *models.StreamFrame `json:"frame_data,omitempty"`
	PushToken string              `json:"push_token,omitempty"`
}

// HandleWebSocket handles GET /ws/agent
func (h *AgentWSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
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

	ctx := r.Context()
	device, err := h.devices.GetByUserID(ctx, sess.UserID)
	if err != nil || !device.IsPaired {
		respondError(w, "device not paired", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade agent WebSocket")
		return
	}

	hc := h.hub.RegisterAgent(sess.UserID, conn)
	defer h.hub.UnregisterAgent(sess.UserID, hc)

	h.touch(ctx, sess.UserID)
	h.commands.DispatchPending(ctx, sess.UserID)

	log.Info().
		Str("user_id", sess.UserID).
		Str("device_id", device.ID).
		Msg("Agent WebSocket established")

	for {
		_, messageBytes, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("user_id", sess.UserID).Msg("Agent WebSocket error")
			}
			break
		}

		var msg agentMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			log.Error().Err(err).Str("user_id", sess.UserID).Msg("Failed to parse agent message")
			continue
		}

		if err := h.handleMessage(ctx, sess.UserID, msg); err != nil {
			log.Error().
				Err(err).
				Str("user_id", sess.UserID).
				Str("type", msg.Type).
				Msg("Failed to handle agent message")
		}
	}

	h.touch(context.Background(), sess.UserID)
}

// handleMessage processes one upstream message from the agent
func (h *AgentWSHandler) handleMessage(ctx context.Context, userID string, msg agentMessage) error {
	switch msg.Type {
	case "command_result":
		return h.handleCommandResult(ctx, userID, msg)
	case "frame":
		if msg.Frame == nil {
			return nil
		}
		h.streams.HandleFrame(ctx, userID, *msg.Frame)
		return nil
	case "heartbeat":
		h.touch(ctx, userID)
		return nil
	case "push_token":
		var token *string
		if msg.PushToken != "" {
			token = &msg.PushToken
		}
		return h.devices.UpdatePushToken(ctx, userID, token)
	default:
		log.Warn().Str("type", msg.Type).Str("user_id", userID).Msg("Unknown agent message type")
		return nil
	}
}

// handleCommandResult applies the agent's terminal transition
func (h *AgentWSHandler) handleCommandResult(ctx context.Context, userID string, msg agentMessage) error {
	status := models.CommandStatus(msg.Status)

	var errMsg *string
	if status == models.CommandFailed {
		m := msg.Error
		if m == "" {
			m = "agent reported failure"
		}
		errMsg = &m
	}

	if err := h.commands.Resolve(ctx, userID, msg.CommandID, status, msg.Result, errMsg); err != nil {
		return err
	}

	h.touch(ctx, userID)
	return nil
}

func (h *AgentWSHandler) touch(ctx context.Context, userID string) {
	if err := h.devices.TouchLastSeen(ctx, userID, time.Now()); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Failed to update last seen")
	}
}
