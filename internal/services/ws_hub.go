package services

import (
	"encoding/json"
	"fmt"
	"sync"

	"phone-bridge-backend/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WSMessage represents a WebSocket message on either socket
type WSMessage struct {
	Type      string              `json:"type"`
	CommandID string              `json:"command_id,omitempty"`
	Command   *models.Command     `json:"command,omitempty"`
	Status    string              `json:"status,omitempty"`
	Result    json.RawMessage     `json:"result,omitempty"`
	Error     string              `json:"error,omitempty"`
	Frame     *models.StreamFrame `json:"frame_data,omitempty"`
	Online    *bool               `json:"online,omitempty"`
	PushToken string              `json:"push_token,omitempty"`
	Message   string              `json:"message,omitempty"`
}

// HubConn serializes writes to one websocket connection
type HubConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *HubConn) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *HubConn) close() {
	c.conn.Close()
}

// WSHub manages WebSocket connections: any number of dashboard sockets per
// user (fan-out read) and at most one agent socket per user (single writer).
type WSHub struct {
	mu         sync.RWMutex
	dashboards map[string]map[*HubConn]struct{}
	agents     map[string]*HubConn
}

// NewWSHub creates a new WebSocket hub
func NewWSHub() *WSHub {
	return &WSHub{
		dashboards: make(map[string]map[*HubConn]struct{}),
		agents:     make(map[string]*HubConn),
	}
}

// RegisterDashboard registers a dashboard connection for a user and returns
// the handle to pass back to UnregisterDashboard.
func (h *WSHub) RegisterDashboard(userID string, conn *websocket.Conn) *HubConn {
	c := &HubConn{conn: conn}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dashboards[userID] == nil {
		h.dashboards[userID] = make(map[*HubConn]struct{})
	}
	h.dashboards[userID][c] = struct{}{}

	log.Info().Str("user_id", userID).Msg("Dashboard connection registered")
	return c
}

// UnregisterDashboard removes a dashboard connection
func (h *WSHub) UnregisterDashboard(userID string, c *HubConn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.dashboards[userID]
	if set == nil {
		return
	}
	if _, ok := set[c]; ok {
		c.close()
		delete(set, c)
		if len(set) == 0 {
			delete(h.dashboards, userID)
		}
		log.Info().Str("user_id", userID).Msg("Dashboard connection unregistered")
	}
}

// RegisterAgent registers the agent connection for a user, closing any
// previous one, and notifies the user's dashboards that the device came
// online. The returned handle must be passed back to UnregisterAgent.
func (h *WSHub) RegisterAgent(userID string, conn *websocket.Conn) *HubConn {
	c := &HubConn{conn: conn}

	h.mu.Lock()
	if existing, exists := h.agents[userID]; exists {
		existing.close()
	}
	h.agents[userID] = c
	h.mu.Unlock()

	log.Info().Str("user_id", userID).Msg("Agent connection registered")
	h.notifyDeviceStatus(userID, true)
	return c
}

// UnregisterAgent removes the agent connection for a user and notifies the
// user's dashboards that the device went offline. A stale handler's cleanup
// is a no-op: closing the old conn on reconnect makes its read loop exit, and
// that exit must not tear down the replacement connection.
func (h *WSHub) UnregisterAgent(userID string, c *HubConn) {
	h.mu.Lock()
	if h.agents[userID] != c {
		h.mu.Unlock()
		return
	}
	c.close()
	delete(h.agents, userID)
	log.Info().Str("user_id", userID).Msg("Agent connection unregistered")
	h.mu.Unlock()

	h.notifyDeviceStatus(userID, false)
}

// SendToUser sends a message to every dashboard connection of a user
func (h *WSHub) SendToUser(userID string, message WSMessage) error {
	h.mu.RLock()
	set := h.dashboards[userID]
	conns := make([]*HubConn, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return fmt.Errorf("user %s has no dashboard connection", userID)
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	for _, c := range conns {
		if err := c.write(data); err != nil {
			h.UnregisterDashboard(userID, c)
		}
	}
	return nil
}

// SendToAgent sends a message to the user's agent connection
func (h *WSHub) SendToAgent(userID string, message WSMessage) error {
	h.mu.RLock()
	c, exists := h.agents[userID]
	h.mu.RUnlock()

	if !exists {
		return fmt.Errorf("agent for user %s is not connected", userID)
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := c.write(data); err != nil {
		h.UnregisterAgent(userID, c)
		return fmt.Errorf("failed to send message to agent: %w", err)
	}
	return nil
}

// AgentOnline checks if the user's agent is connected
func (h *WSHub) AgentOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, exists := h.agents[userID]
	return exists
}

// notifyDeviceStatus pushes a device online/offline transition to dashboards
func (h *WSHub) notifyDeviceStatus(userID string, online bool) {
	message := WSMessage{
		Type:   "device_status",
		Online: &online,
	}
	if err := h.SendToUser(userID, message); err != nil {
		log.Debug().
			Err(err).
			Str("user_id", userID).
			Msg("No dashboard to notify about device status")
	}
}
