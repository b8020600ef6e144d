package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"phone-bridge-backend/internal/middleware"
	"phone-bridge-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// CommandHandler handles command submission from the dashboard
type CommandHandler struct {
	commands *services.CommandService
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(commands *services.CommandService) *CommandHandler {
	return &CommandHandler{commands: commands}
}

// SubmitCommandRequest represents the request body for a command
type SubmitCommandRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SubmitCommandResponse represents a completed command
type SubmitCommandResponse struct {
	CommandID string          `json:"command_id"`
	Status    string          `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// SubmitCommand handles POST /api/v1/commands. The call long-polls: it
// returns once the agent resolves the command or the channel times out.
func (h *CommandHandler) SubmitCommand(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := middleware.GetSession(ctx)

	var req SubmitCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		respondError(w, "type is required", http.StatusBadRequest)
		return
	}

	handle, err := h.commands.Submit(ctx, sess, req.Type, req.Data)
	if err != nil {
		h.respondCommandError(w, sess, req.Type, err)
		return
	}

	result, err := h.commands.Await(ctx, handle, 0)
	if err != nil {
		h.respondCommandError(w, sess, req.Type, err)
		return
	}

	respondJSON(w, SubmitCommandResponse{
		CommandID: handle.ID,
		Status:    "completed",
		Result:    result,
	}, http.StatusOK)
}

// respondCommandError maps the channel's failure taxonomy onto HTTP codes,
// keeping every failure distinguishable for the dashboard.
func (h *CommandHandler) respondCommandError(w http.ResponseWriter, sess *services.Session, cmdType string, err error) {
	var remote *services.RemoteError

	statusCode := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrNotAuthenticated):
		statusCode = http.StatusUnauthorized
	case errors.Is(err, services.ErrBusy):
		statusCode = http.StatusConflict
	case errors.Is(err, services.ErrUnknownType):
		statusCode = http.StatusBadRequest
	case errors.Is(err, services.ErrTimeout):
		statusCode = http.StatusGatewayTimeout
	case errors.As(err, &remote):
		statusCode = http.StatusBadGateway
	}

	userID := ""
	if sess != nil {
		userID = sess.UserID
	}
	log.Warn().
		Err(err).
		Str("user_id", userID).
		Str("type", cmdType).
		Msg("Command failed")

	respondError(w, err.Error(), statusCode)
}
