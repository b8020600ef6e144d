package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"phone-bridge-backend/internal/models"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
)

// CommandStore is the command persistence the channel depends on.
// Satisfied by repository.CommandRepository.
type CommandStore interface {
	Create(ctx context.Context, cmd *models.Command) error
	GetByID(ctx context.Context, id string) (*models.Command, error)
	Resolve(ctx context.Context, id string, status models.CommandStatus, result json.RawMessage, errMsg *string) (*models.Command, error)
	ListPending(ctx context.Context, userID string, limit int) ([]*models.Command, error)
}

// AgentLink is the realtime side of the channel: command dispatch towards the
// agent and completion events towards the dashboards. Satisfied by WSHub.
type AgentLink interface {
	SendToAgent(userID string, message WSMessage) error
	SendToUser(userID string, message WSMessage) error
	AgentOnline(userID string) bool
}

// CommandHandle correlates a submission to its record identity.
type CommandHandle struct {
	ID        string
	UserID    string
	Type      string
	sessionID string
}

// CommandService implements the request/response rendezvous: a durable
// command record written once by the dashboard, resolved exactly once by the
// agent, with awaiting callers woken through the notifier.
type CommandService struct {
	commands CommandStore
	devices  DeviceStore
	notifier *CommandNotifier
	link     AgentLink
	push     *PushService
	blobs    *BlobStore
	timeout  time.Duration

	// One unresolved command per session. TTL is a backstop in case an
	// awaiting caller disappears without settling.
	inflight *cache.Cache
}

// NewCommandService creates a new command service. push and blobs may be nil
// when wake pushes / payload offloading are not configured.
func NewCommandService(commands CommandStore, devices DeviceStore, notifier *CommandNotifier, link AgentLink, push *PushService, blobs *BlobStore, timeout time.Duration) *CommandService {
	return &CommandService{
		commands: commands,
		devices:  devices,
		notifier: notifier,
		link:     link,
		push:     push,
		blobs:    blobs,
		timeout:  timeout,
		inflight: cache.New(timeout+10*time.Second, time.Minute),
	}
}

// Timeout returns the default await deadline.
func (s *CommandService) Timeout() time.Duration {
	return s.timeout
}

// Submit creates a pending command record for the session's user and
// dispatches it to the agent. The write is durable; a write failure surfaces
// immediately and is not retried.
func (s *CommandService) Submit(ctx context.Context, sess *Session, cmdType string, args json.RawMessage) (*CommandHandle, error) {
	if !sess.Authenticated() {
		return nil, ErrNotAuthenticated
	}

	cmdType, ok := models.NormalizeCommandType(cmdType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, cmdType)
	}

	cmd := &models.Command{
		ID:        uuid.New().String(),
		UserID:    sess.UserID,
		Type:      cmdType,
		Data:      args,
		Status:    models.CommandPending,
		CreatedAt: time.Now(),
	}

	// Single-flight per session: a second submission while the first is
	// unresolved is rejected, it does not queue.
	if err := s.inflight.Add(sess.ID, cmd.ID, cache.DefaultExpiration); err != nil {
		return nil, ErrBusy
	}

	if err := s.commands.Create(ctx, cmd); err != nil {
		s.inflight.Delete(sess.ID)
		return nil, fmt.Errorf("failed to submit command: %w", err)
	}

	log.Info().
		Str("user_id", sess.UserID).
		Str("command_id", cmd.ID).
		Str("type", cmdType).
		Msg("Command submitted")

	s.dispatch(ctx, cmd)

	return &CommandHandle{ID: cmd.ID, UserID: cmd.UserID, Type: cmd.Type, sessionID: sess.ID}, nil
}

// dispatch pushes the command to the agent socket, or falls back to a wake
// push when the agent is offline. Best-effort: the durable record is the
// source of truth and is re-dispatched on reconnect.
func (s *CommandService) dispatch(ctx context.Context, cmd *models.Command) {
	if s.link == nil {
		return
	}

	if s.link.AgentOnline(cmd.UserID) {
		if err := s.link.SendToAgent(cmd.UserID, WSMessage{Type: "command", Command: cmd}); err == nil {
			return
		}
	}

	if s.push == nil || s.devices == nil {
		return
	}
	device, err := s.devices.GetByUserID(ctx, cmd.UserID)
	if err != nil || device.PushToken == nil {
		return
	}
	if err := s.push.Wake(*device.PushToken, cmd.Type); err != nil {
		log.Warn().Err(err).Str("user_id", cmd.UserID).Msg("Agent wake push failed")
	}
}

// DispatchPending re-sends the user's unresolved commands to the agent,
// oldest first. Called when the agent socket (re)connects.
func (s *CommandService) DispatchPending(ctx context.Context, userID string) {
	cmds, err := s.commands.ListPending(ctx, userID, 0)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to list pending commands")
		return
	}
	for _, cmd := range cmds {
		s.dispatch(ctx, cmd)
	}
}

// Await blocks until the command reaches a terminal state or the timeout
// elapses. Exactly one of completed, failed or timeout is observed, and the
// change subscription is torn down before any of them is surfaced. A timeout
// is a client-local giveup: the stored record stays pending.
func (s *CommandService) Await(ctx context.Context, handle *CommandHandle, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = s.timeout
	}

	sub := s.notifier.Subscribe(handle.ID)
	defer s.release(handle)

	// The agent may have resolved the record between Submit and Subscribe;
	// a single read closes that window.
	if cmd, err := s.commands.GetByID(ctx, handle.ID); err == nil && cmd.Status != models.CommandPending {
		sub.Close()
		return outcome(cmd)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-sub.C():
		sub.Close()
		return outcome(ev.Command)
	case <-timer.C:
		sub.Close()
		return nil, ErrTimeout
	case <-ctx.Done():
		sub.Close()
		return nil, ctx.Err()
	}
}

// Execute is Submit followed by Await with the default deadline.
func (s *CommandService) Execute(ctx context.Context, sess *Session, cmdType string, args json.RawMessage) (json.RawMessage, error) {
	handle, err := s.Submit(ctx, sess, cmdType, args)
	if err != nil {
		return nil, err
	}
	return s.Await(ctx, handle, s.timeout)
}

// Resolve applies the agent's terminal transition to a command record and
// wakes everyone correlated to it. A record resolves at most once; a second
// attempt fails at the store and nothing is published. userID must match the
// record's owner so an agent cannot resolve foreign commands.
func (s *CommandService) Resolve(ctx context.Context, userID, commandID string, status models.CommandStatus, result json.RawMessage, errMsg *string) error {
	existing, err := s.commands.GetByID(ctx, commandID)
	if err != nil {
		return err
	}
	if existing.UserID != userID {
		return fmt.Errorf("command %s does not belong to user %s", commandID, userID)
	}

	if status == models.CommandCompleted {
		result = s.maybeOffload(ctx, existing, result)
	}

	cmd, err := s.commands.Resolve(ctx, commandID, status, result, errMsg)
	if err != nil {
		return err
	}

	log.Info().
		Str("command_id", cmd.ID).
		Str("type", cmd.Type).
		Str("status", string(cmd.Status)).
		Msg("Command resolved")

	s.notifier.Publish(cmd)

	if s.link != nil {
		update := WSMessage{Type: "command_update", CommandID: cmd.ID, Status: string(cmd.Status), Result: cmd.Result}
		if cmd.Error != nil {
			update.Error = *cmd.Error
		}
		if err := s.link.SendToUser(cmd.UserID, update); err != nil {
			log.Debug().Err(err).Str("command_id", cmd.ID).Msg("No dashboard to notify about command update")
		}
	}
	return nil
}

// maybeOffload moves an oversized download_file payload to object storage and
// rewrites the result to carry a presigned URL instead of inline bytes.
func (s *CommandService) maybeOffload(ctx context.Context, cmd *models.Command, result json.RawMessage) json.RawMessage {
	if s.blobs == nil || cmd.Type != models.CmdDownloadFile || len(result) < s.blobs.Threshold() {
		return result
	}

	var dl models.DownloadResult
	if err := json.Unmarshal(result, &dl); err != nil || dl.Data == "" {
		return result
	}

	rewritten, err := s.blobs.Offload(ctx, cmd.UserID, cmd.ID, dl)
	if err != nil {
		log.Warn().Err(err).Str("command_id", cmd.ID).Msg("Payload offload failed, keeping inline")
		return result
	}
	return rewritten
}

// release frees the session's single-flight slot if it is still held by this
// command.
func (s *CommandService) release(handle *CommandHandle) {
	if held, ok := s.inflight.Get(handle.sessionID); ok && held == handle.ID {
		s.inflight.Delete(handle.sessionID)
	}
}

// outcome maps a terminal record onto the await result.
func outcome(cmd *models.Command) (json.RawMessage, error) {
	switch cmd.Status {
	case models.CommandCompleted:
		return cmd.Result, nil
	case models.CommandFailed:
		msg := "unknown error"
		if cmd.Error != nil {
			msg = *cmd.Error
		}
		return nil, &RemoteError{Message: msg}
	default:
		return nil, fmt.Errorf("command %s is not terminal", cmd.ID)
	}
}
