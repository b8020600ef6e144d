package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"phone-bridge-backend/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// FrameSink receives frame updates for a live stream subscription. Delivery
// is latest-frame-only: the sink sees whatever the slot holds at delivery
// time, intermediate frames may be skipped.
type FrameSink func(models.StreamFrame)

type frameSub struct {
	sess *Session
	sink FrameSink
}

// StreamService manages live camera-frame sessions: it starts/stops the
// stream through the command channel and relays the per-user frame slot to
// the subscribed dashboard. At most one live subscription exists per user.
type StreamService struct {
	commands *CommandService

	mu    sync.Mutex
	slots map[string]models.StreamFrame
	subs  map[string]*frameSub
}

// NewStreamService creates a new stream service
func NewStreamService(commands *CommandService) *StreamService {
	return &StreamService{
		commands: commands,
		slots:    make(map[string]models.StreamFrame),
		subs:     make(map[string]*frameSub),
	}
}

// Start submits start_camera_stream, awaits the agent's acknowledgement and
// attaches the frame subscription. Starting while a subscription is live
// replaces it: the prior one is detached first so no duplicate listeners
// remain.
func (s *StreamService) Start(ctx context.Context, sess *Session, camera models.Camera, sink FrameSink) error {
	if !sess.Authenticated() {
		return ErrNotAuthenticated
	}
	if !models.ValidCamera(camera) {
		return fmt.Errorf("%w: unknown camera %q", ErrStreamStart, camera)
	}

	s.mu.Lock()
	delete(s.subs, sess.UserID)
	s.mu.Unlock()

	args, _ := json.Marshal(map[string]string{"camera": string(camera)})
	if _, err := s.commands.Execute(ctx, sess, models.CmdStartCameraStream, args); err != nil {
		return fmt.Errorf("%w: %v", ErrStreamStart, err)
	}

	s.mu.Lock()
	s.subs[sess.UserID] = &frameSub{sess: sess, sink: sink}
	s.mu.Unlock()

	log.Info().
		Str("user_id", sess.UserID).
		Str("camera", string(camera)).
		Msg("Camera stream started")
	return nil
}

// HandleFrame is the agent-side write of the user's frame slot. The slot is
// overwritten in place; the subscriber, if any, is handed the newest frame.
// An active=false write terminates the session: the subscription is detached
// and exactly one stop_camera_stream is submitted for cleanup.
func (s *StreamService) HandleFrame(ctx context.Context, userID string, frame models.StreamFrame) {
	s.mu.Lock()
	prev := s.slots[userID]
	if frame.Active && frame.FrameNumber < prev.FrameNumber {
		// Out-of-order delivery; the slot already holds a fresher frame.
		s.mu.Unlock()
		return
	}
	s.slots[userID] = frame
	sub := s.subs[userID]
	if !frame.Active {
		delete(s.subs, userID)
	}
	s.mu.Unlock()

	if sub == nil {
		return
	}

	if !frame.Active {
		log.Info().Str("user_id", userID).Msg("Stream deactivated by agent, stopping")
		s.submitStop(ctx, sub.sess)
		return
	}

	if sub.sink != nil {
		sub.sink(frame)
	}
}

// Stop detaches the user's subscription before returning, then submits
// stop_camera_stream. Idempotent: with no live subscription it is a no-op
// beyond the submission.
func (s *StreamService) Stop(ctx context.Context, sess *Session) error {
	if !sess.Authenticated() {
		return ErrNotAuthenticated
	}

	s.mu.Lock()
	delete(s.subs, sess.UserID)
	delete(s.slots, sess.UserID)
	s.mu.Unlock()

	s.submitStop(ctx, sess)
	return nil
}

// Detach drops the user's subscription and slot without talking to the
// agent. Used by unpair cleanup.
func (s *StreamService) Detach(userID string) error {
	s.mu.Lock()
	delete(s.subs, userID)
	delete(s.slots, userID)
	s.mu.Unlock()
	return nil
}

// Subscribed reports whether the user has a live frame subscription.
func (s *StreamService) Subscribed(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[userID]
	return ok
}

// LatestFrame returns the most recent frame observed for the user.
func (s *StreamService) LatestFrame(userID string) (models.StreamFrame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.slots[userID]
	return f, ok
}

// submitStop sends the cleanup stop command. Best-effort: failures only log.
// The await runs detached so cleanup never blocks the caller. Each stop gets
// its own session so an earlier unacknowledged stop cannot hold the
// single-flight slot against this one.
func (s *StreamService) submitStop(ctx context.Context, sess *Session) {
	cleanup := &Session{ID: "stream-stop:" + uuid.New().String(), UserID: sess.UserID}
	handle, err := s.commands.Submit(ctx, cleanup, models.CmdStopCameraStream, nil)
	if err != nil {
		log.Warn().Err(err).Str("user_id", sess.UserID).Msg("Stop command submission failed")
		return
	}
	go func() {
		if _, err := s.commands.Await(context.Background(), handle, 0); err != nil {
			log.Debug().Err(err).Str("user_id", sess.UserID).Msg("Stop command unacknowledged")
		}
	}()
}
