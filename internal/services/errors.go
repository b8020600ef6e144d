package services

import (
	"errors"
	"fmt"
)

// Failure taxonomy surfaced by the pairing manager, command channel and
// stream session. Handlers map these onto HTTP status codes; nothing is
// swallowed silently except best-effort cleanup, which only logs.
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrBusy             = errors.New("a previous command is still in flight")

	ErrCodeNotFound    = errors.New("pairing code not found")
	ErrCodeExpired     = errors.New("pairing code expired")
	ErrAccountMismatch = errors.New("pairing code belongs to another account")

	ErrTimeout     = errors.New("command timed out")
	ErrUnknownType = errors.New("unknown command type")

	ErrStreamStart = errors.New("failed to start camera stream")
)

// RemoteError carries the failure message the agent wrote on a command
// record. It is distinguishable from a timeout: the remote side did answer.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("command failed: %s", e.Message)
}

