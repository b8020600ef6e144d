package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"phone-bridge-backend/internal/models"

	"github.com/google/uuid"
)

// fakeDeviceStore is an in-memory DeviceStore with the same conditional
// semantics as the SQL repository.
type fakeDeviceStore struct {
	mu      sync.Mutex
	devices map[string]*models.Device // keyed by user id
}

func newFakeDeviceStore() *fakeDeviceStore {
	return &fakeDeviceStore{devices: make(map[string]*models.Device)}
}

func (f *fakeDeviceStore) GetByUserID(_ context.Context, userID string) (*models.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[userID]
	if !ok {
		return nil, fmt.Errorf("device not found")
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDeviceStore) GetByPairCode(_ context.Context, code string) (*models.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.devices {
		if d.PairCode != nil && *d.PairCode == code && !d.IsPaired {
			cp := *d
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("device not found")
}

func (f *fakeDeviceStore) SetPairCode(_ context.Context, userID, code string, expiresAt time.Time) (*models.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[userID]
	if !ok {
		now := time.Now()
		d = &models.Device{ID: uuid.New().String(), UserID: userID, CreatedAt: now, UpdatedAt: now}
		f.devices[userID] = d
	}
	d.PairCode = &code
	d.PairExpiresAt = &expiresAt
	d.IsPaired = false
	cp := *d
	return &cp, nil
}

func (f *fakeDeviceStore) ConsumePairCode(_ context.Context, deviceID, code, name string) (*models.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.devices {
		if d.ID == deviceID {
			if d.IsPaired || d.PairCode == nil || *d.PairCode != code {
				return nil, fmt.Errorf("pair code already consumed")
			}
			d.IsPaired = true
			d.Name = name
			d.PairCode = nil
			d.PairExpiresAt = nil
			cp := *d
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("pair code already consumed")
}

func (f *fakeDeviceStore) Unpair(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.devices[userID]; ok {
		d.IsPaired = false
	}
	return nil
}

func (f *fakeDeviceStore) TouchLastSeen(_ context.Context, userID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.devices[userID]; ok {
		d.LastSeenAt = &at
	}
	return nil
}

func (f *fakeDeviceStore) UpdatePushToken(_ context.Context, userID string, pushToken *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.devices[userID]; ok {
		d.PushToken = pushToken
	}
	return nil
}

// fakeCommandStore is an in-memory CommandStore. Resolve keeps the single
// pending->terminal transition the SQL repository enforces.
type fakeCommandStore struct {
	mu        sync.Mutex
	commands  map[string]*models.Command
	createErr error
}

func newFakeCommandStore() *fakeCommandStore {
	return &fakeCommandStore{commands: make(map[string]*models.Command)}
}

func (f *fakeCommandStore) Create(_ context.Context, cmd *models.Command) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *cmd
	f.commands[cmd.ID] = &cp
	return nil
}

func (f *fakeCommandStore) GetByID(_ context.Context, id string) (*models.Command, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd, ok := f.commands[id]
	if !ok {
		return nil, fmt.Errorf("command not found")
	}
	cp := *cmd
	return &cp, nil
}

func (f *fakeCommandStore) Resolve(_ context.Context, id string, status models.CommandStatus, result json.RawMessage, errMsg *string) (*models.Command, error) {
	if status != models.CommandCompleted && status != models.CommandFailed {
		return nil, fmt.Errorf("invalid terminal status %q", status)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd, ok := f.commands[id]
	if !ok {
		return nil, fmt.Errorf("command not found")
	}
	if cmd.Status != models.CommandPending {
		return nil, fmt.Errorf("command already resolved")
	}
	now := time.Now()
	cmd.Status = status
	cmd.Result = result
	cmd.Error = errMsg
	cmd.ResolvedAt = &now
	cp := *cmd
	return &cp, nil
}

func (f *fakeCommandStore) ListPending(_ context.Context, userID string, limit int) ([]*models.Command, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var cmds []*models.Command
	for _, cmd := range f.commands {
		if cmd.UserID == userID && cmd.Status == models.CommandPending {
			cp := *cmd
			cmds = append(cmds, &cp)
		}
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].CreatedAt.Before(cmds[j].CreatedAt) })
	if limit > 0 && len(cmds) > limit {
		cmds = cmds[:limit]
	}
	return cmds, nil
}

func (f *fakeCommandStore) countByType(cmdType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, cmd := range f.commands {
		if cmd.Type == cmdType {
			n++
		}
	}
	return n
}

// fakeLink records hub traffic and can simulate the agent's side.
type fakeLink struct {
	mu       sync.Mutex
	online   bool
	toAgent  []WSMessage
	toUser   []WSMessage
	onAgent  func(WSMessage)
	sendErrs bool
}

func (f *fakeLink) SendToAgent(_ string, message WSMessage) error {
	f.mu.Lock()
	f.toAgent = append(f.toAgent, message)
	cb := f.onAgent
	f.mu.Unlock()
	if f.sendErrs {
		return fmt.Errorf("agent gone")
	}
	if cb != nil {
		cb(message)
	}
	return nil
}

func (f *fakeLink) SendToUser(_ string, message WSMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toUser = append(f.toUser, message)
	return nil
}

func (f *fakeLink) AgentOnline(string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func (f *fakeLink) agentMessages() []WSMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]WSMessage, len(f.toAgent))
	copy(out, f.toAgent)
	return out
}

func (f *fakeLink) userMessages() []WSMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]WSMessage, len(f.toUser))
	copy(out, f.toUser)
	return out
}
