package services

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"phone-bridge-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type commandFixture struct {
	svc   *CommandService
	store *fakeCommandStore
	link  *fakeLink
}

func newCommandFixture(t *testing.T) *commandFixture {
	t.Helper()
	store := newFakeCommandStore()
	link := &fakeLink{online: true}
	notifier := NewCommandNotifier()
	svc := NewCommandService(store, newFakeDeviceStore(), notifier, link, nil, nil, 30*time.Second)
	return &commandFixture{svc: svc, store: store, link: link}
}

func dashboardSession() *Session {
	return &Session{ID: "tab-1", UserID: "user-1"}
}

func TestSubmitRequiresAuthentication(t *testing.T) {
	fx := newCommandFixture(t)

	testCases := []struct {
		name string
		sess *Session
	}{
		{"nil session", nil},
		{"signed-out session", &Session{ID: "tab-1"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := fx.svc.Submit(context.Background(), tc.sess, models.CmdGetLocation, nil)
			assert.ErrorIs(t, err, ErrNotAuthenticated)
			// Rejected before any record is created.
			assert.Empty(t, fx.store.commands)
		})
	}
}

func TestSubmitUnknownType(t *testing.T) {
	fx := newCommandFixture(t)
	_, err := fx.svc.Submit(context.Background(), dashboardSession(), "wipe_device", nil)
	assert.ErrorIs(t, err, ErrUnknownType)
	assert.Empty(t, fx.store.commands)
}

func TestSubmitNormalizesAlias(t *testing.T) {
	fx := newCommandFixture(t)
	handle, err := fx.svc.Submit(context.Background(), dashboardSession(), "get_sms_messages", nil)
	require.NoError(t, err)
	assert.Equal(t, models.CmdReadSMS, handle.Type)

	cmd, err := fx.store.GetByID(context.Background(), handle.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CmdReadSMS, cmd.Type)
}

func TestSubmitSingleFlightPerSession(t *testing.T) {
	fx := newCommandFixture(t)
	ctx := context.Background()

	_, err := fx.svc.Submit(ctx, dashboardSession(), models.CmdRingPhone, nil)
	require.NoError(t, err)

	_, err = fx.svc.Submit(ctx, dashboardSession(), models.CmdGetLocation, nil)
	assert.ErrorIs(t, err, ErrBusy)

	// A different session is independent.
	_, err = fx.svc.Submit(ctx, &Session{ID: "tab-2", UserID: "user-1"}, models.CmdGetLocation, nil)
	assert.NoError(t, err)
}

func TestSubmitStoreWriteFailure(t *testing.T) {
	fx := newCommandFixture(t)
	fx.store.createErr = fmt.Errorf("connection refused")

	_, err := fx.svc.Submit(context.Background(), dashboardSession(), models.CmdRingPhone, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrBusy)

	// The single-flight slot is released on a failed write.
	fx.store.createErr = nil
	_, err = fx.svc.Submit(context.Background(), dashboardSession(), models.CmdRingPhone, nil)
	assert.NoError(t, err)
}

func TestSubmitDispatchesToAgent(t *testing.T) {
	fx := newCommandFixture(t)

	handle, err := fx.svc.Submit(context.Background(), dashboardSession(), models.CmdRingPhone, nil)
	require.NoError(t, err)

	msgs := fx.link.agentMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "command", msgs[0].Type)
	require.NotNil(t, msgs[0].Command)
	assert.Equal(t, handle.ID, msgs[0].Command.ID)
}

func TestAwaitCompletedResolvesOnce(t *testing.T) {
	fx := newCommandFixture(t)
	ctx := context.Background()

	handle, err := fx.svc.Submit(ctx, dashboardSession(), models.CmdGetBatteryInfo, nil)
	require.NoError(t, err)

	result := json.RawMessage(`{"level":87,"isCharging":true}`)
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = fx.svc.Resolve(ctx, "user-1", handle.ID, models.CommandCompleted, result, nil)
	}()

	got, err := fx.svc.Await(ctx, handle, time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, string(result), string(got))

	// Teardown is complete: no listener remains for the record.
	assert.Zero(t, fx.svc.notifier.SubscriberCount(handle.ID))

	// The record is terminal and a second resolution is rejected.
	err = fx.svc.Resolve(ctx, "user-1", handle.ID, models.CommandFailed, nil, nil)
	assert.Error(t, err)
}

func TestAwaitFailedSurfacesRemoteError(t *testing.T) {
	fx := newCommandFixture(t)
	ctx := context.Background()

	handle, err := fx.svc.Submit(ctx, dashboardSession(), models.CmdOpenURL, json.RawMessage(`{"url":"https://example.com"}`))
	require.NoError(t, err)

	errMsg := "no browser available"
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = fx.svc.Resolve(ctx, "user-1", handle.ID, models.CommandFailed, nil, &errMsg)
	}()

	_, err = fx.svc.Await(ctx, handle, time.Second)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, errMsg, remote.Message)
	assert.Zero(t, fx.svc.notifier.SubscriberCount(handle.ID))
}

func TestAwaitTimeout(t *testing.T) {
	fx := newCommandFixture(t)
	ctx := context.Background()

	handle, err := fx.svc.Submit(ctx, dashboardSession(), models.CmdGetLocation, nil)
	require.NoError(t, err)

	_, err = fx.svc.Await(ctx, handle, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)

	// No dangling subscription, and the record itself stays pending: the
	// timeout is a client-local giveup, not a store mutation.
	assert.Zero(t, fx.svc.notifier.SubscriberCount(handle.ID))
	cmd, err := fx.store.GetByID(ctx, handle.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CommandPending, cmd.Status)

	// The session may submit again after its await settled.
	_, err = fx.svc.Submit(ctx, dashboardSession(), models.CmdGetLocation, nil)
	assert.NoError(t, err)
}

func TestAwaitObservesResolutionBeforeSubscribe(t *testing.T) {
	fx := newCommandFixture(t)
	ctx := context.Background()

	handle, err := fx.svc.Submit(ctx, dashboardSession(), models.CmdRingPhone, nil)
	require.NoError(t, err)

	// The agent answers before the caller starts awaiting.
	result := json.RawMessage(`{"message":"ringing"}`)
	require.NoError(t, fx.svc.Resolve(ctx, "user-1", handle.ID, models.CommandCompleted, result, nil))

	got, err := fx.svc.Await(ctx, handle, time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, string(result), string(got))
}

func TestAwaitCancelledContext(t *testing.T) {
	fx := newCommandFixture(t)

	handle, err := fx.svc.Submit(context.Background(), dashboardSession(), models.CmdGetLocation, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = fx.svc.Await(ctx, handle, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, fx.svc.notifier.SubscriberCount(handle.ID))
}

func TestResolveRejectsForeignUser(t *testing.T) {
	fx := newCommandFixture(t)
	ctx := context.Background()

	handle, err := fx.svc.Submit(ctx, dashboardSession(), models.CmdRingPhone, nil)
	require.NoError(t, err)

	err = fx.svc.Resolve(ctx, "user-2", handle.ID, models.CommandCompleted, nil, nil)
	require.Error(t, err)

	cmd, err := fx.store.GetByID(ctx, handle.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CommandPending, cmd.Status)
}

func TestResolvePushesDashboardUpdate(t *testing.T) {
	fx := newCommandFixture(t)
	ctx := context.Background()

	handle, err := fx.svc.Submit(ctx, dashboardSession(), models.CmdRingPhone, nil)
	require.NoError(t, err)
	require.NoError(t, fx.svc.Resolve(ctx, "user-1", handle.ID, models.CommandCompleted, json.RawMessage(`{}`), nil))

	var update *WSMessage
	for _, m := range fx.link.userMessages() {
		if m.Type == "command_update" && m.CommandID == handle.ID {
			u := m
			update = &u
		}
	}
	require.NotNil(t, update)
	assert.Equal(t, string(models.CommandCompleted), update.Status)
}

func TestListFilesRoundTrip(t *testing.T) {
	fx := newCommandFixture(t)
	ctx := context.Background()

	result := `{"path":"/sdcard","count":2,"files":[{"name":"a.txt","size":10,"isDirectory":false},{"name":"dcim","size":0,"isDirectory":true}]}`

	// The fake agent resolves whatever is dispatched to it.
	fx.link.onAgent = func(msg WSMessage) {
		go func() {
			_ = fx.svc.Resolve(ctx, "user-1", msg.Command.ID, models.CommandCompleted, json.RawMessage(result), nil)
		}()
	}

	got, err := fx.svc.Execute(ctx, dashboardSession(), models.CmdListFiles, json.RawMessage(`{"path":"/sdcard"}`))
	require.NoError(t, err)
	assert.JSONEq(t, result, string(got))
}

func TestDispatchPendingRedispatchesOldestFirst(t *testing.T) {
	fx := newCommandFixture(t)
	ctx := context.Background()
	fx.link.online = false

	h1, err := fx.svc.Submit(ctx, &Session{ID: "tab-1", UserID: "user-1"}, models.CmdRingPhone, nil)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond) // keep creation timestamps ordered
	h2, err := fx.svc.Submit(ctx, &Session{ID: "tab-2", UserID: "user-1"}, models.CmdGetLocation, nil)
	require.NoError(t, err)

	assert.Empty(t, fx.link.agentMessages())

	fx.link.online = true
	fx.svc.DispatchPending(ctx, "user-1")

	msgs := fx.link.agentMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, h1.ID, msgs[0].Command.ID)
	assert.Equal(t, h2.ID, msgs[1].Command.ID)
}
