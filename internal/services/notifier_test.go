package services

import (
	"testing"
	"time"

	"phone-bridge-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func terminalCommand(id string) *models.Command {
	return &models.Command{ID: id, UserID: "user-1", Type: models.CmdRingPhone, Status: models.CommandCompleted}
}

func TestNotifierDeliversToSubscriber(t *testing.T) {
	n := NewCommandNotifier()
	sub := n.Subscribe("cmd-1")
	defer sub.Close()

	n.Publish(terminalCommand("cmd-1"))

	select {
	case ev := <-sub.C():
		assert.Equal(t, "cmd-1", ev.Command.ID)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestNotifierDeliversAtMostOnce(t *testing.T) {
	n := NewCommandNotifier()
	sub := n.Subscribe("cmd-1")
	defer sub.Close()

	n.Publish(terminalCommand("cmd-1"))
	n.Publish(terminalCommand("cmd-1"))

	<-sub.C()
	select {
	case ev := <-sub.C():
		t.Fatalf("unexpected second event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotifierClosedSubReceivesNothing(t *testing.T) {
	n := NewCommandNotifier()
	sub := n.Subscribe("cmd-1")
	sub.Close()

	n.Publish(terminalCommand("cmd-1"))

	select {
	case ev := <-sub.C():
		t.Fatalf("closed subscription received event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotifierCloseIsIdempotent(t *testing.T) {
	n := NewCommandNotifier()
	sub := n.Subscribe("cmd-1")
	sub.Close()
	sub.Close()
	assert.Zero(t, n.SubscriberCount("cmd-1"))
}

func TestNotifierPublishWithoutSubscribers(t *testing.T) {
	n := NewCommandNotifier()
	// Must not panic or block.
	n.Publish(terminalCommand("cmd-1"))
}

func TestNotifierFansOutToAllSubscribers(t *testing.T) {
	n := NewCommandNotifier()
	a := n.Subscribe("cmd-1")
	b := n.Subscribe("cmd-1")
	other := n.Subscribe("cmd-2")
	defer a.Close()
	defer b.Close()
	defer other.Close()

	n.Publish(terminalCommand("cmd-1"))

	for _, sub := range []*CommandSub{a, b} {
		select {
		case ev := <-sub.C():
			require.Equal(t, "cmd-1", ev.Command.ID)
		case <-time.After(time.Second):
			t.Fatal("subscriber missed the event")
		}
	}

	select {
	case <-other.C():
		t.Fatal("unrelated subscriber received the event")
	case <-time.After(50 * time.Millisecond):
	}
}
