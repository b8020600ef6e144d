package services

import (
	"sync"

	"phone-bridge-backend/internal/models"
)

// CommandEvent is the terminal notification for one command record.
type CommandEvent struct {
	Command *models.Command
}

// CommandSub is a cancellable subscription to one command's terminal event.
// Close is idempotent and must be called before the awaiting caller settles,
// so a late duplicate event can never fire into a resolved caller.
type CommandSub struct {
	notifier  *CommandNotifier
	commandID string
	ch        chan CommandEvent
	once      sync.Once
}

// C returns the channel the terminal event is delivered on. It carries at
// most one event.
func (s *CommandSub) C() <-chan CommandEvent {
	return s.ch
}

// Close detaches the subscription. Safe to call multiple times.
func (s *CommandSub) Close() {
	s.once.Do(func() {
		s.notifier.unsubscribe(s)
	})
}

// CommandNotifier fans terminal command transitions out to awaiting callers.
// It is the in-process equivalent of a per-document change subscription.
type CommandNotifier struct {
	mu   sync.Mutex
	subs map[string]map[*CommandSub]struct{}
}

// NewCommandNotifier creates a new command notifier
func NewCommandNotifier() *CommandNotifier {
	return &CommandNotifier{subs: make(map[string]map[*CommandSub]struct{})}
}

// Subscribe registers interest in the terminal event of one command.
func (n *CommandNotifier) Subscribe(commandID string) *CommandSub {
	sub := &CommandSub{
		notifier:  n,
		commandID: commandID,
		ch:        make(chan CommandEvent, 1),
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subs[commandID] == nil {
		n.subs[commandID] = make(map[*CommandSub]struct{})
	}
	n.subs[commandID][sub] = struct{}{}
	return sub
}

// Publish delivers the terminal event to every subscriber of the command and
// drops the subscriptions: a command resolves at most once, so there is
// nothing further to deliver.
func (n *CommandNotifier) Publish(cmd *models.Command) {
	n.mu.Lock()
	set := n.subs[cmd.ID]
	delete(n.subs, cmd.ID)
	n.mu.Unlock()

	for sub := range set {
		select {
		case sub.ch <- CommandEvent{Command: cmd}:
		default:
			// Subscriber already received an event; never block.
		}
	}
}

// SubscriberCount reports how many callers are awaiting the command.
func (n *CommandNotifier) SubscriberCount(commandID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs[commandID])
}

func (n *CommandNotifier) unsubscribe(sub *CommandSub) {
	n.mu.Lock()
	defer n.mu.Unlock()

	set := n.subs[sub.commandID]
	if set == nil {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(n.subs, sub.commandID)
	}
}
