package services

import (
	"fmt"
	"time"
)

// PresenceState classifies a device's reachability.
type PresenceState string

const (
	PresenceOnline  PresenceState = "online"
	PresenceOffline PresenceState = "offline"
	PresenceUnknown PresenceState = "unknown"
)

// PresenceService derives online/offline state from a device's last-seen
// timestamp. It is read-only: classification has no write side effects and is
// recomputed on every device update.
type PresenceService struct {
	onlineWindow time.Duration
}

// NewPresenceService creates a new presence service
func NewPresenceService(onlineWindow time.Duration) *PresenceService {
	return &PresenceService{onlineWindow: onlineWindow}
}

// Classify maps a last-seen timestamp onto a presence state. A device with no
// recorded timestamp is Unknown; one seen strictly within the window is
// Online; anything else is Offline.
func (s *PresenceService) Classify(lastSeen *time.Time, now time.Time) PresenceState {
	if lastSeen == nil {
		return PresenceUnknown
	}
	if now.Sub(*lastSeen) < s.onlineWindow {
		return PresenceOnline
	}
	return PresenceOffline
}

// TimeAgo renders how long ago the device was last seen, using the largest
// unit with a value of at least one.
func TimeAgo(lastSeen time.Time, now time.Time) string {
	d := now.Sub(lastSeen)
	if d < 0 {
		d = 0
	}

	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
