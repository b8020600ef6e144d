package models

import (
	"encoding/json"
	"time"
)

// Device represents the paired mobile agent for a user. Each user owns at
// most one device (the "primary" slot); the schema allows more later.
type Device struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Name          string     `json:"name,omitempty"`
	IsPaired      bool       `json:"is_paired"`
	PairCode      *string    `json:"pair_code,omitempty"`
	PairExpiresAt *time.Time `json:"pair_expires_at,omitempty"`
	PushToken     *string    `json:"push_token,omitempty"`
	LastSeenAt    *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// CommandStatus is the lifecycle state of a command record.
type CommandStatus string

const (
	CommandPending   CommandStatus = "pending"
	CommandCompleted CommandStatus = "completed"
	CommandFailed    CommandStatus = "failed"
)

// Supported command types. The agent must implement this vocabulary.
const (
	CmdRingPhone         = "ring_phone"
	CmdGetLocation       = "get_location"
	CmdReadSMS           = "read_sms"
	CmdGetCallLogs       = "get_call_logs"
	CmdListFiles         = "list_files"
	CmdDownloadFile      = "download_file"
	CmdSendSMS           = "send_sms"
	CmdOpenURL           = "open_url"
	CmdGetBatteryInfo    = "get_battery_info"
	CmdStartCameraStream = "start_camera_stream"
	CmdStopCameraStream  = "stop_camera_stream"

	// Legacy alias for read_sms kept for older agents.
	cmdGetSMSMessages = "get_sms_messages"
)

var commandTypes = map[string]struct{}{
	CmdRingPhone:         {},
	CmdGetLocation:       {},
	CmdReadSMS:           {},
	CmdGetCallLogs:       {},
	CmdListFiles:         {},
	CmdDownloadFile:      {},
	CmdSendSMS:           {},
	CmdOpenURL:           {},
	CmdGetBatteryInfo:    {},
	CmdStartCameraStream: {},
	CmdStopCameraStream:  {},
}

// NormalizeCommandType maps aliases onto the canonical command name and
// reports whether the type is part of the supported vocabulary.
func NormalizeCommandType(t string) (string, bool) {
	if t == cmdGetSMSMessages {
		t = CmdReadSMS
	}
	_, ok := commandTypes[t]
	return t, ok
}

// Command is a single request record: written once by the dashboard, resolved
// exactly once by the agent, never mutated again.
type Command struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data,omitempty"`
	Status     CommandStatus   `json:"status"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *string         `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
}

// Camera identifies which camera the agent streams from.
type Camera string

const (
	CameraFront Camera = "front"
	CameraBack  Camera = "back"
)

// ValidCamera reports whether c names a known camera.
func ValidCamera(c Camera) bool {
	return c == CameraFront || c == CameraBack
}

// StreamFrame is the single mutable frame slot per user. The agent overwrites
// it on every captured frame; only the most recent frame is observable.
type StreamFrame struct {
	Active      bool   `json:"active"`
	Frame       string `json:"frame,omitempty"` // base64 JPEG
	FrameNumber int64  `json:"frame_number,omitempty"`
	Camera      Camera `json:"camera,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"` // epoch millis
}

// Typed views over well-known result payloads. The command channel itself
// returns raw JSON; these are for callers that want to interpret it.

// LocationResult is the payload of a completed get_location command.
type LocationResult struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// FileEntry is one entry of a list_files result.
type FileEntry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	IsDirectory bool   `json:"isDirectory"`
}

// FileListResult is the payload of a completed list_files command.
type FileListResult struct {
	Path  string      `json:"path"`
	Count int         `json:"count"`
	Files []FileEntry `json:"files"`
}

// DownloadResult is the payload of a completed download_file command.
type DownloadResult struct {
	Data     string `json:"data,omitempty"` // base64 file content
	MimeType string `json:"mimeType"`
	FileName string `json:"fileName"`
	Size     int64  `json:"size"`
	// URL replaces Data when the payload was offloaded to object storage.
	URL string `json:"url,omitempty"`
}

// BatteryResult is the payload of a completed get_battery_info command.
type BatteryResult struct {
	Level      int  `json:"level"`
	IsCharging bool `json:"isCharging"`
}
