package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is the envelope for all console WebSocket messages.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a server-originated message with the current timestamp.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Server → Client message types.
const (
	TypeProcessStarted = "process.started"
	TypeProcessOutput  = "process.output"
	TypeProcessExit    = "process.exit"
	TypeProcessUpdate  = "process.update"
	TypeHostStatus     = "host.status"
	TypeError          = "error"
)

// Client → Server message types. The console is read-only; clients may only
// ask for snapshots.
const (
	TypeProcessRequestInfo = "process.requestInfo"
	TypeHostRequestStatus  = "host.requestStatus"
)

// Error codes.
const (
	ErrInvalidMessage  = "INVALID_MESSAGE"
	ErrNoActiveProcess = "NO_ACTIVE_PROCESS"
)

// Server → Client payloads.

type ProcessStartedPayload struct {
	ProcessID   string `json:"processId"`
	CommandLine string `json:"commandLine"`
}

type ProcessOutputPayload struct {
	ProcessID string `json:"processId"`
	Data      string `json:"data"`
}

type ProcessExitPayload struct {
	ProcessID string `json:"processId"`
	ExitCode  int    `json:"exitCode"`
	Message   string `json:"message"`
}

type ProcessUpdatePayload struct {
	ID          string `json:"id"`
	CommandLine string `json:"commandLine"`
	State       string `json:"state"`
	PID         int    `json:"pid"`
	StartedAt   string `json:"startedAt"`
}

type HostStatusPayload struct {
	Hostname string `json:"hostname"`
	Text     string `json:"text"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}
