package types

import (
	"encoding/json"
	"fmt"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	StatusIdle      RunStatus = "IDLE"
	StatusRunning   RunStatus = "RUNNING"
	StatusPass      RunStatus = "PASS"
	StatusFail      RunStatus = "FAIL"
	StatusCancelled RunStatus = "CANCELLED"
)

// IsTerminal reports whether s ends a run.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case StatusPass, StatusFail, StatusCancelled:
		return true
	}
	return false
}

// ParseRunStatus validates a status string received over the wire.
func ParseRunStatus(raw string) (RunStatus, error) {
	switch s := RunStatus(raw); s {
	case StatusIdle, StatusRunning, StatusPass, StatusFail, StatusCancelled:
		return s, nil
	}
	return "", fmt.Errorf("unknown run status %q", raw)
}

// RunOutcome is what the orchestrator persists once per run attempt.
type RunOutcome struct {
	Status     RunStatus          `json:"status"`
	Events     []RunEvent         `json:"events"`
	Error      string             `json:"error,omitempty"`
	TestConfig TestCaseDefinition `json:"testConfig"`
}

// StreamKind classifies a decoded stream record.
type StreamKind int

const (
	// StreamOther is a well-formed record of a type the orchestrator ignores.
	StreamOther StreamKind = iota
	StreamEvent
	StreamStatus
)

// StreamMessage is one JSON record of the executor's event stream.
type StreamMessage struct {
	Kind   StreamKind
	Type   string
	Event  RunEvent
	Status RunStatus
	Error  string
}

// ParseStreamMessage decodes the JSON carried by one "data: " record.
func ParseStreamMessage(data []byte) (StreamMessage, error) {
	var head struct {
		Type   string `json:"type"`
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return StreamMessage{}, fmt.Errorf("decode stream record: %w", err)
	}
	if head.Type == "" {
		return StreamMessage{}, fmt.Errorf("decode stream record: missing type")
	}

	msg := StreamMessage{Type: head.Type}
	switch EventType(head.Type) {
	case EventLog, EventScreenshot:
		if err := json.Unmarshal(data, &msg.Event); err != nil {
			return StreamMessage{}, err
		}
		msg.Kind = StreamEvent
		return msg, nil
	}

	if head.Type != "status" {
		msg.Kind = StreamOther
		return msg, nil
	}
	status, err := ParseRunStatus(head.Status)
	if err != nil {
		return StreamMessage{}, fmt.Errorf("decode status record: %w", err)
	}
	msg.Kind = StreamStatus
	msg.Status = status
	msg.Error = head.Error
	return msg, nil
}
