package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType discriminates the payload of a RunEvent.
type EventType string

const (
	EventLog        EventType = "log"
	EventScreenshot EventType = "screenshot"
)

// LogLevel is the severity of a log event.
type LogLevel string

const (
	LevelInfo    LogLevel = "info"
	LevelError   LogLevel = "error"
	LevelSuccess LogLevel = "success"
)

// Valid reports whether l is one of the known levels.
func (l LogLevel) Valid() bool {
	switch l {
	case LevelInfo, LevelError, LevelSuccess:
		return true
	}
	return false
}

// ErrInvalidEvent is returned when a run event cannot be decoded.
var ErrInvalidEvent = errors.New("invalid run event")

// Payload is the closed set of run event bodies: LogData or ScreenshotData.
type Payload interface {
	EventType() EventType
	sealed()
}

// LogData is the payload of a log event.
type LogData struct {
	Message string   `json:"message"`
	Level   LogLevel `json:"level"`
}

func (LogData) EventType() EventType { return EventLog }
func (LogData) sealed()              {}

// ScreenshotData is the payload of a screenshot event.
type ScreenshotData struct {
	Src   string `json:"src"`
	Label string `json:"label"`
}

func (ScreenshotData) EventType() EventType { return EventScreenshot }
func (ScreenshotData) sealed()              {}

// RunEvent is one entry of the append-only event sequence of a run.
type RunEvent struct {
	Payload   Payload
	Timestamp time.Time
	BrowserID string
}

// NewLogEvent builds a log event captured at ts.
func NewLogEvent(level LogLevel, message string, ts time.Time) RunEvent {
	return RunEvent{Payload: LogData{Message: message, Level: level}, Timestamp: ts}
}

// NewScreenshotEvent builds a screenshot event captured at ts.
func NewScreenshotEvent(src, label string, ts time.Time) RunEvent {
	return RunEvent{Payload: ScreenshotData{Src: src, Label: label}, Timestamp: ts}
}

// Type returns the discriminator of the payload, or "" for an empty event.
func (e RunEvent) Type() EventType {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.EventType()
}

// Log returns the log payload when e is a log event.
func (e RunEvent) Log() (LogData, bool) {
	d, ok := e.Payload.(LogData)
	return d, ok
}

// Screenshot returns the screenshot payload when e is a screenshot event.
func (e RunEvent) Screenshot() (ScreenshotData, bool) {
	d, ok := e.Payload.(ScreenshotData)
	return d, ok
}

type eventFields struct {
	Message *string  `json:"message,omitempty"`
	Level   LogLevel `json:"level,omitempty"`
	Src     *string  `json:"src,omitempty"`
	Label   *string  `json:"label,omitempty"`
}

type eventWire struct {
	Type EventType `json:"type"`
	eventFields
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	BrowserID string          `json:"browserId,omitempty"`
}

// MarshalJSON writes the flat wire form: {"type":"log","message":..,"level":..,"timestamp":..}.
func (e RunEvent) MarshalJSON() ([]byte, error) {
	wire := eventWire{BrowserID: e.BrowserID}
	if !e.Timestamp.IsZero() {
		wire.Timestamp = e.Timestamp.UnixMilli()
	}
	switch p := e.Payload.(type) {
	case LogData:
		wire.Type = EventLog
		wire.Message = &p.Message
		wire.Level = p.Level
	case ScreenshotData:
		wire.Type = EventScreenshot
		wire.Src = &p.Src
		wire.Label = &p.Label
	default:
		return nil, fmt.Errorf("%w: no payload", ErrInvalidEvent)
	}
	return json.Marshal(wire)
}

// UnmarshalJSON accepts the flat form and the nested {"type":..,"data":{..}} form.
func (e *RunEvent) UnmarshalJSON(data []byte) error {
	var wire eventWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	fields := wire.eventFields
	if len(wire.Data) > 0 && fields.Message == nil && fields.Src == nil {
		if err := json.Unmarshal(wire.Data, &fields); err != nil {
			return fmt.Errorf("%w: data: %v", ErrInvalidEvent, err)
		}
	}

	var payload Payload
	switch wire.Type {
	case EventLog:
		if fields.Message == nil {
			return fmt.Errorf("%w: log without message", ErrInvalidEvent)
		}
		if !fields.Level.Valid() {
			return fmt.Errorf("%w: log level %q", ErrInvalidEvent, fields.Level)
		}
		payload = LogData{Message: *fields.Message, Level: fields.Level}
	case EventScreenshot:
		if fields.Src == nil {
			return fmt.Errorf("%w: screenshot without src", ErrInvalidEvent)
		}
		label := ""
		if fields.Label != nil {
			label = *fields.Label
		}
		payload = ScreenshotData{Src: *fields.Src, Label: label}
	default:
		return fmt.Errorf("%w: type %q", ErrInvalidEvent, wire.Type)
	}

	e.Payload = payload
	e.BrowserID = wire.BrowserID
	e.Timestamp = time.Time{}
	if wire.Timestamp != 0 {
		e.Timestamp = time.UnixMilli(wire.Timestamp)
	}
	return nil
}
