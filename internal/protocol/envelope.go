// Package protocol is the JSON wire vocabulary between mission control and
// a stand controller: commands in, telemetry frames and alert reports out,
// and the station-wide e-stop, each wrapped in a common envelope.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/holla2040/hotfire/internal/ecu"
)

// Message type constants.
const (
	TypeCommand   = "ecu.command"
	TypeTelemetry = "ecu.telemetry"
	TypeAlerts    = "ecu.alerts"
	TypeEstop     = "system.estop"
)

// ValidMessageTypes lists all valid message types.
var ValidMessageTypes = []string{
	TypeCommand,
	TypeTelemetry,
	TypeAlerts,
	TypeEstop,
}

// SchemaVersion is the current protocol version.
const SchemaVersion = "v1.0.0"

// Message is the top-level protocol message containing an envelope and payload.
type Message struct {
	Envelope Envelope        `json:"envelope"`
	Payload  json.RawMessage `json:"payload"`
}

// Envelope contains message metadata and routing information.
type Envelope struct {
	ID            string `json:"id"`
	Timestamp     int64  `json:"timestamp"`
	Source        Source `json:"source"`
	SchemaVersion string `json:"schema_version"`
	Type          string `json:"type"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Source identifies who sent a message.
type Source struct {
	Service  string `json:"service"`
	Instance string `json:"instance"`
	Version  string `json:"version"`
}

// NewEnvelope creates a new envelope with a generated UUIDv4 and current UTC timestamp.
func NewEnvelope(source Source, msgType string) Envelope {
	return Envelope{
		ID:            uuid.New().String(),
		Timestamp:     time.Now().UTC().Unix(),
		Source:        source,
		SchemaVersion: SchemaVersion,
		Type:          msgType,
	}
}

// NewMessage builds a complete message with envelope and marshaled payload.
func NewMessage(source Source, msgType string, payload any) (*Message, error) {
	env := NewEnvelope(source, msgType)

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	return &Message{
		Envelope: env,
		Payload:  json.RawMessage(payloadBytes),
	}, nil
}

// NewCommand wraps c in an ecu.command message.
func NewCommand(source Source, c ecu.Command) (*Message, error) {
	return NewMessage(source, TypeCommand, c)
}

// NewTelemetry wraps a frame in an ecu.telemetry message.
func NewTelemetry(source Source, t ecu.Telemetry) (*Message, error) {
	return NewMessage(source, TypeTelemetry, t)
}

// NewAlerts wraps a report in an ecu.alerts message.
func NewAlerts(source Source, r ecu.AlertReport) (*Message, error) {
	return NewMessage(source, TypeAlerts, r)
}

// EstopPayload is the body of a system.estop message.
type EstopPayload struct {
	Reason    string `json:"reason"`
	Initiator string `json:"initiator,omitempty"`
}

// NewEstop builds a system.estop message.
func NewEstop(source Source, reason, initiator string) (*Message, error) {
	return NewMessage(source, TypeEstop, EstopPayload{Reason: reason, Initiator: initiator})
}

// Parse unmarshals JSON bytes into a Message.
func Parse(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	return &msg, nil
}

// ParseCommand extracts the ECU command from an ecu.command message.
func ParseCommand(msg *Message) (ecu.Command, error) {
	var c ecu.Command
	if msg.Envelope.Type != TypeCommand {
		return c, fmt.Errorf("parse command: message type is %q", msg.Envelope.Type)
	}
	if err := json.Unmarshal(msg.Payload, &c); err != nil {
		return c, fmt.Errorf("parse command payload: %w", err)
	}
	return c, nil
}

// ParseTelemetry extracts a telemetry frame from a Message.
func ParseTelemetry(msg *Message) (ecu.Telemetry, error) {
	var t ecu.Telemetry
	if err := json.Unmarshal(msg.Payload, &t); err != nil {
		return t, fmt.Errorf("parse telemetry payload: %w", err)
	}
	return t, nil
}

// ParseAlerts extracts an alert report from a Message.
func ParseAlerts(msg *Message) (ecu.AlertReport, error) {
	var r ecu.AlertReport
	if err := json.Unmarshal(msg.Payload, &r); err != nil {
		return r, fmt.Errorf("parse alerts payload: %w", err)
	}
	return r, nil
}

// ParseEstop extracts the payload of a system.estop message.
func ParseEstop(msg *Message) (EstopPayload, error) {
	var p EstopPayload
	if msg.Envelope.Type != TypeEstop {
		return p, fmt.Errorf("parse estop: message type is %q", msg.Envelope.Type)
	}
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return p, fmt.Errorf("parse estop payload: %w", err)
	}
	return p, nil
}
