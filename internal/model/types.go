package model

import (
	"encoding/json"
	"strings"
	"time"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func ParseSeverity(s string) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityLow:
		return SeverityLow
	case SeverityHigh:
		return SeverityHigh
	case SeverityCritical:
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
)

// Session identifies one logical client connection. UserID is the
// connection identity.
type Session struct {
	ID     string `json:"id,omitempty" yaml:"id"`
	UserID string `json:"user_id" yaml:"user_id"`
	Role   string `json:"role,omitempty" yaml:"role"`
	Zone   string `json:"zone,omitempty" yaml:"zone"`
	Token  string `json:"-" yaml:"token"`
}

// Envelope is a single frame on the event stream.
type Envelope struct {
	Event      string          `json:"event"`
	Data       json.RawMessage `json:"data,omitempty"`
	ReceivedAt time.Time       `json:"-"`
}

// Inbound stream events.
const (
	EventNewIncident       = "new-incident"
	EventIncidentUpdated   = "incident-updated"
	EventResponderLocation = "responder-location-update"
	EventResponderStatus   = "responder-status-update"
	EventSystemAlert       = "system-alert"
	EventEmergencyAlert    = "emergency-alert"
	EventPushNotification  = "push-notification"
)

// Outbound stream events.
const (
	EmitJoinRoom         = "join-room"
	EmitLocationUpdate   = "location-update"
	EmitStatusUpdate     = "status-update"
	EmitIncidentReport   = "new-incident"
	EmitIncidentUpdate   = "incident-update"
	EmitMessage          = "message"
	EmitAlertAcknowledge = "alert-acknowledged"
)

// Payload is implemented by every normalized stream entity.
type Payload interface {
	payload()
}

type IncidentStatus string

const (
	IncidentActive     IncidentStatus = "active"
	IncidentAssigned   IncidentStatus = "assigned"
	IncidentInProgress IncidentStatus = "in_progress"
	IncidentResolved   IncidentStatus = "resolved"
)

type Incident struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Severity      Severity       `json:"severity"`
	Zone          string         `json:"zone"`
	Status        IncidentStatus `json:"status"`
	Description   string         `json:"description,omitempty"`
	AssignedTo    string         `json:"assigned_to,omitempty"`
	HumanApproved bool           `json:"human_approved,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

type ResponderPosition struct {
	UserID    string    `json:"user_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Status    string    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Stale     bool      `json:"stale"`

	// StatusOnly marks a responder-status-update that carries no position.
	StatusOnly bool `json:"-"`
}

type SystemAlert struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

type AlertMetadata struct {
	EventType     string  `json:"event_type,omitempty"`
	Confidence    float64 `json:"confidence,omitempty"`
	CameraID      string  `json:"camera_id,omitempty"`
	Location      string  `json:"location,omitempty"`
	RequiresAudio bool    `json:"requires_audio"`
	AudioRef      string  `json:"audio_ref,omitempty"`
}

type EmergencyAlert struct {
	ID             string        `json:"id"`
	Title          string        `json:"title"`
	Message        string        `json:"message"`
	Severity       Severity      `json:"severity"`
	Metadata       AlertMetadata `json:"metadata"`
	UserID         string        `json:"user_id,omitempty"`
	ReceivedAt     time.Time     `json:"received_at"`
	AcknowledgedAt *time.Time    `json:"acknowledged_at,omitempty"`
}

// NeedsAudio reports whether the alert must loop a sound until acknowledged.
func (a EmergencyAlert) NeedsAudio() bool {
	return a.Metadata.RequiresAudio || a.Severity == SeverityCritical
}

func (Incident) payload()          {}
func (ResponderPosition) payload() {}
func (SystemAlert) payload()       {}
func (EmergencyAlert) payload()    {}
